// Package validation содержит нормализацию недоверенных входных данных: сумм, количеств, URL и адресов.
package validation

import (
	"errors"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront-payments/internal/model"
)

// MaxQuantity задаёт верхнюю границу количества одной позиции корзины.
const MaxQuantity = 99

var (
	// ErrNotNumeric возвращается, если значение не удаётся разобрать как число.
	ErrNotNumeric = errors.New("value is not numeric")
	// ErrOutOfRange возвращается, если результат не помещается в int64.
	ErrOutOfRange = errors.New("value is out of range")
	// ErrQuantityTooSmall возвращается для количества меньше единицы.
	ErrQuantityTooSmall = errors.New("quantity must be at least 1")
)

var (
	nonNumeric = regexp.MustCompile(`[^0-9.]`)

	half     = decimal.New(5, -1)
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
)

// RoundHalfUp округляет до целого, половина округляется вверх.
func RoundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Add(half).Floor()
}

// ToMinorUnits переводит сумму в минимальные единицы валюты (центы).
// Из строк удаляется всё, кроме цифр и точки, поэтому знак минуса у строки теряется;
// у числа знак сохраняется, и вызывающий обязан проверить результат на >= 0.
func ToMinorUnits(v model.FlexNumber) (int64, error) {
	if !v.Set {
		return 0, ErrNotNumeric
	}

	text := strings.TrimSpace(v.Text)
	if v.Quoted {
		text = nonNumeric.ReplaceAllString(text, "")
	}
	if text == "" {
		return 0, ErrNotNumeric
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, ErrNotNumeric
	}

	return toInt64(RoundHalfUp(d.Shift(2)))
}

// ClampQuantity приводит количество к целому (с отбрасыванием дробной части) в диапазоне [1, MaxQuantity].
func ClampQuantity(v model.FlexNumber) (int64, error) {
	if !v.Set {
		return 0, ErrNotNumeric
	}

	text := strings.TrimSpace(v.Text)
	if text == "" {
		return 0, ErrQuantityTooSmall
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, ErrNotNumeric
	}

	floored := d.Floor()
	if floored.LessThan(decimal.NewFromInt(1)) {
		return 0, ErrQuantityTooSmall
	}
	if floored.GreaterThan(decimal.NewFromInt(MaxQuantity)) {
		return MaxQuantity, nil
	}

	return floored.IntPart(), nil
}

func toInt64(d decimal.Decimal) (int64, error) {
	if d.GreaterThan(maxInt64) || d.LessThan(minInt64) {
		return 0, ErrOutOfRange
	}
	return d.IntPart(), nil
}
