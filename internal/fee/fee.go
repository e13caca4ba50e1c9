// Package fee рассчитывает комиссию платформы и наценку на доставку в минимальных единицах валюты.
package fee

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/validation"
)

var (
	// ErrCurrencyMismatch возвращается, если валюта тарифа доставки отличается от валюты магазина.
	ErrCurrencyMismatch = errors.New("shipping currency does not match store currency")
	// ErrNegativeAmount возвращается для отрицательных сумм.
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrAmountTooLarge возвращается, если сумма не помещается в int64.
	ErrAmountTooLarge = errors.New("amount is too large")
)

var (
	hundred   = decimal.NewFromInt(100)
	maxAmount = decimal.NewFromInt(math.MaxInt64)
)

func mulAmount(a, b int64) (int64, error) {
	if a != 0 && b > math.MaxInt64/a {
		return 0, ErrAmountTooLarge
	}
	return a * b, nil
}

func addAmount(a, b int64) (int64, error) {
	if b > math.MaxInt64-a {
		return 0, ErrAmountTooLarge
	}
	return a + b, nil
}

// Policy задаёт параметры комиссии платформы.
type Policy struct {
	CommissionPercent     decimal.Decimal
	ShippingMarkup        decimal.Decimal
	CaptureShippingMargin bool
}

// DefaultPolicy возвращает политику с комиссией 7.1% и наценкой 1.35 на доставку.
func DefaultPolicy() Policy {
	return Policy{
		CommissionPercent:     decimal.RequireFromString("7.1"),
		ShippingMarkup:        decimal.RequireFromString("1.35"),
		CaptureShippingMargin: true,
	}
}

// Line описывает позицию, участвующую в расчёте.
type Line struct {
	UnitAmount int64
	Quantity   int64
}

// Breakdown содержит результат расчёта.
type Breakdown struct {
	Currency string
	// Subtotal включает строку доставки, если она есть.
	Subtotal       int64
	ShippingBase   int64
	ShippingCharge int64
	ShippingMargin int64
	HasShipping    bool
	PlatformFee    int64
	ApplicationFee int64
}

// ShippingLine сообщает, нужно ли добавлять покупателю отдельную строку «Shipping».
func (b Breakdown) ShippingLine() bool {
	return b.HasShipping && b.ShippingCharge > 0
}

// ShippingCharge возвращает сумму доставки для покупателя и маржу платформы.
func (p Policy) ShippingCharge(base int64) (charge, margin int64) {
	if !p.CaptureShippingMargin {
		return base, 0
	}
	charge = validation.RoundHalfUp(decimal.NewFromInt(base).Mul(p.ShippingMarkup)).IntPart()
	margin = charge - base
	if margin < 0 {
		margin = 0
	}
	return charge, margin
}

// PercentOf возвращает округлённую комиссию от суммы.
func (p Policy) PercentOf(amount int64) int64 {
	return validation.RoundHalfUp(decimal.NewFromInt(amount).Mul(p.CommissionPercent).Div(hundred)).IntPart()
}

// Compute рассчитывает итоговую комиссию. Порядок округления: сначала строки, затем процент.
func (p Policy) Compute(currency string, lines []Line, shipping *model.ShippingRate) (Breakdown, error) {
	b := Breakdown{Currency: strings.ToLower(currency)}

	for _, l := range lines {
		if l.UnitAmount < 0 || l.Quantity < 0 {
			return Breakdown{}, ErrNegativeAmount
		}
		total, err := mulAmount(l.UnitAmount, l.Quantity)
		if err != nil {
			return Breakdown{}, err
		}
		if b.Subtotal, err = addAmount(b.Subtotal, total); err != nil {
			return Breakdown{}, err
		}
	}

	if shipping != nil {
		rateCurrency := strings.ToLower(shipping.Currency)
		if rateCurrency == "" || rateCurrency != b.Currency {
			return Breakdown{}, fmt.Errorf("%w: rate %q, store %q", ErrCurrencyMismatch, rateCurrency, b.Currency)
		}
		if shipping.Amount < 0 {
			return Breakdown{}, ErrNegativeAmount
		}
		if p.CaptureShippingMargin && decimal.NewFromInt(shipping.Amount).Mul(p.ShippingMarkup).GreaterThan(maxAmount) {
			return Breakdown{}, ErrAmountTooLarge
		}

		b.HasShipping = true
		b.ShippingBase = shipping.Amount
		b.ShippingCharge, b.ShippingMargin = p.ShippingCharge(shipping.Amount)
		if b.ShippingLine() {
			var err error
			if b.Subtotal, err = addAmount(b.Subtotal, b.ShippingCharge); err != nil {
				return Breakdown{}, err
			}
		}
	}

	if decimal.NewFromInt(b.Subtotal).Mul(p.CommissionPercent).Div(hundred).GreaterThan(maxAmount) {
		return Breakdown{}, ErrAmountTooLarge
	}
	b.PlatformFee = p.PercentOf(b.Subtotal)

	var err error
	if b.ApplicationFee, err = addAmount(b.PlatformFee, b.ShippingMargin); err != nil {
		return Breakdown{}, err
	}
	if b.ApplicationFee < 0 {
		b.ApplicationFee = 0
	}

	return b, nil
}
