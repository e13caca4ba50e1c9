package validation

import (
	"strings"

	"github.com/mmeshcher/storefront-payments/internal/model"
)

// AddressMode определяет набор обязательных полей адреса.
type AddressMode int

const (
	// AddressBilling: адрес заказа, обязательны имя, email, телефон, улица, город, регион, индекс, страна.
	AddressBilling AddressMode = iota
	// AddressShippingQuote: адрес для расчёта тарифа, обязательны улица, город, индекс, страна.
	AddressShippingQuote
)

// NormalizeAddress обрезает пробелы во всех полях, переводит страну в верхний регистр
// и проверяет обязательные поля. ok=false, если каких-то полей не хватает.
func NormalizeAddress(raw model.Address, mode AddressMode) (model.Address, bool) {
	a := model.Address{
		Name:    strings.TrimSpace(raw.Name),
		Company: strings.TrimSpace(raw.Company),
		Email:   strings.TrimSpace(raw.Email),
		Phone:   strings.TrimSpace(raw.Phone),
		Street1: strings.TrimSpace(raw.Street1),
		Street2: strings.TrimSpace(raw.Street2),
		City:    strings.TrimSpace(raw.City),
		State:   strings.TrimSpace(raw.State),
		Zip:     strings.TrimSpace(raw.Zip),
		Country: strings.ToUpper(strings.TrimSpace(raw.Country)),
	}

	required := []string{a.Street1, a.City, a.Zip, a.Country}
	if mode == AddressBilling {
		required = append(required, a.Name, a.Email, a.Phone, a.State)
	}

	for _, v := range required {
		if v == "" {
			return model.Address{}, false
		}
	}

	return a, true
}
