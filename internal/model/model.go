// Package model содержит доменные сущности платёжного ядра витрины.
package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Address описывает адрес покупателя или точки отправки.
type Address struct {
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

// Parcel описывает посылку по умолчанию для расчёта доставки.
type Parcel struct {
	Length       float64 `json:"length"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	DistanceUnit string  `json:"distance_unit"`
	Weight       float64 `json:"weight"`
	MassUnit     string  `json:"mass_unit"`
}

// ShippingConfig содержит настройки доставки магазина.
type ShippingConfig struct {
	Currency        string   `json:"currency,omitempty"`
	OriginAddress   *Address `json:"originAddress,omitempty"`
	DefaultParcel   *Parcel  `json:"defaultParcel,omitempty"`
	EnabledCarriers []string `json:"enabledCarriers,omitempty"`
}

// Store описывает арендатора платформы.
type Store struct {
	ID                 string
	Name               string
	ConnectedAccountID string
	Currency           string
	AdminEmail         string
	Shipping           ShippingConfig
	PlanPrices         map[PlanType]string
	CreatedAt          time.Time
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCanceled  OrderStatus = "canceled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// Valid сообщает, известен ли статус.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFulfilled, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCanceled, OrderStatusRefunded:
		return true
	}
	return false
}

// OrderItem описывает позицию сохранённого заказа. Цена хранится в минимальных единицах валюты.
type OrderItem struct {
	ProductID string `json:"productId,omitempty"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int64  `json:"quantity"`
	ImageURL  string `json:"imageUrl,omitempty"`
	Option    string `json:"option,omitempty"`
	Note      string `json:"note,omitempty"`
}

// ShippingEconomics фиксирует экономику доставки, рассчитанную при создании сессии оплаты.
type ShippingEconomics struct {
	BaseAmount    int64
	ChargedAmount int64
	MarginAmount  int64
	Currency      string
}

// OrderShipping содержит выбранный тариф и рассчитанные суммы доставки.
type OrderShipping struct {
	SelectedRateID string
	ShipmentID     string
	Economics      *ShippingEconomics
}

// Order описывает заказ покупателя в магазине.
type Order struct {
	ID                string
	StoreID           string
	UserID            string
	Items             []OrderItem
	Customer          Address
	Status            OrderStatus
	Shipping          OrderShipping
	CheckoutSessionID string
	PaymentIntentID   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CartItem описывает нормализованную позицию корзины. Существует только в рамках одного запроса.
type CartItem struct {
	Name       string
	UnitAmount int64
	Quantity   int64
	ImageURL   string
}

// ShippingRate описывает тариф, полученный от внешнего сервиса доставки.
type ShippingRate struct {
	RateID   string
	Amount   int64
	Currency string
}

// AccessType описывает вид доступа участника.
type AccessType string

const (
	AccessSubscription AccessType = "subscription"
	AccessLifetime     AccessType = "lifetime"
)

// MembershipStatus описывает состояние членства.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipPastDue  MembershipStatus = "past_due"
	MembershipCanceled MembershipStatus = "canceled"
)

// Membership описывает доступ пользователя в рамках магазина. Ключом служит пара (StoreID, UserID).
type Membership struct {
	StoreID              string
	UserID               string
	AccessType           AccessType
	Status               MembershipStatus
	AccessEnd            *time.Time
	PlanType             string
	StripeCustomerID     string
	StripeSubscriptionID string
	LastEventID          string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// HasAccess сообщает, даёт ли членство доступ в момент now.
func (m *Membership) HasAccess(now time.Time) bool {
	switch m.Status {
	case MembershipActive:
		return m.AccessEnd == nil || m.AccessEnd.After(now)
	case MembershipPastDue:
		return m.AccessEnd != nil && m.AccessEnd.After(now)
	}
	return false
}

// Role описывает роль пользователя в магазине.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStaff    Role = "staff"
	RoleCustomer Role = "customer"
)

// Identity описывает аутентифицированного вызывающего. Создаётся один раз на запрос.
type Identity struct {
	UserID  string `json:"uid"`
	StoreID string `json:"storeId"`
	Role    Role   `json:"role"`
	Email   string `json:"email,omitempty"`
}

// Authenticated сообщает, известен ли пользователь.
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

// FlexNumber хранит число из недоверенного JSON: это может быть число или строка с цифрами.
type FlexNumber struct {
	Text   string
	Quoted bool
	Set    bool
}

// NumberOf создаёт FlexNumber из числового литерала.
func NumberOf(text string) FlexNumber {
	return FlexNumber{Text: text, Set: true}
}

// StringOf создаёт FlexNumber из строкового значения.
func StringOf(text string) FlexNumber {
	return FlexNumber{Text: text, Quoted: true, Set: true}
}

// UnmarshalJSON принимает число, строку или null. Прочие значения дают пустой FlexNumber.
func (n *FlexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*n = FlexNumber{}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = StringOf(s)
		return nil
	}

	if data[0] == '-' || (data[0] >= '0' && data[0] <= '9') {
		*n = NumberOf(string(data))
	}
	return nil
}

// MarshalJSON сохраняет исходное представление значения.
func (n FlexNumber) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	if n.Quoted {
		return json.Marshal(n.Text)
	}
	return []byte(strings.TrimSpace(n.Text)), nil
}
