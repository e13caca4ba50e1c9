// Package payment содержит адаптер платёжного провайдера и проверку подписи его вебхуков.
package payment

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mmeshcher/storefront-payments/internal/model"
)

// LineItem описывает позицию сессии оплаты. Если задан PriceID, сумма и название берутся у провайдера.
type LineItem struct {
	PriceID    string
	Name       string
	UnitAmount int64
	Quantity   int64
	ImageURL   string
	// Interval задаётся для подписок: month, year.
	Interval string
}

// SessionParams описывает сессию оплаты в подключённом аккаунте магазина.
type SessionParams struct {
	AccountID         string
	Mode              model.CheckoutMode
	Currency          string
	LineItems         []LineItem
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	CustomerEmail     string
	Metadata          map[string]string

	// ApplicationFeeAmount применяется к платежу в режиме payment.
	ApplicationFeeAmount int64
	// ApplicationFeePercent применяется к подписке в режиме subscription.
	ApplicationFeePercent float64
}

// Session описывает созданную сессию оплаты.
type Session struct {
	ID  string
	URL string
}

// Subscription описывает подписку у провайдера.
type Subscription struct {
	ID               string
	CustomerID       string
	Metadata         map[string]string
	CurrentPeriodEnd *time.Time
}

// ProviderError оборачивает ошибку платёжного провайдера.
type ProviderError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider: status %d (%s/%s): %s", e.StatusCode, e.Type, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NotFound сообщает, что провайдер не нашёл запрошенный ресурс.
func (e *ProviderError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
