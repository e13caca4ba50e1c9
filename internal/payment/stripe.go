package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/mmeshcher/storefront-payments/internal/model"
)

// ErrNotConfigured возвращается, если секретный ключ провайдера не задан.
var ErrNotConfigured = errors.New("payment provider secret key is not configured")

// StripeProvider работает с API Stripe от имени платформы. Ключ хранится в экземпляре клиента.
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider создаёт адаптер. Пустой ключ даёт адаптер, отвечающий ErrNotConfigured.
func NewStripeProvider(secretKey string) *StripeProvider {
	return newStripeProvider(secretKey, nil)
}

// newStripeProvider позволяет подменить адрес API. nil означает стандартные адреса Stripe.
func newStripeProvider(secretKey string, backends *stripe.Backends) *StripeProvider {
	if secretKey == "" {
		return &StripeProvider{}
	}
	return &StripeProvider{api: client.New(secretKey, backends)}
}

// VerifyAccount проверяет, что подключённый аккаунт доступен платформе.
func (p *StripeProvider) VerifyAccount(ctx context.Context, accountID string) error {
	if p.api == nil {
		return ErrNotConfigured
	}

	params := &stripe.AccountParams{}
	params.Context = ctx

	if _, err := p.api.Accounts.GetByID(accountID, params); err != nil {
		return wrapStripeError(err)
	}
	return nil
}

// CreateCheckoutSession создаёт сессию оплаты в подключённом аккаунте.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in SessionParams) (*Session, error) {
	if p.api == nil {
		return nil, ErrNotConfigured
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(in.Mode)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		Metadata:   in.Metadata,
	}
	params.Context = ctx
	params.SetStripeAccount(in.AccountID)

	if in.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(in.ClientReferenceID)
	}
	if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}

	for _, li := range in.LineItems {
		params.LineItems = append(params.LineItems, lineItemParams(in.Currency, li))
	}

	switch in.Mode {
	case model.ModeSubscription:
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: in.Metadata,
		}
		if in.ApplicationFeePercent > 0 {
			params.SubscriptionData.ApplicationFeePercent = stripe.Float64(in.ApplicationFeePercent)
		}
	default:
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(in.ApplicationFeeAmount),
			Metadata:             in.Metadata,
		}
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return &Session{ID: s.ID, URL: s.URL}, nil
}

// GetSubscription возвращает подписку. accountID задаёт подключённый аккаунт, пустое значение означает аккаунт платформы.
func (p *StripeProvider) GetSubscription(ctx context.Context, id, accountID string) (*Subscription, error) {
	if p.api == nil {
		return nil, ErrNotConfigured
	}

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	if accountID != "" {
		params.SetStripeAccount(accountID)
	}

	sub, err := p.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	res := &Subscription{
		ID:       sub.ID,
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		res.CustomerID = sub.Customer.ID
	}

	var periodEnd int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.CurrentPeriodEnd > periodEnd {
				periodEnd = item.CurrentPeriodEnd
			}
		}
	}
	if periodEnd > 0 {
		t := time.Unix(periodEnd, 0).UTC()
		res.CurrentPeriodEnd = &t
	}

	return res, nil
}

// GetPriceAmount возвращает сумму цены в минимальных единицах валюты.
func (p *StripeProvider) GetPriceAmount(ctx context.Context, priceID, accountID string) (int64, error) {
	if p.api == nil {
		return 0, ErrNotConfigured
	}

	params := &stripe.PriceParams{}
	params.Context = ctx
	params.SetStripeAccount(accountID)

	price, err := p.api.Prices.Get(priceID, params)
	if err != nil {
		return 0, wrapStripeError(err)
	}

	return price.UnitAmount, nil
}

func lineItemParams(currency string, li LineItem) *stripe.CheckoutSessionLineItemParams {
	params := &stripe.CheckoutSessionLineItemParams{
		Quantity: stripe.Int64(li.Quantity),
	}

	if li.PriceID != "" {
		params.Price = stripe.String(li.PriceID)
		return params
	}

	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(li.Name),
	}
	if li.ImageURL != "" {
		product.Images = stripe.StringSlice([]string{li.ImageURL})
	}

	params.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:    stripe.String(strings.ToLower(currency)),
		UnitAmount:  stripe.Int64(li.UnitAmount),
		ProductData: product,
	}
	if li.Interval != "" {
		params.PriceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripe.String(li.Interval),
		}
	}

	return params
}

func wrapStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &ProviderError{
			StatusCode: se.HTTPStatusCode,
			Type:       string(se.Type),
			Code:       string(se.Code),
			Message:    se.Msg,
			Err:        err,
		}
	}
	return fmt.Errorf("stripe request: %w", err)
}
