package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/apperr"
	"github.com/mmeshcher/storefront-payments/internal/events"
	"github.com/mmeshcher/storefront-payments/internal/fee"
	"github.com/mmeshcher/storefront-payments/internal/ledger"
	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/payment"
	"github.com/mmeshcher/storefront-payments/internal/repository"
	"github.com/mmeshcher/storefront-payments/internal/shipping"
	"github.com/mmeshcher/storefront-payments/internal/validation"
)

const (
	// SuccessFallbackPath подставляется, если адрес возврата после оплаты слишком длинный.
	SuccessFallbackPath = "/cart?checkout=success"
	// CancelFallbackPath подставляется, если адрес отмены слишком длинный.
	CancelFallbackPath = "/cart?checkout=cancel"

	accountIDPrefix  = "acct_"
	shippingLineName = "Shipping"
	metadataStoreID  = "storeId"
	metadataUserID   = "userId"
	metadataOrderID  = "orderId"
	metadataPlanType = "planType"
)

// CheckoutItem описывает позицию корзины в запросе. Цена в основных единицах валюты.
type CheckoutItem struct {
	Name     string           `json:"name"`
	Price    model.FlexNumber `json:"price"`
	Quantity model.FlexNumber `json:"quantity"`
	ImageURL string           `json:"imageUrl,omitempty"`
}

// CheckoutRequest содержит запрос на создание сессии оплаты корзины.
type CheckoutRequest struct {
	StoreID    string         `json:"storeId"`
	SuccessURL string         `json:"successUrl"`
	CancelURL  string         `json:"cancelUrl"`
	Items      []CheckoutItem `json:"items"`
	OrderID    string         `json:"orderId,omitempty"`
}

// CheckoutResult содержит адрес страницы оплаты и идентификатор сессии.
type CheckoutResult struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// CreateCheckoutSession создаёт сессию оплаты корзины в подключённом аккаунте магазина.
// Идентичность вызывающего необязательна: гостевой checkout разрешён.
func (s *Service) CreateCheckoutSession(ctx context.Context, identity model.Identity, req CheckoutRequest) (*CheckoutResult, error) {
	storeID := strings.TrimSpace(req.StoreID)
	orderID := strings.TrimSpace(req.OrderID)
	if storeID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "Missing storeId.")
	}

	successURL := validation.NormalizeRedirectURL(req.SuccessURL, SuccessFallbackPath)
	cancelURL := validation.NormalizeRedirectURL(req.CancelURL, CancelFallbackPath)
	if successURL == "" || cancelURL == "" {
		return nil, apperr.New(apperr.InvalidArgument, "Missing successUrl or cancelUrl.")
	}
	if len(req.Items) == 0 {
		return nil, apperr.New(apperr.InvalidArgument, "Cart items are required.")
	}

	store, err := s.loadStore(ctx, storeID)
	if err != nil {
		return nil, err
	}

	accountID := strings.TrimSpace(store.ConnectedAccountID)
	if accountID == "" {
		return nil, apperr.New(apperr.FailedPrecondition, "Missing connected account configuration.")
	}
	if !strings.HasPrefix(accountID, accountIDPrefix) {
		return nil, apperr.New(apperr.InvalidArgument, "Invalid connected account ID.")
	}

	currency := s.settlementCurrency(store)

	if err := s.payments.VerifyAccount(ctx, accountID); err != nil {
		return nil, accountError(accountID, err)
	}

	items := normalizeCart(req.Items)
	if len(items) == 0 {
		return nil, apperr.New(apperr.InvalidArgument, "No valid cart items provided.")
	}

	var rateID string
	if orderID != "" {
		order, err := s.repo.GetOrder(ctx, storeID, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				return nil, apperr.Wrap(apperr.NotFound, "Order not found.", err)
			}
			return nil, apperr.Wrap(apperr.Internal, "Unable to load order.", err)
		}
		rateID = strings.TrimSpace(order.Shipping.SelectedRateID)
	}

	var rate *model.ShippingRate
	if rateID != "" {
		rate, err = s.fetchRate(ctx, rateID)
		if err != nil {
			return nil, err
		}
	}

	lines := make([]fee.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, fee.Line{UnitAmount: it.UnitAmount, Quantity: it.Quantity})
	}

	breakdown, err := s.policy.Compute(currency, lines, rate)
	if err != nil {
		return nil, feeError(err, currency, rate)
	}

	params := payment.SessionParams{
		AccountID:            accountID,
		Mode:                 model.ModePayment,
		Currency:             currency,
		SuccessURL:           successURL,
		CancelURL:            cancelURL,
		ClientReferenceID:    identity.UserID,
		CustomerEmail:        identity.Email,
		ApplicationFeeAmount: breakdown.ApplicationFee,
		Metadata: map[string]string{
			metadataStoreID: storeID,
			metadataUserID:  identity.UserID,
			metadataOrderID: orderID,
		},
	}
	for _, it := range items {
		params.LineItems = append(params.LineItems, payment.LineItem{
			Name:       it.Name,
			UnitAmount: it.UnitAmount,
			Quantity:   it.Quantity,
			ImageURL:   it.ImageURL,
		})
	}
	if breakdown.ShippingLine() {
		params.LineItems = append(params.LineItems, payment.LineItem{
			Name:       shippingLineName,
			UnitAmount: breakdown.ShippingCharge,
			Quantity:   1,
		})
	}

	session, err := s.payments.CreateCheckoutSession(ctx, params)
	if err != nil {
		details := providerDetails(accountID, err)
		details["subtotal"] = breakdown.Subtotal
		details["applicationFee"] = breakdown.ApplicationFee
		details["shippingMargin"] = breakdown.ShippingMargin
		details["currency"] = currency
		details["lineItemCount"] = len(params.LineItems)

		if isProviderNotFound(err) {
			return nil, apperr.Wrap(apperr.FailedPrecondition,
				"Payment provider returned 404 while creating checkout session.", err).WithDetails(details)
		}
		return nil, apperr.Wrap(apperr.Internal,
			"Payment provider error while creating checkout session.", err).WithDetails(details)
	}

	if orderID != "" {
		var econ *model.ShippingEconomics
		if breakdown.HasShipping {
			econ = &model.ShippingEconomics{
				BaseAmount:    breakdown.ShippingBase,
				ChargedAmount: breakdown.ShippingCharge,
				MarginAmount:  breakdown.ShippingMargin,
				Currency:      currency,
			}
		}
		if err := s.repo.AttachCheckoutSession(ctx, storeID, orderID, session.ID, econ); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "Unable to update order.", err).WithDetails(apperr.Details{
				"sessionId": session.ID,
				"orderId":   orderID,
			})
		}
	}

	s.recordFee(ctx, ledger.Entry{
		SessionID:      session.ID,
		StoreID:        storeID,
		OrderID:        orderID,
		UserID:         identity.UserID,
		AccountID:      accountID,
		Currency:       currency,
		Subtotal:       breakdown.Subtotal,
		ShippingBase:   breakdown.ShippingBase,
		ShippingCharge: breakdown.ShippingCharge,
		ShippingMargin: breakdown.ShippingMargin,
		PlatformFee:    breakdown.PlatformFee,
		ApplicationFee: breakdown.ApplicationFee,
		CreatedAt:      s.now(),
	})

	e := events.New(events.TypeCheckoutSessionCreated, storeID, s.now())
	e.OrderID = orderID
	e.UserID = identity.UserID
	e.Data = map[string]any{
		"sessionId":      session.ID,
		"currency":       currency,
		"subtotal":       breakdown.Subtotal,
		"applicationFee": breakdown.ApplicationFee,
	}
	s.publish(ctx, e)

	return &CheckoutResult{URL: session.URL, SessionID: session.ID}, nil
}

// normalizeCart отбрасывает позиции, не прошедшие нормализацию.
func normalizeCart(raw []CheckoutItem) []model.CartItem {
	items := make([]model.CartItem, 0, len(raw))
	for _, r := range raw {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}
		amount, err := validation.ToMinorUnits(r.Price)
		if err != nil || amount < 0 {
			continue
		}
		qty, err := validation.ClampQuantity(r.Quantity)
		if err != nil {
			continue
		}
		items = append(items, model.CartItem{
			Name:       name,
			UnitAmount: amount,
			Quantity:   qty,
			ImageURL:   validation.NormalizeImageURL(r.ImageURL),
		})
	}
	return items
}

func (s *Service) fetchRate(ctx context.Context, rateID string) (*model.ShippingRate, error) {
	rate, err := s.shipping.GetRate(ctx, rateID)
	if err == nil {
		return rate, nil
	}

	if errors.Is(err, shipping.ErrNotConfigured) {
		return nil, apperr.Wrap(apperr.FailedPrecondition, "Shipping provider is not configured.", err)
	}

	details := apperr.Details{"rateId": rateID}
	var apiErr *shipping.APIError
	if errors.As(err, &apiErr) {
		details["statusCode"] = apiErr.StatusCode
		details["detail"] = apiErr.Detail
		if apiErr.StatusCode == http.StatusNotFound {
			return nil, apperr.Wrap(apperr.FailedPrecondition, "Selected shipping rate not found.", err).WithDetails(details)
		}
	}
	return nil, apperr.Wrap(apperr.Internal, "Unable to fetch shipping rate.", err).WithDetails(details)
}

func accountError(accountID string, err error) error {
	if errors.Is(err, payment.ErrNotConfigured) {
		return apperr.Wrap(apperr.FailedPrecondition, "Payment provider is not configured.", err)
	}
	details := providerDetails(accountID, err)
	if isProviderNotFound(err) {
		return apperr.Wrap(apperr.FailedPrecondition,
			"Connected account not found for this payment provider key.", err).WithDetails(details)
	}
	return apperr.Wrap(apperr.Internal, "Unable to validate connected account.", err).WithDetails(details)
}

func feeError(err error, currency string, rate *model.ShippingRate) error {
	switch {
	case errors.Is(err, fee.ErrCurrencyMismatch):
		rateCurrency := ""
		if rate != nil {
			rateCurrency = strings.ToLower(rate.Currency)
		}
		return apperr.Wrap(apperr.FailedPrecondition, "Shipping currency does not match store currency.", err).
			WithDetails(apperr.Details{"rateCurrency": rateCurrency, "storeCurrency": currency})
	case errors.Is(err, fee.ErrNegativeAmount):
		return apperr.Wrap(apperr.FailedPrecondition, "Invalid shipping rate amount.", err)
	case errors.Is(err, fee.ErrAmountTooLarge):
		return apperr.Wrap(apperr.InvalidArgument, "Cart total is too large.", err).
			WithDetails(apperr.Details{"currency": currency})
	}
	return apperr.Wrap(apperr.Internal, "Unable to compute platform fee.", err)
}

// recordFee пишет строку журнала комиссий. Ошибка только логируется.
func (s *Service) recordFee(ctx context.Context, e ledger.Entry) {
	if s.fees == nil {
		return
	}
	if err := s.fees.Record(ctx, e); err != nil {
		s.logger.Warn("failed to record platform fee",
			zap.String("session_id", e.SessionID),
			zap.String("store_id", e.StoreID),
			zap.Error(err),
		)
	}
}
