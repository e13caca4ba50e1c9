package service

import (
	"context"
	"errors"
	"strings"

	"github.com/mmeshcher/storefront-payments/internal/apperr"
	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/payment"
	"github.com/mmeshcher/storefront-payments/internal/validation"
)

const priceIDPrefix = "price_"

// PlanCheckoutRequest содержит запрос на оформление тарифа членства.
type PlanCheckoutRequest struct {
	PlanType   model.PlanType `json:"planType"`
	SuccessURL string         `json:"successUrl"`
	CancelURL  string         `json:"cancelUrl"`
}

// CreatePlanCheckout создаёт сессию оплаты тарифа членства для пользователя магазина.
func (s *Service) CreatePlanCheckout(ctx context.Context, identity model.Identity, storeID string, req PlanCheckoutRequest) (*CheckoutResult, error) {
	storeID = strings.TrimSpace(storeID)

	if err := requireStoreMember(identity, storeID); err != nil {
		return nil, err
	}

	successURL := validation.NormalizeRedirectURL(req.SuccessURL, SuccessFallbackPath)
	cancelURL := validation.NormalizeRedirectURL(req.CancelURL, CancelFallbackPath)
	if req.PlanType == "" || successURL == "" || cancelURL == "" {
		return nil, apperr.New(apperr.InvalidArgument, "Missing required fields.")
	}

	plan, ok := model.LookupPlan(req.PlanType)
	if !ok {
		return nil, apperr.New(apperr.InvalidArgument, "Invalid plan.")
	}

	store, err := s.loadStore(ctx, storeID)
	if err != nil {
		return nil, err
	}

	accountID := strings.TrimSpace(store.ConnectedAccountID)
	if accountID == "" {
		return nil, apperr.New(apperr.FailedPrecondition, "Missing connected account configuration.")
	}

	priceRef := strings.TrimSpace(store.PlanPrices[plan.Type])
	if priceRef == "" {
		return nil, apperr.New(apperr.FailedPrecondition, "Plan price is not configured.")
	}

	currency := s.settlementCurrency(store)
	item := payment.LineItem{Name: plan.Name, Quantity: 1, Interval: plan.Interval}

	var amount int64
	if strings.HasPrefix(priceRef, priceIDPrefix) {
		item.PriceID = priceRef
	} else {
		amount, err = validation.ToMinorUnits(model.StringOf(priceRef))
		if err != nil || amount <= 0 {
			return nil, apperr.New(apperr.InvalidArgument, "Invalid price value.")
		}
		item.UnitAmount = amount
	}

	metadata := map[string]string{
		metadataStoreID:  storeID,
		metadataUserID:   identity.UserID,
		metadataPlanType: string(plan.Type),
	}

	params := payment.SessionParams{
		AccountID:         accountID,
		Mode:              plan.Mode,
		Currency:          currency,
		LineItems:         []payment.LineItem{item},
		SuccessURL:        successURL,
		CancelURL:         cancelURL,
		ClientReferenceID: identity.UserID,
		CustomerEmail:     identity.Email,
		Metadata:          metadata,
	}

	if plan.Recurring() {
		params.ApplicationFeePercent = s.policy.CommissionPercent.InexactFloat64()
	} else {
		if item.PriceID != "" {
			amount, err = s.payments.GetPriceAmount(ctx, item.PriceID, accountID)
			if err != nil {
				if errors.Is(err, payment.ErrNotConfigured) || isProviderNotFound(err) {
					return nil, apperr.Wrap(apperr.FailedPrecondition, "Missing price amount.", err).
						WithDetails(providerDetails(accountID, err))
				}
				return nil, apperr.Wrap(apperr.Internal, "Unable to load plan price.", err).
					WithDetails(providerDetails(accountID, err))
			}
		}
		params.ApplicationFeeAmount = s.policy.PercentOf(amount)
	}

	session, err := s.payments.CreateCheckoutSession(ctx, params)
	if err != nil {
		details := providerDetails(accountID, err)
		details["planType"] = string(plan.Type)
		details["applicationFee"] = params.ApplicationFeeAmount
		details["applicationFeePercent"] = params.ApplicationFeePercent
		if errors.Is(err, payment.ErrNotConfigured) || isProviderNotFound(err) {
			return nil, apperr.Wrap(apperr.FailedPrecondition,
				"Unable to create plan checkout session.", err).WithDetails(details)
		}
		return nil, apperr.Wrap(apperr.Internal,
			"Payment provider error while creating checkout session.", err).WithDetails(details)
	}

	return &CheckoutResult{URL: session.URL, SessionID: session.ID}, nil
}
