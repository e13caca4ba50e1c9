package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront-payments/internal/apperr"
	"github.com/mmeshcher/storefront-payments/internal/events"
	"github.com/mmeshcher/storefront-payments/internal/fee"
	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/payment"
	"github.com/mmeshcher/storefront-payments/internal/shipping"
)

func teeRequest() CheckoutRequest {
	return CheckoutRequest{
		StoreID:    "s1",
		SuccessURL: "https://shop.example/thanks",
		CancelURL:  "https://shop.example/cart",
		Items: []CheckoutItem{
			{Name: "Tee", Price: model.NumberOf("20"), Quantity: model.NumberOf("2")},
		},
	}
}

func TestCreateCheckoutSession_NoShipping(t *testing.T) {
	f := newFixture()
	identity := model.Identity{UserID: "u1", StoreID: "s1", Email: "u1@example.com"}

	res, err := f.svc.CreateCheckoutSession(context.Background(), identity, teeRequest())
	require.NoError(t, err)

	assert.Equal(t, "cs_test_1", res.SessionID)
	assert.Equal(t, "https://checkout.example/cs_test_1", res.URL)

	require.Len(t, f.payments.sessions, 1)
	params := f.payments.sessions[0]
	assert.Equal(t, "acct_123", params.AccountID)
	assert.Equal(t, model.ModePayment, params.Mode)
	assert.Equal(t, "usd", params.Currency)
	assert.Equal(t, int64(284), params.ApplicationFeeAmount)
	assert.Equal(t, "u1", params.ClientReferenceID)
	assert.Equal(t, "u1@example.com", params.CustomerEmail)
	assert.Equal(t, map[string]string{"storeId": "s1", "userId": "u1", "orderId": ""}, params.Metadata)

	require.Len(t, params.LineItems, 1)
	assert.Equal(t, payment.LineItem{Name: "Tee", UnitAmount: 2000, Quantity: 2}, params.LineItems[0])

	assert.Empty(t, f.repo.attached)

	require.Len(t, f.ledger.entries, 1)
	assert.Equal(t, int64(4000), f.ledger.entries[0].Subtotal)
	assert.Equal(t, int64(284), f.ledger.entries[0].ApplicationFee)

	assert.Equal(t, []string{events.TypeCheckoutSessionCreated}, f.publisher.types())
}

func TestCreateCheckoutSession_WithShippingMargin(t *testing.T) {
	f := newFixture()
	f.repo.orders["o1"] = &model.Order{
		ID:       "o1",
		StoreID:  "s1",
		Status:   model.OrderStatusPending,
		Shipping: model.OrderShipping{SelectedRateID: "rate_1"},
	}
	f.shipping.rate = &model.ShippingRate{RateID: "rate_1", Amount: 1000, Currency: "usd"}

	req := teeRequest()
	req.OrderID = "o1"

	_, err := f.svc.CreateCheckoutSession(context.Background(), model.Identity{}, req)
	require.NoError(t, err)

	params := f.payments.sessions[0]
	assert.Equal(t, int64(730), params.ApplicationFeeAmount)
	require.Len(t, params.LineItems, 2)
	assert.Equal(t, payment.LineItem{Name: "Shipping", UnitAmount: 1350, Quantity: 1}, params.LineItems[1])
	assert.Equal(t, "o1", params.Metadata["orderId"])
	assert.Equal(t, "", params.ClientReferenceID)

	require.Len(t, f.repo.attached, 1)
	call := f.repo.attached[0]
	assert.Equal(t, "cs_test_1", call.sessionID)
	require.NotNil(t, call.econ)
	assert.Equal(t, model.ShippingEconomics{BaseAmount: 1000, ChargedAmount: 1350, MarginAmount: 350, Currency: "usd"}, *call.econ)
}

func TestCreateCheckoutSession_MarginCaptureDisabled(t *testing.T) {
	f := newFixture()
	policy := fee.DefaultPolicy()
	policy.CaptureShippingMargin = false
	f.svc.policy = policy

	f.repo.orders["o1"] = &model.Order{ID: "o1", StoreID: "s1", Shipping: model.OrderShipping{SelectedRateID: "rate_1"}}
	f.shipping.rate = &model.ShippingRate{Amount: 1000, Currency: "usd"}

	req := teeRequest()
	req.OrderID = "o1"

	_, err := f.svc.CreateCheckoutSession(context.Background(), model.Identity{}, req)
	require.NoError(t, err)

	// 5000 * 7.1% = 355
	assert.Equal(t, int64(355), f.payments.sessions[0].ApplicationFeeAmount)
	assert.Equal(t, int64(0), f.repo.attached[0].econ.MarginAmount)
}

func TestCreateCheckoutSession_CurrencyMismatch(t *testing.T) {
	f := newFixture()
	f.repo.orders["o1"] = &model.Order{ID: "o1", StoreID: "s1", Shipping: model.OrderShipping{SelectedRateID: "rate_1"}}

	for _, amount := range []int64{0, 1, 1000, 1 << 40} {
		f.shipping.rate = &model.ShippingRate{Amount: amount, Currency: "EUR"}

		req := teeRequest()
		req.OrderID = "o1"

		_, err := f.svc.CreateCheckoutSession(context.Background(), model.Identity{}, req)
		require.Error(t, err)
		assert.Equal(t, apperr.FailedPrecondition, apperr.KindOf(err))

		var ae *apperr.Error
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, "eur", ae.Details["rateCurrency"])
		assert.Equal(t, "usd", ae.Details["storeCurrency"])
	}

	assert.Empty(t, f.payments.sessions)
}

func TestCreateCheckoutSession_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture, req *CheckoutRequest)
		kind  apperr.Kind
	}{
		{
			name:  "missing store id",
			setup: func(f *fixture, req *CheckoutRequest) { req.StoreID = " " },
			kind:  apperr.InvalidArgument,
		},
		{
			name:  "invalid success url",
			setup: func(f *fixture, req *CheckoutRequest) { req.SuccessURL = "/relative" },
			kind:  apperr.InvalidArgument,
		},
		{
			name:  "empty cart",
			setup: func(f *fixture, req *CheckoutRequest) { req.Items = nil },
			kind:  apperr.InvalidArgument,
		},
		{
			name: "all items invalid",
			setup: func(f *fixture, req *CheckoutRequest) {
				req.Items = []CheckoutItem{
					{Name: "", Price: model.NumberOf("1"), Quantity: model.NumberOf("1")},
					{Name: "Bad", Price: model.NumberOf("-1"), Quantity: model.NumberOf("1")},
					{Name: "Zero", Price: model.NumberOf("1"), Quantity: model.NumberOf("0")},
				}
			},
			kind: apperr.InvalidArgument,
		},
		{
			name: "cart total overflows",
			setup: func(f *fixture, req *CheckoutRequest) {
				req.Items = []CheckoutItem{{Name: "Gold", Price: model.NumberOf("1000000000000000"), Quantity: model.NumberOf("99")}}
			},
			kind: apperr.InvalidArgument,
		},
		{
			name:  "store not found",
			setup: func(f *fixture, req *CheckoutRequest) { req.StoreID = "missing" },
			kind:  apperr.NotFound,
		},
		{
			name:  "store load failure",
			setup: func(f *fixture, req *CheckoutRequest) { f.repo.getStoreErr = errors.New("db down") },
			kind:  apperr.Internal,
		},
		{
			name:  "no connected account",
			setup: func(f *fixture, req *CheckoutRequest) { f.repo.stores["s1"].ConnectedAccountID = "" },
			kind:  apperr.FailedPrecondition,
		},
		{
			name:  "malformed connected account",
			setup: func(f *fixture, req *CheckoutRequest) { f.repo.stores["s1"].ConnectedAccountID = "cus_123" },
			kind:  apperr.InvalidArgument,
		},
		{
			name: "account not found at provider",
			setup: func(f *fixture, req *CheckoutRequest) {
				f.payments.verifyErr = &payment.ProviderError{StatusCode: http.StatusNotFound, Type: "invalid_request_error"}
			},
			kind: apperr.FailedPrecondition,
		},
		{
			name: "account check failure",
			setup: func(f *fixture, req *CheckoutRequest) {
				f.payments.verifyErr = &payment.ProviderError{StatusCode: http.StatusInternalServerError}
			},
			kind: apperr.Internal,
		},
		{
			name:  "payment provider not configured",
			setup: func(f *fixture, req *CheckoutRequest) { f.payments.verifyErr = payment.ErrNotConfigured },
			kind:  apperr.FailedPrecondition,
		},
		{
			name:  "order not found",
			setup: func(f *fixture, req *CheckoutRequest) { req.OrderID = "missing" },
			kind:  apperr.NotFound,
		},
		{
			name: "shipping rate not found",
			setup: func(f *fixture, req *CheckoutRequest) {
				f.repo.orders["o1"] = &model.Order{ID: "o1", StoreID: "s1", Shipping: model.OrderShipping{SelectedRateID: "rate_1"}}
				f.shipping.err = &shipping.APIError{StatusCode: http.StatusNotFound, Detail: "Not found."}
				req.OrderID = "o1"
			},
			kind: apperr.FailedPrecondition,
		},
		{
			name: "shipping provider failure",
			setup: func(f *fixture, req *CheckoutRequest) {
				f.repo.orders["o1"] = &model.Order{ID: "o1", StoreID: "s1", Shipping: model.OrderShipping{SelectedRateID: "rate_1"}}
				f.shipping.err = errors.New("timeout")
				req.OrderID = "o1"
			},
			kind: apperr.Internal,
		},
		{
			name: "session not found at provider",
			setup: func(f *fixture, req *CheckoutRequest) {
				f.payments.createErr = &payment.ProviderError{StatusCode: http.StatusNotFound}
			},
			kind: apperr.FailedPrecondition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := teeRequest()
			tt.setup(f, &req)

			_, err := f.svc.CreateCheckoutSession(context.Background(), model.Identity{}, req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.Empty(t, f.repo.attached)
			assert.Empty(t, f.ledger.entries)
		})
	}
}

func TestCreateCheckoutSession_ProviderErrorKeepsFeeContext(t *testing.T) {
	f := newFixture()
	f.payments.createErr = &payment.ProviderError{
		StatusCode: http.StatusBadRequest,
		Type:       "invalid_request_error",
		Code:       "parameter_invalid",
		Message:    "bad fee",
	}

	_, err := f.svc.CreateCheckoutSession(context.Background(), model.Identity{}, teeRequest())
	require.Error(t, err)

	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, apperr.Internal, ae.Kind)
	assert.Equal(t, int64(4000), ae.Details["subtotal"])
	assert.Equal(t, int64(284), ae.Details["applicationFee"])
	assert.Equal(t, "usd", ae.Details["currency"])
	assert.Equal(t, 1, ae.Details["lineItemCount"])
	assert.Equal(t, "acct_123", ae.Details["stripeAccountId"])
	assert.Equal(t, "parameter_invalid", ae.Details["stripeCode"])
	assert.NotContains(t, ae.Message, "bad fee")
}

func TestCreateCheckoutSession_DropsInvalidItems(t *testing.T) {
	f := newFixture()
	req := teeRequest()
	req.Items = append(req.Items,
		CheckoutItem{Name: "Mug", Price: model.StringOf("$12.50"), Quantity: model.StringOf("150"), ImageURL: "javascript:alert(1)"},
		CheckoutItem{Name: "  ", Price: model.NumberOf("5"), Quantity: model.NumberOf("1")},
	)

	_, err := f.svc.CreateCheckoutSession(context.Background(), model.Identity{}, req)
	require.NoError(t, err)

	items := f.payments.sessions[0].LineItems
	require.Len(t, items, 2)
	assert.Equal(t, payment.LineItem{Name: "Mug", UnitAmount: 1250, Quantity: 99}, items[1])
}

func TestCreateCheckoutSession_LongRedirectFallsBack(t *testing.T) {
	f := newFixture()
	req := teeRequest()
	req.SuccessURL = "https://shop.example/thanks?q=" + strings.Repeat("a", 3000)

	_, err := f.svc.CreateCheckoutSession(context.Background(), model.Identity{}, req)
	require.NoError(t, err)

	assert.Equal(t, "https://shop.example"+SuccessFallbackPath, f.payments.sessions[0].SuccessURL)
}

func TestCreateCheckoutSession_BestEffortSideEffects(t *testing.T) {
	f := newFixture()
	f.ledger.err = errors.New("clickhouse down")
	f.publisher.err = errors.New("broker down")

	res, err := f.svc.CreateCheckoutSession(context.Background(), model.Identity{}, teeRequest())
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", res.SessionID)
}

func TestCreateCheckoutSession_CustomPolicy(t *testing.T) {
	f := newFixture()
	f.svc.policy = fee.Policy{
		CommissionPercent:     decimal.NewFromInt(10),
		ShippingMarkup:        decimal.NewFromInt(1),
		CaptureShippingMargin: true,
	}

	_, err := f.svc.CreateCheckoutSession(context.Background(), model.Identity{}, teeRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(400), f.payments.sessions[0].ApplicationFeeAmount)
}
