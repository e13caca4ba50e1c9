package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/apperr"
	"github.com/mmeshcher/storefront-payments/internal/middleware"
	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/payment"
	"github.com/mmeshcher/storefront-payments/internal/service"
)

type stubService struct {
	checkoutIdentity model.Identity
	checkoutReq      service.CheckoutRequest
	checkoutResp     *service.CheckoutResult
	checkoutErr      error

	reconciled   []payment.Event
	reconcileErr error

	orderStoreID string
	orderResp    *model.Order
	orderErr     error

	statusArgs []string
	statusErr  error

	planIdentity model.Identity
	planResp     *service.CheckoutResult
	planErr      error

	membershipResp *service.MembershipView
	membershipErr  error
}

func (s *stubService) CreateCheckoutSession(ctx context.Context, identity model.Identity, req service.CheckoutRequest) (*service.CheckoutResult, error) {
	s.checkoutIdentity = identity
	s.checkoutReq = req
	return s.checkoutResp, s.checkoutErr
}

func (s *stubService) ReconcileEvent(ctx context.Context, ev payment.Event) (service.Outcome, error) {
	s.reconciled = append(s.reconciled, ev)
	if s.reconcileErr != nil {
		return "", s.reconcileErr
	}
	return service.OutcomeApplied, nil
}

func (s *stubService) CreateOrder(ctx context.Context, identity model.Identity, storeID string, req service.CreateOrderRequest) (*model.Order, error) {
	s.orderStoreID = storeID
	return s.orderResp, s.orderErr
}

func (s *stubService) UpdateOrderStatus(ctx context.Context, identity model.Identity, storeID, orderID string, status model.OrderStatus) error {
	s.statusArgs = []string{storeID, orderID, string(status)}
	return s.statusErr
}

func (s *stubService) CreatePlanCheckout(ctx context.Context, identity model.Identity, storeID string, req service.PlanCheckoutRequest) (*service.CheckoutResult, error) {
	s.planIdentity = identity
	return s.planResp, s.planErr
}

func (s *stubService) GetMembership(ctx context.Context, identity model.Identity, storeID string) (*service.MembershipView, error) {
	return s.membershipResp, s.membershipErr
}

type stubVerifier struct {
	event *payment.Event
	err   error
}

func (v *stubVerifier) Verify(payload []byte, signature string) (*payment.Event, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.event, nil
}

var admin = model.Identity{UserID: "u1", StoreID: "s1", Role: model.RoleAdmin}

func newTestRouter(t *testing.T, svc Service, verifier WebhookVerifier) (http.Handler, *middleware.AuthMiddleware) {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")
	return NewHandler(svc, verifier, logger, auth).SetupRouter(), auth
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body map[string]errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestCreateCheckoutSession_Guest(t *testing.T) {
	svc := &stubService{checkoutResp: &service.CheckoutResult{URL: "https://pay.example/cs_1", SessionID: "cs_1"}}
	router, _ := newTestRouter(t, svc, &stubVerifier{})

	body := `{"storeId":"s1","successUrl":"https://a.example/ok","cancelUrl":"https://a.example/no",
		"items":[{"name":"Tee","price":"20","quantity":2}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/checkout/sessions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://pay.example/cs_1","sessionId":"cs_1"}`, rec.Body.String())
	assert.False(t, svc.checkoutIdentity.Authenticated())
	require.Len(t, svc.checkoutReq.Items, 1)
	assert.Equal(t, model.StringOf("20"), svc.checkoutReq.Items[0].Price)
	assert.Equal(t, model.NumberOf("2"), svc.checkoutReq.Items[0].Quantity)
}

func TestCreateCheckoutSession_WithIdentity(t *testing.T) {
	svc := &stubService{checkoutResp: &service.CheckoutResult{URL: "u", SessionID: "cs_1"}}
	router, auth := newTestRouter(t, svc, &stubVerifier{})

	req := httptest.NewRequest(http.MethodPost, "/api/checkout/sessions", strings.NewReader(`{"storeId":"s1"}`))
	req.Header.Set("Authorization", "Bearer "+auth.Sign(admin))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, admin, svc.checkoutIdentity)
}

func TestCreateCheckoutSession_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   apperr.Kind
		wantMsg    string
	}{
		{
			name:       "invalid argument",
			err:        apperr.New(apperr.InvalidArgument, "Cart items are required."),
			wantStatus: http.StatusBadRequest,
			wantKind:   apperr.InvalidArgument,
			wantMsg:    "Cart items are required.",
		},
		{
			name:       "not found",
			err:        apperr.New(apperr.NotFound, "Store not found."),
			wantStatus: http.StatusNotFound,
			wantKind:   apperr.NotFound,
			wantMsg:    "Store not found.",
		},
		{
			name: "failed precondition hides details",
			err: apperr.New(apperr.FailedPrecondition, "Shipping currency does not match store currency.").
				WithDetails(apperr.Details{"rateCurrency": "eur", "storeCurrency": "usd"}),
			wantStatus: http.StatusPreconditionFailed,
			wantKind:   apperr.FailedPrecondition,
			wantMsg:    "Shipping currency does not match store currency.",
		},
		{
			name:       "unclassified",
			err:        errors.New("stripe: secret sk_live_123 leaked"),
			wantStatus: http.StatusInternalServerError,
			wantKind:   apperr.Internal,
			wantMsg:    "Internal error.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{checkoutErr: tt.err}
			router, _ := newTestRouter(t, svc, &stubVerifier{})

			req := httptest.NewRequest(http.MethodPost, "/api/checkout/sessions", strings.NewReader(`{}`))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			got := decodeError(t, rec)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantMsg, got.Message)
			assert.NotContains(t, rec.Body.String(), "eur")
			assert.NotContains(t, rec.Body.String(), "sk_live")
		})
	}
}

func TestCreateCheckoutSession_MalformedBody(t *testing.T) {
	svc := &stubService{}
	router, _ := newTestRouter(t, svc, &stubVerifier{})

	req := httptest.NewRequest(http.MethodPost, "/api/checkout/sessions", strings.NewReader(`{"items":`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.InvalidArgument, decodeError(t, rec).Kind)
}

func TestStripeWebhook(t *testing.T) {
	event := &payment.Event{ID: "evt_1", Type: "invoice.paid"}

	tests := []struct {
		name       string
		verifier   *stubVerifier
		serviceErr error
		wantStatus int
		wantCalls  int
	}{
		{name: "processed", verifier: &stubVerifier{event: event}, wantStatus: http.StatusOK, wantCalls: 1},
		{name: "bad signature", verifier: &stubVerifier{err: payment.ErrInvalidSignature}, wantStatus: http.StatusBadRequest},
		{name: "not configured", verifier: &stubVerifier{err: payment.ErrWebhookNotConfigured}, wantStatus: http.StatusBadRequest},
		{name: "processing failure", verifier: &stubVerifier{event: event}, serviceErr: errors.New("db down"), wantStatus: http.StatusInternalServerError, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{reconcileErr: tt.serviceErr}
			router, _ := newTestRouter(t, svc, tt.verifier)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{"id":"evt_1"}`)))
			req.Header.Set("Stripe-Signature", "t=1,v1=abc")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Len(t, svc.reconciled, tt.wantCalls)
			if tt.wantStatus == http.StatusOK {
				assert.JSONEq(t, `{"received":true}`, rec.Body.String())
			}
		})
	}
}

func TestCreateOrder(t *testing.T) {
	svc := &stubService{orderResp: &model.Order{ID: "o1"}}
	router, _ := newTestRouter(t, svc, &stubVerifier{})

	req := httptest.NewRequest(http.MethodPost, "/api/stores/s1/orders", strings.NewReader(`{"items":[]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"orderId":"o1"}`, rec.Body.String())
	assert.Equal(t, "s1", svc.orderStoreID)
}

func TestUpdateOrderStatus(t *testing.T) {
	svc := &stubService{}
	router, auth := newTestRouter(t, svc, &stubVerifier{})

	req := httptest.NewRequest(http.MethodPatch, "/api/stores/s1/orders/o1", strings.NewReader(`{"status":"shipped"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, svc.statusArgs)

	req = httptest.NewRequest(http.MethodPatch, "/api/stores/s1/orders/o1", strings.NewReader(`{"status":"shipped"}`))
	req.Header.Set("Authorization", "Bearer "+auth.Sign(admin))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"s1", "o1", "shipped"}, svc.statusArgs)
}

func TestCreatePlanCheckout(t *testing.T) {
	svc := &stubService{planErr: apperr.New(apperr.PermissionDenied, "User does not belong to this store.")}
	router, auth := newTestRouter(t, svc, &stubVerifier{})

	req := httptest.NewRequest(http.MethodPost, "/api/stores/s2/plans/checkout", strings.NewReader(`{"planType":"fan_monthly"}`))
	req.Header.Set("Authorization", "Bearer "+auth.Sign(admin))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperr.PermissionDenied, decodeError(t, rec).Kind)
	assert.Equal(t, admin, svc.planIdentity)
}

func TestGetMembership(t *testing.T) {
	svc := &stubService{membershipResp: &service.MembershipView{StoreID: "s1", UserID: "u1", Status: model.MembershipActive, HasAccess: true}}
	router, auth := newTestRouter(t, svc, &stubVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/api/stores/s1/membership", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: auth.Sign(admin)})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got service.MembershipView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.HasAccess)
	assert.Equal(t, model.MembershipActive, got.Status)
}

func TestUnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t, &stubService{}, &stubVerifier{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
