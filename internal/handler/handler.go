// Package handler содержит HTTP-обработчики API платёжного ядра витрины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/apperr"
	"github.com/mmeshcher/storefront-payments/internal/middleware"
	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/payment"
	"github.com/mmeshcher/storefront-payments/internal/service"
)

const maxWebhookBody = 1 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateCheckoutSession(ctx context.Context, identity model.Identity, req service.CheckoutRequest) (*service.CheckoutResult, error)
	ReconcileEvent(ctx context.Context, ev payment.Event) (service.Outcome, error)
	CreateOrder(ctx context.Context, identity model.Identity, storeID string, req service.CreateOrderRequest) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, identity model.Identity, storeID, orderID string, status model.OrderStatus) error
	CreatePlanCheckout(ctx context.Context, identity model.Identity, storeID string, req service.PlanCheckoutRequest) (*service.CheckoutResult, error)
	GetMembership(ctx context.Context, identity model.Identity, storeID string) (*service.MembershipView, error)
}

// WebhookVerifier проверяет подпись вебхука платёжного провайдера.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (*payment.Event, error)
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	verifier       WebhookVerifier
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, verifier WebhookVerifier, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		verifier:       verifier,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// writeError отвечает видом ошибки и сообщением для клиента. Диагностика пишется только в лог.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	message := "Internal error."

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		message = ae.Message
		if len(ae.Details) > 0 {
			fields = append(fields, zap.Any("details", ae.Details))
		}
	}

	if kind == apperr.Internal {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Info("request rejected", fields...)
	}

	writeJSON(w, kind.HTTPStatus(), map[string]errorBody{
		"error": {Kind: kind, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.InvalidArgument, "Invalid request body.", err)
	}
	return nil
}

func identityOf(r *http.Request) model.Identity {
	identity, _ := middleware.IdentityFromContext(r.Context())
	return identity
}

// CreateCheckoutSession создаёт сессию оплаты корзины.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req service.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.CreateCheckoutSession(r.Context(), identityOf(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// StripeWebhook принимает события платёжного провайдера.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Webhook Error: unable to read body.", http.StatusBadRequest)
		return
	}

	ev, err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrWebhookNotConfigured) {
			h.logger.Error("webhook secret is not configured")
			http.Error(w, "Missing webhook configuration.", http.StatusBadRequest)
			return
		}
		h.logger.Warn("webhook signature verification failed", zap.Error(err))
		http.Error(w, "Webhook Error: signature verification failed.", http.StatusBadRequest)
		return
	}

	outcome, err := h.service.ReconcileEvent(r.Context(), *ev)
	if err != nil {
		h.logger.Error("webhook handler failed",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.Type),
			zap.Error(err),
		)
		http.Error(w, "Webhook handler failed.", http.StatusInternalServerError)
		return
	}

	h.logger.Debug("webhook processed",
		zap.String("event_id", ev.ID),
		zap.String("type", ev.Type),
		zap.String("outcome", string(outcome)),
	)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// CreateOrder создаёт заказ в магазине.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req service.CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), identityOf(r), chi.URLParam(r, "storeID"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"orderId": order.ID})
}

type updateOrderRequest struct {
	Status model.OrderStatus `json:"status"`
}

// UpdateOrderStatus меняет статус заказа.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	err := h.service.UpdateOrderStatus(r.Context(), identityOf(r),
		chi.URLParam(r, "storeID"), chi.URLParam(r, "orderID"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreatePlanCheckout создаёт сессию оплаты тарифа членства.
func (h *Handler) CreatePlanCheckout(w http.ResponseWriter, r *http.Request) {
	var req service.PlanCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.CreatePlanCheckout(r.Context(), identityOf(r), chi.URLParam(r, "storeID"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// GetMembership возвращает членство текущего пользователя в магазине.
func (h *Handler) GetMembership(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetMembership(r.Context(), identityOf(r), chi.URLParam(r, "storeID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}
