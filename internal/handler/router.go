package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/storefront-payments/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	// Тело вебхука проверяется по подписи, поэтому маршрут не проходит через gzip.
	r.Post("/webhooks/stripe", h.StripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)

		r.Route("/api", func(r chi.Router) {
			r.With(h.authMiddleware.Optional).Post("/checkout/sessions", h.CreateCheckoutSession)

			r.Route("/stores/{storeID}", func(r chi.Router) {
				r.With(h.authMiddleware.Optional).Post("/orders", h.CreateOrder)

				r.Group(func(r chi.Router) {
					r.Use(h.authMiddleware.Middleware)

					r.Patch("/orders/{orderID}", h.UpdateOrderStatus)
					r.Post("/plans/checkout", h.CreatePlanCheckout)
					r.Get("/membership", h.GetMembership)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
