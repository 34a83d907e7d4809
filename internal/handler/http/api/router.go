package api_http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhook", h.WebhookHandler)
	r.Post("/queues/kafka", h.QueueDispatchHandler)

	r.Post("/checkout/session", h.CreateCheckoutSessionHandler)
	r.Get("/orders/session/{sessionID}", h.GetOrderBySessionHandler)
	r.Post("/orders/{id}/redeliver", h.RedeliverHandler)
}
