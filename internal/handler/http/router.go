package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/commercekit/ordercore/internal/service"
	"github.com/commercekit/ordercore/pkg/health"
	"github.com/commercekit/ordercore/pkg/httputil"
	"github.com/commercekit/ordercore/pkg/middleware"
)

// NewRouter creates a chi router with all order core routes registered.
func NewRouter(
	orderService *service.OrderService,
	inventoryService *service.InventoryService,
	paymentSyncService *service.PaymentSyncService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	pprofCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("ordercore"))
	r.Use(middleware.Tracing("ordercore"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, pprofCIDRs, logger)

	orderHandler := NewOrderHandler(orderService, logger)
	inventoryHandler := NewInventoryHandler(inventoryService, logger)
	webhookHandler := NewWebhookHandler(paymentSyncService, logger)

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", orderHandler.CreateOrder)
		r.Get("/", orderHandler.ListOrders)
		r.Get("/{id}", orderHandler.GetOrder)
		r.Put("/{id}/status", orderHandler.UpdateOrderStatus)
		r.Put("/{id}/payment-status", orderHandler.UpdatePaymentStatus)
		r.Post("/{id}/cancel", orderHandler.CancelOrder)
	})

	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Get("/{variantID}", inventoryHandler.GetStock)
		r.Put("/{variantID}", inventoryHandler.InitStock)
		r.Post("/{variantID}/adjust", inventoryHandler.AdjustStock)
		r.Get("/{variantID}/movements", inventoryHandler.ListMovements)
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/payment", webhookHandler.HandlePaymentEvent)
	})

	return r
}

// ContentTypeJSON rejects mutating requests whose Content-Type is not JSON.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "UNSUPPORTED_MEDIA_TYPE", Message: "Content-Type must be application/json"},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
