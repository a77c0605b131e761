package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/commercekit/ordercore/internal/domain"
	"github.com/commercekit/ordercore/internal/service"
	apperrors "github.com/commercekit/ordercore/pkg/errors"
	"github.com/commercekit/ordercore/pkg/httputil"
	"github.com/commercekit/ordercore/pkg/validator"
)

// WebhookHandler receives payment provider callbacks.
type WebhookHandler struct {
	service *service.PaymentSyncService
	logger  *slog.Logger
}

// NewWebhookHandler creates a new webhook HTTP handler.
func NewWebhookHandler(svc *service.PaymentSyncService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: svc,
		logger:  logger,
	}
}

// PaymentWebhookRequest is the JSON request body posted by the payment
// provider. EventID is the provider's deduplication key; replays of the same
// ID are acknowledged without effect.
type PaymentWebhookRequest struct {
	EventID    string    `json:"event_id" validate:"required"`
	Kind       string    `json:"kind" validate:"required"`
	OrderID    string    `json:"order_id" validate:"required,uuid"`
	Amount     int64     `json:"amount" validate:"gte=0"`
	Currency   string    `json:"currency"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// HandlePaymentEvent handles POST /api/v1/webhooks/payment
func (h *WebhookHandler) HandlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	// Limit request body to 1MB to prevent DoS via large payloads.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req PaymentWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	ev := domain.PaymentEvent{
		EventID:    req.EventID,
		Kind:       req.Kind,
		OrderID:    req.OrderID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Reason:     req.Reason,
		OccurredAt: req.OccurredAt,
	}

	if err := h.service.Apply(r.Context(), ev); err != nil {
		if isRetriableApplyError(err) {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		// Terminal outcomes are acknowledged so the provider stops retrying
		// an event that can never apply; the failure stays in the logs.
		h.logger.WarnContext(r.Context(), "payment event could not be applied, acknowledging",
			slog.String("event_id", ev.EventID),
			slog.String("order_id", ev.OrderID),
			slog.String("kind", ev.Kind),
			slog.String("error", err.Error()),
		)
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "ignored"}})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "accepted"}})
}

// isRetriableApplyError reports whether a retry of the same event could
// succeed. Concurrent-write conflicts and infrastructure failures are
// retriable; a missing order or an impossible transition is not, and
// answering with an error status would only make the provider hammer the
// endpoint with a payload that can never apply.
func isRetriableApplyError(err error) bool {
	if errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrInvalidTransition) ||
		errors.Is(err, apperrors.ErrInvalidInput) ||
		errors.Is(err, apperrors.ErrPrecondition) ||
		errors.Is(err, apperrors.ErrAlreadyExists) {
		return false
	}
	return true
}
