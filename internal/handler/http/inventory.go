package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/commercekit/ordercore/internal/service"
	"github.com/commercekit/ordercore/pkg/httputil"
	"github.com/commercekit/ordercore/pkg/validator"
)

// InventoryHandler handles HTTP requests for stock endpoints.
type InventoryHandler struct {
	service *service.InventoryService
	logger  *slog.Logger
}

// NewInventoryHandler creates a new inventory HTTP handler.
func NewInventoryHandler(svc *service.InventoryService, logger *slog.Logger) *InventoryHandler {
	return &InventoryHandler{
		service: svc,
		logger:  logger,
	}
}

// InitStockRequest is the JSON request body for seeding a variant's stock.
type InitStockRequest struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

// AdjustStockRequest is the JSON request body for a manual stock correction.
type AdjustStockRequest struct {
	Delta int `json:"delta" validate:"required"`
}

// GetStock handles GET /api/v1/inventory/{variantID}
func (h *InventoryHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	variantID := chi.URLParam(r, "variantID")

	stock, err := h.service.GetStock(r.Context(), variantID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: stock})
}

// InitStock handles PUT /api/v1/inventory/{variantID}
func (h *InventoryHandler) InitStock(w http.ResponseWriter, r *http.Request) {
	variantID := chi.URLParam(r, "variantID")

	// Limit request body to 1MB to prevent DoS via large payloads.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req InitStockRequest
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

	stock, err := h.service.InitStock(r.Context(), variantID, req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: stock})
}

// AdjustStock handles POST /api/v1/inventory/{variantID}/adjust
func (h *InventoryHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	variantID := chi.URLParam(r, "variantID")

	// Limit request body to 1MB to prevent DoS via large payloads.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req AdjustStockRequest
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

	movement, err := h.service.AdjustStock(r.Context(), variantID, req.Delta)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: movement})
}

// ListMovements handles GET /api/v1/inventory/{variantID}/movements
func (h *InventoryHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	variantID := chi.URLParam(r, "variantID")

	page := 1
	perPage := 20

	if v := r.URL.Query().Get("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "page must be a valid positive integer"},
			})
			return
		}
		page = p
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		pp, err := strconv.Atoi(v)
		if err != nil || pp < 1 || pp > 100 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "per_page must be a valid integer between 1 and 100"},
			})
			return
		}
		perPage = pp
	}

	movements, total, err := h.service.ListMovements(r.Context(), variantID, page, perPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(movements, total, page, perPage))
}
