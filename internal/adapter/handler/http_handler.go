package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stockbridge/internal/core/domain"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type HTTPHandler struct {
	items  ItemCommands
	orders OrderCommands
	checks map[string]HealthCheck
	logger *zap.Logger
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewHTTPHandler(items ItemCommands, orders OrderCommands, checks map[string]HealthCheck, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{items: items, orders: orders, checks: checks, logger: logger}
}

// Register mounts the host API on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)

	mux.HandleFunc("POST /api/items", h.CreateItem)
	mux.HandleFunc("GET /api/items/{host}/{id}", h.GetItem)
	mux.HandleFunc("PUT /api/items/{host}/{id}/stock", h.SynchronizeStock)
	mux.HandleFunc("POST /api/items/{host}/{id}/pick", h.PickItem)

	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders/{host}/{id}", h.GetOrder)
	mux.HandleFunc("PATCH /api/orders/{host}/{id}", h.UpdateOrder)
	mux.HandleFunc("DELETE /api/orders/{host}/{id}", h.DeleteOrder)
	mux.HandleFunc("PUT /api/orders/{host}/{id}/lines/{line}", h.UpdateLineStatus)
}

func (h *HTTPHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.items.CreateItem(r.Context(), req.toDomain())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	req := itemKeyFromPath(r)
	if err := validateRequest(req); err != nil {
		h.writeError(w, err)
		return
	}

	item, err := h.items.GetItem(r.Context(), req.key())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *HTTPHandler) SynchronizeStock(w http.ResponseWriter, r *http.Request) {
	var req SynchronizeStockRequest
	if !h.decode(w, r, &req, func() { req.ItemKeyRequest = itemKeyFromPath(r) }) {
		return
	}

	item, err := h.items.SynchronizeStock(r.Context(), req.key(), req.Quantity, req.Location)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *HTTPHandler) PickItem(w http.ResponseWriter, r *http.Request) {
	var req PickItemRequest
	if !h.decode(w, r, &req, func() { req.ItemKeyRequest = itemKeyFromPath(r) }) {
		return
	}

	item, err := h.items.PickItem(r.Context(), req.key(), req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), req.toDomain())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	req := orderKeyFromPath(r)
	if err := validateRequest(req); err != nil {
		h.writeError(w, err)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), req.key())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderRequest
	if !h.decode(w, r, &req, func() { req.OrderKeyRequest = orderKeyFromPath(r) }) {
		return
	}

	order, err := h.orders.UpdateOrder(r.Context(), req.toUpdate())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	req := orderKeyFromPath(r)
	if err := validateRequest(req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.orders.DeleteOrder(r.Context(), req.key()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) UpdateLineStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateLineStatusRequest
	if !h.decode(w, r, &req, func() {
		req.OrderKeyRequest = orderKeyFromPath(r)
		req.HostID = r.PathValue("line")
	}) {
		return
	}

	order, err := h.orders.UpdateLineStatus(r.Context(), req.key(), req.HostID, domain.LineStatus(req.Status))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	result := map[string]string{"status": "ok"}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			result["status"] = "degraded"
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}
	writeJSON(w, status, result)
}

// decode reads the JSON body into req, applies path overrides and validates.
// It writes the error response itself and reports whether to continue.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, req any, fromPath ...func()) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "invalid request body",
		})
		return false
	}
	for _, fn := range fromPath {
		fn()
	}
	if err := validateRequest(req); err != nil {
		h.writeError(w, err)
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status, code := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		writeJSON(w, status, ErrorResponse{Error: code, Message: "internal error"})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: code, Message: err.Error()})
}

func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrDuplicateResource):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, domain.ErrIllegalState):
		return http.StatusUnprocessableEntity, "illegal_state"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func itemKeyFromPath(r *http.Request) ItemKeyRequest {
	return ItemKeyRequest{HostName: r.PathValue("host"), HostID: r.PathValue("id")}
}

func orderKeyFromPath(r *http.Request) OrderKeyRequest {
	return OrderKeyRequest{HostName: r.PathValue("host"), HostOrderID: r.PathValue("id")}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
