package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/service"
)

// OrderService defines the resting-order methods the handler requires
// from the service layer.
type OrderService interface {
	Place(ctx context.Context, userID string, p service.PlaceParams) (domain.Order, error)
	Cancel(ctx context.Context, id, userID string) (domain.Order, error)
	List(ctx context.Context, userID string, filter domain.OrderFilter, opts domain.ListOpts) ([]domain.Order, error)
}

// OrderHandler serves the resting limit-order endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

type placeOrderRequest struct {
	Certificate string          `json:"certificate_type"`
	Side        string          `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// Place puts a limit order on the board under the caller's seller
// code.
// POST /api/cash-market/orders
func (h *OrderHandler) Place(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cert, err := domain.ParseCertificateType(req.Certificate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	side, err := domain.ParseOrderSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}

	order, err := h.orders.Place(r.Context(), p.UserID, service.PlaceParams{
		Certificate: cert,
		Side:        side,
		Price:       req.Price,
		Quantity:    req.Quantity,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to place order")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"order": order})
}

type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// List returns the caller's orders, filterable by certificate, side,
// and status.
// GET /api/cash-market/orders?certificate_type=&side=&status=
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var filter domain.OrderFilter

	if v := q.Get("certificate_type"); v != "" {
		cert, err := domain.ParseCertificateType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Certificate = cert
	}
	if v := q.Get("side"); v != "" {
		side, err := domain.ParseOrderSide(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "side must be buy or sell")
			return
		}
		filter.Side = side
	}
	if v := q.Get("status"); v != "" {
		filter.Status = domain.OrderStatus(v)
	}

	orders, err := h.orders.List(r.Context(), p.UserID, filter, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list orders")
		return
	}

	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}

// Cancel pulls one of the caller's open orders off the board.
// DELETE /api/cash-market/orders/{id}
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.orders.Cancel(r.Context(), id, p.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to cancel order")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}
