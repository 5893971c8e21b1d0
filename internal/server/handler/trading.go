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

// TradingService defines the preview/execute methods the handler
// requires from the service layer.
type TradingService interface {
	Preview(ctx context.Context, cert domain.CertificateType, side domain.OrderSide, amount decimal.Decimal, allOrNone bool) (domain.OrderPreview, error)
	Execute(ctx context.Context, userID string, p service.ExecuteParams) (*domain.ExecutionOutcome, error)
	GetExecution(ctx context.Context, id, userID string) (*domain.ExecutionOutcome, error)
	ListExecutions(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Execution, error)
}

// TradingHandler serves the market-order preview and execution
// endpoints.
type TradingHandler struct {
	trading TradingService
	logger  *slog.Logger
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(trading TradingService, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{
		trading: trading,
		logger:  logger,
	}
}

// Preview quotes a market order against the live book without
// committing anything. side=buy reads amount as an EUR budget,
// side=sell as a certificate quantity.
// GET /api/cash-market/preview?certificate_type=&side=&amount=&all_or_none=
func (h *TradingHandler) Preview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	cert, err := domain.ParseCertificateType(q.Get("certificate_type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	side, err := domain.ParseOrderSide(q.Get("side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	amount, err := parseDecimalField(q.Get("amount"), "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	allOrNone := q.Get("all_or_none") == "true"

	preview, err := h.trading.Preview(r.Context(), cert, side, amount, allOrNone)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to compute preview")
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

type executeRequest struct {
	Certificate string          `json:"certificate_type"`
	Side        string          `json:"side"`
	Amount      decimal.Decimal `json:"amount"`
	AllOrNone   bool            `json:"all_or_none"`
}

// executeResponse is the settlement report sent back to the client.
// The preview the client displayed is a prediction; these numbers are
// what actually settled.
type executeResponse struct {
	Success            bool                   `json:"success"`
	OrderID            string                 `json:"order_id"`
	Status             domain.ExecutionStatus `json:"status"`
	TotalQuantity      decimal.Decimal        `json:"total_quantity"`
	TotalCostGross     decimal.Decimal        `json:"total_cost_gross"`
	TotalCostNet       decimal.Decimal        `json:"total_cost_net"`
	WeightedAvgPrice   decimal.Decimal        `json:"weighted_avg_price"`
	FeeAmount          decimal.Decimal        `json:"platform_fee_amount"`
	EURBalance         decimal.Decimal        `json:"eur_balance"`
	CertificateBalance decimal.Decimal        `json:"certificate_balance"`
	PartialFill        bool                   `json:"partial_fill"`
	Trades             []domain.Trade         `json:"trades"`
	Message            string                 `json:"message,omitempty"`
	Replayed           bool                   `json:"replayed,omitempty"`
}

// Execute submits a market order. A rejected order (no liquidity, no
// balance) is a 400 with success=false, not a 5xx; the client shows
// the message and returns to the preview.
// POST /api/cash-market/execute
func (h *TradingHandler) Execute(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req executeRequest
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

	outcome, err := h.trading.Execute(r.Context(), p.UserID, service.ExecuteParams{
		Certificate:    cert,
		Side:           side,
		Amount:         req.Amount,
		AllOrNone:      req.AllOrNone,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "execution failed")
		return
	}

	status := http.StatusOK
	if outcome.Execution.Status == domain.ExecutionStatusRejected {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, outcomeResponse(outcome))
}

// outcomeResponse flattens an execution outcome into the wire shape.
func outcomeResponse(o *domain.ExecutionOutcome) executeResponse {
	trades := o.Trades
	if trades == nil {
		trades = []domain.Trade{}
	}
	return executeResponse{
		Success:            o.Execution.Status != domain.ExecutionStatusRejected,
		OrderID:            o.Execution.ID,
		Status:             o.Execution.Status,
		TotalQuantity:      o.Execution.TotalQuantity,
		TotalCostGross:     o.Execution.TotalCostGross,
		TotalCostNet:       o.Execution.TotalCostNet,
		WeightedAvgPrice:   o.Execution.WeightedAvgPrice,
		FeeAmount:          o.Execution.FeeAmount,
		EURBalance:         o.EURBalance,
		CertificateBalance: o.CertificateBalance,
		PartialFill:        o.Execution.PartialFill,
		Trades:             trades,
		Message:            o.Execution.Message,
		Replayed:           o.Replayed,
	}
}

// GetExecution returns one of the caller's executions with its fills
// and post-settlement balances.
// GET /api/account/executions/{orderID}
func (h *TradingHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	id := pathParam(r, "orderID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	outcome, err := h.trading.GetExecution(r.Context(), id, p.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load execution")
		return
	}

	writeJSON(w, http.StatusOK, outcomeResponse(outcome))
}

type executionsResponse struct {
	Executions []domain.Execution `json:"executions"`
}

// ListExecutions returns the caller's execution history, newest first.
// GET /api/account/executions
func (h *TradingHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	execs, err := h.trading.ListExecutions(r.Context(), p.UserID, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list executions")
		return
	}

	if execs == nil {
		execs = []domain.Execution{}
	}
	writeJSON(w, http.StatusOK, executionsResponse{Executions: execs})
}
