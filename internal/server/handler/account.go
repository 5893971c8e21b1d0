package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/carbex/carbex/internal/domain"
)

// AccountService defines the self-service account methods the handler
// requires from the service layer.
type AccountService interface {
	Balances(ctx context.Context, userID string) ([]domain.Balance, error)
}

// TradeHistory lists the caller's side of the tape.
type TradeHistory interface {
	UserTrades(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error)
}

// AccountHandler serves the authenticated account endpoints.
type AccountHandler struct {
	users  AccountService
	trades TradeHistory
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(users AccountService, trades TradeHistory, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		users:  users,
		trades: trades,
		logger: logger,
	}
}

type balancesResponse struct {
	Balances []domain.Balance `json:"balances"`
}

// Balances returns the caller's EUR and certificate balances, zero
// rows included.
// GET /api/account/balances
func (h *AccountHandler) Balances(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	balances, err := h.users.Balances(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load balances")
		return
	}

	writeJSON(w, http.StatusOK, balancesResponse{Balances: balances})
}

// Trades returns the caller's trade history, newest first.
// GET /api/account/trades
func (h *AccountHandler) Trades(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	trades, err := h.trades.UserTrades(r.Context(), p.UserID, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load trades")
		return
	}

	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, tapeResponse{Trades: trades})
}
