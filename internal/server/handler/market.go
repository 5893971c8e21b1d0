package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/service"
)

// MarketService defines the public market-data methods the handler
// requires from the service layer.
type MarketService interface {
	Snapshot(ctx context.Context, cert domain.CertificateType) (domain.OrderBookSnapshot, error)
	Tape(ctx context.Context, cert domain.CertificateType, opts domain.ListOpts) ([]domain.Trade, error)
	ReferencePrices(ctx context.Context) ([]service.ReferenceBoard, error)
}

// MarketHandler serves the public market-data endpoints the trading
// screens poll.
type MarketHandler struct {
	market MarketService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(market MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		market: market,
		logger: logger,
	}
}

// OrderBook returns the current book snapshot for one certificate.
// GET /api/cash-market/order-book/{certificateType}
func (h *MarketHandler) OrderBook(w http.ResponseWriter, r *http.Request) {
	cert, err := domain.ParseCertificateType(pathParam(r, "certificateType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.market.Snapshot(r.Context(), cert)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load order book")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

type tapeResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// Trades returns the public tape for one certificate, newest first.
// GET /api/cash-market/trades/{certificateType}
func (h *MarketHandler) Trades(w http.ResponseWriter, r *http.Request) {
	cert, err := domain.ParseCertificateType(pathParam(r, "certificateType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trades, err := h.market.Tape(r.Context(), cert, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load trades")
		return
	}

	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, tapeResponse{Trades: trades})
}

// ReferencePrices returns the latest scraped price per source plus a
// composite per certificate.
// GET /api/market/reference-prices
func (h *MarketHandler) ReferencePrices(w http.ResponseWriter, r *http.Request) {
	boards, err := h.market.ReferencePrices(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load reference prices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"prices": boards})
}
