package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one entry on the board: a seller's open interest at a
// price. Orders from the same seller at the same price merge into one
// level; different sellers never merge, the board shows them as
// separate rows under their codes.
type PriceLevel struct {
	SellerCode string          `json:"seller_code,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// OrderBookSnapshot is a full view of one certificate's book plus the
// 24h statistics the market page renders. Bids are sorted descending,
// asks ascending.
type OrderBookSnapshot struct {
	Certificate CertificateType `json:"certificate_type"`
	Bids        []PriceLevel    `json:"bids"`
	Asks        []PriceLevel    `json:"asks"`
	BestBid     decimal.Decimal `json:"best_bid"`
	BestAsk     decimal.Decimal `json:"best_ask"`
	Spread      decimal.Decimal `json:"spread"`
	LastPrice   decimal.Decimal `json:"last_price"`
	Change24h   decimal.Decimal `json:"change_24h"` // percent vs 24h ago
	Volume24h   decimal.Decimal `json:"volume_24h"` // tonnes traded
	Timestamp   time.Time       `json:"timestamp"`
}

// Depth returns the total quantity resting on one side of the book.
func (s *OrderBookSnapshot) Depth(side OrderSide) decimal.Decimal {
	levels := s.Asks
	if side == OrderSideBuy {
		levels = s.Bids
	}
	total := decimal.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.Quantity)
	}
	return total
}

// MarketStats is the trade-derived slice of the snapshot, computed
// from the tape independently of the resting book.
type MarketStats struct {
	Certificate CertificateType `json:"certificate_type"`
	LastPrice   decimal.Decimal `json:"last_price"`
	Change24h   decimal.Decimal `json:"change_24h"`
	Volume24h   decimal.Decimal `json:"volume_24h"`
	VWAP24h     decimal.Decimal `json:"vwap_24h"`
	TradeCount  int64           `json:"trade_count"`
}
