package domain

import "github.com/shopspring/decimal"

// Fill is one slice of a previewed or executed market order: the part
// taken from a single price level.
type Fill struct {
	SellerCode string          `json:"seller_code,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Cost       decimal.Decimal `json:"cost"` // price * quantity
}

// OrderPreview is the complete cost breakdown of a hypothetical market
// order against a book snapshot. The same structure is recomputed
// against locked rows at execution time; clients never submit their
// own numbers.
type OrderPreview struct {
	Certificate      CertificateType `json:"certificate_type"`
	Side             OrderSide       `json:"side"`
	Amount           decimal.Decimal `json:"amount"` // EUR budget (buy) or quantity (sell)
	Fills            []Fill          `json:"fills"`
	TotalQuantity    decimal.Decimal `json:"total_quantity"`
	TotalCostGross   decimal.Decimal `json:"total_cost_gross"` // buy: full EUR outlay incl. fee; sell: proceeds before fee
	WeightedAvgPrice decimal.Decimal `json:"weighted_avg_price"` // TotalCostGross / TotalQuantity
	FeeRate          decimal.Decimal `json:"platform_fee_rate"`
	FeeAmount        decimal.Decimal `json:"platform_fee_amount"`
	TotalCostNet     decimal.Decimal `json:"total_cost_net"` // buy: fill costs net of fee; sell: proceeds after fee
	NetPricePerUnit  decimal.Decimal `json:"net_price_per_unit"` // TotalCostNet / TotalQuantity
	PartialFill      bool            `json:"partial_fill"`
	CanExecute       bool            `json:"can_execute"`
	Message          string          `json:"execution_message,omitempty"`
}

// PreviewFunc computes a preview from aggregated opposite-side levels.
// The execution path passes the levels it has locked; the quote path
// passes the cached snapshot. Both must be bound to the same
// calculator so the numbers cannot drift apart.
type PreviewFunc func(levels []PriceLevel) OrderPreview
