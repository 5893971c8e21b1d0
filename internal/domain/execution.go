package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionStatus records how a market order request ended.
type ExecutionStatus string

const (
	ExecutionStatusFilled   ExecutionStatus = "filled"
	ExecutionStatusPartial  ExecutionStatus = "partial"
	ExecutionStatusRejected ExecutionStatus = "rejected"
)

// Execution is the persisted record of one market order request,
// successful or not. Its ID is the order_id returned to the client.
type Execution struct {
	ID               string          `json:"order_id"`
	UserID           string          `json:"-"`
	Certificate      CertificateType `json:"certificate_type"`
	Side             OrderSide       `json:"side"`
	Amount           decimal.Decimal `json:"amount"` // requested budget (buy) or quantity (sell)
	AllOrNone        bool            `json:"all_or_none"`
	TotalQuantity    decimal.Decimal `json:"total_quantity"`
	TotalCostGross   decimal.Decimal `json:"total_cost_gross"` // buy: EUR debited; sell: proceeds before fee
	FeeRate          decimal.Decimal `json:"platform_fee_rate"`
	FeeAmount        decimal.Decimal `json:"platform_fee_amount"`
	TotalCostNet     decimal.Decimal `json:"total_cost_net"` // buy: fill costs net of fee; sell: EUR credited
	WeightedAvgPrice decimal.Decimal `json:"weighted_avg_price"`
	PartialFill      bool            `json:"partial_fill"`
	Status           ExecutionStatus `json:"status"`
	Message          string          `json:"message,omitempty"`
	IdempotencyKey   string          `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ExecutionRequest is a validated market order ready to run against
// the book inside one database transaction.
type ExecutionRequest struct {
	UserID         string
	Certificate    CertificateType
	Side           OrderSide
	Amount         decimal.Decimal // EUR budget (buy) or certificate quantity (sell)
	AllOrNone      bool
	FeeRate        decimal.Decimal
	LotStep        decimal.Decimal
	IdempotencyKey string
}

// ExecutionOutcome bundles everything the execute endpoint reports
// back: the stored execution, the trades it produced and the caller's
// post-trade balances.
type ExecutionOutcome struct {
	Execution          Execution       `json:"execution"`
	Trades             []Trade         `json:"trades"`
	EURBalance         decimal.Decimal `json:"eur_balance"`
	CertificateBalance decimal.Decimal `json:"certificate_balance"`
	Replayed           bool            `json:"-"` // true when served from an idempotency record
}
