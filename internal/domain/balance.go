package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is one user's holding in one asset. Reserved tracks the
// portion locked behind open resting orders; only Available funds can
// back new orders or executions.
type Balance struct {
	UserID    string          `json:"-"`
	Asset     Asset           `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Reserved  decimal.Decimal `json:"reserved"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Available returns the spendable portion of the balance.
func (b Balance) Available() decimal.Decimal {
	return b.Amount.Sub(b.Reserved)
}

// BalanceAdjustment records a manual credit or debit made by an
// administrator, typically after an off-platform bank transfer.
type BalanceAdjustment struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Asset     Asset           `json:"asset"`
	Delta     decimal.Decimal `json:"delta"` // positive credit, negative debit
	Reason    string          `json:"reason"`
	ActorID   string          `json:"actor_id"` // admin who made the change
	CreatedAt time.Time       `json:"created_at"`
}
