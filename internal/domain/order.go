package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// ParseOrderSide validates a client-supplied side string.
func ParseOrderSide(s string) (OrderSide, error) {
	switch OrderSide(s) {
	case OrderSideBuy:
		return OrderSideBuy, nil
	case OrderSideSell:
		return OrderSideSell, nil
	}
	return "", ErrInvalidOrder
}

// Opposite returns the side a taker order consumes liquidity from.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus tracks the resting order lifecycle.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a resting limit order on the cash-market board. Resting
// orders never cross each other; they are the liquidity consumed by
// market executions.
type Order struct {
	ID          string          `json:"id"`
	UserID      string          `json:"-"`
	SellerCode  string          `json:"seller_code"` // anonymised owner handle shown in the book
	Certificate CertificateType `json:"certificate_type"`
	Side        OrderSide       `json:"side"`
	Price       decimal.Decimal `json:"price"`    // EUR per tonne
	Quantity    decimal.Decimal `json:"quantity"` // tonnes, original size
	Remaining   decimal.Decimal `json:"remaining"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	FilledAt    *time.Time      `json:"filled_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
}

// Notional returns the EUR value of the remaining quantity.
func (o Order) Notional() decimal.Decimal {
	return o.Price.Mul(o.Remaining)
}

// ReservedAsset returns the asset a resting order holds in reserve:
// EUR for bids, certificates for asks.
func (o Order) ReservedAsset() Asset {
	if o.Side == OrderSideBuy {
		return AssetEUR
	}
	return o.Certificate.Asset()
}

// ReservedAmount returns how much of ReservedAsset the remaining
// quantity keeps locked.
func (o Order) ReservedAmount() decimal.Decimal {
	if o.Side == OrderSideBuy {
		return o.Price.Mul(o.Remaining)
	}
	return o.Remaining
}

// ValidateAgainst checks price and quantity against the instrument's
// tick and lot step. Both must be positive exact multiples.
func (o Order) ValidateAgainst(inst Instrument) error {
	if !o.Certificate.Valid() || o.Certificate != inst.Certificate {
		return ErrInvalidOrder
	}
	if !o.Price.IsPositive() || !o.Quantity.IsPositive() {
		return ErrInvalidOrder
	}
	if !o.Price.Mod(inst.PriceTick).IsZero() {
		return ErrInvalidOrder
	}
	if !o.Quantity.Mod(inst.LotStep).IsZero() {
		return ErrInvalidOrder
	}
	return nil
}
