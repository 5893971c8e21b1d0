package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one fill between a market execution (taker) and a resting
// order (maker). The tape exposes only seller codes, never identities.
type Trade struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"order_id"`
	OrderID     string          `json:"-"` // resting order consumed
	Certificate CertificateType `json:"certificate_type"`
	BuyerID     string          `json:"-"`
	SellerID    string          `json:"-"`
	SellerCode  string          `json:"seller_code"`
	TakerSide   OrderSide       `json:"taker_side"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Cost        decimal.Decimal `json:"cost"` // price * quantity, EUR
	CreatedAt   time.Time       `json:"created_at"`
}
