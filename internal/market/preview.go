// Package market implements the cash-market order book and the
// preview calculator. The calculator is the single implementation of
// the fee and fill arithmetic: the quote endpoint runs it against the
// cached book, the execution path runs it against locked rows.
package market

import (
	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
)

// Budget dust below this threshold ends a buy walk; one millionth of
// a euro cannot buy anything at any price on the board.
var epsilon = decimal.New(1, -6)

// Messages surfaced to the client when a preview cannot execute.
const (
	MsgNoBalance   = "No balance available"
	MsgNoLiquidity = "Insufficient liquidity to fill order"
)

// BuyParams bounds a buy-side walk.
type BuyParams struct {
	Certificate domain.CertificateType
	Budget      decimal.Decimal // gross EUR budget, fee comes out of it
	FeeRate     decimal.Decimal
	LotStep     decimal.Decimal
	AllOrNone   bool
}

// SellParams bounds a sell-side walk.
type SellParams struct {
	Certificate domain.CertificateType
	Quantity    decimal.Decimal // certificates offered
	FeeRate     decimal.Decimal
	LotStep     decimal.Decimal
	AllOrNone   bool
}

// ComputeBuyPreview walks ask levels in ascending price order and
// spends the fee-adjusted budget greedily. Pure function: no clocks,
// no stores, identical inputs give identical output.
//
// Fee semantics: the fee is deducted from the budget, so purchasing
// power is budget*(1-feeRate). The charged fee scales with what was
// actually spent; on a full spend TotalCostGross equals the budget
// exactly.
func ComputeBuyPreview(levels []domain.PriceLevel, p BuyParams) domain.OrderPreview {
	prev := domain.OrderPreview{
		Certificate: p.Certificate,
		Side:        domain.OrderSideBuy,
		Amount:      p.Budget,
		FeeRate:     p.FeeRate,
	}
	if !p.Budget.IsPositive() {
		prev.Message = MsgNoBalance
		return prev
	}

	netBudget := p.Budget.Sub(p.Budget.Mul(p.FeeRate))
	remaining := netBudget
	exhausted := true // flips when liquidity is left behind

	for _, lvl := range levels {
		if !lvl.Price.IsPositive() || !lvl.Quantity.IsPositive() {
			continue
		}
		if remaining.LessThanOrEqual(epsilon) {
			exhausted = false
			break
		}
		affordable := floorToStep(remaining.Div(lvl.Price), p.LotStep)
		take := decimal.Min(lvl.Quantity, affordable)
		if !take.IsPositive() {
			// Cannot afford one lot here; deeper levels only cost more.
			exhausted = false
			break
		}
		cost := take.Mul(lvl.Price)
		prev.Fills = append(prev.Fills, domain.Fill{
			SellerCode: lvl.SellerCode,
			Price:      lvl.Price,
			Quantity:   take,
			Cost:       cost,
		})
		prev.TotalQuantity = prev.TotalQuantity.Add(take)
		prev.TotalCostNet = prev.TotalCostNet.Add(cost)
		remaining = remaining.Sub(cost)
		if take.LessThan(lvl.Quantity) {
			exhausted = false
			break
		}
	}

	prev.PartialFill = exhausted && remaining.GreaterThan(epsilon)
	if prev.TotalQuantity.IsPositive() {
		// fee = spent * r/(1-r): equals budget*r when the budget is
		// fully consumed, proportionally less on a partial fill.
		oneMinus := decimal.NewFromInt(1).Sub(p.FeeRate)
		prev.FeeAmount = prev.TotalCostNet.Mul(p.FeeRate).Div(oneMinus)
		prev.TotalCostGross = prev.TotalCostNet.Add(prev.FeeAmount)
		prev.WeightedAvgPrice = prev.TotalCostGross.Div(prev.TotalQuantity)
		prev.NetPricePerUnit = prev.TotalCostNet.Div(prev.TotalQuantity)
	}

	switch {
	case prev.TotalQuantity.IsZero():
		prev.Message = MsgNoLiquidity
	case p.AllOrNone && prev.PartialFill:
		prev.Message = MsgNoLiquidity
	default:
		prev.CanExecute = true
	}
	return prev
}

// ComputeSellPreview walks bid levels in descending price order until
// the offered quantity is placed. The fee is withheld from the gross
// proceeds.
func ComputeSellPreview(levels []domain.PriceLevel, p SellParams) domain.OrderPreview {
	prev := domain.OrderPreview{
		Certificate: p.Certificate,
		Side:        domain.OrderSideSell,
		Amount:      p.Quantity,
		FeeRate:     p.FeeRate,
	}
	offered := floorToStep(p.Quantity, p.LotStep)
	if !offered.IsPositive() {
		prev.Message = MsgNoBalance
		return prev
	}

	remaining := offered
	for _, lvl := range levels {
		if !lvl.Price.IsPositive() || !lvl.Quantity.IsPositive() {
			continue
		}
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(lvl.Quantity, remaining)
		proceeds := take.Mul(lvl.Price)
		prev.Fills = append(prev.Fills, domain.Fill{
			SellerCode: lvl.SellerCode,
			Price:      lvl.Price,
			Quantity:   take,
			Cost:       proceeds,
		})
		prev.TotalQuantity = prev.TotalQuantity.Add(take)
		prev.TotalCostGross = prev.TotalCostGross.Add(proceeds)
		remaining = remaining.Sub(take)
	}

	prev.PartialFill = remaining.IsPositive()
	if prev.TotalQuantity.IsPositive() {
		prev.FeeAmount = prev.TotalCostGross.Mul(p.FeeRate)
		prev.TotalCostNet = prev.TotalCostGross.Sub(prev.FeeAmount)
		prev.WeightedAvgPrice = prev.TotalCostGross.Div(prev.TotalQuantity)
		prev.NetPricePerUnit = prev.TotalCostNet.Div(prev.TotalQuantity)
	}

	switch {
	case prev.TotalQuantity.IsZero():
		prev.Message = MsgNoLiquidity
	case p.AllOrNone && prev.PartialFill:
		prev.Message = MsgNoLiquidity
	default:
		prev.CanExecute = true
	}
	return prev
}

// floorToStep rounds q down to an exact multiple of step. A
// non-positive step disables flooring.
func floorToStep(q, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return q
	}
	return q.Div(step).Floor().Mul(step)
}
