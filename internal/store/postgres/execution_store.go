package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
)

// msgInsufficientFunds is reported when the recomputed preview clears
// the book but the taker's available balance cannot cover it.
const msgInsufficientFunds = "Insufficient funds"

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
// Apply runs the whole settlement in one transaction: taker balances
// and the opposite side of the book are locked, the preview is
// recomputed against exactly those rows, and every fill settles
// against them before commit.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given connection pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Apply executes a market order request. Rejections (no liquidity, no
// funds) are persisted as rejected executions and returned in the
// outcome rather than as errors. A request whose idempotency key was
// already recorded returns the stored outcome with Replayed set.
func (s *ExecutionStore) Apply(ctx context.Context, req domain.ExecutionRequest, preview domain.PreviewFunc) (*domain.ExecutionOutcome, error) {
	certAsset := req.Certificate.Asset()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin execution: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Taker balance locks come first; both rows change on settlement.
	if err := ensureBalance(ctx, tx, req.UserID, domain.AssetEUR); err != nil {
		return nil, err
	}
	if err := ensureBalance(ctx, tx, req.UserID, certAsset); err != nil {
		return nil, err
	}
	eurAmt, eurRes, err := lockBalance(ctx, tx, req.UserID, domain.AssetEUR)
	if err != nil {
		return nil, err
	}
	certAmt, certRes, err := lockBalance(ctx, tx, req.UserID, certAsset)
	if err != nil {
		return nil, err
	}

	makers, err := lockOpenOrders(ctx, tx, req.Certificate, req.Side.Opposite())
	if err != nil {
		return nil, err
	}
	pv := preview(aggregateLevels(makers, req.Side))

	exec := executionFromPreview(req, pv)
	if exec.Status != domain.ExecutionStatusRejected {
		available, needed := certAmt.Sub(certRes), pv.TotalQuantity
		if req.Side == domain.OrderSideBuy {
			available, needed = eurAmt.Sub(eurRes), pv.TotalCostGross
		}
		if available.LessThan(needed) {
			exec.Status = domain.ExecutionStatusRejected
			exec.Message = msgInsufficientFunds
		}
	}

	// The execution row goes in before any settlement so the
	// idempotency index aborts a replayed request with no side effects.
	if err := insertExecution(ctx, tx, exec); err != nil {
		if isUniqueViolation(err, "idx_executions_idempotency") {
			_ = tx.Rollback(ctx)
			return s.replayOutcome(ctx, req)
		}
		return nil, err
	}

	outcome := &domain.ExecutionOutcome{Execution: exec}

	if exec.Status != domain.ExecutionStatusRejected {
		trades, err := settleFills(ctx, tx, exec, pv, makers)
		if err != nil {
			return nil, err
		}
		outcome.Trades = trades

		// Taker settlement: buys debit gross EUR and credit
		// certificates, sells debit certificates and credit net EUR.
		if req.Side == domain.OrderSideBuy {
			if err := addBalance(ctx, tx, req.UserID, domain.AssetEUR, pv.TotalCostGross.Neg(), decimal.Zero); err != nil {
				return nil, err
			}
			if err := addBalance(ctx, tx, req.UserID, certAsset, pv.TotalQuantity, decimal.Zero); err != nil {
				return nil, err
			}
		} else {
			if err := addBalance(ctx, tx, req.UserID, certAsset, pv.TotalQuantity.Neg(), decimal.Zero); err != nil {
				return nil, err
			}
			if err := addBalance(ctx, tx, req.UserID, domain.AssetEUR, pv.TotalCostNet, decimal.Zero); err != nil {
				return nil, err
			}
		}
	}

	if outcome.EURBalance, err = readAmount(ctx, tx, req.UserID, domain.AssetEUR); err != nil {
		return nil, err
	}
	if outcome.CertificateBalance, err = readAmount(ctx, tx, req.UserID, certAsset); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit execution: %w", err)
	}
	return outcome, nil
}

// lockOpenOrders takes FOR UPDATE locks on every open order forming
// one side of the book, in the order a taker consumes them: asks
// cheapest first, bids richest first, oldest first within a price.
func lockOpenOrders(ctx context.Context, tx pgx.Tx, cert domain.CertificateType, side domain.OrderSide) ([]domain.Order, error) {
	dir := "ASC"
	if side == domain.OrderSideBuy {
		dir = "DESC"
	}

	rows, err := tx.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE certificate = $1 AND side = $2 AND status = 'open' AND remaining > 0
		 ORDER BY price `+dir+`, created_at ASC
		 FOR UPDATE`,
		string(cert), string(side))
	if err != nil {
		return nil, fmt.Errorf("postgres: lock open orders: %w", err)
	}
	defer rows.Close()

	makers, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan locked orders: %w", err)
	}
	return makers, nil
}

// aggregateLevels folds locked orders into seller-granular price
// levels: one level per (seller, price) pair, ordered the same way the
// live book orders them so the recomputed preview matches the quoted
// one level for level.
func aggregateLevels(makers []domain.Order, takerSide domain.OrderSide) []domain.PriceLevel {
	type key struct {
		seller string
		price  string
	}
	idx := make(map[key]int, len(makers))
	var levels []domain.PriceLevel

	for _, o := range makers {
		k := key{o.SellerCode, o.Price.String()}
		if i, ok := idx[k]; ok {
			levels[i].Quantity = levels[i].Quantity.Add(o.Remaining)
			continue
		}
		idx[k] = len(levels)
		levels = append(levels, domain.PriceLevel{
			SellerCode: o.SellerCode,
			Price:      o.Price,
			Quantity:   o.Remaining,
		})
	}

	asc := takerSide == domain.OrderSideBuy
	sort.Slice(levels, func(i, j int) bool {
		if c := levels[i].Price.Cmp(levels[j].Price); c != 0 {
			if asc {
				return c < 0
			}
			return c > 0
		}
		return levels[i].SellerCode < levels[j].SellerCode
	})
	return levels
}

// executionFromPreview freezes a recomputed preview into the persisted
// execution record.
func executionFromPreview(req domain.ExecutionRequest, pv domain.OrderPreview) domain.Execution {
	status := domain.ExecutionStatusFilled
	switch {
	case !pv.CanExecute:
		status = domain.ExecutionStatusRejected
	case pv.PartialFill:
		status = domain.ExecutionStatusPartial
	}

	return domain.Execution{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Certificate:      req.Certificate,
		Side:             req.Side,
		Amount:           req.Amount,
		AllOrNone:        req.AllOrNone,
		TotalQuantity:    pv.TotalQuantity,
		TotalCostGross:   pv.TotalCostGross,
		FeeRate:          pv.FeeRate,
		FeeAmount:        pv.FeeAmount,
		TotalCostNet:     pv.TotalCostNet,
		WeightedAvgPrice: pv.WeightedAvgPrice,
		PartialFill:      pv.PartialFill,
		Status:           status,
		Message:          pv.Message,
		IdempotencyKey:   req.IdempotencyKey,
		CreatedAt:        time.Now().UTC(),
	}
}

// settleFills consumes locked maker orders fill by fill, oldest first
// within a level, recording one trade per consumed order slice and
// moving the maker side of every settlement. Makers pay no fee: the
// resting seller receives the full cost, the resting buyer the full
// quantity.
func settleFills(ctx context.Context, tx pgx.Tx, exec domain.Execution, pv domain.OrderPreview, makers []domain.Order) ([]domain.Trade, error) {
	trades := make([]domain.Trade, 0, len(pv.Fills))
	now := exec.CreatedAt

	for _, fill := range pv.Fills {
		remaining := fill.Quantity

		for i := range makers {
			if !remaining.IsPositive() {
				break
			}
			m := &makers[i]
			if m.SellerCode != fill.SellerCode || !m.Price.Equal(fill.Price) || !m.Remaining.IsPositive() {
				continue
			}

			take := decimal.Min(remaining, m.Remaining)
			cost := take.Mul(m.Price)

			if err := consumeOrder(ctx, tx, m, take, now); err != nil {
				return nil, err
			}

			if exec.Side == domain.OrderSideBuy {
				if err := addBalance(ctx, tx, m.UserID, m.Certificate.Asset(), take.Neg(), take.Neg()); err != nil {
					return nil, err
				}
				if err := addBalance(ctx, tx, m.UserID, domain.AssetEUR, cost, decimal.Zero); err != nil {
					return nil, err
				}
			} else {
				if err := addBalance(ctx, tx, m.UserID, domain.AssetEUR, cost.Neg(), cost.Neg()); err != nil {
					return nil, err
				}
				if err := addBalance(ctx, tx, m.UserID, m.Certificate.Asset(), take, decimal.Zero); err != nil {
					return nil, err
				}
			}

			t := domain.Trade{
				ID:          uuid.NewString(),
				ExecutionID: exec.ID,
				OrderID:     m.ID,
				Certificate: m.Certificate,
				SellerCode:  m.SellerCode,
				TakerSide:   exec.Side,
				Price:       m.Price,
				Quantity:    take,
				Cost:        cost,
				CreatedAt:   now,
			}
			if exec.Side == domain.OrderSideBuy {
				t.BuyerID, t.SellerID = exec.UserID, m.UserID
			} else {
				t.BuyerID, t.SellerID = m.UserID, exec.UserID
			}

			if err := insertTrade(ctx, tx, t, len(trades)); err != nil {
				return nil, err
			}
			trades = append(trades, t)

			remaining = remaining.Sub(take)
		}

		if remaining.IsPositive() {
			return nil, fmt.Errorf("postgres: fill %s@%s not covered by locked orders",
				fill.Quantity, fill.Price)
		}
	}
	return trades, nil
}

// consumeOrder reduces a locked maker order's remaining quantity,
// closing it when fully consumed.
func consumeOrder(ctx context.Context, tx pgx.Tx, o *domain.Order, take decimal.Decimal, now time.Time) error {
	o.Remaining = o.Remaining.Sub(take)
	o.UpdatedAt = now

	if !o.Remaining.IsPositive() {
		o.Status = domain.OrderStatusFilled
		o.FilledAt = &now
		if _, err := tx.Exec(ctx,
			`UPDATE orders SET remaining = 0, status = 'filled', filled_at = $2, updated_at = $2
			 WHERE id = $1`,
			o.ID, now,
		); err != nil {
			return fmt.Errorf("postgres: close order %s: %w", o.ID, err)
		}
		return nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE orders SET remaining = $2::numeric, updated_at = $3 WHERE id = $1`,
		o.ID, o.Remaining.String(), now,
	); err != nil {
		return fmt.Errorf("postgres: reduce order %s: %w", o.ID, err)
	}
	return nil
}

func insertExecution(ctx context.Context, tx pgx.Tx, e domain.Execution) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO executions (
			id, user_id, certificate, side, amount, all_or_none,
			total_quantity, total_cost_gross, fee_rate, fee_amount,
			total_cost_net, weighted_avg_price, partial_fill,
			status, message, idempotency_key, created_at
		) VALUES (
			$1, $2, $3, $4, $5::numeric, $6,
			$7::numeric, $8::numeric, $9::numeric, $10::numeric,
			$11::numeric, $12::numeric, $13,
			$14, $15, $16, $17
		)`,
		e.ID, e.UserID, string(e.Certificate), string(e.Side), e.Amount.String(), e.AllOrNone,
		e.TotalQuantity.String(), e.TotalCostGross.String(), e.FeeRate.String(), e.FeeAmount.String(),
		e.TotalCostNet.String(), e.WeightedAvgPrice.String(), e.PartialFill,
		string(e.Status), e.Message, e.IdempotencyKey, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", e.ID, err)
	}
	return nil
}

func insertTrade(ctx context.Context, tx pgx.Tx, t domain.Trade, fillIdx int) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO trades (
			id, execution_id, order_id, certificate, buyer_id, seller_id,
			seller_code, taker_side, fill_idx, price, quantity, cost, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10::numeric, $11::numeric, $12::numeric, $13
		)`,
		t.ID, t.ExecutionID, t.OrderID, string(t.Certificate), t.BuyerID, t.SellerID,
		t.SellerCode, string(t.TakerSide), fillIdx,
		t.Price.String(), t.Quantity.String(), t.Cost.String(), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// readAmount returns the amount column of one balance row, zero when
// the row does not exist.
func readAmount(ctx context.Context, tx pgx.Tx, userID string, asset domain.Asset) (decimal.Decimal, error) {
	var raw string
	err := tx.QueryRow(ctx,
		`SELECT amount::text FROM balances WHERE user_id = $1 AND asset = $2`,
		userID, string(asset),
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Decimal{}, fmt.Errorf("postgres: read balance %s/%s: %w", userID, asset, err)
	}
	return parseDec("amount", raw)
}

// replayOutcome serves a request whose idempotency key already
// recorded an execution.
func (s *ExecutionStore) replayOutcome(ctx context.Context, req domain.ExecutionRequest) (*domain.ExecutionOutcome, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM executions WHERE user_id = $1 AND idempotency_key = $2`,
		req.UserID, req.IdempotencyKey,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("postgres: find replayed execution: %w", err)
	}

	out, err := s.GetOutcome(ctx, id, req.UserID)
	if err != nil {
		return nil, err
	}
	out.Replayed = true
	return out, nil
}

const executionSelectCols = `id, user_id, certificate, side, amount::text, all_or_none,
	total_quantity::text, total_cost_gross::text, fee_rate::text, fee_amount::text,
	total_cost_net::text, weighted_avg_price::text, partial_fill,
	status, message, idempotency_key, created_at`

func scanExecutionFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Execution, error) {
	var e domain.Execution
	var cert, side, status string
	var amount, qty, gross, feeRate, feeAmt, net, wavg string

	err := scanner.Scan(
		&e.ID, &e.UserID, &cert, &side, &amount, &e.AllOrNone,
		&qty, &gross, &feeRate, &feeAmt,
		&net, &wavg, &e.PartialFill,
		&status, &e.Message, &e.IdempotencyKey, &e.CreatedAt,
	)
	if err != nil {
		return domain.Execution{}, err
	}

	e.Certificate = domain.CertificateType(cert)
	e.Side = domain.OrderSide(side)
	e.Status = domain.ExecutionStatus(status)

	for _, c := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"amount", amount, &e.Amount},
		{"total_quantity", qty, &e.TotalQuantity},
		{"total_cost_gross", gross, &e.TotalCostGross},
		{"fee_rate", feeRate, &e.FeeRate},
		{"fee_amount", feeAmt, &e.FeeAmount},
		{"total_cost_net", net, &e.TotalCostNet},
		{"weighted_avg_price", wavg, &e.WeightedAvgPrice},
	} {
		d, err := parseDec(c.name, c.raw)
		if err != nil {
			return domain.Execution{}, err
		}
		*c.dst = d
	}
	return e, nil
}

// GetByID retrieves a single execution by ID.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionSelectCols+` FROM executions WHERE id = $1`, id)

	e, err := scanExecutionFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Execution{}, domain.ErrNotFound
		}
		return domain.Execution{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return e, nil
}

// GetOutcome reassembles the full outcome of a stored execution owned
// by userID: the record, its trades in fill order and the owner's
// current balances.
func (s *ExecutionStore) GetOutcome(ctx context.Context, id, userID string) (*domain.ExecutionOutcome, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionSelectCols+` FROM executions WHERE id = $1 AND user_id = $2`,
		id, userID)

	e, err := scanExecutionFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE execution_id = $1 ORDER BY fill_idx ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: list execution trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan execution trades: %w", err)
	}

	outcome := &domain.ExecutionOutcome{Execution: e, Trades: trades}

	for _, bal := range []struct {
		asset domain.Asset
		dst   *decimal.Decimal
	}{
		{domain.AssetEUR, &outcome.EURBalance},
		{e.Certificate.Asset(), &outcome.CertificateBalance},
	} {
		var raw string
		err := s.pool.QueryRow(ctx,
			`SELECT amount::text FROM balances WHERE user_id = $1 AND asset = $2`,
			userID, string(bal.asset),
		).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("postgres: read balance: %w", err)
		}
		if *bal.dst, err = parseDec("amount", raw); err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

// ListByUser returns a user's executions, newest first.
func (s *ExecutionStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Execution, error) {
	query := `SELECT ` + executionSelectCols + ` FROM executions WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var execs []domain.Execution
	for rows.Next() {
		e, err := scanExecutionFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}
