package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Trades are
// written inside ExecutionStore.Apply; this store only reads the tape.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, execution_id, order_id, certificate, buyer_id, seller_id,
	seller_code, taker_side, price::text, quantity::text, cost::text, created_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var cert, side string
		var price, quantity, cost string

		err := rows.Scan(
			&t.ID, &t.ExecutionID, &t.OrderID, &cert, &t.BuyerID, &t.SellerID,
			&t.SellerCode, &side, &price, &quantity, &cost, &t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		t.Certificate = domain.CertificateType(cert)
		t.TakerSide = domain.OrderSide(side)

		if t.Price, err = parseDec("price", price); err != nil {
			return nil, err
		}
		if t.Quantity, err = parseDec("quantity", quantity); err != nil {
			return nil, err
		}
		if t.Cost, err = parseDec("cost", cost); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListByCertificate returns the tape for one certificate, newest first.
func (s *TradeStore) ListByCertificate(ctx context.Context, cert domain.CertificateType, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE certificate = $1`
	args := []any{string(cert)}
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

	query += " ORDER BY created_at DESC, fill_idx DESC"

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
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListByUser returns trades where the user is buyer or seller, newest
// first.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE (buyer_id = $1 OR seller_id = $1)`
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

	query += " ORDER BY created_at DESC, fill_idx DESC"

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
		return nil, fmt.Errorf("postgres: list trades by user: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by user: %w", err)
	}
	return trades, nil
}

// Stats computes tape-derived market statistics for one certificate:
// last traded price, percentage change against the price at the window
// start, traded volume, VWAP and trade count since the given time.
func (s *TradeStore) Stats(ctx context.Context, cert domain.CertificateType, since time.Time) (domain.MarketStats, error) {
	stats := domain.MarketStats{Certificate: cert}

	last, err := s.PriceAt(ctx, cert, time.Now().UTC())
	if err != nil {
		return domain.MarketStats{}, err
	}
	stats.LastPrice = last

	var volume, turnover string
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(quantity), 0)::text, COALESCE(SUM(cost), 0)::text
		 FROM trades WHERE certificate = $1 AND created_at >= $2`,
		string(cert), since,
	).Scan(&stats.TradeCount, &volume, &turnover)
	if err != nil {
		return domain.MarketStats{}, fmt.Errorf("postgres: trade stats: %w", err)
	}

	if stats.Volume24h, err = parseDec("volume", volume); err != nil {
		return domain.MarketStats{}, err
	}
	cost, err := parseDec("turnover", turnover)
	if err != nil {
		return domain.MarketStats{}, err
	}
	if stats.Volume24h.IsPositive() {
		stats.VWAP24h = cost.Div(stats.Volume24h)
	}

	prior, err := s.PriceAt(ctx, cert, since)
	if err != nil {
		return domain.MarketStats{}, err
	}
	if prior.IsPositive() && last.IsPositive() {
		stats.Change24h = last.Sub(prior).Div(prior).Mul(decimal.NewFromInt(100))
	}
	return stats, nil
}

// ListBefore returns all trades created strictly before the given
// time, oldest first, for archival export.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE created_at < $1 ORDER BY created_at ASC, fill_idx ASC`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteBefore prunes trades created strictly before the given time
// and returns the number of rows removed. Callers must have exported
// the rows first; the tape is the settlement record.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM trades WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PriceAt returns the last traded price at or before the given time,
// zero when the tape is empty that far back.
func (s *TradeStore) PriceAt(ctx context.Context, cert domain.CertificateType, at time.Time) (decimal.Decimal, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		`SELECT price::text FROM trades
		 WHERE certificate = $1 AND created_at <= $2
		 ORDER BY created_at DESC, fill_idx DESC LIMIT 1`,
		string(cert), at,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Decimal{}, fmt.Errorf("postgres: price at: %w", err)
	}
	return parseDec("price", raw)
}
