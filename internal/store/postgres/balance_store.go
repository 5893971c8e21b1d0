package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new BalanceStore backed by the given connection pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Get returns the stored balance, or a zero balance when the user
// holds nothing in the asset.
func (s *BalanceStore) Get(ctx context.Context, userID string, asset domain.Asset) (domain.Balance, error) {
	b := domain.Balance{UserID: userID, Asset: asset}

	var amount, reserved string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::text, reserved::text, updated_at
		 FROM balances WHERE user_id = $1 AND asset = $2`,
		userID, string(asset),
	).Scan(&amount, &reserved, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return b, nil
		}
		return domain.Balance{}, fmt.Errorf("postgres: get balance %s/%s: %w", userID, asset, err)
	}

	if b.Amount, err = parseDec("amount", amount); err != nil {
		return domain.Balance{}, err
	}
	if b.Reserved, err = parseDec("reserved", reserved); err != nil {
		return domain.Balance{}, err
	}
	return b, nil
}

// ListByUser returns every balance row the user holds.
func (s *BalanceStore) ListByUser(ctx context.Context, userID string) ([]domain.Balance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset, amount::text, reserved::text, updated_at
		 FROM balances WHERE user_id = $1 ORDER BY asset`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances: %w", err)
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		b := domain.Balance{UserID: userID}
		var asset, amount, reserved string

		if err := rows.Scan(&asset, &amount, &reserved, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		b.Asset = domain.Asset(asset)
		if b.Amount, err = parseDec("amount", amount); err != nil {
			return nil, err
		}
		if b.Reserved, err = parseDec("reserved", reserved); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// Adjust applies a manual credit or debit and records it. The new
// amount may not drop below the reserved portion, so funds locked
// behind open orders cannot be withdrawn.
func (s *BalanceStore) Adjust(ctx context.Context, adj domain.BalanceAdjustment) (domain.Balance, error) {
	if adj.ID == "" {
		adj.ID = uuid.NewString()
	}
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("postgres: begin adjust: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := ensureBalance(ctx, tx, adj.UserID, adj.Asset); err != nil {
		return domain.Balance{}, err
	}
	cur, res, err := lockBalance(ctx, tx, adj.UserID, adj.Asset)
	if err != nil {
		return domain.Balance{}, err
	}

	next := cur.Add(adj.Delta)
	if next.LessThan(res) || next.IsNegative() {
		return domain.Balance{}, domain.ErrInsufficientFunds
	}

	b := domain.Balance{UserID: adj.UserID, Asset: adj.Asset, Amount: next, Reserved: res}
	if err := tx.QueryRow(ctx,
		`UPDATE balances SET amount = $3::numeric, updated_at = NOW()
		 WHERE user_id = $1 AND asset = $2
		 RETURNING updated_at`,
		adj.UserID, string(adj.Asset), next.String(),
	).Scan(&b.UpdatedAt); err != nil {
		return domain.Balance{}, fmt.Errorf("postgres: update balance: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO balance_adjustments (id, user_id, asset, delta, reason, actor_id, created_at)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
		adj.ID, adj.UserID, string(adj.Asset), adj.Delta.String(),
		adj.Reason, adj.ActorID, adj.CreatedAt,
	); err != nil {
		return domain.Balance{}, fmt.Errorf("postgres: record adjustment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Balance{}, fmt.Errorf("postgres: commit adjust: %w", err)
	}
	return b, nil
}

// ListAdjustments returns adjustments for a user, newest first.
func (s *BalanceStore) ListAdjustments(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.BalanceAdjustment, error) {
	query := `SELECT id, user_id, asset, delta::text, reason, actor_id, created_at
		FROM balance_adjustments WHERE user_id = $1`
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
		return nil, fmt.Errorf("postgres: list adjustments: %w", err)
	}
	defer rows.Close()

	var adjs []domain.BalanceAdjustment
	for rows.Next() {
		var a domain.BalanceAdjustment
		var asset, delta string

		if err := rows.Scan(&a.ID, &a.UserID, &asset, &delta, &a.Reason, &a.ActorID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan adjustment: %w", err)
		}
		a.Asset = domain.Asset(asset)
		if a.Delta, err = parseDec("delta", delta); err != nil {
			return nil, err
		}
		adjs = append(adjs, a)
	}
	return adjs, rows.Err()
}

// ensureBalance creates a zero balance row so it can be locked.
// Referencing a missing user maps to domain.ErrNotFound.
func ensureBalance(ctx context.Context, tx pgx.Tx, userID string, asset domain.Asset) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO balances (user_id, asset) VALUES ($1, $2)
		 ON CONFLICT (user_id, asset) DO NOTHING`,
		userID, string(asset))
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: ensure balance row: %w", err)
	}
	return nil
}

// lockBalance takes a row lock on one balance and returns its amount
// and reserved columns. The row must exist.
func lockBalance(ctx context.Context, tx pgx.Tx, userID string, asset domain.Asset) (amount, reserved decimal.Decimal, err error) {
	var amt, res string
	err = tx.QueryRow(ctx,
		`SELECT amount::text, reserved::text FROM balances
		 WHERE user_id = $1 AND asset = $2 FOR UPDATE`,
		userID, string(asset),
	).Scan(&amt, &res)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("postgres: lock balance %s/%s: %w", userID, asset, err)
	}

	if amount, err = parseDec("amount", amt); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	if reserved, err = parseDec("reserved", res); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return amount, reserved, nil
}

// addBalance applies deltas to one balance row, creating it on first
// credit. The table's CHECK constraints reject any move that would
// leave amount or reserved inconsistent.
func addBalance(ctx context.Context, tx pgx.Tx, userID string, asset domain.Asset, amountDelta, reservedDelta decimal.Decimal) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO balances (user_id, asset, amount, reserved, updated_at)
		 VALUES ($1, $2, $3::numeric, $4::numeric, NOW())
		 ON CONFLICT (user_id, asset) DO UPDATE
		 SET amount = balances.amount + EXCLUDED.amount,
		     reserved = balances.reserved + EXCLUDED.reserved,
		     updated_at = NOW()`,
		userID, string(asset), amountDelta.String(), reservedDelta.String())
	if err != nil {
		return fmt.Errorf("postgres: move balance %s/%s: %w", userID, asset, err)
	}
	return nil
}
