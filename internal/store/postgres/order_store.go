package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carbex/carbex/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, user_id, seller_code, certificate, side,
	price::text, quantity::text, remaining::text, status,
	created_at, updated_at, filled_at, cancelled_at`

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var cert, side, status string
	var price, quantity, remaining string

	err := scanner.Scan(
		&o.ID, &o.UserID, &o.SellerCode, &cert, &side,
		&price, &quantity, &remaining, &status,
		&o.CreatedAt, &o.UpdatedAt, &o.FilledAt, &o.CancelledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Certificate = domain.CertificateType(cert)
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)

	if o.Price, err = parseDec("price", price); err != nil {
		return domain.Order{}, err
	}
	if o.Quantity, err = parseDec("quantity", quantity); err != nil {
		return domain.Order{}, err
	}
	if o.Remaining, err = parseDec("remaining", remaining); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Place inserts a resting order and locks the backing funds in the
// same transaction: EUR for bids, certificates for asks. The order
// starts open with remaining equal to quantity.
func (s *OrderStore) Place(ctx context.Context, order domain.Order) (domain.Order, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	order.Status = domain.OrderStatusOpen
	order.Remaining = order.Quantity
	order.CreatedAt = now
	order.UpdatedAt = now
	order.FilledAt = nil
	order.CancelledAt = nil

	need := order.ReservedAmount()
	asset := order.ReservedAsset()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: begin place: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var amount, reserved string
	err = tx.QueryRow(ctx,
		`SELECT amount::text, reserved::text FROM balances
		 WHERE user_id = $1 AND asset = $2 FOR UPDATE`,
		order.UserID, string(asset),
	).Scan(&amount, &reserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrInsufficientFunds
		}
		return domain.Order{}, fmt.Errorf("postgres: lock balance for place: %w", err)
	}

	amt, err := parseDec("amount", amount)
	if err != nil {
		return domain.Order{}, err
	}
	res, err := parseDec("reserved", reserved)
	if err != nil {
		return domain.Order{}, err
	}
	if amt.Sub(res).LessThan(need) {
		return domain.Order{}, domain.ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx,
		`UPDATE balances SET reserved = reserved + $3::numeric, updated_at = NOW()
		 WHERE user_id = $1 AND asset = $2`,
		order.UserID, string(asset), need.String(),
	); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: reserve funds: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO orders (
			id, user_id, seller_code, certificate, side,
			price, quantity, remaining, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::numeric, $7::numeric, $8::numeric, $9, $10, $11
		)`,
		order.ID, order.UserID, order.SellerCode,
		string(order.Certificate), string(order.Side),
		order.Price.String(), order.Quantity.String(), order.Remaining.String(),
		string(order.Status), order.CreatedAt, order.UpdatedAt,
	); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: insert order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: commit place: %w", err)
	}
	return order, nil
}

// Cancel closes an open order owned by userID and releases its
// reservation. Cancelling an already filled or cancelled order returns
// domain.ErrInvalidTransition.
func (s *OrderStore) Cancel(ctx context.Context, id, userID string) (domain.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: begin cancel: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		id, userID)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: lock order %s: %w", id, err)
	}
	if o.Status != domain.OrderStatusOpen {
		return domain.Order{}, domain.ErrInvalidTransition
	}

	release := o.ReservedAmount()
	if release.IsPositive() {
		if _, err := tx.Exec(ctx,
			`UPDATE balances SET reserved = reserved - $3::numeric, updated_at = NOW()
			 WHERE user_id = $1 AND asset = $2`,
			o.UserID, string(o.ReservedAsset()), release.String(),
		); err != nil {
			return domain.Order{}, fmt.Errorf("postgres: release reservation: %w", err)
		}
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2, cancelled_at = $3, updated_at = $3
		 WHERE id = $1`,
		o.ID, string(domain.OrderStatusCancelled), now,
	); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: cancel order %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: commit cancel: %w", err)
	}

	o.Status = domain.OrderStatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	return o, nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListOpen returns the open orders forming one side of a book, ordered
// by price then age for deterministic aggregation.
func (s *OrderStore) ListOpen(ctx context.Context, cert domain.CertificateType, side domain.OrderSide) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE certificate = $1 AND side = $2 AND status = 'open' AND remaining > 0
		 ORDER BY price ASC, created_at ASC`,
		string(cert), string(side))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open orders: %w", err)
	}
	return orders, nil
}

// List returns orders matching the filter with pagination.
func (s *OrderStore) List(ctx context.Context, filter domain.OrderFilter, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Certificate != "" {
		query += fmt.Sprintf(" AND certificate = $%d", argIdx)
		args = append(args, string(filter.Certificate))
		argIdx++
	}
	if filter.Side != "" {
		query += fmt.Sprintf(" AND side = $%d", argIdx)
		args = append(args, string(filter.Side))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
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
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders: %w", err)
	}
	return orders, nil
}
