package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carbex/carbex/internal/domain"
)

// PriceStore implements domain.PriceStore using PostgreSQL. Every row
// is an applied observation; stale scraper responses are dropped
// before they reach this store.
type PriceStore struct {
	pool *pgxpool.Pool
}

// NewPriceStore creates a new PriceStore backed by the given connection pool.
func NewPriceStore(pool *pgxpool.Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

const priceSelectCols = `source_id, source_name, certificate, price::text, seq, observed_at`

func scanPriceRows(rows pgx.Rows) ([]domain.ReferencePrice, error) {
	var prices []domain.ReferencePrice
	for rows.Next() {
		var p domain.ReferencePrice
		var cert, price string

		err := rows.Scan(&p.SourceID, &p.SourceName, &cert, &price, &p.Seq, &p.ObservedAt)
		if err != nil {
			return nil, err
		}
		p.Certificate = domain.CertificateType(cert)
		if p.Price, err = parseDec("price", price); err != nil {
			return nil, err
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// Insert appends one observation.
func (s *PriceStore) Insert(ctx context.Context, p domain.ReferencePrice) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reference_prices (source_id, source_name, certificate, price, seq, observed_at)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6)`,
		p.SourceID, p.SourceName, string(p.Certificate), p.Price.String(), p.Seq, p.ObservedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: insert reference price: %w", err)
	}
	return nil
}

// Latest returns the most recent observation per source for one
// certificate.
func (s *PriceStore) Latest(ctx context.Context, cert domain.CertificateType) ([]domain.ReferencePrice, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (source_id) `+priceSelectCols+`
		 FROM reference_prices WHERE certificate = $1
		 ORDER BY source_id, observed_at DESC`,
		string(cert))
	if err != nil {
		return nil, fmt.Errorf("postgres: latest reference prices: %w", err)
	}
	defer rows.Close()

	prices, err := scanPriceRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan reference prices: %w", err)
	}
	return prices, nil
}

// History returns one source's observations, newest first.
func (s *PriceStore) History(ctx context.Context, sourceID string, opts domain.ListOpts) ([]domain.ReferencePrice, error) {
	query := `SELECT ` + priceSelectCols + ` FROM reference_prices WHERE source_id = $1`
	args := []any{sourceID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND observed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND observed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY observed_at DESC"

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
		return nil, fmt.Errorf("postgres: reference price history: %w", err)
	}
	defer rows.Close()

	prices, err := scanPriceRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan price history: %w", err)
	}
	return prices, nil
}
