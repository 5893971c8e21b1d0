package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
)

// SourceStore implements domain.SourceStore using PostgreSQL.
type SourceStore struct {
	pool *pgxpool.Pool
}

// NewSourceStore creates a new SourceStore backed by the given connection pool.
func NewSourceStore(pool *pgxpool.Pool) *SourceStore {
	return &SourceStore{pool: pool}
}

const sourceSelectCols = `id, name, certificate, url, parser, field_path,
	scale_factor::text, interval_seconds, enabled, last_status, last_error,
	last_price::text, last_scraped_at, created_at, updated_at`

func scanSourceFromRow(scanner interface{ Scan(dest ...any) error }) (domain.ScrapeSource, error) {
	var s domain.ScrapeSource
	var cert, status string
	var scale, lastPrice string
	var intervalSec int64

	err := scanner.Scan(
		&s.ID, &s.Name, &cert, &s.URL, &s.Parser, &s.FieldPath,
		&scale, &intervalSec, &s.Enabled, &status, &s.LastError,
		&lastPrice, &s.LastScrapedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return domain.ScrapeSource{}, err
	}

	s.Certificate = domain.CertificateType(cert)
	s.LastStatus = domain.SourceStatus(status)
	s.Interval = time.Duration(intervalSec) * time.Second

	if s.ScaleFactor, err = parseDec("scale_factor", scale); err != nil {
		return domain.ScrapeSource{}, err
	}
	if s.LastPrice, err = parseDec("last_price", lastPrice); err != nil {
		return domain.ScrapeSource{}, err
	}
	return s, nil
}

// Create inserts a new scrape source. Health fields start at their
// pending defaults regardless of input.
func (s *SourceStore) Create(ctx context.Context, src domain.ScrapeSource) (domain.ScrapeSource, error) {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	src.LastStatus = domain.SourceStatusPending
	src.LastError = ""
	src.LastPrice = decimal.Zero
	src.LastScrapedAt = nil
	src.CreatedAt = now
	src.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_sources (
			id, name, certificate, url, parser, field_path,
			scale_factor, interval_seconds, enabled, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8, $9, $10, $11
		)`,
		src.ID, src.Name, string(src.Certificate), src.URL, src.Parser, src.FieldPath,
		src.ScaleFactor.String(), int64(src.Interval/time.Second), src.Enabled,
		src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return domain.ScrapeSource{}, fmt.Errorf("postgres: create scrape source %s: %w", src.ID, err)
	}
	return src, nil
}

// Update rewrites a source's configuration. Health fields are owned by
// RecordResult and left untouched.
func (s *SourceStore) Update(ctx context.Context, src domain.ScrapeSource) (domain.ScrapeSource, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE scrape_sources SET
			name = $2, certificate = $3, url = $4, parser = $5, field_path = $6,
			scale_factor = $7::numeric, interval_seconds = $8, enabled = $9,
			updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+sourceSelectCols,
		src.ID, src.Name, string(src.Certificate), src.URL, src.Parser, src.FieldPath,
		src.ScaleFactor.String(), int64(src.Interval/time.Second), src.Enabled)

	updated, err := scanSourceFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ScrapeSource{}, domain.ErrNotFound
		}
		return domain.ScrapeSource{}, fmt.Errorf("postgres: update scrape source %s: %w", src.ID, err)
	}
	return updated, nil
}

// Delete removes a source and, via cascade, its recorded prices.
func (s *SourceStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scrape_sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete scrape source %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single source by ID.
func (s *SourceStore) GetByID(ctx context.Context, id string) (domain.ScrapeSource, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sourceSelectCols+` FROM scrape_sources WHERE id = $1`, id)

	src, err := scanSourceFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ScrapeSource{}, domain.ErrNotFound
		}
		return domain.ScrapeSource{}, fmt.Errorf("postgres: get scrape source %s: %w", id, err)
	}
	return src, nil
}

// List returns every configured source, oldest first.
func (s *SourceStore) List(ctx context.Context) ([]domain.ScrapeSource, error) {
	return s.list(ctx, `SELECT `+sourceSelectCols+` FROM scrape_sources ORDER BY created_at ASC`)
}

// ListEnabled returns the sources the scraper should poll.
func (s *SourceStore) ListEnabled(ctx context.Context) ([]domain.ScrapeSource, error) {
	return s.list(ctx, `SELECT `+sourceSelectCols+` FROM scrape_sources WHERE enabled ORDER BY created_at ASC`)
}

func (s *SourceStore) list(ctx context.Context, query string) ([]domain.ScrapeSource, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list scrape sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.ScrapeSource
	for rows.Next() {
		src, err := scanSourceFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan scrape source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// RecordResult stores the outcome of one scrape attempt. A successful
// attempt refreshes the price; a failed one keeps the last good price
// and records the error.
func (s *SourceStore) RecordResult(ctx context.Context, id string, status domain.SourceStatus, price decimal.Decimal, scrapeErr string, at time.Time) error {
	var tag pgconn.CommandTag
	var err error

	if status == domain.SourceStatusOK {
		tag, err = s.pool.Exec(ctx,
			`UPDATE scrape_sources SET
				last_status = $2, last_error = '', last_price = $3::numeric,
				last_scraped_at = $4, updated_at = NOW()
			 WHERE id = $1`,
			id, string(status), price.String(), at)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE scrape_sources SET
				last_status = $2, last_error = $3, last_scraped_at = $4, updated_at = NOW()
			 WHERE id = $1`,
			id, string(status), scrapeErr, at)
	}
	if err != nil {
		return fmt.Errorf("postgres: record scrape result %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
