package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carbex/carbex/internal/domain"
)

// ContactStore implements domain.ContactStore using PostgreSQL.
type ContactStore struct {
	pool *pgxpool.Pool
}

// NewContactStore creates a new ContactStore backed by the given connection pool.
func NewContactStore(pool *pgxpool.Pool) *ContactStore {
	return &ContactStore{pool: pool}
}

const contactSelectCols = `id, name, email, company, message, status,
	COALESCE(assigned_to::text, ''), created_at, updated_at`

func scanContactFromRow(scanner interface{ Scan(dest ...any) error }) (domain.ContactRequest, error) {
	var c domain.ContactRequest
	var status string

	err := scanner.Scan(
		&c.ID, &c.Name, &c.Email, &c.Company, &c.Message, &status,
		&c.AssignedTo, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.ContactRequest{}, err
	}
	c.Status = domain.ContactStatus(status)
	return c, nil
}

// Create inserts a new contact request.
func (s *ContactStore) Create(ctx context.Context, req domain.ContactRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contact_requests (id, name, email, company, message, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.Name, req.Email, req.Company, req.Message,
		string(req.Status), req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create contact request %s: %w", req.ID, err)
	}
	return nil
}

// GetByID retrieves a single contact request by ID.
func (s *ContactStore) GetByID(ctx context.Context, id string) (domain.ContactRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contactSelectCols+` FROM contact_requests WHERE id = $1`, id)

	c, err := scanContactFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ContactRequest{}, domain.ErrNotFound
		}
		return domain.ContactRequest{}, fmt.Errorf("postgres: get contact request %s: %w", id, err)
	}
	return c, nil
}

// Update moves a contact request to a new status and assignee. An
// empty assignedTo clears the assignment.
func (s *ContactStore) Update(ctx context.Context, id string, status domain.ContactStatus, assignedTo string) (domain.ContactRequest, error) {
	var assignee *string
	if assignedTo != "" {
		assignee = &assignedTo
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE contact_requests SET status = $2, assigned_to = $3, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+contactSelectCols,
		id, string(status), assignee)

	c, err := scanContactFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ContactRequest{}, domain.ErrNotFound
		}
		if isForeignKeyViolation(err) {
			return domain.ContactRequest{}, domain.ErrNotFound
		}
		return domain.ContactRequest{}, fmt.Errorf("postgres: update contact request %s: %w", id, err)
	}
	return c, nil
}

// List returns contact requests, optionally filtered by status, newest
// first.
func (s *ContactStore) List(ctx context.Context, status domain.ContactStatus, opts domain.ListOpts) ([]domain.ContactRequest, error) {
	query := `SELECT ` + contactSelectCols + ` FROM contact_requests WHERE 1=1`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(status))
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
		return nil, fmt.Errorf("postgres: list contact requests: %w", err)
	}
	defer rows.Close()

	var reqs []domain.ContactRequest
	for rows.Next() {
		c, err := scanContactFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan contact request: %w", err)
		}
		reqs = append(reqs, c)
	}
	return reqs, rows.Err()
}
