package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carbex/carbex/internal/domain"
)

// KYCStore implements domain.KYCStore using PostgreSQL. Only document
// metadata lives here; content goes to the blob bucket.
type KYCStore struct {
	pool *pgxpool.Pool
}

// NewKYCStore creates a new KYCStore backed by the given connection pool.
func NewKYCStore(pool *pgxpool.Pool) *KYCStore {
	return &KYCStore{pool: pool}
}

const kycDocSelectCols = `id, user_id, doc_type, file_name, content_type,
	size_bytes, storage_key, created_at`

func scanKYCDocFromRow(scanner interface{ Scan(dest ...any) error }) (domain.KYCDocument, error) {
	var d domain.KYCDocument
	var docType string

	err := scanner.Scan(
		&d.ID, &d.UserID, &docType, &d.FileName, &d.ContentType,
		&d.SizeBytes, &d.StorageKey, &d.CreatedAt,
	)
	if err != nil {
		return domain.KYCDocument{}, err
	}
	d.Type = domain.KYCDocumentType(docType)
	return d, nil
}

// CreateDocument inserts one document metadata row.
func (s *KYCStore) CreateDocument(ctx context.Context, doc domain.KYCDocument) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kyc_documents (
			id, user_id, doc_type, file_name, content_type,
			size_bytes, storage_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.UserID, string(doc.Type), doc.FileName, doc.ContentType,
		doc.SizeBytes, doc.StorageKey, doc.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: create kyc document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument retrieves one document's metadata by ID.
func (s *KYCStore) GetDocument(ctx context.Context, id string) (domain.KYCDocument, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+kycDocSelectCols+` FROM kyc_documents WHERE id = $1`, id)

	d, err := scanKYCDocFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.KYCDocument{}, domain.ErrNotFound
		}
		return domain.KYCDocument{}, fmt.Errorf("postgres: get kyc document %s: %w", id, err)
	}
	return d, nil
}

// ListByUser returns a user's uploaded documents, newest first.
func (s *KYCStore) ListByUser(ctx context.Context, userID string) ([]domain.KYCDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+kycDocSelectCols+` FROM kyc_documents
		 WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list kyc documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.KYCDocument
	for rows.Next() {
		d, err := scanKYCDocFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan kyc document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// ListPendingUsers returns users awaiting review, oldest submission
// first so the queue drains fairly.
func (s *KYCStore) ListPendingUsers(ctx context.Context, opts domain.ListOpts) ([]domain.User, error) {
	query := `SELECT ` + userSelectCols + ` FROM users WHERE kyc_status = $1
		ORDER BY updated_at ASC`
	args := []any{string(domain.KYCPending)}
	argIdx := 2

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
		return nil, fmt.Errorf("postgres: list pending kyc users: %w", err)
	}
	defer rows.Close()

	users, err := scanUserRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending kyc users: %w", err)
	}
	return users, nil
}

// RecordReview appends one review decision.
func (s *KYCStore) RecordReview(ctx context.Context, review domain.KYCReview) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kyc_reviews (user_id, decision, note, reviewer_id, reviewed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		review.UserID, string(review.Decision), review.Note,
		review.ReviewerID, review.ReviewedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: record kyc review: %w", err)
	}
	return nil
}
