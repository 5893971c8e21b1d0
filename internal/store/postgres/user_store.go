package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carbex/carbex/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userSelectCols = `id, email, password_hash, full_name, company,
	role, kyc_status, seller_code, active, created_at, updated_at`

func scanUserFromRow(scanner interface{ Scan(dest ...any) error }) (domain.User, error) {
	var u domain.User
	var role, kycStatus string

	err := scanner.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Company,
		&role, &kycStatus, &u.SellerCode, &u.Active,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}

	u.Role = domain.Role(role)
	u.KYCStatus = domain.KYCStatus(kycStatus)
	return u, nil
}

func scanUserRows(rows pgx.Rows) ([]domain.User, error) {
	var users []domain.User
	for rows.Next() {
		u, err := scanUserFromRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Create inserts a new user. A duplicate email or seller code maps to
// domain.ErrAlreadyExists.
func (s *UserStore) Create(ctx context.Context, u domain.User) error {
	const query = `
		INSERT INTO users (
			id, email, password_hash, full_name, company,
			role, kyc_status, seller_code, active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)`

	_, err := s.pool.Exec(ctx, query,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.Company,
		string(u.Role), string(u.KYCStatus), u.SellerCode, u.Active,
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create user %s: %w", u.ID, err)
	}
	return nil
}

// GetByID retrieves a single user by ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE id = $1`, id)

	u, err := scanUserFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	return u, nil
}

// GetByEmail retrieves a single user by normalized email address.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE email = $1`,
		domain.NormalizeEmail(email))

	u, err := scanUserFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user by email: %w", err)
	}
	return u, nil
}

// Update rewrites the mutable fields of an existing user.
func (s *UserStore) Update(ctx context.Context, u domain.User) error {
	const query = `
		UPDATE users SET
			email = $2, password_hash = $3, full_name = $4, company = $5,
			role = $6, kyc_status = $7, seller_code = $8, active = $9,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.Company,
		string(u.Role), string(u.KYCStatus), u.SellerCode, u.Active,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: update user %s: %w", u.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateKYCStatus moves a user's KYC status from one value to another.
// The from guard makes concurrent reviews race-safe: whoever loses the
// race gets domain.ErrInvalidTransition.
func (s *UserStore) UpdateKYCStatus(ctx context.Context, id string, from, to domain.KYCStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET kyc_status = $3, updated_at = NOW()
		 WHERE id = $1 AND kyc_status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("postgres: update kyc status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check user %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

// userFilterWhere builds WHERE conditions for the given filter,
// starting parameter numbering at argIdx.
func userFilterWhere(filter domain.UserFilter, argIdx int) (string, []any) {
	var clause string
	var args []any

	if filter.Role != "" {
		clause += fmt.Sprintf(" AND role = $%d", argIdx)
		args = append(args, string(filter.Role))
		argIdx++
	}
	if filter.KYCStatus != "" {
		clause += fmt.Sprintf(" AND kyc_status = $%d", argIdx)
		args = append(args, string(filter.KYCStatus))
		argIdx++
	}
	if filter.Search != "" {
		clause += fmt.Sprintf(" AND (email ILIKE $%d OR full_name ILIKE $%d)", argIdx, argIdx)
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}
	return clause, args
}

// List returns users matching the filter with pagination.
func (s *UserStore) List(ctx context.Context, filter domain.UserFilter, opts domain.ListOpts) ([]domain.User, error) {
	query := `SELECT ` + userSelectCols + ` FROM users WHERE 1=1`
	clause, args := userFilterWhere(filter, 1)
	query += clause
	argIdx := len(args) + 1

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
		return nil, fmt.Errorf("postgres: list users: %w", err)
	}
	defer rows.Close()

	users, err := scanUserRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan users: %w", err)
	}
	return users, nil
}

// Count returns the number of users matching the filter.
func (s *UserStore) Count(ctx context.Context, filter domain.UserFilter) (int64, error) {
	query := `SELECT COUNT(*) FROM users WHERE 1=1`
	clause, args := userFilterWhere(filter, 1)
	query += clause

	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count users: %w", err)
	}
	return n, nil
}
