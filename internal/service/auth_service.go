// Package service contains the application services sitting between
// the HTTP handlers and the stores: authentication, accounts, the
// cash market, back-office administration and scrape-source
// management. Services own validation, orchestration and the audit
// trail; handlers only translate HTTP.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/carbex/carbex/internal/config"
	"github.com/carbex/carbex/internal/domain"
)

// AuthService handles registration, login and session lifecycle.
type AuthService struct {
	users    domain.UserStore
	sessions domain.SessionStore
	audit    domain.AuditStore
	cfg      config.AuthConfig
	logger   *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users domain.UserStore,
	sessions domain.SessionStore,
	audit domain.AuditStore,
	cfg config.AuthConfig,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		audit:    audit,
		cfg:      cfg,
		logger:   logger,
	}
}

// RegisterParams carries a validated registration request.
type RegisterParams struct {
	Email    string
	Password string
	FullName string
	Company  string
}

// Register creates a new user account with role user and an
// anonymised seller code. The email must be unused; the password is
// stored only as a bcrypt hash.
func (s *AuthService) Register(ctx context.Context, p RegisterParams) (domain.User, error) {
	if !s.cfg.AllowRegistration {
		return domain.User{}, fmt.Errorf("auth_service: %w: registration disabled", domain.ErrForbidden)
	}

	email := domain.NormalizeEmail(p.Email)
	if err := validateRegistration(email, p.Password, p.FullName); err != nil {
		return domain.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), s.cfg.BcryptCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("auth_service: hash password: %w", err)
	}

	code, err := newSellerCode()
	if err != nil {
		return domain.User{}, fmt.Errorf("auth_service: seller code: %w", err)
	}

	now := time.Now().UTC()
	u := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(p.FullName),
		Company:      strings.TrimSpace(p.Company),
		Role:         domain.RoleUser,
		KYCStatus:    domain.KYCUnverified,
		SellerCode:   code,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.User{}, fmt.Errorf("auth_service: %w: email in use", domain.ErrAlreadyExists)
		}
		return domain.User{}, fmt.Errorf("auth_service: create user: %w", err)
	}

	if auditErr := s.audit.Log(ctx, "auth.register", u.ID, map[string]any{
		"email": u.Email,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "auth_service: audit log failed",
			slog.String("user_id", u.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "auth_service: user registered",
		slog.String("user_id", u.ID),
		slog.String("seller_code", u.SellerCode),
	)
	return u, nil
}

// Login verifies credentials and opens a session. The same invalid
// credentials error covers unknown emails and wrong passwords;
// deactivated accounts are refused explicitly.
func (s *AuthService) Login(ctx context.Context, email, password string) (domain.Session, domain.User, error) {
	u, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Session{}, domain.User{}, domain.ErrInvalidCredentials
		}
		return domain.Session{}, domain.User{}, fmt.Errorf("auth_service: get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.Session{}, domain.User{}, domain.ErrInvalidCredentials
	}
	if !u.Active {
		return domain.Session{}, domain.User{}, fmt.Errorf("auth_service: %w: account deactivated", domain.ErrForbidden)
	}

	token, err := newSessionToken()
	if err != nil {
		return domain.Session{}, domain.User{}, fmt.Errorf("auth_service: session token: %w", err)
	}

	now := time.Now().UTC()
	sess := domain.Session{
		Token:     token,
		UserID:    u.ID,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.SessionTTL.Duration),
	}
	if err := s.sessions.Put(ctx, sess); err != nil {
		return domain.Session{}, domain.User{}, fmt.Errorf("auth_service: store session: %w", err)
	}

	if auditErr := s.audit.Log(ctx, "auth.login", u.ID, nil); auditErr != nil {
		s.logger.WarnContext(ctx, "auth_service: audit log failed",
			slog.String("user_id", u.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	return sess, u, nil
}

// Authenticate resolves a bearer token into a Principal. Expired
// sessions are removed on sight.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, domain.ErrUnauthorized
	}

	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Principal{}, domain.ErrUnauthorized
		}
		return domain.Principal{}, fmt.Errorf("auth_service: get session: %w", err)
	}

	if sess.Expired(time.Now().UTC()) {
		if delErr := s.sessions.Delete(ctx, token); delErr != nil {
			s.logger.WarnContext(ctx, "auth_service: expired session delete failed",
				slog.String("error", delErr.Error()),
			)
		}
		return domain.Principal{}, domain.ErrSessionExpired
	}

	return domain.Principal{
		UserID: sess.UserID,
		Email:  sess.Email,
		Role:   sess.Role,
		Token:  token,
	}, nil
}

// Logout removes the session behind the token. Unknown tokens are not
// an error; logout is idempotent.
func (s *AuthService) Logout(ctx context.Context, p domain.Principal) error {
	if err := s.sessions.Delete(ctx, p.Token); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("auth_service: delete session: %w", err)
	}

	if auditErr := s.audit.Log(ctx, "auth.logout", p.UserID, nil); auditErr != nil {
		s.logger.WarnContext(ctx, "auth_service: audit log failed",
			slog.String("user_id", p.UserID),
			slog.String("error", auditErr.Error()),
		)
	}
	return nil
}

// LogoutAll revokes every session of a user. Used when an admin
// deactivates an account.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	if err := s.sessions.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("auth_service: delete sessions for %q: %w", userID, err)
	}
	return nil
}

// SeedAdmin ensures the configured administrator account exists.
// Called once at start; a no-op when the email is unset or the account
// is already there.
func (s *AuthService) SeedAdmin(ctx context.Context) error {
	if s.cfg.AdminEmail == "" || s.cfg.AdminPassword == "" {
		return nil
	}

	email := domain.NormalizeEmail(s.cfg.AdminEmail)
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("auth_service: seed admin lookup: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.cfg.AdminPassword), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("auth_service: seed admin hash: %w", err)
	}
	code, err := newSellerCode()
	if err != nil {
		return fmt.Errorf("auth_service: seed admin seller code: %w", err)
	}

	now := time.Now().UTC()
	u := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		FullName:     "Administrator",
		Role:         domain.RoleAdmin,
		KYCStatus:    domain.KYCUnverified,
		SellerCode:   code,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		// A concurrent replica may have won the race.
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("auth_service: seed admin create: %w", err)
	}

	s.logger.InfoContext(ctx, "auth_service: admin account seeded",
		slog.String("email", email),
	)
	return nil
}

func validateRegistration(email, password, fullName string) error {
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("auth_service: %w: invalid email", domain.ErrValidation)
	}
	if len(password) < 8 {
		return fmt.Errorf("auth_service: %w: password must be at least 8 characters", domain.ErrValidation)
	}
	if strings.TrimSpace(fullName) == "" {
		return fmt.Errorf("auth_service: %w: full name required", domain.ErrValidation)
	}
	return nil
}

// newSessionToken returns a 256-bit random bearer token in hex.
func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// newSellerCode returns an anonymised board handle like "S-3FA9C1".
func newSellerCode() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "S-" + strings.ToUpper(hex.EncodeToString(b)), nil
}
