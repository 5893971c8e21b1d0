package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/notify"
)

// AdminService backs the back-office console: user management, manual
// balance adjustments, KYC review and the audit trail.
type AdminService struct {
	users    domain.UserStore
	balances domain.BalanceStore
	kyc      domain.KYCStore
	blob     domain.BlobReader
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewAdminService creates an AdminService with all required dependencies.
func NewAdminService(
	users domain.UserStore,
	balances domain.BalanceStore,
	kyc domain.KYCStore,
	blob domain.BlobReader,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		users:    users,
		balances: balances,
		kyc:      kyc,
		blob:     blob,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
	}
}

// UserPage is one page of an admin user listing.
type UserPage struct {
	Users []domain.User `json:"users"`
	Total int64         `json:"total"`
}

// ListUsers returns a filtered page of accounts with the unpaginated
// total.
func (s *AdminService) ListUsers(ctx context.Context, filter domain.UserFilter, opts domain.ListOpts) (UserPage, error) {
	users, err := s.users.List(ctx, filter, opts)
	if err != nil {
		return UserPage{}, fmt.Errorf("admin_service: list users: %w", err)
	}
	total, err := s.users.Count(ctx, filter)
	if err != nil {
		return UserPage{}, fmt.Errorf("admin_service: count users: %w", err)
	}
	return UserPage{Users: users, Total: total}, nil
}

// GetUser returns one account.
func (s *AdminService) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("admin_service: get user %q: %w", id, err)
	}
	return u, nil
}

// UpdateUserParams patches an account. Nil fields keep their current
// value.
type UpdateUserParams struct {
	Role   *domain.Role
	Active *bool
}

// UpdateUser changes a user's role or active flag. Admins cannot
// demote or deactivate themselves, so the last admin stays reachable.
func (s *AdminService) UpdateUser(ctx context.Context, actorID, id string, p UpdateUserParams) (domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("admin_service: get user %q: %w", id, err)
	}

	if actorID == id {
		if p.Role != nil && *p.Role != domain.RoleAdmin {
			return domain.User{}, fmt.Errorf("admin_service: %w: cannot demote own account", domain.ErrForbidden)
		}
		if p.Active != nil && !*p.Active {
			return domain.User{}, fmt.Errorf("admin_service: %w: cannot deactivate own account", domain.ErrForbidden)
		}
	}

	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Active != nil {
		u.Active = *p.Active
	}
	u.UpdatedAt = time.Now().UTC()
	if err := s.users.Update(ctx, u); err != nil {
		return domain.User{}, fmt.Errorf("admin_service: update user %q: %w", id, err)
	}

	if auditErr := s.audit.Log(ctx, "admin.user.update", actorID, map[string]any{
		"user_id": u.ID,
		"role":    string(u.Role),
		"active":  u.Active,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "admin_service: audit log failed",
			slog.String("user_id", u.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "admin_service: user updated",
		slog.String("user_id", u.ID),
		slog.String("role", string(u.Role)),
		slog.Bool("active", u.Active),
	)
	return u, nil
}

// UserBalances returns a user's holdings across all assets.
func (s *AdminService) UserBalances(ctx context.Context, userID string) ([]domain.Balance, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("admin_service: get user %q: %w", userID, err)
	}
	rows, err := s.balances.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("admin_service: list balances: %w", err)
	}
	return fillMissingAssets(userID, rows), nil
}

// AdjustBalanceParams carries a manual credit or debit.
type AdjustBalanceParams struct {
	Asset  domain.Asset
	Delta  decimal.Decimal
	Reason string
}

// AdjustBalance credits or debits a user's balance outside of trading,
// typically to mirror an off-platform bank transfer. The store rejects
// debits that would leave the available balance negative.
func (s *AdminService) AdjustBalance(ctx context.Context, actorID, userID string, p AdjustBalanceParams) (domain.Balance, error) {
	if !p.Asset.Valid() {
		return domain.Balance{}, fmt.Errorf("admin_service: %w: unknown asset %q", domain.ErrValidation, p.Asset)
	}
	if p.Delta.IsZero() {
		return domain.Balance{}, fmt.Errorf("admin_service: %w: delta cannot be zero", domain.ErrValidation)
	}
	if strings.TrimSpace(p.Reason) == "" {
		return domain.Balance{}, fmt.Errorf("admin_service: %w: reason is required", domain.ErrValidation)
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return domain.Balance{}, fmt.Errorf("admin_service: get user %q: %w", userID, err)
	}

	adj := domain.BalanceAdjustment{
		ID:        uuid.NewString(),
		UserID:    userID,
		Asset:     p.Asset,
		Delta:     p.Delta,
		Reason:    strings.TrimSpace(p.Reason),
		ActorID:   actorID,
		CreatedAt: time.Now().UTC(),
	}
	balance, err := s.balances.Adjust(ctx, adj)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("admin_service: adjust balance: %w", err)
	}

	if auditErr := s.audit.Log(ctx, "admin.balance.adjust", actorID, map[string]any{
		"user_id": userID,
		"asset":   string(p.Asset),
		"delta":   p.Delta.String(),
		"reason":  adj.Reason,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "admin_service: audit log failed",
			slog.String("user_id", userID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "admin_service: balance adjusted",
		slog.String("user_id", userID),
		slog.String("asset", string(p.Asset)),
		slog.String("delta", p.Delta.String()),
	)
	return balance, nil
}

// UserAdjustments lists a user's manual adjustment history.
func (s *AdminService) UserAdjustments(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.BalanceAdjustment, error) {
	adjs, err := s.balances.ListAdjustments(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("admin_service: list adjustments: %w", err)
	}
	return adjs, nil
}

// PendingKYC lists users awaiting review, oldest submission first.
func (s *AdminService) PendingKYC(ctx context.Context, opts domain.ListOpts) ([]domain.User, error) {
	users, err := s.kyc.ListPendingUsers(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("admin_service: list pending kyc: %w", err)
	}
	return users, nil
}

// UserDocuments lists a user's uploaded KYC documents.
func (s *AdminService) UserDocuments(ctx context.Context, userID string) ([]domain.KYCDocument, error) {
	docs, err := s.kyc.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("admin_service: list documents: %w", err)
	}
	return docs, nil
}

// DocumentContent streams a KYC document from blob storage. The caller
// must close the reader.
func (s *AdminService) DocumentContent(ctx context.Context, id string) (domain.KYCDocument, io.ReadCloser, error) {
	doc, err := s.kyc.GetDocument(ctx, id)
	if err != nil {
		return domain.KYCDocument{}, nil, fmt.Errorf("admin_service: get document %q: %w", id, err)
	}
	rc, err := s.blob.Get(ctx, doc.StorageKey)
	if err != nil {
		return domain.KYCDocument{}, nil, fmt.Errorf("admin_service: fetch document %q: %w", id, err)
	}
	return doc, rc, nil
}

// ReviewKYCParams carries an admin decision over a user's submission.
type ReviewKYCParams struct {
	Decision domain.KYCStatus
	Note     string
}

// ReviewKYC approves or rejects a user's pending submission. One
// decision covers the whole submitted document set. Rejections require
// a note so the user knows what to fix.
func (s *AdminService) ReviewKYC(ctx context.Context, reviewerID, userID string, p ReviewKYCParams) (domain.User, error) {
	if p.Decision != domain.KYCApproved && p.Decision != domain.KYCRejected {
		return domain.User{}, fmt.Errorf("admin_service: %w: decision must be approved or rejected", domain.ErrValidation)
	}
	if p.Decision == domain.KYCRejected && strings.TrimSpace(p.Note) == "" {
		return domain.User{}, fmt.Errorf("admin_service: %w: rejection requires a note", domain.ErrValidation)
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("admin_service: get user %q: %w", userID, err)
	}
	if !u.KYCStatus.CanTransitionTo(p.Decision) {
		return domain.User{}, fmt.Errorf("admin_service: %w: cannot review user in status %s", domain.ErrInvalidTransition, u.KYCStatus)
	}

	if err := s.users.UpdateKYCStatus(ctx, userID, u.KYCStatus, p.Decision); err != nil {
		return domain.User{}, fmt.Errorf("admin_service: update kyc status: %w", err)
	}

	review := domain.KYCReview{
		UserID:     userID,
		Decision:   p.Decision,
		Note:       strings.TrimSpace(p.Note),
		ReviewerID: reviewerID,
		ReviewedAt: time.Now().UTC(),
	}
	if err := s.kyc.RecordReview(ctx, review); err != nil {
		// The status already moved; losing the review note is not
		// worth failing the decision over.
		s.logger.WarnContext(ctx, "admin_service: record review failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, "kyc.review", reviewerID, map[string]any{
		"user_id":  userID,
		"decision": string(p.Decision),
		"note":     review.Note,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "admin_service: audit log failed",
			slog.String("user_id", userID),
			slog.String("error", auditErr.Error()),
		)
	}

	ev := domain.OpsEvent{
		Kind:    domain.EventKYCReviewed,
		Summary: fmt.Sprintf("KYC %s", p.Decision),
		Fields: map[string]string{
			"user":     u.Email,
			"decision": string(p.Decision),
		},
		CreatedAt: review.ReviewedAt,
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "admin_service: kyc notification failed",
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "admin_service: kyc reviewed",
		slog.String("user_id", userID),
		slog.String("decision", string(p.Decision)),
	)

	u.KYCStatus = p.Decision
	u.UpdatedAt = review.ReviewedAt
	return u, nil
}

// Audit returns audit log entries, newest first.
func (s *AdminService) Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("admin_service: list audit: %w", err)
	}
	return entries, nil
}
