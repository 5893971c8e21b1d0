package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/notify"
)

// maxKYCDocumentBytes caps a single document upload at 10 MiB.
const maxKYCDocumentBytes = 10 << 20

// kycContentTypes lists the accepted document content types.
var kycContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
}

// UserService handles account self-service: profile, balances and KYC
// submission. Document content goes to blob storage; only metadata
// touches Postgres.
type UserService struct {
	users    domain.UserStore
	balances domain.BalanceStore
	kyc      domain.KYCStore
	blob     domain.BlobWriter
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewUserService creates a UserService with all required dependencies.
func NewUserService(
	users domain.UserStore,
	balances domain.BalanceStore,
	kyc domain.KYCStore,
	blob domain.BlobWriter,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		users:    users,
		balances: balances,
		kyc:      kyc,
		blob:     blob,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
	}
}

// Profile returns the caller's account.
func (s *UserService) Profile(ctx context.Context, userID string) (domain.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("user_service: get user %q: %w", userID, err)
	}
	return u, nil
}

// Balances returns the caller's holdings with every asset present.
// Rows are created lazily on first trade, so missing assets read as
// zero here.
func (s *UserService) Balances(ctx context.Context, userID string) ([]domain.Balance, error) {
	rows, err := s.balances.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user_service: list balances: %w", err)
	}
	return fillMissingAssets(userID, rows), nil
}

// fillMissingAssets pads a balance listing with zero rows for assets
// the user has never held.
func fillMissingAssets(userID string, rows []domain.Balance) []domain.Balance {
	byAsset := make(map[domain.Asset]domain.Balance, len(rows))
	for _, b := range rows {
		byAsset[b.Asset] = b
	}

	out := make([]domain.Balance, 0, 3)
	for _, asset := range []domain.Asset{domain.AssetEUR, domain.AssetEUA, domain.AssetCEA} {
		b, ok := byAsset[asset]
		if !ok {
			b = domain.Balance{UserID: userID, Asset: asset}
		}
		out = append(out, b)
	}
	return out
}

// SubmitKYCParams describes one document upload.
type SubmitKYCParams struct {
	Type        domain.KYCDocumentType
	FileName    string
	ContentType string
	SizeBytes   int64
	Content     io.Reader
}

// SubmitKYCDocument stores a verification document and moves the
// account into the pending queue. Additional documents may be added
// while a submission is already pending; approved accounts cannot
// resubmit.
func (s *UserService) SubmitKYCDocument(ctx context.Context, userID string, p SubmitKYCParams) (domain.KYCDocument, error) {
	if !kycContentTypes[p.ContentType] {
		return domain.KYCDocument{}, fmt.Errorf("user_service: %w: unsupported content type %q", domain.ErrValidation, p.ContentType)
	}
	if p.SizeBytes <= 0 || p.SizeBytes > maxKYCDocumentBytes {
		return domain.KYCDocument{}, fmt.Errorf("user_service: %w: document size out of bounds", domain.ErrValidation)
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.KYCDocument{}, fmt.Errorf("user_service: get user %q: %w", userID, err)
	}
	if u.KYCStatus != domain.KYCPending && !u.KYCStatus.CanTransitionTo(domain.KYCPending) {
		return domain.KYCDocument{}, fmt.Errorf("user_service: %w: cannot submit from status %s", domain.ErrInvalidTransition, u.KYCStatus)
	}

	doc := domain.KYCDocument{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        p.Type,
		FileName:    p.FileName,
		ContentType: p.ContentType,
		SizeBytes:   p.SizeBytes,
		CreatedAt:   time.Now().UTC(),
	}
	doc.StorageKey = fmt.Sprintf("kyc/%s/%s", userID, doc.ID)

	// SizeBytes is client-declared; the reader is capped so an
	// oversized body cannot sneak past the check above.
	content := io.LimitReader(p.Content, maxKYCDocumentBytes)
	if err := s.blob.Put(ctx, doc.StorageKey, content, p.ContentType); err != nil {
		return domain.KYCDocument{}, fmt.Errorf("user_service: store document: %w", err)
	}

	if err := s.kyc.CreateDocument(ctx, doc); err != nil {
		// Best effort: do not leave orphaned content behind.
		if delErr := s.blob.Delete(ctx, doc.StorageKey); delErr != nil {
			s.logger.WarnContext(ctx, "user_service: orphan document cleanup failed",
				slog.String("storage_key", doc.StorageKey),
				slog.String("error", delErr.Error()),
			)
		}
		return domain.KYCDocument{}, fmt.Errorf("user_service: create document row: %w", err)
	}

	if u.KYCStatus != domain.KYCPending {
		if err := s.users.UpdateKYCStatus(ctx, userID, u.KYCStatus, domain.KYCPending); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				// A concurrent review moved the status; the document
				// itself is stored and listed either way.
				s.logger.WarnContext(ctx, "user_service: kyc status moved during submit",
					slog.String("user_id", userID),
				)
			} else {
				return domain.KYCDocument{}, fmt.Errorf("user_service: update kyc status: %w", err)
			}
		}
	}

	if auditErr := s.audit.Log(ctx, "kyc.submit", userID, map[string]any{
		"document_id": doc.ID,
		"type":        string(doc.Type),
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "user_service: audit log failed",
			slog.String("user_id", userID),
			slog.String("error", auditErr.Error()),
		)
	}

	ev := domain.OpsEvent{
		Kind:    domain.EventKYCSubmitted,
		Summary: "KYC documents submitted",
		Fields: map[string]string{
			"user":     u.Email,
			"document": string(doc.Type),
		},
		CreatedAt: doc.CreatedAt,
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "user_service: kyc notification failed",
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user_service: kyc document submitted",
		slog.String("user_id", userID),
		slog.String("document_id", doc.ID),
		slog.String("type", string(doc.Type)),
	)
	return doc, nil
}

// KYCDocuments lists the caller's uploaded documents.
func (s *UserService) KYCDocuments(ctx context.Context, userID string) ([]domain.KYCDocument, error) {
	docs, err := s.kyc.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user_service: list documents: %w", err)
	}
	return docs, nil
}
