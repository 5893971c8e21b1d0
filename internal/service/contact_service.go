package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/notify"
)

const maxContactMessageLen = 4000

// ContactService accepts public contact-form submissions and backs the
// admin workflow that handles them.
type ContactService struct {
	contacts domain.ContactStore
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewContactService creates a ContactService with all required dependencies.
func NewContactService(
	contacts domain.ContactStore,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *ContactService {
	return &ContactService{
		contacts: contacts,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
	}
}

// SubmitContactParams carries a public contact-form submission.
type SubmitContactParams struct {
	Name    string
	Email   string
	Company string
	Message string
}

// Submit records a contact request and alerts the sales team. The
// caller is unauthenticated, so the audit entry carries no actor.
func (s *ContactService) Submit(ctx context.Context, p SubmitContactParams) (domain.ContactRequest, error) {
	if err := validateContact(p); err != nil {
		return domain.ContactRequest{}, err
	}

	now := time.Now().UTC()
	req := domain.ContactRequest{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(p.Name),
		Email:     domain.NormalizeEmail(p.Email),
		Company:   strings.TrimSpace(p.Company),
		Message:   strings.TrimSpace(p.Message),
		Status:    domain.ContactStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.contacts.Create(ctx, req); err != nil {
		return domain.ContactRequest{}, fmt.Errorf("contact_service: create request: %w", err)
	}

	if auditErr := s.audit.Log(ctx, "contact.create", "", map[string]any{
		"request_id": req.ID,
		"email":      req.Email,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "contact_service: audit log failed",
			slog.String("request_id", req.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	ev := domain.OpsEvent{
		Kind:    domain.EventContactRequest,
		Summary: "New contact request",
		Fields: map[string]string{
			"name":    req.Name,
			"email":   req.Email,
			"company": req.Company,
		},
		CreatedAt: now,
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "contact_service: notification failed",
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "contact_service: request submitted",
		slog.String("request_id", req.ID),
	)
	return req, nil
}

// List returns contact requests, newest first. An empty status returns
// every request.
func (s *ContactService) List(ctx context.Context, status domain.ContactStatus, opts domain.ListOpts) ([]domain.ContactRequest, error) {
	reqs, err := s.contacts.List(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("contact_service: list requests: %w", err)
	}
	return reqs, nil
}

// UpdateContactParams patches a contact request. Nil fields keep their
// current value; an empty AssignedTo clears the assignee.
type UpdateContactParams struct {
	Status     *domain.ContactStatus
	AssignedTo *string
}

// Update moves a contact request through the back-office workflow.
func (s *ContactService) Update(ctx context.Context, actorID, id string, p UpdateContactParams) (domain.ContactRequest, error) {
	current, err := s.contacts.GetByID(ctx, id)
	if err != nil {
		return domain.ContactRequest{}, fmt.Errorf("contact_service: get request %q: %w", id, err)
	}

	status := current.Status
	if p.Status != nil {
		status = *p.Status
	}
	assignedTo := current.AssignedTo
	if p.AssignedTo != nil {
		assignedTo = *p.AssignedTo
	}

	updated, err := s.contacts.Update(ctx, id, status, assignedTo)
	if err != nil {
		return domain.ContactRequest{}, fmt.Errorf("contact_service: update request %q: %w", id, err)
	}

	if auditErr := s.audit.Log(ctx, "admin.contact.update", actorID, map[string]any{
		"request_id":  updated.ID,
		"status":      string(updated.Status),
		"assigned_to": updated.AssignedTo,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "contact_service: audit log failed",
			slog.String("request_id", updated.ID),
			slog.String("error", auditErr.Error()),
		)
	}
	return updated, nil
}

func validateContact(p SubmitContactParams) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("contact_service: %w: name is required", domain.ErrValidation)
	}
	if !strings.Contains(p.Email, "@") {
		return fmt.Errorf("contact_service: %w: invalid email", domain.ErrValidation)
	}
	msg := strings.TrimSpace(p.Message)
	if msg == "" {
		return fmt.Errorf("contact_service: %w: message is required", domain.ErrValidation)
	}
	if len(msg) > maxContactMessageLen {
		return fmt.Errorf("contact_service: %w: message exceeds %d characters", domain.ErrValidation, maxContactMessageLen)
	}
	return nil
}
