package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
)

const minSourceInterval = 5 * time.Second

// SourceTester fetches a price from a source configuration without
// recording the attempt. The scrape pipeline's HTTP client satisfies it.
type SourceTester interface {
	Fetch(ctx context.Context, src domain.ScrapeSource) (decimal.Decimal, error)
}

// SourceService manages the scrape source configurations the price
// pipeline polls.
type SourceService struct {
	sources domain.SourceStore
	audit   domain.AuditStore
	tester  SourceTester
	logger  *slog.Logger
}

// NewSourceService creates a SourceService with all required dependencies.
func NewSourceService(
	sources domain.SourceStore,
	audit domain.AuditStore,
	tester SourceTester,
	logger *slog.Logger,
) *SourceService {
	return &SourceService{
		sources: sources,
		audit:   audit,
		tester:  tester,
		logger:  logger,
	}
}

// SourceParams carries the admin-editable fields of a scrape source.
type SourceParams struct {
	Name        string
	Certificate domain.CertificateType
	URL         string
	Parser      string
	FieldPath   string
	ScaleFactor decimal.Decimal
	Interval    time.Duration
	Enabled     bool
}

// Create registers a new scrape source. It starts in status pending
// until the pipeline first polls it.
func (s *SourceService) Create(ctx context.Context, actorID string, p SourceParams) (domain.ScrapeSource, error) {
	p, err := normalizeSource(p)
	if err != nil {
		return domain.ScrapeSource{}, err
	}

	now := time.Now().UTC()
	src := domain.ScrapeSource{
		ID:          uuid.NewString(),
		Name:        p.Name,
		Certificate: p.Certificate,
		URL:         p.URL,
		Parser:      p.Parser,
		FieldPath:   p.FieldPath,
		ScaleFactor: p.ScaleFactor,
		Interval:    p.Interval,
		Enabled:     p.Enabled,
		LastStatus:  domain.SourceStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := s.sources.Create(ctx, src)
	if err != nil {
		return domain.ScrapeSource{}, fmt.Errorf("source_service: create source: %w", err)
	}

	s.auditSource(ctx, "admin.source.create", actorID, created)
	s.logger.InfoContext(ctx, "source_service: source created",
		slog.String("source_id", created.ID),
		slog.String("name", created.Name),
	)
	return created, nil
}

// Update replaces a source's configuration. Health fields (last
// status, price, error) are untouched.
func (s *SourceService) Update(ctx context.Context, actorID, id string, p SourceParams) (domain.ScrapeSource, error) {
	p, err := normalizeSource(p)
	if err != nil {
		return domain.ScrapeSource{}, err
	}

	src, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return domain.ScrapeSource{}, fmt.Errorf("source_service: get source %q: %w", id, err)
	}
	src.Name = p.Name
	src.Certificate = p.Certificate
	src.URL = p.URL
	src.Parser = p.Parser
	src.FieldPath = p.FieldPath
	src.ScaleFactor = p.ScaleFactor
	src.Interval = p.Interval
	src.Enabled = p.Enabled

	updated, err := s.sources.Update(ctx, src)
	if err != nil {
		return domain.ScrapeSource{}, fmt.Errorf("source_service: update source %q: %w", id, err)
	}

	s.auditSource(ctx, "admin.source.update", actorID, updated)
	return updated, nil
}

// Delete removes a scrape source.
func (s *SourceService) Delete(ctx context.Context, actorID, id string) error {
	if err := s.sources.Delete(ctx, id); err != nil {
		return fmt.Errorf("source_service: delete source %q: %w", id, err)
	}

	if auditErr := s.audit.Log(ctx, "admin.source.delete", actorID, map[string]any{
		"source_id": id,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "source_service: audit log failed",
			slog.String("source_id", id),
			slog.String("error", auditErr.Error()),
		)
	}
	return nil
}

// Get returns one source with its health fields.
func (s *SourceService) Get(ctx context.Context, id string) (domain.ScrapeSource, error) {
	src, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return domain.ScrapeSource{}, fmt.Errorf("source_service: get source %q: %w", id, err)
	}
	return src, nil
}

// List returns all sources, enabled or not.
func (s *SourceService) List(ctx context.Context) ([]domain.ScrapeSource, error) {
	srcs, err := s.sources.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("source_service: list sources: %w", err)
	}
	return srcs, nil
}

// SourceTestResult reports a dry-run fetch of a source.
type SourceTestResult struct {
	OK        bool            `json:"ok"`
	Price     decimal.Decimal `json:"price"`
	Error     string          `json:"error,omitempty"`
	ElapsedMS int64           `json:"elapsed_ms"`
}

// Test fetches the source once without touching its health record, so
// an admin can verify a configuration before enabling it. A failed
// fetch is a normal test outcome, not an error.
func (s *SourceService) Test(ctx context.Context, id string) (SourceTestResult, error) {
	src, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return SourceTestResult{}, fmt.Errorf("source_service: get source %q: %w", id, err)
	}

	start := time.Now()
	price, err := s.tester.Fetch(ctx, src)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return SourceTestResult{Error: err.Error(), ElapsedMS: elapsed}, nil
	}
	return SourceTestResult{OK: true, Price: price, ElapsedMS: elapsed}, nil
}

func (s *SourceService) auditSource(ctx context.Context, event, actorID string, src domain.ScrapeSource) {
	if err := s.audit.Log(ctx, event, actorID, map[string]any{
		"source_id":   src.ID,
		"name":        src.Name,
		"certificate": string(src.Certificate),
		"url":         src.URL,
		"enabled":     src.Enabled,
	}); err != nil {
		s.logger.WarnContext(ctx, "source_service: audit log failed",
			slog.String("source_id", src.ID),
			slog.String("error", err.Error()),
		)
	}
}

// normalizeSource validates admin input and fills defaults: parser
// "json", scale factor 1, interval 0 (poll at the global cadence).
func normalizeSource(p SourceParams) (SourceParams, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return p, fmt.Errorf("source_service: %w: name is required", domain.ErrValidation)
	}
	if !p.Certificate.Valid() {
		return p, fmt.Errorf("source_service: %w: unknown certificate type %q", domain.ErrValidation, p.Certificate)
	}
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return p, fmt.Errorf("source_service: %w: url must be http or https", domain.ErrValidation)
	}
	if p.Parser == "" {
		p.Parser = "json"
	}
	if p.Parser != "json" {
		return p, fmt.Errorf("source_service: %w: unknown parser %q", domain.ErrValidation, p.Parser)
	}
	if strings.TrimSpace(p.FieldPath) == "" {
		return p, fmt.Errorf("source_service: %w: field_path is required", domain.ErrValidation)
	}
	p.FieldPath = strings.TrimSpace(p.FieldPath)
	if p.ScaleFactor.IsNegative() {
		return p, fmt.Errorf("source_service: %w: scale_factor cannot be negative", domain.ErrValidation)
	}
	if p.ScaleFactor.IsZero() {
		p.ScaleFactor = decimal.NewFromInt(1)
	}
	if p.Interval != 0 && p.Interval < minSourceInterval {
		return p, fmt.Errorf("source_service: %w: interval below %s", domain.ErrValidation, minSourceInterval)
	}
	return p, nil
}
