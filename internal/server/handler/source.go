package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/service"
)

// SourceService defines the scrape-source administration methods the
// handler requires from the service layer.
type SourceService interface {
	Create(ctx context.Context, actorID string, p service.SourceParams) (domain.ScrapeSource, error)
	Update(ctx context.Context, actorID, id string, p service.SourceParams) (domain.ScrapeSource, error)
	Delete(ctx context.Context, actorID, id string) error
	Get(ctx context.Context, id string) (domain.ScrapeSource, error)
	List(ctx context.Context) ([]domain.ScrapeSource, error)
	Test(ctx context.Context, id string) (service.SourceTestResult, error)
}

// SourceHandler serves the reference-price source settings panel.
type SourceHandler struct {
	sources SourceService
	logger  *slog.Logger
}

// NewSourceHandler creates a SourceHandler.
func NewSourceHandler(sources SourceService, logger *slog.Logger) *SourceHandler {
	return &SourceHandler{
		sources: sources,
		logger:  logger,
	}
}

type sourceRequest struct {
	Name            string          `json:"name"`
	Certificate     string          `json:"certificate_type"`
	URL             string          `json:"url"`
	Parser          string          `json:"parser"`
	FieldPath       string          `json:"field_path"`
	ScaleFactor     decimal.Decimal `json:"scale_factor"`
	IntervalSeconds int             `json:"interval_seconds"`
	Enabled         bool            `json:"enabled"`
}

func (req sourceRequest) params() service.SourceParams {
	return service.SourceParams{
		Name:        req.Name,
		Certificate: domain.CertificateType(req.Certificate),
		URL:         req.URL,
		Parser:      req.Parser,
		FieldPath:   req.FieldPath,
		ScaleFactor: req.ScaleFactor,
		Interval:    time.Duration(req.IntervalSeconds) * time.Second,
		Enabled:     req.Enabled,
	}
}

type sourcesResponse struct {
	Sources []domain.ScrapeSource `json:"sources"`
}

// List returns all configured sources with their health fields.
// GET /api/admin/scrape-sources
func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sources.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list sources")
		return
	}

	if sources == nil {
		sources = []domain.ScrapeSource{}
	}
	writeJSON(w, http.StatusOK, sourcesResponse{Sources: sources})
}

// Get returns one source.
// GET /api/admin/scrape-sources/{id}
func (h *SourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	src, err := h.sources.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load source")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": src})
}

// Create registers a new scrape source. The scraper picks it up on
// its next reload cycle.
// POST /api/admin/scrape-sources
func (h *SourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	src, err := h.sources.Create(r.Context(), p.UserID, req.params())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to create source")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"source": src})
}

// Update replaces a source's configuration, keeping its health
// history.
// PUT /api/admin/scrape-sources/{id}
func (h *SourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	src, err := h.sources.Update(r.Context(), p.UserID, pathParam(r, "id"), req.params())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to update source")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"source": src})
}

// Delete removes a source.
// DELETE /api/admin/scrape-sources/{id}
func (h *SourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	id := pathParam(r, "id")
	if err := h.sources.Delete(r.Context(), p.UserID, id); err != nil {
		writeServiceError(w, r, h.logger, err, "failed to delete source")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
		"id":     id,
	})
}

// Test fetches the source once without persisting anything, so an
// admin can check a configuration before enabling it.
// POST /api/admin/scrape-sources/{id}/test
func (h *SourceHandler) Test(w http.ResponseWriter, r *http.Request) {
	result, err := h.sources.Test(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to test source")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
