package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/service"
)

// maxUploadBytes caps the multipart request body. Slightly above the
// per-document limit so the service can answer with a clean
// validation error instead of a truncated-body failure.
const maxUploadBytes = 11 << 20

// KYCService defines the document-submission methods the handler
// requires from the service layer.
type KYCService interface {
	SubmitKYCDocument(ctx context.Context, userID string, p service.SubmitKYCParams) (domain.KYCDocument, error)
	KYCDocuments(ctx context.Context, userID string) ([]domain.KYCDocument, error)
	Profile(ctx context.Context, userID string) (domain.User, error)
}

// KYCHandler serves the self-service verification endpoints.
type KYCHandler struct {
	users  KYCService
	logger *slog.Logger
}

// NewKYCHandler creates a KYCHandler.
func NewKYCHandler(users KYCService, logger *slog.Logger) *KYCHandler {
	return &KYCHandler{
		users:  users,
		logger: logger,
	}
}

// Submit uploads one verification document. Multipart form with a
// "document_type" field and the content under "file".
// POST /api/kyc/documents
func (h *KYCHandler) Submit(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}

	docType, err := domain.ParseKYCDocumentType(r.FormValue("document_type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	doc, err := h.users.SubmitKYCDocument(r.Context(), p.UserID, service.SubmitKYCParams{
		Type:        docType,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		SizeBytes:   header.Size,
		Content:     file,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to submit document")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"document": doc})
}

type documentsResponse struct {
	Documents []domain.KYCDocument `json:"documents"`
}

// Documents lists the caller's uploaded verification documents.
// GET /api/kyc/documents
func (h *KYCHandler) Documents(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	docs, err := h.users.KYCDocuments(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list documents")
		return
	}

	if docs == nil {
		docs = []domain.KYCDocument{}
	}
	writeJSON(w, http.StatusOK, documentsResponse{Documents: docs})
}

// Status returns the caller's verification state so the SPA can gate
// the trading screens client-side.
// GET /api/kyc/status
func (h *KYCHandler) Status(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	u, err := h.users.Profile(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"kyc_status": u.KYCStatus,
		"can_trade":  u.CanTrade(),
	})
}
