package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/service"
)

// AdminService defines the back-office methods the handler requires
// from the service layer.
type AdminService interface {
	ListUsers(ctx context.Context, filter domain.UserFilter, opts domain.ListOpts) (service.UserPage, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
	UpdateUser(ctx context.Context, actorID, id string, p service.UpdateUserParams) (domain.User, error)
	UserBalances(ctx context.Context, userID string) ([]domain.Balance, error)
	AdjustBalance(ctx context.Context, actorID, userID string, p service.AdjustBalanceParams) (domain.Balance, error)
	UserAdjustments(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.BalanceAdjustment, error)
	PendingKYC(ctx context.Context, opts domain.ListOpts) ([]domain.User, error)
	UserDocuments(ctx context.Context, userID string) ([]domain.KYCDocument, error)
	DocumentContent(ctx context.Context, id string) (domain.KYCDocument, io.ReadCloser, error)
	ReviewKYC(ctx context.Context, reviewerID, userID string, p service.ReviewKYCParams) (domain.User, error)
	Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AdminHandler serves the back-office console endpoints. Every route
// sits behind the admin role guard.
type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		logger: logger,
	}
}

// ListUsers returns a filtered page of accounts.
// GET /api/admin/users?role=&kyc_status=&search=
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter domain.UserFilter

	if v := q.Get("role"); v != "" {
		role, err := domain.ParseRole(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Role = role
	}
	if v := q.Get("kyc_status"); v != "" {
		filter.KYCStatus = domain.KYCStatus(v)
	}
	filter.Search = q.Get("search")

	page, err := h.admin.ListUsers(r.Context(), filter, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list users")
		return
	}

	if page.Users == nil {
		page.Users = []domain.User{}
	}
	writeJSON(w, http.StatusOK, page)
}

// GetUser returns one account.
// GET /api/admin/users/{id}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.admin.GetUser(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

type updateUserRequest struct {
	Role   *string `json:"role"`
	Active *bool   `json:"active"`
}

// UpdateUser patches an account's role or active flag. Omitted fields
// keep their current value.
// PATCH /api/admin/users/{id}
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var params service.UpdateUserParams
	if req.Role != nil {
		role, err := domain.ParseRole(*req.Role)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.Role = &role
	}
	params.Active = req.Active

	u, err := h.admin.UpdateUser(r.Context(), p.UserID, pathParam(r, "id"), params)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to update user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

// UserBalances returns one account's balances.
// GET /api/admin/users/{id}/balances
func (h *AdminHandler) UserBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.admin.UserBalances(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load balances")
		return
	}
	writeJSON(w, http.StatusOK, balancesResponse{Balances: balances})
}

type adjustBalanceRequest struct {
	Asset  string          `json:"asset"`
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason"`
}

// AdjustBalance credits or debits an account to mirror an
// off-platform transfer.
// POST /api/admin/users/{id}/balance
func (h *AdminHandler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req adjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	balance, err := h.admin.AdjustBalance(r.Context(), p.UserID, pathParam(r, "id"), service.AdjustBalanceParams{
		Asset:  domain.Asset(req.Asset),
		Delta:  req.Delta,
		Reason: req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to adjust balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

type adjustmentsResponse struct {
	Adjustments []domain.BalanceAdjustment `json:"adjustments"`
}

// UserAdjustments returns an account's manual adjustment history.
// GET /api/admin/users/{id}/adjustments
func (h *AdminHandler) UserAdjustments(w http.ResponseWriter, r *http.Request) {
	adjustments, err := h.admin.UserAdjustments(r.Context(), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list adjustments")
		return
	}

	if adjustments == nil {
		adjustments = []domain.BalanceAdjustment{}
	}
	writeJSON(w, http.StatusOK, adjustmentsResponse{Adjustments: adjustments})
}

// PendingKYC returns accounts waiting for review.
// GET /api/admin/kyc/pending
func (h *AdminHandler) PendingKYC(w http.ResponseWriter, r *http.Request) {
	users, err := h.admin.PendingKYC(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list pending users")
		return
	}

	if users == nil {
		users = []domain.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// UserDocuments lists one account's verification documents for the
// review screen.
// GET /api/admin/kyc/users/{id}/documents
func (h *AdminHandler) UserDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.admin.UserDocuments(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list documents")
		return
	}

	if docs == nil {
		docs = []domain.KYCDocument{}
	}
	writeJSON(w, http.StatusOK, documentsResponse{Documents: docs})
}

// DocumentContent streams a stored document to the reviewer.
// GET /api/admin/kyc/documents/{id}/content
func (h *AdminHandler) DocumentContent(w http.ResponseWriter, r *http.Request) {
	doc, content, err := h.admin.DocumentContent(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load document")
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", `inline; filename="`+doc.FileName+`"`)
	if doc.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.SizeBytes, 10))
	}
	if _, err := io.Copy(w, content); err != nil {
		h.logger.WarnContext(r.Context(), "handler: document stream interrupted",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()),
		)
	}
}

type reviewKYCRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

// ReviewKYC approves or rejects an account's submission. One decision
// covers the whole document set.
// POST /api/admin/kyc/users/{id}/review
func (h *AdminHandler) ReviewKYC(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req reviewKYCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	u, err := h.admin.ReviewKYC(r.Context(), p.UserID, pathParam(r, "id"), service.ReviewKYCParams{
		Decision: domain.KYCStatus(req.Decision),
		Note:     req.Note,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to review submission")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// Audit returns the audit trail, newest first.
// GET /api/admin/audit
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.admin.Audit(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list audit entries")
		return
	}

	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Entries: entries})
}
