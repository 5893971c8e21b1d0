package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/service"
)

// ContactService defines the contact-workflow methods the handler
// requires from the service layer.
type ContactService interface {
	Submit(ctx context.Context, p service.SubmitContactParams) (domain.ContactRequest, error)
	List(ctx context.Context, status domain.ContactStatus, opts domain.ListOpts) ([]domain.ContactRequest, error)
	Update(ctx context.Context, actorID, id string, p service.UpdateContactParams) (domain.ContactRequest, error)
}

// ContactHandler serves the public contact form and its back-office
// workflow.
type ContactHandler struct {
	contacts ContactService
	logger   *slog.Logger
}

// NewContactHandler creates a ContactHandler.
func NewContactHandler(contacts ContactService, logger *slog.Logger) *ContactHandler {
	return &ContactHandler{
		contacts: contacts,
		logger:   logger,
	}
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Message string `json:"message"`
}

// Submit records a message from the public contact form.
// POST /api/contact
func (h *ContactHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cr, err := h.contacts.Submit(r.Context(), service.SubmitContactParams{
		Name:    req.Name,
		Email:   req.Email,
		Company: req.Company,
		Message: req.Message,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to submit contact request")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"contact_request": cr})
}

type contactListResponse struct {
	ContactRequests []domain.ContactRequest `json:"contact_requests"`
}

// List returns contact requests for the back office, optionally
// filtered by status.
// GET /api/admin/contact-requests?status=
func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	var status domain.ContactStatus
	if v := r.URL.Query().Get("status"); v != "" {
		parsed, err := domain.ParseContactStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
	}

	requests, err := h.contacts.List(r.Context(), status, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list contact requests")
		return
	}

	if requests == nil {
		requests = []domain.ContactRequest{}
	}
	writeJSON(w, http.StatusOK, contactListResponse{ContactRequests: requests})
}

type updateContactRequest struct {
	Status     *string `json:"status"`
	AssignedTo *string `json:"assigned_to"`
}

// Update moves a contact request through the workflow. Omitted fields
// keep their current value.
// PATCH /api/admin/contact-requests/{id}
func (h *ContactHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing contact request id")
		return
	}

	var req updateContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var params service.UpdateContactParams
	if req.Status != nil {
		status, err := domain.ParseContactStatus(*req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.Status = &status
	}
	params.AssignedTo = req.AssignedTo

	cr, err := h.contacts.Update(r.Context(), p.UserID, id, params)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to update contact request")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"contact_request": cr})
}
