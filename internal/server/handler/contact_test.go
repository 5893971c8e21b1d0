package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/service"
)

type fakeContactService struct {
	request   domain.ContactRequest
	submitErr error
	requests  []domain.ContactRequest
	listErr   error
	updateErr error

	gotSubmit  service.SubmitContactParams
	gotStatus  domain.ContactStatus
	gotActorID string
	gotID      string
	gotUpdate  service.UpdateContactParams
}

func (f *fakeContactService) Submit(_ context.Context, p service.SubmitContactParams) (domain.ContactRequest, error) {
	f.gotSubmit = p
	return f.request, f.submitErr
}

func (f *fakeContactService) List(_ context.Context, status domain.ContactStatus, _ domain.ListOpts) ([]domain.ContactRequest, error) {
	f.gotStatus = status
	return f.requests, f.listErr
}

func (f *fakeContactService) Update(_ context.Context, actorID, id string, p service.UpdateContactParams) (domain.ContactRequest, error) {
	f.gotActorID = actorID
	f.gotID = id
	f.gotUpdate = p
	return f.request, f.updateErr
}

func newContactRequest() domain.ContactRequest {
	return domain.ContactRequest{
		ID:        "contact-1",
		Name:      "Jane Buyer",
		Email:     "jane@example.com",
		Company:   "Acme Steel",
		Message:   "Interested in EUA volume pricing.",
		Status:    domain.ContactStatusNew,
		CreatedAt: time.Now().UTC(),
	}
}

func TestContactSubmit(t *testing.T) {
	svc := &fakeContactService{request: newContactRequest()}
	h := NewContactHandler(svc, testLogger())

	body := `{"name":"Jane Buyer","email":"jane@example.com","company":"Acme Steel","message":"Interested in EUA volume pricing."}`
	r := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Submit(rec, r)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if svc.gotSubmit.Email != "jane@example.com" || svc.gotSubmit.Company != "Acme Steel" {
		t.Fatalf("unexpected submit params: %+v", svc.gotSubmit)
	}

	var resp struct {
		ContactRequest domain.ContactRequest `json:"contact_request"`
	}
	decodeBody(t, rec, &resp)
	if resp.ContactRequest.ID != "contact-1" || resp.ContactRequest.Status != domain.ContactStatusNew {
		t.Fatalf("unexpected contact request: %+v", resp.ContactRequest)
	}
}

func TestContactSubmitValidation(t *testing.T) {
	svc := &fakeContactService{submitErr: domain.ErrValidation}
	h := NewContactHandler(svc, testLogger())

	r := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(`{"name":"","email":""}`))
	rec := httptest.NewRecorder()
	h.Submit(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestContactList(t *testing.T) {
	svc := &fakeContactService{requests: []domain.ContactRequest{newContactRequest()}}
	h := NewContactHandler(svc, testLogger())

	r := asUser(httptest.NewRequest(http.MethodGet, "/api/admin/contact-requests?status=new", nil), "admin-1", domain.RoleAdmin)
	rec := httptest.NewRecorder()
	h.List(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.gotStatus != domain.ContactStatusNew {
		t.Fatalf("status filter = %q, want new", svc.gotStatus)
	}

	var resp contactListResponse
	decodeBody(t, rec, &resp)
	if len(resp.ContactRequests) != 1 {
		t.Fatalf("requests = %d entries, want 1", len(resp.ContactRequests))
	}
}

func TestContactListBadStatus(t *testing.T) {
	h := NewContactHandler(&fakeContactService{}, testLogger())

	r := asUser(httptest.NewRequest(http.MethodGet, "/api/admin/contact-requests?status=resolved", nil), "admin-1", domain.RoleAdmin)
	rec := httptest.NewRecorder()
	h.List(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestContactListEmptyIsArray(t *testing.T) {
	h := NewContactHandler(&fakeContactService{}, testLogger())

	r := asUser(httptest.NewRequest(http.MethodGet, "/api/admin/contact-requests", nil), "admin-1", domain.RoleAdmin)
	rec := httptest.NewRecorder()
	h.List(rec, r)

	if !strings.Contains(rec.Body.String(), `"contact_requests":[]`) {
		t.Fatalf("empty list should encode as [], got %s", rec.Body.String())
	}
}

func TestContactUpdate(t *testing.T) {
	updated := newContactRequest()
	updated.Status = domain.ContactStatusInProgress
	updated.AssignedTo = "admin-1"
	svc := &fakeContactService{request: updated}
	h := NewContactHandler(svc, testLogger())

	body := `{"status":"in_progress","assigned_to":"admin-1"}`
	r := asUser(httptest.NewRequest(http.MethodPatch, "/api/admin/contact-requests/contact-1", strings.NewReader(body)), "admin-1", domain.RoleAdmin)
	r.SetPathValue("id", "contact-1")
	rec := httptest.NewRecorder()
	h.Update(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if svc.gotActorID != "admin-1" || svc.gotID != "contact-1" {
		t.Fatalf("update called with actor=%q id=%q", svc.gotActorID, svc.gotID)
	}
	if svc.gotUpdate.Status == nil || *svc.gotUpdate.Status != domain.ContactStatusInProgress {
		t.Fatalf("status param = %v, want in_progress", svc.gotUpdate.Status)
	}
	if svc.gotUpdate.AssignedTo == nil || *svc.gotUpdate.AssignedTo != "admin-1" {
		t.Fatalf("assigned_to param = %v, want admin-1", svc.gotUpdate.AssignedTo)
	}
}

func TestContactUpdatePartial(t *testing.T) {
	svc := &fakeContactService{request: newContactRequest()}
	h := NewContactHandler(svc, testLogger())

	r := asUser(httptest.NewRequest(http.MethodPatch, "/api/admin/contact-requests/contact-1", strings.NewReader(`{"assigned_to":"admin-2"}`)), "admin-1", domain.RoleAdmin)
	r.SetPathValue("id", "contact-1")
	rec := httptest.NewRecorder()
	h.Update(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.gotUpdate.Status != nil {
		t.Fatalf("omitted status should stay nil, got %v", *svc.gotUpdate.Status)
	}
}

func TestContactUpdateBadTransition(t *testing.T) {
	svc := &fakeContactService{updateErr: domain.ErrInvalidTransition}
	h := NewContactHandler(svc, testLogger())

	r := asUser(httptest.NewRequest(http.MethodPatch, "/api/admin/contact-requests/contact-1", strings.NewReader(`{"status":"new"}`)), "admin-1", domain.RoleAdmin)
	r.SetPathValue("id", "contact-1")
	rec := httptest.NewRecorder()
	h.Update(rec, r)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}
