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

type fakeAuthService struct {
	user        domain.User
	registerErr error
	session     domain.Session
	loginErr    error
	logoutErr   error

	gotRegister service.RegisterParams
	loggedOut   bool
}

func (f *fakeAuthService) Register(ctx context.Context, p service.RegisterParams) (domain.User, error) {
	f.gotRegister = p
	return f.user, f.registerErr
}

func (f *fakeAuthService) Login(ctx context.Context, email, password string) (domain.Session, domain.User, error) {
	return f.session, f.user, f.loginErr
}

func (f *fakeAuthService) Logout(ctx context.Context, p domain.Principal) error {
	f.loggedOut = true
	return f.logoutErr
}

type fakeProfileReader struct {
	user domain.User
	err  error
}

func (f *fakeProfileReader) Profile(ctx context.Context, userID string) (domain.User, error) {
	return f.user, f.err
}

func TestRegister(t *testing.T) {
	svc := &fakeAuthService{user: domain.User{ID: "user-1", Email: "anna@example.com"}}
	h := NewAuthHandler(svc, &fakeProfileReader{}, testLogger())

	body := `{"email":"anna@example.com","password":"hunter2hunter2","full_name":"Anna Berg","company":"Berg Carbon"}`
	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.gotRegister.Email != "anna@example.com" || svc.gotRegister.FullName != "Anna Berg" {
		t.Errorf("params = %+v", svc.gotRegister)
	}
	if !strings.Contains(rec.Body.String(), `"user"`) {
		t.Errorf("body = %s, want user envelope", rec.Body.String())
	}
}

func TestRegisterBadBody(t *testing.T) {
	h := NewAuthHandler(&fakeAuthService{}, &fakeProfileReader{}, testLogger())

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader("{not json")))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	h := NewAuthHandler(&fakeAuthService{registerErr: domain.ErrAlreadyExists}, &fakeProfileReader{}, testLogger())

	body := `{"email":"anna@example.com","password":"hunter2hunter2","full_name":"Anna"}`
	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body)))

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	svc := &fakeAuthService{
		session: domain.Session{Token: "tok-abc", UserID: "user-1", ExpiresAt: expires},
		user:    domain.User{ID: "user-1", Email: "anna@example.com"},
	}
	h := NewAuthHandler(svc, &fakeProfileReader{}, testLogger())

	body := `{"email":"anna@example.com","password":"hunter2hunter2"}`
	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got loginResponse
	decodeBody(t, rec, &got)
	if got.Token != "tok-abc" {
		t.Errorf("token = %q", got.Token)
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Errorf("expires_at = %v, want %v", got.ExpiresAt, expires)
	}
	if got.User.ID != "user-1" {
		t.Errorf("user = %+v", got.User)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	h := NewAuthHandler(&fakeAuthService{loginErr: domain.ErrInvalidCredentials}, &fakeProfileReader{}, testLogger())

	body := `{"email":"anna@example.com","password":"wrong"}`
	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body)))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid email or password") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestLogout(t *testing.T) {
	svc := &fakeAuthService{}
	h := NewAuthHandler(svc, &fakeProfileReader{}, testLogger())

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	h.Logout(rec, asUser(r, "user-1", domain.RoleUser))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !svc.loggedOut {
		t.Error("Logout not called on service")
	}
}

func TestSession(t *testing.T) {
	users := &fakeProfileReader{user: domain.User{ID: "user-1", Email: "anna@example.com", KYCStatus: domain.KYCApproved}}
	h := NewAuthHandler(&fakeAuthService{}, users, testLogger())

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	h.Session(rec, asUser(r, "user-1", domain.RoleUser))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"kyc_status":"approved"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestSessionRequiresPrincipal(t *testing.T) {
	h := NewAuthHandler(&fakeAuthService{}, &fakeProfileReader{}, testLogger())

	rec := httptest.NewRecorder()
	h.Session(rec, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
