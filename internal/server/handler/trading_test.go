package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/service"
)

type fakeTradingService struct {
	preview    domain.OrderPreview
	previewErr error
	outcome    *domain.ExecutionOutcome
	executeErr error
	execs      []domain.Execution
	listErr    error

	gotUserID string
	gotParams service.ExecuteParams
}

func (f *fakeTradingService) Preview(ctx context.Context, cert domain.CertificateType, side domain.OrderSide, amount decimal.Decimal, allOrNone bool) (domain.OrderPreview, error) {
	return f.preview, f.previewErr
}

func (f *fakeTradingService) Execute(ctx context.Context, userID string, p service.ExecuteParams) (*domain.ExecutionOutcome, error) {
	f.gotUserID = userID
	f.gotParams = p
	return f.outcome, f.executeErr
}

func (f *fakeTradingService) GetExecution(ctx context.Context, id, userID string) (*domain.ExecutionOutcome, error) {
	if f.outcome == nil || f.outcome.Execution.ID != id {
		return nil, domain.ErrNotFound
	}
	return f.outcome, nil
}

func (f *fakeTradingService) ListExecutions(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Execution, error) {
	return f.execs, f.listErr
}

func filledOutcome() *domain.ExecutionOutcome {
	return &domain.ExecutionOutcome{
		Execution: domain.Execution{
			ID:               "exec-1",
			Certificate:      domain.CertificateEUA,
			Side:             domain.OrderSideBuy,
			Amount:           dec("100"),
			TotalQuantity:    dec("5"),
			TotalCostGross:   dec("100"),
			TotalCostNet:     dec("99.50"),
			FeeAmount:        dec("0.50"),
			WeightedAvgPrice: dec("20"),
			Status:           domain.ExecutionStatusFilled,
		},
		Trades:             []domain.Trade{{ExecutionID: "exec-1", Price: dec("19.90"), Quantity: dec("5")}},
		EURBalance:         dec("900"),
		CertificateBalance: dec("5"),
	}
}

func TestPreviewQueryValidation(t *testing.T) {
	h := NewTradingHandler(&fakeTradingService{}, testLogger())

	tests := []struct {
		name  string
		query string
	}{
		{"missing certificate", "side=buy&amount=100"},
		{"bad certificate", "certificate_type=GOLD&side=buy&amount=100"},
		{"bad side", "certificate_type=EUA&side=hold&amount=100"},
		{"missing amount", "certificate_type=EUA&side=buy"},
		{"bad amount", "certificate_type=EUA&side=buy&amount=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/cash-market/preview?"+tt.query, nil)
			h.Preview(rec, r)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestPreviewOK(t *testing.T) {
	svc := &fakeTradingService{preview: domain.OrderPreview{
		Certificate:   domain.CertificateEUA,
		Side:          domain.OrderSideBuy,
		Amount:        dec("100"),
		TotalQuantity: dec("4"),
		CanExecute:    true,
	}}
	h := NewTradingHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/cash-market/preview?certificate_type=EUA&side=buy&amount=100", nil)
	h.Preview(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got domain.OrderPreview
	decodeBody(t, rec, &got)
	if !got.CanExecute || !got.TotalQuantity.Equal(dec("4")) {
		t.Errorf("preview = %+v", got)
	}
}

func TestExecuteRequiresPrincipal(t *testing.T) {
	h := NewTradingHandler(&fakeTradingService{}, testLogger())

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/cash-market/execute", strings.NewReader(`{}`))
	h.Execute(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestExecuteFilled(t *testing.T) {
	svc := &fakeTradingService{outcome: filledOutcome()}
	h := NewTradingHandler(svc, testLogger())

	body := `{"certificate_type":"EUA","side":"buy","amount":"100","all_or_none":true}`
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/cash-market/execute", strings.NewReader(body))
	r.Header.Set("Idempotency-Key", "key-123")
	h.Execute(rec, asUser(r, "user-1", domain.RoleUser))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.gotUserID != "user-1" {
		t.Errorf("userID = %q, want user-1", svc.gotUserID)
	}
	if svc.gotParams.IdempotencyKey != "key-123" {
		t.Errorf("idempotency key = %q, want key-123", svc.gotParams.IdempotencyKey)
	}
	if !svc.gotParams.AllOrNone || !svc.gotParams.Amount.Equal(dec("100")) {
		t.Errorf("params = %+v", svc.gotParams)
	}

	var got executeResponse
	decodeBody(t, rec, &got)
	if !got.Success || got.OrderID != "exec-1" {
		t.Errorf("response = %+v", got)
	}
	if !got.EURBalance.Equal(dec("900")) {
		t.Errorf("eur_balance = %s, want 900", got.EURBalance)
	}
	if len(got.Trades) != 1 {
		t.Errorf("trades = %d, want 1", len(got.Trades))
	}
}

func TestExecuteRejectedIs400(t *testing.T) {
	outcome := &domain.ExecutionOutcome{
		Execution: domain.Execution{
			ID:      "exec-2",
			Status:  domain.ExecutionStatusRejected,
			Message: "insufficient liquidity",
		},
	}
	h := NewTradingHandler(&fakeTradingService{outcome: outcome}, testLogger())

	body := `{"certificate_type":"CEA","side":"sell","amount":"10"}`
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/cash-market/execute", strings.NewReader(body))
	h.Execute(rec, asUser(r, "user-1", domain.RoleUser))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var got executeResponse
	decodeBody(t, rec, &got)
	if got.Success {
		t.Error("success = true for a rejected execution")
	}
	if got.Message != "insufficient liquidity" {
		t.Errorf("message = %q", got.Message)
	}
	if got.Trades == nil {
		t.Error("trades should marshal as [], not null")
	}
}

func TestExecuteServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"kyc required", domain.ErrKYCRequired, http.StatusForbidden},
		{"insufficient funds", domain.ErrInsufficientFunds, http.StatusPaymentRequired},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
		{"execution in progress", domain.ErrExecutionInProgress, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewTradingHandler(&fakeTradingService{executeErr: tt.err}, testLogger())
			body := `{"certificate_type":"EUA","side":"buy","amount":"100"}`
			rec := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/cash-market/execute", strings.NewReader(body))
			h.Execute(rec, asUser(r, "user-1", domain.RoleUser))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestGetExecution(t *testing.T) {
	svc := &fakeTradingService{outcome: filledOutcome()}
	h := NewTradingHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/account/executions/exec-1", nil)
	r.SetPathValue("orderID", "exec-1")
	h.GetExecution(rec, asUser(r, "user-1", domain.RoleUser))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got executeResponse
	decodeBody(t, rec, &got)
	if got.OrderID != "exec-1" {
		t.Errorf("order_id = %q", got.OrderID)
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	h := NewTradingHandler(&fakeTradingService{}, testLogger())

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/account/executions/nope", nil)
	r.SetPathValue("orderID", "nope")
	h.GetExecution(rec, asUser(r, "user-1", domain.RoleUser))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListExecutionsEmpty(t *testing.T) {
	h := NewTradingHandler(&fakeTradingService{}, testLogger())

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/account/executions", nil)
	h.ListExecutions(rec, asUser(r, "user-1", domain.RoleUser))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"executions":[]`) {
		t.Errorf("body = %s, want empty array", rec.Body.String())
	}
}
