package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/carbex/carbex/internal/domain"
)

func newTestUserService(users *fakeUserStore) (*UserService, *fakeBalanceStore, *fakeKYCStore, *fakeBlob, *fakeAuditLog, *captureSender) {
	balances := newFakeBalanceStore()
	kyc := newFakeKYCStore()
	blob := newFakeBlob()
	audit := &fakeAuditLog{}
	sender := &captureSender{}
	svc := NewUserService(users, balances, kyc, blob, audit, testNotifier(sender), testLogger())
	return svc, balances, kyc, blob, audit, sender
}

func TestBalancesPadsMissingAssets(t *testing.T) {
	users := newFakeUserStore(domain.User{ID: "u1"})
	svc, balances, _, _, _, _ := newTestUserService(users)
	balances.set(domain.Balance{UserID: "u1", Asset: domain.AssetEUA, Amount: dec("40")})

	got, err := svc.Balances(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	byAsset := make(map[domain.Asset]domain.Balance, len(got))
	for _, b := range got {
		byAsset[b.Asset] = b
	}
	if !byAsset[domain.AssetEUA].Amount.Equal(dec("40")) {
		t.Errorf("EUA amount = %s, want 40", byAsset[domain.AssetEUA].Amount)
	}
	for _, asset := range []domain.Asset{domain.AssetEUR, domain.AssetCEA} {
		b, ok := byAsset[asset]
		if !ok {
			t.Fatalf("missing %s row", asset)
		}
		if !b.Amount.IsZero() || b.UserID != "u1" {
			t.Errorf("%s row = %+v, want zero amount for u1", asset, b)
		}
	}
}

func TestSubmitKYCDocument(t *testing.T) {
	doc := func() SubmitKYCParams {
		return SubmitKYCParams{
			Type:        domain.KYCDocPassport,
			FileName:    "passport.pdf",
			ContentType: "application/pdf",
			SizeBytes:   2048,
			Content:     strings.NewReader("%PDF-1.7 ..."),
		}
	}

	t.Run("moves unverified user to pending", func(t *testing.T) {
		users := newFakeUserStore(domain.User{ID: "u1", Email: "u1@x.de", KYCStatus: domain.KYCUnverified, Active: true})
		svc, _, kyc, blob, audit, sender := newTestUserService(users)

		stored, err := svc.SubmitKYCDocument(context.Background(), "u1", doc())
		if err != nil {
			t.Fatalf("SubmitKYCDocument: %v", err)
		}
		if want := "kyc/u1/" + stored.ID; stored.StorageKey != want {
			t.Errorf("storage key = %q, want %q", stored.StorageKey, want)
		}
		if _, ok := blob.objects[stored.StorageKey]; !ok {
			t.Error("document content not uploaded")
		}
		if _, ok := kyc.docs[stored.ID]; !ok {
			t.Error("document row not created")
		}
		if got := users.users["u1"].KYCStatus; got != domain.KYCPending {
			t.Errorf("kyc status = %q, want pending", got)
		}
		if !audit.hasEvent("kyc.submit") {
			t.Errorf("audit events = %v, want kyc.submit", audit.events())
		}
		if len(sender.events) != 1 {
			t.Errorf("notifications = %d, want 1", len(sender.events))
		}
	})

	t.Run("pending user may add documents", func(t *testing.T) {
		users := newFakeUserStore(domain.User{ID: "u1", KYCStatus: domain.KYCPending, Active: true})
		svc, _, kyc, _, _, _ := newTestUserService(users)

		if _, err := svc.SubmitKYCDocument(context.Background(), "u1", doc()); err != nil {
			t.Fatalf("SubmitKYCDocument: %v", err)
		}
		if got := users.users["u1"].KYCStatus; got != domain.KYCPending {
			t.Errorf("kyc status = %q, want pending", got)
		}
		if len(kyc.docs) != 1 {
			t.Errorf("documents = %d, want 1", len(kyc.docs))
		}
	})

	t.Run("rejected user may resubmit", func(t *testing.T) {
		users := newFakeUserStore(domain.User{ID: "u1", KYCStatus: domain.KYCRejected, Active: true})
		svc, _, _, _, _, _ := newTestUserService(users)

		if _, err := svc.SubmitKYCDocument(context.Background(), "u1", doc()); err != nil {
			t.Fatalf("SubmitKYCDocument: %v", err)
		}
		if got := users.users["u1"].KYCStatus; got != domain.KYCPending {
			t.Errorf("kyc status = %q, want pending", got)
		}
	})

	t.Run("approved user cannot resubmit", func(t *testing.T) {
		users := newFakeUserStore(domain.User{ID: "u1", KYCStatus: domain.KYCApproved, Active: true})
		svc, _, _, _, _, _ := newTestUserService(users)

		_, err := svc.SubmitKYCDocument(context.Background(), "u1", doc())
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("SubmitKYCDocument error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("rejects unsupported content type", func(t *testing.T) {
		users := newFakeUserStore(domain.User{ID: "u1", KYCStatus: domain.KYCUnverified, Active: true})
		svc, _, _, _, _, _ := newTestUserService(users)

		p := doc()
		p.ContentType = "application/zip"
		if _, err := svc.SubmitKYCDocument(context.Background(), "u1", p); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("SubmitKYCDocument error = %v, want ErrValidation", err)
		}
	})

	t.Run("rejects oversized document", func(t *testing.T) {
		users := newFakeUserStore(domain.User{ID: "u1", KYCStatus: domain.KYCUnverified, Active: true})
		svc, _, _, _, _, _ := newTestUserService(users)

		p := doc()
		p.SizeBytes = maxKYCDocumentBytes + 1
		if _, err := svc.SubmitKYCDocument(context.Background(), "u1", p); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("SubmitKYCDocument error = %v, want ErrValidation", err)
		}
	})

	t.Run("cleans up blob when the row fails", func(t *testing.T) {
		users := newFakeUserStore(domain.User{ID: "u1", KYCStatus: domain.KYCUnverified, Active: true})
		svc, _, kyc, blob, _, _ := newTestUserService(users)
		kyc.createErr = errors.New("row insert failed")

		if _, err := svc.SubmitKYCDocument(context.Background(), "u1", doc()); err == nil {
			t.Fatal("expected error")
		}
		if len(blob.deleted) != 1 {
			t.Errorf("deleted blobs = %v, want one cleanup", blob.deleted)
		}
		if len(blob.objects) != 0 {
			t.Errorf("objects left behind: %d", len(blob.objects))
		}
	})
}
