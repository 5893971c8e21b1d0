package service

import (
	"context"
	"errors"
	"testing"

	"github.com/carbex/carbex/internal/domain"
)

func newTestOrderService(users ...domain.User) (*OrderService, *fakeOrderStore, *fakeAuditLog, *MarketService) {
	marketSvc, _ := newTestMarketService(testMarketConfig().StatsCacheTTL.Duration)
	orders := newFakeOrderStore()
	audit := &fakeAuditLog{}
	svc := NewOrderService(newFakeUserStore(users...), orders, audit, marketSvc, testMarketConfig(), testLogger())
	return svc, orders, audit, marketSvc
}

func TestPlaceAddsToBook(t *testing.T) {
	svc, orders, audit, marketSvc := newTestOrderService(approvedUser("u1"))

	placed, err := svc.Place(context.Background(), "u1", PlaceParams{
		Certificate: domain.CertificateEUA,
		Side:        domain.OrderSideSell,
		Price:       dec("71.50"),
		Quantity:    dec("100"),
	})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if placed.SellerCode != "S-u1" {
		t.Errorf("seller code = %q, want the owner's S-u1", placed.SellerCode)
	}
	if placed.Status != domain.OrderStatusOpen || !placed.Remaining.Equal(dec("100")) {
		t.Errorf("order = %+v, want open with full remaining", placed)
	}
	if _, ok := orders.orders[placed.ID]; !ok {
		t.Error("order not persisted")
	}

	asks, err := marketSvc.Levels(domain.CertificateEUA, domain.OrderSideSell)
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	if len(asks) != 1 || !asks[0].Quantity.Equal(dec("100")) {
		t.Errorf("asks = %+v, want the new order on the board", asks)
	}
	if !audit.hasEvent("order.place") {
		t.Errorf("audit events = %v, want order.place", audit.events())
	}
}

func TestPlaceValidatesAgainstInstrument(t *testing.T) {
	tests := []struct {
		name   string
		params PlaceParams
	}{
		{
			name:   "price off tick",
			params: PlaceParams{Certificate: domain.CertificateEUA, Side: domain.OrderSideBuy, Price: dec("71.505"), Quantity: dec("10")},
		},
		{
			name:   "quantity off lot step",
			params: PlaceParams{Certificate: domain.CertificateEUA, Side: domain.OrderSideBuy, Price: dec("71.50"), Quantity: dec("10.5")},
		},
		{
			name:   "non-positive price",
			params: PlaceParams{Certificate: domain.CertificateEUA, Side: domain.OrderSideBuy, Price: dec("0"), Quantity: dec("10")},
		},
		{
			name:   "non-positive quantity",
			params: PlaceParams{Certificate: domain.CertificateEUA, Side: domain.OrderSideBuy, Price: dec("71.50"), Quantity: dec("0")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _, _ := newTestOrderService(approvedUser("u1"))
			if _, err := svc.Place(context.Background(), "u1", tt.params); !errors.Is(err, domain.ErrInvalidOrder) {
				t.Errorf("Place error = %v, want ErrInvalidOrder", err)
			}
		})
	}
}

func TestPlaceRequiresApprovedKYC(t *testing.T) {
	u := approvedUser("u1")
	u.KYCStatus = domain.KYCPending
	svc, _, _, _ := newTestOrderService(u)

	_, err := svc.Place(context.Background(), "u1", PlaceParams{
		Certificate: domain.CertificateEUA,
		Side:        domain.OrderSideBuy,
		Price:       dec("71.50"),
		Quantity:    dec("10"),
	})
	if !errors.Is(err, domain.ErrKYCRequired) {
		t.Errorf("Place error = %v, want ErrKYCRequired", err)
	}
}

func TestPlacePassesThroughInsufficientFunds(t *testing.T) {
	svc, orders, _, marketSvc := newTestOrderService(approvedUser("u1"))
	orders.placeErr = domain.ErrInsufficientFunds

	_, err := svc.Place(context.Background(), "u1", PlaceParams{
		Certificate: domain.CertificateEUA,
		Side:        domain.OrderSideBuy,
		Price:       dec("71.50"),
		Quantity:    dec("10"),
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("Place error = %v, want ErrInsufficientFunds", err)
	}

	bids, err := marketSvc.Levels(domain.CertificateEUA, domain.OrderSideBuy)
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	if len(bids) != 0 {
		t.Errorf("bids = %+v, want empty after a refused placement", bids)
	}
}

func TestCancelRemovesFromBook(t *testing.T) {
	svc, _, audit, marketSvc := newTestOrderService(approvedUser("u1"))
	placed, err := svc.Place(context.Background(), "u1", PlaceParams{
		Certificate: domain.CertificateEUA,
		Side:        domain.OrderSideBuy,
		Price:       dec("70.00"),
		Quantity:    dec("25"),
	})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	cancelled, err := svc.Cancel(context.Background(), placed.ID, "u1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	bids, err := marketSvc.Levels(domain.CertificateEUA, domain.OrderSideBuy)
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	if len(bids) != 0 {
		t.Errorf("bids = %+v, want empty after cancel", bids)
	}
	if !audit.hasEvent("order.cancel") {
		t.Errorf("audit events = %v, want order.cancel", audit.events())
	}
}

func TestCancelForeignOrder(t *testing.T) {
	svc, _, _, _ := newTestOrderService(approvedUser("u1"), approvedUser("u2"))
	placed, err := svc.Place(context.Background(), "u1", PlaceParams{
		Certificate: domain.CertificateEUA,
		Side:        domain.OrderSideBuy,
		Price:       dec("70.00"),
		Quantity:    dec("25"),
	})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	if _, err := svc.Cancel(context.Background(), placed.ID, "u2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Cancel error = %v, want ErrNotFound for another user's order", err)
	}
}

func TestListScopesToOwner(t *testing.T) {
	svc, _, _, _ := newTestOrderService(approvedUser("u1"), approvedUser("u2"))
	for _, uid := range []string{"u1", "u1", "u2"} {
		if _, err := svc.Place(context.Background(), uid, PlaceParams{
			Certificate: domain.CertificateEUA,
			Side:        domain.OrderSideBuy,
			Price:       dec("70.00"),
			Quantity:    dec("5"),
		}); err != nil {
			t.Fatalf("Place for %s: %v", uid, err)
		}
	}

	// A crafted filter must not widen the listing to other users.
	got, err := svc.List(context.Background(), "u1", domain.OrderFilter{UserID: "u2"}, domain.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("orders = %d, want 2", len(got))
	}
	for _, o := range got {
		if o.UserID != "u1" {
			t.Errorf("order %s belongs to %s, want u1 only", o.ID, o.UserID)
		}
	}
}
