package market

import (
	"testing"
	"time"

	"github.com/carbex/carbex/internal/domain"
)

func openOrder(seller, side, price, remaining string) domain.Order {
	return domain.Order{
		ID:          seller + "/" + price,
		SellerCode:  seller,
		Certificate: domain.CertificateEUA,
		Side:        domain.OrderSide(side),
		Price:       dec(price),
		Quantity:    dec(remaining),
		Remaining:   dec(remaining),
		Status:      domain.OrderStatusOpen,
		CreatedAt:   time.Now(),
	}
}

func TestBookRebuildOrdersLevels(t *testing.T) {
	b := NewBook(domain.CertificateEUA)
	b.Rebuild([]domain.Order{
		openOrder("S-B", "sell", "11.00", "10"),
		openOrder("S-A", "sell", "10.00", "5"),
		openOrder("S-C", "sell", "10.50", "2"),
		openOrder("S-D", "buy", "9.80", "4"),
		openOrder("S-E", "buy", "9.90", "1"),
	})

	asks := b.Levels(domain.OrderSideSell, 0)
	if len(asks) != 3 {
		t.Fatalf("len(asks) = %d, want 3", len(asks))
	}
	for i, want := range []string{"10", "10.5", "11"} {
		if !asks[i].Price.Equal(dec(want)) {
			t.Errorf("asks[%d].Price = %s, want %s", i, asks[i].Price, want)
		}
	}

	bids := b.Levels(domain.OrderSideBuy, 0)
	if len(bids) != 2 {
		t.Fatalf("len(bids) = %d, want 2", len(bids))
	}
	if !bids[0].Price.Equal(dec("9.9")) || !bids[1].Price.Equal(dec("9.8")) {
		t.Errorf("bids = %s, %s; want 9.9, 9.8", bids[0].Price, bids[1].Price)
	}
}

func TestBookMergesSameSellerSamePrice(t *testing.T) {
	b := NewBook(domain.CertificateEUA)
	b.Rebuild([]domain.Order{
		openOrder("S-A", "sell", "10.00", "5"),
		{ID: "second", SellerCode: "S-A", Certificate: domain.CertificateEUA,
			Side: domain.OrderSideSell, Price: dec("10.00"), Quantity: dec("3"),
			Remaining: dec("3"), Status: domain.OrderStatusOpen},
		openOrder("S-B", "sell", "10.00", "2"),
	})

	asks := b.Levels(domain.OrderSideSell, 0)
	if len(asks) != 2 {
		t.Fatalf("len(asks) = %d, want 2 (same seller merged, sellers kept apart)", len(asks))
	}
	if asks[0].SellerCode != "S-A" || !asks[0].Quantity.Equal(dec("8")) {
		t.Errorf("asks[0] = %s %s, want S-A 8", asks[0].SellerCode, asks[0].Quantity)
	}
	if asks[1].SellerCode != "S-B" || !asks[1].Quantity.Equal(dec("2")) {
		t.Errorf("asks[1] = %s %s, want S-B 2", asks[1].SellerCode, asks[1].Quantity)
	}
}

func TestBookApplyDrainsLevel(t *testing.T) {
	b := NewBook(domain.CertificateEUA)
	b.Apply(domain.OrderSideSell, "S-A", dec("10.00"), dec("5"))
	b.Apply(domain.OrderSideSell, "S-A", dec("10.00"), dec("-2"))

	asks := b.Levels(domain.OrderSideSell, 0)
	if len(asks) != 1 || !asks[0].Quantity.Equal(dec("3")) {
		t.Fatalf("after partial drain: %+v, want one level of 3", asks)
	}

	b.Apply(domain.OrderSideSell, "S-A", dec("10.00"), dec("-3"))
	if asks := b.Levels(domain.OrderSideSell, 0); len(asks) != 0 {
		t.Errorf("after full drain: %d levels, want 0", len(asks))
	}
}

func TestBookSnapshot(t *testing.T) {
	b := NewBook(domain.CertificateEUA)
	b.Rebuild([]domain.Order{
		openOrder("S-A", "sell", "10.20", "5"),
		openOrder("S-B", "buy", "9.70", "3"),
	})

	stats := domain.MarketStats{
		Certificate: domain.CertificateEUA,
		LastPrice:   dec("10.00"),
		Change24h:   dec("1.5"),
		Volume24h:   dec("120"),
	}
	snap := b.Snapshot(stats, 25)

	if !snap.BestAsk.Equal(dec("10.2")) || !snap.BestBid.Equal(dec("9.7")) {
		t.Errorf("BBO = %s / %s, want 9.7 / 10.2", snap.BestBid, snap.BestAsk)
	}
	if !snap.Spread.Equal(dec("0.5")) {
		t.Errorf("Spread = %s, want 0.5", snap.Spread)
	}
	if !snap.LastPrice.Equal(dec("10")) || !snap.Volume24h.Equal(dec("120")) {
		t.Errorf("stats not carried into snapshot: %+v", snap)
	}
	if snap.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestBookLevelsDepthLimit(t *testing.T) {
	b := NewBook(domain.CertificateEUA)
	for _, p := range []string{"10.00", "10.10", "10.20", "10.30"} {
		b.Apply(domain.OrderSideSell, "S-"+p, dec(p), dec("1"))
	}
	if got := len(b.Levels(domain.OrderSideSell, 2)); got != 2 {
		t.Errorf("depth-limited levels = %d, want 2", got)
	}
	if got := len(b.Levels(domain.OrderSideSell, 0)); got != 4 {
		t.Errorf("unlimited levels = %d, want 4", got)
	}
}
