package service

import (
	"context"
	"testing"
	"time"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/market"
)

type marketFakes struct {
	orders     *fakeOrderStore
	trades     *fakeTradeStore
	prices     *fakePriceStore
	bookCache  *fakeBookCache
	priceCache *fakePriceCache
	bus        *fakeBus
}

func newTestMarketService(statsTTL time.Duration) (*MarketService, *marketFakes) {
	f := &marketFakes{
		orders:     newFakeOrderStore(),
		trades:     &fakeTradeStore{},
		prices:     &fakePriceStore{},
		bookCache:  newFakeBookCache(),
		priceCache: &fakePriceCache{},
		bus:        &fakeBus{},
	}
	svc := NewMarketService(
		market.NewBooks(),
		f.orders,
		f.trades,
		f.prices,
		f.bookCache,
		f.priceCache,
		f.bus,
		20,
		statsTTL,
		testLogger(),
	)
	return svc, f
}

func openOrder(id, seller string, cert domain.CertificateType, side domain.OrderSide, price, qty string) domain.Order {
	return domain.Order{
		ID:          id,
		UserID:      "u-" + seller,
		SellerCode:  seller,
		Certificate: cert,
		Side:        side,
		Price:       dec(price),
		Quantity:    dec(qty),
		Remaining:   dec(qty),
		Status:      domain.OrderStatusOpen,
	}
}

func TestRebuildBooksAggregatesOpenOrders(t *testing.T) {
	svc, f := newTestMarketService(time.Minute)
	for _, o := range []domain.Order{
		openOrder("o1", "S-A", domain.CertificateEUA, domain.OrderSideSell, "71.50", "100"),
		openOrder("o2", "S-B", domain.CertificateEUA, domain.OrderSideSell, "71.40", "50"),
		openOrder("o3", "S-C", domain.CertificateEUA, domain.OrderSideBuy, "71.00", "30"),
	} {
		if _, err := f.orders.Place(context.Background(), o); err != nil {
			t.Fatalf("Place: %v", err)
		}
	}

	if err := svc.RebuildBooks(context.Background()); err != nil {
		t.Fatalf("RebuildBooks: %v", err)
	}

	asks, err := svc.Levels(domain.CertificateEUA, domain.OrderSideSell)
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	if len(asks) != 2 {
		t.Fatalf("asks = %d levels, want 2", len(asks))
	}
	if !asks[0].Price.Equal(dec("71.40")) || asks[0].SellerCode != "S-B" {
		t.Errorf("best ask = %s %s, want 71.40 S-B", asks[0].Price, asks[0].SellerCode)
	}

	snap, ok := f.bookCache.snaps[domain.CertificateEUA]
	if !ok {
		t.Fatal("snapshot not cached")
	}
	if !snap.BestAsk.Equal(dec("71.40")) || !snap.BestBid.Equal(dec("71.00")) {
		t.Errorf("snapshot best = %s/%s, want 71.00/71.40", snap.BestBid, snap.BestAsk)
	}
	if !snap.Spread.Equal(dec("0.40")) {
		t.Errorf("spread = %s, want 0.40", snap.Spread)
	}
}

func TestSnapshotServedFromCache(t *testing.T) {
	svc, f := newTestMarketService(time.Minute)
	cached := domain.OrderBookSnapshot{
		Certificate: domain.CertificateEUA,
		BestBid:     dec("70.10"),
	}
	f.bookCache.snaps[domain.CertificateEUA] = cached

	snap, err := svc.Snapshot(context.Background(), domain.CertificateEUA)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.BestBid.Equal(dec("70.10")) {
		t.Errorf("best bid = %s, want cached 70.10", snap.BestBid)
	}
	if f.trades.statsCalls != 0 {
		t.Errorf("stats queried %d times on a cache hit, want 0", f.trades.statsCalls)
	}
}

func TestSnapshotRebuildsOnCacheMiss(t *testing.T) {
	svc, f := newTestMarketService(time.Minute)
	f.trades.stats = domain.MarketStats{LastPrice: dec("71.45"), Volume24h: dec("1200")}

	snap, err := svc.Snapshot(context.Background(), domain.CertificateEUA)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.LastPrice.Equal(dec("71.45")) {
		t.Errorf("last price = %s, want 71.45", snap.LastPrice)
	}
	if f.bookCache.sets != 1 {
		t.Errorf("snapshot cached %d times, want 1", f.bookCache.sets)
	}
	want := domain.Channel(domain.ChannelBook, domain.CertificateEUA)
	found := false
	for _, ch := range f.bus.channels() {
		if ch == want {
			found = true
		}
	}
	if !found {
		t.Errorf("published channels = %v, want %s", f.bus.channels(), want)
	}
}

func TestApplyFillsConsumesMakerLevels(t *testing.T) {
	svc, f := newTestMarketService(time.Minute)
	book, _ := svc.books.Get(domain.CertificateEUA)
	book.Apply(domain.OrderSideSell, "S-A", dec("71.50"), dec("100"))

	trade := domain.Trade{
		ID:          "t1",
		Certificate: domain.CertificateEUA,
		SellerCode:  "S-A",
		TakerSide:   domain.OrderSideBuy,
		Price:       dec("71.50"),
		Quantity:    dec("40"),
		Cost:        dec("2860"),
	}
	svc.ApplyFills(context.Background(), domain.CertificateEUA, domain.OrderSideBuy, []domain.Trade{trade})

	asks, err := svc.Levels(domain.CertificateEUA, domain.OrderSideSell)
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	if len(asks) != 1 || !asks[0].Quantity.Equal(dec("60")) {
		t.Fatalf("asks after fill = %+v, want one level of 60", asks)
	}

	tradeCh := domain.Channel(domain.ChannelTrades, domain.CertificateEUA)
	count := 0
	for _, ch := range f.bus.channels() {
		if ch == tradeCh {
			count++
		}
	}
	if count != 1 {
		t.Errorf("trade publishes = %d, want 1", count)
	}
}

func TestApplyFillsDrainsLevel(t *testing.T) {
	svc, _ := newTestMarketService(time.Minute)
	book, _ := svc.books.Get(domain.CertificateCEA)
	book.Apply(domain.OrderSideBuy, "S-B", dec("60.00"), dec("25"))

	trade := domain.Trade{
		ID:          "t1",
		Certificate: domain.CertificateCEA,
		SellerCode:  "S-B",
		TakerSide:   domain.OrderSideSell,
		Price:       dec("60.00"),
		Quantity:    dec("25"),
	}
	svc.ApplyFills(context.Background(), domain.CertificateCEA, domain.OrderSideSell, []domain.Trade{trade})

	bids, err := svc.Levels(domain.CertificateCEA, domain.OrderSideBuy)
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	if len(bids) != 0 {
		t.Errorf("bids after full fill = %+v, want empty", bids)
	}
}

func TestStatsCachedWithinTTL(t *testing.T) {
	svc, f := newTestMarketService(time.Hour)
	f.trades.stats = domain.MarketStats{LastPrice: dec("71.00")}

	for i := 0; i < 3; i++ {
		if _, err := svc.Stats(context.Background(), domain.CertificateEUA); err != nil {
			t.Fatalf("Stats: %v", err)
		}
	}
	if f.trades.statsCalls != 1 {
		t.Errorf("stats queries = %d, want 1 within TTL", f.trades.statsCalls)
	}

	svc.invalidateStats(domain.CertificateEUA)
	if _, err := svc.Stats(context.Background(), domain.CertificateEUA); err != nil {
		t.Fatalf("Stats after invalidate: %v", err)
	}
	if f.trades.statsCalls != 2 {
		t.Errorf("stats queries = %d, want 2 after invalidate", f.trades.statsCalls)
	}
}

func TestReferencePricesCompositeIsMedianOfFresh(t *testing.T) {
	svc, f := newTestMarketService(time.Minute)
	now := time.Now().UTC()
	obs := func(src string, cert domain.CertificateType, price string, age time.Duration) domain.ReferencePrice {
		return domain.ReferencePrice{
			SourceID:    src,
			SourceName:  src,
			Certificate: cert,
			Price:       dec(price),
			ObservedAt:  now.Add(-age),
		}
	}
	f.priceCache.prices = map[domain.CertificateType][]domain.ReferencePrice{
		domain.CertificateEUA: {
			obs("ember", domain.CertificateEUA, "71.00", time.Minute),
			obs("icap", domain.CertificateEUA, "72.50", 2*time.Minute),
			obs("eex", domain.CertificateEUA, "71.50", 5*time.Minute),
			obs("dead", domain.CertificateEUA, "99.00", 3*time.Hour),
		},
		domain.CertificateCEA: {
			obs("cnemission", domain.CertificateCEA, "60.00", time.Minute),
			obs("teneleven", domain.CertificateCEA, "61.00", time.Minute),
		},
	}

	boards, err := svc.ReferencePrices(context.Background())
	if err != nil {
		t.Fatalf("ReferencePrices: %v", err)
	}
	if len(boards) != 2 {
		t.Fatalf("boards = %d, want 2", len(boards))
	}

	byCert := make(map[domain.CertificateType]ReferenceBoard, len(boards))
	for _, b := range boards {
		byCert[b.Certificate] = b
	}

	eua := byCert[domain.CertificateEUA]
	if eua.FreshSources != 3 {
		t.Errorf("EUA fresh sources = %d, want 3 (stale one excluded)", eua.FreshSources)
	}
	if !eua.Composite.Equal(dec("71.50")) {
		t.Errorf("EUA composite = %s, want median 71.50", eua.Composite)
	}
	if len(eua.Sources) != 4 {
		t.Errorf("EUA sources = %d, want all 4 listed", len(eua.Sources))
	}

	cea := byCert[domain.CertificateCEA]
	if !cea.Composite.Equal(dec("60.5")) {
		t.Errorf("CEA composite = %s, want 60.5", cea.Composite)
	}
}

func TestReferencePricesFallBackToStore(t *testing.T) {
	svc, f := newTestMarketService(time.Minute)
	f.priceCache.getErr = context.DeadlineExceeded
	f.prices.latest = map[domain.CertificateType][]domain.ReferencePrice{
		domain.CertificateEUA: {{
			SourceID:    "ember",
			Certificate: domain.CertificateEUA,
			Price:       dec("70.80"),
			ObservedAt:  time.Now().UTC(),
		}},
	}

	boards, err := svc.ReferencePrices(context.Background())
	if err != nil {
		t.Fatalf("ReferencePrices: %v", err)
	}
	for _, b := range boards {
		if b.Certificate == domain.CertificateEUA {
			if !b.Composite.Equal(dec("70.80")) {
				t.Errorf("composite = %s, want 70.80 from store", b.Composite)
			}
			return
		}
	}
	t.Fatal("no EUA board returned")
}
