package market

import (
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
)

// levelEntry is one (price, seller) node in a side's tree.
type levelEntry struct {
	price  decimal.Decimal
	seller string
	qty    decimal.Decimal
}

// Book is the live in-memory board for one certificate. It is rebuilt
// from open orders at start and mutated on every place, cancel and
// fill. Ask iteration is cheapest-first, bid iteration highest-first,
// sellers at the same price ordered by code.
type Book struct {
	mu   sync.RWMutex
	cert domain.CertificateType
	bids *btree.BTreeG[levelEntry]
	asks *btree.BTreeG[levelEntry]
}

// NewBook returns an empty book for a certificate.
func NewBook(cert domain.CertificateType) *Book {
	return &Book{
		cert: cert,
		bids: btree.NewG(8, func(a, b levelEntry) bool {
			if !a.price.Equal(b.price) {
				return a.price.GreaterThan(b.price)
			}
			return a.seller < b.seller
		}),
		asks: btree.NewG(8, func(a, b levelEntry) bool {
			if !a.price.Equal(b.price) {
				return a.price.LessThan(b.price)
			}
			return a.seller < b.seller
		}),
	}
}

func (b *Book) tree(side domain.OrderSide) *btree.BTreeG[levelEntry] {
	if side == domain.OrderSideBuy {
		return b.bids
	}
	return b.asks
}

// Apply adjusts the (price, seller) level by delta, inserting the
// node on first touch and dropping it when it drains.
func (b *Book) Apply(side domain.OrderSide, seller string, price, delta decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tree := b.tree(side)
	key := levelEntry{price: price, seller: seller}
	qty := delta
	if cur, ok := tree.Get(key); ok {
		qty = cur.qty.Add(delta)
	}
	if qty.IsPositive() {
		key.qty = qty
		tree.ReplaceOrInsert(key)
		return
	}
	tree.Delete(key)
}

// Rebuild repopulates both sides from the open order set, replacing
// whatever the book held before.
func (b *Book) Rebuild(orders []domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids.Clear(false)
	b.asks.Clear(false)
	for _, o := range orders {
		if o.Certificate != b.cert || o.Status != domain.OrderStatusOpen || !o.Remaining.IsPositive() {
			continue
		}
		tree := b.tree(o.Side)
		key := levelEntry{price: o.Price, seller: o.SellerCode}
		qty := o.Remaining
		if cur, ok := tree.Get(key); ok {
			qty = cur.qty.Add(o.Remaining)
		}
		key.qty = qty
		tree.ReplaceOrInsert(key)
	}
}

// Levels returns up to depth levels from one side in consumption
// order. depth <= 0 returns the full side.
func (b *Book) Levels(side domain.OrderSide, depth int) []domain.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tree := b.tree(side)
	out := make([]domain.PriceLevel, 0, tree.Len())
	tree.Ascend(func(e levelEntry) bool {
		out = append(out, domain.PriceLevel{
			SellerCode: e.seller,
			Price:      e.price,
			Quantity:   e.qty,
		})
		return depth <= 0 || len(out) < depth
	})
	return out
}

// Best returns the top-of-book price for a side.
func (b *Book) Best(side domain.OrderSide) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.tree(side).Min()
	if !ok {
		return decimal.Zero, false
	}
	return e.price, true
}

// Snapshot assembles the API view of the book merged with the
// trade-derived stats.
func (b *Book) Snapshot(stats domain.MarketStats, depth int) domain.OrderBookSnapshot {
	snap := domain.OrderBookSnapshot{
		Certificate: b.cert,
		Bids:        b.Levels(domain.OrderSideBuy, depth),
		Asks:        b.Levels(domain.OrderSideSell, depth),
		LastPrice:   stats.LastPrice,
		Change24h:   stats.Change24h,
		Volume24h:   stats.Volume24h,
		Timestamp:   time.Now().UTC(),
	}
	if len(snap.Bids) > 0 {
		snap.BestBid = snap.Bids[0].Price
	}
	if len(snap.Asks) > 0 {
		snap.BestAsk = snap.Asks[0].Price
	}
	if len(snap.Bids) > 0 && len(snap.Asks) > 0 {
		snap.Spread = snap.BestAsk.Sub(snap.BestBid)
	}
	return snap
}

// Books indexes the live books by certificate.
type Books struct {
	books map[domain.CertificateType]*Book
}

// NewBooks creates one book per tradable certificate.
func NewBooks() *Books {
	bs := &Books{books: make(map[domain.CertificateType]*Book)}
	for _, c := range domain.AllCertificateTypes {
		bs.books[c] = NewBook(c)
	}
	return bs
}

// Get returns the book for a certificate.
func (bs *Books) Get(cert domain.CertificateType) (*Book, bool) {
	b, ok := bs.books[cert]
	return b, ok
}
