package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/market"
)

// referenceFreshWindow bounds how old an observation may be and still
// count towards the composite reference price.
const referenceFreshWindow = time.Hour

// ReferenceBoard is the public reference-price view for one
// certificate: the latest observation per source and the median of
// the fresh ones.
type ReferenceBoard struct {
	Certificate  domain.CertificateType  `json:"certificate_type"`
	Sources      []domain.ReferencePrice `json:"sources"`
	Composite    decimal.Decimal         `json:"composite"`
	FreshSources int                     `json:"fresh_sources"`
}

// statsEntry caches one certificate's tape statistics briefly; the
// stats query hits three tape indexes and the market page polls.
type statsEntry struct {
	stats     domain.MarketStats
	fetchedAt time.Time
}

// MarketService owns the live order books and all public market data:
// snapshots, tape statistics and reference prices. Every book
// mutation funnels through here so the Redis snapshot and the bus
// stay consistent with the in-memory state.
type MarketService struct {
	books      *market.Books
	orders     domain.OrderStore
	trades     domain.TradeStore
	prices     domain.PriceStore
	bookCache  domain.BookCache
	priceCache domain.PriceCache
	bus        domain.SignalBus
	depth      int
	statsTTL   time.Duration
	logger     *slog.Logger

	statsMu sync.Mutex
	stats   map[domain.CertificateType]statsEntry
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	books *market.Books,
	orders domain.OrderStore,
	trades domain.TradeStore,
	prices domain.PriceStore,
	bookCache domain.BookCache,
	priceCache domain.PriceCache,
	bus domain.SignalBus,
	depth int,
	statsTTL time.Duration,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		books:      books,
		orders:     orders,
		trades:     trades,
		prices:     prices,
		bookCache:  bookCache,
		priceCache: priceCache,
		bus:        bus,
		depth:      depth,
		statsTTL:   statsTTL,
		logger:     logger,
		stats:      make(map[domain.CertificateType]statsEntry),
	}
}

// RebuildBooks repopulates every in-memory book from the open orders
// in Postgres and refreshes the cached snapshots. Called once at
// start before the server accepts traffic.
func (s *MarketService) RebuildBooks(ctx context.Context) error {
	for _, cert := range domain.AllCertificateTypes {
		book, ok := s.books.Get(cert)
		if !ok {
			return fmt.Errorf("market_service: no book for %s", cert)
		}

		bids, err := s.orders.ListOpen(ctx, cert, domain.OrderSideBuy)
		if err != nil {
			return fmt.Errorf("market_service: load open bids for %s: %w", cert, err)
		}
		asks, err := s.orders.ListOpen(ctx, cert, domain.OrderSideSell)
		if err != nil {
			return fmt.Errorf("market_service: load open asks for %s: %w", cert, err)
		}

		book.Rebuild(append(bids, asks...))
		s.logger.InfoContext(ctx, "market_service: book rebuilt",
			slog.String("certificate", string(cert)),
			slog.Int("bids", len(bids)),
			slog.Int("asks", len(asks)),
		)

		if _, err := s.RefreshSnapshot(ctx, cert); err != nil {
			return err
		}
	}
	return nil
}

// Levels returns one side of a book in consumption order, for the
// preview calculator. Buy previews consume asks, sell previews bids.
func (s *MarketService) Levels(cert domain.CertificateType, side domain.OrderSide) ([]domain.PriceLevel, error) {
	book, ok := s.books.Get(cert)
	if !ok {
		return nil, fmt.Errorf("market_service: no book for %s", cert)
	}
	return book.Levels(side, 0), nil
}

// Snapshot returns the current order book view for a certificate,
// served from the Redis cache when present.
func (s *MarketService) Snapshot(ctx context.Context, cert domain.CertificateType) (domain.OrderBookSnapshot, error) {
	snap, err := s.bookCache.GetSnapshot(ctx, cert)
	if err == nil {
		return snap, nil
	}

	// Cache miss or error -- rebuild from the live book.
	return s.RefreshSnapshot(ctx, cert)
}

// RefreshSnapshot rebuilds a certificate's snapshot from the live
// book, caches it and broadcasts it on the book channel. Called after
// every mutation; cache and bus failures are logged, the snapshot is
// still returned.
func (s *MarketService) RefreshSnapshot(ctx context.Context, cert domain.CertificateType) (domain.OrderBookSnapshot, error) {
	book, ok := s.books.Get(cert)
	if !ok {
		return domain.OrderBookSnapshot{}, fmt.Errorf("market_service: no book for %s", cert)
	}

	stats, err := s.tapeStats(ctx, cert)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}

	snap := book.Snapshot(stats, s.depth)

	if err := s.bookCache.SetSnapshot(ctx, snap); err != nil {
		s.logger.WarnContext(ctx, "market_service: snapshot cache failed",
			slog.String("certificate", string(cert)),
			slog.String("error", err.Error()),
		)
	}

	if payload, err := json.Marshal(snap); err == nil {
		if pubErr := s.bus.Publish(ctx, domain.Channel(domain.ChannelBook, cert), payload); pubErr != nil {
			s.logger.WarnContext(ctx, "market_service: snapshot publish failed",
				slog.String("certificate", string(cert)),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	return snap, nil
}

// ApplyOrderDelta adjusts a book for a placed (+remaining) or
// cancelled (-remaining) resting order and refreshes the snapshot.
func (s *MarketService) ApplyOrderDelta(ctx context.Context, o domain.Order, delta decimal.Decimal) {
	book, ok := s.books.Get(o.Certificate)
	if !ok {
		s.logger.ErrorContext(ctx, "market_service: no book for order",
			slog.String("certificate", string(o.Certificate)),
			slog.String("order_id", o.ID),
		)
		return
	}
	book.Apply(o.Side, o.SellerCode, o.Price, delta)

	if _, err := s.RefreshSnapshot(ctx, o.Certificate); err != nil {
		s.logger.WarnContext(ctx, "market_service: snapshot refresh failed",
			slog.String("certificate", string(o.Certificate)),
			slog.String("error", err.Error()),
		)
	}
}

// ApplyFills removes executed quantity from the maker side of a book,
// publishes the trades on the tape channel and refreshes the
// snapshot.
func (s *MarketService) ApplyFills(ctx context.Context, cert domain.CertificateType, takerSide domain.OrderSide, trades []domain.Trade) {
	book, ok := s.books.Get(cert)
	if !ok {
		s.logger.ErrorContext(ctx, "market_service: no book for fills",
			slog.String("certificate", string(cert)),
		)
		return
	}

	makerSide := takerSide.Opposite()
	for _, t := range trades {
		book.Apply(makerSide, t.SellerCode, t.Price, t.Quantity.Neg())
	}

	// The tape moved, so the cached stats are stale.
	s.invalidateStats(cert)

	for _, t := range trades {
		payload, err := json.Marshal(t)
		if err != nil {
			continue
		}
		if pubErr := s.bus.Publish(ctx, domain.Channel(domain.ChannelTrades, cert), payload); pubErr != nil {
			s.logger.WarnContext(ctx, "market_service: trade publish failed",
				slog.String("trade_id", t.ID),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	if _, err := s.RefreshSnapshot(ctx, cert); err != nil {
		s.logger.WarnContext(ctx, "market_service: snapshot refresh failed",
			slog.String("certificate", string(cert)),
			slog.String("error", err.Error()),
		)
	}
}

// Tape returns recent public trades for a certificate.
func (s *MarketService) Tape(ctx context.Context, cert domain.CertificateType, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByCertificate(ctx, cert, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list trades for %s: %w", cert, err)
	}
	return trades, nil
}

// Stats returns the 24h tape statistics for a certificate.
func (s *MarketService) Stats(ctx context.Context, cert domain.CertificateType) (domain.MarketStats, error) {
	return s.tapeStats(ctx, cert)
}

// tapeStats serves the 24h statistics through a short in-memory cache
// so polling clients do not hammer the tape aggregation query.
func (s *MarketService) tapeStats(ctx context.Context, cert domain.CertificateType) (domain.MarketStats, error) {
	now := time.Now().UTC()

	s.statsMu.Lock()
	if e, ok := s.stats[cert]; ok && now.Sub(e.fetchedAt) < s.statsTTL {
		s.statsMu.Unlock()
		return e.stats, nil
	}
	s.statsMu.Unlock()

	stats, err := s.trades.Stats(ctx, cert, now.Add(-24*time.Hour))
	if err != nil {
		return domain.MarketStats{}, fmt.Errorf("market_service: tape stats for %s: %w", cert, err)
	}

	s.statsMu.Lock()
	s.stats[cert] = statsEntry{stats: stats, fetchedAt: now}
	s.statsMu.Unlock()
	return stats, nil
}

func (s *MarketService) invalidateStats(cert domain.CertificateType) {
	s.statsMu.Lock()
	delete(s.stats, cert)
	s.statsMu.Unlock()
}

// ReferencePrices assembles the public reference-price boards: the
// latest observation per source for each certificate plus a composite
// median over the fresh ones. The Redis cache is tried first, the
// price store covers cold starts.
func (s *MarketService) ReferencePrices(ctx context.Context) ([]ReferenceBoard, error) {
	now := time.Now().UTC()
	boards := make([]ReferenceBoard, 0, len(domain.AllCertificateTypes))

	for _, cert := range domain.AllCertificateTypes {
		obs, err := s.priceCache.GetPrices(ctx, cert)
		if err != nil {
			s.logger.WarnContext(ctx, "market_service: price cache read failed",
				slog.String("certificate", string(cert)),
				slog.String("error", err.Error()),
			)
			obs = nil
		}
		if len(obs) == 0 {
			if obs, err = s.prices.Latest(ctx, cert); err != nil {
				return nil, fmt.Errorf("market_service: latest prices for %s: %w", cert, err)
			}
		}

		board := ReferenceBoard{Certificate: cert, Sources: obs}

		fresh := make([]decimal.Decimal, 0, len(obs))
		for _, o := range obs {
			if now.Sub(o.ObservedAt) <= referenceFreshWindow {
				fresh = append(fresh, o.Price)
			}
		}
		board.FreshSources = len(fresh)
		board.Composite = median(fresh)

		boards = append(boards, board)
	}
	return boards, nil
}

// median returns the middle value of the given prices, the mean of
// the two middles for even counts, zero for none.
func median(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}
