// Package pipeline contains the background loops: reference-price
// scraping and cold-storage archival.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/metrics"
	"github.com/carbex/carbex/internal/notify"
)

// sourceReloadInterval is how often the supervisor re-reads the source
// table to pick up admin changes without a restart.
const sourceReloadInterval = 30 * time.Second

// SourceDirectory lists enabled scrape sources and records outcomes.
type SourceDirectory interface {
	ListEnabled(ctx context.Context) ([]domain.ScrapeSource, error)
	RecordResult(ctx context.Context, id string, status domain.SourceStatus, price decimal.Decimal, scrapeErr string, at time.Time) error
}

// PriceSink persists applied observations.
type PriceSink interface {
	Insert(ctx context.Context, p domain.ReferencePrice) error
}

// PriceFetcher retrieves one observation for a source.
type PriceFetcher interface {
	Fetch(ctx context.Context, src domain.ScrapeSource) (decimal.Decimal, error)
}

// PriceScraper polls every enabled scrape source on its own interval
// and applies observations to the store, the cache, and the bus. One
// worker goroutine runs per source; a supervisor reconciles workers
// against the source table so admin edits take effect live.
type PriceScraper struct {
	dir              SourceDirectory
	sink             PriceSink
	cache            domain.PriceCache
	bus              domain.SignalBus
	notifier         *notify.Notifier
	fetcher          PriceFetcher
	defaultInterval  time.Duration
	failureThreshold int
	logger           *slog.Logger
}

// NewPriceScraper creates a PriceScraper. defaultInterval applies to
// sources without their own; failureThreshold is the consecutive
// failure count that triggers an ops alert.
func NewPriceScraper(
	dir SourceDirectory,
	sink PriceSink,
	cache domain.PriceCache,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	fetcher PriceFetcher,
	defaultInterval time.Duration,
	failureThreshold int,
	logger *slog.Logger,
) *PriceScraper {
	return &PriceScraper{
		dir:              dir,
		sink:             sink,
		cache:            cache,
		bus:              bus,
		notifier:         notifier,
		fetcher:          fetcher,
		defaultInterval:  defaultInterval,
		failureThreshold: failureThreshold,
		logger:           logger.With(slog.String("component", "price_scraper")),
	}
}

// worker tracks one running source goroutine.
type worker struct {
	cancel  context.CancelFunc
	done    chan struct{}
	updated time.Time
}

// Run supervises the per-source workers until the context is
// cancelled. Source table changes are reconciled on a fixed cadence:
// new sources start, disabled ones stop, edited ones restart.
func (s *PriceScraper) Run(ctx context.Context) error {
	workers := map[string]*worker{}

	stop := func(w *worker) {
		w.cancel()
		<-w.done
	}

	reload := func() error {
		srcs, err := s.dir.ListEnabled(ctx)
		if err != nil {
			return err
		}

		seen := make(map[string]bool, len(srcs))
		for _, src := range srcs {
			seen[src.ID] = true
			if w, ok := workers[src.ID]; ok {
				if w.updated.Equal(src.UpdatedAt) {
					continue
				}
				stop(w)
				delete(workers, src.ID)
				s.logger.Info("source worker restarting",
					slog.String("source", src.Name),
				)
			}

			wctx, cancel := context.WithCancel(ctx)
			w := &worker{cancel: cancel, done: make(chan struct{}), updated: src.UpdatedAt}
			workers[src.ID] = w

			src := src
			go func() {
				defer close(w.done)
				s.runSource(wctx, src)
			}()
			s.logger.Info("source worker started",
				slog.String("source", src.Name),
				slog.String("certificate", string(src.Certificate)),
			)
		}

		for id, w := range workers {
			if !seen[id] {
				stop(w)
				delete(workers, id)
				s.logger.Info("source worker stopped", slog.String("source_id", id))
			}
		}
		return nil
	}

	if err := reload(); err != nil {
		s.logger.Error("source load failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(sourceReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for id, w := range workers {
				stop(w)
				delete(workers, id)
			}
			s.logger.Info("price scraper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := reload(); err != nil {
				s.logger.Error("source reload failed", slog.String("error", err.Error()))
			}
		}
	}
}

// fetchResult is one completed fetch attempt, tagged with the request
// sequence that ordered it.
type fetchResult struct {
	seq   int64
	price decimal.Decimal
	err   error
	at    time.Time
}

// sourceState is the per-worker apply state. Only the worker goroutine
// touches it.
type sourceState struct {
	applied  int64
	failures int
}

// runSource polls one source on its interval. Fetches run in their own
// goroutines so a hung endpoint never blocks the schedule; results
// carry a sequence number and stale ones are dropped, so a slow
// response can never overwrite a newer price.
func (s *PriceScraper) runSource(ctx context.Context, src domain.ScrapeSource) {
	interval := src.Interval
	if interval <= 0 {
		interval = s.defaultInterval
	}

	results := make(chan fetchResult, 4)
	var issued int64
	st := &sourceState{}

	startFetch := func() {
		issued++
		seq := issued
		go func() {
			price, err := s.fetcher.Fetch(ctx, src)
			res := fetchResult{seq: seq, price: price, err: err, at: time.Now().UTC()}
			select {
			case results <- res:
			case <-ctx.Done():
			}
		}()
	}

	startFetch()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			startFetch()
		case res := <-results:
			s.handleResult(ctx, src, res, st)
		}
	}
}

// handleResult applies one fetch result: the sequence guard first,
// then health bookkeeping, persistence, cache, and fan-out. Storage
// and delivery failures are logged and never stop the worker.
func (s *PriceScraper) handleResult(ctx context.Context, src domain.ScrapeSource, res fetchResult, st *sourceState) {
	if res.seq <= st.applied {
		metrics.ScrapeStaleDropped.Inc()
		s.logger.Debug("stale response dropped",
			slog.String("source", src.Name),
			slog.Int64("seq", res.seq),
			slog.Int64("applied", st.applied),
		)
		return
	}
	st.applied = res.seq

	if res.err != nil {
		st.failures++
		metrics.ScrapesTotal.WithLabelValues(src.Name, "error").Inc()
		s.logger.Warn("scrape failed",
			slog.String("source", src.Name),
			slog.Int("consecutive", st.failures),
			slog.String("error", res.err.Error()),
		)

		if err := s.dir.RecordResult(ctx, src.ID, domain.SourceStatusError, decimal.Zero, res.err.Error(), res.at); err != nil {
			s.logger.Warn("record scrape error failed", slog.String("error", err.Error()))
		}

		if st.failures == s.failureThreshold {
			ev := domain.OpsEvent{
				Kind:    domain.EventScrapeFailure,
				Summary: src.Name + " failing",
				Fields: map[string]string{
					"url":         src.URL,
					"consecutive": strconv.Itoa(st.failures),
					"error":       res.err.Error(),
				},
				CreatedAt: res.at,
			}
			if err := s.notifier.Notify(ctx, ev); err != nil {
				s.logger.Warn("scrape failure alert failed", slog.String("error", err.Error()))
			}
		}
		return
	}

	st.failures = 0
	metrics.ScrapesTotal.WithLabelValues(src.Name, "ok").Inc()

	if err := s.dir.RecordResult(ctx, src.ID, domain.SourceStatusOK, res.price, "", res.at); err != nil {
		s.logger.Warn("record scrape result failed", slog.String("error", err.Error()))
	}

	p := domain.ReferencePrice{
		SourceID:    src.ID,
		SourceName:  src.Name,
		Certificate: src.Certificate,
		Price:       res.price,
		Seq:         res.seq,
		ObservedAt:  res.at,
	}

	if err := s.sink.Insert(ctx, p); err != nil {
		s.logger.Warn("insert reference price failed", slog.String("error", err.Error()))
	}
	if err := s.cache.SetPrice(ctx, p); err != nil {
		s.logger.Warn("cache reference price failed", slog.String("error", err.Error()))
	}

	payload, err := json.Marshal(p)
	if err == nil {
		if err := s.bus.Publish(ctx, domain.Channel(domain.ChannelPrices, src.Certificate), payload); err != nil {
			s.logger.Warn("publish reference price failed", slog.String("error", err.Error()))
		}
	}

	s.logger.Debug("price applied",
		slog.String("source", src.Name),
		slog.String("price", res.price.String()),
	)
}
