package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/metrics"
	"github.com/carbex/carbex/internal/notify"
)

// TradePruner removes trades already exported to cold storage.
type TradePruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver runs the daily cold-storage job: audit entries and trades
// older than the retention window are exported to S3, exported audit
// rows are pruned immediately, and trades are pruned only once they
// age past twice the retention window so every pruned row has been in
// an archive for a full cycle.
type Archiver struct {
	blobArchiver  domain.Archiver
	trades        TradePruner
	notifier      *notify.Notifier
	retentionDays int
	hourUTC       int
	logger        *slog.Logger
}

// NewArchiver creates an Archiver that runs daily at hourUTC.
func NewArchiver(
	blobArchiver domain.Archiver,
	trades TradePruner,
	notifier *notify.Notifier,
	retentionDays int,
	hourUTC int,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		trades:        trades,
		notifier:      notifier,
		retentionDays: retentionDays,
		hourUTC:       hourUTC,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive run against the current time.
func (a *Archiver) Run(ctx context.Context) error {
	now := time.Now().UTC()
	retention := time.Duration(a.retentionDays) * 24 * time.Hour
	cutoff := now.Add(-retention)

	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	tradesArchived, err := a.blobArchiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		metrics.ArchiveRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("archiving trades before %v: %w", cutoff, err)
	}

	auditArchived, err := a.blobArchiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		metrics.ArchiveRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("archiving audit before %v: %w", cutoff, err)
	}

	pruneCutoff := now.Add(-2 * retention)
	tradesPruned, err := a.trades.DeleteBefore(ctx, pruneCutoff)
	if err != nil {
		metrics.ArchiveRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("pruning trades before %v: %w", pruneCutoff, err)
	}

	metrics.ArchiveRunsTotal.WithLabelValues("ok").Inc()
	a.logger.Info("archive run complete",
		slog.Int64("trades_archived", tradesArchived),
		slog.Int64("audit_archived", auditArchived),
		slog.Int64("trades_pruned", tradesPruned),
	)

	ev := domain.OpsEvent{
		Kind:    domain.EventArchiveRun,
		Summary: "archive run complete",
		Fields: map[string]string{
			"trades_archived": strconv.FormatInt(tradesArchived, 10),
			"audit_archived":  strconv.FormatInt(auditArchived, 10),
			"trades_pruned":   strconv.FormatInt(tradesPruned, 10),
		},
		CreatedAt: now,
	}
	if err := a.notifier.Notify(ctx, ev); err != nil {
		a.logger.Warn("archive notification failed", slog.String("error", err.Error()))
	}

	return nil
}

// RunDaily runs the archiver once a day at the configured UTC hour
// until the context is cancelled. Failed runs are logged and retried
// at the next trigger.
func (a *Archiver) RunDaily(ctx context.Context) error {
	a.logger.Info("archiver scheduled", slog.Int("hour_utc", a.hourUTC))

	for {
		next := nextRunAt(time.Now().UTC(), a.hourUTC)
		a.logger.Info("archiver waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", time.Until(next)),
		)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// nextRunAt returns the next instant strictly after the given time
// whose UTC hour matches hourUTC, on the hour.
func nextRunAt(after time.Time, hourUTC int) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
