// Package notify fans ops events out to operator channels. Events are
// dispatched to all registered senders (Telegram, Discord) and can be
// filtered by event kind so operators receive only the alerts they
// care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/carbex/carbex/internal/domain"
)

// Sender is the interface that each notification channel must
// implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier dispatches ops events to one or more Senders. It maintains
// a set of allowed event kinds; Notify only forwards events whose kind
// is in the allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given
// senders. Only events whose kind appears in the events slice are
// forwarded by Notify; an empty slice allows all kinds.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(events))
	for _, e := range events {
		allowed[domain.EventKind(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify formats and sends an ops event to all senders if its kind is
// in the allowed list. If no kinds were configured, all events pass.
func (n *Notifier) Notify(ctx context.Context, ev domain.OpsEvent) error {
	if len(n.events) > 0 && !n.events[ev.Kind] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("kind", string(ev.Kind)),
		)
		return nil
	}

	title, message := formatEvent(ev)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of the
// event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch iterates over all senders and sends the notification.
// Errors from individual senders are collected and returned as a
// combined error; a single sender failure does not prevent delivery to
// the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// eventTitles maps event kinds to the titles operators see.
var eventTitles = map[domain.EventKind]string{
	domain.EventExecution:      "Execution",
	domain.EventKYCSubmitted:   "KYC submitted",
	domain.EventKYCReviewed:    "KYC reviewed",
	domain.EventContactRequest: "Contact request",
	domain.EventScrapeFailure:  "Scrape failure",
	domain.EventArchiveRun:     "Archive run",
}

// formatEvent renders an ops event as a title and a body. Detail
// fields are appended in key order so messages are stable.
func formatEvent(ev domain.OpsEvent) (title, message string) {
	title, ok := eventTitles[ev.Kind]
	if !ok {
		title = string(ev.Kind)
	}

	var b strings.Builder
	b.WriteString(ev.Summary)

	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(ev.Fields[k])
	}

	return title, b.String()
}
