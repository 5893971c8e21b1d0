package domain

import "time"

// Bus channel names. Book and trade channels are suffixed with the
// certificate type ("book:EUA"); Channel builds them.
const (
	ChannelBook   = "book"
	ChannelTrades = "trades"
	ChannelPrices = "prices"
	ChannelOps    = "ops"
)

// Channel joins a channel family with a certificate suffix.
func Channel(family string, c CertificateType) string {
	return family + ":" + string(c)
}

// EventKind labels ops events routed to the notifier.
type EventKind string

const (
	EventExecution      EventKind = "execution"
	EventKYCSubmitted   EventKind = "kyc_submitted"
	EventKYCReviewed    EventKind = "kyc_reviewed"
	EventContactRequest EventKind = "contact_request"
	EventScrapeFailure  EventKind = "scrape_failure"
	EventArchiveRun     EventKind = "archive_run"
)

// OpsEvent is the payload published on the ops channel and fanned out
// to the configured notification senders.
type OpsEvent struct {
	Kind      EventKind         `json:"kind"`
	Summary   string            `json:"summary"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
