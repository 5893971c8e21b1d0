package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceStatus reflects the most recent scrape attempt for a source.
type SourceStatus string

const (
	SourceStatusPending SourceStatus = "pending" // never scraped yet
	SourceStatusOK      SourceStatus = "ok"
	SourceStatusError   SourceStatus = "error"
)

// ScrapeSource is an admin-configured external endpoint polled for
// reference prices. Parser "json" extracts a number at FieldPath (dot
// notation, [n] for array elements) and multiplies it by ScaleFactor.
type ScrapeSource struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Certificate   CertificateType `json:"certificate_type"`
	URL           string          `json:"url"`
	Parser        string          `json:"parser"` // "json"
	FieldPath     string          `json:"field_path"`
	ScaleFactor   decimal.Decimal `json:"scale_factor"`
	Interval      time.Duration   `json:"interval"`
	Enabled       bool            `json:"enabled"`
	LastStatus    SourceStatus    `json:"last_status"`
	LastError     string          `json:"last_error,omitempty"`
	LastPrice     decimal.Decimal `json:"last_price"`
	LastScrapedAt *time.Time      `json:"last_scraped_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ReferencePrice is one applied observation from a scrape source. Seq
// is the per-source request sequence that ordered the observation;
// responses arriving with a stale sequence are discarded before this
// type is ever built.
type ReferencePrice struct {
	SourceID    string          `json:"source_id"`
	SourceName  string          `json:"source_name"`
	Certificate CertificateType `json:"certificate_type"`
	Price       decimal.Decimal `json:"price"`
	Seq         int64           `json:"-"`
	ObservedAt  time.Time       `json:"observed_at"`
}
