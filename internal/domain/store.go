package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// UserFilter narrows admin user listings.
type UserFilter struct {
	Role      Role      // empty matches all
	KYCStatus KYCStatus // empty matches all
	Search    string    // matches email or full name, case-insensitive
}

// UserStore persists platform accounts.
type UserStore interface {
	Create(ctx context.Context, u User) error
	GetByID(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	Update(ctx context.Context, u User) error
	UpdateKYCStatus(ctx context.Context, id string, from, to KYCStatus) error
	List(ctx context.Context, filter UserFilter, opts ListOpts) ([]User, error)
	Count(ctx context.Context, filter UserFilter) (int64, error)
}

// BalanceStore persists per-asset holdings. Mutations that move funds
// happen inside the execution transaction, not through this interface.
type BalanceStore interface {
	Get(ctx context.Context, userID string, asset Asset) (Balance, error)
	ListByUser(ctx context.Context, userID string) ([]Balance, error)
	Adjust(ctx context.Context, adj BalanceAdjustment) (Balance, error)
	ListAdjustments(ctx context.Context, userID string, opts ListOpts) ([]BalanceAdjustment, error)
}

// OrderFilter narrows resting order listings.
type OrderFilter struct {
	UserID      string
	Certificate CertificateType
	Side        OrderSide
	Status      OrderStatus
}

// OrderStore persists resting limit orders. Place and Cancel move the
// owner's reservation in the same transaction as the order row.
type OrderStore interface {
	Place(ctx context.Context, order Order) (Order, error)
	Cancel(ctx context.Context, id, userID string) (Order, error)
	GetByID(ctx context.Context, id string) (Order, error)
	ListOpen(ctx context.Context, cert CertificateType, side OrderSide) ([]Order, error)
	List(ctx context.Context, filter OrderFilter, opts ListOpts) ([]Order, error)
}

// ExecutionStore runs market orders and persists their outcomes.
// Apply locks the caller's balances and the opposite side of the book,
// recomputes the preview through the supplied function, settles every
// fill and records the execution, all in one transaction.
type ExecutionStore interface {
	Apply(ctx context.Context, req ExecutionRequest, preview PreviewFunc) (*ExecutionOutcome, error)
	GetByID(ctx context.Context, id string) (Execution, error)
	GetOutcome(ctx context.Context, id, userID string) (*ExecutionOutcome, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Execution, error)
}

// TradeStore reads the tape. Trades are written by ExecutionStore.Apply.
type TradeStore interface {
	ListByCertificate(ctx context.Context, cert CertificateType, opts ListOpts) ([]Trade, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Trade, error)
	Stats(ctx context.Context, cert CertificateType, since time.Time) (MarketStats, error)
	PriceAt(ctx context.Context, cert CertificateType, at time.Time) (decimal.Decimal, error)
}

// KYCStore persists document metadata; content lives in blob storage.
type KYCStore interface {
	CreateDocument(ctx context.Context, doc KYCDocument) error
	GetDocument(ctx context.Context, id string) (KYCDocument, error)
	ListByUser(ctx context.Context, userID string) ([]KYCDocument, error)
	ListPendingUsers(ctx context.Context, opts ListOpts) ([]User, error)
	RecordReview(ctx context.Context, review KYCReview) error
}

// ContactStore persists contact-form submissions.
type ContactStore interface {
	Create(ctx context.Context, req ContactRequest) error
	GetByID(ctx context.Context, id string) (ContactRequest, error)
	Update(ctx context.Context, id string, status ContactStatus, assignedTo string) (ContactRequest, error)
	List(ctx context.Context, status ContactStatus, opts ListOpts) ([]ContactRequest, error)
}

// SourceStore persists scrape source configuration and health.
type SourceStore interface {
	Create(ctx context.Context, src ScrapeSource) (ScrapeSource, error)
	Update(ctx context.Context, src ScrapeSource) (ScrapeSource, error)
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (ScrapeSource, error)
	List(ctx context.Context) ([]ScrapeSource, error)
	ListEnabled(ctx context.Context) ([]ScrapeSource, error)
	RecordResult(ctx context.Context, id string, status SourceStatus, price decimal.Decimal, scrapeErr string, at time.Time) error
}

// PriceStore persists applied reference price observations.
type PriceStore interface {
	Insert(ctx context.Context, p ReferencePrice) error
	Latest(ctx context.Context, cert CertificateType) ([]ReferencePrice, error)
	History(ctx context.Context, sourceID string, opts ListOpts) ([]ReferencePrice, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	ActorID   string         `json:"actor_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event, actorID string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
