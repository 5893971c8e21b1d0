package domain

import (
	"context"
	"time"
)

// SessionStore keeps login sessions with their TTL.
type SessionStore interface {
	Put(ctx context.Context, s Session) error
	Get(ctx context.Context, token string) (Session, error)
	Delete(ctx context.Context, token string) error
	DeleteByUser(ctx context.Context, userID string) error
}

// BookCache stores the latest assembled book snapshot per certificate
// so read traffic never touches Postgres.
type BookCache interface {
	SetSnapshot(ctx context.Context, snap OrderBookSnapshot) error
	GetSnapshot(ctx context.Context, cert CertificateType) (OrderBookSnapshot, error)
	Invalidate(ctx context.Context, cert CertificateType) error
}

// PriceCache provides fast access to the latest reference prices.
type PriceCache interface {
	SetPrice(ctx context.Context, p ReferencePrice) error
	GetPrices(ctx context.Context, cert CertificateType) ([]ReferencePrice, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. Acquire returns
// ErrLockHeld when the key is taken.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// IdempotencyStore remembers execution results per client-supplied
// key so a retried request replays instead of re-filling.
type IdempotencyStore interface {
	// Reserve claims the key. fresh is true when this caller owns the
	// first use; otherwise executionID carries the stored result id,
	// empty while the original request is still in flight.
	Reserve(ctx context.Context, userID, key string, ttl time.Duration) (executionID string, fresh bool, err error)
	Complete(ctx context.Context, userID, key, executionID string, ttl time.Duration) error
	Release(ctx context.Context, userID, key string) error
}

// BusMessage is one published message seen by a subscriber.
type BusMessage struct {
	Channel string
	Payload []byte
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out and durable streams. Subscribe
// accepts literal channel names or patterns containing '*'.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (<-chan BusMessage, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
