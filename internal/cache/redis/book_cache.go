package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carbex/carbex/internal/domain"
	"github.com/redis/go-redis/v9"
)

const bookTTL = time.Minute

// BookCache implements domain.BookCache using Redis hashes with the
// JSON-serialized snapshot. The snapshot is cached whole because
// levels carry exact decimal prices and per-seller attribution, and
// the API serves it as one document.
//
// Key schema:
//
//	book:{certificate} - hash with field "data" containing JSON
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(cert domain.CertificateType) string {
	return "book:" + string(cert)
}

// SetSnapshot stores a book snapshot with a one-minute TTL. Writers
// refresh it on every book change, so the TTL only bounds staleness
// after the writer stops.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.OrderBookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", snap.Certificate, err)
	}

	key := bookKey(snap.Certificate)

	pipe := bc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, bookTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", snap.Certificate, err)
	}
	return nil
}

// GetSnapshot retrieves the cached snapshot for a certificate.
// It returns domain.ErrNotFound when no snapshot is cached.
func (bc *BookCache) GetSnapshot(ctx context.Context, cert domain.CertificateType) (domain.OrderBookSnapshot, error) {
	data, err := bc.rdb.HGet(ctx, bookKey(cert), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderBookSnapshot{}, domain.ErrNotFound
		}
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get book %s: %w", cert, err)
	}

	var snap domain.OrderBookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: unmarshal book %s: %w", cert, err)
	}
	return snap, nil
}

// Invalidate drops the cached snapshot so the next read rebuilds it.
func (bc *BookCache) Invalidate(ctx context.Context, cert domain.CertificateType) error {
	if err := bc.rdb.Del(ctx, bookKey(cert)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate book %s: %w", cert, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
