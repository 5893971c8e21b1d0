package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carbex/carbex/internal/domain"
	"github.com/redis/go-redis/v9"
)

// IdempotencyStore implements domain.IdempotencyStore using SETNX
// claims. A reserved key holds the empty string while the first
// request is in flight and the execution ID once it completes.
//
// Key schema:
//
//	idem:{userID}:{key} - string value, "" while pending
type IdempotencyStore struct {
	rdb *redis.Client
}

// NewIdempotencyStore creates an IdempotencyStore backed by the given
// Client.
func NewIdempotencyStore(c *Client) *IdempotencyStore {
	return &IdempotencyStore{rdb: c.Underlying()}
}

func idemKey(userID, key string) string {
	return "idem:" + userID + ":" + key
}

// Reserve claims the key for the caller. fresh is true when this call
// made the claim; otherwise executionID carries the stored result ID,
// or is empty while the original request is still in flight.
func (is *IdempotencyStore) Reserve(ctx context.Context, userID, key string, ttl time.Duration) (string, bool, error) {
	k := idemKey(userID, key)

	// Two attempts cover the claim expiring between SetNX and Get.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := is.rdb.SetNX(ctx, k, "", ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("redis: reserve idempotency %s: %w", key, err)
		}
		if ok {
			return "", true, nil
		}

		id, err := is.rdb.Get(ctx, k).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return "", false, fmt.Errorf("redis: reserve idempotency %s: %w", key, err)
		}
		return id, false, nil
	}

	return "", false, nil
}

// Complete records the execution ID under the key so later retries
// replay the stored result.
func (is *IdempotencyStore) Complete(ctx context.Context, userID, key, executionID string, ttl time.Duration) error {
	if err := is.rdb.Set(ctx, idemKey(userID, key), executionID, ttl).Err(); err != nil {
		return fmt.Errorf("redis: complete idempotency %s: %w", key, err)
	}
	return nil
}

// Release drops a claim after a failed attempt so the client may retry
// with the same key.
func (is *IdempotencyStore) Release(ctx context.Context, userID, key string) error {
	if err := is.rdb.Del(ctx, idemKey(userID, key)).Err(); err != nil {
		return fmt.Errorf("redis: release idempotency %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
