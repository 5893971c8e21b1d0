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

// SessionStore implements domain.SessionStore using JSON-serialized
// sessions and a per-user token index so logout-everywhere can find
// every live token.
//
// Key schema:
//
//	session:{token}       - string value containing JSON
//	session:user:{userID} - set of the user's live tokens
type SessionStore struct {
	rdb *redis.Client
}

// NewSessionStore creates a SessionStore backed by the given Client.
func NewSessionStore(c *Client) *SessionStore {
	return &SessionStore{rdb: c.Underlying()}
}

func sessionKey(token string) string       { return "session:" + token }
func userSessionsKey(userID string) string { return "session:user:" + userID }

// Put stores a session keyed by its token, expiring at the session's
// ExpiresAt. The user index is extended to the same expiry.
func (ss *SessionStore) Put(ctx context.Context, s domain.Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("redis: put session: expires in the past")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis: marshal session: %w", err)
	}

	pipe := ss.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(s.Token), data, ttl)
	pipe.SAdd(ctx, userSessionsKey(s.UserID), s.Token)
	// Sessions share one configured TTL, so the newest expiry covers
	// every token in the set.
	pipe.Expire(ctx, userSessionsKey(s.UserID), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put session: %w", err)
	}
	return nil
}

// Get retrieves a session by token.
// It returns domain.ErrNotFound when the token is unknown or expired.
func (ss *SessionStore) Get(ctx context.Context, token string) (domain.Session, error) {
	data, err := ss.rdb.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("redis: get session: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.Session{}, fmt.Errorf("redis: unmarshal session: %w", err)
	}
	s.Token = token
	return s, nil
}

// Delete removes a single session and its index entry. Deleting an
// unknown token is not an error.
func (ss *SessionStore) Delete(ctx context.Context, token string) error {
	s, err := ss.Get(ctx, token)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: delete session: %w", err)
	}

	pipe := ss.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(token))
	if err == nil {
		pipe.SRem(ctx, userSessionsKey(s.UserID), token)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete session: %w", err)
	}
	return nil
}

// DeleteByUser removes every live session belonging to a user.
func (ss *SessionStore) DeleteByUser(ctx context.Context, userID string) error {
	idxKey := userSessionsKey(userID)

	tokens, err := ss.rdb.SMembers(ctx, idxKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: delete sessions for user %s: %w", userID, err)
	}

	keys := make([]string, 0, len(tokens)+1)
	for _, tok := range tokens {
		keys = append(keys, sessionKey(tok))
	}
	keys = append(keys, idxKey)

	if err := ss.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: delete sessions for user %s: %w", userID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SessionStore = (*SessionStore)(nil)
