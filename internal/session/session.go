// Package session keeps the server-side records behind JWT session
// credentials in Redis. Records carry their own TTL, so an expired session
// disappears without any sweeping; logout deletes the record, which kills
// the credential even while its signature is still valid.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/model"
)

// ErrNotFound is returned when no live session record exists for an ID.
var ErrNotFound = errors.New("session not found")

const keyPrefix = "keyorbit:session:"

// Store persists session records in Redis.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a session store on an existing Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Put saves a session record with a TTL matching its expiry. Records that
// would already be expired are rejected.
func (s *Store) Put(ctx context.Context, sess *model.Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", sess.ID)
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+sess.ID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get returns the live session record for id, or ErrNotFound if it was
// logged out or has expired.
func (s *Store) Get(ctx context.Context, id string) (*model.Session, error) {
	payload, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Delete removes a session record. Deleting an absent record is not an
// error; logout is idempotent.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
