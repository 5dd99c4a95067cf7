// Package idempotency deduplicates consumed broker messages. The outbox
// relay is at-least-once, so every consumer checks Seen before acting and
// marks the delivery only after its handler succeeded.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb   *redis.Client
	ttl   time.Duration
	group string
}

// NewStore scopes dedupe keys to one consumer group. Several groups consume
// the same topic, so a delivery processed by one must still reach the others.
func NewStore(rdb *redis.Client, ttl time.Duration, group string) *Store {
	return &Store{rdb: rdb, ttl: ttl, group: group}
}

// Key identifies a delivery by its position in the partition log.
func (s *Store) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:%s:%s:%d:%d", s.group, topic, partition, offset)
}

// Seen reports whether the key was already marked. It does not claim the
// key: a crash mid-handle must leave the delivery retryable.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// Mark records the delivery as processed.
func (s *Store) Mark(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, key, "1", s.ttl).Err()
}
