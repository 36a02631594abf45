// Package store defines the record store contract shared by every surface
// and provides Redis and in-memory implementations.
//
// All cross-request coordination goes through the store's atomic
// primitives (Incr, SetIfNotExists, Expire); nothing in this module keeps
// shared mutable state in process memory.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// TTL sentinels returned by Store.TTL, matching Redis semantics.
const (
	// NoKey is returned by TTL when the key does not exist.
	NoKey time.Duration = -2
	// NoExpiry is returned by TTL when the key exists without a TTL.
	NoExpiry time.Duration = -1
)

// Store is the key/value contract used for records, replay locks, rate
// limit counters and stats hashes. Keys are namespaced by kind, e.g.
// "payment:{id}", "rl:{surface}:{action}:{id}", "handoff:{aud}:{nonce}".
type Store interface {
	// Get returns the string value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key without expiry.
	Set(ctx context.Context, key, value string) error

	// SetIfNotExists atomically stores value with a TTL when key is absent.
	// It reports whether the value was stored.
	SetIfNotExists(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Incr atomically increments the integer at key (absent counts as 0)
	// and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining time to live of key, NoKey if it does not
	// exist, or NoExpiry if it has no TTL.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// HashIncrBy atomically adds n to a hash field and returns the new value.
	HashIncrBy(ctx context.Context, key, field string, n int64) (int64, error)

	// HashSet sets a hash field.
	HashSet(ctx context.Context, key, field, value string) error

	// HashGetAll returns all fields of a hash; an absent key yields an
	// empty map.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
