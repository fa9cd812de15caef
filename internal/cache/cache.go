// Package cache defines the Cache/Coordination façade (spec §4.6, C6): a
// single shared key/value + pub/sub abstraction that the scheduler uses for
// claims, the registry uses for reconciliation, and the store uses for
// latest-value writes and broadcast.
//
// The façade is deliberately narrow — spec §4.6 enumerates exactly the
// operations the core needs, nothing more. Concrete backends (Redis, an
// in-memory map for tests) implement this interface; no component outside
// this package knows which backend is wired in.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Cache is the C6 façade. All keys passed to these methods are expected to
// already carry the namespace prefix (spec §6 "Cache keyspace") — this
// package does not itself prefix keys; internal/registry and internal/schedule
// build fully-qualified keys before calling in.
type Cache interface {
	// SetIfAbsent atomically writes value to key with the given ttl, but
	// only if key is currently absent. Returns true if the write happened.
	// This is the scheduler's claim primitive (spec §4.2 step 2).
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Get reads a key's value. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes key unconditionally, with an optional ttl (zero = no expiry).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes a key. No-op if absent.
	Del(ctx context.Context, key string) error

	// MSet writes multiple keys atomically where the backend supports it,
	// best-effort otherwise. Used for latest-value cache writes (spec §4.5).
	MSet(ctx context.Context, values map[string][]byte, ttl time.Duration) error

	// MGet reads multiple keys. Missing keys are simply absent from the
	// result map, not an error.
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)

	// WithLock runs fn while holding a named distributed lock. Used once at
	// startup for registry reconciliation (spec §4.1, key locks:ingesters).
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error

	// Publish broadcasts payload on channel. Best-effort: delivery failures
	// must never propagate back into the ingestion path (spec §4.5).
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel of messages published to channel. The
	// returned stop function releases the subscription.
	Subscribe(ctx context.Context, channel string) (msgs <-chan []byte, stop func(), err error)

	// Close releases backend resources (connections, etc).
	Close() error
}
