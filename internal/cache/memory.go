package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process Cache implementation for tests and
// single-instance deployments. It is not suitable for multi-process
// clustering since claims and pub/sub are local to the process — useful
// precisely because the scheduler's claim/publish logic can be exercised
// deterministically without a network dependency.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]entry

	subMu sync.Mutex
	subs  map[string][]chan []byte

	locks sync.Map // name -> *sync.Mutex
}

type entry struct {
	value   []byte
	expires time.Time // zero = no expiry
}

// NewMemory returns an empty MemoryCache.
func NewMemory() *MemoryCache {
	return &MemoryCache{
		data: make(map[string]entry),
		subs: make(map[string][]chan []byte),
	}
}

var _ Cache = (*MemoryCache)(nil)

func (c *MemoryCache) expired(e entry, now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

func (c *MemoryCache) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if e, ok := c.data[key]; ok && !c.expired(e, now) {
		return false, nil
	}
	c.data[key] = c.newEntry(value, ttl, now)
	return true, nil
}

func (c *MemoryCache) newEntry(value []byte, ttl time.Duration, now time.Time) entry {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	return e
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok || c.expired(e, time.Now()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = c.newEntry(value, ttl, time.Now())
	return nil
}

func (c *MemoryCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *MemoryCache) MSet(_ context.Context, values map[string][]byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, v := range values {
		c.data[k] = c.newEntry(v, ttl, now)
	}
	return nil
}

func (c *MemoryCache) MGet(_ context.Context, keys []string) (map[string][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if e, ok := c.data[k]; ok && !c.expired(e, now) {
			out[k] = append([]byte(nil), e.value...)
		}
	}
	return out, nil
}

func (c *MemoryCache) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	lockAny, _ := c.locks.LoadOrStore(name, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}

func (c *MemoryCache) Publish(_ context.Context, channel string, payload []byte) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs[channel] {
		select {
		case ch <- payload:
		default:
			// best-effort: drop on a full/slow subscriber
		}
	}
	return nil
}

func (c *MemoryCache) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)
	c.subMu.Lock()
	c.subs[channel] = append(c.subs[channel], ch)
	c.subMu.Unlock()

	stop := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		list := c.subs[channel]
		for i, candidate := range list {
			if candidate == ch {
				c.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	return ch, stop, nil
}

func (c *MemoryCache) Close() error { return nil }
