// Package registry implements C1's registration half (config loading lives
// in internal/config) and the registry/latest-value portions of C6's
// keyspace: publishing the constructed Ingester set into the shared cache,
// reconciling against what other processes already registered, and
// serving latest-value reads/writes for cross-resource references and the
// query server (out of scope, but the keyspace it reads is specified here).
//
// Grounded on internal/source/registry.go's dual in-memory/persisted shape,
// generalized from "resolve log source identity" to "register and
// reconcile ingester specs across a cluster".
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"chomp/internal/cache"
	"chomp/internal/ingest"
	"chomp/internal/logging"
)

const defaultNamespace = "chomp"

// Keys builds the namespaced cache keys from spec §6 "Cache keyspace".
type Keys struct {
	Namespace string
}

func (k Keys) ns() string {
	if k.Namespace == "" {
		return defaultNamespace
	}
	return k.Namespace
}

func (k Keys) Claim(ingester string) string     { return fmt.Sprintf("%s:claims:%s", k.ns(), ingester) }
func (k Keys) Ingester(ingester string) string   { return fmt.Sprintf("%s:ingesters:%s", k.ns(), ingester) }
func (k Keys) Latest(ingester string) string     { return fmt.Sprintf("%s:latest:%s", k.ns(), ingester) }
func (k Keys) LocksIngesters() string            { return fmt.Sprintf("%s:locks:ingesters", k.ns()) }
func (k Keys) Counter(ingester, kind string) string {
	return fmt.Sprintf("%s:counters:%s:%s", k.ns(), ingester, kind)
}
func (k Keys) Channel(ingester string) string { return fmt.Sprintf("%s:%s", k.ns(), ingester) }

// Registry registers ingesters into the shared cache and serves reads of
// the registry and latest-value keyspaces.
type Registry struct {
	mu        sync.RWMutex
	local     map[string]*ingest.Ingester
	keys      Keys
	cache     cache.Cache
	logger    *slog.Logger
}

// Config configures a Registry.
type Config struct {
	Namespace string
	Cache     cache.Cache
	Logger    *slog.Logger
}

// New creates a Registry bound to the given cache and namespace.
func New(cfg Config) *Registry {
	return &Registry{
		local:  make(map[string]*ingest.Ingester),
		keys:   Keys{Namespace: cfg.Namespace},
		cache:  cfg.Cache,
		logger: logging.Default(cfg.Logger).With("component", "registry"),
	}
}

// Keys exposes the namespaced key builder for other components (schedule,
// store) that need to address the same keyspace.
func (r *Registry) Keys() Keys { return r.keys }

// specHash returns a stable hash of the parts of an ingester spec that
// define its behavior — used to detect a same-name, different-spec
// conflict across processes (spec §4.1).
func specHash(ing *ingest.Ingester) string {
	b, _ := msgpack.Marshal(struct {
		Kind           ingest.Kind
		ResourceType   ingest.ResourceType
		Interval       ingest.Interval
		Target         string
		Selector       string
		Type           ingest.FieldType
		Fields         []*ingest.ResourceField
		PreTransformer string
		Handler        string
		Reducer        string
	}{
		ing.Kind, ing.ResourceType, ing.Interval, ing.Target, ing.Selector, ing.Type,
		ing.Fields, ing.PreTransformer, ing.Handler, ing.Reducer,
	})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Register publishes the given ingesters into the shared registry under
// locks:ingesters, reconciling against whatever is already registered by
// other processes. A name collision with a different spec hash is a fatal
// configuration error (spec §4.1): "the operator must reconcile."
func (r *Registry) Register(ctx context.Context, ingesters []*ingest.Ingester) error {
	return r.cache.WithLock(ctx, r.keys.LocksIngesters(), func(ctx context.Context) error {
		for _, ing := range ingesters {
			key := r.keys.Ingester(ing.Name)
			existing, err := r.cache.Get(ctx, key)
			if err != nil && err != cache.ErrNotFound {
				return fmt.Errorf("read existing registry entry %q: %w", ing.Name, err)
			}
			if err == nil {
				var prior ingest.Ingester
				if decodeErr := msgpack.Unmarshal(existing, &prior); decodeErr == nil {
					if specHash(&prior) != specHash(ing) {
						return fmt.Errorf(
							"ingester %q already registered with a different spec; reconcile configuration before restarting",
							ing.Name,
						)
					}
				}
			}

			if ing.Status == "" {
				ing.Status = ingest.StatusNew
			}
			b, err := msgpack.Marshal(ing)
			if err != nil {
				return fmt.Errorf("marshal registry entry %q: %w", ing.Name, err)
			}
			if err := r.cache.Set(ctx, key, b, 0); err != nil {
				return fmt.Errorf("publish registry entry %q: %w", ing.Name, err)
			}

			r.mu.Lock()
			r.local[ing.Name] = ing
			r.mu.Unlock()
		}
		r.logger.Info("ingesters registered", "count", len(ingesters))
		return nil
	})
}

// Get returns the local copy of a registered ingester by name.
func (r *Registry) Get(name string) (*ingest.Ingester, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ing, ok := r.local[name]
	return ing, ok
}

// All returns all locally registered ingesters.
func (r *Registry) All() []*ingest.Ingester {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ingest.Ingester, 0, len(r.local))
	for _, ing := range r.local {
		out = append(out, ing)
	}
	return out
}

// UpdateStatus writes the owner's post-tick health status back to the
// shared registry record (spec §7: status, last_error, last_ingested,
// consecutive_failures).
func (r *Registry) UpdateStatus(ctx context.Context, name string, status ingest.Status, lastErr string, lastIngested time.Time, consecutiveFailures int) error {
	r.mu.Lock()
	ing, ok := r.local[name]
	if ok {
		ing.Status = status
		ing.LastError = lastErr
		ing.LastIngested = lastIngested
		ing.ConsecutiveFailures = consecutiveFailures
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("update status: unknown ingester %q", name)
	}

	b, err := msgpack.Marshal(ing)
	if err != nil {
		return fmt.Errorf("marshal registry entry %q: %w", name, err)
	}
	return r.cache.Set(ctx, r.keys.Ingester(name), b, 0)
}

// WriteLatest atomically replaces the latest-value record for an ingester,
// including transient fields (spec §4.5 "Latest values (including
// transient fields) are written to latest:{ingester_name}... replacing
// prior contents atomically").
func (r *Registry) WriteLatest(ctx context.Context, name string, values map[string]any, ts time.Time) error {
	payload := latestRecord{Values: values, TS: ts}
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal latest record %q: %w", name, err)
	}
	return r.cache.Set(ctx, r.keys.Latest(name), b, 0)
}

type latestRecord struct {
	Values map[string]any
	TS     time.Time
}

// LatestValue resolves a cross-resource reference {Ingester.Field} to its
// most recently cached value (spec §4.4 Phase 2). Returns false if the
// ingester has never stored, or the field is unknown.
func (r *Registry) LatestValue(ctx context.Context, ingesterName, field string) (any, time.Time, bool) {
	b, err := r.cache.Get(ctx, r.keys.Latest(ingesterName))
	if err != nil {
		return nil, time.Time{}, false
	}
	var rec latestRecord
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return nil, time.Time{}, false
	}
	v, ok := rec.Values[field]
	return v, rec.TS, ok
}

// IncrCounter bumps a per-ingester health counter (spec §6
// {ns}:counters:{ingester}:{kind}). Best effort: failures are logged by the
// caller, never escalated, since counters are an operator convenience.
func (r *Registry) IncrCounter(ctx context.Context, name, kind string) {
	key := r.keys.Counter(name, kind)
	b, err := r.cache.Get(ctx, key)
	var n int64
	if err == nil {
		n = decodeCounter(b)
	}
	n++
	_ = r.cache.Set(ctx, key, encodeCounter(n), 0)
}

func encodeCounter(n int64) []byte {
	b, _ := msgpack.Marshal(n)
	return b
}

func decodeCounter(b []byte) int64 {
	var n int64
	_ = msgpack.Unmarshal(b, &n)
	return n
}
