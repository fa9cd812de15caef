// Package loader is the per-kind data acquisition layer (spec §4.3, C3).
// Every loader implementation returns the same opaque raw payload handed
// to the transformer, plus a RequestVitals record describing the
// acquisition itself.
//
// Grounded on the teacher's IngesterFactory pattern (internal/orchestrator/
// factory.go: "Factory maps are keyed by type name... the caller populates
// these maps by importing concrete implementation packages and calling
// their NewFactory() functions"): a Kind string resolves to a constructor
// via a package-level registry populated by each loader subpackage's
// init(), so wiring a new kind never touches the scheduler.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chomp/internal/ingest"
)

// RequestVitals describes one acquisition attempt, independent of kind —
// the monitor ingester kind reads these off the ingester it watches.
type RequestVitals struct {
	Latency    time.Duration
	Bytes      int
	Status     string // "ok", or a protocol-specific status (HTTP code, RPC error class)
	FieldCount int
}

// Loader acquires one ingester's raw payload for one tick.
type Loader interface {
	// Acquire fetches the raw payload for spec, honoring ctx's deadline
	// (spec §5: "no larger than the ingester's interval minus the safety
	// margin"). Loaders that support a pre_transformer apply it to the
	// decoded payload before returning it.
	Acquire(ctx context.Context, spec *ingest.Ingester) (raw any, vitals RequestVitals, err error)

	// Close releases any held resources (WS connections, chain RPC pools).
	// Loaders with nothing to release may implement it as a no-op.
	Close() error
}

// Factory constructs a Loader for one ingester, called once at startup.
type Factory func(spec *ingest.Ingester) (Loader, error)

var (
	mu        sync.RWMutex
	factories = make(map[ingest.Kind]Factory)

	vitalsMu sync.RWMutex
	vitals   = make(map[string]RequestVitals)
)

// RecordVitals stores the most recent RequestVitals observed for an
// ingester, overwriting whatever was there — the monitor loader kind
// reads this map for the ingesters it watches (spec §4.3 monitor).
func RecordVitals(ingesterName string, v RequestVitals) {
	vitalsMu.Lock()
	vitals[ingesterName] = v
	vitalsMu.Unlock()
}

// LastVitals returns the most recently recorded RequestVitals for an
// ingester, if any acquisition has completed for it yet.
func LastVitals(ingesterName string) (RequestVitals, bool) {
	vitalsMu.RLock()
	defer vitalsMu.RUnlock()
	v, ok := vitals[ingesterName]
	return v, ok
}

var (
	resolverMu sync.RWMutex
	resolver   func(name string) (*ingest.Ingester, bool)
)

// SetResolver installs the function the monitor loader kind uses to look
// up another ingester's spec by name (its Target, for geolocating the
// host it calls). Set once at startup from whatever owns the registry.
func SetResolver(f func(name string) (*ingest.Ingester, bool)) {
	resolverMu.Lock()
	resolver = f
	resolverMu.Unlock()
}

// Resolve looks up an ingester spec by name via the installed resolver,
// returning ok=false if none was installed or the name is unknown.
func Resolve(name string) (*ingest.Ingester, bool) {
	resolverMu.RLock()
	f := resolver
	resolverMu.RUnlock()
	if f == nil {
		return nil, false
	}
	return f(name)
}

// Register associates a Kind with the Factory that builds its Loader.
// Called from each loader subpackage's init().
func Register(kind ingest.Kind, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New builds the Loader for spec.Kind, erroring if no subpackage has
// registered that kind — a configuration naming a kind with no importable
// implementation is a startup-fatal condition, not a silent no-op.
func New(spec *ingest.Ingester) (Loader, error) {
	mu.RLock()
	f, ok := factories[spec.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("loader: no implementation registered for kind %q", spec.Kind)
	}
	return f(spec)
}
