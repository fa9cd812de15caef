// Package processor is the processor loader kind (spec §4.3): it performs
// no acquisition at all. Every field's value comes from a transformer
// chain's {Ingester.Field} cross-references, resolved against the latest
// cached values of other ingesters' fields at transform time — targets and
// selectors are ignored (spec: "Reads latest values of referenced fields
// ... from the cache, deriving its dependency set implicitly from
// transformer text").
package processor

import (
	"context"

	"chomp/internal/ingest"
	"chomp/internal/loader"
)

func init() {
	loader.Register(ingest.KindProcessor, New)
}

// Loader has nothing to acquire; it exists only to satisfy the Loader
// interface so the scheduler treats processor ingesters like any other.
type Loader struct{}

// New returns the processor Loader for spec.
func New(spec *ingest.Ingester) (loader.Loader, error) {
	return &Loader{}, nil
}

// Acquire returns a nil payload: every field is computed entirely by its
// transformer chain's cross-resource references, not by selecting into raw.
func (l *Loader) Acquire(ctx context.Context, spec *ingest.Ingester) (any, loader.RequestVitals, error) {
	return nil, loader.RequestVitals{Status: "ok", FieldCount: len(spec.Fields)}, nil
}

func (l *Loader) Close() error { return nil }

var _ loader.Loader = (*Loader)(nil)
