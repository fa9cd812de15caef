package store

import (
	"context"
	"sync"

	"chomp/internal/ingest"
)

// Memory is an in-process Store for tests and single-instance evaluation:
// no schema enforcement, just the shape guarantees (value resource upserts
// by name, timeseries dedupes by ts).
type Memory struct {
	mu     sync.Mutex
	tables map[string][]*ingest.Row  // timeseries/series: append-only
	single map[string]*ingest.Row    // value: single row per ingester
	seenTS map[string]map[int64]bool // timeseries dedupe
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string][]*ingest.Row),
		single: make(map[string]*ingest.Row),
		seenTS: make(map[string]map[int64]bool),
	}
}

func (m *Memory) EnsureSchema(ctx context.Context, spec *ingest.Ingester) error {
	return nil
}

func (m *Memory) InsertRow(ctx context.Context, spec *ingest.Ingester, row *ingest.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch spec.ResourceType {
	case ingest.ResourceValue:
		m.single[spec.Name] = row
	case ingest.ResourceTimeseries:
		seen := m.seenTS[spec.Name]
		if seen == nil {
			seen = make(map[int64]bool)
			m.seenTS[spec.Name] = seen
		}
		ts := row.TS.UnixNano()
		if seen[ts] {
			return nil // idempotent: (ingester, ts) already written
		}
		seen[ts] = true
		m.tables[spec.Name] = append(m.tables[spec.Name], row)
	default: // series
		m.tables[spec.Name] = append(m.tables[spec.Name], row)
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// Rows returns the stored rows for an ingester (append-only kinds).
func (m *Memory) Rows(ingester string) []*ingest.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ingest.Row, len(m.tables[ingester]))
	copy(out, m.tables[ingester])
	return out
}

// Latest returns the single stored row for a value-resource ingester.
func (m *Memory) Latest(ingester string) (*ingest.Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.single[ingester]
	return r, ok
}

var _ Store = (*Memory)(nil)
