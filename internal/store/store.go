// Package store bootstraps per-ingester tables and writes rows (spec
// §4.5, C5): one table per ingester, schema derived from its non-transient
// fields in declared order, additive-only schema evolution.
//
// Grounded on the teacher's sqlite config store (internal/config/sqlite/
// store.go, migrate.go) for the sql.DB-over-a-driver shape and the
// fmt.Errorf-wrapped-at-every-step error style; the schema here is dynamic
// per ingester rather than a fixed numbered migration set, since table
// shape is only known once the first ingester config is loaded.
package store

import (
	"context"
	"fmt"

	"chomp/internal/ingest"
)

// Store persists rows into per-ingester tables and bootstraps their schema
// on first use.
type Store interface {
	// EnsureSchema creates the ingester's table if absent, or additively
	// alters it if fields were added since the last run. Field removal or
	// type change is refused (spec §4.5: "surfaces as a fatal configuration
	// error").
	EnsureSchema(ctx context.Context, spec *ingest.Ingester) error

	// InsertRow writes one row, honoring the ingester's resource_type
	// shape: timeseries appends keyed by (name, ts); value upserts a
	// single row keyed by name; series appends unkeyed.
	InsertRow(ctx context.Context, spec *ingest.Ingester, row *ingest.Row) error

	Close() error
}

// ColumnType maps a field's declared scalar type to this Store's column
// type name — implementations supply their own SQL dialect mapping.
type ColumnType func(t ingest.FieldType) (string, error)

// ErrSchemaIncompatible marks a refused schema change: field removal or a
// type change on an existing column (spec §4.5, chomperr.KindSchema).
type ErrSchemaIncompatible struct {
	Table  string
	Column string
	Reason string
}

func (e *ErrSchemaIncompatible) Error() string {
	return fmt.Sprintf("store: incompatible schema change on %s.%s: %s", e.Table, e.Column, e.Reason)
}
