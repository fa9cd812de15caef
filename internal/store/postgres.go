package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
)

// Postgres is the concrete Store backed by github.com/jackc/pgx/v5, the
// teacher's domain-storage driver's spiritual successor within this
// dependency graph (the teacher persists log chunks to disk/sqlite; Chomp
// persists typed rows, which calls for a real relational driver instead).
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a connection pool against dsn and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// pgColumnType maps a declared field type to its Postgres column type.
func pgColumnType(t ingest.FieldType) (string, error) {
	switch t {
	case ingest.TypeInt8, ingest.TypeUint8, ingest.TypeInt16, ingest.TypeUint16:
		return "smallint", nil
	case ingest.TypeInt32, ingest.TypeUint32:
		return "integer", nil
	case ingest.TypeInt64, ingest.TypeUint64:
		return "bigint", nil
	case ingest.TypeFloat32, ingest.TypeUFloat32:
		return "real", nil
	case ingest.TypeFloat64, ingest.TypeUFloat64:
		return "double precision", nil
	case ingest.TypeBool:
		return "boolean", nil
	case ingest.TypeTimestamp:
		return "timestamptz", nil
	case ingest.TypeString:
		return "text", nil
	case ingest.TypeBinary, ingest.TypeVarbinary:
		return "bytea", nil
	default:
		return "", fmt.Errorf("store: no postgres column type for field type %q", t)
	}
}

// EnsureSchema creates or additively alters the table backing spec.
func (p *Postgres) EnsureSchema(ctx context.Context, spec *ingest.Ingester) error {
	table := pgx.Identifier{sanitizeTableName(spec.Name)}.Sanitize()

	existing, err := p.existingColumns(ctx, spec.Name)
	if err != nil {
		return chomperr.New(chomperr.KindStore, "store.ensure_schema", spec.Name, err)
	}

	if len(existing) == 0 {
		return p.createTable(ctx, spec, table)
	}
	return p.alterTable(ctx, spec, table, existing)
}

func (p *Postgres) createTable(ctx context.Context, spec *ingest.Ingester, quotedTable string) error {
	cols := []string{`"ts" timestamptz NOT NULL`}
	for _, f := range spec.StoredFields() {
		colType, err := pgColumnType(spec.EffectiveType(f))
		if err != nil {
			return chomperr.New(chomperr.KindSchema, "store.create_table", spec.Name, err)
		}
		cols = append(cols, fmt.Sprintf("%s %s", pgx.Identifier{f.Name}.Sanitize(), colType))
	}

	var pk string
	switch spec.ResourceType {
	case ingest.ResourceValue:
		pk = `, PRIMARY KEY ("name")`
		cols = append([]string{`"name" text NOT NULL`}, cols...)
	case ingest.ResourceTimeseries:
		pk = `, PRIMARY KEY ("ts")`
	case ingest.ResourceSeries:
		// append-only, unkeyed: no primary key.
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s%s)", quotedTable, strings.Join(cols, ", "), pk)
	if _, err := p.pool.Exec(ctx, stmt); err != nil {
		return chomperr.New(chomperr.KindSchema, "store.create_table", spec.Name, err)
	}
	return nil
}

func (p *Postgres) alterTable(ctx context.Context, spec *ingest.Ingester, quotedTable string, existing map[string]string) error {
	// A column present in the database but no longer declared is a field
	// removal: refuse it before any column is added (no DROP COLUMN is issued).
	declared := map[string]bool{"ts": true, "name": true}
	for _, f := range spec.StoredFields() {
		declared[f.Name] = true
	}
	for col := range existing {
		if !declared[col] {
			return chomperr.New(chomperr.KindSchema, "store.alter_table", spec.Name,
				&ErrSchemaIncompatible{Table: spec.Name, Column: col, Reason: "column is no longer declared"})
		}
	}
	for _, f := range spec.StoredFields() {
		colType, err := pgColumnType(spec.EffectiveType(f))
		if err != nil {
			return chomperr.New(chomperr.KindSchema, "store.alter_table", spec.Name, err)
		}
		got, present := existing[f.Name]
		if !present {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quotedTable, pgx.Identifier{f.Name}.Sanitize(), colType)
			if _, err := p.pool.Exec(ctx, stmt); err != nil {
				return chomperr.New(chomperr.KindSchema, "store.alter_table", spec.Name, err)
			}
			continue
		}
		if !strings.EqualFold(got, colType) {
			return chomperr.New(chomperr.KindSchema, "store.alter_table", spec.Name,
				&ErrSchemaIncompatible{Table: spec.Name, Column: f.Name, Reason: fmt.Sprintf("existing type %s, declared type %s", got, colType)})
		}
	}
	return nil
}

func (p *Postgres) existingColumns(ctx context.Context, tableName string) (map[string]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT column_name, data_type FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1`, sanitizeTableName(tableName))
	if err != nil {
		return nil, fmt.Errorf("query existing columns: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		out[name] = dataType
	}
	return out, rows.Err()
}

// InsertRow writes one row per spec.ResourceType's shape (spec §4.5).
func (p *Postgres) InsertRow(ctx context.Context, spec *ingest.Ingester, row *ingest.Row) error {
	table := pgx.Identifier{sanitizeTableName(spec.Name)}.Sanitize()

	cols := []string{`"ts"`}
	args := []any{row.TS}
	if spec.ResourceType == ingest.ResourceValue {
		cols = append(cols, `"name"`)
		args = append(args, spec.Name)
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	for _, name := range row.Order {
		cols = append(cols, pgx.Identifier{name}.Sanitize())
		args = append(args, row.Values[name])
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	var stmt string
	switch spec.ResourceType {
	case ingest.ResourceValue:
		setClauses := make([]string, 0, len(row.Order)+1)
		setClauses = append(setClauses, `"ts" = EXCLUDED."ts"`)
		for _, name := range row.Order {
			quoted := pgx.Identifier{name}.Sanitize()
			setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", quoted, quoted))
		}
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (\"name\") DO UPDATE SET %s",
			table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(setClauses, ", "))
	case ingest.ResourceTimeseries:
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (\"ts\") DO NOTHING",
			table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	default: // series
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	}

	if _, err := p.pool.Exec(ctx, stmt, args...); err != nil {
		return chomperr.New(chomperr.KindStore, "store.insert_row", spec.Name, err)
	}
	return nil
}

// sanitizeTableName strips anything that isn't alphanumeric or underscore
// from an ingester name before it becomes a table identifier — names are
// operator-configured, not untrusted input, but this keeps the identifier
// unambiguous regardless of what characters YAML allows in a scalar.
func sanitizeTableName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

var _ Store = (*Postgres)(nil)
