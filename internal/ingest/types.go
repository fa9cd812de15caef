// Package ingest defines the core Chomp data model: the Ingester/ResourceField
// configuration shape, the scalar type and interval vocabularies, and the
// streaming epoch buffer used by ws_api ingesters.
//
// This package owns no I/O and no scheduling; it is the shared vocabulary
// that config, schedule, loader, transform, and store all build on — the
// same role internal/source/types.go and internal/orchestrator/ingester.go
// play in the teacher.
package ingest

import (
	"sync"
	"time"
)

// Kind identifies the acquisition strategy for an ingester.
type Kind string

const (
	KindHTTPAPI   Kind = "http_api"
	KindWSAPI     Kind = "ws_api"
	KindScraper   Kind = "scraper"
	KindEVMCaller Kind = "evm_caller"
	KindEVMLogger Kind = "evm_logger"
	KindSVMCaller Kind = "svm_caller"
	KindSuiCaller Kind = "sui_caller"
	KindProcessor Kind = "processor"
	KindMonitor   Kind = "monitor"
)

// Kinds is the ordered set of recognized ingester kinds; it mirrors the
// top-level keys expected in the YAML configuration (spec §6).
var Kinds = []Kind{
	KindHTTPAPI, KindWSAPI, KindScraper,
	KindEVMCaller, KindEVMLogger, KindSVMCaller, KindSuiCaller,
	KindProcessor, KindMonitor,
}

func (k Kind) Valid() bool {
	for _, v := range Kinds {
		if v == k {
			return true
		}
	}
	return false
}

// ResourceType controls the storage shape of an ingester's table.
type ResourceType string

const (
	ResourceTimeseries ResourceType = "timeseries" // append-only, keyed by (name, ts)
	ResourceValue      ResourceType = "value"      // single row, upserted by name
	ResourceSeries      ResourceType = "series"     // append-only, unkeyed
)

func (r ResourceType) Valid() bool {
	switch r {
	case ResourceTimeseries, ResourceValue, ResourceSeries:
		return true
	default:
		return false
	}
}

// FieldType is the enumerated scalar type vocabulary from spec §6.
type FieldType string

const (
	TypeInt8      FieldType = "int8"
	TypeUint8     FieldType = "uint8"
	TypeInt16     FieldType = "int16"
	TypeUint16    FieldType = "uint16"
	TypeInt32     FieldType = "int32"
	TypeUint32    FieldType = "uint32"
	TypeInt64     FieldType = "int64"
	TypeUint64    FieldType = "uint64"
	TypeFloat32   FieldType = "float32"
	TypeUFloat32  FieldType = "ufloat32"
	TypeFloat64   FieldType = "float64"
	TypeUFloat64  FieldType = "ufloat64"
	TypeBool      FieldType = "bool"
	TypeTimestamp FieldType = "timestamp"
	TypeString    FieldType = "string"
	TypeBinary    FieldType = "binary"
	TypeVarbinary FieldType = "varbinary"
)

var fieldTypes = map[FieldType]bool{
	TypeInt8: true, TypeUint8: true, TypeInt16: true, TypeUint16: true,
	TypeInt32: true, TypeUint32: true, TypeInt64: true, TypeUint64: true,
	TypeFloat32: true, TypeUFloat32: true, TypeFloat64: true, TypeUFloat64: true,
	TypeBool: true, TypeTimestamp: true, TypeString: true, TypeBinary: true,
	TypeVarbinary: true,
}

func (t FieldType) Valid() bool { return fieldTypes[t] }

// Interval is a symbolic schedule tag from the vocabulary in spec §4.2.
type Interval string

// intervalPeriods maps each recognized interval tag to its fixed period.
// Calendar-scale tags (D, W, M, Y) use their nominal duration; the
// scheduler aligns ticks to wall-clock boundaries of this period measured
// from the Unix epoch, per spec §4.2's "process-wide epoch 0" requirement.
var intervalPeriods = map[Interval]time.Duration{
	"s2": 2 * time.Second, "s5": 5 * time.Second, "s10": 10 * time.Second,
	"s20": 20 * time.Second, "s30": 30 * time.Second,
	"m1": time.Minute, "m2": 2 * time.Minute, "m5": 5 * time.Minute,
	"m10": 10 * time.Minute, "m15": 15 * time.Minute, "m30": 30 * time.Minute,
	"h1": time.Hour, "h4": 4 * time.Hour, "h6": 6 * time.Hour, "h12": 12 * time.Hour,
	"D1": 24 * time.Hour, "D2": 48 * time.Hour, "D3": 72 * time.Hour,
	"W1": 7 * 24 * time.Hour,
	"M1": 30 * 24 * time.Hour, // nominal 30 days; schedule.TickBoundary applies no calendar-month alignment
	"Y1": 365 * 24 * time.Hour,
}

// Period returns the fixed duration for the interval tag, and whether the
// tag is recognized.
func (iv Interval) Period() (time.Duration, bool) {
	d, ok := intervalPeriods[iv]
	return d, ok
}

func (iv Interval) Valid() bool {
	_, ok := intervalPeriods[iv]
	return ok
}

// ResourceField is one typed value extracted per tick from an ingester's
// payload (spec §3 ResourceField).
type ResourceField struct {
	Name         string      `yaml:"name" msgpack:"name"`
	Type         FieldType   `yaml:"type,omitempty" msgpack:"type"`
	Selector     string      `yaml:"selector,omitempty" msgpack:"selector"`
	Target       string      `yaml:"target,omitempty" msgpack:"target"`
	Transformers []string    `yaml:"transformers,omitempty" msgpack:"transformers"`
	Transient    bool        `yaml:"transient,omitempty" msgpack:"transient"`
	Tags         []string    `yaml:"tags,omitempty" msgpack:"tags"`
	Value        any         `yaml:"-" msgpack:"value"`
}

// Ingester is one configured data-producing unit (spec §3 Ingester).
type Ingester struct {
	Name           string            `yaml:"name" msgpack:"name"`
	Kind           Kind              `yaml:"-" msgpack:"kind"` // set from the YAML top-level key, not a field
	ResourceType   ResourceType      `yaml:"resource_type" msgpack:"resource_type"`
	Interval       Interval          `yaml:"interval" msgpack:"interval"`
	Target         string            `yaml:"target,omitempty" msgpack:"target"`
	Selector       string            `yaml:"selector,omitempty" msgpack:"selector"`
	Type           FieldType         `yaml:"type,omitempty" msgpack:"type"`
	Fields         []*ResourceField  `yaml:"fields" msgpack:"fields"`
	Probability    float64           `yaml:"probability,omitempty" msgpack:"probability"`
	Tags           []string          `yaml:"tags,omitempty" msgpack:"tags"`
	PreTransformer string            `yaml:"pre_transformer,omitempty" msgpack:"pre_transformer"`
	Handler        string            `yaml:"handler,omitempty" msgpack:"handler"`
	Reducer        string            `yaml:"reducer,omitempty" msgpack:"reducer"`
	Transient      bool              `yaml:"transient,omitempty" msgpack:"transient"`
	Headers        map[string]string `yaml:"headers,omitempty" msgpack:"headers"`
	Params         any               `yaml:"params,omitempty" msgpack:"params"`

	// Runtime/registry state (spec §3 Registry record).
	LastTick      time.Time `yaml:"-" msgpack:"last_tick"`
	LastIngested  time.Time `yaml:"-" msgpack:"last_ingested"`
	Status        Status    `yaml:"-" msgpack:"status"`
	LastError     string    `yaml:"-" msgpack:"last_error"`
	ConsecutiveFailures int `yaml:"-" msgpack:"consecutive_failures"`
}

// Status is the ingester health surfaced in its registry record (spec §7).
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusNew       Status = "new"
)

// FieldByName returns the field with the given name, or nil.
func (i *Ingester) FieldByName(name string) *ResourceField {
	for _, f := range i.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// EffectiveSelector resolves a field's selector, inheriting the ingester's
// default selector when unset (spec §4.1 field-level inheritance).
func (i *Ingester) EffectiveSelector(f *ResourceField) string {
	if f.Selector != "" {
		return f.Selector
	}
	return i.Selector
}

// EffectiveTarget resolves a field's target, inheriting the ingester's.
func (i *Ingester) EffectiveTarget(f *ResourceField) string {
	if f.Target != "" {
		return f.Target
	}
	return i.Target
}

// EffectiveType resolves a field's scalar type, inheriting the ingester's
// default type.
func (i *Ingester) EffectiveType(f *ResourceField) FieldType {
	if f.Type != "" {
		return f.Type
	}
	return i.Type
}

// EffectiveProbability returns the configured probability verbatim. Missing
// (nil in YAML) defaults to 1 in config.buildIngester at load time; a
// deliberately-configured probability of 0 must reach the scheduler as 0,
// so it is never remapped here — an ingester configured with
// "probability: 0" must never claim a tick.
func (i *Ingester) EffectiveProbability() float64 {
	return i.Probability
}

// StoredFields returns the non-transient fields in declared order — the
// columns of the time-series table (spec §3 invariant on transient fields).
func (i *Ingester) StoredFields() []*ResourceField {
	out := make([]*ResourceField, 0, len(i.Fields))
	for _, f := range i.Fields {
		if !f.Transient {
			out = append(out, f)
		}
	}
	return out
}

// Row is one tick's output: field name to typed value, in declared order.
type Row struct {
	Ingester string
	TS       time.Time
	Values   map[string]any
	Order    []string // field names in declared order, for stable serialization
}

// EpochBuffer is the per-field accumulator for streaming (WS) message data
// (spec §3 Epoch buffer). At most two consecutive epochs are retained so a
// reducer can reference the previous epoch. Append and Flip each hold the
// buffer's single mutex only for the in-memory update; the reducer consumes
// the frozen epoch outside the lock.
type EpochBuffer struct {
	mu     sync.Mutex
	current map[string][]any
	last    map[string][]any // the epoch returned by the most recent Flip
	beforeLast map[string][]any // the epoch returned by the Flip before that
}

// NewEpochBuffer returns an empty buffer.
func NewEpochBuffer() *EpochBuffer {
	return &EpochBuffer{current: make(map[string][]any)}
}

// Append adds a value to the named list in the current epoch.
func (b *EpochBuffer) Append(name string, v any) {
	b.mu.Lock()
	b.current[name] = append(b.current[name], v)
	b.mu.Unlock()
}

// Flip freezes the current epoch, starts a fresh one, and returns the
// frozen epoch for the reducer to consume outside the lock (spec §4.3
// ws_api: "flips the epoch buffer... then clears"). The epoch returned by
// the Flip before this one becomes available via Previous.
func (b *EpochBuffer) Flip() map[string][]any {
	b.mu.Lock()
	frozen := b.current
	b.current = make(map[string][]any)
	b.beforeLast = b.last
	b.last = frozen
	b.mu.Unlock()
	return frozen
}

// Previous returns the epoch from the Flip prior to the most recent one,
// for reducers that compare consecutive ticks. Nil until two Flips have run.
func (b *EpochBuffer) Previous() map[string][]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.beforeLast
}
