// Package config loads and validates the YAML ingester configuration
// (spec §4.1, C1) into fully-constructed ingest.Ingester values: one
// isolated namespace per file, unknown keys and invalid enums rejected,
// duplicate names rejected. Fields keep only their own target/selector/type;
// inheritance from the ingester is resolved at use by the Effective*
// accessors of ingest.Ingester.
//
// Grounded on the teacher's config.Store/Config split (internal/config/config.go,
// internal/config/bootstrap.go): config here is likewise "declarative, not
// accessed on the ingest hot path" — Load runs at startup and on a SIGHUP
// reload, never per tick.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"chomp/internal/ingest"
	"chomp/internal/transform"
)

// rawEntry is the wire shape of one ingester entry from spec §6's table.
// yaml.v3's KnownFields(true) rejects any key not listed here.
type rawEntry struct {
	Name           string            `yaml:"name"`
	Interval       string            `yaml:"interval"`
	ResourceType   string            `yaml:"resource_type"`
	Target         string            `yaml:"target"`
	Selector       string            `yaml:"selector"`
	Type           string            `yaml:"type"`
	Probability    *float64          `yaml:"probability"`
	PreTransformer string            `yaml:"pre_transformer"`
	Handler        string            `yaml:"handler"`
	Reducer        string            `yaml:"reducer"`
	Headers        map[string]string `yaml:"headers"`
	Params         any               `yaml:"params"`
	Transient      bool              `yaml:"transient"`
	Transformers   []string          `yaml:"transformers"`
	Tags           []string          `yaml:"tags"`
	Fields         []rawField        `yaml:"fields"`
}

// rawField is a field entry: the same schema minus interval/fields/resource_type.
type rawField struct {
	Name         string   `yaml:"name"`
	Target       string   `yaml:"target"`
	Selector     string   `yaml:"selector"`
	Type         string   `yaml:"type"`
	Transient    bool     `yaml:"transient"`
	Transformers []string `yaml:"transformers"`
	Tags         []string `yaml:"tags"`
}

// Namespace is one loaded, validated configuration file: the set of
// ingesters it declares, keyed by the file's basename (spec's "each file
// is an isolated namespace").
type Namespace struct {
	Name      string
	Ingesters []*ingest.Ingester
}

// Load reads and validates one YAML configuration file into a Namespace.
// Validation rejects unknown keys, wrong scalar types, invalid interval
// tags, empty field lists, and duplicate names within the file — spec §4.1.
func Load(path string) (*Namespace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var doc map[string][]rawEntry
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	ns := &Namespace{Name: namespaceFromPath(path)}
	seen := make(map[string]bool)

	for kindKey, entries := range doc {
		kind := ingest.Kind(kindKey)
		if !kind.Valid() {
			return nil, fmt.Errorf("config %s: unknown ingester kind %q", path, kindKey)
		}
		for _, re := range entries {
			ing, err := buildIngester(kind, re)
			if err != nil {
				return nil, fmt.Errorf("config %s: %w", path, err)
			}
			if seen[ing.Name] {
				return nil, fmt.Errorf("config %s: duplicate ingester name %q", path, ing.Name)
			}
			seen[ing.Name] = true
			ns.Ingesters = append(ns.Ingesters, ing)
		}
	}

	if err := transform.ValidateDependencies(ns.Ingesters); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return ns, nil
}

// LoadAll reads a comma-separated list of configuration paths, one
// namespace per path. Ingester names must be unique process-wide across
// all loaded files (spec §3 invariant), even though each file is validated
// as an isolated namespace.
func LoadAll(pathList string) ([]*Namespace, error) {
	var namespaces []*Namespace
	seen := make(map[string]string) // name -> namespace that already claimed it

	for _, p := range strings.Split(pathList, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ns, err := Load(p)
		if err != nil {
			return nil, err
		}
		for _, ing := range ns.Ingesters {
			if owner, ok := seen[ing.Name]; ok {
				return nil, fmt.Errorf("ingester name %q declared in both namespace %q and %q", ing.Name, owner, ns.Name)
			}
			seen[ing.Name] = ns.Name
		}
		namespaces = append(namespaces, ns)
	}
	return namespaces, nil
}

// ConfigDiff is the set of changes between two generations of loaded
// namespaces, keyed by ingester name.
//
// Grounded on the teacher's orchestrator.AddIngester/RemoveIngester pair
// (internal/orchestrator/reconfig.go): that API takes one id at a time and
// leaves the caller to work out which ids are new, gone, or redefined.
// Diff does that set comparison up front so a reload path can call
// Scheduler.Reschedule directly with its Added/Removed/Changed lists
// instead of re-deriving them at each call site.
type ConfigDiff struct {
	Added   []string // ingester names present only in new
	Removed []string // ingester names present only in old
	Changed []string // ingester names present in both with a different definition
}

// Empty reports whether the diff contains no changes at all.
func (d ConfigDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff compares the ingesters declared across two generations of loaded
// namespaces by name, reporting which were added, removed, or redefined.
// A redefinition is detected by JSON-marshaling only the configuration-derived
// fields of each ingest.Ingester rather than comparing the structs directly,
// since they also carry runtime-assigned fields (Status, LastIngested, ConsecutiveFailures)
// that must not make an unchanged ingester look changed.
func Diff(oldNamespaces, newNamespaces []*Namespace) ConfigDiff {
	oldByName := ingestersByName(oldNamespaces)
	newByName := ingestersByName(newNamespaces)

	var d ConfigDiff
	for name := range newByName {
		if _, ok := oldByName[name]; !ok {
			d.Added = append(d.Added, name)
		}
	}
	for name := range oldByName {
		if _, ok := newByName[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	for name, oldIng := range oldByName {
		newIng, ok := newByName[name]
		if !ok {
			continue
		}
		if definitionHash(oldIng) != definitionHash(newIng) {
			d.Changed = append(d.Changed, name)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

func ingestersByName(namespaces []*Namespace) map[string]*ingest.Ingester {
	out := make(map[string]*ingest.Ingester)
	for _, ns := range namespaces {
		for _, ing := range ns.Ingesters {
			out[ing.Name] = ing
		}
	}
	return out
}

// definitionHash captures the subset of an ingester's fields that come
// straight from configuration, so runtime-mutated fields never trigger a
// false "changed" verdict.
func definitionHash(ing *ingest.Ingester) string {
	type fieldShape struct {
		Name, Target, Selector string
		Type                   ingest.FieldType
		Transient              bool
		Transformers, Tags     []string
	}
	type shape struct {
		Kind                       ingest.Kind
		ResourceType               ingest.ResourceType
		Interval                   ingest.Interval
		Target, Selector           string
		Type                       ingest.FieldType
		Probability                float64
		Tags                       []string
		PreTransformer             string
		Handler, Reducer           string
		Transient                  bool
		Headers                    map[string]string
		Params                     any
		Fields                     []fieldShape
	}
	s := shape{
		Kind:           ing.Kind,
		ResourceType:   ing.ResourceType,
		Interval:       ing.Interval,
		Target:         ing.Target,
		Selector:       ing.Selector,
		Type:           ing.Type,
		Probability:    ing.Probability,
		Tags:           ing.Tags,
		PreTransformer: ing.PreTransformer,
		Handler:        ing.Handler,
		Reducer:        ing.Reducer,
		Transient:      ing.Transient,
		Headers:        ing.Headers,
		Params:         ing.Params,
	}
	for _, f := range ing.Fields {
		s.Fields = append(s.Fields, fieldShape{
			Name:         f.Name,
			Target:       f.Target,
			Selector:     f.Selector,
			Type:         f.Type,
			Transient:    f.Transient,
			Transformers: f.Transformers,
			Tags:         f.Tags,
		})
	}
	b, err := json.Marshal(s)
	if err != nil {
		// Unmarshalable Params (e.g. a channel) cannot happen from YAML-decoded
		// data; fall back to treating the ingester as always-changed rather
		// than panicking.
		return fmt.Sprintf("unhashable:%p", ing)
	}
	return string(b)
}

func namespaceFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func buildIngester(kind ingest.Kind, re rawEntry) (*ingest.Ingester, error) {
	if re.Name == "" {
		return nil, fmt.Errorf("ingester of kind %q: name is required", kind)
	}
	if re.Interval == "" {
		return nil, fmt.Errorf("ingester %q: interval is required", re.Name)
	}
	interval := ingest.Interval(re.Interval)
	if !interval.Valid() {
		return nil, fmt.Errorf("ingester %q: invalid interval tag %q", re.Name, re.Interval)
	}
	if re.ResourceType == "" {
		return nil, fmt.Errorf("ingester %q: resource_type is required", re.Name)
	}
	resourceType := ingest.ResourceType(re.ResourceType)
	if !resourceType.Valid() {
		return nil, fmt.Errorf("ingester %q: invalid resource_type %q", re.Name, re.ResourceType)
	}
	if len(re.Fields) == 0 {
		return nil, fmt.Errorf("ingester %q: fields must be non-empty", re.Name)
	}

	var defaultType ingest.FieldType
	if re.Type != "" {
		defaultType = ingest.FieldType(re.Type)
		if !defaultType.Valid() {
			return nil, fmt.Errorf("ingester %q: invalid default type %q", re.Name, re.Type)
		}
	}

	probability := 1.0
	if re.Probability != nil {
		probability = *re.Probability
		if probability < 0 || probability > 1 {
			return nil, fmt.Errorf("ingester %q: probability %v out of range [0,1]", re.Name, probability)
		}
	}

	ing := &ingest.Ingester{
		Name:           re.Name,
		Kind:           kind,
		ResourceType:   resourceType,
		Interval:       interval,
		Target:         re.Target,
		Selector:       re.Selector,
		Type:           defaultType,
		Probability:    probability,
		Tags:           re.Tags,
		PreTransformer: re.PreTransformer,
		Handler:        re.Handler,
		Reducer:        re.Reducer,
		Transient:      re.Transient,
		Headers:        re.Headers,
		Params:         re.Params,
		Status:         ingest.StatusNew,
	}

	fieldNames := make(map[string]bool, len(re.Fields))
	for _, rf := range re.Fields {
		if rf.Name == "" {
			return nil, fmt.Errorf("ingester %q: field name is required", re.Name)
		}
		if fieldNames[rf.Name] {
			return nil, fmt.Errorf("ingester %q: duplicate field name %q", re.Name, rf.Name)
		}
		fieldNames[rf.Name] = true

		var ft ingest.FieldType
		if rf.Type != "" {
			ft = ingest.FieldType(rf.Type)
			if !ft.Valid() {
				return nil, fmt.Errorf("ingester %q field %q: invalid type %q", re.Name, rf.Name, rf.Type)
			}
		}

		ing.Fields = append(ing.Fields, &ingest.ResourceField{
			Name:         rf.Name,
			Type:         ft,
			Selector:     rf.Selector,
			Target:       rf.Target,
			Transformers: rf.Transformers,
			Transient:    rf.Transient,
			Tags:         rf.Tags,
		})
	}

	if kind == ingest.KindProcessor && ing.Target != "" {
		// spec §4.3: processor's target is ignored, not rejected.
		ing.Target = ""
	}

	return ing, nil
}
