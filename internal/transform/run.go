package transform

import (
	"fmt"
	"sync"
	"time"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
)

// compileCache memoizes the parsed transformer chains per ingester so a
// busy s2/s5 ingester does not re-lex and re-parse its expressions on every
// tick. A SIGHUP reload builds new Ingester values rather than editing the
// loaded ones, so keying by pointer is safe; entries for replaced ingesters
// are not evicted.
var compileCache sync.Map // *ingest.Ingester -> map[string][]Node

func compiledFor(ing *ingest.Ingester) (map[string][]Node, error) {
	if v, ok := compileCache.Load(ing); ok {
		return v.(map[string][]Node), nil
	}
	compiled := make(map[string][]Node, len(ing.Fields))
	for _, f := range ing.Fields {
		nodes := make([]Node, 0, len(f.Transformers))
		for _, expr := range f.Transformers {
			n, err := Parse(expr)
			if err != nil {
				return nil, fmt.Errorf("field %q: compile transformer %q: %w", f.Name, expr, err)
			}
			nodes = append(nodes, n)
		}
		compiled[f.Name] = nodes
	}
	compileCache.Store(ing, compiled)
	return compiled, nil
}

// Run executes phases 1 through 3 of the per-tick pipeline (spec §4.4) for
// one ingester against one freshly-acquired payload: select every field's
// raw value, evaluate transformer chains in dependency order over a shared
// same-tick snapshot, then coerce to each field's declared type. Transient
// fields are selected and transformed (they may be referenced by other
// fields) and are included in the returned latest map, but never written to
// the resulting Row — spec §4.5's "latest values, including transient
// fields, are written to latest" vs. "the time-series table schema excludes
// transient fields" (invariant #3).
func Run(ing *ingest.Ingester, raw any, tick time.Time, resolve CrossResolver) (*ingest.Row, map[string]any, error) {
	compiled, err := compiledFor(ing)
	if err != nil {
		return nil, nil, chomperr.New(chomperr.KindConfig, "transform.run", ing.Name, err)
	}
	order, err := Order(ing, compiled)
	if err != nil {
		return nil, nil, chomperr.New(chomperr.KindConfig, "transform.run", ing.Name, err)
	}

	selected := make(map[string]any, len(ing.Fields))
	for _, f := range ing.Fields {
		sel := ing.EffectiveSelector(f)
		val, err := Select(ing.Kind, raw, sel)
		if err != nil {
			return nil, nil, err
		}
		selected[f.Name] = val
	}

	row := &ingest.Row{Ingester: ing.Name, TS: tick, Values: make(map[string]any, len(ing.Fields))}
	latest := make(map[string]any, len(ing.Fields))

	for _, name := range order {
		f := ing.FieldByName(name)
		val := selected[name]
		for _, step := range compiled[name] {
			env := Env{Self: val, Fields: selected, Resolve: resolve}
			val, err = Eval(step, env)
			if err != nil {
				return nil, nil, chomperr.New(chomperr.KindSelection, "transform.eval", ing.Name, fmt.Errorf("field %q: %w", name, err))
			}
		}
		// Later fields in dependency order may reference this field by
		// name; they must see the post-transform value.
		selected[name] = val

		if t := ing.EffectiveType(f); t != "" {
			coerced, err := Coerce(val, t)
			if err != nil {
				return nil, nil, fmt.Errorf("ingester %q field %q: %w", ing.Name, name, err)
			}
			val = coerced
		}
		latest[name] = val

		if f.Transient {
			continue
		}
		row.Values[name] = val
		row.Order = append(row.Order, name)
	}

	return row, latest, nil
}

// EvalSource compiles and evaluates a single transformer expression against
// self — the mechanism behind pre_transformer (spec §4.3: "pre_transformer,
// if set, is invoked once on the decoded payload") and the plugin-free
// single-expression form of handler/reducer bodies. Unlike a field's
// transformer chain, there is no cache here: pre_transformer runs once per
// tick per loader, not once per field.
func EvalSource(src string, self any) (any, error) {
	node, err := Parse(src)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	return Eval(node, Env{Self: self})
}
