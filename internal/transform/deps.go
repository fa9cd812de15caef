package transform

import (
	"fmt"

	"chomp/internal/ingest"
)

// FieldRefs walks a compiled expression and returns the same-ingester field
// names it references (the {Field} form, not {Ingester.Field} cross-refs).
func FieldRefs(n Node) []string {
	var out []string
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case FieldRef:
			out = append(out, v.Field)
		case Index:
			walk(v.Target)
		case BinaryOp:
			walk(v.Left)
			walk(v.Right)
		case Call:
			for _, a := range v.Args {
				walk(a)
			}
		}
	}
	walk(n)
	return out
}

// Order returns field names in an order that respects intra-ingester
// transformer dependencies (spec §4.4 Phase 2: "Dependency ordering within
// one tick is computed by topological sort of the intra-ingester
// references; cycles are a validation error").
func Order(ing *ingest.Ingester, compiled map[string][]Node) ([]string, error) {
	deps := make(map[string]map[string]bool, len(ing.Fields))
	for _, f := range ing.Fields {
		deps[f.Name] = make(map[string]bool)
	}
	for _, f := range ing.Fields {
		for _, step := range compiled[f.Name] {
			for _, ref := range FieldRefs(step) {
				if _, ok := deps[ref]; ok {
					deps[f.Name][ref] = true
				}
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(deps))
	var order []string
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("cycle detected in transformer dependencies involving fields %s and %s", path[len(path)-1], name)
		}
		color[name] = gray
		path = append(path, name)
		// Sort dependency iteration deterministically by declared field order.
		for _, dep := range fieldOrderOf(ing) {
			if !deps[name][dep] {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		order = append(order, name)
		return nil
	}

	for _, f := range ing.Fields {
		if err := visit(f.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func fieldOrderOf(ing *ingest.Ingester) []string {
	names := make([]string, len(ing.Fields))
	for i, f := range ing.Fields {
		names[i] = f.Name
	}
	return names
}

// ValidateDependencies compiles every field's transformer chain for every
// ingester and checks for reference cycles, without evaluating anything —
// this is the startup validation spec scenario S4 requires ("process exits
// non-zero at startup naming both fields").
func ValidateDependencies(ingesters []*ingest.Ingester) error {
	for _, ing := range ingesters {
		compiled := make(map[string][]Node, len(ing.Fields))
		for _, f := range ing.Fields {
			nodes := make([]Node, 0, len(f.Transformers))
			for _, expr := range f.Transformers {
				n, err := Parse(expr)
				if err != nil {
					return fmt.Errorf("ingester %q field %q: compile transformer %q: %w", ing.Name, f.Name, expr, err)
				}
				nodes = append(nodes, n)
			}
			compiled[f.Name] = nodes
		}
		if _, err := Order(ing, compiled); err != nil {
			return fmt.Errorf("ingester %q: %w", ing.Name, err)
		}
	}
	return nil
}
