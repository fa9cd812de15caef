package transform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chomp/internal/ingest"
)

func mustParse(t *testing.T, src string) Node {
	t.Helper()
	n, err := Parse(src)
	require.NoError(t, err)
	return n
}

func TestFieldRefsWalksNestedNodes(t *testing.T) {
	n := mustParse(t, "{a} + {b}[0]")
	refs := FieldRefs(n)
	require.ElementsMatch(t, []string{"a", "b"}, refs)
}

func TestOrderTopologicallySortsDependencies(t *testing.T) {
	ing := &ingest.Ingester{Fields: []*ingest.ResourceField{
		{Name: "mid"},
		{Name: "bid"},
		{Name: "ask"},
	}}
	compiled := map[string][]Node{
		"mid": {mustParse(t, "({bid} + {ask}) / 2")},
		"bid": {mustParse(t, "1")},
		"ask": {mustParse(t, "2")},
	}
	order, err := Order(ing, compiled)
	require.NoError(t, err)

	pos := map[string]int{}
	for i, name := range order {
		pos[name] = i
	}
	require.Less(t, pos["bid"], pos["mid"])
	require.Less(t, pos["ask"], pos["mid"])
}

func TestOrderDetectsCycle(t *testing.T) {
	ing := &ingest.Ingester{Fields: []*ingest.ResourceField{
		{Name: "a"},
		{Name: "b"},
	}}
	compiled := map[string][]Node{
		"a": {mustParse(t, "{b}")},
		"b": {mustParse(t, "{a}")},
	}
	_, err := Order(ing, compiled)
	require.Error(t, err)
}

func TestValidateDependenciesRejectsBadExpression(t *testing.T) {
	ing := &ingest.Ingester{Name: "bad", Fields: []*ingest.ResourceField{
		{Name: "x", Transformers: []string{"(("}},
	}}
	err := ValidateDependencies([]*ingest.Ingester{ing})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad")
}

func TestValidateDependenciesRejectsCycleWithinIngester(t *testing.T) {
	ing := &ingest.Ingester{Name: "cyclic", Fields: []*ingest.ResourceField{
		{Name: "a", Transformers: []string{"{b}"}},
		{Name: "b", Transformers: []string{"{a}"}},
	}}
	err := ValidateDependencies([]*ingest.Ingester{ing})
	require.Error(t, err)
}

func TestValidateDependenciesAcceptsValidChain(t *testing.T) {
	ing := &ingest.Ingester{Name: "ok", Fields: []*ingest.ResourceField{
		{Name: "bid", Transformers: []string{"1"}},
		{Name: "ask", Transformers: []string{"2"}},
		{Name: "mid", Transformers: []string{"({bid} + {ask}) / 2"}},
	}}
	require.NoError(t, ValidateDependencies([]*ingest.Ingester{ing}))
}
