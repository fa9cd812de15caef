package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chomp/internal/ingest"
)

func TestRunSelectsTransformsAndCoerces(t *testing.T) {
	ing := &ingest.Ingester{
		Name: "btc_price",
		Kind: ingest.KindHTTPAPI,
		Type: ingest.TypeFloat64,
		Fields: []*ingest.ResourceField{
			{Name: "price", Selector: "price", Transformers: []string{"round2"}},
		},
	}
	raw := map[string]any{"price": 101.2345}
	row, latest, err := Run(ing, raw, time.Unix(0, 0), nil)
	require.NoError(t, err)
	require.Equal(t, 101.23, row.Values["price"])
	require.Equal(t, []string{"price"}, row.Order)
	require.Equal(t, 101.23, latest["price"])
}

func TestRunExcludesTransientFieldsFromRow(t *testing.T) {
	ing := &ingest.Ingester{
		Name: "weather",
		Kind: ingest.KindHTTPAPI,
		Type: ingest.TypeFloat64,
		Fields: []*ingest.ResourceField{
			{Name: "temp_c", Selector: "temp_c"},
			{Name: "temp_f", Transformers: []string{"{temp_c} * 1.8 + 32"}, Transient: true},
		},
	}
	raw := map[string]any{"temp_c": 20.0}
	row, _, err := Run(ing, raw, time.Unix(0, 0), nil)
	require.NoError(t, err)
	require.Contains(t, row.Values, "temp_c")
	require.NotContains(t, row.Values, "temp_f")
}

func TestRunIncludesTransientFieldsInLatestMap(t *testing.T) {
	ing := &ingest.Ingester{
		Name: "weather",
		Kind: ingest.KindHTTPAPI,
		Type: ingest.TypeFloat64,
		Fields: []*ingest.ResourceField{
			{Name: "temp_c", Selector: "temp_c"},
			{Name: "temp_f", Transformers: []string{"{temp_c} * 1.8 + 32"}, Transient: true},
		},
	}
	raw := map[string]any{"temp_c": 20.0}
	row, latest, err := Run(ing, raw, time.Unix(0, 0), nil)
	require.NoError(t, err)
	require.NotContains(t, row.Values, "temp_f")
	require.Contains(t, latest, "temp_c")
	require.Contains(t, latest, "temp_f")
	require.InDelta(t, 68.0, latest["temp_f"].(float64), 0.001)
}

func TestRunFieldDependsOnTransientSibling(t *testing.T) {
	ing := &ingest.Ingester{
		Name: "weather",
		Kind: ingest.KindHTTPAPI,
		Type: ingest.TypeFloat64,
		Fields: []*ingest.ResourceField{
			{Name: "temp_f", Transformers: []string{"{temp_c} * 1.8 + 32"}},
			{Name: "temp_c", Selector: "temp_c", Transient: true},
		},
	}
	raw := map[string]any{"temp_c": 20.0}
	row, latest, err := Run(ing, raw, time.Unix(0, 0), nil)
	require.NoError(t, err)
	require.InDelta(t, 68.0, row.Values["temp_f"].(float64), 0.001)
	require.NotContains(t, row.Values, "temp_c")
	require.Contains(t, latest, "temp_c")
}

func TestRunCrossResourceReference(t *testing.T) {
	ing := &ingest.Ingester{
		Name: "spread",
		Kind: ingest.KindHTTPAPI,
		Type: ingest.TypeFloat64,
		Fields: []*ingest.ResourceField{
			{Name: "delta", Selector: "delta", Transformers: []string{"{self} - {btc_price.last}"}},
		},
	}
	raw := map[string]any{"delta": 100.0}
	resolve := func(ingester, field string) (any, bool) {
		require.Equal(t, "btc_price", ingester)
		require.Equal(t, "last", field)
		return 40.0, true
	}
	row, _, err := Run(ing, raw, time.Unix(0, 0), resolve)
	require.NoError(t, err)
	require.Equal(t, 60.0, row.Values["delta"])
}

func TestRunPropagatesSelectionError(t *testing.T) {
	ing := &ingest.Ingester{
		Name: "bad",
		Kind: ingest.KindHTTPAPI,
		Fields: []*ingest.ResourceField{
			{Name: "missing", Selector: "does_not_exist"},
		},
	}
	_, _, err := Run(ing, map[string]any{}, time.Unix(0, 0), nil)
	require.Error(t, err)
}

func TestRunPropagatesCoercionError(t *testing.T) {
	ing := &ingest.Ingester{
		Name: "bad",
		Kind: ingest.KindHTTPAPI,
		Fields: []*ingest.ResourceField{
			{Name: "count", Selector: "count", Type: ingest.TypeInt32},
		},
	}
	_, _, err := Run(ing, map[string]any{"count": 4.5}, time.Unix(0, 0), nil)
	require.Error(t, err)
}
