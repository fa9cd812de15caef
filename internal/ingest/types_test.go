package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIntervalPeriod(t *testing.T) {
	d, ok := Interval("s30").Period()
	require.True(t, ok)
	require.Equal(t, 30*time.Second, d)

	_, ok = Interval("bogus").Period()
	require.False(t, ok)
}

func TestIntervalValid(t *testing.T) {
	require.True(t, Interval("m5").Valid())
	require.False(t, Interval("").Valid())
}

func TestKindValid(t *testing.T) {
	require.True(t, KindHTTPAPI.Valid())
	require.True(t, KindMonitor.Valid())
	require.False(t, Kind("bogus").Valid())
}

func TestResourceTypeValid(t *testing.T) {
	require.True(t, ResourceTimeseries.Valid())
	require.True(t, ResourceValue.Valid())
	require.True(t, ResourceSeries.Valid())
	require.False(t, ResourceType("unknown").Valid())
}

func TestFieldTypeValid(t *testing.T) {
	require.True(t, TypeFloat64.Valid())
	require.False(t, FieldType("decimal").Valid())
}

func TestEffectiveSelectorTargetType(t *testing.T) {
	ing := &Ingester{Selector: "$.price", Target: "https://api.example.com", Type: TypeFloat64}
	field := &ResourceField{Name: "price"}
	require.Equal(t, "$.price", ing.EffectiveSelector(field))
	require.Equal(t, "https://api.example.com", ing.EffectiveTarget(field))
	require.Equal(t, TypeFloat64, ing.EffectiveType(field))

	override := &ResourceField{Name: "volume", Selector: "$.volume", Target: "https://other.example.com", Type: TypeInt64}
	require.Equal(t, "$.volume", ing.EffectiveSelector(override))
	require.Equal(t, "https://other.example.com", ing.EffectiveTarget(override))
	require.Equal(t, TypeInt64, ing.EffectiveType(override))
}

func TestEffectiveProbabilityReturnsConfiguredValueVerbatim(t *testing.T) {
	ing := &Ingester{Probability: 1.0}
	require.Equal(t, 1.0, ing.EffectiveProbability())

	ing.Probability = 0.25
	require.Equal(t, 0.25, ing.EffectiveProbability())

	// An explicit probability of 0 must never be remapped to 1 — config
	// defaults a *missing* probability to 1 at load time, not here.
	ing.Probability = 0
	require.Equal(t, 0.0, ing.EffectiveProbability())
}

func TestStoredFieldsExcludesTransient(t *testing.T) {
	ing := &Ingester{Fields: []*ResourceField{
		{Name: "price"},
		{Name: "geo_city", Transient: true},
		{Name: "volume"},
	}}
	stored := ing.StoredFields()
	require.Len(t, stored, 2)
	require.Equal(t, "price", stored[0].Name)
	require.Equal(t, "volume", stored[1].Name)
}

func TestFieldByName(t *testing.T) {
	ing := &Ingester{Fields: []*ResourceField{{Name: "price"}}}
	require.NotNil(t, ing.FieldByName("price"))
	require.Nil(t, ing.FieldByName("missing"))
}

func TestEpochBufferFlipRetainsPrevious(t *testing.T) {
	b := NewEpochBuffer()
	b.Append("bids", 1.0)
	b.Append("bids", 2.0)

	first := b.Flip()
	require.Equal(t, []any{1.0, 2.0}, first["bids"])
	require.Nil(t, b.Previous()["asks"])

	b.Append("asks", 3.0)
	second := b.Flip()
	require.Equal(t, []any{3.0}, second["asks"])
	require.Equal(t, []any{1.0, 2.0}, b.Previous()["bids"])
}
