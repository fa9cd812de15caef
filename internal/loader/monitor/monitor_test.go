package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
	"chomp/internal/loader"
)

func TestNewRequiresTarget(t *testing.T) {
	_, err := New(&ingest.Ingester{Name: "watcher"})
	require.Error(t, err)
	require.True(t, chomperr.Is(err, chomperr.KindConfig))
}

func TestAcquireIncludesWatchedVitalsAndProcessSample(t *testing.T) {
	loader.RecordVitals("btc_price", loader.RequestVitals{Latency: 0, Bytes: 512, Status: "200 OK"})

	spec := &ingest.Ingester{Name: "watcher", Target: "btc_price", Fields: []*ingest.ResourceField{{Name: "cpu_percent"}}}
	l, err := New(spec)
	require.NoError(t, err)

	raw, v, err := l.Acquire(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, "ok", v.Status)

	payload, ok := raw.(map[string]any)
	require.True(t, ok)
	require.Equal(t, 512, payload["bytes"])
	require.Equal(t, "200 OK", payload["status"])
	require.Contains(t, payload, "cpu_percent")
	require.Contains(t, payload, "rss_bytes")
}

func TestAcquireOmitsWatchedVitalsWhenNoneRecorded(t *testing.T) {
	spec := &ingest.Ingester{Name: "watcher2", Target: "never_ticked_ingester"}
	l, err := New(spec)
	require.NoError(t, err)

	raw, _, err := l.Acquire(context.Background(), spec)
	require.NoError(t, err)
	payload := raw.(map[string]any)
	require.NotContains(t, payload, "status")
	require.Contains(t, payload, "cpu_percent")
}

func TestTargetHostResolvesWatchedIngesterURL(t *testing.T) {
	loader.SetResolver(func(name string) (*ingest.Ingester, bool) {
		if name == "btc_price" {
			return &ingest.Ingester{Name: "btc_price", Target: "https://api.example.com/v1/price"}, true
		}
		return nil, false
	})
	t.Cleanup(func() { loader.SetResolver(nil) })

	host, ok := targetHost("btc_price")
	require.True(t, ok)
	require.Equal(t, "api.example.com", host)
}

func TestTargetHostFalseWhenUnresolved(t *testing.T) {
	loader.SetResolver(nil)
	_, ok := targetHost("unknown")
	require.False(t, ok)
}

func TestGeolocateWithNoDBConfiguredReturnsFalse(t *testing.T) {
	t.Setenv("GEOIP_DB", "")
	_, ok := geolocate("example.com")
	require.False(t, ok)
}
