package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
)

func TestAcquireStaticReturnsHTMLBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><span class="price">9.99</span></body></html>`))
	}))
	defer srv.Close()

	spec := &ingest.Ingester{Name: "page", Target: srv.URL, Fields: []*ingest.ResourceField{{Name: "price"}}}
	l, err := New(spec)
	require.NoError(t, err)

	raw, vitals, err := l.Acquire(context.Background(), spec)
	require.NoError(t, err)
	require.Contains(t, raw.(string), "9.99")
	require.Equal(t, 1, vitals.FieldCount)
}

func TestAcquireNoTargetConfigured(t *testing.T) {
	spec := &ingest.Ingester{Name: "no_target"}
	l, err := New(spec)
	require.NoError(t, err)

	_, _, err = l.Acquire(context.Background(), spec)
	require.Error(t, err)
	require.True(t, chomperr.Is(err, chomperr.KindConfig))
}

func TestAcquireServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	spec := &ingest.Ingester{Name: "flaky_page", Target: srv.URL}
	l, err := New(spec)
	require.NoError(t, err)

	_, _, err = l.Acquire(context.Background(), spec)
	require.Error(t, err)
	require.True(t, chomperr.Is(err, chomperr.KindTransientIO))
}

func TestAcquireClientErrorIsConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	spec := &ingest.Ingester{Name: "forbidden_page", Target: srv.URL}
	l, err := New(spec)
	require.NoError(t, err)

	_, _, err = l.Acquire(context.Background(), spec)
	require.Error(t, err)
	require.True(t, chomperr.Is(err, chomperr.KindConfig))
}

func TestDynamicStrategyParsesParams(t *testing.T) {
	dyn, waitSel := dynamicStrategy(map[string]any{"dynamic": true, "wait_selector": "#content"})
	require.True(t, dyn)
	require.Equal(t, "#content", waitSel)
}

func TestDynamicStrategyDefaultsForNonMapParams(t *testing.T) {
	dyn, waitSel := dynamicStrategy("not a map")
	require.False(t, dyn)
	require.Equal(t, "", waitSel)
}

func TestDynamicStrategyFalseWhenUnset(t *testing.T) {
	dyn, _ := dynamicStrategy(map[string]any{"other_key": 1})
	require.False(t, dyn)
}
