package wsapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
	"chomp/internal/plugin"
)

func validSpec() *ingest.Ingester {
	return &ingest.Ingester{
		Name:     "trades",
		Target:   "ws://127.0.0.1:1/nonexistent",
		Interval: "s30",
		Handler:  "trade",
		Reducer:  "mid_price",
	}
}

func TestNewFailsWithoutPluginRegistry(t *testing.T) {
	SetPluginRegistry(nil)
	_, err := New(validSpec())
	require.Error(t, err)
	require.True(t, chomperr.Is(err, chomperr.KindConfig))
}

func TestNewFailsWithMissingHandlerOrReducer(t *testing.T) {
	reg := plugin.NewRegistry()
	plugin.RegisterBuiltins(reg)
	SetPluginRegistry(reg)
	t.Cleanup(func() { SetPluginRegistry(nil) })

	spec := validSpec()
	spec.Handler = ""
	_, err := New(spec)
	require.Error(t, err)
}

func TestNewFailsWithUnknownHandler(t *testing.T) {
	reg := plugin.NewRegistry()
	plugin.RegisterBuiltins(reg)
	SetPluginRegistry(reg)
	t.Cleanup(func() { SetPluginRegistry(nil) })

	spec := validSpec()
	spec.Handler = "not_registered"
	_, err := New(spec)
	require.Error(t, err)
}

func TestNewFailsWithInvalidInterval(t *testing.T) {
	reg := plugin.NewRegistry()
	plugin.RegisterBuiltins(reg)
	SetPluginRegistry(reg)
	t.Cleanup(func() { SetPluginRegistry(nil) })

	spec := validSpec()
	spec.Interval = "not_an_interval"
	_, err := New(spec)
	require.Error(t, err)
}

func TestNewStartsConnectLoopAndClosesCleanly(t *testing.T) {
	reg := plugin.NewRegistry()
	plugin.RegisterBuiltins(reg)
	SetPluginRegistry(reg)
	t.Cleanup(func() { SetPluginRegistry(nil) })

	ld, err := New(validSpec())
	require.NoError(t, err)
	require.NoError(t, ld.Close())
}

func TestAcquireFlipsBufferAndReduces(t *testing.T) {
	l := &Loader{
		buffer: ingest.NewEpochBuffer(),
		reduce: plugin.MidPriceReducer,
	}
	l.buffer.Append("bids", 100.0)
	l.buffer.Append("bids", 102.0)
	l.buffer.Append("asks", 104.0)

	spec := &ingest.Ingester{Name: "trades", Fields: []*ingest.ResourceField{{Name: "mid_price"}}}
	raw, vitals, err := l.Acquire(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, 102.5, raw)
	require.Equal(t, 3, vitals.Bytes)
}

func TestAcquireReducerErrorIsSelectionKind(t *testing.T) {
	l := &Loader{
		buffer: ingest.NewEpochBuffer(),
		reduce: plugin.MidPriceReducer,
	}
	spec := &ingest.Ingester{Name: "empty_trades"}
	_, _, err := l.Acquire(context.Background(), spec)
	require.Error(t, err)
	require.True(t, chomperr.Is(err, chomperr.KindSelection))
}
