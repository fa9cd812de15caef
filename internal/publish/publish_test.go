package publish

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chomp/internal/cache"
	"chomp/internal/ingest"
)

func TestPublishBroadcastsRowAsJSON(t *testing.T) {
	c := cache.NewMemory()
	p := NewCachePublisher(c, nil)

	ch, stop, err := c.Subscribe(context.Background(), "testns:btc_price")
	require.NoError(t, err)
	defer stop()

	row := &ingest.Row{
		Ingester: "btc_price",
		TS:       time.Unix(100, 0).UTC(),
		Values:   map[string]any{"price": 42.5},
	}
	p.Publish(context.Background(), "testns", row)

	select {
	case msg := <-ch:
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(msg, &decoded))
		require.Equal(t, 42.5, decoded["price"])
		require.Contains(t, decoded, "ts")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published row")
	}
}

func TestPublishNeverPanicsWithNilLogger(t *testing.T) {
	p := NewCachePublisher(cache.NewMemory(), nil)
	row := &ingest.Row{Ingester: "x", Values: map[string]any{}}
	require.NotPanics(t, func() { p.Publish(context.Background(), "ns", row) })
}
