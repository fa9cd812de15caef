package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chomp/internal/ingest"
)

func TestAcquireReturnsNilPayload(t *testing.T) {
	spec := &ingest.Ingester{
		Name:   "spread",
		Fields: []*ingest.ResourceField{{Name: "delta"}, {Name: "ratio"}},
	}
	l, err := New(spec)
	require.NoError(t, err)

	raw, vitals, err := l.Acquire(context.Background(), spec)
	require.NoError(t, err)
	require.Nil(t, raw)
	require.Equal(t, "ok", vitals.Status)
	require.Equal(t, 2, vitals.FieldCount)
	require.NoError(t, l.Close())
}

func TestNewRegisteredForProcessorKind(t *testing.T) {
	spec := &ingest.Ingester{Kind: ingest.KindProcessor}
	_, err := New(spec)
	require.NoError(t, err)
}
