package svmcaller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
)

func TestAcquireReportsConfigError(t *testing.T) {
	spec := &ingest.Ingester{Name: "sol_balance", Kind: ingest.KindSVMCaller}
	l, err := New(spec)
	require.NoError(t, err)

	_, _, err = l.Acquire(context.Background(), spec)
	require.Error(t, err)
	require.True(t, chomperr.Is(err, chomperr.KindConfig))
	require.NoError(t, l.Close())
}
