package evmlogger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chomp/internal/chain"
	"chomp/internal/chomperr"
	"chomp/internal/ingest"
)

func TestAcquireRequiresTargetAndSelector(t *testing.T) {
	l, err := New(&ingest.Ingester{Name: "no_target"})
	require.NoError(t, err)
	_, _, err = l.Acquire(context.Background(), &ingest.Ingester{Name: "no_target"})
	require.Error(t, err)
	require.True(t, chomperr.Is(err, chomperr.KindConfig))
}

func TestAcquirePolledNoPoolIsTransient(t *testing.T) {
	spec := &ingest.Ingester{Name: "transfer_logs", Target: "999999:0xdeadbeef", Selector: "Transfer(address,address,uint256)"}
	l, err := New(spec)
	require.NoError(t, err)

	_, _, err = l.Acquire(context.Background(), spec)
	require.Error(t, err)
	require.True(t, chomperr.Is(err, chomperr.KindTransientIO))
}

// These two tests construct the Loader directly (bypassing New, which in
// perpetual mode starts a real chain subscription) to exercise Acquire's
// bucket-draining behavior in isolation.

func TestAcquirePerpetualModeDrainsBucketAndReturnsLatest(t *testing.T) {
	SetPerpetual(true)
	t.Cleanup(func() { SetPerpetual(false) })

	spec := &ingest.Ingester{Name: "perpetual_logs", Target: "1:0xabc", Selector: "Transfer(address,address,uint256)"}
	l := &Loader{lastBlock: -1}
	l.bucket = []chain.Call{
		{Values: []any{"first"}, BlockNumber: 1},
		{Values: []any{"second"}, BlockNumber: 2},
	}

	raw, vitals, err := l.Acquire(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, []any{"second"}, raw)
	require.Equal(t, 2, vitals.Bytes)

	require.NoError(t, l.Close())
}

func TestAcquirePerpetualModeEmptyBucketIsSelectionError(t *testing.T) {
	SetPerpetual(true)
	t.Cleanup(func() { SetPerpetual(false) })

	spec := &ingest.Ingester{Name: "quiet_logs", Target: "1:0xabc", Selector: "Transfer(address,address,uint256)"}
	l := &Loader{lastBlock: -1}

	_, _, err := l.Acquire(context.Background(), spec)
	require.Error(t, err)
	require.True(t, chomperr.Is(err, chomperr.KindSelection))
}
