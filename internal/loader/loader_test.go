package loader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chomp/internal/ingest"
)

type fakeLoader struct{ closed bool }

func (f *fakeLoader) Acquire(ctx context.Context, spec *ingest.Ingester) (any, RequestVitals, error) {
	return "raw", RequestVitals{Latency: time.Millisecond, Status: "ok"}, nil
}

func (f *fakeLoader) Close() error {
	f.closed = true
	return nil
}

func TestRegisterAndNew(t *testing.T) {
	const kind ingest.Kind = "fake_test_kind"
	built := &fakeLoader{}
	Register(kind, func(spec *ingest.Ingester) (Loader, error) { return built, nil })

	l, err := New(&ingest.Ingester{Kind: kind})
	require.NoError(t, err)
	require.Same(t, built, l)
}

func TestNewUnregisteredKindErrors(t *testing.T) {
	_, err := New(&ingest.Ingester{Kind: ingest.Kind("never_registered")})
	require.Error(t, err)
}

func TestRecordAndLastVitals(t *testing.T) {
	_, ok := LastVitals("never_recorded_ingester")
	require.False(t, ok)

	v := RequestVitals{Latency: 5 * time.Millisecond, Bytes: 128, Status: "ok", FieldCount: 3}
	RecordVitals("vitals_test_ingester", v)

	got, ok := LastVitals("vitals_test_ingester")
	require.True(t, ok)
	require.Equal(t, v, got)

	v2 := RequestVitals{Status: "error"}
	RecordVitals("vitals_test_ingester", v2)
	got, ok = LastVitals("vitals_test_ingester")
	require.True(t, ok)
	require.Equal(t, v2, got)
}

func TestResolveWithNoResolverInstalled(t *testing.T) {
	resolverMu.Lock()
	resolver = nil
	resolverMu.Unlock()

	_, ok := Resolve("anything")
	require.False(t, ok)
}

func TestSetResolverAndResolve(t *testing.T) {
	target := &ingest.Ingester{Name: "btc_price", Target: "https://example.com"}
	SetResolver(func(name string) (*ingest.Ingester, bool) {
		if name == "btc_price" {
			return target, true
		}
		return nil, false
	})
	defer SetResolver(nil)

	got, ok := Resolve("btc_price")
	require.True(t, ok)
	require.Same(t, target, got)

	_, ok = Resolve("missing")
	require.False(t, ok)
}
