package plugin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookupHandler(t *testing.T) {
	r := NewRegistry()
	r.RegisterHandler("noop", func(msg []byte, appendTo func(string, any)) error { return nil })

	h, err := r.Handler("noop")
	require.NoError(t, err)
	require.NotNil(t, h)
}

func TestHandlerUnknownNameErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Handler("missing")
	require.Error(t, err)
}

func TestRegisterAndLookupReducer(t *testing.T) {
	r := NewRegistry()
	r.RegisterReducer("first", func(epoch, previous map[string][]any) (any, error) { return 1, nil })

	red, err := r.Reducer("first")
	require.NoError(t, err)
	v, err := red(nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestReducerUnknownNameErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Reducer("missing")
	require.Error(t, err)
}

func TestRegisterBuiltinsInstallsTradeAndMidPrice(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	h, err := r.Handler("trade")
	require.NoError(t, err)
	require.NotNil(t, h)

	red, err := r.Reducer("mid_price")
	require.NoError(t, err)
	require.NotNil(t, red)
}

func TestTradeHandlerAppendsBySide(t *testing.T) {
	captured := map[string][]any{}
	appendTo := func(field string, value any) { captured[field] = append(captured[field], value) }

	require.NoError(t, TradeHandler([]byte(`{"side":"buy","price":100.5}`), appendTo))
	require.NoError(t, TradeHandler([]byte(`{"side":"sell","price":101.0}`), appendTo))

	require.Equal(t, []any{100.5}, captured["bids"])
	require.Equal(t, []any{101.0}, captured["asks"])
}

func TestTradeHandlerRejectsUnknownSide(t *testing.T) {
	err := TradeHandler([]byte(`{"side":"hold","price":1}`), func(string, any) {})
	require.Error(t, err)
}

func TestTradeHandlerRejectsBadJSON(t *testing.T) {
	err := TradeHandler([]byte(`not json`), func(string, any) {})
	require.Error(t, err)
}

func TestMidPriceReducerAveragesBothSides(t *testing.T) {
	epoch := map[string][]any{
		"bids": {100.0, 102.0},
		"asks": {104.0, 106.0},
	}
	v, err := MidPriceReducer(epoch, nil)
	require.NoError(t, err)
	require.Equal(t, 103.0, v)
}

func TestMidPriceReducerOneSidedEpoch(t *testing.T) {
	v, err := MidPriceReducer(map[string][]any{"bids": {100.0}}, nil)
	require.NoError(t, err)
	require.Equal(t, 100.0, v)
}

func TestMidPriceReducerEmptyEpochErrors(t *testing.T) {
	_, err := MidPriceReducer(map[string][]any{}, nil)
	require.Error(t, err)
}
