package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
)

func TestCoerceIntegerRoundTrip(t *testing.T) {
	v, err := Coerce(42.0, ingest.TypeInt32)
	require.NoError(t, err)
	require.Equal(t, int64(42), v)
}

func TestCoerceIntegerRejectsFractional(t *testing.T) {
	_, err := Coerce(4.5, ingest.TypeInt32)
	require.Error(t, err)
	require.True(t, chomperr.Is(err, chomperr.KindCoercion))
}

func TestCoerceUnsignedRejectsNegative(t *testing.T) {
	_, err := Coerce(-1.0, ingest.TypeUint32)
	require.Error(t, err)
}

func TestCoerceIntegerRejectsOutOfRange(t *testing.T) {
	_, err := Coerce(1000.0, ingest.TypeInt8)
	require.Error(t, err)
}

func TestCoerceFloat32Narrows(t *testing.T) {
	v, err := Coerce(3.5, ingest.TypeFloat32)
	require.NoError(t, err)
	require.IsType(t, float32(0), v)
}

func TestCoerceBoolFromStringAndNumber(t *testing.T) {
	v, err := Coerce("true", ingest.TypeBool)
	require.NoError(t, err)
	require.Equal(t, true, v)

	v, err = Coerce(0.0, ingest.TypeBool)
	require.NoError(t, err)
	require.Equal(t, false, v)
}

func TestCoerceTimestampFromRFC3339AndUnix(t *testing.T) {
	v, err := Coerce("2024-01-02T15:04:05Z", ingest.TypeTimestamp)
	require.NoError(t, err)
	require.Equal(t, 2024, v.(time.Time).Year())

	v, err = Coerce(0.0, ingest.TypeTimestamp)
	require.NoError(t, err)
	require.Equal(t, 1970, v.(time.Time).Year())
}

func TestCoerceStringStringifiesAnyValue(t *testing.T) {
	v, err := Coerce(42.0, ingest.TypeString)
	require.NoError(t, err)
	require.Equal(t, "42", v)
}

func TestCoerceBinaryDecodesBase64WhenPossible(t *testing.T) {
	v, err := Coerce("aGVsbG8=", ingest.TypeVarbinary)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), v)
}

func TestCoerceUnknownType(t *testing.T) {
	_, err := Coerce(1.0, ingest.FieldType("bogus"))
	require.Error(t, err)
}
