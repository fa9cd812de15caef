package transform

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"chomp/internal/chomperr"
	"chomp/internal/ingest"
)

// Coerce is Phase 3 of the tick pipeline (spec §4.4): cast a transformed
// value to its field's declared type, failing with chomperr.KindCoercion
// when the value cannot be represented — out-of-range integers, non-numeric
// strings cast to a numeric type, and so on.
func Coerce(v any, t ingest.FieldType) (any, error) {
	switch t {
	case ingest.TypeInt8, ingest.TypeInt16, ingest.TypeInt32, ingest.TypeInt64,
		ingest.TypeUint8, ingest.TypeUint16, ingest.TypeUint32, ingest.TypeUint64:
		return coerceInteger(v, t)
	case ingest.TypeFloat32, ingest.TypeUFloat32, ingest.TypeFloat64, ingest.TypeUFloat64:
		return coerceFloat(v, t)
	case ingest.TypeBool:
		return coerceBool(v)
	case ingest.TypeTimestamp:
		return coerceTimestamp(v)
	case ingest.TypeString:
		return fmt.Sprint(v), nil
	case ingest.TypeBinary, ingest.TypeVarbinary:
		return coerceBinary(v)
	default:
		return nil, chomperr.New(chomperr.KindCoercion, "coerce", "", fmt.Errorf("unknown field type %q", t))
	}
}

func coerceInteger(v any, t ingest.FieldType) (any, error) {
	f, ok := toNumber(v)
	if !ok {
		return nil, chomperr.New(chomperr.KindCoercion, "coerce_int", "", fmt.Errorf("cannot convert %v (%T) to %s", v, v, t))
	}
	if f != math.Trunc(f) {
		return nil, chomperr.New(chomperr.KindCoercion, "coerce_int", "", fmt.Errorf("value %v has a fractional part, cannot store as %s", v, t))
	}

	unsigned := strings.HasPrefix(string(t), "uint")
	if unsigned && f < 0 {
		return nil, chomperr.New(chomperr.KindCoercion, "coerce_int", "", fmt.Errorf("negative value %v cannot store as %s", v, t))
	}

	lo, hi := integerRange(t)
	if f < lo || f > hi {
		return nil, chomperr.New(chomperr.KindCoercion, "coerce_int", "", fmt.Errorf("value %v out of range for %s", v, t))
	}

	if unsigned {
		return uint64(f), nil
	}
	return int64(f), nil
}

func integerRange(t ingest.FieldType) (float64, float64) {
	switch t {
	case ingest.TypeInt8:
		return math.MinInt8, math.MaxInt8
	case ingest.TypeUint8:
		return 0, math.MaxUint8
	case ingest.TypeInt16:
		return math.MinInt16, math.MaxInt16
	case ingest.TypeUint16:
		return 0, math.MaxUint16
	case ingest.TypeInt32:
		return math.MinInt32, math.MaxInt32
	case ingest.TypeUint32:
		return 0, math.MaxUint32
	case ingest.TypeInt64:
		return math.MinInt64, math.MaxInt64
	case ingest.TypeUint64:
		return 0, math.MaxUint64
	default:
		return 0, 0
	}
}

func coerceFloat(v any, t ingest.FieldType) (any, error) {
	f, ok := toNumber(v)
	if !ok {
		return nil, chomperr.New(chomperr.KindCoercion, "coerce_float", "", fmt.Errorf("cannot convert %v (%T) to %s", v, v, t))
	}
	if strings.HasPrefix(string(t), "u") && f < 0 {
		return nil, chomperr.New(chomperr.KindCoercion, "coerce_float", "", fmt.Errorf("negative value %v cannot store as %s", v, t))
	}
	if t == ingest.TypeFloat32 || t == ingest.TypeUFloat32 {
		return float32(f), nil
	}
	return f, nil
}

func coerceBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return nil, chomperr.New(chomperr.KindCoercion, "coerce_bool", "", fmt.Errorf("cannot convert %q to bool", b))
		}
		return parsed, nil
	default:
		f, ok := toNumber(v)
		if !ok {
			return nil, chomperr.New(chomperr.KindCoercion, "coerce_bool", "", fmt.Errorf("cannot convert %v (%T) to bool", v, v))
		}
		return f != 0, nil
	}
}

// coerceTimestamp accepts a time.Time, a Unix-seconds number, or an
// RFC3339 string — the shapes a selector or transformer chain can plausibly
// have produced for a timestamp field.
func coerceTimestamp(v any) (any, error) {
	switch ts := v.(type) {
	case time.Time:
		return ts, nil
	case string:
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, chomperr.New(chomperr.KindCoercion, "coerce_timestamp", "", fmt.Errorf("cannot parse %q as RFC3339: %w", ts, err))
		}
		return parsed, nil
	default:
		f, ok := toNumber(v)
		if !ok {
			return nil, chomperr.New(chomperr.KindCoercion, "coerce_timestamp", "", fmt.Errorf("cannot convert %v (%T) to timestamp", v, v))
		}
		return time.Unix(int64(f), 0).UTC(), nil
	}
}

func coerceBinary(v any) (any, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		if decoded, err := base64.StdEncoding.DecodeString(b); err == nil {
			return decoded, nil
		}
		return []byte(b), nil
	default:
		return nil, chomperr.New(chomperr.KindCoercion, "coerce_binary", "", fmt.Errorf("cannot convert %T to binary", v))
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
