package transform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func evalSrc(t *testing.T, src string, env Env) any {
	t.Helper()
	n, err := Parse(src)
	require.NoError(t, err)
	v, err := Eval(n, env)
	require.NoError(t, err)
	return v
}

func TestParseArithmeticPrecedence(t *testing.T) {
	v := evalSrc(t, "2 + 3 * 4", Env{})
	require.Equal(t, 14.0, v)

	v = evalSrc(t, "(2 + 3) * 4", Env{})
	require.Equal(t, 20.0, v)
}

func TestParseUnaryMinus(t *testing.T) {
	v := evalSrc(t, "-5 + 2", Env{})
	require.Equal(t, -3.0, v)
}

func TestParseComparison(t *testing.T) {
	v := evalSrc(t, "3 > 2", Env{})
	require.Equal(t, true, v)

	v = evalSrc(t, "'a' == 'b'", Env{})
	require.Equal(t, false, v)
}

func TestParseSelfFieldCrossRefs(t *testing.T) {
	v := evalSrc(t, "{self}", Env{Self: 42.0})
	require.Equal(t, 42.0, v)

	v = evalSrc(t, "{volume}", Env{Fields: map[string]any{"volume": 7.0}})
	require.Equal(t, 7.0, v)

	v = evalSrc(t, "{btc_price.last}", Env{Resolve: func(ing, field string) (any, bool) {
		require.Equal(t, "btc_price", ing)
		require.Equal(t, "last", field)
		return 100.0, true
	}})
	require.Equal(t, 100.0, v)
}

func TestParseIndex(t *testing.T) {
	v := evalSrc(t, "{self}[1]", Env{Self: []any{10.0, 20.0, 30.0}})
	require.Equal(t, 20.0, v)

	_, err := Eval(Index{Target: SelfRef{}, Pos: 5}, Env{Self: []any{1.0}})
	require.Error(t, err)
}

func TestBareIdentifierIsUnaryBuiltinOnSelf(t *testing.T) {
	v := evalSrc(t, "round2", Env{Self: 3.14159})
	require.Equal(t, 3.14, v)
}

func TestBuiltinRoundN(t *testing.T) {
	v := evalSrc(t, "round0(3.6)", Env{})
	require.Equal(t, 4.0, v)
}

func TestBuiltinMeanMedianSumMinMax(t *testing.T) {
	require.Equal(t, 2.0, evalSrc(t, "mean(1,2,3)", Env{}))
	require.Equal(t, 2.0, evalSrc(t, "median(1,2,3)", Env{}))
	require.Equal(t, 6.0, evalSrc(t, "sum(1,2,3)", Env{}))
	require.Equal(t, 1.0, evalSrc(t, "min(1,2,3)", Env{}))
	require.Equal(t, 3.0, evalSrc(t, "max(1,2,3)", Env{}))
}

func TestBuiltinStringHelpers(t *testing.T) {
	require.Equal(t, "hello", evalSrc(t, "strip(' hello ')", Env{}))
	require.Equal(t, "hello", evalSrc(t, "lower('HELLO')", Env{}))
	require.Equal(t, "HELLO", evalSrc(t, "upper('hello')", Env{}))
}

func TestDivisionByZero(t *testing.T) {
	n, err := Parse("1 / 0")
	require.NoError(t, err)
	_, err = Eval(n, Env{})
	require.Error(t, err)
}

func TestUnknownFieldReference(t *testing.T) {
	n, err := Parse("{missing}")
	require.NoError(t, err)
	_, err = Eval(n, Env{Fields: map[string]any{}})
	require.Error(t, err)
}

func TestTrailingTokenIsAParseError(t *testing.T) {
	_, err := Parse("1 + 2 3")
	require.Error(t, err)
}

func TestEvalSourceAppliesPreTransformerOnce(t *testing.T) {
	out, err := EvalSource("round2", 3.14159)
	require.NoError(t, err)
	require.Equal(t, 3.14, out)
}

func TestEvalSourceCompileError(t *testing.T) {
	_, err := EvalSource("((", nil)
	require.Error(t, err)
}
