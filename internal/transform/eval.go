package transform

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// CrossResolver resolves a {Ingester.Field} reference to the latest cached
// value of that field (spec §4.4 Phase 2: "read the latest cached value of
// the referenced ingester... never back-filled").
type CrossResolver func(ingester, field string) (any, bool)

// Env is the evaluation environment for one field's transformer chain on
// one tick.
type Env struct {
	Self     any
	Fields   map[string]any // same-tick snapshot of sibling fields (spec §4.4)
	Resolve  CrossResolver
}

// Eval evaluates a compiled Node against env, returning the resulting value.
func Eval(n Node, env Env) (any, error) {
	switch v := n.(type) {
	case NumberLit:
		return v.Value, nil
	case StringLit:
		return v.Value, nil
	case SelfRef:
		return env.Self, nil
	case FieldRef:
		val, ok := env.Fields[v.Field]
		if !ok {
			return nil, fmt.Errorf("unknown field reference {%s}", v.Field)
		}
		return val, nil
	case CrossRef:
		if env.Resolve == nil {
			return nil, fmt.Errorf("no cross-resource resolver configured for {%s.%s}", v.Ingester, v.Field)
		}
		val, ok := env.Resolve(v.Ingester, v.Field)
		if !ok {
			return nil, fmt.Errorf("no cached value for {%s.%s}", v.Ingester, v.Field)
		}
		return val, nil
	case Index:
		target, err := Eval(v.Target, env)
		if err != nil {
			return nil, err
		}
		return indexValue(target, v.Pos)
	case BinaryOp:
		return evalBinary(v, env)
	case Call:
		return evalCall(v, env)
	default:
		return nil, fmt.Errorf("unhandled node type %T", n)
	}
}

func indexValue(v any, pos int) (any, error) {
	list, ok := toSlice(v)
	if !ok {
		return nil, fmt.Errorf("cannot index non-tuple value %v", v)
	}
	if pos < 0 || pos >= len(list) {
		return nil, fmt.Errorf("index %d out of range (len %d)", pos, len(list))
	}
	return list[pos], nil
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	default:
		return nil, false
	}
}

func evalBinary(b BinaryOp, env Env) (any, error) {
	left, err := Eval(b.Left, env)
	if err != nil {
		return nil, err
	}
	right, err := Eval(b.Right, env)
	if err != nil {
		return nil, err
	}

	if isComparisonOp(b.Op) {
		return evalComparison(b.Op, left, right)
	}

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %q requires numeric operands, got %v and %v", b.Op, left, right)
	}
	switch b.Op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("unknown operator %q", b.Op)
}

func evalComparison(op string, left, right any) (any, error) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case "==":
			return ls == rs, nil
		case "!=":
			return ls != rs, nil
		}
	}
	return nil, fmt.Errorf("cannot compare %v %s %v", left, op, right)
}

func evalCall(c Call, env Env) (any, error) {
	args := make([]any, len(c.Args))
	for i, a := range c.Args {
		v, err := Eval(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return callBuiltin(c.Name, args)
}

// callBuiltin dispatches the closed builtin set from spec §4.4 Phase 2:
// round<N>, mean, median, sum, abs, max, min, strip, lower, upper, plus the
// "float"/"int"/"bool"/"string" coercion helpers used inline in transformer
// chains (distinct from the declared-type coercion of Phase 3).
func callBuiltin(name string, args []any) (any, error) {
	if n, ok := roundDigits(name); ok {
		return callRound(n, args)
	}

	switch name {
	case "round":
		if len(args) != 2 {
			return nil, fmt.Errorf("round(value, digits) takes 2 arguments, got %d", len(args))
		}
		n, ok := toFloat(args[1])
		if !ok {
			return nil, fmt.Errorf("round: digits must be numeric")
		}
		return callRound(int(n), args[:1])
	case "mean":
		nums, err := flattenNumbers(args)
		if err != nil {
			return nil, err
		}
		if len(nums) == 0 {
			return nil, fmt.Errorf("mean: no values")
		}
		var sum float64
		for _, v := range nums {
			sum += v
		}
		return sum / float64(len(nums)), nil
	case "median":
		nums, err := flattenNumbers(args)
		if err != nil {
			return nil, err
		}
		if len(nums) == 0 {
			return nil, fmt.Errorf("median: no values")
		}
		sorted := append([]float64(nil), nums...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2, nil
		}
		return sorted[mid], nil
	case "sum":
		nums, err := flattenNumbers(args)
		if err != nil {
			return nil, err
		}
		var total float64
		for _, v := range nums {
			total += v
		}
		return total, nil
	case "abs":
		if len(args) != 1 {
			return nil, fmt.Errorf("abs takes 1 argument")
		}
		f, ok := toFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("abs: non-numeric argument")
		}
		return math.Abs(f), nil
	case "max":
		nums, err := flattenNumbers(args)
		if err != nil {
			return nil, err
		}
		if len(nums) == 0 {
			return nil, fmt.Errorf("max: no values")
		}
		m := nums[0]
		for _, v := range nums[1:] {
			m = math.Max(m, v)
		}
		return m, nil
	case "min":
		nums, err := flattenNumbers(args)
		if err != nil {
			return nil, err
		}
		if len(nums) == 0 {
			return nil, fmt.Errorf("min: no values")
		}
		m := nums[0]
		for _, v := range nums[1:] {
			m = math.Min(m, v)
		}
		return m, nil
	case "strip":
		s, ok := toStringArg(args)
		if !ok {
			return nil, fmt.Errorf("strip: expects 1 string argument")
		}
		return strings.TrimSpace(s), nil
	case "lower":
		s, ok := toStringArg(args)
		if !ok {
			return nil, fmt.Errorf("lower: expects 1 string argument")
		}
		return strings.ToLower(s), nil
	case "upper":
		s, ok := toStringArg(args)
		if !ok {
			return nil, fmt.Errorf("upper: expects 1 string argument")
		}
		return strings.ToUpper(s), nil
	case "float":
		if len(args) != 1 {
			return nil, fmt.Errorf("float takes 1 argument")
		}
		f, ok := toFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("float: cannot convert %v", args[0])
		}
		return f, nil
	case "int":
		if len(args) != 1 {
			return nil, fmt.Errorf("int takes 1 argument")
		}
		f, ok := toFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("int: cannot convert %v", args[0])
		}
		return math.Trunc(f), nil
	case "bool":
		if len(args) != 1 {
			return nil, fmt.Errorf("bool takes 1 argument")
		}
		return coerceBool(args[0])
	case "string":
		if len(args) != 1 {
			return nil, fmt.Errorf("string takes 1 argument")
		}
		return fmt.Sprint(args[0]), nil
	}
	return nil, fmt.Errorf("unknown builtin %q", name)
}

// roundDigits recognizes identifiers of the form "round<N>" (spec §4.4:
// "round<N> rounds to N decimals").
func roundDigits(name string) (int, bool) {
	if !strings.HasPrefix(name, "round") || name == "round" {
		return 0, false
	}
	n, err := strconv.Atoi(name[len("round"):])
	if err != nil {
		return 0, false
	}
	return n, true
}

func callRound(digits int, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("round%d takes 1 argument, got %d", digits, len(args))
	}
	f, ok := toFloat(args[0])
	if !ok {
		return nil, fmt.Errorf("round%d: non-numeric argument %v", digits, args[0])
	}
	mult := math.Pow(10, float64(digits))
	return math.Round(f*mult) / mult, nil
}

func flattenNumbers(args []any) ([]float64, error) {
	var out []float64
	for _, a := range args {
		switch v := a.(type) {
		case []any:
			for _, item := range v {
				f, ok := toFloat(item)
				if !ok {
					return nil, fmt.Errorf("non-numeric element %v in list argument", item)
				}
				out = append(out, f)
			}
		default:
			f, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("non-numeric argument %v", v)
			}
			out = append(out, f)
		}
	}
	return out, nil
}

func toStringArg(args []any) (string, bool) {
	if len(args) != 1 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}

// toFloat converts the common JSON/scalar representations to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
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
