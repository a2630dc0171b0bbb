package expr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surreal-core/common/value"
)

func TestLiteralEvaluatesToItself(t *testing.T) {
	e := Literal{Value: value.Str("hi")}
	v, err := e.Evaluate(&EvalContext{})
	require.NoError(t, err)
	require.Equal(t, "hi", v.Str)
}

func TestParamLooksUpBinding(t *testing.T) {
	ctx := &EvalContext{Params: map[string]value.Value{"x": value.Num(value.Int(5))}}
	v, err := Param{Name: "x"}.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), v.Num.Int)
}

func TestParamMissingReturnsNone(t *testing.T) {
	v, err := Param{Name: "missing"}.Evaluate(&EvalContext{Params: map[string]value.Value{}})
	require.NoError(t, err)
	require.Equal(t, value.KindNone, v.Kind)
}

func TestIdiomWalksFieldPath(t *testing.T) {
	inner := value.NewOrderedMap()
	inner.Set("city", value.Str("nyc"))
	outer := value.NewOrderedMap()
	outer.Set("address", value.Obj(inner))
	ctx := &EvalContext{Doc: value.Obj(outer)}

	v, err := Idiom{Path: []string{"address", "city"}}.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, "nyc", v.Str)
}

func TestAndShortCircuitsOnFalsyLeft(t *testing.T) {
	called := false
	right := funcExpr(func(*EvalContext) (value.Value, error) {
		called = true
		return value.Bool(true), nil
	})
	e := BinaryOp{Op: OpAnd, Left: Literal{Value: value.Bool(false)}, Right: right}
	v, err := e.Evaluate(&EvalContext{})
	require.NoError(t, err)
	require.False(t, v.Bool)
	require.False(t, called, "right side of && must not evaluate when left is falsy")
}

func TestCoalesceReturnsRightWhenLeftIsNone(t *testing.T) {
	e := BinaryOp{Op: OpCoalesce, Left: Literal{Value: value.None()}, Right: Literal{Value: value.Str("fallback")}}
	v, err := e.Evaluate(&EvalContext{})
	require.NoError(t, err)
	require.Equal(t, "fallback", v.Str)
}

func TestArithmeticPromotesIntPlusFloatToFloat(t *testing.T) {
	e := BinaryOp{Op: OpAdd, Left: Literal{Value: value.Num(value.Int(1))}, Right: Literal{Value: value.Num(value.Float(2.5))}}
	v, err := e.Evaluate(&EvalContext{})
	require.NoError(t, err)
	require.Equal(t, value.NumberFloat, v.Num.NumKind)
	require.Equal(t, 3.5, v.Num.Float)
}

func TestArithmeticDivisionByZeroErrors(t *testing.T) {
	e := BinaryOp{Op: OpDiv, Left: Literal{Value: value.Num(value.Int(1))}, Right: Literal{Value: value.Num(value.Int(0))}}
	_, err := e.Evaluate(&EvalContext{})
	require.Error(t, err)
}

func TestCallInvokesRegisteredFunction(t *testing.T) {
	ctx := &EvalContext{
		Functions: map[string]Function{
			"double": func(_ *EvalContext, args []value.Value) (value.Value, error) {
				return value.Num(value.Int(args[0].Num.Int * 2)), nil
			},
		},
	}
	e := Call{Name: "double", Args: []Expr{Literal{Value: value.Num(value.Int(21))}}}
	v, err := e.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(42), v.Num.Int)
}

func TestCombinePoisonsOnAnyReadWrite(t *testing.T) {
	require.Equal(t, ReadWrite, Combine(ReadOnly, ReadWrite, ReadOnly))
	require.Equal(t, ReadOnly, Combine(ReadOnly, ReadOnly))
}

// funcExpr adapts a plain function to the Expr interface for tests that
// need to observe whether an operand was evaluated.
type funcExpr func(*EvalContext) (value.Value, error)

func (f funcExpr) Evaluate(ctx *EvalContext) (value.Value, error) { return f(ctx) }
func (f funcExpr) AccessMode() AccessMode                         { return ReadOnly }
