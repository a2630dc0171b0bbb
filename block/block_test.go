package block

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surreal-core/common/value"
	"github.com/surrealdb/surreal-core/exec"
	"github.com/surrealdb/surreal-core/expr"
)

func evalCtx() *exec.ExecutionContext {
	return &exec.ExecutionContext{
		Context: context.Background(),
		Eval:    &expr.EvalContext{Params: map[string]value.Value{}},
	}
}

type litOp struct {
	class Class
	v     value.Value
}

func (l *litOp) Class() Class                { return l.class }
func (l *litOp) AccessMode() expr.AccessMode { return expr.ReadOnly }
func (l *litOp) Execute(ctx *exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
	return l.v, nil
}

func TestBuildDependenciesFollowsBarrierAlgorithm(t *testing.T) {
	ops := []Operation{
		&litOp{class: PureRead, v: value.Num(value.Int(1))},   // 0
		&litOp{class: PureRead, v: value.Num(value.Int(2))},   // 1
		&litOp{class: ContextMutation, v: value.None()},       // 2: LET
		&litOp{class: PureRead, v: value.Num(value.Int(3))},   // 3
		&litOp{class: Mutation, v: value.None()},              // 4
		&litOp{class: PureRead, v: value.Num(value.Int(4))},   // 5
	}
	stmts := BuildDependencies(ops)
	require.Len(t, stmts, 6)

	// statement 0, 1: no prior barrier
	require.Empty(t, stmts[0].WaitFor)
	require.Empty(t, stmts[1].WaitFor)
	require.Nil(t, stmts[0].ContextSource)

	// statement 2 (LET) is a barrier: waits for everything since the last
	// barrier (0, 1), becomes the new context source and barrier.
	require.Equal(t, []StatementID{0, 1}, stmts[2].WaitFor)

	// statement 3 is a PureRead after the LET barrier: waits only for it,
	// and its context_source is now statement 2.
	require.Equal(t, []StatementID{2}, stmts[3].WaitFor)
	require.NotNil(t, stmts[3].ContextSource)
	require.Equal(t, StatementID(2), *stmts[3].ContextSource)

	// statement 4 (Mutation) waits for the last barrier (2) and everything
	// since it (3).
	require.Equal(t, []StatementID{2, 3}, stmts[4].WaitFor)

	// statement 5 is a PureRead after the Mutation barrier.
	require.Equal(t, []StatementID{4}, stmts[5].WaitFor)
}

func TestBlockPlanCollectReturnsOnePerStatement(t *testing.T) {
	ops := []Operation{
		&litOp{class: PureRead, v: value.Num(value.Int(1))},
		&litOp{class: PureRead, v: value.Num(value.Int(2))},
	}
	p := &BlockPlan{Statements: BuildDependencies(ops), OutputMode: Collect}
	v, cf := p.Execute(evalCtx())
	require.Nil(t, cf)
	require.Equal(t, value.KindArray, v.Kind)
	require.Len(t, v.Arr, 2)
	require.Equal(t, int64(1), v.Arr[0].Num.Int)
	require.Equal(t, int64(2), v.Arr[1].Num.Int)
}

func TestBlockPlanDiscardReturnsLastValue(t *testing.T) {
	ops := []Operation{
		&litOp{class: PureRead, v: value.Num(value.Int(1))},
		&litOp{class: Mutation, v: value.Str("last")},
	}
	p := &BlockPlan{Statements: BuildDependencies(ops), OutputMode: Discard}
	v, cf := p.Execute(evalCtx())
	require.Nil(t, cf)
	require.Equal(t, "last", v.Str)
}

func TestBlockPlanPropagatesControlFlow(t *testing.T) {
	ops := []Operation{
		&litOp{class: PureRead, v: value.Num(value.Int(1))},
	}
	stmts := BuildDependencies(ops)
	stmts[0].Op = &cfOp{cf: exec.Throw(value.Str("boom"))}
	p := &BlockPlan{Statements: stmts, OutputMode: Collect}
	_, cf := p.Execute(evalCtx())
	require.NotNil(t, cf)
	require.Equal(t, exec.FlowThrow, cf.Kind)
}

type cfOp struct{ cf *exec.ControlFlow }

func (c *cfOp) Class() Class                { return PureRead }
func (c *cfOp) AccessMode() expr.AccessMode { return expr.ReadOnly }
func (c *cfOp) Execute(ctx *exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
	return value.Value{}, c.cf
}

func TestExprOpBindsLetParameter(t *testing.T) {
	ops := []Operation{
		&ExprOp{ClassOf: ContextMutation, Expr: expr.Literal{Value: value.Num(value.Int(42))}, Bind: "x"},
		&ExprOp{ClassOf: PureRead, Expr: expr.Param{Name: "x"}},
	}
	p := &BlockPlan{Statements: BuildDependencies(ops), OutputMode: Collect}
	ctx := evalCtx()
	v, cf := p.Execute(ctx)
	require.Nil(t, cf)
	require.Equal(t, int64(42), v.Arr[1].Num.Int)
}

func TestForOpBreakStopsLoopWithoutPropagating(t *testing.T) {
	var seen []int64
	body := &BlockPlan{
		Statements: BuildDependencies([]Operation{
			&funcOp{fn: func(ctx *exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
				i := ctx.Eval.Params["i"]
				if i.Num.Int > 2 {
					return value.None(), exec.Break()
				}
				seen = append(seen, i.Num.Int)
				return value.None(), nil
			}},
		}),
		OutputMode: Discard,
	}
	f := &ForOp{
		Items:   expr.Literal{Value: value.Arr([]value.Value{value.Num(value.Int(1)), value.Num(value.Int(2)), value.Num(value.Int(3)), value.Num(value.Int(4))})},
		LoopVar: "i",
		Body:    body,
	}
	ctx := evalCtx()
	_, cf := f.Execute(ctx)
	require.Nil(t, cf)
	require.Equal(t, []int64{1, 2}, seen)
}

func TestForOpContinueSkipsRemainderOfIteration(t *testing.T) {
	var seen []int64
	body := &BlockPlan{
		Statements: BuildDependencies([]Operation{
			&funcOp{fn: func(ctx *exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
				i := ctx.Eval.Params["i"]
				if i.Num.Int == 2 {
					return value.None(), exec.Continue()
				}
				seen = append(seen, i.Num.Int)
				return value.None(), nil
			}},
		}),
		OutputMode: Discard,
	}
	f := &ForOp{
		Items:   expr.Literal{Value: value.Arr([]value.Value{value.Num(value.Int(1)), value.Num(value.Int(2)), value.Num(value.Int(3))})},
		LoopVar: "i",
		Body:    body,
	}
	_, cf := f.Execute(evalCtx())
	require.Nil(t, cf)
	require.Equal(t, []int64{1, 3}, seen)
}

type funcOp struct {
	fn func(ctx *exec.ExecutionContext) (value.Value, *exec.ControlFlow)
}

func (f *funcOp) Class() Class                { return Mutation }
func (f *funcOp) AccessMode() expr.AccessMode { return expr.ReadWrite }
func (f *funcOp) Execute(ctx *exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
	return f.fn(ctx)
}

func TestIfOpRunsThenOrElse(t *testing.T) {
	thenPlan := &BlockPlan{
		Statements: BuildDependencies([]Operation{&litOp{class: PureRead, v: value.Str("then")}}),
		OutputMode: Discard,
	}
	elsePlan := &BlockPlan{
		Statements: BuildDependencies([]Operation{&litOp{class: PureRead, v: value.Str("else")}}),
		OutputMode: Discard,
	}

	truthy := &IfOp{Cond: expr.Literal{Value: value.Bool(true)}, Then: thenPlan, Else: elsePlan}
	v, cf := truthy.Execute(evalCtx())
	require.Nil(t, cf)
	require.Equal(t, "then", v.Str)

	falsy := &IfOp{Cond: expr.Literal{Value: value.Bool(false)}, Then: thenPlan, Else: elsePlan}
	v, cf = falsy.Execute(evalCtx())
	require.Nil(t, cf)
	require.Equal(t, "else", v.Str)
}

func TestOperatorOpDrainsOperatorIntoArray(t *testing.T) {
	op := &fakeExecOp{values: []value.Value{value.Num(value.Int(1)), value.Num(value.Int(2))}}
	o := &OperatorOp{ClassOf: PureRead, Op: op}
	v, cf := o.Execute(evalCtx())
	require.Nil(t, cf)
	require.Len(t, v.Arr, 2)
}

type fakeExecOp struct {
	exec.Base
	values []value.Value
}

func (f *fakeExecOp) Name() string                      { return "fakeExecOp" }
func (f *fakeExecOp) RequiredContext() exec.ContextLevel { return exec.ContextDatabase }
func (f *fakeExecOp) AccessMode() expr.AccessMode        { return expr.ReadOnly }
func (f *fakeExecOp) Children() []exec.ExecOperator      { return nil }
func (f *fakeExecOp) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	_, cf := emit(&exec.ValueBatch{Values: f.values})
	return cf
}
