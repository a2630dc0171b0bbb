// Package block implements the Block executor of spec.md §4.L: it schedules
// a statement DAG within a script/function/loop/branch body, enforcing
// read/write dependency ordering and LET/USE context chaining, and consumes
// the ControlFlow signals exec operators only propagate (§4.I).
package block

import (
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/surrealdb/surreal-core/common/value"
	"github.com/surrealdb/surreal-core/exec"
	"github.com/surrealdb/surreal-core/expr"
)

// StatementID indexes a statement within a BlockPlan.
type StatementID int

// Class classifies a statement for scheduling purposes (spec.md §4.L).
type Class uint8

const (
	// PureRead statements (SELECT, scalar expr) may run concurrently with
	// other PureReads in the same barrier window.
	PureRead Class = iota
	// Mutation statements (CREATE/UPDATE/DELETE/RELATE) are a barrier:
	// they wait for every predecessor in the current barrier window.
	Mutation
	// ContextMutation statements (LET/USE) are a barrier that additionally
	// updates last_context_source for subsequent statements.
	ContextMutation
	// ControlSignal statements (BREAK/CONTINUE/RETURN/THROW) are a barrier
	// that terminates or unwinds the block.
	ControlSignal
)

// Operation is a single statement's executable body. Class determines its
// scheduling semantics; Execute runs it against the block's shared
// ExecutionContext.
type Operation interface {
	Class() Class
	AccessMode() expr.AccessMode
	Execute(ctx *exec.ExecutionContext) (value.Value, *exec.ControlFlow)
}

// PlannedStatement is one scheduled node of a BlockPlan's dependency DAG
// (spec.md §4.L).
type PlannedStatement struct {
	ID            StatementID
	ContextSource *StatementID
	WaitFor       []StatementID
	Class         Class
	Op            Operation
}

// OutputMode controls what a BlockPlan.Execute call returns.
type OutputMode uint8

const (
	// Collect returns one value per statement, in statement order.
	Collect OutputMode = iota
	// Discard returns only the last statement's value (FOR/IF/FUNCTION bodies).
	Discard
)

// BlockPlan is the Block executor's input (spec.md §4.L).
type BlockPlan struct {
	Statements  []PlannedStatement
	OutputMode  OutputMode
	Concurrency int // 0 means runtime.NumCPU()
}

// BuildDependencies computes each statement's context_source/wait_for per
// spec.md §4.L's single-pass algorithm, given the statements' operations in
// source order.
func BuildDependencies(ops []Operation) []PlannedStatement {
	stmts := make([]PlannedStatement, len(ops))
	var lastContext *StatementID
	var lastBarrier *StatementID
	var sinceBarrier []StatementID

	for i, op := range ops {
		id := StatementID(i)
		class := op.Class()
		s := PlannedStatement{ID: id, ContextSource: lastContext, Class: class, Op: op}

		switch class {
		case PureRead:
			if lastBarrier != nil {
				s.WaitFor = []StatementID{*lastBarrier}
			}
			sinceBarrier = append(sinceBarrier, id)
		case Mutation, ControlSignal:
			s.WaitFor = append([]StatementID(nil), sinceBarrier...)
			b := id
			lastBarrier = &b
			sinceBarrier = []StatementID{id}
		case ContextMutation:
			s.WaitFor = append([]StatementID(nil), sinceBarrier...)
			c, b := id, id
			lastContext = &c
			lastBarrier = &b
			sinceBarrier = []StatementID{id}
		}
		stmts[i] = s
	}
	return stmts
}

type taskResult struct {
	value value.Value
	cf    *exec.ControlFlow
}

// Execute schedules every statement as a task on a cooperative runtime
// (spec.md §4.L): a task becomes ready once every id in its wait_for set has
// completed and its context_source (if any) has published its context
// update. PureRead tasks run concurrently, bounded by Concurrency; barriers
// serialise through their wait_for edges. A ControlFlow from any task aborts
// the remaining tasks and propagates outward.
func (p *BlockPlan) Execute(ctx *exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
	n := len(p.Statements)
	if n == 0 {
		return value.None(), nil
	}

	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	done := make([]chan struct{}, n)
	for i := range done {
		done[i] = make(chan struct{})
	}
	results := make([]taskResult, n)

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(concurrency))

	var mu sync.Mutex
	var aborted bool

	for i := range p.Statements {
		i := i
		s := p.Statements[i]
		g.Go(func() error {
			defer close(done[i])

			for _, dep := range s.WaitFor {
				select {
				case <-done[dep]:
				case <-gctx.Done():
					return nil
				}
			}
			if s.ContextSource != nil {
				select {
				case <-done[*s.ContextSource]:
				case <-gctx.Done():
					return nil
				}
			}

			mu.Lock()
			skip := aborted
			mu.Unlock()
			if skip {
				return nil
			}

			if s.Class == PureRead {
				if err := sem.Acquire(gctx, 1); err != nil {
					return nil
				}
				defer sem.Release(1)
			}

			v, cf := s.Op.Execute(ctx)
			results[i] = taskResult{value: v, cf: cf}
			if cf != nil {
				mu.Lock()
				aborted = true
				mu.Unlock()
				return cf
			}
			return nil
		})
	}

	var outCF *exec.ControlFlow
	if err := g.Wait(); err != nil {
		if cf, ok := err.(*exec.ControlFlow); ok {
			outCF = cf
		} else {
			outCF = exec.Err(err)
		}
	}
	if outCF != nil {
		return value.Value{}, outCF
	}

	if p.OutputMode == Discard {
		return results[n-1].value, nil
	}
	arr := make([]value.Value, n)
	for i, r := range results {
		arr[i] = r.value
	}
	return value.Arr(arr), nil
}

// ForOp models FOR: its body is a nested BlockPlan, always Discard. BREAK
// stops the loop (caught here, not propagated); CONTINUE skips to the next
// iteration; any other ControlFlow (RETURN/THROW/Err) propagates out of the
// loop entirely (spec.md §4.L).
type ForOp struct {
	Items   expr.Expr // evaluates to an Array
	LoopVar string
	Body    *BlockPlan
}

func (f *ForOp) Class() Class { return Mutation } // compound barrier: body may mutate

func (f *ForOp) AccessMode() expr.AccessMode {
	mode := f.Items.AccessMode()
	for _, s := range f.Body.Statements {
		mode = expr.Combine(mode, s.Op.AccessMode())
	}
	return mode
}

func (f *ForOp) Execute(ctx *exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
	items, err := f.Items.Evaluate(ctx.Eval)
	if err != nil {
		if cf, ok := err.(*exec.ControlFlow); ok {
			return value.Value{}, cf
		}
		return value.Value{}, exec.Err(err)
	}
	if items.Kind != value.KindArray {
		return value.None(), nil
	}

	savedVal, hadVal := ctx.Eval.Params[f.LoopVar]
	defer func() {
		if hadVal {
			ctx.Eval.Params[f.LoopVar] = savedVal
		} else if ctx.Eval.Params != nil {
			delete(ctx.Eval.Params, f.LoopVar)
		}
	}()
	if ctx.Eval.Params == nil {
		ctx.Eval.Params = map[string]value.Value{}
	}

	for _, item := range items.Arr {
		ctx.Eval.Params[f.LoopVar] = item
		_, cf := f.Body.Execute(ctx)
		if cf == nil {
			continue
		}
		switch cf.Kind {
		case exec.FlowBreak:
			return value.None(), nil
		case exec.FlowContinue:
			continue
		default:
			return value.Value{}, cf
		}
	}
	return value.None(), nil
}

// IfOp models IF/ELSE: Then/Else are nested BlockPlans, always Discard.
// Unlike ForOp it never catches BREAK/CONTINUE — those propagate to the
// enclosing FOR (spec.md §4.L).
type IfOp struct {
	Cond expr.Expr
	Then *BlockPlan
	Else *BlockPlan // nil when there is no ELSE
}

func (f *IfOp) Class() Class { return Mutation }

func (f *IfOp) AccessMode() expr.AccessMode {
	mode := f.Cond.AccessMode()
	for _, s := range f.Then.Statements {
		mode = expr.Combine(mode, s.Op.AccessMode())
	}
	if f.Else != nil {
		for _, s := range f.Else.Statements {
			mode = expr.Combine(mode, s.Op.AccessMode())
		}
	}
	return mode
}

func (f *IfOp) Execute(ctx *exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
	cond, err := f.Cond.Evaluate(ctx.Eval)
	if err != nil {
		if cf, ok := err.(*exec.ControlFlow); ok {
			return value.Value{}, cf
		}
		return value.Value{}, exec.Err(err)
	}
	if cond.IsTruthy() {
		return f.Then.Execute(ctx)
	}
	if f.Else != nil {
		return f.Else.Execute(ctx)
	}
	return value.None(), nil
}

// ExprOp adapts a plain expr.Expr (scalar expressions, LET's RHS) into an
// Operation; callers classify it via Class.
type ExprOp struct {
	ClassOf Class
	Expr    expr.Expr
	// Bind, when set, names the LET parameter this statement's result
	// publishes into ctx.Eval.Params once Execute returns (the
	// context_source publication §4.L describes for LET).
	Bind string
}

func (e *ExprOp) Class() Class                { return e.ClassOf }
func (e *ExprOp) AccessMode() expr.AccessMode { return e.Expr.AccessMode() }

func (e *ExprOp) Execute(ctx *exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
	v, err := e.Expr.Evaluate(ctx.Eval)
	if err != nil {
		if cf, ok := err.(*exec.ControlFlow); ok {
			return value.Value{}, cf
		}
		return value.Value{}, exec.Err(err)
	}
	if e.Bind != "" {
		if ctx.Eval.Params == nil {
			ctx.Eval.Params = map[string]value.Value{}
		}
		ctx.Eval.Params[e.Bind] = v
	}
	return v, nil
}

// OperatorOp adapts a streaming exec.ExecOperator (e.g. a SELECT's operator
// tree) into an Operation: it drains the operator fully and returns its rows
// as one Array value, matching §4.L's "array-of-rows for streaming
// statements" Collect-mode output.
type OperatorOp struct {
	ClassOf Class
	Op      exec.ExecOperator
}

func (o *OperatorOp) Class() Class                { return o.ClassOf }
func (o *OperatorOp) AccessMode() expr.AccessMode { return o.Op.AccessMode() }

func (o *OperatorOp) Execute(ctx *exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
	var rows []value.Value
	cf := o.Op.Execute(ctx, func(b *exec.ValueBatch) (bool, *exec.ControlFlow) {
		rows = append(rows, b.Values...)
		return true, nil
	})
	if cf != nil {
		return value.Value{}, cf
	}
	return value.Arr(rows), nil
}
