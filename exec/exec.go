// Package exec implements the ExecOperator streaming framework of spec.md
// §4.I: a tree of operators, each producing a stream of ValueBatches under
// a FlowResult that carries Go-idiomatic control flow (break/continue/
// return/throw/err) upward unchanged until the Block executor consumes it.
//
// The interface-at-a-genuinely-open-boundary shape (ExecOperator is the
// one place in this core that needs runtime polymorphism across many
// implementations) follows the teacher's own use of interfaces exactly
// where turbo-geth needs them — e.g. ethdb.Database / ethdb.Cursor in
// _examples/3esmit-turbo-geth/ethdb — while closed variant sets elsewhere
// (common/value.Kind, ControlFlow below) stay switch-dispatched structs.
package exec

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/surrealdb/surreal-core/common/value"
	"github.com/surrealdb/surreal-core/expr"
)

// ContextLevel is the lattice of spec.md §4.I: "operator requirements
// bubble upward; the iterator driver ensures the outermost context
// satisfies every descendant's required_context()."
type ContextLevel uint8

const (
	ContextSession ContextLevel = iota
	ContextNamespace
	ContextDatabase
)

// MaxContextLevel returns the highest (most demanding) of two context levels.
func MaxContextLevel(a, b ContextLevel) ContextLevel {
	if a > b {
		return a
	}
	return b
}

// ControlFlowKind tags which variant of ControlFlow a FlowResult carries.
type ControlFlowKind uint8

const (
	FlowBreak ControlFlowKind = iota
	FlowContinue
	FlowReturn
	FlowThrow
	FlowErr
)

// ControlFlow is FlowResult's error channel payload (spec.md §4.I:
// "ControlFlow is Break|Continue|Return(Value)|Throw(Value)|Err(Error)").
// It implements the error interface so it composes with normal Go error
// handling at call sites that don't care about the distinction.
type ControlFlow struct {
	Kind  ControlFlowKind
	Value value.Value // meaningful for Return/Throw
	Err   error        // meaningful for Err
}

func (c *ControlFlow) Error() string {
	switch c.Kind {
	case FlowBreak:
		return "break"
	case FlowContinue:
		return "continue"
	case FlowReturn:
		return "return: " + c.Value.String()
	case FlowThrow:
		return "throw: " + c.Value.String()
	default:
		if c.Err != nil {
			return c.Err.Error()
		}
		return "error"
	}
}

func Break() *ControlFlow    { return &ControlFlow{Kind: FlowBreak} }
func Continue() *ControlFlow { return &ControlFlow{Kind: FlowContinue} }
func Return(v value.Value) *ControlFlow { return &ControlFlow{Kind: FlowReturn, Value: v} }
func Throw(v value.Value) *ControlFlow  { return &ControlFlow{Kind: FlowThrow, Value: v} }
func Err(err error) *ControlFlow        { return &ControlFlow{Kind: FlowErr, Err: err} }

// BatchSize is the soft cap on a ValueBatch (spec.md §4.I: "with a soft
// cap (default 1024)").
const BatchSize = 1024

// ValueBatch is a bounded chunk of values flowing between operators.
type ValueBatch struct {
	Values []value.Value
}

// BatchFn is called once per produced batch; returning false stops the
// producer early (the push-based equivalent of the spec's pulled
// ValueBatchStream, chosen because Go's idiomatic iteration shape for
// cooperative-yield style streaming is a callback, not an async
// generator — matching how the teacher's own ethdb.Cursor-consuming
// helpers (e.g. bitmapdb.Get) are walked via callback-free imperative
// loops with early-break rather than a channel-based generator).
type BatchFn func(*ValueBatch) (bool, *ControlFlow)

// OperatorMetrics accumulates the per-operator counters shown by EXPLAIN
// ANALYZE (spec.md §4.I). Monitor fills RowsOut, Batches and ElapsedNs;
// nothing in this package fills RowsIn, so it stays zero.
type OperatorMetrics struct {
	RowsIn   int64
	RowsOut  int64
	Batches  int64
	ElapsedNs int64
}

func (m *OperatorMetrics) addRowsIn(n int)  { atomic.AddInt64(&m.RowsIn, int64(n)) }
func (m *OperatorMetrics) addRowsOut(n int) { atomic.AddInt64(&m.RowsOut, int64(n)) }
func (m *OperatorMetrics) addBatch()        { atomic.AddInt64(&m.Batches, 1) }
func (m *OperatorMetrics) addElapsed(d time.Duration) {
	atomic.AddInt64(&m.ElapsedNs, int64(d))
}

// Snapshot returns a copy safe to read concurrently with further writes.
func (m *OperatorMetrics) Snapshot() OperatorMetrics {
	return OperatorMetrics{
		RowsIn:    atomic.LoadInt64(&m.RowsIn),
		RowsOut:   atomic.LoadInt64(&m.RowsOut),
		Batches:   atomic.LoadInt64(&m.Batches),
		ElapsedNs: atomic.LoadInt64(&m.ElapsedNs),
	}
}

// ExecutionContext carries everything an operator needs to run: the
// expression evaluation bindings, a budget, and cancellation.
type ExecutionContext struct {
	context.Context
	Eval   *expr.EvalContext
	Budget Budget
}

// Budget bounds one query's execution (spec.md §4.N: "Run the plan under
// a budget: query_timeout, max_memory, max_recursion_depth").
type Budget struct {
	QueryTimeout     time.Duration
	MaxMemoryBytes   int64
	MaxRecursionDepth int
}

// ExecOperator is the streaming-operator interface of spec.md §4.I.
type ExecOperator interface {
	Name() string
	Attrs() [][2]string
	RequiredContext() ContextLevel
	AccessMode() expr.AccessMode
	Metrics() *OperatorMetrics
	Children() []ExecOperator
	Execute(ctx *ExecutionContext, emit BatchFn) *ControlFlow
}

// Base is embedded by concrete operators to provide Metrics()/Attrs()
// bookkeeping without every operator re-implementing the monitor wrapper
// (spec.md §4.I: "Every stream passes through a monitor that records...").
type Base struct {
	metrics OperatorMetrics
	attrs   [][2]string
	mu      sync.Mutex
}

func (b *Base) Metrics() *OperatorMetrics { return &b.metrics }

func (b *Base) SetAttr(k, v string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attrs = append(b.attrs, [2]string{k, v})
}

func (b *Base) Attrs() [][2]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][2]string(nil), b.attrs...)
}

// Monitor wraps emit so every operator's rows_out/batches/elapsed_ns are
// recorded uniformly, then runs body. It sees only what the operator
// emits, so rows_in is not recorded. Concrete operators
// call this from Execute instead of invoking emit directly.
func Monitor(m *OperatorMetrics, emit BatchFn, body func(BatchFn) *ControlFlow) *ControlFlow {
	start := time.Now()
	wrapped := func(b *ValueBatch) (bool, *ControlFlow) {
		m.addBatch()
		m.addRowsOut(len(b.Values))
		cont, cf := emit(b)
		return cont, cf
	}
	cf := body(wrapped)
	m.addElapsed(time.Since(start))
	return cf
}
