package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surreal-core/exec"
	"github.com/surrealdb/surreal-core/expr"
)

type fakeOp struct {
	exec.Base
	name     string
	children []exec.ExecOperator
}

func (f *fakeOp) Name() string                      { return f.name }
func (f *fakeOp) Children() []exec.ExecOperator      { return f.children }
func (f *fakeOp) RequiredContext() exec.ContextLevel { return exec.ContextDatabase }
func (f *fakeOp) AccessMode() expr.AccessMode        { return expr.ReadOnly }
func (f *fakeOp) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return nil
}

func TestObserveTreeWalksChildrenDepthFirst(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	leaf := &fakeOp{name: "leaf"}
	leaf.Metrics().RowsIn = 10
	leaf.Metrics().RowsOut = 10
	leaf.Metrics().Batches = 2

	root := &fakeOp{name: "root", children: []exec.ExecOperator{leaf}}
	root.Metrics().RowsIn = 10
	root.Metrics().RowsOut = 5
	root.Metrics().Batches = 1

	ObserveTree(r, root)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var foundRowsOut bool
	for _, mf := range metricFamilies {
		if mf.GetName() == "surreal_exec_operator_rows_out_total" {
			foundRowsOut = true
			require.Len(t, mf.Metric, 2)
		}
	}
	require.True(t, foundRowsOut)
}

func TestObserveRecordsASingleOperatorSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	m := &exec.OperatorMetrics{}
	m.RowsIn = 3
	m.RowsOut = 2
	m.Batches = 1

	r.Observe("TableScan", m)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, metricFamilies)
}
