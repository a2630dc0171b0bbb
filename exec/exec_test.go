package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surreal-core/common/value"
)

func TestMaxContextLevelPicksMoreDemanding(t *testing.T) {
	require.Equal(t, ContextDatabase, MaxContextLevel(ContextSession, ContextDatabase))
	require.Equal(t, ContextNamespace, MaxContextLevel(ContextNamespace, ContextSession))
}

func TestControlFlowConstructorsTagKindCorrectly(t *testing.T) {
	require.Equal(t, FlowBreak, Break().Kind)
	require.Equal(t, FlowContinue, Continue().Kind)
	r := Return(value.Num(value.Int(1)))
	require.Equal(t, FlowReturn, r.Kind)
	require.Equal(t, int64(1), r.Value.Num.Int)
	th := Throw(value.Str("boom"))
	require.Equal(t, FlowThrow, th.Kind)
}

func TestMonitorRecordsRowsAndBatches(t *testing.T) {
	m := &OperatorMetrics{}
	var captured []value.Value
	cf := Monitor(m, func(b *ValueBatch) (bool, *ControlFlow) {
		captured = append(captured, b.Values...)
		return true, nil
	}, func(emit BatchFn) *ControlFlow {
		emit(&ValueBatch{Values: []value.Value{value.Num(value.Int(1)), value.Num(value.Int(2))}})
		emit(&ValueBatch{Values: []value.Value{value.Num(value.Int(3))}})
		return nil
	})
	require.Nil(t, cf)
	require.Len(t, captured, 3)
	snap := m.Snapshot()
	require.Equal(t, int64(2), snap.Batches)
	require.Equal(t, int64(3), snap.RowsOut)
}

func TestBaseAttrsAccumulate(t *testing.T) {
	var b Base
	b.SetAttr("table", "person")
	b.SetAttr("direction", "forward")
	attrs := b.Attrs()
	require.Equal(t, [][2]string{{"table", "person"}, {"direction", "forward"}}, attrs)
}

func TestExecutionContextCarriesContext(t *testing.T) {
	ctx := &ExecutionContext{Context: context.Background()}
	require.NoError(t, ctx.Err())
}
