package metrics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surreal-core/exec"
	"github.com/surrealdb/surreal-core/expr"
)

// stubOp is a minimal ExecOperator used to exercise Explain's tree walk
// without pulling in a real scan/transform operator.
type stubOp struct {
	exec.Base
	name     string
	children []exec.ExecOperator
}

func (s *stubOp) Name() string                       { return s.name }
func (s *stubOp) RequiredContext() exec.ContextLevel { return exec.ContextSession }
func (s *stubOp) AccessMode() expr.AccessMode        { return expr.ReadOnly }
func (s *stubOp) Children() []exec.ExecOperator      { return s.children }

func (s *stubOp) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(s.Metrics(), emit, func(wrapped exec.BatchFn) *exec.ControlFlow {
		return nil
	})
}

func TestExplainRendersOperatorTreeWithIndentation(t *testing.T) {
	child := &stubOp{name: "Scan"}
	root := &stubOp{name: "Project", children: []exec.ExecOperator{child}}
	root.SetAttr("table", "person")

	var buf bytes.Buffer
	Explain(&buf, root, false)
	out := buf.String()
	require.Contains(t, out, "Project")
	require.Contains(t, out, "Scan")
	require.Contains(t, out, "table=person")
}

func TestExplainAnalyzeIncludesMetricsColumns(t *testing.T) {
	root := &stubOp{name: "Filter"}

	var buf bytes.Buffer
	Explain(&buf, root, true)
	out := buf.String()
	require.Contains(t, out, "ROWS IN")
	require.Contains(t, out, "ROWS OUT")
	require.Contains(t, out, "BATCHES")
	require.Contains(t, out, "ELAPSED")
}

func TestExplainWithoutAnalyzeOmitsMetricsColumns(t *testing.T) {
	root := &stubOp{name: "Filter"}

	var buf bytes.Buffer
	Explain(&buf, root, false)
	out := buf.String()
	require.NotContains(t, out, "ROWS IN")
}
