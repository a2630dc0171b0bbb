package metrics

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/surrealdb/surreal-core/exec"
)

// Explain renders an operator tree's static attributes plus its metrics
// snapshot as a table — the `EXPLAIN` / `EXPLAIN ANALYZE` plan dump of
// spec.md §4.P, grounded on cmd/jumps/stack.go's attribute-dump style
// (SPEC_FULL.md §5's "Doc-length SmallFloat table precomputation...
// mirroring cmd/jumps/stack.go's attribute-dump style" applies the same
// table rendering to the operator tree here).
func Explain(w io.Writer, op exec.ExecOperator, analyze bool) {
	table := tablewriter.NewWriter(w)
	header := []string{"operator", "attrs"}
	if analyze {
		header = append(header, "rows_in", "rows_out", "batches", "elapsed")
	}
	table.SetHeader(header)

	var walk func(op exec.ExecOperator, depth int)
	walk = func(op exec.ExecOperator, depth int) {
		row := []string{strings.Repeat("  ", depth) + op.Name(), formatAttrs(op.Attrs())}
		if analyze {
			snap := op.Metrics().Snapshot()
			row = append(row,
				fmt.Sprintf("%d", snap.RowsIn),
				fmt.Sprintf("%d", snap.RowsOut),
				fmt.Sprintf("%d", snap.Batches),
				fmt.Sprintf("%dns", snap.ElapsedNs),
			)
		}
		table.Append(row)
		for _, child := range op.Children() {
			walk(child, depth+1)
		}
	}
	walk(op, 0)
	table.Render()
}

func formatAttrs(attrs [][2]string) string {
	parts := make([]string, len(attrs))
	for i, kv := range attrs {
		parts[i] = kv[0] + "=" + kv[1]
	}
	return strings.Join(parts, " ")
}
