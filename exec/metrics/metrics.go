// Package metrics exposes the exec package's per-operator OperatorMetrics
// as Prometheus collectors for EXPLAIN ANALYZE / operational dashboards
// (spec.md §4.P), grounded on the teacher's use of
// github.com/prometheus/client_golang for its own RPC/sync metrics
// (_examples/3esmit-turbo-geth/cmd/rpcdaemon).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/surrealdb/surreal-core/exec"
)

// Registry bundles the counters/histograms that Observe and ObserveTree
// publish per operator name.
type Registry struct {
	RowsIn   *prometheus.CounterVec
	RowsOut  *prometheus.CounterVec
	Batches  *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewRegistry builds and registers the operator metric vectors against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RowsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surreal", Subsystem: "exec", Name: "operator_rows_in_total",
			Help: "Rows an operator consumed from its children.",
		}, []string{"operator"}),
		RowsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surreal", Subsystem: "exec", Name: "operator_rows_out_total",
			Help: "Rows an operator emitted to its parent.",
		}, []string{"operator"}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surreal", Subsystem: "exec", Name: "operator_batches_total",
			Help: "Batches an operator emitted.",
		}, []string{"operator"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "surreal", Subsystem: "exec", Name: "operator_duration_seconds",
			Help:    "Wall-clock time an operator spent executing.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operator"}),
	}
	reg.MustRegister(r.RowsIn, r.RowsOut, r.Batches, r.Duration)
	return r
}

// Observe publishes one operator's final OperatorMetrics snapshot.
func (r *Registry) Observe(operatorName string, m *exec.OperatorMetrics) {
	snap := m.Snapshot()
	r.RowsIn.WithLabelValues(operatorName).Add(float64(snap.RowsIn))
	r.RowsOut.WithLabelValues(operatorName).Add(float64(snap.RowsOut))
	r.Batches.WithLabelValues(operatorName).Add(float64(snap.Batches))
	r.Duration.WithLabelValues(operatorName).Observe(float64(snap.ElapsedNs) / 1e9)
}

// ObserveTree walks an operator tree depth-first, publishing every node's
// metrics — the EXPLAIN ANALYZE sink for a finished plan.
func ObserveTree(r *Registry, op exec.ExecOperator) {
	r.Observe(op.Name(), op.Metrics())
	for _, child := range op.Children() {
		ObserveTree(r, child)
	}
}
