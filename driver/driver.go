// Package driver implements the Iterator driver of spec.md §4.N: the
// top-level Datastore.Execute(query, session, vars) orchestration that
// plans each statement, opens a transaction under the access mode the
// statement's plan requires, runs it under a budget, stages live-query
// deltas for a successful mutation, commits, and retries once on a
// retryable optimistic conflict.
//
// The sequential drive-and-log loop is grounded on the teacher's
// migrations.Migrator.Apply (_examples/3esmit-turbo-geth/migrations/migrations.go):
// walk a list of units of work in order, skip what doesn't apply, log each
// one via github.com/ethereum/go-ethereum/log, and let a failure in one
// unit not corrupt the bookkeeping of the ones that already succeeded.
package driver

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/surrealdb/surreal-core/catalog"
	"github.com/surrealdb/surreal-core/common/value"
	"github.com/surrealdb/surreal-core/config"
	"github.com/surrealdb/surreal-core/exec"
	"github.com/surrealdb/surreal-core/expr"
	"github.com/surrealdb/surreal-core/kvstore"
	"github.com/surrealdb/surreal-core/livequery"
	"github.com/surrealdb/surreal-core/qerror"
	"github.com/surrealdb/surreal-core/session"
)

// DeltaEvent pairs a committed catalog.Delta with the record value it
// applies to, the shape livequery.Tracker.Dispatch needs to evaluate each
// subscriber's filter.
type DeltaEvent struct {
	Delta catalog.Delta
	Value value.Value
}

// StatementPlan is one statement's executable unit, already lowered by the
// caller into either a single exec.ExecOperator or a block.BlockPlan —
// the driver does not care which, only how to run it (spec.md §4.N step 1:
// "build an OperatorPlan or lower into a BlockPlan").
type StatementPlan struct {
	// QueryType labels the statement for the Response (e.g. "SELECT",
	// "CREATE", "DEFINE TABLE").
	QueryType string

	// AccessModeOf reports what transaction mode this statement needs.
	AccessModeOf expr.AccessMode

	// TRY, when set, converts a FlowErr/FlowThrow control flow into a
	// value payload instead of surfacing it as the Response's error
	// (spec.md §7: "A statement-level TRY converts Err to a value
	// payload").
	TRY bool

	// Run executes the statement's plan against the given
	// ExecutionContext (built fresh per attempt, since a retry opens a new
	// Transaction).
	Run func(ctx *exec.ExecutionContext) (value.Value, *exec.ControlFlow)

	// Deltas, when non-nil, is called once Run has returned without error
	// to collect the catalog deltas this statement produced, each paired
	// with the record value subscribers' filters evaluate against. Left
	// nil for read-only statements.
	Deltas func() []DeltaEvent
}

// Response is one statement's outcome (spec.md §6: "Response is { time,
// result: Result<Value, Error>, query_type }").
type Response struct {
	Time      time.Duration
	Result    value.Value
	Err       error
	QueryType string
}

// Datastore is the top-level entry point of spec.md §6:
// "Datastore::execute(sql, session, vars) -> Vec<Response>". Planning SQL
// text into StatementPlans is a layer above this package's concern; this
// package starts from already-planned statements.
type Datastore struct {
	Backend     kvstore.Backend
	LiveQueries *livequery.Tracker
	Config      config.Config
	log         log.Logger
}

// New constructs a Datastore over an already-opened backend.
func New(backend kvstore.Backend, cfg config.Config) *Datastore {
	return &Datastore{
		Backend:     backend,
		LiveQueries: livequery.New(),
		Config:      cfg,
		log:         log.New("component", "driver"),
	}
}

// Execute runs each planned statement in order and returns one Response
// per statement (spec.md §4.N, §6).
func (d *Datastore) Execute(ctx context.Context, plans []StatementPlan, sess *session.Session, vars map[string]value.Value, timeout time.Duration) []Response {
	opts := session.NewOptions(sess, vars, timeout)
	responses := make([]Response, len(plans))

	for i, plan := range plans {
		start := time.Now()
		responses[i] = d.runOne(ctx, plan, opts)
		responses[i].Time = time.Since(start)
	}
	return responses
}

// runOne runs a single statement, retrying once on a retryable conflict
// (spec.md §4.N step 6, §5: "On ConflictRetryable, the driver retries the
// statement once with a fresh transaction").
func (d *Datastore) runOne(ctx context.Context, plan StatementPlan, opts *session.Options) Response {
	resp := Response{QueryType: plan.QueryType}

	for attempt := 0; attempt < 2; attempt++ {
		val, cf, err := d.attempt(ctx, plan, opts)
		if err != nil {
			if qerror.Is(err, qerror.KindConflict) && attempt == 0 {
				d.log.Warn("retrying statement after optimistic conflict", "queryType", plan.QueryType)
				continue
			}
			resp.Err = err
			return resp
		}
		if cf != nil {
			switch cf.Kind {
			case exec.FlowErr:
				if plan.TRY {
					resp.Result = value.Str(cf.Err.Error())
				} else {
					resp.Err = cf.Err
				}
			case exec.FlowThrow:
				if plan.TRY {
					resp.Result = cf.Value
				} else {
					resp.Err = qerror.New(qerror.KindThrown, cf.Value.String())
				}
			default:
				// BREAK/CONTINUE/RETURN escaping a top-level statement is
				// treated as the statement's result value, same as a plain
				// return from a FUNCTION body.
				resp.Result = cf.Value
			}
			return resp
		}
		resp.Result = val
		return resp
	}
	return resp
}

// attempt runs the statement exactly once inside a freshly opened
// Transaction: open, run under budget, stage deltas, commit.
func (d *Datastore) attempt(ctx context.Context, plan StatementPlan, opts *session.Options) (value.Value, *exec.ControlFlow, error) {
	mode := kvstore.Mode{
		ReadOnly: plan.AccessModeOf == expr.ReadOnly,
		Write:    plan.AccessModeOf == expr.ReadWrite,
	}

	tx, err := d.Backend.Begin(ctx, mode)
	if err != nil {
		return value.None(), nil, qerror.Wrap(qerror.KindInternal, "open transaction", err)
	}
	defer tx.Cancel()

	runCtx, cancel := context.WithTimeout(ctx, opts.QueryTimeout)
	defer cancel()

	execCtx := &exec.ExecutionContext{
		Context: runCtx,
		Eval:    opts.EvalContext(),
		Budget: exec.Budget{
			QueryTimeout:      opts.QueryTimeout,
			MaxRecursionDepth: d.Config.IdiomRecursionLimit,
			MaxMemoryBytes:    int64(d.Config.SortSpillMemLimit),
		},
	}

	val, cf := plan.Run(execCtx)
	if cf != nil && (cf.Kind == exec.FlowErr || cf.Kind == exec.FlowThrow) {
		// A failed statement still needs its transaction resolved; there is
		// nothing to commit, so cancel rather than commit a partial write
		// set. tx.Cancel() above (deferred) handles this.
		return val, cf, nil
	}

	var deltas []DeltaEvent
	if plan.Deltas != nil {
		deltas = plan.Deltas()
	}

	if err := tx.Commit(runCtx); err != nil {
		if err == qerror.ErrConflictRetryable {
			return value.None(), nil, qerror.Wrap(qerror.KindConflict, "write-write conflict", err)
		}
		return value.None(), nil, qerror.Wrap(qerror.KindInternal, "commit", err)
	}

	for _, de := range deltas {
		d.LiveQueries.Dispatch(de.Delta, de.Value)
	}

	return val, cf, nil
}
