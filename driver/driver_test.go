package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surreal-core/catalog"
	"github.com/surrealdb/surreal-core/common/value"
	"github.com/surrealdb/surreal-core/config"
	"github.com/surrealdb/surreal-core/exec"
	"github.com/surrealdb/surreal-core/expr"
	"github.com/surrealdb/surreal-core/kvstore"
	"github.com/surrealdb/surreal-core/kvstore/memdb"
	"github.com/surrealdb/surreal-core/qerror"
	"github.com/surrealdb/surreal-core/session"
)

func newDatastore() *Datastore {
	return New(memdb.New(), config.Default())
}

func valueRun(v value.Value) func(*exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
	return func(*exec.ExecutionContext) (value.Value, *exec.ControlFlow) { return v, nil }
}

func TestExecuteReturnsOneResponsePerStatement(t *testing.T) {
	ds := newDatastore()
	plans := []StatementPlan{
		{QueryType: "SELECT", AccessModeOf: expr.ReadOnly, Run: valueRun(value.Num(value.Int(1)))},
		{QueryType: "SELECT", AccessModeOf: expr.ReadOnly, Run: valueRun(value.Num(value.Int(2)))},
	}
	resp := ds.Execute(context.Background(), plans, &session.Session{}, nil, 0)
	require.Len(t, resp, 2)
	require.NoError(t, resp[0].Err)
	require.Equal(t, int64(1), resp[0].Result.Num.Int)
	require.Equal(t, int64(2), resp[1].Result.Num.Int)
	require.Equal(t, "SELECT", resp[0].QueryType)
}

func TestExecuteConvertsErrToValueUnderTRY(t *testing.T) {
	ds := newDatastore()
	failing := func(*exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
		return value.None(), exec.Err(errors.New("boom"))
	}
	plans := []StatementPlan{{QueryType: "UPDATE", AccessModeOf: expr.ReadWrite, TRY: true, Run: failing}}
	resp := ds.Execute(context.Background(), plans, &session.Session{}, nil, 0)
	require.NoError(t, resp[0].Err)
	require.Equal(t, "boom", resp[0].Result.Str)
}

func TestExecuteSurfacesErrWithoutTRY(t *testing.T) {
	ds := newDatastore()
	failing := func(*exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
		return value.None(), exec.Err(errors.New("boom"))
	}
	plans := []StatementPlan{{QueryType: "UPDATE", AccessModeOf: expr.ReadWrite, Run: failing}}
	resp := ds.Execute(context.Background(), plans, &session.Session{}, nil, 0)
	require.Error(t, resp[0].Err)
	require.Equal(t, "boom", resp[0].Err.Error())
}

func TestExecuteDispatchesLiveQueryDeltasAfterCommit(t *testing.T) {
	ds := newDatastore()
	dispatched := false

	plans := []StatementPlan{{
		QueryType:    "CREATE",
		AccessModeOf: expr.ReadWrite,
		Run:          valueRun(value.Num(value.Int(1))),
		Deltas: func() []DeltaEvent {
			dispatched = true
			return []DeltaEvent{{
				Delta: catalog.Delta{Table: "person", Kind: catalog.ChangeCreate},
				Value: value.Bool(true),
			}}
		},
	}}
	resp := ds.Execute(context.Background(), plans, &session.Session{}, nil, 0)
	require.NoError(t, resp[0].Err)
	require.True(t, dispatched)
}

func TestExecuteRetriesOnceOnRetryableConflictThenSucceeds(t *testing.T) {
	backend := &conflictingBackend{failFirstCommits: 1}
	ds := New(backend, config.Default())
	attempts := 0
	run := func(*exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
		attempts++
		return value.Num(value.Int(7)), nil
	}
	plans := []StatementPlan{{QueryType: "CREATE", AccessModeOf: expr.ReadWrite, Run: run}}
	resp := ds.Execute(context.Background(), plans, &session.Session{}, nil, 0)
	require.NoError(t, resp[0].Err)
	require.Equal(t, int64(7), resp[0].Result.Num.Int)
	require.Equal(t, 2, attempts)
}

func TestExecuteSurfacesConflictAfterSecondAttemptFails(t *testing.T) {
	backend := &conflictingBackend{failFirstCommits: 2}
	ds := New(backend, config.Default())
	plans := []StatementPlan{{QueryType: "CREATE", AccessModeOf: expr.ReadWrite, Run: valueRun(value.None())}}
	resp := ds.Execute(context.Background(), plans, &session.Session{}, nil, 0)
	require.True(t, qerror.Is(resp[0].Err, qerror.KindConflict))
}

func TestExecuteUsesDefaultTimeoutWhenNoneGiven(t *testing.T) {
	ds := newDatastore()
	var seenTimeout time.Duration
	plans := []StatementPlan{{
		QueryType:    "SELECT",
		AccessModeOf: expr.ReadOnly,
		Run: func(ctx *exec.ExecutionContext) (value.Value, *exec.ControlFlow) {
			seenTimeout = ctx.Budget.QueryTimeout
			return value.None(), nil
		},
	}}
	ds.Execute(context.Background(), plans, &session.Session{}, nil, 0)
	require.Equal(t, session.DefaultQueryTimeout, seenTimeout)
}

// conflictingBackend fails its first N transactions' Commit with
// qerror.ErrConflictRetryable, to exercise the driver's retry-once path
// without requiring a real backend's write-write conflict detection.
type conflictingBackend struct {
	failFirstCommits int
	commitCalls      int
}

func (b *conflictingBackend) Capabilities() kvstore.Capabilities { return kvstore.Capabilities{} }

func (b *conflictingBackend) Begin(context.Context, kvstore.Mode) (kvstore.Transaction, error) {
	return &conflictingTx{backend: b}, nil
}

func (b *conflictingBackend) Close() error { return nil }

type conflictingTx struct {
	backend *conflictingBackend
}

func (t *conflictingTx) Get(context.Context, string, []byte, time.Time) ([]byte, error) {
	return nil, qerror.ErrKeyNotFound
}
func (t *conflictingTx) Put(context.Context, string, []byte, []byte) error  { return nil }
func (t *conflictingTx) Set(context.Context, string, []byte, []byte) error  { return nil }
func (t *conflictingTx) Del(context.Context, string, []byte) error         { return nil }
func (t *conflictingTx) Delc(context.Context, string, []byte, []byte) error { return nil }
func (t *conflictingTx) Putc(context.Context, string, []byte, []byte) error { return nil }

func (t *conflictingTx) Scan(context.Context, string, kvstore.KeyRange, int, kvstore.Direction) ([]kvstore.KV, error) {
	return nil, nil
}
func (t *conflictingTx) StreamKeys(context.Context, string, kvstore.KeyRange, int, kvstore.Direction, func([][]byte) bool) error {
	return nil
}
func (t *conflictingTx) StreamValues(context.Context, string, kvstore.KeyRange, int, kvstore.Direction, func([]kvstore.KV) bool) error {
	return nil
}

func (t *conflictingTx) Commit(context.Context) error {
	t.backend.commitCalls++
	if t.backend.commitCalls <= t.backend.failFirstCommits {
		return qerror.ErrConflictRetryable
	}
	return nil
}

func (t *conflictingTx) Cancel() {}

func (t *conflictingTx) Mode() kvstore.Mode { return kvstore.Mode{Write: true} }
