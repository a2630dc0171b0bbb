// Package kvstore is the uniform backend KV adapter of spec.md §4.B: a
// single Transaction interface over pluggable backends (only the in-memory
// kvstore/memdb is implemented in this repository), offering ordered key ranges,
// optimistic or pessimistic concurrency, versioned reads, and grouped
// commits.
//
// The interface shape is grounded directly on erigon-lib's kv.Tx / kv.RwTx
// (see _examples/fenghaojiang-erigon-lib/kv/kv_interface.go): a table-scoped
// Get/Put/Delete surface plus range iteration, with RoDB/RwDB distinguishing
// read-only transactions from locking read-write ones. We fold erigon-lib's
// separate Cursor abstraction into a simpler Scan/StreamKeys/StreamValues
// surface because spec.md §4.B does not ask for a cursor object model —
// only for ranges and streams.
package kvstore

import (
	"context"
	"time"
)

// Direction controls scan/stream order (spec.md §4.B).
type Direction uint8

const (
	Forward Direction = iota
	Backward
)

// KeyRange is a half-open [Start, End) byte range. A nil End means "to the
// end of the table"; a nil Start means "from the beginning".
type KeyRange struct {
	Start []byte
	End   []byte
}

// KV is a single key/value pair returned from a range read.
type KV struct {
	Key   []byte
	Value []byte
}

// Capabilities is what a backend advertises at open-time (spec.md §4.B:
// "capability differences ... are advertised via a Capabilities struct").
type Capabilities struct {
	VersionedReads   bool // Transaction.Get honours a non-zero version
	StreamingPushdown bool // StreamKeys/StreamValues avoid buffering client-side
	ChangeFeeds      bool // backend can itself emit committed mutation deltas
	GroupedCommit    bool // benefits from being routed through a commitcoord.Coordinator
}

// Mode configures how a Transaction is opened (spec.md §4.B).
type Mode struct {
	ReadOnly bool
	Write    bool
	// Lock, when true, implies pessimistic serialisation where the backend
	// supports it; when false, snapshot isolation applies to reads. Writes
	// are always optimistic unless Lock is true.
	Lock bool
}

// Backend is the pluggable storage engine a Datastore opens. Each
// implementation (in this repository only memdb) provides the same
// Transaction surface; only capabilities and tuning differ.
type Backend interface {
	// Capabilities returns what this backend can do, fixed at open time.
	Capabilities() Capabilities

	// Begin opens a new Transaction in the given Mode.
	Begin(ctx context.Context, mode Mode) (Transaction, error)

	// Close releases all resources held by the backend. Close must only be
	// called once every outstanding Transaction has been committed or
	// cancelled.
	Close() error
}

// Transaction is the uniform API of spec.md §4.B. All operations are
// fallible; none block the caller's goroutine on I/O without an early
// cancellation check (spec.md §5: "No operator blocks the runtime thread on
// I/O").
type Transaction interface {
	// Get returns the value for key in table, or ErrKeyNotFound. When
	// version is non-zero and the backend's Capabilities.VersionedReads is
	// true, Get returns the value as of that version instead of the latest.
	// memdb does not detect a versioned read racing an in-flight write: it
	// returns the newest value committed at or before that version and
	// never returns ErrConflictRetryable from Get.
	Get(ctx context.Context, table string, key []byte, version time.Time) ([]byte, error)

	// Put inserts or overwrites key unconditionally.
	Put(ctx context.Context, table string, key, val []byte) error

	// Set is an alias kept distinct from Put for backends that give Set
	// extra semantics (e.g. refreshing a TTL); the default behaviour is
	// identical to Put.
	Set(ctx context.Context, table string, key, val []byte) error

	// Del deletes key unconditionally; deleting an absent key is not an
	// error.
	Del(ctx context.Context, table string, key []byte) error

	// Delc deletes key only if its current value equals expected;
	// otherwise returns ErrTxConditionNotMet.
	Delc(ctx context.Context, table string, key, expected []byte) error

	// Putc inserts key only if absent; returns ErrTxKeyAlreadyExists on
	// collision. Used by catalog creation (DEFINE ... ) to enforce
	// uniqueness without a read-then-write race.
	Putc(ctx context.Context, table string, key, val []byte) error

	// Scan materialises up to limit key/value pairs in [range.Start,
	// range.End) in the given direction. limit <= 0 means unlimited.
	Scan(ctx context.Context, table string, r KeyRange, limit int, dir Direction) ([]KV, error)

	// StreamKeys and StreamValues push batches of a range scan to fn until
	// the range is exhausted, fn returns false, or ctx is cancelled.
	// batchHint sizes each pushed batch; backends that cannot push (no
	// Capabilities.StreamingPushdown) emulate it by buffering Scan results.
	StreamKeys(ctx context.Context, table string, r KeyRange, batchHint int, dir Direction, fn func([][]byte) bool) error
	StreamValues(ctx context.Context, table string, r KeyRange, batchHint int, dir Direction, fn func([]KV) bool) error

	// Commit finalises the transaction's write set. On local backends with
	// Capabilities.GroupedCommit, Commit is expected to be routed through a
	// commitcoord.Coordinator by the caller (the Transaction itself does
	// not know about batching).
	Commit(ctx context.Context) error

	// Cancel discards the transaction's write set; safe to call after
	// Commit has already run (no-op in that case).
	Cancel()

	// Mode reports how this transaction was opened.
	Mode() Mode
}

// WriteOp is one buffered mutation, used by backends whose Commit needs to
// hand a flat write-set to a commitcoord.Coordinator (spec.md §4.D).
type WriteOp struct {
	Table   string
	Key     []byte
	Value   []byte // nil means delete
	Delete  bool
	Expect  []byte // for conditional ops; nil means unconditional
	Exists  bool   // Putc-style "must not exist"
}
