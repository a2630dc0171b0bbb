// Package memdb implements the in-memory kvstore.Backend of spec.md §4.B:
// an ordered map with MVCC-style versioning, no external dependencies.
//
// Grounded on the teacher's ethdb.NewMemDatabase/BoltDatabase.MemCopy
// (_examples/3esmit-turbo-geth/ethdb/memory_database.go), which backs its
// in-memory database with a real embedded store (bolt/lmdb "MemOnly" mode)
// rather than a bespoke map. We follow the same idea — don't hand-roll a
// tree — by using github.com/petar/GoLLRB/llrb (already a teacher
// dependency) as the per-table ordered index, with a generation-stamped
// value history per key for versioned reads (spec.md's supplemented
// VERSION d'...' reads, see SPEC_FULL.md §5).
package memdb

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/petar/GoLLRB/llrb"

	"github.com/ethereum/go-ethereum/log"
	"github.com/surrealdb/surreal-core/kvstore"
	"github.com/surrealdb/surreal-core/qerror"
)

// item is the llrb.Item stored per key: an ordered key plus its version
// history, newest first.
type item struct {
	key      []byte
	versions []versionedValue // sorted newest-first by committedAt
}

type versionedValue struct {
	value       []byte // nil means tombstone
	committedAt time.Time
	commitSeq   uint64
}

func (a *item) Less(than llrb.Item) bool {
	b := than.(*item)
	return bytes.Compare(a.key, b.key) < 0
}

// table is one ordered keyspace; tables never share a tree so scans never
// need to filter by table prefix.
type table struct {
	mu   sync.RWMutex
	tree *llrb.LLRB
}

func newTable() *table { return &table{tree: llrb.New()} }

// Backend is the in-memory kvstore.Backend.
type Backend struct {
	mu        sync.Mutex
	tables    map[string]*table
	commitSeq uint64
	log       log.Logger
}

func New() *Backend {
	return &Backend{
		tables: make(map[string]*table),
		log:    log.New("backend", "memdb"),
	}
}

func (b *Backend) Capabilities() kvstore.Capabilities {
	return kvstore.Capabilities{
		VersionedReads:    true,
		StreamingPushdown: false,
		ChangeFeeds:       false,
		GroupedCommit:     true,
	}
}

func (b *Backend) tableFor(name string) *table {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tables[name]
	if !ok {
		t = newTable()
		b.tables[name] = t
	}
	return t
}

func (b *Backend) Begin(ctx context.Context, mode kvstore.Mode) (kvstore.Transaction, error) {
	return &tx{backend: b, mode: mode, writes: make(map[writeKey]kvstore.WriteOp)}, nil
}

func (b *Backend) Close() error {
	b.log.Info("closing in-memory backend")
	return nil
}

// nextCommitSeq hands out the monotone sequence number that defines commit
// order = visibility order for this backend (spec.md §8 invariant 6).
func (b *Backend) nextCommitSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commitSeq++
	return b.commitSeq
}

type writeKey struct {
	table string
	key   string
}

// tx is a single transaction. Reads go straight to the backing tables
// (snapshot isolation is approximated by only ever reading the latest
// committed version at Get time, since memdb is single-process and commits
// are globally ordered by commitSeq); writes buffer in `writes` until
// Commit.
type tx struct {
	backend   *Backend
	mode      kvstore.Mode
	writes    map[writeKey]kvstore.WriteOp
	committed bool
}

func (t *tx) Mode() kvstore.Mode { return t.mode }

func (t *tx) checkWritable() error {
	if t.committed {
		return qerror.ErrTxFinished
	}
	if t.mode.ReadOnly {
		return qerror.ErrTxReadonly
	}
	return nil
}

// bufferedValue returns this transaction's own pending write for (table,
// key), if any — reads must see their own prior writes (spec.md §5
// "Within a transaction, reads see all its own prior writes").
func (t *tx) bufferedValue(table string, key []byte) (val []byte, deleted, found bool) {
	op, ok := t.writes[writeKey{table, string(key)}]
	if !ok {
		return nil, false, false
	}
	return op.Value, op.Delete, true
}

func (t *tx) Get(ctx context.Context, table string, key []byte, version time.Time) ([]byte, error) {
	if v, deleted, found := t.bufferedValue(table, key); found {
		if deleted {
			return nil, qerror.ErrKeyNotFound
		}
		return v, nil
	}
	tb := t.backend.tableFor(table)
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	found := tb.tree.Get(&item{key: key})
	if found == nil {
		return nil, qerror.ErrKeyNotFound
	}
	it := found.(*item)
	if version.IsZero() {
		if len(it.versions) == 0 || it.versions[0].value == nil {
			return nil, qerror.ErrKeyNotFound
		}
		return it.versions[0].value, nil
	}
	for _, v := range it.versions {
		if !v.committedAt.After(version) {
			if v.value == nil {
				return nil, qerror.ErrKeyNotFound
			}
			return v.value, nil
		}
	}
	return nil, qerror.ErrKeyNotFound
}

func (t *tx) Put(ctx context.Context, table string, key, val []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	cp := append([]byte(nil), val...)
	t.writes[writeKey{table, string(key)}] = kvstore.WriteOp{Table: table, Key: key, Value: cp}
	return nil
}

func (t *tx) Set(ctx context.Context, table string, key, val []byte) error {
	return t.Put(ctx, table, key, val)
}

func (t *tx) Del(ctx context.Context, table string, key []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.writes[writeKey{table, string(key)}] = kvstore.WriteOp{Table: table, Key: key, Delete: true}
	return nil
}

func (t *tx) Delc(ctx context.Context, table string, key, expected []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	current, err := t.Get(ctx, table, key, time.Time{})
	if err != nil {
		if err == qerror.ErrKeyNotFound {
			if expected != nil {
				return qerror.ErrTxConditionNotMet
			}
		} else {
			return err
		}
	} else if !bytes.Equal(current, expected) {
		return qerror.ErrTxConditionNotMet
	}
	return t.Del(ctx, table, key)
}

func (t *tx) Putc(ctx context.Context, table string, key, val []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, err := t.Get(ctx, table, key, time.Time{}); err == nil {
		return qerror.ErrTxKeyAlreadyExists
	}
	return t.Put(ctx, table, key, val)
}

func (t *tx) Scan(ctx context.Context, table string, r kvstore.KeyRange, limit int, dir kvstore.Direction) ([]kvstore.KV, error) {
	var out []kvstore.KV
	err := t.rangeIterate(table, r, dir, func(k, v []byte) bool {
		out = append(out, kvstore.KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

func (t *tx) StreamKeys(ctx context.Context, table string, r kvstore.KeyRange, batchHint int, dir kvstore.Direction, fn func([][]byte) bool) error {
	if batchHint <= 0 {
		batchHint = 1024
	}
	var batch [][]byte
	cont := true
	err := t.rangeIterate(table, r, dir, func(k, v []byte) bool {
		if ctx.Err() != nil {
			cont = false
			return false
		}
		batch = append(batch, append([]byte(nil), k...))
		if len(batch) >= batchHint {
			cont = fn(batch)
			batch = nil
		}
		return cont
	})
	if err != nil {
		return err
	}
	if cont && len(batch) > 0 {
		fn(batch)
	}
	return nil
}

func (t *tx) StreamValues(ctx context.Context, table string, r kvstore.KeyRange, batchHint int, dir kvstore.Direction, fn func([]kvstore.KV) bool) error {
	if batchHint <= 0 {
		batchHint = 1024
	}
	var batch []kvstore.KV
	cont := true
	err := t.rangeIterate(table, r, dir, func(k, v []byte) bool {
		if ctx.Err() != nil {
			cont = false
			return false
		}
		batch = append(batch, kvstore.KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
		if len(batch) >= batchHint {
			cont = fn(batch)
			batch = nil
		}
		return cont
	})
	if err != nil {
		return err
	}
	if cont && len(batch) > 0 {
		fn(batch)
	}
	return nil
}

// rangeIterate walks the merged view of committed tree state and this
// transaction's own buffered writes within [r.Start, r.End), honoring dir.
func (t *tx) rangeIterate(table string, r kvstore.KeyRange, dir kvstore.Direction, fn func(k, v []byte) bool) error {
	tb := t.backend.tableFor(table)
	tb.mu.RLock()
	var committed []kvPair
	lo := &item{key: r.Start}
	iter := func(i llrb.Item) bool {
		it := i.(*item)
		if r.End != nil && bytes.Compare(it.key, r.End) >= 0 {
			return false
		}
		if len(it.versions) == 0 || it.versions[0].value == nil {
			return true
		}
		committed = append(committed, kvPair{k: it.key, v: it.versions[0].value})
		return true
	}
	if r.Start == nil {
		tb.tree.AscendGreaterOrEqual(tb.tree.Min(), iter)
	} else {
		tb.tree.AscendGreaterOrEqual(lo, iter)
	}
	tb.mu.RUnlock()

	merged := mergeWithBuffered(committed, t.writes, table, r)
	if dir == kvstore.Backward {
		for i, j := 0, len(merged)-1; i < j; i, j = i+1, j-1 {
			merged[i], merged[j] = merged[j], merged[i]
		}
	}
	for _, e := range merged {
		if !fn(e.k, e.v) {
			return nil
		}
	}
	return nil
}

// kvPair is a minimal key/value pair used internally while merging
// committed tree state with a transaction's own buffered writes.
type kvPair struct{ k, v []byte }

func mergeWithBuffered(committed []kvPair, writes map[writeKey]kvstore.WriteOp, table string, r kvstore.KeyRange) []kvPair {
	byKey := make(map[string][]byte, len(committed))
	order := make([]string, 0, len(committed))
	for _, e := range committed {
		byKey[string(e.k)] = e.v
		order = append(order, string(e.k))
	}
	for wk, op := range writes {
		if wk.table != table {
			continue
		}
		k := []byte(wk.key)
		if r.Start != nil && bytes.Compare(k, r.Start) < 0 {
			continue
		}
		if r.End != nil && bytes.Compare(k, r.End) >= 0 {
			continue
		}
		if _, existed := byKey[wk.key]; !existed {
			order = append(order, wk.key)
		}
		if op.Delete {
			delete(byKey, wk.key)
		} else {
			byKey[wk.key] = op.Value
		}
	}
	out := make([]kvPair, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, k := range order {
		if seen[k] {
			continue
		}
		seen[k] = true
		v, ok := byKey[k]
		if !ok {
			continue
		}
		out = append(out, kvPair{k: []byte(k), v: v})
	}
	// order above interleaves committed (already ascending) with newly
	// buffered keys appended at the end; re-sort to restore ascending
	// key order across both sources.
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && bytes.Compare(out[j-1].k, out[j].k) > 0 {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

func (t *tx) Commit(ctx context.Context) error {
	if t.committed {
		return qerror.ErrTxFinished
	}
	if t.mode.ReadOnly {
		t.committed = true
		return nil
	}
	seq := t.backend.nextCommitSeq()
	now := time.Now()
	for wk, op := range t.writes {
		tb := t.backend.tableFor(wk.table)
		tb.mu.Lock()
		key := []byte(wk.key)
		existing := tb.tree.Get(&item{key: key})
		var it *item
		if existing != nil {
			it = existing.(*item)
		} else {
			it = &item{key: key}
		}
		var val []byte
		if !op.Delete {
			val = op.Value
		}
		it.versions = append([]versionedValue{{value: val, committedAt: now, commitSeq: seq}}, it.versions...)
		tb.tree.ReplaceOrInsert(it)
		tb.mu.Unlock()
	}
	t.committed = true
	return nil
}

func (t *tx) Cancel() {
	t.committed = true
	t.writes = nil
}
