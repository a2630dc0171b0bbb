// Package livequery implements the live query tracker of spec.md §4.M: a
// per-table in-memory subscriber list, notification dispatch on commit, and
// node-heartbeat-driven orphan cleanup.
package livequery

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/surrealdb/surreal-core/catalog"
	"github.com/surrealdb/surreal-core/common/value"
	"github.com/surrealdb/surreal-core/expr"
)

// ID identifies one live query (spec.md Glossary: lq_id).
type ID = uuid.UUID

// Notification is queued on a subscriber's channel when a committed delta
// matches its live query's filter (spec.md §4.M).
type Notification struct {
	ID        ID
	Action    catalog.ChangeKind
	Table     string
	RecordKey []byte
	Value     value.Value
}

// DefaultChannelSize bounds each subscriber's notification channel; once
// full, further notifications are dropped rather than blocking the writer
// (spec.md §4.M: "Subscriber channels are bounded; overflow drops
// notifications with a warning — never blocks the writer").
const DefaultChannelSize = 256

// LiveQuery is one registered subscription.
type LiveQuery struct {
	ID          ID
	NamespaceID catalog.ID
	DatabaseID  catalog.ID
	Table       string
	Node        NodeID

	// Filter is evaluated against each delta's record value using the
	// EvalContext captured from the session that created the live query —
	// not the session that performs the mutation (spec.md §4.M).
	Filter   expr.Expr
	EvalCtx  *expr.EvalContext
	Notify   chan Notification
	Archived bool
	ArchivedBy string
}

// NodeID identifies the cluster node a live query was registered from; the
// orphan sweep archives every live query owned by a node whose heartbeat has
// expired (spec.md §4.M).
type NodeID string

// Tracker is the per-table in-memory subscriber registry (spec.md §4.M).
// It owns no storage of its own: callers persist LiveQuery definitions and
// heartbeats through the catalog/KV layer and replay them into Register at
// startup, the same boundary exec/scan's decodeRecordFn and exec/transform's
// RowCodec seams draw against the document-model layer above this core.
type Tracker struct {
	mu    sync.RWMutex
	byTbl map[string]map[ID]*LiveQuery
	log   log.Logger
}

// New builds an empty Tracker.
func New() *Tracker {
	return &Tracker{
		byTbl: make(map[string]map[ID]*LiveQuery),
		log:   log.New("component", "livequery"),
	}
}

// Register adds a live query to its table's subscriber list, allocating its
// notification channel if the caller didn't supply one.
func (t *Tracker) Register(lq *LiveQuery) {
	if lq.Notify == nil {
		lq.Notify = make(chan Notification, DefaultChannelSize)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.byTbl[lq.Table]
	if !ok {
		m = make(map[ID]*LiveQuery)
		t.byTbl[lq.Table] = m
	}
	m[lq.ID] = lq
}

// Unregister removes a live query (KILL statement).
func (t *Tracker) Unregister(table string, id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.byTbl[table]; ok {
		delete(m, id)
	}
}

// Dispatch matches a committed delta against every live query registered on
// delta.Table, evaluating each one's filter against recordValue with that
// live query's own creator context, and enqueues a Notification for every
// match (spec.md §4.M).
func (t *Tracker) Dispatch(delta catalog.Delta, recordValue value.Value) {
	t.mu.RLock()
	subs := t.byTbl[delta.Table]
	matched := make([]*LiveQuery, 0, len(subs))
	for _, lq := range subs {
		if lq.Archived || lq.NamespaceID != delta.NamespaceID || lq.DatabaseID != delta.DatabaseID {
			continue
		}
		matched = append(matched, lq)
	}
	t.mu.RUnlock()

	for _, lq := range matched {
		if lq.Filter != nil {
			evalCtx := lq.EvalCtx
			if evalCtx == nil {
				evalCtx = &expr.EvalContext{}
			}
			evalCtx.Doc = recordValue
			v, err := lq.Filter.Evaluate(evalCtx)
			if err != nil || !v.IsTruthy() {
				continue
			}
		}
		n := Notification{
			ID:        lq.ID,
			Action:    delta.Kind,
			Table:     delta.Table,
			RecordKey: delta.RecordKey,
			Value:     recordValue,
		}
		select {
		case lq.Notify <- n:
		default:
			t.log.Warn("dropping live query notification, subscriber channel full",
				"live_query", lq.ID, "table", delta.Table)
		}
	}
}

// SweepExpiredNodes archives every live query owned by a node whose last
// heartbeat is older than ttl, then removes it from the tracker and drains
// any notifications still queued on it (spec.md §4.M: "archives each of the
// node's live queries ... then deletes the ndlq/tblq entries and drains any
// residual notifications"). heartbeats is supplied by the caller, read from
// the node-heartbeat KV keys this core's key schema owns above livequery.
func (t *Tracker) SweepExpiredNodes(now time.Time, heartbeats map[NodeID]time.Time, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for table, subs := range t.byTbl {
		for id, lq := range subs {
			last, known := heartbeats[lq.Node]
			expired := !known || now.Sub(last) > ttl
			if !expired || lq.Archived {
				continue
			}
			lq.Archived = true
			lq.ArchivedBy = string(lq.Node)
			t.drain(lq)
			delete(subs, id)
			if len(subs) == 0 {
				delete(t.byTbl, table)
			}
		}
	}
}

// drain empties a live query's notification channel without blocking.
func (t *Tracker) drain(lq *LiveQuery) {
	for {
		select {
		case <-lq.Notify:
		default:
			return
		}
	}
}

// Len returns the number of active (non-archived) subscribers for table —
// used by tests and diagnostics.
func (t *Tracker) Len(table string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byTbl[table])
}
