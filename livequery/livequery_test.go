package livequery

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surreal-core/catalog"
	"github.com/surrealdb/surreal-core/common/value"
	"github.com/surrealdb/surreal-core/expr"
)

func TestDispatchMatchesFilterAndEnqueuesNotification(t *testing.T) {
	tr := New()
	lq := &LiveQuery{
		ID:     uuid.New(),
		Table:  "person",
		Filter: expr.Idiom{Path: []string{"active"}},
		EvalCtx: &expr.EvalContext{},
		Notify: make(chan Notification, 4),
	}
	tr.Register(lq)

	active := value.Obj(func() *value.OrderedMap {
		m := value.NewOrderedMap()
		m.Set("active", value.Bool(true))
		return m
	}())
	inactive := value.Obj(func() *value.OrderedMap {
		m := value.NewOrderedMap()
		m.Set("active", value.Bool(false))
		return m
	}())

	tr.Dispatch(catalog.Delta{Table: "person", Kind: catalog.ChangeCreate}, active)
	tr.Dispatch(catalog.Delta{Table: "person", Kind: catalog.ChangeUpdate}, inactive)

	require.Len(t, lq.Notify, 1)
	n := <-lq.Notify
	require.Equal(t, catalog.ChangeCreate, n.Action)
}

func TestDispatchDropsOnFullChannelWithoutBlocking(t *testing.T) {
	tr := New()
	lq := &LiveQuery{
		ID:     uuid.New(),
		Table:  "person",
		Notify: make(chan Notification, 1),
	}
	tr.Register(lq)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			tr.Dispatch(catalog.Delta{Table: "person", Kind: catalog.ChangeCreate}, value.None())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked on a full subscriber channel")
	}
	require.Len(t, lq.Notify, 1)
}

func TestSweepExpiredNodesArchivesAndDrains(t *testing.T) {
	tr := New()
	lq := &LiveQuery{
		ID:     uuid.New(),
		Table:  "person",
		Node:   NodeID("node-1"),
		Notify: make(chan Notification, 4),
	}
	tr.Register(lq)
	lq.Notify <- Notification{ID: lq.ID}

	now := time.Unix(1000, 0)
	heartbeats := map[NodeID]time.Time{
		"node-1": time.Unix(0, 0),
	}
	tr.SweepExpiredNodes(now, heartbeats, 10*time.Second)

	require.True(t, lq.Archived)
	require.Equal(t, "node-1", lq.ArchivedBy)
	require.Len(t, lq.Notify, 0)
	require.Equal(t, 0, tr.Len("person"))
}

func TestSweepKeepsLiveQueriesWithRecentHeartbeat(t *testing.T) {
	tr := New()
	lq := &LiveQuery{ID: uuid.New(), Table: "person", Node: NodeID("node-1")}
	tr.Register(lq)

	now := time.Unix(1000, 0)
	heartbeats := map[NodeID]time.Time{"node-1": time.Unix(995, 0)}
	tr.SweepExpiredNodes(now, heartbeats, 10*time.Second)

	require.False(t, lq.Archived)
	require.Equal(t, 1, tr.Len("person"))
}
