package docid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surreal-core/btree"
	"github.com/surrealdb/surreal-core/kvstore"
	"github.com/surrealdb/surreal-core/kvstore/memdb"
)

func openAllocator(t *testing.T) (*Allocator, kvstore.Transaction) {
	t.Helper()
	b := memdb.New()
	tx, err := b.Begin(context.Background(), kvstore.Mode{Write: true})
	require.NoError(t, err)
	cache, err := btree.NewNodeCache(64)
	require.NoError(t, err)
	a, err := Open(tx, "docid", "docid_tree", 1, cache)
	require.NoError(t, err)
	return a, tx
}

func TestResolveMintsNewIDOnFirstCall(t *testing.T) {
	a, _ := openAllocator(t)
	ctx := context.Background()
	r, err := a.Resolve(ctx, []byte("rec:1"))
	require.NoError(t, err)
	require.True(t, r.IsNew)
	require.Equal(t, uint64(0), r.ID)
}

func TestResolveIsIdempotentForSameKey(t *testing.T) {
	a, _ := openAllocator(t)
	ctx := context.Background()
	r1, err := a.Resolve(ctx, []byte("rec:1"))
	require.NoError(t, err)
	r2, err := a.Resolve(ctx, []byte("rec:1"))
	require.NoError(t, err)
	require.False(t, r2.IsNew)
	require.Equal(t, r1.ID, r2.ID)
}

func TestDistinctKeysGetDistinctIDs(t *testing.T) {
	a, _ := openAllocator(t)
	ctx := context.Background()
	r1, err := a.Resolve(ctx, []byte("rec:1"))
	require.NoError(t, err)
	r2, err := a.Resolve(ctx, []byte("rec:2"))
	require.NoError(t, err)
	require.NotEqual(t, r1.ID, r2.ID)
}

func TestLookupReversesIDToKey(t *testing.T) {
	a, _ := openAllocator(t)
	ctx := context.Background()
	r, err := a.Resolve(ctx, []byte("rec:1"))
	require.NoError(t, err)
	key, err := a.Lookup(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, "rec:1", string(key))
}

func TestRemoveFreesIDForReuse(t *testing.T) {
	a, _ := openAllocator(t)
	ctx := context.Background()
	r1, err := a.Resolve(ctx, []byte("rec:1"))
	require.NoError(t, err)
	require.NoError(t, a.Remove(ctx, []byte("rec:1")))

	r2, err := a.Resolve(ctx, []byte("rec:2"))
	require.NoError(t, err)
	require.True(t, r2.IsNew)
	require.Equal(t, r1.ID, r2.ID, "freed id should be the first one reused")
}

func TestIssuedAndAvailableIDsStayDisjoint(t *testing.T) {
	a, _ := openAllocator(t)
	ctx := context.Background()
	_, err := a.Resolve(ctx, []byte("rec:1"))
	require.NoError(t, err)
	_, err = a.Resolve(ctx, []byte("rec:2"))
	require.NoError(t, err)
	require.NoError(t, a.Remove(ctx, []byte("rec:1")))

	avail, err := a.loadAvailable(ctx)
	require.NoError(t, err)
	require.True(t, avail.Contains(0))
	require.False(t, avail.Contains(1))
}
