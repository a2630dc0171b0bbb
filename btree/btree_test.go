package btree

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surreal-core/kvstore"
	"github.com/surrealdb/surreal-core/kvstore/memdb"
	"github.com/surrealdb/surreal-core/qerror"
)

func openTree(t *testing.T, order int) (*Tree, kvstore.Transaction) {
	t.Helper()
	b := memdb.New()
	tx, err := b.Begin(context.Background(), kvstore.Mode{Write: true})
	require.NoError(t, err)
	cache, err := NewNodeCache(64)
	require.NoError(t, err)
	tr, err := Open(tx, "bt", 1, TrieKeys, order, cache)
	require.NoError(t, err)
	return tr, tx
}

func TestInsertAndSearchSingleKey(t *testing.T) {
	tr, _ := openTree(t, DefaultOrder)
	require.NoError(t, tr.Insert(context.Background(), []byte("a"), []byte("1")))
	v, err := tr.Search(context.Background(), []byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
}

func TestSearchMissingKeyReturnsNotFound(t *testing.T) {
	tr, _ := openTree(t, DefaultOrder)
	_, err := tr.Search(context.Background(), []byte("missing"))
	require.ErrorIs(t, err, qerror.ErrKeyNotFound)
}

func TestInsertTriggersSplitAndRemainsSearchable(t *testing.T) {
	tr, _ := openTree(t, 3)
	ctx := context.Background()
	n := 50
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%03d", i))
		require.NoError(t, tr.Insert(ctx, k, []byte(fmt.Sprintf("val-%d", i))))
	}
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%03d", i))
		v, err := tr.Search(ctx, k)
		require.NoError(t, err, "key %d should be found after splits", i)
		require.Equal(t, fmt.Sprintf("val-%d", i), string(v))
	}
	require.Greater(t, tr.Statistics().Generation, uint64(0))
}

func TestInsertOverwritesExistingKey(t *testing.T) {
	tr, _ := openTree(t, DefaultOrder)
	ctx := context.Background()
	require.NoError(t, tr.Insert(ctx, []byte("a"), []byte("1")))
	require.NoError(t, tr.Insert(ctx, []byte("a"), []byte("2")))
	v, err := tr.Search(ctx, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
}

func TestDeleteRemovesKey(t *testing.T) {
	tr, _ := openTree(t, DefaultOrder)
	ctx := context.Background()
	require.NoError(t, tr.Insert(ctx, []byte("a"), []byte("1")))
	require.NoError(t, tr.Delete(ctx, []byte("a")))
	_, err := tr.Search(ctx, []byte("a"))
	require.ErrorIs(t, err, qerror.ErrKeyNotFound)
}

func TestDeleteMissingKeyReturnsNotFound(t *testing.T) {
	tr, _ := openTree(t, DefaultOrder)
	err := tr.Delete(context.Background(), []byte("nope"))
	require.ErrorIs(t, err, qerror.ErrKeyNotFound)
}

func TestBStateRoundTripsCurrentVersion(t *testing.T) {
	s := BState{Root: 7, Generation: 3, Order: 64}
	enc := EncodeBState(s)
	dec, err := DecodeBState(enc, 0)
	require.NoError(t, err)
	require.Equal(t, s, dec)
}

func TestDecodeBStateMigratesV1(t *testing.T) {
	buf := make([]byte, 17)
	buf[0] = bstateVersion1
	buf[8] = 9 // root = 9 at bytes [1:9]
	dec, err := DecodeBState(buf, 7)
	require.NoError(t, err)
	require.Equal(t, uint64(9), dec.Root)
	require.Equal(t, 7, dec.Order, "fallback order applied for legacy state")
}
