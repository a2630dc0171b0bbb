package memdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surreal-core/kvstore"
	"github.com/surrealdb/surreal-core/qerror"
)

func TestPutGetCommitVisibility(t *testing.T) {
	b := New()
	ctx := context.Background()

	tx1, err := b.Begin(ctx, kvstore.Mode{Write: true})
	require.NoError(t, err)
	require.NoError(t, tx1.Put(ctx, "t", []byte("a"), []byte("1")))
	v, err := tx1.Get(ctx, "t", []byte("a"), time.Time{})
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	require.NoError(t, tx1.Commit(ctx))

	tx2, err := b.Begin(ctx, kvstore.Mode{ReadOnly: true})
	require.NoError(t, err)
	v2, err := tx2.Get(ctx, "t", []byte("a"), time.Time{})
	require.NoError(t, err)
	require.Equal(t, "1", string(v2))
}

func TestGetMissingKey(t *testing.T) {
	b := New()
	ctx := context.Background()
	tx, _ := b.Begin(ctx, kvstore.Mode{ReadOnly: true})
	_, err := tx.Get(ctx, "t", []byte("missing"), time.Time{})
	require.ErrorIs(t, err, qerror.ErrKeyNotFound)
}

func TestPutcRejectsCollision(t *testing.T) {
	b := New()
	ctx := context.Background()
	tx, _ := b.Begin(ctx, kvstore.Mode{Write: true})
	require.NoError(t, tx.Putc(ctx, "t", []byte("a"), []byte("1")))
	err := tx.Putc(ctx, "t", []byte("a"), []byte("2"))
	require.ErrorIs(t, err, qerror.ErrTxKeyAlreadyExists)
}

func TestDelcRequiresMatchingValue(t *testing.T) {
	b := New()
	ctx := context.Background()
	tx, _ := b.Begin(ctx, kvstore.Mode{Write: true})
	require.NoError(t, tx.Put(ctx, "t", []byte("a"), []byte("1")))
	err := tx.Delc(ctx, "t", []byte("a"), []byte("wrong"))
	require.ErrorIs(t, err, qerror.ErrTxConditionNotMet)
	require.NoError(t, tx.Delc(ctx, "t", []byte("a"), []byte("1")))
}

func TestWriteOnReadOnlyTxFails(t *testing.T) {
	b := New()
	ctx := context.Background()
	tx, _ := b.Begin(ctx, kvstore.Mode{ReadOnly: true})
	err := tx.Put(ctx, "t", []byte("a"), []byte("1"))
	require.ErrorIs(t, err, qerror.ErrTxReadonly)
}

func TestScanOrderedRange(t *testing.T) {
	b := New()
	ctx := context.Background()
	tx, _ := b.Begin(ctx, kvstore.Mode{Write: true})
	for _, k := range []string{"b", "a", "c"} {
		require.NoError(t, tx.Put(ctx, "t", []byte(k), []byte(k)))
	}
	require.NoError(t, tx.Commit(ctx))

	tx2, _ := b.Begin(ctx, kvstore.Mode{ReadOnly: true})
	kvs, err := tx2.Scan(ctx, "t", kvstore.KeyRange{}, 0, kvstore.Forward)
	require.NoError(t, err)
	require.Len(t, kvs, 3)
	require.Equal(t, "a", string(kvs[0].Key))
	require.Equal(t, "b", string(kvs[1].Key))
	require.Equal(t, "c", string(kvs[2].Key))
}

func TestScanSeesOwnUncommittedWrites(t *testing.T) {
	b := New()
	ctx := context.Background()
	tx, _ := b.Begin(ctx, kvstore.Mode{Write: true})
	require.NoError(t, tx.Put(ctx, "t", []byte("a"), []byte("1")))
	kvs, err := tx.Scan(ctx, "t", kvstore.KeyRange{}, 0, kvstore.Forward)
	require.NoError(t, err)
	require.Len(t, kvs, 1)
}

func TestEmptyTableScansWithoutError(t *testing.T) {
	b := New()
	ctx := context.Background()
	tx, _ := b.Begin(ctx, kvstore.Mode{ReadOnly: true})
	kvs, err := tx.Scan(ctx, "empty", kvstore.KeyRange{}, 0, kvstore.Forward)
	require.NoError(t, err)
	require.Empty(t, kvs)
}

func TestCommitOrderIsVisibilityOrder(t *testing.T) {
	b := New()
	ctx := context.Background()

	tx1, _ := b.Begin(ctx, kvstore.Mode{Write: true})
	require.NoError(t, tx1.Put(ctx, "t", []byte("k"), []byte("first")))
	require.NoError(t, tx1.Commit(ctx))

	tx2, _ := b.Begin(ctx, kvstore.Mode{Write: true})
	require.NoError(t, tx2.Put(ctx, "t", []byte("k"), []byte("second")))
	require.NoError(t, tx2.Commit(ctx))

	tx3, _ := b.Begin(ctx, kvstore.Mode{ReadOnly: true})
	v, err := tx3.Get(ctx, "t", []byte("k"), time.Time{})
	require.NoError(t, err)
	require.Equal(t, "second", string(v))
}
