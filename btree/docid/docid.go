// Package docid implements the doc-ID allocator of spec.md §4.F: a
// key→id B+tree paired with a reverse id→key KV entry and a roaring-bitmap
// free list of reusable ids.
//
// The free-list persistence (serialize/deserialize a *roaring.Bitmap to a
// single KV value, RunOptimize before writing) is grounded directly on
// _examples/3esmit-turbo-geth/ethdb/bitmapdb/dbutils.go's writeBitmapSharded/Get,
// simplified to a single unsharded value since one allocator's free set
// never approaches that file's multi-megabyte sharding threshold.
package docid

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/surrealdb/surreal-core/btree"
	"github.com/surrealdb/surreal-core/common/dbutils"
	"github.com/surrealdb/surreal-core/kvstore"
	"github.com/surrealdb/surreal-core/qerror"
)

// Resolution tags whether resolve(key) minted a fresh id or found one
// already assigned (spec.md §4.F: "resolve(key) returns either New(id) or
// Existing(id)").
type Resolution struct {
	ID    uint64
	IsNew bool
}

// Allocator maps opaque record keys to compact 64-bit doc-ids.
type Allocator struct {
	tree        *btree.Tree // key -> id
	tx          kvstore.Transaction
	reverseTbl  string // id -> key lives here
	metaTbl     string // next_doc_id and available_ids persisted here
	allocatorID dbutils.CatalogID
}

// Open binds an Allocator to tx. table is the KV table used for both the
// reverse id->key entries and the allocator's own metadata; treeTable/treeID
// locate the underlying key->id B+tree.
func Open(tx kvstore.Transaction, table, treeTable string, treeID dbutils.CatalogID, cache *btree.NodeCache) (*Allocator, error) {
	tr, err := btree.Open(tx, treeTable, treeID, btree.TrieKeys, btree.DefaultRecordOrder, cache)
	if err != nil {
		return nil, err
	}
	return &Allocator{tree: tr, tx: tx, reverseTbl: table, metaTbl: table, allocatorID: treeID}, nil
}

func nextIDKey(allocatorID dbutils.CatalogID) []byte {
	b := make([]byte, 1+8)
	b[0] = 'n'
	binary.BigEndian.PutUint64(b[1:], uint64(allocatorID))
	return b
}

func availableIDsKey(allocatorID dbutils.CatalogID) []byte {
	b := make([]byte, 1+8)
	b[0] = 'a'
	binary.BigEndian.PutUint64(b[1:], uint64(allocatorID))
	return b
}

func reverseKey(allocatorID dbutils.CatalogID, id uint64) []byte {
	b := make([]byte, 1+8+8)
	b[0] = 'r'
	binary.BigEndian.PutUint64(b[1:9], uint64(allocatorID))
	binary.BigEndian.PutUint64(b[9:17], id)
	return b
}

func (a *Allocator) loadNextID(ctx context.Context) (uint64, error) {
	raw, err := a.tx.Get(ctx, a.metaTbl, nextIDKey(a.allocatorID), time.Time{})
	if err != nil {
		if qerror.Is(err, qerror.KindNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (a *Allocator) storeNextID(ctx context.Context, next uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, next)
	return a.tx.Set(ctx, a.metaTbl, nextIDKey(a.allocatorID), b)
}

func (a *Allocator) loadAvailable(ctx context.Context) (*roaring.Bitmap, error) {
	raw, err := a.tx.Get(ctx, a.metaTbl, availableIDsKey(a.allocatorID), time.Time{})
	if err != nil {
		if qerror.Is(err, qerror.KindNotFound) {
			return roaring.New(), nil
		}
		return nil, err
	}
	bm, err := roaring.Read(raw)
	if err != nil {
		return nil, err
	}
	return bm, nil
}

func (a *Allocator) storeAvailable(ctx context.Context, bm *roaring.Bitmap) error {
	bm.RunOptimize()
	buf := make([]byte, bm.SerializedSizeInBytes())
	if err := bm.Write(buf); err != nil {
		return err
	}
	return a.tx.Set(ctx, a.metaTbl, availableIDsKey(a.allocatorID), buf)
}

// Resolve maps key to its doc-id, minting a fresh one (preferring a freed
// id from available_ids, falling back to next_doc_id) if key has not been
// seen before.
func (a *Allocator) Resolve(ctx context.Context, key []byte) (Resolution, error) {
	if raw, err := a.tree.Search(ctx, key); err == nil {
		return Resolution{ID: binary.BigEndian.Uint64(raw), IsNew: false}, nil
	} else if !qerror.Is(err, qerror.KindNotFound) {
		return Resolution{}, err
	}

	avail, err := a.loadAvailable(ctx)
	if err != nil {
		return Resolution{}, err
	}

	var id uint64
	if !avail.IsEmpty() {
		id = uint64(avail.Minimum())
		avail.Remove(uint32(id))
		if err := a.storeAvailable(ctx, avail); err != nil {
			return Resolution{}, err
		}
	} else {
		id, err = a.loadNextID(ctx)
		if err != nil {
			return Resolution{}, err
		}
		if err := a.storeNextID(ctx, id+1); err != nil {
			return Resolution{}, err
		}
	}

	idBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(idBytes, id)
	if err := a.tree.Insert(ctx, key, idBytes); err != nil {
		return Resolution{}, err
	}
	if err := a.tx.Set(ctx, a.reverseTbl, reverseKey(a.allocatorID, id), key); err != nil {
		return Resolution{}, err
	}
	return Resolution{ID: id, IsNew: true}, nil
}

// Lookup resolves a doc-id back to its original key.
func (a *Allocator) Lookup(ctx context.Context, id uint64) ([]byte, error) {
	return a.tx.Get(ctx, a.reverseTbl, reverseKey(a.allocatorID, id), time.Time{})
}

// Remove frees key's doc-id back into available_ids — spec.md §4.F:
// "remove(key) frees the id into available_ids". The key->id and id->key
// entries are both deleted so a subsequent Resolve mints a fresh mapping
// rather than reusing stale tree state.
func (a *Allocator) Remove(ctx context.Context, key []byte) error {
	raw, err := a.tree.Search(ctx, key)
	if err != nil {
		return err
	}
	id := binary.BigEndian.Uint64(raw)

	if err := a.tree.Delete(ctx, key); err != nil {
		return err
	}
	if err := a.tx.Del(ctx, a.reverseTbl, reverseKey(a.allocatorID, id)); err != nil {
		return err
	}

	avail, err := a.loadAvailable(ctx)
	if err != nil {
		return err
	}
	avail.Add(uint32(id))
	return a.storeAvailable(ctx, avail)
}

