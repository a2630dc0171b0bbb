// Package txcache implements the per-transaction read-through cache of
// spec.md §4.C: catalog entries and hot record values keyed by logical
// entity kind plus parent path, with an escape-hatch Any slot for the query
// engine to park intermediate state (open B+tree handles, etc.) without
// reopening them.
//
// The hot-value cache is backed by github.com/VictoriaMetrics/fastcache (a
// teacher dependency) rather than a bespoke map+LRU, following the same
// "don't reinvent a cache the ecosystem already provides" rule the teacher
// applies to hashicorp/golang-lru elsewhere in its dependency graph. Values
// above snappyThreshold are snappy-compressed before they enter the cache,
// the same record-value compression the teacher's dependency graph pulls in
// github.com/golang/snappy for (go-ethereum's own state/block encoders use
// it the same way: compress once, cache the compressed form, decompress on
// read).
package txcache

import (
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/golang/snappy"
)

// snappyThreshold is the minimum value size worth paying a snappy
// encode/decode round trip for; small records aren't worth it.
const snappyThreshold = 256

const (
	flagRaw byte = iota
	flagSnappy
)

// EntityKind is the logical catalog-entity kind a cache entry belongs to
// (spec.md §4.C: "keyed by logical entity kind ... plus its parent path").
type EntityKind uint8

const (
	KindUser EntityKind = iota
	KindAccess
	KindNamespace
	KindDatabase
	KindTable
	KindField
	KindIndex
	KindEvent
	KindLiveQuery
	KindParam
	KindFunction
	KindAnalyzer
)

// entryList is the Arc<[Entry]>-equivalent: a shared, already-built slice so
// repeat callers within the same transaction get it back in O(1) (spec.md
// §4.C: "Values are wrapped Arc<[Entry]> so returning lists is O(1)").
type entryList struct {
	entries []any
}

// Cache is exclusively owned by one Transaction — spec.md §5: "The
// transaction cache is owned exclusively by its transaction — never shared
// across tasks." It is therefore unsynchronised except where the hot-value
// cache below is itself internally synchronised.
type Cache struct {
	lists map[cacheKey]*entryList
	any   map[string]any

	// hotValues caches raw record bytes read this transaction, keyed by
	// the record's encoded KV key. It uses fastcache.Set/HasGet, so an entry
	// larger than fastcache's 64 KB per-entry limit (after any snappy
	// compression) is not cached.
	hotValues *fastcache.Cache
	mu        sync.Mutex
}

type cacheKey struct {
	kind   EntityKind
	parent string
}

// New builds a fresh per-transaction Cache. maxBytes bounds the hot-value
// cache; callers typically size it from config (a fraction of the RocksDB
// block-cache budget, spec.md §4.B tuning table).
func New(maxBytes int) *Cache {
	return &Cache{
		lists:     make(map[cacheKey]*entryList),
		any:       make(map[string]any),
		hotValues: fastcache.New(maxBytes),
	}
}

// GetList returns the cached entity list for (kind, parent), if present.
func (c *Cache) GetList(kind EntityKind, parent string) ([]any, bool) {
	l, ok := c.lists[cacheKey{kind, parent}]
	if !ok {
		return nil, false
	}
	return l.entries, true
}

// PutList caches an entity list for (kind, parent).
func (c *Cache) PutList(kind EntityKind, parent string, entries []any) {
	c.lists[cacheKey{kind, parent}] = &entryList{entries: entries}
}

// InvalidatePrefix clears every cached list whose parent path starts with
// prefix — spec.md §4.C: "Entries expire on catalog-mutation within the
// same transaction by clearing the relevant parent prefix."
func (c *Cache) InvalidatePrefix(kind EntityKind, prefix string) {
	for k := range c.lists {
		if k.kind == kind && len(k.parent) >= len(prefix) && k.parent[:len(prefix)] == prefix {
			delete(c.lists, k)
		}
	}
}

// GetValue reads a hot record value cached this transaction, transparently
// decompressing it if it was stored snappy-compressed.
func (c *Cache) GetValue(key []byte) ([]byte, bool) {
	c.mu.Lock()
	stored, ok := c.hotValues.HasGet(nil, key)
	c.mu.Unlock()
	if !ok || len(stored) == 0 {
		return stored, ok
	}
	switch stored[0] {
	case flagSnappy:
		v, err := snappy.Decode(nil, stored[1:])
		if err != nil {
			return nil, false
		}
		return v, true
	default:
		return stored[1:], true
	}
}

// PutValue caches a record value read or written this transaction,
// snappy-compressing it first when it's large enough to be worth it.
func (c *Cache) PutValue(key, val []byte) {
	var stored []byte
	if len(val) >= snappyThreshold {
		stored = append([]byte{flagSnappy}, snappy.Encode(nil, val)...)
	} else {
		stored = append([]byte{flagRaw}, val...)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hotValues.Set(key, stored)
}

// InvalidateValue drops a cached record value (called after a write so a
// stale read-through entry never survives the transaction's own mutation).
func (c *Cache) InvalidateValue(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hotValues.Del(key)
}

// PutAny parks arbitrary intermediate state under name — the escape hatch
// of spec.md §4.C ("A catch-all Any(Arc<dyn Any>) slot permits the query
// engine to park intermediate state... without reopening them").
func (c *Cache) PutAny(name string, v any) {
	c.any[name] = v
}

// GetAny retrieves a previously parked value.
func (c *Cache) GetAny(name string) (any, bool) {
	v, ok := c.any[name]
	return v, ok
}
