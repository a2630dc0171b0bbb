// Package catalog defines SurrealDB's schema entities (spec.md §3:
// "Catalog entities live under a namespace/database hierarchy") and the
// generation counters that version schema changes.
//
// Grounded on the cyclic/arena design note of spec.md §9 ("store as
// arena-of-indices on the catalog side... ids referencing other entries by
// numeric id, not embedded Arcs"): every entity below carries its parent by
// numeric CatalogID rather than by pointer, the same way turbo-geth's
// migrations/stages track progress by name/number in a table instead of by
// object graph (_examples/3esmit-turbo-geth/eth/stagedsync/stages).
package catalog

import (
	"time"

	"github.com/surrealdb/surreal-core/common/dbutils"
)

// ID is re-exported for callers that only need the catalog ID type without
// importing dbutils directly.
type ID = dbutils.CatalogID

// IndexKind enumerates the index flavours of spec.md §3.
type IndexKind uint8

const (
	IndexOrdered IndexKind = iota // Idx: non-unique ordered
	IndexUnique                   // Uniq
	IndexSearch                   // Search: full-text, per-analyzer
	IndexMTree                    // vector
	IndexHnsw                     // vector
	IndexCount                    // materialised row count
)

// Namespace, Database, Table, Field, Index, Event, Param, Function,
// AccessMethod, User, Analyzer, Model, Config mirror spec.md §3's catalog
// entity list. Each carries a numeric ID (monotone per parent) and name
// (unique per parent); Generation increments on schema changes scoped to
// that entity's parent.
type Namespace struct {
	ID         ID
	Name       string
	Generation uint64
}

type Database struct {
	ID         ID
	NamespaceID ID
	Name       string
	Generation uint64
}

type Table struct {
	ID         ID
	DatabaseID ID
	Name       string
	Generation uint64
	Schemafull bool
}

type Field struct {
	ID      ID
	TableID ID
	Name    string
	Kind    string // SurrealQL Kind expression, owned by the (out-of-scope) type system
}

type Index struct {
	ID        ID
	TableID   ID
	Name      string
	Kind      IndexKind
	Columns   []string
	Analyzer  string // only meaningful when Kind == IndexSearch
	BTreeRoot dbutils.CatalogID
}

type Event struct {
	ID      ID
	TableID ID
	Name    string
}

type Param struct {
	ID   ID
	DBID ID
	Name string
}

type Function struct {
	ID   ID
	DBID ID
	Name string
}

type AccessMethod struct {
	ID   ID
	DBID ID
	Name string
}

type User struct {
	ID   ID
	DBID ID
	Name string
}

type Analyzer struct {
	ID   ID
	DBID ID
	Name string
}

type Model struct {
	ID   ID
	DBID ID
	Name string
}

type Config struct {
	ID   ID
	DBID ID
	Name string
}

// ChangeKind tags a committed mutation delta (spec.md §4.M / SPEC_FULL.md §5
// change-feed supplement).
type ChangeKind uint8

const (
	ChangeCreate ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

// Delta is one record-level mutation produced by a committing transaction,
// consumed by both the live-query tracker (spec.md §4.M) and the logical
// export/import writer (SPEC_FULL.md §5).
type Delta struct {
	NamespaceID ID
	DatabaseID  ID
	Table       string
	RecordKey   []byte // encoded RecordIDKey, for ordering/dedup
	Kind        ChangeKind
	CommittedAt time.Time
}
