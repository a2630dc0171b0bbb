// Package dbutils implements the key codec of spec.md §4.A: a bijective,
// order-preserving encoding between logical catalog/record/index entities
// and the byte keys stored in a kvstore.Transaction table. It is the direct
// descendant of the teacher's common/dbutils/bucket.go, which enumerated
// turbo-geth's LMDB bucket names and DupSort flags; here the fixed buckets
// become the fixed *tables* addressed by kvstore.Transaction (table string,
// key []byte), and the bucket-specific key layouts become the Encode*/Decode*
// functions below.
package dbutils

import (
	"sort"
	"strings"
)

// Table names. A single logical keyspace ("chaindata" in the teacher) is
// partitioned by table the way turbo-geth partitioned by LMDB bucket; here
// every kvstore.Backend exposes these as independent ordered keyspaces.
const (
	TableNamespaces = "ns"
	TableDatabases  = "db"
	TableTables     = "tb"
	TableFields     = "fd"
	TableEvents     = "ev"
	TableIndexes    = "ix"
	TableParams     = "pa"
	TableFunctions  = "fn"
	TableAccesses   = "ac"
	TableUsers      = "us"
	TableAnalyzers  = "an"
	TableModels     = "ml"
	TableConfigs    = "cf"

	TableRecords   = "rec"
	TableIndexData = "idx"
	TableUnique    = "uniq"
	TableRefs      = "ref"
	TableGraph     = "grp"

	TableBTreeNodes = "bt_node"
	TableBTreeState = "bt_state"

	TableFTTerms    = "ft_term"
	TablePostings   = "ft_post"
	TableDocLens    = "ft_doclen"
	TableDocIDs     = "docid"

	TableLiveQueries = "lq"
	TableHeartbeats  = "hb"

	TableMigrations = "migration"
)

// AllTables lists every table this core opens at Datastore startup, sorted
// the way turbo-geth's sortBuckets() kept Buckets in a stable, reviewable
// order.
var AllTables = sortedTables([]string{
	TableNamespaces, TableDatabases, TableTables, TableFields, TableEvents,
	TableIndexes, TableParams, TableFunctions, TableAccesses, TableUsers,
	TableAnalyzers, TableModels, TableConfigs,
	TableRecords, TableIndexData, TableUnique, TableRefs, TableGraph,
	TableBTreeNodes, TableBTreeState,
	TableFTTerms, TablePostings, TableDocLens, TableDocIDs,
	TableLiveQueries, TableHeartbeats,
	TableMigrations,
})

func sortedTables(ts []string) []string {
	out := append([]string(nil), ts...)
	sort.SliceStable(out, func(i, j int) bool { return strings.Compare(out[i], out[j]) < 0 })
	return out
}

// Byte markers delimiting a key's logical segments (spec.md §4.A / §6).
const (
	prefixSep  byte = 0x00
	recordMark byte = '*'
	indexMark  byte = 0xA0
	tableMark  byte = 0xB0
	refMark    byte = 0xC0
	edgeMark   byte = 0xD0
	nsMark     byte = '/'
)

// Lowest and highest possible key bytes, used as open-ended range bounds
// (spec.md §6: "Prefixes and suffixes are 0x00 and 0xFF respectively").
const (
	KeyPrefixByte byte = 0x00
	KeySuffixByte byte = 0xFF
)
