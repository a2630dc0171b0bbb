// Package scan implements the scan operators of spec.md §4.J: leaf
// ExecOperators that pull directly from storage (table, index, full-text,
// vector, reference, graph-edge) rather than from another operator.
package scan

import (
	"context"

	"github.com/surrealdb/surreal-core/common/dbutils"
	"github.com/surrealdb/surreal-core/common/value"
	"github.com/surrealdb/surreal-core/exec"
	"github.com/surrealdb/surreal-core/expr"
	"github.com/surrealdb/surreal-core/fulltext"
	"github.com/surrealdb/surreal-core/kvstore"
)

// Direction mirrors kvstore.Direction for scan operators that need to name
// it independently of the storage layer.
type Direction = kvstore.Direction

const (
	Forward  = kvstore.Forward
	Backward = kvstore.Backward
)

// decodeRecordFn turns a raw KV value into the Value this scan emits —
// typically a record's decoded object, supplied by the caller since
// record (de)serialization belongs to the document-model layer above this
// core (spec.md Non-goals: wire format is out of scope here).
type decodeRecordFn func(key, val []byte) (value.Value, error)

// TableScan emits every record in a table, optionally bounded by a
// record-id range, forward or reverse (spec.md §4.J).
type TableScan struct {
	exec.Base
	Tx      kvstore.Transaction
	Table   string
	Bounds  kvstore.KeyRange
	Dir     Direction
	Decode  decodeRecordFn
}

func (s *TableScan) Name() string                      { return "TableScan" }
func (s *TableScan) RequiredContext() exec.ContextLevel { return exec.ContextDatabase }
func (s *TableScan) AccessMode() expr.AccessMode        { return expr.ReadOnly }
func (s *TableScan) Children() []exec.ExecOperator      { return nil }

func (s *TableScan) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(s.Metrics(), emit, func(emit exec.BatchFn) *exec.ControlFlow {
		var batch []value.Value
		flush := func() (bool, *exec.ControlFlow) {
			if len(batch) == 0 {
				return true, nil
			}
			cont, cf := emit(&exec.ValueBatch{Values: batch})
			batch = nil
			return cont, cf
		}

		var cfOut *exec.ControlFlow
		err := s.Tx.StreamValues(ctx, s.Table, s.Bounds, exec.BatchSize, s.Dir, func(kvs []kvstore.KV) bool {
			for _, kv := range kvs {
				v, err := s.Decode(kv.Key, kv.Value)
				if err != nil {
					cfOut = exec.Err(err)
					return false
				}
				batch = append(batch, v)
				if len(batch) >= exec.BatchSize {
					cont, cf := flush()
					if cf != nil {
						cfOut = cf
						return false
					}
					if !cont {
						return false
					}
				}
			}
			return true
		})
		if cfOut != nil {
			return cfOut
		}
		if err != nil {
			return exec.Err(err)
		}
		_, cf := flush()
		return cf
	})
}

// IndexEqualScan scans all rows whose indexed value equals Value.
type IndexEqualScan struct {
	exec.Base
	Tx          kvstore.Transaction
	KVTable     string // index-entry storage table, e.g. dbutils.TableIndexData
	RecordTable string // owning table name, used to build the key prefix
	NsID        dbutils.CatalogID
	DBID        dbutils.CatalogID
	IndexID     dbutils.CatalogID
	Encoded     []byte // pre-encoded indexed value
	Decode      decodeRecordFn
}

func (s *IndexEqualScan) Name() string                      { return "IndexEqualScan" }
func (s *IndexEqualScan) RequiredContext() exec.ContextLevel { return exec.ContextDatabase }
func (s *IndexEqualScan) AccessMode() expr.AccessMode        { return expr.ReadOnly }
func (s *IndexEqualScan) Children() []exec.ExecOperator      { return nil }

func (s *IndexEqualScan) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(s.Metrics(), emit, func(emit exec.BatchFn) *exec.ControlFlow {
		prefix := dbutils.IndexValuePrefix(s.NsID, s.DBID, s.RecordTable, s.IndexID, s.Encoded)
		end := dbutils.PrefixEnd(prefix)
		r := kvstore.KeyRange{Start: prefix, End: end}

		var batch []value.Value
		var cfOut *exec.ControlFlow
		err := s.Tx.StreamValues(ctx, s.KVTable, r, exec.BatchSize, Forward, func(kvs []kvstore.KV) bool {
			for _, kv := range kvs {
				v, err := s.Decode(kv.Key, kv.Value)
				if err != nil {
					cfOut = exec.Err(err)
					return false
				}
				batch = append(batch, v)
			}
			return true
		})
		if cfOut != nil {
			return cfOut
		}
		if err != nil {
			return exec.Err(err)
		}
		if len(batch) == 0 {
			return nil
		}
		_, cf := emit(&exec.ValueBatch{Values: batch})
		return cf
	})
}

// IndexRangeScan scans an ordered index between inclusive/exclusive
// bounds; the spec's "edge-case matches at the boundary are post-filtered"
// is implemented by PostFilter, applied after the raw KV range is pulled.
type IndexRangeScan struct {
	exec.Base
	Tx         kvstore.Transaction
	Table      string
	Bounds     kvstore.KeyRange
	Dir        Direction
	PostFilter func(value.Value) bool
	Decode     decodeRecordFn
}

func (s *IndexRangeScan) Name() string                      { return "IndexRangeScan" }
func (s *IndexRangeScan) RequiredContext() exec.ContextLevel { return exec.ContextDatabase }
func (s *IndexRangeScan) AccessMode() expr.AccessMode        { return expr.ReadOnly }
func (s *IndexRangeScan) Children() []exec.ExecOperator      { return nil }

func (s *IndexRangeScan) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(s.Metrics(), emit, func(emit exec.BatchFn) *exec.ControlFlow {
		var batch []value.Value
		var cfOut *exec.ControlFlow
		err := s.Tx.StreamValues(ctx, s.Table, s.Bounds, exec.BatchSize, s.Dir, func(kvs []kvstore.KV) bool {
			for _, kv := range kvs {
				v, err := s.Decode(kv.Key, kv.Value)
				if err != nil {
					cfOut = exec.Err(err)
					return false
				}
				if s.PostFilter != nil && !s.PostFilter(v) {
					continue
				}
				batch = append(batch, v)
			}
			return true
		})
		if cfOut != nil {
			return cfOut
		}
		if err != nil {
			return exec.Err(err)
		}
		if len(batch) == 0 {
			return nil
		}
		_, cf := emit(&exec.ValueBatch{Values: batch})
		return cf
	})
}

// UniqueEqualScan, UniqueRangeScan and UniqueUnionScan have the same
// semantics as their Index* counterparts over a unique index: at most one
// row per key. Uniqueness itself is a write-time invariant enforced by the
// index maintenance code when a record is upserted, not something these
// read-only scans need to re-check, so they embed the Index* operator and
// only override Name() for EXPLAIN output (spec.md §4.J: "Same semantics
// over unique indexes; scans return at most one row per key").
type UniqueEqualScan struct{ IndexEqualScan }

func (s *UniqueEqualScan) Name() string { return "UniqueEqualScan" }

type UniqueRangeScan struct{ IndexRangeScan }

func (s *UniqueRangeScan) Name() string { return "UniqueRangeScan" }

type UniqueUnionScan struct{ IndexUnionScan }

func (s *UniqueUnionScan) Name() string { return "UniqueUnionScan" }

// IndexUnionScan concatenates multiple equal-scans, deduplicating on
// record-id with an in-memory map keyed by KeyOf, not a bitmap; the map
// holds one entry per distinct record seen (spec.md §4.J).
type IndexUnionScan struct {
	exec.Base
	Scans []exec.ExecOperator
	KeyOf func(value.Value) string // record-id identity used for dedup
}

func (s *IndexUnionScan) Name() string                      { return "IndexUnionScan" }
func (s *IndexUnionScan) RequiredContext() exec.ContextLevel { return exec.ContextDatabase }
func (s *IndexUnionScan) AccessMode() expr.AccessMode        { return expr.ReadOnly }
func (s *IndexUnionScan) Children() []exec.ExecOperator      { return s.Scans }

func (s *IndexUnionScan) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(s.Metrics(), emit, func(emit exec.BatchFn) *exec.ControlFlow {
		seen := make(map[string]struct{})
		for _, child := range s.Scans {
			cf := child.Execute(ctx, func(b *exec.ValueBatch) (bool, *exec.ControlFlow) {
				var out []value.Value
				for _, v := range b.Values {
					k := s.KeyOf(v)
					if _, dup := seen[k]; dup {
						continue
					}
					seen[k] = struct{}{}
					out = append(out, v)
				}
				if len(out) == 0 {
					return true, nil
				}
				return emit(&exec.ValueBatch{Values: out})
			})
			if cf != nil {
				return cf
			}
		}
		return nil
	})
}

// MatchesScan consumes a full-text HitsIterator, emitting (Thing,
// Some(doc_id)) pairs as Value objects with "id", "doc_id" and "score"
// fields (spec.md §4.J/§4.G).
type MatchesScan struct {
	exec.Base
	Index      *fulltext.Index
	Query      string
	ResolveDoc func(fulltext.DocID) (value.Value, error) // doc_id -> Thing
}

func (s *MatchesScan) Name() string                      { return "MatchesScan" }
func (s *MatchesScan) RequiredContext() exec.ContextLevel { return exec.ContextDatabase }
func (s *MatchesScan) AccessMode() expr.AccessMode        { return expr.ReadOnly }
func (s *MatchesScan) Children() []exec.ExecOperator      { return nil }

func (s *MatchesScan) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(s.Metrics(), emit, func(emit exec.BatchFn) *exec.ControlFlow {
		hits, err := s.Index.Search(ctx, s.Query)
		if err != nil {
			return exec.Err(err)
		}
		var batch []value.Value
		for _, h := range hits {
			thing, err := s.ResolveDoc(h.Doc)
			if err != nil {
				return exec.Err(err)
			}
			obj := value.NewOrderedMap()
			obj.Set("id", thing)
			obj.Set("doc_id", value.Num(value.Int(int64(h.Doc))))
			obj.Set("score", value.Num(value.Float(h.Score)))
			batch = append(batch, value.Obj(obj))
			if len(batch) >= exec.BatchSize {
				if _, cf := emit(&exec.ValueBatch{Values: batch}); cf != nil {
					return cf
				}
				batch = nil
			}
		}
		if len(batch) == 0 {
			return nil
		}
		_, cf := emit(&exec.ValueBatch{Values: batch})
		return cf
	})
}

// VectorHit is one ranked result from a vector index.
type VectorHit struct {
	Doc      fulltext.DocID
	Distance float64
}

// VectorIndex is the minimal contract KnnScan needs from a vector index
// implementation. Full MTree/Hnsw index construction is out of scope for
// this core (spec.md's index-types table lists them, but building an ANN
// index is a large subsystem of its own); KnnScan is written against this
// seam so a vector index package can be dropped in without touching the
// exec layer.
type VectorIndex interface {
	KnnSearch(ctx context.Context, query []float64, k int) ([]VectorHit, error)
}

// KnnScan consumes vector-index results, emitting doc-ordered hits
// (spec.md §4.J).
type KnnScan struct {
	exec.Base
	Index      VectorIndex
	Query      []float64
	K          int
	ResolveDoc func(fulltext.DocID) (value.Value, error)
}

func (s *KnnScan) Name() string                      { return "KnnScan" }
func (s *KnnScan) RequiredContext() exec.ContextLevel { return exec.ContextDatabase }
func (s *KnnScan) AccessMode() expr.AccessMode        { return expr.ReadOnly }
func (s *KnnScan) Children() []exec.ExecOperator      { return nil }

func (s *KnnScan) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(s.Metrics(), emit, func(emit exec.BatchFn) *exec.ControlFlow {
		hits, err := s.Index.KnnSearch(ctx, s.Query, s.K)
		if err != nil {
			return exec.Err(err)
		}
		var batch []value.Value
		for _, h := range hits {
			thing, err := s.ResolveDoc(h.Doc)
			if err != nil {
				return exec.Err(err)
			}
			obj := value.NewOrderedMap()
			obj.Set("id", thing)
			obj.Set("distance", value.Num(value.Float(h.Distance)))
			batch = append(batch, value.Obj(obj))
		}
		if len(batch) == 0 {
			return nil
		}
		_, cf := emit(&exec.ValueBatch{Values: batch})
		return cf
	})
}

// ReferenceScan is a nested-loop join: for each input RecordId, scans
// <target, table?, field?> reference keys (spec.md §4.J).
type ReferenceScan struct {
	exec.Base
	Input       exec.ExecOperator
	Tx          kvstore.Transaction
	RefTable    string
	NsID, DBID  dbutils.CatalogID
	RefTableFilter, RefFieldFilter string // "" = wildcard, per dbutils.ReferencePrefix
	FetchRecord func(value.RecordID) (value.Value, error) // nil = RecordId only
	DecodeRef   func(key []byte) (value.RecordID, error)
}

func (s *ReferenceScan) Name() string                      { return "ReferenceScan" }
func (s *ReferenceScan) RequiredContext() exec.ContextLevel { return exec.ContextDatabase }
func (s *ReferenceScan) AccessMode() expr.AccessMode        { return expr.ReadOnly }
func (s *ReferenceScan) Children() []exec.ExecOperator      { return []exec.ExecOperator{s.Input} }

func (s *ReferenceScan) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(s.Metrics(), emit, func(emit exec.BatchFn) *exec.ControlFlow {
		return s.Input.Execute(ctx, func(b *exec.ValueBatch) (bool, *exec.ControlFlow) {
			var out []value.Value
			for _, in := range b.Values {
				if in.Kind != value.KindRecordID {
					continue
				}
				prefix := dbutils.ReferencePrefix(s.NsID, s.DBID, in.Rid.Table, in.Rid.Key, s.RefTableFilter, s.RefFieldFilter)
				end := dbutils.PrefixEnd(prefix)
				r := kvstore.KeyRange{Start: prefix, End: end}
				err := s.Tx.StreamKeys(ctx, s.RefTable, r, exec.BatchSize, Forward, func(keys [][]byte) bool {
					for _, k := range keys {
						rid, err := s.DecodeRef(k)
						if err != nil {
							continue
						}
						if s.FetchRecord != nil {
							rec, err := s.FetchRecord(rid)
							if err != nil {
								continue
							}
							out = append(out, rec)
						} else {
							out = append(out, value.RecordIDVal(rid))
						}
					}
					return true
				})
				if err != nil {
					return false, exec.Err(err)
				}
			}
			if len(out) == 0 {
				return true, nil
			}
			return emit(&exec.ValueBatch{Values: out})
		})
	})
}

// EdgeDirection tags GraphEdgeScan's traversal direction (spec.md §4.J:
// "->", "<-", or "<->").
type EdgeDirection byte

const (
	EdgeOut EdgeDirection = '>'
	EdgeIn  EdgeDirection = '<'
	EdgeBoth EdgeDirection = '*'
)

// GraphEdgeScan scans edge table(s) in a given direction, emitting edge
// records or their opposite endpoints.
type GraphEdgeScan struct {
	exec.Base
	Tx         kvstore.Transaction
	EdgeTable  string
	NsID, DBID dbutils.CatalogID
	Dir        EdgeDirection
	Endpoint   value.RecordID
	EmitEdge   bool // true: emit edge record; false: emit opposite endpoint
	Decode     decodeRecordFn
	// OppositeOf is only used when EmitEdge is false: given the decoded edge
	// record, returns the endpoint on the far side of this scan's Endpoint.
	OppositeOf func(edge value.Value) (value.Value, error)
}

func (s *GraphEdgeScan) Name() string                      { return "GraphEdgeScan" }
func (s *GraphEdgeScan) RequiredContext() exec.ContextLevel { return exec.ContextDatabase }
func (s *GraphEdgeScan) AccessMode() expr.AccessMode        { return expr.ReadOnly }
func (s *GraphEdgeScan) Children() []exec.ExecOperator      { return nil }

func (s *GraphEdgeScan) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(s.Metrics(), emit, func(emit exec.BatchFn) *exec.ControlFlow {
		dirs := []byte{byte(s.Dir)}
		if s.Dir == EdgeBoth {
			dirs = []byte{byte(EdgeOut), byte(EdgeIn)}
		}
		var batch []value.Value
		for _, d := range dirs {
			prefix := dbutils.GraphEdgePrefix(s.NsID, s.DBID, s.EdgeTable, d, s.Endpoint.Key)
			end := dbutils.PrefixEnd(prefix)
			r := kvstore.KeyRange{Start: prefix, End: end}
			err := s.Tx.StreamValues(ctx, s.EdgeTable, r, exec.BatchSize, Forward, func(kvs []kvstore.KV) bool {
				for _, kv := range kvs {
					v, err := s.Decode(kv.Key, kv.Value)
					if err != nil {
						continue
					}
					if !s.EmitEdge {
						v, err = s.OppositeOf(v)
						if err != nil {
							continue
						}
					}
					batch = append(batch, v)
				}
				return true
			})
			if err != nil {
				return exec.Err(err)
			}
		}
		if len(batch) == 0 {
			return nil
		}
		_, cf := emit(&exec.ValueBatch{Values: batch})
		return cf
	})
}
