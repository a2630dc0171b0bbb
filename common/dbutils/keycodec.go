package dbutils

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/surrealdb/surreal-core/common/value"
)

// CatalogID is the monotone per-parent numeric id of spec.md §3
// ("Each has a numeric Id (monotone per parent)").
type CatalogID uint64

// putUint64 / getUint64 big-endian helpers. Numeric components use
// big-endian throughout this package to preserve lexicographic order
// (spec.md §4.A).
func putUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func getUint64(b []byte) uint64    { return binary.BigEndian.Uint64(b) }

// NamespaceKey encodes /NS/<ns_id> (spec.md §6 key layout).
func NamespaceKey(nsID CatalogID) []byte {
	key := make([]byte, 0, 10)
	key = append(key, nsMark, 'N', 'S', prefixSep)
	idb := make([]byte, 8)
	putUint64(idb, uint64(nsID))
	return append(key, idb...)
}

// DatabaseKey encodes /NS/<ns_id>/DB/<db_id>.
func DatabaseKey(nsID, dbID CatalogID) []byte {
	key := NamespaceKey(nsID)
	key = append(key, nsMark, 'D', 'B', prefixSep)
	idb := make([]byte, 8)
	putUint64(idb, uint64(dbID))
	return append(key, idb...)
}

// TableDefKey encodes …/TB/<tb_name> (the table's catalog definition, as
// opposed to its record rows).
func TableDefKey(nsID, dbID CatalogID, table string) []byte {
	key := DatabaseKey(nsID, dbID)
	key = append(key, nsMark, 'T', 'B', prefixSep)
	return append(key, []byte(table)...)
}

// tablePrefix is the common prefix of every key belonging to `table` within
// (nsID, dbID): …/TB/<tb_name>/
func tablePrefix(nsID, dbID CatalogID, table string) []byte {
	key := TableDefKey(nsID, dbID, table)
	return append(key, prefixSep)
}

// EncodeRecordIDKey produces the order-preserving byte encoding of a
// value.RecordIDKey (spec.md §3, §8 invariant 2: numeric ids sort before
// strings etc.). The RIDKind ordinal is the leading byte so kinds never
// interleave regardless of payload bytes.
func EncodeRecordIDKey(k value.RecordIDKey) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(k.RIDKind))
	switch k.RIDKind {
	case value.RIDNumber:
		var b [8]byte
		// XOR the sign bit so negative int64s sort before positive ones
		// under plain byte-lexicographic comparison.
		u := uint64(k.Num) ^ (1 << 63)
		binary.BigEndian.PutUint64(b[:], u)
		buf.Write(b[:])
	case value.RIDString:
		buf.WriteString(k.Str)
	case value.RIDUuid:
		buf.Write(k.UUID[:])
	case value.RIDArray:
		for _, v := range k.Arr {
			buf.Write(EncodeRecordIDKey(value.RecordIDKey{RIDKind: value.RIDString, Str: v.String()}))
			buf.WriteByte(prefixSep)
		}
	}
	return buf.Bytes()
}

// RecordKey encodes …/TB/<tb_name>/ID/<record_id_key> — a record's row key
// (spec.md §6: "…/TB/<tb_name>/ID/<record_id_key> record value").
func RecordKey(nsID, dbID CatalogID, table string, key value.RecordIDKey) []byte {
	out := tablePrefix(nsID, dbID, table)
	out = append(out, recordMark, prefixSep)
	return append(out, EncodeRecordIDKey(key)...)
}

// RecordRangeBounds returns the [start, end) prefix bounds over every
// record of `table`, used by exec/scan.TableScan (spec.md §4.J).
func RecordRangeBounds(nsID, dbID CatalogID, table string) (start, end []byte) {
	prefix := append(tablePrefix(nsID, dbID, table), recordMark, prefixSep)
	return prefix, PrefixEnd(prefix)
}

// IndexEntryKey encodes …/TB/<tb_name>/IX/<idx_id>/<value>/<record_id>
// (spec.md §6). `encodedValue` must itself be order-preserving — callers
// encode value.Value per its kind so equal/range scans over the index see
// the same order SurrealQL defines on Value.
func IndexEntryKey(nsID, dbID CatalogID, table string, idxID CatalogID, encodedValue []byte, rid value.RecordIDKey) []byte {
	out := tablePrefix(nsID, dbID, table)
	out = append(out, indexMark)
	idb := make([]byte, 8)
	putUint64(idb, uint64(idxID))
	out = append(out, idb...)
	out = append(out, prefixSep)
	out = append(out, encodedValue...)
	out = append(out, prefixSep)
	return append(out, EncodeRecordIDKey(rid)...)
}

// IndexPrefix bounds every entry of a given index (used for full scans of
// an IndexEqualScan/IndexRangeScan's underlying index, spec.md §4.J).
func IndexPrefix(nsID, dbID CatalogID, table string, idxID CatalogID) []byte {
	out := tablePrefix(nsID, dbID, table)
	out = append(out, indexMark)
	idb := make([]byte, 8)
	putUint64(idb, uint64(idxID))
	return append(out, idb...)
}

// IndexValuePrefix bounds the entries for one indexed value (IndexEqualScan).
func IndexValuePrefix(nsID, dbID CatalogID, table string, idxID CatalogID, encodedValue []byte) []byte {
	out := IndexPrefix(nsID, dbID, table, idxID)
	out = append(out, prefixSep)
	return append(out, encodedValue...)
}

// EventDefKey encodes …/TB/<tb_name>/EV/<event_name> (spec.md §6).
func EventDefKey(nsID, dbID CatalogID, table, event string) []byte {
	out := tablePrefix(nsID, dbID, table)
	out = append(out, 'E', 'V', prefixSep)
	return append(out, []byte(event)...)
}

// ReferenceKey encodes …/TB/<tb_name>/FT/<ref_tb>/<ref_fd>/<ref_id> — both
// the target record and the referencing side, so a prefix scan from the
// target yields all references (spec.md §4.A, §4.J ReferenceScan).
func ReferenceKey(nsID, dbID CatalogID, targetTable string, targetKey value.RecordIDKey, refTable, refField string, refKey value.RecordIDKey) []byte {
	out := tablePrefix(nsID, dbID, targetTable)
	out = append(out, refMark, prefixSep)
	out = append(out, EncodeRecordIDKey(targetKey)...)
	out = append(out, prefixSep)
	out = append(out, []byte(refTable)...)
	out = append(out, prefixSep)
	out = append(out, []byte(refField)...)
	out = append(out, prefixSep)
	return append(out, EncodeRecordIDKey(refKey)...)
}

// ReferencePrefix bounds every reference pointed at (targetTable,
// targetKey), optionally further narrowed to (refTable, refField) when
// both are known — used by ReferenceScan to avoid the exponential
// wildcard fan-out flagged in spec.md §9.
func ReferencePrefix(nsID, dbID CatalogID, targetTable string, targetKey value.RecordIDKey, refTable, refField string) []byte {
	out := tablePrefix(nsID, dbID, targetTable)
	out = append(out, refMark, prefixSep)
	out = append(out, EncodeRecordIDKey(targetKey)...)
	out = append(out, prefixSep)
	if refTable == "" {
		return out
	}
	out = append(out, []byte(refTable)...)
	out = append(out, prefixSep)
	if refField == "" {
		return out
	}
	out = append(out, []byte(refField)...)
	out = append(out, prefixSep)
	return out
}

// GraphEdgeKey encodes a graph edge pointer under the edge table's own row
// space: …/TB/<edge_tb>/GE/<dir>/<endpoint_key>/<edge_record_id>.
func GraphEdgeKey(nsID, dbID CatalogID, edgeTable string, dir byte, endpoint value.RecordIDKey, edgeID value.RecordIDKey) []byte {
	out := GraphEdgePrefix(nsID, dbID, edgeTable, dir, endpoint)
	return append(out, EncodeRecordIDKey(edgeID)...)
}

// GraphEdgePrefix bounds every edge pointed at `endpoint` in direction dir,
// without a trailing edge-record-id — used by GraphEdgeScan to build a scan
// range rather than a single entry key.
func GraphEdgePrefix(nsID, dbID CatalogID, edgeTable string, dir byte, endpoint value.RecordIDKey) []byte {
	out := tablePrefix(nsID, dbID, edgeTable)
	out = append(out, edgeMark, dir, prefixSep)
	out = append(out, EncodeRecordIDKey(endpoint)...)
	return append(out, prefixSep)
}

// PrefixEnd returns the exclusive upper bound of every key sharing `prefix`
// — the smallest byte string greater than all such keys (equivalent to
// incrementing the prefix as a big-endian integer). Used throughout
// exec/scan to turn a prefix into a [start, end) Transaction.Scan range.
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != KeySuffixByte {
			end[i]++
			return end[:i+1]
		}
	}
	// prefix is all 0xFF — there is no successor short of appending a byte.
	return append(end, KeySuffixByte)
}

// DecodeRecordIDKeyFromIndexEntry recovers the record-id suffix of an index
// entry key, given the known prefix length up to and including the value
// separator. This is the decode half of EncodeRecordIDKey used when a scan
// needs the matching record id back out of the key bytes (spec.md §8
// invariant 1: decode(encode(k)) = k).
func DecodeRecordIDKeyFromIndexEntry(key []byte, prefixLen int) (value.RecordIDKey, error) {
	if prefixLen >= len(key) {
		return value.RecordIDKey{}, fmt.Errorf("dbutils: prefix length %d exceeds key length %d", prefixLen, len(key))
	}
	suffix := key[prefixLen:]
	return decodeRecordIDKey(suffix)
}

func decodeRecordIDKey(b []byte) (value.RecordIDKey, error) {
	if len(b) == 0 {
		return value.RecordIDKey{}, fmt.Errorf("dbutils: empty record id key")
	}
	kind := value.RecordIDKeyKind(b[0])
	rest := b[1:]
	switch kind {
	case value.RIDNumber:
		if len(rest) < 8 {
			return value.RecordIDKey{}, fmt.Errorf("dbutils: truncated numeric record id key")
		}
		u := binary.BigEndian.Uint64(rest[:8])
		n := int64(u ^ (1 << 63))
		return value.RecordIDKey{RIDKind: value.RIDNumber, Num: n}, nil
	case value.RIDString:
		return value.RecordIDKey{RIDKind: value.RIDString, Str: string(rest)}, nil
	case value.RIDUuid:
		if len(rest) < 16 {
			return value.RecordIDKey{}, fmt.Errorf("dbutils: truncated uuid record id key")
		}
		var u [16]byte
		copy(u[:], rest[:16])
		return value.RecordIDKey{RIDKind: value.RIDUuid, UUID: uuid.UUID(u)}, nil
	default:
		return value.RecordIDKey{}, fmt.Errorf("dbutils: unsupported record id kind %d for decode", kind)
	}
}
