package dbutils

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surreal-core/common/value"
)

func TestEncodeRecordIDKeyOrderNumberBeforeString(t *testing.T) {
	numKey := EncodeRecordIDKey(value.RecordIDKey{RIDKind: value.RIDNumber, Num: 1 << 40})
	strKey := EncodeRecordIDKey(value.RecordIDKey{RIDKind: value.RIDString, Str: "a"})
	require.True(t, bytes.Compare(numKey, strKey) < 0, "numeric record ids must sort before string ids")
}

func TestEncodeRecordIDKeyNumericOrderPreserved(t *testing.T) {
	a := EncodeRecordIDKey(value.RecordIDKey{RIDKind: value.RIDNumber, Num: -5})
	b := EncodeRecordIDKey(value.RecordIDKey{RIDKind: value.RIDNumber, Num: 0})
	c := EncodeRecordIDKey(value.RecordIDKey{RIDKind: value.RIDNumber, Num: 5})
	require.True(t, bytes.Compare(a, b) < 0)
	require.True(t, bytes.Compare(b, c) < 0)
}

func TestRecordKeyRoundTrip(t *testing.T) {
	rid := value.RecordIDKey{RIDKind: value.RIDString, Str: "alice"}
	key := RecordKey(1, 1, "user", rid)
	start, end := RecordRangeBounds(1, 1, "user")
	require.True(t, bytes.Compare(start, key) <= 0)
	require.True(t, bytes.Compare(key, end) < 0)

	decoded, err := decodeRecordIDKey(key[len(start):])
	require.NoError(t, err)
	require.Equal(t, rid, decoded)
}

func TestRecordKeyOrderMatchesLogicalOrder(t *testing.T) {
	k1 := RecordKey(1, 1, "user", value.RecordIDKey{RIDKind: value.RIDString, Str: "a"})
	k2 := RecordKey(1, 1, "user", value.RecordIDKey{RIDKind: value.RIDString, Str: "b"})
	require.True(t, bytes.Compare(k1, k2) < 0)
}

func TestPrefixEndIsExclusiveUpperBound(t *testing.T) {
	prefix := []byte{0x01, 0x02}
	end := PrefixEnd(prefix)
	require.True(t, bytes.Compare(prefix, end) < 0)
	require.True(t, bytes.HasPrefix(append(append([]byte{}, prefix...), 0xFF), prefix))
	require.False(t, bytes.HasPrefix(end, prefix))
}

func TestPrefixEndAllFF(t *testing.T) {
	prefix := []byte{0xFF, 0xFF}
	end := PrefixEnd(prefix)
	require.True(t, bytes.Compare(prefix, end) < 0)
}

func TestIndexEntryKeyRoundTripRecordID(t *testing.T) {
	rid := value.RecordIDKey{RIDKind: value.RIDUuid, UUID: uuid.New()}
	key := IndexEntryKey(1, 1, "user", 7, []byte("30"), rid)
	prefix := IndexValuePrefix(1, 1, "user", 7, []byte("30"))
	require.True(t, bytes.HasPrefix(key, prefix))

	got, err := DecodeRecordIDKeyFromIndexEntry(key, len(prefix)+1)
	require.NoError(t, err)
	require.Equal(t, rid, got)
}

func TestReferencePrefixNarrowsWithMoreInfo(t *testing.T) {
	target := value.RecordIDKey{RIDKind: value.RIDString, Str: "alice"}
	wildcard := ReferencePrefix(1, 1, "user", target, "", "")
	narrowed := ReferencePrefix(1, 1, "user", target, "post", "author")
	require.True(t, bytes.HasPrefix(narrowed, wildcard))
	require.True(t, len(narrowed) > len(wildcard))
}
