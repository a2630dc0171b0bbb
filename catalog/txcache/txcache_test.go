package txcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListCacheRoundTrip(t *testing.T) {
	c := New(1 << 20)
	_, ok := c.GetList(KindTable, "ns1/db1")
	require.False(t, ok)

	c.PutList(KindTable, "ns1/db1", []any{"t1", "t2"})
	got, ok := c.GetList(KindTable, "ns1/db1")
	require.True(t, ok)
	require.Equal(t, []any{"t1", "t2"}, got)
}

func TestInvalidatePrefixClearsOnlyMatchingParents(t *testing.T) {
	c := New(1 << 20)
	c.PutList(KindTable, "ns1/db1", []any{"t1"})
	c.PutList(KindTable, "ns1/db2", []any{"t2"})
	c.PutList(KindField, "ns1/db1", []any{"f1"})

	c.InvalidatePrefix(KindTable, "ns1/db1")

	_, ok := c.GetList(KindTable, "ns1/db1")
	require.False(t, ok)
	_, ok = c.GetList(KindTable, "ns1/db2")
	require.True(t, ok)
	_, ok = c.GetList(KindField, "ns1/db1")
	require.True(t, ok, "invalidation is scoped to the given EntityKind")
}

func TestHotValueCacheRoundTripAndInvalidate(t *testing.T) {
	c := New(1 << 20)
	key := []byte("ns\x00db\x00tb\x00*1")
	_, ok := c.GetValue(key)
	require.False(t, ok)

	c.PutValue(key, []byte("payload"))
	v, ok := c.GetValue(key)
	require.True(t, ok)
	require.Equal(t, "payload", string(v))

	c.InvalidateValue(key)
	_, ok = c.GetValue(key)
	require.False(t, ok)
}

func TestHotValueCacheCompressesLargeValuesTransparently(t *testing.T) {
	c := New(1 << 20)
	key := []byte("ns\x00db\x00tb\x00*2")
	big := make([]byte, snappyThreshold*4)
	for i := range big {
		big[i] = byte(i % 7)
	}

	c.PutValue(key, big)
	v, ok := c.GetValue(key)
	require.True(t, ok)
	require.Equal(t, big, v)
}

func TestAnySlotParksArbitraryState(t *testing.T) {
	c := New(1 << 20)
	_, ok := c.GetAny("btree-handle:ix1")
	require.False(t, ok)

	type handle struct{ rootID uint64 }
	c.PutAny("btree-handle:ix1", &handle{rootID: 42})

	v, ok := c.GetAny("btree-handle:ix1")
	require.True(t, ok)
	require.Equal(t, uint64(42), v.(*handle).rootID)
}
