package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surreal-core/catalog"
	"github.com/surrealdb/surreal-core/common/value"
)

func person(name string, age int64) value.Value {
	m := value.NewOrderedMap()
	m.Set("name", value.Str(name))
	m.Set("age", value.Num(value.Int(age)))
	return value.Obj(m)
}

func TestExportImportRoundTripsRecordsInOrder(t *testing.T) {
	records := []Record{
		{
			Delta: catalog.Delta{Table: "person", Kind: catalog.ChangeCreate, RecordKey: []byte("p1"), CommittedAt: time.Unix(100, 0).UTC()},
			Value: person("ash", 30),
		},
		{
			Delta: catalog.Delta{Table: "person", Kind: catalog.ChangeUpdate, RecordKey: []byte("p1"), CommittedAt: time.Unix(200, 0).UTC()},
			Value: person("ash", 31),
		},
		{
			Delta: catalog.Delta{Table: "person", Kind: catalog.ChangeDelete, RecordKey: []byte("p1"), CommittedAt: time.Unix(300, 0).UTC()},
			Value: value.None(),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, records, Config{}))

	var got []Record
	require.NoError(t, Import(&buf, func(r Record) error {
		got = append(got, r)
		return nil
	}))

	require.Len(t, got, 3)
	require.Equal(t, catalog.ChangeCreate, got[0].Delta.Kind)
	require.Equal(t, catalog.ChangeUpdate, got[1].Delta.Kind)
	require.Equal(t, catalog.ChangeDelete, got[2].Delta.Kind)
	require.True(t, got[0].Delta.CommittedAt.Equal(time.Unix(100, 0).UTC()))

	name, _ := got[0].Value.Obj.Get("name")
	require.Equal(t, "ash", name.Str)
	age, _ := got[1].Value.Obj.Get("age")
	require.Equal(t, int64(31), age.Num.Int)
	require.Equal(t, []string{"name", "age"}, got[0].Value.Obj.Keys())
}

func TestExportIncludesHumanReadableComment(t *testing.T) {
	records := []Record{{Delta: catalog.Delta{Table: "person", Kind: catalog.ChangeCreate}, Value: value.None()}}
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, records, Config{}))
	require.Contains(t, buf.String(), "-- CREATE person")
}

func TestRoundTripsRecordIDAndArrayValues(t *testing.T) {
	rid := value.RecordID{Table: "person", Key: value.RecordIDKey{RIDKind: value.RIDString, Str: "ash"}}
	v := value.Arr([]value.Value{value.RecordIDVal(rid), value.Num(value.Int(1)), value.Bool(true)})
	records := []Record{{Delta: catalog.Delta{Table: "person", Kind: catalog.ChangeCreate}, Value: v}}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, records, Config{}))

	var got Record
	require.NoError(t, Import(&buf, func(r Record) error {
		got = r
		return nil
	}))
	require.Equal(t, "person", got.Value.Arr[0].Rid.Table)
	require.Equal(t, "ash", got.Value.Arr[0].Rid.Key.Str)
	require.Equal(t, int64(1), got.Value.Arr[1].Num.Int)
	require.True(t, got.Value.Arr[2].Bool)
}

func TestImportSkipsCommentLinesAndIgnoresBlankLines(t *testing.T) {
	input := "-- not a real statement\n\n"
	var calls int
	require.NoError(t, Import(bytes.NewBufferString(input), func(Record) error {
		calls++
		return nil
	}))
	require.Equal(t, 0, calls)
}

func TestExportRejectsUnsupportedValueKind(t *testing.T) {
	records := []Record{{Delta: catalog.Delta{Table: "person"}, Value: value.Value{Kind: value.KindGeometry}}}
	var buf bytes.Buffer
	require.Error(t, Export(&buf, records, Config{}))
}
