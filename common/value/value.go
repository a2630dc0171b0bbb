// Package value implements SurrealQL's Value (spec.md §3): a tagged union
// with a total order within a kind and a fixed cross-kind ordinal, following
// the teacher's "tagged sum type + dispatch table" shape (see spec.md §9,
// design note on Deep Inheritance) rather than an interface hierarchy —
// Value's variant set is closed and known at compile time, so a switch on
// Kind is the idiomatic encoding, the same way core/vm/absint_valueset.go's
// AbsValue keys a closed variant set off an enum instead of sub-interfaces.
package value

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the variant tag of a Value. Its ordinal defines cross-kind
// ordering (spec.md §3: "Ordering is ... defined across kinds by a fixed
// variant ordinal").
type Kind uint8

const (
	KindNone Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindBytes
	KindDuration
	KindDatetime
	KindUuid
	KindRegex
	KindArray
	KindObject
	KindRecordID
	KindRange
	KindGeometry
	KindFile
	KindClosure
)

// NumberKind distinguishes the three numeric representations Value.Number
// may hold (spec.md §3: "Number {Int(i64)|Float(f64)|Decimal}").
type NumberKind uint8

const (
	NumberInt NumberKind = iota
	NumberFloat
	NumberDecimal
)

// Decimal is a minimal fixed-point decimal: Unscaled * 10^-Scale. It exists
// so mixed Int/Float/Decimal arithmetic can promote upward (spec.md §3)
// without losing the precision a Float would silently drop.
type Decimal struct {
	Unscaled int64
	Scale    uint8
}

func (d Decimal) Float64() float64 {
	return float64(d.Unscaled) / math.Pow10(int(d.Scale))
}

func (d Decimal) Compare(o Decimal) int {
	af, bf := d.Float64(), o.Float64()
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func (d Decimal) String() string {
	s := fmt.Sprintf("%d", d.Unscaled)
	if d.Scale == 0 {
		return s
	}
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for len(s) <= int(d.Scale) {
		s = "0" + s
	}
	point := len(s) - int(d.Scale)
	out := s[:point] + "." + s[point:]
	if neg {
		out = "-" + out
	}
	return out
}

// Number is the tagged payload of KindNumber.
type Number struct {
	NumKind NumberKind
	Int     int64
	Float   float64
	Dec     Decimal
}

func Int(v int64) Number   { return Number{NumKind: NumberInt, Int: v} }
func Float(v float64) Number { return Number{NumKind: NumberFloat, Float: v} }
func Dec(v Decimal) Number   { return Number{NumKind: NumberDecimal, Dec: v} }

func (n Number) AsFloat() float64 {
	switch n.NumKind {
	case NumberInt:
		return float64(n.Int)
	case NumberDecimal:
		return n.Dec.Float64()
	default:
		return n.Float
	}
}

// rank orders the numeric sub-kinds for promotion: Int < Float < Decimal,
// matching spec.md §3's "Arithmetic promotes Int→Float→Decimal".
func (n NumberKind) rank() int { return int(n) }

// Promote returns the NumberKind two operands should be evaluated in.
func Promote(a, b NumberKind) NumberKind {
	if a.rank() > b.rank() {
		return a
	}
	return b
}

// Compare orders two Numbers. NaN floats compare equal to NaN and sort
// lowest among floats (spec.md §3).
func (n Number) Compare(o Number) int {
	if n.NumKind == NumberFloat || o.NumKind == NumberFloat {
		af, bf := n.AsFloat(), o.AsFloat()
		aNaN, bNaN := math.IsNaN(af), math.IsNaN(bf)
		switch {
		case aNaN && bNaN:
			return 0
		case aNaN:
			return -1
		case bNaN:
			return 1
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	if n.NumKind == NumberDecimal || o.NumKind == NumberDecimal {
		ad := n.toDecimal()
		bd := o.toDecimal()
		return ad.Compare(bd)
	}
	switch {
	case n.Int < o.Int:
		return -1
	case n.Int > o.Int:
		return 1
	default:
		return 0
	}
}

func (n Number) toDecimal() Decimal {
	if n.NumKind == NumberDecimal {
		return n.Dec
	}
	if n.NumKind == NumberInt {
		return Decimal{Unscaled: n.Int, Scale: 0}
	}
	return Decimal{Unscaled: int64(n.Float * 1e6), Scale: 6}
}

func (n Number) String() string {
	switch n.NumKind {
	case NumberInt:
		return fmt.Sprintf("%d", n.Int)
	case NumberDecimal:
		return n.Dec.String() + "dec"
	default:
		if math.IsNaN(n.Float) {
			return "NaN"
		}
		return fmt.Sprintf("%v", n.Float)
	}
}

// GeometryKind tags Value.Geometry's variant.
type GeometryKind uint8

const (
	GeoPoint GeometryKind = iota
	GeoLine
	GeoPolygon
	GeoMultiPoint
	GeoMultiLine
	GeoMultiPolygon
	GeoCollection
)

type Geometry struct {
	GeoKind    GeometryKind
	Coords     [][]float64 // flattened coordinate list; interpretation depends on GeoKind
	Collection []Geometry  // only when GeoKind == GeoCollection
}

// File identifies a bucket-scoped file reference (spec.md §3 File{bucket,key}).
type File struct {
	Bucket string
	Key    string
}

// RecordIDKeyKind tags RecordIDKey's nested variant (spec.md §3).
type RecordIDKeyKind uint8

const (
	RIDNumber RecordIDKeyKind = iota
	RIDString
	RIDUuid
	RIDArray
	RIDObject
	RIDRange
)

// RecordIDKeyRange bounds a range-typed record id key.
type RecordIDKeyRange struct {
	StartInclusive *RecordIDKey
	StartExclusive *RecordIDKey
	EndInclusive   *RecordIDKey
	EndExclusive   *RecordIDKey
}

// RecordIDKey is the nested enum of spec.md §3; the byte encoding in
// common/dbutils preserves lexicographic order across these kinds (numeric
// ids sort before strings, etc — see common/dbutils.EncodeRecordIDKey).
type RecordIDKey struct {
	RIDKind RecordIDKeyKind
	Num     int64
	Str     string
	UUID    uuid.UUID
	Arr     []Value
	Obj     map[string]Value
	Range   *RecordIDKeyRange
}

func (k RecordIDKey) String() string {
	switch k.RIDKind {
	case RIDNumber:
		return fmt.Sprintf("%d", k.Num)
	case RIDString:
		return k.Str
	case RIDUuid:
		return k.UUID.String()
	case RIDArray:
		parts := make([]string, len(k.Arr))
		for i, v := range k.Arr {
			parts[i] = v.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "<key>"
	}
}

// Compare orders RecordIDKeys: numeric ids sort before strings, before
// uuids, before arrays/objects/ranges (spec.md §3, §8 invariant 2).
func (k RecordIDKey) Compare(o RecordIDKey) int {
	if k.RIDKind != o.RIDKind {
		if k.RIDKind < o.RIDKind {
			return -1
		}
		return 1
	}
	switch k.RIDKind {
	case RIDNumber:
		switch {
		case k.Num < o.Num:
			return -1
		case k.Num > o.Num:
			return 1
		default:
			return 0
		}
	case RIDString:
		return strings.Compare(k.Str, o.Str)
	case RIDUuid:
		return bytes.Compare(k.UUID[:], o.UUID[:])
	case RIDArray:
		for i := 0; i < len(k.Arr) && i < len(o.Arr); i++ {
			if c := k.Arr[i].Compare(o.Arr[i]); c != 0 {
				return c
			}
		}
		return len(k.Arr) - len(o.Arr)
	default:
		return 0
	}
}

// RecordID is (table, key) — spec.md Glossary.
type RecordID struct {
	Table string
	Key   RecordIDKey
}

func (r RecordID) String() string { return fmt.Sprintf("%s:%s", r.Table, r.Key.String()) }

func (r RecordID) Compare(o RecordID) int {
	if r.Table != o.Table {
		return strings.Compare(r.Table, o.Table)
	}
	return r.Key.Compare(o.Key)
}

// Range is a generic [start,end) style value-level range (spec.md §3).
type Range struct {
	StartInclusive *Value
	StartExclusive *Value
	EndInclusive   *Value
	EndExclusive   *Value
}

// Closure is an opaque callable value; its body is out of this core's scope
// (owned by the expression/function layer) but the Value variant must exist
// so closures can flow through Array/Object values untouched.
type Closure struct {
	Params []string
	Body   any
}

// Value is the tagged union described in spec.md §3.
type Value struct {
	Kind Kind

	Bool     bool
	Num      Number
	Str      string
	Bytes    []byte
	Duration time.Duration
	Datetime time.Time
	UUID     uuid.UUID
	Regex    string
	Arr      []Value
	Obj      *OrderedMap
	Rid      RecordID
	Rng      *Range
	Geo      Geometry
	FileRef  File
	Clos     *Closure
}

func None() Value           { return Value{Kind: KindNone} }
func Null() Value           { return Value{Kind: KindNull} }
func Bool(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func Num(n Number) Value    { return Value{Kind: KindNumber, Num: n} }
func Str(s string) Value    { return Value{Kind: KindString, Str: s} }
func RecordIDVal(r RecordID) Value { return Value{Kind: KindRecordID, Rid: r} }
func Arr(vs []Value) Value  { return Value{Kind: KindArray, Arr: vs} }
func Obj(m *OrderedMap) Value { return Value{Kind: KindObject, Obj: m} }

func (v Value) IsTruthy() bool {
	switch v.Kind {
	case KindNone, KindNull:
		return false
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num.AsFloat() != 0
	case KindString:
		return v.Str != ""
	case KindArray:
		return len(v.Arr) > 0
	case KindObject:
		return v.Obj != nil && v.Obj.Len() > 0
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNone:
		return "NONE"
	case KindNull:
		return "NULL"
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindNumber:
		return v.Num.String()
	case KindString:
		return v.Str
	case KindRecordID:
		return v.Rid.String()
	case KindArray:
		parts := make([]string, len(v.Arr))
		for i, e := range v.Arr {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindObject:
		if v.Obj == nil {
			return "{}"
		}
		return v.Obj.String()
	default:
		return fmt.Sprintf("<%d>", v.Kind)
	}
}

// Compare gives Value its total order: within a kind by the variant's own
// rule, across kinds by Kind ordinal (spec.md §3, §8 round-trip law).
func (v Value) Compare(o Value) int {
	if v.Kind != o.Kind {
		if v.Kind < o.Kind {
			return -1
		}
		return 1
	}
	switch v.Kind {
	case KindNone, KindNull:
		return 0
	case KindBool:
		if v.Bool == o.Bool {
			return 0
		}
		if !v.Bool {
			return -1
		}
		return 1
	case KindNumber:
		return v.Num.Compare(o.Num)
	case KindString:
		return strings.Compare(v.Str, o.Str)
	case KindBytes:
		return bytes.Compare(v.Bytes, o.Bytes)
	case KindDuration:
		return int(v.Duration - o.Duration)
	case KindDatetime:
		if v.Datetime.Before(o.Datetime) {
			return -1
		}
		if v.Datetime.After(o.Datetime) {
			return 1
		}
		return 0
	case KindUuid:
		return bytes.Compare(v.UUID[:], o.UUID[:])
	case KindRecordID:
		return v.Rid.Compare(o.Rid)
	case KindArray:
		for i := 0; i < len(v.Arr) && i < len(o.Arr); i++ {
			if c := v.Arr[i].Compare(o.Arr[i]); c != 0 {
				return c
			}
		}
		return len(v.Arr) - len(o.Arr)
	case KindObject:
		if v.Obj == nil || o.Obj == nil {
			return 0
		}
		return v.Obj.Compare(o.Obj)
	default:
		return 0
	}
}

// Less sorts a slice of Values by their total order (used by exec/transform
// Sort, which also applies collate/numeric flags on top of this base
// order — spec.md §4.K).
func Less(vs []Value) func(i, j int) bool {
	return func(i, j int) bool { return vs[i].Compare(vs[j]) < 0 }
}
