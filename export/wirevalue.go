package export

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/surrealdb/surreal-core/common/value"
)

// wireValue mirrors value.Value with every field JSON-visible, since
// value.OrderedMap keeps its key order in unexported fields that
// encoding/json cannot reach directly. Object fields are carried as an
// ordered slice of wireField pairs instead of a map to preserve that order
// across a round trip (spec.md §8: "export(ds) -> bytes -> import -> ds'
// yields ds = ds'").
//
// Scope: Range, Geometry, File, and Closure values are out of scope for
// this supplemented feature — they are compound/runtime-bound kinds whose
// faithful textual round trip would need machinery (geometry WKT codecs,
// closure capture serialisation) this core's spec does not otherwise
// require. Encoding one of these returns an error rather than silently
// truncating data.
type wireValue struct {
	Kind     uint8        `json:"kind"`
	Bool     bool         `json:"bool,omitempty"`
	NumKind  uint8        `json:"num_kind,omitempty"`
	Int      int64        `json:"int,omitempty"`
	Float    float64      `json:"float,omitempty"`
	DecUnsc  int64        `json:"dec_unscaled,omitempty"`
	DecScale uint8        `json:"dec_scale,omitempty"`
	Str      string       `json:"str,omitempty"`
	Bytes    []byte       `json:"bytes,omitempty"`
	Duration int64        `json:"duration_ns,omitempty"`
	Datetime int64        `json:"datetime_unix_nano,omitempty"`
	UUID     string       `json:"uuid,omitempty"`
	Arr      []wireValue  `json:"arr,omitempty"`
	Obj      []wireField  `json:"obj,omitempty"`
	Rid      *wireRID     `json:"rid,omitempty"`
}

type wireField struct {
	Key   string    `json:"key"`
	Value wireValue `json:"value"`
}

type wireRID struct {
	Table   string `json:"table"`
	KeyKind uint8  `json:"key_kind"`
	Num     int64  `json:"num,omitempty"`
	Str     string `json:"str,omitempty"`
	UUID    string `json:"uuid,omitempty"`
}

func toWire(v value.Value) (wireValue, error) {
	w := wireValue{Kind: uint8(v.Kind)}
	switch v.Kind {
	case value.KindNone, value.KindNull:
	case value.KindBool:
		w.Bool = v.Bool
	case value.KindNumber:
		w.NumKind = uint8(v.Num.NumKind)
		w.Int = v.Num.Int
		w.Float = v.Num.Float
		w.DecUnsc = v.Num.Dec.Unscaled
		w.DecScale = v.Num.Dec.Scale
	case value.KindString, value.KindRegex:
		w.Str = v.Str
	case value.KindBytes:
		w.Bytes = v.Bytes
	case value.KindDuration:
		w.Duration = int64(v.Duration)
	case value.KindDatetime:
		w.Datetime = v.Datetime.UnixNano()
	case value.KindUuid:
		w.UUID = v.UUID.String()
	case value.KindArray:
		w.Arr = make([]wireValue, len(v.Arr))
		for i, e := range v.Arr {
			ew, err := toWire(e)
			if err != nil {
				return wireValue{}, err
			}
			w.Arr[i] = ew
		}
	case value.KindObject:
		if v.Obj != nil {
			var rangeErr error
			v.Obj.Range(func(k string, fv value.Value) bool {
				fw, err := toWire(fv)
				if err != nil {
					rangeErr = err
					return false
				}
				w.Obj = append(w.Obj, wireField{Key: k, Value: fw})
				return true
			})
			if rangeErr != nil {
				return wireValue{}, rangeErr
			}
		}
	case value.KindRecordID:
		rid, err := ridToWire(v.Rid)
		if err != nil {
			return wireValue{}, err
		}
		w.Rid = &rid
	default:
		return wireValue{}, fmt.Errorf("export: unsupported value kind for export: %d", v.Kind)
	}
	return w, nil
}

func ridToWire(r value.RecordID) (wireRID, error) {
	w := wireRID{Table: r.Table, KeyKind: uint8(r.Key.RIDKind)}
	switch r.Key.RIDKind {
	case value.RIDNumber:
		w.Num = r.Key.Num
	case value.RIDString:
		w.Str = r.Key.Str
	case value.RIDUuid:
		w.UUID = r.Key.UUID.String()
	default:
		return wireRID{}, fmt.Errorf("export: unsupported record id key kind for export: %d", r.Key.RIDKind)
	}
	return w, nil
}

func fromWire(w wireValue) (value.Value, error) {
	kind := value.Kind(w.Kind)
	switch kind {
	case value.KindNone:
		return value.None(), nil
	case value.KindNull:
		return value.Null(), nil
	case value.KindBool:
		return value.Bool(w.Bool), nil
	case value.KindNumber:
		n := value.Number{
			NumKind: value.NumberKind(w.NumKind),
			Int:     w.Int,
			Float:   w.Float,
			Dec:     value.Decimal{Unscaled: w.DecUnsc, Scale: w.DecScale},
		}
		return value.Num(n), nil
	case value.KindString:
		return value.Str(w.Str), nil
	case value.KindRegex:
		return value.Value{Kind: value.KindRegex, Str: w.Str}, nil
	case value.KindBytes:
		return value.Value{Kind: value.KindBytes, Bytes: w.Bytes}, nil
	case value.KindDuration:
		return value.Value{Kind: value.KindDuration, Duration: time.Duration(w.Duration)}, nil
	case value.KindDatetime:
		return value.Value{Kind: value.KindDatetime, Datetime: timeFromUnixNano(w.Datetime)}, nil
	case value.KindUuid:
		id, err := uuid.Parse(w.UUID)
		if err != nil {
			return value.Value{}, fmt.Errorf("export: decode uuid: %w", err)
		}
		return value.Value{Kind: value.KindUuid, UUID: id}, nil
	case value.KindArray:
		arr := make([]value.Value, len(w.Arr))
		for i, ew := range w.Arr {
			ev, err := fromWire(ew)
			if err != nil {
				return value.Value{}, err
			}
			arr[i] = ev
		}
		return value.Arr(arr), nil
	case value.KindObject:
		m := value.NewOrderedMap()
		for _, f := range w.Obj {
			fv, err := fromWire(f.Value)
			if err != nil {
				return value.Value{}, err
			}
			m.Set(f.Key, fv)
		}
		return value.Obj(m), nil
	case value.KindRecordID:
		if w.Rid == nil {
			return value.Value{}, fmt.Errorf("export: record id value missing rid payload")
		}
		rid, err := ridFromWire(*w.Rid)
		if err != nil {
			return value.Value{}, err
		}
		return value.RecordIDVal(rid), nil
	default:
		return value.Value{}, fmt.Errorf("export: unsupported value kind for import: %d", w.Kind)
	}
}

func ridFromWire(w wireRID) (value.RecordID, error) {
	key := value.RecordIDKey{RIDKind: value.RecordIDKeyKind(w.KeyKind)}
	switch key.RIDKind {
	case value.RIDNumber:
		key.Num = w.Num
	case value.RIDString:
		key.Str = w.Str
	case value.RIDUuid:
		id, err := uuid.Parse(w.UUID)
		if err != nil {
			return value.RecordID{}, fmt.Errorf("export: decode record id uuid: %w", err)
		}
		key.UUID = id
	default:
		return value.RecordID{}, fmt.Errorf("export: unsupported record id key kind for import: %d", w.KeyKind)
	}
	return value.RecordID{Table: w.Table, Key: key}, nil
}

func timeFromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
