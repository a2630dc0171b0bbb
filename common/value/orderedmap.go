package value

import "strings"

// OrderedMap is the ordered String→Value map backing Value.Object
// (spec.md §3: "Object<ordered map of String→Value>"). Insertion order is
// preserved for iteration (needed by exec/transform's GROUP BY
// non-aggregate-field passthrough, spec.md §4.K).
type OrderedMap struct {
	keys   []string
	values map[string]Value
}

func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]Value)}
}

func (m *OrderedMap) Set(key string, v Value) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

func (m *OrderedMap) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *OrderedMap) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

func (m *OrderedMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

func (m *OrderedMap) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

// Range iterates in insertion order.
func (m *OrderedMap) Range(f func(key string, v Value) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !f(k, m.values[k]) {
			return
		}
	}
}

func (m *OrderedMap) Clone() *OrderedMap {
	out := NewOrderedMap()
	m.Range(func(k string, v Value) bool {
		out.Set(k, v)
		return true
	})
	return out
}

func (m *OrderedMap) String() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	m.Range(func(k string, v Value) bool {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v.String())
		return true
	})
	b.WriteByte('}')
	return b.String()
}

// Compare orders two objects by key-set size first, then field-by-field in
// the first map's key order (used only to give Value a total order across
// objects; SurrealQL itself rarely compares objects directly).
func (m *OrderedMap) Compare(o *OrderedMap) int {
	if m.Len() != o.Len() {
		return m.Len() - o.Len()
	}
	result := 0
	m.Range(func(k string, v Value) bool {
		ov, ok := o.Get(k)
		if !ok {
			result = 1
			return false
		}
		if c := v.Compare(ov); c != 0 {
			result = c
			return false
		}
		return true
	})
	return result
}
