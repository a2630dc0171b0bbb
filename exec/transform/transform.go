// Package transform implements the transform operators of spec.md §4.K:
// filter, project, sort (with spill-to-temp-and-merge), group/aggregate,
// limit/start, and fetch-join. Every operator is built on the exec package's
// ExecOperator/Base/Monitor framework (§4.I) the same way exec/scan's leaf
// operators are.
package transform

import (
	"sort"
	"strings"
	"time"

	"github.com/surrealdb/surreal-core/common/value"
	"github.com/surrealdb/surreal-core/exec"
	"github.com/surrealdb/surreal-core/expr"
	"github.com/surrealdb/surreal-core/kvstore"
)

// Filter drops rows where Cond evaluates falsy (spec.md §4.K: "drops values
// where condition.evaluate(ctx) → falsy. Short-circuits ControlFlow.").
type Filter struct {
	exec.Base
	Input exec.ExecOperator
	Cond  expr.Expr
}

func (f *Filter) Name() string                      { return "Filter" }
func (f *Filter) RequiredContext() exec.ContextLevel { return f.Input.RequiredContext() }
func (f *Filter) AccessMode() expr.AccessMode        { return f.Input.AccessMode() }
func (f *Filter) Children() []exec.ExecOperator      { return []exec.ExecOperator{f.Input} }

func (f *Filter) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(f.Metrics(), emit, func(emit exec.BatchFn) *exec.ControlFlow {
		return f.Input.Execute(ctx, func(b *exec.ValueBatch) (bool, *exec.ControlFlow) {
			var out []value.Value
			saved := ctx.Eval.Doc
			defer func() { ctx.Eval.Doc = saved }()
			for _, row := range b.Values {
				ctx.Eval.Doc = row
				v, err := f.Cond.Evaluate(ctx.Eval)
				if err != nil {
					if cf, ok := err.(*exec.ControlFlow); ok {
						return false, cf
					}
					return false, exec.Err(err)
				}
				if v.IsTruthy() {
					out = append(out, row)
				}
			}
			if len(out) == 0 {
				return true, nil
			}
			return emit(&exec.ValueBatch{Values: out})
		})
	})
}

// ProjectField is one output column: either a named expression, or Star for
// "*" expansion of every field on the current row (spec.md §4.K).
type ProjectField struct {
	Alias string
	Expr  expr.Expr
	Star  bool
}

// Project applies a field list, including "*" expansion, to each row.
type Project struct {
	exec.Base
	Input  exec.ExecOperator
	Fields []ProjectField
}

func (p *Project) Name() string                      { return "Project" }
func (p *Project) RequiredContext() exec.ContextLevel { return p.Input.RequiredContext() }
func (p *Project) AccessMode() expr.AccessMode        { return p.Input.AccessMode() }
func (p *Project) Children() []exec.ExecOperator      { return []exec.ExecOperator{p.Input} }

func (p *Project) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(p.Metrics(), emit, func(emit exec.BatchFn) *exec.ControlFlow {
		return p.Input.Execute(ctx, func(b *exec.ValueBatch) (bool, *exec.ControlFlow) {
			out := make([]value.Value, 0, len(b.Values))
			saved := ctx.Eval.Doc
			defer func() { ctx.Eval.Doc = saved }()
			for _, row := range b.Values {
				ctx.Eval.Doc = row
				projected := value.NewOrderedMap()
				for _, f := range p.Fields {
					if f.Star {
						if row.Kind == value.KindObject && row.Obj != nil {
							row.Obj.Range(func(k string, v value.Value) bool {
								projected.Set(k, v)
								return true
							})
						}
						continue
					}
					v, err := f.Expr.Evaluate(ctx.Eval)
					if err != nil {
						if cf, ok := err.(*exec.ControlFlow); ok {
							return false, cf
						}
						return false, exec.Err(err)
					}
					projected.Set(f.Alias, v)
				}
				out = append(out, value.Obj(projected))
			}
			return emit(&exec.ValueBatch{Values: out})
		})
	})
}

// SortKey is one ORDER BY clause: the field to compare, direction, and the
// collation flags of spec.md §4.K ("collate" for locale-aware strings,
// "numeric" for natural numeric ordering of numeric-looking strings).
type SortKey struct {
	Field   string
	Desc    bool
	Collate bool
	Numeric bool
}

// RowCodec lets Sort spill rows to temporary KV storage without this core
// inventing a universal Value<->bytes wire format — record (de)serialization
// is a document-model concern above this core, the same boundary exec/scan's
// decodeRecordFn draws.
type RowCodec struct {
	Encode func(value.Value) ([]byte, error)
	Decode func([]byte) (value.Value, error)
}

// Sort buffers rows up to MemLimitBytes; once exceeded it sorts the buffered
// run and spills it to Tx/TempTable, resetting the buffer, then merges every
// spilled run at the end (spec.md §4.K). Tie-break on equal sort keys is
// record-id ascending, via RecordIDOf.
type Sort struct {
	exec.Base
	Input         exec.ExecOperator
	Keys          []SortKey
	MemLimitBytes int64
	Tx            kvstore.Transaction
	TempTable     string
	Codec         RowCodec
	RecordIDOf    func(value.Value) (value.RecordID, bool)

	runSeq uint64
}

func (s *Sort) Name() string                      { return "Sort" }
func (s *Sort) RequiredContext() exec.ContextLevel { return s.Input.RequiredContext() }
func (s *Sort) AccessMode() expr.AccessMode        { return s.Input.AccessMode() }
func (s *Sort) Children() []exec.ExecOperator      { return []exec.ExecOperator{s.Input} }

func fieldOf(row value.Value, field string) (value.Value, bool) {
	if row.Kind != value.KindObject || row.Obj == nil {
		return value.Value{}, false
	}
	return row.Obj.Get(field)
}

// natural compares two strings by natural numeric ordering when both sides
// contain a run of digits at the same position; falls back to a plain
// byte comparison otherwise.
func natural(a, b string) int {
	ai, bi := 0, 0
	for ai < len(a) && bi < len(b) {
		ac, bc := a[ai], b[bi]
		if isDigit(ac) && isDigit(bc) {
			as, bs := ai, bi
			for ai < len(a) && isDigit(a[ai]) {
				ai++
			}
			for bi < len(b) && isDigit(b[bi]) {
				bi++
			}
			an, bn := strings.TrimLeft(a[as:ai], "0"), strings.TrimLeft(b[bs:bi], "0")
			if len(an) != len(bn) {
				if len(an) < len(bn) {
					return -1
				}
				return 1
			}
			if c := strings.Compare(an, bn); c != 0 {
				return c
			}
			continue
		}
		if ac != bc {
			if ac < bc {
				return -1
			}
			return 1
		}
		ai++
		bi++
	}
	return (len(a) - ai) - (len(b) - bi)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (s *Sort) less(a, b value.Value) bool {
	for _, k := range s.Keys {
		av, aok := fieldOf(a, k.Field)
		bv, bok := fieldOf(b, k.Field)
		switch {
		case !aok && !bok:
			continue
		case !aok:
			return k.Desc // missing sorts last ASC, first DESC
		case !bok:
			return !k.Desc
		}
		var c int
		if k.Numeric && av.Kind == value.KindString && bv.Kind == value.KindString {
			c = natural(av.Str, bv.Str)
		} else if k.Collate && av.Kind == value.KindString && bv.Kind == value.KindString {
			c = strings.Compare(strings.ToLower(av.Str), strings.ToLower(bv.Str))
		} else {
			c = av.Compare(bv)
		}
		if c == 0 {
			continue
		}
		if k.Desc {
			return c > 0
		}
		return c < 0
	}
	// full tie: record-id ascending (spec.md §4.K).
	if s.RecordIDOf != nil {
		arid, aok := s.RecordIDOf(a)
		brid, bok := s.RecordIDOf(b)
		if aok && bok {
			return arid.Compare(brid) < 0
		}
	}
	return false
}

func approxSize(v value.Value) int64 {
	switch v.Kind {
	case value.KindString:
		return int64(len(v.Str)) + 16
	case value.KindBytes:
		return int64(len(v.Bytes)) + 16
	case value.KindObject:
		n := int64(16)
		if v.Obj != nil {
			v.Obj.Range(func(k string, vv value.Value) bool {
				n += int64(len(k)) + approxSize(vv)
				return true
			})
		}
		return n
	case value.KindArray:
		n := int64(16)
		for _, e := range v.Arr {
			n += approxSize(e)
		}
		return n
	default:
		return 32
	}
}

func (s *Sort) tempRunPrefix(run uint64) []byte {
	b := make([]byte, 9)
	b[0] = 'r'
	for i := 0; i < 8; i++ {
		b[1+i] = byte(run >> uint(56-8*i))
	}
	return b
}

func (s *Sort) spillRun(ctx *exec.ExecutionContext, rows []value.Value) error {
	run := s.runSeq
	s.runSeq++
	prefix := s.tempRunPrefix(run)
	for seq, row := range rows {
		enc, err := s.Codec.Encode(row)
		if err != nil {
			return err
		}
		key := append(append([]byte(nil), prefix...), encodeSeq(uint64(seq))...)
		if err := s.Tx.Set(ctx, s.TempTable, key, enc); err != nil {
			return err
		}
	}
	return nil
}

func encodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(seq >> uint(56-8*i))
	}
	return b
}

func (s *Sort) loadRun(ctx *exec.ExecutionContext, run uint64) ([]value.Value, error) {
	prefix := s.tempRunPrefix(run)
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			end = end[:i+1]
			break
		}
	}
	kvs, err := s.Tx.Scan(ctx, s.TempTable, kvstore.KeyRange{Start: prefix, End: end}, -1, kvstore.Forward)
	if err != nil {
		return nil, err
	}
	out := make([]value.Value, 0, len(kvs))
	for _, kv := range kvs {
		v, err := s.Codec.Decode(kv.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Sort) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(s.Metrics(), emit, func(emit exec.BatchFn) *exec.ControlFlow {
		var buf []value.Value
		var bufBytes int64
		spilled := false

		cf := s.Input.Execute(ctx, func(b *exec.ValueBatch) (bool, *exec.ControlFlow) {
			for _, row := range b.Values {
				buf = append(buf, row)
				bufBytes += approxSize(row)
			}
			if s.MemLimitBytes > 0 && bufBytes > s.MemLimitBytes {
				sort.SliceStable(buf, func(i, j int) bool { return s.less(buf[i], buf[j]) })
				if err := s.spillRun(ctx, buf); err != nil {
					return false, exec.Err(err)
				}
				spilled = true
				buf = nil
				bufBytes = 0
			}
			return true, nil
		})
		if cf != nil {
			return cf
		}

		if !spilled {
			sort.SliceStable(buf, func(i, j int) bool { return s.less(buf[i], buf[j]) })
			if len(buf) == 0 {
				return nil
			}
			_, cf := emit(&exec.ValueBatch{Values: buf})
			return cf
		}

		if len(buf) > 0 {
			sort.SliceStable(buf, func(i, j int) bool { return s.less(buf[i], buf[j]) })
			if err := s.spillRun(ctx, buf); err != nil {
				return exec.Err(err)
			}
		}

		// k-way merge: each spilled run is already internally sorted, so a
		// straightforward repeated-pick-smallest merge over the loaded runs
		// produces the fully sorted output. Peak memory during the merge is
		// bounded by (number of runs * MemLimitBytes), not by the total row
		// count, since every run was capped at spill time.
		runs := make([][]value.Value, s.runSeq)
		idx := make([]int, s.runSeq)
		for r := uint64(0); r < s.runSeq; r++ {
			rows, err := s.loadRun(ctx, r)
			if err != nil {
				return exec.Err(err)
			}
			runs[r] = rows
		}
		var out []value.Value
		for {
			best := -1
			for r := range runs {
				if idx[r] >= len(runs[r]) {
					continue
				}
				if best == -1 || s.less(runs[r][idx[r]], runs[best][idx[best]]) {
					best = r
				}
			}
			if best == -1 {
				break
			}
			out = append(out, runs[best][idx[best]])
			idx[best]++
			if len(out) >= exec.BatchSize {
				if _, cf := emit(&exec.ValueBatch{Values: out}); cf != nil {
					return cf
				}
				out = nil
			}
		}
		if len(out) == 0 {
			return nil
		}
		_, cf2 := emit(&exec.ValueBatch{Values: out})
		return cf2
	})
}

// Limit/Start perform positional slicing after sort (spec.md §4.K):
// skipping Start rows, then passing through at most Limit more (Limit < 0
// means unlimited).
type LimitStart struct {
	exec.Base
	Input exec.ExecOperator
	Start int
	Limit int

	seen  int
	taken int
}

func (l *LimitStart) Name() string                      { return "LimitStart" }
func (l *LimitStart) RequiredContext() exec.ContextLevel { return l.Input.RequiredContext() }
func (l *LimitStart) AccessMode() expr.AccessMode        { return l.Input.AccessMode() }
func (l *LimitStart) Children() []exec.ExecOperator      { return []exec.ExecOperator{l.Input} }

func (l *LimitStart) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(l.Metrics(), emit, func(emit exec.BatchFn) *exec.ControlFlow {
		l.seen, l.taken = 0, 0
		return l.Input.Execute(ctx, func(b *exec.ValueBatch) (bool, *exec.ControlFlow) {
			var out []value.Value
			for _, row := range b.Values {
				if l.seen < l.Start {
					l.seen++
					continue
				}
				if l.Limit >= 0 && l.taken >= l.Limit {
					return false, nil
				}
				out = append(out, row)
				l.taken++
			}
			if len(out) == 0 {
				if l.Limit >= 0 && l.taken >= l.Limit {
					return false, nil
				}
				return true, nil
			}
			return emit(&exec.ValueBatch{Values: out})
		})
	})
}

// Fetch resolves RecordId-valued fields into their full records by calling
// Resolve once per field per row; gets are not batched. A field whose
// Resolve fails keeps its RecordId value (spec.md §4.K).
type Fetch struct {
	exec.Base
	Input   exec.ExecOperator
	Fields  []string
	Resolve func(value.RecordID) (value.Value, error)
}

func (f *Fetch) Name() string                      { return "Fetch" }
func (f *Fetch) RequiredContext() exec.ContextLevel { return f.Input.RequiredContext() }
func (f *Fetch) AccessMode() expr.AccessMode        { return f.Input.AccessMode() }
func (f *Fetch) Children() []exec.ExecOperator      { return []exec.ExecOperator{f.Input} }

func (f *Fetch) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(f.Metrics(), emit, func(emit exec.BatchFn) *exec.ControlFlow {
		return f.Input.Execute(ctx, func(b *exec.ValueBatch) (bool, *exec.ControlFlow) {
			for i, row := range b.Values {
				if row.Kind != value.KindObject || row.Obj == nil {
					continue
				}
				for _, field := range f.Fields {
					v, ok := row.Obj.Get(field)
					if !ok || v.Kind != value.KindRecordID {
						continue
					}
					resolved, err := f.Resolve(v.Rid)
					if err != nil {
						continue
					}
					row.Obj.Set(field, resolved)
				}
				b.Values[i] = row
			}
			return emit(b)
		})
	})
}

// AggFunc is a GROUP BY aggregate function (spec.md §4.K).
type AggFunc uint8

const (
	AggCount AggFunc = iota
	AggSum
	AggMean
	AggMin
	AggMax
	AggTimeMin
	AggTimeMax
	AggArray
	AggFirst
)

// AggSpec is one output column of a Group operator: apply Func to
// ValueExpr's result across every row in the group, output under Alias.
type AggSpec struct {
	Alias     string
	Func      AggFunc
	ValueExpr expr.Expr
}

// Aggregator accumulates one AggSpec's running state with per-function
// optimised storage rather than a generic "collect everything, reduce at
// the end" list (spec.md §4.K).
type Aggregator struct {
	count     int64
	sum       value.Number
	haveSum   bool
	min, max  value.Value
	haveMM    bool
	timeMin   time.Time
	timeMax   time.Time
	haveTime  bool
	arr       []value.Value
	first     value.Value
	haveFirst bool
}

func (a *Aggregator) accumulate(fn AggFunc, v value.Value) {
	switch fn {
	case AggCount:
		a.count++
	case AggSum, AggMean:
		if !a.haveSum {
			a.sum = v.Num
			a.haveSum = true
		} else {
			a.sum = sumNumbers(a.sum, v.Num)
		}
		a.count++
	case AggMin:
		if !a.haveMM || v.Compare(a.min) < 0 {
			a.min = v
			a.haveMM = true
		}
	case AggMax:
		if !a.haveMM || v.Compare(a.max) > 0 {
			a.max = v
			a.haveMM = true
		}
	case AggTimeMin:
		if v.Kind == value.KindDatetime && (!a.haveTime || v.Datetime.Before(a.timeMin)) {
			a.timeMin = v.Datetime
			a.haveTime = true
		}
	case AggTimeMax:
		if v.Kind == value.KindDatetime && (!a.haveTime || v.Datetime.After(a.timeMax)) {
			a.timeMax = v.Datetime
			a.haveTime = true
		}
	case AggArray:
		a.arr = append(a.arr, v)
	case AggFirst:
		if !a.haveFirst {
			a.first = v
			a.haveFirst = true
		}
	}
}

func sumNumbers(a, b value.Number) value.Number {
	kind := value.Promote(a.NumKind, b.NumKind)
	if kind == value.NumberInt {
		return value.Int(a.Int + b.Int)
	}
	return value.Float(a.AsFloat() + b.AsFloat())
}

func (a *Aggregator) final(fn AggFunc) value.Value {
	switch fn {
	case AggCount:
		return value.Num(value.Int(a.count))
	case AggSum:
		if !a.haveSum {
			return value.Num(value.Int(0))
		}
		return value.Num(a.sum)
	case AggMean:
		if !a.haveSum || a.count == 0 {
			return value.None()
		}
		return value.Num(value.Float(a.sum.AsFloat() / float64(a.count)))
	case AggMin:
		if !a.haveMM {
			return value.None()
		}
		return a.min
	case AggMax:
		if !a.haveMM {
			return value.None()
		}
		return a.max
	case AggTimeMin:
		if !a.haveTime {
			return value.None()
		}
		return value.Value{Kind: value.KindDatetime, Datetime: a.timeMin}
	case AggTimeMax:
		if !a.haveTime {
			return value.None()
		}
		return value.Value{Kind: value.KindDatetime, Datetime: a.timeMax}
	case AggArray:
		return value.Arr(a.arr)
	case AggFirst:
		if !a.haveFirst {
			return value.None()
		}
		return a.first
	default:
		return value.None()
	}
}

// Group implements GROUP BY / GROUP ALL (spec.md §4.K): a hash table keyed
// by the group-by tuple, each slot an Aggregator per AggSpec. GroupAll
// collapses every row into a single group.
type Group struct {
	exec.Base
	Input    exec.ExecOperator
	GroupBy  []string // field names; empty + GroupAll means GROUP ALL
	GroupAll bool
	Aggs     []AggSpec
}

func (g *Group) Name() string                      { return "Group" }
func (g *Group) RequiredContext() exec.ContextLevel { return g.Input.RequiredContext() }
func (g *Group) AccessMode() expr.AccessMode        { return g.Input.AccessMode() }
func (g *Group) Children() []exec.ExecOperator      { return []exec.ExecOperator{g.Input} }

func (g *Group) groupKeyString(row value.Value) string {
	if g.GroupAll {
		return ""
	}
	var b strings.Builder
	for _, f := range g.GroupBy {
		v, _ := fieldOf(row, f)
		b.WriteString(v.String())
		b.WriteByte(0)
	}
	return b.String()
}

type groupEntry struct {
	keyVals []value.Value
	aggs    []*Aggregator
}

func (g *Group) Execute(ctx *exec.ExecutionContext, emit exec.BatchFn) *exec.ControlFlow {
	return exec.Monitor(g.Metrics(), emit, func(emit exec.BatchFn) *exec.ControlFlow {
		groups := make(map[string]*groupEntry)
		var order []string

		saved := ctx.Eval.Doc
		defer func() { ctx.Eval.Doc = saved }()

		cf := g.Input.Execute(ctx, func(b *exec.ValueBatch) (bool, *exec.ControlFlow) {
			for _, row := range b.Values {
				k := g.groupKeyString(row)
				e, ok := groups[k]
				if !ok {
					keyVals := make([]value.Value, len(g.GroupBy))
					for i, f := range g.GroupBy {
						v, _ := fieldOf(row, f)
						keyVals[i] = v
					}
					aggs := make([]*Aggregator, len(g.Aggs))
					for i := range aggs {
						aggs[i] = &Aggregator{}
					}
					e = &groupEntry{keyVals: keyVals, aggs: aggs}
					groups[k] = e
					order = append(order, k)
				}
				ctx.Eval.Doc = row
				for i, spec := range g.Aggs {
					v, err := spec.ValueExpr.Evaluate(ctx.Eval)
					if err != nil {
						continue
					}
					e.aggs[i].accumulate(spec.Func, v)
				}
			}
			return true, nil
		})
		if cf != nil {
			return cf
		}

		var out []value.Value
		for _, k := range order {
			e := groups[k]
			obj := value.NewOrderedMap()
			for i, f := range g.GroupBy {
				obj.Set(f, e.keyVals[i])
			}
			for i, spec := range g.Aggs {
				obj.Set(spec.Alias, e.aggs[i].final(spec.Func))
			}
			out = append(out, value.Obj(obj))
		}
		if len(out) == 0 {
			return nil
		}
		_, cfOut := emit(&exec.ValueBatch{Values: out})
		return cfOut
	})
}
