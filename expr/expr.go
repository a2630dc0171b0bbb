// Package expr implements the physical expression layer of spec.md §4.H:
// literal/param/idiom/binary-op/function-call/subquery/range-literal
// expressions, each evaluating eagerly against an EvalContext, with
// Int->Float arithmetic promotion (Decimal operands are computed as Float)
// and typed coercion failures.
package expr

import (
	"github.com/surrealdb/surreal-core/common/value"
	"github.com/surrealdb/surreal-core/qerror"
)

// AccessMode mirrors spec.md §4.H/§4.I's ReadOnly|ReadWrite access
// classification, shared between expressions and operators.
type AccessMode uint8

const (
	ReadOnly AccessMode = iota
	ReadWrite
)

// Combine implements spec.md §4.I's "access_mode() is combined across
// children (any ReadWrite poisons the tree)".
func Combine(modes ...AccessMode) AccessMode {
	for _, m := range modes {
		if m == ReadWrite {
			return ReadWrite
		}
	}
	return ReadOnly
}

// EvalContext supplies the bindings an expression evaluates against:
// session parameters, the current document (for field-path idioms), and a
// function registry.
type EvalContext struct {
	Params    map[string]value.Value
	Doc       value.Value
	Functions map[string]Function
}

// Function is a callable entry in the function-call expression variant.
type Function func(ctx *EvalContext, args []value.Value) (value.Value, error)

// Expr is the physical-expression interface of spec.md §4.H:
// "evaluate(ctx) -> Value" and "access_mode() -> ReadOnly|ReadWrite".
type Expr interface {
	Evaluate(ctx *EvalContext) (value.Value, error)
	AccessMode() AccessMode
}

// Literal is a constant value.
type Literal struct{ Value value.Value }

func (l Literal) Evaluate(*EvalContext) (value.Value, error) { return l.Value, nil }
func (l Literal) AccessMode() AccessMode                     { return ReadOnly }

// Param references a session/query parameter by name.
type Param struct{ Name string }

func (p Param) Evaluate(ctx *EvalContext) (value.Value, error) {
	if v, ok := ctx.Params[p.Name]; ok {
		return v, nil
	}
	return value.None(), nil
}
func (p Param) AccessMode() AccessMode { return ReadOnly }

// Idiom walks a dotted field path off the current document.
type Idiom struct{ Path []string }

func (id Idiom) Evaluate(ctx *EvalContext) (value.Value, error) {
	cur := ctx.Doc
	for _, part := range id.Path {
		if cur.Kind != value.KindObject {
			return value.None(), nil
		}
		next, ok := cur.Obj.Get(part)
		if !ok {
			return value.None(), nil
		}
		cur = next
	}
	return cur, nil
}
func (id Idiom) AccessMode() AccessMode { return ReadOnly }

// BinaryOp is an operator applied to two sub-expressions. Short-circuiting
// applies only to And/Or/Coalesce per spec.md §4.H.
type BinaryOp struct {
	Op          BinOp
	Left, Right Expr
}

type BinOp uint8

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpCoalesce
)

func (b BinaryOp) AccessMode() AccessMode {
	return Combine(b.Left.AccessMode(), b.Right.AccessMode())
}

func (b BinaryOp) Evaluate(ctx *EvalContext) (value.Value, error) {
	lv, err := b.Left.Evaluate(ctx)
	if err != nil {
		return value.None(), err
	}

	switch b.Op {
	case OpAnd:
		if !lv.IsTruthy() {
			return lv, nil
		}
		return b.Right.Evaluate(ctx)
	case OpOr:
		if lv.IsTruthy() {
			return lv, nil
		}
		return b.Right.Evaluate(ctx)
	case OpCoalesce:
		if lv.Kind != value.KindNone && lv.Kind != value.KindNull {
			return lv, nil
		}
		return b.Right.Evaluate(ctx)
	}

	rv, err := b.Right.Evaluate(ctx)
	if err != nil {
		return value.None(), err
	}

	switch b.Op {
	case OpEq:
		return value.Bool(lv.Compare(rv) == 0), nil
	case OpNeq:
		return value.Bool(lv.Compare(rv) != 0), nil
	case OpLt:
		return value.Bool(lv.Compare(rv) < 0), nil
	case OpLte:
		return value.Bool(lv.Compare(rv) <= 0), nil
	case OpGt:
		return value.Bool(lv.Compare(rv) > 0), nil
	case OpGte:
		return value.Bool(lv.Compare(rv) >= 0), nil
	case OpAdd, OpSub, OpMul, OpDiv:
		return arith(b.Op, lv, rv)
	}
	return value.None(), qerror.New(qerror.KindInternal, "expr: unhandled binary op")
}

// arith applies op to two numbers. Two Ints stay Int; every other pair,
// Decimal operands included, is computed in float64 and returned as a
// Float, so Decimal precision is not kept.
func arith(op BinOp, l, r value.Value) (value.Value, error) {
	if l.Kind != value.KindNumber || r.Kind != value.KindNumber {
		return value.None(), qerror.New(qerror.KindValidation, "expr: arithmetic requires numbers")
	}
	kind := value.Promote(l.Num.NumKind, r.Num.NumKind)
	switch kind {
	case value.NumberInt:
		a, b := l.Num.Int, r.Num.Int
		var res int64
		switch op {
		case OpAdd:
			res = a + b
		case OpSub:
			res = a - b
		case OpMul:
			res = a * b
		case OpDiv:
			if b == 0 {
				return value.None(), qerror.New(qerror.KindValidation, "expr: division by zero")
			}
			res = a / b
		}
		return value.Num(value.Number{NumKind: value.NumberInt, Int: res}), nil
	default:
		a, b := l.Num.AsFloat(), r.Num.AsFloat()
		var res float64
		switch op {
		case OpAdd:
			res = a + b
		case OpSub:
			res = a - b
		case OpMul:
			res = a * b
		case OpDiv:
			if b == 0 {
				return value.None(), qerror.New(qerror.KindValidation, "expr: division by zero")
			}
			res = a / b
		}
		return value.Num(value.Number{NumKind: value.NumberFloat, Float: res}), nil
	}
}

// Call is a function-call expression.
type Call struct {
	Name string
	Args []Expr
	Mode AccessMode // declared by the function's registration, not derived
}

func (c Call) AccessMode() AccessMode {
	modes := []AccessMode{c.Mode}
	for _, a := range c.Args {
		modes = append(modes, a.AccessMode())
	}
	return Combine(modes...)
}

func (c Call) Evaluate(ctx *EvalContext) (value.Value, error) {
	fn, ok := ctx.Functions[c.Name]
	if !ok {
		return value.None(), qerror.New(qerror.KindNotFound, "expr: unknown function "+c.Name)
	}
	args := make([]value.Value, len(c.Args))
	for i, a := range c.Args {
		v, err := a.Evaluate(ctx)
		if err != nil {
			return value.None(), err
		}
		args[i] = v
	}
	return fn(ctx, args)
}

// RangeLiteral evaluates a `a..b` / `a..=b` range expression.
type RangeLiteral struct {
	Start, End             Expr
	StartExclusive         bool
	EndExclusive           bool
}

func (r RangeLiteral) AccessMode() AccessMode {
	return Combine(r.Start.AccessMode(), r.End.AccessMode())
}

func (r RangeLiteral) Evaluate(ctx *EvalContext) (value.Value, error) {
	sv, err := r.Start.Evaluate(ctx)
	if err != nil {
		return value.None(), err
	}
	ev, err := r.End.Evaluate(ctx)
	if err != nil {
		return value.None(), err
	}
	rng := &value.Range{}
	if r.StartExclusive {
		rng.StartExclusive = &sv
	} else {
		rng.StartInclusive = &sv
	}
	if r.EndExclusive {
		rng.EndExclusive = &ev
	} else {
		rng.EndInclusive = &ev
	}
	return value.Value{Kind: value.KindRange, Rng: rng}, nil
}

// Coerce converts v to target kind, failing with a typed error on
// mismatch (spec.md §4.H: "Coercion to a target Kind is a separate
// operation that fails with a typed error on mismatch").
func Coerce(v value.Value, target value.Kind) (value.Value, error) {
	if v.Kind == target {
		return v, nil
	}
	switch target {
	case value.KindNumber:
		if v.Kind == value.KindString {
			// best-effort numeric parse is intentionally out of scope here;
			// callers needing string->number coercion go through a
			// dedicated parser in the query-language layer (non-goal of
			// this package).
		}
	case value.KindString:
		return value.Str(v.String()), nil
	case value.KindBool:
		return value.Bool(v.IsTruthy()), nil
	}
	return value.None(), qerror.New(qerror.KindValidation, "expr: cannot coerce value to target kind")
}
