package expr

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/FamilySearch/pewpew/internal/value"
)

// ExtraFunc is the signature of a lib_src-registered extension function
// (spec.md §9 "Global state").
type ExtraFunc func(name string, args []value.Value) (value.Value, error)

// Expr is a compiled, optionally constant-folded expression tree plus the
// metadata gathered while parsing it.
type Expr struct {
	root Node

	// RequiredProviders is the set of named (non-special) providers this
	// expression reads (spec.md §4.A "Required-provider tracking").
	RequiredProviders map[string]bool
	// Special is the OR of every special pseudo-provider referenced
	// anywhere in the expression.
	Special SpecialMask
	// WhereSpecial is the Special mask restricted to references made
	// specifically within a `where` clause, tracked separately so the
	// runner can skip body parsing when where is false and doesn't need it
	// (spec.md §4.A "`where`-specific tracking"). Set by the caller that
	// knows this Expr is a where-expression; zero otherwise.
	WhereSpecial SpecialMask

	extraFns map[string]bool
}

// Compile parses src, constant-folds it, and records its required-provider
// set. extraFns is the lib_src registry of additionally-known function
// names; pass nil when no lib_src is configured.
func Compile(src string, extraFns map[string]bool) (*Expr, error) {
	node, err := ParseWithExtra(src, extraFns)
	if err != nil {
		return nil, err
	}
	return finishCompile(node, extraFns)
}

// CompileTemplate parses a backtick/quoted template string the same way
// ParseTemplate does, then finishes compilation identically to Compile.
func CompileTemplate(raw string, extraFns map[string]bool) (*Expr, error) {
	node, err := ParseTemplate(raw, extraFns)
	if err != nil {
		return nil, err
	}
	return finishCompile(node, extraFns)
}

func finishCompile(node Node, extraFns map[string]bool) (*Expr, error) {
	node, err := foldErr(node)
	if err != nil {
		return nil, err
	}
	req := make(map[string]bool)
	var special SpecialMask
	walkRequired(node, req, &special)
	return &Expr{root: node, RequiredProviders: req, Special: special, extraFns: extraFns}, nil
}

// evaluator carries per-call configuration for the recursive tree walk that
// backs all three evaluation modes (spec.md §9).
type evaluator struct {
	rec     *Record
	extraFn ExtraFunc
	nowFn   func() time.Time
	rndSrc  *rand.Rand
}

func (e *evaluator) clock() time.Time {
	if e.nowFn != nil {
		return e.nowFn()
	}
	return time.Now()
}

func (e *evaluator) rng() *rand.Rand {
	if e.rndSrc != nil {
		return e.rndSrc
	}
	return defaultRand
}

// EvalOptions configures a single Evaluate/EvaluateAsIter call.
type EvalOptions struct {
	ExtraFn ExtraFunc
	Now     func() time.Time
	Rand    *rand.Rand
	// NoRecoverableError makes IndexingIntoJSON errors fold to null instead
	// of propagating (spec.md §4.A "Failure modes").
	NoRecoverableError bool
}

// Evaluate implements the single-value evaluation mode.
func (x *Expr) Evaluate(rec *Record, opts EvalOptions) (value.Value, error) {
	e := &evaluator{rec: rec, extraFn: opts.ExtraFn, nowFn: opts.Now, rndSrc: opts.Rand}
	v, err := e.eval1(x.root)
	if err != nil {
		if _, ok := err.(*IndexingIntoJSONError); ok && opts.NoRecoverableError {
			return value.NewNull(), nil
		}
		return value.NewNull(), err
	}
	return v, nil
}

// EvaluateAsIter implements the multi-value evaluation mode used for
// for_each expansion and push-to-provider (spec.md §4.A).
func (x *Expr) EvaluateAsIter(rec *Record, opts EvalOptions) ([]value.Value, error) {
	e := &evaluator{rec: rec, extraFn: opts.ExtraFn, nowFn: opts.Now, rndSrc: opts.Rand}
	vs, err := e.evalIter(x.root)
	if err != nil {
		if _, ok := err.(*IndexingIntoJSONError); ok && opts.NoRecoverableError {
			return []value.Value{value.NewNull()}, nil
		}
		return nil, err
	}
	return vs, nil
}

// StreamItem couples one evaluated value with the auto-return obligations
// triggered while producing it (spec.md §4.A "into_stream"). In this
// architecture the record's providers are pulled once per endpoint tick
// (spec.md §4.D step 1), so the obligations are exactly the Record's
// AutoReturns snapshot; see DESIGN.md for the rationale.
type StreamItem struct {
	Value       value.Value
	AutoReturns []AutoReturn
}

// IntoStream implements the streaming evaluation mode.
func (x *Expr) IntoStream(rec *Record, opts EvalOptions) ([]StreamItem, error) {
	vs, err := x.EvaluateAsIter(rec, opts)
	if err != nil {
		return nil, err
	}
	items := make([]StreamItem, len(vs))
	for i, v := range vs {
		items[i] = StreamItem{Value: v, AutoReturns: rec.AutoReturns}
	}
	return items, nil
}

func (e *evaluator) eval1(n Node) (value.Value, error) {
	switch t := n.(type) {
	case *LiteralNode:
		return t.Value, nil
	case *PathNode:
		return e.evalPath(t)
	case *ForEachRefNode:
		if int(t.Index) >= len(e.rec.ForEach) {
			return value.NewNull(), nil
		}
		return e.rec.ForEach[t.Index], nil
	case *CallNode:
		vs, err := e.callFunction(t, false)
		if err != nil {
			return value.NewNull(), err
		}
		if len(vs) == 0 {
			return value.NewNull(), nil
		}
		return vs[0], nil
	case *NotNode:
		v, err := e.eval1(t.X)
		if err != nil {
			return value.NewNull(), err
		}
		return value.NewBool(!v.Truthy()), nil
	case *BinaryNode:
		return e.evalBinary(t)
	case *TemplateNode:
		return e.evalTemplate(t)
	}
	return value.NewNull(), nil
}

// evalIter implements evaluate_as_iter: expressions producing logical
// sequences emit multiple values, scalars emit exactly one.
func (e *evaluator) evalIter(n Node) ([]value.Value, error) {
	switch t := n.(type) {
	case *LiteralNode:
		if t.Value.Kind() == value.Array {
			return append([]value.Value(nil), t.Value.Array()...), nil
		}
		return []value.Value{t.Value}, nil
	case *PathNode:
		v, err := e.evalPath(t)
		if err != nil {
			return nil, err
		}
		if v.Kind() == value.Array {
			return append([]value.Value(nil), v.Array()...), nil
		}
		return []value.Value{v}, nil
	case *CallNode:
		switch t.Func {
		case "range", "entries", "repeat", "json_path":
			vs, err := e.callFunction(t, true)
			if err != nil {
				return nil, err
			}
			if t.Func == "repeat" {
				// repeat's single array result IS the sequence.
				if len(vs) == 1 && vs[0].Kind() == value.Array {
					return append([]value.Value(nil), vs[0].Array()...), nil
				}
			}
			return vs, nil
		}
	}
	v, err := e.eval1(n)
	if err != nil {
		return nil, err
	}
	return []value.Value{v}, nil
}

func (e *evaluator) evalPath(p *PathNode) (value.Value, error) {
	cur, ok := e.rec.Lookup(p.Root)
	if !ok {
		return value.NewNull(), &UnknownProviderError{Name: p.Root, Marker: p.Marker()}
	}
	for _, seg := range p.Segments {
		var key value.Value
		switch {
		case seg.Index != nil:
			key = value.NewInt(*seg.Index)
		case seg.Expr != nil:
			v, err := e.eval1(seg.Expr)
			if err != nil {
				return value.NewNull(), err
			}
			key = v
		default:
			key = value.NewString(seg.Field)
		}
		v, ok := cur.Index(key)
		if !ok {
			return value.NewNull(), &IndexingIntoJSONError{Key: key.String()}
		}
		cur = v
	}
	return cur, nil
}

func (e *evaluator) evalBinary(b *BinaryNode) (value.Value, error) {
	switch b.Op {
	case OpOr:
		l, err := e.eval1(b.L)
		if err != nil {
			return value.NewNull(), err
		}
		if l.Truthy() {
			return value.NewBool(true), nil
		}
		r, err := e.eval1(b.R)
		if err != nil {
			return value.NewNull(), err
		}
		return value.NewBool(r.Truthy()), nil
	case OpAnd:
		l, err := e.eval1(b.L)
		if err != nil {
			return value.NewNull(), err
		}
		if !l.Truthy() {
			return value.NewBool(false), nil
		}
		r, err := e.eval1(b.R)
		if err != nil {
			return value.NewNull(), err
		}
		return value.NewBool(r.Truthy()), nil
	}

	l, err := e.eval1(b.L)
	if err != nil {
		return value.NewNull(), err
	}
	r, err := e.eval1(b.R)
	if err != nil {
		return value.NewNull(), err
	}

	switch b.Op {
	case OpEq:
		return value.NewBool(value.Equal(l, r)), nil
	case OpNeq:
		return value.NewBool(!value.Equal(l, r)), nil
	case OpLt, OpLte, OpGt, OpGte:
		ln, rn := l.Numeric(), r.Numeric()
		if isNaN(ln) || isNaN(rn) {
			return value.NewBool(false), nil
		}
		switch b.Op {
		case OpLt:
			return value.NewBool(ln < rn), nil
		case OpLte:
			return value.NewBool(ln <= rn), nil
		case OpGt:
			return value.NewBool(ln > rn), nil
		case OpGte:
			return value.NewBool(ln >= rn), nil
		}
	case OpAdd:
		if l.Kind() == value.String || r.Kind() == value.String {
			return value.NewString(l.String() + r.String()), nil
		}
		if l.Kind() == value.Int && r.Kind() == value.Int {
			return value.NewInt(l.Int() + r.Int()), nil
		}
		return value.NewFloat(l.Numeric() + r.Numeric()), nil
	case OpSub:
		if l.Kind() == value.Int && r.Kind() == value.Int {
			return value.NewInt(l.Int() - r.Int()), nil
		}
		return value.NewFloat(l.Numeric() - r.Numeric()), nil
	case OpMul:
		if l.Kind() == value.Int && r.Kind() == value.Int {
			return value.NewInt(l.Int() * r.Int()), nil
		}
		return value.NewFloat(l.Numeric() * r.Numeric()), nil
	case OpDiv:
		if l.Kind() == value.Int && r.Kind() == value.Int && r.Int() != 0 && l.Int()%r.Int() == 0 {
			return value.NewInt(l.Int() / r.Int()), nil
		}
		return value.NewFloat(l.Numeric() / r.Numeric()), nil
	case OpMod:
		if l.Kind() == value.Int && r.Kind() == value.Int && r.Int() != 0 {
			return value.NewInt(l.Int() % r.Int()), nil
		}
		ln, rn := l.Numeric(), r.Numeric()
		return value.NewFloat(mathMod(ln, rn)), nil
	}
	return value.NewNull(), nil
}

func mathMod(a, b float64) float64 {
	m := a - b*float64(int64(a/b))
	return m
}

func isNaN(f float64) bool { return f != f }

func (e *evaluator) evalTemplate(t *TemplateNode) (value.Value, error) {
	var sb strings.Builder
	for _, part := range t.Parts {
		if part.Expr == nil {
			sb.WriteString(part.Literal)
			continue
		}
		v, err := e.eval1(part.Expr)
		if err != nil {
			return value.NewNull(), err
		}
		sb.WriteString(v.String())
	}
	return value.NewString(sb.String()), nil
}

func (e *evaluator) evalString(n Node) (string, error) {
	v, err := e.eval1(n)
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

// evalJSONPath implements the json_path(path) function: a JSONPath-like
// projection auto-prefixed with "$." unless it already starts with "[",
// whose first path segment names a provider (spec.md §4.A).
func (e *evaluator) evalJSONPath(path string) ([]value.Value, error) {
	if !strings.HasPrefix(path, "[") {
		path = "$." + path
	}
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")

	segs := splitJSONPathSegments(path)
	if len(segs) == 0 {
		return nil, nil
	}
	root, ok := e.rec.Lookup(segs[0])
	if !ok {
		return nil, &UnknownProviderError{Name: segs[0]}
	}
	cur := []value.Value{root}
	for _, seg := range segs[1:] {
		var next []value.Value
		for _, v := range cur {
			next = append(next, applyJSONPathSeg(v, seg)...)
		}
		cur = next
	}
	return cur, nil
}

func splitJSONPathSegments(path string) []string {
	var segs []string
	var cur strings.Builder
	i := 0
	for i < len(path) {
		c := path[i]
		switch c {
		case '.':
			if cur.Len() > 0 {
				segs = append(segs, cur.String())
				cur.Reset()
			}
			i++
		case '[':
			if cur.Len() > 0 {
				segs = append(segs, cur.String())
				cur.Reset()
			}
			j := strings.IndexByte(path[i:], ']')
			if j < 0 {
				segs = append(segs, path[i+1:])
				i = len(path)
				break
			}
			segs = append(segs, path[i+1:i+j])
			i += j + 1
		default:
			cur.WriteByte(c)
			i++
		}
	}
	if cur.Len() > 0 {
		segs = append(segs, cur.String())
	}
	return segs
}

func applyJSONPathSeg(v value.Value, seg string) []value.Value {
	if seg == "*" {
		switch v.Kind() {
		case value.Array:
			return append([]value.Value(nil), v.Array()...)
		case value.Object:
			out := make([]value.Value, 0, v.Object().Len())
			for _, k := range v.Object().Keys() {
				vv, _ := v.Object().Get(k)
				out = append(out, vv)
			}
			return out
		}
		return nil
	}
	seg = strings.Trim(seg, `'"`)
	if n, err := strconv.ParseInt(seg, 10, 64); err == nil {
		vv, ok := v.Index(value.NewInt(n))
		if !ok {
			return nil
		}
		return []value.Value{vv}
	}
	vv, ok := v.Index(value.NewString(seg))
	if !ok {
		return nil
	}
	return []value.Value{vv}
}
