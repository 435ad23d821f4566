package expr

import "github.com/FamilySearch/pewpew/internal/value"

// purefoldFuncs lists functions that are pure enough to constant-fold: given
// literal operands, they always produce the same value regardless of the
// record or wall-clock time. random, epoch, json_path, and collect are
// intentionally excluded (spec.md §4.A "Constant folding"), and repeat is
// folded only in its one-argument form (repeat(min, max) picks a random
// length).
var purefoldFuncs = map[string]bool{
	"encode": true, "entries": true, "if": true, "join": true,
	"match": true, "min": true, "max": true, "start_pad": true,
	"end_pad": true, "range": true, "repeat": true, "replace": true,
}

// fold walks the tree bottom-up, replacing every sub-expression whose
// operands are all literals and whose function/operator is pure with its
// folded literal value (spec.md §4.A "Constant folding"). Any error
// encountered evaluating a foldable call is discarded.
func fold(n Node) Node {
	folded, _ := foldErr(n)
	return folded
}

// foldErr is fold returning the (possibly rewritten) node together with any
// error encountered evaluating a foldable call; finishCompile uses it, and
// this is how configuration-time validation catches type/shape errors on
// static inputs.
func foldErr(n Node) (Node, error) {
	switch t := n.(type) {
	case *LiteralNode:
		return t, nil
	case *ForEachRefNode:
		return t, nil
	case *PathNode:
		for i := range t.Segments {
			if t.Segments[i].Expr != nil {
				folded, err := foldErr(t.Segments[i].Expr)
				if err != nil {
					return nil, err
				}
				t.Segments[i].Expr = folded
			}
		}
		return t, nil
	case *NotNode:
		x, err := foldErr(t.X)
		if err != nil {
			return nil, err
		}
		t.X = x
		if lit, ok := x.(*LiteralNode); ok {
			return &LiteralNode{base: t.base, Value: value.NewBool(!lit.Value.Truthy())}, nil
		}
		return t, nil
	case *BinaryNode:
		l, err := foldErr(t.L)
		if err != nil {
			return nil, err
		}
		r, err := foldErr(t.R)
		if err != nil {
			return nil, err
		}
		t.L, t.R = l, r
		ll, lok := l.(*LiteralNode)
		rl, rok := r.(*LiteralNode)
		if lok && rok {
			ev := &evaluator{rec: NewRecord()}
			v, err := ev.evalBinary(&BinaryNode{base: t.base, Op: t.Op, L: ll, R: rl})
			if err != nil {
				return nil, err
			}
			return literalFromValue(t.base, v), nil
		}
		return t, nil
	case *CallNode:
		allLit := true
		for i, a := range t.Args {
			af, err := foldErr(a)
			if err != nil {
				return nil, err
			}
			t.Args[i] = af
			if _, ok := af.(*LiteralNode); !ok {
				allLit = false
			}
		}
		if allLit && purefoldFuncs[t.Func] && !(t.Func == "repeat" && len(t.Args) == 2) {
			ev := &evaluator{rec: NewRecord()}
			vs, err := ev.callFunction(t, false)
			if err != nil {
				return nil, err
			}
			if len(vs) == 1 {
				return literalFromValue(t.base, vs[0]), nil
			}
		}
		return t, nil
	case *TemplateNode:
		allLit := true
		for i, p := range t.Parts {
			if p.Expr == nil {
				continue
			}
			ef, err := foldErr(p.Expr)
			if err != nil {
				return nil, err
			}
			t.Parts[i].Expr = ef
			if _, ok := ef.(*LiteralNode); !ok {
				allLit = false
			}
		}
		if allLit {
			ev := &evaluator{rec: NewRecord()}
			v, err := ev.evalTemplate(t)
			if err != nil {
				return nil, err
			}
			return literalFromValue(t.base, v), nil
		}
		return t, nil
	}
	return n, nil
}

func literalFromValue(b base, v value.Value) *LiteralNode {
	return &LiteralNode{base: b, Value: v}
}
