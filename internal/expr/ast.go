package expr

import "github.com/FamilySearch/pewpew/internal/value"

// Node is an expression AST node. The tree is walked by a single recursive
// evaluator (eval.go) parameterized over evaluation mode, per spec.md §9
// "Expression evaluation... implementers should factor a single recursive
// evaluator parameterised by a sink trait".
type Node interface {
	node()
	Marker() Marker
}

type base struct{ m Marker }

func (base) node()            {}
func (b base) Marker() Marker { return b.m }

// LiteralNode wraps a constant folded/parsed literal value. Composite
// literals (arrays/objects) arise from constant-folding calls like
// range(5,1) -> [5,4,3,2] (spec.md §8).
type LiteralNode struct {
	base
	Value value.Value
}

// PathSegment is one step of a PathNode: a literal field/index or a
// sub-expression used as a computed accessor (`a[x]`, `a["${v:k}"]`).
type PathSegment struct {
	Field string // set when this is a literal .field or [string] step
	Index *int64 // set when this is a literal [n] integer index step
	Expr  Node   // set when this is a computed [expr] step
}

// PathNode is `ident (. ident | [ index ])*`.
type PathNode struct {
	base
	Root     string
	Segments []PathSegment
}

// CallNode is `ident(args...)`.
type CallNode struct {
	base
	Func string
	Args []Node
}

// NotNode is the prefix `!` operator.
type NotNode struct {
	base
	X Node
}

// BinOp enumerates the infix operators, grouped by the precedence tiers in
// spec.md §4.A.
type BinOp int

const (
	OpOr BinOp = iota
	OpAnd
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
)

// BinaryNode is an infix expression.
type BinaryNode struct {
	base
	Op    BinOp
	L, R  Node
}

// TemplateNode is a backtick/quoted template string: literal runs
// interleaved with `${...}` sub-expressions.
type TemplateNode struct {
	base
	Parts []TemplatePart
}

// TemplatePart is either a literal string run or a sub-expression.
type TemplatePart struct {
	Literal string
	Expr    Node // nil when this part is a literal run
}

// ForEachRefNode references the pseudo-provider `for_each[i]`.
type ForEachRefNode struct {
	base
	Index int64
}
