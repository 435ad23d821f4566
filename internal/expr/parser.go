package expr

import (
	"fmt"
	"strings"

	"github.com/FamilySearch/pewpew/internal/value"
)

// arities documents min/max argument counts for the closed function set
// (spec.md §4.A); -1 means unbounded.
var arities = map[string][2]int{
	"collect":    {2, 3},
	"encode":     {2, 2},
	"entries":    {1, 1},
	"epoch":      {1, 1},
	"if":         {3, 3},
	"join":       {2, 3},
	"json_path":  {1, 1},
	"match":      {2, 2},
	"min":        {1, -1},
	"max":        {1, -1},
	"start_pad":  {3, 3},
	"end_pad":    {3, 3},
	"random":     {2, 2},
	"range":      {2, 2},
	"repeat":     {1, 2},
	"replace":    {3, 3},
}

type parser struct {
	src      string
	toks     []token
	pos      int
	extraFns map[string]bool // additional functions registered via lib_src
}

// Parse compiles an expression (not a template) from source text.
func Parse(src string) (Node, error) {
	return ParseWithExtra(src, nil)
}

// ParseWithExtra compiles an expression allowing an additional set of
// function names (from the lib_src extension registry, spec.md §9).
func ParseWithExtra(src string, extraFns map[string]bool) (Node, error) {
	l := newLexer(src)
	toks, err := l.lex()
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks, extraFns: extraFns}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tEOF {
		return nil, p.errf(p.cur().pos, "unexpected trailing input")
	}
	return n, nil
}

// ParseTemplate compiles a template string: a sequence of literal runs
// interleaved with ${...} sub-expressions (spec.md §4.A "Template strings").
// raw is the template text with ${...} markers still present (i.e. it has
// NOT had its surrounding quote characters stripped of escaping beyond what
// the caller already did).
func ParseTemplate(raw string, extraFns map[string]bool) (*TemplateNode, error) {
	var parts []TemplatePart
	i := 0
	lastLiteralStart := 0
	var lit strings.Builder
	flushLit := func() {
		if lit.Len() > 0 {
			parts = append(parts, TemplatePart{Literal: lit.String()})
			lit.Reset()
		}
	}
	for i < len(raw) {
		c := raw[i]
		if c == '\\' && i+1 < len(raw) {
			lit.WriteByte(raw[i+1])
			i += 2
			continue
		}
		if c == '$' && i+1 < len(raw) && raw[i+1] == '{' {
			flushLit()
			depth := 1
			start := i + 2
			j := start
			for j < len(raw) && depth > 0 {
				if raw[j] == '{' {
					depth++
				} else if raw[j] == '}' {
					depth--
					if depth == 0 {
						break
					}
				}
				j++
			}
			if depth != 0 {
				return nil, &InvalidExpressionError{Source: raw, Marker: markerAt(raw, i), Msg: "unterminated ${...} in template"}
			}
			sub := raw[start:j]
			node, err := ParseWithExtra(sub, extraFns)
			if err != nil {
				return nil, err
			}
			parts = append(parts, TemplatePart{Expr: node})
			i = j + 1
			continue
		}
		lit.WriteByte(c)
		i++
	}
	flushLit()
	_ = lastLiteralStart
	return &TemplateNode{Parts: parts}, nil
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) peekAt(n int) token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}
func (p *parser) advance() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *parser) errf(pos int, format string, args ...interface{}) error {
	return &InvalidExpressionError{Source: p.src, Marker: markerAt(p.src, pos), Msg: fmt.Sprintf(format, args...)}
}

// parseExpr implements precedence low->high: || ; && ; == != < <= > >= ; + - ; * / %.
func (p *parser) parseExpr() (Node, error) { return p.parseOr() }

func (p *parser) parseOr() (Node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tOrOr {
		pos := p.advance().pos
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &BinaryNode{base: base{Marker{Pos: pos}}, Op: OpOr, L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (Node, error) {
	l, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tAndAnd {
		pos := p.advance().pos
		r, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		l = &BinaryNode{base: base{Marker{Pos: pos}}, Op: OpAnd, L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseCmp() (Node, error) {
	l, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch p.cur().kind {
		case tEq:
			op = OpEq
		case tNeq:
			op = OpNeq
		case tLt:
			op = OpLt
		case tLte:
			op = OpLte
		case tGt:
			op = OpGt
		case tGte:
			op = OpGte
		default:
			return l, nil
		}
		pos := p.advance().pos
		r, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		l = &BinaryNode{base: base{Marker{Pos: pos}}, Op: op, L: l, R: r}
	}
}

func (p *parser) parseAdd() (Node, error) {
	l, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tPlus || p.cur().kind == tMinus {
		op := OpAdd
		if p.cur().kind == tMinus {
			op = OpSub
		}
		pos := p.advance().pos
		r, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		l = &BinaryNode{base: base{Marker{Pos: pos}}, Op: op, L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseMul() (Node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch p.cur().kind {
		case tStar:
			op = OpMul
		case tSlash:
			op = OpDiv
		case tPercent:
			op = OpMod
		default:
			return l, nil
		}
		pos := p.advance().pos
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = &BinaryNode{base: base{Marker{Pos: pos}}, Op: op, L: l, R: r}
	}
}

func (p *parser) parseUnary() (Node, error) {
	if p.cur().kind == tNot {
		pos := p.advance().pos
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotNode{base: base{Marker{Pos: pos}}, X: x}, nil
	}
	if p.cur().kind == tMinus {
		pos := p.advance().pos
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &BinaryNode{base: base{Marker{Pos: pos}}, Op: OpSub, L: &LiteralNode{Value: value.NewInt(0)}, R: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.cur()
	switch t.kind {
	case tLParen:
		p.advance()
		n, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur().kind != tRParen {
			return nil, p.errf(p.cur().pos, "expected )")
		}
		p.advance()
		return n, nil
	case tNull:
		p.advance()
		return &LiteralNode{base: base{Marker{Pos: t.pos}}, Value: value.NewNull()}, nil
	case tTrue:
		p.advance()
		return &LiteralNode{base: base{Marker{Pos: t.pos}}, Value: value.NewBool(true)}, nil
	case tFalse:
		p.advance()
		return &LiteralNode{base: base{Marker{Pos: t.pos}}, Value: value.NewBool(false)}, nil
	case tNumber:
		p.advance()
		if t.isI {
			return &LiteralNode{base: base{Marker{Pos: t.pos}}, Value: value.NewInt(t.i)}, nil
		}
		return &LiteralNode{base: base{Marker{Pos: t.pos}}, Value: value.NewFloat(t.num)}, nil
	case tString:
		p.advance()
		return &LiteralNode{base: base{Marker{Pos: t.pos}}, Value: value.NewString(t.str)}, nil
	case tTemplate:
		p.advance()
		return ParseTemplate(t.str, p.extraFns)
	case tIdent:
		return p.parseIdentStart()
	}
	return nil, p.errf(t.pos, "unexpected token")
}

func (p *parser) parseIdentStart() (Node, error) {
	t := p.advance()
	name := t.str

	// for_each[i]
	if name == "for_each" && p.cur().kind == tLBracket {
		p.advance()
		idxTok := p.cur()
		if idxTok.kind != tNumber || !idxTok.isI {
			return nil, p.errf(idxTok.pos, "for_each index must be an integer literal")
		}
		p.advance()
		if p.cur().kind != tRBracket {
			return nil, p.errf(p.cur().pos, "expected ]")
		}
		p.advance()
		return p.continuePath(&ForEachRefNode{base: base{Marker{Pos: t.pos}}, Index: idxTok.i})
	}

	if p.cur().kind == tLParen {
		p.advance()
		var args []Node
		if p.cur().kind != tRParen {
			for {
				a, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.cur().kind == tComma {
					p.advance()
					continue
				}
				break
			}
		}
		if p.cur().kind != tRParen {
			return nil, p.errf(p.cur().pos, "expected )")
		}
		p.advance()
		if ar, ok := arities[name]; ok {
			if len(args) < ar[0] || (ar[1] >= 0 && len(args) > ar[1]) {
				return nil, &InvalidFunctionArgumentsError{Func: name, Marker: Marker{Pos: t.pos}, Msg: fmt.Sprintf("got %d arguments", len(args))}
			}
		} else if p.extraFns == nil || !p.extraFns[name] {
			return nil, &UnknownFunctionError{Name: name, Marker: Marker{Pos: t.pos}}
		}
		return &CallNode{base: base{Marker{Pos: t.pos}}, Func: name, Args: args}, nil
	}

	return p.continuePath(&PathNode{base: base{Marker{Pos: t.pos}}, Root: name})
}

// continuePath parses `.ident` and `[expr]` suffixes attached to a path or
// for_each root.
func (p *parser) continuePath(n Node) (Node, error) {
	path, isPath := n.(*PathNode)
	for {
		switch p.cur().kind {
		case tDot:
			p.advance()
			ft := p.cur()
			if ft.kind != tIdent {
				return nil, p.errf(ft.pos, "expected field name after .")
			}
			p.advance()
			seg := PathSegment{Field: ft.str}
			if isPath {
				path.Segments = append(path.Segments, seg)
			} else {
				return nil, p.errf(ft.pos, "field access only valid on a path")
			}
		case tLBracket:
			p.advance()
			var seg PathSegment
			switch p.cur().kind {
			case tNumber:
				tok := p.advance()
				if !tok.isI {
					return nil, p.errf(tok.pos, "array index must be an integer")
				}
				i := tok.i
				seg = PathSegment{Index: &i}
			case tString:
				tok := p.advance()
				seg = PathSegment{Field: tok.str}
			default:
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				seg = PathSegment{Expr: e}
			}
			if p.cur().kind != tRBracket {
				return nil, p.errf(p.cur().pos, "expected ]")
			}
			p.advance()
			if isPath {
				path.Segments = append(path.Segments, seg)
			} else {
				return nil, p.errf(p.cur().pos, "indexing only valid on a path")
			}
		default:
			return n, nil
		}
	}
}
