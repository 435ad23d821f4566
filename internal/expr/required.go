package expr

import (
	"strings"

	"github.com/FamilySearch/pewpew/internal/value"
)

// walkRequired accumulates the set of referenced provider names and the
// special-pseudo-provider bitmask for an expression tree (spec.md §4.A
// "Required-provider tracking").
func walkRequired(n Node, req map[string]bool, special *SpecialMask) {
	switch t := n.(type) {
	case *LiteralNode, *ForEachRefNode:
		if _, ok := n.(*ForEachRefNode); ok {
			*special |= SpecialForEach
		}
	case *PathNode:
		var firstField string
		if len(t.Segments) > 0 {
			firstField = t.Segments[0].Field
		}
		markRoot(t.Root, firstField, req, special)
		for _, seg := range t.Segments {
			if seg.Expr != nil {
				walkRequired(seg.Expr, req, special)
			}
		}
	case *CallNode:
		// json_path(path): spec.md §4.A "Provider name is the first path
		// segment" - a constant path argument names a provider the same way
		// a bare PathNode root does, so it must be tracked the same way.
		if t.Func == "json_path" && len(t.Args) > 0 {
			if name, ok := jsonPathProviderName(t.Args[0]); ok {
				req[name] = true
			}
		}
		for _, a := range t.Args {
			walkRequired(a, req, special)
		}
	case *NotNode:
		walkRequired(t.X, req, special)
	case *BinaryNode:
		walkRequired(t.L, req, special)
		walkRequired(t.R, req, special)
	case *TemplateNode:
		for _, p := range t.Parts {
			if p.Expr != nil {
				walkRequired(p.Expr, req, special)
			}
		}
	}
}

// jsonPathProviderName extracts the provider name from a json_path() call's
// first argument when it's a constant string, mirroring evalJSONPath's own
// "$." stripping and segment splitting so the two agree on what "first path
// segment" means. A non-literal (computed) path can't be resolved statically
// and is simply left untracked, same as any other dynamic provider access.
func jsonPathProviderName(arg Node) (string, bool) {
	lit, ok := arg.(*LiteralNode)
	if !ok || lit.Value.Kind() != value.String {
		return "", false
	}
	path := lit.Value.Str()
	if !strings.HasPrefix(path, "[") {
		path = "$." + path
	}
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")

	segs := splitJSONPathSegments(path)
	if len(segs) == 0 {
		return "", false
	}
	return segs[0], true
}

func markRoot(root, firstField string, req map[string]bool, special *SpecialMask) {
	switch root {
	case "request":
		switch firstField {
		case "start-line":
			*special |= SpecialRequestStartLine
		case "headers":
			*special |= SpecialRequestHeaders
		case "body":
			*special |= SpecialRequestBody
		case "method":
			*special |= SpecialRequestMethod
		case "url":
			*special |= SpecialRequestURL
		default:
			*special |= SpecialRequest
		}
	case "response":
		switch firstField {
		case "status":
			*special |= SpecialResponseStatus
		case "start-line":
			*special |= SpecialResponseStartLine
		case "headers":
			*special |= SpecialResponseHeaders
		case "body":
			*special |= SpecialResponseBody
		default:
			*special |= SpecialResponse
		}
	case "stats":
		*special |= SpecialStats
	case "error":
		*special |= SpecialError
	case "for_each":
		*special |= SpecialForEach
	default:
		req[root] = true
	}
}
