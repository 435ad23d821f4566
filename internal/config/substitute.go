package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// findSubst locates the next `${...}` span at or after from, tracking brace
// depth so a nested `{`/`}` inside the expression (an object literal, or a
// backtick template's own `${...}`) doesn't terminate the match early.
func findSubst(s string, from int) (start, end int, ok bool) {
	idx := strings.Index(s[from:], "${")
	if idx < 0 {
		return 0, 0, false
	}
	start = from + idx
	depth := 1
	i := start + 2
	for i < len(s) {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1, true
			}
		}
		i++
	}
	return 0, 0, false
}

// substKind splits a `${...}` span's body into its one-letter prefix
// (spec.md §6 "Variable substitution syntax": v, e, p, x) and the remainder.
// ok is false when body carries no recognized prefix (e.g. it is already a
// bare expression left behind by an earlier substitution pass).
func substKind(body string) (kind, inner string, ok bool) {
	if len(body) < 2 || body[1] != ':' {
		return "", "", false
	}
	switch body[0] {
	case 'v', 'e', 'p', 'x':
		return string(body[0]), body[2:], true
	}
	return "", "", false
}

// replaceFunc decides the replacement text for one `${kind:inner}` span.
// handled=false leaves the span untouched (e.g. a prefix this pass doesn't
// own yet).
type replaceFunc func(kind, inner string) (replacement string, handled bool, err error)

func substituteString(s string, f replaceFunc) (string, error) {
	var sb strings.Builder
	pos := 0
	for {
		start, end, ok := findSubst(s, pos)
		if !ok {
			sb.WriteString(s[pos:])
			return sb.String(), nil
		}
		sb.WriteString(s[pos:start])
		body := s[start+2 : end-1]
		kind, inner, recognized := substKind(body)
		if !recognized {
			sb.WriteString(s[start:end])
			pos = end
			continue
		}
		repl, handled, err := f(kind, inner)
		if err != nil {
			return "", err
		}
		if !handled {
			sb.WriteString(s[start:end])
		} else {
			sb.WriteString(repl)
		}
		pos = end
	}
}

// substituteTree walks a generic YAML-decoded value (map[string]interface{},
// []interface{}, or scalar), applying substituteString to every string leaf.
func substituteTree(x interface{}, f replaceFunc) (interface{}, error) {
	switch t := x.(type) {
	case string:
		return substituteString(t, f)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, v := range t {
			nv, err := substituteTree(v, f)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, v := range t {
			nv, err := substituteTree(v, f)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return x, nil
	}
}

// substituteEnv resolves "${e:NAME}" and the "${e:NAME:-default}" shorthand
// (spec.md §4.E step 2: "fail if any referenced env var is missing and no
// default is supplied" implies some default syntax exists; this port uses
// the common shell-style `:-` separator since the spec does not pin one
// down literally).
func substituteEnv(inner string) (string, error) {
	name := inner
	def := ""
	hasDefault := false
	if i := strings.Index(inner, ":-"); i >= 0 {
		name = inner[:i]
		def = inner[i+2:]
		hasDefault = true
	}
	if v, ok := os.LookupEnv(name); ok {
		return v, nil
	}
	if hasDefault {
		return def, nil
	}
	return "", fmt.Errorf("environment variable %q is not set and no default was supplied", name)
}

// genericLookup dot-walks path into a generic decoded tree (map/slice
// nesting), backing "${v:path.to.var}" resolution.
func genericLookup(path string, root interface{}) (interface{}, bool) {
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch t := cur.(type) {
		case map[string]interface{}:
			v, ok := t[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil, false
			}
			cur = t[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// stringifyGeneric renders a resolved static var for splicing back into a
// template string: scalars directly, composites as JSON (mirroring
// value.Value.String's template-interpolation rule).
func stringifyGeneric(x interface{}) string {
	switch t := x.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// firstPathSegment returns the leading dotted-path segment of a "${v:...}"
// reference, which names the top-level static var it depends on.
func firstPathSegment(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

// resolveVars substitutes "${e:...}" then "${v:...}" within the vars
// section itself, in dependency order, rejecting cycles (spec.md §4.E steps
// 2-3: "static vars may reference other static vars but cycles are
// rejected").
func resolveVars(varsRaw map[string]interface{}) (map[string]interface{}, error) {
	if varsRaw == nil {
		return map[string]interface{}{}, nil
	}

	envDone, err := substituteTree(varsRaw, func(kind, inner string) (string, bool, error) {
		if kind != "e" {
			return "", false, nil
		}
		v, err := substituteEnv(inner)
		return v, true, err
	})
	if err != nil {
		return nil, err
	}
	varsMap := envDone.(map[string]interface{})

	resolved := map[string]interface{}{}
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(varsMap))

	var resolveOne func(name string) error
	resolveOne = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("cycle detected resolving static var %q", name)
		}
		val, ok := varsMap[name]
		if !ok {
			return fmt.Errorf("unknown static var %q", name)
		}
		state[name] = visiting
		substituted, err := substituteTree(val, func(kind, inner string) (string, bool, error) {
			if kind != "v" {
				return "", false, nil
			}
			ref := firstPathSegment(inner)
			if err := resolveOne(ref); err != nil {
				return "", false, err
			}
			v, ok := genericLookup(inner, resolved)
			if !ok {
				return "", false, fmt.Errorf("static var reference %q not found", inner)
			}
			return stringifyGeneric(v), true, nil
		})
		if err != nil {
			return err
		}
		resolved[name] = substituted
		state[name] = done
		return nil
	}

	for name := range varsMap {
		if err := resolveOne(name); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// substituteDoc applies the full "${e:...}"/"${v:...}"/"${p:...}"/"${x:...}"
// substitution pass to the rest of the document, once vars are fully
// resolved (spec.md §4.E steps 2-3). `${p:...}` and `${x:...}` are rewritten
// to a bare `${...}` span, deferring to the expr package's own template
// compiler (its path-root lookup already treats a provider name as a Record
// root, and an arbitrary expression compiles the same way either way).
func substituteDoc(x interface{}, vars map[string]interface{}) (interface{}, error) {
	return substituteTree(x, func(kind, inner string) (string, bool, error) {
		switch kind {
		case "e":
			v, err := substituteEnv(inner)
			return v, true, err
		case "v":
			v, ok := genericLookup(inner, vars)
			if !ok {
				return "", false, fmt.Errorf("static var reference %q not found", inner)
			}
			return stringifyGeneric(v), true, nil
		case "p", "x":
			return "${" + inner + "}", true, nil
		}
		return "", false, nil
	})
}
