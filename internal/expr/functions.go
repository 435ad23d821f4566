package expr

import (
	"encoding/base64"
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/FamilySearch/pewpew/internal/value"
)

// callFunction implements the closed function library of spec.md §4.A.
// args have already been evaluated via the scalar Evaluate path except
// where noted; some functions special-case iterMode to match
// evaluate_as_iter semantics (paths/range/entries/repeat/json_path).
func (e *evaluator) callFunction(c *CallNode, iterMode bool) ([]value.Value, error) {
	switch c.Func {
	case "collect":
		// Preserves the source's documented (if surprising) behavior:
		// collect returns its first argument unchanged regardless of mode,
		// since this implementation pulls one provider value per endpoint
		// tick rather than a live multi-value stream (see DESIGN.md).
		v, err := e.eval1(c.Args[0])
		if err != nil {
			return nil, err
		}
		return []value.Value{v}, nil

	case "encode":
		v, err := e.eval1(c.Args[0])
		if err != nil {
			return nil, err
		}
		scheme, err := e.evalString(c.Args[1])
		if err != nil {
			return nil, err
		}
		out, err := encodeValue(v, scheme)
		if err != nil {
			return nil, err
		}
		return []value.Value{out}, nil

	case "entries":
		v, err := e.eval1(c.Args[0])
		if err != nil {
			return nil, err
		}
		vs := entriesOf(v)
		if iterMode {
			return vs, nil
		}
		return []value.Value{value.NewArray(vs)}, nil

	case "epoch":
		unit, err := e.evalString(c.Args[0])
		if err != nil {
			return nil, err
		}
		now := e.clock()
		var n int64
		switch unit {
		case "s":
			n = now.Unix()
		case "ms":
			n = now.UnixMilli()
		case "mu":
			n = now.UnixMicro()
		case "ns":
			n = now.UnixNano()
		default:
			return nil, fmt.Errorf("epoch: unknown unit %q", unit)
		}
		return []value.Value{value.NewString(strconv.FormatInt(n, 10))}, nil

	case "if":
		cond, err := e.eval1(c.Args[0])
		if err != nil {
			return nil, err
		}
		if cond.Truthy() {
			v, err := e.eval1(c.Args[1])
			return []value.Value{v}, err
		}
		v, err := e.eval1(c.Args[2])
		return []value.Value{v}, err

	case "join":
		v, err := e.eval1(c.Args[0])
		if err != nil {
			return nil, err
		}
		if len(c.Args) == 2 {
			sep, err := e.evalString(c.Args[1])
			if err != nil {
				return nil, err
			}
			s, err := joinArrayOrScalar(v, sep)
			if err != nil {
				return nil, err
			}
			return []value.Value{value.NewString(s)}, nil
		}
		outer, err := e.evalString(c.Args[1])
		if err != nil {
			return nil, err
		}
		kv, err := e.evalString(c.Args[2])
		if err != nil {
			return nil, err
		}
		s, err := joinObject(v, outer, kv)
		if err != nil {
			return nil, err
		}
		return []value.Value{value.NewString(s)}, nil

	case "json_path":
		pathStr, err := e.evalString(c.Args[0])
		if err != nil {
			return nil, err
		}
		return e.evalJSONPath(pathStr)

	case "match":
		v, err := e.eval1(c.Args[0])
		if err != nil {
			return nil, err
		}
		reSrc, err := e.evalString(c.Args[1])
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(reSrc)
		if err != nil {
			return nil, fmt.Errorf("match: bad regex %q: %w", reSrc, err)
		}
		return []value.Value{matchValue(re, v.String())}, nil

	case "min", "max":
		best := math.NaN()
		found := false
		for _, a := range c.Args {
			v, err := e.eval1(a)
			if err != nil {
				return nil, err
			}
			n := v.Numeric()
			if math.IsNaN(n) {
				continue
			}
			if !found {
				best, found = n, true
				continue
			}
			if c.Func == "min" && n < best {
				best = n
			} else if c.Func == "max" && n > best {
				best = n
			}
		}
		if !found {
			return []value.Value{value.NewNull()}, nil
		}
		return []value.Value{numericResult(best)}, nil

	case "start_pad", "end_pad":
		v, err := e.eval1(c.Args[0])
		if err != nil {
			return nil, err
		}
		lenV, err := e.eval1(c.Args[1])
		if err != nil {
			return nil, err
		}
		pad, err := e.evalString(c.Args[2])
		if err != nil {
			return nil, err
		}
		s := padGraphemes(v.String(), int(lenV.Int()), pad, c.Func == "start_pad")
		return []value.Value{value.NewString(s)}, nil

	case "random":
		loV, err := e.eval1(c.Args[0])
		if err != nil {
			return nil, err
		}
		hiV, err := e.eval1(c.Args[1])
		if err != nil {
			return nil, err
		}
		if loV.Kind() == value.Int && hiV.Kind() == value.Int {
			lo, hi := loV.Int(), hiV.Int()
			if hi <= lo {
				return []value.Value{value.NewInt(lo)}, nil
			}
			return []value.Value{value.NewInt(lo + e.rng().Int63n(hi-lo))}, nil
		}
		lo, hi := loV.Numeric(), hiV.Numeric()
		return []value.Value{value.NewFloat(lo + e.rng().Float64()*(hi-lo))}, nil

	case "range":
		aV, err := e.eval1(c.Args[0])
		if err != nil {
			return nil, err
		}
		bV, err := e.eval1(c.Args[1])
		if err != nil {
			return nil, err
		}
		vs := rangeValues(aV.Int(), bV.Int())
		if iterMode {
			return vs, nil
		}
		return []value.Value{value.NewArray(vs)}, nil

	case "repeat":
		nV, err := e.eval1(c.Args[0])
		if err != nil {
			return nil, err
		}
		n := nV.Int()
		if len(c.Args) == 2 {
			maxV, err := e.eval1(c.Args[1])
			if err != nil {
				return nil, err
			}
			lo, hi := n, maxV.Int()
			if hi > lo {
				n = lo + e.rng().Int63n(hi-lo+1)
			}
		}
		out := make([]value.Value, n)
		for i := range out {
			out[i] = value.NewNull()
		}
		return []value.Value{value.NewArray(out)}, nil

	case "replace":
		needle, err := e.evalString(c.Args[0])
		if err != nil {
			return nil, err
		}
		haystack, err := e.eval1(c.Args[1])
		if err != nil {
			return nil, err
		}
		replacer, err := e.evalString(c.Args[2])
		if err != nil {
			return nil, err
		}
		return []value.Value{replaceRecursive(needle, haystack, replacer)}, nil
	}

	// lib_src extension function.
	if e.extraFn != nil {
		args := make([]value.Value, len(c.Args))
		for i, a := range c.Args {
			v, err := e.eval1(a)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		v, err := e.extraFn(c.Func, args)
		if err != nil {
			return nil, err
		}
		return []value.Value{v}, nil
	}

	return nil, &UnknownFunctionError{Name: c.Func, Marker: c.Marker()}
}

func numericResult(f float64) value.Value {
	return value.NewFloat(f)
}

func entriesOf(v value.Value) []value.Value {
	switch v.Kind() {
	case value.Object:
		out := make([]value.Value, 0, v.Object().Len())
		for _, k := range v.Object().Keys() {
			vv, _ := v.Object().Get(k)
			out = append(out, value.NewArray([]value.Value{value.NewString(k), vv}))
		}
		return out
	case value.Array:
		out := make([]value.Value, len(v.Array()))
		for i, vv := range v.Array() {
			out[i] = value.NewArray([]value.Value{value.NewInt(int64(i)), vv})
		}
		return out
	case value.String:
		runes := []rune(v.Str())
		out := make([]value.Value, len(runes))
		for i, r := range runes {
			out[i] = value.NewArray([]value.Value{value.NewInt(int64(i)), value.NewString(string(r))})
		}
		return out
	}
	return []value.Value{v}
}

func rangeValues(a, b int64) []value.Value {
	if a <= b {
		out := make([]value.Value, 0, b-a)
		for i := a; i < b; i++ {
			out = append(out, value.NewInt(i))
		}
		return out
	}
	// descending [b+1, a+1] reversed => a, a-1, ..., b+1
	out := make([]value.Value, 0, a-b)
	for i := a; i > b; i-- {
		out = append(out, value.NewInt(i))
	}
	return out
}

func encodeValue(v value.Value, scheme string) (value.Value, error) {
	s := v.String()
	switch scheme {
	case "base64":
		return value.NewString(base64.StdEncoding.EncodeToString([]byte(s))), nil
	case "percent":
		return value.NewString(url.QueryEscape(s)), nil
	case "percent-simple":
		return value.NewString(percentSimple(s)), nil
	case "percent-query":
		return value.NewString(url.QueryEscape(s)), nil
	case "percent-path":
		return value.NewString(url.PathEscape(s)), nil
	case "percent-userinfo":
		return value.NewString(url.User(s).String()), nil
	}
	return value.NewNull(), fmt.Errorf("encode: unknown scheme %q", scheme)
}

func percentSimple(s string) string {
	var sb strings.Builder
	for _, r := range []byte(s) {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteByte(r)
		} else {
			fmt.Fprintf(&sb, "%%%02X", r)
		}
	}
	return sb.String()
}

// DecodeBase64 is the inverse of encode(v, "base64"), exposed for the
// round-trip invariant in spec.md §8.
func DecodeBase64(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func joinArrayOrScalar(v value.Value, sep string) (string, error) {
	if v.Kind() == value.Array {
		parts := make([]string, len(v.Array()))
		for i, e := range v.Array() {
			parts[i] = e.String()
		}
		return strings.Join(parts, sep), nil
	}
	return v.String(), nil
}

func joinObject(v value.Value, outer, kv string) (string, error) {
	if v.Kind() != value.Object {
		return v.String(), nil
	}
	parts := make([]string, 0, v.Object().Len())
	for _, k := range v.Object().Keys() {
		vv, _ := v.Object().Get(k)
		parts = append(parts, k+kv+vv.String())
	}
	return strings.Join(parts, outer), nil
}

func matchValue(re *regexp.Regexp, s string) value.Value {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return value.NewNull()
	}
	obj := value.NewObject()
	names := re.SubexpNames()
	for i, g := range m {
		obj.Set(strconv.Itoa(i), value.NewString(g))
	}
	for i, name := range names {
		if name != "" && i < len(m) {
			obj.Set(name, value.NewString(m[i]))
		}
	}
	return value.NewObjectValue(obj)
}

func padGraphemes(s string, length int, pad string, start bool) string {
	n := utf8.RuneCountInString(s)
	if n >= length || pad == "" {
		return s
	}
	need := length - n
	padRunes := []rune(pad)
	var sb strings.Builder
	for i := 0; i < need; i++ {
		sb.WriteRune(padRunes[i%len(padRunes)])
	}
	if start {
		return sb.String() + s
	}
	return s + sb.String()
}

func replaceRecursive(needle string, haystack value.Value, replacer string) value.Value {
	switch haystack.Kind() {
	case value.String:
		return value.NewString(strings.ReplaceAll(haystack.Str(), needle, replacer))
	case value.Array:
		out := make([]value.Value, len(haystack.Array()))
		for i, v := range haystack.Array() {
			out[i] = replaceRecursive(needle, v, replacer)
		}
		return value.NewArray(out)
	case value.Object:
		obj := value.NewObject()
		for _, k := range haystack.Object().Keys() {
			v, _ := haystack.Object().Get(k)
			newKey := strings.ReplaceAll(k, needle, replacer)
			obj.Set(newKey, replaceRecursive(needle, v, replacer))
		}
		return value.NewObjectValue(obj)
	}
	return haystack
}

// package-level default RNG source, overridable per evaluator for tests.
var defaultRand = rand.New(rand.NewSource(time.Now().UnixNano()))
