// Package libsrc loads an optional `lib_src` Starlark file and exposes its
// top-level functions as additional expr functions, in the teacher's
// script.Module builtin-registration idiom (script/script.go,
// script/requests.go), narrowed per spec.md's non-goal of "general scripting
// beyond the closed function set": a lib_src function can only be called
// from an expression as one more function name, the same as a built-in; it
// never gets a Go-side capability (no HTTP client, no provider channels) the
// way the teacher's `requests` starlark module does.
package libsrc

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/FamilySearch/pewpew/internal/value"
)

// Registry is a loaded lib_src file's callable function set.
type Registry struct {
	thread *starlark.Thread
	fns    map[string]*starlark.Function
}

// Load executes path as a Starlark module and collects its top-level
// function definitions. Only `def name(...): ...` globals are registered;
// any other top-level value (a constant, an import) is ignored rather than
// rejected, since a lib_src file may reasonably keep private helpers.
func Load(path string) (*Registry, error) {
	thread := &starlark.Thread{Name: "lib_src"}
	globals, err := starlark.ExecFile(thread, path, nil, starlark.StringDict{})
	if err != nil {
		return nil, fmt.Errorf("loading lib_src %s: %w", path, err)
	}

	fns := make(map[string]*starlark.Function)
	for name, v := range globals {
		if fn, ok := v.(*starlark.Function); ok {
			fns[name] = fn
		}
	}
	return &Registry{thread: thread, fns: fns}, nil
}

// Names returns the set of registered function names, for
// expr.Compile/CompileTemplate's extraFns parameter (spec.md §4.A
// "lib_src-registered function names parse as calls").
func (r *Registry) Names() map[string]bool {
	out := make(map[string]bool, len(r.fns))
	for name := range r.fns {
		out[name] = true
	}
	return out
}

// Call invokes a registered function by name, translating arguments and the
// result through value.Value. Its signature matches expr.ExtraFunc exactly,
// so a *Registry can be wired directly into expr.EvalOptions.ExtraFn.
func (r *Registry) Call(name string, args []value.Value) (value.Value, error) {
	fn, ok := r.fns[name]
	if !ok {
		return value.NewNull(), fmt.Errorf("lib_src: unknown function %q", name)
	}

	sargs := make(starlark.Tuple, len(args))
	for i, a := range args {
		sv, err := toStarlark(a)
		if err != nil {
			return value.NewNull(), fmt.Errorf("lib_src: calling %q: argument %d: %w", name, i, err)
		}
		sargs[i] = sv
	}

	result, err := starlark.Call(r.thread, fn, sargs, nil)
	if err != nil {
		return value.NewNull(), fmt.Errorf("lib_src: calling %q: %w", name, err)
	}
	return fromStarlark(result)
}

func toStarlark(v value.Value) (starlark.Value, error) {
	switch v.Kind() {
	case value.Null:
		return starlark.None, nil
	case value.Bool:
		return starlark.Bool(v.Bool()), nil
	case value.Int:
		return starlark.MakeInt64(v.Int()), nil
	case value.Float:
		return starlark.Float(v.Float()), nil
	case value.String:
		return starlark.String(v.Str()), nil
	case value.Array:
		arr := v.Array()
		items := make([]starlark.Value, len(arr))
		for i, e := range arr {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			items[i] = sv
		}
		return starlark.NewList(items), nil
	case value.Object:
		obj := v.Object()
		dict := starlark.NewDict(obj.Len())
		for _, k := range obj.Keys() {
			ev, _ := obj.Get(k)
			sv, err := toStarlark(ev)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}
	return starlark.None, nil
}

func fromStarlark(v starlark.Value) (value.Value, error) {
	switch t := v.(type) {
	case starlark.NoneType:
		return value.NewNull(), nil
	case starlark.Bool:
		return value.NewBool(bool(t)), nil
	case starlark.Int:
		if i, ok := t.Int64(); ok {
			return value.NewInt(i), nil
		}
		return value.NewFloat(float64(t.Float())), nil
	case starlark.Float:
		return value.NewFloat(float64(t)), nil
	case starlark.String:
		return value.NewString(string(t)), nil
	case *starlark.List:
		out := make([]value.Value, t.Len())
		for i := 0; i < t.Len(); i++ {
			ev, err := fromStarlark(t.Index(i))
			if err != nil {
				return value.NewNull(), err
			}
			out[i] = ev
		}
		return value.NewArray(out), nil
	case starlark.Tuple:
		out := make([]value.Value, len(t))
		for i, e := range t {
			ev, err := fromStarlark(e)
			if err != nil {
				return value.NewNull(), err
			}
			out[i] = ev
		}
		return value.NewArray(out), nil
	case *starlark.Dict:
		obj := value.NewObject()
		for _, item := range t.Items() {
			k, ok := starlark.AsString(item[0])
			if !ok {
				k = item[0].String()
			}
			ev, err := fromStarlark(item[1])
			if err != nil {
				return value.NewNull(), err
			}
			obj.Set(k, ev)
		}
		return value.NewObjectValue(obj), nil
	}
	return value.NewNull(), fmt.Errorf("lib_src: cannot convert a %s result to a value", v.Type())
}
