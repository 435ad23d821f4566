package expr

import "fmt"

// Marker is a source-position pointer used by parse-time errors (spec.md §4.A
// "Failure modes"), mirroring the line:col markers the original YAML-backed
// parser attaches to every diagnostic.
type Marker struct {
	Pos  int
	Line int
	Col  int
}

func (m Marker) String() string {
	return fmt.Sprintf("%d:%d", m.Line, m.Col)
}

// InvalidExpressionError is returned when the source text does not parse.
type InvalidExpressionError struct {
	Source string
	Marker Marker
	Msg    string
}

func (e *InvalidExpressionError) Error() string {
	return fmt.Sprintf("invalid expression at %s: %s (in %q)", e.Marker, e.Msg, e.Source)
}

// InvalidFunctionArgumentsError is returned for function arity/type mismatches
// caught at parse time.
type InvalidFunctionArgumentsError struct {
	Func   string
	Marker Marker
	Msg    string
}

func (e *InvalidFunctionArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments to %s() at %s: %s", e.Func, e.Marker, e.Msg)
}

// UnknownProviderError is returned when a path expression's root identifier
// does not resolve to a declared provider or special pseudo-provider.
type UnknownProviderError struct {
	Name   string
	Marker Marker
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider %q at %s", e.Name, e.Marker)
}

// IndexingIntoJSONError is the recoverable error raised when indexing a
// non-object/array with an unresolvable key. Whether it propagates or folds
// to null is controlled by the NoRecoverableError evaluation option.
type IndexingIntoJSONError struct {
	Key string
}

func (e *IndexingIntoJSONError) Error() string {
	return fmt.Sprintf("could not index into json with key %q", e.Key)
}

// UnknownFunctionError is raised for any call to an identifier outside the
// closed function set (spec.md §4.A "closed set, fail on any other ident"),
// unless it has been registered via the lib_src extension registry.
type UnknownFunctionError struct {
	Name   string
	Marker Marker
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function %q at %s", e.Name, e.Marker)
}
