package expr

import "github.com/FamilySearch/pewpew/internal/value"

// SpecialMask is a bitmask of which "special" pseudo-providers (spec.md §3
// Request Record / §4.A "Required-provider tracking") an expression
// references. The endpoint runner consults it to decide which fields of the
// per-request record are worth materialising.
type SpecialMask uint32

const (
	SpecialRequestStartLine SpecialMask = 1 << iota
	SpecialRequestHeaders
	SpecialRequestBody
	SpecialRequestMethod
	SpecialRequestURL
	SpecialResponseStartLine
	SpecialResponseHeaders
	SpecialResponseBody
	SpecialResponseStatus
	SpecialStats
	SpecialForEach
	SpecialError
)

const (
	SpecialRequest  = SpecialRequestStartLine | SpecialRequestHeaders | SpecialRequestBody | SpecialRequestMethod | SpecialRequestURL
	SpecialResponse = SpecialResponseStartLine | SpecialResponseHeaders | SpecialResponseBody | SpecialResponseStatus
)

// AutoReturn is one obligation to push a consumed value back into its
// source provider channel after the request completes (spec.md §4.B
// "Auto-return").
type AutoReturn struct {
	Provider string
	Value    value.Value
}

// Record is the per-request environment expressions evaluate against: one
// pulled value per required provider, the optional for_each tuple in scope,
// and the special request/response/stats/error fields.
type Record struct {
	Providers map[string]value.Value

	RequestStartLine string
	RequestHeaders   value.Value
	RequestBody      value.Value
	RequestMethod    string
	RequestURL       string

	HasResponse        bool
	ResponseStartLine  string
	ResponseStatus     int64
	ResponseHeaders    value.Value
	ResponseBody       value.Value

	StatsRTTMicros int64
	HasStats       bool

	ForEach []value.Value

	HasError bool
	ErrorMsg  string
	ErrorCode string

	// AutoReturns accumulates, in consumption order, the providers read
	// while building this record; populated by the runner before
	// evaluation, consulted after the request completes (spec.md §4.B,
	// §5 "Auto-returns for a single request are performed in the order
	// their source providers were consumed").
	AutoReturns []AutoReturn
}

func NewRecord() *Record {
	return &Record{Providers: make(map[string]value.Value)}
}

func (r *Record) requestObject() value.Value {
	obj := value.NewObject()
	obj.Set("start-line", value.NewString(r.RequestStartLine))
	obj.Set("headers", r.RequestHeaders)
	obj.Set("body", r.RequestBody)
	obj.Set("method", value.NewString(r.RequestMethod))
	obj.Set("url", value.NewString(r.RequestURL))
	return value.NewObjectValue(obj)
}

func (r *Record) responseObject() value.Value {
	obj := value.NewObject()
	obj.Set("start-line", value.NewString(r.ResponseStartLine))
	obj.Set("status", value.NewInt(r.ResponseStatus))
	obj.Set("headers", r.ResponseHeaders)
	obj.Set("body", r.ResponseBody)
	return value.NewObjectValue(obj)
}

func (r *Record) statsObject() value.Value {
	obj := value.NewObject()
	obj.Set("rtt", value.NewInt(r.StatsRTTMicros))
	return value.NewObjectValue(obj)
}

func (r *Record) errorObject() value.Value {
	obj := value.NewObject()
	obj.Set("msg", value.NewString(r.ErrorMsg))
	obj.Set("code", value.NewString(r.ErrorCode))
	return value.NewObjectValue(obj)
}

// Lookup resolves a path root against the record: a named provider, or one
// of the special pseudo-providers.
func (r *Record) Lookup(root string) (value.Value, bool) {
	switch root {
	case "request":
		return r.requestObject(), true
	case "response":
		if !r.HasResponse {
			return value.NewNull(), true
		}
		return r.responseObject(), true
	case "stats":
		if !r.HasStats {
			return value.NewNull(), true
		}
		return r.statsObject(), true
	case "error":
		if !r.HasError {
			return value.NewNull(), true
		}
		return r.errorObject(), true
	case "for_each":
		arr := make([]value.Value, len(r.ForEach))
		copy(arr, r.ForEach)
		return value.NewArray(arr), true
	}
	if v, ok := r.Providers[root]; ok {
		return v, true
	}
	return value.NewNull(), false
}
