// Package runner drives one compiled endpoint: pulling its required
// providers, dispatching HTTP requests at the rate its load pattern (or lack
// of one) dictates, projecting responses into `provides`/`logs` outgoings,
// and performing auto-returns, per spec.md §4.D "Per-endpoint dispatch loop".
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/FamilySearch/pewpew/internal/config"
	"github.com/FamilySearch/pewpew/internal/expr"
	"github.com/FamilySearch/pewpew/internal/httpclient"
	"github.com/FamilySearch/pewpew/internal/stats"
	"github.com/FamilySearch/pewpew/internal/value"
)

// defaultUnboundedConcurrency caps an endpoint with neither a blocking
// provide nor an explicit max_parallel_requests. True unboundedness isn't
// representable by a semaphore; this is high enough that only a pathological
// config would ever hit it (spec.md §3 "Endpoint" leaves this case as "no
// observable limit").
const defaultUnboundedConcurrency = 10000

// ErrProvidersEnded is returned by Run when a required provider's stream
// ends (no feeder left, queue drained); the endpoint has nothing left to
// fire for and the runner exits cleanly. Exported so the coordinator can
// distinguish ProviderEnded from a ctx-cancellation shutdown reason
// (spec.md §4.E "Shutdown triggers").
var ErrProvidersEnded = errors.New("runner: a required provider stream ended")

// Runner drives a single compiled endpoint to completion.
type Runner struct {
	EndpointID int
	Endpoint   *config.EndpointSpec
	Client     *http.Client
	Timeout    time.Duration
	Stats      *stats.Aggregator
	Providers  map[string]*config.ProviderSpec
	ExtraFn    expr.ExtraFunc

	// StartAt offsets this endpoint's rate shaper into its ramp, as if the
	// test had already been running for this long (CLI `--start-at`,
	// original_source's RunConfig.start_at).
	StartAt time.Duration

	needsResponseBody    bool
	needsResponseHeaders bool
}

// New prepares a Runner, precomputing which parts of the response this
// endpoint's selects actually read so Run can skip materializing the rest
// (spec.md §4.A "`where`-specific tracking").
func New(id int, ep *config.EndpointSpec, client *http.Client, timeout time.Duration, agg *stats.Aggregator, providerSpecs map[string]*config.ProviderSpec, extraFn expr.ExtraFunc) *Runner {
	r := &Runner{
		EndpointID: id,
		Endpoint:   ep,
		Client:     client,
		Timeout:    timeout,
		Stats:      agg,
		Providers:  providerSpecs,
		ExtraFn:    extraFn,
	}
	for _, o := range ep.Provides {
		r.absorbSpecial(o.Select)
	}
	for _, o := range ep.Logs {
		r.absorbSpecial(o.Select)
	}
	if agg != nil {
		tags := make(stats.Tags, len(ep.Tags)+2)
		for k, v := range ep.Tags {
			tags[k] = v
		}
		tags["method"] = ep.Method
		tags["url"] = ep.RawURL
		agg.Init(id, tags)
	}
	return r
}

func (r *Runner) absorbSpecial(sel *config.SelectSpec) {
	mask := sel.Expr.Special
	if sel.Where != nil {
		mask |= sel.Where.WhereSpecial
	}
	for _, fe := range sel.ForEach {
		mask |= fe.Special
	}
	// A bare `response` reference sets every SpecialResponse bit, so it
	// matches both checks below; response.status alone matches neither.
	if mask&expr.SpecialResponseBody != 0 {
		r.needsResponseBody = true
	}
	if mask&expr.SpecialResponseHeaders != 0 {
		r.needsResponseHeaders = true
	}
}

// concurrencyLimit computes the max number of in-flight requests this
// endpoint may run at once: the largest blocking-provide channel's current
// limit, else max_parallel_requests, else the unbounded fallback (spec.md §3
// "Endpoint", "the concurrency bound is the largest of its blocking provides'
// channel limits").
func (r *Runner) concurrencyLimit() int64 {
	var limit int64
	for _, o := range r.Endpoint.Provides {
		if o.Block {
			if l := o.TargetChannel.Limit(); l > limit {
				limit = l
			}
		}
	}
	if limit > 0 {
		return limit
	}
	if r.Endpoint.MaxParallelRequests > 0 {
		return int64(r.Endpoint.MaxParallelRequests)
	}
	return defaultUnboundedConcurrency
}

// Run drives the endpoint's dispatch loop until ctx is cancelled or a
// required provider's stream ends. It blocks until every in-flight request
// has finished.
func (r *Runner) Run(ctx context.Context) error {
	sem := make(chan struct{}, r.concurrencyLimit())
	var wg sync.WaitGroup
	defer wg.Wait()

	var shaper *shaperAdapter
	if r.Endpoint.LoadPattern != nil {
		shaper = newShaperAdapter(*r.Endpoint.LoadPattern, r.StartAt)
	}

	for {
		if shaper != nil {
			if _, ok := shaper.waitNext(ctx); !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		rec, ok, err := r.pullProviders(ctx)
		if err != nil {
			<-sem
			return err
		}
		if !ok {
			<-sem
			return ErrProvidersEnded
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.tick(ctx, rec)
		}()
	}
}

// RunOnce pulls a single record and fires one tick, with no looping or rate
// shaping: the building block of the `try` debug command (spec.md §6 "try
// (single-endpoint debug run)"), as opposed to Run's continuous dispatch
// loop.
func (r *Runner) RunOnce(ctx context.Context) error {
	rec, ok, err := r.pullProviders(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProvidersEnded
	}
	r.tick(ctx, rec)
	return nil
}

// pullProviders awaits one value from every provider this endpoint requires
// (spec.md §4.D step 1, "zip-all"). ok is false once any required provider's
// stream has ended.
func (r *Runner) pullProviders(ctx context.Context) (*expr.Record, bool, error) {
	rec := expr.NewRecord()
	for name := range r.Endpoint.RequiredProviders {
		ps, known := r.Providers[name]
		if !known {
			return nil, false, fmt.Errorf("endpoint requires unknown provider %q", name)
		}
		v, ok, err := ps.Channel.Recv(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		rec.Providers[name] = v
		if ps.AutoReturn != config.AutoReturnNone {
			rec.AutoReturns = append(rec.AutoReturns, expr.AutoReturn{Provider: name, Value: v})
		}
	}
	return rec, true, nil
}

// tick runs the procedure of spec.md §4.D steps 2-10 for one already-pulled
// record: build and dispatch the request, classify failures, evaluate every
// outgoing, and perform auto-returns.
func (r *Runner) tick(ctx context.Context, rec *expr.Record) {
	opts := expr.EvalOptions{ExtraFn: r.ExtraFn}

	urlVal, err := r.Endpoint.URLTemplate.Evaluate(rec, opts)
	if err != nil {
		r.recordFailure(rec, "url", err)
		return
	}
	rec.RequestURL = urlVal.Str()
	rec.RequestMethod = r.Endpoint.Method
	rec.RequestStartLine = fmt.Sprintf("%s %s HTTP/1.1", rec.RequestMethod, rec.RequestURL)

	headers := make(http.Header, len(r.Endpoint.HeaderTemplates))
	for name, tpl := range r.Endpoint.HeaderTemplates {
		hv, err := tpl.Evaluate(rec, opts)
		if err != nil {
			r.recordFailure(rec, "header:"+name, err)
			return
		}
		headers.Set(name, hv.String())
	}
	rec.RequestHeaders = headerObject(headers)

	var bodyStr string
	if r.Endpoint.BodyTemplate != nil {
		bv, err := r.Endpoint.BodyTemplate.Evaluate(rec, opts)
		if err != nil {
			r.recordFailure(rec, "body", err)
			return
		}
		bodyStr = bv.String()
		rec.RequestBody = bv
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if r.Timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var body io.Reader
	if bodyStr != "" {
		body = strings.NewReader(bodyStr)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, rec.RequestMethod, rec.RequestURL, body)
	if err != nil {
		r.recordFailure(rec, "request-build", err)
		return
	}
	httpReq.Header = headers

	resp, timing, err := httpclient.Do(r.Client, httpReq)
	now := time.Now()
	if err != nil {
		kind, desc := classifyErr(err)
		r.Stats.Record(stats.ResponseStat{
			EndpointID: r.EndpointID,
			Kind:       kind,
			At:         now,
			RTT:        timing.Total,
			ErrDesc:    desc,
		})
		rec.HasError = true
		rec.ErrorMsg = desc
		if kind == stats.KindTimeout {
			rec.ErrorCode = "timeout"
		} else {
			rec.ErrorCode = "connection-error"
		}
		// Auto-return fires iff the request reached the response-parsing
		// stage (spec.md §9): connection and timeout errors stop here, before
		// any response ever arrived, so outgoings still dispatch (provides
		// can still reference error/stats fields) but providers this
		// endpoint borrowed are not auto-returned.
		r.dispatchOutgoings(ctx, rec, opts)
		return
	}
	defer resp.Body.Close()

	rec.HasResponse = true
	rec.ResponseStatus = int64(resp.StatusCode)
	rec.ResponseStartLine = fmt.Sprintf("%s %s", resp.Proto, resp.Status)
	if r.needsResponseHeaders {
		rec.ResponseHeaders = headerObject(resp.Header)
	}
	if r.needsResponseBody {
		rec.ResponseBody = readBodyAsValue(resp)
	}

	rec.HasStats = true
	rec.StatsRTTMicros = timing.Total.Microseconds()

	r.Stats.Record(stats.ResponseStat{
		EndpointID: r.EndpointID,
		Kind:       stats.KindResponse,
		Status:     resp.StatusCode,
		At:         now,
		RTT:        timing.Total,
	})

	r.dispatchOutgoings(ctx, rec, opts)
	r.performAutoReturns(ctx, rec)
}

// recordFailure handles a template-evaluation error before any request was
// even built: recorded against the connection-error bucket, the closest of
// stats.Kind's three buckets to "never made it onto the wire" (the original
// tracks a richer error taxonomy than this port's stats aggregator exposes).
func (r *Runner) recordFailure(rec *expr.Record, stage string, err error) {
	rec.HasError = true
	rec.ErrorMsg = fmt.Sprintf("%s: %v", stage, err)
	rec.ErrorCode = "template-error"
	r.Stats.Record(stats.ResponseStat{
		EndpointID: r.EndpointID,
		Kind:       stats.KindConnectionError,
		At:         time.Now(),
		ErrDesc:    rec.ErrorMsg,
	})
}

func classifyErr(err error) (stats.Kind, string) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return stats.KindTimeout, err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return stats.KindTimeout, err.Error()
	}
	return stats.KindConnectionError, err.Error()
}

func headerObject(h http.Header) value.Value {
	obj := value.NewObject()
	for k, vs := range h {
		obj.Set(strings.ToLower(k), value.NewString(strings.Join(vs, ", ")))
	}
	return value.NewObjectValue(obj)
}
