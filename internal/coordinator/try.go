package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/FamilySearch/pewpew/internal/config"
	"github.com/FamilySearch/pewpew/internal/pewerr"
	"github.com/FamilySearch/pewpew/internal/providers"
	"github.com/FamilySearch/pewpew/internal/runner"
)

// TryOptions configures a single debug run (`try` subcommand, spec.md §6).
type TryOptions struct {
	ConfigPath string
	LoggersOn  bool
	File       string   // destination for the try run's own progress output; "" means stderr
	Filters    []string // "key=glob" or "key!=glob", ANY-matched (original_source's filter_fn)
	Format     string   // "human"|"json"
	ResultsDir string
}

// filterRule is one parsed --filter entry.
type filterRule struct {
	key     string
	glob    string
	negated bool
}

func parseFilters(raw []string) ([]filterRule, error) {
	rules := make([]filterRule, 0, len(raw))
	for _, f := range raw {
		if idx := strings.Index(f, "!="); idx >= 0 {
			rules = append(rules, filterRule{key: f[:idx], glob: f[idx+2:], negated: true})
			continue
		}
		idx := strings.Index(f, "=")
		if idx < 0 {
			return nil, fmt.Errorf("--filter %q: expected key=glob or key!=glob", f)
		}
		rules = append(rules, filterRule{key: f[:idx], glob: f[idx+1:]})
	}
	return rules, nil
}

func (r filterRule) matches(tags map[string]string) bool {
	ok, _ := filepath.Match(r.glob, tags[r.key])
	if r.negated {
		return !ok
	}
	return ok
}

// matchEndpoints returns the endpoints any filter rule matches, ANY-of-rules
// (original_source: "filters.is_empty() || filters.iter().any(...)"). tags
// checked include the endpoint's own declared tags plus implicit "method"
// and "url" keys, mirroring the stats aggregator's tag set.
func matchEndpoints(eps []*config.EndpointSpec, rules []filterRule) []*config.EndpointSpec {
	if len(rules) == 0 {
		return eps
	}
	var out []*config.EndpointSpec
	for _, ep := range eps {
		tags := make(map[string]string, len(ep.Tags)+2)
		for k, v := range ep.Tags {
			tags[k] = v
		}
		tags["method"] = ep.Method
		tags["url"] = ep.RawURL
		for _, rule := range rules {
			if rule.matches(tags) {
				out = append(out, ep)
				break
			}
		}
	}
	return out
}

// TryRun executes a dependency-ordered plan (internal/runner.PlanTry) once:
// every endpoint the filters match, plus whichever upstream endpoints must
// fire first to produce the providers those matches require, each getting
// exactly one tick, upstream-first (spec.md §6 "try (single-endpoint debug
// run)").
func TryRun(ctx context.Context, opts TryOptions) Outcome {
	ld, err := loadAll(opts.ConfigPath, opts.Format, opts.ResultsDir)
	if err != nil {
		return Outcome{Reason: pewerr.ReasonFatal, Err: &pewerr.Fatal{Op: "startup", Err: err}}
	}
	runDir, err := newRunDir(opts.ResultsDir)
	if err != nil {
		return Outcome{Reason: pewerr.ReasonFatal, Err: &pewerr.Fatal{Op: "startup", Err: err}}
	}

	rules, err := parseFilters(opts.Filters)
	if err != nil {
		return Outcome{Reason: pewerr.ReasonFatal, Err: &pewerr.Fatal{Op: "parsing --filter", Err: err}}
	}
	matched := matchEndpoints(ld.cfg.Endpoints, rules)
	if len(matched) == 0 {
		return Outcome{Reason: pewerr.ReasonFatal, Err: &pewerr.Fatal{Op: "matching --filter", Err: fmt.Errorf("no endpoint matched")}}
	}

	plan, err := runner.PlanTry(matched, ld.cfg.Endpoints, ld.cfg.Providers)
	if err != nil {
		return Outcome{Reason: pewerr.ReasonFatal, Err: &pewerr.Fatal{Op: "planning dependency order", Err: err}}
	}

	// loggers_on gates whether configured `logs` outgoings fire at all; when
	// off, a shallow per-endpoint copy with Logs cleared is dispatched
	// instead, so nothing blocks on an undrained logger channel
	// (original_source: "if !try_config.loggers_on { disable the loggers }").
	planEndpoints := plan.Endpoints
	if !opts.LoggersOn {
		planEndpoints = make([]*config.EndpointSpec, len(plan.Endpoints))
		for i, ep := range plan.Endpoints {
			cp := *ep
			cp.Logs = nil
			planEndpoints[i] = &cp
		}
	} else {
		for _, ls := range ld.cfg.Loggers {
			providers.Spawn(ctx, ls.Channel, ls.Logger)
		}
	}

	needed := make(map[string]bool)
	for _, ep := range planEndpoints {
		for name := range ep.RequiredProviders {
			needed[name] = true
		}
	}
	for name, ps := range ld.cfg.Providers {
		if needed[name] && ps.Feeder != nil {
			providers.Spawn(ctx, ps.Channel, ps.Feeder)
		}
	}

	tryLogger, err := newTryLogger(resolveResultsPath(runDir, opts.File))
	if err != nil {
		return Outcome{Reason: pewerr.ReasonFatal, Err: &pewerr.Fatal{Op: "opening --file", Err: err}}
	}

	for i, ep := range planEndpoints {
		rn := runner.New(i, ep, ld.client, ld.cfg.General.Timeout, ld.agg, ld.cfg.Providers, ld.extraFn)
		if err := rn.RunOnce(ctx); err != nil {
			return Outcome{Reason: pewerr.ReasonFatal, Err: &pewerr.Fatal{Op: fmt.Sprintf("try %s %s", ep.Method, ep.RawURL), Err: err}}
		}
		fmt.Fprintf(tryLogger, "%s %s: ok\n", ep.Method, ep.RawURL)
	}

	ld.agg.FinalSummary()
	return Outcome{Reason: pewerr.ReasonNone}
}

// newTryLogger opens the try-run's own progress output (default stderr, or
// a file path via --file), independent of the config's named loggers.
func newTryLogger(path string) (*os.File, error) {
	if path == "" {
		return os.Stderr, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
