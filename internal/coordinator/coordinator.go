// Package coordinator implements spec.md §4.E "Coordinator & Stats": the
// startup pipeline (load config, spawn providers/loggers, build one runner
// per endpoint), the shutdown-trigger broadcast, and the two external
// operations the CLI (cmd/pewpew) drives — a full `run` and a dependency-
// ordered `try`.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FamilySearch/pewpew/internal/config"
	"github.com/FamilySearch/pewpew/internal/expr"
	"github.com/FamilySearch/pewpew/internal/httpclient"
	"github.com/FamilySearch/pewpew/internal/libsrc"
	"github.com/FamilySearch/pewpew/internal/pewerr"
	"github.com/FamilySearch/pewpew/internal/providers"
	"github.com/FamilySearch/pewpew/internal/runner"
	"github.com/FamilySearch/pewpew/internal/stats"
)

// Outcome is the result of one coordinator run: why it ended, and, for a
// Fatal ending, the error that caused it (spec.md §7 "Terminating-but-
// normal" vs "Fatal").
type Outcome struct {
	Reason pewerr.Reason
	Err    error
}

// ExitCode maps the outcome to the process exit code of spec.md §6.
func (o Outcome) ExitCode() int { return o.Reason.ExitCode() }

// RunOptions configures a full load test (`run` subcommand, spec.md §6).
type RunOptions struct {
	ConfigPath      string
	OutputFormat    string // "human"|"json"; "" keeps the config file's own summary_format
	ResultsDir      string
	StatsFile       string
	StatsFileFormat string
	StartAt         time.Duration
}

// loaded bundles everything LoadBytes plus the ambient runtime wiring
// produces: the compiled config, the shared HTTP client, and the stats
// aggregator (spec.md §4.E "Startup" steps 1-5,7).
type loaded struct {
	cfg     *config.Config
	client  *http.Client
	agg     *stats.Aggregator
	extraFn expr.ExtraFunc
}

func loadAll(configPath, outputFormat, resultsDir string) (*loaded, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", configPath, err)
	}

	libSrcPath, err := config.PeekLibSrc(data)
	if err != nil {
		return nil, err
	}

	var extraFns map[string]bool
	var extraFn expr.ExtraFunc
	if libSrcPath != "" {
		if !filepath.IsAbs(libSrcPath) {
			libSrcPath = filepath.Join(filepath.Dir(configPath), libSrcPath)
		}
		reg, err := libsrc.Load(libSrcPath)
		if err != nil {
			return nil, fmt.Errorf("loading lib_src: %w", err)
		}
		extraFns = reg.Names()
		extraFn = reg.Call
	}

	cfg, err := config.LoadBytes(data, extraFns)
	if err != nil {
		return nil, err
	}

	client, err := httpclient.Build(httpclient.Config{
		Timeout:             cfg.General.Timeout,
		KeepAlive:           cfg.General.KeepAlive,
		H2:                  cfg.General.H2,
		DisableCompression:  cfg.General.DisableCompression,
		InsecureSkipVerify:  cfg.General.InsecureSkipVerify,
		MaxIdleConnsPerHost: cfg.General.MaxIdleConnsPerHost,
	})
	if err != nil {
		return nil, fmt.Errorf("building http client: %w", err)
	}

	format := cfg.General.SummaryFormat
	switch strings.ToLower(outputFormat) {
	case "json":
		format = stats.FormatJSON
	case "human":
		format = stats.FormatPretty
	}

	agg := stats.New(cfg.General.BucketSize, format, os.Stdout)
	return &loaded{cfg: cfg, client: client, agg: agg, extraFn: extraFn}, nil
}

func resolveResultsPath(resultsDir, path string) string {
	if path == "" || resultsDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(resultsDir, path)
}

// newRunDir creates a fresh, uniquely-named subdirectory of resultsDir for
// this run's output files, named by a per-run UUID so concurrent or
// back-to-back runs against the same --results-dir never collide on a
// shared stats-file/try-file name. Returns resultsDir unchanged if empty
// (no --results-dir given).
func newRunDir(resultsDir string) (string, error) {
	if resultsDir == "" {
		return "", nil
	}
	dir := filepath.Join(resultsDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating results dir %s: %w", dir, err)
	}
	return dir, nil
}

// Run drives a full load test to completion: every endpoint fires on its own
// rate-shaped (or on-demand) schedule until the first shutdown trigger of
// spec.md §4.E fires. It blocks until the test is over.
func Run(ctx context.Context, opts RunOptions) Outcome {
	ld, err := loadAll(opts.ConfigPath, opts.OutputFormat, opts.ResultsDir)
	if err != nil {
		return Outcome{Reason: pewerr.ReasonFatal, Err: &pewerr.Fatal{Op: "startup", Err: err}}
	}
	runDir, err := newRunDir(opts.ResultsDir)
	if err != nil {
		return Outcome{Reason: pewerr.ReasonFatal, Err: &pewerr.Fatal{Op: "startup", Err: err}}
	}

	for _, ps := range ld.cfg.Providers {
		if ps.Feeder != nil {
			providers.Spawn(ctx, ps.Channel, ps.Feeder)
		}
	}
	for _, ls := range ld.cfg.Loggers {
		providers.Spawn(ctx, ls.Channel, ls.Logger)
	}

	statsDone := make(chan struct{})
	go ld.agg.Run(statsDone)
	defer close(statsDone)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var reasonOnce sync.Once
	reason := pewerr.ReasonNone
	setReason := func(r pewerr.Reason) {
		reasonOnce.Do(func() { reason = r })
		cancel()
	}

	go func() {
		select {
		case <-ctx.Done():
			setReason(pewerr.ReasonCtrlC)
		case <-runCtx.Done():
		}
	}()
	for _, ls := range ld.cfg.Loggers {
		go func(ls *config.LoggerSpec) {
			select {
			case <-ls.Logger.Killed():
				setReason(pewerr.ReasonKilledByLogger)
			case <-runCtx.Done():
			}
		}(ls)
	}

	var wg sync.WaitGroup
	results := make(chan error, len(ld.cfg.Endpoints))
	for i, ep := range ld.cfg.Endpoints {
		rn := runner.New(i, ep, ld.client, ld.cfg.General.Timeout, ld.agg, ld.cfg.Providers, ld.extraFn)
		rn.StartAt = opts.StartAt
		wg.Add(1)
		go func(rn *runner.Runner) {
			defer wg.Done()
			results <- rn.Run(runCtx)
		}(rn)
	}
	wg.Wait()
	close(results)

	var fatalErr error
	for err := range results {
		switch {
		case err == nil:
		case errors.Is(err, runner.ErrProvidersEnded):
			setReason(pewerr.ReasonProviderEnded)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		default:
			setReason(pewerr.ReasonFatal)
			if fatalErr == nil {
				fatalErr = err
			}
		}
	}

	ld.agg.FinalSummary()
	statsFile := resolveResultsPath(runDir, opts.StatsFile)
	if statsFile != "" {
		if err := ld.agg.Persist(statsFile); err != nil {
			return Outcome{Reason: pewerr.ReasonFatal, Err: &pewerr.Fatal{Op: "persisting stats", Err: err}}
		}
	}

	if reason == pewerr.ReasonFatal {
		return Outcome{Reason: reason, Err: &pewerr.Fatal{Op: "endpoint runner", Err: fatalErr}}
	}
	return Outcome{Reason: reason}
}
