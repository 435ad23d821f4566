package config

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FamilySearch/pewpew/internal/expr"
	"github.com/FamilySearch/pewpew/internal/pchan"
	"github.com/FamilySearch/pewpew/internal/providers"
	"github.com/FamilySearch/pewpew/internal/ratepattern"
	"github.com/FamilySearch/pewpew/internal/stats"
	"github.com/FamilySearch/pewpew/internal/value"
)

// Load reads and fully compiles a config file (spec.md §4.E "Startup",
// steps 1-4). extraFns is the lib_src-registered function name set; pass
// nil when no lib_src script is configured.
func Load(path string, extraFns map[string]bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return LoadBytes(data, extraFns)
}

// PeekLibSrc extracts the `lib_src` path from raw config bytes without
// compiling anything else, so the coordinator can load that script and
// collect its function names before the real LoadBytes compiles every
// expression against them (spec.md §4.A "lib_src-registered function names
// parse as calls" — a name has to be known before the expression parser
// can tell a function call from a bad reference).
func PeekLibSrc(data []byte) (string, error) {
	var doc struct {
		LibSrc string `yaml:"lib_src"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parsing yaml: %w", err)
	}
	return doc.LibSrc, nil
}

// LoadBytes runs the full startup pipeline over in-memory config bytes:
// YAML parse, v1 lowering, env/var substitution, then compilation of every
// provider, logger, and endpoint.
func LoadBytes(data []byte, extraFns map[string]bool) (*Config, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	lowerV1(raw)

	varsRaw, _ := raw["vars"].(map[string]interface{})
	vars, err := resolveVars(varsRaw)
	if err != nil {
		return nil, fmt.Errorf("resolving static vars: %w", err)
	}

	substituted, err := substituteDoc(raw, vars)
	if err != nil {
		return nil, fmt.Errorf("substituting variables: %w", err)
	}

	// Round-trip back through YAML so the generic, substituted tree lands
	// in rawDoc via its yaml struct tags rather than a hand-rolled
	// map-to-struct walker.
	remarshaled, err := yaml.Marshal(substituted)
	if err != nil {
		return nil, fmt.Errorf("re-marshaling substituted config: %w", err)
	}
	var doc rawDoc
	if err := yaml.Unmarshal(remarshaled, &doc); err != nil {
		return nil, fmt.Errorf("decoding substituted config: %w", err)
	}

	general, err := compileGeneral(doc.Config)
	if err != nil {
		return nil, err
	}

	providerSpecs, err := compileProviders(doc.Providers)
	if err != nil {
		return nil, err
	}

	loggerSpecs, err := compileLoggers(doc.Loggers, extraFns)
	if err != nil {
		return nil, err
	}

	endpoints := make([]*EndpointSpec, 0, len(doc.Endpoints))
	for i, re := range doc.Endpoints {
		ep, err := compileEndpoint(re, doc.LoadPattern, providerSpecs, loggerSpecs, extraFns)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", i, err)
		}
		endpoints = append(endpoints, ep)
	}

	return &Config{
		General:    general,
		Providers:  providerSpecs,
		Loggers:    loggerSpecs,
		Endpoints:  endpoints,
		LibSrcPath: doc.LibSrc,
	}, nil
}

func compileGeneral(rg rawGeneralConfig) (GeneralConfig, error) {
	bucket := 60 * time.Second
	if rg.BucketSize != "" {
		d, err := time.ParseDuration(rg.BucketSize)
		if err != nil {
			return GeneralConfig{}, fmt.Errorf("config.bucket_size: %w", err)
		}
		bucket = d
	}

	format := stats.FormatPretty
	if strings.EqualFold(rg.SummaryFormat, "json") {
		format = stats.FormatJSON
	}

	timeout := 30 * time.Second
	if rg.Timeout != "" {
		d, err := time.ParseDuration(rg.Timeout)
		if err != nil {
			return GeneralConfig{}, fmt.Errorf("config.timeout: %w", err)
		}
		timeout = d
	}

	keepAlive := true
	if rg.KeepAlive != nil {
		keepAlive = *rg.KeepAlive
	}

	return GeneralConfig{
		BucketSize:          bucket,
		SummaryFormat:       format,
		Timeout:             timeout,
		KeepAlive:           keepAlive,
		H2:                  rg.H2,
		DisableCompression:  rg.DisableCompression,
		InsecureSkipVerify:  rg.InsecureSkipVerify,
		MaxIdleConnsPerHost: rg.MaxIdleConnsPerHost,
		StatsFile:           rg.StatsFile,
		StatsFileFormat:     rg.StatsFileFormat,
	}, nil
}

var bufferLimitPattern = regexp.MustCompile(`^(auto|fixed)\((\d+)\)$`)

// parseBufferLimit parses "auto(N)"/"fixed(N)" (spec.md §3 "Provider").
// An unset buffer_limit defaults to Auto(1), the smallest legal Auto seed.
func parseBufferLimit(s string) (pchan.LimitKind, int64, error) {
	if s == "" {
		return pchan.Auto, 1, nil
	}
	m := bufferLimitPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, 0, fmt.Errorf("buffer_limit %q: expected auto(N) or fixed(N)", s)
	}
	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("buffer_limit %q: %w", s, err)
	}
	if m[1] == "fixed" {
		return pchan.Fixed, n, nil
	}
	return pchan.Auto, n, nil
}

func parseAutoReturn(s string) (AutoReturnMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return AutoReturnNone, nil
	case "block":
		return AutoReturnBlock, nil
	case "force":
		return AutoReturnForce, nil
	case "if_not_full":
		return AutoReturnIfNotFull, nil
	}
	return 0, fmt.Errorf("auto_return %q: unknown value", s)
}

func parseSendBehavior(s string) SendBehavior {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "force":
		return SendForce
	case "if_not_full":
		return SendIfNotFull
	default:
		return SendBlock
	}
}

func parseFileFormat(s string) providers.FileFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return providers.FormatJSON
	case "csv":
		return providers.FormatCSV
	default:
		return providers.FormatLine
	}
}

func parseCSVHeaders(x interface{}) providers.CSVHeaders {
	switch t := x.(type) {
	case bool:
		return providers.CSVHeaders{UseFirstRow: t}
	case []interface{}:
		hs := make([]string, len(t))
		for i, v := range t {
			hs[i] = fmt.Sprint(v)
		}
		return providers.CSVHeaders{Explicit: hs}
	}
	return providers.CSVHeaders{}
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func parseLoggerTo(to string) (providers.LoggerTarget, string) {
	switch strings.ToLower(strings.TrimSpace(to)) {
	case "stdout", "":
		return providers.LogStdout, ""
	case "stderr":
		return providers.LogStderr, ""
	default:
		return providers.LogFile, to
	}
}

var peakLoadPattern = regexp.MustCompile(`(?i)^\s*([0-9]*\.?[0-9]+(?:[eE][+-]?[0-9]+)?)\s*(hps|hpm)\s*$`)

// parsePeakLoad converts a "<n> hps"/"<n> hpm" literal to hits-per-second
// (spec.md §3 "peak_load (hits per minute/second)"). original_source's
// HitsPer::Minute conversion divides the count by NANOS_IN_SECOND (1e9)
// rather than 60, which reads as a latent unit-conversion bug in the
// original; this port uses the dimensionally correct n/60.0 instead.
func parsePeakLoad(s string) (float64, error) {
	m := peakLoadPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("peak_load %q: expected \"<n> hps\" or \"<n> hpm\"", s)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("peak_load %q: %w", s, err)
	}
	if strings.EqualFold(m[2], "hpm") {
		return n / 60.0, nil
	}
	return n, nil
}

func compileProviders(raw map[string]rawProvider) (map[string]*ProviderSpec, error) {
	out := make(map[string]*ProviderSpec, len(raw))
	for name, rp := range raw {
		kind, n, err := parseBufferLimit(rp.BufferLimit)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		ch := pchan.New(kind, n)

		ar, err := parseAutoReturn(rp.AutoReturn)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}

		var feeder providers.Feeder
		switch strings.ToLower(rp.Kind) {
		case "file":
			feeder = &providers.FileProvider{
				Path:   rp.File,
				Format: parseFileFormat(rp.Format),
				CSV: providers.CSVOptions{
					Headers:   parseCSVHeaders(rp.CSVHeaders),
					Delimiter: firstRune(rp.CSVDelimiter),
					Comment:   firstRune(rp.CSVComment),
				},
				Repeat: rp.Repeat,
				Random: rp.Random,
			}
		case "range":
			if rp.Start == nil || rp.End == nil {
				return nil, fmt.Errorf("provider %q: range requires start and end", name)
			}
			var step int64
			if rp.Step != nil {
				step = *rp.Step
			}
			feeder = &providers.RangeProvider{Start: *rp.Start, End: *rp.End, Step: step, Repeat: rp.Repeat}
		case "list":
			vals := make([]value.Value, len(rp.Values))
			for i := range rp.Values {
				v, err := value.FromYAMLNode(&rp.Values[i])
				if err != nil {
					return nil, fmt.Errorf("provider %q: values[%d]: %w", name, i, err)
				}
				vals[i] = v
			}
			feeder = &providers.ListProvider{Values: vals}
		case "response":
			feeder = nil // passive: fed only by endpoint `provides` sends
		default:
			return nil, fmt.Errorf("provider %q: unknown kind %q", name, rp.Kind)
		}

		out[name] = &ProviderSpec{Name: name, Channel: ch, Feeder: feeder, AutoReturn: ar}
	}
	return out, nil
}

func compileLoggers(raw map[string]rawLogger, extraFns map[string]bool) (map[string]*LoggerSpec, error) {
	out := make(map[string]*LoggerSpec, len(raw))
	for name, rl := range raw {
		target, path := parseLoggerTo(rl.To)
		l, err := providers.NewLogger(target, path, rl.Pretty, rl.Limit)
		if err != nil {
			return nil, fmt.Errorf("logger %q: %w", name, err)
		}

		var sel *SelectSpec
		if rl.Select != "" {
			sel, err = compileSelect(rawSelect{Select: rl.Select}, extraFns)
			if err != nil {
				return nil, fmt.Errorf("logger %q: %w", name, err)
			}
		}

		out[name] = &LoggerSpec{
			Name:    name,
			Channel: pchan.New(pchan.Auto, 64),
			Logger:  l,
			Select:  sel,
		}
	}
	return out, nil
}

func compileSelect(rs rawSelect, extraFns map[string]bool) (*SelectSpec, error) {
	e, err := expr.Compile(rs.Select, extraFns)
	if err != nil {
		return nil, fmt.Errorf("select %q: %w", rs.Select, err)
	}

	var where *expr.Expr
	if rs.Where != "" {
		where, err = expr.Compile(rs.Where, extraFns)
		if err != nil {
			return nil, fmt.Errorf("where %q: %w", rs.Where, err)
		}
		where.WhereSpecial = where.Special
	}

	forEach := make([]*expr.Expr, len(rs.ForEach))
	for i, fe := range rs.ForEach {
		forEach[i], err = expr.Compile(fe, extraFns)
		if err != nil {
			return nil, fmt.Errorf("for_each[%d] %q: %w", i, fe, err)
		}
	}

	return &SelectSpec{Expr: e, Where: where, ForEach: forEach, Send: parseSendBehavior(rs.Send)}, nil
}

func mergeRequiredExpr(required map[string]bool, e *expr.Expr) {
	if e == nil {
		return
	}
	for k := range e.RequiredProviders {
		required[k] = true
	}
}

func mergeRequired(required map[string]bool, sel *SelectSpec) {
	mergeRequiredExpr(required, sel.Expr)
	mergeRequiredExpr(required, sel.Where)
	for _, fe := range sel.ForEach {
		mergeRequiredExpr(required, fe)
	}
}

// buildPattern compiles an endpoint's effective load pattern: its own
// segments if present, else the config-global segments, scaled by its own
// peak_load. A blank peak_load means the endpoint fires once per
// `provides`/`on_demand` trigger rather than on a rate shaper (spec.md §3
// "Endpoint").
func buildPattern(globalSegs, endpointSegs []rawSegment, peakLoadStr string) (*ratepattern.Pattern, error) {
	if peakLoadStr == "" {
		return nil, nil
	}
	segsRaw := endpointSegs
	if len(segsRaw) == 0 {
		segsRaw = globalSegs
	}
	if len(segsRaw) == 0 {
		return nil, fmt.Errorf("peak_load set without a load_pattern (own or global)")
	}

	peak, err := parsePeakLoad(peakLoadStr)
	if err != nil {
		return nil, err
	}

	segs := make([]ratepattern.Segment, len(segsRaw))
	for i, rs := range segsRaw {
		fromPct := math.NaN()
		if rs.From != "" {
			fromPct, err = ratepattern.ParsePercent(rs.From)
			if err != nil {
				return nil, fmt.Errorf("load_pattern[%d].from: %w", i, err)
			}
		}
		toPct, err := ratepattern.ParsePercent(rs.To)
		if err != nil {
			return nil, fmt.Errorf("load_pattern[%d].to: %w", i, err)
		}
		dur, err := time.ParseDuration(rs.Over)
		if err != nil {
			return nil, fmt.Errorf("load_pattern[%d].over: %w", i, err)
		}
		segs[i] = ratepattern.Segment{FromPercent: fromPct, ToPercent: toPct, Duration: dur}
	}
	segs = ratepattern.Normalize(segs)
	return &ratepattern.Pattern{Segments: segs, PeakHPS: peak}, nil
}

func compileEndpoint(
	re rawEndpoint,
	globalLoadPattern []rawSegment,
	providerSpecs map[string]*ProviderSpec,
	loggerSpecs map[string]*LoggerSpec,
	extraFns map[string]bool,
) (*EndpointSpec, error) {
	method := strings.ToUpper(re.Method)
	if method == "" {
		method = "GET"
	}

	urlTpl, err := expr.CompileTemplate(re.URL, extraFns)
	if err != nil {
		return nil, fmt.Errorf("url: %w", err)
	}

	headerTpls := make(map[string]*expr.Expr, len(re.Headers))
	for k, v := range re.Headers {
		tpl, err := expr.CompileTemplate(v, extraFns)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", k, err)
		}
		headerTpls[strings.ToLower(k)] = tpl
	}

	var bodyTpl *expr.Expr
	if re.Body != "" {
		bodyTpl, err = expr.CompileTemplate(re.Body, extraFns)
		if err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
	}

	pattern, err := buildPattern(globalLoadPattern, re.LoadPattern, re.PeakLoad)
	if err != nil {
		return nil, err
	}

	required := make(map[string]bool)

	provides := make(map[string]*Outgoing, len(re.Provides))
	for name, rs := range re.Provides {
		ps, ok := providerSpecs[name]
		if !ok {
			return nil, fmt.Errorf("provides %q: unknown provider", name)
		}
		sel, err := compileSelect(rs, extraFns)
		if err != nil {
			return nil, fmt.Errorf("provides %q: %w", name, err)
		}
		mergeRequired(required, sel)
		provides[name] = &Outgoing{TargetName: name, TargetChannel: ps.Channel, Block: sel.Send == SendBlock, Select: sel}
	}

	logs := make(map[string]*Outgoing, len(re.Logs))
	for name, rs := range re.Logs {
		ls, ok := loggerSpecs[name]
		if !ok {
			return nil, fmt.Errorf("logs %q: unknown logger", name)
		}
		sel, err := compileSelect(rs, extraFns)
		if err != nil {
			return nil, fmt.Errorf("logs %q: %w", name, err)
		}
		mergeRequired(required, sel)
		logs[name] = &Outgoing{TargetName: name, TargetChannel: ls.Channel, Block: sel.Send == SendBlock, Select: sel}
	}

	mergeRequiredExpr(required, urlTpl)
	for _, h := range headerTpls {
		mergeRequiredExpr(required, h)
	}
	mergeRequiredExpr(required, bodyTpl)

	if re.PeakLoad == "" && !re.OnDemand {
		hasGlobalPattern := len(globalLoadPattern) > 0
		hasBlockingProvide := false
		for _, o := range provides {
			if o.Block {
				hasBlockingProvide = true
				break
			}
		}
		if !hasGlobalPattern && !hasBlockingProvide {
			return nil, fmt.Errorf("%s %s: no peak_load, no global load_pattern, and no blocking provides — nothing would ever fire it", method, re.URL)
		}
	}

	maxPar := 0
	if re.MaxParallelRequests != nil {
		maxPar = *re.MaxParallelRequests
	}

	return &EndpointSpec{
		Method:              method,
		RawURL:              re.URL,
		URLTemplate:         urlTpl,
		HeaderTemplates:     headerTpls,
		BodyTemplate:        bodyTpl,
		LoadPattern:         pattern,
		Provides:            provides,
		Logs:                logs,
		OnDemand:            re.OnDemand,
		MaxParallelRequests: maxPar,
		Tags:                re.Tags,
		StatsID:             re.StatsID,
		RequiredProviders:   required,
	}, nil
}
