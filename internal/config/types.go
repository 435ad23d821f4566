// Package config loads a pewpew YAML configuration into the compiled,
// ready-to-run shape the coordinator needs: resolved variables, instantiated
// providers/loggers, and compiled expression trees for every endpoint
// template and select (spec.md §4.E "Startup", §6 "Configuration file").
package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FamilySearch/pewpew/internal/expr"
	"github.com/FamilySearch/pewpew/internal/pchan"
	"github.com/FamilySearch/pewpew/internal/providers"
	"github.com/FamilySearch/pewpew/internal/ratepattern"
	"github.com/FamilySearch/pewpew/internal/stats"
)

// rawDoc is the shape yaml.v3 decodes the top-level document into, before
// substitution or compilation (spec.md §6 "Top-level keys").
type rawDoc struct {
	Config      rawGeneralConfig         `yaml:"config"`
	LoadPattern []rawSegment             `yaml:"load_pattern"`
	Vars        map[string]interface{}   `yaml:"vars"`
	Providers   map[string]rawProvider   `yaml:"providers"`
	// Provider is the legacy singular-key spelling accepted by the v1
	// lowering pass (lowerV1 renames it into Providers before decode).
	Provider  map[string]rawProvider `yaml:"provider"`
	Loggers   map[string]rawLogger   `yaml:"loggers"`
	Endpoints []rawEndpoint          `yaml:"endpoints"`
	LibSrc    string                 `yaml:"lib_src"`
}

type rawGeneralConfig struct {
	BucketSize          string `yaml:"bucket_size"`
	SummaryFormat       string `yaml:"summary_format"`
	Timeout             string `yaml:"timeout"`
	KeepAlive           *bool  `yaml:"keepalive"`
	H2                  bool   `yaml:"http2"`
	DisableCompression  bool   `yaml:"no_compression"`
	InsecureSkipVerify  bool   `yaml:"insecure_skip_verify"`
	StatsFile           string `yaml:"stats_file"`
	StatsFileFormat     string `yaml:"stats_file_format"`
	MaxIdleConnsPerHost int    `yaml:"max_idle_connections_per_host"`
}

// rawSegment mirrors spec.md §8 scenario 1's worked example shorthand
// `{to: 100%, over: 10s}`: `from` defaults per spec.md §3 "Load Pattern".
type rawSegment struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Over string `yaml:"over"`
}

type rawProvider struct {
	Kind   string `yaml:"kind"`
	Repeat bool   `yaml:"repeat"`
	Random bool   `yaml:"random"`

	// file
	File         string      `yaml:"file"`
	Format       string      `yaml:"format"`
	CSVHeaders   interface{} `yaml:"csv_headers"` // bool (first row) or []string (explicit)
	CSVDelimiter string      `yaml:"csv_delimiter"`
	CSVComment   string      `yaml:"csv_comment"`

	// range
	Start *int64 `yaml:"start"`
	End   *int64 `yaml:"end"`
	Step  *int64 `yaml:"step"`

	// list; kept as raw yaml.Node so object-valued entries convert to
	// value.Value without losing key order through an interface{} decode.
	Values []yaml.Node `yaml:"values"`

	BufferLimit string `yaml:"buffer_limit"` // "auto(5)" or "fixed(10)"
	AutoReturn  string `yaml:"auto_return"`  // none|block|force|if_not_full
}

type rawLogger struct {
	To     string `yaml:"to"` // stdout|stderr|<file path>
	Limit  int64  `yaml:"limit"`
	Pretty bool   `yaml:"pretty"`
	Select string `yaml:"select"`
}

type rawEndpoint struct {
	Method              string               `yaml:"method"`
	URL                 string               `yaml:"url"`
	Headers             map[string]string    `yaml:"headers"`
	Body                string               `yaml:"body"`
	LoadPattern         []rawSegment         `yaml:"load_pattern"`
	PeakLoad            string               `yaml:"peak_load"`
	Provides            map[string]rawSelect `yaml:"provides"`
	Logs                map[string]rawSelect `yaml:"logs"`
	OnDemand            bool                 `yaml:"on_demand"`
	MaxParallelRequests *int                 `yaml:"max_parallel_requests"`
	Tags                map[string]string    `yaml:"tags"`
	StatsID             string               `yaml:"stats_id"`
}

type rawSelect struct {
	Select  string   `yaml:"select"`
	Where   string   `yaml:"where"`
	ForEach []string `yaml:"for_each"`
	Send    string   `yaml:"send"` // block|force|if_not_full, default block
}

// --- compiled shape -------------------------------------------------------

// AutoReturnMode is a provider's configured re-send behavior on request
// completion (spec.md §4.B "Auto-return").
type AutoReturnMode int

const (
	AutoReturnNone AutoReturnMode = iota
	AutoReturnBlock
	AutoReturnForce
	AutoReturnIfNotFull
)

// SendBehavior is how a select pushes a value into its target channel
// (spec.md §3 "Select").
type SendBehavior int

const (
	SendBlock SendBehavior = iota
	SendForce
	SendIfNotFull
)

// SelectSpec is a compiled projection over the per-request record (spec.md
// §3 "Select").
type SelectSpec struct {
	Expr    *expr.Expr
	Where   *expr.Expr
	ForEach []*expr.Expr
	Send    SendBehavior
}

// Outgoing couples a compiled select with the channel it feeds (spec.md
// §4.D "a vector of Outgoing entries").
type Outgoing struct {
	TargetName    string
	TargetChannel *pchan.Chan
	Block         bool // true when Send == SendBlock; used for the concurrency-limit computation
	Select        *SelectSpec
}

// ProviderSpec is one instantiated, running provider (spec.md §3
// "Provider").
type ProviderSpec struct {
	Name       string
	Channel    *pchan.Chan
	Feeder     providers.Feeder
	AutoReturn AutoReturnMode
}

// LoggerSpec is one instantiated logger sink (spec.md §4.B "Logger").
type LoggerSpec struct {
	Name    string
	Channel *pchan.Chan
	Logger  *providers.Logger
	Select  *SelectSpec
}

// EndpointSpec is a fully compiled endpoint ready for internal/runner
// (spec.md §3 "Endpoint").
type EndpointSpec struct {
	Method              string
	RawURL              string // pre-compilation url text, for stats tags and try-run display
	URLTemplate         *expr.Expr
	HeaderTemplates     map[string]*expr.Expr
	BodyTemplate        *expr.Expr
	LoadPattern         *ratepattern.Pattern // nil means no rate shaping: ticks repeat as fast as providers and the concurrency limit allow
	Provides            map[string]*Outgoing
	Logs                map[string]*Outgoing
	OnDemand            bool
	MaxParallelRequests int // 0 means unbounded
	Tags                map[string]string
	StatsID             string
	RequiredProviders   map[string]bool
}

// GeneralConfig is the `config:` section (spec.md §4.E, ambient HTTP/stats
// settings).
type GeneralConfig struct {
	BucketSize          time.Duration
	SummaryFormat       stats.OutputFormat
	Timeout             time.Duration
	KeepAlive           bool
	H2                  bool
	DisableCompression  bool
	InsecureSkipVerify  bool
	MaxIdleConnsPerHost int
	StatsFile           string
	StatsFileFormat     string
}

// Config is the fully compiled, ready-to-run configuration.
type Config struct {
	General    GeneralConfig
	Providers  map[string]*ProviderSpec
	Loggers    map[string]*LoggerSpec
	Endpoints  []*EndpointSpec
	LibSrcPath string
}
