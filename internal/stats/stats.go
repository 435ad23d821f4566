// Package stats implements the rolling stats aggregator of spec.md §4.E
// "Coordinator & Stats": per-endpoint RTT histograms bucketed into
// wall-clock-aligned windows, periodic human/JSON summaries, a final
// summary, and stats-file persistence (grounded on original_source's
// src/stats.rs RollingAggregateStats/AggregateStats).
package stats

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/paulbellamy/ratecounter"
)

// OutputFormat selects how a summary is rendered (spec.md §6).
type OutputFormat int

const (
	FormatPretty OutputFormat = iota
	FormatJSON
)

// Tags identifies one endpoint's stats series: method, url, and any
// user-declared tag fields (stats_id in original_source).
type Tags map[string]string

// Kind discriminates one response observation.
type Kind int

const (
	KindResponse Kind = iota
	KindConnectionError
	KindTimeout
)

// ResponseStat is one endpoint-tick outcome, handed to the aggregator from
// the endpoint runner's step 10 (spec.md §4.D).
type ResponseStat struct {
	EndpointID int
	Kind       Kind
	Status     int           // only meaningful for KindResponse
	RTT        time.Duration // round trip time; elapsed-to-failure for Timeout
	ErrDesc    string        // only meaningful for KindConnectionError
	At         time.Time
}

// histMinValue/histMaxValue/histSigFigs bound the RTT histogram to
// microsecond resolution up to one hour, three significant figures —
// matching the precision original_source requests (Histogram::new(3)).
const (
	histMinValue = 1
	histMaxValue = int64(time.Hour / time.Microsecond)
	histSigFigs  = 3
)

// bucket is one (endpoint, time-window) cell: an RTT histogram plus status
// and error tallies (original_source's AggregateStats).
type bucket struct {
	time            int64 // epoch seconds, window start
	durationSeconds int64
	hist            *hdrhistogram.Histogram
	statusCounts    map[int]int64
	connErrors      map[string]int64
	timeouts        int64
	startTime       int64 // epoch seconds of first observation
	endTime         int64 // epoch seconds of last observation
	rate            *ratecounter.RateCounter
}

func newBucket(t int64, durationSeconds int64) *bucket {
	return &bucket{
		time:            t,
		durationSeconds: durationSeconds,
		hist:            hdrhistogram.New(histMinValue, histMaxValue, histSigFigs),
		statusCounts:    make(map[int]int64),
		connErrors:      make(map[string]int64),
		rate:            ratecounter.NewRateCounter(time.Second),
	}
}

func (b *bucket) append(s ResponseStat) {
	epoch := s.At.Unix()
	if b.startTime == 0 {
		b.startTime = epoch
	}
	if epoch > b.endTime {
		b.endTime = epoch
	}
	switch s.Kind {
	case KindConnectionError:
		b.connErrors[s.ErrDesc]++
	case KindTimeout:
		_ = b.hist.RecordValue(s.RTT.Microseconds())
		b.timeouts++
	default:
		_ = b.hist.RecordValue(s.RTT.Microseconds())
		b.statusCounts[s.Status]++
		b.rate.Incr(1)
	}
}

func (b *bucket) merge(o *bucket) {
	if o.startTime != 0 && (b.startTime == 0 || o.startTime < b.startTime) {
		b.startTime = o.startTime
	}
	if o.endTime > b.endTime {
		b.endTime = o.endTime
	}
	b.hist.Merge(o.hist)
	for status, n := range o.statusCounts {
		b.statusCounts[status] += n
	}
	for desc, n := range o.connErrors {
		b.connErrors[desc] += n
	}
	b.timeouts += o.timeouts
}

func (b *bucket) callsMade() int64 { return b.hist.TotalCount() }

// summaryLine is the persisted/printed shape of one bucket, independent of
// OutputFormat.
type summaryLine struct {
	Method           string           `json:"method"`
	URL              string           `json:"url"`
	Tags             Tags             `json:"tags,omitempty"`
	StartTime        int64            `json:"startTime"`
	Timestamp        int64            `json:"timestamp"`
	CallCount        int64            `json:"callCount"`
	StatusCounts     map[int]int64    `json:"statusCounts"`
	RequestTimeouts  int64            `json:"requestTimeouts"`
	ConnectionErrors map[string]int64 `json:"connectionErrors"`
	P50              int64            `json:"p50"`
	P90              int64            `json:"p90"`
	P95              int64            `json:"p95"`
	P99              int64            `json:"p99"`
	P999             int64            `json:"p99_9"`
	Min              int64            `json:"min"`
	Max              int64            `json:"max"`
	Mean             float64          `json:"mean"`
	StdDev           float64          `json:"stddev"`
	RecentRPS        int64            `json:"recentRps"`
}

func (b *bucket) summary(tags Tags) summaryLine {
	return summaryLine{
		Method:           tags["method"],
		URL:              tags["url"],
		Tags:             withoutMethodURL(tags),
		StartTime:        b.time,
		Timestamp:        b.time + b.durationSeconds,
		CallCount:        b.callsMade(),
		StatusCounts:     b.statusCounts,
		RequestTimeouts:  b.timeouts,
		ConnectionErrors: b.connErrors,
		P50:              b.hist.ValueAtQuantile(50),
		P90:              b.hist.ValueAtQuantile(90),
		P95:              b.hist.ValueAtQuantile(95),
		P99:              b.hist.ValueAtQuantile(99),
		P999:             b.hist.ValueAtQuantile(99.9),
		Min:              b.hist.Min(),
		Max:              b.hist.Max(),
		Mean:             round2(b.hist.Mean()),
		StdDev:           round2(b.hist.StdDev()),
		RecentRPS:        b.rate.Rate(),
	}
}

func withoutMethodURL(tags Tags) Tags {
	out := make(Tags, len(tags))
	for k, v := range tags {
		if k != "method" && k != "url" {
			out[k] = v
		}
	}
	return out
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func printSummaryLine(w io.Writer, format OutputFormat, s summaryLine) bool {
	if s.CallCount == 0 {
		return false
	}
	switch format {
	case FormatJSON:
		b, _ := json.Marshal(s)
		fmt.Fprintln(w, string(b))
	default:
		fmt.Fprintf(w, "\n- %s %s:\n", s.Method, s.URL)
		fmt.Fprintf(w, "  calls made: %d\n", s.CallCount)
		fmt.Fprintf(w, "  status counts: %v\n", s.StatusCounts)
		if s.RequestTimeouts > 0 {
			fmt.Fprintf(w, "  request timeouts: %d\n", s.RequestTimeouts)
		}
		if len(s.ConnectionErrors) > 0 {
			fmt.Fprintf(w, "  connection errors: %v\n", s.ConnectionErrors)
		}
		fmt.Fprintf(w, "  p50: %dus, p90: %dus, p95: %dus, p99: %dus, p99.9: %dus\n",
			s.P50, s.P90, s.P95, s.P99, s.P999)
		fmt.Fprintf(w, "  min: %dus, max: %dus, avg: %.2fus, std. dev: %.2fus\n",
			s.Min, s.Max, s.Mean, s.StdDev)
		fmt.Fprintf(w, "  recent rate: %d/s\n", s.RecentRPS)
	}
	return true
}

// endpointSeries is one endpoint's tags plus its time-bucketed history.
type endpointSeries struct {
	tags    Tags
	buckets map[int64]*bucket // keyed by bucket-start epoch seconds
}

// Aggregator is the coordinator-owned rolling stats store: endpoint runners
// call Init and Record on it directly (mutex-guarded), and Run prints a
// summary once per bucket size.
type Aggregator struct {
	mu         sync.Mutex
	bucketSize int64 // seconds
	format     OutputFormat
	out        io.Writer
	series     map[int]*endpointSeries
	order      []int // endpoint ids in first-seen order, for stable output
}

// New constructs an Aggregator. bucketSize is rounded down to whole seconds
// (original_source buckets are second-granularity).
func New(bucketSize time.Duration, format OutputFormat, out io.Writer) *Aggregator {
	if out == nil {
		out = os.Stderr
	}
	secs := int64(bucketSize.Seconds())
	if secs < 1 {
		secs = 1
	}
	return &Aggregator{bucketSize: secs, format: format, out: out, series: make(map[int]*endpointSeries)}
}

// Init registers an endpoint's tags the first time it starts producing
// stats (spec.md §4.E "every endpoint sends init so the stats buckets are
// initialized").
func (a *Aggregator) Init(endpointID int, tags Tags) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.series[endpointID]; ok {
		return
	}
	a.series[endpointID] = &endpointSeries{tags: tags, buckets: make(map[int64]*bucket)}
	a.order = append(a.order, endpointID)
}

func (a *Aggregator) windowStart(t time.Time) int64 {
	epoch := t.Unix()
	return epoch / a.bucketSize * a.bucketSize
}

// Record appends one observation to the bucket covering its timestamp.
func (a *Aggregator) Record(s ResponseStat) {
	a.mu.Lock()
	defer a.mu.Unlock()
	es, ok := a.series[s.EndpointID]
	if !ok {
		es = &endpointSeries{buckets: make(map[int64]*bucket)}
		a.series[s.EndpointID] = es
		a.order = append(a.order, s.EndpointID)
	}
	win := a.windowStart(s.At)
	b, ok := es.buckets[win]
	if !ok {
		b = newBucket(win, a.bucketSize)
		es.buckets[win] = b
	}
	b.append(s)
}

// PrintWindow prints every endpoint's summary for the bucket starting at
// windowStart, if any data landed there (spec.md §4.E periodic summary).
func (a *Aggregator) PrintWindow(windowStart int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	printed := false
	for _, id := range a.order {
		es := a.series[id]
		b, ok := es.buckets[windowStart]
		if !ok {
			continue
		}
		if printSummaryLine(a.out, a.format, b.summary(es.tags)) {
			printed = true
		}
	}
	if a.format == FormatPretty && !printed {
		fmt.Fprintln(a.out, "no data")
	}
}

// Run wakes once per bucket size and prints the just-completed window,
// until done is closed (the coordinator's periodic-summary task).
func (a *Aggregator) Run(done <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(a.bucketSize) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			a.PrintWindow(a.windowStart(now) - a.bucketSize)
		}
	}
}

// FinalSummary prints one rolled-up summary per endpoint spanning its whole
// recorded history (original_source's post-test summary pass).
func (a *Aggregator) FinalSummary() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, id := range a.order {
		es := a.series[id]
		if len(es.buckets) == 0 {
			continue
		}
		keys := make([]int64, 0, len(es.buckets))
		for k := range es.buckets {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		merged := newBucket(keys[0], es.buckets[keys[len(keys)-1]].time+a.bucketSize-keys[0])
		for _, k := range keys {
			merged.merge(es.buckets[k])
		}
		if i == 0 && a.format == FormatPretty {
			fmt.Fprintln(a.out, "\nTest Summary")
		}
		printSummaryLine(a.out, a.format, merged.summary(es.tags))
	}
}

// persistedBin is one endpoint's persisted series (original_source's
// `(StatsId, Vec<AggregateStats>)` bucket_serde shape).
type persistedBin struct {
	Tags    Tags              `json:"tags"`
	Buckets []persistedBucket `json:"buckets"`
}

type persistedBucket struct {
	Time             int64            `json:"time"`
	DurationSeconds  int64            `json:"durationSeconds"`
	StartTime        int64            `json:"startTime"`
	EndTime          int64            `json:"endTime"`
	StatusCounts     map[int]int64    `json:"statusCounts"`
	ConnectionErrors map[string]int64 `json:"connectionErrors"`
	RequestTimeouts  int64            `json:"requestTimeouts"`
	// HistogramB64 is a base64-encoded JSON snapshot of the RTT
	// histogram: the min/max/count/quantiles needed to reproduce the
	// printed summary. This is NOT the original Rust implementation's
	// HDR V2 binary wire format (hdrhistogram-go v1.1.2 does not expose
	// that codec); see DESIGN.md for the deviation.
	HistogramB64 string `json:"histogram"`
}

type persistedFile struct {
	Bins            []persistedBin `json:"bins"`
	DurationSeconds int64          `json:"duration_seconds"`
}

type histSnapshot struct {
	Count  int64   `json:"count"`
	Min    int64   `json:"min"`
	Max    int64   `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	P50    int64   `json:"p50"`
	P90    int64   `json:"p90"`
	P95    int64   `json:"p95"`
	P99    int64   `json:"p99"`
	P999   int64   `json:"p999"`
}

func encodeHistogram(h *hdrhistogram.Histogram) string {
	snap := histSnapshot{
		Count:  h.TotalCount(),
		Min:    h.Min(),
		Max:    h.Max(),
		Mean:   h.Mean(),
		StdDev: h.StdDev(),
		P50:    h.ValueAtQuantile(50),
		P90:    h.ValueAtQuantile(90),
		P95:    h.ValueAtQuantile(95),
		P99:    h.ValueAtQuantile(99),
		P999:   h.ValueAtQuantile(99.9),
	}
	b, _ := json.Marshal(snap)
	return base64.StdEncoding.EncodeToString(b)
}

// Persist writes the whole rolling store to path as
// `{bins:[{tags, buckets:[bucket...]}], duration_seconds}`: each bin is a
// JSON object with "tags" and "buckets" keys, not a [tags, buckets] array
// pair, and each bucket's "histogram" is the base64 JSON snapshot described
// on persistedBucket.
func (a *Aggregator) Persist(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := persistedFile{DurationSeconds: a.bucketSize}
	for _, id := range a.order {
		es := a.series[id]
		keys := make([]int64, 0, len(es.buckets))
		for k := range es.buckets {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		bin := persistedBin{Tags: es.tags}
		for _, k := range keys {
			b := es.buckets[k]
			bin.Buckets = append(bin.Buckets, persistedBucket{
				Time:             b.time,
				DurationSeconds:  b.durationSeconds,
				StartTime:        b.startTime,
				EndTime:          b.endTime,
				StatusCounts:     b.statusCounts,
				ConnectionErrors: b.connErrors,
				RequestTimeouts:  b.timeouts,
				HistogramB64:     encodeHistogram(b.hist),
			})
		}
		out.Bins = append(out.Bins, bin)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating stats file %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
