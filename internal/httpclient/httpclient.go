// Package httpclient builds the shared *http.Client used to dispatch every
// endpoint's requests and instruments each round trip with an
// httptrace.ClientTrace, in the manner of the teacher's
// script/requests.go instrument() helper.
package httpclient

import (
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"time"

	"golang.org/x/net/http2"
)

// Config carries the general, test-wide transport options (spec.md §2
// "General config").
type Config struct {
	Timeout             time.Duration
	KeepAlive           bool
	H2                  bool
	DisableCompression  bool
	InsecureSkipVerify  bool
	MaxIdleConnsPerHost int
}

const defaultMaxIdleConnsPerHost = 500

// Build constructs the shared client for the whole test run. One client (and
// its connection pool) is reused across every endpoint runner.
func Build(cfg Config) (*http.Client, error) {
	maxIdle := cfg.MaxIdleConnsPerHost
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConnsPerHost
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		MaxIdleConnsPerHost: maxIdle,
		DisableCompression:  cfg.DisableCompression,
		DisableKeepAlives:   !cfg.KeepAlive,
	}
	if cfg.H2 {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, err
		}
	} else {
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	}

	return &http.Client{Transport: tr, Timeout: cfg.Timeout}, nil
}

// Timing holds the per-phase durations of one round trip (spec.md §4.D step
// 4, "stats.rtt" and the supplemented per-phase breakdown retained from
// original_source's richer result type).
type Timing struct {
	DNS   time.Duration
	Conn  time.Duration
	Req   time.Duration
	Delay time.Duration
	Res   time.Duration
	Total time.Duration
}

// Do issues req over c, wiring an httptrace.ClientTrace to split the round
// trip into its component phases the way instrument() does in the teacher.
func Do(c *http.Client, req *http.Request) (*http.Response, Timing, error) {
	var t Timing
	var dnsStart, connStart, reqStart, delayStart, resStart time.Time

	start := time.Now()
	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			dnsStart = time.Now()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			t.DNS = time.Since(dnsStart)
		},
		GetConn: func(string) {
			connStart = time.Now()
		},
		GotConn: func(info httptrace.GotConnInfo) {
			if !info.Reused {
				t.Conn = time.Since(connStart)
			}
			reqStart = time.Now()
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			t.Req = time.Since(reqStart)
			delayStart = time.Now()
		},
		GotFirstResponseByte: func() {
			t.Delay = time.Since(delayStart)
			resStart = time.Now()
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	resp, err := c.Do(req)
	if !resStart.IsZero() {
		t.Res = time.Since(resStart)
	}
	t.Total = time.Since(start)
	return resp, t, err
}
