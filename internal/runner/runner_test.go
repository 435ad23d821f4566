package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/FamilySearch/pewpew/internal/config"
	"github.com/FamilySearch/pewpew/internal/httpclient"
	"github.com/FamilySearch/pewpew/internal/providers"
	"github.com/FamilySearch/pewpew/internal/stats"
)

func TestRunnerFiresRequestsAgainstRateShapedEndpoint(t *testing.T) {
	var gotPaths []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPaths = append(gotPaths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	doc := []byte(`
providers:
  ids:
    kind: list
    values: [1, 2, 3]

endpoints:
  - url: "` + srv.URL + `/items/${p:ids}"
    peak_load: "600 hpm"
    load_pattern:
      - to: 100%
        over: 200ms
`)
	cfg, err := config.LoadBytes(doc, nil)
	require.NoError(t, err)
	require.Len(t, cfg.Endpoints, 1)

	for _, ps := range cfg.Providers {
		if ps.Feeder != nil {
			providers.Spawn(context.Background(), ps.Channel, ps.Feeder)
		}
	}

	client, err := httpclient.Build(httpclient.Config{Timeout: 2 * time.Second})
	require.NoError(t, err)

	agg := stats.New(time.Minute, stats.FormatJSON, nil)
	rn := New(0, cfg.Endpoints[0], client, 2*time.Second, agg, cfg.Providers, nil)
	rn.StartAt = 0

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	err = rn.Run(ctx)
	require.NoError(t, err) // the 200ms pattern is exhausted before the 400ms deadline

	mu.Lock()
	n := len(gotPaths)
	mu.Unlock()
	require.Greater(t, n, 0)
}

func TestPlanTryRunOrdersUpstreamBeforeTarget(t *testing.T) {
	doc := []byte(`
providers:
  sessions:
    kind: response

endpoints:
  - url: "http://upstream/login"
    on_demand: true
    provides:
      sessions:
        select: "response.body.token"
        send: block
  - url: "http://target/profile/${p:sessions}"
    on_demand: true
`)
	cfg, err := config.LoadBytes(doc, nil)
	require.NoError(t, err)
	require.Len(t, cfg.Endpoints, 2)

	target := cfg.Endpoints[1]
	plan, err := PlanTryRun(target, cfg.Endpoints, cfg.Providers)
	require.NoError(t, err)
	require.Len(t, plan.Endpoints, 2)
	require.Same(t, cfg.Endpoints[0], plan.Endpoints[0])
	require.Same(t, target, plan.Endpoints[1])
}

func TestConnectionErrorSkipsAutoReturn(t *testing.T) {
	doc := []byte(`
providers:
  ids:
    kind: range
    auto_return: force
    start: 0
    end: 1

endpoints:
  - url: "http://127.0.0.1:1/items/${p:ids}"
    on_demand: true
`)
	cfg, err := config.LoadBytes(doc, nil)
	require.NoError(t, err)
	require.Len(t, cfg.Endpoints, 1)

	ps := cfg.Providers["ids"]
	providers.Spawn(context.Background(), ps.Channel, ps.Feeder)

	client, err := httpclient.Build(httpclient.Config{Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	agg := stats.New(time.Minute, stats.FormatJSON, nil)
	rn := New(0, cfg.Endpoints[0], client, 200*time.Millisecond, agg, cfg.Providers, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = rn.RunOnce(ctx)
	require.NoError(t, err) // connection errors don't fail the tick

	// auto_return: force would otherwise refill the channel synchronously;
	// a connection error must not trigger it (spec.md §9).
	_, ok, err := ps.Channel.Recv(ctx)
	require.NoError(t, err)
	require.False(t, ok, "provider value must not have been auto-returned on a connection error")
}

func TestPlanTryRunErrorsOnUnsatisfiableProvider(t *testing.T) {
	doc := []byte(`
providers:
  sessions:
    kind: response

endpoints:
  - url: "http://target/profile/${p:sessions}"
    on_demand: true
`)
	cfg, err := config.LoadBytes(doc, nil)
	require.NoError(t, err)

	_, err = PlanTryRun(cfg.Endpoints[0], cfg.Endpoints, cfg.Providers)
	require.Error(t, err)
}
