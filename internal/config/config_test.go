package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/FamilySearch/pewpew/internal/pchan"
)

func TestLoadBytesCompilesEndpointsProvidersLoggers(t *testing.T) {
	t.Setenv("TARGET_HOST", "example.test")

	doc := []byte(`
vars:
  host: "${e:TARGET_HOST}"
  base_url: "https://${v:host}/api"

providers:
  ids:
    kind: range
    start: 0
    end: 100
  names:
    kind: list
    values: ["alice", "bob"]
  responses:
    kind: response
    buffer_limit: auto(4)

loggers:
  errors:
    to: stdout
    pretty: true
    select: "response.status"

load_pattern:
  - to: 100%
    over: 10s

endpoints:
  - url: "${v:base_url}/users/${p:ids}"
    peak_load: "60 hpm"
    provides:
      responses:
        select: "response.status"
        send: block
    logs:
      errors:
        select: "response.status"
        where: "response.status >= 500"
`)

	cfg, err := LoadBytes(doc, nil)
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 3)
	require.Contains(t, cfg.Providers, "ids")
	require.Contains(t, cfg.Providers, "responses")
	require.Nil(t, cfg.Providers["responses"].Feeder)

	require.Len(t, cfg.Loggers, 1)

	require.Len(t, cfg.Endpoints, 1)
	ep := cfg.Endpoints[0]
	require.Equal(t, "GET", ep.Method)
	require.NotNil(t, ep.LoadPattern)
	require.InDelta(t, 1.0, ep.LoadPattern.PeakHPS, 1e-9)
	require.True(t, ep.RequiredProviders["ids"])
	require.Contains(t, ep.Provides, "responses")
	require.Contains(t, ep.Logs, "errors")
	require.NotNil(t, ep.Logs["errors"].Select.Where)
}

func TestLowerV1SingularProviderKeyRenamed(t *testing.T) {
	doc := []byte(`
provider:
  ids:
    kind: range
    start: 0
    end: 5
endpoints:
  - url: "http://x/${p:ids}"
    on_demand: true
`)
	cfg, err := LoadBytes(doc, nil)
	require.NoError(t, err)
	require.Contains(t, cfg.Providers, "ids")
}

func TestLowerV1BareLoadPatternMapBecomesSingleSegmentList(t *testing.T) {
	doc := []byte(`
load_pattern:
  to: 100%
  over: 5s
endpoints:
  - url: "http://x/"
    peak_load: "30 hpm"
`)
	cfg, err := LoadBytes(doc, nil)
	require.NoError(t, err)
	require.NotNil(t, cfg.Endpoints[0].LoadPattern)
	require.Len(t, cfg.Endpoints[0].LoadPattern.Segments, 1)
}

func TestStaticVarCycleRejected(t *testing.T) {
	doc := []byte(`
vars:
  a: "${v:b}"
  b: "${v:a}"
endpoints:
  - url: "${v:a}"
    on_demand: true
`)
	_, err := LoadBytes(doc, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestMissingEnvVarWithoutDefaultFails(t *testing.T) {
	os.Unsetenv("PEWPEW_TEST_MISSING_VAR")
	doc := []byte(`
vars:
  x: "${e:PEWPEW_TEST_MISSING_VAR}"
endpoints:
  - url: "${v:x}"
    on_demand: true
`)
	_, err := LoadBytes(doc, nil)
	require.Error(t, err)
}

func TestEndpointWithoutPeakLoadOrBlockingProvideRejected(t *testing.T) {
	doc := []byte(`
endpoints:
  - url: "http://x/"
`)
	_, err := LoadBytes(doc, nil)
	require.Error(t, err)
}

func TestBufferLimitParsing(t *testing.T) {
	kind, n, err := parseBufferLimit("fixed(10)")
	require.NoError(t, err)
	require.Equal(t, pchan.Fixed, kind)
	require.Equal(t, int64(10), n)

	kind, n, err = parseBufferLimit("")
	require.NoError(t, err)
	require.Equal(t, pchan.Auto, kind)
	require.Equal(t, int64(1), n)
}

func TestPeakLoadMinuteConversionDividesBySixty(t *testing.T) {
	hps, err := parsePeakLoad("60 hpm")
	require.NoError(t, err)
	require.InDelta(t, 1.0, hps, 1e-9)

	hps, err = parsePeakLoad("5 hps")
	require.NoError(t, err)
	require.InDelta(t, 5.0, hps, 1e-9)
}
