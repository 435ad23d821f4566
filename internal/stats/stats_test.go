package stats

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordAndPrintWindowPretty(t *testing.T) {
	var buf bytes.Buffer
	a := New(time.Second, FormatPretty, &buf)
	a.Init(1, Tags{"method": "GET", "url": "http://x/"})

	base := time.Unix(1000, 0)
	a.Record(ResponseStat{EndpointID: 1, Kind: KindResponse, Status: 200, RTT: 10 * time.Millisecond, At: base})
	a.Record(ResponseStat{EndpointID: 1, Kind: KindResponse, Status: 200, RTT: 20 * time.Millisecond, At: base})

	a.PrintWindow(a.windowStart(base))

	out := buf.String()
	require.Contains(t, out, "GET http://x/")
	require.Contains(t, out, "calls made: 2")
}

func TestRecordAndPrintWindowJSON(t *testing.T) {
	var buf bytes.Buffer
	a := New(time.Second, FormatJSON, &buf)
	base := time.Unix(2000, 0)
	a.Record(ResponseStat{EndpointID: 5, Kind: KindResponse, Status: 500, RTT: 5 * time.Millisecond, At: base})

	a.PrintWindow(a.windowStart(base))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded))
	require.EqualValues(t, 1, decoded["callCount"])
}

func TestConnectionErrorsAndTimeoutsTallied(t *testing.T) {
	var buf bytes.Buffer
	a := New(time.Second, FormatJSON, &buf)
	base := time.Unix(3000, 0)
	a.Record(ResponseStat{EndpointID: 1, Kind: KindConnectionError, ErrDesc: "connection refused", At: base})
	a.Record(ResponseStat{EndpointID: 1, Kind: KindTimeout, RTT: 30 * time.Second, At: base})
	a.Record(ResponseStat{EndpointID: 1, Kind: KindResponse, Status: 200, RTT: time.Millisecond, At: base})

	a.PrintWindow(a.windowStart(base))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded))
	require.EqualValues(t, 1, decoded["requestTimeouts"])
	require.Contains(t, decoded["connectionErrors"], "connection refused")
}

func TestFinalSummaryMergesAllBuckets(t *testing.T) {
	var buf bytes.Buffer
	a := New(time.Second, FormatJSON, &buf)
	for i := 0; i < 3; i++ {
		at := time.Unix(int64(4000+i), 0)
		a.Record(ResponseStat{EndpointID: 9, Kind: KindResponse, Status: 200, RTT: time.Millisecond, At: at})
	}
	a.FinalSummary()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &decoded))
	require.EqualValues(t, 3, decoded["callCount"])
}

func TestPersistWritesBinsShape(t *testing.T) {
	a := New(time.Second, FormatJSON, &bytes.Buffer{})
	a.Init(1, Tags{"method": "GET", "url": "http://x/"})
	a.Record(ResponseStat{EndpointID: 1, Kind: KindResponse, Status: 200, RTT: time.Millisecond, At: time.Unix(5000, 0)})

	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, a.Persist(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded persistedFile
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Bins, 1)
	require.Equal(t, "GET", decoded.Bins[0].Tags["method"])
	require.NotEmpty(t, decoded.Bins[0].Buckets[0].HistogramB64)
}
