package providers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/FamilySearch/pewpew/internal/pchan"
	"github.com/FamilySearch/pewpew/internal/value"
)

func drainAll(t *testing.T, ch *pchan.Chan) []value.Value {
	t.Helper()
	var out []value.Value
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		v, ok, err := ch.Recv(ctx)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestRangeProviderAscending(t *testing.T) {
	ch := pchan.New(pchan.Auto, 8)
	p := &RangeProvider{Start: 0, End: 3}
	ctx := context.Background()
	p.Run(ctx, ch)
	vs := drainAll(t, ch)
	require.Len(t, vs, 3)
	require.Equal(t, int64(0), vs[0].Int())
	require.Equal(t, int64(2), vs[2].Int())
}

func TestRangeProviderDescending(t *testing.T) {
	ch := pchan.New(pchan.Auto, 8)
	p := &RangeProvider{Start: 5, End: 2}
	p.Run(context.Background(), ch)
	vs := drainAll(t, ch)
	require.Equal(t, []int64{5, 4, 3}, []int64{vs[0].Int(), vs[1].Int(), vs[2].Int()})
}

func TestListProviderCyclesFiniteValues(t *testing.T) {
	ch := pchan.New(pchan.Fixed, 4)
	p := &ListProvider{Values: []value.Value{value.NewInt(1), value.NewInt(2)}}
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx, ch)

	for i, want := range []int64{1, 2, 1, 2} {
		v, ok, err := ch.Recv(context.Background())
		require.NoError(t, err)
		require.True(t, ok, "iteration %d", i)
		require.Equal(t, want, v.Int())
	}
	cancel()
}

func TestFileProviderLineFormatMixesJSONAndStrings(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "lines")
	require.NoError(t, err)
	_, err = f.WriteString("hello\n42\n{\"a\":1}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ch := pchan.New(pchan.Auto, 8)
	p := &FileProvider{Path: f.Name(), Format: FormatLine}
	p.Run(context.Background(), ch)
	vs := drainAll(t, ch)

	require.Len(t, vs, 3)
	require.Equal(t, value.String, vs[0].Kind())
	require.Equal(t, "hello", vs[0].Str())
	require.Equal(t, value.Int, vs[1].Kind())
	require.Equal(t, int64(42), vs[1].Int())
	require.Equal(t, value.Object, vs[2].Kind())
}

func TestFileProviderCSVWithHeaders(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "rows.csv")
	require.NoError(t, err)
	_, err = f.WriteString("a,b,c\nd,e,f\n1,2,3\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ch := pchan.New(pchan.Auto, 8)
	p := &FileProvider{
		Path:   f.Name(),
		Format: FormatCSV,
		CSV:    CSVOptions{Headers: CSVHeaders{UseFirstRow: true}},
	}
	p.Run(context.Background(), ch)
	vs := drainAll(t, ch)

	require.Len(t, vs, 2)
	av, ok := vs[0].Object().Get("a")
	require.True(t, ok)
	require.Equal(t, "d", av.Str())
	bv, _ := vs[1].Object().Get("b")
	require.Equal(t, int64(2), bv.Int())
}

func TestFileProviderRepeatLoops(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "lines")
	require.NoError(t, err)
	_, err = f.WriteString("x\ny\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ch := pchan.New(pchan.Fixed, 1)
	p := &FileProvider{Path: f.Name(), Format: FormatLine, Repeat: true}
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx, ch)

	for i, want := range []string{"x", "y", "x", "y"} {
		v, ok, err := ch.Recv(context.Background())
		require.NoError(t, err)
		require.True(t, ok, "iteration %d", i)
		require.Equal(t, want, v.Str())
	}
	cancel()
}

func TestLoggerWritesUntilLimitThenKills(t *testing.T) {
	ch := pchan.New(pchan.Fixed, 4)
	l, err := NewLogger(LogStdout, "", true, 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx, ch)

	ch.ForceSend(value.NewString("one"))
	ch.ForceSend(value.NewString("two"))

	select {
	case <-l.Killed():
	case <-time.After(2 * time.Second):
		t.Fatal("logger did not report killed after reaching limit")
	}
	require.Equal(t, int64(2), l.Count())
}
