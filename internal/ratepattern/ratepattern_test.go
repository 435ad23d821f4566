package ratepattern

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParsePercentValid(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"1%", 0.01},
		{"106.25%", 1.0625},
		{"1e2%", 1.0},
		{"0%", 0.0},
	}
	for _, c := range cases {
		got, err := ParsePercent(c.in)
		require.NoError(t, err, c.in)
		require.InDelta(t, c.want, got, 1e-12, c.in)
	}
}

func TestParsePercentInvalid(t *testing.T) {
	for _, in := range []string{"-100%", "NaN%", "infinity%", "1e-308%", "50"} {
		_, err := ParsePercent(in)
		require.Error(t, err, in)
	}
}

func TestNormalizeDefaultsFrom(t *testing.T) {
	segs := []Segment{
		{FromPercent: math.NaN(), ToPercent: 0.5, Duration: time.Second},
		{FromPercent: math.NaN(), ToPercent: 1.0, Duration: time.Second},
	}
	out := Normalize(segs)
	require.Equal(t, 0.0, out[0].FromPercent)
	require.Equal(t, 0.5, out[1].FromPercent)
}

func TestLinearRampTickCount(t *testing.T) {
	// peak_load 60 hpm == 1 hps; ramp 0% -> 100% over 10s. The rate integral
	// over a linear 0->peak ramp is the triangle area 0.5*peak*duration = 5,
	// so the closed-form tick count here is 5, not duration*peak (10): the
	// ramp spends its first half well under peak.
	p := Pattern{
		Segments: []Segment{{FromPercent: 0, ToPercent: 1.0, Duration: 10 * time.Second}},
		PeakHPS:  1.0,
	}
	s := NewShaper(p, 0)
	var ticks []time.Duration
	for {
		d, ok := s.Next()
		if !ok {
			break
		}
		ticks = append(ticks, d)
	}
	require.GreaterOrEqual(t, len(ticks), 4)
	require.LessOrEqual(t, len(ticks), 6)
	require.LessOrEqual(t, ticks[len(ticks)-1], 10*time.Second)
	for i := 1; i < len(ticks); i++ {
		require.GreaterOrEqual(t, ticks[i], ticks[i-1])
	}
}

func TestConstantRateTickCountMatchesDurationTimesRate(t *testing.T) {
	// A flat segment (from == to) has no ramp-up cost: total ticks over a
	// window at a constant rate is duration*rate.
	p := Pattern{
		Segments: []Segment{{FromPercent: 1, ToPercent: 1, Duration: 10 * time.Second}},
		PeakHPS:  2.0,
	}
	s := NewShaper(p, 0)
	var ticks []time.Duration
	for {
		d, ok := s.Next()
		if !ok {
			break
		}
		ticks = append(ticks, d)
	}
	require.GreaterOrEqual(t, len(ticks), 19)
	require.LessOrEqual(t, len(ticks), 21)
}

func TestZeroPercentSegmentProducesNoTicks(t *testing.T) {
	p := Pattern{
		Segments: []Segment{{FromPercent: 0, ToPercent: 0, Duration: 5 * time.Second}},
		PeakHPS:  10,
	}
	s := NewShaper(p, 0)
	_, ok := s.Next()
	require.False(t, ok)
}

func TestStartAtAdvancesIntoPattern(t *testing.T) {
	p := Pattern{
		Segments: []Segment{{FromPercent: 1, ToPercent: 1, Duration: 20 * time.Second}},
		PeakHPS:  1.0,
	}
	s := NewShaper(p, 15*time.Second)
	d, ok := s.Next()
	require.True(t, ok)
	require.GreaterOrEqual(t, d, 15*time.Second)
	require.LessOrEqual(t, d, 20*time.Second)
}
