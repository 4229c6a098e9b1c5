package bench

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func millis(ms ...int) []time.Duration {
	out := make([]time.Duration, len(ms))
	for i, m := range ms {
		out[i] = time.Duration(m) * time.Millisecond
	}
	return out
}

func TestSummarize(t *testing.T) {
	samples := millis(100, 102, 98, 101, 99, 103, 97, 100, 102, 98)

	stats, err := Summarize(samples, 10)
	require.NoError(t, err)
	require.InDelta(t, 100e6, stats.Mean, 1)
	require.InDelta(t, 3.6e12, stats.Variance, 1e3)
	require.InDelta(t, 1.897e6, stats.StdDev, 1e3)
	require.Equal(t, "100.0ms ±1.9ms", stats.String())
	require.Equal(t, 100*time.Millisecond, stats.MeanDuration())
}

func TestSummarizeAccumulatesEveryDeviation(t *testing.T) {
	samples := millis(100, 102, 98, 101, 99, 103, 97, 100, 102, 98)
	stats, err := Summarize(samples, 10)
	require.NoError(t, err)

	// Keeping only the last squared deviation gives 0.4ms² and 0.63ms.
	last := float64(samples[9]) - stats.Mean
	lastOnly := math.Sqrt(last * last / 10)
	require.InDelta(t, 0.632e6, lastOnly, 1e3)
	require.Greater(t, stats.StdDev-lastOnly, 1e6)
}

func TestSummarizeConstant(t *testing.T) {
	stats, err := Summarize(millis(50, 50, 50), 3)
	require.NoError(t, err)
	require.Zero(t, stats.Variance)
	require.Equal(t, "50.0ms ±0.0ms", stats.String())
}

func TestSummarizeRejectsPartialData(t *testing.T) {
	_, err := Summarize(millis(100, 101), 10)
	require.ErrorIs(t, err, ErrIncompleteSamples)

	_, err = Summarize(nil, 0)
	require.ErrorIs(t, err, ErrIncompleteSamples)
}
