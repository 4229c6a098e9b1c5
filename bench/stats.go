package bench

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrIncompleteSamples = errors.New("bench: sample count does not match the number of passes")

// Stats summarizes the measured passes. Values are in nanoseconds.
type Stats struct {
	N        int
	Mean     float64
	Variance float64
	StdDev   float64
}

// Summarize computes the mean and population variance of samples. It refuses
// partial data: len(samples) must equal n.
func Summarize(samples []time.Duration, n int) (Stats, error) {
	if n <= 0 || len(samples) != n {
		return Stats{}, fmt.Errorf("%w: have %d, want %d", ErrIncompleteSamples, len(samples), n)
	}

	var mean float64
	for _, s := range samples {
		mean += float64(s)
	}
	mean /= float64(n)

	var variance float64
	for _, s := range samples {
		d := float64(s) - mean
		variance += d * d
	}
	variance /= float64(n)

	return Stats{
		N:        n,
		Mean:     mean,
		Variance: variance,
		StdDev:   math.Sqrt(variance),
	}, nil
}

// MeanDuration returns the mean rounded to the nearest nanosecond.
func (s Stats) MeanDuration() time.Duration {
	return time.Duration(math.Round(s.Mean))
}

// StdDevDuration returns the standard deviation rounded to the nearest
// nanosecond.
func (s Stats) StdDevDuration() time.Duration {
	return time.Duration(math.Round(s.StdDev))
}

// String formats the result line value, e.g. "100.0ms ±1.9ms".
func (s Stats) String() string {
	return fmt.Sprintf("%.1fms ±%.1fms", s.Mean/1e6, s.StdDev/1e6)
}
