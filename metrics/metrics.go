// Package metrics exposes Prometheus metrics for benchmark trials and
// verification verdicts. Each Registry owns its own prometheus.Registry so
// separate runs and tests never share state.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all harness metrics.
type Registry struct {
	reg *prometheus.Registry

	// Benchmark metrics
	LaunchSeconds *prometheus.HistogramVec
	TrialsTotal   *prometheus.CounterVec
	ResultMean    prometheus.Gauge
	ResultStdDev  prometheus.Gauge

	// Verification metrics
	VerdictsTotal   *prometheus.CounterVec
	BootSeconds     *prometheus.HistogramVec
	PollsTotal      prometheus.Counter
	KnownGoodRearms prometheus.Counter
}

// New returns a Registry backed by a fresh prometheus.Registry.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}
	factory := promauto.With(r.reg)

	r.LaunchSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bootcheck_launch_duration_seconds",
		Help:    "Time from launch request to launch completion",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"phase"})

	r.TrialsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "bootcheck_trials_total",
		Help: "Benchmark trials by phase and outcome",
	}, []string{"phase", "outcome"})

	r.ResultMean = factory.NewGauge(prometheus.GaugeOpts{
		Name: "bootcheck_result_mean_seconds",
		Help: "Mean launch time of the measured passes",
	})

	r.ResultStdDev = factory.NewGauge(prometheus.GaugeOpts{
		Name: "bootcheck_result_stddev_seconds",
		Help: "Population standard deviation of the measured passes",
	})

	r.VerdictsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "bootcheck_verdicts_total",
		Help: "Verification verdicts by plan and verdict",
	}, []string{"plan", "verdict"})

	r.BootSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bootcheck_boot_duration_seconds",
		Help:    "Time from launch to the boot decision",
		Buckets: prometheus.ExponentialBuckets(1, 2, 11),
	}, []string{"plan", "verdict"})

	r.PollsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "bootcheck_polls_total",
		Help: "Sampling polls taken while booting",
	})

	r.KnownGoodRearms = factory.NewCounter(prometheus.CounterOpts{
		Name: "bootcheck_known_good_rearms_total",
		Help: "Times a known-good screenshot re-armed the max-time window",
	})

	return r
}

// ObserveTrial records one benchmark trial. phase is "warmup" or "measure".
func (r *Registry) ObserveTrial(phase string, launch time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	} else {
		r.LaunchSeconds.WithLabelValues(phase).Observe(launch.Seconds())
	}
	r.TrialsTotal.WithLabelValues(phase, outcome).Inc()
}

// SetResult records the benchmark summary.
func (r *Registry) SetResult(mean, stddev time.Duration) {
	if r == nil {
		return
	}
	r.ResultMean.Set(mean.Seconds())
	r.ResultStdDev.Set(stddev.Seconds())
}

// ObserveVerdict records the outcome of one verification run.
func (r *Registry) ObserveVerdict(plan, verdict string, boot time.Duration, polls int) {
	if r == nil {
		return
	}
	r.VerdictsTotal.WithLabelValues(plan, verdict).Inc()
	if polls > 0 {
		r.BootSeconds.WithLabelValues(plan, verdict).Observe(boot.Seconds())
		r.PollsTotal.Add(float64(polls))
	}
}

// ObserveRearm records a known-good match.
func (r *Registry) ObserveRearm() {
	if r == nil {
		return
	}
	r.KnownGoodRearms.Inc()
}

// Gatherer returns the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (r *Registry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
