// Package bench measures how long an engine takes to launch a minimal
// appliance. A run discards a few warm-up passes, then times the launch of
// each measured pass in a fresh session and reports the mean and population
// standard deviation.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/perfgo/bootcheck/clock"
	"github.com/perfgo/bootcheck/metrics"
	"github.com/perfgo/bootcheck/vm"
)

const (
	NrWarmupPasses       = 3
	NrTestPasses         = 10
	DefaultLaunchTimeout = 10 * time.Minute

	// NullDrive is attached to every trial so the appliance has a disk.
	NullDrive = "/dev/null"
)

var (
	ErrNoEngine      = errors.New("bench: engine is required")
	ErrInvalidPasses = errors.New("bench: passes must be at least 1")
	ErrInvalidWarmup = errors.New("bench: warm-up passes must not be negative")
)

// Config controls a benchmark run.
type Config struct {
	Warmup        int
	Passes        int
	VM            vm.Config
	LaunchTimeout time.Duration
}

// DefaultConfig returns the standard 3 warm-up and 10 measured passes.
func DefaultConfig() Config {
	return Config{
		Warmup:        NrWarmupPasses,
		Passes:        NrTestPasses,
		VM:            vm.Config{SMP: 1},
		LaunchTimeout: DefaultLaunchTimeout,
	}
}

// Validate checks the configuration before any session is opened.
func (c Config) Validate() error {
	if c.Passes < 1 {
		return ErrInvalidPasses
	}
	if c.Warmup < 0 {
		return ErrInvalidWarmup
	}
	return c.VM.Validate()
}

// Trial records the phase timings of one pass.
type Trial struct {
	Index   int
	Warmup  bool
	Started time.Time

	Create   time.Duration
	AddDrive time.Duration
	Launch   time.Duration
	Close    time.Duration
}

// Total is the wall time of the trial.
func (t Trial) Total() time.Duration {
	return t.Create + t.AddDrive + t.Launch + t.Close
}

// Report is the outcome of a successful run.
type Report struct {
	Info   []vm.InfoItem
	Trials []Trial
	Stats  Stats
}

// Benchmark runs trials against Engine. Progress and the report are written
// to Out; logs go to Logger.
type Benchmark struct {
	Engine  vm.Engine
	Config  Config
	Clock   clock.Clock
	Logger  zerolog.Logger
	Out     io.Writer
	Metrics *metrics.Registry
}

// Run executes the warm-up and measured passes. Any session or launch
// failure aborts the run.
func (b *Benchmark) Run(ctx context.Context) (*Report, error) {
	if b.Engine == nil {
		return nil, ErrNoEngine
	}
	if err := b.Config.Validate(); err != nil {
		return nil, err
	}
	if b.Clock == nil {
		b.Clock = clock.Real()
	}
	if b.Out == nil {
		b.Out = io.Discard
	}
	if b.Config.LaunchTimeout == 0 {
		b.Config.LaunchTimeout = DefaultLaunchTimeout
	}

	report := &Report{}

	fmt.Fprintln(b.Out, "Warming up the appliance cache ...")
	for i := 0; i < b.Config.Warmup; i++ {
		trial, err := b.trial(ctx, i, true)
		report.Trials = append(report.Trials, trial)
		if err != nil {
			return nil, fmt.Errorf("warm-up pass %d: %w", i+1, err)
		}
	}

	fmt.Fprintln(b.Out, "Running the tests ...")
	samples := make([]time.Duration, 0, b.Config.Passes)
	for i := 0; i < b.Config.Passes; i++ {
		trial, err := b.trial(ctx, i, false)
		report.Trials = append(report.Trials, trial)
		if err != nil {
			return nil, fmt.Errorf("test pass %d: %w", i+1, err)
		}
		samples = append(samples, trial.Launch)
	}

	stats, err := Summarize(samples, b.Config.Passes)
	if err != nil {
		return nil, err
	}
	report.Stats = stats
	b.Metrics.SetResult(stats.MeanDuration(), stats.StdDevDuration())

	info, err := b.testInfo(ctx)
	if err != nil {
		return nil, err
	}
	report.Info = info

	fmt.Fprintln(b.Out)
	WriteInfo(b.Out, info)
	fmt.Fprintln(b.Out)
	fmt.Fprintf(b.Out, "Result: %s\n", stats)

	b.Logger.Info().
		Dur("mean", stats.MeanDuration()).
		Dur("stddev", stats.StdDevDuration()).
		Int("passes", stats.N).
		Msg("Benchmark finished")
	return report, nil
}

// trial opens a fresh session, attaches the null drive and launches it.
// Only the launch call is timed for the statistics; the other phases are
// recorded for the trial profile.
func (b *Benchmark) trial(ctx context.Context, index int, warmup bool) (tr Trial, err error) {
	phase := "measure"
	if warmup {
		phase = "warmup"
	}
	logger := b.Logger.With().Str("phase", phase).Int("pass", index+1).Logger()

	tr = Trial{Index: index, Warmup: warmup, Started: b.Clock.Now()}
	defer func() {
		b.Metrics.ObserveTrial(phase, tr.Launch, err)
	}()

	start := b.Clock.Now()
	s, err := vm.Open(ctx, logger, b.Engine, b.Config.VM)
	if err != nil {
		return tr, err
	}
	tr.Create = b.Clock.Since(start)
	defer func() {
		start := b.Clock.Now()
		// Close logs its own failure.
		_ = s.Close()
		tr.Close = b.Clock.Since(start)
	}()

	start = b.Clock.Now()
	if err := s.AddDrive(NullDrive, vm.DriveOptions{Format: "raw", ReadOnly: true}); err != nil {
		return tr, err
	}
	tr.AddDrive = b.Clock.Since(start)

	start = b.Clock.Now()
	if err := s.Launch(ctx, b.Config.LaunchTimeout); err != nil {
		return tr, err
	}
	tr.Launch = b.Clock.Since(start)

	logger.Debug().Dur("launch", tr.Launch).Msg("Trial finished")
	return tr, nil
}

// testInfo opens one extra session to describe the test parameters. The
// session is never launched.
func (b *Benchmark) testInfo(ctx context.Context) ([]vm.InfoItem, error) {
	s, err := vm.Open(ctx, b.Logger, b.Engine, b.Config.VM)
	if err != nil {
		return nil, fmt.Errorf("failed to open test info session: %w", err)
	}
	defer s.Close()

	memsize := b.Config.VM.MemsizeMB
	if memsize == 0 {
		memsize = b.Engine.DefaultMemsize()
	}
	smp := b.Config.VM.SMP
	if smp < 1 {
		smp = 1
	}

	items := []vm.InfoItem{{Key: "host", Value: HostInfo()}}
	items = append(items, s.Info()...)
	items = append(items,
		vm.InfoItem{Key: "test passes", Value: strconv.Itoa(b.Config.Passes)},
		vm.InfoItem{Key: "memsize", Value: strconv.Itoa(memsize)},
		vm.InfoItem{Key: "smp", Value: strconv.Itoa(smp)},
		vm.InfoItem{Key: "append", Value: b.Config.VM.Append},
	)
	return items, nil
}

// WriteInfo prints items one per line with right-aligned keys.
func WriteInfo(w io.Writer, items []vm.InfoItem) {
	width := 0
	for _, item := range items {
		width = max(width, len(item.Key))
	}
	for _, item := range items {
		fmt.Fprintf(w, "%*s: %s\n", width, item.Key, item.Value)
	}
}
