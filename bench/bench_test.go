package bench_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/bootcheck/bench"
	"github.com/perfgo/bootcheck/clock"
	"github.com/perfgo/bootcheck/metrics"
	"github.com/perfgo/bootcheck/vm"
	"github.com/perfgo/bootcheck/vm/vmtest"
)

var measured = []time.Duration{
	100 * time.Millisecond,
	102 * time.Millisecond,
	98 * time.Millisecond,
	101 * time.Millisecond,
	99 * time.Millisecond,
	103 * time.Millisecond,
	97 * time.Millisecond,
	100 * time.Millisecond,
	102 * time.Millisecond,
	98 * time.Millisecond,
}

func newBenchmark(engine *vmtest.Engine, out *bytes.Buffer) *bench.Benchmark {
	clk := clock.NewMockClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	engine.Clock = clk
	return &bench.Benchmark{
		Engine: engine,
		Config: bench.DefaultConfig(),
		Clock:  clk,
		Logger: zerolog.Nop(),
		Out:    out,
	}
}

func TestRunReportsResult(t *testing.T) {
	warmups := []time.Duration{time.Second, time.Second, time.Second}
	engine := &vmtest.Engine{LaunchDurations: append(warmups, measured...)}

	var out bytes.Buffer
	b := newBenchmark(engine, &out)
	b.Metrics = metrics.New()

	report, err := b.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, "100.0ms ±1.9ms", report.Stats.String())
	require.True(t, strings.HasPrefix(out.String(), "Warming up the appliance cache ...\nRunning the tests ...\n\n"))
	require.True(t, strings.HasSuffix(out.String(), "\nResult: 100.0ms ±1.9ms\n"))
	require.Contains(t, out.String(), "test passes: 10\n")
	require.Contains(t, out.String(), "memsize: 512\n")
	require.Contains(t, out.String(), "engine: fake\n")

	require.Len(t, report.Trials, 13)
	for i, trial := range report.Trials {
		require.Equal(t, i < 3, trial.Warmup)
	}
	require.InDelta(t, 0.1, testutil.ToFloat64(b.Metrics.ResultMean), 1e-9)
	require.Equal(t, 3.0, testutil.ToFloat64(b.Metrics.TrialsTotal.WithLabelValues("warmup", "ok")))
	require.Equal(t, 10.0, testutil.ToFloat64(b.Metrics.TrialsTotal.WithLabelValues("measure", "ok")))
}

func TestSlowWarmupsAreExcluded(t *testing.T) {
	fast := &vmtest.Engine{LaunchDurations: append([]time.Duration{0, 0, 0}, measured...)}
	slow := &vmtest.Engine{LaunchDurations: append([]time.Duration{
		10 * 100 * time.Millisecond,
		10 * 100 * time.Millisecond,
		10 * 100 * time.Millisecond,
	}, measured...)}

	var out bytes.Buffer
	fastReport, err := newBenchmark(fast, &out).Run(context.Background())
	require.NoError(t, err)
	slowReport, err := newBenchmark(slow, &out).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, fastReport.Stats, slowReport.Stats)
}

func TestEveryTrialUsesAFreshSession(t *testing.T) {
	engine := &vmtest.Engine{LaunchDurations: append([]time.Duration{0, 0, 0}, measured...)}

	var out bytes.Buffer
	b := newBenchmark(engine, &out)
	b.Config.VM = vm.Config{MemsizeMB: 768, SMP: 2, Append: "quiet"}
	_, err := b.Run(context.Background())
	require.NoError(t, err)

	instances := engine.Instances()
	require.Len(t, instances, 3+10+1, "one session per pass plus the test info session")
	for _, inst := range instances[:13] {
		require.True(t, inst.Launched())
		require.Equal(t, []vmtest.Drive{{Path: "/dev/null", Opts: vm.DriveOptions{Format: "raw", ReadOnly: true}}}, inst.Drives())
		require.Equal(t, 768, inst.Memsize())
		require.Equal(t, 2, inst.SMP())
		require.Equal(t, "quiet", inst.Append())
	}
	require.False(t, instances[13].Launched(), "the test info session is never launched")
	for _, inst := range instances {
		require.Equal(t, 1, inst.CloseCalls())
	}
	require.Zero(t, engine.Live())
	require.Contains(t, out.String(), "memsize: 768\n")
	require.Contains(t, out.String(), "append: quiet\n")
}

func TestLaunchFailureAborts(t *testing.T) {
	boom := errors.New("qemu exited")
	engine := &vmtest.Engine{Setup: func(inst *vmtest.Instance) {
		if inst.Index == 3+4 {
			inst.LaunchErr = boom
		}
	}}

	var out bytes.Buffer
	b := newBenchmark(engine, &out)
	b.Metrics = metrics.New()
	_, err := b.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "test pass 5")
	require.NotContains(t, out.String(), "Result:")

	require.Len(t, engine.Instances(), 8)
	require.Zero(t, engine.Live())
	require.Equal(t, 1.0, testutil.ToFloat64(b.Metrics.TrialsTotal.WithLabelValues("measure", "error")))
}

func TestWarmupFailureAborts(t *testing.T) {
	engine := &vmtest.Engine{CreateErr: errors.New("no kvm")}

	var out bytes.Buffer
	_, err := newBenchmark(engine, &out).Run(context.Background())
	require.ErrorContains(t, err, "warm-up pass 1")
	require.NotContains(t, out.String(), "Running the tests")
}

func TestConfigValidation(t *testing.T) {
	var out bytes.Buffer
	b := newBenchmark(&vmtest.Engine{}, &out)
	b.Config.Passes = 0
	_, err := b.Run(context.Background())
	require.ErrorIs(t, err, bench.ErrInvalidPasses)

	b = newBenchmark(&vmtest.Engine{}, &out)
	b.Config.VM.MemsizeMB = -1
	_, err = b.Run(context.Background())
	require.ErrorIs(t, err, vm.ErrInvalidMemsize)

	_, err = (&bench.Benchmark{Config: bench.DefaultConfig()}).Run(context.Background())
	require.ErrorIs(t, err, bench.ErrNoEngine)
}

func TestWriteInfo(t *testing.T) {
	var out bytes.Buffer
	bench.WriteInfo(&out, []vm.InfoItem{{Key: "smp", Value: "1"}, {Key: "test passes", Value: "10"}})
	require.Equal(t, "        smp: 1\ntest passes: 10\n", out.String())
}
