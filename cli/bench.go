package cli

// This file contains the bench command.

import (
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/perfgo/bootcheck/bench"
	"github.com/perfgo/bootcheck/hostlock"
	"github.com/perfgo/bootcheck/metrics"
	"github.com/perfgo/bootcheck/model"
	"github.com/perfgo/bootcheck/vm"
)

// vmConfig returns the guest configuration given by flags.
func vmConfig(ctx *cli.Context) vm.Config {
	return vm.Config{
		MemsizeMB: ctx.Int("memsize"),
		SMP:       ctx.Int("smp"),
		Append:    ctx.String("append"),
	}
}

func (a *App) bench(ctx *cli.Context) error {
	startTime := time.Now()

	cfg := bench.DefaultConfig()
	cfg.Warmup = ctx.Int("warmup")
	cfg.Passes = ctx.Int("passes")
	cfg.VM = vmConfig(ctx)
	if err := cfg.Validate(); err != nil {
		return err
	}

	engine := a.engine(ctx)
	rec, err := a.startRecording(ctx, model.HistoryTypeBench, startTime)
	if err != nil {
		return err
	}
	rec.setEngine(engine, cfg.VM)

	exitCode := 1
	defer func() {
		rec.finish(startTime, exitCode)
	}()

	lock, err := hostlock.Acquire(ctx.Context, a.logger, ctx.String("lock-file"))
	if err != nil {
		return err
	}
	defer lock.Release()

	reg := metrics.New()
	b := &bench.Benchmark{
		Engine:  engine,
		Config:  cfg,
		Logger:  a.logger,
		Out:     os.Stdout,
		Metrics: reg,
	}
	report, err := b.Run(ctx.Context)
	a.writeMetricsFile(ctx.String("metrics-file"), reg)
	rec.saveMetrics(reg)
	if err != nil {
		a.logger.Error().Err(err).Msg("Benchmark failed")
		return err
	}

	rec.saveBench(cfg, startTime, report)
	exitCode = 0
	return nil
}

func (r *recording) saveBench(cfg bench.Config, startTime time.Time, report *bench.Report) {
	if r == nil {
		return
	}
	run := &model.BenchRun{
		Warmup: cfg.Warmup,
		Passes: cfg.Passes,
		Mean:   report.Stats.MeanDuration(),
		StdDev: report.Stats.StdDevDuration(),
	}
	for _, t := range report.Trials {
		run.Trials = append(run.Trials, model.Trial{
			Index:    t.Index,
			Warmup:   t.Warmup,
			Create:   t.Create,
			AddDrive: t.AddDrive,
			Launch:   t.Launch,
			Close:    t.Close,
		})
	}
	r.history.Bench = run
	r.saveTrialProfile(startTime, report.Trials)
}
