package cli

// This file contains the verify command and the mapping of verdicts to exit
// codes.

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/perfgo/bootcheck/config"
	"github.com/perfgo/bootcheck/inspect"
	"github.com/perfgo/bootcheck/metrics"
	"github.com/perfgo/bootcheck/model"
	"github.com/perfgo/bootcheck/verify"
)

// loadPlan reads --plan, if given, and applies the flags set on the command
// line on top of it.
func loadPlan(ctx *cli.Context) (*config.Plan, error) {
	plan := &config.Plan{}
	if path := ctx.String("plan"); path != "" {
		var err error
		if plan, err = config.LoadPlan(path); err != nil {
			return nil, err
		}
	}

	for flag, dst := range map[string]*string{
		"name":   &plan.Name,
		"disk":   &plan.Disk,
		"xml":    &plan.XML,
		"boot":   &plan.Boot,
		"target": &plan.Target,
		"append": &plan.VM.Append,
	} {
		if ctx.IsSet(flag) {
			*dst = ctx.String(flag)
		}
	}
	if ctx.IsSet("known-good") {
		plan.KnownGood = ctx.StringSlice("known-good")
	}
	if ctx.IsSet("memsize") {
		plan.VM.Memsize = ctx.Int("memsize")
	}
	if ctx.IsSet("smp") {
		plan.VM.SMP = ctx.Int("smp")
	}

	for flag, dst := range map[string]*config.Seconds{
		"wait-to-write":     &plan.WaitToWrite,
		"max-time":          &plan.MaxTime,
		"idle-time":         &plan.IdleTime,
		"graceful-shutdown": &plan.GracefulShutdown,
	} {
		if !ctx.IsSet(flag) {
			continue
		}
		v, err := config.ParseSeconds(ctx.String(flag))
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", flag, err)
		}
		*dst = v
	}

	for flag, dst := range map[string]*[]string{
		"post-conversion-check": &plan.PostConversionCheck,
		"post-boot-check":       &plan.PostBootCheck,
	} {
		if ctx.IsSet(flag) {
			*dst = []string{"sh", "-c", ctx.String(flag)}
		}
	}

	if plan.Name == "" {
		plan.Name = testName(plan.Disk)
	}
	return plan, nil
}

// testName derives a name from the disk file name.
func testName(disk string) string {
	if disk == "" {
		return "guest"
	}
	base := filepath.Base(disk)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (a *App) verify(ctx *cli.Context) error {
	startTime := time.Now()

	plan, err := loadPlan(ctx)
	if err != nil {
		return err
	}

	rec, err := a.startRecording(ctx, model.HistoryTypeVerify, startTime)
	if err != nil {
		return err
	}
	exitCode := exitFail
	defer func() {
		rec.finish(startTime, exitCode)
	}()

	var res *verify.Result
	if ctx.IsSet("skip") {
		res = verify.Skip(a.logger, plan.Name, ctx.String("skip"))
	} else {
		testPlan, err := plan.TestPlan(a.logger)
		if err != nil {
			return err
		}
		vmCfg := plan.VMConfig()
		if err := vmCfg.Validate(); err != nil {
			return err
		}

		engine := a.engine(ctx)
		rec.setEngine(engine, vmCfg)

		reg := metrics.New()
		runner := &verify.Runner{
			Engine:    engine,
			Config:    vmCfg,
			Inspector: inspect.CommandInspector{Logger: a.logger},
			Logger:    a.logger,
			Metrics:   reg,
		}
		res, err = runner.Run(ctx.Context, plan.Name, plan.Disk, plan.XML, &testPlan)
		if err != nil {
			return err
		}
		a.writeMetricsFile(ctx.String("metrics-file"), reg)
		rec.saveMetrics(reg)
		rec.saveConsoleLog(res.Console)
	}

	fmt.Println(res.Summary())
	rec.saveVerify(plan.Disk, res)

	exitCode = verdictExitCode(res.Verdict)
	if exitCode != 0 {
		return cli.Exit("", exitCode)
	}
	return nil
}

func verdictExitCode(v verify.Verdict) int {
	switch v {
	case verify.VerdictPass:
		return 0
	case verify.VerdictSkip:
		return exitSkip
	default:
		return exitFail
	}
}

func (r *recording) saveVerify(disk string, res *verify.Result) {
	if r == nil {
		return
	}
	run := &model.VerifyRun{
		Name:     res.Name,
		Plan:     res.Plan,
		Disk:     disk,
		Verdict:  string(res.Verdict),
		State:    res.State.String(),
		Reason:   res.Reason,
		Polls:    res.Polls,
		BootTime: res.BootTime,
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	r.history.Verify = run
}
