// Package verify boots a converted guest and decides whether it booted.
//
// A run walks Created → Booting → {Succeeded, Failed, Skipped} →
// ShuttingDown → Closed. While booting, the runner samples the guest's disk
// write counter and, when the plan needs it, one screenshot per poll. Two
// watchdogs bound the boot: the guest must start writing within WaitToWrite,
// and must decide within MaxTime of the last known-good screen.
package verify

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/perfgo/bootcheck/clock"
	"github.com/perfgo/bootcheck/inspect"
	"github.com/perfgo/bootcheck/metrics"
	"github.com/perfgo/bootcheck/screenshot"
	"github.com/perfgo/bootcheck/vm"
)

var ErrNoEngine = errors.New("verify: engine is required")

// Runner verifies guests on one engine. The zero value of the optional
// fields is usable: a nil Clock means wall time, a nil Inspector means only
// an explicit XML file provides metadata.
type Runner struct {
	Engine    vm.Engine
	Config    vm.Config
	Inspector inspect.Inspector
	Clock     clock.Clock
	Logger    zerolog.Logger
	Metrics   *metrics.Registry

	// OnTick, when set, observes every poll.
	OnTick func(Tick)
}

// Run verifies one guest. disk and xml may be empty. The returned error is
// reserved for harness misuse; test failures are reported in the Result.
func (r *Runner) Run(ctx context.Context, name, disk, xml string, plan *TestPlan) (*Result, error) {
	if r.Engine == nil {
		return nil, ErrNoEngine
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	clk := r.Clock
	if clk == nil {
		clk = clock.Real()
	}

	t := &trial{
		runner: r,
		clk:    clk,
		logger: r.Logger.With().Str("test", name).Str("plan", plan.Boot.String()).Logger(),
		plan:   plan,
		disk:   disk,
		xml:    xml,
	}
	res := t.run(ctx, name)

	r.Metrics.ObserveVerdict(plan.Boot.String(), string(res.Verdict), res.BootTime, res.Polls)
	switch res.Verdict {
	case VerdictFail:
		t.logger.Error().Str("reason", res.Reason).Err(res.Err).Msg("Verification failed")
	default:
		t.logger.Info().Str("verdict", string(res.Verdict)).Dur("boot", res.BootTime).Msg("Verification finished")
	}
	return res, nil
}

// Skip reports a test that was not run at all.
func Skip(logger zerolog.Logger, name, reason string) *Result {
	logger.Info().Str("test", name).Str("reason", reason).Msg("Verification skipped")
	return &Result{
		Name:    name,
		Verdict: VerdictSkip,
		State:   StateSkipped,
		Reason:  reason,
		Started: time.Now(),
	}
}

type trial struct {
	runner *Runner
	clk    clock.Clock
	logger zerolog.Logger
	plan   *TestPlan
	disk   string
	xml    string
	res    *Result
}

func (t *trial) run(ctx context.Context, name string) *Result {
	started := t.clk.Now()
	t.res = &Result{
		Name:    name,
		Plan:    t.plan.Boot.String(),
		Started: started,
	}
	defer func() { t.res.Duration = t.clk.Since(started) }()

	t.enter(StateCreated)
	s, err := vm.Open(ctx, t.logger, t.runner.Engine, t.runner.Config)
	if err != nil {
		t.fail("failed to create VM session", err)
		t.enter(StateClosed)
		return t.res
	}
	defer func() {
		if s.Launched() {
			t.shutdown(ctx, s)
		}
		if console, ok := s.ConsoleLog(); ok {
			t.res.Console = console
		}
		// Close logs its own failure.
		_ = s.Close()
		t.enter(StateClosed)
	}()

	if t.disk != "" {
		if err := s.AddDrive(t.disk, vm.DriveOptions{Format: t.plan.DriveFormat}); err != nil {
			return t.fail("failed to add input disk", err)
		}
	}

	metadata, err := t.metadata(ctx)
	if err != nil {
		return t.fail("failed to load metadata", err)
	}

	if check := t.plan.PostConversionCheck; check != nil {
		if err := runCheck(ctx, "post-conversion check", check, s, t.disk, metadata); err != nil {
			return t.fail("post-conversion check failed", err)
		}
	}

	if _, ok := t.plan.Boot.(NoBoot); ok {
		t.res.Verdict = VerdictPass
		t.res.State = StateSkipped
		t.res.Reason = ReasonNoBoot
		t.enter(StateSkipped)
		return t.res
	}

	t.enter(StateBooting)
	if !t.boot(ctx, s) {
		return t.res
	}
	t.res.Verdict = VerdictPass
	t.res.State = StateSucceeded
	t.enter(StateSucceeded)

	if check := t.plan.PostBootCheck; check != nil {
		if err := runCheck(ctx, "post-boot check", check, s, t.disk, metadata); err != nil {
			return t.fail("post-boot check failed", err)
		}
	}
	return t.res
}

func (t *trial) metadata(ctx context.Context) ([]byte, error) {
	if t.plan.PostConversionCheck == nil && t.plan.PostBootCheck == nil {
		return nil, nil
	}
	switch {
	case t.xml != "":
		return inspect.FileInspector{Path: t.xml}.Inspect(ctx, t.disk)
	case t.runner.Inspector != nil && t.disk != "":
		return t.runner.Inspector.Inspect(ctx, t.disk)
	default:
		return nil, nil
	}
}

// boot launches the guest and polls until the plan decides. It reports
// whether the guest booted; on failure t.res is already filled in.
func (t *trial) boot(ctx context.Context, s *vm.Session) bool {
	plan := t.plan

	// Both watchdogs count from when launch was issued; launch may block for
	// most of the boot.
	start := t.clk.Now()
	if err := s.Launch(ctx, plan.MaxTime); err != nil {
		if ctx.Err() != nil {
			t.fail(ReasonCancelled, err)
		} else {
			t.fail("failed to launch VM", err)
		}
		return false
	}

	last, err := s.DiskWrites(ctx)
	if err != nil {
		t.fail("failed to sample disk writes", err)
		return false
	}

	var (
		// A non-zero counter after launch means the guest wrote while
		// launch was blocking.
		wrote       = last > 0
		lastWrite   = t.clk.Now()
		windowStart = start
		screens     = plan.needsScreenshots()
	)

	for {
		if err := t.clk.Sleep(ctx, plan.PollInterval); err != nil {
			t.fail(ReasonCancelled, err)
			return false
		}
		t.res.Polls++
		now := t.clk.Now()
		tick := Tick{N: t.res.Polls, Elapsed: now.Sub(start), State: StateBooting}
		t.res.BootTime = tick.Elapsed

		writes, err := s.DiskWrites(ctx)
		if err != nil {
			return t.stop(ctx, tick, "failed to sample disk writes", err)
		}
		if writes != last {
			last = writes
			lastWrite = now
			wrote = true
		}
		tick.Writes = writes
		if wrote {
			tick.IdleFor = now.Sub(lastWrite)
		}

		if !wrote && tick.Elapsed >= plan.WaitToWrite {
			return t.stop(ctx, tick, ReasonNoWrite, nil)
		}

		var captured screenshot.Image
		if screens {
			img, err := t.capture(ctx, s)
			if err != nil {
				return t.stop(ctx, tick, "failed to capture screenshot", err)
			}
			captured = screenshot.FromImage("", img)
		}

		if len(plan.KnownGood) > 0 {
			if idx, ok := plan.KnownGood.Find(captured); ok {
				windowStart = now
				tick.KnownGood = true
				t.runner.Metrics.ObserveRearm()
				t.logger.Debug().
					Str("screen", plan.KnownGood[idx].Name).
					Dur("elapsed", tick.Elapsed).
					Msg("Known-good screen matched, max-time window re-armed")
			}
		}

		tick.Window = now.Sub(windowStart)
		if tick.Window >= plan.MaxTime {
			return t.stop(ctx, tick, ReasonMaxTime, nil)
		}

		booted := false
		switch p := plan.Boot.(type) {
		case BootToIdle:
			booted = wrote && tick.IdleFor >= plan.IdleTime
		case BootToScreenshot:
			booted = p.Target.Equal(captured)
		}

		if booted {
			tick.State = StateSucceeded
			t.observe(tick)
			t.logger.Info().Dur("elapsed", tick.Elapsed).Int("polls", tick.N).Msg("Guest booted")
			return true
		}

		t.logger.Debug().
			Int("poll", tick.N).
			Dur("elapsed", tick.Elapsed).
			Uint64("writes", tick.Writes).
			Dur("idle", tick.IdleFor).
			Msg("Still booting")
		t.observe(tick)
	}
}

// capture takes one screenshot, retrying once on error.
func (t *trial) capture(ctx context.Context, s *vm.Session) (image.Image, error) {
	img, err := s.Screenshot(ctx)
	if err == nil {
		return img, nil
	}
	t.logger.Warn().Err(err).Msg("Screenshot failed, retrying")
	return s.Screenshot(ctx)
}

func (t *trial) stop(ctx context.Context, tick Tick, reason string, err error) bool {
	if ctx.Err() != nil {
		reason = ReasonCancelled
		if err == nil {
			err = ctx.Err()
		}
	}
	t.fail(reason, err)
	tick.State = StateFailed
	t.observe(tick)
	return false
}

func (t *trial) observe(tick Tick) {
	if t.runner.OnTick != nil {
		t.runner.OnTick(tick)
	}
}

// shutdown asks the guest to power off and forces it after the grace period.
// Errors are logged and never change the verdict.
func (t *trial) shutdown(ctx context.Context, s *vm.Session) {
	t.enter(StateShuttingDown)
	if s.Exited() {
		return
	}

	// The guest must still be stopped when the run was cancelled.
	ctx = context.WithoutCancel(ctx)

	if err := s.Shutdown(ctx, true); err != nil {
		t.logger.Warn().Err(err).Msg("Graceful shutdown request failed")
	} else {
		deadline := t.clk.Now().Add(t.plan.GracefulShutdown)
		for !s.Exited() && t.clk.Now().Before(deadline) {
			if err := t.clk.Sleep(ctx, t.plan.PollInterval); err != nil {
				break
			}
		}
	}

	if s.Exited() {
		t.logger.Debug().Msg("Guest powered off")
		return
	}
	t.logger.Warn().Dur("grace", t.plan.GracefulShutdown).Msg("Guest did not power off, forcing shutdown")
	if err := s.Shutdown(ctx, false); err != nil {
		t.logger.Warn().Err(err).Msg("Forced shutdown failed")
	}
}

func (t *trial) fail(reason string, err error) *Result {
	t.res.Verdict = VerdictFail
	t.res.State = StateFailed
	t.res.Reason = reason
	t.res.Err = err
	t.enter(StateFailed)
	return t.res
}

func (t *trial) enter(s State) {
	t.res.Transitions = append(t.res.Transitions, s)
	t.logger.Debug().Str("state", s.String()).Msg("State transition")
}
