package verify

import (
	"fmt"
	"time"
)

// State is a step of the verification state machine.
type State int

const (
	StateCreated State = iota
	StateBooting
	StateSucceeded
	StateFailed
	StateSkipped
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBooting:
		return "booting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	case StateShuttingDown:
		return "shutting-down"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Verdict is the outcome reported to the caller.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
	VerdictSkip Verdict = "skip"
)

// Failure reasons for watchdog timeouts.
const (
	ReasonNoWrite   = "guest did not begin writing to disk"
	ReasonMaxTime   = "boot exceeded maximum time"
	ReasonCancelled = "boot cancelled"
	ReasonNoBoot    = "boot verification skipped by plan"
)

// Result is the structured outcome of one verification run.
type Result struct {
	Name    string
	Plan    string
	Verdict Verdict
	// State is the terminal state reached before shutdown: succeeded,
	// failed or skipped.
	State  State
	Reason string
	Err    error

	// Polls is the number of sampling ticks taken while booting.
	Polls int
	// BootTime is the time from launch to the boot decision.
	BootTime time.Duration

	Started  time.Time
	Duration time.Duration

	// Transitions lists every state entered, in order.
	Transitions []State

	// Console holds the guest serial console when the engine captured it.
	Console []byte
}

// Passed reports whether the run did not fail.
func (r *Result) Passed() bool {
	return r.Verdict != VerdictFail
}

// Summary renders a single human readable line.
func (r *Result) Summary() string {
	switch r.Verdict {
	case VerdictPass:
		if r.State == StateSkipped {
			return fmt.Sprintf("PASS: %s (%s)", r.Name, r.Reason)
		}
		return fmt.Sprintf("PASS: %s (booted in %s after %d polls)", r.Name, r.BootTime, r.Polls)
	case VerdictSkip:
		return fmt.Sprintf("SKIP: %s: %s", r.Name, r.Reason)
	default:
		if r.Err != nil {
			return fmt.Sprintf("FAIL: %s: %s: %v", r.Name, r.Reason, r.Err)
		}
		return fmt.Sprintf("FAIL: %s: %s", r.Name, r.Reason)
	}
}

// Tick is the status of one sampling poll.
type Tick struct {
	N       int
	Elapsed time.Duration
	Writes  uint64
	// IdleFor is the time since the last observed write.
	IdleFor time.Duration
	// Window is the time since the max-time window was last armed.
	Window    time.Duration
	KnownGood bool
	// State is StateBooting while the guest is still booting, otherwise the
	// terminal state decided at this tick.
	State State
}
