package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/perfgo/bootcheck/screenshot"
	"github.com/perfgo/bootcheck/vm"
)

// Default timer values.
const (
	DefaultWaitToWrite      = 120 * time.Second
	DefaultMaxTime          = 600 * time.Second
	DefaultIdleTime         = 60 * time.Second
	DefaultGracefulShutdown = 60 * time.Second
	DefaultPollInterval     = time.Second
	DefaultDriveFormat      = "raw"
)

var (
	ErrNilPlan        = errors.New("verify: test plan is required")
	ErrNoBootPlan     = errors.New("verify: boot plan is required")
	ErrNoTarget       = errors.New("verify: screenshot boot plan needs a target image")
	ErrInvalidTimer   = errors.New("verify: timers must be positive")
	ErrUnknownBootKey = errors.New("verify: unknown boot plan")
)

// Check is a caller-supplied hook. metadata is the inspection XML of the
// disk, or nil when none is available.
type Check func(ctx context.Context, s *vm.Session, disk string, metadata []byte) error

// BootPlan decides when a guest counts as booted. The set of plans is
// closed: NoBoot, BootToIdle and BootToScreenshot.
type BootPlan interface {
	fmt.Stringer
	bootPlan()
}

// NoBoot skips boot verification entirely.
type NoBoot struct{}

// BootToIdle succeeds once disk writes have stopped for the plan's IdleTime.
type BootToIdle struct{}

// BootToScreenshot succeeds once the framebuffer matches Target.
type BootToScreenshot struct {
	Target screenshot.Image
}

func (NoBoot) bootPlan()           {}
func (BootToIdle) bootPlan()       {}
func (BootToScreenshot) bootPlan() {}

func (NoBoot) String() string     { return "none" }
func (BootToIdle) String() string { return "idle" }
func (p BootToScreenshot) String() string {
	if p.Target.Name != "" {
		return "screenshot(" + p.Target.Name + ")"
	}
	return "screenshot"
}

// ParseBootKind maps the short names used on the command line and in plan
// files to a plan. Screenshot plans are returned without a target.
func ParseBootKind(kind string) (BootPlan, error) {
	switch kind {
	case "none", "no-boot":
		return NoBoot{}, nil
	case "idle", "", "boot-to-idle":
		return BootToIdle{}, nil
	case "screenshot", "boot-to-screenshot":
		return BootToScreenshot{}, nil
	default:
		return nil, fmt.Errorf("%w: %q (use none, idle or screenshot)", ErrUnknownBootKey, kind)
	}
}

// TestPlan configures one verification run. Build it with DefaultPlan and
// adjust fields; the runner never mutates it.
type TestPlan struct {
	PostConversionCheck Check
	Boot                BootPlan

	WaitToWrite      time.Duration
	MaxTime          time.Duration
	IdleTime         time.Duration
	GracefulShutdown time.Duration
	PollInterval     time.Duration

	// KnownGood screens re-arm the max-time window when matched.
	KnownGood screenshot.Set

	PostBootCheck Check

	// DriveFormat is the format of the input disk.
	DriveFormat string
}

// DefaultPlan returns a fresh plan that boots to idle with default timers.
func DefaultPlan() TestPlan {
	return TestPlan{
		Boot:             BootToIdle{},
		WaitToWrite:      DefaultWaitToWrite,
		MaxTime:          DefaultMaxTime,
		IdleTime:         DefaultIdleTime,
		GracefulShutdown: DefaultGracefulShutdown,
		PollInterval:     DefaultPollInterval,
		DriveFormat:      DefaultDriveFormat,
	}
}

// Validate checks the plan before any VM is created.
func (p *TestPlan) Validate() error {
	if p == nil {
		return ErrNilPlan
	}
	switch b := p.Boot.(type) {
	case nil:
		return ErrNoBootPlan
	case NoBoot:
		return nil
	case BootToIdle:
	case BootToScreenshot:
		if b.Target.Width == 0 || b.Target.Height == 0 {
			return ErrNoTarget
		}
	default:
		panic(fmt.Sprintf("verify: unhandled boot plan %T", b))
	}

	timers := []struct {
		name string
		d    time.Duration
	}{
		{"wait-to-write", p.WaitToWrite},
		{"max-time", p.MaxTime},
		{"idle-time", p.IdleTime},
		{"graceful-shutdown", p.GracefulShutdown},
		{"poll-interval", p.PollInterval},
	}
	for _, timer := range timers {
		if timer.d <= 0 {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTimer, timer.name, timer.d)
		}
	}
	return nil
}

func (p *TestPlan) needsScreenshots() bool {
	if len(p.KnownGood) > 0 {
		return true
	}
	_, ok := p.Boot.(BootToScreenshot)
	return ok
}
