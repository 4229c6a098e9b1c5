// Package config loads verification plans from YAML files.
//
// A plan file looks like:
//
//	name: fedora-39
//	disk: fedora.qcow2
//	drive_format: qcow2
//	boot: screenshot
//	target: screens/login.png
//	known_good:
//	  - screens/grub.png
//	max_time: 900
//	post_boot_check: [./checks/inspect.sh, --strict]
//
// Durations are seconds or Go duration strings. Relative paths are resolved
// against the directory of the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/perfgo/bootcheck/screenshot"
	"github.com/perfgo/bootcheck/verify"
	"github.com/perfgo/bootcheck/vm"
)

// Seconds is a duration written as a number of seconds or a Go duration
// string.
type Seconds time.Duration

var (
	ErrNonPositiveDuration = errors.New("duration must be positive")
	ErrDurationRange       = errors.New("duration out of range")
)

// maxSeconds is the largest number of seconds a time.Duration holds.
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// ParseSeconds parses a number of seconds or a Go duration string. Every
// timer needs a positive value, so zero is rejected.
func ParseSeconds(value string) (Seconds, error) {
	var d time.Duration
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(f) || math.Abs(f) >= maxSeconds {
			return 0, fmt.Errorf("%w: %q", ErrDurationRange, value)
		}
		d = time.Duration(f * float64(time.Second))
	} else if d, err = time.ParseDuration(value); err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrNonPositiveDuration, value)
	}
	return Seconds(d), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Seconds) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	v, err := ParseSeconds(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = v
	return nil
}

// Duration returns s as a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s)
}

// VMConfig is the vm section of a plan file.
type VMConfig struct {
	Memsize int    `yaml:"memsize"`
	SMP     int    `yaml:"smp"`
	Append  string `yaml:"append"`
}

// Plan is the on-disk form of a verification plan. Zero values mean "use the
// default".
type Plan struct {
	Name        string   `yaml:"name"`
	Disk        string   `yaml:"disk"`
	XML         string   `yaml:"xml"`
	DriveFormat string   `yaml:"drive_format"`
	Boot        string   `yaml:"boot"`
	Target      string   `yaml:"target"`
	KnownGood   []string `yaml:"known_good"`

	WaitToWrite      Seconds `yaml:"wait_to_write"`
	MaxTime          Seconds `yaml:"max_time"`
	IdleTime         Seconds `yaml:"idle_time"`
	GracefulShutdown Seconds `yaml:"graceful_shutdown"`
	PollInterval     Seconds `yaml:"poll_interval"`

	PostConversionCheck []string `yaml:"post_conversion_check"`
	PostBootCheck       []string `yaml:"post_boot_check"`

	VM VMConfig `yaml:"vm"`
}

var ErrTargetMissing = errors.New("config: screenshot boot needs a target")

// LoadPlan reads a plan file. Unknown keys are rejected.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	var p Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
	}

	p.resolve(filepath.Dir(path))
	return &p, nil
}

func (p *Plan) resolve(dir string) {
	abs := func(path string) string {
		if path == "" || filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(dir, path)
	}

	p.Disk = abs(p.Disk)
	p.XML = abs(p.XML)
	p.Target = abs(p.Target)
	for i := range p.KnownGood {
		p.KnownGood[i] = abs(p.KnownGood[i])
	}
	// Only commands given as paths are resolved; bare names use $PATH.
	for _, argv := range [][]string{p.PostConversionCheck, p.PostBootCheck} {
		if len(argv) > 0 && filepath.Base(argv[0]) != argv[0] {
			argv[0] = abs(argv[0])
		}
	}
}

// VMConfig returns the vm section as a vm.Config.
func (p *Plan) VMConfig() vm.Config {
	return vm.Config{MemsizeMB: p.VM.Memsize, SMP: p.VM.SMP, Append: p.VM.Append}
}

// TestPlan builds a verify.TestPlan, loading reference screenshots and
// wrapping check commands.
func (p *Plan) TestPlan(logger zerolog.Logger) (verify.TestPlan, error) {
	plan := verify.DefaultPlan()

	boot, err := verify.ParseBootKind(p.Boot)
	if err != nil {
		return plan, err
	}
	if _, ok := boot.(verify.BootToScreenshot); ok {
		if p.Target == "" {
			return plan, ErrTargetMissing
		}
		target, err := screenshot.Load(p.Target)
		if err != nil {
			return plan, err
		}
		boot = verify.BootToScreenshot{Target: target}
	}
	plan.Boot = boot

	if len(p.KnownGood) > 0 {
		plan.KnownGood, err = screenshot.LoadAll(p.KnownGood)
		if err != nil {
			return plan, err
		}
	}

	setDuration(&plan.WaitToWrite, p.WaitToWrite)
	setDuration(&plan.MaxTime, p.MaxTime)
	setDuration(&plan.IdleTime, p.IdleTime)
	setDuration(&plan.GracefulShutdown, p.GracefulShutdown)
	setDuration(&plan.PollInterval, p.PollInterval)
	if p.DriveFormat != "" {
		plan.DriveFormat = p.DriveFormat
	}

	if len(p.PostConversionCheck) > 0 {
		if plan.PostConversionCheck, err = verify.CommandCheck(logger, p.PostConversionCheck); err != nil {
			return plan, fmt.Errorf("post_conversion_check: %w", err)
		}
	}
	if len(p.PostBootCheck) > 0 {
		if plan.PostBootCheck, err = verify.CommandCheck(logger, p.PostBootCheck); err != nil {
			return plan, fmt.Errorf("post_boot_check: %w", err)
		}
	}

	return plan, plan.Validate()
}

func setDuration(dst *time.Duration, s Seconds) {
	if s > 0 {
		*dst = s.Duration()
	}
}
