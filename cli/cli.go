package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/perfgo/bootcheck/bench"
	"github.com/perfgo/bootcheck/history"
	"github.com/perfgo/bootcheck/hostlock"
	"github.com/perfgo/bootcheck/vm"
	"github.com/perfgo/bootcheck/vm/qemu"
)

const AppName = "bootcheck"

// Exit codes of the verify command. 77 follows the automake SKIP convention.
const (
	exitFail = 1
	exitSkip = 77
)

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Verify that converted guests boot and benchmark appliance launch time",
			Authors: []*cli.Author{
				{Name: "Christian Simon", Email: fmt.Sprintf("simon+%s@swine.de", AppName)},
			},
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
				&cli.StringFlag{
					Name:    "history-dir",
					Usage:   "Directory for recorded runs, relative to the git repository root when inside one",
					Value:   history.DefaultDir,
					EnvVars: []string{"BOOTCHECK_HISTORY_DIR"},
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "bench",
		Usage:  "Measure how long the engine takes to launch a minimal appliance",
		Action: app.bench,
		Flags: append(engineFlags(),
			&cli.IntFlag{
				Name:  "warmup",
				Usage: "Number of warm-up passes excluded from the result",
				Value: bench.NrWarmupPasses,
			},
			&cli.IntFlag{
				Name:  "passes",
				Usage: "Number of measured passes",
				Value: bench.NrTestPasses,
			},
			&cli.StringFlag{
				Name:    "lock-file",
				Usage:   "Exclusive host lock held while benchmarking",
				Value:   hostlock.DefaultPath(),
				EnvVars: []string{"BOOTCHECK_LOCK_FILE"},
			},
			recordFlag(),
			metricsFileFlag(),
		),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "verify",
		Usage:  "Boot a converted guest and check that it reaches the expected state",
		Action: app.verify,
		Flags: append(engineFlags(),
			&cli.StringFlag{
				Name:  "plan",
				Usage: "YAML test plan; flags override values from the file",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Test name used in the report",
			},
			&cli.StringFlag{
				Name:  "disk",
				Usage: "Converted disk image to boot",
			},
			&cli.StringFlag{
				Name:  "xml",
				Usage: "Inspection metadata XML handed to checks (default: run virt-inspector when a check is set)",
			},
			&cli.StringFlag{
				Name:  "boot",
				Usage: "Boot plan: none, idle or screenshot",
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "Reference PNG the screen must match for the screenshot plan",
			},
			&cli.StringSliceFlag{
				Name:  "known-good",
				Usage: "Reference PNG of an expected intermediate screen; a match re-arms the max-time watchdog",
			},
			&cli.StringFlag{
				Name:  "wait-to-write",
				Usage: "Fail if the guest has not written to disk after this long (seconds or duration)",
			},
			&cli.StringFlag{
				Name:  "max-time",
				Usage: "Fail if the boot is not decided within this long of the last known-good screen",
			},
			&cli.StringFlag{
				Name:  "idle-time",
				Usage: "Consider the guest booted after it stopped writing for this long",
			},
			&cli.StringFlag{
				Name:  "graceful-shutdown",
				Usage: "Time the guest gets to power off before it is stopped forcibly",
			},
			&cli.StringFlag{
				Name:  "post-conversion-check",
				Usage: "Shell command run before boot; BOOTCHECK_DISK and BOOTCHECK_METADATA are set",
			},
			&cli.StringFlag{
				Name:  "post-boot-check",
				Usage: "Shell command run after a successful boot",
			},
			&cli.StringFlag{
				Name:  "skip",
				Usage: "Report the test as skipped with this reason without booting",
			},
			recordFlag(),
			metricsFileFlag(),
		),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list",
		Usage:  "List previous runs",
		Action: app.list,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Filter by run type (bench or verify)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:            "view",
		Usage:           "View a recorded run",
		ArgsUsage:       "[ID|INDEX]",
		Action:          app.view,
		SkipFlagParsing: true,
		Description: `View a recorded run from history.

Arguments:
  0           View last run (default)
  -1          View 2nd last run
  -2          View 3rd last run
  <hex-id>    View run matching the hex ID prefix

Examples:
  bootcheck view                 # View last run
  bootcheck view -1              # View 2nd last run
  bootcheck view abc123 -- -top  # Open the trial profile of run abc123 in pprof

Display Priority:
  1. Trial profiles (trials.pb.gz), opened with go tool pprof
  2. Run summary and console log`,
	})
	return app
}

// engineFlags are shared by every command that starts guests.
func engineFlags() []cli.Flag {
	return append(vmFlags(),
		&cli.StringFlag{
			Name:    "qemu",
			Usage:   "QEMU system emulator binary",
			Value:   qemu.DefaultBinary,
			EnvVars: []string{"BOOTCHECK_QEMU"},
		},
		&cli.StringFlag{
			Name:    "accel",
			Usage:   "QEMU accelerator list",
			Value:   qemu.DefaultAccel,
			EnvVars: []string{"BOOTCHECK_ACCEL"},
		},
		&cli.StringFlag{
			Name:    "kernel",
			Usage:   "Appliance kernel booted directly by QEMU",
			EnvVars: []string{"BOOTCHECK_KERNEL"},
		},
		&cli.StringFlag{
			Name:    "initrd",
			Usage:   "Appliance initrd",
			EnvVars: []string{"BOOTCHECK_INITRD"},
		},
		&cli.StringFlag{
			Name:    "ready-marker",
			Usage:   "Serial console text that marks the appliance as launched",
			EnvVars: []string{"BOOTCHECK_READY_MARKER"},
		},
	)
}

// vmFlags set the guest configuration applied to every session.
func vmFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "append",
			Usage:   "Append extra arguments to the appliance kernel command line",
			EnvVars: []string{"BOOTCHECK_APPEND"},
		},
		&cli.IntFlag{
			Name:    "memsize",
			Aliases: []string{"m"},
			Usage:   memsizeUsage(&qemu.Engine{}),
			EnvVars: []string{"BOOTCHECK_MEMSIZE"},
		},
		&cli.IntFlag{
			Name:    "smp",
			Usage:   "Set number of virtual CPUs (default: 1)",
			EnvVars: []string{"BOOTCHECK_SMP"},
		},
	}
}

// memsizeUsage asks the engine for the memory size a guest gets by default.
func memsizeUsage(engine vm.Engine) string {
	return fmt.Sprintf("Set memory size in megabytes (default: %d)", engine.DefaultMemsize())
}

func recordFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "record",
		Usage: "Record the run and its artifacts in the history directory",
	}
}

func metricsFileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "metrics-file",
		Usage: "Write Prometheus metrics in text format to this file",
	}
}

func (a *App) engine(ctx *cli.Context) *qemu.Engine {
	return &qemu.Engine{
		Binary:      ctx.String("qemu"),
		Accel:       ctx.String("accel"),
		Kernel:      ctx.String("kernel"),
		Initrd:      ctx.String("initrd"),
		ReadyMarker: ctx.String("ready-marker"),
		Logger:      a.logger,
	}
}

func (a *App) Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.cli.RunContext(ctx, args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:min(8, len(commit))], date)
	}
}
