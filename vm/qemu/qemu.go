// Package qemu is a vm.Engine that runs guests as QEMU processes and talks
// to them over QMP.
package qemu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/perfgo/bootcheck/vm"
)

const (
	DefaultBinary  = "qemu-system-x86_64"
	DefaultAccel   = "kvm:tcg"
	DefaultMemsize = 1024

	// qmpRetryInterval is the delay between attempts to reach the monitor
	// socket while QEMU starts.
	qmpRetryInterval = 50 * time.Millisecond
)

var (
	ErrExited        = errors.New("qemu: process exited")
	ErrMarkerMissing = errors.New("qemu: ready marker not seen")
)

// Engine launches QEMU processes. The zero value runs qemu-system-x86_64
// with KVM when available.
type Engine struct {
	Binary string
	Accel  string
	Kernel string
	Initrd string

	// ReadyMarker, when set, must appear on the serial console before Launch
	// returns.
	ReadyMarker string

	// RunDir is the parent of the per-instance directories. Defaults to the
	// system temporary directory.
	RunDir string

	Memsize int
	Logger  zerolog.Logger
}

// Name implements vm.Engine.
func (e *Engine) Name() string {
	return "qemu"
}

// DefaultMemsize implements vm.Engine.
func (e *Engine) DefaultMemsize() int {
	if e.Memsize > 0 {
		return e.Memsize
	}
	return DefaultMemsize
}

func (e *Engine) binary() string {
	if e.Binary != "" {
		return e.Binary
	}
	return DefaultBinary
}

// Create implements vm.Engine. Each instance gets its own run directory for
// the monitor socket and screendumps.
func (e *Engine) Create(ctx context.Context) (vm.Instance, error) {
	base := e.RunDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "bootcheck-"+uuid.NewString()[:8])
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	return &Instance{
		engine:  e,
		logger:  e.Logger.With().Str("rundir", dir).Logger(),
		runDir:  dir,
		memsize: e.DefaultMemsize(),
		smp:     1,
		done:    make(chan struct{}),
		console: newConsole(e.ReadyMarker),
	}, nil
}

// Instance is one QEMU process.
type Instance struct {
	engine *Engine
	logger zerolog.Logger
	runDir string

	memsize    int
	smp        int
	appendOpts string
	drives     []Drive

	cmd     *exec.Cmd
	qmp     *QMPClient
	console *console
	done    chan struct{}
	waitErr error
	shots   int

	mu sync.Mutex
}

func (i *Instance) SetMemsize(mb int) error {
	i.memsize = mb
	return nil
}

func (i *Instance) SetSMP(n int) error {
	i.smp = n
	return nil
}

func (i *Instance) AppendCmdline(opts string) error {
	i.appendOpts = opts
	return nil
}

func (i *Instance) AddDrive(path string, opts vm.DriveOptions) error {
	i.drives = append(i.drives, Drive{Path: path, Format: opts.Format, ReadOnly: opts.ReadOnly})
	return nil
}

func (i *Instance) argsOptions() ArgsOptions {
	return ArgsOptions{
		Binary:    i.engine.binary(),
		Accel:     i.engine.Accel,
		MemsizeMB: i.memsize,
		SMP:       i.smp,
		Kernel:    i.engine.Kernel,
		Initrd:    i.engine.Initrd,
		Append:    i.appendOpts,
		Drives:    i.drives,
		QMPSocket: filepath.Join(i.runDir, "qmp.sock"),
	}
}

// Launch starts QEMU and returns once the monitor is connected and, when
// configured, the ready marker has been printed.
func (i *Instance) Launch(ctx context.Context) error {
	opts := i.argsOptions()
	i.logger.Debug().Str("cmd", BuildCommand(opts)).Msg("Starting QEMU")

	// The process outlives ctx; it is stopped by Shutdown or Close.
	cmd := exec.Command(opts.Binary, BuildArgs(opts)...)
	cmd.Stdout = i.console
	cmd.Stderr = i.console
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", opts.Binary, err)
	}
	i.cmd = cmd
	go func() {
		i.waitErr = cmd.Wait()
		close(i.done)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		qmp, err := i.connect(gctx, opts.QMPSocket)
		if err != nil {
			return err
		}
		i.mu.Lock()
		i.qmp = qmp
		i.mu.Unlock()
		return nil
	})
	if i.engine.ReadyMarker != "" {
		g.Go(func() error {
			select {
			case <-i.console.ready:
				return nil
			case <-i.done:
				return fmt.Errorf("%w: %w", ErrMarkerMissing, i.exitError())
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	if err := g.Wait(); err != nil {
		i.kill()
		return err
	}
	i.logger.Debug().Str("version", i.qmp.Version().String()).Msg("QEMU running")
	return nil
}

func (i *Instance) connect(ctx context.Context, path string) (*QMPClient, error) {
	for {
		qmp, err := DialQMP(ctx, i.logger, path)
		if err == nil {
			return qmp, nil
		}
		select {
		case <-i.done:
			return nil, i.exitError()
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to connect to qmp: %w", ctx.Err())
		case <-time.After(qmpRetryInterval):
		}
	}
}

func (i *Instance) exitError() error {
	tail := lastLine(i.console.Bytes())
	if tail != "" {
		return fmt.Errorf("%w: %v: %s", ErrExited, i.waitErr, tail)
	}
	return fmt.Errorf("%w: %v", ErrExited, i.waitErr)
}

func (i *Instance) monitor() (*QMPClient, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.qmp == nil {
		return nil, vm.ErrNotLaunched
	}
	return i.qmp, nil
}

// Screenshot dumps the display through QMP and decodes the PNG.
func (i *Instance) Screenshot(ctx context.Context) (image.Image, error) {
	qmp, err := i.monitor()
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	i.shots++
	path := filepath.Join(i.runDir, "screen-"+strconv.Itoa(i.shots)+".png")
	i.mu.Unlock()
	defer os.Remove(path)

	if err := qmp.Screendump(ctx, path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open screendump: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode screendump: %w", err)
	}
	return img, nil
}

// DiskWrites returns the write operations summed over every block device.
func (i *Instance) DiskWrites(ctx context.Context) (uint64, error) {
	qmp, err := i.monitor()
	if err != nil {
		return 0, err
	}
	stats, err := qmp.BlockStats(ctx)
	if err != nil {
		return 0, err
	}
	return sumWrites(stats), nil
}

func sumWrites(stats []BlockStats) uint64 {
	var total uint64
	for _, s := range stats {
		total += s.Stats.WrOperations
	}
	return total
}

// Shutdown sends an ACPI power-down, or quits QEMU and kills the process
// when graceful is false.
func (i *Instance) Shutdown(ctx context.Context, graceful bool) error {
	qmp, err := i.monitor()
	if err != nil {
		return err
	}
	if graceful {
		return qmp.Execute(ctx, "system_powerdown", nil, nil)
	}

	if err := qmp.Execute(ctx, "quit", nil, nil); err != nil {
		i.logger.Debug().Err(err).Msg("QMP quit failed, killing QEMU")
	}
	select {
	case <-i.done:
	case <-time.After(time.Second):
		i.kill()
	}
	return nil
}

// Done implements vm.Instance.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// Info implements vm.Instance.
func (i *Instance) Info() []vm.InfoItem {
	items := []vm.InfoItem{
		{Key: "binary", Value: i.engine.binary()},
	}
	if version, err := exec.Command(i.engine.binary(), "--version").Output(); err == nil {
		items = append(items, vm.InfoItem{Key: "version", Value: firstLine(version)})
	}
	accel := i.engine.Accel
	if accel == "" {
		accel = DefaultAccel
	}
	items = append(items, vm.InfoItem{Key: "accel", Value: accel})
	if i.engine.Kernel != "" {
		items = append(items, vm.InfoItem{Key: "kernel", Value: i.engine.Kernel})
	}
	return items
}

// ConsoleLog returns everything QEMU and the guest wrote to the serial
// console.
func (i *Instance) ConsoleLog() []byte {
	return i.console.Bytes()
}

// Close kills QEMU if it is still running and removes the run directory.
func (i *Instance) Close() error {
	i.mu.Lock()
	qmp := i.qmp
	i.qmp = nil
	i.mu.Unlock()

	var errs []error
	if qmp != nil {
		if err := qmp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close qmp: %w", err))
		}
	}
	if i.cmd != nil {
		i.kill()
		<-i.done
	} else {
		close(i.done)
	}
	if err := os.RemoveAll(i.runDir); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove run directory: %w", err))
	}
	return errors.Join(errs...)
}

func (i *Instance) kill() {
	if i.cmd == nil || i.cmd.Process == nil {
		return
	}
	select {
	case <-i.done:
		return
	default:
	}
	if err := i.cmd.Process.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		i.logger.Warn().Err(err).Msg("Failed to kill QEMU")
	}
}

// console collects serial output and signals when the ready marker appears.
type console struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	marker []byte
	ready  chan struct{}
	seen   bool
}

func newConsole(marker string) *console {
	c := &console{ready: make(chan struct{})}
	if marker != "" {
		c.marker = []byte(marker)
	}
	return c
}

func (c *console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Search only the region that could contain a marker split across writes.
	from := max(0, c.buf.Len()-len(c.marker))
	c.buf.Write(p)
	if c.marker != nil && !c.seen && bytes.Contains(c.buf.Bytes()[from:], c.marker) {
		c.seen = true
		close(c.ready)
	}
	return len(p), nil
}

func (c *console) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.buf.Bytes())
}

func firstLine(b []byte) string {
	line, _, _ := bytes.Cut(b, []byte("\n"))
	return string(bytes.TrimSpace(line))
}

func lastLine(b []byte) string {
	b = bytes.TrimSpace(b)
	if idx := bytes.LastIndexByte(b, '\n'); idx >= 0 {
		b = b[idx+1:]
	}
	return string(b)
}
