// Package vmtest provides a scripted in-memory vm.Engine for tests.
package vmtest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strconv"
	"sync"
	"time"

	"github.com/perfgo/bootcheck/clock"
	"github.com/perfgo/bootcheck/vm"
)

// ErrScripted is returned by scripted failures that do not set their own error.
var ErrScripted = errors.New("vmtest: scripted failure")

// Engine is a fake vm.Engine. Fields must be set before first use.
type Engine struct {
	// Clock, when set, is advanced by LaunchDurations and used to compute the
	// elapsed time passed to WritesAt.
	Clock *clock.MockClock

	// LaunchDurations are consumed one per Launch, in creation order. Once
	// exhausted, launches take no time.
	LaunchDurations []time.Duration

	// CreateErr fails every Create.
	CreateErr error

	// Setup customizes each instance right after creation. The argument's
	// Index is the 0-based creation order.
	Setup func(inst *Instance)

	Memsize int

	mu        sync.Mutex
	instances []*Instance
	launches  int
}

// Name implements vm.Engine.
func (e *Engine) Name() string {
	return "fake"
}

// DefaultMemsize implements vm.Engine.
func (e *Engine) DefaultMemsize() int {
	if e.Memsize == 0 {
		return 512
	}
	return e.Memsize
}

// Create implements vm.Engine.
func (e *Engine) Create(ctx context.Context) (vm.Instance, error) {
	if e.CreateErr != nil {
		return nil, e.CreateErr
	}
	e.mu.Lock()
	inst := &Instance{
		Index:  len(e.instances),
		engine: e,
		done:   make(chan struct{}),
	}
	e.instances = append(e.instances, inst)
	e.mu.Unlock()

	if e.Setup != nil {
		e.Setup(inst)
	}
	return inst, nil
}

// Instances returns every instance created so far.
func (e *Engine) Instances() []*Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Instance(nil), e.instances...)
}

// Live returns the number of created instances that are not yet closed.
func (e *Engine) Live() int {
	live := 0
	for _, inst := range e.Instances() {
		if inst.CloseCalls() == 0 {
			live++
		}
	}
	return live
}

func (e *Engine) nextLaunchDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	var d time.Duration
	if e.launches < len(e.LaunchDurations) {
		d = e.LaunchDurations[e.launches]
	}
	e.launches++
	return d
}

// Drive records an AddDrive call.
type Drive struct {
	Path string
	Opts vm.DriveOptions
}

// Instance is a fake vm.Instance.
type Instance struct {
	Index int

	// LaunchErr fails Launch.
	LaunchErr error
	// BlockLaunch makes Launch wait for ctx to be done.
	BlockLaunch bool

	// WritesAt returns the write counter given the time since launch.
	// Nil means the guest never writes.
	WritesAt func(elapsed time.Duration) uint64

	// ScreenAt returns the framebuffer for the n-th capture (0-based).
	// Nil returns a black image.
	ScreenAt func(n int) image.Image
	// ScreenshotErrs fails the n-th capture when the map holds an entry.
	ScreenshotErrs map[int]error

	// ExitOnPowerdown makes a graceful shutdown terminate the VM.
	ExitOnPowerdown bool

	// ShutdownErr fails every Shutdown call.
	ShutdownErr error
	// CloseErr fails Close.
	CloseErr error

	// Console is returned by ConsoleLog.
	Console []byte

	engine *Engine
	done   chan struct{}

	mu          sync.Mutex
	memsize     int
	smp         int
	appendOpts  string
	drives      []Drive
	launched    bool
	launchedAt  time.Time
	screenshots int
	samples     int
	graceful    int
	forced      int
	closeCalls  int
	exited      bool
}

func (i *Instance) SetMemsize(mb int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.memsize = mb
	return nil
}

func (i *Instance) SetSMP(n int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.smp = n
	return nil
}

func (i *Instance) AppendCmdline(opts string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.appendOpts = opts
	return nil
}

func (i *Instance) AddDrive(path string, opts vm.DriveOptions) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.drives = append(i.drives, Drive{Path: path, Opts: opts})
	return nil
}

func (i *Instance) Launch(ctx context.Context) error {
	if i.BlockLaunch {
		<-ctx.Done()
		return ctx.Err()
	}
	if i.LaunchErr != nil {
		return i.LaunchErr
	}
	d := i.engine.nextLaunchDuration()
	if i.engine.Clock != nil {
		i.engine.Clock.Advance(d)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.launched = true
	i.launchedAt = i.now()
	return nil
}

func (i *Instance) Screenshot(ctx context.Context) (image.Image, error) {
	i.mu.Lock()
	n := i.screenshots
	i.screenshots++
	i.mu.Unlock()

	if err, ok := i.ScreenshotErrs[n]; ok {
		if err == nil {
			err = ErrScripted
		}
		return nil, err
	}
	if i.ScreenAt == nil {
		return Solid(color.Black), nil
	}
	return i.ScreenAt(n), nil
}

func (i *Instance) DiskWrites(ctx context.Context) (uint64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.samples++
	if i.WritesAt == nil {
		return 0, nil
	}
	return i.WritesAt(i.now().Sub(i.launchedAt)), nil
}

func (i *Instance) Shutdown(ctx context.Context, graceful bool) error {
	if i.ShutdownErr != nil {
		return i.ShutdownErr
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if graceful {
		i.graceful++
		if i.ExitOnPowerdown {
			i.exitLocked()
		}
		return nil
	}
	i.forced++
	i.exitLocked()
	return nil
}

func (i *Instance) Done() <-chan struct{} {
	return i.done
}

func (i *Instance) Info() []vm.InfoItem {
	i.mu.Lock()
	defer i.mu.Unlock()
	return []vm.InfoItem{
		{Key: "hypervisor", Value: "fake"},
		{Key: "drives", Value: strconv.Itoa(len(i.drives))},
	}
}

func (i *Instance) ConsoleLog() []byte {
	return i.Console
}

func (i *Instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closeCalls++
	i.exitLocked()
	return i.CloseErr
}

func (i *Instance) exitLocked() {
	if !i.exited {
		i.exited = true
		close(i.done)
	}
}

func (i *Instance) now() time.Time {
	if i.engine.Clock != nil {
		return i.engine.Clock.Now()
	}
	return time.Now()
}

// Memsize returns the configured memory size.
func (i *Instance) Memsize() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.memsize
}

// SMP returns the configured CPU count.
func (i *Instance) SMP() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.smp
}

// Append returns the configured kernel command line.
func (i *Instance) Append() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.appendOpts
}

// Drives returns the attached drives.
func (i *Instance) Drives() []Drive {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Drive(nil), i.drives...)
}

// Launched reports whether Launch succeeded.
func (i *Instance) Launched() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.launched
}

// Screenshots returns the number of capture calls.
func (i *Instance) Screenshots() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.screenshots
}

// Samples returns the number of DiskWrites calls.
func (i *Instance) Samples() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.samples
}

// GracefulShutdowns returns the number of graceful shutdown requests.
func (i *Instance) GracefulShutdowns() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.graceful
}

// ForcedShutdowns returns the number of forced shutdown requests.
func (i *Instance) ForcedShutdowns() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.forced
}

// CloseCalls returns how many times Close reached the instance.
func (i *Instance) CloseCalls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closeCalls
}

// Solid returns a 2x2 image filled with c.
func Solid(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
