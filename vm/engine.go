// Package vm wraps an externally supplied virtual machine engine with the
// operations the boot verifier and benchmark need. The engine itself
// (process management, device models, framebuffer) lives behind Engine and
// Instance; Session is the harness-owned glue that guarantees configuration
// order, launch deadlines and exactly-once release.
package vm

import (
	"context"
	"image"
)

// Engine creates VM instances.
type Engine interface {
	// Name identifies the engine in logs and reports (e.g. "qemu").
	Name() string

	// Create allocates a new, unlaunched instance.
	Create(ctx context.Context) (Instance, error)

	// DefaultMemsize returns the memory size in MB an instance gets when
	// SetMemsize is never called. Used for help text.
	DefaultMemsize() int
}

// Instance is one engine-level VM handle. Implementations need not be safe
// for concurrent use; Session serializes access.
type Instance interface {
	SetMemsize(mb int) error
	SetSMP(n int) error
	AppendCmdline(opts string) error
	AddDrive(path string, opts DriveOptions) error

	// Launch starts the VM. It may block for as long as the guest takes to
	// reach the engine's notion of "ready" and must return when ctx is done.
	Launch(ctx context.Context) error

	// Screenshot captures the current framebuffer.
	Screenshot(ctx context.Context) (image.Image, error)

	// DiskWrites returns a monotonically increasing counter of guest write
	// operations across all drives.
	DiskWrites(ctx context.Context) (uint64, error)

	// Shutdown asks the guest to power off (graceful) or terminates the VM
	// immediately (not graceful). It does not wait for exit.
	Shutdown(ctx context.Context, graceful bool) error

	// Done is closed once the VM has exited.
	Done() <-chan struct{}

	// Info describes the instance configuration for report headers.
	Info() []InfoItem

	// Close releases every resource held by the instance, terminating the
	// VM if it is still running.
	Close() error
}

// DriveOptions describes how a drive is attached.
type DriveOptions struct {
	Format   string // "raw", "qcow2", ...
	ReadOnly bool
}

// InfoItem is a key/value pair for test parameter headers.
type InfoItem struct {
	Key   string
	Value string
}
