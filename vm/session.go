package vm

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConsoleCapturer is implemented by instances that record the guest serial
// console.
type ConsoleCapturer interface {
	ConsoleLog() []byte
}

// Session owns one Instance for the lifetime of a trial. Every Session
// returned by Open must be closed; Close is idempotent and only releases the
// instance once.
type Session struct {
	id     string
	engine string
	inst   Instance
	logger zerolog.Logger

	mu       sync.Mutex
	launched bool
	closed   bool

	closeOnce sync.Once
	closeErr  error
}

// Open creates an instance and applies cfg to it. If configuration fails the
// instance is closed before returning.
func Open(ctx context.Context, logger zerolog.Logger, engine Engine, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	inst, err := engine.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s instance: %w", engine.Name(), err)
	}

	id := uuid.NewString()
	s := &Session{
		id:     id,
		engine: engine.Name(),
		inst:   inst,
		logger: logger.With().Str("session", id[:8]).Logger(),
	}

	if err := s.configure(cfg); err != nil {
		if cerr := s.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("Failed to close session after configuration error")
		}
		return nil, err
	}

	s.logger.Debug().
		Str("engine", s.engine).
		Int("memsize", cfg.MemsizeMB).
		Int("smp", cfg.SMP).
		Str("append", cfg.Append).
		Msg("Session created")
	return s, nil
}

func (s *Session) configure(cfg Config) error {
	if cfg.MemsizeMB != 0 {
		if err := s.inst.SetMemsize(cfg.MemsizeMB); err != nil {
			return fmt.Errorf("failed to set memsize: %w", err)
		}
	}
	if cfg.SMP >= 2 {
		if err := s.inst.SetSMP(cfg.SMP); err != nil {
			return fmt.Errorf("failed to set smp: %w", err)
		}
	}
	if cfg.Append != "" {
		if err := s.inst.AppendCmdline(cfg.Append); err != nil {
			return fmt.Errorf("failed to set append: %w", err)
		}
	}
	return nil
}

// ID returns the unique identifier of the session.
func (s *Session) ID() string {
	return s.id
}

// AddDrive attaches a drive. Only valid before Launch.
func (s *Session) AddDrive(path string, opts DriveOptions) error {
	if path == "" {
		return ErrEmptyDrivePath
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.launched {
		return ErrLaunched
	}
	if err := s.inst.AddDrive(path, opts); err != nil {
		return fmt.Errorf("failed to add drive %s: %w", path, err)
	}
	s.logger.Debug().
		Str("path", path).
		Str("format", opts.Format).
		Bool("readonly", opts.ReadOnly).
		Msg("Drive added")
	return nil
}

// Launch starts the VM. The engine gives no timeout of its own, so a
// positive timeout bounds the call with a context deadline.
func (s *Session) Launch(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.launched {
		return ErrLaunched
	}

	launchCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		launchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := s.inst.Launch(launchCtx); err != nil {
		if errors.Is(launchCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w (%s): %v", ErrLaunchTimeout, timeout, err)
		}
		return fmt.Errorf("failed to launch: %w", err)
	}
	s.launched = true
	s.logger.Debug().Msg("Session launched")
	return nil
}

// Launched reports whether Launch succeeded.
func (s *Session) Launched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launched
}

// Screenshot captures the current framebuffer.
func (s *Session) Screenshot(ctx context.Context) (image.Image, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	return s.inst.Screenshot(ctx)
}

// DiskWrites samples the guest write counter.
func (s *Session) DiskWrites(ctx context.Context) (uint64, error) {
	if err := s.running(); err != nil {
		return 0, err
	}
	return s.inst.DiskWrites(ctx)
}

// Shutdown requests a graceful power-off or forces termination.
func (s *Session) Shutdown(ctx context.Context, graceful bool) error {
	if err := s.running(); err != nil {
		return err
	}
	s.logger.Debug().Bool("graceful", graceful).Msg("Shutting down session")
	return s.inst.Shutdown(ctx, graceful)
}

// Exited reports whether the VM has terminated.
func (s *Session) Exited() bool {
	select {
	case <-s.inst.Done():
		return true
	default:
		return false
	}
}

// Info returns the engine name followed by the instance's own items.
func (s *Session) Info() []InfoItem {
	items := []InfoItem{{Key: "engine", Value: s.engine}}
	return append(items, s.inst.Info()...)
}

// ConsoleLog returns the captured serial console, if the engine records one.
func (s *Session) ConsoleLog() ([]byte, bool) {
	c, ok := s.inst.(ConsoleCapturer)
	if !ok {
		return nil, false
	}
	return c.ConsoleLog(), true
}

// Close releases the instance. Only the first call reaches the engine; later
// calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.closeErr = s.inst.Close()
		if s.closeErr != nil {
			s.logger.Warn().Err(s.closeErr).Msg("Failed to close session")
		} else {
			s.logger.Debug().Msg("Session closed")
		}
	})
	return s.closeErr
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) running() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.launched {
		return ErrNotLaunched
	}
	return nil
}
