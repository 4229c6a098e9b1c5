package vm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/bootcheck/vm"
	"github.com/perfgo/bootcheck/vm/vmtest"
)

func TestOpenAppliesConfig(t *testing.T) {
	engine := &vmtest.Engine{}
	s, err := vm.Open(context.Background(), zerolog.Nop(), engine, vm.Config{
		MemsizeMB: 2048,
		SMP:       4,
		Append:    "console=ttyS0",
	})
	require.NoError(t, err)
	defer s.Close()

	inst := engine.Instances()[0]
	require.Equal(t, 2048, inst.Memsize())
	require.Equal(t, 4, inst.SMP())
	require.Equal(t, "console=ttyS0", inst.Append())
	require.NotEmpty(t, s.ID())
}

func TestOpenKeepsEngineDefaults(t *testing.T) {
	engine := &vmtest.Engine{}
	s, err := vm.Open(context.Background(), zerolog.Nop(), engine, vm.Config{SMP: 1})
	require.NoError(t, err)
	defer s.Close()

	inst := engine.Instances()[0]
	require.Zero(t, inst.Memsize())
	require.Zero(t, inst.SMP(), "a single CPU is the engine default and is not set")
	require.Empty(t, inst.Append())
}

func TestOpenErrors(t *testing.T) {
	_, err := vm.Open(context.Background(), zerolog.Nop(), &vmtest.Engine{}, vm.Config{MemsizeMB: -1})
	require.ErrorIs(t, err, vm.ErrInvalidMemsize)

	_, err = vm.Open(context.Background(), zerolog.Nop(), &vmtest.Engine{}, vm.Config{SMP: -2})
	require.ErrorIs(t, err, vm.ErrInvalidSMP)

	boom := errors.New("no hypervisor")
	_, err = vm.Open(context.Background(), zerolog.Nop(), &vmtest.Engine{CreateErr: boom}, vm.Config{})
	require.ErrorIs(t, err, boom)
}

func TestCloseExactlyOnce(t *testing.T) {
	engine := &vmtest.Engine{}
	s, err := vm.Open(context.Background(), zerolog.Nop(), engine, vm.Config{})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.True(t, s.Closed())
	require.Equal(t, 1, engine.Instances()[0].CloseCalls())

	require.ErrorIs(t, s.AddDrive("/dev/null", vm.DriveOptions{}), vm.ErrClosed)
	require.ErrorIs(t, s.Launch(context.Background(), 0), vm.ErrClosed)
	_, err = s.DiskWrites(context.Background())
	require.ErrorIs(t, err, vm.ErrClosed)
}

func TestCloseReturnsFirstError(t *testing.T) {
	boom := errors.New("leaked tap device")
	engine := &vmtest.Engine{Setup: func(inst *vmtest.Instance) { inst.CloseErr = boom }}
	s, err := vm.Open(context.Background(), zerolog.Nop(), engine, vm.Config{})
	require.NoError(t, err)

	require.ErrorIs(t, s.Close(), boom)
	require.ErrorIs(t, s.Close(), boom)
	require.Equal(t, 1, engine.Instances()[0].CloseCalls())
}

func TestLifecycleOrdering(t *testing.T) {
	engine := &vmtest.Engine{}
	s, err := vm.Open(context.Background(), zerolog.Nop(), engine, vm.Config{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Screenshot(context.Background())
	require.ErrorIs(t, err, vm.ErrNotLaunched)
	require.ErrorIs(t, s.Shutdown(context.Background(), true), vm.ErrNotLaunched)
	require.ErrorIs(t, s.AddDrive("", vm.DriveOptions{}), vm.ErrEmptyDrivePath)

	require.NoError(t, s.AddDrive("/dev/null", vm.DriveOptions{Format: "raw", ReadOnly: true}))
	require.NoError(t, s.Launch(context.Background(), time.Minute))
	require.True(t, s.Launched())
	require.ErrorIs(t, s.Launch(context.Background(), 0), vm.ErrLaunched)
	require.ErrorIs(t, s.AddDrive("/dev/zero", vm.DriveOptions{}), vm.ErrLaunched)

	drives := engine.Instances()[0].Drives()
	require.Equal(t, []vmtest.Drive{{Path: "/dev/null", Opts: vm.DriveOptions{Format: "raw", ReadOnly: true}}}, drives)

	require.False(t, s.Exited())
	require.NoError(t, s.Shutdown(context.Background(), false))
	require.True(t, s.Exited())
}

func TestLaunchTimeout(t *testing.T) {
	engine := &vmtest.Engine{Setup: func(inst *vmtest.Instance) { inst.BlockLaunch = true }}
	s, err := vm.Open(context.Background(), zerolog.Nop(), engine, vm.Config{})
	require.NoError(t, err)
	defer s.Close()

	err = s.Launch(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, vm.ErrLaunchTimeout)
	require.False(t, s.Launched())
}

func TestLaunchCancelledIsNotTimeout(t *testing.T) {
	engine := &vmtest.Engine{Setup: func(inst *vmtest.Instance) { inst.BlockLaunch = true }}
	s, err := vm.Open(context.Background(), zerolog.Nop(), engine, vm.Config{})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Launch(ctx, time.Hour)
	require.Error(t, err)
	require.NotErrorIs(t, err, vm.ErrLaunchTimeout)
	require.ErrorIs(t, err, context.Canceled)
}

func TestInfoAndConsole(t *testing.T) {
	engine := &vmtest.Engine{Setup: func(inst *vmtest.Instance) { inst.Console = []byte("login:") }}
	s, err := vm.Open(context.Background(), zerolog.Nop(), engine, vm.Config{})
	require.NoError(t, err)
	defer s.Close()

	info := s.Info()
	require.Equal(t, vm.InfoItem{Key: "engine", Value: "fake"}, info[0])

	log, ok := s.ConsoleLog()
	require.True(t, ok)
	require.Equal(t, "login:", string(log))
}
