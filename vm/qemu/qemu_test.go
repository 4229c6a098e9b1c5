package qemu

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perfgo/bootcheck/vm"
)

func TestConsoleReadyMarker(t *testing.T) {
	c := newConsole("bootcheck-ready")

	_, _ = c.Write([]byte("Linux version 6.1\nbootcheck-"))
	select {
	case <-c.ready:
		t.Fatal("marker reported before it was complete")
	default:
	}

	_, _ = c.Write([]byte("ready\n"))
	select {
	case <-c.ready:
	default:
		t.Fatal("marker split across writes was not seen")
	}

	// Further writes after the marker must not close the channel twice.
	_, _ = c.Write([]byte("bootcheck-ready\n"))
	require.Equal(t, "Linux version 6.1\nbootcheck-ready\nbootcheck-ready\n", string(c.Bytes()))
}

func TestConsoleWithoutMarker(t *testing.T) {
	c := newConsole("")
	_, _ = c.Write([]byte("anything"))
	select {
	case <-c.ready:
		t.Fatal("console without a marker never becomes ready")
	default:
	}
}

func TestEngineCreate(t *testing.T) {
	e := &Engine{RunDir: t.TempDir(), Kernel: "/boot/vmlinuz"}
	require.Equal(t, "qemu", e.Name())
	require.Equal(t, DefaultMemsize, e.DefaultMemsize())

	inst, err := e.Create(context.Background())
	require.NoError(t, err)

	qi := inst.(*Instance)
	require.DirExists(t, qi.runDir)
	require.NoError(t, qi.SetMemsize(2048))
	require.NoError(t, qi.SetSMP(2))
	require.NoError(t, qi.AppendCmdline("console=ttyS0"))
	require.NoError(t, qi.AddDrive("/dev/null", vm.DriveOptions{Format: "raw", ReadOnly: true}))

	opts := qi.argsOptions()
	require.Equal(t, 2048, opts.MemsizeMB)
	require.Equal(t, 2, opts.SMP)
	require.Equal(t, "console=ttyS0", opts.Append)
	require.Equal(t, filepath.Join(qi.runDir, "qmp.sock"), opts.QMPSocket)
	require.Equal(t, []Drive{{Path: "/dev/null", Format: "raw", ReadOnly: true}}, opts.Drives)

	_, err = qi.DiskWrites(context.Background())
	require.ErrorIs(t, err, vm.ErrNotLaunched)

	require.NoError(t, qi.Close())
	_, err = os.Stat(qi.runDir)
	require.ErrorIs(t, err, os.ErrNotExist)
	select {
	case <-qi.Done():
	default:
		t.Fatal("closed instance must report done")
	}
}

func TestLaunchMissingBinary(t *testing.T) {
	e := &Engine{RunDir: t.TempDir(), Binary: filepath.Join(t.TempDir(), "no-such-qemu")}
	inst, err := e.Create(context.Background())
	require.NoError(t, err)
	defer inst.Close()

	err = inst.Launch(context.Background())
	require.ErrorContains(t, err, "failed to start")
}

func TestLaunchProcessExits(t *testing.T) {
	e := &Engine{RunDir: t.TempDir(), Binary: "false"}
	inst, err := e.Create(context.Background())
	require.NoError(t, err)
	defer inst.Close()

	err = inst.Launch(context.Background())
	require.ErrorIs(t, err, ErrExited)
}
