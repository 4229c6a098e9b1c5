package qemu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildArgsDefaults(t *testing.T) {
	args := BuildArgs(ArgsOptions{})
	require.Equal(t, []string{
		"-nodefaults",
		"-no-user-config",
		"-display", "none",
		"-vga", "std",
		"-serial", "stdio",
		"-machine", "accel=kvm:tcg",
	}, args)
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name     string
		opts     ArgsOptions
		contains [][]string
		absent   []string
	}{
		{
			name:     "memory and cpus",
			opts:     ArgsOptions{MemsizeMB: 1024, SMP: 4},
			contains: [][]string{{"-m", "1024"}, {"-smp", "4"}},
		},
		{
			name:   "single cpu is the default",
			opts:   ArgsOptions{SMP: 1},
			absent: []string{"-smp"},
		},
		{
			name: "kernel boot",
			opts: ArgsOptions{Kernel: "/boot/vmlinuz", Initrd: "/boot/initrd", Append: "console=ttyS0 quiet"},
			contains: [][]string{
				{"-kernel", "/boot/vmlinuz"},
				{"-initrd", "/boot/initrd"},
				{"-append", "console=ttyS0 quiet"},
			},
		},
		{
			name:   "append needs a kernel",
			opts:   ArgsOptions{Append: "quiet"},
			absent: []string{"-append"},
		},
		{
			name: "drives",
			opts: ArgsOptions{Drives: []Drive{
				{Path: "/dev/null", Format: "raw", ReadOnly: true},
				{Path: "/images/a,b.qcow2", Format: "qcow2"},
			}},
			contains: [][]string{
				{"-drive", "file=/dev/null,id=disk0,if=virtio,cache=unsafe,format=raw,readonly=on"},
				{"-drive", "file=/images/a,,b.qcow2,id=disk1,if=virtio,cache=unsafe,format=qcow2"},
			},
		},
		{
			name:     "qmp socket",
			opts:     ArgsOptions{QMPSocket: "/run/bootcheck/qmp.sock", Accel: "tcg"},
			contains: [][]string{{"-qmp", "unix:/run/bootcheck/qmp.sock,server=on,wait=off"}, {"-machine", "accel=tcg"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := BuildArgs(tt.opts)
			for _, pair := range tt.contains {
				require.True(t, containsPair(args, pair[0], pair[1]), "missing %v in %v", pair, args)
			}
			for _, flag := range tt.absent {
				require.NotContains(t, args, flag)
			}
		})
	}
}

func TestBuildCommand(t *testing.T) {
	cmd := BuildCommand(ArgsOptions{Kernel: "/boot/vmlinuz", Append: "console=ttyS0 quiet"})
	require.Contains(t, cmd, "qemu-system-x86_64 -nodefaults")
	require.Contains(t, cmd, "-append 'console=ttyS0 quiet'")
}

func containsPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}
