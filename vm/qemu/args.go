package qemu

// args.go builds the QEMU command line from the options of one instance.

import (
	"fmt"
	"strconv"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// Drive is one -drive argument.
type Drive struct {
	Path     string
	Format   string
	ReadOnly bool
}

// ArgsOptions contains everything needed to build a QEMU command line.
type ArgsOptions struct {
	Binary    string  // QEMU binary (default qemu-system-x86_64)
	Accel     string  // Accelerator list (default kvm:tcg)
	MemsizeMB int     // Guest memory in MiB
	SMP       int     // Virtual CPUs, omitted below 2
	Kernel    string  // Optional -kernel
	Initrd    string  // Optional -initrd
	Append    string  // Kernel command line, only used with Kernel
	Drives    []Drive // One -drive per entry, in order
	QMPSocket string  // Unix socket path for the monitor
}

// BuildArgs builds the QEMU arguments, without the binary.
func BuildArgs(opts ArgsOptions) []string {
	accel := opts.Accel
	if accel == "" {
		accel = DefaultAccel
	}

	args := []string{
		"-nodefaults",
		"-no-user-config",
		"-display", "none",
		"-vga", "std",
		"-serial", "stdio",
		"-machine", "accel=" + accel,
	}

	if opts.MemsizeMB > 0 {
		args = append(args, "-m", strconv.Itoa(opts.MemsizeMB))
	}
	if opts.SMP >= 2 {
		args = append(args, "-smp", strconv.Itoa(opts.SMP))
	}

	if opts.Kernel != "" {
		args = append(args, "-kernel", opts.Kernel)
		if opts.Initrd != "" {
			args = append(args, "-initrd", opts.Initrd)
		}
		if opts.Append != "" {
			args = append(args, "-append", opts.Append)
		}
	}

	for i, d := range opts.Drives {
		args = append(args, "-drive", driveSpec(i, d))
	}

	if opts.QMPSocket != "" {
		args = append(args, "-qmp", fmt.Sprintf("unix:%s,server=on,wait=off", opts.QMPSocket))
	}
	return args
}

// BuildCommand returns the full command line with shell quoting, for logs.
func BuildCommand(opts ArgsOptions) string {
	binary := opts.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	return shellescape.QuoteCommand(append([]string{binary}, BuildArgs(opts)...))
}

func driveSpec(index int, d Drive) string {
	opts := []string{
		"file=" + escapeOption(d.Path),
		"id=disk" + strconv.Itoa(index),
		"if=virtio",
		"cache=unsafe",
	}
	if d.Format != "" {
		opts = append(opts, "format="+d.Format)
	}
	if d.ReadOnly {
		opts = append(opts, "readonly=on")
	}
	return strings.Join(opts, ",")
}

// escapeOption doubles commas, which QEMU uses as option separators.
func escapeOption(s string) string {
	return strings.ReplaceAll(s, ",", ",,")
}
