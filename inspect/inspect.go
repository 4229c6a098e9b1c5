// Package inspect produces the inspection metadata XML handed to
// verification checks.
package inspect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
)

var ErrNoDisk = errors.New("inspect: no disk given")

// Inspector returns metadata XML describing a disk image.
type Inspector interface {
	Inspect(ctx context.Context, disk string) ([]byte, error)
}

// FileInspector returns the contents of an XML file produced earlier,
// typically by the conversion step. The disk argument is ignored.
type FileInspector struct {
	Path string
}

func (f FileInspector) Inspect(ctx context.Context, disk string) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata %s: %w", f.Path, err)
	}
	return data, nil
}

// CommandInspector runs an external inspection tool against the disk and
// returns its standard output.
type CommandInspector struct {
	// Command defaults to virt-inspector.
	Command string
	// Args are placed before the disk arguments.
	Args   []string
	Logger zerolog.Logger
}

func (c CommandInspector) Inspect(ctx context.Context, disk string) ([]byte, error) {
	if disk == "" {
		return nil, ErrNoDisk
	}
	name := c.Command
	if name == "" {
		name = "virt-inspector"
	}

	argv := append([]string{name}, c.Args...)
	argv = append(argv, "-a", disk)
	c.Logger.Debug().Str("cmd", shellescape.QuoteCommand(argv)).Msg("Inspecting disk")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("failed to inspect %s: %w: %s", disk, err, msg)
		}
		return nil, fmt.Errorf("failed to inspect %s: %w", disk, err)
	}
	return stdout.Bytes(), nil
}
