package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"

	"github.com/perfgo/bootcheck/vm"
)

var ErrEmptyCommand = errors.New("verify: check command is empty")

// Environment variables passed to command checks.
const (
	EnvDisk     = "BOOTCHECK_DISK"
	EnvMetadata = "BOOTCHECK_METADATA"
	EnvSession  = "BOOTCHECK_SESSION"
)

// runCheck calls check and converts a panic into an error.
func runCheck(ctx context.Context, name string, check Check, s *vm.Session, disk string, metadata []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return check(ctx, s, disk, metadata)
}

// CommandCheck returns a Check that runs argv. The disk path and session ID
// are passed in the environment; metadata, when present, is written to a
// temporary file whose path is in BOOTCHECK_METADATA. A non-zero exit fails
// the check with the tail of its stderr.
func CommandCheck(logger zerolog.Logger, argv []string) (Check, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, ErrEmptyCommand
	}
	argv = append([]string(nil), argv...)

	return func(ctx context.Context, s *vm.Session, disk string, metadata []byte) error {
		env := append(os.Environ(), EnvDisk+"="+disk)
		if s != nil {
			env = append(env, EnvSession+"="+s.ID())
		}

		if metadata != nil {
			dir, err := os.MkdirTemp("", "bootcheck-metadata-")
			if err != nil {
				return fmt.Errorf("failed to create metadata directory: %w", err)
			}
			defer os.RemoveAll(dir)

			path := filepath.Join(dir, "metadata.xml")
			if err := os.WriteFile(path, metadata, 0o644); err != nil {
				return fmt.Errorf("failed to write metadata: %w", err)
			}
			env = append(env, EnvMetadata+"="+path)
		}

		logger.Debug().Str("cmd", shellescape.QuoteCommand(argv)).Msg("Running check")

		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Env = env
		cmd.Stderr = &stderr
		cmd.Stdout = &stderr
		if err := cmd.Run(); err != nil {
			if tail := lastLines(stderr.String(), 5); tail != "" {
				return fmt.Errorf("%s: %w: %s", argv[0], err, tail)
			}
			return fmt.Errorf("%s: %w", argv[0], err)
		}
		return nil
	}, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
