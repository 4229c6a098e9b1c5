package cli

// This file contains run recording functionality for saving run metadata
// and artifacts to the history directory.

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/perfgo/bootcheck/bench"
	"github.com/perfgo/bootcheck/history"
	"github.com/perfgo/bootcheck/model"
	"github.com/perfgo/bootcheck/vm"
	"github.com/perfgo/bootcheck/vm/qemu"
)

// recording collects a history entry while a command runs. A nil recording
// is valid and records nothing.
type recording struct {
	app     *App
	history *model.History
	runDir  string
}

// startRecording creates the run directory when --record is set.
func (a *App) startRecording(ctx *cli.Context, typ model.HistoryType, startTime time.Time) (*recording, error) {
	if !ctx.Bool("record") {
		return nil, nil
	}

	// Generate random 16-byte ID
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	h := &model.History{
		ID:        hex.EncodeToString(idBytes),
		Type:      typ,
		Timestamp: startTime,
		Args:      os.Args,
		Host: &model.Host{
			Kernel: bench.HostInfo(),
			OS:     runtime.GOOS,
			Arch:   runtime.GOARCH,
		},
	}
	if cwd, err := os.Getwd(); err == nil {
		h.WorkDir = cwd
	}
	if hostname, err := os.Hostname(); err == nil {
		h.Host.Hostname = hostname
	}

	// Capture git info (non-fatal if it fails)
	if git, err := a.getGitInfo(); err == nil {
		h.Git = git
	} else {
		a.logger.Debug().Err(err).Msg("Not recording git information")
	}

	root, err := history.Root(ctx.String("history-dir"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve history directory: %w", err)
	}
	runDir := filepath.Join(root, history.RunDirName(h))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	return &recording{app: a, history: h, runDir: runDir}, nil
}

func (r *recording) setEngine(e *qemu.Engine, cfg vm.Config) {
	if r == nil {
		return
	}
	memsize := cfg.MemsizeMB
	if memsize == 0 {
		memsize = e.DefaultMemsize()
	}
	r.history.Engine = &model.Engine{
		Name:      e.Name(),
		Binary:    e.Binary,
		Kernel:    e.Kernel,
		MemsizeMB: memsize,
		SMP:       max(cfg.SMP, 1),
		Append:    cfg.Append,
	}
}

// path returns the absolute path of a file in the run directory.
func (r *recording) path(file string) string {
	return filepath.Join(r.runDir, file)
}

// addArtifact registers a file already written to the run directory.
func (r *recording) addArtifact(typ model.ArtifactType, file string) {
	info, err := os.Stat(r.path(file))
	if err != nil {
		r.app.logger.Warn().Err(err).Str("file", file).Msg("Artifact missing, not registering it")
		return
	}
	r.history.Artifacts = append(r.history.Artifacts, model.Artifact{
		Type: typ,
		Size: uint64(info.Size()),
		File: file,
	})
	r.app.logger.Debug().Str("file", file).Str("type", typ.String()).Msg("Registered artifact")
}

// finish writes history.json. Failures are logged and never change the
// command's exit status.
func (r *recording) finish(startTime time.Time, exitCode int) {
	if r == nil {
		return
	}
	r.history.Duration = time.Since(startTime)
	r.history.ExitCode = exitCode

	if err := history.Write(r.runDir, r.history); err != nil {
		r.app.logger.Warn().Err(err).Msg("Failed to record history")
		return
	}
	r.app.logger.Info().Str("dir", r.runDir).Str("id", r.history.ID).Msg("Recorded run")
}
