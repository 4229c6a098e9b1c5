package cli

// This file contains the view command for displaying recorded runs.

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/perfgo/bootcheck/history"
	"github.com/perfgo/bootcheck/model"
)

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}

func parseViewArgs(in []string) (idArg string, pprofArgs []string) {
	if len(in) == 0 {
		return "0", nil
	}

	// If first arg is "--", use default "0" and rest are pprof args
	if in[0] == "--" {
		return "0", in[1:]
	}

	// A negative index is "-" followed by only digits (e.g. "-1"); anything
	// else starting with "-" is a pprof flag (e.g. "-top").
	if len(in[0]) > 1 && in[0][0] == '-' {
		if _, err := strconv.ParseInt(in[0], 10, 64); err != nil {
			return "0", in
		}
	}

	// First arg is the ID/index, rest are pprof args (with optional "--" removed)
	return in[0], removeFirstDashDash(in[1:])
}

func (a *App) view(ctx *cli.Context) error {
	arg, pprofArgs := parseViewArgs(ctx.Args().Slice())

	entries, err := a.loadHistory(ctx)
	if err != nil {
		return err
	}

	entry, err := history.Find(entries, arg)
	if err != nil {
		return err
	}

	return a.displayHistoryEntry(os.Stdout, entry, pprofArgs)
}

func (a *App) displayHistoryEntry(w io.Writer, entry *history.Entry, pprofArgs []string) error {
	writeSummary(w, &entry.History)

	var profileArtifact, consoleArtifact *model.Artifact
	for i := range entry.History.Artifacts {
		artifact := &entry.History.Artifacts[i]
		switch artifact.Type {
		case model.ArtifactTypeTrialProfile:
			profileArtifact = artifact
		case model.ArtifactTypeConsoleLog:
			consoleArtifact = artifact
		}
	}

	if profileArtifact != nil {
		return a.displayProfile(entry.FullPath, profileArtifact, pprofArgs)
	}
	if consoleArtifact != nil {
		return displayConsole(w, entry.FullPath, consoleArtifact)
	}

	fmt.Fprintf(w, "History directory: %s\n", entry.FullPath)
	return nil
}

func writeSummary(w io.Writer, h *model.History) {
	shortID := h.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	fmt.Fprintf(w, "=== %s run: %s ===\n", h.Type, shortID)
	fmt.Fprintf(w, "Time: %s\n", h.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration: %s\n", h.Duration)
	fmt.Fprintf(w, "Exit Code: %d\n", h.ExitCode)
	if h.WorkDir != "" {
		fmt.Fprintf(w, "Working Dir: %s\n", h.WorkDir)
	}
	if h.Git != nil && h.Git.Commit != "" {
		fmt.Fprintf(w, "Git Commit: %s", h.Git.Commit[:min(8, len(h.Git.Commit))])
		if h.Git.Branch != "" {
			fmt.Fprintf(w, " (%s)", h.Git.Branch)
		}
		fmt.Fprintln(w)
	}
	if h.Host != nil {
		fmt.Fprintf(w, "Host: %s (%s)\n", h.Host.Hostname, h.Host.Kernel)
	}
	if h.Engine != nil {
		fmt.Fprintf(w, "Engine: %s memsize=%d smp=%d", h.Engine.Name, h.Engine.MemsizeMB, h.Engine.SMP)
		if h.Engine.Append != "" {
			fmt.Fprintf(w, " append=%q", h.Engine.Append)
		}
		fmt.Fprintln(w)
	}
	if b := h.Bench; b != nil {
		fmt.Fprintf(w, "Passes: %d (+%d warm-up)\n", b.Passes, b.Warmup)
		fmt.Fprintf(w, "Result: %.1fms ±%.1fms\n", millis(b.Mean.Nanoseconds()), millis(b.StdDev.Nanoseconds()))
	}
	if v := h.Verify; v != nil {
		fmt.Fprintf(w, "Test: %s\n", v.Name)
		if v.Disk != "" {
			fmt.Fprintf(w, "Disk: %s\n", v.Disk)
		}
		fmt.Fprintf(w, "Plan: %s\n", v.Plan)
		fmt.Fprintf(w, "Verdict: %s (%s)\n", v.Verdict, v.State)
		if v.Reason != "" {
			fmt.Fprintf(w, "Reason: %s\n", v.Reason)
		}
		if v.Error != "" {
			fmt.Fprintf(w, "Error: %s\n", v.Error)
		}
		if v.Polls > 0 {
			fmt.Fprintf(w, "Boot Time: %s (%d polls)\n", v.BootTime, v.Polls)
		}
	}
	fmt.Fprintln(w)
}

func millis(ns int64) float64 {
	return float64(ns) / 1e6
}

func (a *App) displayProfile(runDir string, artifact *model.Artifact, pprofArgs []string) error {
	profilePath := filepath.Join(runDir, artifact.File)
	fmt.Printf("Profile: %s (%.1f KB)\n", profilePath, float64(artifact.Size)/1024)

	// Build pprof command with any additional args
	args := []string{"tool", "pprof"}
	args = append(args, pprofArgs...)
	args = append(args, profilePath)

	cmd := exec.Command("go", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = runDir

	return cmd.Run()
}

func displayConsole(w io.Writer, runDir string, artifact *model.Artifact) error {
	path := filepath.Join(runDir, artifact.File)
	data, err := readConsoleLog(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Console Log: %s\n", path)
	_, err = w.Write(data)
	return err
}
