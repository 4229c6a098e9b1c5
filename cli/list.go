package cli

// This file contains the list command for displaying previous runs.

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/perfgo/bootcheck/history"
	"github.com/perfgo/bootcheck/model"
)

func (a *App) loadHistory(ctx *cli.Context) ([]history.Entry, error) {
	root, err := history.Root(ctx.String("history-dir"))
	if err != nil {
		return nil, err
	}

	entries, err := history.LoadEntries(a.logger, root)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return entries, nil
}

func (a *App) list(ctx *cli.Context) error {
	filterType := model.HistoryType(ctx.String("type"))
	limit := ctx.Int("limit")

	entries, err := a.loadHistory(ctx)
	if err != nil {
		return err
	}

	var filteredEntries []history.Entry
	for _, entry := range entries {
		if filterType == "" || entry.History.Type == filterType {
			filteredEntries = append(filteredEntries, entry)
		}
	}

	if len(filteredEntries) == 0 {
		if filterType != "" {
			fmt.Printf("No %s history entries found\n", filterType)
		} else {
			fmt.Println("No history entries found")
		}
		return nil
	}

	// Apply limit
	displayRuns := filteredEntries
	if limit > 0 && limit < len(displayRuns) {
		displayRuns = displayRuns[:limit]
	}

	fmt.Printf("\n=== History (%d total) ===\n\n", len(filteredEntries))

	for _, entry := range displayRuns {
		h := entry.History
		timestamp := h.Timestamp.Format("2006-01-02 15:04:05")
		duration := h.Duration.Round(time.Millisecond)

		// Determine status indicator
		status := "✓"
		switch h.ExitCode {
		case 0:
		case exitSkip:
			status = "-"
		default:
			status = "✗"
		}

		shortID := h.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}

		fmt.Printf("%s  %s  %-6s  [%s]  exit=%d  id=%s\n", status, timestamp, h.Type, duration, h.ExitCode, shortID)
		if h.Bench != nil && h.Bench.Passes > 0 {
			fmt.Printf("   Result: %s ±%s over %d passes\n",
				h.Bench.Mean.Round(100*time.Microsecond), h.Bench.StdDev.Round(100*time.Microsecond), h.Bench.Passes)
		}
		if h.Verify != nil {
			fmt.Printf("   Test: %s plan=%s verdict=%s", h.Verify.Name, h.Verify.Plan, h.Verify.Verdict)
			if h.Verify.Reason != "" {
				fmt.Printf(" (%s)", h.Verify.Reason)
			}
			fmt.Println()
		}
		if h.Engine != nil {
			fmt.Printf("   Engine: %s memsize=%d smp=%d\n", h.Engine.Name, h.Engine.MemsizeMB, h.Engine.SMP)
		}
		if h.Git != nil && h.Git.Commit != "" {
			shortCommit := h.Git.Commit
			if len(shortCommit) > 8 {
				shortCommit = shortCommit[:8]
			}
			fmt.Printf("   Commit: %s", shortCommit)
			if h.Git.Branch != "" {
				fmt.Printf(" (%s)", h.Git.Branch)
			}
			fmt.Println()
		}
		for _, artifact := range h.Artifacts {
			fmt.Printf("   %s: %s (%.1f KB)\n", artifact.Type, artifact.File, float64(artifact.Size)/1024)
		}
		fmt.Printf("   %s\n", entry.FullPath)
		fmt.Println()
	}

	fmt.Printf("View a run: %s view <ID>\n", AppName)

	return nil
}
