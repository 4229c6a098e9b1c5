package history

// This file contains shared history utilities for locating, loading and
// selecting recorded runs.

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/perfgo/bootcheck/model"
)

// DefaultDir is the history directory, relative to the repository root when
// run inside git and to the working directory otherwise.
const DefaultDir = ".bootcheck/history"

// FileName is the metadata file of each run directory.
const FileName = "history.json"

var ErrNoHistory = errors.New("no history entries found")

type Entry struct {
	History  model.History
	FullPath string
}

// Root resolves dir to an absolute history directory.
func Root(dir string) (string, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if filepath.IsAbs(dir) {
		return dir, nil
	}

	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	if output, err := cmd.Output(); err == nil {
		return filepath.Join(strings.TrimSpace(string(output)), dir), nil
	}
	return filepath.Abs(dir)
}

// RunDirName returns the directory name used for h:
// <timestamp>-<type>-<short id>.
func RunDirName(h *model.History) string {
	shortID := h.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	return fmt.Sprintf("%s-%s-%s", h.Timestamp.Format("20060102-150405"), h.Type, shortID)
}

// LoadEntries loads all history entries below root, newest first. Entries
// whose history.json cannot be parsed are logged and skipped.
func LoadEntries(logger zerolog.Logger, root string) ([]Entry, error) {
	if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}

		historyPath := filepath.Join(path, FileName)
		if _, err := os.Stat(historyPath); err != nil {
			return nil
		}
		history, err := parseHistoryJSON(historyPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", historyPath).Msg("Failed to parse history.json")
			return nil
		}
		entries = append(entries, Entry{
			History:  history,
			FullPath: path,
		})
		return filepath.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk history directory: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].History.Timestamp.After(entries[j].History.Timestamp)
	})
	return entries, nil
}

// Find selects an entry from newest-first entries. ref is 0 for the newest
// run, -N for the N-th before it, or a prefix of the hex ID.
func Find(entries []Entry, ref string) (*Entry, error) {
	if len(entries) == 0 {
		return nil, ErrNoHistory
	}

	if parsed, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if parsed > 0 {
			return nil, fmt.Errorf("invalid index: %s (use 0 for last, -1 for second-to-last, -2 for third-to-last, etc.)", ref)
		}
		index := int(-parsed)
		if index >= len(entries) {
			return nil, fmt.Errorf("index %s out of range (only %d history entries)", ref, len(entries))
		}
		return &entries[index], nil
	}

	prefix := strings.ToLower(ref)
	for i := range entries {
		if strings.HasPrefix(strings.ToLower(entries[i].History.ID), prefix) {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("no history entry found matching ID: %s", ref)
}

// Write stores h as history.json in runDir.
func Write(runDir string, h *model.History) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, FileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// parseHistoryJSON parses a history.json file.
func parseHistoryJSON(historyPath string) (model.History, error) {
	data, err := os.ReadFile(historyPath)
	if err != nil {
		return model.History{}, err
	}

	var history model.History
	if err := json.Unmarshal(data, &history); err != nil {
		return model.History{}, err
	}

	return history, nil
}
