package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/bootcheck/model"
)

func record(t *testing.T, root string, h *model.History) {
	t.Helper()
	dir := filepath.Join(root, RunDirName(h))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, Write(dir, h))
}

func TestLoadEntriesNewestFirst(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	record(t, root, &model.History{ID: "aaaa0000aaaa0000", Type: model.HistoryTypeBench, Timestamp: base})
	record(t, root, &model.History{ID: "bbbb0000bbbb0000", Type: model.HistoryTypeVerify, Timestamp: base.Add(time.Hour)})
	record(t, root, &model.History{ID: "cccc0000cccc0000", Type: model.HistoryTypeBench, Timestamp: base.Add(30 * time.Minute)})

	broken := filepath.Join(root, "broken")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, FileName), []byte("{"), 0o644))

	entries, err := LoadEntries(zerolog.Nop(), root)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "bbbb0000bbbb0000", entries[0].History.ID)
	require.Equal(t, "cccc0000cccc0000", entries[1].History.ID)
	require.Equal(t, "aaaa0000aaaa0000", entries[2].History.ID)
	require.Equal(t, filepath.Join(root, "20240301-110000-verify-bbbb0000"), entries[0].FullPath)
}

func TestLoadEntriesMissingRoot(t *testing.T) {
	entries, err := LoadEntries(zerolog.Nop(), filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFind(t *testing.T) {
	entries := []Entry{
		{History: model.History{ID: "bbbb0000"}},
		{History: model.History{ID: "ABCD0000"}},
		{History: model.History{ID: "aaaa0000"}},
	}

	tests := []struct {
		ref     string
		want    string
		wantErr string
	}{
		{ref: "0", want: "bbbb0000"},
		{ref: "-2", want: "aaaa0000"},
		{ref: "abc", want: "ABCD0000"},
		{ref: "1", wantErr: "invalid index"},
		{ref: "-3", wantErr: "out of range"},
		{ref: "ffff", wantErr: "no history entry found"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			entry, err := Find(entries, tt.ref)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, entry.History.ID)
		})
	}

	_, err := Find(nil, "0")
	require.ErrorIs(t, err, ErrNoHistory)
}

func TestRootAbsolute(t *testing.T) {
	dir := t.TempDir()
	root, err := Root(dir)
	require.NoError(t, err)
	require.Equal(t, dir, root)
}
