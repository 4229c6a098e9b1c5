package hostlock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "bootcheck.lock")

	l, err := Acquire(context.Background(), zerolog.Nop(), path)
	require.NoError(t, err)
	require.Equal(t, path, l.Path())
	l.Release()

	l, err = Acquire(context.Background(), zerolog.Nop(), path)
	require.NoError(t, err)
	l.Release()
}

func TestAcquireWaitsForHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootcheck.lock")

	held, err := Acquire(context.Background(), zerolog.Nop(), path)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = Acquire(ctx, zerolog.Nop(), path)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireAfterHolderReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootcheck.lock")

	held, err := Acquire(context.Background(), zerolog.Nop(), path)
	require.NoError(t, err)

	go func() {
		time.Sleep(150 * time.Millisecond)
		held.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l, err := Acquire(ctx, zerolog.Nop(), path)
	require.NoError(t, err)
	l.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	require.NotPanics(t, l.Release)
}
