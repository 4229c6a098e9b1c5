package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockClockSleepAdvances(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	require.NoError(t, c.Sleep(context.Background(), 90*time.Second))
	require.Equal(t, start.Add(90*time.Second), c.Now())
	require.Equal(t, 90*time.Second, c.Since(start))
	require.Equal(t, 90*time.Second, c.Slept())

	c.Advance(time.Second)
	require.Equal(t, 91*time.Second, c.Since(start))
	require.Equal(t, 90*time.Second, c.Slept(), "Advance is not sleeping")
}

func TestMockClockSleepCancelled(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Sleep(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, time.Unix(0, 0), c.Now())
}

func TestRealClockSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Real().Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}

func TestRealClockSleep(t *testing.T) {
	c := Real()
	start := c.Now()
	require.NoError(t, c.Sleep(context.Background(), 5*time.Millisecond))
	require.GreaterOrEqual(t, c.Since(start), 5*time.Millisecond)
}
