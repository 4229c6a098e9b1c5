package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveTrial(t *testing.T) {
	r := New()
	r.ObserveTrial("warmup", time.Second, nil)
	r.ObserveTrial("measure", 100*time.Millisecond, nil)
	r.ObserveTrial("measure", 0, errors.New("launch failed"))

	require.Equal(t, 1.0, testutil.ToFloat64(r.TrialsTotal.WithLabelValues("warmup", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.TrialsTotal.WithLabelValues("measure", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.TrialsTotal.WithLabelValues("measure", "error")))
	require.Equal(t, 2, testutil.CollectAndCount(r.LaunchSeconds))
}

func TestObserveVerdict(t *testing.T) {
	r := New()
	r.ObserveVerdict("idle", "pass", 90*time.Second, 90)
	r.ObserveVerdict("none", "pass", 0, 0)
	r.ObserveRearm()

	require.Equal(t, 1.0, testutil.ToFloat64(r.VerdictsTotal.WithLabelValues("idle", "pass")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.VerdictsTotal.WithLabelValues("none", "pass")))
	require.Equal(t, 90.0, testutil.ToFloat64(r.PollsTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(r.KnownGoodRearms))
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	require.NotPanics(t, func() {
		r.ObserveTrial("measure", time.Second, nil)
		r.SetResult(time.Second, time.Millisecond)
		r.ObserveVerdict("idle", "fail", time.Second, 1)
		r.ObserveRearm()
	})
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.SetResult(100*time.Millisecond, 2*time.Millisecond)

	path := filepath.Join(t.TempDir(), "bootcheck.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "bootcheck_result_mean_seconds 0.1"))
}
