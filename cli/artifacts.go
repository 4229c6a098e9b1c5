package cli

// This file contains artifact management functionality for saving trial
// profiles, console logs and metrics to the history directory.

import (
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/perfgo/bootcheck/bench"
	"github.com/perfgo/bootcheck/metrics"
	"github.com/perfgo/bootcheck/model"
	"github.com/perfgo/bootcheck/trialprof"
)

const (
	trialProfileFile = "trials.pb.gz"
	consoleLogFile   = "console.log.zst"
	metricsFile      = "metrics.prom"
)

// zstd.Encoder and zstd.Decoder are safe for concurrent use with
// EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("cli: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cli: zstd decoder initialization failed: " + err.Error())
	}
}

// writeConsoleLog stores the guest console compressed with zstd.
func writeConsoleLog(path string, console []byte) error {
	if err := os.WriteFile(path, zstdEncoder.EncodeAll(console, nil), 0o644); err != nil {
		return fmt.Errorf("failed to write console log: %w", err)
	}
	return nil
}

// readConsoleLog reads a console log written by writeConsoleLog.
func readConsoleLog(path string) ([]byte, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read console log: %w", err)
	}
	data, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return data, nil
}

func (r *recording) saveTrialProfile(start time.Time, trials []bench.Trial) {
	if r == nil || len(trials) == 0 {
		return
	}
	if err := trialprof.WriteFile(r.path(trialProfileFile), trialprof.Build(start, trials)); err != nil {
		r.app.logger.Warn().Err(err).Msg("Failed to save trial profile")
		return
	}
	r.addArtifact(model.ArtifactTypeTrialProfile, trialProfileFile)
}

func (r *recording) saveConsoleLog(console []byte) {
	if r == nil || len(console) == 0 {
		return
	}
	if err := writeConsoleLog(r.path(consoleLogFile), console); err != nil {
		r.app.logger.Warn().Err(err).Msg("Failed to save console log")
		return
	}
	r.addArtifact(model.ArtifactTypeConsoleLog, consoleLogFile)
}

func (r *recording) saveMetrics(reg *metrics.Registry) {
	if r == nil {
		return
	}
	if err := reg.WriteTextfile(r.path(metricsFile)); err != nil {
		r.app.logger.Warn().Err(err).Msg("Failed to save metrics")
		return
	}
	r.addArtifact(model.ArtifactTypeMetrics, metricsFile)
}

// writeMetricsFile writes metrics to the --metrics-file path, if any.
func (a *App) writeMetricsFile(path string, reg *metrics.Registry) {
	if path == "" {
		return
	}
	if err := reg.WriteTextfile(path); err != nil {
		a.logger.Warn().Err(err).Str("path", path).Msg("Failed to write metrics file")
	}
}
