// Package logging constructs the per-subsystem zap loggers shared across
// the engine: one *zap.Logger per pipeline stage, bundled as fields on a
// Set built once and passed to telemetry.NewEngine (and its individual
// loggers to the other constructors) instead of living as global state.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Set bundles one logger per pipeline subsystem.
type Set struct {
	Capture    *zap.Logger
	Reassembly *zap.Logger
	Framing    *zap.Logger
	Decode     *zap.Logger
	Dispatch   *zap.Logger
	Stats      *zap.Logger
	Reference  *zap.Logger
	API        *zap.Logger
	FightLog   *zap.Logger
}

// New builds a Set. debug raises every logger to debug level.
func New(debug bool) (*Set, error) {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &Set{
		Capture:    base.Named("capture"),
		Reassembly: base.Named("reassembly"),
		Framing:    base.Named("framing"),
		Decode:     base.Named("decode"),
		Dispatch:   base.Named("dispatch"),
		Stats:      base.Named("stats"),
		Reference:  base.Named("reference"),
		API:        base.Named("api"),
		FightLog:   base.Named("fightlog"),
	}, nil
}

// Sync flushes all loggers; call at shutdown.
func (s *Set) Sync() {
	for _, l := range []*zap.Logger{
		s.Capture, s.Reassembly, s.Framing, s.Decode,
		s.Dispatch, s.Stats, s.Reference, s.API, s.FightLog,
	} {
		_ = l.Sync()
	}
}
