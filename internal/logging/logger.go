// Package logging defines the small structured-logging interface the RIB's
// surrounding components (queue, fan-out, audit, event bus, admin server)
// take as a collaborator, plus a production zap-backed implementation.
// Keeping the interface here — rather than importing *zap.Logger directly
// everywhere — means tests can pass a no-op or a recording fake without
// pulling in zap's own test helpers.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the sugared key/value logging shape used throughout Catalyst,
// mirroring zap.SugaredLogger's *w methods. Core packages depend on this
// interface rather than zap so they stay testable without it.
type Logger interface {
	Debugw(msg string, kv ...any)
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
}

// zapLogger adapts a *zap.SugaredLogger to Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZap builds a production JSON-encoded, ISO8601-timestamped zap
// logger at the given level ("debug", "info", "warn", "error") named
// name.
func NewZap(name, level string) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	var lvl zap.AtomicLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = lvl

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: base.Named(name).Sugar()}, nil
}

// WrapZap adapts an already-built *zap.Logger (e.g. one named per
// component via l.Named(...)) to Logger, for callers that build one base
// logger and fan it out to many collaborators rather than calling NewZap
// per component.
func WrapZap(l *zap.Logger) Logger {
	return &zapLogger{s: l.Sugar()}
}

func (z *zapLogger) Debugw(msg string, kv ...any) { z.s.Debugw(msg, kv...) }
func (z *zapLogger) Infow(msg string, kv ...any)  { z.s.Infow(msg, kv...) }
func (z *zapLogger) Warnw(msg string, kv ...any)  { z.s.Warnw(msg, kv...) }
func (z *zapLogger) Errorw(msg string, kv ...any) { z.s.Errorw(msg, kv...) }

// Nop is a Logger that discards everything, for tests that don't care
// about log output.
type Nop struct{}

func (Nop) Debugw(string, ...any) {}
func (Nop) Infow(string, ...any)  {}
func (Nop) Warnw(string, ...any)  {}
func (Nop) Errorw(string, ...any) {}
