// Package stumpy adapts klog.Logger onto github.com/joeycumines/stumpy, the
// JSON logiface backend, for deployments that want structured log output
// (e.g. piping boot diagnostics to a log aggregator) rather than the plain
// text klog.WriterLogger prints by default.
//
// This is an optional backend, kept out of the core klog package so that
// the common case — a console logger during development — doesn't pull in
// logiface and its JSON encoder.
package stumpy

import (
	"fmt"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"

	"github.com/joeycumines/go-corekernel/klog"
)

// Logger adapts a *logiface.Logger[*stumpy.Event] to klog.Logger.
type Logger struct {
	inner *logiface.Logger[*stumpy.Event]
	level klog.Level
}

// New builds a klog.Logger backed by stumpy's JSON encoder. opts configure
// the stumpy writer (see stumpy.WithWriter et al.).
func New(level klog.Level, opts ...stumpy.Option) *Logger {
	return &Logger{
		inner: logiface.New[*stumpy.Event](
			stumpy.L.WithStumpy(opts...),
			logiface.WithLevel[*stumpy.Event](toLogifaceLevel(level)),
		),
		level: level,
	}
}

func toLogifaceLevel(level klog.Level) logiface.Level {
	switch level {
	case klog.LevelDebug:
		return logiface.LevelDebug
	case klog.LevelInfo:
		return logiface.LevelInformational
	case klog.LevelWarn:
		return logiface.LevelWarning
	case klog.LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

func (l *Logger) IsEnabled(level klog.Level) bool {
	return level >= l.level
}

// Log translates a klog.Entry into a logiface builder chain and emits it.
func (l *Logger) Log(e klog.Entry) {
	var b *logiface.Builder[*stumpy.Event]
	switch e.Level {
	case klog.LevelDebug:
		b = l.inner.Debug()
	case klog.LevelWarn:
		b = l.inner.Warning()
	case klog.LevelError:
		b = l.inner.Err()
	default:
		b = l.inner.Info()
	}

	b = b.Str("component", e.Component)
	if e.HartID != 0 {
		b = b.Int("hart", e.HartID)
	}
	if e.Pid != 0 {
		b = b.Int("pid", e.Pid)
	}
	for k, v := range e.Fields {
		b = b.Str(k, fmtField(v))
	}
	if e.Err != nil {
		b = b.Err(e.Err)
	}
	b.Log(e.Message)
}

func fmtField(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
