// Package log exports the leveled logging primitives used throughout
// this module: package-level Debugf/Infof/Warnf/Errorf, a settable
// level, and an external-logger registration hook, backed by
// go.uber.org/zap.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface for logging messages, kept intentionally
// small so call sites don't need to import zap directly.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	With(keysAndValues ...interface{}) Logger
	Sync() error
}

// Level represents the logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	DisabledLevel
)

type sugared struct {
	s *zap.SugaredLogger
}

func (l *sugared) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *sugared) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *sugared) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *sugared) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }
func (l *sugared) Sync() error                               { return l.s.Sync() }

func (l *sugared) With(keysAndValues ...interface{}) Logger {
	return &sugared{s: l.s.With(keysAndValues...)}
}

var (
	mu      sync.Mutex
	current Level = InfoLevel
	atom          = zap.NewAtomicLevelAt(toZapLevel(InfoLevel))
	base          = buildLogger(atom)
	external ExternalLogger
)

// ExternalLogger describes a service that processes log records
// emitted alongside the default logger, e.g. to ship them off-box.
// Registering one never changes core behavior; it is purely additive.
type ExternalLogger interface {
	Log(Level, string)
	Flush()
}

// Register connects an ExternalLogger to the default logger. It may
// only be called once.
func Register(e ExternalLogger) {
	mu.Lock()
	defer mu.Unlock()
	if external != nil {
		panic("log: cannot register a second external logger")
	}
	external = e
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

func buildLogger(level zap.AtomicLevel) *zap.SugaredLogger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stderr), level)
	return zap.New(core).Sugar()
}

// SetLevel sets the minimum level the default logger emits.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	current = l
	atom.SetLevel(toZapLevel(l))
}

// L returns the process-wide default Logger.
func L() Logger {
	return &sugared{s: base}
}

// With returns a Logger derived from the default logger with the given
// structured key/value pairs attached to every subsequent line.
func With(keysAndValues ...interface{}) Logger {
	return L().With(keysAndValues...)
}

func Debugf(format string, args ...interface{}) { L().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { L().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { L().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().Errorf(format, args...) }
