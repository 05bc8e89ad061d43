package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu      sync.RWMutex
	base    *zap.Logger
	sugar   *zap.SugaredLogger
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	initOne sync.Once
)

// initLogger installs a production logger on stderr unless Init or SetLogger
// already ran.
func initLogger() {
	initOne.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if base != nil {
			return
		}
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		setLocked(l)
	})
}

// Init builds the process logger. development switches to the human readable
// console encoder used while running locally.
func Init(lvl Level, development bool) error {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	level.SetLevel(toZapLevel(lvl))
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLogger replaces the process logger. Tests pass zaptest.NewLogger(t).
func SetLogger(l *zap.Logger) {
	initOne.Do(func() {})
	mu.Lock()
	defer mu.Unlock()
	setLocked(l)
}

func setLocked(l *zap.Logger) {
	base = l
	sugar = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

// L returns the underlying zap logger.
func L() *zap.Logger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Named returns a child logger for libraries that take a *zap.Logger.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

func SetLevel(l Level) {
	initLogger()
	level.SetLevel(toZapLevel(l))
}

// ParseLevel accepts case-insensitive level names; unknown values map to INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	logger().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	logger().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	logger().Warnw(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{zap.Error(err)}, kv...)
	logger().Errorw(msg, extended...)
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	_ = L().Sync()
}

func logger() *zap.SugaredLogger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
