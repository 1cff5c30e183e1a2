package utils

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	ShowRaylibInfo bool

	logger atomic.Pointer[zap.Logger]
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	logger.Store(zap.NewNop())
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// ParseLevel accepts debug, info, warn or error (case-insensitive).
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// InitLogger builds the process logger. Development mode writes console output
// with colored levels, otherwise JSON lines go to stderr.
func InitLogger(l LogLevel, development bool) error {
	level.SetLevel(l.zapLevel())

	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = level

	built, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetLogger(built)
	return nil
}

// SetLogger replaces the process logger. Passing nil disables logging.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// SetLevel changes the level of a logger built by InitLogger.
func SetLevel(l LogLevel) { level.SetLevel(l.zapLevel()) }

// L returns the structured logger.
func L() *zap.Logger { return logger.Load() }

// Sync flushes buffered log entries.
func Sync() { _ = L().Sync() }

func sugar() *zap.SugaredLogger { return L().WithOptions(zap.AddCallerSkip(1)).Sugar() }

func Info(format string, v ...interface{})  { sugar().Infof(format, v...) }
func Debug(format string, v ...interface{}) { sugar().Debugf(format, v...) }
func Warn(format string, v ...interface{})  { sugar().Warnf(format, v...) }
func Error(format string, v ...interface{}) { sugar().Errorf(format, v...) }

// RaylibLogHook, when set, receives every raylib log line before it is logged.
// The raylib backend uses it to capture shader compiler output.
var RaylibLogHook atomic.Pointer[func(level int, text string)]

func RaylibLogCallback(level int, text string) {
	if hook := RaylibLogHook.Load(); hook != nil {
		(*hook)(level, text)
	}

	log := L().Named("raylib")
	switch level {
	case 1, 2: // LOG_TRACE, LOG_DEBUG
		log.Debug(text)
	case 3: // LOG_INFO
		if ShowRaylibInfo {
			log.Info(text)
		} else {
			log.Debug(text)
		}
	case 4: // LOG_WARNING
		log.Warn(text)
	case 5, 6: // LOG_ERROR, LOG_FATAL
		log.Error(text)
	}
}
