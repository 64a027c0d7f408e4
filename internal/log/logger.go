// Package log provides a global logger with configurable logging level. Output is disabled until a
// level is set, so library code may log freely.

package log

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	LevelNone    Level = iota // Disables logging.
	LevelError                // Logs anomalies that are not expected to occur during normal use.
	LevelWarning              // Logs anomalies that are expected to occur occasionally during normal use.
	LevelInfo                 // Logs major events.
	LevelDebug                // Logs detailed IO
)

// Options configure the backend. The zero value logs to stderr only.
type Options struct {
	Level      Level
	File       string // Optional path of a rotated JSON log file.
	MaxSizeMB  int
	MaxBackups int
}

var (
	logMutex       sync.Mutex
	globalLogLevel Level
	atomicLevel    = zap.NewAtomicLevelAt(zapLevel(LevelNone))
	sugar          = newLogger(Options{})
)

var levelNames = map[string]Level{
	"none":    LevelNone,
	"off":     LevelNone,
	"error":   LevelError,
	"warn":    LevelWarning,
	"warning": LevelWarning,
	"info":    LevelInfo,
	"debug":   LevelDebug,
}

// ParseLevel converts a level name such as "debug" or "WARN" into a Level.
func ParseLevel(name string) (Level, error) {
	if level, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return level, nil
	}
	return LevelNone, fmt.Errorf("unknown log level '%s'", name)
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelWarning:
		return zapcore.WarnLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelDebug:
		return zapcore.DebugLevel
	}
	return zapcore.FatalLevel + 1
}

func newLogger(opts Options) *zap.SugaredLogger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), atomicLevel),
	}
	if opts.File != "" {
		sink := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(sink), atomicLevel))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()
}

// Configure replaces the backend. It is typically called once by main.
func Configure(opts Options) {
	logMutex.Lock()
	defer logMutex.Unlock()
	globalLogLevel = opts.Level
	atomicLevel.SetLevel(zapLevel(opts.Level))
	sugar = newLogger(opts)
}

func SetLevel(level Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	globalLogLevel = level
	atomicLevel.SetLevel(zapLevel(level))
}

func logLevel() Level {
	logMutex.Lock()
	defer logMutex.Unlock()
	return globalLogLevel
}

func logger() *zap.SugaredLogger {
	logMutex.Lock()
	defer logMutex.Unlock()
	return sugar
}

// Sync flushes buffered output.
func Sync() {
	_ = logger().Sync()
}

func log(level Level, format string, a ...interface{}) {
	if level > logLevel() {
		return
	}
	l := logger()
	switch level {
	case LevelDebug:
		l.Debugf(format, a...)
	case LevelInfo:
		l.Infof(format, a...)
	case LevelWarning:
		l.Warnf(format, a...)
	case LevelError:
		l.Errorf(format, a...)
	}
}

func Debug(format string, a ...interface{}) {
	log(LevelDebug, format, a...)
}
func Info(format string, a ...interface{}) {
	log(LevelInfo, format, a...)
}
func Warning(format string, a ...interface{}) {
	log(LevelWarning, format, a...)
}
func Error(format string, a ...interface{}) {
	log(LevelError, format, a...)
}

// Frame records a single wire frame at debug level. Direction is "TX" or "RX".
func Frame(direction, kind string, payload []byte) {
	if logLevel() < LevelDebug {
		return
	}
	logger().Desugar().WithOptions(zap.AddCallerSkip(-1)).Debug(direction,
		zap.String("kind", kind),
		zap.Int("len", len(payload)),
		zap.String("payload", hex.EncodeToString(payload)),
	)
}
