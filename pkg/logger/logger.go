// Package logger provides the zap-based logging setup shared by all
// exporter components. Components obtain named loggers through For and
// libraries that speak logr (the Kubernetes client machinery) are bridged
// through NewLogr.
package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Format selects the log output encoding.
type Format string

const (
	// FormatJSON emits one JSON object per line.
	FormatJSON Format = "json"
	// FormatConsole emits colored, human-readable lines.
	FormatConsole Format = "console"
	// FormatAuto picks console when stdout is a terminal, JSON otherwise.
	FormatAuto Format = "auto"
)

// Level names accepted by New and the --log-level flag.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var initOnce sync.Once

// ParseLevel converts a level name to a zap level. Unknown names fall back
// to info so a typo in configuration never silences logging entirely.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn, "warning":
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ResolveFormat maps FormatAuto to a concrete format using TTY detection.
// Unknown formats resolve to JSON.
func ResolveFormat(format Format) Format {
	switch format {
	case FormatJSON, FormatConsole:
		return format
	case FormatAuto:
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return FormatConsole
		}
		return FormatJSON
	default:
		return FormatJSON
	}
}

// New creates a zap logger with the given level and format.
func New(level string, format Format) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch ResolveFormat(format) {
	case FormatConsole:
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.AddSync(os.Stdout),
		zap.NewAtomicLevelAt(ParseLevel(level)),
	)

	return zap.New(core, zap.AddCaller())
}

// Initialize installs the global logger via zap.ReplaceGlobals. Only the
// first call takes effect; later calls are no-ops.
func Initialize(level string, format Format) {
	initOnce.Do(func() {
		logger := New(level, format)
		logger.Debug("Logger initialized",
			zap.String("level", level),
			zap.String("format", string(ResolveFormat(format))),
		)
		zap.ReplaceGlobals(logger)
	})
}

// Get returns the global structured logger, initializing defaults if
// Initialize was never called.
func Get() *zap.Logger {
	Initialize(LevelInfo, FormatAuto)
	return zap.L()
}

// For returns a named logger for a component.
func For(component string) *zap.SugaredLogger {
	return Get().Sugar().Named(component)
}

// Sync flushes any buffered log entries. Safe to call on exit; stdout may
// legitimately refuse the sync on some platforms.
func Sync() error {
	return zap.L().Sync()
}

// NewLogr adapts the global logger for logr consumers. The Kubernetes
// client machinery logs at high verbosity, so the bridge drops everything
// below the warn level to keep cluster chatter out of exporter logs.
func NewLogr() logr.Logger {
	quiet := Get().Named("k8s").WithOptions(
		zap.IncreaseLevel(zapcore.WarnLevel),
	)
	return zapr.NewLogger(quiet)
}
