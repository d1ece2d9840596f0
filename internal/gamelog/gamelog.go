// Package gamelog is the process-wide structured logger for the arena server.
// It wraps a zap sugared logger behind package-level format functions so that
// every component logs the same way without threading a logger around.
package gamelog

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a log severity.
type Level = zapcore.Level

// Log levels re-exported so callers need not import zapcore.
const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

type logFormatFunc func(format string, args ...interface{})

var (
	// Debugf logs a formatted debug message.
	Debugf logFormatFunc
	// Infof logs a formatted info message.
	Infof logFormatFunc
	// Warnf logs a formatted warning.
	Warnf logFormatFunc
	// Errorf logs a formatted error.
	Errorf logFormatFunc
	// Fatalf logs a formatted message and exits the process.
	Fatalf logFormatFunc

	level  = zap.NewAtomicLevelAt(InfoLevel)
	source string
	base   *zap.Logger
	logger *zap.Logger
)

func init() {
	if err := SetOutput([]string{"stderr"}); err != nil {
		panic(err)
	}
}

func newConfig(outputs []string) zap.Config {
	return zap.Config{
		Level:            level,
		Encoding:         "console",
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			MessageKey:     "message",
			CallerKey:      "caller",
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
	}
}

// SetOutput rebuilds the logger to write to the given zap output paths
// ("stderr", "stdout" or file paths).
func SetOutput(outputs []string) error {
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	built, err := newConfig(outputs).Build(zap.AddCaller())
	if err != nil {
		return errors.Wrapf(err, "build logger for %v", outputs)
	}
	base = built
	setLogger()
	return nil
}

// SetSource tags every subsequent line with the given component name.
func SetSource(comp string) {
	source = comp
	setLogger()
}

func setLogger() {
	logger = base
	if source != "" {
		logger = base.With(zap.String("source", source))
	}
	sugar := logger.Sugar()
	Debugf = sugar.Debugf
	Infof = sugar.Infof
	Warnf = sugar.Warnf
	Errorf = sugar.Errorf
	Fatalf = sugar.Fatalf
}

// SetLevel changes the minimum level that is written.
func SetLevel(lv Level) {
	level.SetLevel(lv)
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	return level.Level()
}

// ParseLevel converts a level name to a Level. Unknown names fall back to
// InfoLevel.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "info", "":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	}
	Warnf("ParseLevel: unknown level %q, using info", s)
	return InfoLevel
}

// Sync flushes buffered log entries.
func Sync() {
	_ = logger.Sync()
}
