// pkg/logger/fallback.go

package logger

import (
	"fmt"
	"os"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log   *zap.Logger
	level = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// L returns the process logger, initialising a console-only one on first use.
func L() *zap.Logger {
	if log == nil {
		log = NewFallbackLogger()
	}
	return log
}

// NewFallbackLogger returns a console-only logger on stderr.
func NewFallbackLogger() *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(DefaultConsoleEncoderConfig()),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// InitFallback builds the console + JSON file logger and installs it as the
// zap and otelzap global. It never fails; without a writable log path the
// logger is console-only.
func InitFallback(debug bool) {
	if debug {
		level.SetLevel(zap.DebugLevel)
	} else {
		level.SetLevel(ParseLogLevel(os.Getenv("LOG_LEVEL")))
	}

	console := zapcore.NewCore(zapcore.NewConsoleEncoder(DefaultConsoleEncoderConfig()), zapcore.Lock(os.Stderr), level)

	path, writer, err := OpenLogFile()
	if err != nil {
		fmt.Fprintln(os.Stderr, "No writable log path found. Logging to console only.")
		log = zap.New(console, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		jsonCfg := zap.NewProductionEncoderConfig()
		jsonCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		jsonCfg.EncodeLevel = zapcore.CapitalLevelEncoder

		core := zapcore.NewTee(
			console,
			zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), writer, zap.DebugLevel),
		)
		log = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	zap.ReplaceGlobals(log)
	otelzap.ReplaceGlobals(otelzap.New(log))
	log.Debug("Logger initialized", zap.String("log_path", path))
}

// Sync flushes buffered log entries, ignoring the EINVAL stderr returns on some platforms.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}

func DefaultConsoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "T"
	cfg.LevelKey = "L"
	cfg.NameKey = "N"
	cfg.CallerKey = ""
	cfg.MessageKey = "M"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

func ParseLogLevel(s string) zapcore.Level {
	switch s {
	case "TRACE", "DEBUG", "debug":
		return zapcore.DebugLevel
	case "WARN", "warn":
		return zapcore.WarnLevel
	case "ERROR", "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
