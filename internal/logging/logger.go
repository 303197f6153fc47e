package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures a logger built by New.
type Options struct {
	Level  string // debug, info, warn or error
	Format string // json or console
	// FilePath sends output to a file instead of stdout.
	FilePath string
	// MaxSizeMB enables size-based rotation of FilePath when > 0.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
}

// NewLogger creates a zap.Logger with the specified level, format, and optional file output.
// level can be debug, info, warn, or error. format can be json or console.
// If filePath is empty, logs are written to stdout.
func NewLogger(level, format, filePath string) (*zap.Logger, error) {
	return New(Options{Level: level, Format: format, FilePath: filePath})
}

// New creates a zap.Logger from opts.
func New(opts Options) (*zap.Logger, error) {
	var ws zapcore.WriteSyncer = zapcore.AddSync(os.Stdout)
	switch {
	case opts.FilePath != "" && opts.MaxSizeMB > 0:
		rw, err := newRotateWriter(opts.FilePath, int64(opts.MaxSizeMB)*1024*1024, opts.MaxBackups)
		if err != nil {
			return nil, err
		}
		ws = rw
	case opts.FilePath != "":
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		ws = f
	}
	return newWithSyncer(opts.Level, opts.Format, ws), nil
}

// NewWriterLogger writes to w; used by tests and the CLI.
func NewWriterLogger(level, format string, w io.Writer) *zap.Logger {
	return newWithSyncer(level, format, zapcore.AddSync(w))
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newWithSyncer(level, format string, ws zapcore.WriteSyncer) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
	}

	var encoder zapcore.Encoder
	if strings.ToLower(format) == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, ws, parseLevel(level))
	return zap.New(core)
}
