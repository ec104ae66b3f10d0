// Package logger builds the structured zap logger shared by every
// SentinelCam binary. The ingest dispatcher, datapump, and scheduler all
// log from hot paths (per-frame, per-record), so the logging methods take
// alternating key/value pairs rather than zap.Field values — call sites
// stay compact and the conversion cost is only paid when a line is
// actually emitted at an enabled level.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with key/value-pair logging methods.
type Logger struct {
	*zap.Logger
}

// LogConfig is the log section of a service's configuration file.
type LogConfig struct {
	Level  string // debug, info, warn, error, fatal
	Format string // "json" for machine-shipped logs, anything else for console
	Output string // file path, or "stdout"
}

// New builds a Logger from cfg. An unrecognized level falls back to info
// rather than failing startup; a bad output path is a hard error since
// silently logging nowhere on a headless camera node is worse than not
// starting.
func New(cfg LogConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encCfg zapcore.EncoderConfig
	if cfg.Format == "json" {
		encCfg = zap.NewProductionEncoderConfig()
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	output := cfg.Output
	if output == "" {
		output = "stdout"
	}
	sink, _, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("logger: open output %s: %w", output, err)
	}

	core := zapcore.NewCore(encoder, sink, level)
	zl := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{zl}, nil
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// With returns a child logger carrying fields on every line it emits,
// used to pin a component name or an outpost node to a goroutine's logs.
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{l.Logger.With(kvFields(fields)...)}
}

// Info logs at info level with alternating key/value pairs.
func (l *Logger) Info(msg string, fields ...interface{}) {
	l.Logger.Info(msg, kvFields(fields)...)
}

// Error logs at error level with alternating key/value pairs.
func (l *Logger) Error(msg string, fields ...interface{}) {
	l.Logger.Error(msg, kvFields(fields)...)
}

// Warn logs at warn level with alternating key/value pairs.
func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.Logger.Warn(msg, kvFields(fields)...)
}

// Debug logs at debug level with alternating key/value pairs.
func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.Logger.Debug(msg, kvFields(fields)...)
}

// Fatal logs at fatal level and exits.
func (l *Logger) Fatal(msg string, fields ...interface{}) {
	l.Logger.Fatal(msg, kvFields(fields)...)
}

// kvFields converts alternating key/value pairs to zap fields. A value
// whose key is not a string, or a dangling key with no value, is skipped
// rather than panicking — a malformed log call must never take down an
// ingest or scheduler process.
func kvFields(pairs []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, pairs[i+1]))
	}
	return fields
}

// NewNopLogger returns a logger that discards everything, for tests.
func NewNopLogger() *Logger {
	return &Logger{zap.NewNop()}
}
