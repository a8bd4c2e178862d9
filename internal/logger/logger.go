// Package logger builds the zap loggers used by portfolioql. The servers log
// through the sugared key-value Logger; the query engine takes the
// structured *zap.Logger from Zap and tags its entries with a query id.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field keys shared across packages, so one connection or query can be
// followed through the log.
const (
	KeyQueryID = "query_id"
	KeyConnID  = "conn_id"
	KeyStage   = "stage"
	KeyRows    = "rows"
)

// Logger is a sugared zap logger. Use the *w methods for key-value pairs.
type Logger struct {
	*zap.SugaredLogger
	base  *zap.Logger
	close func()
}

// New creates a logger writing to output: "stderr" (or empty), "stdout", or
// a file path opened for append. format is "text" or "json".
func New(level, format, output string) (*Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	if output == "" {
		output = "stderr"
	}
	sink, closeSink, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output %s: %w", output, err)
	}

	enc, err := newEncoder(format, isTerminal(output))
	if err != nil {
		closeSink()
		return nil, err
	}

	l := wrap(zap.New(zapcore.NewCore(enc, sink, lvl), zap.AddCaller()))
	l.close = closeSink
	return l, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return wrap(zap.NewNop())
}

func wrap(base *zap.Logger) *Logger {
	return &Logger{SugaredLogger: base.Sugar(), base: base}
}

func parseLevel(level string) (zapcore.Level, error) {
	s := strings.ToLower(level)
	if s == "warning" {
		s = "warn"
	}
	switch s {
	case "debug", "info", "warn", "error":
		return zapcore.ParseLevel(s)
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", level)
}

func newEncoder(format string, color bool) (zapcore.Encoder, error) {
	switch strings.ToLower(format) {
	case "json":
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "timestamp"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg), nil
	case "text", "console", "":
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		if color {
			cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		return zapcore.NewConsoleEncoder(cfg), nil
	}
	return nil, fmt.Errorf("unknown log format: %s", format)
}

// isTerminal reports whether output is a standard stream. Files get no
// color codes.
func isTerminal(output string) bool {
	return output == "stderr" || output == "stdout"
}

// Zap returns the structured logger behind l, for the query engine.
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// With returns a child logger carrying the given key-value pairs.
func (l *Logger) With(args ...interface{}) *Logger {
	return wrap(l.SugaredLogger.With(args...).Desugar())
}

// Named returns a child logger with name appended to the logger name.
func (l *Logger) Named(name string) *Logger {
	return wrap(l.base.Named(name))
}

// ForConn returns a child logger tagged with a connection id.
func (l *Logger) ForConn(id any) *Logger {
	return l.With(KeyConnID, id)
}

// Close flushes buffered entries and releases the output file, if any.
func (l *Logger) Close() error {
	err := l.base.Sync()
	if l.close != nil {
		l.close()
	}
	return err
}

// ForQuery tags an engine logger with the id of one execution.
func ForQuery(base *zap.Logger, id string) *zap.Logger {
	return base.With(zap.String(KeyQueryID, id))
}

// Stage returns the fields of a pipeline stage entry: its name and the
// number of rows it produced.
func Stage(name string, rows int) []zap.Field {
	return []zap.Field{zap.String(KeyStage, name), zap.Int(KeyRows, rows)}
}
