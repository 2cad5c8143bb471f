package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// moduleRoot is trimmed from caller paths reported to the collector.
const moduleRoot = "PatternDesk/"

// Logger is a zerolog logger with typed fields and an optional collector
// that aggregates errors for shipping.
type Logger struct {
	zl        zerolog.Logger
	collector *LogCollector
	// collectWarn also forwards warnings to the collector.
	collectWarn bool
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
	Component  string // optional "component" field on every line
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// NewWriter builds a JSON logger on w at debug level.
func NewWriter(w io.Writer) *Logger {
	return &Logger{zl: zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()}
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		output = file
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: timeFormat}
	}

	zctx := zerolog.New(output).Level(level).With().Timestamp()
	if cfg.Component != "" {
		zctx = zctx.Str("component", cfg.Component)
	}
	return &Logger{zl: zctx.Logger()}, nil
}

// With returns a child logger carrying fields on every line. The collector
// is shared with the parent.
func (l *Logger) With(fields ...Field) *Logger {
	zctx := l.zl.With()
	for _, f := range fields {
		zctx = zctx.Interface(f.Key, f.Value)
	}
	return &Logger{zl: zctx.Logger(), collector: l.collector, collectWarn: l.collectWarn}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(l.zl.Debug(), msg, fields) }

func (l *Logger) Info(msg string, fields ...Field) { l.write(l.zl.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) {
	l.write(l.zl.Warn(), msg, fields)
	if l.collectWarn {
		l.collect("warn", msg, fields)
	}
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.write(l.zl.Error(), msg, fields)
	l.collect("error", msg, fields)
}

func (l *Logger) write(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		f.apply(e)
	}
	e.Msg(msg)
}

// collect runs two frames below the caller: collect <- Error/Warn <- caller.
func (l *Logger) collect(level, msg string, fields []Field) {
	if l.collector == nil {
		return
	}
	caller := "unknown"
	if _, file, line, ok := runtime.Caller(2); ok {
		if i := strings.LastIndex(file, moduleRoot); i >= 0 {
			file = file[i+len(moduleRoot):]
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}
	kv := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		kv[f.Key] = f.Value
	}
	l.collector.AddLog(level, msg, kv, caller)
}

// AddCollector starts aggregating errors (and warnings when
// config.IncludeWarn) into periodic batches sent through config.Publisher.
func (l *Logger) AddCollector(config *CollectionConfig) {
	if l.collector != nil {
		l.collector.Close()
	}
	l.collector = NewLogCollector(config)
	l.collectWarn = config.IncludeWarn
}

// RemoveCollector flushes and detaches the collector.
func (l *Logger) RemoveCollector() {
	if l.collector != nil {
		l.collector.Close()
		l.collector = nil
	}
}

// Field is one structured key/value pair. Value is what the collector sees.
type Field struct {
	Key   string
	Value interface{}
	apply func(*zerolog.Event)
}

func String(key, value string) Field {
	return Field{Key: key, Value: value, apply: func(e *zerolog.Event) { e.Str(key, value) }}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value, apply: func(e *zerolog.Event) { e.Int(key, value) }}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value, apply: func(e *zerolog.Event) { e.Int64(key, value) }}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value, apply: func(e *zerolog.Event) { e.Bool(key, value) }}
}

// Error logs err under "error". A nil err is omitted.
func Error(err error) Field {
	var msg interface{}
	if err != nil {
		msg = err.Error()
	}
	return Field{Key: "error", Value: msg, apply: func(e *zerolog.Event) { e.Err(err) }}
}

// Duration logs d in milliseconds.
func Duration(key string, d time.Duration) Field {
	ms := d.Milliseconds()
	return Field{Key: key, Value: ms, apply: func(e *zerolog.Event) { e.Int64(key, ms) }}
}

// Time logs t in RFC 3339 with milliseconds, UTC.
func Time(key string, t time.Time) Field {
	return String(key, t.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
}

func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value, apply: func(e *zerolog.Event) { e.Interface(key, value) }}
}
