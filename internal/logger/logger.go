package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a thin structured wrapper over zerolog
type Logger struct {
	zl zerolog.Logger
}

// Config selects level, encoding and destination
type Config struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error fatal panic"`
	Format     string `yaml:"format" default:"console" validate:"oneof=json console"`
	Output     string `yaml:"output" default:"stderr"` // stdout, stderr, or file path
	TimeFormat string `yaml:"time_format"`
}

// New builds a logger from cfg. Console format is human readable; anything
// else writes JSON lines.
func New(cfg Config) (*Logger, error) {
	lvl := cfg.Level
	if lvl == "" {
		lvl = "info"
	}
	level, err := zerolog.ParseLevel(strings.ToLower(lvl))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer
	switch cfg.Output {
	case "", "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		output = file
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: timeFormat}
	}

	return &Logger{zl: zerolog.New(output).Level(level).With().Timestamp().Logger()}, nil
}

// NewWriter logs JSON to w at the given level. Used by tests.
func NewWriter(w io.Writer, level zerolog.Level) *Logger {
	return &Logger{zl: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// Nop discards everything
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that adds fields to every entry
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = f.addToContext(ctx)
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) Debug(msg string, fields ...Field) { emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { emit(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { emit(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { emit(l.zl.Error(), msg, fields) }

func emit(event *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		f.AddTo(event)
	}
	event.Msg(msg)
}

// Field is a typed key/value attached to an entry
type Field interface {
	AddTo(event *zerolog.Event)
	addToContext(ctx zerolog.Context) zerolog.Context
}

type stringField struct{ key, value string }

func (f stringField) AddTo(e *zerolog.Event) { e.Str(f.key, f.value) }
func (f stringField) addToContext(c zerolog.Context) zerolog.Context {
	return c.Str(f.key, f.value)
}

type int64Field struct {
	key   string
	value int64
}

func (f int64Field) AddTo(e *zerolog.Event) { e.Int64(f.key, f.value) }
func (f int64Field) addToContext(c zerolog.Context) zerolog.Context {
	return c.Int64(f.key, f.value)
}

type floatField struct {
	key   string
	value float64
}

func (f floatField) AddTo(e *zerolog.Event) { e.Float64(f.key, f.value) }
func (f floatField) addToContext(c zerolog.Context) zerolog.Context {
	return c.Float64(f.key, f.value)
}

type boolField struct {
	key   string
	value bool
}

func (f boolField) AddTo(e *zerolog.Event) { e.Bool(f.key, f.value) }
func (f boolField) addToContext(c zerolog.Context) zerolog.Context {
	return c.Bool(f.key, f.value)
}

type errorField struct{ err error }

func (f errorField) AddTo(e *zerolog.Event) { e.Err(f.err) }
func (f errorField) addToContext(c zerolog.Context) zerolog.Context {
	return c.AnErr(zerolog.ErrorFieldName, f.err)
}

type anyField struct {
	key   string
	value interface{}
}

func (f anyField) AddTo(e *zerolog.Event) { e.Interface(f.key, f.value) }
func (f anyField) addToContext(c zerolog.Context) zerolog.Context {
	return c.Interface(f.key, f.value)
}

func String(key, value string) Field          { return stringField{key, value} }
func Int(key string, value int) Field         { return int64Field{key, int64(value)} }
func Int64(key string, value int64) Field     { return int64Field{key, value} }
func Float64(key string, value float64) Field { return floatField{key, value} }
func Bool(key string, value bool) Field       { return boolField{key, value} }
func Error(err error) Field                   { return errorField{err} }
func Any(key string, value interface{}) Field { return anyField{key, value} }

// Duration logs d in milliseconds
func Duration(key string, d time.Duration) Field {
	return int64Field{key, d.Milliseconds()}
}

// Strings joins values with ", "
func Strings(key string, values []string) Field {
	return stringField{key, strings.Join(values, ", ")}
}
