// Leveled, structured logging for the plotter host
//
// Components take a named child of the default logger (GetLogger) and
// attach key-value fields per entry or per child (With). Output is one
// logfmt-style text line, optionally colored, or one JSON object per line.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the severity of an entry.
type Level int8

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a level name to a Level; unknown names give INFO.
func ParseLevel(s string) Level {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		return WARN
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i)
		}
	}
	return INFO
}

// Format selects the line encoding.
type Format int8

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(s) {
	case "text":
		return FormatText, true
	case "json":
		return FormatJSON, true
	}
	return FormatText, false
}

// Fields are structured key-value pairs attached to an entry.
type Fields map[string]any

func (f Fields) merge(other Fields) Fields {
	if len(f) == 0 {
		return other
	}
	if len(other) == 0 {
		return f
	}
	out := make(Fields, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

const textTimeLayout = "2006-01-02 15:04:05.000"

var levelColors = [...]string{"\x1b[36m", "\x1b[32m", "\x1b[33m", "\x1b[31m"}

// settings are copied into every child logger.
type settings struct {
	out    io.Writer
	level  Level
	format Format
	color  bool
	caller bool
}

// Logger writes entries under a name with a set of persistent fields.
type Logger struct {
	mu     sync.Mutex
	name   string
	fields Fields
	s      settings
}

// New creates a logger writing text to stderr at INFO. Colors are on unless
// NO_COLOR is set.
func New(name string) *Logger {
	return &Logger{
		name: name,
		s: settings{
			out:   os.Stderr,
			level: INFO,
			color: os.Getenv("NO_COLOR") == "",
		},
	}
}

func (l *Logger) update(fn func(*settings)) {
	l.mu.Lock()
	fn(&l.s)
	l.mu.Unlock()
}

func (l *Logger) snapshot() settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s
}

func (l *Logger) SetLevel(level Level) { l.update(func(s *settings) { s.level = level }) }
func (l *Logger) SetWriter(w io.Writer) { l.update(func(s *settings) { s.out = w }) }
func (l *Logger) SetColorize(on bool) { l.update(func(s *settings) { s.color = on }) }
func (l *Logger) SetFormat(f Format) { l.update(func(s *settings) { s.format = f }) }
func (l *Logger) SetCaller(on bool) { l.update(func(s *settings) { s.caller = on }) }
func (l *Logger) GetLevel() Level { return l.snapshot().level }
func (l *Logger) Enabled(level Level) bool { return level >= l.GetLevel() }

// Name returns the logger name.
func (l *Logger) Name() string { return l.name }

// WithPrefix returns a child under a different name.
func (l *Logger) WithPrefix(name string) *Logger {
	return &Logger{name: name, fields: l.fields, s: l.snapshot()}
}

// With returns a child that adds fields to every entry.
func (l *Logger) With(fields Fields) *Logger {
	return &Logger{name: l.name, fields: l.fields.merge(fields), s: l.snapshot()}
}

// WithField starts an entry carrying one field.
func (l *Logger) WithField(key string, value any) *Entry {
	return &Entry{l: l, fields: Fields{key: value}}
}

// WithFields starts an entry carrying fields.
func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{l: l, fields: fields}
}

// WithError starts an entry carrying the error text.
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", errText(err))
}

// The level methods format msg with args when args are given.
func (l *Logger) Debug(msg string, args ...any) { l.emit(DEBUG, msg, args, nil) }
func (l *Logger) Info(msg string, args ...any) { l.emit(INFO, msg, args, nil) }
func (l *Logger) Warn(msg string, args ...any) { l.emit(WARN, msg, args, nil) }
func (l *Logger) Error(msg string, args ...any) { l.emit(ERROR, msg, args, nil) }

// record is one rendered entry.
type record struct {
	Time    time.Time `json:"-"`
	Stamp   string    `json:"timestamp"`
	Level   string    `json:"level"`
	Logger  string    `json:"logger"`
	Message string    `json:"message"`
	Caller  string    `json:"caller,omitempty"`
	Fields  Fields    `json:"fields,omitempty"`

	level Level
}

// emit must be called directly by an exported method so the caller frame
// sits at a fixed depth.
func (l *Logger) emit(level Level, msg string, args []any, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.s.level {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	r := record{
		Time:    time.Now(),
		Level:   level.String(),
		Logger:  l.name,
		Message: msg,
		Fields:  l.fields.merge(fields),
		level:   level,
	}
	if l.s.caller {
		if _, file, line, ok := runtime.Caller(2); ok {
			r.Caller = filepath.Base(file) + ":" + strconv.Itoa(line)
		}
	}

	var line []byte
	if l.s.format == FormatJSON {
		line = r.json()
	} else {
		line = r.text(l.s.color)
	}
	_, _ = l.s.out.Write(line)
}

func (r *record) json() []byte {
	r.Stamp = r.Time.Format(time.RFC3339Nano)
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"level": r.Level, "message": r.Message, "error": err.Error()})
	}
	return append(data, '\n')
}

func (r *record) text(color bool) []byte {
	var b bytes.Buffer
	b.WriteString(r.Time.Format(textTimeLayout))
	b.WriteByte(' ')
	if color {
		b.WriteString(levelColors[r.level])
	}
	fmt.Fprintf(&b, "%-5s", r.Level)
	if color {
		b.WriteString("\x1b[0m")
	}
	if r.Logger != "" {
		b.WriteByte(' ')
		b.WriteString(r.Logger)
		b.WriteByte(':')
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)

	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(textValue(r.Fields[k]))
	}
	if r.Caller != "" {
		b.WriteString(" caller=")
		b.WriteString(r.Caller)
	}
	b.WriteByte('\n')
	return b.Bytes()
}

// textValue quotes values containing spaces, quotes or control characters.
func textValue(v any) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \"=\t\r\n") {
		return strconv.Quote(s)
	}
	return s
}

func errText(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

// Entry is a pending log line with fields.
type Entry struct {
	l      *Logger
	fields Fields
}

func (e *Entry) WithField(key string, value any) *Entry {
	return &Entry{l: e.l, fields: e.fields.merge(Fields{key: value})}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{l: e.l, fields: e.fields.merge(fields)}
}

func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", errText(err))
}

func (e *Entry) Debug(msg string, args ...any) { e.l.emit(DEBUG, msg, args, e.fields) }
func (e *Entry) Info(msg string, args ...any) { e.l.emit(INFO, msg, args, e.fields) }
func (e *Entry) Warn(msg string, args ...any) { e.l.emit(WARN, msg, args, e.fields) }
func (e *Entry) Error(msg string, args ...any) { e.l.emit(ERROR, msg, args, e.fields) }

// DefaultPrefix names the default logger.
const DefaultPrefix = "plotter"

// Environment variables read by ConfigureFromEnv.
const (
	EnvLevel  = "PLOTTER_LOG_LEVEL"
	EnvFormat = "PLOTTER_LOG_FORMAT"
	EnvCaller = "PLOTTER_LOG_CALLER"
)

var defaultLogger atomic.Pointer[Logger]

func init() {
	l := New(DefaultPrefix)
	ConfigureFromEnv(l)
	defaultLogger.Store(l)
}

// SetDefaultLogger replaces the logger GetLogger derives from.
func SetDefaultLogger(l *Logger) { defaultLogger.Store(l) }

// Default returns the default logger.
func Default() *Logger { return defaultLogger.Load() }

// GetLogger returns a child of the default logger named name.
func GetLogger(name string) *Logger { return Default().WithPrefix(name) }

func Debug(msg string, args ...any) { Default().emit(DEBUG, msg, args, nil) }
func Info(msg string, args ...any) { Default().emit(INFO, msg, args, nil) }
func Warn(msg string, args ...any) { Default().emit(WARN, msg, args, nil) }
func Error(msg string, args ...any) { Default().emit(ERROR, msg, args, nil) }

// ConfigureFromEnv applies PLOTTER_LOG_LEVEL, PLOTTER_LOG_FORMAT,
// PLOTTER_LOG_CALLER and NO_COLOR to l.
func ConfigureFromEnv(l *Logger) {
	if v := os.Getenv(EnvLevel); v != "" {
		l.SetLevel(ParseLevel(v))
	}
	if f, ok := ParseFormat(os.Getenv(EnvFormat)); ok {
		l.SetFormat(f)
	}
	if os.Getenv(EnvCaller) != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}

// Options configures the default logger at startup. Empty fields leave the
// environment or built-in setting in place.
type Options struct {
	Level   string
	Format  string
	Caller  bool
	LogFile string // rotated file, written in addition to stderr
}

// Setup rebuilds the default logger from the environment and opts. Loggers
// obtained earlier through GetLogger keep their old settings. The returned
// file is non-nil when opts.LogFile is set and must be closed on exit.
func Setup(opts Options) (*RotatingFile, error) {
	l := New(DefaultPrefix)
	ConfigureFromEnv(l)
	if opts.Level != "" {
		l.SetLevel(ParseLevel(opts.Level))
	}
	if opts.Format != "" {
		f, ok := ParseFormat(opts.Format)
		if !ok {
			return nil, fmt.Errorf("log: unknown format %q", opts.Format)
		}
		l.SetFormat(f)
	}
	if opts.Caller {
		l.SetCaller(true)
	}

	var rf *RotatingFile
	if opts.LogFile != "" {
		var err error
		if rf, err = OpenRotatingFile(opts.LogFile, RotationOptions{}); err != nil {
			return nil, err
		}
		l.SetWriter(io.MultiWriter(os.Stderr, rf))
		l.SetColorize(false)
	}
	SetDefaultLogger(l)
	return rf, nil
}
