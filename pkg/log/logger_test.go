// Logger tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger(name string, f Format) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(name)
	l.SetWriter(&buf)
	l.SetColorize(false)
	l.SetFormat(f)
	return l, &buf
}

type jsonLine struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Logger    string         `json:"logger"`
	Message   string         `json:"message"`
	Caller    string         `json:"caller"`
	Fields    map[string]any `json:"fields"`
}

func decode(t *testing.T, buf *bytes.Buffer) jsonLine {
	t.Helper()
	var e jsonLine
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	return e
}

func TestTextLine(t *testing.T) {
	l, buf := newTestLogger("controller", FormatText)
	l.Info("homed %s in %d ms", "x", 250)

	line := buf.String()
	if !strings.HasSuffix(line, "INFO  controller: homed x in 250 ms\n") {
		t.Errorf("unexpected line %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Error("colors disabled but escape codes written")
	}
}

func TestTextColor(t *testing.T) {
	l, buf := newTestLogger("c", FormatText)
	l.SetColorize(true)
	l.Warn("w")
	if !strings.Contains(buf.String(), "\x1b[33mWARN \x1b[0m") {
		t.Errorf("expected yellow WARN, got %q", buf.String())
	}
}

func TestLevelFilter(t *testing.T) {
	l, buf := newTestLogger("c", FormatText)
	l.SetLevel(WARN)

	l.Debug("d")
	l.Info("i")
	if buf.Len() != 0 {
		t.Errorf("entries below WARN written: %q", buf.String())
	}
	l.Warn("w")
	l.Error("e")
	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Errorf("expected 2 lines, got %d", n)
	}
	if l.Enabled(INFO) || !l.Enabled(ERROR) {
		t.Error("Enabled disagrees with level")
	}
}

func TestTextFields(t *testing.T) {
	l, buf := newTestLogger("ingest", FormatText)
	l.WithFields(Fields{"length": 80, "limit": 64, "line": "G1 X1"}).Warn("line discarded")

	want := ` ingest: line discarded length=80 limit=64 line="G1 X1"` + "\n"
	if !strings.HasSuffix(buf.String(), want) {
		t.Errorf("got %q, want suffix %q", buf.String(), want)
	}
}

func TestJSONEntry(t *testing.T) {
	l, buf := newTestLogger("dispatch", FormatJSON)
	l.WithField("kind", "move").WithError(errors.New("no pen")).Warn("pen move rejected")

	e := decode(t, buf)
	if e.Level != "WARN" || e.Logger != "dispatch" || e.Message != "pen move rejected" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Fields["kind"] != "move" || e.Fields["error"] != "no pen" {
		t.Errorf("unexpected fields %v", e.Fields)
	}
	if e.Timestamp == "" {
		t.Error("missing timestamp")
	}
	if e.Caller != "" {
		t.Error("caller written while disabled")
	}
}

func TestWithPersistentFields(t *testing.T) {
	l, buf := newTestLogger("controller", FormatJSON)
	child := l.With(Fields{"session": "abc"}).WithPrefix("ingest")

	child.WithField("line", 3).Info("read")
	e := decode(t, buf)
	if e.Logger != "ingest" || e.Fields["session"] != "abc" || e.Fields["line"] != float64(3) {
		t.Errorf("unexpected entry %+v", e)
	}

	buf.Reset()
	child.WithField("session", "override").Info("x")
	if e := decode(t, buf); e.Fields["session"] != "override" {
		t.Errorf("entry fields must win, got %v", e.Fields)
	}

	buf.Reset()
	l.Info("parent")
	if e := decode(t, buf); e.Fields != nil {
		t.Errorf("child fields leaked to parent: %v", e.Fields)
	}
}

func TestChildKeepsSettings(t *testing.T) {
	l, buf := newTestLogger("a", FormatText)
	l.SetLevel(ERROR)
	child := l.WithPrefix("b")
	child.SetLevel(DEBUG)

	if l.GetLevel() != ERROR {
		t.Error("child level change reached the parent")
	}
	child.Debug("visible")
	if !strings.Contains(buf.String(), "b: visible") {
		t.Errorf("child lost the writer: %q", buf.String())
	}
}

func TestCaller(t *testing.T) {
	l, buf := newTestLogger("c", FormatJSON)
	l.SetCaller(true)
	l.WithField("k", 1).Info("entry")
	if e := decode(t, buf); !strings.HasPrefix(e.Caller, "logger_test.go:") {
		t.Errorf("expected caller in this file, got %q", e.Caller)
	}

	buf.Reset()
	l.Info("direct")
	if e := decode(t, buf); !strings.HasPrefix(e.Caller, "logger_test.go:") {
		t.Errorf("expected caller in this file, got %q", e.Caller)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug": DEBUG, "INFO": INFO, "warn": WARN, "Warning": WARN,
		"error": ERROR, " error ": ERROR, "": INFO, "loud": INFO,
	} {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
	if Level(9).String() != "UNKNOWN" {
		t.Error("out of range level must be UNKNOWN")
	}
}

func TestParseFormat(t *testing.T) {
	if f, ok := ParseFormat("JSON"); !ok || f != FormatJSON {
		t.Error("expected json")
	}
	if f, ok := ParseFormat("text"); !ok || f != FormatText {
		t.Error("expected text")
	}
	if _, ok := ParseFormat("xml"); ok {
		t.Error("xml is not a format")
	}
}

func TestConfigureFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "debug")
	t.Setenv(EnvFormat, "json")
	t.Setenv(EnvCaller, "1")
	t.Setenv("NO_COLOR", "1")

	l := New("env")
	ConfigureFromEnv(l)
	s := l.snapshot()
	if s.level != DEBUG || s.format != FormatJSON || !s.caller || s.color {
		t.Errorf("unexpected settings %+v", s)
	}
}

func TestGetLoggerDerivesFromDefault(t *testing.T) {
	prev := Default()
	defer SetDefaultLogger(prev)

	l, buf := newTestLogger(DefaultPrefix, FormatText)
	SetDefaultLogger(l)
	GetLogger("stepper.x").Info("hello")
	Warn("package level")

	out := buf.String()
	if !strings.Contains(out, "stepper.x: hello") || !strings.Contains(out, "plotter: package level") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSetup(t *testing.T) {
	prev := Default()
	defer SetDefaultLogger(prev)

	if _, err := Setup(Options{Format: "xml"}); err == nil {
		t.Error("expected an unknown format error")
	}

	path := filepath.Join(t.TempDir(), "logs", "plotter.log")
	rf, err := Setup(Options{Level: "warn", Format: "json", LogFile: path})
	if err != nil {
		t.Fatal(err)
	}
	defer rf.Close()

	GetLogger("setup").Info("dropped")
	GetLogger("setup").Error("kept")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "dropped") || !strings.Contains(string(data), `"message":"kept"`) {
		t.Errorf("unexpected log file %q", data)
	}
}

func BenchmarkText(b *testing.B) {
	var buf bytes.Buffer
	l := New("bench")
	l.SetWriter(&buf)
	l.SetColorize(false)
	for i := 0; i < b.N; i++ {
		buf.Reset()
		l.WithField("axis", "x").Info("step %d", i)
	}
}

func BenchmarkFiltered(b *testing.B) {
	var buf bytes.Buffer
	l := New("bench")
	l.SetWriter(&buf)
	l.SetLevel(ERROR)
	for i := 0; i < b.N; i++ {
		l.Debug("step %d", i)
	}
}
