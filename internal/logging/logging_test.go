package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelStringRoundTrip(t *testing.T) {
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		got, err := ParseLevel(LevelString(level))
		if err != nil || got != level {
			t.Errorf("level %v: got %v, %v", level, got, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("json: got %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("empty: got %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func newBufferLogger(buf *bytes.Buffer, cfg *Config) *Logger {
	l := &Logger{mu: &sync.Mutex{}}
	return l.withHandler(NewHandler(buf, cfg))
}

func TestJSONRecordsCarryComponent(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Format = FormatJSON
	cfg.Component = "scanform"
	l := newBufferLogger(&buf, cfg)

	l.Info("burst finalized", "rule", "value")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if rec["component"] != "scanform" {
		t.Errorf("component = %v", rec["component"])
	}
	if rec["rule"] != "value" {
		t.Errorf("rule = %v", rec["rule"])
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, DefaultConfig())

	l.Info("posting", "api_key", "abc", "Authorization", "Bearer x", "code", "ABC123")

	out := buf.String()
	if strings.Contains(out, "abc") || strings.Contains(out, "Bearer") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "ABC123") {
		t.Errorf("ordinary attribute redacted: %s", out)
	}
}

func TestShouldRedact(t *testing.T) {
	tests := map[string]bool{
		"password":      true,
		"backend_token": true,
		"Cookie":        true,
		"code":          false,
		"form":          false,
		"request_id":    false,
	}
	for key, want := range tests {
		if got := shouldRedact(key); got != want {
			t.Errorf("shouldRedact(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestWithContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, DefaultConfig())

	ctx := ContextWithRequestID(context.Background(), "req-42")
	l.WithContext(ctx).Info("hello")

	if !strings.Contains(buf.String(), "request_id=req-42") {
		t.Errorf("missing request id: %s", buf.String())
	}
	if l.WithContext(context.Background()) != l {
		t.Error("context without id should return the same logger")
	}
}

func TestRequestIDFromNilContext(t *testing.T) {
	//nolint:staticcheck
	if id := RequestIDFromContext(nil); id != "" {
		t.Errorf("expected empty id, got %q", id)
	}
}

func TestNewRequestIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewRequestID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestNewWithFileOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = filepath.Join(t.TempDir(), "logs", "scanform.log")

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.WithComponent("tui").Info("started")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "component=tui") {
		t.Errorf("unexpected log content: %s", data)
	}
}

func TestFileRotatorRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		FilePath:   filepath.Join(dir, "scand.log"),
		MaxSize:    1,
		MaxBackups: 10,
	}
	r, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	clock := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}
	r.opened = clock

	line := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 3; i++ {
		if _, err := r.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	backups, err := r.Backups()
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(backups) != 2 {
		t.Errorf("expected 2 rotated files, got %d: %v", len(backups), backups)
	}
}

func TestFileRotatorRotatesDaily(t *testing.T) {
	cfg := &Config{FilePath: filepath.Join(t.TempDir(), "scand.log"), MaxSize: 100}
	r, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	defer r.Close()

	r.opened = r.opened.Add(-48 * time.Hour)
	if !r.due(1) {
		t.Error("expected rotation across a day boundary")
	}
}

func TestSetDefaultReplacesSlogDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	l := newBufferLogger(&buf, DefaultConfig())
	SetDefault(l)

	slog.Info("via slog")
	if Default() != l {
		t.Error("Default did not return the installed logger")
	}
	if !strings.Contains(buf.String(), "via slog") {
		t.Errorf("slog default not redirected: %s", buf.String())
	}
}
