// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestLevel_ToSlogLevel(t *testing.T) {
	tests := []struct {
		level    Level
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if got := tt.level.toSlogLevel(); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_DefaultConfig(t *testing.T) {
	logger := New(Config{})
	defer logger.Close()

	if logger.slog == nil {
		t.Error("expected non-nil slog logger")
	}
	if logger.file != nil {
		t.Error("expected nil file when LogDir is empty")
	}
	if logger.exporter != nil {
		t.Error("expected nil exporter when not configured")
	}
}

func TestNew_WithLogDir(t *testing.T) {
	tmpDir := t.TempDir()

	logger := New(Config{
		LogDir:  tmpDir,
		Service: "governor",
	})
	defer logger.Close()

	if logger.file == nil {
		t.Fatal("expected file handle when LogDir is set")
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("failed to read log dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}

	name := entries[0].Name()
	if !strings.HasPrefix(name, "governor_") {
		t.Errorf("expected filename prefix %q, got %q", "governor_", name)
	}
	if !strings.HasSuffix(name, ".log") {
		t.Errorf("expected .log suffix, got %q", name)
	}
}

func TestNew_WithLogDir_NoService(t *testing.T) {
	tmpDir := t.TempDir()

	logger := New(Config{LogDir: tmpDir})
	defer logger.Close()

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("failed to read log dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}

	// Empty Service falls back to "governance" for the filename.
	if !strings.HasPrefix(entries[0].Name(), "governance_") {
		t.Errorf("expected fallback prefix %q, got %q", "governance_", entries[0].Name())
	}
}

func TestNew_WithInvalidLogDir(t *testing.T) {
	// A file blocking the directory path makes MkdirAll fail. The
	// logger must degrade to stderr-only instead of failing.
	tmpDir := t.TempDir()
	blocker := filepath.Join(tmpDir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0640); err != nil {
		t.Fatalf("failed to create blocker file: %v", err)
	}

	logger := New(Config{LogDir: filepath.Join(blocker, "logs")})
	defer logger.Close()

	if logger.file != nil {
		t.Error("expected nil file when log dir creation fails")
	}
	if logger.slog == nil {
		t.Error("expected working logger despite bad LogDir")
	}
}

func TestNew_Quiet_WithFile(t *testing.T) {
	tmpDir := t.TempDir()

	logger := New(Config{
		LogDir:  tmpDir,
		Service: "governord",
		Quiet:   true,
	})

	logger.Info("quiet message", "key", "value")

	if err := logger.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "quiet message") {
		t.Error("expected message in log file despite Quiet mode")
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	defer logger.Close()

	if logger.config.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", logger.config.Level)
	}
	if logger.config.Service != "governance" {
		t.Errorf("expected default service %q, got %q", "governance", logger.config.Service)
	}
}

// =============================================================================
// Logging Tests
// =============================================================================

func TestLogger_LevelFiltering(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelWarn,
		Quiet:    true,
		Exporter: exporter,
	})
	defer logger.Close()

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	// Export is async
	time.Sleep(50 * time.Millisecond)

	entries := exporter.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (warn+error), got %d", len(entries))
	}
	if entries[0].Level != LevelWarn {
		t.Errorf("expected first entry Warn, got %v", entries[0].Level)
	}
	if entries[1].Level != LevelError {
		t.Errorf("expected second entry Error, got %v", entries[1].Level)
	}
}

func TestLogger_ExportedEntry(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "governor",
		Quiet:    true,
		Exporter: exporter,
	})
	defer logger.Close()

	before := time.Now()
	logger.Info("policy evaluated", "policy", "quality-floor", "passed", true)

	time.Sleep(50 * time.Millisecond)

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.Message != "policy evaluated" {
		t.Errorf("expected message %q, got %q", "policy evaluated", entry.Message)
	}
	if entry.Service != "governor" {
		t.Errorf("expected service %q, got %q", "governor", entry.Service)
	}
	if entry.Timestamp.Before(before) {
		t.Error("expected timestamp at or after log call")
	}
	if entry.Attrs["policy"] != "quality-floor" {
		t.Errorf("expected policy attr %q, got %v", "quality-floor", entry.Attrs["policy"])
	}
	if entry.Attrs["passed"] != true {
		t.Errorf("expected passed attr true, got %v", entry.Attrs["passed"])
	}
}

func TestLogger_With_SharesResources(t *testing.T) {
	exporter := NewBufferedExporter()
	parent := New(Config{
		Level:    LevelInfo,
		Quiet:    true,
		Exporter: exporter,
	})
	defer parent.Close()

	child := parent.With("session_id", "sess-1")

	if child.file != parent.file {
		t.Error("expected child to share parent file handle")
	}
	if child.exporter != parent.exporter {
		t.Error("expected child to share parent exporter")
	}

	child.Info("child message")

	time.Sleep(50 * time.Millisecond)

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry via shared exporter, got %d", len(entries))
	}
}

func TestLogger_Slog(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	if logger.Slog() == nil {
		t.Error("expected non-nil slog.Logger")
	}
	if logger.Slog() != logger.slog {
		t.Error("expected Slog() to return the underlying logger")
	}
}

// =============================================================================
// Close Tests
// =============================================================================

// errorExporter fails on demand for Close error-path tests.
type errorExporter struct {
	exportErr error
	flushErr  error
	closeErr  error
}

func (e *errorExporter) Export(ctx context.Context, entry LogEntry) error { return e.exportErr }
func (e *errorExporter) Flush(ctx context.Context) error                  { return e.flushErr }
func (e *errorExporter) Close() error                                     { return e.closeErr }

func TestLogger_Close_NoResources(t *testing.T) {
	logger := New(Config{Quiet: true})

	if err := logger.Close(); err != nil {
		t.Errorf("expected nil error closing bare logger, got %v", err)
	}
}

func TestLogger_Close_FlushError(t *testing.T) {
	flushErr := errors.New("flush failed")
	logger := New(Config{
		Quiet:    true,
		Exporter: &errorExporter{flushErr: flushErr},
	})

	err := logger.Close()
	if err == nil {
		t.Fatal("expected error from failing flush")
	}
	if !errors.Is(err, flushErr) {
		t.Errorf("expected wrapped flush error, got %v", err)
	}
}

func TestLogger_Close_CloseError(t *testing.T) {
	closeErr := errors.New("close failed")
	logger := New(Config{
		Quiet:    true,
		Exporter: &errorExporter{closeErr: closeErr},
	})

	err := logger.Close()
	if err == nil {
		t.Fatal("expected error from failing close")
	}
	if !errors.Is(err, closeErr) {
		t.Errorf("expected wrapped close error, got %v", err)
	}
}

func TestLogger_Close_FirstErrorWins(t *testing.T) {
	flushErr := errors.New("flush failed")
	closeErr := errors.New("close failed")
	logger := New(Config{
		Quiet:    true,
		Exporter: &errorExporter{flushErr: flushErr, closeErr: closeErr},
	})

	err := logger.Close()
	if !errors.Is(err, flushErr) {
		t.Errorf("expected first (flush) error, got %v", err)
	}
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

func TestMultiHandler_Enabled(t *testing.T) {
	var bufA, bufB bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&bufA, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&bufB, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}}

	// Enabled if any handler accepts the level.
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected Enabled true when one handler accepts Debug")
	}
}

func TestMultiHandler_Handle_FansOut(t *testing.T) {
	var bufA, bufB bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&bufA, nil),
		slog.NewJSONHandler(&bufB, nil),
	}}

	logger := slog.New(h)
	logger.Info("fanout test", "key", "value")

	if !strings.Contains(bufA.String(), "fanout test") {
		t.Error("expected message in first handler output")
	}
	if !strings.Contains(bufB.String(), "fanout test") {
		t.Error("expected message in second handler output")
	}
}

func TestMultiHandler_Handle_RespectsLevels(t *testing.T) {
	var bufA, bufB bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&bufA, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&bufB, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}}

	logger := slog.New(h)
	logger.Info("info only")

	if bufA.Len() != 0 {
		t.Error("expected no output on Error-level handler for Info record")
	}
	if !strings.Contains(bufB.String(), "info only") {
		t.Error("expected output on Info-level handler")
	}
}

func TestMultiHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&buf, nil),
	}}

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("service", "governord")}))
	logger.Info("attr test")

	if !strings.Contains(buf.String(), `"service":"governord"`) {
		t.Errorf("expected service attr in output, got %q", buf.String())
	}
}

func TestMultiHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&buf, nil),
	}}

	logger := slog.New(h.WithGroup("request"))
	logger.Info("group test", "method", "POST")

	if !strings.Contains(buf.String(), `"request"`) {
		t.Errorf("expected group in output, got %q", buf.String())
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("cannot determine home dir: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"tilde prefix", "~/.aleutian/governance/logs", filepath.Join(home, ".aleutian/governance/logs")},
		{"absolute path", "/var/log/governance", "/var/log/governance"},
		{"relative path", "logs", "logs"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandPath(tt.input); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestArgsToMap(t *testing.T) {
	tests := []struct {
		name     string
		args     []any
		expected map[string]any
	}{
		{
			name:     "simple pairs",
			args:     []any{"key", "value", "count", 42},
			expected: map[string]any{"key": "value", "count": 42},
		},
		{
			name:     "orphan value dropped",
			args:     []any{"key", "value", "orphan"},
			expected: map[string]any{"key": "value"},
		},
		{
			name:     "non-string key skipped",
			args:     []any{42, "value", "key", "kept"},
			expected: map[string]any{"key": "kept"},
		},
		{
			name:     "empty",
			args:     nil,
			expected: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsToMap(tt.args)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %d entries, got %d", len(tt.expected), len(got))
			}
			for k, v := range tt.expected {
				if got[k] != v {
					t.Errorf("key %q: expected %v, got %v", k, v, got[k])
				}
			}
		})
	}
}

// =============================================================================
// Exporter Tests
// =============================================================================

func TestNopExporter(t *testing.T) {
	e := &NopExporter{}
	ctx := context.Background()

	if err := e.Export(ctx, LogEntry{Message: "dropped"}); err != nil {
		t.Errorf("expected nil from Export, got %v", err)
	}
	if err := e.Flush(ctx); err != nil {
		t.Errorf("expected nil from Flush, got %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("expected nil from Close, got %v", err)
	}
}

func TestBufferedExporter_Collects(t *testing.T) {
	e := NewBufferedExporter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := e.Export(ctx, LogEntry{Message: "entry", Level: LevelInfo}); err != nil {
			t.Fatalf("export failed: %v", err)
		}
	}

	entries := e.Entries()
	if len(entries) != 3 {
		t.Errorf("expected 3 entries, got %d", len(entries))
	}
}

func TestBufferedExporter_EntriesReturnsCopy(t *testing.T) {
	e := NewBufferedExporter()
	_ = e.Export(context.Background(), LogEntry{Message: "original"})

	entries := e.Entries()
	entries[0].Message = "mutated"

	if e.Entries()[0].Message != "original" {
		t.Error("expected Entries to return a copy, not the backing slice")
	}
}

func TestBufferedExporter_ConcurrentExport(t *testing.T) {
	e := NewBufferedExporter()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = e.Export(ctx, LogEntry{Message: "concurrent"})
			}
		}()
	}
	wg.Wait()

	if got := len(e.Entries()); got != 200 {
		t.Errorf("expected 200 entries, got %d", got)
	}
}

// =============================================================================
// Integration Tests
// =============================================================================

func TestLogger_FileContent(t *testing.T) {
	tmpDir := t.TempDir()

	logger := New(Config{
		Level:   LevelDebug,
		LogDir:  tmpDir,
		Service: "governord",
		Quiet:   true,
	})

	logger.Info("transition applied", "session_id", "sess-1", "sequence", 3)
	logger.Warn("ledger reopen requested")

	if err := logger.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	// File logs are JSON, one object per line.
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("first line is not valid JSON: %v", err)
	}
	if first["msg"] != "transition applied" {
		t.Errorf("expected msg %q, got %v", "transition applied", first["msg"])
	}
	if first["service"] != "governord" {
		t.Errorf("expected service %q, got %v", "governord", first["service"])
	}
	if first["session_id"] != "sess-1" {
		t.Errorf("expected session_id %q, got %v", "sess-1", first["session_id"])
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("second line is not valid JSON: %v", err)
	}
	if second["level"] != "WARN" {
		t.Errorf("expected level WARN, got %v", second["level"])
	}
}

func TestLogger_FullIntegration(t *testing.T) {
	tmpDir := t.TempDir()
	exporter := NewBufferedExporter()

	logger := New(Config{
		Level:    LevelInfo,
		LogDir:   tmpDir,
		Service:  "governor",
		Quiet:    true,
		Exporter: exporter,
	})

	sessLogger := logger.With("session_id", "sess-e2e")
	sessLogger.Info("session created")
	sessLogger.Info("transition applied", "gate", "PASS")
	sessLogger.Warn("retry recorded", "phase", 2)
	logger.Error("adaptation skipped", "reason", "insufficient data")
	logger.Debug("filtered out")

	time.Sleep(50 * time.Millisecond)

	if err := logger.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Exporter sees everything at or above Info.
	exported := exporter.Entries()
	if len(exported) != 4 {
		t.Fatalf("expected 4 exported entries, got %d", len(exported))
	}

	// File sees the same entries.
	files, _ := os.ReadDir(tmpDir)
	if len(files) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(files))
	}
	data, _ := os.ReadFile(filepath.Join(tmpDir, files[0].Name()))
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Errorf("expected 4 file lines, got %d", len(lines))
	}
}
