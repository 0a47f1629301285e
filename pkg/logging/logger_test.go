// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestLevel_String verifies the human-readable level names.
func TestLevel_String(t *testing.T) {
	cases := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := tc.level.String(); got != tc.want {
			t.Errorf("Level(%d).String() = %q, want %q", tc.level, got, tc.want)
		}
	}
}

// TestNew_FileLogging verifies that configuring LogDir produces a JSON
// log file containing written entries.
func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "engine",
		Quiet:   true,
	})
	logger.Info("session created", "session_id", "sess-1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log file, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "engine_") {
		t.Errorf("Log file name %q missing service prefix", entries[0].Name())
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "session created") {
		t.Errorf("Log file missing message, got: %s", data)
	}
	if !strings.Contains(string(data), `"service":"engine"`) {
		t.Errorf("Log file missing service attribute, got: %s", data)
	}
}

// TestNew_LevelFiltering verifies that entries below the configured level
// are discarded.
func TestNew_LevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "engine",
		Quiet:   true,
	})
	logger.Debug("debug entry")
	logger.Info("info entry")
	logger.Warn("warn entry")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log file, got %d", len(entries))
	}
	data, _ := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	content := string(data)

	if strings.Contains(content, "info entry") {
		t.Error("Info entry should have been filtered at Warn level")
	}
	if !strings.Contains(content, "warn entry") {
		t.Error("Warn entry should have been written")
	}
}

// TestWith_AddsAttributes verifies that With produces a child logger
// carrying the extra attributes.
func TestWith_AddsAttributes(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{LogDir: dir, Service: "engine", Quiet: true})
	child := logger.With("session_id", "sess-9")
	child.Info("turn accepted")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	data, _ := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if !strings.Contains(string(data), `"session_id":"sess-9"`) {
		t.Errorf("Child logger entry missing attribute, got: %s", data)
	}
}

// TestClose_NoFile verifies Close is a no-op without file logging.
func TestClose_NoFile(t *testing.T) {
	logger := New(Config{Quiet: true})
	if err := logger.Close(); err != nil {
		t.Errorf("Close without file should not error, got: %v", err)
	}
}
