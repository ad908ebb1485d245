package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "sniper.log")
	buffer := NewBuffer(10)

	log, err := New(Config{Level: "info", File: path, MaxSizeMB: 1, Console: &console}, buffer.Core(zap.InfoLevel))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("not shown")
	log.Info("Engine started", zap.Int("open_positions", 2))
	if err := log.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if !strings.Contains(console.String(), "Engine started") {
		t.Errorf("console missing message: %q", console.String())
	}
	if strings.Contains(console.String(), "not shown") {
		t.Errorf("debug line leaked to console")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(raw), &line); err != nil {
		t.Fatalf("file line is not JSON: %v (%q)", err, raw)
	}
	if line["msg"] != "Engine started" || line["level"] != "INFO" {
		t.Errorf("unexpected file line: %v", line)
	}
	if line["open_positions"] != float64(2) {
		t.Errorf("missing field in file line: %v", line)
	}

	if buffer.Total() != 1 {
		t.Errorf("expected 1 buffered entry, got %d", buffer.Total())
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(Config{Level: "chatty"}); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestShorten(t *testing.T) {
	if got := ShortenAddress("So11111111111111111111111111111111111111112"); got != "So11...1112" {
		t.Errorf("ShortenAddress = %q", got)
	}
	if got := ShortenAddress("abc"); got != "abc" {
		t.Errorf("ShortenAddress short = %q", got)
	}
	if got := ShortenSignature("5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"); got != "5VERv8NM...diSZkQUW" {
		t.Errorf("ShortenSignature = %q", got)
	}
}

func TestWithOperation(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	WithOperation(base, "enter").Info("first")
	WithOperation(base, "enter").Info("second")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first, second := entries[0].ContextMap(), entries[1].ContextMap()
	if first["operation"] != "enter" {
		t.Errorf("operation field missing: %v", first)
	}
	if first["correlation_id"] == "" || first["correlation_id"] == second["correlation_id"] {
		t.Errorf("correlation ids not unique: %v %v", first["correlation_id"], second["correlation_id"])
	}
}
