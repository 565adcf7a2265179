package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return &Logger{zlog: zerolog.New(buf).With().Timestamp().Logger()}
}

func TestNewWithOptions_Levels(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		level zerolog.Level
	}{
		{"development default", Options{Env: "development"}, zerolog.DebugLevel},
		{"production default", Options{Env: "production"}, zerolog.InfoLevel},
		{"explicit warn", Options{Env: "production", Level: "warn"}, zerolog.WarnLevel},
		{"upper case", Options{Env: "production", Level: "DEBUG"}, zerolog.DebugLevel},
		{"unknown falls back", Options{Env: "development", Level: "chatty"}, zerolog.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.opts.Output = &buf
			log := NewWithOptions(tt.opts)
			if log.Level() != tt.level {
				t.Errorf("Expected level %v, got %v", tt.level, log.Level())
			}
		})
	}
}

func TestNew_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOptions(Options{Env: "production", Output: &buf})

	log.Info("index built", map[string]interface{}{"cells": 42})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected valid JSON output, got error: %v", err)
	}
	if entry["message"] != "index built" {
		t.Error("Expected JSON to contain message field")
	}
	if entry["cells"] != float64(42) {
		t.Errorf("Expected cells field 42, got %v", entry["cells"])
	}
}

func TestNew_DevelopmentWritesConsole(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOptions(Options{Env: "development", Output: &buf})

	log.Debug("classifying rows", nil)

	output := buf.String()
	if !strings.Contains(output, "classifying rows") {
		t.Error("Expected console output to contain message")
	}
	if json.Valid(buf.Bytes()) {
		t.Error("Expected console output, got JSON")
	}
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf)

	log.Debug("debug message", map[string]interface{}{"key1": "value1"})
	log.Info("info message", map[string]interface{}{"area": "harris"})
	log.Warn("warning message", map[string]interface{}{"warning_type": "slow_build"})

	output := buf.String()
	for _, want := range []string{"debug message", "value1", "info message", "harris", "warning message", "slow_build"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected log output to contain %q", want)
		}
	}
}

func TestError(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf)

	log.Error("exact test failed", errors.New("connection reset"), map[string]interface{}{
		"context": "postgis",
	})

	output := buf.String()
	if !strings.Contains(output, "exact test failed") {
		t.Error("Expected log output to contain message")
	}
	if !strings.Contains(output, "connection reset") {
		t.Error("Expected log output to contain error message")
	}
	if !strings.Contains(output, "postgis") {
		t.Error("Expected log output to contain context field")
	}
}

func TestChildLoggers(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf)

	log.With(map[string]interface{}{"version": "1.0"}).
		WithComponent("classifier").
		WithArea(17, 2263).
		WithRequestID("req-12345").
		Info("row classified", nil)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected valid JSON output, got error: %v", err)
	}
	if entry["version"] != "1.0" {
		t.Error("Expected version field from With")
	}
	if entry["component"] != "classifier" {
		t.Error("Expected component field")
	}
	if entry["area_id"] != float64(17) || entry["srid"] != float64(2263) {
		t.Errorf("Expected area fields, got %v and %v", entry["area_id"], entry["srid"])
	}
	if entry["request_id"] != "req-12345" {
		t.Error("Expected request_id field")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOptions(Options{Env: "production", Output: &buf})

	log.Debug("debug message", nil)
	if strings.Contains(buf.String(), "debug message") {
		t.Error("Debug message should not appear at info level")
	}

	log.Info("info message", nil)
	if !strings.Contains(buf.String(), "info message") {
		t.Error("Info message should appear at info level")
	}
}

func TestNop(t *testing.T) {
	log := Nop()
	log.Info("dropped", map[string]interface{}{"k": "v"})
	if log.GetZerolog() == nil {
		t.Error("Expected zerolog instance to be available")
	}
}

func TestNilFields(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf)

	log.Info("message with nil fields", nil)

	if !strings.Contains(buf.String(), "message with nil fields") {
		t.Error("Expected message to be logged even with nil fields")
	}
}
