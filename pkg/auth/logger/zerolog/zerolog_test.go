package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stellar-memory/stellar-auth/pkg/auth"
)

var _ auth.Logger = (*Logger)(nil)

func TestZerologLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(l *Logger)
		level string
	}{
		{"debug", func(l *Logger) { l.Debug("msg", auth.Field{Key: "key", Value: "value"}) }, "debug"},
		{"info", func(l *Logger) { l.Info("msg", auth.Field{Key: "key", Value: "value"}) }, "info"},
		{"warn", func(l *Logger) { l.Warn("msg", auth.Field{Key: "key", Value: "value"}) }, "warn"},
		{"error", func(l *Logger) { l.Error("msg", auth.Field{Key: "key", Value: "value"}) }, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := bytes.Buffer{}
			logger := NewLogger(zerolog.New(&output))

			tt.log(logger)

			var entry map[string]interface{}
			if err := json.Unmarshal(output.Bytes(), &entry); err != nil {
				t.Fatalf("Expected JSON log line, got %q: %v", output.String(), err)
			}
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %s", entry["level"], tt.level)
			}
			if entry["key"] != "value" {
				t.Errorf("key = %v, want value", entry["key"])
			}
		})
	}
}

func TestZerologLogger_LogLevelFiltering(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output).Level(zerolog.WarnLevel))

	// Debug and Info should be filtered out
	logger.Debug("debug message")
	logger.Info("info message")

	if output.Len() != 0 {
		t.Error("Expected debug and info to be filtered out")
	}

	logger.Warn("warn message")
	logger.Error("error message")

	if output.Len() == 0 {
		t.Error("Expected warn and error to be logged")
	}
}

func TestZerologLogger_ErrorField(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Warn("touch failed",
		auth.Field{Key: "key_id", Value: "k1"},
		auth.ErrorField(errors.New("connection reset")),
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(output.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line: %v", err)
	}
	if entry["error"] != "connection reset" {
		t.Errorf("error = %v, want connection reset", entry["error"])
	}
	if entry["key_id"] != "k1" {
		t.Errorf("key_id = %v, want k1", entry["key_id"])
	}
}
