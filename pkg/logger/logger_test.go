package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"wmharvest/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"debug json", &config.LoggingConfig{Level: "debug", Format: "json"}, false},
		{"invalid level", &config.LoggingConfig{Level: "invalid"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "run.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Error("New() returned nil logger")
			}
			if tt.cfg.File != "" {
				if _, err := os.Stat(tt.cfg.File); err != nil {
					t.Errorf("Expected log file to be created: %v", err)
				}
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLogLevel(%q) error = %v", tt.level, err)
			}
			if level != tt.expected {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.level, level, tt.expected)
			}
		})
	}
}

func TestJSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	zlog, err := newZerolog(&config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newZerolog failed: %v", err)
	}
	log := (&zerologLogger{logger: zlog}).
		WithField("entity_key", "https://example.com").
		WithError(errors.New("boom"))

	log.WarnWithFields("Page fetch failed", map[string]interface{}{
		"offset": 500,
		"wait":   2 * time.Second,
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["message"] != "Page fetch failed" {
		t.Errorf("Unexpected message: %v", entry["message"])
	}
	if entry["entity_key"] != "https://example.com" || entry["error"] != "boom" {
		t.Errorf("Missing stored fields: %v", entry)
	}
	if entry["offset"] != float64(500) || entry["app"] != "wmharvest" {
		t.Errorf("Missing message fields: %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	zlog, err := newZerolog(&config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newZerolog failed: %v", err)
	}
	log := &zerologLogger{logger: zlog}

	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("Info message should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("Warn message should be written")
	}
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	zlog, err := newZerolog(&config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newZerolog failed: %v", err)
	}
	parent := (&zerologLogger{logger: zlog}).WithField("a", 1)
	parent.WithField("b", 2).Info("child")
	parent.Info("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected two lines, got %q", buf.String())
	}
	var child, own map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &child); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &own); err != nil {
		t.Fatal(err)
	}
	if child["a"] != float64(1) || child["b"] != float64(2) {
		t.Errorf("Child should have both fields: %v", child)
	}
	if _, ok := own["b"]; ok || own["a"] != float64(1) {
		t.Errorf("Parent fields changed: %v", own)
	}
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	derived := tl.WithField("entity_key", "k").WithError(errors.New("disk full"))

	derived.Warn("Merge failed")
	tl.Info("Run started")

	if !tl.HasMessage("WARN", "Merge failed") {
		t.Error("Derived logger should write to the shared sink")
	}
	warns := tl.GetMessagesByLevel("WARN")
	if len(warns) != 1 || warns[0].Fields["entity_key"] != "k" || warns[0].Error == nil {
		t.Errorf("Unexpected warn message: %+v", warns)
	}
	if !tl.HasMessageContaining("INFO", "started") {
		t.Error("Expected info message")
	}

	tl.Clear()
	if len(tl.GetMessages()) != 0 {
		t.Error("Clear should remove messages")
	}
}

func TestLogRequest(t *testing.T) {
	tl := NewTestLogger()

	LogRequest(tl, "POST", "/v4/user/1/hosts", 200, time.Millisecond)
	LogRequest(tl, "POST", "/v4/user/1/hosts", 429, time.Millisecond)
	LogRequest(tl, "POST", "/v4/user/1/hosts", 503, time.Millisecond)

	if !tl.HasMessage("DEBUG", "HTTP request completed") {
		t.Error("Expected debug message for 200")
	}
	if !tl.HasMessage("WARN", "HTTP request rate limited") {
		t.Error("Expected warn message for 429")
	}
	if !tl.HasMessage("ERROR", "HTTP request server error") {
		t.Error("Expected error message for 503")
	}
}
