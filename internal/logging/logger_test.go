package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	t.Setenv(EnvLogJSON, "")
	var buf bytes.Buffer
	logger := NewLogger("metexpatch", "info", &buf)

	logger.Debug("hidden")
	logger.Info("archive created", "archive", "Texture2D.tfc")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug record written at info level")
	}
	if !strings.Contains(out, "archive created") || !strings.Contains(out, "archive=Texture2D.tfc") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestJSON(t *testing.T) {
	t.Setenv(EnvLogJSON, "true")
	var buf bytes.Buffer
	NewLogger("metexpatch", "info", &buf).Info("saved", "count", 2)
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("expected JSON, got %q", buf.String())
	}
}

func TestGetLogLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	if got := GetLogLevel(); got != "info" {
		t.Errorf("default: got %q, want info", got)
	}
	t.Setenv(EnvLogLevel, "trace")
	if got := GetLogLevel(); got != "trace" {
		t.Errorf("got %q, want trace", got)
	}
}
