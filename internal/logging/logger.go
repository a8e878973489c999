// Package logging builds the hclog loggers used by the command line tools.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Environment variables read by this package.
const (
	EnvLogLevel = "METEXPATCH_LOG_LEVEL"
	EnvLogJSON  = "METEXPATCH_LOG_JSON"
)

// NewLogger creates a logger writing to output, or stderr when output is nil.
func NewLogger(name string, level string, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}

	opts := &hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(level),
		JSONFormat: JSONEnabled(),
		Output:     output,
		TimeFormat: "2006-01-02T15:04:05Z",
		TimeFn: func() time.Time {
			return time.Now().UTC()
		},
	}
	return hclog.New(opts)
}

// GetLogLevel returns the configured log level from the environment.
func GetLogLevel() string {
	level := os.Getenv(EnvLogLevel)
	if level == "" {
		level = "info"
	}
	return level
}

// JSONEnabled reports whether JSON log output was requested.
func JSONEnabled() bool {
	switch strings.ToLower(os.Getenv(EnvLogJSON)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
