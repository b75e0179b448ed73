// Package rlog builds the server's structured loggers. It adopts
// github.com/hashicorp/go-hclog directly rather than wrapping it behind a
// project-specific Logger interface the way nabbar-golib's logger/hclog.go
// adapts its own Logger to hclog.Logger — this engine has no pre-existing
// logging interface to bridge, so hclog.Logger is used as-is throughout.
package rlog

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Options configures the root logger.
type Options struct {
	// Level is one of "trace", "debug", "info", "warn", "error", "off".
	Level string
	// JSON switches to hclog's JSON output format; text is the default.
	JSON   bool
	Output io.Writer
}

// New builds the root server logger. Per-worker loggers should be derived
// from it with Worker, so every log line carries a stable name hierarchy
// ("server" -> "server.worker.3").
func New(opts Options) hclog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "server",
		Level:      parseLevel(opts.Level),
		Output:     opts.Output,
		JSONFormat: opts.JSON,
	})
}

// Worker returns a named sub-logger for worker n, so each worker logs
// under its own name, "server.worker.<n>", the way nabbar-golib names
// sub-loggers per subsystem.
func Worker(root hclog.Logger, n int) hclog.Logger {
	return root.Named("worker." + strconv.Itoa(n))
}

func parseLevel(s string) hclog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return hclog.Trace
	case "debug":
		return hclog.Debug
	case "warn", "warning":
		return hclog.Warn
	case "error":
		return hclog.Error
	case "off":
		return hclog.Off
	case "", "info":
		return hclog.Info
	default:
		return hclog.Info
	}
}
