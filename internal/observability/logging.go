// Package observability provides zerolog-based structured logging and an
// OpenTelemetry tracer wrapper, grounded on the teacher's
// internal/observability/logging.go and internal/observability/ctxlogger.go.
package observability

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes zerolog with sane defaults. If logPath is
// non-empty, logs are written to that file (append mode) instead of
// stdout, so the command output printed on stdout isn't interleaved
// with log lines.
func InitLogger(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = f
		} else {
			stdlog.Printf("observability: failed to open log file %q: %v", logPath, err)
		}
	}
	log.Logger = log.Output(w).With().Timestamp().Str("component", "rlm").Logger()

	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}
	zerolog.SetGlobalLevel(lvl)
	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)

	log.Logger.Debug().Str("log_path", logPath).Str("level", lvl.String()).Msg("rlm_logger_initialized")
}
