package observability

import (
	"log/slog"
	"os"

	"github.com/fhecredit/backend/internal/version"
)

// NewLogger returns the process-wide logger. Production environments log
// structured JSON for ingestion; everything else stays human readable.
// Every record carries the service name and build version.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	switch env {
	case "prod", "production":
		handler = slog.NewJSONHandler(os.Stdout, nil)
	default:
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	return slog.New(handler).With("service", "fhecredit-backend", "version", version.Version)
}
