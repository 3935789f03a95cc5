// Package obs builds the zerolog logger both binaries start from: a
// process-scoped context of service, version, host, and run id, grounded
// on sambhavthakkar-QuantaraX/backend/internal/observability/logger.go's
// NewLogger.
package obs

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Version is this port's build version string, independent of the wire
// protocol version reported by the Module (module.Version).
const Version = "0.1.0"

// New returns a zerolog.Logger scoped to service, with a fresh run id and
// the local hostname attached to every line.
func New(service string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return zerolog.New(os.Stderr).With().
		Timestamp().
		Str("service", service).
		Str("version", Version).
		Str("host", host).
		Str("run_id", uuid.NewString()).
		Logger()
}
