// Package orchalog builds the engine's structured logger. Every worker
// (Intake, Admission, Finalizer, Cancel-Intake, Cancel-Dispatch) and the
// IPC server log through a zerolog.Logger built here, with fields for
// petition id, worker name, and round number, in place of the original's
// plain `logging.getLogger(...)` calls (get_class_logger in orcha's
// utils package).
package orchalog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. w defaults to os.Stderr when nil; pass an
// *os.File directly for a plain JSON sink, or wrap it (e.g.
// zerolog.ConsoleWriter) for human-readable output during development.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Worker returns a child logger tagged with the worker's name, used by each
// of the engine's five long-lived goroutines (Intake, Admission, Finalizer,
// Cancel-Intake, Cancel-Dispatch).
func Worker(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("worker", name).Logger()
}

// Petition returns a child logger tagged with a petition id, the way the
// original logged "petition %s did not satisfy condition" rather than a
// generic failure line.
func Petition(base zerolog.Logger, id string) zerolog.Logger {
	return base.With().Str("petition_id", id).Logger()
}

// Round returns a child logger tagged with an Admission/Cancel-Dispatch
// round number, useful for correlating starvation/look-ahead log lines.
func Round(base zerolog.Logger, round uint64) zerolog.Logger {
	return base.With().Uint64("round", round).Logger()
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
