// Package config consolidates the engine's tunables into a single value
// built once by the CLI, replacing the module-level globals
// (listen_address, port, authkey, max_workers, look_ahead, queue_timeout,
// extras) the original implementation kept at the top of lib/orcha.py.
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds every tunable the engine and IPC server need. Build one with
// Default and override fields from flags/environment, then pass it to
// engine.New.
type Config struct {
	// ListenAddress is the TCP address the IPC server binds to.
	ListenAddress string
	// Port is the TCP port the IPC server listens on.
	Port int
	// AuthKey is the pre-shared key clients must present. Empty disables
	// authentication (a warning is logged in that case).
	AuthKey string
	// MaxWorkers bounds the action worker pool. Zero means use a platform
	// heuristic (NumCPU).
	MaxWorkers int
	// LookAhead is the maximum number of petitions Admission peeks past
	// the ready queue's head while searching for an admissible one.
	LookAhead int
	// QueueTimeout is the poll timeout used by the Intake, Cancel-Intake,
	// Cancel-Dispatch and Finalizer reads of their queues. Admission's
	// ready-queue wait does not use it.
	QueueTimeout time.Duration
	// Extras is an open bag for deployment-specific configuration a
	// Manager or hook may want threaded through without a config.Config
	// field of its own.
	Extras map[string]any
}

const (
	// DefaultListenAddress matches spec §6.
	DefaultListenAddress = "127.0.0.1"
	// DefaultPort matches spec §6.
	DefaultPort = 50000
	// DefaultLookAhead matches spec §6.
	DefaultLookAhead = 1
	// DefaultQueueTimeout matches spec §6 / the QUEUE_TIMEOUT env var.
	DefaultQueueTimeout = time.Second
	// StarvationThreshold is the seen-count at which a petition is added
	// to the starving set (spec §4.4, T4).
	StarvationThreshold = 1000
)

// QueueTimeoutEnvVar is the environment variable spec §6 names for
// overriding the default poll timeout.
const QueueTimeoutEnvVar = "QUEUE_TIMEOUT"

// Default returns a Config with spec-mandated defaults. QueueTimeout is
// seeded from the QUEUE_TIMEOUT environment variable, if set and parseable,
// exactly as the original read it as a float number of seconds.
func Default() Config {
	return Config{
		ListenAddress: DefaultListenAddress,
		Port:          DefaultPort,
		MaxWorkers:    runtime.NumCPU(),
		LookAhead:     DefaultLookAhead,
		QueueTimeout:  queueTimeoutFromEnv(),
		Extras:        map[string]any{},
	}
}

func queueTimeoutFromEnv() time.Duration {
	raw, ok := os.LookupEnv(QueueTimeoutEnvVar)
	if !ok {
		return DefaultQueueTimeout
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return DefaultQueueTimeout
	}
	return time.Duration(seconds * float64(time.Second))
}
