package server

import (
	"fmt"
	"time"
)

// Config holds server configuration.
type Config struct {
	// Addr is the TCP listen address for the chat protocol.
	Addr string

	// DBPath is the SQLite database file backing the credential store.
	DBPath string

	// MetricsAddr is the HTTP listen address for /metrics and /healthz.
	// Empty disables the endpoint.
	MetricsAddr string

	// UsersFile optionally seeds accounts from a YAML file at startup.
	UsersFile string

	// IdleTimeout is how long a member may stay silent before the sweeper
	// disables it.
	IdleTimeout time.Duration

	// SweepInterval is how often the idle sweeper runs.
	SweepInterval time.Duration

	// ForceCloseOnDisable closes the transport of a disabled session
	// immediately instead of letting its read loop notice on the next
	// inbound message.
	ForceCloseOnDisable bool

	// MetricsLogInterval is how often a metrics summary is logged.
	MetricsLogInterval time.Duration
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:               ":8189",
		DBPath:             "chat.db",
		MetricsAddr:        ":8190",
		IdleTimeout:        20 * time.Minute,
		SweepInterval:      time.Minute,
		MetricsLogInterval: 5 * time.Minute,
	}
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("server: listen address must not be empty")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("server: idle timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("server: sweep interval must be positive, got %s", c.SweepInterval)
	}
	return nil
}
