package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds the per-phase ceilings of a provisioning workflow.
// These values can be customized via environment variables.
type Timeouts struct {
	Clone              time.Duration // Ceiling for the clone task
	Migrate            time.Duration // Ceiling for the migrate task, lock wait included
	Start              time.Duration // Ceiling for the start task, config wait included
	Settle             time.Duration // Upper bound for waiting on the guest's SSH port
	TaskPollInterval   time.Duration // Interval between task status polls
	MACLookupAttempts  int           // Number of network-config reads before giving up
	MACLookupInterval  time.Duration // Fixed delay between MAC lookups
	WorldResetAttempts int           // SSH connect attempts for the world reset
	WorldResetDelay    time.Duration // Initial backoff between SSH connect attempts
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - GSCLONE_TIMEOUT_CLONE (default: 30m)
//   - GSCLONE_TIMEOUT_MIGRATE (default: 10m)
//   - GSCLONE_TIMEOUT_START (default: 5m)
//   - GSCLONE_TIMEOUT_SETTLE (default: 90s)
//   - GSCLONE_TASK_POLL_INTERVAL (default: 2s)
//   - GSCLONE_MAC_LOOKUP_ATTEMPTS (default: 10)
//   - GSCLONE_MAC_LOOKUP_INTERVAL (default: 3s)
//   - GSCLONE_WORLD_RESET_ATTEMPTS (default: 5)
//   - GSCLONE_WORLD_RESET_DELAY (default: 5s)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		Clone:              parseDuration("GSCLONE_TIMEOUT_CLONE", 30*time.Minute),
		Migrate:            parseDuration("GSCLONE_TIMEOUT_MIGRATE", 10*time.Minute),
		Start:              parseDuration("GSCLONE_TIMEOUT_START", 5*time.Minute),
		Settle:             parseDuration("GSCLONE_TIMEOUT_SETTLE", 90*time.Second),
		TaskPollInterval:   parseDuration("GSCLONE_TASK_POLL_INTERVAL", 2*time.Second),
		MACLookupAttempts:  parseInt("GSCLONE_MAC_LOOKUP_ATTEMPTS", 10),
		MACLookupInterval:  parseDuration("GSCLONE_MAC_LOOKUP_INTERVAL", 3*time.Second),
		WorldResetAttempts: parseInt("GSCLONE_WORLD_RESET_ATTEMPTS", 5),
		WorldResetDelay:    parseDuration("GSCLONE_WORLD_RESET_DELAY", 5*time.Second),
	}
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}

	return d
}

// parseInt parses an integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil || i <= 0 {
		return defaultVal
	}

	return i
}
