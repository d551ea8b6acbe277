// Package analytics provides local SQLite-based analytics for tracking command
// usage, success rates, and mine response behaviour.
package analytics

import "os"

// Event represents a single analytics event
type Event struct {
	ID         int64
	Timestamp  int64
	Command    string
	Subcommand string
	Mine       string
	Success    bool
	DurationMs int64
	ErrorType  string
	Flags      string // JSON string of flags
}

// CommandStats summarizes the recorded events for one command
type CommandStats struct {
	Command       string
	Total         int
	Successful    int
	AvgDurationMs float64
}

// MineStats summarizes the recorded events for one mine
type MineStats struct {
	Mine     string
	Total    int
	Failed   int
	TopError string // most frequent error category, empty when none failed
}

// IsEnabledFromEnv checks the MINEAT_ANALYTICS_ENABLED environment variable
// and returns the effective enabled state. Environment variable overrides the
// config value.
func IsEnabledFromEnv(configEnabled bool) bool {
	envVal := os.Getenv("MINEAT_ANALYTICS_ENABLED")
	if envVal == "" {
		return configEnabled
	}
	return envVal == "true" || envVal == "1"
}
