// Package core - Defaults provides the single source of truth for
// Config's fallback values, used both by LoadConfig before env.Parse
// overlays it and directly by tests and the CLI's composition root.
//
// Example usage:
//
//	cfg := core.DefaultConfig()
//	cfg.DatabasePath = "custom.db"
package core

import "time"

// DefaultConfig returns a Config with sensible defaults for running the
// scheduling core standalone (no environment overrides applied).
func DefaultConfig() Config {
	return Config{
		DatabasePath:           "scheduling-core.db",
		SnapshotEventThreshold: 1000,
		SnapshotInterval:       5 * time.Minute,
		WriterTickInterval:     200 * time.Millisecond,
		WriterBatchSize:        50,
		WriterBusyRetries:      3,
		WriterBusyBackoff:      50 * time.Millisecond,
		HistoryStackDepth:      50,
		CPMIterationCap:        50,
		HealthAtRiskThreshold:  2,
	}
}
