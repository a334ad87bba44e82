// Package core - Config centralizes process-level tunables for the
// scheduling core: snapshot cadence, event-writer batching, history depth,
// and CPM convergence limits. Values are loaded from the environment with
// github.com/caarlos0/env/v6 and fall back to DefaultConfig when unset.
package core

import (
	"time"

	"github.com/caarlos0/env/v6"
)

// Config holds every env-tunable knob for the EventLog writer, the
// HistoryManager, and the CPMEngine. It never contains task data.
type Config struct {
	// DatabasePath is the SQLite file backing the materialized view,
	// events table, and snapshots table.
	DatabasePath string `env:"SCHED_DB_PATH" envDefault:"scheduling-core.db"`

	// SnapshotEventThreshold triggers a snapshot once this many events
	// have persisted since the last one (§4.5).
	SnapshotEventThreshold int `env:"SCHED_SNAPSHOT_EVENT_THRESHOLD" envDefault:"1000"`

	// SnapshotInterval triggers a snapshot on a timer regardless of
	// event volume (§4.5).
	SnapshotInterval time.Duration `env:"SCHED_SNAPSHOT_INTERVAL" envDefault:"5m"`

	// WriterTickInterval is how often the background writer drains the
	// in-RAM event queue (§4.5, §9 "replace setInterval").
	WriterTickInterval time.Duration `env:"SCHED_WRITER_TICK_INTERVAL" envDefault:"200ms"`

	// WriterBatchSize caps events committed per writer tick.
	WriterBatchSize int `env:"SCHED_WRITER_BATCH_SIZE" envDefault:"50"`

	// WriterBusyRetries is the BUSY/LOCKED retry budget per batch (§5).
	WriterBusyRetries int `env:"SCHED_WRITER_BUSY_RETRIES" envDefault:"3"`

	// WriterBusyBackoff is the delay between BUSY retries (§5).
	WriterBusyBackoff time.Duration `env:"SCHED_WRITER_BUSY_BACKOFF" envDefault:"50ms"`

	// HistoryStackDepth bounds the undo and redo stacks (§4.6).
	HistoryStackDepth int `env:"SCHED_HISTORY_STACK_DEPTH" envDefault:"50"`

	// CPMIterationCap bounds forward/backward pass fixed-point iteration
	// before CPMDiverged is reported (§4.4, §5, §7).
	CPMIterationCap int `env:"SCHED_CPM_ITERATION_CAP" envDefault:"50"`

	// HealthAtRiskThreshold is the totalFloat (working days) at or below
	// which a non-critical task is reported "atRisk" rather than "ok".
	HealthAtRiskThreshold int `env:"SCHED_HEALTH_AT_RISK_THRESHOLD" envDefault:"2"`
}

// LoadConfig reads Config from the environment, starting from
// DefaultConfig so unset variables keep their sensible defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, NewConfigError("environment", "", "failed to parse environment configuration", err)
	}
	return cfg, nil
}
