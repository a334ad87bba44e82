// Package eventlog implements the append-only event store with a
// write-behind materialized view: the C5 component. append() is
// synchronous against an in-RAM queue; a background writer periodically
// drains the queue into SQLite under BEGIN IMMEDIATE, applying each
// event to the materialized tasks/calendar/trade_partners tables as it
// goes. Snapshots bound replay cost; recovery replays a snapshot plus
// every event after it through taskmodel's deterministic applier.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"scheduling-core/internal/core"
	"scheduling-core/internal/events"
)

// Log owns the SQLite connection, the in-RAM append queue, and the
// background writer's lifecycle.
type Log struct {
	db  *sql.DB
	cfg core.Config
	log *core.Logger

	mu        sync.Mutex
	queue     []events.Event
	nextID    int64
	sinceSnap int
	lastSnap  time.Time

	// ioMu serializes tick/FlushNow so a shutdown flush can never
	// interleave its batch with an in-flight writer tick.
	ioMu sync.Mutex

	// notify wakes the writer as soon as an event is queued, so a drain
	// does not have to wait out the full tick interval.
	notify chan struct{}

	stopped  bool
	fatalErr error
}

// Open opens (creating if absent) the SQLite database at cfg.DatabasePath
// in WAL mode, migrates the schema, and restores Log's id counter from
// the highest event id already persisted.
func Open(ctx context.Context, cfg core.Config, log *core.Logger) (*Log, error) {
	if log == nil {
		log = core.NewDefaultLogger()
	}
	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, core.NewConfigError(cfg.DatabasePath, "", "failed to open database", err)
	}
	db.SetMaxOpenConns(1) // BEGIN IMMEDIATE serializes writers anyway; one conn avoids SQLITE_BUSY churn.

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("eventlog: enabling WAL mode: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("eventlog: migrating schema: %w", err)
	}

	l := &Log{db: db, cfg: cfg, log: log, lastSnap: time.Now(), notify: make(chan struct{}, 1)}
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`)
	var maxID int64
	if err := row.Scan(&maxID); err != nil {
		return nil, fmt.Errorf("eventlog: reading max event id: %w", err)
	}
	l.nextID = maxID + 1
	return l, nil
}

// Close closes the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			type TEXT NOT NULL,
			target_id TEXT,
			payload TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_target_id ON events(target_id)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			parent_id TEXT,
			sort_key TEXT NOT NULL,
			row_type TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			duration INTEGER NOT NULL DEFAULT 0,
			constraint_type TEXT NOT NULL DEFAULT 'asap',
			constraint_date TEXT,
			dependencies TEXT NOT NULL DEFAULT '[]',
			scheduling_mode TEXT NOT NULL DEFAULT 'auto',
			progress INTEGER NOT NULL DEFAULT 0,
			trade_partner_ids TEXT NOT NULL DEFAULT '[]',
			baseline_start TEXT,
			baseline_finish TEXT,
			baseline_duration INTEGER NOT NULL DEFAULT 0,
			actual_start TEXT,
			actual_finish TEXT,
			remaining_duration INTEGER NOT NULL DEFAULT 0,
			collapsed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent_sort ON tasks(parent_id, sort_key)`,
		`CREATE TABLE IF NOT EXISTS calendar (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			working_days TEXT NOT NULL,
			exceptions TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trade_partners (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			contact TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS task_trade_partners (
			task_id TEXT NOT NULL,
			trade_partner_id TEXT NOT NULL,
			PRIMARY KEY (task_id, trade_partner_id)
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tasks TEXT NOT NULL,
			calendar TEXT NOT NULL,
			trade_partners TEXT NOT NULL,
			last_event_id INTEGER NOT NULL,
			timestamp TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Append enqueues event for the next writer tick and assigns it a
// monotonically increasing id. Returns immediately; it never blocks on
// the database.
func (l *Log) Append(e events.Event) events.Event {
	l.mu.Lock()
	e.ID = l.nextID
	l.nextID++
	l.queue = append(l.queue, e)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return e
}

// PendingCount reports how many events are queued but not yet durable,
// the "pending writes" gauge required by the PersistenceBusy policy.
func (l *Log) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// FatalErr reports the PersistenceFatal diagnostic if the writer has
// permanently stopped, or nil if it is still operating normally.
func (l *Log) FatalErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fatalErr
}

func eventPayloadJSON(e events.Event) (string, error) {
	b, err := json.Marshal(e.Payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var errWriterStopped = errors.New("eventlog: writer stopped after fatal error")
