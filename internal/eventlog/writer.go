package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"scheduling-core/internal/events"
)

// Run starts the background writer and blocks until ctx is canceled or
// a fatal persistence error stops it permanently. It is meant to be
// launched via an errgroup.Group from the composition root, alongside
// whatever else needs a shared cancellation context.
//
// The writer never uses a bare periodic setInterval: it wakes on
// whichever comes first of the tick interval or a queue-non-empty
// signal sent by Append, and always drains fully on ctx cancellation
// before returning (flushNow semantics).
func (l *Log) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.WriterTickInterval)
	defer ticker.Stop()

	snapshotTicker := time.NewTicker(l.cfg.SnapshotInterval)
	defer snapshotTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.FlushNow(context.Background())
			return nil
		case <-ticker.C:
			if err := l.tick(ctx); err != nil {
				if errors.Is(err, errWriterStopped) {
					return err
				}
				l.log.Warn("eventlog: writer tick failed: %v", err)
			}
		case <-l.notify:
			if err := l.tick(ctx); err != nil {
				if errors.Is(err, errWriterStopped) {
					return err
				}
				l.log.Warn("eventlog: writer tick failed: %v", err)
			}
		case <-snapshotTicker.C:
			if err := l.MaybeSnapshot(ctx, true); err != nil {
				l.log.Warn("eventlog: timer snapshot failed: %v", err)
			}
		}
	}
}

// RunGroup is a convenience wrapper that launches Run under an
// errgroup.Group, so Run shares one cancellation signal with the other
// goroutines of that group.
func (l *Log) RunGroup(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return l.Run(ctx) })
}

// tick drains up to WriterBatchSize queued events under one BEGIN
// IMMEDIATE transaction, retrying BUSY/LOCKED up to WriterBusyRetries
// times with WriterBusyBackoff between attempts. On any other failure
// the transaction rolls back and the events remain queued for the next
// tick — no event is lost, and the queue head only advances on commit.
func (l *Log) tick(ctx context.Context) error {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return errWriterStopped
	}
	n := len(l.queue)
	if n > l.cfg.WriterBatchSize {
		n = l.cfg.WriterBatchSize
	}
	batch := append([]events.Event(nil), l.queue[:n]...)
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= l.cfg.WriterBusyRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(l.cfg.WriterBusyBackoff)
		}
		err := l.commitBatch(ctx, batch)
		if err == nil {
			l.mu.Lock()
			l.queue = l.queue[len(batch):]
			l.sinceSnap += len(batch)
			snapshotDue := l.sinceSnap >= l.cfg.SnapshotEventThreshold
			l.mu.Unlock()
			if snapshotDue {
				if err := l.MaybeSnapshot(ctx, true); err != nil {
					l.log.Warn("eventlog: event-count snapshot failed: %v", err)
				}
			}
			return nil
		}
		lastErr = err
		if !isBusyError(err) {
			if isFatalError(err) {
				l.MarkFatal(err)
				l.log.Error("eventlog: fatal persistence error, writer stopped: %v", err)
				return errWriterStopped
			}
			l.log.Warn("eventlog: commit failed, will retry next tick: %v", err)
			return nil
		}
	}

	l.log.Warn("eventlog: BUSY after %d retries, %d events remain queued", l.cfg.WriterBusyRetries, len(batch))
	return lastErr
}

func isBusyError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// isFatalError recognizes the unrecoverable class of persistence
// failures: a closed handle or a corrupt file. Everything else is
// treated as transient and retried on a later tick.
func isFatalError(err error) bool {
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "SQLITE_CORRUPT") ||
		strings.Contains(msg, "SQLITE_NOTADB")
}

// commitBatch writes every event in batch to the events table and
// applies it to the materialized view, all inside one transaction
// opened with BEGIN IMMEDIATE so the write lock is taken up front
// instead of on first write (avoids a class of SQLITE_BUSY that a plain
// deferred transaction would hit under concurrent readers).
//
// database/sql's BeginTx always issues a plain deferred BEGIN, so the
// immediate lock is taken on a raw *sql.Conn instead and the same conn
// is reused for the rest of the batch, with COMMIT/ROLLBACK run as
// ordinary statements on it.
func (l *Log) commitBatch(ctx context.Context, batch []events.Event) error {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(context.Background(), `ROLLBACK`)
		}
	}()

	for _, e := range batch {
		payload, err := eventPayloadJSON(e)
		if err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO events (id, type, target_id, payload, timestamp) VALUES (?, ?, ?, ?, ?)`,
			e.ID, string(e.Type), e.TargetID, payload, e.Timestamp.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
		if err := applyToMaterializedViewConn(ctx, conn, e); err != nil {
			return err
		}
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return err
	}
	committed = true
	return nil
}

// FlushNow drains the entire queue synchronously, retrying with the
// same BUSY/LOCKED policy as tick. Invoked on shutdown so no accepted
// mutation is lost to an un-flushed queue.
func (l *Log) FlushNow(ctx context.Context) error {
	for {
		l.mu.Lock()
		empty := len(l.queue) == 0
		l.mu.Unlock()
		if empty {
			return nil
		}
		if err := l.tick(ctx); err != nil {
			return err
		}
	}
}

// MarkFatal stops the writer permanently, as required by the
// PersistenceFatal policy: in-memory state remains correct, but no
// further writes are attempted.
func (l *Log) MarkFatal(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	l.fatalErr = err
}

// execer is satisfied by both *sql.Tx and *sql.Conn, letting the
// materialize helpers run either inside a database/sql transaction or
// directly on a raw connection already holding a BEGIN IMMEDIATE lock
// (commitBatch, their only caller, does the latter).
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// applyToMaterializedViewConn performs the INSERT/UPDATE/DELETE the
// event implies on the tasks/calendar/trade_partners/task_trade_partners
// tables. Field names are already snake_case by the time an event
// reaches here (§4.3's mutation contract maps them before emission), so
// the whitelist check is just membership in the known-column set —
// anything else was already rejected as a derived or unknown field
// upstream in taskmodel and never reaches the log.
func applyToMaterializedViewConn(ctx context.Context, ex execer, e events.Event) error {
	switch e.Type {
	case events.TaskCreated:
		return materializeTaskUpsert(ctx, ex, e)
	case events.TaskUpdated:
		return materializeTaskFieldUpdate(ctx, ex, e)
	case events.TaskDeleted:
		if _, err := ex.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, e.TargetID); err != nil {
			return err
		}
		_, err := ex.ExecContext(ctx, `DELETE FROM task_trade_partners WHERE task_id = ?`, e.TargetID)
		return err
	case events.TaskMoved:
		parentID, _ := e.Payload["parent_id"].(string)
		sortKey, _ := e.Payload["sort_key"].(string)
		_, err := ex.ExecContext(ctx, `UPDATE tasks SET parent_id = ?, sort_key = ? WHERE id = ?`, parentID, sortKey, e.TargetID)
		return err
	case events.CalendarUpdated:
		return materializeCalendarUpdate(ctx, ex, e)
	case events.TradePartnerCreated, events.TradePartnerUpdated:
		return materializeTradePartnerUpsert(ctx, ex, e)
	case events.TradePartnerDeleted:
		_, err := ex.ExecContext(ctx, `DELETE FROM trade_partners WHERE id = ?`, e.TargetID)
		return err
	case events.TaskTradePartnerAssigned:
		partnerID, _ := e.Payload["trade_partner_id"].(string)
		if _, err := ex.ExecContext(ctx, `INSERT OR IGNORE INTO task_trade_partners (task_id, trade_partner_id) VALUES (?, ?)`, e.TargetID, partnerID); err != nil {
			return err
		}
		return syncTaskPartnerColumn(ctx, ex, e.TargetID, partnerID, true)
	case events.TaskTradePartnerUnassign:
		partnerID, _ := e.Payload["trade_partner_id"].(string)
		if _, err := ex.ExecContext(ctx, `DELETE FROM task_trade_partners WHERE task_id = ? AND trade_partner_id = ?`, e.TargetID, partnerID); err != nil {
			return err
		}
		return syncTaskPartnerColumn(ctx, ex, e.TargetID, partnerID, false)
	case events.ProjectImported:
		return materializeProjectImport(ctx, ex, e)
	case events.ProjectCleared:
		return materializeProjectClear(ctx, ex)
	case events.BaselineSet, events.BaselineCleared, events.BulkUpdate, events.BulkDelete:
		// Carried in the events table for audit/history, but do not
		// themselves imply a direct materialized-view write: the
		// per-task updates that accompanied them are separate events.
		return nil
	default:
		return nil
	}
}

func materializeTaskFieldUpdate(ctx context.Context, ex execer, e events.Event) error {
	field, _ := e.Payload["field"].(string)
	column, ok := materializedColumns[field]
	if !ok {
		return nil // derived or unknown field; reject silently (§4.5 whitelist).
	}
	newValue := e.Payload["new_value"]
	encoded, err := encodeColumnValue(field, newValue)
	if err != nil {
		return err
	}
	query := `UPDATE tasks SET ` + column + ` = ? WHERE id = ?`
	if _, err := ex.ExecContext(ctx, query, encoded, e.TargetID); err != nil {
		return err
	}
	if field == "trade_partner_ids" {
		ids, _ := newValue.([]string)
		return replaceTaskPartnerRows(ctx, ex, e.TargetID, ids)
	}
	return nil
}

// materializedColumns whitelists exactly the persistable snake_case
// field names; a derived field never appears here.
var materializedColumns = map[string]string{
	"name":               "name",
	"notes":              "notes",
	"duration":           "duration",
	"constraint_type":    "constraint_type",
	"constraint_date":    "constraint_date",
	"dependencies":       "dependencies",
	"scheduling_mode":    "scheduling_mode",
	"progress":           "progress",
	"trade_partner_ids":  "trade_partner_ids",
	"baseline_start":     "baseline_start",
	"baseline_finish":    "baseline_finish",
	"baseline_duration":  "baseline_duration",
	"actual_start":       "actual_start",
	"actual_finish":      "actual_finish",
	"remaining_duration": "remaining_duration",
	"collapsed":          "collapsed",
	"parent_id":          "parent_id",
	"sort_key":           "sort_key",
	"row_type":           "row_type",
}
