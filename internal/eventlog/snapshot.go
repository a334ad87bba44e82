package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"scheduling-core/internal/calendar"
	"scheduling-core/internal/core"
	"scheduling-core/internal/events"
	"scheduling-core/internal/taskmodel"
)

// snapshotTask is the persistable projection of taskmodel.Task: every
// input field, no derived field, matching the "Persistable task" shape
// in §6.
type snapshotTask struct {
	ID                string                   `json:"id"`
	ParentID          string                   `json:"parent_id"`
	SortKey           string                   `json:"sort_key"`
	RowType           taskmodel.RowType        `json:"row_type"`
	Name              string                   `json:"name"`
	Notes             string                   `json:"notes"`
	Duration          int                      `json:"duration"`
	ConstraintType    taskmodel.ConstraintType `json:"constraint_type"`
	ConstraintDate    string                   `json:"constraint_date"`
	Dependencies      []taskmodel.Dependency   `json:"dependencies"`
	SchedulingMode    taskmodel.SchedulingMode `json:"scheduling_mode"`
	Progress          int                      `json:"progress"`
	TradePartnerIDs   []string                 `json:"trade_partner_ids"`
	BaselineStart     string                   `json:"baseline_start"`
	BaselineFinish    string                   `json:"baseline_finish"`
	BaselineDuration  int                      `json:"baseline_duration"`
	ActualStart       string                   `json:"actual_start"`
	ActualFinish      string                   `json:"actual_finish"`
	RemainingDuration int                      `json:"remaining_duration"`
	Collapsed         bool                     `json:"collapsed"`
}

func toSnapshotTask(t taskmodel.Task) snapshotTask {
	return snapshotTask{
		ID: t.ID, ParentID: t.ParentID, SortKey: t.SortKey, RowType: t.RowType,
		Name: t.Name, Notes: t.Notes, Duration: t.Duration,
		ConstraintType: t.ConstraintType, ConstraintDate: t.ConstraintDate,
		Dependencies: t.Dependencies, SchedulingMode: t.SchedulingMode,
		Progress: t.Progress, TradePartnerIDs: t.TradePartnerIDs,
		BaselineStart: t.BaselineStart, BaselineFinish: t.BaselineFinish,
		BaselineDuration: t.BaselineDuration, ActualStart: t.ActualStart,
		ActualFinish: t.ActualFinish, RemainingDuration: t.RemainingDuration,
		Collapsed: t.Collapsed,
	}
}

func (s snapshotTask) toTask() taskmodel.Task {
	return taskmodel.Task{
		ID: s.ID, ParentID: s.ParentID, SortKey: s.SortKey, RowType: s.RowType,
		Name: s.Name, Notes: s.Notes, Duration: s.Duration,
		ConstraintType: s.ConstraintType, ConstraintDate: s.ConstraintDate,
		Dependencies: s.Dependencies, SchedulingMode: s.SchedulingMode,
		Progress: s.Progress, TradePartnerIDs: s.TradePartnerIDs,
		BaselineStart: s.BaselineStart, BaselineFinish: s.BaselineFinish,
		BaselineDuration: s.BaselineDuration, ActualStart: s.ActualStart,
		ActualFinish: s.ActualFinish, RemainingDuration: s.RemainingDuration,
		Collapsed: s.Collapsed,
	}
}

type snapshotCalendar struct {
	WorkingDays []int                         `json:"workingDays"`
	Exceptions  map[string]calendar.Exception `json:"exceptions"`
}

// decodedCalendar is the tolerant read-side counterpart of
// snapshotCalendar: exceptions stay untyped so the legacy string form
// ("date": "holiday name") still loads (§6's legacy exception format).
type decodedCalendar struct {
	WorkingDays []int          `json:"workingDays"`
	Exceptions  map[string]any `json:"exceptions"`
}

func (d decodedCalendar) toCalendar() calendar.Calendar {
	weekdays := make([]time.Weekday, 0, len(d.WorkingDays))
	for _, day := range d.WorkingDays {
		weekdays = append(weekdays, time.Weekday(day))
	}
	cal := calendar.NewCalendar(weekdays)
	cal.Exceptions = calendar.ExceptionsFromAny(d.Exceptions)
	return cal
}

// MaybeSnapshot stores the current materialized tasks/calendar/partners
// as a new snapshot row if force is true or the event-count threshold
// has been crossed since the last one.
func (l *Log) MaybeSnapshot(ctx context.Context, force bool) error {
	l.mu.Lock()
	due := force || l.sinceSnap >= l.cfg.SnapshotEventThreshold
	l.mu.Unlock()
	if !due {
		return nil
	}

	tasks, cal, partners, lastEventID, err := l.readMaterializedState(ctx)
	if err != nil {
		return err
	}

	snapTasks := make([]snapshotTask, 0, len(tasks))
	for _, t := range tasks {
		snapTasks = append(snapTasks, toSnapshotTask(t))
	}
	tasksJSON, err := json.Marshal(snapTasks)
	if err != nil {
		return err
	}

	days := make([]int, 0, 7)
	for wd, ok := range cal.WorkingDays {
		if ok {
			days = append(days, int(wd))
		}
	}
	calJSON, err := json.Marshal(snapshotCalendar{WorkingDays: days, Exceptions: cal.Exceptions})
	if err != nil {
		return err
	}
	partnersJSON, err := json.Marshal(partners)
	if err != nil {
		return err
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO snapshots (tasks, calendar, trade_partners, last_event_id, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		string(tasksJSON), string(calJSON), string(partnersJSON), lastEventID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.sinceSnap = 0
	l.lastSnap = time.Now()
	l.mu.Unlock()
	return nil
}

func (l *Log) readMaterializedState(ctx context.Context) ([]taskmodel.Task, calendar.Calendar, []taskmodel.TradePartner, int64, error) {
	var lastEventID int64
	row := l.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`)
	if err := row.Scan(&lastEventID); err != nil {
		return nil, calendar.Calendar{}, nil, 0, err
	}

	tasks, err := l.readTasks(ctx)
	if err != nil {
		return nil, calendar.Calendar{}, nil, 0, err
	}
	cal, err := l.readCalendar(ctx)
	if err != nil {
		return nil, calendar.Calendar{}, nil, 0, err
	}
	partners, err := l.readTradePartners(ctx)
	if err != nil {
		return nil, calendar.Calendar{}, nil, 0, err
	}
	return tasks, cal, partners, lastEventID, nil
}

func (l *Log) readTasks(ctx context.Context) ([]taskmodel.Task, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT
		id, parent_id, sort_key, row_type, name, notes, duration,
		constraint_type, constraint_date, dependencies, scheduling_mode,
		progress, trade_partner_ids, baseline_start, baseline_finish,
		baseline_duration, actual_start, actual_finish, remaining_duration, collapsed
		FROM tasks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []taskmodel.Task
	for rows.Next() {
		var (
			t                                                         taskmodel.Task
			parentID, constraintDate, baselineStart, baselineFinish   sql.NullString
			actualStart, actualFinish                                 sql.NullString
			depsJSON, partnersJSON                                    string
			rowType, constraintType, schedulingMode                  string
			collapsed                                                 int
		)
		if err := rows.Scan(
			&t.ID, &parentID, &t.SortKey, &rowType, &t.Name, &t.Notes, &t.Duration,
			&constraintType, &constraintDate, &depsJSON, &schedulingMode,
			&t.Progress, &partnersJSON, &baselineStart, &baselineFinish,
			&t.BaselineDuration, &actualStart, &actualFinish, &t.RemainingDuration, &collapsed,
		); err != nil {
			return nil, err
		}
		t.ParentID = parentID.String
		t.RowType = taskmodel.RowType(rowType)
		t.ConstraintType = taskmodel.ConstraintType(constraintType)
		t.ConstraintDate = constraintDate.String
		t.SchedulingMode = taskmodel.SchedulingMode(schedulingMode)
		t.BaselineStart = baselineStart.String
		t.BaselineFinish = baselineFinish.String
		t.ActualStart = actualStart.String
		t.ActualFinish = actualFinish.String
		t.Collapsed = collapsed != 0
		_ = json.Unmarshal([]byte(depsJSON), &t.Dependencies)
		_ = json.Unmarshal([]byte(partnersJSON), &t.TradePartnerIDs)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (l *Log) readCalendar(ctx context.Context) (calendar.Calendar, error) {
	row := l.db.QueryRowContext(ctx, `SELECT working_days, exceptions FROM calendar WHERE id = 1`)
	var daysJSON, excJSON string
	if err := row.Scan(&daysJSON, &excJSON); err != nil {
		if err == sql.ErrNoRows {
			return calendar.NewCalendar(nil), nil
		}
		return calendar.Calendar{}, err
	}
	var decoded decodedCalendar
	_ = json.Unmarshal([]byte(daysJSON), &decoded.WorkingDays)
	_ = json.Unmarshal([]byte(excJSON), &decoded.Exceptions)
	return decoded.toCalendar(), nil
}

func (l *Log) readTradePartners(ctx context.Context) ([]taskmodel.TradePartner, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, name, contact, phone, email, color, notes FROM trade_partners`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []taskmodel.TradePartner
	for rows.Next() {
		var p taskmodel.TradePartner
		if err := rows.Scan(&p.ID, &p.Name, &p.Contact, &p.Phone, &p.Email, &p.Color, &p.Notes); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Recover restores store to the state of the newest snapshot plus
// every event after it, applied through store's deterministic applier.
// This is the path SchedulingCoordinator.initialize uses on startup.
func (l *Log) Recover(ctx context.Context, store *taskmodel.Store, log *core.Logger) error {
	lastEventID, err := l.loadNewestSnapshot(ctx, store)
	if err != nil {
		return err
	}

	rows, err := l.db.QueryContext(ctx, `SELECT id, type, target_id, payload, timestamp FROM events WHERE id > ? ORDER BY id ASC`, lastEventID)
	if err != nil {
		return err
	}
	defer rows.Close()

	store.SetReplaying(true)
	defer store.SetReplaying(false)

	for rows.Next() {
		var (
			id        int64
			typ       string
			targetID  sql.NullString
			payload   string
			timestamp string
		)
		if err := rows.Scan(&id, &typ, &targetID, &payload, &timestamp); err != nil {
			return err
		}
		var decoded map[string]any
		_ = json.Unmarshal([]byte(payload), &decoded)
		ts, _ := time.Parse(time.RFC3339Nano, timestamp)
		e := events.Event{ID: id, Type: events.Type(typ), TargetID: targetID.String, Payload: decoded, Timestamp: ts}

		// The calendar's replayable state lives outside the task store's
		// applier, so calendar-carrying events are split here: the store
		// applies the task/partner half, this loop applies the calendar
		// half.
		switch e.Type {
		case events.CalendarUpdated:
			store.SetCalendar(calendarFromEventPayload(decoded))
		case events.ProjectImported:
			if _, ok := decoded["working_days"]; ok {
				store.SetCalendar(calendarFromEventPayload(decoded))
			}
			applyAndLog(store, e, log, id)
		default:
			applyAndLog(store, e, log, id)
		}
	}
	return rows.Err()
}

func applyAndLog(store *taskmodel.Store, e events.Event, log *core.Logger, id int64) {
	if diag := store.Apply(e); diag != nil && log != nil {
		log.Debug("eventlog: replay diagnostic for event %d: %v", id, diag)
	}
}

// calendarFromEventPayload decodes the working_days/exceptions halves of
// a JSON-decoded CALENDAR_UPDATED or PROJECT_IMPORTED payload.
func calendarFromEventPayload(payload map[string]any) calendar.Calendar {
	var decoded decodedCalendar
	if raw, ok := payload["working_days"].([]any); ok {
		for _, d := range raw {
			if n, ok := d.(float64); ok {
				decoded.WorkingDays = append(decoded.WorkingDays, int(n))
			}
		}
	}
	if exc, ok := payload["exceptions"].(map[string]any); ok {
		decoded.Exceptions = exc
	}
	return decoded.toCalendar()
}

// loadNewestSnapshot loads the latest snapshot row (if any) into store
// via SetAll/SetCalendar/ReplaceTradePartners and returns its
// lastEventId, or 0 if no snapshot exists yet.
func (l *Log) loadNewestSnapshot(ctx context.Context, store *taskmodel.Store) (int64, error) {
	row := l.db.QueryRowContext(ctx, `SELECT tasks, calendar, trade_partners, last_event_id FROM snapshots ORDER BY id DESC LIMIT 1`)
	var tasksJSON, calJSON, partnersJSON string
	var lastEventID int64
	if err := row.Scan(&tasksJSON, &calJSON, &partnersJSON, &lastEventID); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}

	var snapTasks []snapshotTask
	if err := json.Unmarshal([]byte(tasksJSON), &snapTasks); err != nil {
		return 0, err
	}
	tasks := make([]taskmodel.Task, 0, len(snapTasks))
	for _, st := range snapTasks {
		tasks = append(tasks, st.toTask())
	}
	store.SetAll(tasks)

	var snapCal decodedCalendar
	if err := json.Unmarshal([]byte(calJSON), &snapCal); err != nil {
		return 0, err
	}
	store.SetCalendar(snapCal.toCalendar())

	var partners []taskmodel.TradePartner
	if err := json.Unmarshal([]byte(partnersJSON), &partners); err != nil {
		return 0, err
	}
	store.ReplaceTradePartners(partners)

	return lastEventID, nil
}

