package eventlog

import (
	"context"
	"testing"
	"time"

	"scheduling-core/internal/calendar"
	"scheduling-core/internal/core"
	"scheduling-core/internal/events"
	"scheduling-core/internal/taskmodel"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.DatabasePath = "file:" + t.Name() + "?mode=memory&cache=shared"
	l, err := Open(context.Background(), cfg, core.NewLogger("[test] "))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppend_AssignsMonotonicIDs(t *testing.T) {
	l := newTestLog(t)
	e1 := l.Append(events.New(events.TaskCreated, "t1", map[string]any{}, time.Now()))
	e2 := l.Append(events.New(events.TaskCreated, "t2", map[string]any{}, time.Now()))
	if e2.ID <= e1.ID {
		t.Fatalf("expected strictly increasing ids, got %d then %d", e1.ID, e2.ID)
	}
	if got := l.PendingCount(); got != 2 {
		t.Fatalf("PendingCount() = %d, want 2", got)
	}
}

func TestTick_CommitsAndClearsQueue(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	task := taskFixture("t1")
	l.Append(events.New(events.TaskCreated, "t1", persistablePayload(task), time.Now()))

	if err := l.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := l.PendingCount(); got != 0 {
		t.Fatalf("PendingCount() after tick = %d, want 0", got)
	}

	var name string
	row := l.db.QueryRowContext(ctx, `SELECT name FROM tasks WHERE id = ?`, "t1")
	if err := row.Scan(&name); err != nil {
		t.Fatalf("scanning materialized task: %v", err)
	}
	if name != "Foundation" {
		t.Fatalf("materialized name = %q, want Foundation", name)
	}
}

func TestSnapshotAndRecover_ReconstructsState(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	task := taskFixture("t1")
	l.Append(events.New(events.TaskCreated, "t1", persistablePayload(task), time.Now()))
	if err := l.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if err := l.MaybeSnapshot(ctx, true); err != nil {
		t.Fatalf("MaybeSnapshot: %v", err)
	}

	// A second task created after the snapshot must still replay.
	task2 := taskFixture("t2")
	task2.Name = "Framing"
	l.Append(events.New(events.TaskCreated, "t2", persistablePayload(task2), time.Now()))
	if err := l.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	store := taskmodel.NewStore(core.NewLogger("[test] "))
	if err := l.Recover(ctx, store, core.NewLogger("[test] ")); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	got := store.GetByID("t1")
	if got == nil || got.Name != "Foundation" {
		t.Fatalf("recovered t1 = %+v, want Name=Foundation", got)
	}
	got2 := store.GetByID("t2")
	if got2 == nil || got2.Name != "Framing" {
		t.Fatalf("recovered t2 = %+v, want Name=Framing", got2)
	}
}

func TestRecover_NoSnapshotReplaysFromScratch(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	task := taskFixture("t1")
	l.Append(events.New(events.TaskCreated, "t1", persistablePayload(task), time.Now()))
	if err := l.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	store := taskmodel.NewStore(core.NewLogger("[test] "))
	if err := l.Recover(ctx, store, core.NewLogger("[test] ")); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if got := store.GetByID("t1"); got == nil || got.Name != "Foundation" {
		t.Fatalf("recovered t1 = %+v, want Name=Foundation", got)
	}
}

func TestRecover_AppliesCalendarEvents(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	l.Append(events.New(events.CalendarUpdated, "", map[string]any{
		"working_days": []int{1, 2, 3},
		"exceptions": map[string]calendar.Exception{
			"2025-05-01": {Working: false, Description: "May Day"},
		},
	}, time.Now()))
	if err := l.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	store := taskmodel.NewStore(core.NewLogger("[test] "))
	if err := l.Recover(ctx, store, core.NewLogger("[test] ")); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	cal := store.Calendar()
	if !cal.WorkingDays[time.Tuesday] {
		t.Error("expected Tuesday working after calendar replay")
	}
	if cal.WorkingDays[time.Friday] {
		t.Error("expected Friday non-working after calendar replay")
	}
	exc, ok := cal.Exceptions["2025-05-01"]
	if !ok || exc.Working || exc.Description != "May Day" {
		t.Errorf("exception not replayed: %+v (ok=%v)", exc, ok)
	}
}

func TestRecover_EnumFieldUpdateSurvivesRoundTrip(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	task := taskFixture("t1")
	l.Append(events.New(events.TaskCreated, "t1", persistablePayload(task), time.Now()))
	l.Append(events.New(events.TaskUpdated, "t1",
		events.FieldUpdatePayload("constraint_type", "asap", "snlt"), time.Now()))
	l.Append(events.New(events.TaskUpdated, "t1",
		events.FieldUpdatePayload("constraint_date", "", "2025-06-02"), time.Now()))
	if err := l.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	store := taskmodel.NewStore(core.NewLogger("[test] "))
	if err := l.Recover(ctx, store, core.NewLogger("[test] ")); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	got := store.GetByID("t1")
	if got == nil || got.ConstraintType != taskmodel.ConstraintSNLT || got.ConstraintDate != "2025-06-02" {
		t.Fatalf("recovered t1 = %+v, want constraint snlt 2025-06-02", got)
	}

	var materialized string
	row := l.db.QueryRowContext(ctx, `SELECT constraint_type FROM tasks WHERE id = ?`, "t1")
	if err := row.Scan(&materialized); err != nil {
		t.Fatalf("scanning materialized constraint_type: %v", err)
	}
	if materialized != "snlt" {
		t.Fatalf("materialized constraint_type = %q, want snlt", materialized)
	}
}

func taskFixture(id string) taskmodel.Task {
	return taskmodel.Task{
		ID:             id,
		SortKey:        "m",
		RowType:        taskmodel.RowTask,
		Name:           "Foundation",
		Duration:       5,
		ConstraintType: taskmodel.ConstraintASAP,
		SchedulingMode: taskmodel.ModeAuto,
		Dependencies:   []taskmodel.Dependency{},
		TradePartnerIDs: []string{},
	}
}

// persistablePayload mirrors taskmodel's own field stripping for a
// freshly created task, since that helper is unexported.
func persistablePayload(t taskmodel.Task) map[string]any {
	return map[string]any{
		"parent_id":          t.ParentID,
		"sort_key":            t.SortKey,
		"row_type":            string(t.RowType),
		"name":                t.Name,
		"notes":               t.Notes,
		"duration":            t.Duration,
		"constraint_type":     string(t.ConstraintType),
		"constraint_date":     t.ConstraintDate,
		"dependencies":        t.Dependencies,
		"scheduling_mode":     string(t.SchedulingMode),
		"progress":            t.Progress,
		"trade_partner_ids":   t.TradePartnerIDs,
		"baseline_start":      t.BaselineStart,
		"baseline_finish":     t.BaselineFinish,
		"baseline_duration":   t.BaselineDuration,
		"actual_start":        t.ActualStart,
		"actual_finish":       t.ActualFinish,
		"remaining_duration":  t.RemainingDuration,
		"collapsed":           t.Collapsed,
	}
}
