package coordinator

import (
	"time"

	"scheduling-core/internal/calendar"
	"scheduling-core/internal/core"
	"scheduling-core/internal/events"
	"scheduling-core/internal/taskmodel"
)

// TaskInput carries the caller-supplied input fields for AddTask; the
// structural fields (ParentID, SortKey) are derived from Position
// instead, and derived fields are never accepted as input at all.
type TaskInput struct {
	ID              string // optional; generated via uuid when empty
	Name            string
	Notes           string
	Duration        int
	ConstraintType  taskmodel.ConstraintType
	ConstraintDate  string
	Dependencies    []taskmodel.Dependency
	SchedulingMode  taskmodel.SchedulingMode
	Progress        int
	TradePartnerIDs []string
}

// AddTask inserts a new task at position, assigning an id (uuid if
// input.ID is empty) and a sortKey via OrderingKey, then runs CPM and
// publishes. Returns the assigned id.
func (c *Coordinator) AddTask(input TaskInput, position Position) (string, *core.Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()

	parentID, sortKey, diag := c.resolvePosition(position)
	if diag != nil {
		return "", diag
	}

	id := input.ID
	if id == "" {
		id = newID()
	}
	constraintType := input.ConstraintType
	if constraintType == "" {
		constraintType = taskmodel.ConstraintASAP
	}
	mode := input.SchedulingMode
	if mode == "" {
		mode = taskmodel.ModeAuto
	}

	task := taskmodel.Task{
		ID:              id,
		ParentID:        parentID,
		SortKey:         sortKey,
		RowType:         taskmodel.RowTask,
		Name:            input.Name,
		Notes:           input.Notes,
		Duration:        input.Duration,
		ConstraintType:  constraintType,
		ConstraintDate:  input.ConstraintDate,
		Dependencies:    append([]taskmodel.Dependency(nil), input.Dependencies...),
		SchedulingMode:  mode,
		Progress:        input.Progress,
		TradePartnerIDs: append([]string(nil), input.TradePartnerIDs...),
	}

	pair, added := c.store.Add(task, c.now())
	if added {
		c.history.RecordAction(pair.Forward, pair.Backward, "add task")
		c.appendLocked(pair.Forward)
	}
	c.recalcAndPublishLocked(c.now())
	return id, nil
}

// UpdateTask applies partial field changes to id. Each changed field
// becomes one event pair, all recorded as a single undoable action;
// unknown or derived field names are skipped and reported through the
// returned Diagnostics rather than aborting the whole call.
func (c *Coordinator) UpdateTask(id string, partial map[string]any) *core.Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()

	pairs, diags := c.store.Update(id, partial, c.now())
	if len(pairs) > 0 {
		c.appendPairsLocked(pairs, "update task")
		c.recalcAndPublishLocked(c.now())
	}
	return diags
}

// DeleteTask removes id (and its descendants if cascade), stripping
// ghost dependencies from every remaining task in the same composite
// undo action, per §4.3's delete semantics.
func (c *Coordinator) DeleteTask(id string, cascade bool) *core.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()

	pairs, diag := c.store.Delete(id, cascade, c.now())
	if diag != nil {
		return diag
	}
	c.appendPairsLocked(pairs, "delete task")
	c.recalcAndPublishLocked(c.now())
	return nil
}

// BulkUpdate applies the same partial field changes to several tasks as
// one undoable action, marked in the log with a single BULK_UPDATE
// audit event ahead of the per-field updates.
func (c *Coordinator) BulkUpdate(ids []string, partial map[string]any) *core.Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := core.NewDiagnostics()
	var pairs []events.Pair
	updated := 0
	for _, id := range ids {
		p, diags := c.store.Update(id, partial, c.now())
		if len(p) > 0 {
			updated++
		}
		pairs = append(pairs, p...)
		for _, d := range diags.Items() {
			all.Add(d)
		}
	}
	if len(pairs) > 0 {
		c.appendLocked(events.New(events.BulkUpdate, "", map[string]any{"task_count": updated}, c.now()))
		c.appendPairsLocked(pairs, "bulk update")
		c.recalcAndPublishLocked(c.now())
	}
	return all
}

// BulkDelete removes several tasks (plus descendants if cascade) as one
// composite action: a single undo restores every deleted task and every
// ghost link stripped along the way.
func (c *Coordinator) BulkDelete(ids []string, cascade bool) *core.Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := core.NewDiagnostics()
	existed := make(map[string]bool, len(ids))
	for _, id := range ids {
		existed[id] = c.store.GetByID(id) != nil
	}

	c.history.BeginComposite("bulk delete")
	deleted := 0
	for _, id := range ids {
		if existed[id] && c.store.GetByID(id) == nil {
			// Already removed by an earlier id's cascade (or listed
			// twice); not an error.
			continue
		}
		pairs, diag := c.store.Delete(id, cascade, c.now())
		if diag != nil {
			all.Add(diag)
			continue
		}
		deleted++
		c.history.RecordPairs(pairs, "delete task")
		for _, p := range pairs {
			c.appendLocked(p.Forward)
		}
	}
	c.history.EndComposite()

	if deleted > 0 {
		c.appendLocked(events.New(events.BulkDelete, "", map[string]any{"task_count": deleted}, c.now()))
		c.recalcAndPublishLocked(c.now())
	}
	return all
}

// MoveTask reparents id under newParentID at the position anchor
// describes, computing a fresh sortKey via OrderingKey and rejecting
// hierarchy cycles.
func (c *Coordinator) MoveTask(id, newParentID string, anchor Anchor) *core.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(id, newParentID, anchor, "move task")
}

func (c *Coordinator) moveLocked(id, newParentID string, anchor Anchor, label string) *core.Diagnostic {
	sortKey, diag := c.resolveAnchor(newParentID, anchor, id)
	if diag != nil {
		return diag
	}
	pair, diag := c.store.Move(id, newParentID, sortKey, c.now())
	if diag != nil {
		return diag
	}
	c.history.RecordAction(pair.Forward, pair.Backward, label)
	c.appendLocked(pair.Forward)
	c.recalcAndPublishLocked(c.now())
	return nil
}

// Indent reparents id under its immediately preceding sibling, becoming
// that sibling's last child. A task with no preceding sibling cannot be
// indented.
func (c *Coordinator) Indent(id string) *core.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.store.GetByID(id)
	if t == nil {
		return core.NewDiagnostic(core.KindInvalidRef, id, "", "indent targets a missing task", nil)
	}
	siblings := c.store.GetChildren(t.ParentID)
	idx := -1
	for i, s := range siblings {
		if s.ID == id {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return core.NewDiagnostic(core.KindInvalidRef, id, "parentId", "indent requires a preceding sibling", nil)
	}
	newParent := siblings[idx-1].ID
	return c.moveLocked(id, newParent, Anchor{Mode: AnchorChildEnd}, "indent task")
}

// Outdent reparents id to its grandparent, placed immediately after its
// former parent among the grandparent's children. A root-level task
// cannot be outdented.
func (c *Coordinator) Outdent(id string) *core.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.store.GetByID(id)
	if t == nil {
		return core.NewDiagnostic(core.KindInvalidRef, id, "", "outdent targets a missing task", nil)
	}
	if t.ParentID == "" {
		return core.NewDiagnostic(core.KindInvalidRef, id, "parentId", "outdent requires a parent task", nil)
	}
	parent := c.store.GetByID(t.ParentID)
	if parent == nil {
		return core.NewDiagnostic(core.KindInvalidRef, t.ParentID, "", "outdent's parent task is missing", nil)
	}
	return c.moveLocked(id, parent.ParentID, Anchor{Mode: AnchorAfter, RefID: parent.ID}, "outdent task")
}

// UpdateDependencies replaces id's dependency list wholesale, after
// validating every predecessor exists and no self/cycle dependency is
// introduced.
func (c *Coordinator) UpdateDependencies(id string, deps []taskmodel.Dependency) *core.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()

	pair, diag := c.store.UpdateDependencies(id, deps, c.now())
	if diag != nil {
		return diag
	}
	c.history.RecordAction(pair.Forward, pair.Backward, "update dependencies")
	c.appendLocked(pair.Forward)
	c.recalcAndPublishLocked(c.now())
	return nil
}

// UpdateCalendar replaces the entire calendar (working days and
// exceptions) and recomputes, per §3's "Calendar mutations replace the
// entire workingDays/exceptions pair".
func (c *Coordinator) UpdateCalendar(workingDays []time.Weekday, exceptions map[string]calendar.Exception) {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.store.Calendar()
	after := calendar.NewCalendar(workingDays)
	after.Exceptions = exceptions

	fwd := events.New(events.CalendarUpdated, "", calendarPayload(after), c.now())
	bwd := events.New(events.CalendarUpdated, "", calendarPayload(before), c.now())

	c.store.SetCalendar(after)
	c.history.RecordAction(fwd, bwd, "update calendar")
	c.appendLocked(fwd)
	c.recalcAndPublishLocked(c.now())
}

func calendarPayload(c calendar.Calendar) map[string]any {
	days := make([]int, 0, len(c.WorkingDays))
	for wd, ok := range c.WorkingDays {
		if ok {
			days = append(days, int(wd))
		}
	}
	return map[string]any{"working_days": days, "exceptions": c.Exceptions}
}

// AddTradePartner inserts a new trade partner, assigning an id (uuid if
// input.ID is empty).
func (c *Coordinator) AddTradePartner(p taskmodel.TradePartner) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.ID == "" {
		p.ID = newID()
	}
	if p.Color == "" {
		p.Color = core.GenerateDisplayColor(p.Name)
	}
	pair, added := c.store.AddTradePartner(p, c.now())
	if added {
		c.history.RecordAction(pair.Forward, pair.Backward, "add trade partner")
		c.appendLocked(pair.Forward)
		c.recalcAndPublishLocked(c.now())
	}
	return p.ID
}

// UpdateTradePartner replaces id's mutable fields wholesale.
func (c *Coordinator) UpdateTradePartner(id string, updated taskmodel.TradePartner) *core.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()

	pair, diag := c.store.UpdateTradePartner(id, updated, c.now())
	if diag != nil {
		return diag
	}
	c.history.RecordAction(pair.Forward, pair.Backward, "update trade partner")
	c.appendLocked(pair.Forward)
	c.recalcAndPublishLocked(c.now())
	return nil
}

// DeleteTradePartner removes id and unassigns it from every task that
// references it, as one composite undo action.
func (c *Coordinator) DeleteTradePartner(id string) *core.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()

	pairs, diag := c.store.DeleteTradePartner(id, c.now())
	if diag != nil {
		return diag
	}
	c.appendPairsLocked(pairs, "delete trade partner")
	c.recalcAndPublishLocked(c.now())
	return nil
}

// AssignTradePartner attaches partnerID to taskID.
func (c *Coordinator) AssignTradePartner(taskID, partnerID string) *core.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()

	pair, diag := c.store.AssignTradePartner(taskID, partnerID, c.now())
	if diag != nil {
		return diag
	}
	c.history.RecordAction(pair.Forward, pair.Backward, "assign trade partner")
	c.appendLocked(pair.Forward)
	c.recalcAndPublishLocked(c.now())
	return nil
}

// UnassignTradePartner detaches partnerID from taskID.
func (c *Coordinator) UnassignTradePartner(taskID, partnerID string) *core.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()

	pair, diag := c.store.UnassignTradePartner(taskID, partnerID, c.now())
	if diag != nil {
		return diag
	}
	c.history.RecordAction(pair.Forward, pair.Backward, "unassign trade partner")
	c.appendLocked(pair.Forward)
	c.recalcAndPublishLocked(c.now())
	return nil
}

// SetBaseline copies id's current derived start/end/duration into its
// baseline fields, used to snapshot a plan for later variance
// comparison. The BASELINE_SET event is an audit marker; the baseline
// values themselves travel (and undo) as ordinary field updates, so the
// in-memory store and the materialized view stay byte-identical.
func (c *Coordinator) SetBaseline(id string) *core.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.store.GetByID(id)
	if t == nil {
		return core.NewDiagnostic(core.KindInvalidRef, id, "", "setBaseline targets a missing task", nil)
	}

	c.appendLocked(events.New(events.BaselineSet, id, nil, c.now()))
	partial := map[string]any{
		"baselineStart": t.Start, "baselineFinish": t.End, "baselineDuration": t.Duration,
	}
	pairs, _ := c.store.Update(id, partial, c.now())
	c.appendPairsLocked(pairs, "set baseline")
	c.recalcAndPublishLocked(c.now())
	return nil
}

// ClearBaseline blanks id's baseline fields, with the BASELINE_CLEARED
// marker recorded alongside the undoable field updates.
func (c *Coordinator) ClearBaseline(id string) *core.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store.GetByID(id) == nil {
		return core.NewDiagnostic(core.KindInvalidRef, id, "", "clearBaseline targets a missing task", nil)
	}

	c.appendLocked(events.New(events.BaselineCleared, id, nil, c.now()))
	partial := map[string]any{"baselineStart": "", "baselineFinish": "", "baselineDuration": 0}
	pairs, _ := c.store.Update(id, partial, c.now())
	c.appendPairsLocked(pairs, "clear baseline")
	c.recalcAndPublishLocked(c.now())
	return nil
}

// LoadProject replaces the entire task/calendar/partner set in one bulk
// load and emits a single PROJECT_IMPORTED event carrying the full
// persistable projection; no per-field events are recorded (setAll
// semantics, §4.3), and the import itself is not individually undoable
// beyond whatever state existed before it. Carrying the projection in
// the event is what lets snapshot-plus-replay reconstruct an import
// without per-task events.
func (c *Coordinator) LoadProject(tasks []taskmodel.Task, cal calendar.Calendar, partners []taskmodel.TradePartner) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.SetAll(tasks)
	c.store.SetCalendar(cal)
	c.store.ReplaceTradePartners(partners)

	taskPayloads := make([]any, 0, len(tasks))
	for _, t := range tasks {
		taskPayloads = append(taskPayloads, taskmodel.PersistablePayload(t))
	}
	partnerPayloads := make([]any, 0, len(partners))
	for _, p := range partners {
		partnerPayloads = append(partnerPayloads, taskmodel.PersistableTradePartnerPayload(p))
	}
	payload := calendarPayload(cal)
	payload["tasks"] = taskPayloads
	payload["trade_partners"] = partnerPayloads

	c.appendLocked(events.New(events.ProjectImported, "", payload, c.now()))
	c.recalcAndPublishLocked(c.now())
}

// ClearProject empties the task/calendar/partner set and emits a single
// PROJECT_CLEARED event.
func (c *Coordinator) ClearProject() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.SetAll(nil)
	c.store.ReplaceTradePartners(nil)

	e := events.New(events.ProjectCleared, "", nil, c.now())
	c.appendLocked(e)
	c.recalcAndPublishLocked(c.now())
}

// Undo applies the most recently recorded action's backward events
// through the store's replay path (reentrancy flag set, so no new
// history is recorded), forwards each to the persistence sink, and
// recomputes. ok is false if there is nothing to undo.
func (c *Coordinator) Undo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	backward, ok := c.history.Undo()
	if !ok {
		return false
	}
	c.replayLocked(backward)
	return true
}

// Redo re-applies the most recently undone action's forward events.
func (c *Coordinator) Redo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	forward, ok := c.history.Redo()
	if !ok {
		return false
	}
	c.replayLocked(forward)
	return true
}

// replayLocked applies each event to the store via its deterministic
// applier, forwarding every event to the persistence sink so undo/redo
// are themselves durable, then recomputes and publishes. The reentrancy
// flag suppresses nothing in the store itself (taskmodel never records
// history); it exists purely as the signal this call is a replay, not a
// fresh validated mutation.
func (c *Coordinator) replayLocked(batch []events.Event) {
	c.store.SetReplaying(true)
	defer c.store.SetReplaying(false)

	for _, e := range batch {
		if e.Type == events.CalendarUpdated {
			c.store.SetCalendar(calendarFromPayload(e.Payload))
		} else if diag := c.store.Apply(e); diag != nil {
			c.log.Debug("coordinator: replay diagnostic for event type %q: %v", e.Type, diag)
		}
		c.appendLocked(e)
	}
	c.recalcAndPublishLocked(c.now())
}

// calendarFromPayload reverses calendarPayload for undo/redo replay of a
// CalendarUpdated event recorded in-process by UpdateCalendar.
func calendarFromPayload(payload map[string]any) calendar.Calendar {
	var days []time.Weekday
	if raw, ok := payload["working_days"].([]int); ok {
		for _, d := range raw {
			days = append(days, time.Weekday(d))
		}
	}
	cal := calendar.NewCalendar(days)
	if exc, ok := payload["exceptions"].(map[string]calendar.Exception); ok {
		cal.Exceptions = exc
	}
	return cal
}
