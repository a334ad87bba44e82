package taskmodel

import (
	"time"

	"scheduling-core/internal/calendar"
	"scheduling-core/internal/core"
	"scheduling-core/internal/events"
)

// snakeCase maps a camelCase Task field name to its canonical
// snake_case payload name, per the mutation contract in §4.3.
var snakeCase = map[string]string{
	"name":              "name",
	"notes":             "notes",
	"duration":          "duration",
	"constraintType":    "constraint_type",
	"constraintDate":    "constraint_date",
	"dependencies":      "dependencies",
	"schedulingMode":    "scheduling_mode",
	"progress":          "progress",
	"tradePartnerIds":   "trade_partner_ids",
	"baselineStart":     "baseline_start",
	"baselineFinish":    "baseline_finish",
	"baselineDuration":  "baseline_duration",
	"actualStart":       "actual_start",
	"actualFinish":      "actual_finish",
	"remainingDuration": "remaining_duration",
	"collapsed":         "collapsed",
	"parentId":          "parent_id",
	"sortKey":           "sort_key",
	"rowType":           "row_type",
}

// getField reads the current value of a camelCase field from t.
func getField(t *Task, field string) (any, bool) {
	switch field {
	case "name":
		return t.Name, true
	case "notes":
		return t.Notes, true
	case "duration":
		return t.Duration, true
	case "constraintType":
		return t.ConstraintType, true
	case "constraintDate":
		return t.ConstraintDate, true
	case "dependencies":
		return append([]Dependency(nil), t.Dependencies...), true
	case "schedulingMode":
		return t.SchedulingMode, true
	case "progress":
		return t.Progress, true
	case "tradePartnerIds":
		return append([]string(nil), t.TradePartnerIDs...), true
	case "baselineStart":
		return t.BaselineStart, true
	case "baselineFinish":
		return t.BaselineFinish, true
	case "baselineDuration":
		return t.BaselineDuration, true
	case "actualStart":
		return t.ActualStart, true
	case "actualFinish":
		return t.ActualFinish, true
	case "remainingDuration":
		return t.RemainingDuration, true
	case "collapsed":
		return t.Collapsed, true
	case "parentId":
		return t.ParentID, true
	case "sortKey":
		return t.SortKey, true
	case "rowType":
		return t.RowType, true
	default:
		return nil, false
	}
}

// setField writes value into the camelCase field on t. The caller is
// responsible for type-asserting correctly; a mismatched type is a
// programmer error in the caller (Coordinator), not a runtime condition
// this layer needs to recover from.
func setField(t *Task, field string, value any) {
	switch field {
	case "name":
		t.Name = value.(string)
	case "notes":
		t.Notes = value.(string)
	case "duration":
		t.Duration = value.(int)
	case "constraintType":
		t.ConstraintType = value.(ConstraintType)
	case "constraintDate":
		t.ConstraintDate = value.(string)
	case "dependencies":
		t.Dependencies = value.([]Dependency)
	case "schedulingMode":
		t.SchedulingMode = value.(SchedulingMode)
	case "progress":
		t.Progress = value.(int)
	case "tradePartnerIds":
		t.TradePartnerIDs = value.([]string)
	case "baselineStart":
		t.BaselineStart = value.(string)
	case "baselineFinish":
		t.BaselineFinish = value.(string)
	case "baselineDuration":
		t.BaselineDuration = value.(int)
	case "actualStart":
		t.ActualStart = value.(string)
	case "actualFinish":
		t.ActualFinish = value.(string)
	case "remainingDuration":
		t.RemainingDuration = value.(int)
	case "collapsed":
		t.Collapsed = value.(bool)
	case "parentId":
		t.ParentID = value.(string)
	case "sortKey":
		t.SortKey = value.(string)
	case "rowType":
		t.RowType = value.(RowType)
	}
}

// Add inserts task, replacing any existing task with the same id in
// place (idempotent replay per the duplicate-id failure mode). Returns
// the forward/backward event pair for a fresh insert; a replace-in-place
// emits no events, matching setAll's bulk-load semantics, since replay
// re-establishing a known task should not itself require undo support.
func (s *Store) Add(task Task, now time.Time) (events.Pair, bool) {
	_, existed := s.tasks[task.ID]
	stored := task.Clone()
	s.tasks[task.ID] = &stored

	if existed {
		return events.Pair{}, false
	}

	fwd := events.New(events.TaskCreated, task.ID, PersistablePayload(task), now)
	bwd := events.New(events.TaskDeleted, task.ID, nil, now)
	return events.Pair{Forward: fwd, Backward: bwd}, true
}

// Update applies partial field changes to id. Unknown or derived field
// names are skipped rather than aborting the whole call (§4.3 failure
// modes): a derived name is recorded as a diagnostic, an unknown name is
// only logged at debug level. Returns one event pair per field that
// actually changed value, to be recorded as a composite action by the
// caller.
func (s *Store) Update(id string, partial map[string]any, now time.Time) ([]events.Pair, *core.Diagnostics) {
	diags := core.NewDiagnostics()
	t, ok := s.tasks[id]
	if !ok {
		diags.Add(core.NewDiagnostic(core.KindInvalidRef, id, "", "update targets a missing task", nil))
		return nil, diags
	}

	var pairs []events.Pair
	for field, newValue := range partial {
		// Callers may spell a field either way; the canonical form is
		// camelCase, the wire form snake_case, and replay already
		// accepts both through the same table.
		canonical := camelFieldName(field)
		if IsDerivedField(canonical) {
			diags.Add(core.NewDiagnostic(core.KindDerivedFieldWrite, id, field, "derived field ignored", nil))
			continue
		}
		oldValue, known := getField(t, canonical)
		if !known {
			suggestion := core.SuggestFieldName(field, KnownFields)
			if suggestion != "" {
				s.log.Debug("taskmodel: unknown field %q on update, ignored (did you mean %q?)", field, suggestion)
			} else {
				s.log.Debug("taskmodel: unknown field %q on update, ignored", field)
			}
			continue
		}

		coerced, _ := coerceFieldValue(canonical, newValue)
		setField(t, canonical, coerced)
		updatedValue, _ := getField(t, canonical)
		if equalValues(oldValue, updatedValue) {
			continue
		}

		payload := events.FieldUpdatePayload(snakeFieldName(canonical), payloadValue(oldValue), payloadValue(updatedValue))
		fwd := events.New(events.TaskUpdated, id, payload, now)
		bwdPayload := events.FieldUpdatePayload(snakeFieldName(canonical), payloadValue(updatedValue), payloadValue(oldValue))
		bwd := events.New(events.TaskUpdated, id, bwdPayload, now)
		pairs = append(pairs, events.Pair{Forward: fwd, Backward: bwd})
	}
	return pairs, diags
}

func snakeFieldName(field string) string {
	if s, ok := snakeCase[field]; ok {
		return s
	}
	return field
}

// payloadValue converts a field value into its wire shape: the enum
// string types go out as plain strings so that every payload is
// JSON-native and binds directly into a SQLite statement. Slices are
// handled downstream (JSON-encoded by the materialized writer, tagged
// structs by the events table).
func payloadValue(v any) any {
	switch tv := v.(type) {
	case ConstraintType:
		return string(tv)
	case SchedulingMode:
		return string(tv)
	case RowType:
		return string(tv)
	default:
		return v
	}
}

func equalValues(a, b any) bool {
	switch av := a.(type) {
	case []Dependency:
		bv, ok := b.([]Dependency)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case []string:
		bv, ok := b.([]string)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Delete removes id (and, if cascade, its descendants), stripping ghost
// dependencies from every remaining task. All events are returned as a
// single ordered slice of pairs meant to be recorded as one composite
// action, per §4.3's delete semantics: TASK_UPDATED(dependencies) pairs
// for every remaining task with a ghost link, then TASK_DELETED for
// every removed task (in that order, so undo restores dependencies
// before the deleted tasks disappear again on redo).
func (s *Store) Delete(id string, cascade bool, now time.Time) ([]events.Pair, *core.Diagnostic) {
	if _, ok := s.tasks[id]; !ok {
		return nil, core.NewDiagnostic(core.KindInvalidRef, id, "", "delete targets a missing task", nil)
	}

	toDelete := map[string]bool{id: true}
	if cascade {
		s.collectDescendants(id, toDelete)
	}

	var pairs []events.Pair
	for _, t := range s.tasks {
		if toDelete[t.ID] {
			continue
		}
		filtered := t.Dependencies[:0:0]
		changed := false
		for _, dep := range t.Dependencies {
			if toDelete[dep.PredecessorID] {
				changed = true
				continue
			}
			filtered = append(filtered, dep)
		}
		if !changed {
			continue
		}
		oldDeps := append([]Dependency(nil), t.Dependencies...)
		t.Dependencies = filtered
		payload := events.FieldUpdatePayload("dependencies", oldDeps, filtered)
		bwdPayload := events.FieldUpdatePayload("dependencies", filtered, oldDeps)
		pairs = append(pairs, events.Pair{
			Forward:  events.New(events.TaskUpdated, t.ID, payload, now),
			Backward: events.New(events.TaskUpdated, t.ID, bwdPayload, now),
		})
	}

	for delID := range toDelete {
		removed := *s.tasks[delID]
		delete(s.tasks, delID)
		pairs = append(pairs, events.Pair{
			Forward:  events.New(events.TaskDeleted, delID, nil, now),
			Backward: events.New(events.TaskCreated, delID, PersistablePayload(removed), now),
		})
	}

	return pairs, nil
}

func (s *Store) collectDescendants(id string, into map[string]bool) {
	for _, t := range s.tasks {
		if t.ParentID == id && !into[t.ID] {
			into[t.ID] = true
			s.collectDescendants(t.ID, into)
		}
	}
}

// Move reparents id under newParentID with the given sortKey, rejecting
// moves that would create a hierarchy cycle.
func (s *Store) Move(id, newParentID, newSortKey string, now time.Time) (events.Pair, *core.Diagnostic) {
	t, ok := s.tasks[id]
	if !ok {
		return events.Pair{}, core.NewDiagnostic(core.KindInvalidRef, id, "", "move targets a missing task", nil)
	}
	if newParentID != "" {
		if _, ok := s.tasks[newParentID]; !ok {
			return events.Pair{}, core.NewDiagnostic(core.KindInvalidRef, newParentID, "parentId", "move targets a missing parent", nil)
		}
	}
	if s.wouldCycleParent(id, newParentID) {
		return events.Pair{}, core.NewDiagnostic(core.KindCycleRejected, id, "parentId", "move would create a hierarchy cycle", nil)
	}

	oldParent, oldSortKey := t.ParentID, t.SortKey
	t.ParentID = newParentID
	t.SortKey = newSortKey

	fwd := events.New(events.TaskMoved, id, map[string]any{
		"parent_id": newParentID, "sort_key": newSortKey,
	}, now)
	bwd := events.New(events.TaskMoved, id, map[string]any{
		"parent_id": oldParent, "sort_key": oldSortKey,
	}, now)
	return events.Pair{Forward: fwd, Backward: bwd}, nil
}

// UpdateDependencies replaces id's dependency list wholesale, after
// validating every predecessor exists and no self/cycle dependency is
// introduced.
func (s *Store) UpdateDependencies(id string, deps []Dependency, now time.Time) (events.Pair, *core.Diagnostic) {
	t, ok := s.tasks[id]
	if !ok {
		return events.Pair{}, core.NewDiagnostic(core.KindInvalidRef, id, "", "updateDependencies targets a missing task", nil)
	}
	seen := map[string]bool{}
	var dependsOnID func(taskID string) bool
	dependsOnID = func(taskID string) bool {
		if pt, ok := s.tasks[taskID]; ok && !seen[taskID] {
			seen[taskID] = true
			for _, d := range pt.Dependencies {
				if d.PredecessorID == id || dependsOnID(d.PredecessorID) {
					return true
				}
			}
		}
		return false
	}
	for _, dep := range deps {
		if dep.PredecessorID == id {
			return events.Pair{}, core.NewDiagnostic(core.KindCycleRejected, id, "dependencies", "task cannot depend on itself", nil)
		}
		if _, ok := s.tasks[dep.PredecessorID]; !ok {
			return events.Pair{}, core.NewDiagnostic(core.KindInvalidRef, dep.PredecessorID, "dependencies", "dependency targets a missing predecessor", nil)
		}
		if s.isDescendant(id, dep.PredecessorID) {
			return events.Pair{}, core.NewDiagnostic(core.KindCycleRejected, id, "dependencies", "task cannot depend on its own descendant", nil)
		}
		if dependsOnID(dep.PredecessorID) {
			return events.Pair{}, core.NewDiagnostic(core.KindCycleRejected, id, "dependencies", "dependency would create a cycle", nil)
		}
	}

	oldDeps := append([]Dependency(nil), t.Dependencies...)
	newDeps := append([]Dependency(nil), deps...)
	t.Dependencies = newDeps

	fwd := events.New(events.TaskUpdated, id, events.FieldUpdatePayload("dependencies", oldDeps, newDeps), now)
	bwd := events.New(events.TaskUpdated, id, events.FieldUpdatePayload("dependencies", newDeps, oldDeps), now)
	return events.Pair{Forward: fwd, Backward: bwd}, nil
}

// SetAll replaces the entire task set in one bulk load. No events are
// emitted (the caller is expected to emit a single PROJECT_IMPORTED
// event itself); this is the path used by recovery and by loadProject.
func (s *Store) SetAll(tasks []Task) {
	s.tasks = make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		stored := t.Clone()
		s.tasks[t.ID] = &stored
	}
}

// SetCalendar replaces the calendar wholesale.
func (s *Store) SetCalendar(c calendar.Calendar) {
	s.calendar = c
}

// ReplaceTradePartners replaces the trade-partner set wholesale.
func (s *Store) ReplaceTradePartners(partners []TradePartner) {
	s.tradePartners = make(map[string]*TradePartner, len(partners))
	for _, p := range partners {
		stored := p
		s.tradePartners[p.ID] = &stored
	}
}

func tradePartnerPayload(p TradePartner) map[string]any {
	return map[string]any{
		"name": p.Name, "contact": p.Contact, "phone": p.Phone,
		"email": p.Email, "color": p.Color, "notes": p.Notes,
	}
}

// PersistableTradePartnerPayload is the wire shape PROJECT_IMPORTED
// carries for each trade partner, the partner counterpart of
// PersistablePayload.
func PersistableTradePartnerPayload(p TradePartner) map[string]any {
	payload := tradePartnerPayload(p)
	payload["id"] = p.ID
	return payload
}

// AddTradePartner inserts a trade partner, replacing any existing one
// with the same id in place (idempotent replay, mirroring Add's
// duplicate-id semantics).
func (s *Store) AddTradePartner(p TradePartner, now time.Time) (events.Pair, bool) {
	_, existed := s.tradePartners[p.ID]
	stored := p
	s.tradePartners[p.ID] = &stored
	if existed {
		return events.Pair{}, false
	}
	fwd := events.New(events.TradePartnerCreated, p.ID, tradePartnerPayload(p), now)
	bwd := events.New(events.TradePartnerDeleted, p.ID, nil, now)
	return events.Pair{Forward: fwd, Backward: bwd}, true
}

// UpdateTradePartner replaces id's mutable fields wholesale (a trade
// partner has no derived fields, so there is no field-level whitelist
// to apply here the way Update has for Task).
func (s *Store) UpdateTradePartner(id string, updated TradePartner, now time.Time) (events.Pair, *core.Diagnostic) {
	p, ok := s.tradePartners[id]
	if !ok {
		return events.Pair{}, core.NewDiagnostic(core.KindInvalidRef, id, "", "updateTradePartner targets a missing partner", nil)
	}
	before := *p
	updated.ID = id
	*p = updated
	fwd := events.New(events.TradePartnerUpdated, id, tradePartnerPayload(updated), now)
	bwd := events.New(events.TradePartnerUpdated, id, tradePartnerPayload(before), now)
	return events.Pair{Forward: fwd, Backward: bwd}, nil
}

// DeleteTradePartner removes id and unassigns it from every task that
// references it, returned as one ordered slice of pairs meant to be
// recorded as a single composite action (mirroring Delete's ghost-link
// cleanup for dependencies).
func (s *Store) DeleteTradePartner(id string, now time.Time) ([]events.Pair, *core.Diagnostic) {
	p, ok := s.tradePartners[id]
	if !ok {
		return nil, core.NewDiagnostic(core.KindInvalidRef, id, "", "deleteTradePartner targets a missing partner", nil)
	}

	var pairs []events.Pair
	for _, t := range s.tasks {
		if !containsString(t.TradePartnerIDs, id) {
			continue
		}
		t.TradePartnerIDs = removeOne(t, id)
		pairs = append(pairs, events.Pair{
			Forward:  events.New(events.TaskTradePartnerUnassign, t.ID, map[string]any{"trade_partner_id": id}, now),
			Backward: events.New(events.TaskTradePartnerAssigned, t.ID, map[string]any{"trade_partner_id": id}, now),
		})
	}

	removed := *p
	delete(s.tradePartners, id)
	pairs = append(pairs, events.Pair{
		Forward:  events.New(events.TradePartnerDeleted, id, nil, now),
		Backward: events.New(events.TradePartnerCreated, id, tradePartnerPayload(removed), now),
	})
	return pairs, nil
}

// AssignTradePartner adds partnerID to taskID's assignment list if not
// already present.
func (s *Store) AssignTradePartner(taskID, partnerID string, now time.Time) (events.Pair, *core.Diagnostic) {
	t, ok := s.tasks[taskID]
	if !ok {
		return events.Pair{}, core.NewDiagnostic(core.KindInvalidRef, taskID, "", "assignTradePartner targets a missing task", nil)
	}
	if _, ok := s.tradePartners[partnerID]; !ok {
		return events.Pair{}, core.NewDiagnostic(core.KindInvalidRef, partnerID, "tradePartnerIds", "assignTradePartner references a missing partner", nil)
	}
	t.TradePartnerIDs = appendUnique(t, partnerID)
	fwd := events.New(events.TaskTradePartnerAssigned, taskID, map[string]any{"trade_partner_id": partnerID}, now)
	bwd := events.New(events.TaskTradePartnerUnassign, taskID, map[string]any{"trade_partner_id": partnerID}, now)
	return events.Pair{Forward: fwd, Backward: bwd}, nil
}

// UnassignTradePartner removes partnerID from taskID's assignment list.
func (s *Store) UnassignTradePartner(taskID, partnerID string, now time.Time) (events.Pair, *core.Diagnostic) {
	t, ok := s.tasks[taskID]
	if !ok {
		return events.Pair{}, core.NewDiagnostic(core.KindInvalidRef, taskID, "", "unassignTradePartner targets a missing task", nil)
	}
	t.TradePartnerIDs = removeOne(t, partnerID)
	fwd := events.New(events.TaskTradePartnerUnassign, taskID, map[string]any{"trade_partner_id": partnerID}, now)
	bwd := events.New(events.TaskTradePartnerAssigned, taskID, map[string]any{"trade_partner_id": partnerID}, now)
	return events.Pair{Forward: fwd, Backward: bwd}, nil
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// CreateBlankRow inserts a placeholder row skipped by the CPM engine
// (invariant 5), used by grid UIs to render an always-present trailing
// editable row.
func (s *Store) CreateBlankRow(id, parentID, sortKey string) {
	s.tasks[id] = &Task{
		ID:             id,
		ParentID:       parentID,
		SortKey:        sortKey,
		RowType:        RowBlank,
		ConstraintType: ConstraintASAP,
		SchedulingMode: ModeAuto,
	}
}

// WakeUpBlankRow promotes a blank row to a real task once it is given a
// name, without re-keying its id or position.
func (s *Store) WakeUpBlankRow(id, name string) *core.Diagnostic {
	t, ok := s.tasks[id]
	if !ok {
		return core.NewDiagnostic(core.KindInvalidRef, id, "", "wakeUpBlankRow targets a missing row", nil)
	}
	t.RowType = RowTask
	t.Name = name
	return nil
}

// RevertToBlankRow demotes a task back to a blank row, clearing its
// schedulable inputs (used when a user empties a grid row back out).
func (s *Store) RevertToBlankRow(id string) *core.Diagnostic {
	t, ok := s.tasks[id]
	if !ok {
		return core.NewDiagnostic(core.KindInvalidRef, id, "", "revertToBlankRow targets a missing row", nil)
	}
	t.RowType = RowBlank
	t.Name = ""
	t.Dependencies = nil
	t.Duration = 0
	return nil
}

// PersistablePayload strips derived fields from a task, producing the
// wire shape used for TASK_CREATED payloads (including the backward
// half of a delete) and for PROJECT_IMPORTED's bulk task list.
func PersistablePayload(t Task) map[string]any {
	return map[string]any{
		"id":                 t.ID,
		"parent_id":          t.ParentID,
		"sort_key":           t.SortKey,
		"row_type":           string(t.RowType),
		"name":               t.Name,
		"notes":              t.Notes,
		"duration":           t.Duration,
		"constraint_type":    string(t.ConstraintType),
		"constraint_date":    t.ConstraintDate,
		"dependencies":       t.Dependencies,
		"scheduling_mode":    string(t.SchedulingMode),
		"progress":           t.Progress,
		"trade_partner_ids":  t.TradePartnerIDs,
		"baseline_start":     t.BaselineStart,
		"baseline_finish":    t.BaselineFinish,
		"baseline_duration":  t.BaselineDuration,
		"actual_start":       t.ActualStart,
		"actual_finish":      t.ActualFinish,
		"remaining_duration": t.RemainingDuration,
		"collapsed":          t.Collapsed,
	}
}
