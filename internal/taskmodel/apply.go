package taskmodel

import (
	"scheduling-core/internal/core"
	"scheduling-core/internal/events"
)

// Apply replays a single event directly against the store, bypassing
// validation (the event was already validated, or is trusted input from
// a snapshot/undo source). This is the deterministic applier used by
// EventLog recovery and by the Coordinator when it replays
// HistoryManager's undo/redo events. It must handle every type in
// events.Type and be idempotent on TaskCreated (replace semantics), per
// §4.5.
func (s *Store) Apply(e events.Event) *core.Diagnostic {
	switch e.Type {
	case events.TaskCreated:
		t := taskFromPersistablePayload(e.TargetID, e.Payload)
		stored := t.Clone()
		s.tasks[t.ID] = &stored
		return nil

	case events.TaskUpdated:
		field, _ := e.Payload["field"].(string)
		newValue := e.Payload["new_value"]
		return s.applyFieldUpdate(e.TargetID, field, newValue)

	case events.TaskDeleted:
		delete(s.tasks, e.TargetID)
		return nil

	case events.TaskMoved:
		t, ok := s.tasks[e.TargetID]
		if !ok {
			return core.NewDiagnostic(core.KindInvalidRef, e.TargetID, "", "replay: move targets a missing task", nil)
		}
		if parentID, ok := e.Payload["parent_id"].(string); ok {
			t.ParentID = parentID
		}
		if sortKey, ok := e.Payload["sort_key"].(string); ok {
			t.SortKey = sortKey
		}
		return nil

	case events.CalendarUpdated:
		// Materialized by the Coordinator calling SetCalendar directly;
		// the applier still consumes the event so replay order is
		// preserved, but the Calendar payload shape is owned by the
		// coordinator/eventlog boundary, not by this package.
		return nil

	case events.TradePartnerCreated, events.TradePartnerUpdated:
		p := tradePartnerFromPayload(e.TargetID, e.Payload)
		s.tradePartners[p.ID] = &p
		return nil

	case events.TradePartnerDeleted:
		delete(s.tradePartners, e.TargetID)
		return nil

	case events.TaskTradePartnerAssigned:
		partnerID, _ := e.Payload["trade_partner_id"].(string)
		return s.applyFieldUpdate(e.TargetID, "tradePartnerIds", appendUnique(s.tasks[e.TargetID], partnerID))

	case events.TaskTradePartnerUnassign:
		partnerID, _ := e.Payload["trade_partner_id"].(string)
		return s.applyFieldUpdate(e.TargetID, "tradePartnerIds", removeOne(s.tasks[e.TargetID], partnerID))

	case events.BaselineSet, events.BaselineCleared:
		// Audit markers. The actual baseline_* values travel as the
		// TASK_UPDATED field events the coordinator records alongside
		// them, so the markers themselves change nothing on replay.
		return nil

	case events.ProjectImported:
		tasks := make([]Task, 0)
		if raw, ok := e.Payload["tasks"].([]any); ok {
			for _, item := range raw {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				id, _ := m["id"].(string)
				tasks = append(tasks, taskFromPersistablePayload(id, m))
			}
		}
		s.SetAll(tasks)
		partners := make([]TradePartner, 0)
		if raw, ok := e.Payload["trade_partners"].([]any); ok {
			for _, item := range raw {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				id, _ := m["id"].(string)
				partners = append(partners, tradePartnerFromPayload(id, m))
			}
		}
		s.ReplaceTradePartners(partners)
		// The payload's calendar half is applied by the caller (the
		// coordinator or the eventlog recovery loop), which owns the
		// working_days/exceptions wire shape.
		return nil

	case events.ProjectCleared:
		s.SetAll(nil)
		s.ReplaceTradePartners(nil)
		return nil

	case events.BulkUpdate, events.BulkDelete:
		// Recorded for audit/history; the per-task events that
		// accompanied them at authoring time carry the actual changes.
		return nil

	default:
		s.log.Debug("taskmodel: replay skipped unknown event type %q", e.Type)
		return core.NewDiagnostic(core.KindReplayUnknownEvent, e.TargetID, "", "unknown event type "+string(e.Type), nil)
	}
}

func (s *Store) applyFieldUpdate(targetID, field string, newValue any) *core.Diagnostic {
	t, ok := s.tasks[targetID]
	if !ok {
		return core.NewDiagnostic(core.KindInvalidRef, targetID, field, "replay: update targets a missing task", nil)
	}
	camel := camelFieldName(field)
	if IsDerivedField(camel) {
		return core.NewDiagnostic(core.KindDerivedFieldWrite, targetID, field, "replay: derived field ignored", nil)
	}
	coerced, ok := coerceFieldValue(camel, newValue)
	if !ok {
		return nil
	}
	setField(t, camel, coerced)
	return nil
}

var camelFromSnake = func() map[string]string {
	m := make(map[string]string, len(snakeCase))
	for camel, snake := range snakeCase {
		m[snake] = camel
	}
	return m
}()

func camelFieldName(field string) string {
	if c, ok := camelFromSnake[field]; ok {
		return c
	}
	return field
}

// coerceFieldValue re-types a raw event payload value (as it would
// arrive off the wire, out of SQLite, or from a caller passing plain
// primitives) into the Go type setField expects. Values authored
// in-process with the right type pass through unchanged.
func coerceFieldValue(camel string, v any) (any, bool) {
	switch camel {
	case "constraintType":
		if s, ok := v.(string); ok {
			return ConstraintType(s), true
		}
	case "schedulingMode":
		if s, ok := v.(string); ok {
			return SchedulingMode(s), true
		}
	case "rowType":
		if s, ok := v.(string); ok {
			return RowType(s), true
		}
	case "dependencies":
		return dependenciesFromAny(v), true
	case "tradePartnerIds":
		return stringsFromAny(v), true
	case "duration", "progress", "baselineDuration", "remainingDuration":
		switch n := v.(type) {
		case int64:
			return int(n), true
		case float64:
			return int(n), true
		}
	}
	return v, true
}

// dependenciesFromAny accepts either an in-process []Dependency or the
// []any of map[string]any shape json.Unmarshal produces for the same
// wire data.
func dependenciesFromAny(v any) []Dependency {
	switch deps := v.(type) {
	case []Dependency:
		return deps
	case []any:
		out := make([]Dependency, 0, len(deps))
		for _, item := range deps {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			// Older builds serialized dependencies with Go field names;
			// accept both spellings so their databases still load.
			predID, ok := m["predecessor_id"].(string)
			if !ok {
				predID, _ = m["PredecessorID"].(string)
			}
			linkType, ok := m["link_type"].(string)
			if !ok {
				linkType, _ = m["LinkType"].(string)
			}
			lagRaw, ok := m["lag"]
			if !ok {
				lagRaw = m["Lag"]
			}
			lag := 0
			switch n := lagRaw.(type) {
			case int:
				lag = n
			case int64:
				lag = int(n)
			case float64:
				lag = int(n)
			}
			out = append(out, Dependency{PredecessorID: predID, LinkType: LinkType(linkType), Lag: lag})
		}
		return out
	case nil:
		return nil
	}
	return nil
}

// stringsFromAny accepts either []string or the []any shape
// json.Unmarshal produces for a JSON string array.
func stringsFromAny(v any) []string {
	switch ids := v.(type) {
	case []string:
		return ids
	case []any:
		out := make([]string, 0, len(ids))
		for _, item := range ids {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func appendUnique(t *Task, id string) []string {
	if t == nil || id == "" {
		return nil
	}
	for _, existing := range t.TradePartnerIDs {
		if existing == id {
			return t.TradePartnerIDs
		}
	}
	return append(append([]string(nil), t.TradePartnerIDs...), id)
}

func removeOne(t *Task, id string) []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.TradePartnerIDs))
	for _, existing := range t.TradePartnerIDs {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func taskFromPersistablePayload(id string, payload map[string]any) Task {
	t := Task{ID: id, ConstraintType: ConstraintASAP, SchedulingMode: ModeAuto, RowType: RowTask}
	str := func(k string) string { s, _ := payload[k].(string); return s }
	i := func(k string) int {
		switch v := payload[k].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return 0
	}
	t.ParentID = str("parent_id")
	if v := str("sort_key"); v != "" {
		t.SortKey = v
	}
	if v, ok := payload["row_type"].(string); ok && v != "" {
		t.RowType = RowType(v)
	}
	t.Name = str("name")
	t.Notes = str("notes")
	t.Duration = i("duration")
	if v, ok := payload["constraint_type"].(string); ok && v != "" {
		t.ConstraintType = ConstraintType(v)
	}
	t.ConstraintDate = str("constraint_date")
	t.Dependencies = dependenciesFromAny(payload["dependencies"])
	if v, ok := payload["scheduling_mode"].(string); ok && v != "" {
		t.SchedulingMode = SchedulingMode(v)
	}
	t.Progress = i("progress")
	t.TradePartnerIDs = stringsFromAny(payload["trade_partner_ids"])
	t.BaselineStart = str("baseline_start")
	t.BaselineFinish = str("baseline_finish")
	t.BaselineDuration = i("baseline_duration")
	t.ActualStart = str("actual_start")
	t.ActualFinish = str("actual_finish")
	t.RemainingDuration = i("remaining_duration")
	if v, ok := payload["collapsed"].(bool); ok {
		t.Collapsed = v
	}
	return t
}

func tradePartnerFromPayload(id string, payload map[string]any) TradePartner {
	str := func(k string) string { s, _ := payload[k].(string); return s }
	return TradePartner{
		ID:      id,
		Name:    str("name"),
		Contact: str("contact"),
		Phone:   str("phone"),
		Email:   str("email"),
		Color:   str("color"),
		Notes:   str("notes"),
	}
}
