package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"

	"scheduling-core/internal/events"
	"scheduling-core/internal/taskmodel"
)

// encodeColumnValue converts a Go-typed event payload value into the
// SQLite-storable form for column: booleans as 0/1, slices as JSON.
func encodeColumnValue(field string, v any) (any, error) {
	switch field {
	case "collapsed":
		b, _ := v.(bool)
		if b {
			return 1, nil
		}
		return 0, nil
	case "dependencies":
		deps, _ := v.([]taskmodel.Dependency)
		b, err := json.Marshal(deps)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case "trade_partner_ids":
		ids, _ := v.([]string)
		if ids == nil {
			ids = []string{}
		}
		b, err := json.Marshal(ids)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return v, nil
	}
}

// materializeTaskUpsert handles TASK_CREATED: insert, or replace in
// place on a duplicate id (REPLACE semantics per §4.5's idempotence
// requirement for snapshot+replay equivalence).
func materializeTaskUpsert(ctx context.Context, ex execer, e events.Event) error {
	deps, _ := e.Payload["dependencies"].([]taskmodel.Dependency)
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return err
	}
	partnerIDs, _ := e.Payload["trade_partner_ids"].([]string)
	if partnerIDs == nil {
		partnerIDs = []string{}
	}
	partnersJSON, err := json.Marshal(partnerIDs)
	if err != nil {
		return err
	}

	collapsed := 0
	if b, _ := e.Payload["collapsed"].(bool); b {
		collapsed = 1
	}

	str := func(k string) string { s, _ := e.Payload[k].(string); return s }
	num := func(k string) int { n, _ := e.Payload[k].(int); return n }

	_, err = ex.ExecContext(ctx, `
		INSERT INTO tasks (
			id, parent_id, sort_key, row_type, name, notes, duration,
			constraint_type, constraint_date, dependencies, scheduling_mode,
			progress, trade_partner_ids, baseline_start, baseline_finish,
			baseline_duration, actual_start, actual_finish, remaining_duration,
			collapsed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			parent_id=excluded.parent_id, sort_key=excluded.sort_key,
			row_type=excluded.row_type, name=excluded.name, notes=excluded.notes,
			duration=excluded.duration, constraint_type=excluded.constraint_type,
			constraint_date=excluded.constraint_date, dependencies=excluded.dependencies,
			scheduling_mode=excluded.scheduling_mode, progress=excluded.progress,
			trade_partner_ids=excluded.trade_partner_ids,
			baseline_start=excluded.baseline_start, baseline_finish=excluded.baseline_finish,
			baseline_duration=excluded.baseline_duration, actual_start=excluded.actual_start,
			actual_finish=excluded.actual_finish, remaining_duration=excluded.remaining_duration,
			collapsed=excluded.collapsed`,
		e.TargetID, str("parent_id"), str("sort_key"), str("row_type"),
		str("name"), str("notes"), num("duration"),
		str("constraint_type"), str("constraint_date"), string(depsJSON), str("scheduling_mode"),
		num("progress"), string(partnersJSON), str("baseline_start"), str("baseline_finish"),
		num("baseline_duration"), str("actual_start"), str("actual_finish"), num("remaining_duration"),
		collapsed,
	)
	if err != nil {
		return err
	}
	return replaceTaskPartnerRows(ctx, ex, e.TargetID, partnerIDs)
}

func materializeCalendarUpdate(ctx context.Context, ex execer, e events.Event) error {
	workingDays, err := json.Marshal(e.Payload["working_days"])
	if err != nil {
		return err
	}
	exceptions, err := json.Marshal(e.Payload["exceptions"])
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO calendar (id, working_days, exceptions) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET working_days=excluded.working_days, exceptions=excluded.exceptions`,
		string(workingDays), string(exceptions))
	return err
}

// replaceTaskPartnerRows rewrites a task's junction rows to exactly ids,
// used whenever an event replaces the assignment list wholesale
// (TASK_CREATED restore, TASK_UPDATED on trade_partner_ids, import).
func replaceTaskPartnerRows(ctx context.Context, ex execer, taskID string, ids []string) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM task_trade_partners WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	for _, pid := range ids {
		if _, err := ex.ExecContext(ctx,
			`INSERT OR IGNORE INTO task_trade_partners (task_id, trade_partner_id) VALUES (?, ?)`,
			taskID, pid); err != nil {
			return err
		}
	}
	return nil
}

// syncTaskPartnerColumn keeps tasks.trade_partner_ids consistent with
// the task_trade_partners junction table on assign/unassign, so a
// snapshot read of the tasks table alone reconstructs the assignment
// list.
func syncTaskPartnerColumn(ctx context.Context, ex execer, taskID, partnerID string, add bool) error {
	var idsJSON string
	row := ex.QueryRowContext(ctx, `SELECT trade_partner_ids FROM tasks WHERE id = ?`, taskID)
	if err := row.Scan(&idsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	var ids []string
	_ = json.Unmarshal([]byte(idsJSON), &ids)

	out := make([]string, 0, len(ids)+1)
	present := false
	for _, id := range ids {
		if id == partnerID {
			present = true
			if !add {
				continue
			}
		}
		out = append(out, id)
	}
	if add && !present {
		out = append(out, partnerID)
	}

	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `UPDATE tasks SET trade_partner_ids = ? WHERE id = ?`, string(b), taskID)
	return err
}

// materializeProjectClear empties every project-scoped table. The
// calendar row survives: clearing a project does not reset working time.
func materializeProjectClear(ctx context.Context, ex execer) error {
	for _, stmt := range []string{
		`DELETE FROM tasks`,
		`DELETE FROM trade_partners`,
		`DELETE FROM task_trade_partners`,
	} {
		if _, err := ex.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// materializeProjectImport replaces the materialized project wholesale
// from a PROJECT_IMPORTED payload carrying the full persistable
// projection, so snapshot-plus-replay reconstructs an import exactly
// (invariant 7).
func materializeProjectImport(ctx context.Context, ex execer, e events.Event) error {
	if err := materializeProjectClear(ctx, ex); err != nil {
		return err
	}
	if rawTasks, ok := e.Payload["tasks"].([]any); ok {
		for _, item := range rawTasks {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			id, _ := m["id"].(string)
			pseudo := events.Event{Type: events.TaskCreated, TargetID: id, Payload: m}
			if err := materializeTaskUpsert(ctx, ex, pseudo); err != nil {
				return err
			}
		}
	}
	if rawPartners, ok := e.Payload["trade_partners"].([]any); ok {
		for _, item := range rawPartners {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			id, _ := m["id"].(string)
			pseudo := events.Event{Type: events.TradePartnerCreated, TargetID: id, Payload: m}
			if err := materializeTradePartnerUpsert(ctx, ex, pseudo); err != nil {
				return err
			}
		}
	}
	if _, ok := e.Payload["working_days"]; ok {
		return materializeCalendarUpdate(ctx, ex, e)
	}
	return nil
}

func materializeTradePartnerUpsert(ctx context.Context, ex execer, e events.Event) error {
	str := func(k string) string { s, _ := e.Payload[k].(string); return s }
	_, err := ex.ExecContext(ctx, `
		INSERT INTO trade_partners (id, name, contact, phone, email, color, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, contact=excluded.contact,
			phone=excluded.phone, email=excluded.email, color=excluded.color, notes=excluded.notes`,
		e.TargetID, str("name"), str("contact"), str("phone"), str("email"), str("color"), str("notes"))
	return err
}
