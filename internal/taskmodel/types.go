// Package taskmodel is the process-local store of tasks, calendar, and
// trade partners: the C3 component. It owns the canonical in-memory
// representation every other component reads from or mutates through,
// and is the only place that knows how to translate a field-level
// update into a paired forward/backward event.
package taskmodel

import "encoding/json"

// RowType distinguishes schedulable rows from structural placeholders.
type RowType string

const (
	RowTask    RowType = "task"
	RowBlank   RowType = "blank"
	RowPhantom RowType = "phantom"
)

// ConstraintType is one of the six date constraints the CPM engine honors.
type ConstraintType string

const (
	ConstraintASAP ConstraintType = "asap"
	ConstraintSNET ConstraintType = "snet"
	ConstraintSNLT ConstraintType = "snlt"
	ConstraintFNET ConstraintType = "fnet"
	ConstraintFNLT ConstraintType = "fnlt"
	ConstraintMFO  ConstraintType = "mfo"
)

// SchedulingMode toggles whether the CPM forward pass is allowed to
// rewrite a task's start/end.
type SchedulingMode string

const (
	ModeAuto   SchedulingMode = "auto"
	ModeManual SchedulingMode = "manual"
)

// LinkType is one of the four dependency relationships.
type LinkType string

const (
	LinkFS LinkType = "FS"
	LinkSS LinkType = "SS"
	LinkFF LinkType = "FF"
	LinkSF LinkType = "SF"
)

// Health is a derived, at-a-glance rollup of a task's schedule risk,
// supplementing the raw totalFloat number for UI consumption.
type Health string

const (
	HealthOK       Health = "ok"
	HealthAtRisk   Health = "atRisk"
	HealthBlocked  Health = "blocked"
)

// Dependency is one predecessor relationship, stored as an ordered list
// on the successor task.
type Dependency struct {
	PredecessorID string   `json:"predecessor_id"`
	LinkType      LinkType `json:"link_type"`
	Lag           int      `json:"lag"`
}

// UnmarshalJSON accepts both the snake_case wire form and the Go field
// names older builds serialized before the wire form was tagged, so
// their databases and snapshots still load.
func (d *Dependency) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pick := func(keys ...string) json.RawMessage {
		for _, k := range keys {
			if v, ok := raw[k]; ok {
				return v
			}
		}
		return nil
	}
	if v := pick("predecessor_id", "PredecessorID"); v != nil {
		if err := json.Unmarshal(v, &d.PredecessorID); err != nil {
			return err
		}
	}
	if v := pick("link_type", "LinkType"); v != nil {
		if err := json.Unmarshal(v, &d.LinkType); err != nil {
			return err
		}
	}
	if v := pick("lag", "Lag"); v != nil {
		if err := json.Unmarshal(v, &d.Lag); err != nil {
			return err
		}
	}
	return nil
}

// Task is the full entity: identity, structure, inputs, baseline,
// actuals, and derived fields. Derived fields are never persisted and
// never appear in an event payload; see PersistablePayload.
type Task struct {
	ID       string
	ParentID string // "" means root
	SortKey  string
	RowType  RowType

	Name           string
	Notes          string
	Duration       int
	ConstraintType ConstraintType
	ConstraintDate string // ISO date or ""
	Dependencies   []Dependency
	SchedulingMode SchedulingMode
	Progress       int
	TradePartnerIDs []string

	BaselineStart    string
	BaselineFinish   string
	BaselineDuration int

	ActualStart       string
	ActualFinish      string
	RemainingDuration int

	Collapsed bool

	// Derived, recomputed by the CPM engine on every calculate() call.
	// Never an input to a mutation, never written to an event payload.
	Start           string
	End             string
	LateStart       string
	LateFinish      string
	TotalFloat      int
	FreeFloat       int
	IsCritical      bool
	Health          Health
	VisualRowNumber int
}

// Clone deep-copies a Task so callers can hold a reference without
// aliasing the store's internal state.
func (t Task) Clone() Task {
	clone := t
	if t.Dependencies != nil {
		clone.Dependencies = append([]Dependency(nil), t.Dependencies...)
	}
	if t.TradePartnerIDs != nil {
		clone.TradePartnerIDs = append([]string(nil), t.TradePartnerIDs...)
	}
	return clone
}

// TradePartner is a subcontractor/resource a task can be assigned to.
type TradePartner struct {
	ID      string
	Name    string
	Contact string
	Phone   string
	Email   string
	Color   string
	Notes   string
}

// derivedFields lists the Task field names that are computed, never
// accepted as mutation input, per invariant 6.
var derivedFields = map[string]bool{
	"start":           true,
	"end":             true,
	"lateStart":       true,
	"lateFinish":      true,
	"totalFloat":      true,
	"freeFloat":       true,
	"isCritical":      true,
	"health":          true,
	"visualRowNumber": true,
}

// IsDerivedField reports whether name (camelCase) is a derived field.
func IsDerivedField(name string) bool { return derivedFields[name] }

// KnownFields lists the mutable (non-derived) Task fields, used to build
// suggestions for unknown field names on update.
var KnownFields = []string{
	"name", "notes", "duration", "constraintType", "constraintDate",
	"dependencies", "schedulingMode", "progress", "tradePartnerIds",
	"baselineStart", "baselineFinish", "baselineDuration",
	"actualStart", "actualFinish", "remainingDuration", "collapsed",
	"parentId", "sortKey", "rowType",
}
