package core

import (
	"fmt"
	"strings"
)

// ConfigError represents an error that occurred loading or validating Config.
type ConfigError struct {
	File    string
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in %s, field '%s': %s", e.File, e.Field, e.Message)
	}
	return fmt.Sprintf("config error in %s: %s", e.File, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new configuration error.
func NewConfigError(file, field, message string, err error) *ConfigError {
	return &ConfigError{File: file, Field: field, Message: message, Err: err}
}

// DiagnosticKind enumerates the §7 error kinds. Diagnostics are values,
// never control-flow interrupts: callers receive a result discriminated
// by Kind rather than a panic or a bare error string.
type DiagnosticKind int

const (
	// KindNone indicates no error occurred.
	KindNone DiagnosticKind = iota
	// KindInvalidRef: update/delete/move targets a missing id.
	KindInvalidRef
	// KindCycleRejected: move or dependency would create a cycle.
	KindCycleRejected
	// KindDerivedFieldWrite: update named a derived field (ignored, not fatal).
	KindDerivedFieldWrite
	// KindConstraintInfeasible: constraints force negative float (accepted).
	KindConstraintInfeasible
	// KindCPMDiverged: forward or backward pass hit the iteration cap.
	KindCPMDiverged
	// KindPersistenceBusy: DB lock persisted past the retry budget.
	KindPersistenceBusy
	// KindPersistenceFatal: DB closed or corrupt; writer has stopped.
	KindPersistenceFatal
	// KindReplayUnknownEvent: an unknown event type was skipped during replay.
	KindReplayUnknownEvent
)

func (k DiagnosticKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidRef:
		return "invalid_ref"
	case KindCycleRejected:
		return "cycle_rejected"
	case KindDerivedFieldWrite:
		return "derived_field_write"
	case KindConstraintInfeasible:
		return "constraint_infeasible"
	case KindCPMDiverged:
		return "cpm_diverged"
	case KindPersistenceBusy:
		return "persistence_busy"
	case KindPersistenceFatal:
		return "persistence_fatal"
	case KindReplayUnknownEvent:
		return "replay_unknown_event"
	default:
		return "unknown"
	}
}

// Diagnostic is the result-discriminated-union error value every
// mutating operation returns instead of raising a control-flow exception.
type Diagnostic struct {
	Kind    DiagnosticKind
	TaskID  string
	Field   string
	Message string
	Err     error
}

func (d *Diagnostic) Error() string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(d.Kind.String())
	if d.TaskID != "" {
		fmt.Fprintf(&b, " task=%s", d.TaskID)
	}
	if d.Field != "" {
		fmt.Fprintf(&b, " field=%s", d.Field)
	}
	if d.Message != "" {
		fmt.Fprintf(&b, ": %s", d.Message)
	}
	return b.String()
}

func (d *Diagnostic) Unwrap() error { return d.Err }

// NewDiagnostic builds a Diagnostic of the given kind.
func NewDiagnostic(kind DiagnosticKind, taskID, field, message string, err error) *Diagnostic {
	return &Diagnostic{Kind: kind, TaskID: taskID, Field: field, Message: message, Err: err}
}

// Diagnostics aggregates non-fatal diagnostics raised across a batch of
// operations (e.g. every dropped ghost link during a cascading delete,
// every unknown field skipped during an update).
type Diagnostics struct {
	items []*Diagnostic
}

// NewDiagnostics creates an empty aggregator.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{items: make([]*Diagnostic, 0)}
}

// Add records a diagnostic, ignoring nil.
func (d *Diagnostics) Add(diag *Diagnostic) {
	if diag != nil {
		d.items = append(d.items, diag)
	}
}

// HasAny reports whether any diagnostic was recorded.
func (d *Diagnostics) HasAny() bool { return len(d.items) > 0 }

// Items returns the recorded diagnostics in recording order.
func (d *Diagnostics) Items() []*Diagnostic { return d.items }

// Summary renders every recorded diagnostic, one per line.
func (d *Diagnostics) Summary() string {
	if len(d.items) == 0 {
		return "no diagnostics"
	}
	var b strings.Builder
	for i, item := range d.items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item.Error())
	}
	return strings.TrimRight(b.String(), "\n")
}
