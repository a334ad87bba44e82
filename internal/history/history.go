// Package history implements bounded undo/redo stacks of paired
// forward/backward events: the C6 component. Every mutation the
// taskmodel Store performs is recorded here as an UndoableAction before
// it is forwarded to the event log; undo and redo replay those events
// straight through the Store's deterministic applier rather than
// re-validating them, so an undone mutation never re-triggers history
// recording or re-runs the checks the original call already passed.
package history

import "scheduling-core/internal/events"

// UndoableAction groups every event pair a single logical operation
// produced. A simple field update is one pair; a cascading delete or a
// multi-field update is several pairs flattened into one action so a
// single undo reverses the whole thing atomically.
type UndoableAction struct {
	Label string
	Pairs []events.Pair
}

// Manager owns the bounded undo/redo stacks and the in-progress
// composite (if any). It is not safe for concurrent use; the
// SchedulingCoordinator's serial mutation queue is what makes that safe
// in practice.
type Manager struct {
	maxDepth int
	undo     []UndoableAction
	redo     []UndoableAction

	composite      *UndoableAction
	compositeDepth int
}

// NewManager returns a Manager with the given bounded stack depth. A
// depth of 0 or less means unbounded.
func NewManager(maxDepth int) *Manager {
	return &Manager{maxDepth: maxDepth}
}

// BeginComposite opens a composite action; every RecordAction call
// until the matching EndComposite collects into one UndoableAction
// instead of pushing separately. Nested BeginComposite/EndComposite
// calls flatten into the outermost composite — only the first Begin
// actually opens one, and only the last End closes it.
func (m *Manager) BeginComposite(label string) {
	m.compositeDepth++
	if m.composite != nil {
		return
	}
	m.composite = &UndoableAction{Label: label}
}

// EndComposite closes the outermost composite, pushing it onto the undo
// stack (if it collected any pairs) and clearing the redo stack. Calling
// EndComposite without a matching BeginComposite is a no-op.
func (m *Manager) EndComposite() {
	if m.compositeDepth == 0 {
		return
	}
	m.compositeDepth--
	if m.compositeDepth > 0 {
		return
	}
	action := m.composite
	m.composite = nil
	if action == nil || len(action.Pairs) == 0 {
		return
	}
	m.pushUndo(*action)
	m.redo = nil
}

// RecordAction pushes one forward/backward pair as its own action (or
// into the currently open composite), clearing the redo stack. This is
// the entry point used for a single TaskModel mutation call that is not
// wrapped in an explicit composite.
func (m *Manager) RecordAction(forward, backward events.Event, label string) {
	pair := events.Pair{Forward: forward, Backward: backward}
	if m.composite != nil {
		m.composite.Pairs = append(m.composite.Pairs, pair)
		return
	}
	m.pushUndo(UndoableAction{Label: label, Pairs: []events.Pair{pair}})
	m.redo = nil
}

// RecordPairs pushes a pre-built slice of pairs as a single action (or
// into the open composite), used by multi-field updates and cascading
// deletes that taskmodel already returns as one ordered slice.
func (m *Manager) RecordPairs(pairs []events.Pair, label string) {
	if len(pairs) == 0 {
		return
	}
	if m.composite != nil {
		m.composite.Pairs = append(m.composite.Pairs, pairs...)
		return
	}
	m.pushUndo(UndoableAction{Label: label, Pairs: append([]events.Pair(nil), pairs...)})
	m.redo = nil
}

func (m *Manager) pushUndo(action UndoableAction) {
	m.undo = append(m.undo, action)
	if m.maxDepth > 0 && len(m.undo) > m.maxDepth {
		m.undo = m.undo[len(m.undo)-m.maxDepth:]
	}
}

// Undo pops the most recent action and returns its backward events in
// reverse pair order — the order a composite's later sub-mutations must
// be unwound before its earlier ones. The popped action moves to the
// redo stack. ok is false if there is nothing to undo.
func (m *Manager) Undo() (out []events.Event, ok bool) {
	if len(m.undo) == 0 {
		return nil, false
	}
	action := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]

	out = make([]events.Event, 0, len(action.Pairs))
	for i := len(action.Pairs) - 1; i >= 0; i-- {
		out = append(out, action.Pairs[i].Backward)
	}
	m.redo = append(m.redo, action)
	if m.maxDepth > 0 && len(m.redo) > m.maxDepth {
		m.redo = m.redo[len(m.redo)-m.maxDepth:]
	}
	return out, true
}

// Redo pops the most recently undone action and returns its forward
// events in original order, moving the action back onto the undo stack.
func (m *Manager) Redo() (out []events.Event, ok bool) {
	if len(m.redo) == 0 {
		return nil, false
	}
	action := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]

	out = make([]events.Event, 0, len(action.Pairs))
	for _, p := range action.Pairs {
		out = append(out, p.Forward)
	}
	m.pushUndo(action)
	return out, true
}

// CanUndo and CanRedo report whether the respective stack is non-empty,
// for UI affordances (grey out the menu item, etc).
func (m *Manager) CanUndo() bool { return len(m.undo) > 0 }
func (m *Manager) CanRedo() bool { return len(m.redo) > 0 }

// UndoDepth and RedoDepth report how many actions are currently stacked.
func (m *Manager) UndoDepth() int { return len(m.undo) }
func (m *Manager) RedoDepth() int { return len(m.redo) }
