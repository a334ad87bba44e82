package history

import (
	"testing"
	"time"

	"scheduling-core/internal/events"
)

func fieldPair(id, field string, old, new any) events.Pair {
	now := time.Now()
	return events.Pair{
		Forward:  events.New(events.TaskUpdated, id, events.FieldUpdatePayload(field, old, new), now),
		Backward: events.New(events.TaskUpdated, id, events.FieldUpdatePayload(field, new, old), now),
	}
}

func TestRecordAction_UndoReturnsBackwardEvent(t *testing.T) {
	m := NewManager(50)
	pair := fieldPair("t1", "duration", 3, 5)
	m.RecordAction(pair.Forward, pair.Backward, "update duration")

	out, ok := m.Undo()
	if !ok {
		t.Fatal("Undo() ok = false, want true")
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0].Payload["new_value"] != 3 {
		t.Fatalf("undo event new_value = %v, want 3 (the old value)", out[0].Payload["new_value"])
	}
	if m.CanUndo() {
		t.Fatal("CanUndo() = true after the only action was undone")
	}
}

func TestUndo_ThenRedo_RestoresForwardEvent(t *testing.T) {
	m := NewManager(50)
	pair := fieldPair("t1", "name", "A", "B")
	m.RecordAction(pair.Forward, pair.Backward, "rename")

	if _, ok := m.Undo(); !ok {
		t.Fatal("Undo() ok = false")
	}
	redone, ok := m.Redo()
	if !ok {
		t.Fatal("Redo() ok = false, want true")
	}
	if len(redone) != 1 || redone[0].Payload["new_value"] != "B" {
		t.Fatalf("redo event = %+v, want new_value=B", redone)
	}
	if !m.CanUndo() {
		t.Fatal("CanUndo() = false after redo, want true")
	}
}

func TestRecordAction_ClearsRedoStack(t *testing.T) {
	m := NewManager(50)
	p1 := fieldPair("t1", "duration", 1, 2)
	m.RecordAction(p1.Forward, p1.Backward, "a")
	m.Undo()
	if !m.CanRedo() {
		t.Fatal("CanRedo() = false after undo, want true")
	}

	p2 := fieldPair("t1", "duration", 2, 4)
	m.RecordAction(p2.Forward, p2.Backward, "b")
	if m.CanRedo() {
		t.Fatal("CanRedo() = true after a new action was recorded, want false")
	}
}

func TestComposite_CollectsPairsIntoOneAction(t *testing.T) {
	m := NewManager(50)
	m.BeginComposite("delete with cascade")
	p1 := fieldPair("child1", "name", "X", "")
	p2 := fieldPair("parent", "duration", 3, 3)
	m.RecordAction(p1.Forward, p1.Backward, "")
	m.RecordAction(p2.Forward, p2.Backward, "")
	m.EndComposite()

	if m.UndoDepth() != 1 {
		t.Fatalf("UndoDepth() = %d, want 1 (composite collapses to one action)", m.UndoDepth())
	}

	out, ok := m.Undo()
	if !ok || len(out) != 2 {
		t.Fatalf("Undo() = %v, %v; want 2 events", out, ok)
	}
	// Reverse pair order: the second recorded pair's backward comes first.
	if out[0].TargetID != "parent" || out[1].TargetID != "child1" {
		t.Fatalf("undo order = [%s, %s], want [parent, child1]", out[0].TargetID, out[1].TargetID)
	}
}

func TestComposite_NestedFlattensIntoOutermost(t *testing.T) {
	m := NewManager(50)
	m.BeginComposite("outer")
	m.BeginComposite("inner")
	p := fieldPair("t1", "duration", 1, 2)
	m.RecordAction(p.Forward, p.Backward, "")
	m.EndComposite() // closes inner only (nested)
	if m.UndoDepth() != 0 {
		t.Fatalf("UndoDepth() = %d after closing nested composite, want 0 (outer still open)", m.UndoDepth())
	}
	m.EndComposite() // closes outer
	if m.UndoDepth() != 1 {
		t.Fatalf("UndoDepth() = %d after closing outer composite, want 1", m.UndoDepth())
	}
}

func TestEmptyComposite_PushesNothing(t *testing.T) {
	m := NewManager(50)
	m.BeginComposite("noop")
	m.EndComposite()
	if m.UndoDepth() != 0 {
		t.Fatalf("UndoDepth() = %d, want 0 for a composite with no recorded pairs", m.UndoDepth())
	}
}

func TestUndo_StackDepthIsBounded(t *testing.T) {
	m := NewManager(2)
	for i := 0; i < 5; i++ {
		p := fieldPair("t1", "duration", i, i+1)
		m.RecordAction(p.Forward, p.Backward, "")
	}
	if m.UndoDepth() != 2 {
		t.Fatalf("UndoDepth() = %d, want 2 (bounded)", m.UndoDepth())
	}
}

func TestUndo_EmptyStackReturnsFalse(t *testing.T) {
	m := NewManager(50)
	if _, ok := m.Undo(); ok {
		t.Fatal("Undo() ok = true on an empty stack, want false")
	}
}

func TestRecordPairs_GroupsAsOneAction(t *testing.T) {
	m := NewManager(50)
	p1 := fieldPair("t1", "name", "A", "")
	p2 := fieldPair("t2", "name", "B", "")
	m.RecordPairs([]events.Pair{p1, p2}, "cascade delete")
	if m.UndoDepth() != 1 {
		t.Fatalf("UndoDepth() = %d, want 1", m.UndoDepth())
	}
	out, ok := m.Undo()
	if !ok || len(out) != 2 {
		t.Fatalf("Undo() = %v, %v; want 2 events", out, ok)
	}
}
