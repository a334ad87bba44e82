package coordinator

import (
	"scheduling-core/internal/core"
	"scheduling-core/internal/ordering"
)

// PositionMode selects where AddTask inserts a new row among its
// siblings, per §4.7's addTask position shape.
type PositionMode int

const (
	// PositionAppend inserts as the last root-level task.
	PositionAppend PositionMode = iota
	// PositionPrepend inserts as the first root-level task.
	PositionPrepend
	// PositionAfter inserts as the next sibling after RefID, under
	// RefID's own parent.
	PositionAfter
	// PositionChildOf inserts as the last child of RefID ("" for root).
	PositionChildOf
)

// Position locates where a new task lands; RefID is read for
// PositionAfter (a sibling id) and PositionChildOf (a parent id, "" for
// a root-level child).
type Position struct {
	Mode  PositionMode
	RefID string
}

// AnchorMode selects where MoveTask relocates an existing row among its
// new siblings, per §4.7's moveTask anchor shape.
type AnchorMode int

const (
	// AnchorBefore inserts immediately before RefID.
	AnchorBefore AnchorMode = iota
	// AnchorAfter inserts immediately after RefID.
	AnchorAfter
	// AnchorChildEnd inserts as the last child of the new parent; RefID
	// is ignored.
	AnchorChildEnd
)

// Anchor locates where a moved task lands among its new siblings.
type Anchor struct {
	Mode  AnchorMode
	RefID string
}

// resolvePosition computes the (parentID, sortKey) pair AddTask should
// use for position, validating that any referenced task exists.
func (c *Coordinator) resolvePosition(pos Position) (parentID, sortKey string, diag *core.Diagnostic) {
	switch pos.Mode {
	case PositionPrepend:
		return "", ordering.Prepend(c.store.GetFirstSortKey("")), nil

	case PositionAfter:
		ref := c.store.GetByID(pos.RefID)
		if ref == nil {
			return "", "", core.NewDiagnostic(core.KindInvalidRef, pos.RefID, "", "addTask position references a missing task", nil)
		}
		siblings := c.store.GetChildren(ref.ParentID)
		right := ""
		for i, s := range siblings {
			if s.ID == ref.ID && i+1 < len(siblings) {
				right = siblings[i+1].SortKey
				break
			}
		}
		return ref.ParentID, ordering.Between(ref.SortKey, right), nil

	case PositionChildOf:
		if pos.RefID != "" && c.store.GetByID(pos.RefID) == nil {
			return "", "", core.NewDiagnostic(core.KindInvalidRef, pos.RefID, "", "addTask position references a missing parent", nil)
		}
		return pos.RefID, ordering.Append(c.store.GetLastSortKey(pos.RefID)), nil

	default: // PositionAppend
		return "", ordering.Append(c.store.GetLastSortKey("")), nil
	}
}

// resolveAnchor computes the sortKey MoveTask/Indent/Outdent should use
// to land movingID among newParentID's other children (movingID itself
// is excluded from the sibling list it is being positioned within, so
// reordering within the same parent works).
func (c *Coordinator) resolveAnchor(newParentID string, anchor Anchor, movingID string) (string, *core.Diagnostic) {
	all := c.store.GetChildren(newParentID)
	siblings := all[:0]
	for _, s := range all {
		if s.ID != movingID {
			siblings = append(siblings, s)
		}
	}

	switch anchor.Mode {
	case AnchorChildEnd:
		last := ""
		if len(siblings) > 0 {
			last = siblings[len(siblings)-1].SortKey
		}
		return ordering.Append(last), nil

	case AnchorBefore, AnchorAfter:
		idx := -1
		for i, s := range siblings {
			if s.ID == anchor.RefID {
				idx = i
				break
			}
		}
		if idx == -1 {
			return "", core.NewDiagnostic(core.KindInvalidRef, anchor.RefID, "", "move anchor references a missing sibling", nil)
		}
		if anchor.Mode == AnchorBefore {
			left := ""
			if idx > 0 {
				left = siblings[idx-1].SortKey
			}
			return ordering.Between(left, siblings[idx].SortKey), nil
		}
		right := ""
		if idx+1 < len(siblings) {
			right = siblings[idx+1].SortKey
		}
		return ordering.Between(siblings[idx].SortKey, right), nil

	default:
		return "", core.NewDiagnostic(core.KindInvalidRef, "", "", "unknown anchor mode", nil)
	}
}
