package taskmodel

import (
	"sort"
	"time"

	"scheduling-core/internal/calendar"
	"scheduling-core/internal/core"
)

// Store is the process-local entity store: tasks by id, the working-time
// calendar, and trade partners. It has no knowledge of persistence or
// undo; both are driven by the (forward, backward) event pairs its
// mutation methods return.
type Store struct {
	tasks         map[string]*Task
	calendar      calendar.Calendar
	tradePartners map[string]*TradePartner

	// replaying suppresses nothing in the store itself (TaskModel never
	// records history on its own); callers set it around event replay
	// (Coordinator undo/redo, eventlog recovery) and can read it back
	// through Replaying.
	replaying bool

	log *core.Logger
}

// NewStore builds an empty store with a default Monday-Friday calendar.
func NewStore(log *core.Logger) *Store {
	if log == nil {
		log = core.NewDefaultLogger()
	}
	return &Store{
		tasks: make(map[string]*Task),
		calendar: calendar.NewCalendar([]time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		}),
		tradePartners: make(map[string]*TradePartner),
		log:           log,
	}
}

// SetReplaying toggles the reentrancy flag that the Coordinator and
// eventlog recovery set while replaying events; the store does not
// consult it itself.
func (s *Store) SetReplaying(v bool) { s.replaying = v }

// Replaying reports the current reentrancy flag.
func (s *Store) Replaying() bool { return s.replaying }

// Calendar returns a copy of the current calendar.
func (s *Store) Calendar() calendar.Calendar {
	days := make(map[time.Weekday]bool, len(s.calendar.WorkingDays))
	for k, v := range s.calendar.WorkingDays {
		days[k] = v
	}
	excs := make(map[string]calendar.Exception, len(s.calendar.Exceptions))
	for k, v := range s.calendar.Exceptions {
		excs[k] = v
	}
	return calendar.Calendar{WorkingDays: days, Exceptions: excs}
}

// --- Queries -----------------------------------------------------------

// GetByID returns the task with id, or nil if absent.
func (s *Store) GetByID(id string) *Task {
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	clone := t.Clone()
	return &clone
}

// GetChildren returns parentID's direct children sorted by sortKey then
// id, the tie-break required by §4.2.
func (s *Store) GetChildren(parentID string) []Task {
	var children []Task
	for _, t := range s.tasks {
		if t.ParentID == parentID {
			children = append(children, t.Clone())
		}
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].SortKey != children[j].SortKey {
			return children[i].SortKey < children[j].SortKey
		}
		return children[i].ID < children[j].ID
	})
	return children
}

// IsParent reports whether id has any children.
func (s *Store) IsParent(id string) bool {
	for _, t := range s.tasks {
		if t.ParentID == id {
			return true
		}
	}
	return false
}

// GetDepth returns id's hierarchy depth (root tasks are depth 0).
func (s *Store) GetDepth(id string) int {
	depth := 0
	cur := s.tasks[id]
	for cur != nil && cur.ParentID != "" {
		parent, ok := s.tasks[cur.ParentID]
		if !ok {
			break
		}
		depth++
		cur = parent
	}
	return depth
}

// GetVisibleTasks performs a pre-order traversal from the roots,
// pruning any subtree whose root id reports collapsed via isCollapsed.
func (s *Store) GetVisibleTasks(isCollapsed func(id string) bool) []Task {
	var out []Task
	var walk func(parentID string)
	walk = func(parentID string) {
		for _, child := range s.GetChildren(parentID) {
			out = append(out, child)
			if isCollapsed != nil && isCollapsed(child.ID) {
				continue
			}
			walk(child.ID)
		}
	}
	walk("")
	return out
}

// GetFirstSortKey returns the smallest sortKey among parentID's children,
// or "" if it has none.
func (s *Store) GetFirstSortKey(parentID string) string {
	children := s.GetChildren(parentID)
	if len(children) == 0 {
		return ""
	}
	return children[0].SortKey
}

// GetLastSortKey returns the largest sortKey among parentID's children,
// or "" if it has none.
func (s *Store) GetLastSortKey(parentID string) string {
	children := s.GetChildren(parentID)
	if len(children) == 0 {
		return ""
	}
	return children[len(children)-1].SortKey
}

// GetSchedulableTasks returns every task the CPM engine should consider:
// blank and phantom rows are excluded per invariant 5.
func (s *Store) GetSchedulableTasks() []Task {
	var out []Task
	for _, t := range s.tasks {
		if t.RowType == RowBlank || t.RowType == RowPhantom {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApplyDerived writes only the derived fields of a CPMEngine result back
// onto the matching stored tasks: Start, End, LateStart, LateFinish,
// TotalFloat, FreeFloat, IsCritical, Health, VisualRowNumber. It never
// touches an input field and never emits an event, per invariant 6
// ("derived fields... are never inputs to any mutation or event").
func (s *Store) ApplyDerived(computed []Task) {
	for _, c := range computed {
		t, ok := s.tasks[c.ID]
		if !ok {
			continue
		}
		t.Start = c.Start
		t.End = c.End
		t.LateStart = c.LateStart
		t.LateFinish = c.LateFinish
		t.TotalFloat = c.TotalFloat
		t.FreeFloat = c.FreeFloat
		t.IsCritical = c.IsCritical
		t.Health = c.Health
		t.VisualRowNumber = c.VisualRowNumber
	}
}

// GetTradePartner returns the trade partner with id, or nil if absent.
func (s *Store) GetTradePartner(id string) *TradePartner {
	p, ok := s.tradePartners[id]
	if !ok {
		return nil
	}
	clone := *p
	return &clone
}

// ListTradePartners returns every trade partner, sorted by id.
func (s *Store) ListTradePartners() []TradePartner {
	out := make([]TradePartner, 0, len(s.tradePartners))
	for _, p := range s.tradePartners {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllTasks returns every task in the store, including blank/phantom rows,
// for persistable-projection and snapshot purposes.
func (s *Store) AllTasks() []Task {
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// wouldCycleParent reports whether setting child's parent to candidate
// would create a hierarchy cycle (candidate is child or a descendant of
// child).
func (s *Store) wouldCycleParent(childID, candidateParentID string) bool {
	if candidateParentID == "" {
		return false
	}
	cur := candidateParentID
	for cur != "" {
		if cur == childID {
			return true
		}
		parent, ok := s.tasks[cur]
		if !ok {
			break
		}
		cur = parent.ParentID
	}
	return false
}

// isDescendant reports whether candidateID is id or a descendant of id.
func (s *Store) isDescendant(id, candidateID string) bool {
	if id == candidateID {
		return true
	}
	for _, t := range s.tasks {
		if t.ParentID == id && s.isDescendant(t.ID, candidateID) {
			return true
		}
	}
	return false
}
