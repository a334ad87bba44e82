// Package cpm implements the Critical Path Method calculation: the
// forward pass, summary rollup, backward pass, and float/critical-path
// derivation described as C4. Calculate is a pure function — it never
// mutates its input tasks, always returning a fresh slice of tasks
// carrying derived fields plus summary Stats for the caller to log or
// surface.
package cpm

import (
	"time"

	"scheduling-core/internal/calendar"
	"scheduling-core/internal/taskmodel"
)

// Stats summarizes one calculate() run for logging/diagnostics.
type Stats struct {
	Duration      time.Duration
	TaskCount     int
	CriticalCount int
	Diverged      bool
	DivergedIDs   []string
}

// successorEdge is one entry in the successor index built in phase 1.
type successorEdge struct {
	successorID string
	linkType    taskmodel.LinkType
	lag         int
}

// node is the working-copy representation CPM mutates internally;
// tasks are never touched through taskmodel.Task pointers so the caller's
// copies stay untouched, satisfying "never mutates inputs observably".
type node struct {
	task       taskmodel.Task
	start      time.Time
	end        time.Time
	lateStart  time.Time
	lateFinish time.Time
	hasStart   bool
	hasEnd     bool
	hasLate    bool
}

// Calculate runs the five CPM phases over tasks using cal for all
// working-day arithmetic, and iterationCap as the convergence guard for
// the forward and backward passes (§4.4 phase 2 and phase 4).
// healthAtRiskThreshold sets the total float, in days, at or below which
// a non-critical task is reported "atRisk" rather than "ok" (a
// supplemental derived field beyond the base totalFloat number).
func Calculate(tasks []taskmodel.Task, cal calendar.Calendar, iterationCap int, healthAtRiskThreshold int, now time.Time) ([]taskmodel.Task, Stats) {
	began := time.Now()
	if iterationCap <= 0 {
		iterationCap = 50
	}

	if len(tasks) == 0 {
		return nil, Stats{Duration: time.Since(began), TaskCount: 0}
	}

	nodes := make(map[string]*node, len(tasks))
	for _, t := range tasks {
		n := &node{task: t.Clone()}
		// A manual-mode task already carrying a start/end from a prior
		// calculate() run is an anchor: forwardPass must never rewrite
		// it, only read it as a predecessor input for successors.
		if t.SchedulingMode == taskmodel.ModeManual && t.Start != "" && t.End != "" {
			if s, err := calendar.ParseISODate(t.Start); err == nil {
				n.start, n.hasStart = s, true
			}
			if e, err := calendar.ParseISODate(t.End); err == nil {
				n.end, n.hasEnd = e, true
			}
		}
		nodes[t.ID] = n
	}

	successors := buildSuccessorIndex(nodes)

	divergedForward := forwardPass(nodes, cal, iterationCap, now)
	rollupForward(nodes)
	divergedBackward := backwardPass(nodes, successors, cal, iterationCap)
	computeFloatAndCritical(nodes, successors, cal, healthAtRiskThreshold)

	out := make([]taskmodel.Task, 0, len(nodes))
	var divergedIDs []string
	criticalCount := 0
	for _, n := range nodes {
		if n.task.IsCritical {
			criticalCount++
		}
		out = append(out, n.task)
	}
	if divergedForward || divergedBackward {
		for _, n := range nodes {
			if isSchedulable(n) && (!n.hasStart || !n.hasLate) {
				divergedIDs = append(divergedIDs, n.task.ID)
			}
		}
	}

	stats := Stats{
		Duration:      time.Since(began),
		TaskCount:     len(out),
		CriticalCount: criticalCount,
		Diverged:      divergedForward || divergedBackward,
		DivergedIDs:   divergedIDs,
	}
	return out, stats
}

// buildSuccessorIndex builds predecessorId -> []successorEdge (phase 1).
func buildSuccessorIndex(nodes map[string]*node) map[string][]successorEdge {
	index := make(map[string][]successorEdge)
	for _, n := range nodes {
		for _, dep := range n.task.Dependencies {
			index[dep.PredecessorID] = append(index[dep.PredecessorID], successorEdge{
				successorID: n.task.ID,
				linkType:    dep.LinkType,
				lag:         dep.Lag,
			})
		}
	}
	return index
}

func isSchedulable(n *node) bool {
	return n.task.RowType != taskmodel.RowBlank && n.task.RowType != taskmodel.RowPhantom
}

func isLeaf(n *node, hasChildren map[string]bool) bool {
	return !hasChildren[n.task.ID]
}

func computeParentSets(nodes map[string]*node) map[string]bool {
	hasChildren := make(map[string]bool)
	for _, n := range nodes {
		if n.task.ParentID != "" {
			hasChildren[n.task.ParentID] = true
		}
	}
	return hasChildren
}

// forwardPass computes ES/EF for every leaf schedulable task (phase 2).
// Returns true if the iteration cap was hit before reaching a fixed
// point.
func forwardPass(nodes map[string]*node, cal calendar.Calendar, maxIter int, now time.Time) bool {
	hasChildren := computeParentSets(nodes)
	today := cal.AddWorkDays(now, 0)

	for iter := 0; iter < maxIter; iter++ {
		dirty := false
		for _, n := range nodes {
			if !isSchedulable(n) || !isLeaf(n, hasChildren) {
				continue
			}
			if n.task.SchedulingMode == taskmodel.ModeManual && n.hasStart {
				// Manual tasks anchor successors but are never rewritten.
				continue
			}

			candidate, candidateKnown := candidateStart(n, nodes, cal)
			finalStart, finalEnd := applyConstraint(n, cal, candidate, candidateKnown, today)

			changed := false
			if !n.hasStart || !finalStart.Equal(n.start) {
				n.start = finalStart
				n.hasStart = true
				changed = true
			}
			if !n.hasEnd || !finalEnd.Equal(n.end) {
				n.end = finalEnd
				n.hasEnd = true
				changed = true
			}
			if changed {
				dirty = true
			}
		}
		if !dirty {
			return false
		}
		if iter == maxIter-1 {
			return true
		}
	}
	return true
}

// candidateStart computes the earliest candidate start as the maximum
// over predecessors of the link-specific formula (§4.4 phase 2 table).
func candidateStart(n *node, nodes map[string]*node, cal calendar.Calendar) (time.Time, bool) {
	var best time.Time
	known := false
	for _, dep := range n.task.Dependencies {
		pred, ok := nodes[dep.PredecessorID]
		if !ok || !pred.hasStart || !pred.hasEnd {
			continue
		}
		span := daySpan(n.task.Duration)
		var candidate time.Time
		switch dep.LinkType {
		case taskmodel.LinkFS:
			candidate = cal.AddWorkDays(pred.end, 1+dep.Lag)
		case taskmodel.LinkSS:
			candidate = cal.AddWorkDays(pred.start, dep.Lag)
		case taskmodel.LinkFF:
			candidate = cal.AddWorkDays(pred.end, dep.Lag-span)
		case taskmodel.LinkSF:
			candidate = cal.AddWorkDays(pred.start, dep.Lag-span)
		default:
			continue
		}
		if !known || candidate.After(best) {
			best = candidate
			known = true
		}
	}
	return best, known
}

// daySpan converts a duration into the working-day offset between a
// task's start and its end: a one-day task and a zero-day milestone both
// start and end on the same day.
func daySpan(duration int) int {
	if duration <= 1 {
		return 0
	}
	return duration - 1
}

// applyConstraint applies the task's constraintType to the candidate
// start, per the phase-2 constraint table, and returns (start, end).
func applyConstraint(n *node, cal calendar.Calendar, candidate time.Time, candidateKnown bool, today time.Time) (time.Time, time.Time) {
	span := daySpan(n.task.Duration)
	var constraintDate time.Time
	hasConstraintDate := false
	if n.task.ConstraintDate != "" {
		if d, err := calendar.ParseISODate(n.task.ConstraintDate); err == nil {
			constraintDate = snapConstraintDate(d, n.task.ConstraintType, cal)
			hasConstraintDate = true
		}
	}

	start := candidate
	if !candidateKnown {
		if n.hasStart {
			start = n.start
		} else {
			start = today
		}
	}

	switch n.task.ConstraintType {
	case taskmodel.ConstraintSNET:
		if hasConstraintDate && constraintDate.After(start) {
			start = constraintDate
		}
	case taskmodel.ConstraintSNLT:
		if hasConstraintDate && start.After(constraintDate) {
			start = constraintDate
		}
	case taskmodel.ConstraintFNET:
		if hasConstraintDate {
			earliestStartForFinish := cal.AddWorkDays(constraintDate, -span)
			if earliestStartForFinish.After(start) {
				start = earliestStartForFinish
			}
		}
	case taskmodel.ConstraintFNLT:
		if hasConstraintDate {
			projectedEnd := cal.AddWorkDays(start, span)
			if projectedEnd.After(constraintDate) {
				start = cal.AddWorkDays(constraintDate, -span)
			}
		}
	case taskmodel.ConstraintMFO:
		if hasConstraintDate {
			end := constraintDate
			start = cal.AddWorkDays(end, -span)
			return start, end
		}
	case taskmodel.ConstraintASAP:
		// start already holds the candidate (or today as fallback).
	}

	return start, cal.AddWorkDays(start, span)
}

// rollupForward computes parent start/end/duration bottom-up by depth
// (phase 3): parent.start = min(child.start), parent.end = max(child.end).
func rollupForward(nodes map[string]*node) {
	hasChildren := computeParentSets(nodes)
	order := nodesByDepthDescending(nodes)
	for _, n := range order {
		if !hasChildren[n.task.ID] {
			continue
		}
		var start, end time.Time
		known := false
		for _, child := range nodes {
			if child.task.ParentID != n.task.ID || !child.hasStart || !child.hasEnd {
				continue
			}
			if !known || child.start.Before(start) {
				start = child.start
			}
			if !known || child.end.After(end) {
				end = child.end
			}
			known = true
		}
		if known {
			n.start, n.hasStart = start, true
			n.end, n.hasEnd = end, true
		}
	}
}

// nodesByDepthDescending returns nodes ordered from deepest to
// shallowest, so rollups can be applied bottom-up in a single pass.
func nodesByDepthDescending(nodes map[string]*node) []*node {
	depth := make(map[string]int, len(nodes))
	var depthOf func(id string) int
	depthOf = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		n, ok := nodes[id]
		if !ok || n.task.ParentID == "" {
			depth[id] = 0
			return 0
		}
		d := depthOf(n.task.ParentID) + 1
		depth[id] = d
		return d
	}
	ordered := make([]*node, 0, len(nodes))
	for id, n := range nodes {
		depthOf(id)
		ordered = append(ordered, n)
	}
	sortNodesByDepthDesc(ordered, depth)
	return ordered
}

func sortNodesByDepthDesc(ordered []*node, depth map[string]int) {
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && depth[ordered[j].task.ID] > depth[ordered[j-1].task.ID]; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
}

// backwardPass computes LS/LF for every task (phase 4). Returns true if
// the iteration cap was hit before reaching a fixed point.
func backwardPass(nodes map[string]*node, successors map[string][]successorEdge, cal calendar.Calendar, maxIter int) bool {
	hasChildren := computeParentSets(nodes)

	var projectLateFinish time.Time
	known := false
	for _, n := range nodes {
		if !isSchedulable(n) || hasChildren[n.task.ID] || !n.hasEnd {
			continue
		}
		if !known || n.end.After(projectLateFinish) {
			projectLateFinish = n.end
			known = true
		}
	}
	if !known {
		return false
	}

	for _, n := range nodes {
		if !isSchedulable(n) || hasChildren[n.task.ID] {
			continue
		}
		if len(successors[n.task.ID]) == 0 {
			lf := projectLateFinish
			if ceil, ok := lateFinishCap(n, cal); ok && ceil.Before(lf) {
				lf = ceil
			}
			n.lateFinish = lf
			n.lateStart = cal.AddWorkDays(lf, -daySpan(n.task.Duration))
			n.hasLate = true
		}
	}

	for iter := 0; iter < maxIter; iter++ {
		dirty := false
		for _, n := range nodes {
			if !isSchedulable(n) || hasChildren[n.task.ID] {
				continue
			}
			edges := successors[n.task.ID]
			if len(edges) == 0 {
				continue
			}
			var minFinish time.Time
			haveMin := false
			for _, edge := range edges {
				succ, ok := nodes[edge.successorID]
				if !ok || !succ.hasLate {
					continue
				}
				span := daySpan(n.task.Duration)
				var constrained time.Time
				switch edge.linkType {
				case taskmodel.LinkFS:
					constrained = cal.AddWorkDays(succ.lateStart, -1-edge.lag)
				case taskmodel.LinkSS:
					constrained = cal.AddWorkDays(succ.lateStart, span-edge.lag)
				case taskmodel.LinkFF:
					constrained = cal.AddWorkDays(succ.lateFinish, -edge.lag)
				case taskmodel.LinkSF:
					constrained = cal.AddWorkDays(succ.lateFinish, span-edge.lag)
				default:
					continue
				}
				if !haveMin || constrained.Before(minFinish) {
					minFinish = constrained
					haveMin = true
				}
			}
			if !haveMin {
				continue
			}
			if ceil, ok := lateFinishCap(n, cal); ok && ceil.Before(minFinish) {
				minFinish = ceil
			}
			newLateStart := cal.AddWorkDays(minFinish, -daySpan(n.task.Duration))
			if !n.hasLate || !minFinish.Equal(n.lateFinish) || !newLateStart.Equal(n.lateStart) {
				n.lateFinish = minFinish
				n.lateStart = newLateStart
				n.hasLate = true
				dirty = true
			}
		}
		if !dirty {
			break
		}
		if iter == maxIter-1 {
			rollupBackward(nodes)
			return true
		}
	}
	rollupBackward(nodes)
	return false
}

// snapConstraintDate normalizes a constraint date onto the calendar the
// way its direction demands: a "no earlier than" bound (and an MFO pin)
// moves forward to the next working day, a "no later than" bound moves
// back to the last working day at or before it.
func snapConstraintDate(d time.Time, ct taskmodel.ConstraintType, cal calendar.Calendar) time.Time {
	switch ct {
	case taskmodel.ConstraintSNLT, taskmodel.ConstraintFNLT:
		if !cal.IsWorkDay(d) {
			return cal.AddWorkDays(d, -1)
		}
		return d
	default:
		return cal.AddWorkDays(d, 0)
	}
}

// lateFinishCap returns the hard ceiling a task's late finish may never
// exceed: its own "no later than" constraint. Without this the backward
// pass would hand an FNLT task the project's late finish and hide the
// negative float an infeasible predecessor chain produces.
func lateFinishCap(n *node, cal calendar.Calendar) (time.Time, bool) {
	if n.task.ConstraintDate == "" {
		return time.Time{}, false
	}
	d, err := calendar.ParseISODate(n.task.ConstraintDate)
	if err != nil {
		return time.Time{}, false
	}
	d = snapConstraintDate(d, n.task.ConstraintType, cal)
	switch n.task.ConstraintType {
	case taskmodel.ConstraintFNLT, taskmodel.ConstraintMFO:
		return d, true
	case taskmodel.ConstraintSNLT:
		return cal.AddWorkDays(d, daySpan(n.task.Duration)), true
	}
	return time.Time{}, false
}

// rollupBackward computes parent LS/LF bottom-up: LS = min(child.LS),
// LF = max(child.LF).
func rollupBackward(nodes map[string]*node) {
	hasChildren := computeParentSets(nodes)
	order := nodesByDepthDescending(nodes)
	for _, n := range order {
		if !hasChildren[n.task.ID] {
			continue
		}
		var ls, lf time.Time
		known := false
		for _, child := range nodes {
			if child.task.ParentID != n.task.ID || !child.hasLate {
				continue
			}
			if !known || child.lateStart.Before(ls) {
				ls = child.lateStart
			}
			if !known || child.lateFinish.After(lf) {
				lf = child.lateFinish
			}
			known = true
		}
		if known {
			n.lateStart, n.lateFinish, n.hasLate = ls, lf, true
		}
	}
}

// computeFloatAndCritical runs phase 5: total float, free float, the
// critical-path flag, and the derived health rollup, then writes all
// derived fields back onto each node's task copy.
func computeFloatAndCritical(nodes map[string]*node, successors map[string][]successorEdge, cal calendar.Calendar, healthAtRiskThreshold int) {
	hasChildren := computeParentSets(nodes)

	for _, n := range nodes {
		if !n.hasStart || !n.hasEnd || !n.hasLate {
			continue
		}
		n.task.Start = calendar.FormatISODate(n.start)
		n.task.End = calendar.FormatISODate(n.end)
		n.task.LateStart = calendar.FormatISODate(n.lateStart)
		n.task.LateFinish = calendar.FormatISODate(n.lateFinish)
		n.task.TotalFloat = cal.CalcWorkDaysDifference(n.start, n.lateStart)

		freeFloat := n.task.TotalFloat
		edges := successors[n.task.ID]
		if len(edges) > 0 && !hasChildren[n.task.ID] {
			haveMin := false
			for _, edge := range edges {
				succ, ok := nodes[edge.successorID]
				if !ok || !succ.hasStart || !succ.hasEnd {
					continue
				}
				var gap int
				switch edge.linkType {
				case taskmodel.LinkFS:
					gap = cal.CalcWorkDaysDifference(n.end, succ.start) - 1 - edge.lag
				case taskmodel.LinkSS:
					gap = cal.CalcWorkDaysDifference(n.start, succ.start) - edge.lag
				case taskmodel.LinkFF:
					gap = cal.CalcWorkDaysDifference(n.end, succ.end) - edge.lag
				case taskmodel.LinkSF:
					gap = cal.CalcWorkDaysDifference(n.start, succ.end) - edge.lag
				default:
					continue
				}
				if !haveMin || gap < freeFloat {
					freeFloat = gap
					haveMin = true
				}
			}
			if !haveMin {
				freeFloat = n.task.TotalFloat
			}
		}
		if freeFloat < 0 {
			freeFloat = 0
		}
		if freeFloat > n.task.TotalFloat {
			freeFloat = n.task.TotalFloat
		}
		n.task.FreeFloat = freeFloat
	}

	// Leaf criticality first, then parent criticality (any child critical).
	for _, n := range nodes {
		if hasChildren[n.task.ID] || !isSchedulable(n) {
			continue
		}
		n.task.IsCritical = n.task.TotalFloat <= 0
	}
	order := nodesByDepthDescending(nodes)
	for _, n := range order {
		if !hasChildren[n.task.ID] {
			continue
		}
		critical := false
		for _, child := range nodes {
			if child.task.ParentID == n.task.ID && child.task.IsCritical {
				critical = true
				break
			}
		}
		n.task.IsCritical = critical
	}

	for _, n := range nodes {
		if !isSchedulable(n) {
			continue
		}
		switch {
		case !n.hasStart || !n.hasLate:
			// CPMDiverged left this task without a fixed point.
			n.task.Health = taskmodel.HealthBlocked
		case n.task.TotalFloat < 0:
			// ConstraintInfeasible: the backward pass proved the forward
			// pass's start impossible to honor.
			n.task.Health = taskmodel.HealthBlocked
		case n.task.TotalFloat > 0 && n.task.TotalFloat <= healthAtRiskThreshold:
			n.task.Health = taskmodel.HealthAtRisk
		default:
			n.task.Health = taskmodel.HealthOK
		}
	}
}
