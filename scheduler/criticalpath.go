package scheduler

import "time"

// No third-party library in the reference pack performs critical-path
// analysis; this is plain graph arithmetic over a DAG the scheduler already
// holds, so it stays on the standard library rather than reaching for a
// dependency that doesn't exist in the ecosystem surveyed.

// criticalPathSlackTolerance is the margin within which a node's slack
// (latestStart - earliestStart) still counts as "on the critical path",
// absorbing floating-point/duration rounding from the forward/backward
// passes.
const criticalPathSlackTolerance = time.Millisecond

type nodeTiming struct {
	duration                                 time.Duration
	earliestStart, earliestFinish            time.Duration
	latestStart, latestFinish                time.Duration
}

// computeCriticalPath runs the classic two-pass CPM algorithm over the
// scheduler's dependency DAG using each node's observed wall-clock
// duration. It returns the ordered chain of critical-path node IDs and the
// total span covered by that chain end-to-end.
//
// order need not already be a topological order — RegisterFlow lets a
// dependency be registered after its dependent — so this first sorts it via
// Kahn's algorithm; both passes below require a true topological order to
// see each node's predecessors (forward pass) or successors (backward pass)
// already finalized.
func computeCriticalPath(order []string, dependsOn map[string][]string, dependents map[string][]string, durations map[string]time.Duration) ([]string, time.Duration) {
	order = topologicalOrder(order, dependsOn)

	timing := make(map[string]*nodeTiming, len(order))
	for _, id := range order {
		timing[id] = &nodeTiming{duration: durations[id]}
	}

	// Forward pass: earliestStart = max(earliestFinish of dependencies).
	for _, id := range order {
		t := timing[id]
		var es time.Duration
		for _, dep := range dependsOn[id] {
			if dt, ok := timing[dep]; ok && dt.earliestFinish > es {
				es = dt.earliestFinish
			}
		}
		t.earliestStart = es
		t.earliestFinish = es + t.duration
	}

	var projectEnd time.Duration
	for _, id := range order {
		if t := timing[id]; t.earliestFinish > projectEnd {
			projectEnd = t.earliestFinish
		}
	}

	// Backward pass, walking order in reverse so every node's dependents
	// have already had their latestStart computed.
	for _, t := range timing {
		t.latestFinish = projectEnd
		t.latestStart = projectEnd - t.duration
	}
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		t := timing[id]
		if len(dependents[id]) == 0 {
			continue // sink node: keeps the projectEnd default set above.
		}
		lf := projectEnd
		for _, succ := range dependents[id] {
			if st, ok := timing[succ]; ok && st.latestStart < lf {
				lf = st.latestStart
			}
		}
		t.latestFinish = lf
		t.latestStart = lf - t.duration
	}

	var (
		critical []string
		pathTime time.Duration
	)
	for _, id := range order {
		t := timing[id]
		slack := t.latestStart - t.earliestStart
		if slack < 0 {
			slack = -slack
		}
		if slack <= criticalPathSlackTolerance {
			critical = append(critical, id)
			pathTime += t.duration
		}
	}

	return critical, pathTime
}

// topologicalOrder sorts ids via Kahn's algorithm over dependsOn (node ->
// its dependencies), breaking ties by ids' position in the input slice so
// the result stays deterministic and close to registration order. A cycle
// can't reach here in practice (RegisterFlow/AddDependency both reject
// edges that would close one), so any id left over once the queue drains
// is appended in its original order rather than dropped.
func topologicalOrder(ids []string, dependsOn map[string][]string) []string {
	indexOf := make(map[string]int, len(ids))
	for i, id := range ids {
		indexOf[id] = i
	}

	remaining := make(map[string]map[string]bool, len(ids))
	for _, id := range ids {
		deps := make(map[string]bool, len(dependsOn[id]))
		for _, dep := range dependsOn[id] {
			if _, ok := indexOf[dep]; ok {
				deps[dep] = true
			}
		}
		remaining[id] = deps
	}

	sorted := make([]string, 0, len(ids))
	placed := make(map[string]bool, len(ids))

	for len(sorted) < len(ids) {
		progressed := false
		for _, id := range ids {
			if placed[id] {
				continue
			}
			ready := true
			for dep := range remaining[id] {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			sorted = append(sorted, id)
			placed[id] = true
			progressed = true
		}
		if !progressed {
			break // cycle; fall through and append whatever is left untouched
		}
	}

	if len(sorted) < len(ids) {
		for _, id := range ids {
			if !placed[id] {
				sorted = append(sorted, id)
			}
		}
	}

	return sorted
}
