package flowviz

import "time"

// DetectParallelGroups scans an ordered list of sibling nodes and merges
// each maximal run of temporally overlapping step nodes into a synthetic
// parallel node placed at the run's original position. It is used to infer
// concurrency when the event stream carried no explicit scope boundaries.
//
// Overlap is computed on [start, end) intervals, with boundary-equal
// timestamps treated as overlapping. Non-step siblings are hard boundaries:
// they are never merged into a group, and a run never extends across one,
// regardless of timestamps. The function is pure; the input slice is not
// modified and everything not merged keeps its original order.
func DetectParallelGroups(siblings []*FlowNode) []*FlowNode {
	if len(siblings) < 2 {
		return siblings
	}
	result := make([]*FlowNode, 0, len(siblings))
	for i := 0; i < len(siblings); {
		node := siblings[i]
		if node.Kind != KindStep {
			result = append(result, node)
			i++
			continue
		}
		run := []*FlowNode{node}
		window := nodeInterval(node)
		for j := i + 1; j < len(siblings); j++ {
			next := siblings[j]
			if next.Kind != KindStep {
				break
			}
			iv := nodeInterval(next)
			if !window.overlaps(iv) {
				break
			}
			run = append(run, next)
			window = window.union(iv)
		}
		if len(run) > 1 {
			result = append(result, newParallelGroup(run))
		} else {
			result = append(result, node)
		}
		i += len(run)
	}
	return result
}

// interval is a half-open time span. open means the span has no observed
// end yet (the node is still running) and extends indefinitely.
type interval struct {
	start time.Time
	end   time.Time
	open  bool
}

func nodeInterval(n *FlowNode) interval {
	return interval{
		start: n.StartedAt,
		end:   n.EndedAt,
		open:  n.EndedAt.IsZero(),
	}
}

// overlaps reports whether two spans intersect, counting spans that merely
// touch at a boundary as intersecting.
func (iv interval) overlaps(other interval) bool {
	if !iv.open && other.start.After(iv.end) {
		return false
	}
	if !other.open && iv.start.After(other.end) {
		return false
	}
	return true
}

// union widens the span to cover both.
func (iv interval) union(other interval) interval {
	merged := iv
	if other.start.Before(merged.start) {
		merged.start = other.start
	}
	if other.open {
		merged.open = true
	} else if !merged.open && other.end.After(merged.end) {
		merged.end = other.end
	}
	return merged
}

// newParallelGroup wraps a run of overlapping steps in a synthetic parallel
// container whose time bounds and state are derived from its members.
func newParallelGroup(children []*FlowNode) *FlowNode {
	group := &FlowNode{
		ID:       NewNodeID(),
		Kind:     KindParallel,
		Mode:     ModeAll,
		Children: children,
	}
	for _, child := range children {
		if !child.StartedAt.IsZero() && (group.StartedAt.IsZero() || child.StartedAt.Before(group.StartedAt)) {
			group.StartedAt = child.StartedAt
		}
		if child.EndedAt.After(group.EndedAt) {
			group.EndedAt = child.EndedAt
		}
	}
	for _, child := range children {
		if child.EndedAt.IsZero() {
			// A still-running member leaves the group unbounded.
			group.EndedAt = time.Time{}
			break
		}
	}
	group.State = deriveGroupState(group)
	if !group.StartedAt.IsZero() && !group.EndedAt.IsZero() {
		group.Duration = group.EndedAt.Sub(group.StartedAt)
	}
	return group
}

// deriveGroupState computes a container's state from its children,
// honoring the container's concurrency mode. Race containers with a known
// winner take the winner's state.
func deriveGroupState(node *FlowNode) NodeState {
	if len(node.Children) == 0 {
		return StateSuccess
	}
	if node.Kind == KindRace && node.WinnerID != "" {
		for _, child := range node.Children {
			if child.ID == node.WinnerID {
				return child.State
			}
		}
	}
	var running, succeeded, errored, aborted int
	for _, child := range node.Children {
		switch child.State {
		case StatePending, StateRunning:
			running++
		case StateError:
			errored++
		case StateAborted:
			aborted++
		default:
			succeeded++
		}
	}
	if running > 0 {
		return StateRunning
	}
	switch node.Mode {
	case ModeRace:
		if succeeded > 0 {
			return StateSuccess
		}
		if errored > 0 {
			return StateError
		}
		return StateAborted
	case ModeAllSettled:
		if errored == len(node.Children) {
			return StateError
		}
		return StateSuccess
	default:
		if errored > 0 {
			return StateError
		}
		if aborted > 0 {
			return StateAborted
		}
		return StateSuccess
	}
}
