package flowviz

import "time"

// IRMetadata describes the workflow an IR was built from.
type IRMetadata struct {
	WorkflowID string    `json:"workflow_id"`
	Name       string    `json:"name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HookRecord captures one lifecycle hook execution.
type HookRecord struct {
	State   NodeState      `json:"state"`
	Error   string         `json:"error,omitempty"`
	Context map[string]any `json:"context,omitempty"`
	At      time.Time      `json:"at,omitzero"`
}

// Copy returns a deep copy of the hook record.
func (r *HookRecord) Copy() *HookRecord {
	dup := *r
	if r.Context != nil {
		dup.Context = make(map[string]any, len(r.Context))
		for k, v := range r.Context {
			dup.Context[k] = deepCopyValue(v)
		}
	}
	return &dup
}

// IRHooks collects the lifecycle hook records observed for a workflow: the
// pre-run gate, the before-start hook, and one after-step record per step key.
type IRHooks struct {
	ShouldRun   *HookRecord            `json:"should_run,omitempty"`
	BeforeStart *HookRecord            `json:"before_start,omitempty"`
	AfterStep   map[string]*HookRecord `json:"after_step,omitempty"`
}

// Copy returns a deep copy of the hooks.
func (h *IRHooks) Copy() *IRHooks {
	dup := &IRHooks{}
	if h.ShouldRun != nil {
		dup.ShouldRun = h.ShouldRun.Copy()
	}
	if h.BeforeStart != nil {
		dup.BeforeStart = h.BeforeStart.Copy()
	}
	if h.AfterStep != nil {
		dup.AfterStep = make(map[string]*HookRecord, len(h.AfterStep))
		for k, v := range h.AfterStep {
			dup.AfterStep[k] = v.Copy()
		}
	}
	return dup
}

// WorkflowIR is the execution tree reconstructed from a workflow's event
// stream. The root node is always of kind workflow; its Children are the
// ordered top-level sequence. The builder mutates the IR in place until a
// terminal workflow event arrives, after which it is read-only.
type WorkflowIR struct {
	Root     *FlowNode  `json:"root"`
	Metadata IRMetadata `json:"metadata"`
	Hooks    *IRHooks   `json:"hooks,omitempty"`
}

// NewWorkflowIR creates an empty IR for the given workflow id with a pending
// workflow root.
func NewWorkflowIR(workflowID string) *WorkflowIR {
	now := time.Now()
	return &WorkflowIR{
		Root: &FlowNode{
			ID:    NewNodeID(),
			Kind:  KindWorkflow,
			State: StatePending,
		},
		Metadata: IRMetadata{
			WorkflowID: workflowID,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
}

// Copy returns a deep copy of the IR. Snapshots taken by the time-travel
// controller rely on this being a true deep copy.
func (ir *WorkflowIR) Copy() *WorkflowIR {
	dup := &WorkflowIR{Metadata: ir.Metadata}
	if ir.Root != nil {
		dup.Root = ir.Root.Copy()
	}
	if ir.Hooks != nil {
		dup.Hooks = ir.Hooks.Copy()
	}
	return dup
}

// Terminal reports whether the workflow has reached a terminal state.
func (ir *WorkflowIR) Terminal() bool {
	return ir.Root != nil && ir.Root.State.Terminal()
}

// IRStats provides aggregate statistics about an execution tree.
type IRStats struct {
	TotalSteps   int               `json:"total_steps"`
	RunningSteps int               `json:"running_steps"`
	ByState      map[NodeState]int `json:"by_state"`
	TotalRetries int               `json:"total_retries"`
	ErrorSteps   int               `json:"error_steps"`
	StartTime    time.Time         `json:"start_time,omitzero"`
	EndTime      time.Time         `json:"end_time,omitzero"`
	Duration     time.Duration     `json:"duration"`
}

// Stats returns current statistics for the tree.
func (ir *WorkflowIR) Stats() IRStats {
	stats := IRStats{ByState: make(map[NodeState]int)}
	if ir.Root == nil {
		return stats
	}
	ir.Root.Walk(func(n *FlowNode) {
		if n.Kind != KindStep {
			return
		}
		stats.TotalSteps++
		stats.ByState[n.State]++
		stats.TotalRetries += n.Retries
		switch n.State {
		case StateRunning:
			stats.RunningSteps++
		case StateError:
			stats.ErrorSteps++
		}
	})
	stats.StartTime = ir.Root.StartedAt
	stats.EndTime = ir.Root.EndedAt
	if !stats.EndTime.IsZero() {
		stats.Duration = stats.EndTime.Sub(stats.StartTime)
	} else if !stats.StartTime.IsZero() {
		stats.Duration = time.Since(stats.StartTime)
	}
	return stats
}
