package flowviz

import "time"

// NodeKind indicates the variant of a flow node
type NodeKind string

const (
	KindWorkflow NodeKind = "workflow"
	KindStep     NodeKind = "step"
	KindParallel NodeKind = "parallel"
	KindRace     NodeKind = "race"
	KindDecision NodeKind = "decision"
	KindStream   NodeKind = "stream"
)

func (k NodeKind) String() string {
	return string(k)
}

// NodeState represents the current state of a flow node
type NodeState string

const (
	StatePending NodeState = "pending"
	StateRunning NodeState = "running"
	StateSuccess NodeState = "success"
	StateError   NodeState = "error"
	StateAborted NodeState = "aborted"
	StateCached  NodeState = "cached"
	StateSkipped NodeState = "skipped"
)

func (s NodeState) String() string {
	return string(s)
}

// Terminal reports whether the state is final. A node in a terminal state
// never transitions again.
func (s NodeState) Terminal() bool {
	switch s {
	case StateSuccess, StateError, StateAborted, StateCached, StateSkipped:
		return true
	}
	return false
}

// Branch is one arm of a decision node.
type Branch struct {
	Label     string      `json:"label"`
	Condition string      `json:"condition,omitempty"`
	Taken     bool        `json:"taken"`
	Children  []*FlowNode `json:"children,omitempty"`
}

// Copy returns a deep copy of the branch.
func (b *Branch) Copy() *Branch {
	children := make([]*FlowNode, 0, len(b.Children))
	for _, child := range b.Children {
		children = append(children, child.Copy())
	}
	return &Branch{
		Label:     b.Label,
		Condition: b.Condition,
		Taken:     b.Taken,
		Children:  children,
	}
}

// FlowNode is a single node in the execution tree. A node may contain
// multiple variants' worth of fields; Kind determines which are meaningful.
// This struct is designed to be fully JSON serializable.
type FlowNode struct {
	// Common fields
	ID        string        `json:"id"`
	Kind      NodeKind      `json:"kind"`
	State     NodeState     `json:"state"`
	Name      string        `json:"name,omitempty"`
	Key       string        `json:"key,omitempty"`
	CacheKey  string        `json:"cache_key,omitempty"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	EndedAt   time.Time     `json:"ended_at,omitzero"`
	Duration  time.Duration `json:"duration,omitempty"`

	// Step fields
	Retries      int           `json:"retries,omitempty"`
	Input        any           `json:"input,omitempty"`
	Output       any           `json:"output,omitempty"`
	Error        string        `json:"error,omitempty"`
	TimedOut     bool          `json:"timed_out,omitempty"`
	TimeoutLimit time.Duration `json:"timeout_limit,omitempty"`
	SkipReason   string        `json:"skip_reason,omitempty"`

	// Container fields (workflow, parallel, race)
	Children []*FlowNode `json:"children,omitempty"`
	Mode     ScopeMode   `json:"mode,omitempty"`
	WinnerID string      `json:"winner_id,omitempty"`

	// Decision fields
	Branches []*Branch `json:"branches,omitempty"`

	// Stream fields
	Namespace    string `json:"namespace,omitempty"`
	Writes       int64  `json:"writes,omitempty"`
	Reads        int64  `json:"reads,omitempty"`
	StreamState  string `json:"stream_state,omitempty"`
	Backpressure bool   `json:"backpressure,omitempty"`
}

// Copy returns a deep copy of the node, including children, branches, and
// captured input/output values.
func (n *FlowNode) Copy() *FlowNode {
	dup := *n
	if n.Children != nil {
		dup.Children = make([]*FlowNode, 0, len(n.Children))
		for _, child := range n.Children {
			dup.Children = append(dup.Children, child.Copy())
		}
	}
	if n.Branches != nil {
		dup.Branches = make([]*Branch, 0, len(n.Branches))
		for _, branch := range n.Branches {
			dup.Branches = append(dup.Branches, branch.Copy())
		}
	}
	dup.Input = deepCopyValue(n.Input)
	dup.Output = deepCopyValue(n.Output)
	return &dup
}

// Walk visits the node and all of its descendants in order, including the
// children of each decision branch.
func (n *FlowNode) Walk(visit func(*FlowNode)) {
	if n == nil {
		return
	}
	visit(n)
	for _, child := range n.Children {
		child.Walk(visit)
	}
	for _, branch := range n.Branches {
		for _, child := range branch.Children {
			child.Walk(visit)
		}
	}
}

// TakenBranch returns the branch marked as taken, or nil if no branch was
// selected.
func (n *FlowNode) TakenBranch() *Branch {
	for _, branch := range n.Branches {
		if branch.Taken {
			return branch
		}
	}
	return nil
}

// deepCopyValue copies captured values made of the JSON-compatible types
// (maps, slices, scalars). Unrecognized types are shared, not copied; the
// tree treats captured values as read-only after capture.
func deepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, item := range v {
			result[key] = deepCopyValue(item)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = deepCopyValue(item)
		}
		return result
	default:
		return v
	}
}
