package flowviz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func buildSampleIR(t *testing.T) *WorkflowIR {
	t.Helper()
	b := NewBuilder(BuilderOptions{})
	s := newEventSeq("wf-1")

	b.HandleEvent(s.at(0, &WorkflowStartedData{Name: "sample"}))
	b.HandleEvent(s.at(5*time.Millisecond, &HookBeforeStartData{Context: map[string]any{"env": "test"}}))
	b.HandleEvent(s.at(10*time.Millisecond, &StepStartedData{
		StepRef: StepRef{Key: "fetch"},
		Input:   map[string]any{"user_id": "u-42"},
	}))
	b.HandleEvent(s.at(30*time.Millisecond, &StepCompletedData{StepRef: StepRef{Key: "fetch"}}))
	b.HandleEvent(s.at(40*time.Millisecond, &StepStartedData{StepRef: StepRef{Key: "score"}}))
	b.HandleEvent(s.at(45*time.Millisecond, &StepRetriedData{StepRef: StepRef{Key: "score"}}))
	b.HandleEvent(s.at(60*time.Millisecond, &StepFailedData{
		StepRef: StepRef{Key: "score"},
		Error:   "model unavailable",
	}))
	b.HandleEvent(s.at(70*time.Millisecond, &WorkflowFailedData{Error: "step score failed"}))
	return b.IR()
}

func TestWorkflowIRCopy(t *testing.T) {
	ir := buildSampleIR(t)
	dup := ir.Copy()

	require.Equal(t, ir.Metadata, dup.Metadata)
	require.Len(t, dup.Root.Children, len(ir.Root.Children))

	// Mutating the copy leaves the original untouched.
	dup.Root.State = StateRunning
	dup.Root.Children[0].Name = "changed"
	dup.Root.Children = append(dup.Root.Children, &FlowNode{ID: "extra", Kind: KindStep})

	require.Equal(t, StateError, ir.Root.State)
	require.Empty(t, ir.Root.Children[0].Name)
	require.Len(t, ir.Root.Children, 2)

	// Captured values are copied too, not shared.
	input, ok := dup.Root.Children[0].Input.(map[string]any)
	require.True(t, ok)
	input["user_id"] = "tampered"
	original := ir.Root.Children[0].Input.(map[string]any)
	require.Equal(t, "u-42", original["user_id"])

	// Hook records are independent as well.
	require.NotNil(t, dup.Hooks)
	dup.Hooks.BeforeStart.Context["env"] = "prod"
	require.Equal(t, "test", ir.Hooks.BeforeStart.Context["env"])
}

func TestWorkflowIRStats(t *testing.T) {
	ir := buildSampleIR(t)
	stats := ir.Stats()

	require.Equal(t, 2, stats.TotalSteps)
	require.Equal(t, 1, stats.ByState[StateSuccess])
	require.Equal(t, 1, stats.ByState[StateError])
	require.Equal(t, 1, stats.ErrorSteps)
	require.Equal(t, 1, stats.TotalRetries)
	require.Equal(t, 70*time.Millisecond, stats.Duration)
}

func TestFlowNodeWalk(t *testing.T) {
	decision := &FlowNode{
		ID:   "dec-1",
		Kind: KindDecision,
		Branches: []*Branch{
			{Label: "yes", Children: []*FlowNode{{ID: "s1", Kind: KindStep}}},
			{Label: "no", Children: []*FlowNode{{ID: "s2", Kind: KindStep}}},
		},
	}
	root := &FlowNode{
		ID:   "root",
		Kind: KindWorkflow,
		Children: []*FlowNode{
			decision,
			{ID: "s3", Kind: KindStep},
		},
	}

	var visited []string
	root.Walk(func(n *FlowNode) {
		visited = append(visited, n.ID)
	})
	require.Equal(t, []string{"root", "dec-1", "s1", "s2", "s3"}, visited)
}

func TestFlowNodeTakenBranch(t *testing.T) {
	node := &FlowNode{
		Kind: KindDecision,
		Branches: []*Branch{
			{Label: "a"},
			{Label: "b", Taken: true},
		},
	}
	require.Equal(t, "b", node.TakenBranch().Label)
	require.Nil(t, (&FlowNode{Kind: KindDecision}).TakenBranch())
}

func TestNodeStateTerminal(t *testing.T) {
	require.False(t, StatePending.Terminal())
	require.False(t, StateRunning.Terminal())
	for _, s := range []NodeState{StateSuccess, StateError, StateAborted, StateCached, StateSkipped} {
		require.True(t, s.Terminal(), "state %s", s)
	}
}
