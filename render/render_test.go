package render

import (
	"fmt"
	"testing"

	"github.com/deepnoodle-ai/flowviz"
	"github.com/stretchr/testify/require"
)

func TestSanitizeID(t *testing.T) {
	require.Equal(t, "fetch_user", SanitizeID("fetch-user"))
	require.Equal(t, "emit_html_page", SanitizeID(`emit "<html>" page`))
	require.Equal(t, "n42_items", SanitizeID("42 items"))
	require.Equal(t, "", SanitizeID("!!!"))
}

func TestIDAllocatorCollisions(t *testing.T) {
	ids := NewIDAllocator()
	require.Equal(t, "fetch", ids.Allocate("fetch"))
	require.Equal(t, "fetch_2", ids.Allocate("fetch"))
	require.Equal(t, "fetch_3", ids.Allocate("fetch"))

	// Empty bases fall back to a counter.
	require.Equal(t, "n1", ids.Allocate(""))
	require.Equal(t, "n2", ids.Allocate("???"))
}

func TestIDAllocatorSuffixedIDsStayUnique(t *testing.T) {
	ids := NewIDAllocator()
	seen := map[string]bool{}
	// A base colliding with a previously suffixed id must still come out
	// unique, in either arrival order.
	for _, base := range []string{"a", "a", "a_2", "b_2", "b", "b"} {
		id := ids.Allocate(base)
		require.False(t, seen[id], "duplicate id %q for base %q", id, base)
		seen[id] = true
	}
}

func TestIDAllocatorPreference(t *testing.T) {
	ids := NewIDAllocator()
	node := &flowviz.FlowNode{ID: "node-1", Key: "key", Name: "Name", CacheKey: "cache-key"}
	require.Equal(t, "cache_key", ids.NodeID(node))

	node.CacheKey = ""
	require.Equal(t, "Name", ids.NodeID(node))

	node.Name = ""
	require.Equal(t, "key", ids.NodeID(node))

	node.Key = ""
	require.Equal(t, "node_1", ids.NodeID(node))
}

func TestFilterMatchesKeyAndName(t *testing.T) {
	filter := NewFilter([]string{"internal-*", "[bad pattern"})
	require.True(t, filter.Match(&flowviz.FlowNode{Key: "internal-metrics"}))
	require.True(t, filter.Match(&flowviz.FlowNode{Name: "internal-audit"}))
	require.False(t, filter.Match(&flowviz.FlowNode{Key: "publish"}))
	require.False(t, filter.Match(nil))
}

func TestAllRendersEveryTarget(t *testing.T) {
	ir := flowviz.NewWorkflowIR("wf-all")
	results, err := All(ir, Options{}, map[string]Func{
		"upper": func(ir *flowviz.WorkflowIR, _ Options) (string, error) {
			return "UPPER:" + ir.Metadata.WorkflowID, nil
		},
		"lower": func(ir *flowviz.WorkflowIR, _ Options) (string, error) {
			return "lower:" + ir.Metadata.WorkflowID, nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, "UPPER:wf-all", results["upper"])
	require.Equal(t, "lower:wf-all", results["lower"])
}

func TestAllPropagatesErrors(t *testing.T) {
	ir := flowviz.NewWorkflowIR("wf-err")
	_, err := All(ir, Options{}, map[string]Func{
		"broken": func(*flowviz.WorkflowIR, Options) (string, error) {
			return "", fmt.Errorf("boom")
		},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "render broken")
}

func TestDirectionNormalize(t *testing.T) {
	require.Equal(t, TopToBottom, Direction("").Normalize())
	require.Equal(t, LeftToRight, LeftToRight.Normalize())
	require.Equal(t, TopToBottom, Direction("sideways").Normalize())
}
