package text

import (
	"fmt"
	"sort"
	"strings"

	"github.com/deepnoodle-ai/flowviz"
	"github.com/deepnoodle-ai/flowviz/heatmap"
	"github.com/deepnoodle-ai/flowviz/internal/tablewriter"
	"github.com/deepnoodle-ai/flowviz/render"
)

// Summary renders a per-step statistics table for the tree: state,
// duration, retries, and (when a heatmap overlay is supplied) the heat
// level. Steps appear in tree order; the footer line aggregates counts.
func Summary(ir *flowviz.WorkflowIR, opts render.Options) (string, error) {
	var b strings.Builder
	if ir == nil || ir.Root == nil {
		b.WriteString("(no workflow data)\n")
		return b.String(), nil
	}

	table := tablewriter.NewWriter(&b)
	headers := []string{"STEP", "STATE", "DURATION", "RETRIES"}
	if opts.Heatmap != nil {
		headers = append(headers, "HEAT")
	}
	table.SetHeader(headers)

	ir.Root.Walk(func(n *flowviz.FlowNode) {
		if n.Kind != flowviz.KindStep {
			return
		}
		label := n.Name
		if label == "" {
			label = n.Key
		}
		if label == "" {
			label = n.ID
		}
		duration := "-"
		if n.Duration > 0 {
			duration = formatDuration(n.Duration)
		}
		row := []string{label, string(n.State), duration, fmt.Sprintf("%d", n.Retries)}
		if opts.Heatmap != nil {
			row = append(row, heatTag(opts.Heatmap, heatmap.NodeKey(n)))
		}
		table.Append(row)
	})
	table.Render()

	stats := ir.Stats()
	b.WriteString(summaryFooter(stats))
	b.WriteString("\n")
	return b.String(), nil
}

func summaryFooter(stats flowviz.IRStats) string {
	parts := []string{fmt.Sprintf("%d steps", stats.TotalSteps)}

	states := make([]string, 0, len(stats.ByState))
	for state := range stats.ByState {
		states = append(states, string(state))
	}
	sort.Strings(states)
	for _, state := range states {
		parts = append(parts, fmt.Sprintf("%d %s", stats.ByState[flowviz.NodeState(state)], state))
	}
	if stats.TotalRetries > 0 {
		parts = append(parts, fmt.Sprintf("%d retries", stats.TotalRetries))
	}
	if stats.Duration > 0 {
		parts = append(parts, formatDuration(stats.Duration))
	}
	return strings.Join(parts, ", ")
}
