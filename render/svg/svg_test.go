package svg

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/deepnoodle-ai/flowviz"
	"github.com/deepnoodle-ai/flowviz/heatmap"
	"github.com/deepnoodle-ai/flowviz/render"
	"github.com/deepnoodle-ai/flowviz/timetravel"
	"github.com/stretchr/testify/require"
)

type seq struct {
	n    int64
	base time.Time
}

func newSeq() *seq {
	return &seq{base: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (s *seq) at(offset time.Duration, data flowviz.EventData) *flowviz.WorkflowEvent {
	s.n++
	return &flowviz.WorkflowEvent{
		ID:         flowviz.NewEventID(),
		WorkflowID: "wf-svg",
		Sequence:   s.n,
		Timestamp:  s.base.Add(offset),
		Type:       data.EventType(),
		Data:       data,
	}
}

func simpleEvents(s *seq) []*flowviz.WorkflowEvent {
	return []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{Name: "render-me"}),
		s.at(time.Millisecond, &flowviz.StepStartedData{
			StepRef: flowviz.StepRef{Key: "resize"}, Name: "Resize Image",
		}),
		s.at(30*time.Millisecond, &flowviz.StepCompletedData{
			StepRef: flowviz.StepRef{Key: "resize"}, Duration: 29 * time.Millisecond,
		}),
		s.at(31*time.Millisecond, &flowviz.WorkflowCompletedData{}),
	}
}

func buildIR(t *testing.T, events []*flowviz.WorkflowEvent) *flowviz.WorkflowIR {
	t.Helper()
	b := flowviz.NewBuilder(flowviz.BuilderOptions{})
	for _, event := range events {
		b.HandleEvent(event)
	}
	ir := b.IR()
	require.NotNil(t, ir)
	return ir
}

func TestRenderDocumentStructure(t *testing.T) {
	ir := buildIR(t, simpleEvents(newSeq()))
	out, err := Render(ir, render.Options{ShowTimings: true})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	require.Contains(t, out, "<title>render-me</title>")
	require.Contains(t, out, "<svg id=\"diagram\"")
	require.Contains(t, out, "Resize Image")
	require.Contains(t, out, "29ms")
	require.Contains(t, out, "marker-end=\"url(#arrow)\"")
	require.Contains(t, out, `id="flowviz-state"`)
	// No interactivity requested, so no client script.
	require.NotContains(t, out, "addEventListener")
}

func TestRenderDeterministic(t *testing.T) {
	ir := buildIR(t, simpleEvents(newSeq()))
	opts := render.Options{Interactive: true, ShowTimings: true}
	first, err := Render(ir, opts)
	require.NoError(t, err)
	second, err := Render(ir, opts)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRenderEscapesMarkup(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{Name: `a & b <script>"x"</script>`}),
		s.at(time.Millisecond, &flowviz.StepStartedData{
			StepRef: flowviz.StepRef{Key: "esc"}, Name: `"<&>"`,
		}),
		s.at(2*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "esc"}}),
		s.at(3*time.Millisecond, &flowviz.WorkflowCompletedData{}),
	})

	out, err := Render(ir, render.Options{})
	require.NoError(t, err)
	require.NotContains(t, out, `<script>"x"`)
	require.Contains(t, out, "&lt;script&gt;")
	require.Contains(t, out, "&quot;&lt;&amp;&gt;&quot;")
}

func TestRenderEscapesPayloadForInlineEmbedding(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{Name: "</script><b>"}),
		s.at(time.Millisecond, &flowviz.WorkflowCompletedData{}),
	})

	out, err := Render(ir, render.Options{Interactive: true})
	require.NoError(t, err)
	// The JSON encoder escapes angle brackets, so the payload cannot
	// close its own script element.
	require.NotContains(t, out, "</script><b>")
	require.Contains(t, out, `</script>`)
}

func TestRenderInteractiveFeatures(t *testing.T) {
	controller := timetravel.NewController(timetravel.ControllerOptions{})
	for _, event := range simpleEvents(newSeq()) {
		controller.HandleEvent(event)
	}
	state := controller.State()
	ir := state.Snapshots[len(state.Snapshots)-1]

	analyzer := heatmap.NewAnalyzer(heatmap.AnalyzerOptions{})
	data := analyzer.Analyze(heatmap.MetricDuration, ir)

	out, err := Render(ir, render.Options{
		Interactive:   true,
		TimeTravel:    true,
		HeatmapToggle: true,
		Heatmap:       data,
		Snapshots:     state.Snapshots,
	})
	require.NoError(t, err)

	require.Contains(t, out, `id="scrubber"`)
	require.Contains(t, out, `max="3"`)
	require.Contains(t, out, `id="heatmap-toggle"`)
	require.Contains(t, out, `"frames"`)
	require.Contains(t, out, "addEventListener")
	require.Contains(t, out, `data-heat="critical"`)
}

func TestRenderParallelForkJoin(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{}),
		s.at(time.Millisecond, &flowviz.ScopeStartedData{ScopeID: "par-1", Mode: flowviz.ModeAll}),
		s.at(2*time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "a"}}),
		s.at(2*time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "b"}}),
		s.at(9*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "a"}}),
		s.at(10*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "b"}}),
		s.at(11*time.Millisecond, &flowviz.ScopeEndedData{ScopeID: "par-1"}),
		s.at(12*time.Millisecond, &flowviz.WorkflowCompletedData{}),
	})

	out, err := Render(ir, render.Options{})
	require.NoError(t, err)
	require.Contains(t, out, "par_1_fork")
	require.Contains(t, out, "par_1_join")
	require.Contains(t, out, `data-key="a"`)
	require.Contains(t, out, `data-key="b"`)
}

func newLayouter(opts render.Options) *layouter {
	return &layouter{
		ids:  render.NewIDAllocator(),
		opts: opts,
		hide: opts.HideFilter(),
	}
}

func TestLayoutContainerEdgesTouchChildren(t *testing.T) {
	par := &flowviz.FlowNode{
		ID:    "par-1",
		Kind:  flowviz.KindParallel,
		State: flowviz.StateSuccess,
		Mode:  flowviz.ModeAll,
		Children: []*flowviz.FlowNode{
			{ID: "s-a", Kind: flowviz.KindStep, Key: "a", State: flowviz.StateSuccess},
			{ID: "s-b", Kind: flowviz.KindStep, Key: "b", State: flowviz.StateSuccess},
		},
	}
	b := newLayouter(render.Options{}).layoutNode(par)

	targets := make(map[point]bool)
	sources := make(map[point]bool)
	for _, e := range b.Edges {
		targets[e.To] = true
		sources[e.From] = true
	}
	steps := 0
	for _, n := range b.Nodes {
		if n.Shape != shapeRect {
			continue
		}
		steps++
		entry := point{X: n.X + n.W/2, Y: n.Y}
		exit := point{X: n.X + n.W/2, Y: n.Y + n.H}
		require.True(t, targets[entry], "no edge terminates at %q's entry", n.OutputID)
		require.True(t, sources[exit], "no edge leaves %q's exit", n.OutputID)
	}
	require.Equal(t, 2, steps)
}

func TestLayoutDecisionTakenBranchChains(t *testing.T) {
	dec := &flowviz.FlowNode{
		ID:    "dec-1",
		Kind:  flowviz.KindDecision,
		Name:  "route",
		State: flowviz.StateSuccess,
		Branches: []*flowviz.Branch{
			{Label: "card", Taken: true, Children: []*flowviz.FlowNode{
				{ID: "s-y", Kind: flowviz.KindStep, Key: "bill", State: flowviz.StateSuccess},
			}},
			{Label: "invoice", Children: []*flowviz.FlowNode{
				{ID: "s-n", Kind: flowviz.KindStep, Key: "defer", State: flowviz.StateSkipped},
			}},
		},
	}
	b := newLayouter(render.Options{}).layoutNode(dec)

	var taken *placedNode
	for _, n := range b.Nodes {
		if n.Key == "bill" {
			taken = n
		}
	}
	require.NotNil(t, taken)

	// The taken branch's exit carries the chain onward.
	require.Equal(t, point{X: taken.X + taken.W/2, Y: taken.Y + taken.H}, b.Exit)

	// The diamond's branch edge lands on the taken child's entry.
	entry := point{X: taken.X + taken.W/2, Y: taken.Y}
	found := false
	for _, e := range b.Edges {
		if e.To == entry {
			found = true
			require.Equal(t, "card", e.Label)
		}
	}
	require.True(t, found)
}

func TestRenderRetryAndErrorOverlays(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{}),
		s.at(time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "flaky"}}),
		s.at(2*time.Millisecond, &flowviz.StepRetriedData{StepRef: flowviz.StepRef{Key: "flaky"}, Attempt: 1}),
		s.at(3*time.Millisecond, &flowviz.StepRetriedData{StepRef: flowviz.StepRef{Key: "flaky"}, Attempt: 2}),
		s.at(4*time.Millisecond, &flowviz.StepFailedData{StepRef: flowviz.StepRef{Key: "flaky"}, Error: "backend down"}),
		s.at(5*time.Millisecond, &flowviz.WorkflowFailedData{Error: "failed"}),
	})

	out, err := Render(ir, render.Options{
		ShowRetryEdges:   true,
		ShowInlineErrors: true,
		ExpandRetry:      true,
	})
	require.NoError(t, err)
	require.Contains(t, out, "2 retries")
	require.Contains(t, out, "backend down")
	require.Contains(t, out, "retries exhausted")
	require.Contains(t, out, "failure")
	require.Contains(t, out, `class="edge dashed"`)

	// Without the toggles none of the overlay markup appears.
	plain, err := Render(ir, render.Options{})
	require.NoError(t, err)
	require.NotContains(t, plain, "2 retries")
	require.NotContains(t, plain, "retries exhausted")
}

func TestRenderTimeoutOverlay(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{}),
		s.at(time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "slow"}}),
		s.at(2*time.Second, &flowviz.StepTimedOutData{StepRef: flowviz.StepRef{Key: "slow"}, Limit: 2 * time.Second}),
		s.at(2*time.Second+time.Millisecond, &flowviz.WorkflowFailedData{Error: "timeout"}),
	})

	out, err := Render(ir, render.Options{ShowTimeoutEdges: true})
	require.NoError(t, err)
	require.Contains(t, out, "timed out at 2s")
}

func TestRenderTruncatesLabelsOnRuneBoundaries(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{Name: "wide"}),
		s.at(time.Millisecond, &flowviz.StepStartedData{
			StepRef: flowviz.StepRef{Key: "wide"}, Name: strings.Repeat("画", 40),
		}),
		s.at(2*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "wide"}}),
		s.at(3*time.Millisecond, &flowviz.WorkflowCompletedData{}),
	})

	out, err := Render(ir, render.Options{})
	require.NoError(t, err)
	require.True(t, utf8.ValidString(out))
	require.Contains(t, out, "…")
}

func TestRenderNilIR(t *testing.T) {
	out, err := Render(nil, render.Options{})
	require.NoError(t, err)
	require.Contains(t, out, "no workflow data")
}
