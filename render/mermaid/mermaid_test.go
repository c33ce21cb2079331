package mermaid

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/deepnoodle-ai/flowviz"
	"github.com/deepnoodle-ai/flowviz/heatmap"
	"github.com/deepnoodle-ai/flowviz/render"
	"github.com/stretchr/testify/require"
)

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

type seq struct {
	workflowID string
	n          int64
	base       time.Time
}

func newSeq() *seq {
	return &seq{
		workflowID: "wf-render",
		base:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *seq) at(offset time.Duration, data flowviz.EventData) *flowviz.WorkflowEvent {
	s.n++
	return &flowviz.WorkflowEvent{
		ID:         flowviz.NewEventID(),
		WorkflowID: s.workflowID,
		Sequence:   s.n,
		Timestamp:  s.base.Add(offset),
		Type:       data.EventType(),
		Data:       data,
	}
}

func TestRenderSingleStepEndToEnd(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{Name: "sync"}),
		s.at(time.Millisecond, &flowviz.StepStartedData{
			StepRef: flowviz.StepRef{Key: "fetch-user"},
			Name:    "fetch-user",
		}),
		s.at(46*time.Millisecond, &flowviz.StepCompletedData{
			StepRef:  flowviz.StepRef{Key: "fetch-user"},
			Duration: 45 * time.Millisecond,
		}),
		s.at(50*time.Millisecond, &flowviz.WorkflowCompletedData{}),
	})

	out, err := Render(ir, render.Options{})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(out, "flowchart TB\n"))
	require.Contains(t, out, "flow_start((Start))")
	require.Contains(t, out, `fetch_user["fetch-user"]`)
	require.Contains(t, out, "flow_end((End))")
	require.Contains(t, out, "flow_start --> fetch_user")
	require.Contains(t, out, "fetch_user --> flow_end")
	require.Contains(t, out, "classDef success")
}

func TestRenderIdempotence(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{}),
		s.at(time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "a"}}),
		s.at(2*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "a"}}),
		s.at(3*time.Millisecond, &flowviz.WorkflowCompletedData{}),
	})
	opts := render.Options{ShowTimings: true, Direction: render.LeftToRight}

	first, err := Render(ir, opts)
	require.NoError(t, err)
	second, err := Render(ir, opts)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRenderDecisionTakenBranchChainsOnward(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{}),
		s.at(time.Millisecond, &flowviz.DecisionStartedData{DecisionID: "dec-1", Name: "route"}),
		s.at(2*time.Millisecond, &flowviz.DecisionBranchData{
			DecisionID: "dec-1", Label: "premium", Condition: "user.tier == premium", Taken: true,
		}),
		s.at(3*time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "bill"}}),
		s.at(4*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "bill"}}),
		s.at(5*time.Millisecond, &flowviz.DecisionEndedData{DecisionID: "dec-1"}),
		s.at(6*time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "notify"}}),
		s.at(7*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "notify"}}),
		s.at(8*time.Millisecond, &flowviz.WorkflowCompletedData{}),
	})

	out, err := Render(ir, render.Options{})
	require.NoError(t, err)

	// The branch edge carries the condition text.
	require.Contains(t, out, "|user.tier == premium| bill")
	// The taken branch's exit chains to the step after the decision.
	require.Contains(t, out, "bill --> notify")
}

func TestRenderDecisionWithoutTakenBranchExitsFromDecision(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{}),
		s.at(time.Millisecond, &flowviz.DecisionStartedData{DecisionID: "dec-1", Name: "route"}),
		s.at(2*time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "orphan"}}),
		s.at(3*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "orphan"}}),
		s.at(4*time.Millisecond, &flowviz.DecisionEndedData{DecisionID: "dec-1"}),
		s.at(5*time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "after"}}),
		s.at(6*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "after"}}),
		s.at(7*time.Millisecond, &flowviz.WorkflowCompletedData{}),
	})

	out, err := Render(ir, render.Options{})
	require.NoError(t, err)

	// The orphan step is still attached to the decision.
	require.Contains(t, out, "|pending| orphan")
	// With no taken branch the decision itself carries onward.
	require.Contains(t, out, "route --> after")
}

func TestRenderRaceWinner(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{}),
		s.at(time.Millisecond, &flowviz.ScopeStartedData{ScopeID: "race-1", Mode: flowviz.ModeRace}),
		s.at(2*time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "cache"}}),
		s.at(2*time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "origin"}}),
		s.at(5*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "cache"}}),
		s.at(6*time.Millisecond, &flowviz.ScopeEndedData{ScopeID: "race-1", WinnerID: "cache"}),
		s.at(7*time.Millisecond, &flowviz.WorkflowCompletedData{}),
	})

	out, err := Render(ir, render.Options{})
	require.NoError(t, err)

	require.Contains(t, out, "cache ==>|winner|")
	require.Contains(t, out, "origin -.->|cancelled|")
}

func TestRenderEscapesQuotesAndAngleBrackets(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{}),
		s.at(time.Millisecond, &flowviz.StepStartedData{
			StepRef: flowviz.StepRef{Key: "render"},
			Name:    `emit "<html>" page`,
		}),
		s.at(2*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "render"}}),
		s.at(3*time.Millisecond, &flowviz.WorkflowCompletedData{}),
	})

	out, err := Render(ir, render.Options{})
	require.NoError(t, err)
	require.Contains(t, out, "emit #quot;#lt;html#gt;#quot; page")
	require.NotContains(t, out, "<html>")
}

func TestRenderSyntheticParallelGroup(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{}),
		s.at(time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "left"}}),
		s.at(2*time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "right"}}),
		s.at(10*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "left"}}),
		s.at(11*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "right"}}),
		s.at(20*time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "later"}}),
		s.at(25*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "later"}}),
		s.at(30*time.Millisecond, &flowviz.WorkflowCompletedData{}),
	})

	out, err := Render(ir, render.Options{})
	require.NoError(t, err)

	// The overlapping pair renders behind a fork/join; the later step does not.
	require.Contains(t, out, "((fork))")
	require.Contains(t, out, "((join))")
	require.Contains(t, out, "--> left")
	require.Contains(t, out, "--> right")
	require.Contains(t, out, "--> later")
	require.Equal(t, 1, strings.Count(out, "((fork))"))
}

func TestRenderOverlays(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{}),
		s.at(time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "flaky"}}),
		s.at(2*time.Millisecond, &flowviz.StepRetriedData{StepRef: flowviz.StepRef{Key: "flaky"}, Attempt: 1}),
		s.at(3*time.Millisecond, &flowviz.StepRetriedData{StepRef: flowviz.StepRef{Key: "flaky"}, Attempt: 2}),
		s.at(4*time.Millisecond, &flowviz.StepFailedData{StepRef: flowviz.StepRef{Key: "flaky"}, Error: "connection refused"}),
		s.at(5*time.Millisecond, &flowviz.WorkflowFailedData{Error: "step failed"}),
	})

	plain, err := Render(ir, render.Options{})
	require.NoError(t, err)
	require.NotContains(t, plain, "retries")
	require.NotContains(t, plain, "connection refused")

	out, err := Render(ir, render.Options{
		ShowRetryEdges:   true,
		ShowInlineErrors: true,
		ExpandRetry:      true,
	})
	require.NoError(t, err)
	require.Contains(t, out, "|2 retries| flaky")
	require.Contains(t, out, "connection refused")
	require.Contains(t, out, `subgraph flaky_retry["retry logic"]`)
	require.Contains(t, out, "retries exhausted")
}

func TestRenderHeatmapOverrides(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{}),
		s.at(time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "slow"}}),
		s.at(2*time.Millisecond, &flowviz.StepCompletedData{
			StepRef: flowviz.StepRef{Key: "slow"}, Duration: 900 * time.Millisecond,
		}),
		s.at(3*time.Millisecond, &flowviz.WorkflowCompletedData{}),
	})

	analyzer := heatmap.NewAnalyzer(heatmap.AnalyzerOptions{})
	data := analyzer.Analyze(heatmap.MetricDuration, ir)

	out, err := Render(ir, render.Options{Heatmap: data})
	require.NoError(t, err)
	require.Contains(t, out, ":::heat_critical")
	require.Contains(t, out, "classDef heat_critical")
}

func TestRenderNilIRProducesPlaceholder(t *testing.T) {
	out, err := Render(nil, render.Options{})
	require.NoError(t, err)
	require.Contains(t, out, "flowchart TB")
	require.Contains(t, out, "no workflow data")
}

func TestRenderHidePatterns(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{}),
		s.at(time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "internal-metrics"}}),
		s.at(2*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "internal-metrics"}}),
		s.at(3*time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "publish"}}),
		s.at(4*time.Millisecond, &flowviz.StepCompletedData{StepRef: flowviz.StepRef{Key: "publish"}}),
		s.at(5*time.Millisecond, &flowviz.WorkflowCompletedData{}),
	})

	out, err := Render(ir, render.Options{HidePatterns: []string{"internal-*"}})
	require.NoError(t, err)
	require.NotContains(t, out, "internal_metrics")
	require.Contains(t, out, "publish")
}

func TestRenderTruncatesErrorsOnRuneBoundaries(t *testing.T) {
	s := newSeq()
	ir := buildIR(t, []*flowviz.WorkflowEvent{
		s.at(0, &flowviz.WorkflowStartedData{}),
		s.at(time.Millisecond, &flowviz.StepStartedData{StepRef: flowviz.StepRef{Key: "notify"}}),
		s.at(2*time.Millisecond, &flowviz.StepFailedData{
			StepRef: flowviz.StepRef{Key: "notify"},
			Error:   strings.Repeat("障", 80),
		}),
		s.at(3*time.Millisecond, &flowviz.WorkflowFailedData{Error: "failed"}),
	})

	out, err := Render(ir, render.Options{ShowInlineErrors: true})
	require.NoError(t, err)
	require.True(t, utf8.ValidString(out))
	require.Contains(t, out, "...")
}
