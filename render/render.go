// Package render holds the options and helpers shared by the flowviz
// renderers: layout direction, themes, node filters, deterministic id
// allocation, and a concurrent multi-format fan-out. The renderers
// themselves live in the mermaid, svg, and text subpackages.
package render

import (
	"fmt"
	"sync"

	"github.com/deepnoodle-ai/flowviz"
	"github.com/deepnoodle-ai/flowviz/heatmap"
	"golang.org/x/sync/errgroup"
)

// Direction selects the diagram layout direction.
type Direction string

const (
	TopToBottom Direction = "TB"
	BottomToTop Direction = "BT"
	LeftToRight Direction = "LR"
	RightToLeft Direction = "RL"
)

// Normalize maps the zero value and unknown directions to TopToBottom.
func (d Direction) Normalize() Direction {
	switch d {
	case TopToBottom, BottomToTop, LeftToRight, RightToLeft:
		return d
	}
	return TopToBottom
}

// Options control what the renderers emit. The zero value renders a plain
// diagram with no overlays, laid out top to bottom with the default theme.
type Options struct {
	// ShowTimings annotates nodes with their observed durations.
	ShowTimings bool

	// ShowKeys annotates nodes with their step keys.
	ShowKeys bool

	// Direction is the diagram layout direction.
	Direction Direction

	// ShowRetryEdges adds a self-loop edge summarizing a step's retries.
	ShowRetryEdges bool

	// ShowErrorEdges adds an edge to an inline terminal node for each
	// failed step.
	ShowErrorEdges bool

	// ShowTimeoutEdges adds an edge to an inline terminal node for each
	// timed-out step.
	ShowTimeoutEdges bool

	// ExpandRetry expands retried steps into a subgraph showing the
	// success versus retries-exhausted outcomes.
	ExpandRetry bool

	// ShowInlineErrors labels inline error nodes with the step's captured
	// error text instead of a generic marker.
	ShowInlineErrors bool

	// Heatmap, when set, substitutes heat-level styling for state styling
	// on nodes with heat data.
	Heatmap *heatmap.Data

	// Theme selects the color palette. Nil means DefaultTheme.
	Theme *Theme

	// HidePatterns are glob patterns (matched against node key and name)
	// for nodes to omit entirely, subtree included.
	HidePatterns []string

	// CollapsePatterns are glob patterns for container nodes to render as
	// a single node without descending into their children.
	CollapsePatterns []string

	// HTML-target toggles.
	Interactive   bool
	TimeTravel    bool
	HeatmapToggle bool

	// Snapshots feed the HTML time-travel scrubber.
	Snapshots []*flowviz.WorkflowIR
}

// ResolveTheme returns the configured theme or the default.
func (o Options) ResolveTheme() *Theme {
	if o.Theme != nil {
		return o.Theme
	}
	return DefaultTheme()
}

// HeatLevel resolves the heat level for a node when a heatmap overlay is
// active, reporting false otherwise.
func (o Options) HeatLevel(n *flowviz.FlowNode) (heatmap.HeatLevel, bool) {
	if o.Heatmap == nil || n == nil {
		return "", false
	}
	return o.Heatmap.Level(heatmap.NodeKey(n))
}

// Func renders one IR into one output format.
type Func func(*flowviz.WorkflowIR, Options) (string, error)

// All renders the same IR into every named format concurrently and returns
// the results keyed by format name. Rendering is pure, so the formats can
// run in parallel over the shared tree. The first error cancels nothing
// already running but fails the call.
func All(ir *flowviz.WorkflowIR, opts Options, targets map[string]Func) (map[string]string, error) {
	results := make(map[string]string, len(targets))
	var mutex sync.Mutex
	var group errgroup.Group
	for name, fn := range targets {
		if fn == nil {
			return nil, fmt.Errorf("nil renderer for target %q", name)
		}
		group.Go(func() error {
			output, err := fn(ir, opts)
			if err != nil {
				return fmt.Errorf("render %s: %w", name, err)
			}
			mutex.Lock()
			results[name] = output
			mutex.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
