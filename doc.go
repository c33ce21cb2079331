// Package flowviz reconstructs and visualizes workflow executions from
// their lifecycle event streams. It folds an ordered sequence of events
// into a hierarchical execution tree and renders that tree as diagram
// markup, a self-contained SVG/HTML page, or terminal text, with optional
// time-travel replay and performance overlays.
//
// The core types are:
//
//   - [WorkflowEvent] is one lifecycle event with a typed [EventData] payload.
//   - [Builder] folds an event stream into a [WorkflowIR] execution tree.
//   - [FlowNode] is the tree's unit of structure (step, parallel, race,
//     decision, stream, workflow).
//   - [DetectParallelGroups] infers concurrency groups from timestamps when
//     the stream carries no explicit scope boundaries.
//
// # Quick Start
//
//	builder := flowviz.NewBuilder(flowviz.BuilderOptions{})
//	for _, event := range events {
//	    builder.HandleEvent(event)
//	}
//	out, _ := mermaid.Render(builder.IR(), render.Options{ShowTimings: true})
//	fmt.Println(out)
//
// Renderers are in the [github.com/deepnoodle-ai/flowviz/render] subpackages.
// Snapshot replay is in [github.com/deepnoodle-ai/flowviz/timetravel], and
// performance overlays in [github.com/deepnoodle-ai/flowviz/heatmap].
package flowviz
