// Package mermaid renders an execution tree as a Mermaid flowchart: a
// direction header, one node declaration per node, one edge line per
// connection, and a trailing block of class definitions. The output parses
// under Mermaid's own flowchart grammar.
package mermaid

import (
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/flowviz"
	"github.com/deepnoodle-ai/flowviz/heatmap"
	"github.com/deepnoodle-ai/flowviz/render"
)

const indent = "    "

// Render produces the Mermaid flowchart for the given tree. It is pure and
// deterministic: identical inputs yield byte-identical output, and the id
// counter is local to each call. A nil or shapeless IR renders as a
// placeholder diagram rather than failing.
func Render(ir *flowviz.WorkflowIR, opts render.Options) (string, error) {
	r := &renderer{
		ids:      render.NewIDAllocator(),
		opts:     opts,
		theme:    opts.ResolveTheme(),
		hide:     opts.HideFilter(),
		collapse: opts.CollapseFilter(),
	}
	r.printf("flowchart %s\n", opts.Direction.Normalize())

	if ir == nil || ir.Root == nil {
		id := r.ids.Allocate("empty")
		r.node(id, `["no workflow data"]`, "unknown")
		return r.finish(), nil
	}

	start := r.ids.Allocate("flow_start")
	r.node(start, "((Start))", "startEnd")

	exit := r.sequence(ir.Root.Children, start)

	if ir.Root.State.Terminal() {
		end := r.ids.Allocate("flow_end")
		r.node(end, "((End))", "startEnd")
		r.edge(exit, end, "", edgeSolid)
	}
	return r.finish(), nil
}

type edgeKind int

const (
	edgeSolid edgeKind = iota
	edgeThick
	edgeDotted
)

type renderer struct {
	b          strings.Builder
	ids        *render.IDAllocator
	opts       render.Options
	theme      *render.Theme
	hide       *render.Filter
	collapse   *render.Filter
	classOrder []string
	classSeen  map[string]bool
}

func (r *renderer) printf(format string, args ...any) {
	fmt.Fprintf(&r.b, format, args...)
}

// node emits one node declaration. The shape string carries the Mermaid
// brackets around the (already escaped) label, e.g. `["text"]`.
func (r *renderer) node(id, shape, class string) {
	r.printf("%s%s%s:::%s\n", indent, id, shape, class)
	r.useClass(class)
}

func (r *renderer) edge(from, to, label string, kind edgeKind) {
	if from == "" || to == "" {
		return
	}
	arrow := "-->"
	switch kind {
	case edgeThick:
		arrow = "==>"
	case edgeDotted:
		arrow = "-.->"
	}
	if label != "" {
		r.printf("%s%s %s|%s| %s\n", indent, from, arrow, escapeLabel(label), to)
	} else {
		r.printf("%s%s %s %s\n", indent, from, arrow, to)
	}
}

func (r *renderer) useClass(class string) {
	if r.classSeen == nil {
		r.classSeen = make(map[string]bool)
	}
	if !r.classSeen[class] {
		r.classSeen[class] = true
		r.classOrder = append(r.classOrder, class)
	}
}

// sequence chains a sibling list: each node's entry connects to the
// previous node's exit. Returns the exit id of the last visible node, or
// the incoming entry when everything was hidden.
func (r *renderer) sequence(children []*flowviz.FlowNode, from string) string {
	for _, child := range children {
		entry, exit := r.renderNode(child)
		if entry == "" {
			continue
		}
		r.edge(from, entry, "", edgeSolid)
		from = exit
	}
	return from
}

// renderNode emits one node (and its subtree) and returns its entry and
// exit ids. Hidden nodes return empty ids.
func (r *renderer) renderNode(n *flowviz.FlowNode) (string, string) {
	if n == nil {
		id := r.ids.Allocate("missing")
		r.node(id, `["unknown node"]`, "unknown")
		return id, id
	}
	if r.hide.Match(n) {
		return "", ""
	}
	if r.collapse.Match(n) && n.Kind != flowviz.KindStep {
		id := r.ids.NodeID(n)
		r.node(id, quoted("[", r.label(n), "]"), r.nodeClass(n))
		return id, id
	}
	switch n.Kind {
	case flowviz.KindStep:
		return r.renderStep(n)
	case flowviz.KindParallel:
		return r.renderParallel(n)
	case flowviz.KindRace:
		return r.renderRace(n)
	case flowviz.KindDecision:
		return r.renderDecision(n)
	case flowviz.KindStream:
		id := r.ids.NodeID(n)
		r.node(id, quoted("[(", r.streamLabel(n), ")]"), r.nodeClass(n))
		return id, id
	default:
		id := r.ids.NodeID(n)
		r.node(id, quoted("[", "unknown node: "+string(n.Kind), "]"), "unknown")
		return id, id
	}
}

func (r *renderer) renderStep(n *flowviz.FlowNode) (string, string) {
	id := r.ids.NodeID(n)
	r.node(id, quoted("[", r.label(n), "]"), r.nodeClass(n))

	if r.opts.ShowRetryEdges && n.Retries > 0 {
		r.edge(id, id, fmt.Sprintf("%d retries", n.Retries), edgeDotted)
	}
	if r.opts.ExpandRetry && n.Retries > 0 {
		r.renderRetryLogic(n, id)
	}
	if n.TimedOut && r.opts.ShowTimeoutEdges {
		timeoutID := r.ids.Allocate(id + "_timeout")
		label := "timed out"
		if n.TimeoutLimit > 0 {
			label = "timed out at " + formatDuration(n.TimeoutLimit)
		}
		r.node(timeoutID, quoted("([", label, "])"), "errorNode")
		r.edge(id, timeoutID, "timeout", edgeDotted)
	} else if n.State == flowviz.StateError && (r.opts.ShowErrorEdges || r.opts.ShowInlineErrors) {
		errorID := r.ids.Allocate(id + "_error")
		label := "error"
		if r.opts.ShowInlineErrors && n.Error != "" {
			label = truncate(n.Error, 60)
		}
		r.node(errorID, quoted("([", label, "])"), "errorNode")
		r.edge(id, errorID, "error", edgeDotted)
	}
	return id, id
}

// renderRetryLogic expands a retried step into a subgraph contrasting the
// eventual success against the retries-exhausted outcome.
func (r *renderer) renderRetryLogic(n *flowviz.FlowNode, stepID string) {
	subID := r.ids.Allocate(stepID + "_retry")
	r.printf("%ssubgraph %s[\"retry logic\"]\n", indent, subID)
	attemptID := r.ids.Allocate(stepID + "_attempt")
	r.node(attemptID, quoted("[", fmt.Sprintf("attempt (%d retries)", n.Retries), "]"), "retryNode")
	if n.State == flowviz.StateError {
		exhaustedID := r.ids.Allocate(stepID + "_exhausted")
		r.node(exhaustedID, `(["retries exhausted"])`, "errorNode")
		r.edge(attemptID, exhaustedID, "failure", edgeDotted)
	} else {
		successID := r.ids.Allocate(stepID + "_recovered")
		r.node(successID, `(["succeeded"])`, "successNode")
		r.edge(attemptID, successID, "success", edgeSolid)
	}
	r.printf("%send\n", indent)
	r.edge(stepID, subID, "", edgeDotted)
}

// renderParallel emits fork and join anchors with every child reachable
// from the fork and reconnecting at the join. Loop containers add a
// loop-back edge from join to fork.
func (r *renderer) renderParallel(n *flowviz.FlowNode) (string, string) {
	base := r.ids.NodeID(n)
	fork := r.ids.Allocate(base + "_fork")
	join := r.ids.Allocate(base + "_join")
	r.node(fork, "((fork))", "forkJoin")
	for _, child := range n.Children {
		entry, exit := r.renderNode(child)
		if entry == "" {
			continue
		}
		r.edge(fork, entry, "", edgeSolid)
		r.edge(exit, join, "", edgeSolid)
	}
	r.node(join, "((join))", "forkJoin")
	if n.Mode == flowviz.ModeLoop {
		r.edge(join, fork, "loop", edgeDotted)
	}
	return fork, join
}

// renderRace emits start and end anchors, distinguishing the winning
// child's edge and marking the rest as cancelled once a winner is known.
func (r *renderer) renderRace(n *flowviz.FlowNode) (string, string) {
	base := r.ids.NodeID(n)
	start := r.ids.Allocate(base + "_race")
	end := r.ids.Allocate(base + "_settled")
	r.node(start, "((race))", "forkJoin")
	winnerKnown := n.WinnerID != ""
	for _, child := range n.Children {
		entry, exit := r.renderNode(child)
		if entry == "" {
			continue
		}
		switch {
		case winnerKnown && child.ID == n.WinnerID:
			r.edge(start, entry, "", edgeThick)
			r.edge(exit, end, "winner", edgeThick)
		case winnerKnown:
			r.edge(start, entry, "", edgeDotted)
			r.edge(exit, end, "cancelled", edgeDotted)
		default:
			r.edge(start, entry, "", edgeSolid)
			r.edge(exit, end, "", edgeSolid)
		}
	}
	r.node(end, "((end))", "forkJoin")
	return start, end
}

// renderDecision emits a branch point: one edge per branch labeled with
// its condition, with only the taken branch's exit carrying onward. When
// no branch was taken the decision node itself is the exit.
func (r *renderer) renderDecision(n *flowviz.FlowNode) (string, string) {
	id := r.ids.NodeID(n)
	label := n.Name
	if label == "" {
		label = "decision"
	}
	r.node(id, quoted("{", label, "}"), r.nodeClass(n))

	exit := id
	for _, branch := range n.Branches {
		edgeLabel := branch.Condition
		if edgeLabel == "" {
			edgeLabel = branch.Label
		}
		branchExit := id
		first := true
		for _, child := range branch.Children {
			entry, childExit := r.renderNode(child)
			if entry == "" {
				continue
			}
			if first {
				r.edge(id, entry, edgeLabel, edgeSolid)
				first = false
			} else {
				r.edge(branchExit, entry, "", edgeSolid)
			}
			branchExit = childExit
		}
		if branch.Taken && branchExit != id {
			exit = branchExit
		}
	}
	return id, exit
}

// nodeClass picks the style class for a node: its heat level when a
// heatmap overlay supplies one, its state otherwise.
func (r *renderer) nodeClass(n *flowviz.FlowNode) string {
	if level, ok := r.opts.HeatLevel(n); ok {
		return "heat_" + string(level)
	}
	return string(n.State)
}

func (r *renderer) label(n *flowviz.FlowNode) string {
	label := n.Name
	if label == "" {
		label = n.Key
	}
	if label == "" {
		label = n.ID
	}
	if r.opts.ShowKeys && n.Key != "" && n.Key != label {
		label += " (" + n.Key + ")"
	}
	if n.State == flowviz.StateCached {
		label += " (cached)"
	}
	if r.opts.ShowTimings && n.Duration > 0 {
		label += " " + formatDuration(n.Duration)
	}
	return label
}

func (r *renderer) streamLabel(n *flowviz.FlowNode) string {
	label := fmt.Sprintf("%s w:%d r:%d", n.Namespace, n.Writes, n.Reads)
	if n.Backpressure {
		label += " backpressure"
	}
	return label
}

// finish appends the trailing classDef block, one line per class used, in
// first-use order.
func (r *renderer) finish() string {
	for _, class := range r.classOrder {
		style := r.classStyle(class)
		r.printf("%sclassDef %s fill:%s,stroke:%s,color:%s\n",
			indent, class, style.Fill, style.Stroke, style.Text)
	}
	return r.b.String()
}

func (r *renderer) classStyle(class string) render.Style {
	if level, ok := strings.CutPrefix(class, "heat_"); ok {
		return r.theme.HeatStyle(heatmap.HeatLevel(level))
	}
	switch class {
	case "startEnd", "forkJoin":
		return r.theme.StateStyle(flowviz.StatePending)
	case "errorNode":
		return r.theme.StateStyle(flowviz.StateError)
	case "successNode":
		return r.theme.StateStyle(flowviz.StateSuccess)
	case "retryNode":
		return r.theme.StateStyle(flowviz.StateRunning)
	case "unknown":
		return r.theme.StateStyle(flowviz.StateSkipped)
	default:
		return r.theme.StateStyle(flowviz.NodeState(class))
	}
}

// quoted wraps escaped label text in the given Mermaid shape brackets.
func quoted(opening, text, closing string) string {
	return opening + `"` + escape(text) + `"` + closing
}

// escape replaces the characters Mermaid treats specially inside quoted
// node text with its entity codes.
func escape(s string) string {
	return strings.NewReplacer(
		`"`, "#quot;",
		"<", "#lt;",
		">", "#gt;",
	).Replace(s)
}

// escapeLabel escapes edge-label text, which additionally cannot contain
// the pipe that delimits it.
func escapeLabel(s string) string {
	return strings.ReplaceAll(escape(s), "|", "/")
}

// truncate limits a string to max runes; byte slicing could cut a
// multibyte rune in half.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// formatDuration renders a duration rounded to a readable precision.
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(time.Millisecond).String()
	default:
		return d.String()
	}
}
