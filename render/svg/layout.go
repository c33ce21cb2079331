package svg

import (
	"fmt"

	"github.com/deepnoodle-ai/flowviz"
	"github.com/deepnoodle-ai/flowviz/heatmap"
	"github.com/deepnoodle-ai/flowviz/render"
)

// Geometry constants for the computed layout, in SVG user units.
const (
	nodeWidth    = 180.0
	nodeHeight   = 56.0
	anchorRadius = 7.0
	vGap         = 48.0
	hGap         = 36.0
	margin       = 40.0
)

// Overlay annotation geometry.
const (
	noteWidth  = 150.0
	noteHeight = 40.0
	loopBulge  = 30.0
)

type shape int

const (
	shapeRect shape = iota
	shapeDiamond
	shapeAnchor
)

// placedNode is one laid-out node, positioned in absolute coordinates
// after layout finishes.
type placedNode struct {
	OutputID string
	Shape    shape
	Label    string
	Timing   string
	Class    string
	Heat     string
	X, Y     float64
	W, H     float64

	// Inspection payload fields.
	Key      string
	State    string
	Kind     string
	Duration string
	Error    string
	Retries  int
}

type point struct {
	X, Y float64
}

// placedEdge connects two points with an optional label and emphasis.
// Loop edges render as an arc bulging to the right of their endpoints.
type placedEdge struct {
	From, To point
	Label    string
	Dashed   bool
	Thick    bool
	Loop     bool
}

// block is a laid-out subtree: its bounding size plus entry/exit
// connection points, all relative to the block's own origin.
type block struct {
	W, H  float64
	Entry point
	Exit  point
	Nodes []*placedNode
	Edges []*placedEdge
}

func (b *block) absorb(other *block) {
	b.Nodes = append(b.Nodes, other.Nodes...)
	b.Edges = append(b.Edges, other.Edges...)
}

func (b *block) shift(dx, dy float64) {
	for _, n := range b.Nodes {
		n.X += dx
		n.Y += dy
	}
	for _, e := range b.Edges {
		e.From.X += dx
		e.From.Y += dy
		e.To.X += dx
		e.To.Y += dy
	}
	b.Entry.X += dx
	b.Entry.Y += dy
	b.Exit.X += dx
	b.Exit.Y += dy
}

type layouter struct {
	ids  *render.IDAllocator
	opts render.Options
	hide *render.Filter
}

// layoutSequence stacks sibling blocks vertically, centered, and chains
// exit to entry.
func (l *layouter) layoutSequence(children []*flowviz.FlowNode) *block {
	blocks := make([]*block, 0, len(children))
	for _, child := range children {
		if l.hide.Match(child) {
			continue
		}
		blocks = append(blocks, l.layoutNode(child))
	}
	return stackVertical(blocks, true)
}

// stackVertical composes blocks top to bottom. When chain is true,
// consecutive blocks are connected exit to entry.
func stackVertical(blocks []*block, chain bool) *block {
	out := &block{}
	if len(blocks) == 0 {
		return out
	}
	var width float64
	for _, b := range blocks {
		if b.W > width {
			width = b.W
		}
	}
	y := 0.0
	var prev *block
	for _, b := range blocks {
		b.shift((width-b.W)/2, y)
		out.Nodes = append(out.Nodes, b.Nodes...)
		out.Edges = append(out.Edges, b.Edges...)
		if chain && prev != nil {
			out.Edges = append(out.Edges, &placedEdge{From: prev.Exit, To: b.Entry})
		}
		y += b.H + vGap
		prev = b
	}
	out.W = width
	out.H = y - vGap
	out.Entry = blocks[0].Entry
	out.Exit = blocks[len(blocks)-1].Exit
	return out
}

// rowExtent returns the combined width and tallest height of blocks laid
// side by side.
func rowExtent(blocks []*block) (w, h float64) {
	for _, b := range blocks {
		w += b.W + hGap
		if b.H > h {
			h = b.H
		}
	}
	if len(blocks) > 0 {
		w -= hGap
	}
	return w, h
}

func (l *layouter) layoutNode(n *flowviz.FlowNode) *block {
	if n == nil {
		return l.leafBlock(&flowviz.FlowNode{ID: "missing", State: flowviz.StatePending},
			shapeRect, "unknown node", "placeholder")
	}
	switch n.Kind {
	case flowviz.KindStep:
		return l.layoutStep(n)
	case flowviz.KindStream:
		label := fmt.Sprintf("%s (w:%d r:%d)", n.Namespace, n.Writes, n.Reads)
		return l.leafBlock(n, shapeRect, label, l.nodeClass(n))
	case flowviz.KindParallel, flowviz.KindRace:
		return l.layoutContainer(n)
	case flowviz.KindDecision:
		return l.layoutDecision(n)
	default:
		return l.leafBlock(n, shapeRect, "unknown node: "+string(n.Kind), "placeholder")
	}
}

// leafBlock lays out one box node.
func (l *layouter) leafBlock(n *flowviz.FlowNode, s shape, label, class string) *block {
	node := &placedNode{
		OutputID: l.ids.NodeID(n),
		Shape:    s,
		Label:    label,
		Class:    class,
		X:        0,
		Y:        0,
		W:        nodeWidth,
		H:        nodeHeight,
		Key:      heatmap.NodeKey(n),
		State:    string(n.State),
		Kind:     string(n.Kind),
		Error:    n.Error,
		Retries:  n.Retries,
	}
	if heat, ok := l.opts.HeatLevel(n); ok {
		node.Heat = string(heat)
	}
	if l.opts.ShowTimings && n.Duration > 0 {
		node.Timing = formatDuration(n.Duration)
	}
	if n.Duration > 0 {
		node.Duration = formatDuration(n.Duration)
	}
	return &block{
		W:     nodeWidth,
		H:     nodeHeight,
		Entry: point{X: nodeWidth / 2, Y: 0},
		Exit:  point{X: nodeWidth / 2, Y: nodeHeight},
		Nodes: []*placedNode{node},
	}
}

// layoutStep lays out one step node plus the overlays the options ask for:
// a retry self-loop, an inline error or timeout note, and the expanded
// retry-logic column. The block's entry and exit stay on the step itself
// so sequence chaining is unaffected.
func (l *layouter) layoutStep(n *flowviz.FlowNode) *block {
	b := l.leafBlock(n, shapeRect, l.label(n), l.nodeClass(n))
	main := b.Nodes[0]

	if l.opts.ShowRetryEdges && n.Retries > 0 {
		b.Edges = append(b.Edges, &placedEdge{
			From:   point{X: main.X + main.W, Y: main.Y + main.H/2 - 9},
			To:     point{X: main.X + main.W, Y: main.Y + main.H/2 + 9},
			Label:  fmt.Sprintf("%d retries", n.Retries),
			Dashed: true,
			Loop:   true,
		})
		if edge := main.X + main.W + loopBulge + 4; edge > b.W {
			b.W = edge
		}
	}

	switch {
	case n.TimedOut && l.opts.ShowTimeoutEdges:
		label := "timed out"
		if n.TimeoutLimit > 0 {
			label = "timed out at " + formatDuration(n.TimeoutLimit)
		}
		l.attachNote(b, main, main.OutputID+"_timeout", label, "timeout", string(flowviz.StateError))
	case n.State == flowviz.StateError && (l.opts.ShowErrorEdges || l.opts.ShowInlineErrors):
		label := "error"
		if l.opts.ShowInlineErrors && n.Error != "" {
			label = n.Error
		}
		l.attachNote(b, main, main.OutputID+"_error", label, "error", string(flowviz.StateError))
	}

	if l.opts.ExpandRetry && n.Retries > 0 {
		l.attachRetryLogic(b, main, n)
	}
	return b
}

// attachNote adds a small annotation box to the right of the step with a
// dashed, labeled edge.
func (l *layouter) attachNote(b *block, main *placedNode, id, text, edgeLabel, state string) {
	x := b.W + hGap
	y := main.Y + (main.H-noteHeight)/2
	note := &placedNode{
		OutputID: l.ids.Allocate(id),
		Shape:    shapeRect,
		Label:    text,
		Class:    "note state-" + state,
		X:        x,
		Y:        y,
		W:        noteWidth,
		H:        noteHeight,
		Kind:     "note",
		State:    state,
	}
	b.Nodes = append(b.Nodes, note)
	b.Edges = append(b.Edges, &placedEdge{
		From:   point{X: main.X + main.W, Y: main.Y + main.H/2},
		To:     point{X: x, Y: y + noteHeight/2},
		Label:  edgeLabel,
		Dashed: true,
	})
	b.W = x + noteWidth
	if bottom := y + noteHeight; bottom > b.H {
		b.H = bottom
	}
}

// attachRetryLogic expands a retried step into an attempt box and its
// outcome, stacked to the right of the step.
func (l *layouter) attachRetryLogic(b *block, main *placedNode, n *flowviz.FlowNode) {
	x := b.W + hGap
	attempt := &placedNode{
		OutputID: l.ids.Allocate(main.OutputID + "_attempt"),
		Shape:    shapeRect,
		Label:    fmt.Sprintf("attempt (%d retries)", n.Retries),
		Class:    "note state-" + string(flowviz.StateRunning),
		X:        x,
		Y:        0,
		W:        noteWidth,
		H:        noteHeight,
		Kind:     "note",
		State:    string(flowviz.StateRunning),
	}
	outcomeLabel := "succeeded"
	outcomeState := string(flowviz.StateSuccess)
	edgeLabel := "success"
	edgeDashed := false
	if n.State == flowviz.StateError {
		outcomeLabel = "retries exhausted"
		outcomeState = string(flowviz.StateError)
		edgeLabel = "failure"
		edgeDashed = true
	}
	outcome := &placedNode{
		OutputID: l.ids.Allocate(main.OutputID + "_outcome"),
		Shape:    shapeRect,
		Label:    outcomeLabel,
		Class:    "note state-" + outcomeState,
		X:        x,
		Y:        noteHeight + 24,
		W:        noteWidth,
		H:        noteHeight,
		Kind:     "note",
		State:    outcomeState,
	}
	b.Nodes = append(b.Nodes, attempt, outcome)
	b.Edges = append(b.Edges,
		&placedEdge{
			From:   point{X: main.X + main.W, Y: main.Y + main.H/2},
			To:     point{X: x, Y: attempt.Y + noteHeight/2},
			Dashed: true,
		},
		&placedEdge{
			From:   point{X: x + noteWidth/2, Y: attempt.Y + noteHeight},
			To:     point{X: x + noteWidth/2, Y: outcome.Y},
			Label:  edgeLabel,
			Dashed: edgeDashed,
		},
	)
	b.W = x + noteWidth
	if bottom := outcome.Y + noteHeight; bottom > b.H {
		b.H = bottom
	}
}

// anchorBlock is a small circular connector (fork, join, race ends).
func (l *layouter) anchorBlock(base, label string) *block {
	node := &placedNode{
		OutputID: l.ids.Allocate(base),
		Shape:    shapeAnchor,
		Label:    label,
		Class:    "anchor",
		W:        anchorRadius * 2,
		H:        anchorRadius * 2,
		Kind:     "anchor",
	}
	return &block{
		W:     anchorRadius * 2,
		H:     anchorRadius * 2,
		Entry: point{X: anchorRadius, Y: 0},
		Exit:  point{X: anchorRadius, Y: anchorRadius * 2},
		Nodes: []*placedNode{node},
	}
}

// layoutContainer lays out parallel and race scopes: a fork anchor, the
// children in a row, and a join anchor, with each child independently
// connected to both anchors. Blocks are shifted into their final positions
// first; edges are built from the shifted entry and exit points.
func (l *layouter) layoutContainer(n *flowviz.FlowNode) *block {
	base := render.SanitizeID(n.ID)
	forkLabel, joinLabel := "fork", "join"
	if n.Kind == flowviz.KindRace {
		forkLabel, joinLabel = "race", "end"
	}
	fork := l.anchorBlock(base+"_"+forkLabel, forkLabel)
	join := l.anchorBlock(base+"_"+joinLabel, joinLabel)

	childBlocks := make([]*block, 0, len(n.Children))
	kids := make([]*flowviz.FlowNode, 0, len(n.Children))
	for _, child := range n.Children {
		if l.hide.Match(child) {
			continue
		}
		childBlocks = append(childBlocks, l.layoutNode(child))
		kids = append(kids, child)
	}

	rowW, rowH := rowExtent(childBlocks)
	width := rowW
	if width < fork.W {
		width = fork.W
	}
	rowY := fork.H + vGap

	out := &block{W: width, H: rowY + rowH + vGap + join.H}
	fork.shift((width-fork.W)/2, 0)
	join.shift((width-join.W)/2, rowY+rowH+vGap)
	out.absorb(fork)
	out.absorb(join)

	winnerKnown := n.Kind == flowviz.KindRace && n.WinnerID != ""
	x := (width - rowW) / 2
	for i, b := range childBlocks {
		b.shift(x, rowY)
		x += b.W + hGap
		out.absorb(b)

		edgeIn := &placedEdge{From: fork.Exit, To: b.Entry}
		edgeOut := &placedEdge{From: b.Exit, To: join.Entry}
		if winnerKnown {
			if kids[i].ID == n.WinnerID {
				edgeIn.Thick = true
				edgeOut.Thick = true
				edgeOut.Label = "winner"
			} else {
				edgeIn.Dashed = true
				edgeOut.Dashed = true
				edgeOut.Label = "cancelled"
			}
		}
		out.Edges = append(out.Edges, edgeIn, edgeOut)
	}
	if n.Mode == flowviz.ModeLoop {
		out.Edges = append(out.Edges, &placedEdge{
			From: join.Exit, To: fork.Entry, Label: "loop", Dashed: true,
		})
	}
	out.Entry = fork.Entry
	out.Exit = join.Exit
	return out
}

// layoutDecision lays out a decision: the diamond on top, one branch
// column per branch below, each connected with a condition-labeled edge.
// Only the taken branch's exit becomes the block exit; with no taken
// branch the diamond itself is the exit.
func (l *layouter) layoutDecision(n *flowviz.FlowNode) *block {
	label := n.Name
	if label == "" {
		label = "decision"
	}
	head := l.leafBlock(n, shapeDiamond, label, l.nodeClass(n))

	branchBlocks := make([]*block, 0, len(n.Branches))
	for _, branch := range n.Branches {
		branchBlocks = append(branchBlocks, l.layoutSequence(branch.Children))
	}
	rowW, rowH := rowExtent(branchBlocks)
	width := rowW
	if width < head.W {
		width = head.W
	}
	rowY := head.H + vGap

	out := &block{W: width, H: head.H}
	head.shift((width-head.W)/2, 0)
	out.absorb(head)
	out.Entry = head.Entry
	out.Exit = head.Exit

	x := (width - rowW) / 2
	for i, branch := range n.Branches {
		b := branchBlocks[i]
		b.shift(x, rowY)
		x += b.W + hGap
		out.absorb(b)
		if len(b.Nodes) == 0 {
			continue
		}
		condition := branch.Condition
		if condition == "" {
			condition = branch.Label
		}
		out.Edges = append(out.Edges, &placedEdge{
			From: head.Exit, To: b.Entry, Label: condition,
		})
		if branch.Taken {
			out.Exit = b.Exit
		}
	}
	if rowH > 0 {
		out.H = rowY + rowH
	}
	return out
}

func (l *layouter) nodeClass(n *flowviz.FlowNode) string {
	return "state-" + string(n.State)
}

func (l *layouter) label(n *flowviz.FlowNode) string {
	label := n.Name
	if label == "" {
		label = n.Key
	}
	if label == "" {
		label = n.ID
	}
	if l.opts.ShowKeys && n.Key != "" && n.Key != label {
		label += " (" + n.Key + ")"
	}
	return label
}
