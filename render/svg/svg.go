// Package svg renders an execution tree as a self-contained HTML page: an
// absolutely laid-out SVG diagram with routed edges, an embedded
// initial-state JSON payload, and an optional client script providing
// pan/zoom, node inspection, a time-travel scrubber, and a heatmap toggle.
package svg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/flowviz"
	"github.com/deepnoodle-ai/flowviz/heatmap"
	"github.com/deepnoodle-ai/flowviz/render"
)

// Render produces the HTML document for the given tree. Pure and
// deterministic; malformed trees degrade to placeholder nodes rather than
// failing the render.
func Render(ir *flowviz.WorkflowIR, opts render.Options) (string, error) {
	l := &layouter{
		ids:  render.NewIDAllocator(),
		opts: opts,
		hide: opts.HideFilter(),
	}
	theme := opts.ResolveTheme()

	var root *block
	var title string
	if ir == nil || ir.Root == nil {
		root = l.leafBlock(&flowviz.FlowNode{ID: "empty", State: flowviz.StatePending},
			shapeRect, "no workflow data", "placeholder")
		title = "workflow"
	} else {
		root = l.layoutSequence(ir.Root.Children)
		if len(root.Nodes) == 0 {
			root = l.leafBlock(&flowviz.FlowNode{ID: "empty", State: ir.Root.State},
				shapeRect, "empty workflow", "placeholder")
		}
		title = ir.Metadata.Name
		if title == "" {
			title = ir.Metadata.WorkflowID
		}
	}
	root.shift(margin, margin)
	width := root.W + 2*margin
	height := root.H + 2*margin

	payload, err := statePayload(ir, opts)
	if err != nil {
		return "", fmt.Errorf("failed to encode state payload: %w", err)
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", escapeXML(title))
	writeCSS(&b, theme, opts)
	b.WriteString("</head>\n<body>\n")

	writeToolbar(&b, title, opts)

	heatmapOn := opts.Heatmap != nil && !opts.HeatmapToggle
	containerClass := "viewport"
	if heatmapOn {
		containerClass += " heatmap-on"
	}
	fmt.Fprintf(&b, "<div id=\"viewport\" class=%q>\n", containerClass)
	writeSVG(&b, root, width, height, opts)
	b.WriteString("</div>\n")
	b.WriteString("<div id=\"inspector\" class=\"inspector\" hidden></div>\n")

	fmt.Fprintf(&b, "<script type=\"application/json\" id=\"flowviz-state\">%s</script>\n", payload)
	if opts.Interactive || opts.TimeTravel || opts.HeatmapToggle {
		b.WriteString("<script>\n")
		b.WriteString(clientScript)
		b.WriteString("</script>\n")
	}
	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

func writeToolbar(b *strings.Builder, title string, opts render.Options) {
	b.WriteString("<div id=\"toolbar\" class=\"toolbar\">\n")
	fmt.Fprintf(b, "<span class=\"title\">%s</span>\n", escapeXML(title))
	if opts.HeatmapToggle {
		b.WriteString("<button id=\"heatmap-toggle\" type=\"button\">heatmap</button>\n")
	}
	if opts.TimeTravel {
		count := len(opts.Snapshots)
		last := count - 1
		if last < 0 {
			last = 0
		}
		fmt.Fprintf(b, "<input id=\"scrubber\" type=\"range\" min=\"0\" max=\"%d\" value=\"%d\">\n", last, last)
		fmt.Fprintf(b, "<span id=\"scrubber-label\">%d / %d</span>\n", count, count)
	}
	b.WriteString("</div>\n")
}

func writeSVG(b *strings.Builder, root *block, width, height float64, opts render.Options) {
	fmt.Fprintf(b, "<svg id=\"diagram\" xmlns=\"http://www.w3.org/2000/svg\" width=\"%.0f\" height=\"%.0f\" viewBox=\"0 0 %.0f %.0f\">\n",
		width, height, width, height)
	b.WriteString("<defs>\n<marker id=\"arrow\" viewBox=\"0 0 10 10\" refX=\"9\" refY=\"5\" markerWidth=\"7\" markerHeight=\"7\" orient=\"auto-start-reverse\">\n")
	b.WriteString("<path d=\"M 0 0 L 10 5 L 0 10 z\" class=\"arrowhead\"/>\n</marker>\n</defs>\n")
	b.WriteString("<g id=\"canvas\">\n")

	for _, edge := range root.Edges {
		writeEdge(b, edge)
	}
	for _, node := range root.Nodes {
		writeNode(b, node)
	}
	b.WriteString("</g>\n</svg>\n")
}

// writeEdge routes a connection as a vertical-bias polyline with an
// arrowhead at the target. Loop edges arc out to the right instead.
func writeEdge(b *strings.Builder, e *placedEdge) {
	midY := (e.From.Y + e.To.Y) / 2
	var path string
	labelX := (e.From.X+e.To.X)/2 + 6
	if e.Loop {
		path = fmt.Sprintf("M %.1f %.1f C %.1f %.1f %.1f %.1f %.1f %.1f",
			e.From.X, e.From.Y, e.From.X+loopBulge, e.From.Y,
			e.To.X+loopBulge, e.To.Y, e.To.X, e.To.Y)
		labelX = e.From.X + loopBulge + 4
	} else {
		path = fmt.Sprintf("M %.1f %.1f L %.1f %.1f L %.1f %.1f L %.1f %.1f",
			e.From.X, e.From.Y, e.From.X, midY, e.To.X, midY, e.To.X, e.To.Y)
	}
	class := "edge"
	if e.Dashed {
		class += " dashed"
	}
	if e.Thick {
		class += " thick"
	}
	fmt.Fprintf(b, "<path d=%q class=%q marker-end=\"url(#arrow)\"/>\n", path, class)
	if e.Label != "" {
		fmt.Fprintf(b, "<text x=\"%.1f\" y=\"%.1f\" class=\"edge-label\">%s</text>\n",
			labelX, midY-4, escapeXML(e.Label))
	}
}

func writeNode(b *strings.Builder, n *placedNode) {
	class := "node " + n.Class
	attrs := fmt.Sprintf(" data-key=%q data-state=%q data-kind=%q",
		escapeXML(n.Key), escapeXML(n.State), escapeXML(n.Kind))
	if n.Heat != "" {
		attrs += fmt.Sprintf(" data-heat=%q", escapeXML(n.Heat))
	}
	fmt.Fprintf(b, "<g id=%q class=%q transform=\"translate(%.1f,%.1f)\"%s>\n",
		escapeXML(n.OutputID), class, n.X, n.Y, attrs)
	switch n.Shape {
	case shapeAnchor:
		fmt.Fprintf(b, "<circle cx=\"%.1f\" cy=\"%.1f\" r=\"%.1f\"/>\n",
			anchorRadius, anchorRadius, anchorRadius)
	case shapeDiamond:
		fmt.Fprintf(b, "<polygon points=\"%.1f,0 %.1f,%.1f %.1f,%.1f 0,%.1f\"/>\n",
			n.W/2, n.W, n.H/2, n.W/2, n.H, n.H/2)
		writeLabel(b, n)
	default:
		fmt.Fprintf(b, "<rect width=\"%.1f\" height=\"%.1f\" rx=\"6\"/>\n", n.W, n.H)
		writeLabel(b, n)
	}
	b.WriteString("</g>\n")
}

func writeLabel(b *strings.Builder, n *placedNode) {
	labelY := n.H / 2
	if n.Timing != "" {
		labelY = n.H/2 - 7
	}
	fmt.Fprintf(b, "<text x=\"%.1f\" y=\"%.1f\" class=\"label\">%s</text>\n",
		n.W/2, labelY+4, escapeXML(truncateLabel(n.Label, 26)))
	if n.Timing != "" {
		fmt.Fprintf(b, "<text x=\"%.1f\" y=\"%.1f\" class=\"timing\">%s</text>\n",
			n.W/2, n.H/2+14, escapeXML(n.Timing))
	}
}

func writeCSS(b *strings.Builder, theme *render.Theme, opts render.Options) {
	b.WriteString("<style>\n")
	fmt.Fprintf(b, "body { margin: 0; background: %s; font-family: %s; }\n",
		theme.Background, theme.FontFamily)
	b.WriteString(".toolbar { display: flex; gap: 12px; align-items: center; padding: 8px 16px; }\n")
	fmt.Fprintf(b, ".toolbar .title { font-weight: 600; color: %s; }\n", theme.Edge)
	b.WriteString("#viewport { overflow: hidden; cursor: grab; }\n")
	b.WriteString(".inspector { position: fixed; right: 16px; top: 56px; width: 260px; padding: 12px; border-radius: 8px; background: rgba(15,23,42,0.92); color: #e2e8f0; font-size: 12px; white-space: pre-wrap; }\n")
	fmt.Fprintf(b, ".edge { fill: none; stroke: %s; stroke-width: 1.5; }\n", theme.Edge)
	b.WriteString(".edge.dashed { stroke-dasharray: 5 4; opacity: 0.6; }\n")
	b.WriteString(".edge.thick { stroke-width: 3; }\n")
	fmt.Fprintf(b, ".edge-label { font-size: 11px; fill: %s; }\n", theme.Edge)
	fmt.Fprintf(b, ".arrowhead { fill: %s; }\n", theme.Edge)
	b.WriteString(".node { cursor: pointer; }\n")
	b.WriteString(".node text { text-anchor: middle; font-size: 12px; }\n")
	b.WriteString(".node .timing { font-size: 10px; opacity: 0.75; }\n")
	fmt.Fprintf(b, ".node.anchor circle { fill: %s; }\n", theme.Edge)
	b.WriteString(".node.note text { font-size: 11px; }\n")

	states := []flowviz.NodeState{
		flowviz.StatePending, flowviz.StateRunning, flowviz.StateSuccess,
		flowviz.StateError, flowviz.StateAborted, flowviz.StateCached,
		flowviz.StateSkipped,
	}
	for _, state := range states {
		style := theme.StateStyle(state)
		fmt.Fprintf(b, ".node.state-%s rect, .node.state-%s polygon { fill: %s; stroke: %s; stroke-width: 1.5; }\n",
			state, state, style.Fill, style.Stroke)
		fmt.Fprintf(b, ".node.state-%s text { fill: %s; }\n", state, style.Text)
	}
	style := theme.StateStyle(flowviz.StateSkipped)
	fmt.Fprintf(b, ".node.placeholder rect { fill: %s; stroke: %s; stroke-dasharray: 4 3; }\n",
		style.Fill, style.Stroke)

	for _, level := range heatmap.Levels {
		heat := theme.HeatStyle(level)
		fmt.Fprintf(b, ".heatmap-on .node[data-heat=\"%s\"] rect, .heatmap-on .node[data-heat=\"%s\"] polygon { fill: %s; stroke: %s; }\n",
			level, level, heat.Fill, heat.Stroke)
		fmt.Fprintf(b, ".heatmap-on .node[data-heat=\"%s\"] text { fill: %s; }\n", level, heat.Text)
	}
	b.WriteString("</style>\n")
}

// statePayload builds the embedded initial-state JSON. The encoder's
// HTML-safe escaping makes the payload safe for inline embedding inside a
// script element.
func statePayload(ir *flowviz.WorkflowIR, opts render.Options) (string, error) {
	type nodeInfo struct {
		Key      string `json:"key"`
		Name     string `json:"name,omitempty"`
		Kind     string `json:"kind"`
		State    string `json:"state"`
		Duration string `json:"duration,omitempty"`
		Error    string `json:"error,omitempty"`
		Retries  int    `json:"retries,omitempty"`
	}
	type frame struct {
		States map[string]string `json:"states"`
	}
	payload := struct {
		WorkflowID string               `json:"workflow_id,omitempty"`
		Name       string               `json:"name,omitempty"`
		Metric     string               `json:"metric,omitempty"`
		Nodes      map[string]*nodeInfo `json:"nodes"`
		Heat       map[string]float64   `json:"heat,omitempty"`
		Frames     []*frame             `json:"frames,omitempty"`
	}{
		Nodes: make(map[string]*nodeInfo),
	}
	collect := func(tree *flowviz.WorkflowIR, sink func(*flowviz.FlowNode)) {
		if tree != nil && tree.Root != nil {
			tree.Root.Walk(sink)
		}
	}
	if ir != nil {
		payload.WorkflowID = ir.Metadata.WorkflowID
		payload.Name = ir.Metadata.Name
	}
	collect(ir, func(n *flowviz.FlowNode) {
		key := heatmap.NodeKey(n)
		payload.Nodes[key] = &nodeInfo{
			Key:      key,
			Name:     n.Name,
			Kind:     string(n.Kind),
			State:    string(n.State),
			Duration: formatDuration(n.Duration),
			Error:    n.Error,
			Retries:  n.Retries,
		}
	})
	if opts.Heatmap != nil {
		payload.Metric = string(opts.Heatmap.Metric)
		payload.Heat = opts.Heatmap.Heat
	}
	if opts.TimeTravel {
		for _, snapshot := range opts.Snapshots {
			f := &frame{States: make(map[string]string)}
			collect(snapshot, func(n *flowviz.FlowNode) {
				f.States[heatmap.NodeKey(n)] = string(n.State)
			})
			payload.Frames = append(payload.Frames, f)
		}
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(true)
	if err := encoder.Encode(payload); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// escapeXML escapes the five XML entities for text nodes and attribute
// values.
func escapeXML(s string) string {
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	).Replace(s)
}

// truncateLabel limits a label to max runes; byte slicing could cut a
// multibyte rune in half.
func truncateLabel(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
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
