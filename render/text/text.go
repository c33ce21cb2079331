// Package text renders an execution tree as compact, line-oriented
// terminal output: a header, one indented line per node with a state
// marker, and optional timing, retry, and heat annotations.
package text

import (
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/flowviz"
	"github.com/deepnoodle-ai/flowviz/heatmap"
	"github.com/deepnoodle-ai/flowviz/render"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

var (
	headerStyle  = color.New(color.FgCyan, color.Bold)
	successStyle = color.New(color.FgGreen)
	errorStyle   = color.New(color.FgRed, color.Bold)
	warningStyle = color.New(color.FgYellow)
	runningStyle = color.New(color.FgBlue)
	mutedStyle   = color.New(color.FgHiBlack)
	timeStyle    = color.New(color.FgWhite, color.Faint)
	heatStyle    = color.New(color.FgMagenta)
)

const (
	branchTee  = "├── "
	branchEnd  = "└── "
	branchPipe = "│   "
	branchGap  = "    "

	checkmark = "✓"
	xmark     = "✗"
	hourglass = "◔"
	circle    = "○"
	skipmark  = "⊘"
	forkmark  = "⋔"
	racemark  = "⚑"
	askmark   = "?"
	wavemark  = "≈"
)

// maxLineWidth bounds each output line; longer lines are truncated with an
// ellipsis, measured in display cells so wide runes count properly.
const maxLineWidth = 120

// Render produces the plain-text rendering of the tree. Like every flowviz
// renderer it is pure, deterministic, and never fails on malformed trees:
// unknown node kinds render as labeled placeholders.
func Render(ir *flowviz.WorkflowIR, opts render.Options) (string, error) {
	var b strings.Builder
	if ir == nil || ir.Root == nil {
		b.WriteString(mutedStyle.Sprint("(no workflow data)"))
		b.WriteString("\n")
		return b.String(), nil
	}
	r := &textRenderer{
		opts: opts,
		hide: opts.HideFilter(),
	}
	r.writeHeader(&b, ir)
	r.writeChildren(&b, ir.Root.Children, "")
	return b.String(), nil
}

type textRenderer struct {
	opts render.Options
	hide *render.Filter
}

func (r *textRenderer) writeHeader(b *strings.Builder, ir *flowviz.WorkflowIR) {
	name := ir.Metadata.Name
	if name == "" {
		name = ir.Metadata.WorkflowID
	}
	line := headerStyle.Sprint("Workflow: "+name) + " " + stateTag(ir.Root.State)
	if r.opts.ShowTimings && ir.Root.Duration > 0 {
		line += " " + timeStyle.Sprint("("+formatDuration(ir.Root.Duration)+")")
	}
	b.WriteString(truncateLine(line))
	b.WriteString("\n")
}

func (r *textRenderer) writeChildren(b *strings.Builder, children []*flowviz.FlowNode, prefix string) {
	visible := make([]*flowviz.FlowNode, 0, len(children))
	for _, child := range children {
		if !r.hide.Match(child) {
			visible = append(visible, child)
		}
	}
	for i, child := range visible {
		last := i == len(visible)-1
		connector, childPrefix := branchTee, prefix+branchPipe
		if last {
			connector, childPrefix = branchEnd, prefix+branchGap
		}
		r.writeNode(b, child, prefix+connector, childPrefix)
	}
}

func (r *textRenderer) writeNode(b *strings.Builder, n *flowviz.FlowNode, linePrefix, childPrefix string) {
	b.WriteString(truncateLine(linePrefix + r.describe(n)))
	b.WriteString("\n")

	switch n.Kind {
	case flowviz.KindDecision:
		r.writeBranches(b, n, childPrefix)
	default:
		r.writeChildren(b, n.Children, childPrefix)
	}
}

func (r *textRenderer) writeBranches(b *strings.Builder, n *flowviz.FlowNode, prefix string) {
	for i, branch := range n.Branches {
		last := i == len(n.Branches)-1
		connector, childPrefix := branchTee, prefix+branchPipe
		if last {
			connector, childPrefix = branchEnd, prefix+branchGap
		}
		label := branch.Label
		if branch.Condition != "" {
			label += ": " + branch.Condition
		}
		marker := mutedStyle.Sprint("·")
		if branch.Taken {
			marker = successStyle.Sprint("»")
			label += " (taken)"
		}
		b.WriteString(truncateLine(prefix + connector + marker + " " + label))
		b.WriteString("\n")
		r.writeChildren(b, branch.Children, childPrefix)
	}
}

// describe renders one node's line: marker, label, state, annotations.
func (r *textRenderer) describe(n *flowviz.FlowNode) string {
	label := n.Name
	if label == "" {
		label = n.Key
	}
	if label == "" {
		label = n.ID
	}
	var parts []string
	switch n.Kind {
	case flowviz.KindStep:
		parts = append(parts, stateMarker(n.State), label)
	case flowviz.KindParallel:
		kind := "parallel"
		if n.Mode == flowviz.ModeLoop {
			kind = "loop"
		} else if n.Mode == flowviz.ModeAllSettled {
			kind = "parallel (allSettled)"
		}
		parts = append(parts, warningStyle.Sprint(forkmark), kind)
	case flowviz.KindRace:
		parts = append(parts, warningStyle.Sprint(racemark), "race")
		if n.WinnerID != "" {
			parts = append(parts, mutedStyle.Sprint("winner: "+winnerLabel(n)))
		}
	case flowviz.KindDecision:
		parts = append(parts, runningStyle.Sprint(askmark), label)
	case flowviz.KindStream:
		parts = append(parts, runningStyle.Sprint(wavemark),
			fmt.Sprintf("%s [w:%d r:%d]", n.Namespace, n.Writes, n.Reads))
		if n.Backpressure {
			parts = append(parts, warningStyle.Sprint("(backpressure)"))
		}
	default:
		parts = append(parts, mutedStyle.Sprint("? unknown node: "+string(n.Kind)))
	}

	parts = append(parts, stateTag(n.State))
	if r.opts.ShowKeys && n.Key != "" {
		parts = append(parts, mutedStyle.Sprint("["+n.Key+"]"))
	}
	if r.opts.ShowTimings && n.Duration > 0 {
		parts = append(parts, timeStyle.Sprint("("+formatDuration(n.Duration)+")"))
	}
	if n.Retries > 0 {
		parts = append(parts, warningStyle.Sprintf("↻%d", n.Retries))
	}
	if n.TimedOut {
		parts = append(parts, errorStyle.Sprint("(timeout)"))
	}
	if r.opts.ShowInlineErrors && n.Error != "" {
		parts = append(parts, errorStyle.Sprint("error: "+n.Error))
	}
	if level, ok := r.opts.HeatLevel(n); ok {
		parts = append(parts, heatStyle.Sprint("«"+string(level)+"»"))
	}
	return strings.Join(parts, " ")
}

func winnerLabel(n *flowviz.FlowNode) string {
	for _, child := range n.Children {
		if child.ID != n.WinnerID {
			continue
		}
		if child.Name != "" {
			return child.Name
		}
		if child.Key != "" {
			return child.Key
		}
		return child.ID
	}
	return n.WinnerID
}

func stateMarker(state flowviz.NodeState) string {
	switch state {
	case flowviz.StateSuccess:
		return successStyle.Sprint(checkmark)
	case flowviz.StateError:
		return errorStyle.Sprint(xmark)
	case flowviz.StateRunning:
		return runningStyle.Sprint(hourglass)
	case flowviz.StateCached:
		return successStyle.Sprint("⚡")
	case flowviz.StateSkipped, flowviz.StateAborted:
		return mutedStyle.Sprint(skipmark)
	default:
		return mutedStyle.Sprint(circle)
	}
}

func stateTag(state flowviz.NodeState) string {
	tag := "[" + string(state) + "]"
	switch state {
	case flowviz.StateSuccess, flowviz.StateCached:
		return successStyle.Sprint(tag)
	case flowviz.StateError:
		return errorStyle.Sprint(tag)
	case flowviz.StateRunning:
		return runningStyle.Sprint(tag)
	case flowviz.StateAborted:
		return warningStyle.Sprint(tag)
	default:
		return mutedStyle.Sprint(tag)
	}
}

// truncateLine limits a line to the display width budget, ANSI codes
// excluded from the measurement.
func truncateLine(line string) string {
	if displayWidth(line) <= maxLineWidth {
		return line
	}
	var b strings.Builder
	width := 0
	inEscape := false
	for _, r := range line {
		if r == '\x1b' {
			inEscape = true
		}
		if inEscape {
			b.WriteRune(r)
			if r != '\x1b' && r != '[' && (r < '0' || r > '9') && r != ';' {
				inEscape = false
			}
			continue
		}
		w := runewidth.RuneWidth(r)
		if width+w > maxLineWidth-1 {
			b.WriteString("…")
			break
		}
		b.WriteRune(r)
		width += w
	}
	return b.String()
}

func displayWidth(s string) int {
	return runewidth.StringWidth(stripANSI(s))
}

func stripANSI(s string) string {
	var b strings.Builder
	inEscape := false
	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
			continue
		}
		if inEscape {
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

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

// heatTag is used by Summary to annotate table rows.
func heatTag(data *heatmap.Data, key string) string {
	if data == nil {
		return ""
	}
	level, ok := data.Level(key)
	if !ok {
		return ""
	}
	return string(level)
}
