package render

import (
	"github.com/deepnoodle-ai/flowviz"
	"github.com/deepnoodle-ai/flowviz/heatmap"
)

// Style is one node color treatment: fill, border, and text color, as CSS
// color strings.
type Style struct {
	Fill   string `yaml:"fill" json:"fill"`
	Stroke string `yaml:"stroke" json:"stroke"`
	Text   string `yaml:"text" json:"text"`
}

// Theme is a named palette mapping node states and heat levels to styles,
// plus page-level colors for the HTML target.
type Theme struct {
	Name       string                      `yaml:"name" json:"name"`
	Background string                      `yaml:"background" json:"background"`
	Edge       string                      `yaml:"edge" json:"edge"`
	FontFamily string                      `yaml:"font_family" json:"font_family"`
	States     map[flowviz.NodeState]Style `yaml:"states" json:"states"`
	Heat       map[heatmap.HeatLevel]Style `yaml:"heat" json:"heat"`
}

// StateStyle returns the style for a node state, falling back to the
// pending style for states the theme does not name.
func (t *Theme) StateStyle(state flowviz.NodeState) Style {
	if style, ok := t.States[state]; ok {
		return style
	}
	return t.States[flowviz.StatePending]
}

// HeatStyle returns the style for a heat level, falling back to the
// neutral style.
func (t *Theme) HeatStyle(level heatmap.HeatLevel) Style {
	if style, ok := t.Heat[level]; ok {
		return style
	}
	return t.Heat[heatmap.LevelNeutral]
}

// DefaultTheme is a light palette suitable for documents and dashboards.
func DefaultTheme() *Theme {
	return &Theme{
		Name:       "default",
		Background: "#ffffff",
		Edge:       "#64748b",
		FontFamily: "ui-sans-serif, system-ui, sans-serif",
		States: map[flowviz.NodeState]Style{
			flowviz.StatePending: {Fill: "#f1f5f9", Stroke: "#94a3b8", Text: "#475569"},
			flowviz.StateRunning: {Fill: "#dbeafe", Stroke: "#3b82f6", Text: "#1e40af"},
			flowviz.StateSuccess: {Fill: "#dcfce7", Stroke: "#22c55e", Text: "#166534"},
			flowviz.StateError:   {Fill: "#fee2e2", Stroke: "#ef4444", Text: "#991b1b"},
			flowviz.StateAborted: {Fill: "#fef3c7", Stroke: "#f59e0b", Text: "#92400e"},
			flowviz.StateCached:  {Fill: "#e0e7ff", Stroke: "#6366f1", Text: "#3730a3"},
			flowviz.StateSkipped: {Fill: "#f3f4f6", Stroke: "#9ca3af", Text: "#6b7280"},
		},
		Heat: map[heatmap.HeatLevel]Style{
			heatmap.LevelCold:     {Fill: "#dbeafe", Stroke: "#60a5fa", Text: "#1e3a8a"},
			heatmap.LevelCool:     {Fill: "#cffafe", Stroke: "#22d3ee", Text: "#155e75"},
			heatmap.LevelNeutral:  {Fill: "#f1f5f9", Stroke: "#94a3b8", Text: "#334155"},
			heatmap.LevelWarm:     {Fill: "#fef9c3", Stroke: "#eab308", Text: "#854d0e"},
			heatmap.LevelHot:      {Fill: "#ffedd5", Stroke: "#f97316", Text: "#9a3412"},
			heatmap.LevelCritical: {Fill: "#fee2e2", Stroke: "#dc2626", Text: "#7f1d1d"},
		},
	}
}

// DarkTheme is a dark palette for terminal-adjacent dashboards.
func DarkTheme() *Theme {
	return &Theme{
		Name:       "dark",
		Background: "#0f172a",
		Edge:       "#94a3b8",
		FontFamily: "ui-sans-serif, system-ui, sans-serif",
		States: map[flowviz.NodeState]Style{
			flowviz.StatePending: {Fill: "#1e293b", Stroke: "#475569", Text: "#94a3b8"},
			flowviz.StateRunning: {Fill: "#1e3a8a", Stroke: "#3b82f6", Text: "#bfdbfe"},
			flowviz.StateSuccess: {Fill: "#14532d", Stroke: "#22c55e", Text: "#bbf7d0"},
			flowviz.StateError:   {Fill: "#7f1d1d", Stroke: "#ef4444", Text: "#fecaca"},
			flowviz.StateAborted: {Fill: "#78350f", Stroke: "#f59e0b", Text: "#fde68a"},
			flowviz.StateCached:  {Fill: "#312e81", Stroke: "#6366f1", Text: "#c7d2fe"},
			flowviz.StateSkipped: {Fill: "#1f2937", Stroke: "#6b7280", Text: "#9ca3af"},
		},
		Heat: map[heatmap.HeatLevel]Style{
			heatmap.LevelCold:     {Fill: "#1e3a8a", Stroke: "#60a5fa", Text: "#bfdbfe"},
			heatmap.LevelCool:     {Fill: "#155e75", Stroke: "#22d3ee", Text: "#cffafe"},
			heatmap.LevelNeutral:  {Fill: "#1e293b", Stroke: "#64748b", Text: "#cbd5e1"},
			heatmap.LevelWarm:     {Fill: "#713f12", Stroke: "#eab308", Text: "#fef08a"},
			heatmap.LevelHot:      {Fill: "#7c2d12", Stroke: "#f97316", Text: "#fed7aa"},
			heatmap.LevelCritical: {Fill: "#7f1d1d", Stroke: "#ef4444", Text: "#fecaca"},
		},
	}
}

// ThemeByName resolves a theme by name, defaulting to the light theme for
// unknown names.
func ThemeByName(name string) *Theme {
	switch name {
	case "dark":
		return DarkTheme()
	default:
		return DefaultTheme()
	}
}
