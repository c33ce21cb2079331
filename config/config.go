// Package config loads operator-tunable visualizer settings from YAML:
// the render theme, heat-level thresholds, and default render options.
// Everything has a usable default; an absent file is not an error.
package config

import (
	"fmt"
	"os"

	"github.com/deepnoodle-ai/flowviz"
	"github.com/deepnoodle-ai/flowviz/heatmap"
	"github.com/deepnoodle-ai/flowviz/render"
	"github.com/goccy/go-yaml"
)

// RenderDefaults are the render options an operator can preset in
// configuration. Callers may still override them per render call.
type RenderDefaults struct {
	Direction        string   `yaml:"direction"`
	ShowTimings      bool     `yaml:"show_timings"`
	ShowKeys         bool     `yaml:"show_keys"`
	ShowRetryEdges   bool     `yaml:"show_retry_edges"`
	ShowErrorEdges   bool     `yaml:"show_error_edges"`
	ShowTimeoutEdges bool     `yaml:"show_timeout_edges"`
	ExpandRetry      bool     `yaml:"expand_retry"`
	ShowInlineErrors bool     `yaml:"show_inline_errors"`
	HidePatterns     []string `yaml:"hide_patterns"`
	CollapsePatterns []string `yaml:"collapse_patterns"`
}

// Config is the visualizer configuration document.
type Config struct {
	// Theme names the palette: "default" or "dark", or a key into Themes.
	Theme string `yaml:"theme"`

	// Themes defines custom palettes by name. A custom palette only needs
	// to override the states it cares about; the rest fall back to the
	// built-in theme.
	Themes map[string]*render.Theme `yaml:"themes"`

	// Heatmap overrides the heat-level bucketing thresholds.
	Heatmap *heatmap.Thresholds `yaml:"heatmap"`

	// Render presets default render options.
	Render RenderDefaults `yaml:"render"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{Theme: "default"}
}

// Parse decodes a YAML configuration document. Unknown keys are ignored
// so configs written for newer versions still load.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return config, nil
}

// Load reads a YAML configuration file. A missing file yields the
// defaults rather than an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// ResolveTheme returns the configured theme: a custom palette when one is
// defined under the configured name, a built-in theme otherwise. Custom
// palettes are completed with the built-in defaults for anything they
// leave unset.
func (c *Config) ResolveTheme() *render.Theme {
	if custom, ok := c.Themes[c.Theme]; ok && custom != nil {
		return mergeTheme(custom, render.ThemeByName(c.Theme))
	}
	return render.ThemeByName(c.Theme)
}

// Thresholds returns the configured heat thresholds. Metrics the config
// leaves unset keep their default breakpoints.
func (c *Config) Thresholds() heatmap.Thresholds {
	defaults := heatmap.DefaultThresholds()
	if c.Heatmap == nil {
		return defaults
	}
	thresholds := *c.Heatmap
	if thresholds.Duration == (heatmap.Breakpoints{}) {
		thresholds.Duration = defaults.Duration
	}
	if thresholds.RetryRate == (heatmap.Breakpoints{}) {
		thresholds.RetryRate = defaults.RetryRate
	}
	if thresholds.ErrorRate == (heatmap.Breakpoints{}) {
		thresholds.ErrorRate = defaults.ErrorRate
	}
	return thresholds
}

// Options builds render options from the configured defaults.
func (c *Config) Options() render.Options {
	return render.Options{
		Direction:        render.Direction(c.Render.Direction).Normalize(),
		ShowTimings:      c.Render.ShowTimings,
		ShowKeys:         c.Render.ShowKeys,
		ShowRetryEdges:   c.Render.ShowRetryEdges,
		ShowErrorEdges:   c.Render.ShowErrorEdges,
		ShowTimeoutEdges: c.Render.ShowTimeoutEdges,
		ExpandRetry:      c.Render.ExpandRetry,
		ShowInlineErrors: c.Render.ShowInlineErrors,
		HidePatterns:     c.Render.HidePatterns,
		CollapsePatterns: c.Render.CollapsePatterns,
		Theme:            c.ResolveTheme(),
	}
}

// mergeTheme fills a custom theme's unset fields from a base theme.
func mergeTheme(custom, base *render.Theme) *render.Theme {
	merged := *base
	if custom.Name != "" {
		merged.Name = custom.Name
	}
	if custom.Background != "" {
		merged.Background = custom.Background
	}
	if custom.Edge != "" {
		merged.Edge = custom.Edge
	}
	if custom.FontFamily != "" {
		merged.FontFamily = custom.FontFamily
	}
	if len(custom.States) > 0 {
		states := make(map[flowviz.NodeState]render.Style, len(base.States))
		for state, style := range base.States {
			states[state] = style
		}
		for state, style := range custom.States {
			states[state] = style
		}
		merged.States = states
	}
	if len(custom.Heat) > 0 {
		heat := make(map[heatmap.HeatLevel]render.Style, len(base.Heat))
		for level, style := range base.Heat {
			heat[level] = style
		}
		for level, style := range custom.Heat {
			heat[level] = style
		}
		merged.Heat = heat
	}
	return &merged
}
