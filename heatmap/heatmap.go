// Package heatmap aggregates per-step performance metrics from one or more
// execution trees and buckets them into discrete heat levels, producing the
// overlay data renderers use to color hot spots.
package heatmap

import (
	"time"

	"github.com/deepnoodle-ai/flowviz"
)

// Metric identifies which aggregated measurement drives the heat coloring.
type Metric string

const (
	MetricDuration  Metric = "duration"
	MetricRetryRate Metric = "retryRate"
	MetricErrorRate Metric = "errorRate"
)

func (m Metric) String() string {
	return string(m)
}

// Valid reports whether the metric is one this package computes.
func (m Metric) Valid() bool {
	switch m {
	case MetricDuration, MetricRetryRate, MetricErrorRate:
		return true
	}
	return false
}

// HeatLevel is a discrete bucket describing how a node's metric compares to
// the rest of the tree.
type HeatLevel string

const (
	LevelCold     HeatLevel = "cold"
	LevelCool     HeatLevel = "cool"
	LevelNeutral  HeatLevel = "neutral"
	LevelWarm     HeatLevel = "warm"
	LevelHot      HeatLevel = "hot"
	LevelCritical HeatLevel = "critical"
)

func (l HeatLevel) String() string {
	return string(l)
}

// Levels lists every heat level, coldest first.
var Levels = []HeatLevel{
	LevelCold, LevelCool, LevelNeutral, LevelWarm, LevelHot, LevelCritical,
}

// Breakpoints are the five ascending boundaries that split normalized
// [0, 1] metric values into the six heat levels. A value below the first
// breakpoint is cold; a value at or above the last is critical.
type Breakpoints [5]float64

// Thresholds carries the breakpoints per metric. They are an operator
// tuning input, typically loaded from configuration; DefaultThresholds
// provides a usable starting point.
type Thresholds struct {
	Duration  Breakpoints `yaml:"duration" json:"duration"`
	RetryRate Breakpoints `yaml:"retry_rate" json:"retry_rate"`
	ErrorRate Breakpoints `yaml:"error_rate" json:"error_rate"`
}

// DefaultThresholds returns the built-in bucketing boundaries. Duration is
// normalized against the slowest observed step, so its scale is relative;
// the rate metrics use absolute rates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Duration:  Breakpoints{0.1, 0.25, 0.5, 0.75, 0.9},
		RetryRate: Breakpoints{0.05, 0.15, 0.3, 0.5, 0.75},
		ErrorRate: Breakpoints{0.01, 0.05, 0.15, 0.3, 0.5},
	}
}

func (t Thresholds) forMetric(metric Metric) Breakpoints {
	switch metric {
	case MetricRetryRate:
		return t.RetryRate
	case MetricErrorRate:
		return t.ErrorRate
	default:
		return t.Duration
	}
}

// NodeKey returns the lookup key under which a node's heat is aggregated
// and later resolved by renderers: key, falling back to name, falling back
// to id. Renderers must use this exact function or overlays silently fail
// to apply.
func NodeKey(n *flowviz.FlowNode) string {
	if n.Key != "" {
		return n.Key
	}
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// NodeStats are the raw aggregates collected for one lookup key across all
// analyzed trees.
type NodeStats struct {
	Invocations   int           `json:"invocations"`
	Retries       int           `json:"retries"`
	Errors        int           `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	MeanDuration  time.Duration `json:"mean_duration"`
	RetryRate     float64       `json:"retry_rate"`
	ErrorRate     float64       `json:"error_rate"`
}

// SummaryStats describe the distribution behind a heat map.
type SummaryStats struct {
	Nodes int     `json:"nodes"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// Data is the overlay renderers consume: one normalized heat value and one
// precomputed level per lookup key.
type Data struct {
	Metric Metric                `json:"metric"`
	Heat   map[string]float64    `json:"heat"`
	Levels map[string]HeatLevel  `json:"levels"`
	Stats  map[string]*NodeStats `json:"stats"`

	Summary SummaryStats `json:"summary"`
}

// Level returns the heat level for a node lookup key, reporting false when
// the key was never observed.
func (d *Data) Level(key string) (HeatLevel, bool) {
	if d == nil {
		return "", false
	}
	level, ok := d.Levels[key]
	return level, ok
}

// Value returns the normalized heat value for a node lookup key.
func (d *Data) Value(key string) (float64, bool) {
	if d == nil {
		return 0, false
	}
	value, ok := d.Heat[key]
	return value, ok
}

// Analyzer computes heat data from completed execution trees.
type Analyzer struct {
	thresholds Thresholds
}

// AnalyzerOptions are the options used to configure an Analyzer.
type AnalyzerOptions struct {
	// Thresholds override the default bucketing boundaries.
	Thresholds *Thresholds
}

// NewAnalyzer creates a heat map analyzer.
func NewAnalyzer(opts AnalyzerOptions) *Analyzer {
	thresholds := DefaultThresholds()
	if opts.Thresholds != nil {
		thresholds = *opts.Thresholds
	}
	return &Analyzer{thresholds: thresholds}
}

// Analyze walks the step nodes of the given trees, aggregates raw stats
// per lookup key, and derives the normalized heat value and level for the
// chosen metric. Nil trees are skipped. An unknown metric falls back to
// duration.
func (a *Analyzer) Analyze(metric Metric, irs ...*flowviz.WorkflowIR) *Data {
	if !metric.Valid() {
		metric = MetricDuration
	}
	data := &Data{
		Metric: metric,
		Heat:   make(map[string]float64),
		Levels: make(map[string]HeatLevel),
		Stats:  make(map[string]*NodeStats),
	}
	order := a.collect(data, irs)
	a.normalize(data, order)
	return data
}

// collect gathers raw per-key stats, returning keys in first-seen order so
// later passes are deterministic.
func (a *Analyzer) collect(data *Data, irs []*flowviz.WorkflowIR) []string {
	var order []string
	for _, ir := range irs {
		if ir == nil || ir.Root == nil {
			continue
		}
		ir.Root.Walk(func(n *flowviz.FlowNode) {
			if n.Kind != flowviz.KindStep {
				return
			}
			key := NodeKey(n)
			stats, ok := data.Stats[key]
			if !ok {
				stats = &NodeStats{}
				data.Stats[key] = stats
				order = append(order, key)
			}
			stats.Invocations++
			stats.Retries += n.Retries
			if n.State == flowviz.StateError {
				stats.Errors++
			}
			stats.TotalDuration += n.Duration
		})
	}
	for _, key := range order {
		stats := data.Stats[key]
		if stats.Invocations > 0 {
			stats.MeanDuration = stats.TotalDuration / time.Duration(stats.Invocations)
			stats.RetryRate = float64(stats.Retries) / float64(stats.Invocations)
			stats.ErrorRate = float64(stats.Errors) / float64(stats.Invocations)
		}
	}
	return order
}

// normalize turns raw stats into [0, 1] heat values for the selected
// metric and classifies each one. Durations are scaled against the slowest
// mean; the retry rate (retries per invocation) can exceed 1 and is clamped
// for bucketing.
func (a *Analyzer) normalize(data *Data, order []string) {
	var maxDuration time.Duration
	for _, stats := range data.Stats {
		if stats.MeanDuration > maxDuration {
			maxDuration = stats.MeanDuration
		}
	}
	var sum float64
	first := true
	for _, key := range order {
		stats := data.Stats[key]
		var value float64
		switch data.Metric {
		case MetricRetryRate:
			value = stats.RetryRate
			if value > 1 {
				value = 1
			}
		case MetricErrorRate:
			value = stats.ErrorRate
		default:
			if maxDuration > 0 {
				value = float64(stats.MeanDuration) / float64(maxDuration)
			}
		}
		data.Heat[key] = value
		data.Levels[key] = a.Classify(value, data.Metric)

		sum += value
		if first || value < data.Summary.Min {
			data.Summary.Min = value
		}
		if value > data.Summary.Max {
			data.Summary.Max = value
		}
		first = false
	}
	data.Summary.Nodes = len(order)
	if data.Summary.Nodes > 0 {
		data.Summary.Mean = sum / float64(data.Summary.Nodes)
	}
}

// Classify buckets a normalized metric value into a heat level using the
// analyzer's thresholds.
func (a *Analyzer) Classify(value float64, metric Metric) HeatLevel {
	breakpoints := a.thresholds.forMetric(metric)
	for i, boundary := range breakpoints {
		if value < boundary {
			return Levels[i]
		}
	}
	return LevelCritical
}
