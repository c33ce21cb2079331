package render

import (
	"github.com/deepnoodle-ai/flowviz"
	"github.com/gobwas/glob"
)

// Filter matches nodes against a set of glob patterns by key and name.
// Patterns that fail to compile are skipped, so a bad pattern degrades to
// matching nothing rather than failing the render.
type Filter struct {
	globs []glob.Glob
}

// NewFilter compiles the given glob patterns into a filter.
func NewFilter(patterns []string) *Filter {
	filter := &Filter{}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			continue
		}
		filter.globs = append(filter.globs, g)
	}
	return filter
}

// Match reports whether the node's key or name matches any pattern.
func (f *Filter) Match(n *flowviz.FlowNode) bool {
	if f == nil || n == nil {
		return false
	}
	for _, g := range f.globs {
		if n.Key != "" && g.Match(n.Key) {
			return true
		}
		if n.Name != "" && g.Match(n.Name) {
			return true
		}
	}
	return false
}

// HideFilter compiles the options' hide patterns.
func (o Options) HideFilter() *Filter {
	return NewFilter(o.HidePatterns)
}

// CollapseFilter compiles the options' collapse patterns.
func (o Options) CollapseFilter() *Filter {
	return NewFilter(o.CollapsePatterns)
}
