package render

import (
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/flowviz"
)

// IDAllocator hands out output identifiers that are unique within one
// render call and safe for identifier positions in every target format
// (letters, digits, underscores, starting with a letter). Each render call
// constructs its own allocator; there is deliberately no package-level
// instance, so concurrent renders cannot interfere.
type IDAllocator struct {
	used map[string]int
	next int
}

// NewIDAllocator creates an empty allocator.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{used: make(map[string]int)}
}

// NodeID allocates an identifier for a node, preferring a sanitized form
// of its cache key, then its name, then its key, then its IR id. A
// collision appends a numeric suffix.
func (a *IDAllocator) NodeID(n *flowviz.FlowNode) string {
	base := ""
	if n != nil {
		switch {
		case n.CacheKey != "":
			base = n.CacheKey
		case n.Name != "":
			base = n.Name
		case n.Key != "":
			base = n.Key
		default:
			base = n.ID
		}
	}
	return a.Allocate(base)
}

// Allocate sanitizes the given base and returns it, suffixed with a
// counter if it was already handed out. The returned id is registered too,
// so a later base that sanitizes to the same suffixed form cannot collide
// with it.
func (a *IDAllocator) Allocate(base string) string {
	id := SanitizeID(base)
	if id == "" {
		a.next++
		id = fmt.Sprintf("n%d", a.next)
	}
	if _, taken := a.used[id]; !taken {
		a.used[id] = 1
		return id
	}
	for {
		a.used[id]++
		candidate := fmt.Sprintf("%s_%d", id, a.used[id])
		if _, taken := a.used[candidate]; !taken {
			a.used[candidate] = 1
			return candidate
		}
	}
}

// SanitizeID reduces a string to characters valid in an identifier
// position, mapping every disallowed run to a single underscore and
// prefixing with a letter when necessary.
func SanitizeID(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	id := strings.TrimSuffix(b.String(), "_")
	if id == "" {
		return ""
	}
	if first := id[0]; first >= '0' && first <= '9' {
		id = "n" + id
	}
	return id
}
