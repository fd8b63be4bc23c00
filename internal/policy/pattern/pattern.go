// Package pattern compiles the glob syntax used by command policy rules:
// `*` matches any run of characters, `?` exactly one, everything else is
// literal. Matching is case-insensitive and anchored at both ends.
package pattern

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// Cache compiles patterns on demand and memoizes the compiled matcher
// keyed by the original pattern string.
type Cache struct {
	mu       sync.Mutex
	compiled map[string]glob.Glob
}

// NewCache returns an empty matcher cache.
func NewCache() *Cache {
	return &Cache{compiled: make(map[string]glob.Glob)}
}

// Matches reports whether command matches the rule pattern. The literal
// pattern "*" always matches. Patterns that fail to compile never match.
func (c *Cache) Matches(command, pattern string) bool {
	if pattern == "*" {
		return true
	}
	g, err := c.get(pattern)
	if err != nil {
		return false
	}
	return g.Match(strings.ToLower(command))
}

// Clear drops all compiled matchers. The pattern-to-matcher mapping is
// pure, so this is memory hygiene after rule churn, not a correctness
// requirement.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compiled = make(map[string]glob.Glob)
}

// Len returns the number of cached matchers.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.compiled)
}

func (c *Cache) get(pattern string) (glob.Glob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.compiled[pattern]; ok {
		return g, nil
	}
	g, err := glob.Compile(quoteLiterals(strings.ToLower(pattern)))
	if err != nil {
		return nil, err
	}
	c.compiled[pattern] = g
	return g, nil
}

// quoteLiterals escapes glob metacharacters other than * and ? so rule
// patterns only expose the two documented wildcards.
func quoteLiterals(p string) string {
	if !strings.ContainsAny(p, `[]{}\`) {
		return p
	}
	var b strings.Builder
	b.Grow(len(p) + 4)
	for _, r := range p {
		switch r {
		case '[', ']', '{', '}', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
