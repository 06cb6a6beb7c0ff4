package tools

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// ExcludePolicy hides tools from the catalog by glob pattern over their
// qualified names, e.g. "edgeone-pages-mcp-server---*" or "*---tavily-extract".
type ExcludePolicy struct {
	Patterns []string
}

// NewExcludePolicy validates the patterns.
func NewExcludePolicy(patterns []string) (*ExcludePolicy, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern '%s'", p)
		}
	}
	return &ExcludePolicy{Patterns: patterns}, nil
}

// Excluded reports whether the qualified tool name matches any pattern.
// A nil policy excludes nothing.
func (p *ExcludePolicy) Excluded(qualifiedName string) bool {
	if p == nil {
		return false
	}
	for _, pattern := range p.Patterns {
		match, err := doublestar.Match(pattern, qualifiedName)
		if err == nil && match {
			return true
		}
	}
	return false
}
