package agent

import (
	"strings"
)

// Delimiters of the final deliverable inside assistant text.
const (
	ResultOpen  = "<result>"
	ResultClose = "</result>"
)

// Delimiters of the provider list in the selection answer.
const (
	BoxOpen  = "<box>"
	BoxClose = "</box>"
)

// ResultCollector accumulates text wrapped in result tags across rounds.
//
// A round holding at least one complete block replaces what was collected
// before with that round's blocks. An open tag without its close starts a
// section that keeps collecting whole rounds until a close tag arrives. A
// close tag seen outside a section still contributes the text before it.
type ResultCollector struct {
	buf       strings.Builder
	inSection bool
}

// Feed consumes one round of assistant text.
func (c *ResultCollector) Feed(content string) {
	replaced := false
	rest := content
	for rest != "" {
		if c.inSection {
			before, after, found := strings.Cut(rest, ResultClose)
			c.buf.WriteString(before)
			if !found {
				return
			}
			c.inSection = false
			rest = after
			continue
		}

		openIdx := strings.Index(rest, ResultOpen)
		closeIdx := strings.Index(rest, ResultClose)
		if closeIdx >= 0 && (openIdx < 0 || closeIdx < openIdx) {
			c.buf.WriteString(rest[:closeIdx])
			rest = rest[closeIdx+len(ResultClose):]
			continue
		}
		if openIdx < 0 {
			return
		}
		rest = rest[openIdx+len(ResultOpen):]
		if strings.Contains(rest, ResultClose) {
			if !replaced {
				c.buf.Reset()
				replaced = true
			} else {
				c.buf.WriteString("\n\n")
			}
		}
		c.inSection = true
	}
}

// InSection reports whether an open tag is still waiting for its close.
func (c *ResultCollector) InSection() bool { return c.inSection }

// String returns the collected result, trimmed.
func (c *ResultCollector) String() string {
	return strings.TrimSpace(c.buf.String())
}

// ExtractBlock returns the trimmed text between the first open tag and the
// next close tag.
func ExtractBlock(content, open, close string) (string, bool) {
	_, after, found := strings.Cut(content, open)
	if !found {
		return "", false
	}
	inner, _, found := strings.Cut(after, close)
	if !found {
		return "", false
	}
	return strings.TrimSpace(inner), true
}
