// Package report renders a task's final result as a standalone HTML page.
package report

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/m4xw311/stepwise/errors"
)

var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.DefinitionList,
			),
		)
	})
	return markdownInstance
}

// IsHTML reports whether result is already a complete HTML document, as it
// is when the task was to build a web page.
func IsHTML(result string) bool {
	head := strings.ToLower(strings.TrimSpace(result))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

// RenderHTML converts a markdown result into an HTML page titled title.
// Complete HTML documents are returned unchanged.
func RenderHTML(title, result string) (string, error) {
	if IsHTML(result) {
		return result, nil
	}
	var buf bytes.Buffer
	if err := markdown().Convert([]byte(result), &buf); err != nil {
		return "", errors.Wrapf(err, "failed to render markdown")
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 15px; line-height: 1.5; max-width: 60em; margin: auto;">
%s
</body></html>
`, html.EscapeString(title), buf.String()), nil
}

// WriteFile renders result and writes it to path.
func WriteFile(path, title, result string) error {
	page, err := RenderHTML(title, result)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write report '%s'", path)
	}
	return nil
}
