// Package render turns formatted markdown into a downloadable document,
// degrading through an ordered chain of output tiers: paginated PDF, then
// a standalone styled HTML file, then plain text. The contract is that the
// caller always gets a file, with decreasing fidelity.
package render

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// converterInstance is initialized once and reused; the goldmark
// configuration never changes and conversion creates per-call state.
var (
	converterInstance goldmark.Markdown
	converterOnce     sync.Once
)

func converter() goldmark.Markdown {
	converterOnce.Do(func() {
		converterInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return converterInstance
}

// markdownToHTML converts the formatter's markdown to an HTML fragment.
func markdownToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := converter().Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return buf.String(), nil
}
