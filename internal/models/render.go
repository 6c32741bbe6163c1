package models

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/renderer/html"
)

// markdown is shared by every render call, goldmark instances are safe for concurrent use once built.
var markdown = goldmark.New(
	goldmark.WithExtensions(
		highlighting.NewHighlighting(
			highlighting.WithStyle("github"),
		),
	),
	// Line breaks inside a paragraph are kept as <br>, users type replies line by line.
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderContent converts the markdown-lite text of a message bubble into HTML. Bold, italic, inline
// code and line breaks are rendered, fenced code blocks are highlighted, and raw HTML in the source is
// omitted, so the output is safe to embed into the page.
func RenderContent(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("failed to render content: %w", err)
	}
	return buf.String(), nil
}
