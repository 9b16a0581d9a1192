package export

import (
	"bytes"
	"fmt"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const documentStyle = `
body { font-family: "Times New Roman", Georgia, serif; font-size: 12pt; line-height: 1.5; color: #111; }
h1, h2, h3 { font-family: Georgia, serif; }
h1 { font-size: 18pt; text-align: center; }
h2 { font-size: 14pt; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #444; padding: 6px; text-align: left; }
blockquote { margin-left: 2em; font-style: italic; }
img { max-width: 320px; }
`

var markdownRenderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// markdownToHTML renders the document body into a printable HTML page.
func markdownToHTML(markdown, title string) (string, error) {
	var body bytes.Buffer
	if err := markdownRenderer.Convert([]byte(markdown), &body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	page := fmt.Sprintf(
		"<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>%s</title><style>%s</style></head><body>%s</body></html>",
		html.EscapeString(title), documentStyle, body.String())
	return page, nil
}
