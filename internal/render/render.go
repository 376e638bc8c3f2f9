// ABOUTME: Markdown to HTML rendering for agent replies shown in web and Matrix clients
// ABOUTME: Raw HTML in the source is escaped, never passed through

package render

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// Markdown converts agent text to an HTML fragment.
func Markdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// IsPlain reports whether text renders to a single paragraph with no markup,
// in which case clients are better off with the plain body alone.
func IsPlain(text, rendered string) bool {
	return rendered == "<p>"+htmlEscape(text)+"</p>"
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func htmlEscape(s string) string { return escaper.Replace(s) }
