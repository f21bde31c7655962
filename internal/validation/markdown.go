package validation

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/rcliao/brandkeeper/internal/chunker"
)

// Heading is a markdown heading found in content.
type Heading struct {
	Level int
	Text  string
	Line  int
}

var md = goldmark.New()

// Headings returns the ATX and setext headings of a markdown document in
// document order. Headings inside code blocks are not reported.
func Headings(content string) []Heading {
	src := []byte(content)
	doc := md.Parser().Parse(text.NewReader(src))

	var out []Heading
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		line := 0
		if lines := h.Lines(); lines.Len() > 0 {
			line = chunker.LineAt(content, lines.At(0).Start)
		}
		out = append(out, Heading{Level: h.Level, Text: strings.TrimSpace(inlineText(h, src)), Line: line})
		return ast.WalkSkipChildren, nil
	})
	return out
}

func inlineText(n ast.Node, src []byte) string {
	var b bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		default:
			b.WriteString(inlineText(c, src))
		}
	}
	return b.String()
}
