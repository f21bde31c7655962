// Package chunker splits markdown content into line-addressed blocks so
// validators can point at the line an issue was found on and check how a
// theme is distributed across a document.
package chunker

import (
	"strings"
)

// Block is a span of text with its position in the original content.
// Lines are 1-based and inclusive.
type Block struct {
	Heading   string
	Level     int
	Text      string
	StartLine int
	EndLine   int
}

// Sections splits text on markdown headings. Text before the first heading
// becomes a section with Level 0 and no heading.
func Sections(text string) []Block {
	text = strings.TrimRight(text, "\n ")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	var out []Block
	var current []string
	cur := Block{StartLine: 1}

	flush := func(endLine int) {
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" || cur.Heading != "" {
			cur.Text = t
			cur.EndLine = endLine
			out = append(out, cur)
		}
		current = nil
	}

	inFence := false
	for i, line := range lines {
		lineNum := i + 1
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		if !inFence {
			if level, heading, ok := parseHeading(trimmed); ok {
				flush(lineNum - 1)
				cur = Block{Heading: heading, Level: level, StartLine: lineNum}
				continue
			}
		}
		current = append(current, line)
	}
	flush(len(lines))

	return out
}

// Paragraphs splits text on blank lines.
func Paragraphs(text string) []Block {
	lines := strings.Split(text, "\n")
	var out []Block
	var current []string
	start := 0

	flush := func(endLine int) {
		if len(current) == 0 {
			return
		}
		out = append(out, Block{
			Text:      strings.TrimSpace(strings.Join(current, "\n")),
			StartLine: start,
			EndLine:   endLine,
		})
		current = nil
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush(i)
			continue
		}
		if len(current) == 0 {
			start = i + 1
		}
		current = append(current, line)
	}
	flush(len(lines))

	return out
}

// LineAt returns the 1-based line containing byte offset off.
func LineAt(text string, off int) int {
	if off < 0 {
		return 1
	}
	if off > len(text) {
		off = len(text)
	}
	return strings.Count(text[:off], "\n") + 1
}

// Third returns which third (0, 1 or 2) of text byte offset off falls in.
func Third(text string, off int) int {
	n := len(text)
	if n == 0 || off <= 0 {
		return 0
	}
	if off >= n {
		return 2
	}
	t := off * 3 / n
	if t > 2 {
		t = 2
	}
	return t
}

// Words returns the whitespace-separated words of text.
func Words(text string) []string {
	return strings.Fields(text)
}

// Sentences splits text on terminal punctuation. Fragments without letters
// are dropped.
func Sentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		b.Reset()
		if hasLetter(s) {
			out = append(out, s)
		}
	}
	for _, r := range text {
		b.WriteRune(r)
		switch r {
		case '.', '!', '?', '\n':
			flush()
		}
	}
	flush()
	return out
}

func parseHeading(line string) (int, string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := line[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	return level, strings.TrimSpace(strings.TrimRight(rest, "# ")), true
}

func hasLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}
