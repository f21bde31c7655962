package chunker

import (
	"strings"
	"testing"
)

func TestSections_Empty(t *testing.T) {
	if got := Sections("  \n"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestSections_SplitsOnHeadings(t *testing.T) {
	text := "intro line\n\n# One\nbody one\n\n## Two\nbody two\nmore"
	got := Sections(text)
	if len(got) != 3 {
		t.Fatalf("expected 3 sections, got %d: %+v", len(got), got)
	}
	if got[0].Level != 0 || got[0].Text != "intro line" || got[0].StartLine != 1 {
		t.Errorf("unexpected preamble %+v", got[0])
	}
	if got[1].Heading != "One" || got[1].Level != 1 || got[1].StartLine != 3 || got[1].EndLine != 5 {
		t.Errorf("unexpected section one %+v", got[1])
	}
	if got[2].Heading != "Two" || got[2].Level != 2 || got[2].EndLine != 8 {
		t.Errorf("unexpected section two %+v", got[2])
	}
}

func TestSections_IgnoresFencedHashes(t *testing.T) {
	text := "# Code\n```\n# not a heading\n```\n"
	got := Sections(text)
	if len(got) != 1 {
		t.Fatalf("expected 1 section, got %d", len(got))
	}
	if !strings.Contains(got[0].Text, "# not a heading") {
		t.Errorf("fenced line lost: %q", got[0].Text)
	}
}

func TestSections_HashtagIsNotHeading(t *testing.T) {
	got := Sections("#hashtag text")
	if len(got) != 1 || got[0].Level != 0 {
		t.Errorf("expected plain section, got %+v", got)
	}
}

func TestParagraphs(t *testing.T) {
	text := "a\nb\n\n\nc\n\nd"
	got := Paragraphs(text)
	if len(got) != 3 {
		t.Fatalf("expected 3 paragraphs, got %d", len(got))
	}
	if got[0].StartLine != 1 || got[0].EndLine != 2 {
		t.Errorf("paragraph 0 lines %d-%d", got[0].StartLine, got[0].EndLine)
	}
	if got[1].Text != "c" || got[1].StartLine != 5 {
		t.Errorf("paragraph 1 %+v", got[1])
	}
	if got[2].StartLine != 7 {
		t.Errorf("paragraph 2 %+v", got[2])
	}
}

func TestLineAt(t *testing.T) {
	text := "one\ntwo\nthree"
	cases := map[int]int{0: 1, 3: 1, 4: 2, 8: 3, 100: 3, -1: 1}
	for off, want := range cases {
		if got := LineAt(text, off); got != want {
			t.Errorf("LineAt(%d) = %d, want %d", off, got, want)
		}
	}
}

func TestThird(t *testing.T) {
	text := strings.Repeat("x", 90)
	cases := map[int]int{0: 0, 29: 0, 30: 1, 59: 1, 60: 2, 89: 2, 200: 2}
	for off, want := range cases {
		if got := Third(text, off); got != want {
			t.Errorf("Third(%d) = %d, want %d", off, got, want)
		}
	}
}

func TestSentences(t *testing.T) {
	got := Sentences("First one. Second one!  Third?\n- 42 -\nLast")
	want := []string{"First one.", "Second one!", "Third?", "Last"}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}
