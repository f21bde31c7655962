package validation

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/rcliao/brandkeeper/internal/chunker"
	"github.com/rcliao/brandkeeper/internal/model"
)

// Input is what every validator sees.
type Input struct {
	Content string
	Context Context
	Rules   *Rules
	// Sections are the headings the requested template requires, in order.
	Sections []string
	// TemplateKnown is false when Context.Template names no known template.
	TemplateKnown bool
	// Partial marks content that is still being drafted.
	Partial bool
}

// Validator scores one validation type.
type Validator interface {
	Type() model.ValidationType
	Validate(ctx context.Context, in *Input) ([]model.ValidationIssue, error)
}

type validatorFunc struct {
	t  model.ValidationType
	fn func(in *Input) []model.ValidationIssue
}

// NewValidator adapts a pure check function to Validator.
func NewValidator(t model.ValidationType, fn func(in *Input) []model.ValidationIssue) Validator {
	return validatorFunc{t: t, fn: fn}
}

func (v validatorFunc) Type() model.ValidationType { return v.t }

func (v validatorFunc) Validate(ctx context.Context, in *Input) ([]model.ValidationIssue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.fn(in), nil
}

// DefaultValidators returns the built-in validator for every type.
func DefaultValidators() []Validator {
	return []Validator{
		NewValidator(model.ValidateBrandVoice, checkBrandVoice),
		NewValidator(model.ValidateAuthenticity, checkAuthenticity),
		NewValidator(model.ValidatePersonaAlignment, checkPersonaAlignment),
		NewValidator(model.ValidateEthicalIntegration, checkEthicalIntegration),
		NewValidator(model.ValidateProhibitedLanguage, checkProhibitedLanguage),
		NewValidator(model.ValidateQualityStandards, checkQualityStandards),
		NewValidator(model.ValidateTemplateCompliance, checkTemplateCompliance),
		NewValidator(model.ValidateTransparency, checkTransparency),
	}
}

func issue(sev model.Severity, line int, suggestion, format string, args ...any) model.ValidationIssue {
	return model.ValidationIssue{
		Severity:   sev,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: suggestion,
		Line:       line,
	}
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func checkBrandVoice(in *Input) []model.ValidationIssue {
	var out []model.ValidationIssue
	for _, v := range in.Rules.Voice {
		name := humanize(v.Name)
		if !anyMatch(v.Required, in.Content) {
			out = append(out, issue(model.SeverityWarning, 0,
				"Add language that demonstrates the "+name+" approach, with specific examples or evidence",
				"Missing %s voice patterns", name))
		}
		for _, re := range v.Negative {
			if loc := re.FindStringIndex(in.Content); loc != nil {
				out = append(out, issue(model.SeverityInfo, chunker.LineAt(in.Content, loc[0]),
					"Replace speculative language with evidence-based statements",
					"Anti-pattern for %s: %q", name, in.Content[loc[0]:loc[1]]))
			}
		}
	}
	return out
}

func checkProhibitedLanguage(in *Input) []model.ValidationIssue {
	var out []model.ValidationIssue
	for _, g := range in.Rules.Prohibited {
		for _, re := range g.Patterns {
			for _, loc := range re.FindAllStringIndex(in.Content, -1) {
				out = append(out, issue(model.SeverityCritical, chunker.LineAt(in.Content, loc[0]),
					"Replace with practical, specific, evidence-based language",
					"Prohibited %s: %q", humanize(g.Name), in.Content[loc[0]:loc[1]]))
			}
		}
	}
	return out
}

func checkAuthenticity(in *Input) []model.ValidationIssue {
	content := in.Content
	var claims [][]int
	for _, re := range in.Rules.Experience {
		claims = append(claims, re.FindAllStringIndex(content, -1)...)
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i][0] < claims[j][0] })

	sources := map[string]bool{}
	for _, s := range in.Context.SourceMaterials {
		for _, w := range strings.Fields(strings.ToLower(s)) {
			sources[w] = true
		}
	}

	var out []model.ValidationIssue
	last := -1
	for _, loc := range claims {
		if loc[0] < last {
			continue
		}
		last = loc[1]
		claim := content[loc[0]:loc[1]]
		line := chunker.LineAt(content, loc[0])

		if len(sources) > 0 {
			overlap := 0
			for _, w := range strings.Fields(strings.ToLower(claim)) {
				if sources[w] {
					overlap++
				}
			}
			if overlap < 2 {
				out = append(out, issue(model.SeverityCritical, line,
					"Add [AUTHOR: add personal example] or provide source material supporting this experience",
					"Unsupported personal experience claim: %q", claim))
			}
			continue
		}

		window := content[max(0, loc[0]-100):min(len(content), loc[1]+100)]
		if !anyMatch(in.Rules.Annotations, window) {
			out = append(out, issue(model.SeverityCritical, line,
				"Add [AUTHOR: add personal example] annotation or replace with a general statement",
				"Personal experience claim without annotation: %q", claim))
		}
	}
	return out
}

func checkPersonaAlignment(in *Input) []model.ValidationIssue {
	if len(in.Context.Personas) == 0 {
		names := sortedKeys(in.Rules.Personas)
		return []model.ValidationIssue{issue(model.SeverityWarning, 0,
			"Specify target personas ("+strings.Join(names, ", ")+")",
			"No target personas specified")}
	}

	lower := strings.ToLower(in.Content)
	actual := complexityOf(lower, in.Rules.Complexity)

	var out []model.ValidationIssue
	for _, name := range in.Context.Personas {
		p, ok := lookupPersona(in.Rules.Personas, name)
		if !ok {
			out = append(out, issue(model.SeverityInfo, 0, "Use a persona defined in the brand foundation",
				"Unknown persona %q", name))
			continue
		}
		if !complexityFits(actual, p.Complexity) {
			out = append(out, issue(model.SeverityInfo, 0, "Adjust depth and vocabulary for "+name,
				"Content complexity %s does not fit %s (expects %s)", actual, name, p.Complexity))
		}
		found := false
		for _, f := range p.Focus {
			if strings.Contains(lower, strings.ToLower(f)) {
				found = true
				break
			}
		}
		if !found && len(p.Focus) > 0 {
			out = append(out, issue(model.SeverityInfo, 0,
				"Address "+strings.Join(p.Focus[:min(3, len(p.Focus))], ", "),
				"Missing focus areas for %s", name))
		}
	}
	return out
}

func lookupPersona(personas map[string]PersonaSpec, name string) (PersonaSpec, bool) {
	if p, ok := personas[name]; ok {
		return p, true
	}
	for k, p := range personas {
		if strings.EqualFold(k, name) {
			return p, true
		}
	}
	return PersonaSpec{}, false
}

func complexityOf(lower string, indicators map[string][]string) string {
	count := func(level string) int {
		n := 0
		for _, w := range indicators[level] {
			if strings.Contains(lower, w) {
				n++
			}
		}
		return n
	}
	high, medium, low := count("high"), count("medium"), count("low")
	switch {
	case high >= medium && high >= low:
		return "high"
	case medium >= low:
		return "medium"
	default:
		return "low"
	}
}

// complexityFits reports whether content of complexity actual serves a
// persona expecting expected. Medium content serves everyone.
func complexityFits(actual, expected string) bool {
	switch expected {
	case "high":
		return actual == "high" || actual == "medium"
	case "low":
		return actual == "low" || actual == "medium"
	default:
		return true
	}
}

func checkEthicalIntegration(in *Input) []model.ValidationIssue {
	content := in.Content
	var out []model.ValidationIssue

	var offsets []int
	for _, g := range in.Rules.Ethics {
		for _, re := range g.Patterns {
			for _, loc := range re.FindAllStringIndex(content, -1) {
				offsets = append(offsets, loc[0])
			}
		}
	}
	if len(offsets) == 0 {
		out = append(out, issue(model.SeverityWarning, 0,
			"Address bias, inclusion, user agency and potential negative impact",
			"No ethical considerations found"))
	}

	for _, re := range in.Rules.Afterthought {
		for _, loc := range re.FindAllStringIndex(content, -1) {
			out = append(out, issue(model.SeverityInfo, chunker.LineAt(content, loc[0]),
				"Make ethics part of the main discussion",
				"Ethics appear as an afterthought: %q", content[loc[0]:loc[1]]))
		}
	}

	if len(offsets) > 0 {
		if spread(content, offsets) < 2 {
			out = append(out, issue(model.SeverityInfo, 0,
				"Spread ethical considerations across every section",
				"Ethical considerations clustered in one section"))
		}
	}
	return out
}

// spread counts the parts of content the offsets fall in: its markdown
// sections when it has at least two, its thirds otherwise.
func spread(content string, offsets []int) int {
	parts := map[int]bool{}
	sections := chunker.Sections(content)
	if len(sections) < 2 {
		for _, off := range offsets {
			parts[chunker.Third(content, off)] = true
		}
		return len(parts)
	}
	for _, off := range offsets {
		line := chunker.LineAt(content, off)
		for i, sec := range sections {
			if line >= sec.StartLine && line <= sec.EndLine {
				parts[i] = true
				break
			}
		}
	}
	return len(parts)
}

func checkQualityStandards(in *Input) []model.ValidationIssue {
	q := in.Rules.Quality
	content := in.Content
	var out []model.ValidationIssue

	if n := len(chunker.Words(content)); q.MinWords > 0 && n < q.MinWords {
		out = append(out, issue(model.SeverityWarning, 0, "Develop the argument with examples and evidence",
			"Content is too short: %d words, expected at least %d", n, q.MinWords))
	}

	var prose []string
	for _, line := range strings.Split(content, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "#") || strings.HasPrefix(t, "-") || strings.HasPrefix(t, "*") {
			continue
		}
		prose = append(prose, t)
	}
	sentences := chunker.Sentences(strings.Join(prose, "\n"))
	if len(sentences) > 0 {
		words, lowerStarts := 0, 0
		for _, s := range sentences {
			words += len(chunker.Words(s))
			for _, r := range s {
				if unicode.IsLetter(r) {
					if unicode.IsLower(r) {
						lowerStarts++
					}
					break
				}
			}
		}
		avg := float64(words) / float64(len(sentences))
		switch {
		case q.MaxSentenceWords > 0 && avg > float64(q.MaxSentenceWords):
			out = append(out, issue(model.SeverityInfo, 0, "Aim for 15 to 20 words per sentence",
				"Sentences are too long: %.1f words on average", avg))
		case q.MinSentenceWords > 0 && avg < float64(q.MinSentenceWords):
			out = append(out, issue(model.SeverityInfo, 0, "Combine fragments into complete sentences",
				"Sentences are too short: %.1f words on average", avg))
		}
		if len(sentences) >= 2 && lowerStarts*2 > len(sentences) {
			out = append(out, issue(model.SeverityWarning, 0, "Start sentences with a capital letter",
				"%d of %d sentences start in lowercase", lowerStarts, len(sentences)))
		}
	}

	if q.MaxParagraphWords > 0 {
		for _, p := range chunker.Paragraphs(content) {
			if n := len(chunker.Words(p.Text)); n > q.MaxParagraphWords {
				out = append(out, issue(model.SeverityInfo, p.StartLine, "Break long paragraphs into 2 to 4 sentences",
					"Paragraph has %d words", n))
			}
		}
	}

	for _, re := range q.Informal {
		for _, loc := range re.FindAllStringIndex(content, -1) {
			out = append(out, issue(model.SeverityWarning, chunker.LineAt(content, loc[0]),
				"Use complete, professional wording",
				"Informal language: %q", content[loc[0]:loc[1]]))
		}
	}
	return out
}

func checkTemplateCompliance(in *Input) []model.ValidationIssue {
	name := in.Context.Template
	if name == "" {
		return nil
	}
	if !in.TemplateKnown {
		return []model.ValidationIssue{issue(model.SeverityWarning, 0, "Use a template defined in the knowledge base",
			"Unknown template %q", name)}
	}

	headings := Headings(in.Content)
	var out []model.ValidationIssue
	pos := -1
	for _, section := range in.Sections {
		idx := findHeading(headings, section)
		switch {
		case idx < 0:
			if !in.Partial {
				out = append(out, issue(model.SeverityWarning, 0, "Add a \""+section+"\" section",
					"Missing required %s section %q", name, section))
			}
		case idx < pos:
			out = append(out, issue(model.SeverityInfo, headings[idx].Line, "Follow the "+name+" section order",
				"Section %q is out of order", section))
		default:
			pos = idx
		}
	}
	return out
}

func findHeading(headings []Heading, section string) int {
	want := strings.ToLower(section)
	for i, h := range headings {
		if strings.Contains(strings.ToLower(h.Text), want) {
			return i
		}
	}
	return -1
}

func checkTransparency(in *Input) []model.ValidationIssue {
	t := in.Rules.Transparency
	content := in.Content
	var out []model.ValidationIssue

	if !anyMatch(t.Evidence, content) {
		out = append(out, issue(model.SeverityWarning, 0, "Show numbers, test counts or documented results",
			"No measurable evidence"))
	}
	if !anyMatch(t.Process, content) {
		out = append(out, issue(model.SeverityInfo, 0, "Document the process or methodology behind the results",
			"Process is not shown"))
	}
	if !anyMatch(t.Failures, content) {
		out = append(out, issue(model.SeverityInfo, 0, "Include what did not work and known limitations",
			"No failures or limitations shared"))
	}
	for _, re := range t.Vague {
		for _, loc := range re.FindAllStringIndex(content, -1) {
			out = append(out, issue(model.SeverityWarning, chunker.LineAt(content, loc[0]),
				"Replace with the specific, measured outcome",
				"Vague outcome claim: %q", content[loc[0]:loc[1]]))
		}
	}
	if in.Context.AIAssisted && !anyMatch(t.Disclosure, content) {
		out = append(out, issue(model.SeverityWarning, 0, "Disclose how AI was used to produce this content",
			"AI assistance is not disclosed"))
	}
	return out
}
