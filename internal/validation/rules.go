package validation

import (
	"bytes"
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/brandkeeper/internal/model"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// RuleSpec is the YAML form of a rule set, as written in default_rules.yaml
// and in validation_rules knowledge items.
type RuleSpec struct {
	Penalties            map[model.Severity]float64 `yaml:"penalties"`
	Voice                map[string]VoiceSpec       `yaml:"voice"`
	ProhibitedLanguage   map[string][]string        `yaml:"prohibited_language"`
	ExperienceClaims     []string                   `yaml:"experience_claims"`
	Annotations          []string                   `yaml:"annotations"`
	Personas             map[string]PersonaSpec     `yaml:"personas"`
	ComplexityIndicators map[string][]string        `yaml:"complexity_indicators"`
	Ethics               map[string][]string        `yaml:"ethics"`
	EthicsAfterthoughts  []string                   `yaml:"ethics_afterthoughts"`
	Quality              QualitySpec                `yaml:"quality"`
	Transparency         TransparencySpec           `yaml:"transparency"`
	Templates            map[string][]string        `yaml:"templates"`

	// Document metadata read by the knowledge loader.
	Title        string   `yaml:"title"`
	Type         string   `yaml:"type"`
	Tags         []string `yaml:"tags"`
	Status       string   `yaml:"status"`
	Dependencies []string `yaml:"dependencies"`
}

type VoiceSpec struct {
	Required []string `yaml:"required"`
	Negative []string `yaml:"negative"`
}

type PersonaSpec struct {
	Complexity string   `yaml:"complexity"`
	Focus      []string `yaml:"focus"`
}

type QualitySpec struct {
	MinWords          int      `yaml:"min_words"`
	MinSentenceWords  int      `yaml:"min_sentence_words"`
	MaxSentenceWords  int      `yaml:"max_sentence_words"`
	MaxParagraphWords int      `yaml:"max_paragraph_words"`
	Informal          []string `yaml:"informal"`
}

type TransparencySpec struct {
	Evidence   []string `yaml:"evidence"`
	Process    []string `yaml:"process"`
	Failures   []string `yaml:"failures"`
	Vague      []string `yaml:"vague"`
	Disclosure []string `yaml:"disclosure"`
}

// DefaultSpec returns a fresh copy of the built-in rule set.
func DefaultSpec() (*RuleSpec, error) {
	return ParseSpec(defaultRulesYAML)
}

// ParseSpec decodes a YAML rule document. Unknown keys are rejected so a
// typo in a rule file is reported instead of silently ignored.
func ParseSpec(raw []byte) (*RuleSpec, error) {
	var spec RuleSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return &spec, nil
}

// Merge overlays o onto s. Map entries replace entries of the same key;
// lists and numbers replace when set.
func (s *RuleSpec) Merge(o *RuleSpec) {
	s.Penalties = mergeMap(s.Penalties, o.Penalties)
	s.Voice = mergeMap(s.Voice, o.Voice)
	s.ProhibitedLanguage = mergeMap(s.ProhibitedLanguage, o.ProhibitedLanguage)
	s.Personas = mergeMap(s.Personas, o.Personas)
	s.ComplexityIndicators = mergeMap(s.ComplexityIndicators, o.ComplexityIndicators)
	s.Ethics = mergeMap(s.Ethics, o.Ethics)
	s.Templates = mergeMap(s.Templates, o.Templates)
	replaceList(&s.ExperienceClaims, o.ExperienceClaims)
	replaceList(&s.Annotations, o.Annotations)
	replaceList(&s.EthicsAfterthoughts, o.EthicsAfterthoughts)

	replaceInt(&s.Quality.MinWords, o.Quality.MinWords)
	replaceInt(&s.Quality.MinSentenceWords, o.Quality.MinSentenceWords)
	replaceInt(&s.Quality.MaxSentenceWords, o.Quality.MaxSentenceWords)
	replaceInt(&s.Quality.MaxParagraphWords, o.Quality.MaxParagraphWords)
	replaceList(&s.Quality.Informal, o.Quality.Informal)

	replaceList(&s.Transparency.Evidence, o.Transparency.Evidence)
	replaceList(&s.Transparency.Process, o.Transparency.Process)
	replaceList(&s.Transparency.Failures, o.Transparency.Failures)
	replaceList(&s.Transparency.Vague, o.Transparency.Vague)
	replaceList(&s.Transparency.Disclosure, o.Transparency.Disclosure)
}

func mergeMap[K comparable, V any](dst, src map[K]V) map[K]V {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[K]V, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func replaceList(dst *[]string, src []string) {
	if len(src) > 0 {
		*dst = src
	}
}

func replaceInt(dst *int, src int) {
	if src > 0 {
		*dst = src
	}
}

// Rules is a compiled rule set. Named groups are kept sorted by name so
// validators report issues in a stable order.
type Rules struct {
	// Version identifies the knowledge items the set was built from.
	Version string

	Penalties    map[model.Severity]float64
	Voice        []VoiceRule
	Prohibited   []PatternGroup
	Experience   []*regexp.Regexp
	Annotations  []*regexp.Regexp
	Personas     map[string]PersonaSpec
	Complexity   map[string][]string
	Ethics       []PatternGroup
	Afterthought []*regexp.Regexp
	Quality      QualityRules
	Transparency TransparencyRules
	Templates    map[string][]string
}

// VoiceRule is one brand voice characteristic.
type VoiceRule struct {
	Name     string
	Required []*regexp.Regexp
	Negative []*regexp.Regexp
}

// PatternGroup is a named category of patterns.
type PatternGroup struct {
	Name     string
	Patterns []*regexp.Regexp
}

type QualityRules struct {
	MinWords          int
	MinSentenceWords  int
	MaxSentenceWords  int
	MaxParagraphWords int
	Informal          []*regexp.Regexp
}

type TransparencyRules struct {
	Evidence   []*regexp.Regexp
	Process    []*regexp.Regexp
	Failures   []*regexp.Regexp
	Vague      []*regexp.Regexp
	Disclosure []*regexp.Regexp
}

// Compile turns a spec into matchers. All patterns match case-insensitively.
func Compile(spec *RuleSpec, version string) (*Rules, error) {
	c := &compiler{}
	r := &Rules{
		Version:      version,
		Penalties:    map[model.Severity]float64{},
		Experience:   c.all("experience_claims", spec.ExperienceClaims),
		Annotations:  c.all("annotations", spec.Annotations),
		Personas:     spec.Personas,
		Complexity:   spec.ComplexityIndicators,
		Afterthought: c.all("ethics_afterthoughts", spec.EthicsAfterthoughts),
		Quality: QualityRules{
			MinWords:          spec.Quality.MinWords,
			MinSentenceWords:  spec.Quality.MinSentenceWords,
			MaxSentenceWords:  spec.Quality.MaxSentenceWords,
			MaxParagraphWords: spec.Quality.MaxParagraphWords,
			Informal:          c.all("quality.informal", spec.Quality.Informal),
		},
		Transparency: TransparencyRules{
			Evidence:   c.all("transparency.evidence", spec.Transparency.Evidence),
			Process:    c.all("transparency.process", spec.Transparency.Process),
			Failures:   c.all("transparency.failures", spec.Transparency.Failures),
			Vague:      c.all("transparency.vague", spec.Transparency.Vague),
			Disclosure: c.all("transparency.disclosure", spec.Transparency.Disclosure),
		},
		Templates: spec.Templates,
	}

	for sev, p := range spec.Penalties {
		if sev != model.SeverityInfo && sev != model.SeverityWarning && sev != model.SeverityCritical {
			return nil, fmt.Errorf("compile rules: unknown severity %q", sev)
		}
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("compile rules: penalty for %s must be in [0,1], got %v", sev, p)
		}
		r.Penalties[sev] = p
	}
	for _, name := range sortedKeys(spec.Voice) {
		v := spec.Voice[name]
		r.Voice = append(r.Voice, VoiceRule{
			Name:     name,
			Required: c.all("voice."+name, v.Required),
			Negative: c.all("voice."+name, v.Negative),
		})
	}
	r.Prohibited = c.groups("prohibited_language", spec.ProhibitedLanguage)
	r.Ethics = c.groups("ethics", spec.Ethics)

	for name, p := range spec.Personas {
		if _, ok := spec.ComplexityIndicators[p.Complexity]; !ok {
			return nil, fmt.Errorf("compile rules: persona %q has unknown complexity %q", name, p.Complexity)
		}
	}

	if c.err != nil {
		return nil, c.err
	}
	return r, nil
}

type compiler struct {
	err error
}

func (c *compiler) all(where string, patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			if c.err == nil {
				c.err = fmt.Errorf("compile rules: %s: %w", where, err)
			}
			continue
		}
		out = append(out, re)
	}
	return out
}

func (c *compiler) groups(where string, m map[string][]string) []PatternGroup {
	var out []PatternGroup
	for _, name := range sortedKeys(m) {
		out = append(out, PatternGroup{Name: name, Patterns: c.all(where+"."+name, m[name])})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// humanize turns "hype_language" into "hype language".
func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
