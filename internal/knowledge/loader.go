package knowledge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/brandkeeper/internal/metrics"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/store"
)

var loadable = map[string]bool{".md": true, ".markdown": true, ".yaml": true, ".yml": true, ".txt": true}

// Skipped is a source that could not be indexed.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// LoadReport summarizes one Load.
type LoadReport struct {
	Added     int       `json:"added"`
	Updated   int       `json:"updated"`
	Unchanged int       `json:"unchanged"`
	Changed   []string  `json:"changed,omitempty"`
	Skipped   []Skipped `json:"skipped,omitempty"`
}

// document is a parsed source file.
type document struct {
	Title        string
	Type         model.KnowledgeType
	Tags         []string
	Status       model.KnowledgeStatus
	Dependencies []model.Dependency
	Content      string
}

type frontMatter struct {
	Title        string   `yaml:"title"`
	Type         string   `yaml:"type"`
	Tags         []string `yaml:"tags"`
	Status       string   `yaml:"status"`
	Dependencies []string `yaml:"dependencies"`
	Content      *string  `yaml:"content"`
}

// Load scans each source root (the configured ones when none are given) and
// indexes new or changed files as new versions. Unreadable or malformed files
// are reported in the result and never fail the load.
func (b *Base) Load(ctx context.Context, sources ...string) (_ *LoadReport, err error) {
	defer func(start time.Time) { metrics.Observe(component, "load", start, err) }(time.Now())

	if len(sources) == 0 {
		sources = b.opts.Sources
	}
	report := &LoadReport{}
	seen := map[string]string{}

	for _, root := range sources {
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				report.Skipped = append(report.Skipped, Skipped{Path: path, Reason: err.Error()})
				if d != nil && d.IsDir() && path != root {
					return fs.SkipDir
				}
				return nil
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || !loadable[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			rel, _ := filepath.Rel(root, path)
			id := itemID(rel)
			if prev, dup := seen[id]; dup {
				report.Skipped = append(report.Skipped, Skipped{Path: path, Reason: "duplicate id " + id + " (also " + prev + ")"})
				return nil
			}
			seen[id] = path

			raw, err := os.ReadFile(path)
			if err != nil {
				report.Skipped = append(report.Skipped, Skipped{Path: path, Reason: err.Error()})
				return nil
			}
			if err := b.index(ctx, id, rel, path, raw, report); err != nil {
				report.Skipped = append(report.Skipped, Skipped{Path: path, Reason: err.Error()})
			}
			return nil
		})
		if walkErr != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Skipped = append(report.Skipped, Skipped{Path: root, Reason: walkErr.Error()})
		}
	}

	if len(report.Changed) > 0 {
		b.changed()
	}
	b.logger.Info("knowledge loaded", "added", report.Added, "updated", report.Updated,
		"unchanged", report.Unchanged, "skipped", len(report.Skipped))
	return report, nil
}

func (b *Base) index(ctx context.Context, id, rel, path string, raw []byte, report *LoadReport) error {
	sum := Checksum(raw)

	unlock := b.lockItem(id)
	defer unlock()

	existing, err := b.store.GetKnowledge(ctx, id, 0)
	if err == nil && indexedChecksum(existing) == sum {
		report.Unchanged++
		return nil
	}

	doc, err := parseDocument(rel, raw)
	if err != nil {
		return err
	}

	item, err := b.store.PutKnowledge(ctx, store.PutKnowledgeParams{
		ID:             id,
		Type:           doc.Type,
		Source:         path,
		Title:          doc.Title,
		Content:        doc.Content,
		Tags:           doc.Tags,
		Status:         doc.Status,
		Dependencies:   doc.Dependencies,
		Checksum:       sum,
		SourceChecksum: sum,
	})
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if item.Version == 1 {
		report.Added++
	} else {
		report.Updated++
	}
	report.Changed = append(report.Changed, id)
	b.logger.Debug("knowledge indexed", "id", id, "version", item.Version)
	return nil
}

// indexedChecksum is the checksum of the source as last indexed. Items stored
// before source checksums were tracked fall back to the head's checksum.
func indexedChecksum(it *model.KnowledgeItem) string {
	if it.SourceChecksum != "" {
		return it.SourceChecksum
	}
	return it.Checksum
}

// Checksum is the first 16 hex characters of the sha256 of raw.
func Checksum(raw []byte) string {
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])[:16]
}

// itemID derives an id from a path relative to its source root.
func itemID(rel string) string {
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", "_")
}

func parseDocument(rel string, raw []byte) (*document, error) {
	text := string(bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n")))
	var fm frontMatter
	body := text

	switch strings.ToLower(filepath.Ext(rel)) {
	case ".md", ".markdown":
		if strings.HasPrefix(text, "---\n") {
			rest := text[4:]
			end := strings.Index(rest, "\n---\n")
			switch {
			case strings.HasPrefix(rest, "---\n"):
				end, body = 0, rest[4:]
			case end >= 0:
				body = rest[end+5:]
			case strings.HasSuffix(rest, "\n---"):
				end = len(rest) - 4
				body = ""
			default:
				return nil, fmt.Errorf("unterminated frontmatter")
			}
			if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
				return nil, fmt.Errorf("malformed frontmatter: %w", err)
			}
		}
	case ".yaml", ".yml":
		var node yaml.Node
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return nil, fmt.Errorf("malformed yaml: %w", err)
		}
		if len(node.Content) == 0 || node.Content[0].Kind != yaml.MappingNode {
			return nil, fmt.Errorf("yaml document is not a mapping")
		}
		if err := node.Decode(&fm); err != nil {
			return nil, fmt.Errorf("malformed yaml: %w", err)
		}
		if fm.Content != nil {
			body = *fm.Content
		}
	}

	doc := &document{
		Title:   strings.TrimSpace(fm.Title),
		Tags:    cleanTags(fm.Tags),
		Status:  model.StatusActive,
		Content: strings.TrimSpace(body),
	}
	if fm.Status != "" {
		doc.Status = model.KnowledgeStatus(strings.ToLower(fm.Status))
		if !model.ValidKnowledgeStatuses[doc.Status] {
			return nil, fmt.Errorf("unknown status %q", fm.Status)
		}
	}
	if fm.Type != "" {
		doc.Type = model.KnowledgeType(strings.ToLower(fm.Type))
		if !model.ValidKnowledgeTypes[doc.Type] {
			return nil, fmt.Errorf("unknown knowledge type %q", fm.Type)
		}
	} else {
		doc.Type = typeFromPath(rel)
	}
	for _, d := range fm.Dependencies {
		if dep := model.ParseDependency(d); dep.ID != "" {
			doc.Dependencies = append(doc.Dependencies, dep)
		}
	}
	if doc.Title == "" {
		doc.Title = firstHeading(doc.Content)
	}
	if doc.Title == "" {
		doc.Title = titleFromPath(rel)
	}
	return doc, nil
}

// typeFromPath classifies a file by the directories it lives in.
func typeFromPath(rel string) model.KnowledgeType {
	slashed := strings.ToLower(filepath.ToSlash(rel))
	parts := strings.Split(slashed, "/")
	dirs := parts[:len(parts)-1]
	has := func(names ...string) bool {
		for _, d := range dirs {
			for _, n := range names {
				if d == n {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has("brand-foundation", "brand_foundation", "foundation"):
		return model.KnowledgeBrandFoundation
	case has("personas", "persona"):
		return model.KnowledgePersonas
	case has("brand"):
		if strings.Contains(slashed, "persona") {
			return model.KnowledgePersonas
		}
		return model.KnowledgeBrandFoundation
	case has("examples", "writing_examples", "writing-examples"):
		return model.KnowledgeExamples
	case has("templates"):
		return model.KnowledgeTemplates
	case has("rules", "validation_rules", "validation-rules", "validation"):
		return model.KnowledgeRules
	case strings.Contains(slashed, "user_preference") || strings.Contains(slashed, "preferences"):
		return model.KnowledgePreferences
	default:
		return model.KnowledgeContextual
	}
}

func firstHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

func titleFromPath(rel string) string {
	stem := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	words := strings.FieldsFunc(stem, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func cleanTags(tags []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func itoa(n int) string { return strconv.Itoa(n) }
