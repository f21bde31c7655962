// Package validation scores content against brand rules. Eight validators run
// in parallel over a rule set compiled from the built-in defaults and any
// validation_rules knowledge items; results are appended to the ledger and
// failures are remembered as episodic memory.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/knowledge"
	"github.com/rcliao/brandkeeper/internal/llm"
	"github.com/rcliao/brandkeeper/internal/logging"
	"github.com/rcliao/brandkeeper/internal/memory"
	"github.com/rcliao/brandkeeper/internal/metrics"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
)

const component = "validation"

// DefaultThreshold is the overall score content must reach to pass.
const DefaultThreshold = 0.7

// Context describes the content being validated.
type Context struct {
	ContentID       string   `json:"content_id,omitempty"`
	PlanID          string   `json:"plan_id,omitempty"`
	ContentType     string   `json:"content_type,omitempty"`
	Personas        []string `json:"personas,omitempty"`
	Template        string   `json:"template,omitempty"`
	SourceMaterials []string `json:"source_materials,omitempty"`
	AIAssisted      bool     `json:"ai_assisted,omitempty"`
}

// Options configures an Engine.
type Options struct {
	Threshold float64
	// Weights overrides the weight of individual types; missing types weigh 1.
	Weights map[model.ValidationType]float64
	// LLMReview adds one completer call per full validation.
	LLMReview     bool
	Completer     llm.Completer
	ReviewTimeout time.Duration
	// Validators replace the built-in validator of the same type.
	Validators []Validator
	CacheTTL   time.Duration
	Logger     *slog.Logger
}

// Engine runs validations.
type Engine struct {
	memory     *memory.Manager
	knowledge  *knowledge.Base
	opts       Options
	validators map[model.ValidationType]Validator
	rules      *cache.Cache
	logger     *slog.Logger
}

// New returns an engine that reads rules from kb and records results through
// mem. Either may be nil: without kb only the built-in rules apply, without
// mem nothing is recorded.
func New(mem *memory.Manager, kb *knowledge.Base, opts Options) *Engine {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.ReviewTimeout <= 0 {
		opts.ReviewTimeout = 30 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := &Engine{
		memory:     mem,
		knowledge:  kb,
		opts:       opts,
		validators: map[model.ValidationType]Validator{},
		rules:      cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		logger:     opts.Logger,
	}
	for _, v := range DefaultValidators() {
		e.validators[v.Type()] = v
	}
	for _, v := range opts.Validators {
		e.validators[v.Type()] = v
	}
	return e
}

// Threshold returns the pass threshold.
func (e *Engine) Threshold() float64 { return e.opts.Threshold }

// Validate runs every validator over content and records the result.
func (e *Engine) Validate(ctx context.Context, sc session.Context, content string, vc Context) (_ *model.ValidationResult, err error) {
	defer func(start time.Time) { metrics.Observe(component, "validate", start, err) }(time.Now())

	if strings.TrimSpace(content) == "" {
		return nil, errs.E(errs.KindInvalidInput, "validate", "content is empty")
	}
	if vc.PlanID == "" {
		vc.PlanID = sc.PlanID
	}
	if vc.ContentID == "" {
		vc.ContentID = ulid.Make().String()
	}

	in, err := e.input(ctx, content, vc, false)
	if err != nil {
		return nil, err
	}
	issues, err := e.run(ctx, in, model.ValidationTypes, e.opts.LLMReview && e.opts.Completer != nil)
	if err != nil {
		return nil, err
	}
	res := e.score(vc, in.Rules, model.ValidationTypes, issues)

	if err := e.record(ctx, sc, vc, res); err != nil {
		return nil, err
	}
	metrics.ValidationScore.Observe(res.OverallScore)
	logging.With(e.logger, sc).Info("content validated", "content_id", res.ContentID, "score", res.OverallScore,
		"passed", res.Passed, "issues", len(res.Issues))
	return res, nil
}

// ValidateRealtime checks partial content with the fast validators only
// (prohibited language and template compliance) and returns their warning
// and critical issues. Nothing is recorded.
func (e *Engine) ValidateRealtime(ctx context.Context, sc session.Context, partial string, vc Context) (_ *model.ValidationResult, err error) {
	defer func(start time.Time) { metrics.Observe(component, "validate_realtime", start, err) }(time.Now())

	if strings.TrimSpace(partial) == "" {
		return nil, errs.E(errs.KindInvalidInput, "validate_realtime", "content is empty")
	}
	if vc.PlanID == "" {
		vc.PlanID = sc.PlanID
	}

	in, err := e.input(ctx, partial, vc, true)
	if err != nil {
		return nil, err
	}
	types := []model.ValidationType{model.ValidateProhibitedLanguage, model.ValidateTemplateCompliance}
	issues, err := e.run(ctx, in, types, false)
	if err != nil {
		return nil, err
	}
	kept := issues[:0]
	for _, is := range issues {
		if is.Severity.Rank() >= model.SeverityWarning.Rank() {
			kept = append(kept, is)
		}
	}
	res := e.score(vc, in.Rules, types, kept)
	res.Realtime = true
	return res, nil
}

func (e *Engine) input(ctx context.Context, content string, vc Context, partial bool) (*Input, error) {
	rules, err := e.Rules(ctx)
	if err != nil {
		return nil, err
	}
	in := &Input{Content: content, Context: vc, Rules: rules, Partial: partial}
	if vc.Template != "" {
		in.Sections, in.TemplateKnown, err = e.templateSections(ctx, rules, vc.Template)
		if err != nil {
			return nil, err
		}
	}
	return in, nil
}

// run executes the validators of types concurrently and returns their issues
// in type order, followed by any review issues.
func (e *Engine) run(ctx context.Context, in *Input, types []model.ValidationType, review bool) ([]model.ValidationIssue, error) {
	found := make([][]model.ValidationIssue, len(types))
	var reviewed []model.ValidationIssue

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		v, ok := e.validators[t]
		if !ok {
			continue
		}
		g.Go(func() error {
			issues, err := v.Validate(gctx, in)
			if err != nil {
				return fmt.Errorf("%s validator: %w", t, err)
			}
			issues = slices.Clone(issues)
			for j := range issues {
				issues[j].Type = t
			}
			found[i] = issues
			return nil
		})
	}
	if review {
		g.Go(func() error {
			var err error
			reviewed, err = e.review(gctx, in)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.ValidationIssue
	for _, issues := range found {
		out = append(out, issues...)
	}
	return append(out, reviewed...), nil
}

// score computes per-type scores as one minus the summed issue penalties and
// the overall score as their weighted mean.
func (e *Engine) score(vc Context, rules *Rules, types []model.ValidationType, issues []model.ValidationIssue) *model.ValidationResult {
	scores := make(map[model.ValidationType]float64, len(types))
	for _, t := range types {
		scores[t] = 1
	}
	for _, is := range issues {
		if _, ok := scores[is.Type]; ok {
			scores[is.Type] -= rules.Penalties[is.Severity]
		}
	}

	weights := e.weights(types)
	var sum, total float64
	for _, t := range types {
		scores[t] = max(0, scores[t])
		sum += weights[t] * scores[t]
		total += weights[t]
	}

	if issues == nil {
		issues = []model.ValidationIssue{}
	}
	res := &model.ValidationResult{
		ID:           ulid.Make().String(),
		ContentID:    vc.ContentID,
		PlanID:       vc.PlanID,
		Scores:       scores,
		Weights:      weights,
		OverallScore: sum / total,
		Threshold:    e.opts.Threshold,
		Issues:       issues,
		RuleVersion:  rules.Version,
		ValidatedAt:  time.Now().UTC(),
	}
	res.Passed = !res.HasCritical() && res.OverallScore >= res.Threshold
	return res
}

// weights returns the weight of each type. When every configured weight is
// zero the types weigh the same.
func (e *Engine) weights(types []model.ValidationType) map[model.ValidationType]float64 {
	w := make(map[model.ValidationType]float64, len(types))
	var total float64
	for _, t := range types {
		w[t] = 1
		if cw, ok := e.opts.Weights[t]; ok {
			w[t] = cw
		}
		total += w[t]
	}
	if total == 0 {
		for _, t := range types {
			w[t] = 1
		}
	}
	return w
}

// record appends res to the ledger and stores failing results as episodic
// memory. The ledger entry is the result of record; a failed memory write is
// logged.
func (e *Engine) record(ctx context.Context, sc session.Context, vc Context, res *model.ValidationResult) error {
	if e.memory == nil {
		return nil
	}
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode validation: %w", err)
	}
	if _, err := e.memory.AppendRecord(ctx, sc, model.LedgerValidation, res.ContentID, res.PlanID, body); err != nil {
		return fmt.Errorf("record validation: %w", err)
	}
	if res.Passed {
		return nil
	}

	tags := []string{"validation", "failed", "content:" + res.ContentID}
	if vc.ContentType != "" {
		tags = append(tags, vc.ContentType)
	}
	if vc.Template != "" {
		tags = append(tags, "template:"+vc.Template)
	}
	_, err = e.memory.Store(ctx, sc.AsSystem(), memory.StoreRequest{
		Type:       model.Episodic,
		Kind:       model.KindValidation,
		Content:    summarize(res),
		Tags:       tags,
		Importance: 1 - res.OverallScore,
	})
	if err != nil {
		e.logger.Warn("remember failed validation", "content_id", res.ContentID, "error", err)
	}
	return nil
}

func summarize(res *model.ValidationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Validation of %s failed with score %.2f (%d critical, %d warning).",
		res.ContentID, res.OverallScore, res.CountSeverity(model.SeverityCritical), res.CountSeverity(model.SeverityWarning))
	n := 0
	for _, is := range res.Issues {
		if is.Severity == model.SeverityInfo {
			continue
		}
		fmt.Fprintf(&b, "\n- [%s] %s", is.Type, is.Message)
		if n++; n == 5 {
			break
		}
	}
	return b.String()
}

// Rules returns the rule set compiled from the defaults and the current
// validation_rules knowledge items. A rule item that cannot be parsed or
// compiled is skipped with a warning.
func (e *Engine) Rules(ctx context.Context) (*Rules, error) {
	var items []model.KnowledgeItem
	if e.knowledge != nil {
		var err error
		if items, err = e.knowledge.ByType(ctx, model.KnowledgeRules); err != nil {
			return nil, err
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.ID + "@" + strconv.Itoa(it.Version)
	}
	version := "default"
	if len(parts) > 0 {
		version = strings.Join(parts, ",")
	}
	if cached, ok := e.rules.Get(version); ok {
		return cached.(*Rules), nil
	}

	var accepted []*RuleSpec
	for _, it := range items {
		overlay, err := ParseSpec([]byte(it.Content))
		if err == nil {
			_, err = compileWith(append(accepted, overlay), version)
		}
		if err != nil {
			e.logger.Warn("skipping validation rules", "id", it.ID, "version", it.Version, "error", err)
			continue
		}
		accepted = append(accepted, overlay)
	}
	rules, err := compileWith(accepted, version)
	if err != nil {
		return nil, err
	}
	e.rules.Set(version, rules, cache.DefaultExpiration)
	return rules, nil
}

func compileWith(overlays []*RuleSpec, version string) (*Rules, error) {
	spec, err := DefaultSpec()
	if err != nil {
		return nil, err
	}
	for _, o := range overlays {
		spec.Merge(o)
	}
	return Compile(spec, version)
}

// InvalidateRules drops compiled rule sets so the next validation rebuilds
// them.
func (e *Engine) InvalidateRules() {
	e.rules.Flush()
}

// templateSections returns the sections template requires. Rule sets name
// them directly; otherwise a templates knowledge item matching the name
// contributes its second-level headings.
func (e *Engine) templateSections(ctx context.Context, rules *Rules, name string) ([]string, bool, error) {
	for k, sections := range rules.Templates {
		if strings.EqualFold(k, name) {
			return sections, true, nil
		}
	}
	if e.knowledge == nil {
		return nil, false, nil
	}
	items, err := e.knowledge.ByType(ctx, model.KnowledgeTemplates)
	if err != nil {
		return nil, false, err
	}
	for _, it := range items {
		if !templateMatches(it, name) {
			continue
		}
		var sections []string
		for _, h := range Headings(it.Content) {
			if h.Level == 2 {
				sections = append(sections, h.Text)
			}
		}
		return sections, true, nil
	}
	return nil, false, nil
}

func templateMatches(it model.KnowledgeItem, name string) bool {
	stem := it.ID
	if i := strings.LastIndex(stem, "."); i > 0 {
		stem = stem[:i]
	}
	name = strings.ToLower(name)
	stem = strings.ToLower(stem)
	return it.ID == name || stem == name || strings.HasSuffix(stem, "_"+name) ||
		strings.EqualFold(it.Title, name)
}
