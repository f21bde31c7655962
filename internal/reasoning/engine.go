// Package reasoning builds, runs, monitors and adapts content plans: step
// graphs expanded from templates, advanced one transition at a time and
// persisted through the memory store after every change.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/knowledge"
	"github.com/rcliao/brandkeeper/internal/llm"
	"github.com/rcliao/brandkeeper/internal/logging"
	"github.com/rcliao/brandkeeper/internal/memory"
	"github.com/rcliao/brandkeeper/internal/metrics"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
	"github.com/rcliao/brandkeeper/internal/store"
	"github.com/rcliao/brandkeeper/internal/validation"
)

const component = "reasoning"

// Options configures an Engine.
type Options struct {
	// MaxAttempts is the default number of tries a step gets.
	MaxAttempts int
	// AdaptOnFailure remediates a step that ran out of attempts instead of
	// failing the plan.
	AdaptOnFailure bool
	// StaleAfter is how long a plan may go without a change before Monitor
	// reports it stale.
	StaleAfter time.Duration
	// Threshold is the score quality gates and validation steps require.
	Threshold float64
	// Templates override the built-in templates by type.
	Templates map[model.TemplateType]Template
	// Completer, when set, writes plan briefs. With Elaborate it also expands
	// decision rationales.
	Completer        llm.Completer
	Elaborate        bool
	CompleterTimeout time.Duration
	Logger           *slog.Logger
}

// Engine is the reasoning engine.
type Engine struct {
	memory     *memory.Manager
	knowledge  *knowledge.Base
	validation *validation.Engine
	opts       Options
	templates  map[model.TemplateType]Template
	logger     *slog.Logger
	now        func() time.Time

	planMu sync.Mutex
	plans  map[string]*sync.Mutex
}

// New returns an engine persisting plans through mem. kb and val may be nil;
// plans are then built without knowledge and validation steps cannot run.
func New(mem *memory.Manager, kb *knowledge.Base, val *validation.Engine, opts Options) *Engine {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 24 * time.Hour
	}
	if opts.Threshold <= 0 {
		opts.Threshold = validation.DefaultThreshold
		if val != nil {
			opts.Threshold = val.Threshold()
		}
	}
	if opts.CompleterTimeout <= 0 {
		opts.CompleterTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	templates := DefaultTemplates()
	for t, tpl := range opts.Templates {
		templates[t] = tpl
	}
	return &Engine{
		memory:     mem,
		knowledge:  kb,
		validation: val,
		opts:       opts,
		templates:  templates,
		logger:     opts.Logger,
		now:        func() time.Time { return time.Now().UTC() },
		plans:      make(map[string]*sync.Mutex),
	}
}

// lockPlan serializes transitions of one plan.
func (e *Engine) lockPlan(id string) func() {
	e.planMu.Lock()
	mu, ok := e.plans[id]
	if !ok {
		mu = &sync.Mutex{}
		e.plans[id] = mu
	}
	e.planMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Plan returns the stored plan with id.
func (e *Engine) Plan(ctx context.Context, id string) (*model.Plan, error) {
	return e.load(ctx, "get_plan", id)
}

// Plans returns plans with status, or all plans when status is empty.
func (e *Engine) Plans(ctx context.Context, status model.PlanStatus) ([]model.Plan, error) {
	return e.memory.ListPlans(ctx, status)
}

func (e *Engine) load(ctx context.Context, op, id string) (*model.Plan, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errs.E(errs.KindInvalidInput, op, "plan id is required")
	}
	p, err := e.memory.LoadPlan(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &errs.Error{Kind: errs.KindNotFound, Op: op, Msg: err.Error()}
	}
	return p, err
}

// errUnchanged tells mutate to return the plan as loaded without saving.
var errUnchanged = errors.New("plan unchanged")

// maxSaveAttempts bounds how often mutate reloads a plan that another writer
// saved between its load and its save.
const maxSaveAttempts = 8

// mutate applies fn to a copy of the plan under its lock and saves the copy.
// When fn fails nothing is saved and the stored plan is left as it was. The
// lock only covers this process; a save that lost to another process's write
// is retried on a fresh load, so fn must not have side effects outside p.
func (e *Engine) mutate(ctx context.Context, sc session.Context, op, id string, fn func(p *model.Plan, now time.Time) error) (_ *model.Plan, err error) {
	defer func(start time.Time) { metrics.Observe(component, op, start, err) }(time.Now())

	unlock := e.lockPlan(id)
	defer unlock()

	log := logging.With(e.logger, sc.WithPlan(id))
	for attempt := 1; ; attempt++ {
		cur, err := e.load(ctx, op, id)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		now := e.now()
		if err := fn(next, now); err != nil {
			if errors.Is(err, errUnchanged) {
				return cur, nil
			}
			return nil, err
		}
		if err := checkGraph(op, next.Steps); err != nil {
			return nil, err
		}
		next.UpdatedAt = now
		err = e.memory.SavePlan(ctx, next)
		if errors.Is(err, store.ErrConflict) && attempt < maxSaveAttempts {
			log.Debug("plan changed concurrently, reloading", "op", op, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: save plan %s: %w", op, id, err)
		}

		log.Debug("plan updated", "op", op, "status", next.Status, "revision", next.Revision)
		if !cur.Status.Terminal() && next.Status.Terminal() {
			log.Info("plan finished", "status", next.Status)
			e.remember(ctx, sc, next)
		}
		return next, nil
	}
}

// remember stores a procedural note about a finished plan so later plans of
// the same kind can see how it went.
func (e *Engine) remember(ctx context.Context, sc session.Context, p *model.Plan) {
	var done, failed, skipped int
	for _, s := range p.Steps {
		switch s.Status {
		case model.StepDone:
			done++
		case model.StepFailed:
			failed++
		case model.StepSkipped:
			skipped++
		}
	}
	importance := 0.3
	if p.Status != model.PlanDone {
		importance = 0.6
	}
	tags := []string{"plan", string(p.TemplateType), string(p.Status)}
	if p.TaskContext.ContentType != "" {
		tags = append(tags, p.TaskContext.ContentType)
	}
	content := fmt.Sprintf("Plan %s (%s) %s after %d revisions: %d done, %d failed, %d skipped of %d steps",
		p.Title, p.TemplateType, p.Status, p.Revision, done, failed, skipped, len(p.Steps))
	_, err := e.memory.Store(ctx, sc.AsSystem().WithPlan(p.ID), memory.StoreRequest{
		Type:       model.Procedural,
		Kind:       model.KindPlan,
		Content:    content,
		Tags:       tags,
		Importance: importance,
	})
	if err != nil {
		logging.With(e.logger, sc).Warn("remember plan", "plan_id", p.ID, "error", err)
	}
}

// CreatePlan expands the template for tt with the task context, what memory
// recalls about earlier work of the same kind and what the knowledge base
// holds on the topic. Nothing is persisted unless the whole plan is built.
func (e *Engine) CreatePlan(ctx context.Context, sc session.Context, tt model.TemplateType, tc model.TaskContext) (_ *model.Plan, err error) {
	defer func(start time.Time) { metrics.Observe(component, "create_plan", start, err) }(time.Now())

	tpl, ok := e.templates[tt]
	if !ok || !model.ValidTemplateTypes[tt] {
		return nil, errs.E(errs.KindInvalidTemplate, "create_plan", "unknown template type %q", tt)
	}
	steps, err := expand(tpl, e.opts.MaxAttempts, e.opts.Threshold)
	if err != nil {
		return nil, err
	}
	if err := checkGraph("create_plan", steps); err != nil {
		return nil, err
	}

	now := e.now()
	title := tc.Title
	if title == "" {
		title = tpl.Title
		if tc.Topic != "" {
			title += ": " + tc.Topic
		}
	}
	p := &model.Plan{
		ID:           ulid.Make().String(),
		TemplateType: tt,
		Title:        title,
		TaskContext:  tc,
		Steps:        steps,
		Status:       model.PlanCreated,
		CreatedBy:    sc.Role,
		TraceID:      sc.TraceID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	log := logging.With(e.logger, sc.WithPlan(p.ID))

	failures, err := e.priorFailures(ctx, sc, tc)
	if err != nil {
		return nil, err
	}
	if failures > 0 {
		if i := lastValidation(p.Steps); i >= 0 {
			insertGate(p, i, e.opts.Threshold, "Quality gate: earlier "+contentLabel(tc)+" failed validation")
			log.Info("quality gate added", "prior_failures", failures)
		}
	}

	items, err := e.consultKnowledge(ctx, tc)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		p.Knowledge = append(p.Knowledge, it.Item.ID)
	}

	if e.opts.Completer != nil {
		brief, err := e.complete(ctx, sc, "create_plan", briefPrompt(p, items, failures))
		if err != nil {
			return nil, err
		}
		p.Brief = brief
	}

	refresh(p, now)
	p.Events = append(p.Events, model.PlanEvent{At: now, Note: "plan created from " + string(tt) + " template"})
	if err := e.memory.SavePlan(ctx, p); err != nil {
		return nil, fmt.Errorf("create_plan: save plan: %w", err)
	}

	if e.knowledge != nil {
		top := 0.0
		for _, it := range items {
			top = max(top, it.Score)
		}
		for _, it := range items {
			_, err := e.knowledge.RecordUsage(ctx, it.Item.ID, knowledge.UsageContext{
				PlanID:        p.ID,
				ContentType:   tc.ContentType,
				Tags:          tc.Tags,
				Effectiveness: it.Score / top,
			})
			if err != nil {
				log.Warn("record knowledge usage", "id", it.Item.ID, "error", err)
			}
		}
	}

	log.Info("plan created", "template", tt, "steps", len(p.Steps), "knowledge", len(p.Knowledge))
	return p, nil
}

// priorFailures counts remembered failed validations of the same content type.
// A caller who may not read memory plans without history.
func (e *Engine) priorFailures(ctx context.Context, sc session.Context, tc model.TaskContext) (int, error) {
	if tc.ContentType == "" {
		return 0, nil
	}
	ct := strings.ToLower(tc.ContentType)
	entries, err := e.memory.Retrieve(ctx, sc, memory.Query{Tags: []string{"validation", ct}, Limit: 50})
	if errs.KindOf(err) == errs.KindAccessDenied {
		logging.With(e.logger, sc).Debug("planning without memory", "error", err)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("create_plan: recall history: %w", err)
	}
	n := 0
	for _, m := range entries {
		if m.Kind == model.KindValidation && m.HasTag("failed") && m.HasTag(ct) {
			n++
		}
	}
	return n, nil
}

func (e *Engine) consultKnowledge(ctx context.Context, tc model.TaskContext) ([]knowledge.SearchResult, error) {
	if e.knowledge == nil {
		return nil, nil
	}
	text := strings.TrimSpace(tc.Topic + " " + tc.ContentType)
	if text == "" && len(tc.Tags) == 0 {
		return nil, nil
	}
	res, err := e.knowledge.Search(ctx, knowledge.Query{Text: text, Tags: tc.Tags, Limit: 5})
	if err != nil {
		return nil, fmt.Errorf("create_plan: search knowledge: %w", err)
	}
	out := res[:0]
	for _, r := range res {
		if r.Score > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

// complete calls the completer. Expiry fails the operation; any other
// completer error is logged and yields no text.
func (e *Engine) complete(ctx context.Context, sc session.Context, op, prompt string) (string, error) {
	out, err := e.opts.Completer.Complete(ctx, prompt, e.opts.CompleterTimeout)
	switch {
	case err == nil:
		return strings.TrimSpace(out), nil
	case errs.Retryable(err) || errors.Is(err, context.DeadlineExceeded):
		return "", errs.Wrap(errs.KindUpstreamTimeout, op, err)
	case ctx.Err() != nil:
		return "", ctx.Err()
	default:
		logging.With(e.logger, sc).Warn("completer failed", "op", op, "error", err)
		return "", nil
	}
}

func briefPrompt(p *model.Plan, items []knowledge.SearchResult, failures int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a short brief (under 120 words) for the writing team.\nTask: %s\n", p.Title)
	tc := p.TaskContext
	if tc.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", tc.Topic)
	}
	if tc.ContentType != "" {
		fmt.Fprintf(&b, "Content type: %s\n", tc.ContentType)
	}
	if len(tc.Personas) > 0 {
		fmt.Fprintf(&b, "Audience: %s\n", strings.Join(tc.Personas, ", "))
	}
	if len(items) > 0 {
		b.WriteString("Reference material:\n")
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", it.Item.Title)
		}
	}
	if failures > 0 {
		fmt.Fprintf(&b, "Earlier drafts of this type failed validation %d times; call out what to watch for.\n", failures)
	}
	b.WriteString("Steps:\n")
	for _, s := range p.Steps {
		fmt.Fprintf(&b, "- %s\n", s.Name)
	}
	return b.String()
}

// lastValidation returns the index of the last validation step, or -1.
func lastValidation(steps []model.PlanStep) int {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Kind == model.StepValidation {
			return i
		}
	}
	return -1
}

func contentLabel(tc model.TaskContext) string {
	if tc.ContentType != "" {
		return tc.ContentType + " drafts"
	}
	return "drafts"
}
