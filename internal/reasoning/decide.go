package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/logging"
	"github.com/rcliao/brandkeeper/internal/metrics"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
	"github.com/rcliao/brandkeeper/internal/store"
)

// maxRevisions is how many revisions brand compliance allows before it
// escalates to the author.
const maxRevisions = 3

// lowPriority is the priority below which a task may be deferred past the
// deadline.
const lowPriority = 5

type structure struct {
	template  string
	reasoning string
}

var structures = map[string]structure{
	"guide":     {"step_by_step", "sequential"},
	"analysis":  {"comparative", "parallel"},
	"narrative": {"storytelling", "iterative"},
	"reference": {"reference", "conditional"},
	"tutorial":  {"instructional", "sequential"},
}

var bodyTemplates = map[string]string{
	"guide":     "core_body_guide",
	"analysis":  "core_body_comparison",
	"narrative": "core_body_narrative",
	"tutorial":  "core_body_guide",
	"reference": "core_body_comparison",
}

var focusAreas = map[string][]string{
	"general":    {"content_quality", "brand_alignment"},
	"structural": {"content_structure", "template_adherence"},
	"voice":      {"brand_voice", "persona_targeting"},
	"technical":  {"accuracy", "detail_level"},
	"creative":   {"engagement", "creativity"},
}

// areaPriority ranks tasks that carry no explicit priority.
var areaPriority = map[string]int{
	"brand_compliance":   10,
	"content_quality":    8,
	"persona_targeting":  7,
	"template_adherence": 6,
	"time_efficiency":    5,
}

var complexityPersona = map[string]string{
	"high":   "Strategic Sofia",
	"medium": "Adaptive Alex",
	"low":    "Curious Casey",
}

// Decide applies the rule for dt to dc and appends the decision to the
// ledger. It never changes a plan; callers apply the decision themselves.
func (e *Engine) Decide(ctx context.Context, sc session.Context, dt model.DecisionType, dc model.DecisionContext) (_ *model.Decision, err error) {
	defer func(start time.Time) { metrics.Observe(component, "decide", start, err) }(time.Now())

	if !model.ValidDecisionTypes[dt] {
		return nil, errs.E(errs.KindInvalidType, "decide", "unknown decision type %q", dt)
	}
	if dc.PlanID == "" {
		dc.PlanID = sc.PlanID
	}

	d, err := decide(dt, dc, e.opts.Threshold)
	if err != nil {
		return nil, err
	}
	d.ID = ulid.Make().String()
	d.PlanID = dc.PlanID
	d.Timestamp = e.now()

	if e.opts.Completer != nil && e.opts.Elaborate {
		more, err := e.complete(ctx, sc, "decide", elaboratePrompt(d))
		if err != nil {
			return nil, err
		}
		if more != "" {
			d.Rationale += "\n\n" + more
		}
	}

	body, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("decide: encode: %w", err)
	}
	if _, err := e.memory.AppendRecord(ctx, sc, model.LedgerDecision, string(dt), d.PlanID, body); err != nil {
		return nil, fmt.Errorf("decide: %w", err)
	}
	logging.With(e.logger, sc).Info("decision made", "decision_type", dt, "chosen", d.ChosenOption, "confidence", d.Confidence)
	return d, nil
}

// Decisions returns the decisions logged for planID, or all decisions when
// planID is empty, oldest first.
func (e *Engine) Decisions(ctx context.Context, planID string) ([]model.Decision, error) {
	recs, err := e.memory.Records(ctx, store.LedgerQuery{Kind: model.LedgerDecision, PlanID: planID})
	if err != nil {
		return nil, err
	}
	out := make([]model.Decision, 0, len(recs))
	for _, rec := range recs {
		var d model.Decision
		if err := json.Unmarshal(rec.Body, &d); err != nil {
			return nil, fmt.Errorf("decode decision %s: %w", rec.ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func decide(dt model.DecisionType, dc model.DecisionContext, threshold float64) (*model.Decision, error) {
	d := &model.Decision{Type: dt, Context: dc}
	switch dt {
	case model.DecideContentStructure:
		ct := orDefault(dc.ContentType, "guide")
		s, ok := structures[ct]
		if !ok {
			ct, s = "guide", structures["guide"]
		}
		depth := "balanced"
		switch {
		case hasPersona(dc.Personas, "Strategic Sofia"):
			depth = "strategic"
		case hasPersona(dc.Personas, "Adaptive Alex"):
			depth = "practical"
		case hasPersona(dc.Personas, "Curious Casey"):
			depth = "foundational"
		}
		d.ChosenOption = s.template
		d.Alternatives = otherValues(structures, ct, func(s structure) string { return s.template })
		d.Details = []string{"reasoning: " + s.reasoning, "depth: " + depth}
		d.Confidence = 0.85
		d.Rationale = fmt.Sprintf("%s content reads best %s with a %s structure at %s depth", ct, s.reasoning, s.template, depth)

	case model.DecidePersonaTargeting:
		complexity := orDefault(dc.Complexity, "medium")
		var primary string
		switch p := complexityPersona[complexity]; {
		case p != "" && hasPersona(dc.Personas, p):
			primary = p
		case len(dc.Personas) > 0:
			primary = dc.Personas[0]
		default:
			primary = "Adaptive Alex"
		}
		d.ChosenOption = primary
		for _, p := range dc.Personas {
			if !strings.EqualFold(p, primary) {
				d.Alternatives = append(d.Alternatives, p)
			}
		}
		d.Details = []string{"approach: layered_complexity"}
		d.Confidence = 0.9
		d.Rationale = fmt.Sprintf("%s complexity content leads with %s; other personas are served by layered depth", complexity, primary)

	case model.DecideTemplateSelection:
		ct := orDefault(dc.ContentType, "guide")
		tpl, ok := bodyTemplates[ct]
		if !ok {
			tpl = bodyTemplates["guide"]
		}
		d.ChosenOption = tpl
		d.Alternatives = otherValues(bodyTemplates, ct, func(s string) string { return s })
		d.Details = []string{"format: " + orDefault(dc.Format, "markdown")}
		d.Confidence = 0.8
		d.Rationale = fmt.Sprintf("%s content maps to the %s template", ct, tpl)

	case model.DecideRevisionApproach:
		approach := "minimal"
		switch {
		case dc.RevisionCount == 0:
			approach = "comprehensive"
		case dc.RevisionCount < maxRevisions:
			approach = "targeted"
		}
		fb := orDefault(dc.FeedbackType, "general")
		areas, ok := focusAreas[fb]
		if !ok {
			areas = focusAreas["general"]
		}
		d.ChosenOption = approach
		d.Alternatives = without([]string{"comprehensive", "targeted", "minimal"}, approach)
		for _, a := range areas {
			d.Details = append(d.Details, "focus: "+a)
		}
		d.Confidence = 0.75
		d.Rationale = fmt.Sprintf("revision %d with %s feedback calls for a %s pass", dc.RevisionCount+1, fb, approach)

	case model.DecideBrandCompliance:
		if dc.ValidationScore == nil {
			return nil, errs.E(errs.KindInvalidInput, "decide", "brand compliance needs a validation score")
		}
		score := *dc.ValidationScore
		if score < 0 || score > 1 {
			return nil, errs.E(errs.KindInvalidInput, "decide", "validation score %v outside [0,1]", score)
		}
		switch {
		case dc.CriticalIssues == 0 && score >= threshold:
			d.ChosenOption = "approve"
			d.Confidence = score
			d.Rationale = fmt.Sprintf("score %.2f meets %.2f with no critical issues", score, threshold)
		case dc.RevisionCount >= maxRevisions:
			d.ChosenOption = "escalate"
			d.Confidence = 0.9
			d.Rationale = fmt.Sprintf("still failing after %d revisions; the author has to decide", dc.RevisionCount)
		default:
			d.ChosenOption = "revise"
			d.Confidence = 0.8
			d.Rationale = fmt.Sprintf("score %.2f with %d critical issues needs another revision", score, dc.CriticalIssues)
		}
		d.Alternatives = without([]string{"approve", "revise", "escalate"}, d.ChosenOption)
		d.Details = []string{"compliance: strict", "enforcement: mandatory"}

	case model.DecideTaskPrioritization:
		if len(dc.Tasks) == 0 {
			return nil, errs.E(errs.KindInvalidInput, "decide", "task prioritization needs tasks")
		}
		order, deferred := prioritize(dc.Tasks, dc.Deadline)
		d.ChosenOption = strings.Join(order, ",")
		d.Alternatives = deferred
		for _, id := range deferred {
			d.Details = append(d.Details, "deferred: "+id)
		}
		d.Confidence = 0.85
		d.Rationale = "quality first: brand compliance and content quality ahead of time efficiency"
		if len(deferred) > 0 {
			d.Rationale += fmt.Sprintf("; %d low-priority tasks deferred past the deadline", len(deferred))
		}
	}
	return d, nil
}

// prioritize orders tasks by priority, then due date, then id. Low-priority
// tasks due after the deadline are deferred and listed separately.
func prioritize(tasks []model.TaskRef, deadline *time.Time) (order, deferred []string) {
	ts := append([]model.TaskRef(nil), tasks...)
	prio := func(t model.TaskRef) int {
		if t.Priority > 0 {
			return t.Priority
		}
		return areaPriority[t.Area]
	}
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if pa, pb := prio(a), prio(b); pa != pb {
			return pa > pb
		}
		switch {
		case a.DueAt != nil && b.DueAt != nil && !a.DueAt.Equal(*b.DueAt):
			return a.DueAt.Before(*b.DueAt)
		case a.DueAt != nil && b.DueAt == nil:
			return true
		case a.DueAt == nil && b.DueAt != nil:
			return false
		}
		return a.ID < b.ID
	})
	for _, t := range ts {
		if deadline != nil && prio(t) < lowPriority && t.DueAt != nil && t.DueAt.After(*deadline) {
			deferred = append(deferred, t.ID)
			continue
		}
		order = append(order, t.ID)
	}
	return order, deferred
}

func elaboratePrompt(d *model.Decision) string {
	return fmt.Sprintf("A content team chose %q for a %s decision.\nReason: %s\nDetails: %s\n"+
		"In two sentences, explain what the writer should do differently because of it.",
		d.ChosenOption, d.Type, d.Rationale, strings.Join(d.Details, "; "))
}

func hasPersona(personas []string, name string) bool {
	for _, p := range personas {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
		return v
	}
	return def
}

func without(list []string, v string) []string {
	var out []string
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// otherValues returns the distinct values of m other than the one at key,
// sorted.
func otherValues[V any](m map[string]V, key string, name func(V) string) []string {
	chosen := name(m[key])
	seen := map[string]bool{chosen: true}
	var out []string
	for _, v := range m {
		if n := name(v); !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
