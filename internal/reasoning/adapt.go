package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/logging"
	"github.com/rcliao/brandkeeper/internal/memory"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
)

// AdaptKind selects how Adapt revises a plan.
type AdaptKind string

const (
	// AdaptReschedule puts a running step back to ready and optionally
	// changes its estimate.
	AdaptReschedule AdaptKind = "reschedule"
	// AdaptAddParallelStep appends a task that depends on DependsOn.
	AdaptAddParallelStep AdaptKind = "add_parallel_step"
	// AdaptModifyDependencies replaces the dependencies of a step that has
	// not started.
	AdaptModifyDependencies AdaptKind = "modify_dependencies"
	AdaptSkipStep           AdaptKind = "skip_step"
	// AdaptAddQualityCheck puts a quality gate in front of a step.
	AdaptAddQualityCheck AdaptKind = "add_quality_check"
	// AdaptRemediate redoes a failed step behind a quality gate.
	AdaptRemediate AdaptKind = "remediate"
)

// ValidAdaptKinds are the allowed adaptation kinds.
var ValidAdaptKinds = map[AdaptKind]bool{
	AdaptReschedule:         true,
	AdaptAddParallelStep:    true,
	AdaptModifyDependencies: true,
	AdaptSkipStep:           true,
	AdaptAddQualityCheck:    true,
	AdaptRemediate:          true,
}

// AdaptRequest describes one revision of a plan's step graph.
type AdaptRequest struct {
	Kind   AdaptKind `json:"kind"`
	Reason string    `json:"reason,omitempty"`
	// StepID is the step the adaptation targets. add_parallel_step has none.
	StepID    string   `json:"step_id,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`

	// New step fields for add_parallel_step and add_quality_check.
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Agent       model.Role `json:"agent,omitempty"`
	EstimateMin int        `json:"estimate_min,omitempty"`
	Threshold   float64    `json:"threshold,omitempty"`
}

// Adapt revises the plan's step graph. Steps that already ran keep their
// status and the transition log is only ever extended. A revision that would
// create a cycle fails with InvalidInput and leaves the plan unchanged.
func (e *Engine) Adapt(ctx context.Context, sc session.Context, planID string, req AdaptRequest) (*model.Plan, error) {
	if !ValidAdaptKinds[req.Kind] {
		return nil, errs.E(errs.KindInvalidInput, "adapt", "unknown adaptation %q", req.Kind)
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return nil, errs.E(errs.KindInvalidInput, "adapt", "threshold %v outside [0,1]", req.Threshold)
	}
	p, err := e.mutate(ctx, sc, "adapt", planID, func(p *model.Plan, now time.Time) error {
		if p.Status.Terminal() {
			return errs.E(errs.KindInvalidInput, "adapt", "plan %s is %s", p.ID, p.Status)
		}
		ids, err := e.apply(p, req, now)
		if err != nil {
			return err
		}
		refresh(p, now)
		recordAdaptation(p, req.Kind, req.Reason, ids, now)
		settle(p, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Reason) != "" {
		e.rememberAdaptation(ctx, sc, p, req)
	}
	return p, nil
}

// rememberAdaptation keeps the reason for an adaptation as procedural memory
// so later plans for the same kind of content can recall it.
func (e *Engine) rememberAdaptation(ctx context.Context, sc session.Context, p *model.Plan, req AdaptRequest) {
	tags := []string{"adaptation", string(req.Kind), string(p.TemplateType)}
	if p.TaskContext.ContentType != "" {
		tags = append(tags, p.TaskContext.ContentType)
	}
	content := fmt.Sprintf("Plan %s revision %d (%s): %s", p.Title, p.Revision, req.Kind, req.Reason)
	_, err := e.memory.Store(ctx, sc.AsSystem().WithPlan(p.ID), memory.StoreRequest{
		Type:       model.Procedural,
		Kind:       model.KindPlan,
		Content:    content,
		Tags:       tags,
		Importance: 0.5,
	})
	if err != nil {
		logging.With(e.logger, sc).Warn("remember adaptation", "plan_id", p.ID, "error", err)
	}
}

func (e *Engine) apply(p *model.Plan, req AdaptRequest, now time.Time) ([]string, error) {
	threshold := req.Threshold
	if threshold == 0 {
		threshold = e.opts.Threshold
	}

	for _, dep := range req.DependsOn {
		if d, _ := p.Step(dep); d != nil && d.Status == model.StepSkipped {
			return nil, errs.E(errs.KindInvalidInput, "adapt", "step %s was skipped and cannot be depended on", dep)
		}
	}

	if req.Kind == AdaptAddParallelStep {
		if req.Name == "" {
			return nil, errs.E(errs.KindInvalidInput, "adapt", "a parallel step needs a name")
		}
		s := model.PlanStep{
			ID:          nextStepID(p),
			Name:        req.Name,
			Description: req.Description,
			Kind:        model.StepTask,
			Agent:       req.Agent,
			DependsOn:   dedupe(req.DependsOn),
			Status:      model.StepPending,
			MaxAttempts: e.opts.MaxAttempts,
			EstimateMin: req.EstimateMin,
		}
		p.Steps = append(p.Steps, s)
		return []string{s.ID}, nil
	}

	s, i := p.Step(req.StepID)
	if s == nil {
		return nil, errs.E(errs.KindNotFound, "adapt", "plan %s has no step %q", p.ID, req.StepID)
	}

	switch req.Kind {
	case AdaptReschedule:
		if s.Status.Finished() {
			return nil, errs.E(errs.KindInvalidInput, "adapt", "step %s is already %s", s.ID, s.Status)
		}
		if req.EstimateMin > 0 {
			s.EstimateMin = req.EstimateMin
		}
		if s.Status == model.StepRunning {
			transition(p, s, model.StepReady, "rescheduled", now)
		}
		return []string{s.ID}, nil

	case AdaptModifyDependencies:
		if err := notStarted(s); err != nil {
			return nil, err
		}
		s.DependsOn = dedupe(req.DependsOn)
		return []string{s.ID}, nil

	case AdaptSkipStep:
		if s.Status.Finished() {
			return nil, errs.E(errs.KindInvalidInput, "adapt", "step %s is already %s", s.ID, s.Status)
		}
		note := req.Reason
		if note == "" {
			note = "skipped by adaptation"
		}
		transition(p, s, model.StepSkipped, note, now)
		inheritDependencies(p, s)
		return []string{s.ID}, nil

	case AdaptAddQualityCheck:
		if err := notStarted(s); err != nil {
			return nil, err
		}
		gate := insertGate(p, i, threshold, req.Name)
		return []string{gate.ID}, nil

	case AdaptRemediate:
		if s.Status != model.StepFailed {
			return nil, errs.E(errs.KindInvalidInput, "adapt", "step %s is %s, only failed steps can be remediated", s.ID, s.Status)
		}
		if remediated(p, s.ID) {
			return nil, errs.E(errs.KindInvalidInput, "adapt", "step %s is already remediated", s.ID)
		}
		return remediate(p, s, threshold), nil
	}
	return nil, errs.E(errs.KindInvalidInput, "adapt", "unknown adaptation %q", req.Kind)
}

// remediate adds a step redoing failed and a quality gate behind it, and
// moves the failed step's dependents onto the gate. It returns the new ids.
func remediate(p *model.Plan, failed *model.PlanStep, threshold float64) []string {
	failedID := failed.ID
	fix := model.PlanStep{
		ID:          nextStepID(p),
		Name:        "Remediate: " + failed.Name,
		Description: failed.Description,
		Kind:        failed.Kind,
		Agent:       failed.Agent,
		DependsOn:   append([]string(nil), failed.DependsOn...),
		Status:      model.StepPending,
		MaxAttempts: failed.MaxAttempts,
		Threshold:   failed.Threshold,
		EstimateMin: failed.EstimateMin,
		Remediates:  failedID,
	}
	_, at := p.Step(failedID)
	p.Steps = append(p.Steps[:at+1], append([]model.PlanStep{fix}, p.Steps[at+1:]...)...)

	gate := model.PlanStep{
		ID:          nextStepID(p),
		Name:        "Quality gate: " + fix.Name,
		Description: "Check the remediated work before anything builds on it",
		Kind:        model.StepQualityGate,
		Agent:       model.RoleEditor,
		DependsOn:   []string{fix.ID},
		Status:      model.StepPending,
		MaxAttempts: fix.MaxAttempts,
		Threshold:   threshold,
		EstimateMin: 5,
	}
	for i := range p.Steps {
		s := &p.Steps[i]
		if !contains(s.DependsOn, failedID) {
			continue
		}
		for j, dep := range s.DependsOn {
			if dep == failedID {
				s.DependsOn[j] = gate.ID
			}
		}
		s.DependsOn = dedupe(s.DependsOn)
		if gate.Gates == "" {
			gate.Gates = s.ID
		}
	}
	p.Steps = append(p.Steps[:at+2], append([]model.PlanStep{gate}, p.Steps[at+2:]...)...)
	return []string{fix.ID, gate.ID}
}

// recordAdaptation bumps the plan revision and logs why.
func recordAdaptation(p *model.Plan, kind AdaptKind, reason string, ids []string, now time.Time) {
	p.Revision++
	p.Adaptations = append(p.Adaptations, model.Adaptation{
		Revision: p.Revision,
		Kind:     string(kind),
		Reason:   reason,
		StepIDs:  ids,
		At:       now,
	})
	setPlanStatus(p, model.PlanAdapted, string(kind), now)
}

func notStarted(s *model.PlanStep) error {
	switch s.Status {
	case model.StepPending, model.StepReady, model.StepBlocked:
		return nil
	}
	return errs.E(errs.KindInvalidInput, "adapt", "step %s is %s and can no longer be rewired", s.ID, s.Status)
}

func dedupe(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id != "" && !contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
