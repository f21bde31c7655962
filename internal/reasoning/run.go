package reasoning

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
	"github.com/rcliao/brandkeeper/internal/validation"
)

// Outcome is the result reported for a step.
type Outcome struct {
	Status model.StepStatus `json:"status"`
	Note   string           `json:"note,omitempty"`
}

// Start moves a ready step to running.
func (e *Engine) Start(ctx context.Context, sc session.Context, planID, stepID string) (*model.Plan, error) {
	return e.mutate(ctx, sc, "start", planID, func(p *model.Plan, now time.Time) error {
		s, err := activeStep(p, "start", stepID)
		if err != nil {
			return err
		}
		return start(p, s, now)
	})
}

func start(p *model.Plan, s *model.PlanStep, now time.Time) error {
	if s.Status != model.StepReady || !depsDone(p, s) {
		return errs.E(errs.KindInvalidInput, "start", "step %s is %s, not ready", s.ID, s.Status)
	}
	s.Attempts++
	transition(p, s, model.StepRunning, fmt.Sprintf("attempt %d of %d", s.Attempts, s.MaxAttempts), now)
	setPlanStatus(p, model.PlanRunning, "", now)
	return nil
}

// Advance records the outcome of a step. A ready step reported done or
// failed is started first. A failed step is retried while it has attempts
// left; after that the plan is remediated when AdaptOnFailure is set and
// failed otherwise. Dependents of a skipped step take over its dependencies.
func (e *Engine) Advance(ctx context.Context, sc session.Context, planID, stepID string, out Outcome) (*model.Plan, error) {
	return e.mutate(ctx, sc, "advance", planID, func(p *model.Plan, now time.Time) error {
		s, err := activeStep(p, "advance", stepID)
		if err != nil {
			return err
		}
		return e.advance(p, s, out, now)
	})
}

func (e *Engine) advance(p *model.Plan, s *model.PlanStep, out Outcome, now time.Time) error {
	switch out.Status {
	case model.StepDone, model.StepFailed:
		if s.Status == model.StepReady {
			if err := start(p, s, now); err != nil {
				return err
			}
		}
		if s.Status != model.StepRunning {
			return errs.E(errs.KindInvalidInput, "advance", "step %s is %s and cannot be %s", s.ID, s.Status, out.Status)
		}
	case model.StepSkipped:
	default:
		return errs.E(errs.KindInvalidInput, "advance", "outcome must be done, failed or skipped, got %q", out.Status)
	}

	switch out.Status {
	case model.StepDone:
		transition(p, s, model.StepDone, out.Note, now)
	case model.StepSkipped:
		transition(p, s, model.StepSkipped, out.Note, now)
		inheritDependencies(p, s)
	case model.StepFailed:
		e.fail(p, s, out.Note, now)
	}

	refresh(p, now)
	settle(p, now)
	return nil
}

// fail applies the retry-then-adapt policy to a running step.
func (e *Engine) fail(p *model.Plan, s *model.PlanStep, note string, now time.Time) {
	if s.Attempts < s.MaxAttempts {
		transition(p, s, model.StepReady, retryNote(note, s), now)
		return
	}
	transition(p, s, model.StepFailed, note, now)
	if !e.opts.AdaptOnFailure {
		setPlanStatus(p, model.PlanFailed, "step "+s.ID+" failed", now)
		return
	}
	reason := fmt.Sprintf("step %s failed after %d attempts", s.ID, s.Attempts)
	ids := remediate(p, s, e.opts.Threshold)
	recordAdaptation(p, AdaptRemediate, reason, ids, now)
}

func retryNote(note string, s *model.PlanStep) string {
	msg := fmt.Sprintf("retry after failed attempt %d of %d", s.Attempts, s.MaxAttempts)
	if note != "" {
		msg += ": " + note
	}
	return msg
}

// settle finishes the plan when nothing is left to run.
func settle(p *model.Plan, now time.Time) {
	if p.Status.Terminal() {
		return
	}
	if complete(p) {
		setPlanStatus(p, model.PlanDone, "", now)
	}
}

// activeStep returns stepID of a plan that can still change.
func activeStep(p *model.Plan, op, stepID string) (*model.PlanStep, error) {
	if p.Status.Terminal() {
		return nil, errs.E(errs.KindInvalidInput, op, "plan %s is %s", p.ID, p.Status)
	}
	s, _ := p.Step(stepID)
	if s == nil {
		return nil, errs.E(errs.KindNotFound, op, "plan %s has no step %q", p.ID, stepID)
	}
	if s.Status.Finished() {
		return nil, errs.E(errs.KindInvalidInput, op, "step %s is already %s", s.ID, s.Status)
	}
	return s, nil
}

// StepResult is the outcome of RunValidationStep.
type StepResult struct {
	Plan   *model.Plan             `json:"plan"`
	Result *model.ValidationResult `json:"result"`
}

// RunValidationStep validates content for a validation or quality gate step
// and advances the step by the result: done when it passes and meets the
// step's threshold, failed otherwise. If validation itself fails the plan is
// left untouched.
func (e *Engine) RunValidationStep(ctx context.Context, sc session.Context, planID, stepID, content string, vc validation.Context) (*StepResult, error) {
	const op = "run_validation_step"
	if e.validation == nil {
		return nil, errs.E(errs.KindInvalidInput, op, "no validation engine configured")
	}
	p, err := e.load(ctx, op, planID)
	if err != nil {
		return nil, err
	}
	s, err := validatable(p, stepID)
	if err != nil {
		return nil, err
	}

	vc.PlanID = p.ID
	tc := p.TaskContext
	if vc.ContentType == "" {
		vc.ContentType = tc.ContentType
	}
	if len(vc.Personas) == 0 {
		vc.Personas = tc.Personas
	}
	if vc.Template == "" {
		vc.Template = tc.Template
	}
	res, err := e.validation.Validate(ctx, sc.WithPlan(p.ID), content, vc)
	if err != nil {
		return nil, err
	}

	out := Outcome{Status: model.StepDone, Note: fmt.Sprintf("validation %s scored %.2f", res.ID, res.OverallScore)}
	if !res.Passed || res.OverallScore < s.Threshold {
		out.Status = model.StepFailed
		out.Note += fmt.Sprintf(", %d critical issues", res.CountSeverity(model.SeverityCritical))
	}

	p, err = e.mutate(ctx, sc, op, planID, func(p *model.Plan, now time.Time) error {
		s, err := validatable(p, stepID)
		if err != nil {
			return err
		}
		return e.advance(p, s, out, now)
	})
	if err != nil {
		return nil, err
	}
	return &StepResult{Plan: p, Result: res}, nil
}

// validatable returns stepID when it is a validation or gate step that can
// take a result now.
func validatable(p *model.Plan, stepID string) (*model.PlanStep, error) {
	const op = "run_validation_step"
	s, err := activeStep(p, op, stepID)
	if err != nil {
		return nil, err
	}
	if s.Kind == model.StepTask {
		return nil, errs.E(errs.KindInvalidInput, op, "step %s is a task, not a validation", s.ID)
	}
	if s.Status != model.StepReady && s.Status != model.StepRunning {
		return nil, errs.E(errs.KindInvalidInput, op, "step %s is %s", s.ID, s.Status)
	}
	return s, nil
}

// Cancel abandons the plan, skipping every step that has not finished. A plan
// that already ended is returned as is.
func (e *Engine) Cancel(ctx context.Context, sc session.Context, planID string) (*model.Plan, error) {
	return e.mutate(ctx, sc, "cancel", planID, func(p *model.Plan, now time.Time) error {
		if p.Status.Terminal() {
			return errUnchanged
		}
		for i := range p.Steps {
			s := &p.Steps[i]
			if !s.Status.Finished() {
				transition(p, s, model.StepSkipped, "plan canceled", now)
			}
		}
		setPlanStatus(p, model.PlanAbandoned, "canceled by "+string(sc.Role), now)
		return nil
	})
}
