package reasoning

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
	"github.com/rcliao/brandkeeper/internal/validation"
)

// Health penalties per offending step.
const (
	failedPenalty  = 0.20
	blockedPenalty = 0.15
	overduePenalty = 0.10
)

// adaptBelow is the health score under which a plan needs adapting.
const adaptBelow = 0.6

// Progress counts steps by status.
type Progress struct {
	Total   int     `json:"total"`
	Done    int     `json:"done"`
	Running int     `json:"running"`
	Ready   int     `json:"ready"`
	Failed  int     `json:"failed"`
	Skipped int     `json:"skipped"`
	Percent float64 `json:"percent"`
}

// Bottleneck is a step holding the plan up.
type Bottleneck struct {
	StepID string `json:"step_id"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Health is a read-only diagnosis of a plan.
type Health struct {
	PlanID          string           `json:"plan_id"`
	Status          model.PlanStatus `json:"status"`
	Progress        Progress         `json:"progress"`
	Ready           []string         `json:"ready,omitempty"`
	Blocked         []string         `json:"blocked,omitempty"`
	Failed          []string         `json:"failed,omitempty"`
	Overdue         []string         `json:"overdue,omitempty"`
	Bottlenecks     []Bottleneck     `json:"bottlenecks,omitempty"`
	Staleness       time.Duration    `json:"staleness"`
	Stale           bool             `json:"stale"`
	PastDeadline    bool             `json:"past_deadline,omitempty"`
	QualityTrend    validation.Trend `json:"quality_trend"`
	RemainingMin    int              `json:"remaining_min"`
	Score           float64          `json:"score"`
	NeedsAdaptation bool             `json:"needs_adaptation"`
	Recommendations []string         `json:"recommendations,omitempty"`
}

// Monitor diagnoses the plan without changing it.
func (e *Engine) Monitor(ctx context.Context, sc session.Context, planID string) (*Health, error) {
	p, err := e.load(ctx, "monitor", planID)
	if err != nil {
		return nil, err
	}
	h := diagnose(p, e.now(), e.opts.StaleAfter)

	h.QualityTrend = validation.Trend{Direction: validation.TrendInsufficient}
	if e.validation != nil {
		hist, err := e.validation.PlanHistory(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		h.QualityTrend = hist.Trend
	}
	if !p.Status.Terminal() && h.QualityTrend.Direction == validation.TrendDeclining {
		h.NeedsAdaptation = true
		h.Recommendations = append(h.Recommendations, "validation scores are declining; add a quality check before the next draft")
	}
	return h, nil
}

func diagnose(p *model.Plan, now time.Time, staleAfter time.Duration) *Health {
	h := &Health{PlanID: p.ID, Status: p.Status}
	h.Progress.Total = len(p.Steps)

	for _, s := range p.Steps {
		switch s.Status {
		case model.StepDone:
			h.Progress.Done++
		case model.StepRunning:
			h.Progress.Running++
			if s.StartedAt != nil && s.EstimateMin > 0 {
				elapsed := now.Sub(*s.StartedAt)
				est := time.Duration(s.EstimateMin) * time.Minute
				if elapsed > est*12/10 {
					h.Overdue = append(h.Overdue, s.ID)
				}
				if elapsed > est*3/2 {
					h.Bottlenecks = append(h.Bottlenecks, Bottleneck{StepID: s.ID, Kind: "duration",
						Detail: fmt.Sprintf("running %s against an estimate of %d minutes", elapsed.Round(time.Minute), s.EstimateMin)})
				}
			}
		case model.StepReady:
			h.Progress.Ready++
			h.Ready = append(h.Ready, s.ID)
		case model.StepBlocked:
			h.Blocked = append(h.Blocked, s.ID)
		case model.StepFailed:
			h.Progress.Failed++
			if !remediated(p, s.ID) {
				h.Failed = append(h.Failed, s.ID)
			}
		case model.StepSkipped:
			h.Progress.Skipped++
		case model.StepPending:
			waiting := 0
			for _, dep := range s.DependsOn {
				if d, _ := p.Step(dep); d != nil && d.Status != model.StepDone {
					waiting++
				}
			}
			if waiting > 2 {
				h.Bottlenecks = append(h.Bottlenecks, Bottleneck{StepID: s.ID, Kind: "dependency",
					Detail: fmt.Sprintf("waiting on %d unfinished steps", waiting)})
			}
		}
		if !s.Status.Finished() {
			h.RemainingMin += s.EstimateMin
		}
	}
	if h.Progress.Total > 0 {
		h.Progress.Percent = float64(h.Progress.Done+h.Progress.Skipped) / float64(h.Progress.Total) * 100
	}

	h.Staleness = now.Sub(p.UpdatedAt)
	active := !p.Status.Terminal()
	h.Stale = active && h.Staleness > staleAfter
	h.PastDeadline = active && p.TaskContext.Deadline != nil && now.After(*p.TaskContext.Deadline)

	score := 1 - failedPenalty*float64(len(h.Failed)) - blockedPenalty*float64(len(h.Blocked)) - overduePenalty*float64(len(h.Overdue))
	h.Score = min(1, max(0, score))

	if !active {
		return h
	}
	h.NeedsAdaptation = h.Score < adaptBelow || len(h.Failed) > 0 || len(h.Blocked) > 0 || h.Stale
	for _, id := range h.Failed {
		h.Recommendations = append(h.Recommendations, "remediate failed step "+id)
	}
	for _, id := range h.Blocked {
		h.Recommendations = append(h.Recommendations, "rewire or skip blocked step "+id)
	}
	for _, id := range h.Overdue {
		h.Recommendations = append(h.Recommendations, "reschedule overdue step "+id)
	}
	if h.Stale {
		h.Recommendations = append(h.Recommendations, fmt.Sprintf("no progress for %s", h.Staleness.Round(time.Minute)))
	}
	if h.PastDeadline {
		h.Recommendations = append(h.Recommendations, "deadline passed; defer low-priority steps")
	}
	return h
}
