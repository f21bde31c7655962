package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/store"
)

// Trend directions.
const (
	TrendImproving    = "improving"
	TrendDeclining    = "declining"
	TrendStable       = "stable"
	TrendInsufficient = "insufficient_data"
)

// trendEpsilon is the smallest score change counted as movement.
const trendEpsilon = 0.01

// Trend summarizes how a piece of content scored over time.
type Trend struct {
	Count     int     `json:"count"`
	First     float64 `json:"first"`
	Latest    float64 `json:"latest"`
	Best      float64 `json:"best"`
	Delta     float64 `json:"delta"`
	Direction string  `json:"direction"`
}

// History is every recorded validation of one piece of content or of one
// plan.
type History struct {
	ContentID string                   `json:"content_id,omitempty"`
	PlanID    string                   `json:"plan_id,omitempty"`
	Results   []model.ValidationResult `json:"results"`
	Trend     Trend                    `json:"trend"`
}

// History returns the validations of contentID in the order they ran.
func (e *Engine) History(ctx context.Context, contentID string) (*History, error) {
	if strings.TrimSpace(contentID) == "" {
		return nil, errs.E(errs.KindInvalidInput, "history", "content id is required")
	}
	results, err := e.results(ctx, store.LedgerQuery{Kind: model.LedgerValidation, SubjectID: contentID})
	if err != nil {
		return nil, err
	}
	return &History{ContentID: contentID, Results: results, Trend: trendOf(results)}, nil
}

// PlanHistory returns the validations run on behalf of planID, in order.
func (e *Engine) PlanHistory(ctx context.Context, planID string) (*History, error) {
	if strings.TrimSpace(planID) == "" {
		return nil, errs.E(errs.KindInvalidInput, "plan_history", "plan id is required")
	}
	results, err := e.results(ctx, store.LedgerQuery{Kind: model.LedgerValidation, PlanID: planID})
	if err != nil {
		return nil, err
	}
	return &History{PlanID: planID, Results: results, Trend: trendOf(results)}, nil
}

func (e *Engine) results(ctx context.Context, q store.LedgerQuery) ([]model.ValidationResult, error) {
	if e.memory == nil {
		return nil, nil
	}
	recs, err := e.memory.Records(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]model.ValidationResult, 0, len(recs))
	for _, rec := range recs {
		var r model.ValidationResult
		if err := json.Unmarshal(rec.Body, &r); err != nil {
			return nil, fmt.Errorf("decode validation %s: %w", rec.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func trendOf(results []model.ValidationResult) Trend {
	t := Trend{Count: len(results), Direction: TrendInsufficient}
	if len(results) == 0 {
		return t
	}
	t.First = results[0].OverallScore
	t.Latest = results[len(results)-1].OverallScore
	for _, r := range results {
		t.Best = max(t.Best, r.OverallScore)
	}
	if len(results) < 2 {
		return t
	}
	t.Delta = t.Latest - t.First
	switch {
	case t.Delta > trendEpsilon:
		t.Direction = TrendImproving
	case t.Delta < -trendEpsilon:
		t.Direction = TrendDeclining
	default:
		t.Direction = TrendStable
	}
	return t
}

// Stats aggregates every recorded validation.
type Stats struct {
	Total            int                          `json:"total"`
	AverageScore     float64                      `json:"average_score"`
	PassRate         float64                      `json:"pass_rate"`
	IssuesByType     map[model.ValidationType]int `json:"issues_by_type"`
	IssuesBySeverity map[model.Severity]int       `json:"issues_by_severity"`
}

// Stats summarizes all recorded validations.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{IssuesByType: map[model.ValidationType]int{}, IssuesBySeverity: map[model.Severity]int{}}
	if e.memory == nil {
		return st, nil
	}
	recs, err := e.memory.Records(ctx, store.LedgerQuery{Kind: model.LedgerValidation})
	if err != nil {
		return nil, err
	}
	var sum float64
	passed := 0
	for _, rec := range recs {
		var r model.ValidationResult
		if err := json.Unmarshal(rec.Body, &r); err != nil {
			return nil, fmt.Errorf("decode validation %s: %w", rec.ID, err)
		}
		st.Total++
		sum += r.OverallScore
		if r.Passed {
			passed++
		}
		for _, is := range r.Issues {
			st.IssuesByType[is.Type]++
			st.IssuesBySeverity[is.Severity]++
		}
	}
	if st.Total > 0 {
		st.AverageScore = sum / float64(st.Total)
		st.PassRate = float64(passed) / float64(st.Total)
	}
	return st, nil
}
