package model

import "time"

// DecisionType is one of the six rule-based decision kinds.
type DecisionType string

const (
	DecideContentStructure   DecisionType = "content_structure"
	DecidePersonaTargeting   DecisionType = "persona_targeting"
	DecideTemplateSelection  DecisionType = "template_selection"
	DecideRevisionApproach   DecisionType = "revision_approach"
	DecideBrandCompliance    DecisionType = "brand_compliance"
	DecideTaskPrioritization DecisionType = "task_prioritization"
)

// ValidDecisionTypes are the allowed decision kinds.
var ValidDecisionTypes = map[DecisionType]bool{
	DecideContentStructure:   true,
	DecidePersonaTargeting:   true,
	DecideTemplateSelection:  true,
	DecideRevisionApproach:   true,
	DecideBrandCompliance:    true,
	DecideTaskPrioritization: true,
}

// TaskRef is a unit of work offered to task prioritization.
type TaskRef struct {
	ID       string     `json:"id"`
	Area     string     `json:"area,omitempty"`
	Priority int        `json:"priority,omitempty"`
	DueAt    *time.Time `json:"due_at,omitempty"`
}

// DecisionContext is the input to a decision rule.
type DecisionContext struct {
	PlanID          string     `json:"plan_id,omitempty"`
	ContentType     string     `json:"content_type,omitempty"`
	Complexity      string     `json:"complexity,omitempty"`
	Personas        []string   `json:"personas,omitempty"`
	Format          string     `json:"format,omitempty"`
	FeedbackType    string     `json:"feedback_type,omitempty"`
	RevisionCount   int        `json:"revision_count,omitempty"`
	ValidationScore *float64   `json:"validation_score,omitempty"`
	CriticalIssues  int        `json:"critical_issues,omitempty"`
	Tasks           []TaskRef  `json:"tasks,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`
}

// Decision is an append-only record of a rule applied during planning.
type Decision struct {
	ID           string          `json:"id"`
	PlanID       string          `json:"plan_id,omitempty"`
	Type         DecisionType    `json:"decision_type"`
	Context      DecisionContext `json:"context"`
	ChosenOption string          `json:"chosen_option"`
	Alternatives []string        `json:"alternatives,omitempty"`
	Details      []string        `json:"details,omitempty"`
	Confidence   float64         `json:"confidence"`
	Rationale    string          `json:"rationale"`
	Timestamp    time.Time       `json:"timestamp"`
}
