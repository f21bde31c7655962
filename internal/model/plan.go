package model

import "time"

// TemplateType selects a plan step template.
type TemplateType string

const (
	TemplateCreation      TemplateType = "creation"
	TemplateRevision      TemplateType = "revision"
	TemplateValidation    TemplateType = "validation"
	TemplateCollaboration TemplateType = "collaboration"
)

// ValidTemplateTypes are the allowed plan templates.
var ValidTemplateTypes = map[TemplateType]bool{
	TemplateCreation:      true,
	TemplateRevision:      true,
	TemplateValidation:    true,
	TemplateCollaboration: true,
}

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

const (
	PlanCreated   PlanStatus = "created"
	PlanRunning   PlanStatus = "running"
	PlanAdapted   PlanStatus = "adapted"
	PlanDone      PlanStatus = "done"
	PlanFailed    PlanStatus = "failed"
	PlanAbandoned PlanStatus = "abandoned"
)

// Terminal reports whether no further transitions are possible.
func (s PlanStatus) Terminal() bool {
	return s == PlanDone || s == PlanFailed || s == PlanAbandoned
}

// StepStatus is the lifecycle state of a plan step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepReady   StepStatus = "ready"
	StepRunning StepStatus = "running"
	StepBlocked StepStatus = "blocked"
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Finished reports whether the step will not run again.
func (s StepStatus) Finished() bool {
	return s == StepDone || s == StepFailed || s == StepSkipped
}

// StepKind distinguishes ordinary work from validation and gating steps.
type StepKind string

const (
	StepTask        StepKind = "task"
	StepValidation  StepKind = "validation"
	StepQualityGate StepKind = "quality_gate"
)

// TaskContext describes the work a plan is created for.
type TaskContext struct {
	Title       string     `json:"title,omitempty"`
	Topic       string     `json:"topic,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	Personas    []string   `json:"personas,omitempty"`
	Template    string     `json:"template,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// PlanStep is one dependency-gated unit of work.
type PlanStep struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Kind        StepKind   `json:"kind"`
	Agent       Role       `json:"agent,omitempty"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Status      StepStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Gates       string     `json:"gates,omitempty"`
	Remediates  string     `json:"remediates,omitempty"`
	Threshold   float64    `json:"threshold,omitempty"`
	EstimateMin int        `json:"estimate_min,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Note        string     `json:"note,omitempty"`
}

// PlanEvent is an entry in a plan's append-only transition log.
type PlanEvent struct {
	At     time.Time  `json:"at"`
	StepID string     `json:"step_id,omitempty"`
	From   StepStatus `json:"from,omitempty"`
	To     StepStatus `json:"to,omitempty"`
	Note   string     `json:"note,omitempty"`
}

// Adaptation records one revision of a plan's step graph.
type Adaptation struct {
	Revision int       `json:"revision"`
	Kind     string    `json:"kind"`
	Reason   string    `json:"reason,omitempty"`
	StepIDs  []string  `json:"step_ids,omitempty"`
	At       time.Time `json:"at"`
}

// Plan is a decomposed unit of work with dependency-gated steps.
type Plan struct {
	ID           string       `json:"id"`
	TemplateType TemplateType `json:"template_type"`
	Title        string       `json:"title"`
	TaskContext  TaskContext  `json:"task_context"`
	Steps        []PlanStep   `json:"steps"`
	Status       PlanStatus   `json:"status"`
	Revision     int          `json:"revision"`
	Stamp        int64        `json:"stamp"`
	Events       []PlanEvent  `json:"events,omitempty"`
	Adaptations  []Adaptation `json:"adaptations,omitempty"`
	Knowledge    []string     `json:"knowledge,omitempty"`
	Brief        string       `json:"brief,omitempty"`
	CreatedBy    Role         `json:"created_by"`
	TraceID      string       `json:"trace_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Step returns the step with id and its index, or nil and -1.
func (p *Plan) Step(id string) (*PlanStep, int) {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i], i
		}
	}
	return nil, -1
}

// Clone returns a deep copy so a candidate revision can be built and
// discarded without touching the original.
func (p *Plan) Clone() *Plan {
	c := *p
	c.TaskContext.Personas = append([]string(nil), p.TaskContext.Personas...)
	c.TaskContext.Tags = append([]string(nil), p.TaskContext.Tags...)
	c.Steps = make([]PlanStep, len(p.Steps))
	for i, s := range p.Steps {
		s.DependsOn = append([]string(nil), s.DependsOn...)
		c.Steps[i] = s
	}
	c.Events = append([]PlanEvent(nil), p.Events...)
	c.Adaptations = append([]Adaptation(nil), p.Adaptations...)
	c.Knowledge = append([]string(nil), p.Knowledge...)
	return &c
}
