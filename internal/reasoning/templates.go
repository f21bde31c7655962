package reasoning

import (
	"fmt"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/model"
)

// StepSpec describes one step of a template. After names the keys of the
// steps it depends on.
type StepSpec struct {
	Key         string         `yaml:"key" json:"key"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Kind        model.StepKind `yaml:"kind" json:"kind"`
	Agent       model.Role     `yaml:"agent" json:"agent,omitempty"`
	After       []string       `yaml:"after" json:"after,omitempty"`
	MaxAttempts int            `yaml:"max_attempts" json:"max_attempts,omitempty"`
	EstimateMin int            `yaml:"estimate_min" json:"estimate_min,omitempty"`
}

// Template is the step graph a plan of one type starts from.
type Template struct {
	Type  model.TemplateType `yaml:"type" json:"type"`
	Title string             `yaml:"title" json:"title"`
	Steps []StepSpec         `yaml:"steps" json:"steps"`
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() map[model.TemplateType]Template {
	return map[model.TemplateType]Template{
		model.TemplateCreation: {
			Type:  model.TemplateCreation,
			Title: "Content creation",
			Steps: []StepSpec{
				{Key: "brand_context", Name: "Brand context review", Kind: model.StepTask, Agent: model.RoleResearcher, EstimateMin: 10,
					Description: "Review brand foundation, personas and writing examples"},
				{Key: "structure", Name: "Content structure decision", Kind: model.StepTask, Agent: model.RoleEditor, EstimateMin: 5,
					Description: "Choose the structure and template for the piece"},
				{Key: "draft", Name: "Draft content", Kind: model.StepTask, Agent: model.RoleWriter, EstimateMin: 45,
					After:       []string{"brand_context", "structure"},
					Description: "Write the draft following the brand context and structure"},
				{Key: "validate", Name: "Validate content", Kind: model.StepValidation, Agent: model.RoleEditor, EstimateMin: 15,
					After:       []string{"draft"},
					Description: "Score the draft against every brand validation"},
			},
		},
		model.TemplateRevision: {
			Type:  model.TemplateRevision,
			Title: "Revision",
			Steps: []StepSpec{
				{Key: "analyze", Name: "Analyze feedback", Kind: model.StepTask, Agent: model.RoleEditor, EstimateMin: 15,
					Description: "Read the feedback and list what has to change"},
				{Key: "approach", Name: "Decide revision approach", Kind: model.StepTask, Agent: model.RoleEditor, EstimateMin: 10,
					After:       []string{"analyze"},
					Description: "Pick a comprehensive, targeted or minimal revision"},
				{Key: "revise", Name: "Revise content", Kind: model.StepTask, Agent: model.RoleWriter, EstimateMin: 30,
					After:       []string{"approach"},
					Description: "Apply the revisions while keeping the brand voice"},
				{Key: "validate", Name: "Validate revision", Kind: model.StepValidation, Agent: model.RoleEditor, EstimateMin: 15,
					After:       []string{"revise"},
					Description: "Score the revised draft"},
			},
		},
		model.TemplateValidation: {
			Type:  model.TemplateValidation,
			Title: "Brand validation",
			Steps: []StepSpec{
				{Key: "voice", Name: "Voice check", Kind: model.StepValidation, Agent: model.RoleEditor, EstimateMin: 8,
					Description: "Check the content against the brand voice"},
				{Key: "persona", Name: "Persona check", Kind: model.StepValidation, Agent: model.RoleEditor, EstimateMin: 5,
					Description: "Check the content serves its target personas"},
				{Key: "authenticity", Name: "Authenticity check", Kind: model.StepValidation, Agent: model.RoleBrandAuthor, EstimateMin: 3,
					Description: "Make sure no personal experience is fabricated"},
				{Key: "report", Name: "Validation report", Kind: model.StepTask, Agent: model.RoleEditor, EstimateMin: 5,
					After:       []string{"voice", "persona", "authenticity"},
					Description: "Summarize the findings for the author"},
			},
		},
		model.TemplateCollaboration: {
			Type:  model.TemplateCollaboration,
			Title: "Collaborative drafting",
			Steps: []StepSpec{
				{Key: "plan_draft", Name: "Plan draft", Kind: model.StepTask, Agent: model.RoleBrandAuthor, EstimateMin: 15,
					Description: "Agree on the approach and gather source materials"},
				{Key: "draft", Name: "Draft content", Kind: model.StepTask, Agent: model.RoleWriter, EstimateMin: 45,
					After:       []string{"plan_draft"},
					Description: "Write the first draft"},
				{Key: "feedback", Name: "Feedback loop", Kind: model.StepTask, Agent: model.RoleBrandAuthor, EstimateMin: 60, MaxAttempts: 5,
					After:       []string{"draft"},
					Description: "Integrate author feedback until the draft is accepted"},
				{Key: "gate", Name: "Quality gate", Kind: model.StepQualityGate, Agent: model.RoleEditor, EstimateMin: 5,
					After:       []string{"feedback"},
					Description: "Block sign-off until the draft meets the threshold"},
				{Key: "signoff", Name: "Sign-off", Kind: model.StepTask, Agent: model.RoleBrandAuthor, EstimateMin: 10,
					After:       []string{"gate"},
					Description: "Prepare the final draft for author sign-off"},
			},
		},
	}
}

// expand turns a template into plan steps with ids step-1, step-2, ... in
// template order. Quality gates gate the first step that depends on them.
func expand(t Template, maxAttempts int, threshold float64) ([]model.PlanStep, error) {
	if len(t.Steps) == 0 {
		return nil, errs.E(errs.KindInvalidInput, "create_plan", "template %s has no steps", t.Type)
	}
	ids := make(map[string]string, len(t.Steps))
	for i, s := range t.Steps {
		if s.Key == "" {
			return nil, errs.E(errs.KindInvalidInput, "create_plan", "template %s step %d has no key", t.Type, i+1)
		}
		if _, dup := ids[s.Key]; dup {
			return nil, errs.E(errs.KindInvalidInput, "create_plan", "template %s repeats step %q", t.Type, s.Key)
		}
		ids[s.Key] = stepID(i + 1)
	}

	steps := make([]model.PlanStep, len(t.Steps))
	for i, s := range t.Steps {
		kind := s.Kind
		if kind == "" {
			kind = model.StepTask
		}
		attempts := s.MaxAttempts
		if attempts <= 0 {
			attempts = maxAttempts
		}
		st := model.PlanStep{
			ID:          ids[s.Key],
			Name:        s.Name,
			Description: s.Description,
			Kind:        kind,
			Agent:       s.Agent,
			Status:      model.StepPending,
			MaxAttempts: attempts,
			EstimateMin: s.EstimateMin,
		}
		if kind != model.StepTask {
			st.Threshold = threshold
		}
		for _, dep := range s.After {
			id, ok := ids[dep]
			if !ok {
				return nil, errs.E(errs.KindInvalidInput, "create_plan", "step %q depends on unknown step %q", s.Key, dep)
			}
			st.DependsOn = append(st.DependsOn, id)
		}
		steps[i] = st
	}

	for i := range steps {
		if steps[i].Kind != model.StepQualityGate {
			continue
		}
		for _, s := range steps {
			if contains(s.DependsOn, steps[i].ID) {
				steps[i].Gates = s.ID
				break
			}
		}
	}
	return steps, nil
}

func stepID(n int) string {
	return fmt.Sprintf("step-%d", n)
}

// nextStepID returns an id not used by any step of p.
func nextStepID(p *model.Plan) string {
	for n := len(p.Steps) + 1; ; n++ {
		id := stepID(n)
		if s, _ := p.Step(id); s == nil {
			return id
		}
	}
}

// insertGate puts a quality gate in front of the step at index i: the gate
// takes over the step's dependencies and the step waits on the gate.
func insertGate(p *model.Plan, i int, threshold float64, name string) *model.PlanStep {
	target := &p.Steps[i]
	if name == "" {
		name = "Quality gate: " + target.Name
	}
	gate := model.PlanStep{
		ID:          nextStepID(p),
		Name:        name,
		Description: "Block " + target.Name + " until the content meets the threshold",
		Kind:        model.StepQualityGate,
		Agent:       model.RoleEditor,
		DependsOn:   append([]string(nil), target.DependsOn...),
		Status:      model.StepPending,
		MaxAttempts: target.MaxAttempts,
		Gates:       target.ID,
		Threshold:   threshold,
		EstimateMin: 5,
	}
	target.DependsOn = []string{gate.ID}
	p.Steps = append(p.Steps[:i], append([]model.PlanStep{gate}, p.Steps[i:]...)...)
	return &p.Steps[i]
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
