package reasoning

import (
	"sort"
	"strings"
	"time"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/model"
)

// checkGraph rejects unknown or self dependencies and cycles.
func checkGraph(op string, steps []model.PlanStep) error {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		if _, dup := index[s.ID]; dup {
			return errs.E(errs.KindInvalidInput, op, "duplicate step id %s", s.ID)
		}
		index[s.ID] = i
	}

	indegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))
	for i, s := range steps {
		for _, dep := range s.DependsOn {
			j, ok := index[dep]
			if !ok {
				return errs.E(errs.KindInvalidInput, op, "step %s depends on unknown step %s", s.ID, dep)
			}
			if j == i {
				return errs.E(errs.KindInvalidInput, op, "step %s depends on itself", s.ID)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var queue []int
	for i, d := range indegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	seen := 0
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		seen++
		for _, j := range dependents[i] {
			indegree[j]--
			if indegree[j] == 0 {
				queue = append(queue, j)
			}
		}
	}
	if seen == len(steps) {
		return nil
	}

	var cyclic []string
	for i, d := range indegree {
		if d > 0 {
			cyclic = append(cyclic, steps[i].ID)
		}
	}
	return errs.E(errs.KindInvalidInput, op, "dependency cycle through %s", strings.Join(cyclic, ", "))
}

// refresh recomputes pending, ready and blocked for every step that has not
// started: ready when all dependencies are done, blocked when one failed
// without a remediation, pending otherwise.
func refresh(p *model.Plan, now time.Time) {
	status := make(map[string]model.StepStatus, len(p.Steps))
	for _, s := range p.Steps {
		status[s.ID] = s.Status
	}
	for i := range p.Steps {
		s := &p.Steps[i]
		switch s.Status {
		case model.StepPending, model.StepReady, model.StepBlocked:
		default:
			continue
		}
		next := model.StepReady
		for _, dep := range s.DependsOn {
			switch status[dep] {
			case model.StepDone:
			case model.StepFailed:
				next = model.StepBlocked
			default:
				if next != model.StepBlocked {
					next = model.StepPending
				}
			}
		}
		if next != s.Status {
			transition(p, s, next, "", now)
		}
	}
}

// transition moves s to status and logs the change.
func transition(p *model.Plan, s *model.PlanStep, to model.StepStatus, note string, now time.Time) {
	p.Events = append(p.Events, model.PlanEvent{At: now, StepID: s.ID, From: s.Status, To: to, Note: note})
	s.Status = to
	switch to {
	case model.StepRunning:
		s.StartedAt = &now
		s.FinishedAt = nil
	case model.StepReady, model.StepPending, model.StepBlocked:
		s.StartedAt = nil
	case model.StepDone, model.StepFailed, model.StepSkipped:
		s.FinishedAt = &now
	}
	if note != "" {
		s.Note = note
	}
}

// setPlanStatus moves p to status and logs the change.
func setPlanStatus(p *model.Plan, to model.PlanStatus, note string, now time.Time) {
	if p.Status == to {
		return
	}
	p.Events = append(p.Events, model.PlanEvent{At: now, Note: "plan " + string(p.Status) + " -> " + string(to) + noteSuffix(note)})
	p.Status = to
}

func noteSuffix(note string) string {
	if note == "" {
		return ""
	}
	return ": " + note
}

// inheritDependencies rewires steps that depend on skipped so they depend on
// what skipped depended on.
func inheritDependencies(p *model.Plan, skipped *model.PlanStep) {
	inherited := append([]string(nil), skipped.DependsOn...)
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.ID == skipped.ID || !contains(s.DependsOn, skipped.ID) {
			continue
		}
		var deps []string
		for _, dep := range s.DependsOn {
			if dep == skipped.ID {
				for _, in := range inherited {
					if !contains(deps, in) && in != s.ID {
						deps = append(deps, in)
					}
				}
				continue
			}
			if !contains(deps, dep) {
				deps = append(deps, dep)
			}
		}
		s.DependsOn = deps
	}
}

// remediated reports whether a step remediating id exists and has not
// itself failed unremediated.
func remediated(p *model.Plan, id string) bool {
	for _, s := range p.Steps {
		if s.Remediates == id && s.Status != model.StepSkipped {
			return s.Status != model.StepFailed || remediated(p, s.ID)
		}
	}
	return false
}

// complete reports whether every step is done or skipped, counting a failed
// step as settled once its remediation is.
func complete(p *model.Plan) bool {
	for _, s := range p.Steps {
		switch s.Status {
		case model.StepDone, model.StepSkipped:
		case model.StepFailed:
			if !remediated(p, s.ID) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Ready returns the steps of p that may start, in plan order, with each
// quality gate ahead of the step it gates.
func Ready(p *model.Plan) []model.PlanStep {
	pos := make(map[string]int, len(p.Steps))
	var ready []model.PlanStep
	for i, s := range p.Steps {
		pos[s.ID] = 2 * i
		if s.Status == model.StepReady {
			ready = append(ready, s)
		}
	}
	key := func(s model.PlanStep) int {
		if s.Kind == model.StepQualityGate && s.Gates != "" {
			if g, ok := pos[s.Gates]; ok && g < pos[s.ID] {
				return g - 1
			}
		}
		return pos[s.ID]
	}
	sort.SliceStable(ready, func(i, j int) bool { return key(ready[i]) < key(ready[j]) })
	return ready
}

// depsDone reports whether every dependency of s is done.
func depsDone(p *model.Plan, s *model.PlanStep) bool {
	for _, dep := range s.DependsOn {
		d, _ := p.Step(dep)
		if d == nil || d.Status != model.StepDone {
			return false
		}
	}
	return true
}
