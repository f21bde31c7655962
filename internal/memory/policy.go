package memory

import (
	"sort"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
)

var (
	rwc = []model.Operation{model.OpRead, model.OpWrite, model.OpConsolidate}
	rw  = []model.Operation{model.OpRead, model.OpWrite}
	r   = []model.Operation{model.OpRead}
)

// DefaultRules is the access matrix a fresh store is seeded with.
func DefaultRules() []model.AccessRule {
	matrix := map[model.Role][4][]model.Operation{
		// episodic, semantic, procedural, brand
		model.RoleBrandAuthor: {rwc, rwc, rwc, rwc},
		model.RoleWriter:      {rw, rw, rw, r},
		model.RoleEditor:      {rw, rw, r, r},
		model.RoleResearcher:  {rw, r, r, r},
		model.RoleSystem:      {rwc, rwc, rwc, rwc},
	}
	var rules []model.AccessRule
	for role, ops := range matrix {
		for i, mt := range model.MemoryTypes {
			rules = append(rules, model.AccessRule{
				Role:       role,
				MemoryType: mt,
				Operations: append([]model.Operation(nil), ops[i]...),
			})
		}
	}
	sortRules(rules)
	return rules
}

// Policy is the capability table consulted before every memory operation.
// It is immutable; the manager swaps the whole table on import.
type Policy struct {
	grants map[model.Role]map[model.MemoryType]map[model.Operation]bool
	rules  []model.AccessRule
}

// NewPolicy builds a policy from rules. Later rules for the same role and
// type replace earlier ones.
func NewPolicy(rules []model.AccessRule) *Policy {
	p := &Policy{grants: make(map[model.Role]map[model.MemoryType]map[model.Operation]bool)}
	for _, rule := range rules {
		byType, ok := p.grants[rule.Role]
		if !ok {
			byType = make(map[model.MemoryType]map[model.Operation]bool)
			p.grants[rule.Role] = byType
		}
		ops := make(map[model.Operation]bool, len(rule.Operations))
		for _, op := range rule.Operations {
			ops[op] = true
		}
		byType[rule.MemoryType] = ops
	}
	for role, byType := range p.grants {
		for mt, ops := range byType {
			rule := model.AccessRule{Role: role, MemoryType: mt}
			for op := range ops {
				rule.Operations = append(rule.Operations, op)
			}
			sort.Slice(rule.Operations, func(i, j int) bool { return rule.Operations[i] < rule.Operations[j] })
			p.rules = append(p.rules, rule)
		}
	}
	sortRules(p.rules)
	return p
}

// Allows reports whether role may perform op on mt.
func (p *Policy) Allows(role model.Role, mt model.MemoryType, op model.Operation) bool {
	return p.grants[role][mt][op]
}

// Check is the single gate in front of storage. It returns an AccessDenied
// error when the caller's role lacks op on mt.
func (p *Policy) Check(sc session.Context, mt model.MemoryType, op model.Operation) error {
	if p.Allows(sc.Role, mt, op) {
		return nil
	}
	return errs.E(errs.KindAccessDenied, string(op),
		"role %q may not %s %s memory", sc.Role, op, mt)
}

// CheckAll checks op on every memory type.
func (p *Policy) CheckAll(sc session.Context, op model.Operation) error {
	for _, mt := range model.MemoryTypes {
		if err := p.Check(sc, mt, op); err != nil {
			return err
		}
	}
	return nil
}

// Readable returns the memory types role may read, in stable order.
func (p *Policy) Readable(role model.Role) []model.MemoryType {
	var out []model.MemoryType
	for _, mt := range model.MemoryTypes {
		if p.Allows(role, mt, model.OpRead) {
			out = append(out, mt)
		}
	}
	return out
}

// Rules returns the policy as sorted rules.
func (p *Policy) Rules() []model.AccessRule {
	out := make([]model.AccessRule, len(p.rules))
	for i, rule := range p.rules {
		rule.Operations = append([]model.Operation(nil), rule.Operations...)
		out[i] = rule
	}
	return out
}

func sortRules(rules []model.AccessRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Role != rules[j].Role {
			return rules[i].Role < rules[j].Role
		}
		return rules[i].MemoryType < rules[j].MemoryType
	})
}
