// Package session carries the explicit per-call context: who is acting, on
// which plan, under which trace. Every engine operation takes one; nothing
// reads a process-wide "current session".
package session

import (
	"github.com/google/uuid"

	"github.com/rcliao/brandkeeper/internal/model"
)

// Context identifies the caller of an engine operation.
type Context struct {
	Role    model.Role `json:"role"`
	PlanID  string     `json:"plan_id,omitempty"`
	TraceID string     `json:"trace_id"`
}

// New returns a context for role with a fresh trace id.
func New(role model.Role) Context {
	return Context{Role: role, TraceID: uuid.NewString()}
}

// System returns the context the engine uses for its own writes.
func System() Context {
	return New(model.RoleSystem)
}

// WithPlan returns a copy bound to planID.
func (c Context) WithPlan(planID string) Context {
	c.PlanID = planID
	return c
}

// AsSystem keeps the trace and plan but acts with the system role.
func (c Context) AsSystem() Context {
	c.Role = model.RoleSystem
	return c
}

// Attrs returns slog key/value pairs describing the context.
func (c Context) Attrs() []any {
	attrs := []any{"role", string(c.Role), "trace_id", c.TraceID}
	if c.PlanID != "" {
		attrs = append(attrs, "plan_id", c.PlanID)
	}
	return attrs
}
