package memory

import (
	"context"
	"fmt"

	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
	"github.com/rcliao/brandkeeper/internal/store"
)

// Plans and the ledger are not memory types, so the access policy does not
// cover them. They share the store's serialized write path with entries.

// SavePlan persists the current revision of p.
func (m *Manager) SavePlan(ctx context.Context, p *model.Plan) error {
	return m.store.SavePlan(ctx, p)
}

// LoadPlan returns the stored plan with id.
func (m *Manager) LoadPlan(ctx context.Context, id string) (*model.Plan, error) {
	return m.store.GetPlan(ctx, id)
}

// ListPlans returns plans with status, or all when status is empty.
func (m *Manager) ListPlans(ctx context.Context, status model.PlanStatus) ([]model.Plan, error) {
	return m.store.ListPlans(ctx, status)
}

// AppendRecord appends a decision or validation record to the ledger, stamped
// with the caller's trace.
func (m *Manager) AppendRecord(ctx context.Context, sc session.Context, kind model.LedgerKind, subjectID, planID string, body []byte) (*model.LedgerRecord, error) {
	rec := &model.LedgerRecord{
		Kind:      kind,
		SubjectID: subjectID,
		PlanID:    planID,
		TraceID:   sc.TraceID,
		Body:      body,
	}
	if err := m.store.AppendLedger(ctx, rec); err != nil {
		return nil, fmt.Errorf("append %s record: %w", kind, err)
	}
	return rec, nil
}

// Records returns ledger records matching q in append order.
func (m *Manager) Records(ctx context.Context, q store.LedgerQuery) ([]model.LedgerRecord, error) {
	return m.store.ListLedger(ctx, q)
}
