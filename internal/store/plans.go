package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rcliao/brandkeeper/internal/model"
)

// SavePlan writes the plan document and advances p.Stamp. Saving a plan whose
// stamp no longer matches the stored one fails with ErrConflict and leaves both
// the stored plan and p unchanged.
func (s *SQLiteStore) SavePlan(ctx context.Context, p *model.Plan) error {
	prev := p.Stamp
	p.Stamp = prev + 1
	body, err := json.Marshal(p)
	if err != nil {
		p.Stamp = prev
		return fmt.Errorf("encode plan: %w", err)
	}

	var res sql.Result
	if prev == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO plans (id, template_type, status, revision, stamp, body, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			p.ID, string(p.TemplateType), string(p.Status), p.Revision, p.Stamp, string(body),
			formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE plans SET status = ?, revision = ?, stamp = ?, body = ?, updated_at = ?
			 WHERE id = ? AND stamp = ?`,
			string(p.Status), p.Revision, p.Stamp, string(body), formatTime(p.UpdatedAt),
			p.ID, prev)
	}
	if err != nil {
		p.Stamp = prev
		return fmt.Errorf("save plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		p.Stamp = prev
		return fmt.Errorf("save plan: %w", err)
	}
	if n == 0 {
		p.Stamp = prev
		return fmt.Errorf("plan %s: %w", p.ID, ErrConflict)
	}
	return nil
}

func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM plans WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var p model.Plan
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", id, err)
	}
	return &p, nil
}

// ListPlans returns plans with status, or all plans when empty, oldest first.
func (s *SQLiteStore) ListPlans(ctx context.Context, status model.PlanStatus) ([]model.Plan, error) {
	query := `SELECT body FROM plans`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []model.Plan
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var p model.Plan
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}
