package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/brandkeeper/internal/model"
)

// validLedgerKinds are the record kinds the ledger accepts.
var validLedgerKinds = map[model.LedgerKind]bool{
	model.LedgerDecision:   true,
	model.LedgerValidation: true,
}

// AppendLedger appends rec to the log, assigning ID, Seq and CreatedAt.
func (s *SQLiteStore) AppendLedger(ctx context.Context, rec *model.LedgerRecord) error {
	if !validLedgerKinds[rec.Kind] {
		return fmt.Errorf("invalid ledger kind %q", rec.Kind)
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger (id, kind, subject_id, plan_id, trace_id, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.SubjectID, rec.PlanID, rec.TraceID, string(rec.Body),
		formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	rec.Seq, _ = res.LastInsertId()
	return nil
}

// ListLedger returns matching records in append order.
func (s *SQLiteStore) ListLedger(ctx context.Context, q LedgerQuery) ([]model.LedgerRecord, error) {
	var where []string
	var args []interface{}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, q.SubjectID)
	}
	if q.PlanID != "" {
		where = append(where, "plan_id = ?")
		args = append(args, q.PlanID)
	}

	query := `SELECT seq, id, kind, subject_id, plan_id, trace_id, body, created_at FROM ledger`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LedgerRecord
	for rows.Next() {
		var r model.LedgerRecord
		var kind, body, createdAt string
		var subject, plan, trace sql.NullString
		if err := rows.Scan(&r.Seq, &r.ID, &kind, &subject, &plan, &trace, &body, &createdAt); err != nil {
			return nil, err
		}
		r.Kind = model.LedgerKind(kind)
		r.SubjectID = subject.String
		r.PlanID = plan.String
		r.TraceID = trace.String
		r.Body = []byte(body)
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
