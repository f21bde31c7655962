package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/brandkeeper/internal/model"
)

const memoryColumns = `seq, id, memory_type, kind, owner_role, content, tags, importance,
	created_at, last_accessed_at, merged_from`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteStore) InsertMemory(ctx context.Context, e *model.MemoryEntry) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	seq, err := insertMemory(ctx, s.db, e, false)
	if err != nil {
		return err
	}
	e.Seq = seq
	return nil
}

// insertMemory writes e; withSeq keeps the caller's seq (snapshot import).
func insertMemory(ctx context.Context, x execer, e *model.MemoryEntry, withSeq bool) (int64, error) {
	var lastAccessed *string
	if e.LastAccessedAt != nil {
		v := formatTime(*e.LastAccessedAt)
		lastAccessed = &v
	}

	var seq interface{}
	if withSeq {
		seq = e.Seq
	}

	res, err := x.ExecContext(ctx,
		`INSERT INTO memories (`+memoryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seq, e.ID, string(e.Type), string(e.Kind), string(e.OwnerRole), e.Content,
		jsonText(e.Tags), e.Importance, formatTime(e.CreatedAt), lastAccessed, jsonText(e.MergedFrom))
	if err != nil {
		return 0, fmt.Errorf("insert memory: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) ListMemories(ctx context.Context, p ListParams) ([]model.MemoryEntry, error) {
	var where []string
	var args []interface{}

	if len(p.Types) > 0 {
		marks := make([]string, len(p.Types))
		for i, t := range p.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "memory_type IN ("+strings.Join(marks, ", ")+")")
	}
	if p.MinImportance > 0 {
		where = append(where, "importance >= ?")
		args = append(args, p.MinImportance)
	}
	if p.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*p.Since))
	}
	if p.Until != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*p.Until))
	}

	query := `SELECT ` + memoryColumns + ` FROM memories`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq`
	if p.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}

	return s.queryMemories(ctx, query, args...)
}

func (s *SQLiteStore) queryMemories(ctx context.Context, query string, args ...interface{}) ([]model.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.MemoryEntry
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, m)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) CountMemories(ctx context.Context, t model.MemoryType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE memory_type = ?`, string(t)).Scan(&n)
	return n, err
}

func (s *SQLiteStore) TouchMemories(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	marks := make([]string, len(ids))
	args := []interface{}{formatTime(at)}
	for i, id := range ids {
		marks[i] = "?"
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET last_accessed_at = ? WHERE id IN (`+strings.Join(marks, ", ")+`)`, args...)
	return err
}

func (s *SQLiteStore) ReplaceMemories(ctx context.Context, remove []string, add []model.MemoryEntry) ([]model.MemoryEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	for _, id := range remove {
		res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
		if err != nil {
			return nil, fmt.Errorf("delete memory %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("delete memory %s: %w", id, ErrNotFound)
		}
	}

	out := make([]model.MemoryEntry, len(add))
	for i, e := range add {
		if e.ID == "" {
			e.ID = NewID()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		seq, err := insertMemory(ctx, tx, &e, false)
		if err != nil {
			return nil, err
		}
		e.Seq = seq
		out[i] = e
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) LoadAccessRules(ctx context.Context) ([]model.AccessRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, memory_type, operations FROM access_rules ORDER BY role, memory_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.AccessRule
	for rows.Next() {
		var r model.AccessRule
		var role, mt, ops string
		if err := rows.Scan(&role, &mt, &ops); err != nil {
			return nil, err
		}
		r.Role = model.Role(role)
		r.MemoryType = model.MemoryType(mt)
		if err := json.Unmarshal([]byte(ops), &r.Operations); err != nil {
			return nil, fmt.Errorf("decode operations for %s/%s: %w", role, mt, err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *SQLiteStore) SaveAccessRules(ctx context.Context, rules []model.AccessRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := writeRules(ctx, tx, rules); err != nil {
		return err
	}
	return tx.Commit()
}

func writeRules(ctx context.Context, tx *sql.Tx, rules []model.AccessRule) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM access_rules`); err != nil {
		return err
	}
	for _, r := range rules {
		ops := append([]model.Operation(nil), r.Operations...)
		sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
		b, _ := json.Marshal(ops)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO access_rules (role, memory_type, operations) VALUES (?, ?, ?)`,
			string(r.Role), string(r.MemoryType), string(b))
		if err != nil {
			return fmt.Errorf("insert rule %s/%s: %w", r.Role, r.MemoryType, err)
		}
	}
	return nil
}

func scanMemory(row scanner) (model.MemoryEntry, error) {
	var m model.MemoryEntry
	var memType, kind, owner, createdAt string
	var tagsJSON, lastAccessed, mergedFrom sql.NullString

	err := row.Scan(
		&m.Seq, &m.ID, &memType, &kind, &owner, &m.Content, &tagsJSON,
		&m.Importance, &createdAt, &lastAccessed, &mergedFrom,
	)
	if err != nil {
		return m, err
	}

	m.Type = model.MemoryType(memType)
	m.Kind = model.RecordKind(kind)
	m.OwnerRole = model.Role(owner)
	m.CreatedAt = parseTime(createdAt)
	m.LastAccessedAt = nullTime(lastAccessed)
	m.Tags = decodeJSON[string](tagsJSON)
	m.MergedFrom = decodeJSON[string](mergedFrom)

	return m, nil
}
