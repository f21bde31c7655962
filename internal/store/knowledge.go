package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/brandkeeper/internal/model"
)

// knowledgeSelect reads the version row's number and timestamp so a pinned
// lookup reports the version it returned, not the head.
const knowledgeSelect = `SELECT k.id, k.type, k.source, k.source_checksum, v.version, v.created_at,
	       v.title, v.content, v.tags, v.status, v.dependencies, v.checksum
	FROM knowledge_items k
	JOIN knowledge_versions v ON v.item_id = k.id`

// PutKnowledge writes version head+1 of an item and moves the head to it. The
// item's source checksum only changes when p carries one.
func (s *SQLiteStore) PutKnowledge(ctx context.Context, p PutKnowledgeParams) (*model.KnowledgeItem, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var head int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM knowledge_versions WHERE item_id = ?`, p.ID).Scan(&head)
	if err != nil {
		return nil, err
	}
	version := head + 1

	status := p.Status
	if status == "" {
		status = model.StatusActive
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO knowledge_items (id, type, source, source_checksum, version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET type = excluded.type, source = excluded.source,
		   source_checksum = CASE WHEN excluded.source_checksum = '' THEN knowledge_items.source_checksum
		                          ELSE excluded.source_checksum END,
		   version = excluded.version, updated_at = excluded.updated_at`,
		p.ID, string(p.Type), p.Source, p.SourceChecksum, version, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("upsert knowledge item: %w", err)
	}

	var sourceSum string
	err = tx.QueryRowContext(ctx, `SELECT source_checksum FROM knowledge_items WHERE id = ?`, p.ID).Scan(&sourceSum)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO knowledge_versions (item_id, version, title, content, tags, status, dependencies, checksum, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, version, p.Title, p.Content, jsonText(p.Tags), string(status),
		jsonText(p.Dependencies), p.Checksum, p.Note, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert knowledge version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &model.KnowledgeItem{
		ID:             p.ID,
		Type:           p.Type,
		Source:         p.Source,
		Title:          p.Title,
		Content:        p.Content,
		Tags:           p.Tags,
		Status:         status,
		Dependencies:   p.Dependencies,
		Version:        version,
		Checksum:       p.Checksum,
		SourceChecksum: sourceSum,
		UpdatedAt:      now,
	}, nil
}

func (s *SQLiteStore) GetKnowledge(ctx context.Context, id string, version int) (*model.KnowledgeItem, error) {
	var row *sql.Row
	if version > 0 {
		row = s.db.QueryRowContext(ctx, knowledgeSelect+` AND v.version = ? WHERE k.id = ?`, version, id)
	} else {
		row = s.db.QueryRowContext(ctx, knowledgeSelect+` AND v.version = k.version WHERE k.id = ?`, id)
	}
	item, err := scanKnowledge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("knowledge %s@%d: %w", id, version, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *SQLiteStore) ListKnowledge(ctx context.Context) ([]model.KnowledgeItem, error) {
	rows, err := s.db.QueryContext(ctx, knowledgeSelect+` AND v.version = k.version ORDER BY k.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.KnowledgeItem
	for rows.Next() {
		item, err := scanKnowledge(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// KnowledgeHistory returns every version of id, oldest first.
func (s *SQLiteStore) KnowledgeHistory(ctx context.Context, id string) ([]model.KnowledgeVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, title, content, tags, status, dependencies, checksum, note, created_at
		 FROM knowledge_versions WHERE item_id = ? ORDER BY version`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.KnowledgeVersion
	for rows.Next() {
		var v model.KnowledgeVersion
		var tags, deps, note sql.NullString
		var status, createdAt string
		if err := rows.Scan(&v.Version, &v.Title, &v.Content, &tags, &status, &deps,
			&v.Checksum, &note, &createdAt); err != nil {
			return nil, err
		}
		v.Tags = decodeJSON[string](tags)
		v.Dependencies = decodeJSON[model.Dependency](deps)
		v.Status = model.KnowledgeStatus(status)
		v.Note = note.String
		v.CreatedAt = parseTime(createdAt)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("knowledge %s: %w", id, ErrNotFound)
	}
	return out, nil
}

func (s *SQLiteStore) InsertUsage(ctx context.Context, u *model.KnowledgeUsage) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_usage (id, item_id, plan_id, content_type, tags, effectiveness, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.ItemID, u.PlanID, u.ContentType, jsonText(u.Tags), u.Effectiveness, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// ListUsage returns usage records for itemID, or all records when empty.
func (s *SQLiteStore) ListUsage(ctx context.Context, itemID string) ([]model.KnowledgeUsage, error) {
	query := `SELECT id, item_id, plan_id, content_type, tags, effectiveness, created_at FROM knowledge_usage`
	var args []interface{}
	if itemID != "" {
		query += ` WHERE item_id = ?`
		args = append(args, itemID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.KnowledgeUsage
	for rows.Next() {
		var u model.KnowledgeUsage
		var planID, contentType, tags sql.NullString
		var createdAt string
		if err := rows.Scan(&u.ID, &u.ItemID, &planID, &contentType, &tags, &u.Effectiveness, &createdAt); err != nil {
			return nil, err
		}
		u.PlanID = planID.String
		u.ContentType = contentType.String
		u.Tags = decodeJSON[string](tags)
		u.CreatedAt = parseTime(createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanKnowledge(row scanner) (model.KnowledgeItem, error) {
	var k model.KnowledgeItem
	var kType, status, updatedAt string
	var tags, deps sql.NullString

	err := row.Scan(&k.ID, &kType, &k.Source, &k.SourceChecksum, &k.Version, &updatedAt,
		&k.Title, &k.Content, &tags, &status, &deps, &k.Checksum)
	if err != nil {
		return k, err
	}
	k.Type = model.KnowledgeType(kType)
	k.Status = model.KnowledgeStatus(status)
	k.UpdatedAt = parseTime(updatedAt)
	k.Tags = decodeJSON[string](tags)
	k.Dependencies = decodeJSON[model.Dependency](deps)
	return k, nil
}
