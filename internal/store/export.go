package store

import (
	"context"

	"github.com/rcliao/brandkeeper/internal/model"
)

// ExportMemories returns every entry ordered by seq.
func (s *SQLiteStore) ExportMemories(ctx context.Context) ([]model.MemoryEntry, error) {
	return s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories ORDER BY seq`)
}

// ReplaceAll swaps the full entry set and access rules in one transaction.
// Entries keep their ids and seq numbers.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, entries []model.MemoryEntry, rules []model.AccessRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memories`); err != nil {
		return err
	}
	for i := range entries {
		if _, err := insertMemory(ctx, tx, &entries[i], true); err != nil {
			return err
		}
	}
	if err := writeRules(ctx, tx, rules); err != nil {
		return err
	}
	return tx.Commit()
}
