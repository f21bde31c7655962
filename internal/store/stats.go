package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath            string         `json:"db_path"`
	DBSizeBytes       int64          `json:"db_size_bytes"`
	TotalMemories     int            `json:"total_memories"`
	MemoriesByType    map[string]int `json:"memories_by_type"`
	KnowledgeItems    int            `json:"knowledge_items"`
	KnowledgeVersions int            `json:"knowledge_versions"`
	PlansByStatus     map[string]int `json:"plans_by_status"`
	LedgerByKind      map[string]int `json:"ledger_by_kind"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		DBPath:         s.path,
		MemoriesByType: map[string]int{},
		PlansByStatus:  map[string]int{},
		LedgerByKind:   map[string]int{},
	}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&st.TotalMemories)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_items`).Scan(&st.KnowledgeItems)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_versions`).Scan(&st.KnowledgeVersions)

	groups := []struct {
		query string
		into  map[string]int
	}{
		{`SELECT memory_type, COUNT(*) FROM memories GROUP BY memory_type`, st.MemoriesByType},
		{`SELECT status, COUNT(*) FROM plans GROUP BY status`, st.PlansByStatus},
		{`SELECT kind, COUNT(*) FROM ledger GROUP BY kind`, st.LedgerByKind},
	}
	for _, g := range groups {
		if err := s.countInto(ctx, g.query, g.into); err != nil {
			return st, err
		}
	}

	return st, nil
}

func (s *SQLiteStore) countInto(ctx context.Context, query string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}
