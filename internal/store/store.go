// Package store provides the governance storage interface and SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/brandkeeper/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a plan changed since it was loaded.
var ErrConflict = errors.New("conflicting write")

// ListParams filters memory entries. Zero values mean no filter.
type ListParams struct {
	Types         []model.MemoryType
	MinImportance float64
	Since         *time.Time
	Until         *time.Time
	Limit         int
}

// PutKnowledgeParams holds the fields of a new knowledge version.
type PutKnowledgeParams struct {
	ID           string
	Type         model.KnowledgeType
	Source       string
	Title        string
	Content      string
	Tags         []string
	Status       model.KnowledgeStatus
	Dependencies []model.Dependency
	Checksum     string
	Note         string
	// SourceChecksum records the indexed source file; empty keeps the
	// current one.
	SourceChecksum string
}

// LedgerQuery filters ledger records. Zero values mean no filter.
type LedgerQuery struct {
	Kind      model.LedgerKind
	SubjectID string
	PlanID    string
	Limit     int
}

// Store defines the persistence interface used by the engine.
type Store interface {
	// InsertMemory appends an entry, assigning ID and Seq when empty.
	InsertMemory(ctx context.Context, e *model.MemoryEntry) error
	// ListMemories returns entries in insertion order.
	ListMemories(ctx context.Context, p ListParams) ([]model.MemoryEntry, error)
	CountMemories(ctx context.Context, t model.MemoryType) (int, error)
	TouchMemories(ctx context.Context, ids []string, at time.Time) error
	// ReplaceMemories deletes remove and inserts add in one transaction.
	ReplaceMemories(ctx context.Context, remove []string, add []model.MemoryEntry) ([]model.MemoryEntry, error)

	LoadAccessRules(ctx context.Context) ([]model.AccessRule, error)
	SaveAccessRules(ctx context.Context, rules []model.AccessRule) error
	// ExportMemories returns every entry with its original seq.
	ExportMemories(ctx context.Context) ([]model.MemoryEntry, error)
	// ReplaceAll swaps every entry and rule in one transaction.
	ReplaceAll(ctx context.Context, entries []model.MemoryEntry, rules []model.AccessRule) error

	// PutKnowledge writes the next version of an item.
	PutKnowledge(ctx context.Context, p PutKnowledgeParams) (*model.KnowledgeItem, error)
	// GetKnowledge returns an item at version, 0 meaning latest.
	GetKnowledge(ctx context.Context, id string, version int) (*model.KnowledgeItem, error)
	ListKnowledge(ctx context.Context) ([]model.KnowledgeItem, error)
	KnowledgeHistory(ctx context.Context, id string) ([]model.KnowledgeVersion, error)
	InsertUsage(ctx context.Context, u *model.KnowledgeUsage) error
	ListUsage(ctx context.Context, itemID string) ([]model.KnowledgeUsage, error)

	// SavePlan inserts p when its stamp is zero and otherwise replaces the
	// stored plan only while the stored stamp still equals p.Stamp.
	SavePlan(ctx context.Context, p *model.Plan) error
	GetPlan(ctx context.Context, id string) (*model.Plan, error)
	ListPlans(ctx context.Context, status model.PlanStatus) ([]model.Plan, error)

	AppendLedger(ctx context.Context, rec *model.LedgerRecord) error
	ListLedger(ctx context.Context, q LedgerQuery) ([]model.LedgerRecord, error)

	Stats(ctx context.Context) (*Stats, error)

	// Close closes the store.
	Close() error
}
