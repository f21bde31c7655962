package model

import (
	"encoding/json"
	"time"
)

// LedgerKind discriminates append-only log records.
type LedgerKind string

const (
	LedgerDecision   LedgerKind = "decision"
	LedgerValidation LedgerKind = "validation"
)

// LedgerRecord is one entry of the append-only decision and validation log.
// Body holds the JSON of the Decision or ValidationResult.
type LedgerRecord struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	Kind      LedgerKind      `json:"kind"`
	SubjectID string          `json:"subject_id,omitempty"`
	PlanID    string          `json:"plan_id,omitempty"`
	TraceID   string          `json:"trace_id,omitempty"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
}
