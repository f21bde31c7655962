// Package model defines the core governance data types.
package model

import "time"

// MemoryType partitions stored records and access rules.
type MemoryType string

const (
	Episodic   MemoryType = "episodic"
	Semantic   MemoryType = "semantic"
	Procedural MemoryType = "procedural"
	Brand      MemoryType = "brand"
)

// MemoryTypes lists every memory type in a stable order.
var MemoryTypes = []MemoryType{Episodic, Semantic, Procedural, Brand}

// ValidMemoryTypes are the allowed memory types.
var ValidMemoryTypes = map[MemoryType]bool{
	Episodic:   true,
	Semantic:   true,
	Procedural: true,
	Brand:      true,
}

// RecordKind is the discriminant of a memory entry's content.
type RecordKind string

const (
	KindNote           RecordKind = "note"
	KindDecision       RecordKind = "decision"
	KindPlan           RecordKind = "plan"
	KindValidation     RecordKind = "validation"
	KindKnowledgeUsage RecordKind = "knowledge_usage"
	KindConsolidated   RecordKind = "consolidated"
)

// ValidRecordKinds are the allowed record kinds.
var ValidRecordKinds = map[RecordKind]bool{
	KindNote:           true,
	KindDecision:       true,
	KindPlan:           true,
	KindValidation:     true,
	KindKnowledgeUsage: true,
	KindConsolidated:   true,
}

// Role names an actor in the authoring crew.
type Role string

const (
	RoleBrandAuthor Role = "brand_author"
	RoleWriter      Role = "writer"
	RoleEditor      Role = "editor"
	RoleResearcher  Role = "researcher"
	RoleSystem      Role = "system"
)

// Operation is a permission checked against the access policy.
type Operation string

const (
	OpRead        Operation = "read"
	OpWrite       Operation = "write"
	OpConsolidate Operation = "consolidate"
)

// ValidOperations are the allowed operations.
var ValidOperations = map[Operation]bool{
	OpRead:        true,
	OpWrite:       true,
	OpConsolidate: true,
}

// AccessRule grants a role a set of operations on one memory type.
type AccessRule struct {
	Role       Role        `json:"role"`
	MemoryType MemoryType  `json:"memory_type"`
	Operations []Operation `json:"operations"`
}

// MemoryEntry is a stored memory record.
type MemoryEntry struct {
	ID             string     `json:"id"`
	Seq            int64      `json:"seq"`
	Type           MemoryType `json:"memory_type"`
	Kind           RecordKind `json:"kind"`
	OwnerRole      Role       `json:"owner_role"`
	Content        string     `json:"content"`
	Tags           []string   `json:"tags,omitempty"`
	Importance     float64    `json:"importance"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	MergedFrom     []string   `json:"merged_from,omitempty"`
}

// HasTag reports whether the entry carries tag.
func (m MemoryEntry) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
