package model

import (
	"strconv"
	"strings"
	"time"
)

// KnowledgeType classifies reference material.
type KnowledgeType string

const (
	KnowledgeBrandFoundation KnowledgeType = "brand_foundation"
	KnowledgePersonas        KnowledgeType = "personas"
	KnowledgeExamples        KnowledgeType = "writing_examples"
	KnowledgeTemplates       KnowledgeType = "templates"
	KnowledgeRules           KnowledgeType = "validation_rules"
	KnowledgePreferences     KnowledgeType = "user_preferences"
	KnowledgeContextual      KnowledgeType = "contextual"
)

// ValidKnowledgeTypes are the allowed knowledge types.
var ValidKnowledgeTypes = map[KnowledgeType]bool{
	KnowledgeBrandFoundation: true,
	KnowledgePersonas:        true,
	KnowledgeExamples:        true,
	KnowledgeTemplates:       true,
	KnowledgeRules:           true,
	KnowledgePreferences:     true,
	KnowledgeContextual:      true,
}

// KnowledgeStatus is the lifecycle state of a knowledge item.
type KnowledgeStatus string

const (
	StatusActive     KnowledgeStatus = "active"
	StatusDeprecated KnowledgeStatus = "deprecated"
	StatusDraft      KnowledgeStatus = "draft"
	StatusArchived   KnowledgeStatus = "archived"
)

// ValidKnowledgeStatuses are the allowed statuses.
var ValidKnowledgeStatuses = map[KnowledgeStatus]bool{
	StatusActive:     true,
	StatusDeprecated: true,
	StatusDraft:      true,
	StatusArchived:   true,
}

// Dependency references another item, optionally pinned to a version.
// Written as "id" or "id@version".
type Dependency struct {
	ID      string `json:"id"`
	Version int    `json:"version,omitempty"`
}

// ParseDependency parses "id" or "id@version".
func ParseDependency(s string) Dependency {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "@"); i > 0 {
		if v, err := strconv.Atoi(s[i+1:]); err == nil {
			return Dependency{ID: s[:i], Version: v}
		}
	}
	return Dependency{ID: s}
}

func (d Dependency) String() string {
	if d.Version > 0 {
		return d.ID + "@" + strconv.Itoa(d.Version)
	}
	return d.ID
}

// KnowledgeVersion is one immutable revision of a knowledge item.
type KnowledgeVersion struct {
	Version      int             `json:"version"`
	Title        string          `json:"title"`
	Content      string          `json:"content"`
	Tags         []string        `json:"tags,omitempty"`
	Status       KnowledgeStatus `json:"status"`
	Dependencies []Dependency    `json:"dependencies,omitempty"`
	Checksum     string          `json:"checksum"`
	Note         string          `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// KnowledgeItem is the active revision of a unit of reference material.
type KnowledgeItem struct {
	ID           string             `json:"id"`
	Type         KnowledgeType      `json:"type"`
	Source       string             `json:"source"`
	Title        string             `json:"title"`
	Content      string             `json:"content"`
	Tags         []string           `json:"tags,omitempty"`
	Status       KnowledgeStatus    `json:"status"`
	Dependencies []Dependency       `json:"dependencies,omitempty"`
	Version      int                `json:"version"`
	Checksum     string             `json:"checksum"`
	UpdatedAt    time.Time          `json:"updated_at"`
	History      []KnowledgeVersion `json:"history,omitempty"`
	// SourceChecksum is the checksum of the source file when it was last
	// indexed. A rollback changes Checksum but not SourceChecksum.
	SourceChecksum string `json:"source_checksum,omitempty"`
}

// KnowledgeUsage records that an item was used and how well it worked.
type KnowledgeUsage struct {
	ID            string    `json:"id"`
	ItemID        string    `json:"item_id"`
	PlanID        string    `json:"plan_id,omitempty"`
	ContentType   string    `json:"content_type,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Effectiveness float64   `json:"effectiveness"`
	CreatedAt     time.Time `json:"created_at"`
}
