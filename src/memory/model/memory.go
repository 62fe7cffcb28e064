package model

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies what kind of knowledge a memory holds.
type Category string

const (
	CategoryPreference   Category = "preference"
	CategoryFact         Category = "fact"
	CategoryDecision     Category = "decision"
	CategoryTask         Category = "task"
	CategoryRelationship Category = "relationship"
	CategorySkill        Category = "skill"
	CategoryEvent        Category = "event"
	CategoryOther        Category = "other"
)

var validCategories = map[Category]struct{}{
	CategoryPreference:   {},
	CategoryFact:         {},
	CategoryDecision:     {},
	CategoryTask:         {},
	CategoryRelationship: {},
	CategorySkill:        {},
	CategoryEvent:        {},
	CategoryOther:        {},
}

// NormalizeCategory coerces arbitrary input into a member of the category
// enum, falling back to CategoryOther.
func NormalizeCategory(raw string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := validCategories[c]; ok {
		return c
	}
	return CategoryOther
}

// ExtractionStatus tracks whether the entity-extraction phase has processed a memory.
type ExtractionStatus string

const (
	ExtractionPending   ExtractionStatus = "pending"
	ExtractionCompleted ExtractionStatus = "completed"
	ExtractionFailed    ExtractionStatus = "failed"
	ExtractionSkipped   ExtractionStatus = "skipped"
)

// Well-known memory sources. Anything else is treated as a system tag.
const (
	SourceUser          = "user"
	SourceAutoCapture   = "auto-capture"
	SourceAutoAssistant = "auto-capture-assistant"
)

// Memory is a remembered fact or statement persisted in the backing store.
type Memory struct {
	ID             string           `json:"id"`
	Content        string           `json:"content"`
	Embedding      []float32        `json:"embedding,omitempty"`
	Importance     float64          `json:"importance"`
	Category       Category         `json:"category"`
	Source         string           `json:"source"`
	Status         ExtractionStatus `json:"extraction_status"`
	IsCore         bool             `json:"is_core"`
	Invalidated    bool             `json:"invalidated,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	AgentID        string           `json:"agent_id"`
	SessionKey     string           `json:"session_key,omitempty"`
	ParetoScore    float64          `json:"pareto_score,omitempty"`
	DecayScore     float64          `json:"decay_score,omitempty"`
	ReferenceCount int              `json:"reference_count,omitempty"`

	// Score carries the retrieval score of the most recent search that
	// returned this memory. It is never persisted.
	Score float64 `json:"score,omitempty"`
}

// Clamp01 bounds a score into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Validate checks the invariants every stored memory must satisfy.
func (m *Memory) Validate(dimension int) error {
	if m == nil {
		return fmt.Errorf("memory is nil")
	}
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("memory id is empty")
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("memory %s has empty content", m.ID)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return fmt.Errorf("memory %s importance %f out of range", m.ID, m.Importance)
	}
	if _, ok := validCategories[m.Category]; !ok {
		return fmt.Errorf("memory %s has unknown category %q", m.ID, m.Category)
	}
	if dimension > 0 && len(m.Embedding) > 0 && len(m.Embedding) != dimension {
		return fmt.Errorf("memory %s embedding has %d dimensions, store expects %d", m.ID, len(m.Embedding), dimension)
	}
	return nil
}

// Searchable reports whether the memory can participate in vector similarity
// search against the given dimension.
func (m *Memory) Searchable(dimension int) bool {
	if m == nil || len(m.Embedding) == 0 {
		return false
	}
	return dimension <= 0 || len(m.Embedding) == dimension
}

// Scope restricts store operations to one agent and, optionally, one session.
// A zero Scope matches everything.
type Scope struct {
	AgentID    string
	SessionKey string
}

// Matches reports whether the memory falls inside the scope.
func (s Scope) Matches(m *Memory) bool {
	if m == nil {
		return false
	}
	if s.AgentID != "" && m.AgentID != s.AgentID {
		return false
	}
	if s.SessionKey != "" && m.SessionKey != s.SessionKey {
		return false
	}
	return true
}

// All reports whether the scope is unrestricted.
func (s Scope) All() bool { return s.AgentID == "" && s.SessionKey == "" }

// StoreStats aggregates per-scope counts reported by a store.
type StoreStats struct {
	Total      int              `json:"total"`
	Core       int              `json:"core"`
	Pending    int              `json:"pending"`
	ByCategory map[Category]int `json:"by_category"`
	Entities   int              `json:"entities"`
	Tags       int              `json:"tags"`
}
