package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EdgeType enumerates the relationship kinds the engine asks the store to maintain.
type EdgeType string

const (
	// EdgeMentions links a memory to an entity it names.
	EdgeMentions EdgeType = "mentions"
	// EdgeTagged links a memory to a topical tag.
	EdgeTagged EdgeType = "tagged"
	// EdgeSimilarTo records dedup evidence between two memories.
	EdgeSimilarTo EdgeType = "similar_to"
	// EdgeConflictsWith records contradiction evidence between two memories.
	EdgeConflictsWith EdgeType = "conflicts_with"
)

var validEdgeTypes = map[EdgeType]struct{}{
	EdgeMentions:      {},
	EdgeTagged:        {},
	EdgeSimilarTo:     {},
	EdgeConflictsWith: {},
}

// Edge is a typed, directed connection owned by the store.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Type EdgeType `json:"type"`
}

// Validate ensures the edge definition is usable.
func (e Edge) Validate() error {
	if strings.TrimSpace(e.From) == "" || strings.TrimSpace(e.To) == "" {
		return errors.New("edge endpoint is empty")
	}
	if _, ok := validEdgeTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported edge type %q", e.Type)
	}
	return nil
}

// Entity is a named thing mentioned by one or more memories. It is created
// only during the extraction phase and owned by its incoming mention edges;
// orphan cleanup removes it once no memory mentions it.
type Entity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind,omitempty"` // person, place, system, ...
	AgentID   string    `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Tag is a topical label with the same ownership shape as Entity.
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AgentID   string    `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeEntityName canonicalizes entity and tag names so repeated
// extractions merge instead of multiplying nodes.
func NormalizeEntityName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
