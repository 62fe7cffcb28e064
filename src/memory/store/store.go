package store

import (
	"context"

	"github.com/hadron-labs/hypnos/src/memory/model"
)

// BatchEmbedFunc re-embeds a batch of texts during reindexing. Results come
// back in input order; a failed item is an empty vector.
type BatchEmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// MemoryStore defines the contract every long-term memory backend satisfies.
// The engine assumes atomic per-node upsert and treats every method as
// scope-aware: a zero scope matches all agents.
type MemoryStore interface {
	Create(ctx context.Context, mem *model.Memory) error
	Get(ctx context.Context, id string) (*model.Memory, error)
	Update(ctx context.Context, mem *model.Memory) error
	Delete(ctx context.Context, ids []string) error

	// SearchSimilar returns memories whose cosine similarity against vector
	// is >= threshold, best first, at most limit.
	SearchSimilar(ctx context.Context, vector []float32, threshold float64, limit int, scope model.Scope) ([]model.Memory, error)
	// SearchLexical ranks memories by keyword relevance against text.
	SearchLexical(ctx context.Context, text string, limit int, scope model.Scope) ([]model.Memory, error)

	ListByCategory(ctx context.Context, category model.Category, limit, offset int, scope model.Scope) ([]model.Memory, error)
	ListByStatus(ctx context.Context, status model.ExtractionStatus, limit int, scope model.Scope) ([]model.Memory, error)

	SetCore(ctx context.Context, ids []string, core bool) error
	MarkInvalidated(ctx context.Context, id string) error
	// IncrementReference bumps the retrieval-hit counter feeding the
	// effective score.
	IncrementReference(ctx context.Context, ids []string) error

	Stats(ctx context.Context, scope model.Scope) (model.StoreStats, error)
	Iterate(ctx context.Context, scope model.Scope, fn func(model.Memory) bool) error
	Count(ctx context.Context, scope model.Scope) (int, error)

	// Reindex re-embeds every memory in batches using embedFn and returns
	// how many embeddings were replaced.
	Reindex(ctx context.Context, batchSize int, embedFn BatchEmbedFunc) (int, error)
}

// GraphStore is implemented by backends that maintain the knowledge graph of
// entities, tags and memory-to-memory evidence edges. Edge merges are
// idempotent.
type GraphStore interface {
	// UpsertEntities merges entity/tag nodes and their mention/tagged edges
	// for one memory.
	UpsertEntities(ctx context.Context, memoryID string, entities []model.Entity, tags []string) error
	// MergeInto re-points the loser's incoming mention/tag edges at the
	// survivor and deletes the loser. Used by dedup.
	MergeInto(ctx context.Context, loserID, survivorID string) error
	LinkSimilar(ctx context.Context, a, b string) error
	LinkConflict(ctx context.Context, a, b string) error
	// Neighborhood expands from seed memories through shared entities and
	// tags up to hops, returning at most limit neighbor memories.
	Neighborhood(ctx context.Context, seedIDs []string, hops, limit int) ([]model.Memory, error)
	// RemoveOrphans deletes entity and tag nodes with zero incoming edges.
	RemoveOrphans(ctx context.Context, scope model.Scope) (entities int, tags int, err error)
}

// SchemaInitializer allows stores to expose optional schema/bootstrap routines.
type SchemaInitializer interface {
	CreateSchema(ctx context.Context) error
}

// RawQuerier is the escape hatch for maintenance tooling.
type RawQuerier interface {
	Raw(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}
