package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hadron-labs/hypnos/src/memory/model"
)

// Neo4jAccessMode controls whether a session is opened for read or write operations.
type Neo4jAccessMode string

const (
	// AccessModeWrite opens a session with write access.
	AccessModeWrite Neo4jAccessMode = "write"
	// AccessModeRead opens a session with read access.
	AccessModeRead Neo4jAccessMode = "read"
)

// Neo4jSessionConfig mirrors the minimal subset of Neo4j session configuration we require.
type Neo4jSessionConfig struct {
	AccessMode   Neo4jAccessMode
	DatabaseName string
}

// neo4jDriver abstracts the Neo4j driver capabilities used by the store. This allows tests to
// provide lightweight fakes without depending on the real driver package (which is guarded behind
// an optional build tag).
type neo4jDriver interface {
	NewSession(ctx context.Context, config Neo4jSessionConfig) (neo4jSession, error)
	Close(ctx context.Context) error
}

type neo4jSession interface {
	BeginTransaction(ctx context.Context) (neo4jTransaction, error)
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Close(ctx context.Context) error
}

type neo4jTransaction interface {
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

type neo4jResult interface {
	Next(ctx context.Context) bool
	Record() neo4jRecord
	Err() error
	Close(ctx context.Context) error
}

type neo4jRecord interface {
	Get(key string) (any, bool)
}

// Neo4jStore composes an existing MemoryStore with a Neo4j-backed knowledge graph.
//
// Memory rows, embeddings and search stay in the base store; entity, tag and
// evidence-link topology is persisted in Neo4j and hydrated back through the
// base store on neighborhood walks.
type Neo4jStore struct {
	base     MemoryStore
	driver   neo4jDriver
	database string
	nowFn    func() time.Time
}

var (
	_ MemoryStore = (*Neo4jStore)(nil)
	_ GraphStore  = (*Neo4jStore)(nil)
)

// ErrNeo4jUnavailable is returned when graph operations are attempted without a configured driver.
var ErrNeo4jUnavailable = errors.New("neo4j driver not configured")

// NewNeo4jStore constructs a store that delegates memory persistence to base and uses the provided
// Neo4j driver for graph persistence.
func NewNeo4jStore(base MemoryStore, driver neo4jDriver, database string) (*Neo4jStore, error) {
	if base == nil {
		return nil, errors.New("base memory store is nil")
	}
	if driver == nil {
		return nil, errors.New("neo4j driver is nil")
	}
	return &Neo4jStore{base: base, driver: driver, database: database, nowFn: time.Now}, nil
}

// Create stores the memory in the base store and mirrors a Memory node in the graph.
func (s *Neo4jStore) Create(ctx context.Context, mem *model.Memory) error {
	if err := s.base.Create(ctx, mem); err != nil {
		return err
	}
	session, err := s.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, neo4jUpsertMemoryCypher, map[string]any{
		"id":         mem.ID,
		"agent_id":   mem.AgentID,
		"importance": mem.Importance,
		"created_at": mem.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": s.now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("neo4j upsert memory node: %w", err)
	}
	closeResult(ctx, res)
	return nil
}

func (s *Neo4jStore) Get(ctx context.Context, id string) (*model.Memory, error) {
	return s.base.Get(ctx, id)
}

func (s *Neo4jStore) Update(ctx context.Context, mem *model.Memory) error {
	return s.base.Update(ctx, mem)
}

// Delete removes the memories from the base store and detach-deletes their graph nodes.
func (s *Neo4jStore) Delete(ctx context.Context, ids []string) error {
	if err := s.base.Delete(ctx, ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	session, err := s.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, `
MATCH (m:Memory)
WHERE m.id IN $ids
DETACH DELETE m
`, map[string]any{"ids": ids})
	if err != nil {
		return fmt.Errorf("neo4j delete memory nodes: %w", err)
	}
	closeResult(ctx, res)
	return nil
}

func (s *Neo4jStore) SearchSimilar(ctx context.Context, vector []float32, threshold float64, limit int, scope model.Scope) ([]model.Memory, error) {
	return s.base.SearchSimilar(ctx, vector, threshold, limit, scope)
}

func (s *Neo4jStore) SearchLexical(ctx context.Context, text string, limit int, scope model.Scope) ([]model.Memory, error) {
	return s.base.SearchLexical(ctx, text, limit, scope)
}

func (s *Neo4jStore) ListByCategory(ctx context.Context, category model.Category, limit, offset int, scope model.Scope) ([]model.Memory, error) {
	return s.base.ListByCategory(ctx, category, limit, offset, scope)
}

func (s *Neo4jStore) ListByStatus(ctx context.Context, status model.ExtractionStatus, limit int, scope model.Scope) ([]model.Memory, error) {
	return s.base.ListByStatus(ctx, status, limit, scope)
}

func (s *Neo4jStore) SetCore(ctx context.Context, ids []string, core bool) error {
	return s.base.SetCore(ctx, ids, core)
}

func (s *Neo4jStore) MarkInvalidated(ctx context.Context, id string) error {
	return s.base.MarkInvalidated(ctx, id)
}

func (s *Neo4jStore) IncrementReference(ctx context.Context, ids []string) error {
	return s.base.IncrementReference(ctx, ids)
}

// Stats merges base-store memory counts with graph-side entity and tag counts.
func (s *Neo4jStore) Stats(ctx context.Context, scope model.Scope) (model.StoreStats, error) {
	stats, err := s.base.Stats(ctx, scope)
	if err != nil {
		return stats, err
	}
	session, err := s.readSession(ctx)
	if err != nil {
		return stats, err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, neo4jStatsCypher, map[string]any{"agent_id": scope.AgentID})
	if err != nil {
		return stats, fmt.Errorf("neo4j stats: %w", err)
	}
	defer res.Close(ctx)
	if res.Next(ctx) {
		rec := res.Record()
		if v, ok := rec.Get("entities"); ok {
			stats.Entities = int(toInt64(v))
		}
		if v, ok := rec.Get("tags"); ok {
			stats.Tags = int(toInt64(v))
		}
	}
	return stats, res.Err()
}

func (s *Neo4jStore) Iterate(ctx context.Context, scope model.Scope, fn func(model.Memory) bool) error {
	return s.base.Iterate(ctx, scope, fn)
}

func (s *Neo4jStore) Count(ctx context.Context, scope model.Scope) (int, error) {
	return s.base.Count(ctx, scope)
}

func (s *Neo4jStore) Reindex(ctx context.Context, batchSize int, embedFn BatchEmbedFunc) (int, error) {
	return s.base.Reindex(ctx, batchSize, embedFn)
}

// --- GraphStore ---

// UpsertEntities merges Entity and Tag nodes and links them to the memory node.
func (s *Neo4jStore) UpsertEntities(ctx context.Context, memoryID string, entities []model.Entity, tags []string) error {
	if s.driver == nil {
		return ErrNeo4jUnavailable
	}
	mem, err := s.base.Get(ctx, memoryID)
	if err != nil {
		return err
	}
	session, err := s.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("neo4j begin tx: %w", err)
	}
	defer tx.Close(ctx)
	now := s.now().Format(time.RFC3339Nano)
	for _, ent := range entities {
		name := model.NormalizeEntityName(ent.Name)
		if name == "" {
			continue
		}
		res, runErr := tx.Run(ctx, neo4jMentionCypher, map[string]any{
			"memory_id":  memoryID,
			"name":       name,
			"kind":       ent.Kind,
			"agent_id":   mem.AgentID,
			"created_at": now,
		})
		if runErr != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("neo4j upsert entity %q: %w", name, runErr)
		}
		closeResult(ctx, res)
	}
	for _, tag := range tags {
		name := model.NormalizeEntityName(tag)
		if name == "" {
			continue
		}
		res, runErr := tx.Run(ctx, neo4jTagCypher, map[string]any{
			"memory_id":  memoryID,
			"name":       name,
			"agent_id":   mem.AgentID,
			"created_at": now,
		})
		if runErr != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("neo4j upsert tag %q: %w", name, runErr)
		}
		closeResult(ctx, res)
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("neo4j commit: %w", err)
	}
	return nil
}

// MergeInto re-points the loser's graph edges at the survivor, removes the
// loser node, and deletes the loser row from the base store.
func (s *Neo4jStore) MergeInto(ctx context.Context, loserID, survivorID string) error {
	if s.driver == nil {
		return ErrNeo4jUnavailable
	}
	if _, err := s.base.Get(ctx, survivorID); err != nil {
		return err
	}
	session, err := s.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, neo4jMergeCypher, map[string]any{
		"loser":    loserID,
		"survivor": survivorID,
	})
	if err != nil {
		return fmt.Errorf("neo4j merge nodes: %w", err)
	}
	closeResult(ctx, res)
	return s.base.Delete(ctx, []string{loserID})
}

func (s *Neo4jStore) LinkSimilar(ctx context.Context, a, b string) error {
	return s.link(ctx, a, b, "SIMILAR_TO")
}

func (s *Neo4jStore) LinkConflict(ctx context.Context, a, b string) error {
	return s.link(ctx, a, b, "CONFLICTS_WITH")
}

func (s *Neo4jStore) link(ctx context.Context, a, b, relType string) error {
	if s.driver == nil {
		return ErrNeo4jUnavailable
	}
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return errors.New("edge endpoint is empty")
	}
	session, err := s.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	query := fmt.Sprintf(`
MERGE (a:Memory {id: $a})
MERGE (b:Memory {id: $b})
MERGE (a)-[r:%s]->(b)
SET r.updated_at = $updated_at
`, relType)
	res, err := session.Run(ctx, query, map[string]any{
		"a":          a,
		"b":          b,
		"updated_at": s.now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("neo4j link %s: %w", relType, err)
	}
	closeResult(ctx, res)
	return nil
}

// Neighborhood walks the graph from the seeds and hydrates the discovered ids
// from the base store so callers always see full memory rows.
func (s *Neo4jStore) Neighborhood(ctx context.Context, seedIDs []string, hops, limit int) ([]model.Memory, error) {
	if s.driver == nil {
		return nil, ErrNeo4jUnavailable
	}
	if len(seedIDs) == 0 || hops <= 0 || limit <= 0 {
		return nil, nil
	}
	session, err := s.readSession(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)
	// A memory-to-memory step through a shared entity or tag spans two
	// relationships, so the traversal bound is doubled.
	result, err := session.Run(ctx, neo4jNeighborhoodCypher, map[string]any{
		"seed_ids": seedIDs,
		"hops":     hops * 2,
		"limit":    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j neighborhood: %w", err)
	}
	defer result.Close(ctx)
	ids := make([]string, 0, limit)
	for result.Next(ctx) {
		rec := result.Record()
		if rec == nil {
			continue
		}
		if v, ok := rec.Get("id"); ok {
			if id := strings.TrimSpace(toString(v)); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	neighbors := make([]model.Memory, 0, len(ids))
	for _, id := range ids {
		mem, err := s.base.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		neighbors = append(neighbors, *mem)
	}
	sortByImportanceRecency(neighbors)
	if len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors, nil
}

// RemoveOrphans deletes Entity and Tag nodes that no memory points at anymore.
func (s *Neo4jStore) RemoveOrphans(ctx context.Context, scope model.Scope) (int, int, error) {
	if s.driver == nil {
		return 0, 0, ErrNeo4jUnavailable
	}
	session, err := s.writeSession(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, neo4jOrphanCypher, map[string]any{"agent_id": scope.AgentID})
	if err != nil {
		return 0, 0, fmt.Errorf("neo4j remove orphans: %w", err)
	}
	defer res.Close(ctx)
	var entities, tags int64
	if res.Next(ctx) {
		rec := res.Record()
		if v, ok := rec.Get("entities"); ok {
			entities = toInt64(v)
		}
		if v, ok := rec.Get("tags"); ok {
			tags = toInt64(v)
		}
	}
	return int(entities), int(tags), res.Err()
}

// CreateSchema delegates to the base store if it exposes SchemaInitializer and ensures Neo4j graph
// constraints are present.
func (s *Neo4jStore) CreateSchema(ctx context.Context) error {
	if initializer, ok := s.base.(SchemaInitializer); ok {
		if err := initializer.CreateSchema(ctx); err != nil {
			return err
		}
	}
	if s.driver == nil {
		return nil
	}
	session, err := s.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	queries := []string{
		"CREATE CONSTRAINT IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE",
		"CREATE CONSTRAINT IF NOT EXISTS FOR (e:Entity) REQUIRE (e.name, e.agent_id) IS UNIQUE",
		"CREATE CONSTRAINT IF NOT EXISTS FOR (t:Tag) REQUIRE (t.name, t.agent_id) IS UNIQUE",
		"CREATE INDEX IF NOT EXISTS FOR (m:Memory) ON (m.agent_id)",
	}
	for _, query := range queries {
		res, runErr := session.Run(ctx, query, nil)
		if runErr != nil {
			return fmt.Errorf("neo4j schema query: %w", runErr)
		}
		closeResult(ctx, res)
	}
	return nil
}

// Close releases both the base store (when it implements Close) and the Neo4j driver.
func (s *Neo4jStore) Close() error {
	var errs []string
	if closer, ok := s.base.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if s.driver != nil {
		if err := s.driver.Close(context.Background()); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (s *Neo4jStore) writeSession(ctx context.Context) (neo4jSession, error) {
	return s.newSession(ctx, AccessModeWrite)
}

func (s *Neo4jStore) readSession(ctx context.Context) (neo4jSession, error) {
	return s.newSession(ctx, AccessModeRead)
}

func (s *Neo4jStore) newSession(ctx context.Context, mode Neo4jAccessMode) (neo4jSession, error) {
	if s.driver == nil {
		return nil, ErrNeo4jUnavailable
	}
	session, err := s.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: mode, DatabaseName: s.database})
	if err != nil {
		return nil, fmt.Errorf("neo4j new session: %w", err)
	}
	return session, nil
}

func (s *Neo4jStore) now() time.Time {
	if s == nil || s.nowFn == nil {
		return time.Now().UTC()
	}
	return s.nowFn().UTC()
}

func closeResult(ctx context.Context, res neo4jResult) {
	if res != nil {
		_ = res.Close(ctx)
	}
}

const (
	neo4jUpsertMemoryCypher = `
MERGE (m:Memory {id: $id})
ON CREATE SET m.created_at = $created_at
SET m.agent_id = $agent_id,
    m.importance = $importance,
    m.updated_at = $updated_at
`
	neo4jMentionCypher = `
MERGE (m:Memory {id: $memory_id})
MERGE (e:Entity {name: $name, agent_id: $agent_id})
ON CREATE SET e.kind = $kind, e.created_at = $created_at
SET e.kind = CASE WHEN e.kind = '' OR e.kind IS NULL THEN $kind ELSE e.kind END
MERGE (m)-[:MENTIONS]->(e)
`
	neo4jTagCypher = `
MERGE (m:Memory {id: $memory_id})
MERGE (t:Tag {name: $name, agent_id: $agent_id})
ON CREATE SET t.created_at = $created_at
MERGE (m)-[:TAGGED]->(t)
`
	neo4jMergeCypher = `
MATCH (loser:Memory {id: $loser})
MERGE (survivor:Memory {id: $survivor})
WITH loser, survivor
OPTIONAL MATCH (loser)-[:MENTIONS]->(e:Entity)
FOREACH (_ IN CASE WHEN e IS NULL THEN [] ELSE [1] END |
        MERGE (survivor)-[:MENTIONS]->(e))
WITH DISTINCT loser, survivor
OPTIONAL MATCH (loser)-[:TAGGED]->(t:Tag)
FOREACH (_ IN CASE WHEN t IS NULL THEN [] ELSE [1] END |
        MERGE (survivor)-[:TAGGED]->(t))
WITH DISTINCT loser
DETACH DELETE loser
`
	neo4jNeighborhoodCypher = `
UNWIND $seed_ids AS seed
MATCH (start:Memory {id: seed})
MATCH path=(start)-[:MENTIONS|TAGGED|SIMILAR_TO*1..$hops]-(neighbor:Memory)
WHERE NOT neighbor.id IN $seed_ids
WITH neighbor, MIN(length(path)) AS depth
RETURN neighbor.id AS id
ORDER BY depth ASC, neighbor.importance DESC
LIMIT $limit
`
	neo4jStatsCypher = `
OPTIONAL MATCH (e:Entity)
WHERE $agent_id = '' OR e.agent_id = $agent_id
WITH COUNT(e) AS entities
OPTIONAL MATCH (t:Tag)
WHERE $agent_id = '' OR t.agent_id = $agent_id
RETURN entities, COUNT(t) AS tags
`
	neo4jOrphanCypher = `
OPTIONAL MATCH (e:Entity)
WHERE NOT (e)<-[:MENTIONS]-(:Memory)
  AND ($agent_id = '' OR e.agent_id = $agent_id)
WITH COLLECT(e) AS orphanEntities
OPTIONAL MATCH (t:Tag)
WHERE NOT (t)<-[:TAGGED]-(:Memory)
  AND ($agent_id = '' OR t.agent_id = $agent_id)
WITH orphanEntities, COLLECT(t) AS orphanTags
FOREACH (e IN orphanEntities | DETACH DELETE e)
FOREACH (t IN orphanTags | DETACH DELETE t)
RETURN SIZE(orphanEntities) AS entities, SIZE(orphanTags) AS tags
`
)

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprintf("%v", v)
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case float32:
		return int64(t)
	case float64:
		return int64(t)
	}
	return 0
}
