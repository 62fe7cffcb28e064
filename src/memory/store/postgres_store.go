package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"

	"github.com/hadron-labs/hypnos/src/memory/model"
)

// PostgresStore implements MemoryStore and GraphStore on Postgres + pgvector.
type PostgresStore struct {
	DB *pgxpool.Pool
	// SchemaPath overrides the built-in schema when CreateSchema runs.
	SchemaPath string
}

var (
	_ MemoryStore       = (*PostgresStore)(nil)
	_ GraphStore        = (*PostgresStore)(nil)
	_ SchemaInitializer = (*PostgresStore)(nil)
	_ RawQuerier        = (*PostgresStore)(nil)
)

// NewPostgresStore connects to Postgres and returns a Postgres-backed store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return &PostgresStore{DB: db}, nil
}

const memoryColumns = `id, content, embedding::text, importance, category, source, status, is_core, invalidated, created_at, agent_id, session_key, pareto_score, decay_score, reference_count`

func (ps *PostgresStore) Create(ctx context.Context, mem *model.Memory) error {
	if ps == nil || ps.DB == nil || mem == nil {
		return errors.New("postgres store is not initialized")
	}
	if mem.ID == "" {
		mem.ID = uuid.NewString()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	if mem.Category == "" {
		mem.Category = model.CategoryOther
	}
	if err := mem.Validate(0); err != nil {
		return err
	}
	_, err := ps.DB.Exec(ctx, `
                INSERT INTO memories (id, content, embedding, importance, category, source, status, is_core, invalidated, created_at, agent_id, session_key, pareto_score, decay_score, reference_count)
                VALUES ($1, $2, $3::vector, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        `, mem.ID, mem.Content, vectorParam(mem.Embedding), mem.Importance, string(mem.Category), mem.Source,
		string(mem.Status), mem.IsCore, mem.Invalidated, mem.CreatedAt, mem.AgentID, mem.SessionKey,
		mem.ParetoScore, mem.DecayScore, mem.ReferenceCount)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Get(ctx context.Context, id string) (*model.Memory, error) {
	if ps == nil || ps.DB == nil {
		return nil, errors.New("postgres store is not initialized")
	}
	row := ps.DB.QueryRow(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id)
	mem, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return mem, nil
}

func (ps *PostgresStore) Update(ctx context.Context, mem *model.Memory) error {
	if ps == nil || ps.DB == nil || mem == nil {
		return errors.New("postgres store is not initialized")
	}
	if err := mem.Validate(0); err != nil {
		return err
	}
	tag, err := ps.DB.Exec(ctx, `
                UPDATE memories
                SET content = $2, embedding = $3::vector, importance = $4, category = $5, source = $6,
                    status = $7, is_core = $8, invalidated = $9, session_key = $10,
                    pareto_score = $11, decay_score = $12, reference_count = $13
                WHERE id = $1
        `, mem.ID, mem.Content, vectorParam(mem.Embedding), mem.Importance, string(mem.Category), mem.Source,
		string(mem.Status), mem.IsCore, mem.Invalidated, mem.SessionKey,
		mem.ParetoScore, mem.DecayScore, mem.ReferenceCount)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (ps *PostgresStore) Delete(ctx context.Context, ids []string) error {
	if ps == nil || ps.DB == nil || len(ids) == 0 {
		return nil
	}
	_, err := ps.DB.Exec(ctx, `DELETE FROM memories WHERE id = ANY($1)`, ids)
	return err
}

func (ps *PostgresStore) SearchSimilar(ctx context.Context, vector []float32, threshold float64, limit int, scope model.Scope) ([]model.Memory, error) {
	if ps == nil || ps.DB == nil || limit <= 0 {
		return nil, nil
	}
	where, args := scopeClause(scope, 3)
	query := `
        SELECT ` + memoryColumns + `, 1 - (embedding <=> $1::vector) AS score
        FROM memories
        WHERE embedding IS NOT NULL AND 1 - (embedding <=> $1::vector) >= $2` + where + `
        ORDER BY embedding <=> $1::vector
        LIMIT ` + strconv.Itoa(limit)
	all := append([]any{vectorParam(vector), threshold}, args...)
	rows, err := ps.DB.Query(ctx, query, all...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows, true)
}

func (ps *PostgresStore) SearchLexical(ctx context.Context, text string, limit int, scope model.Scope) ([]model.Memory, error) {
	if ps == nil || ps.DB == nil || limit <= 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	where, args := scopeClause(scope, 2)
	query := `
        SELECT ` + memoryColumns + `, ts_rank(content_tsv, plainto_tsquery('english', $1)) AS score
        FROM memories
        WHERE content_tsv @@ plainto_tsquery('english', $1)` + where + `
        ORDER BY score DESC
        LIMIT ` + strconv.Itoa(limit)
	all := append([]any{text}, args...)
	rows, err := ps.DB.Query(ctx, query, all...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows, true)
}

func (ps *PostgresStore) ListByCategory(ctx context.Context, category model.Category, limit, offset int, scope model.Scope) ([]model.Memory, error) {
	if ps == nil || ps.DB == nil {
		return nil, nil
	}
	where, args := scopeClause(scope, 2)
	query := `
        SELECT ` + memoryColumns + `
        FROM memories
        WHERE category = $1` + where + `
        ORDER BY created_at ASC, id ASC
        LIMIT ` + strconv.Itoa(limit) + ` OFFSET ` + strconv.Itoa(offset)
	all := append([]any{string(category)}, args...)
	rows, err := ps.DB.Query(ctx, query, all...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemories(rows, false)
}

func (ps *PostgresStore) ListByStatus(ctx context.Context, status model.ExtractionStatus, limit int, scope model.Scope) ([]model.Memory, error) {
	if ps == nil || ps.DB == nil {
		return nil, nil
	}
	where, args := scopeClause(scope, 2)
	query := `
        SELECT ` + memoryColumns + `
        FROM memories
        WHERE status = $1` + where + `
        ORDER BY created_at ASC, id ASC
        LIMIT ` + strconv.Itoa(limit)
	all := append([]any{string(status)}, args...)
	rows, err := ps.DB.Query(ctx, query, all...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemories(rows, false)
}

func (ps *PostgresStore) SetCore(ctx context.Context, ids []string, core bool) error {
	if ps == nil || ps.DB == nil || len(ids) == 0 {
		return nil
	}
	_, err := ps.DB.Exec(ctx, `UPDATE memories SET is_core = $2 WHERE id = ANY($1)`, ids, core)
	return err
}

func (ps *PostgresStore) MarkInvalidated(ctx context.Context, id string) error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	tag, err := ps.DB.Exec(ctx, `UPDATE memories SET invalidated = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (ps *PostgresStore) IncrementReference(ctx context.Context, ids []string) error {
	if ps == nil || ps.DB == nil || len(ids) == 0 {
		return nil
	}
	_, err := ps.DB.Exec(ctx, `UPDATE memories SET reference_count = reference_count + 1 WHERE id = ANY($1)`, ids)
	return err
}

func (ps *PostgresStore) Stats(ctx context.Context, scope model.Scope) (model.StoreStats, error) {
	stats := model.StoreStats{ByCategory: make(map[model.Category]int)}
	if ps == nil || ps.DB == nil {
		return stats, nil
	}
	where, args := scopeClause(scope, 1)
	where = strings.TrimPrefix(where, " AND")
	if where == "" {
		where = " TRUE"
	}
	rows, err := ps.DB.Query(ctx, `
        SELECT category, COUNT(*), COUNT(*) FILTER (WHERE is_core), COUNT(*) FILTER (WHERE status = 'pending')
        FROM memories
        WHERE`+where+`
        GROUP BY category
        `, args...)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var total, core, pending int
		if err := rows.Scan(&category, &total, &core, &pending); err != nil {
			return stats, err
		}
		stats.ByCategory[model.Category(category)] = total
		stats.Total += total
		stats.Core += core
		stats.Pending += pending
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	entityWhere := ""
	var entityArgs []any
	if scope.AgentID != "" {
		entityWhere = ` WHERE agent_id = $1`
		entityArgs = append(entityArgs, scope.AgentID)
	}
	if err := ps.DB.QueryRow(ctx, `SELECT COUNT(*) FROM entities`+entityWhere, entityArgs...).Scan(&stats.Entities); err != nil {
		return stats, err
	}
	if err := ps.DB.QueryRow(ctx, `SELECT COUNT(*) FROM tags`+entityWhere, entityArgs...).Scan(&stats.Tags); err != nil {
		return stats, err
	}
	return stats, nil
}

func (ps *PostgresStore) Iterate(ctx context.Context, scope model.Scope, fn func(model.Memory) bool) error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	where, args := scopeClause(scope, 1)
	where = strings.TrimPrefix(where, " AND")
	if where == "" {
		where = " TRUE"
	}
	rows, err := ps.DB.Query(ctx, `
        SELECT `+memoryColumns+`
        FROM memories
        WHERE`+where+`
        ORDER BY created_at ASC, id ASC
        `, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return err
		}
		if !fn(*mem) {
			break
		}
	}
	return rows.Err()
}

func (ps *PostgresStore) Count(ctx context.Context, scope model.Scope) (int, error) {
	if ps == nil || ps.DB == nil {
		return 0, nil
	}
	where, args := scopeClause(scope, 1)
	where = strings.TrimPrefix(where, " AND")
	if where == "" {
		where = " TRUE"
	}
	var count int
	err := ps.DB.QueryRow(ctx, `SELECT COUNT(*) FROM memories WHERE`+where, args...).Scan(&count)
	return count, err
}

func (ps *PostgresStore) Reindex(ctx context.Context, batchSize int, embedFn BatchEmbedFunc) (int, error) {
	if ps == nil || ps.DB == nil {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	updated := 0
	for {
		rows, err := ps.DB.Query(ctx, `
                SELECT id, content FROM memories
                WHERE embedding IS NULL
                ORDER BY created_at ASC
                LIMIT $1
                `, batchSize)
		if err != nil {
			return updated, err
		}
		var ids []string
		var texts []string
		for rows.Next() {
			var id, content string
			if err := rows.Scan(&id, &content); err != nil {
				rows.Close()
				return updated, err
			}
			ids = append(ids, id)
			texts = append(texts, content)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return updated, err
		}
		if len(ids) == 0 {
			return updated, nil
		}
		vecs, err := embedFn(ctx, texts)
		if err != nil {
			return updated, fmt.Errorf("reindex batch: %w", err)
		}
		progressed := false
		for i, vec := range vecs {
			if len(vec) == 0 {
				continue
			}
			if _, err := ps.DB.Exec(ctx, `UPDATE memories SET embedding = $2::vector WHERE id = $1`, ids[i], vectorParam(vec)); err != nil {
				return updated, err
			}
			updated++
			progressed = true
		}
		if !progressed {
			// Every item in the batch failed to embed; bail instead of
			// refetching the same rows forever.
			return updated, nil
		}
	}
}

// --- GraphStore ---

func (ps *PostgresStore) UpsertEntities(ctx context.Context, memoryID string, entities []model.Entity, tags []string) error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	var agentID string
	if err := ps.DB.QueryRow(ctx, `SELECT agent_id FROM memories WHERE id = $1`, memoryID).Scan(&agentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	tx, err := ps.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	for _, ent := range entities {
		name := model.NormalizeEntityName(ent.Name)
		if name == "" {
			continue
		}
		var entityID string
		err = tx.QueryRow(ctx, `
                        INSERT INTO entities (id, name, kind, agent_id)
                        VALUES ($1, $2, $3, $4)
                        ON CONFLICT (name, agent_id) DO UPDATE SET kind = COALESCE(NULLIF(entities.kind, ''), EXCLUDED.kind)
                        RETURNING id
                `, uuid.NewString(), name, ent.Kind, agentID).Scan(&entityID)
		if err != nil {
			return fmt.Errorf("upsert entity %q: %w", name, err)
		}
		if _, err = tx.Exec(ctx, `
                        INSERT INTO memory_entities (memory_id, entity_id)
                        VALUES ($1, $2)
                        ON CONFLICT DO NOTHING
                `, memoryID, entityID); err != nil {
			return err
		}
	}
	for _, tag := range tags {
		name := model.NormalizeEntityName(tag)
		if name == "" {
			continue
		}
		var tagID string
		err = tx.QueryRow(ctx, `
                        INSERT INTO tags (id, name, agent_id)
                        VALUES ($1, $2, $3)
                        ON CONFLICT (name, agent_id) DO UPDATE SET name = EXCLUDED.name
                        RETURNING id
                `, uuid.NewString(), name, agentID).Scan(&tagID)
		if err != nil {
			return fmt.Errorf("upsert tag %q: %w", name, err)
		}
		if _, err = tx.Exec(ctx, `
                        INSERT INTO memory_tags (memory_id, tag_id)
                        VALUES ($1, $2)
                        ON CONFLICT DO NOTHING
                `, memoryID, tagID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (ps *PostgresStore) MergeInto(ctx context.Context, loserID, survivorID string) error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	tx, err := ps.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if _, err = tx.Exec(ctx, `
                INSERT INTO memory_entities (memory_id, entity_id)
                SELECT $2, entity_id FROM memory_entities WHERE memory_id = $1
                ON CONFLICT DO NOTHING
        `, loserID, survivorID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `
                INSERT INTO memory_tags (memory_id, tag_id)
                SELECT $2, tag_id FROM memory_tags WHERE memory_id = $1
                ON CONFLICT DO NOTHING
        `, loserID, survivorID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM memories WHERE id = $1`, loserID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (ps *PostgresStore) LinkSimilar(ctx context.Context, a, b string) error {
	return ps.link(ctx, a, b, model.EdgeSimilarTo)
}

func (ps *PostgresStore) LinkConflict(ctx context.Context, a, b string) error {
	return ps.link(ctx, a, b, model.EdgeConflictsWith)
}

func (ps *PostgresStore) link(ctx context.Context, a, b string, kind model.EdgeType) error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	edge := model.Edge{From: a, To: b, Type: kind}
	if err := edge.Validate(); err != nil {
		return err
	}
	_, err := ps.DB.Exec(ctx, `
                INSERT INTO memory_links (from_memory, to_memory, link_type)
                VALUES ($1, $2, $3)
                ON CONFLICT (from_memory, to_memory, link_type) DO NOTHING
        `, a, b, string(kind))
	return err
}

func (ps *PostgresStore) Neighborhood(ctx context.Context, seedIDs []string, hops, limit int) ([]model.Memory, error) {
	if ps == nil || ps.DB == nil || len(seedIDs) == 0 || hops <= 0 || limit <= 0 {
		return nil, nil
	}
	rows, err := ps.DB.Query(ctx, `
WITH adjacency AS (
        SELECT a.memory_id AS src, b.memory_id AS dst
        FROM memory_entities a
        JOIN memory_entities b ON a.entity_id = b.entity_id AND a.memory_id <> b.memory_id
        UNION
        SELECT a.memory_id, b.memory_id
        FROM memory_tags a
        JOIN memory_tags b ON a.tag_id = b.tag_id AND a.memory_id <> b.memory_id
        UNION
        SELECT from_memory, to_memory FROM memory_links WHERE link_type = 'similar_to'
        UNION
        SELECT to_memory, from_memory FROM memory_links WHERE link_type = 'similar_to'
),
walk AS (
        SELECT UNNEST($1::text[]) AS id, 0 AS depth
        UNION ALL
        (
                SELECT adjacency.dst AS id, walk.depth + 1 AS depth
                FROM adjacency
                JOIN walk ON adjacency.src = walk.id
                WHERE walk.depth < $2
                LIMIT 10000
        )
)
SELECT DISTINCT ON (m.id) `+prefixedMemoryColumns("m")+`, walk.depth
FROM walk
JOIN memories m ON m.id = walk.id
WHERE walk.depth > 0 AND m.id <> ALL($1::text[])
ORDER BY m.id, walk.depth ASC
        `, seedIDs, hops)
	if err != nil {
		return nil, fmt.Errorf("neighborhood walk: %w", err)
	}
	defer rows.Close()
	var neighbors []model.Memory
	for rows.Next() {
		var depth int
		mem, err := scanMemoryExtra(rows, &depth)
		if err != nil {
			return nil, err
		}
		neighbors = append(neighbors, *mem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByImportanceRecency(neighbors)
	if len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors, nil
}

func (ps *PostgresStore) RemoveOrphans(ctx context.Context, scope model.Scope) (int, int, error) {
	if ps == nil || ps.DB == nil {
		return 0, 0, nil
	}
	agentFilter := ""
	var args []any
	if scope.AgentID != "" {
		agentFilter = ` AND agent_id = $1`
		args = append(args, scope.AgentID)
	}
	entTag, err := ps.DB.Exec(ctx, `
                DELETE FROM entities
                WHERE id NOT IN (SELECT entity_id FROM memory_entities)`+agentFilter, args...)
	if err != nil {
		return 0, 0, err
	}
	tagTag, err := ps.DB.Exec(ctx, `
                DELETE FROM tags
                WHERE id NOT IN (SELECT tag_id FROM memory_tags)`+agentFilter, args...)
	if err != nil {
		return int(entTag.RowsAffected()), 0, err
	}
	return int(entTag.RowsAffected()), int(tagTag.RowsAffected()), nil
}

// Raw executes an arbitrary query and returns rows as generic maps. Useful
// for operational tooling, never called by the engine itself.
func (ps *PostgresStore) Raw(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	if ps == nil || ps.DB == nil {
		return nil, errors.New("postgres store is not initialized")
	}
	args := pgx.NamedArgs(params)
	rows, err := ps.DB.Query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		record := make(map[string]any, len(fields))
		for i, field := range fields {
			record[string(field.Name)] = values[i]
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// CreateSchema ensures the pgvector extension and all tables exist.
func (ps *PostgresStore) CreateSchema(ctx context.Context) error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	schema := defaultPostgresSchema
	if ps.SchemaPath != "" {
		data, err := os.ReadFile(ps.SchemaPath)
		if err != nil {
			return fmt.Errorf("failed to read schema file: %w", err)
		}
		schema = string(data)
	}
	if _, err := ps.DB.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (ps *PostgresStore) Close() error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	ps.DB.Close()
	return nil
}

const defaultPostgresSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    embedding vector(768),
    importance DOUBLE PRECISION NOT NULL DEFAULT 0,
    category TEXT NOT NULL DEFAULT 'other',
    source TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    is_core BOOLEAN NOT NULL DEFAULT FALSE,
    invalidated BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    agent_id TEXT NOT NULL DEFAULT '',
    session_key TEXT NOT NULL DEFAULT '',
    pareto_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    decay_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    reference_count INTEGER NOT NULL DEFAULT 0,
    content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
);

CREATE INDEX IF NOT EXISTS memories_agent_idx ON memories (agent_id, session_key);
CREATE INDEX IF NOT EXISTS memories_category_idx ON memories (category);
CREATE INDEX IF NOT EXISTS memories_status_idx ON memories (status);
CREATE INDEX IF NOT EXISTS memories_tsv_idx ON memories USING GIN (content_tsv);
CREATE INDEX IF NOT EXISTS memories_embedding_idx ON memories USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT '',
    agent_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (name, agent_id)
);

CREATE TABLE IF NOT EXISTS tags (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    agent_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (name, agent_id)
);

CREATE TABLE IF NOT EXISTS memory_entities (
    memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    PRIMARY KEY (memory_id, entity_id)
);

CREATE TABLE IF NOT EXISTS memory_tags (
    memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    tag_id TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    PRIMARY KEY (memory_id, tag_id)
);

CREATE TABLE IF NOT EXISTS memory_links (
    from_memory TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    to_memory TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    link_type TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (from_memory, to_memory, link_type)
);

CREATE INDEX IF NOT EXISTS memory_links_to_idx ON memory_links (to_memory);
`

// --- row plumbing ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*model.Memory, error) {
	return scanMemoryInternal(row, nil, nil)
}

func scanMemoryExtra(row rowScanner, extra ...any) (*model.Memory, error) {
	return scanMemoryInternal(row, nil, extra)
}

func collectMemories(rows pgx.Rows, withScore bool) ([]model.Memory, error) {
	var out []model.Memory
	for rows.Next() {
		var score float64
		var scorePtr *float64
		if withScore {
			scorePtr = &score
		}
		mem, err := scanMemoryInternal(rows, scorePtr, nil)
		if err != nil {
			return nil, err
		}
		if withScore {
			mem.Score = score
		}
		out = append(out, *mem)
	}
	return out, rows.Err()
}

func scanMemoryInternal(row rowScanner, score *float64, extra []any) (*model.Memory, error) {
	var mem model.Memory
	var embeddingText *string
	var category, status string
	dest := []any{
		&mem.ID, &mem.Content, &embeddingText, &mem.Importance, &category, &mem.Source, &status,
		&mem.IsCore, &mem.Invalidated, &mem.CreatedAt, &mem.AgentID, &mem.SessionKey,
		&mem.ParetoScore, &mem.DecayScore, &mem.ReferenceCount,
	}
	if score != nil {
		dest = append(dest, score)
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	mem.Category = model.Category(category)
	mem.Status = model.ExtractionStatus(status)
	if embeddingText != nil {
		mem.Embedding = parseVector(*embeddingText)
	}
	return &mem, nil
}

func prefixedMemoryColumns(alias string) string {
	cols := strings.Split(memoryColumns, ", ")
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}

// scopeClause renders the scope filter as an AND-prefixed SQL fragment whose
// placeholders start at firstArg.
func scopeClause(scope model.Scope, firstArg int) (string, []any) {
	var sb strings.Builder
	var args []any
	if scope.AgentID != "" {
		fmt.Fprintf(&sb, " AND agent_id = $%d", firstArg+len(args))
		args = append(args, scope.AgentID)
	}
	if scope.SessionKey != "" {
		fmt.Fprintf(&sb, " AND session_key = $%d", firstArg+len(args))
		args = append(args, scope.SessionKey)
	}
	return sb.String(), args
}

func sortByImportanceRecency(records []model.Memory) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Importance != records[j].Importance {
			return records[i].Importance > records[j].Importance
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

func vectorParam(vec []float32) *string {
	if len(vec) == 0 {
		return nil
	}
	data, _ := json.Marshal(vec)
	s := fmt.Sprintf("[%s]", strings.Trim(string(data), "[]"))
	return &s
}

func parseVector(text string) []float32 {
	text = strings.Trim(text, "[]")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			continue
		}
		vec = append(vec, float32(f))
	}
	return vec
}
