package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hadron-labs/hypnos/src/memory/model"
)

// ErrNotFound is returned when a memory id does not exist in the store.
var ErrNotFound = errors.New("memory not found")

// InMemoryStore implements MemoryStore and GraphStore for tests and
// lightweight deployments.
type InMemoryStore struct {
	mu        sync.RWMutex
	memories  map[string]model.Memory
	entities  map[string]model.Entity
	tags      map[string]model.Tag
	mentions  map[string]map[string]struct{} // memory id -> entity ids
	tagged    map[string]map[string]struct{} // memory id -> tag ids
	links     map[string]model.Edge          // keyed from+to+type, idempotent merge
	dimension int
	nowFn     func() time.Time
}

var (
	_ MemoryStore = (*InMemoryStore)(nil)
	_ GraphStore  = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty store expecting vectors of the given
// dimension (0 accepts any).
func NewInMemoryStore(dimension int) *InMemoryStore {
	return &InMemoryStore{
		memories:  make(map[string]model.Memory),
		entities:  make(map[string]model.Entity),
		tags:      make(map[string]model.Tag),
		mentions:  make(map[string]map[string]struct{}),
		tagged:    make(map[string]map[string]struct{}),
		links:     make(map[string]model.Edge),
		dimension: dimension,
		nowFn:     time.Now,
	}
}

// WithClock overrides the clock, used by tests to make timestamps deterministic.
func (s *InMemoryStore) WithClock(nowFn func() time.Time) *InMemoryStore {
	if nowFn != nil {
		s.nowFn = nowFn
	}
	return s
}

func (s *InMemoryStore) Create(_ context.Context, mem *model.Memory) error {
	if mem == nil {
		return errors.New("memory is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if mem.ID == "" {
		mem.ID = uuid.NewString()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = s.nowFn().UTC()
	}
	if mem.Category == "" {
		mem.Category = model.CategoryOther
	}
	mem.Importance = model.Clamp01(mem.Importance)
	if err := mem.Validate(s.dimension); err != nil {
		return err
	}
	if _, exists := s.memories[mem.ID]; exists {
		return fmt.Errorf("memory %s already exists", mem.ID)
	}
	s.memories[mem.ID] = cloneMemory(*mem)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.memories[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneMemory(rec)
	return &cp, nil
}

func (s *InMemoryStore) Update(_ context.Context, mem *model.Memory) error {
	if mem == nil {
		return errors.New("memory is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[mem.ID]; !ok {
		return ErrNotFound
	}
	mem.Importance = model.Clamp01(mem.Importance)
	if err := mem.Validate(s.dimension); err != nil {
		return err
	}
	s.memories[mem.ID] = cloneMemory(*mem)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.deleteLocked(id)
	}
	return nil
}

func (s *InMemoryStore) deleteLocked(id string) {
	delete(s.memories, id)
	delete(s.mentions, id)
	delete(s.tagged, id)
	for key, edge := range s.links {
		if edge.From == id || edge.To == id {
			delete(s.links, key)
		}
	}
}

func (s *InMemoryStore) SearchSimilar(_ context.Context, vector []float32, threshold float64, limit int, scope model.Scope) ([]model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return nil, nil
	}
	scored := make([]model.Memory, 0, limit)
	for _, rec := range s.memories {
		if !scope.Matches(&rec) || !rec.Searchable(s.dimension) {
			continue
		}
		sim := model.CosineSimilarity(vector, rec.Embedding)
		if sim < threshold {
			continue
		}
		cp := cloneMemory(rec)
		cp.Score = sim
		scored = append(scored, cp)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *InMemoryStore) SearchLexical(_ context.Context, text string, limit int, scope model.Scope) ([]model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return nil, nil
	}
	queryTokens := tokenize(text)
	if len(queryTokens) == 0 {
		return nil, nil
	}
	scored := make([]model.Memory, 0, limit)
	for _, rec := range s.memories {
		if !scope.Matches(&rec) {
			continue
		}
		score := lexicalScore(queryTokens, tokenize(rec.Content))
		if score <= 0 {
			continue
		}
		cp := cloneMemory(rec)
		cp.Score = score
		scored = append(scored, cp)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *InMemoryStore) ListByCategory(_ context.Context, category model.Category, limit, offset int, scope model.Scope) ([]model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.sortedLocked(func(m *model.Memory) bool {
		return scope.Matches(m) && m.Category == category
	})
	return window(matched, limit, offset), nil
}

func (s *InMemoryStore) ListByStatus(_ context.Context, status model.ExtractionStatus, limit int, scope model.Scope) ([]model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.sortedLocked(func(m *model.Memory) bool {
		return scope.Matches(m) && m.Status == status
	})
	return window(matched, limit, 0), nil
}

func (s *InMemoryStore) SetCore(_ context.Context, ids []string, core bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		rec, ok := s.memories[id]
		if !ok {
			continue
		}
		rec.IsCore = core
		s.memories[id] = rec
	}
	return nil
}

func (s *InMemoryStore) MarkInvalidated(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.memories[id]
	if !ok {
		return ErrNotFound
	}
	rec.Invalidated = true
	s.memories[id] = rec
	return nil
}

func (s *InMemoryStore) IncrementReference(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		rec, ok := s.memories[id]
		if !ok {
			continue
		}
		rec.ReferenceCount++
		s.memories[id] = rec
	}
	return nil
}

func (s *InMemoryStore) Stats(_ context.Context, scope model.Scope) (model.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := model.StoreStats{ByCategory: make(map[model.Category]int)}
	for _, rec := range s.memories {
		if !scope.Matches(&rec) {
			continue
		}
		stats.Total++
		if rec.IsCore {
			stats.Core++
		}
		if rec.Status == model.ExtractionPending {
			stats.Pending++
		}
		stats.ByCategory[rec.Category]++
	}
	for _, ent := range s.entities {
		if scope.AgentID == "" || ent.AgentID == scope.AgentID {
			stats.Entities++
		}
	}
	for _, tag := range s.tags {
		if scope.AgentID == "" || tag.AgentID == scope.AgentID {
			stats.Tags++
		}
	}
	return stats, nil
}

func (s *InMemoryStore) Iterate(_ context.Context, scope model.Scope, fn func(model.Memory) bool) error {
	s.mu.RLock()
	matched := s.sortedLocked(func(m *model.Memory) bool { return scope.Matches(m) })
	s.mu.RUnlock()
	for _, rec := range matched {
		if !fn(rec) {
			break
		}
	}
	return nil
}

func (s *InMemoryStore) Count(_ context.Context, scope model.Scope) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.memories {
		if scope.Matches(&rec) {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) Reindex(ctx context.Context, batchSize int, embedFn BatchEmbedFunc) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.memories))
	texts := make([]string, 0, len(s.memories))
	for id, rec := range s.memories {
		ids = append(ids, id)
		texts = append(texts, rec.Content)
	}
	s.mu.RUnlock()

	updated := 0
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		vecs, err := embedFn(ctx, texts[start:end])
		if err != nil {
			return updated, fmt.Errorf("reindex batch: %w", err)
		}
		s.mu.Lock()
		for i, vec := range vecs {
			if len(vec) == 0 {
				continue
			}
			rec, ok := s.memories[ids[start+i]]
			if !ok {
				continue
			}
			rec.Embedding = append([]float32(nil), vec...)
			s.memories[rec.ID] = rec
			updated++
		}
		s.mu.Unlock()
	}
	return updated, nil
}

// --- GraphStore ---

func (s *InMemoryStore) UpsertEntities(_ context.Context, memoryID string, entities []model.Entity, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.memories[memoryID]
	if !ok {
		return ErrNotFound
	}
	now := s.nowFn().UTC()
	for _, ent := range entities {
		name := model.NormalizeEntityName(ent.Name)
		if name == "" {
			continue
		}
		id := s.findEntityLocked(name, rec.AgentID)
		if id == "" {
			id = uuid.NewString()
			s.entities[id] = model.Entity{ID: id, Name: name, Kind: ent.Kind, AgentID: rec.AgentID, CreatedAt: now}
		}
		if s.mentions[memoryID] == nil {
			s.mentions[memoryID] = make(map[string]struct{})
		}
		s.mentions[memoryID][id] = struct{}{}
	}
	for _, tag := range tags {
		name := model.NormalizeEntityName(tag)
		if name == "" {
			continue
		}
		id := s.findTagLocked(name, rec.AgentID)
		if id == "" {
			id = uuid.NewString()
			s.tags[id] = model.Tag{ID: id, Name: name, AgentID: rec.AgentID, CreatedAt: now}
		}
		if s.tagged[memoryID] == nil {
			s.tagged[memoryID] = make(map[string]struct{})
		}
		s.tagged[memoryID][id] = struct{}{}
	}
	return nil
}

func (s *InMemoryStore) MergeInto(_ context.Context, loserID, survivorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[survivorID]; !ok {
		return ErrNotFound
	}
	for entID := range s.mentions[loserID] {
		if s.mentions[survivorID] == nil {
			s.mentions[survivorID] = make(map[string]struct{})
		}
		s.mentions[survivorID][entID] = struct{}{}
	}
	for tagID := range s.tagged[loserID] {
		if s.tagged[survivorID] == nil {
			s.tagged[survivorID] = make(map[string]struct{})
		}
		s.tagged[survivorID][tagID] = struct{}{}
	}
	s.deleteLocked(loserID)
	return nil
}

func (s *InMemoryStore) LinkSimilar(_ context.Context, a, b string) error {
	return s.link(a, b, model.EdgeSimilarTo)
}

func (s *InMemoryStore) LinkConflict(_ context.Context, a, b string) error {
	return s.link(a, b, model.EdgeConflictsWith)
}

func (s *InMemoryStore) link(a, b string, kind model.EdgeType) error {
	edge := model.Edge{From: a, To: b, Type: kind}
	if err := edge.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[a+"\x1f"+b+"\x1f"+string(kind)] = edge
	return nil
}

func (s *InMemoryStore) Neighborhood(_ context.Context, seedIDs []string, hops, limit int) ([]model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(seedIDs) == 0 || hops <= 0 || limit <= 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(seedIDs))
	frontier := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		if _, ok := s.memories[id]; !ok {
			continue
		}
		seen[id] = struct{}{}
		frontier = append(frontier, id)
	}
	var neighbors []model.Memory
	for depth := 0; depth < hops && len(frontier) > 0; depth++ {
		next := make([]string, 0)
		for _, id := range frontier {
			for _, other := range s.adjacentLocked(id) {
				if _, ok := seen[other]; ok {
					continue
				}
				seen[other] = struct{}{}
				rec, ok := s.memories[other]
				if !ok {
					continue
				}
				neighbors = append(neighbors, cloneMemory(rec))
				next = append(next, other)
			}
		}
		frontier = next
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Importance != neighbors[j].Importance {
			return neighbors[i].Importance > neighbors[j].Importance
		}
		return neighbors[i].CreatedAt.After(neighbors[j].CreatedAt)
	})
	if len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors, nil
}

// adjacentLocked lists memories one hop away: through a shared entity or
// tag, or via a similar-to evidence edge.
func (s *InMemoryStore) adjacentLocked(id string) []string {
	out := make([]string, 0)
	for entID := range s.mentions[id] {
		for otherID, ents := range s.mentions {
			if otherID == id {
				continue
			}
			if _, ok := ents[entID]; ok {
				out = append(out, otherID)
			}
		}
	}
	for tagID := range s.tagged[id] {
		for otherID, tags := range s.tagged {
			if otherID == id {
				continue
			}
			if _, ok := tags[tagID]; ok {
				out = append(out, otherID)
			}
		}
	}
	for _, edge := range s.links {
		if edge.Type != model.EdgeSimilarTo {
			continue
		}
		if edge.From == id {
			out = append(out, edge.To)
		} else if edge.To == id {
			out = append(out, edge.From)
		}
	}
	return out
}

func (s *InMemoryStore) RemoveOrphans(_ context.Context, scope model.Scope) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	referencedEntities := make(map[string]struct{})
	for _, ents := range s.mentions {
		for id := range ents {
			referencedEntities[id] = struct{}{}
		}
	}
	referencedTags := make(map[string]struct{})
	for _, tags := range s.tagged {
		for id := range tags {
			referencedTags[id] = struct{}{}
		}
	}
	removedEntities := 0
	for id, ent := range s.entities {
		if scope.AgentID != "" && ent.AgentID != scope.AgentID {
			continue
		}
		if _, ok := referencedEntities[id]; !ok {
			delete(s.entities, id)
			removedEntities++
		}
	}
	removedTags := 0
	for id, tag := range s.tags {
		if scope.AgentID != "" && tag.AgentID != scope.AgentID {
			continue
		}
		if _, ok := referencedTags[id]; !ok {
			delete(s.tags, id)
			removedTags++
		}
	}
	return removedEntities, removedTags, nil
}

// --- helpers ---

func (s *InMemoryStore) findEntityLocked(name, agentID string) string {
	for id, ent := range s.entities {
		if ent.Name == name && ent.AgentID == agentID {
			return id
		}
	}
	return ""
}

func (s *InMemoryStore) findTagLocked(name, agentID string) string {
	for id, tag := range s.tags {
		if tag.Name == name && tag.AgentID == agentID {
			return id
		}
	}
	return ""
}

// sortedLocked returns matching memories ordered oldest first with a stable
// id tiebreak so iteration order is deterministic.
func (s *InMemoryStore) sortedLocked(match func(*model.Memory) bool) []model.Memory {
	out := make([]model.Memory, 0, len(s.memories))
	for _, rec := range s.memories {
		if match(&rec) {
			out = append(out, cloneMemory(rec))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func window(records []model.Memory, limit, offset int) []model.Memory {
	if offset >= len(records) {
		return nil
	}
	records = records[offset:]
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

func cloneMemory(rec model.Memory) model.Memory {
	rec.Embedding = append([]float32(nil), rec.Embedding...)
	return rec
}

func tokenize(text string) map[string]int {
	tokens := make(map[string]int)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?\"'()[]{}")
		if len(token) < 2 {
			continue
		}
		tokens[token]++
	}
	return tokens
}

// lexicalScore is the fraction of query tokens present in the document,
// weighted by document term frequency. Crude but monotonic in overlap, which
// is all rank fusion needs.
func lexicalScore(query, doc map[string]int) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	matched := 0.0
	for token := range query {
		if count, ok := doc[token]; ok {
			matched += 1 + 0.1*float64(count-1)
		}
	}
	return matched / float64(len(query))
}
