package store

import (
	"context"
	"testing"
	"time"

	"github.com/hadron-labs/hypnos/src/memory/model"
)

func seedMemory(t *testing.T, s *InMemoryStore, content string, embedding []float32, importance float64) *model.Memory {
	t.Helper()
	mem := &model.Memory{
		Content:    content,
		Embedding:  embedding,
		Importance: importance,
		Category:   model.CategoryFact,
		Source:     model.SourceUser,
		Status:     model.ExtractionPending,
		AgentID:    "agent-1",
	}
	if err := s.Create(context.Background(), mem); err != nil {
		t.Fatalf("create %q: %v", content, err)
	}
	return mem
}

func TestInMemoryStoreCreateGetUpdateDelete(t *testing.T) {
	s := NewInMemoryStore(3)
	ctx := context.Background()

	mem := seedMemory(t, s, "prefers tabs over spaces", []float32{1, 0, 0}, 0.7)
	if mem.ID == "" {
		t.Fatal("expected generated id")
	}
	got, err := s.Get(ctx, mem.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != mem.Content {
		t.Fatalf("content = %q, want %q", got.Content, mem.Content)
	}

	got.Importance = 0.9
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, _ := s.Get(ctx, mem.ID)
	if again.Importance != 0.9 {
		t.Fatalf("importance = %v after update", again.Importance)
	}

	if err := s.Delete(ctx, []string{mem.ID}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, mem.ID); err != ErrNotFound {
		t.Fatalf("get after delete: err = %v, want ErrNotFound", err)
	}
}

func TestInMemoryStoreSearchSimilarOrdersAndFilters(t *testing.T) {
	s := NewInMemoryStore(3)
	ctx := context.Background()

	near := seedMemory(t, s, "lives in berlin", []float32{1, 0, 0}, 0.5)
	mid := seedMemory(t, s, "works at a lab", []float32{0.7, 0.7, 0}, 0.5)
	seedMemory(t, s, "likes jazz", []float32{0, 0, 1}, 0.5)

	hits, err := s.SearchSimilar(ctx, []float32{1, 0, 0}, 0.5, 10, model.Scope{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ID != near.ID || hits[1].ID != mid.ID {
		t.Fatalf("order = [%s %s], want [%s %s]", hits[0].ID, hits[1].ID, near.ID, mid.ID)
	}

	hits, err = s.SearchSimilar(ctx, []float32{1, 0, 0}, 0, 10, model.Scope{AgentID: "other-agent"})
	if err != nil {
		t.Fatalf("scoped search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("foreign scope returned %d hits", len(hits))
	}
}

func TestInMemoryStoreSearchLexical(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()

	hit := seedMemory(t, s, "deploy pipeline runs on github actions", nil, 0.5)
	seedMemory(t, s, "enjoys hiking on weekends", nil, 0.5)

	res, err := s.SearchLexical(ctx, "github deploy pipeline", 5, model.Scope{})
	if err != nil {
		t.Fatalf("lexical: %v", err)
	}
	if len(res) != 1 || res[0].ID != hit.ID {
		t.Fatalf("lexical hits = %v", res)
	}
	if res[0].Score <= 0 {
		t.Fatalf("score = %v, want > 0", res[0].Score)
	}
}

func TestInMemoryStoreListAndStats(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s := NewInMemoryStore(0).WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})
	ctx := context.Background()

	first := seedMemory(t, s, "first fact", nil, 0.5)
	second := seedMemory(t, s, "second fact", nil, 0.5)
	core := seedMemory(t, s, "core belief", nil, 0.9)
	if err := s.SetCore(ctx, []string{core.ID}, true); err != nil {
		t.Fatalf("set core: %v", err)
	}

	facts, err := s.ListByCategory(ctx, model.CategoryFact, 2, 0, model.Scope{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(facts) != 2 || facts[0].ID != first.ID || facts[1].ID != second.ID {
		t.Fatalf("list order wrong: %v", facts)
	}

	stats, err := s.Stats(ctx, model.Scope{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Core != 1 || stats.Pending != 3 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestInMemoryStoreReferenceAndInvalidate(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()

	mem := seedMemory(t, s, "referenced often", nil, 0.5)
	if err := s.IncrementReference(ctx, []string{mem.ID, "missing-id"}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	got, _ := s.Get(ctx, mem.ID)
	if got.ReferenceCount != 1 {
		t.Fatalf("refcount = %d, want 1", got.ReferenceCount)
	}

	if err := s.MarkInvalidated(ctx, mem.ID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	got, _ = s.Get(ctx, mem.ID)
	if !got.Invalidated {
		t.Fatal("expected invalidated flag")
	}
	if err := s.MarkInvalidated(ctx, "missing-id"); err != ErrNotFound {
		t.Fatalf("invalidate missing: err = %v", err)
	}
}

func TestInMemoryStoreGraphNeighborhood(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()

	a := seedMemory(t, s, "met alice at the conference", nil, 0.8)
	b := seedMemory(t, s, "alice works on compilers", nil, 0.6)
	c := seedMemory(t, s, "compilers team ships quarterly", nil, 0.4)
	seedMemory(t, s, "unrelated note about lunch", nil, 0.5)

	alice := []model.Entity{{Name: "Alice", Kind: "person"}}
	if err := s.UpsertEntities(ctx, a.ID, alice, nil); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	if err := s.UpsertEntities(ctx, b.ID, alice, []string{"compilers"}); err != nil {
		t.Fatalf("upsert b: %v", err)
	}
	if err := s.UpsertEntities(ctx, c.ID, nil, []string{"compilers"}); err != nil {
		t.Fatalf("upsert c: %v", err)
	}

	one, err := s.Neighborhood(ctx, []string{a.ID}, 1, 10)
	if err != nil {
		t.Fatalf("neighborhood: %v", err)
	}
	if len(one) != 1 || one[0].ID != b.ID {
		t.Fatalf("1 hop = %v, want just %s", one, b.ID)
	}

	two, err := s.Neighborhood(ctx, []string{a.ID}, 2, 10)
	if err != nil {
		t.Fatalf("neighborhood 2: %v", err)
	}
	if len(two) != 2 {
		t.Fatalf("2 hops returned %d memories, want 2", len(two))
	}
	// Higher importance first.
	if two[0].ID != b.ID || two[1].ID != c.ID {
		t.Fatalf("2 hop order = [%s %s]", two[0].ID, two[1].ID)
	}
}

func TestInMemoryStoreMergeAndOrphans(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()

	survivor := seedMemory(t, s, "uses postgres in production", nil, 0.8)
	loser := seedMemory(t, s, "runs postgres for the main app", nil, 0.5)
	lonely := seedMemory(t, s, "tried redis once", nil, 0.3)

	if err := s.UpsertEntities(ctx, loser.ID, []model.Entity{{Name: "postgres", Kind: "tool"}}, []string{"infra"}); err != nil {
		t.Fatalf("upsert loser: %v", err)
	}
	if err := s.UpsertEntities(ctx, lonely.ID, []model.Entity{{Name: "redis", Kind: "tool"}}, nil); err != nil {
		t.Fatalf("upsert lonely: %v", err)
	}

	if err := s.MergeInto(ctx, loser.ID, survivor.ID); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, err := s.Get(ctx, loser.ID); err != ErrNotFound {
		t.Fatalf("loser still present: %v", err)
	}
	// Survivor inherited the mention, so a neighborhood walk from another
	// postgres memory still finds it.
	if len(s.mentions[survivor.ID]) != 1 {
		t.Fatalf("survivor mentions = %d, want 1", len(s.mentions[survivor.ID]))
	}

	if err := s.Delete(ctx, []string{lonely.ID}); err != nil {
		t.Fatalf("delete lonely: %v", err)
	}
	ents, tags, err := s.RemoveOrphans(ctx, model.Scope{})
	if err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if ents != 1 || tags != 0 {
		t.Fatalf("removed %d entities %d tags, want 1 and 0", ents, tags)
	}
}

func TestInMemoryStoreReindex(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()

	seedMemory(t, s, "one", nil, 0.5)
	seedMemory(t, s, "two", nil, 0.5)
	seedMemory(t, s, "three", nil, 0.5)

	calls := 0
	updated, err := s.Reindex(ctx, 2, func(_ context.Context, texts []string) ([][]float32, error) {
		calls++
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 2, 3}
		}
		return out, nil
	})
	if err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if updated != 3 {
		t.Fatalf("updated = %d, want 3", updated)
	}
	if calls != 2 {
		t.Fatalf("batches = %d, want 2", calls)
	}
}
