package search

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/hadron-labs/hypnos/src/memory/embed"
	"github.com/hadron-labs/hypnos/src/memory/model"
	"github.com/hadron-labs/hypnos/src/memory/store"
)

func testEngine(t *testing.T, s store.MemoryStore) *Engine {
	t.Helper()
	return New(s, embed.DummyEmbedder{}, Options{
		SimilarityThreshold: 0.01,
		Logger:              log.New(os.Stderr, "test: ", 0),
	})
}

func mustCreate(t *testing.T, s store.MemoryStore, mem *model.Memory) *model.Memory {
	t.Helper()
	if mem.Category == "" {
		mem.Category = model.CategoryFact
	}
	if mem.Status == "" {
		mem.Status = model.ExtractionCompleted
	}
	if err := s.Create(context.Background(), mem); err != nil {
		t.Fatalf("create: %v", err)
	}
	return mem
}

func TestRRFFuseDualSignalBeatsSingle(t *testing.T) {
	both := model.Memory{ID: "both"}
	vectorOnly := model.Memory{ID: "vector-only"}
	lexicalOnly := model.Memory{ID: "lexical-only"}

	fused := rrfFuse([][]model.Memory{
		{both, vectorOnly},
		{both, lexicalOnly},
	}, 60)

	if len(fused) != 3 {
		t.Fatalf("fused %d docs, want 3", len(fused))
	}
	if fused[0].ID != "both" {
		t.Fatalf("top doc = %s, want both", fused[0].ID)
	}
	if fused[0].Score <= fused[1].Score {
		t.Fatalf("dual-signal score %v not above single-signal %v", fused[0].Score, fused[1].Score)
	}
}

func TestRRFFuseTieBreaks(t *testing.T) {
	now := time.Now()
	older := model.Memory{ID: "older", Importance: 0.5, CreatedAt: now.Add(-time.Hour)}
	newer := model.Memory{ID: "newer", Importance: 0.5, CreatedAt: now}
	heavier := model.Memory{ID: "heavier", Importance: 0.9, CreatedAt: now.Add(-2 * time.Hour)}

	// All three appear at rank 1 of separate signals: identical fused score.
	fused := rrfFuse([][]model.Memory{{older}, {newer}, {heavier}}, 60)
	if fused[0].ID != "heavier" {
		t.Fatalf("importance tie-break failed, top = %s", fused[0].ID)
	}
	if fused[1].ID != "newer" || fused[2].ID != "older" {
		t.Fatalf("recency tie-break failed: [%s %s]", fused[1].ID, fused[2].ID)
	}
}

func TestRRFFuseSkipsInvalidated(t *testing.T) {
	dead := model.Memory{ID: "dead", Invalidated: true}
	alive := model.Memory{ID: "alive"}
	fused := rrfFuse([][]model.Memory{{dead, alive}}, 60)
	if len(fused) != 1 || fused[0].ID != "alive" {
		t.Fatalf("fused = %v", fused)
	}
}

func TestSearchEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore(0)
	e := testEngine(t, s)
	dummy := embed.DummyEmbedder{}

	vec := func(text string) []float32 {
		v, _ := dummy.Embed(ctx, text)
		return v
	}

	hit := mustCreate(t, s, &model.Memory{Content: "prefers postgres for new services", Embedding: vec("prefers postgres for new services"), Importance: 0.8})
	mustCreate(t, s, &model.Memory{Content: "enjoys gardening on sundays", Embedding: vec("enjoys gardening on sundays"), Importance: 0.4})

	results, err := e.Search(ctx, "prefers postgres for new services", 5, model.Scope{}, false)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 || results[0].ID != hit.ID {
		t.Fatalf("results = %v, want %s first", results, hit.ID)
	}

	// Winners get their reference count bumped.
	got, err := s.Get(ctx, hit.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ReferenceCount == 0 {
		t.Fatal("reference count not incremented")
	}
}

func TestSearchGraphSignalSurfacesNeighbors(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore(0)
	e := testEngine(t, s)
	dummy := embed.DummyEmbedder{}

	vec := func(text string) []float32 {
		v, _ := dummy.Embed(ctx, text)
		return v
	}

	direct := mustCreate(t, s, &model.Memory{Content: "alice leads the storage team", Embedding: vec("alice leads the storage team"), Importance: 0.7})
	// No embedding and no shared tokens with the query: reachable only
	// through the graph.
	neighbor := mustCreate(t, s, &model.Memory{Content: "quarterly planning happens in march", Importance: 0.6})

	alice := []model.Entity{{Name: "alice", Kind: "person"}}
	if err := s.UpsertEntities(ctx, direct.ID, alice, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertEntities(ctx, neighbor.ID, alice, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	without, err := e.Search(ctx, "alice leads the storage team", 10, model.Scope{}, false)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	with, err := e.Search(ctx, "alice leads the storage team", 10, model.Scope{}, true)
	if err != nil {
		t.Fatalf("graph search: %v", err)
	}
	if contains(without, neighbor.ID) {
		t.Fatal("neighbor should not rank without its graph signal")
	}
	if !contains(with, neighbor.ID) {
		t.Fatal("graph signal did not surface the neighbor")
	}
}

func TestSearchEmptyQueryNoCandidates(t *testing.T) {
	s := store.NewInMemoryStore(0)
	e := testEngine(t, s)
	results, err := e.Search(context.Background(), "anything at all", 5, model.Scope{}, true)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %v, want none", results)
	}
}

func contains(records []model.Memory, id string) bool {
	for _, rec := range records {
		if rec.ID == id {
			return true
		}
	}
	return false
}
