package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/hadron-labs/hypnos/src/memory/embed"
	"github.com/hadron-labs/hypnos/src/memory/model"
	"github.com/hadron-labs/hypnos/src/memory/store"
)

func BenchmarkRecall(b *testing.B) {
	s := store.NewInMemoryStore(768)
	eng, err := New(Options{Store: s, Embedder: embed.DummyEmbedder{}, AgentID: "bench"})
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	defer eng.Close()
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		content := fmt.Sprintf("note %d about the design of subsystem %d", i, i%17)
		mem := &model.Memory{
			Content:    content,
			Embedding:  embed.DummyEmbedding(content),
			Importance: float64(i%100) / 100,
			Category:   model.CategoryFact,
			Source:     model.SourceUser,
			Status:     model.ExtractionCompleted,
			AgentID:    "bench",
		}
		if err := s.Create(ctx, mem); err != nil {
			b.Fatalf("Create: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := eng.Recall(ctx, "design of subsystem", 5, false); err != nil {
			b.Fatalf("Recall: %v", err)
		}
	}
}
