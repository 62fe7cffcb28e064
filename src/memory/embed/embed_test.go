package embed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestDummyEmbeddingIsDeterministic(t *testing.T) {
	a := DummyEmbedding("the quick brown fox")
	b := DummyEmbedding("the quick brown fox")
	if len(a) != dummyDimension || len(b) != dummyDimension {
		t.Fatalf("unexpected dimensions: %d %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("dummy embedding differs at %d", i)
		}
	}
}

func TestTruncateBreaksAtWordBoundary(t *testing.T) {
	text := "alpha beta gamma delta"
	got := Truncate(text, 12)
	if got != "alpha beta" {
		t.Fatalf("Truncate = %q, want %q", got, "alpha beta")
	}
	if Truncate(text, 0) != text {
		t.Fatalf("max 0 should leave text untouched")
	}
	if Truncate("short", 100) != "short" {
		t.Fatalf("text under limit should be untouched")
	}
}

// failNthEmbedder fails on a fixed input and succeeds otherwise.
type failNthEmbedder struct {
	mu     sync.Mutex
	failOn string
	calls  int
}

func (f *failNthEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if text == f.failOn {
		return nil, errors.New("provider unavailable")
	}
	return []float32{1, 2, 3}, nil
}

func (f *failNthEmbedder) Dimension() int { return 3 }

func TestBatchIsolatesItemFailures(t *testing.T) {
	e := &failNthEmbedder{failOn: "bad"}
	texts := []string{"one", "bad", "three", "four"}
	vecs, failed := Batch(context.Background(), e, texts)
	if failed != 1 {
		t.Fatalf("expected 1 failure, got %d", failed)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
	if len(vecs[1]) != 0 {
		t.Fatalf("expected placeholder empty vector for failed item, got %v", vecs[1])
	}
	for _, i := range []int{0, 2, 3} {
		if len(vecs[i]) != 3 {
			t.Fatalf("expected vector at index %d", i)
		}
	}
}

// stubBatchEmbedder exercises the batch-capable path.
type stubBatchEmbedder struct {
	batchCalls int
}

func (s *stubBatchEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1}, nil
}

func (s *stubBatchEmbedder) Dimension() int { return 1 }

func (s *stubBatchEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.batchCalls++
	out := make([][]float32, len(texts))
	for i := range texts {
		if strings.HasPrefix(texts[i], "fail") {
			continue // placeholder stays empty
		}
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func TestBatchPrefersBatchCapableProvider(t *testing.T) {
	s := &stubBatchEmbedder{}
	vecs, failed := Batch(context.Background(), s, []string{"a", "fail-b", "c"})
	if s.batchCalls != 1 {
		t.Fatalf("expected a single batch call, got %d", s.batchCalls)
	}
	if failed != 1 {
		t.Fatalf("expected one counted failure, got %d", failed)
	}
	if len(vecs) != 3 || len(vecs[1]) != 0 {
		t.Fatalf("unexpected batch output: %#v", vecs)
	}
}

func TestBatchEmptyInput(t *testing.T) {
	vecs, failed := Batch(context.Background(), DummyEmbedder{}, nil)
	if vecs != nil || failed != 0 {
		t.Fatalf("expected empty result, got %v %d", vecs, failed)
	}
}
