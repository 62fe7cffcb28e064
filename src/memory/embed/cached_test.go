package embed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type countingEmbedder struct {
	calls atomic.Int64
	fail  bool
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, errors.New("provider down")
	}
	return DummyEmbedding(text), nil
}

func (c *countingEmbedder) Dimension() int { return dummyDimension }

func TestCachedEmbedderHitsOnRepeat(t *testing.T) {
	inner := &countingEmbedder{}
	cached, err := NewCachedEmbedder(inner, 100, 0)
	if err != nil {
		t.Fatalf("NewCachedEmbedder: %v", err)
	}
	defer cached.Close()
	ctx := context.Background()

	first, err := cached.Embed(ctx, "the same sentence twice")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, err := cached.Embed(ctx, "the same sentence twice")
	if err != nil {
		t.Fatalf("Embed again: %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("provider called %d times, want 1", inner.calls.Load())
	}
	if len(first) != len(second) {
		t.Fatalf("vector lengths differ: %d vs %d", len(first), len(second))
	}

	if _, err := cached.Embed(ctx, "a different sentence entirely"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if inner.calls.Load() != 2 {
		t.Fatalf("provider called %d times, want 2", inner.calls.Load())
	}
}

func TestCachedEmbedderDoesNotCacheFailures(t *testing.T) {
	inner := &countingEmbedder{fail: true}
	cached, err := NewCachedEmbedder(inner, 100, 0)
	if err != nil {
		t.Fatalf("NewCachedEmbedder: %v", err)
	}
	defer cached.Close()
	ctx := context.Background()

	if _, err := cached.Embed(ctx, "will fail"); err == nil {
		t.Fatal("expected a provider error")
	}
	inner.fail = false
	if _, err := cached.Embed(ctx, "will fail"); err != nil {
		t.Fatalf("recovered provider still failing through the cache: %v", err)
	}
	if inner.calls.Load() != 2 {
		t.Fatalf("provider called %d times, want 2", inner.calls.Load())
	}
}
