package embed

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hadron-labs/hypnos/src/concurrent"
)

// Embedder is a pluggable text-embedding provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the vector size the provider produces, or 0 when unknown.
	Dimension() int
}

// BatchEmbedder is implemented by providers that accept many inputs in one
// call. Results come back in input order; a failed item is an empty vector.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrNotSupported is returned by providers that do not offer embeddings.
var ErrNotSupported = errors.New("embeddings not supported by this provider")

// embedTimeout bounds every provider call so a slow upstream surfaces as a
// per-item failure instead of a hang.
const embedTimeout = 30 * time.Second

// batchWorkers bounds provider fan-out so Reindex never floods an upstream.
const batchWorkers = 8

// ---------- Dummy (fallback) ----------

const dummyDimension = 768

// DummyEmbedder produces deterministic byte-histogram vectors. It keeps the
// engine functional in tests and when no provider is configured.
type DummyEmbedder struct{}

func (DummyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return DummyEmbedding(text), nil
}

func (DummyEmbedder) Dimension() int { return dummyDimension }

// DummyEmbedding is kept for tests/back-compat.
func DummyEmbedding(text string) []float32 {
	vec := make([]float32, dummyDimension)
	for i, ch := range []byte(text) {
		vec[i%dummyDimension] += float32(ch) / 255.0
	}
	return vec
}

// AutoEmbedder chooses a provider from env:
// HYPNOS_EMBED_PROVIDER=openai|google|gemini|ollama|voyage|fastembed
// HYPNOS_EMBED_MODEL=<model string>
// Unset or failing providers fall back to the dummy embedder.
func AutoEmbedder() Embedder {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("HYPNOS_EMBED_PROVIDER")))
	model := strings.TrimSpace(os.Getenv("HYPNOS_EMBED_MODEL"))

	switch provider {
	case "openai":
		if e, err := NewOpenAIEmbedder(model); err == nil {
			return TryCacheEmbedder(e)
		}
	case "google", "gemini", "vertex", "vertexai":
		if e, err := NewVertexAIEmbedder(model); err == nil {
			return TryCacheEmbedder(e)
		}
	case "ollama":
		if e, err := NewOllamaEmbedder(model); err == nil {
			return TryCacheEmbedder(e)
		}
	case "voyage", "claude", "anthropic":
		if e, err := NewVoyageEmbedder(model); err == nil {
			return TryCacheEmbedder(e)
		}
	case "fastembed":
		if opts := defaultFastEmbedOptions(); opts != nil {
			if e, err := NewFastEmbedder(context.Background(), opts); err == nil {
				return TryCacheEmbedder(e)
			}
		}
	}

	log.Printf("AutoEmbedder: falling back to DummyEmbedder")
	return DummyEmbedder{}
}

// Truncate cuts text to at most max bytes, breaking at a word boundary so no
// provider ever sees a half token. max <= 0 leaves the text untouched.
func Truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := text[:max]
	if idx := strings.LastIndexAny(cut, " \t\n"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \t\n")
}

// Batch embeds texts preserving input order. Batch-capable providers get one
// call; others are fanned out concurrently with per-item isolation. A failed
// item yields an empty placeholder vector and is counted, never an error for
// the whole batch.
func Batch(ctx context.Context, e Embedder, texts []string) ([][]float32, int) {
	if len(texts) == 0 {
		return nil, 0
	}
	if be, ok := e.(BatchEmbedder); ok {
		vecs, err := be.EmbedBatch(ctx, texts)
		if err == nil && len(vecs) == len(texts) {
			failed := 0
			for _, v := range vecs {
				if len(v) == 0 {
					failed++
				}
			}
			return vecs, failed
		}
		// Batch call itself failed; fall through to per-item fan-out.
	}

	vecs := make([][]float32, len(texts))
	var failed atomic.Int64
	err := concurrent.ForEach(ctx, len(texts), batchWorkers, func(i int) {
		itemCtx, cancel := context.WithTimeout(ctx, embedTimeout)
		defer cancel()
		vec, err := e.Embed(itemCtx, texts[i])
		if err != nil || len(vec) == 0 {
			failed.Add(1)
			return
		}
		vecs[i] = vec
	})
	if err != nil {
		// Cancelled mid-batch: count every vector that never arrived.
		failed.Store(0)
		for _, v := range vecs {
			if len(v) == 0 {
				failed.Add(1)
			}
		}
	}
	return vecs, int(failed.Load())
}
