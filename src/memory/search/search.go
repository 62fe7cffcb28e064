// Package search implements hybrid retrieval over the memory store: vector
// similarity, lexical match, and an optional graph-traversal signal, fused
// with reciprocal rank fusion.
package search

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/hadron-labs/hypnos/src/memory/embed"
	"github.com/hadron-labs/hypnos/src/memory/model"
	"github.com/hadron-labs/hypnos/src/memory/store"
)

// Options configures the hybrid search engine.
type Options struct {
	// CandidateLimit is the per-signal top-K fetched before fusion.
	CandidateLimit int
	// SimilarityThreshold floors the vector signal.
	SimilarityThreshold float64
	// RRFConstant is the k in 1/(k+rank).
	RRFConstant float64
	// GraphHops bounds the neighbor expansion of the graph signal.
	GraphHops int
	// GraphSeeds caps how many fused front-runners seed the graph walk.
	GraphSeeds int
	Logger     *log.Logger
}

// DefaultOptions returns the recommended defaults for hybrid retrieval.
func DefaultOptions() Options {
	return Options{
		CandidateLimit:      30,
		SimilarityThreshold: 0.25,
		RRFConstant:         60,
		GraphHops:           2,
		GraphSeeds:          5,
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.CandidateLimit == 0 {
		o.CandidateLimit = defaults.CandidateLimit
	}
	if o.SimilarityThreshold == 0 {
		o.SimilarityThreshold = defaults.SimilarityThreshold
	}
	if o.RRFConstant == 0 {
		o.RRFConstant = defaults.RRFConstant
	}
	if o.GraphHops == 0 {
		o.GraphHops = defaults.GraphHops
	}
	if o.GraphSeeds == 0 {
		o.GraphSeeds = defaults.GraphSeeds
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stderr, "hypnos-search: ", log.LstdFlags)
	}
	return o
}

// Engine fuses the retrieval signals into one ranking.
type Engine struct {
	store    store.MemoryStore
	embedder embed.Embedder
	opts     Options
}

// New constructs a hybrid search engine.
func New(memStore store.MemoryStore, embedder embed.Embedder, opts Options) *Engine {
	return &Engine{store: memStore, embedder: embedder, opts: opts.withDefaults()}
}

// Search returns up to limit memories ranked by fused relevance. The graph
// signal is used only when useGraph is set and the store supports it.
// Invalidated memories never surface. Winners get their reference count
// bumped so consolidation can weigh retrieval frequency.
func (e *Engine) Search(ctx context.Context, query string, limit int, scope model.Scope, useGraph bool) ([]model.Memory, error) {
	if limit <= 0 {
		return nil, nil
	}

	var vectorHits []model.Memory
	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		// Degrade to lexical-only retrieval rather than failing the lookup.
		e.opts.Logger.Printf("query embedding failed, lexical only: %v", err)
	} else {
		vectorHits, err = e.store.SearchSimilar(ctx, queryVec, e.opts.SimilarityThreshold, e.opts.CandidateLimit, scope)
		if err != nil {
			return nil, fmt.Errorf("vector signal: %w", err)
		}
	}

	lexicalHits, err := e.store.SearchLexical(ctx, query, e.opts.CandidateLimit, scope)
	if err != nil {
		return nil, fmt.Errorf("lexical signal: %w", err)
	}

	signals := [][]model.Memory{vectorHits, lexicalHits}

	if useGraph {
		if gs, ok := e.store.(store.GraphStore); ok {
			seeds := seedIDs(vectorHits, lexicalHits, e.opts.GraphSeeds)
			if len(seeds) > 0 {
				graphHits, err := gs.Neighborhood(ctx, seeds, e.opts.GraphHops, e.opts.CandidateLimit)
				if err != nil {
					return nil, fmt.Errorf("graph signal: %w", err)
				}
				signals = append(signals, graphHits)
			}
		}
	}

	fused := rrfFuse(signals, e.opts.RRFConstant)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]string, len(fused))
	for i := range fused {
		ids[i] = fused[i].ID
	}
	if err := e.store.IncrementReference(ctx, ids); err != nil {
		e.opts.Logger.Printf("reference bump failed: %v", err)
	}
	return fused, nil
}

// seedIDs gathers distinct ids from the leading vector and lexical hits,
// interleaved so both signals contribute seeds.
func seedIDs(vectorHits, lexicalHits []model.Memory, max int) []string {
	seen := make(map[string]struct{}, max)
	seeds := make([]string, 0, max)
	for i := 0; len(seeds) < max && (i < len(vectorHits) || i < len(lexicalHits)); i++ {
		for _, list := range [][]model.Memory{vectorHits, lexicalHits} {
			if i >= len(list) || len(seeds) >= max {
				continue
			}
			id := list[i].ID
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			seeds = append(seeds, id)
		}
	}
	return seeds
}

// rrfFuse merges ranked lists with reciprocal rank fusion:
// score(d) = sum over signals of 1/(k + rank). A list that does not contain
// the document contributes nothing.
func rrfFuse(signals [][]model.Memory, k float64) []model.Memory {
	type fusedEntry struct {
		mem   model.Memory
		score float64
	}
	byID := make(map[string]*fusedEntry)
	for _, list := range signals {
		for rank, mem := range list {
			if mem.Invalidated {
				continue
			}
			contribution := 1.0 / (k + float64(rank+1))
			if entry, ok := byID[mem.ID]; ok {
				entry.score += contribution
				continue
			}
			byID[mem.ID] = &fusedEntry{mem: mem, score: contribution}
		}
	}
	out := make([]model.Memory, 0, len(byID))
	for _, entry := range byID {
		entry.mem.Score = entry.score
		out = append(out, entry.mem)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
