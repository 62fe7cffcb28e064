// Package sleep implements the consolidation cycle: a strict sequence of
// phases that merges duplicates, resolves contradictions, re-ranks the
// population into core and regular tiers, extracts entities, and prunes
// decayed memories.
package sleep

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/hadron-labs/hypnos/src/memory/extract"
	"github.com/hadron-labs/hypnos/src/memory/model"
	"github.com/hadron-labs/hypnos/src/memory/store"
)

// Phase names one step of the cycle, in execution order.
type Phase string

const (
	PhaseDedup      Phase = "dedup"
	PhaseConflict   Phase = "conflict"
	PhasePareto     Phase = "pareto"
	PhasePromotion  Phase = "promotion"
	PhaseDemotion   Phase = "demotion"
	PhaseExtraction Phase = "extraction"
	PhaseDecay      Phase = "decay"
	PhaseOrphans    Phase = "orphans"
)

// Params tunes the cycle. Zero values take the documented defaults.
type Params struct {
	// DedupThreshold is the cosine similarity at or above which two
	// memories are considered the same statement.
	DedupThreshold float64
	// ConflictThreshold is the floor of the similarity band in which two
	// memories are close enough to be about the same thing but may
	// contradict each other.
	ConflictThreshold float64
	// ParetoPercentile is the share of the population eligible for the
	// core tier (0.20 keeps the top fifth).
	ParetoPercentile float64
	// PromotionMinAge gates promotion so short-lived bursts never reach
	// the core tier.
	PromotionMinAge time.Duration
	// DecayRetention is the decay score below which a non-core memory is
	// pruned.
	DecayRetention float64
	// BaseHalfLife anchors the decay curve; importance stretches it.
	BaseHalfLife time.Duration
	// ExtractionBatchSize and ExtractionBatchDelay pace the LLM calls.
	ExtractionBatchSize  int
	ExtractionBatchDelay time.Duration

	Scope model.Scope

	// Progress, when set, is invoked at the start of every phase.
	Progress func(Phase)

	Clock  func() time.Time
	Logger *log.Logger
}

// DefaultParams returns the recommended consolidation defaults.
func DefaultParams() Params {
	return Params{
		DedupThreshold:       0.95,
		ConflictThreshold:    0.80,
		ParetoPercentile:     0.20,
		PromotionMinAge:      7 * 24 * time.Hour,
		DecayRetention:       0.10,
		BaseHalfLife:         30 * 24 * time.Hour,
		ExtractionBatchSize:  50,
		ExtractionBatchDelay: time.Second,
	}
}

func (p Params) withDefaults() Params {
	defaults := DefaultParams()
	if p.DedupThreshold == 0 {
		p.DedupThreshold = defaults.DedupThreshold
	}
	if p.ConflictThreshold == 0 {
		p.ConflictThreshold = defaults.ConflictThreshold
	}
	if p.ParetoPercentile == 0 {
		p.ParetoPercentile = defaults.ParetoPercentile
	}
	if p.PromotionMinAge == 0 {
		p.PromotionMinAge = defaults.PromotionMinAge
	}
	if p.DecayRetention == 0 {
		p.DecayRetention = defaults.DecayRetention
	}
	if p.BaseHalfLife == 0 {
		p.BaseHalfLife = defaults.BaseHalfLife
	}
	if p.ExtractionBatchSize == 0 {
		p.ExtractionBatchSize = defaults.ExtractionBatchSize
	}
	if p.ExtractionBatchDelay == 0 {
		p.ExtractionBatchDelay = defaults.ExtractionBatchDelay
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	if p.Logger == nil {
		p.Logger = log.New(os.Stderr, "hypnos-sleep: ", log.LstdFlags)
	}
	return p
}

// DedupStats reports the merge phase.
type DedupStats struct {
	ClustersFound  int `json:"clusters_found"`
	MemoriesMerged int `json:"memories_merged"`
}

// ConflictStats reports contradiction detection.
type ConflictStats struct {
	PairsFound  int `json:"pairs_found"`
	Resolved    int `json:"resolved"`
	Invalidated int `json:"invalidated"`
}

// ParetoStats reports the population re-ranking.
type ParetoStats struct {
	TotalMemories   int     `json:"total_memories"`
	CoreMemories    int     `json:"core_memories"`
	RegularMemories int     `json:"regular_memories"`
	Threshold       float64 `json:"threshold"`
}

// PromotionStats reports regular-to-core moves.
type PromotionStats struct {
	CandidatesFound int `json:"candidates_found"`
	Promoted        int `json:"promoted"`
}

// DemotionStats reports core-to-regular moves.
type DemotionStats struct {
	CandidatesFound int `json:"candidates_found"`
	Demoted         int `json:"demoted"`
}

// ExtractionStats reports the entity-extraction drain.
type ExtractionStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// DecayStats reports pruning.
type DecayStats struct {
	MemoriesPruned int `json:"memories_pruned"`
}

// OrphanStats reports graph cleanup.
type OrphanStats struct {
	EntitiesRemoved int `json:"entities_removed"`
	TagsRemoved     int `json:"tags_removed"`
}

// Stats aggregates the whole cycle. When the context is cancelled between
// phases the stats collected so far come back with Aborted set.
type Stats struct {
	Dedup      DedupStats      `json:"dedup"`
	Conflict   ConflictStats   `json:"conflict"`
	Pareto     ParetoStats     `json:"pareto"`
	Promotion  PromotionStats  `json:"promotion"`
	Demotion   DemotionStats   `json:"demotion"`
	Extraction ExtractionStats `json:"extraction"`
	Decay      DecayStats      `json:"decay"`
	Orphans    OrphanStats     `json:"orphans"`
	Elapsed    time.Duration   `json:"elapsed"`
	Aborted    bool            `json:"aborted"`
}

// Orchestrator runs the cycle over one store.
type Orchestrator struct {
	store     store.MemoryStore
	extractor extract.Extractor
	params    Params
}

// New builds an orchestrator. extractor may be nil; the extraction phase then
// uses the heuristic extractor.
func New(memStore store.MemoryStore, extractor extract.Extractor, params Params) *Orchestrator {
	if extractor == nil {
		extractor = extract.HeuristicExtractor{}
	}
	return &Orchestrator{store: memStore, extractor: extractor, params: params.withDefaults()}
}

type phaseFunc struct {
	name Phase
	run  func(ctx context.Context, stats *Stats) error
}

// Run executes the phases in order. A context cancellation between phases
// aborts the remainder and returns partial stats; a phase error stops the
// cycle and is returned alongside the stats collected so far. Both paths
// leave Aborted set on the returned stats.
func (o *Orchestrator) Run(ctx context.Context) (*Stats, error) {
	started := o.params.Clock()
	stats := &Stats{}
	phases := []phaseFunc{
		{PhaseDedup, o.runDedup},
		{PhaseConflict, o.runConflict},
		{PhasePareto, o.runPareto},
		{PhasePromotion, o.runPromotion},
		{PhaseDemotion, o.runDemotion},
		{PhaseExtraction, o.runExtraction},
		{PhaseDecay, o.runDecay},
		{PhaseOrphans, o.runOrphans},
	}
	for _, phase := range phases {
		if ctx.Err() != nil {
			stats.Aborted = true
			break
		}
		if o.params.Progress != nil {
			o.params.Progress(phase.name)
		}
		if err := phase.run(ctx, stats); err != nil {
			stats.Aborted = true
			stats.Elapsed = o.params.Clock().Sub(started)
			return stats, err
		}
	}
	stats.Elapsed = o.params.Clock().Sub(started)
	o.params.Logger.Printf("cycle done in %s: merged=%d invalidated=%d core=%d pruned=%d extracted=%d/%d aborted=%t",
		stats.Elapsed, stats.Dedup.MemoriesMerged, stats.Conflict.Invalidated, stats.Pareto.CoreMemories,
		stats.Decay.MemoriesPruned, stats.Extraction.Succeeded, stats.Extraction.Total, stats.Aborted)
	return stats, nil
}

// loadScoped snapshots the in-scope population.
func (o *Orchestrator) loadScoped(ctx context.Context) ([]model.Memory, error) {
	var out []model.Memory
	err := o.store.Iterate(ctx, o.params.Scope, func(mem model.Memory) bool {
		out = append(out, mem)
		return true
	})
	return out, err
}
