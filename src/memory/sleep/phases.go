package sleep

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hadron-labs/hypnos/src/memory/model"
	"github.com/hadron-labs/hypnos/src/memory/store"
)

// EffectiveScore ranks a memory for the Pareto phase. Weighting is fixed:
// half importance, a third recency with a 30-day scale, the rest retrieval
// frequency saturating at ten references.
func EffectiveScore(mem *model.Memory, now time.Time) float64 {
	ageDays := now.Sub(mem.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	recency := math.Exp(-ageDays / 30)
	frequency := math.Min(float64(mem.ReferenceCount)/10, 1)
	return 0.5*mem.Importance + 0.3*recency + 0.2*frequency
}

// DecayScore is exp(-age/halfLife) where the half-life stretches with
// importance, so valuable memories fade up to three times slower.
func DecayScore(mem *model.Memory, now time.Time, baseHalfLife time.Duration) float64 {
	age := now.Sub(mem.CreatedAt)
	if age < 0 {
		age = 0
	}
	halfLife := time.Duration(float64(baseHalfLife) * (1 + 2*model.Clamp01(mem.Importance)))
	if halfLife <= 0 {
		return 0
	}
	return math.Exp(-age.Seconds() / halfLife.Seconds())
}

// --- dedup ---

func (o *Orchestrator) runDedup(ctx context.Context, stats *Stats) error {
	memories, err := o.loadScoped(ctx)
	if err != nil {
		return err
	}
	// Union-find over pairs at or above the dedup threshold.
	parent := make([]int, len(memories))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for i := 0; i < len(memories); i++ {
		if len(memories[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(memories); j++ {
			if len(memories[j].Embedding) == 0 {
				continue
			}
			if model.CosineSimilarity(memories[i].Embedding, memories[j].Embedding) >= o.params.DedupThreshold {
				parent[find(i)] = find(j)
			}
		}
	}
	clusters := make(map[int][]int)
	for i := range memories {
		root := find(i)
		clusters[root] = append(clusters[root], i)
	}
	gs, hasGraph := o.store.(store.GraphStore)
	for _, members := range clusters {
		if len(members) < 2 {
			continue
		}
		stats.Dedup.ClustersFound++
		survivorIdx := pickSurvivor(memories, members)
		survivor := memories[survivorIdx]
		for _, idx := range members {
			if idx == survivorIdx {
				continue
			}
			loser := memories[idx]
			survivor.ReferenceCount += loser.ReferenceCount
			if hasGraph {
				if err := gs.MergeInto(ctx, loser.ID, survivor.ID); err != nil {
					o.params.Logger.Printf("dedup merge %s into %s: %v", loser.ID, survivor.ID, err)
					continue
				}
			} else if err := o.store.Delete(ctx, []string{loser.ID}); err != nil {
				o.params.Logger.Printf("dedup delete %s: %v", loser.ID, err)
				continue
			}
			stats.Dedup.MemoriesMerged++
		}
		if err := o.store.Update(ctx, &survivor); err != nil {
			o.params.Logger.Printf("dedup survivor update %s: %v", survivor.ID, err)
		}
	}
	return nil
}

// pickSurvivor prefers the most important member, then the earliest.
func pickSurvivor(memories []model.Memory, members []int) int {
	best := members[0]
	for _, idx := range members[1:] {
		a, b := &memories[idx], &memories[best]
		if a.Importance > b.Importance ||
			(a.Importance == b.Importance && a.CreatedAt.Before(b.CreatedAt)) {
			best = idx
		}
	}
	return best
}

// --- conflict detection ---

func (o *Orchestrator) runConflict(ctx context.Context, stats *Stats) error {
	memories, err := o.loadScoped(ctx)
	if err != nil {
		return err
	}
	gs, hasGraph := o.store.(store.GraphStore)
	for i := 0; i < len(memories); i++ {
		a := &memories[i]
		if a.Invalidated || len(a.Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(memories); j++ {
			b := &memories[j]
			if b.Invalidated || len(b.Embedding) == 0 {
				continue
			}
			sim := model.CosineSimilarity(a.Embedding, b.Embedding)
			if sim < o.params.ConflictThreshold || sim >= o.params.DedupThreshold {
				continue
			}
			if !contradicts(a.Content, b.Content) {
				continue
			}
			stats.Conflict.PairsFound++
			weaker := a
			if strongerThan(a, b) {
				weaker = b
			}
			if err := o.store.MarkInvalidated(ctx, weaker.ID); err != nil {
				o.params.Logger.Printf("conflict invalidate %s: %v", weaker.ID, err)
				continue
			}
			weaker.Invalidated = true
			stats.Conflict.Invalidated++
			stats.Conflict.Resolved++
			if hasGraph {
				if err := gs.LinkConflict(ctx, a.ID, b.ID); err != nil {
					o.params.Logger.Printf("conflict link %s/%s: %v", a.ID, b.ID, err)
				}
			}
		}
	}
	return nil
}

// strongerThan prefers higher importance, then the newer statement.
func strongerThan(a, b *model.Memory) bool {
	if a.Importance != b.Importance {
		return a.Importance > b.Importance
	}
	return a.CreatedAt.After(b.CreatedAt)
}

var negationTokens = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "longer": {}, "stopped": {},
	"don't": {}, "doesn't": {}, "won't": {}, "can't": {}, "isn't": {}, "wasn't": {},
}

// contradicts is a cheap textual judgment: two statements about the same
// thing where exactly one side carries negation. Similarity banding upstream
// already established they cover the same topic.
func contradicts(a, b string) bool {
	aNeg := hasNegation(a)
	bNeg := hasNegation(b)
	return aNeg != bNeg
}

func hasNegation(text string) bool {
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,;:!?")
		if _, ok := negationTokens[token]; ok {
			return true
		}
	}
	return false
}

// --- pareto scoring, promotion, demotion ---

func (o *Orchestrator) runPareto(ctx context.Context, stats *Stats) error {
	memories, err := o.loadScoped(ctx)
	if err != nil {
		return err
	}
	now := o.params.Clock().UTC()
	scores := make([]float64, 0, len(memories))
	for i := range memories {
		mem := &memories[i]
		mem.ParetoScore = EffectiveScore(mem, now)
		scores = append(scores, mem.ParetoScore)
		if err := o.store.Update(ctx, mem); err != nil {
			o.params.Logger.Printf("pareto update %s: %v", mem.ID, err)
		}
	}
	stats.Pareto.TotalMemories = len(memories)
	stats.Pareto.Threshold = paretoThreshold(scores, o.params.ParetoPercentile)
	for i := range memories {
		if memories[i].IsCore {
			stats.Pareto.CoreMemories++
		} else {
			stats.Pareto.RegularMemories++
		}
	}
	return nil
}

// paretoThreshold returns the score cutting off the top `percentile` share of
// the population.
func paretoThreshold(scores []float64, percentile float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sorted := append([]float64(nil), scores...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	cut := int(math.Ceil(float64(len(sorted)) * percentile))
	if cut < 1 {
		cut = 1
	}
	if cut > len(sorted) {
		cut = len(sorted)
	}
	return sorted[cut-1]
}

func (o *Orchestrator) runPromotion(ctx context.Context, stats *Stats) error {
	memories, err := o.loadScoped(ctx)
	if err != nil {
		return err
	}
	now := o.params.Clock().UTC()
	threshold := stats.Pareto.Threshold
	var promote []string
	for i := range memories {
		mem := &memories[i]
		if mem.IsCore || mem.Invalidated {
			continue
		}
		if mem.ParetoScore < threshold {
			continue
		}
		stats.Promotion.CandidatesFound++
		if now.Sub(mem.CreatedAt) < o.params.PromotionMinAge {
			continue
		}
		promote = append(promote, mem.ID)
	}
	if len(promote) > 0 {
		if err := o.store.SetCore(ctx, promote, true); err != nil {
			return err
		}
	}
	stats.Promotion.Promoted = len(promote)
	stats.Pareto.CoreMemories += len(promote)
	stats.Pareto.RegularMemories -= len(promote)
	return nil
}

func (o *Orchestrator) runDemotion(ctx context.Context, stats *Stats) error {
	memories, err := o.loadScoped(ctx)
	if err != nil {
		return err
	}
	threshold := stats.Pareto.Threshold
	var demote []string
	for i := range memories {
		mem := &memories[i]
		if !mem.IsCore {
			continue
		}
		if mem.ParetoScore >= threshold {
			continue
		}
		stats.Demotion.CandidatesFound++
		demote = append(demote, mem.ID)
	}
	if len(demote) > 0 {
		if err := o.store.SetCore(ctx, demote, false); err != nil {
			return err
		}
	}
	stats.Demotion.Demoted = len(demote)
	stats.Pareto.CoreMemories -= len(demote)
	stats.Pareto.RegularMemories += len(demote)
	return nil
}

// --- extraction ---

func (o *Orchestrator) runExtraction(ctx context.Context, stats *Stats) error {
	gs, hasGraph := o.store.(store.GraphStore)
	attempted := make(map[string]struct{})
	firstBatch := true
	for {
		if ctx.Err() != nil {
			return nil
		}
		pending, err := o.store.ListByStatus(ctx, model.ExtractionPending, o.params.ExtractionBatchSize, o.params.Scope)
		if err != nil {
			return err
		}
		// An item still pending after an attempt means its status write
		// failed; refetching it would loop forever.
		batch := pending[:0]
		for _, mem := range pending {
			if _, done := attempted[mem.ID]; !done {
				batch = append(batch, mem)
			}
		}
		if len(batch) == 0 {
			return nil
		}
		if !firstBatch {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(o.params.ExtractionBatchDelay):
			}
		}
		firstBatch = false
		for i := range batch {
			mem := batch[i]
			attempted[mem.ID] = struct{}{}
			stats.Extraction.Total++
			result, err := o.extractor.Extract(ctx, mem.Content)
			if err != nil {
				stats.Extraction.Failed++
				mem.Status = model.ExtractionFailed
				if uerr := o.store.Update(ctx, &mem); uerr != nil {
					o.params.Logger.Printf("extraction status update %s: %v", mem.ID, uerr)
				}
				continue
			}
			mem.Status = model.ExtractionCompleted
			if result.Category != "" && result.Category != model.CategoryOther {
				mem.Category = result.Category
			}
			if result.Importance > mem.Importance {
				mem.Importance = result.Importance
			}
			if err := o.store.Update(ctx, &mem); err != nil {
				o.params.Logger.Printf("extraction update %s: %v", mem.ID, err)
				stats.Extraction.Failed++
				continue
			}
			if hasGraph && (len(result.Entities) > 0 || len(result.Tags) > 0) {
				if err := gs.UpsertEntities(ctx, mem.ID, result.Entities, result.Tags); err != nil {
					o.params.Logger.Printf("extraction graph upsert %s: %v", mem.ID, err)
				}
			}
			stats.Extraction.Succeeded++
		}
	}
}

// --- decay and pruning ---

func (o *Orchestrator) runDecay(ctx context.Context, stats *Stats) error {
	memories, err := o.loadScoped(ctx)
	if err != nil {
		return err
	}
	now := o.params.Clock().UTC()
	var prune []string
	for i := range memories {
		mem := &memories[i]
		mem.DecayScore = DecayScore(mem, now, o.params.BaseHalfLife)
		if !mem.IsCore && mem.DecayScore < o.params.DecayRetention {
			prune = append(prune, mem.ID)
			continue
		}
		if err := o.store.Update(ctx, mem); err != nil {
			o.params.Logger.Printf("decay update %s: %v", mem.ID, err)
		}
	}
	if len(prune) > 0 {
		if err := o.store.Delete(ctx, prune); err != nil {
			return err
		}
	}
	stats.Decay.MemoriesPruned = len(prune)
	return nil
}

// --- orphan cleanup ---

func (o *Orchestrator) runOrphans(ctx context.Context, stats *Stats) error {
	gs, ok := o.store.(store.GraphStore)
	if !ok {
		return nil
	}
	entities, tags, err := gs.RemoveOrphans(ctx, o.params.Scope)
	if err != nil {
		return err
	}
	stats.Orphans.EntitiesRemoved = entities
	stats.Orphans.TagsRemoved = tags
	return nil
}
