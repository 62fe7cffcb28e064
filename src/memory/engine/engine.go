// Package engine is the front door of the memory system. It wires the
// attention gate, the embedding provider, the store, hybrid search and the
// consolidation cycle behind the four user-facing operations: recall, store,
// forget and the sleep cycle, plus the host lifecycle hooks.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/hadron-labs/hypnos/src/memory/embed"
	"github.com/hadron-labs/hypnos/src/memory/extract"
	"github.com/hadron-labs/hypnos/src/memory/gate"
	"github.com/hadron-labs/hypnos/src/memory/model"
	"github.com/hadron-labs/hypnos/src/memory/search"
	"github.com/hadron-labs/hypnos/src/memory/session"
	"github.com/hadron-labs/hypnos/src/memory/sleep"
	"github.com/hadron-labs/hypnos/src/memory/store"
)

// Options wires an Engine.
type Options struct {
	Store     store.MemoryStore
	Embedder  embed.Embedder
	Extractor extract.Extractor

	// AgentID scopes every operation that does not carry its own scope.
	AgentID string

	// DuplicateThreshold is the similarity at or above which Store reports
	// a duplicate instead of creating a new memory.
	DuplicateThreshold float64
	// RecallLimit caps Recall results when the caller passes limit <= 0.
	RecallLimit int
	// ContextTokenGrowth is how many tokens the window may grow between
	// context refreshes before OnContextThreshold re-injects.
	ContextTokenGrowth int
	// ContextMemories caps the memories inlined into an injected context block.
	ContextMemories int
	// SessionTTL bounds how long idle session state is tracked.
	SessionTTL time.Duration

	Search search.Options
	Sleep  sleep.Params

	Clock  func() time.Time
	Logger *log.Logger
}

func (o Options) withDefaults() Options {
	if o.DuplicateThreshold == 0 {
		o.DuplicateThreshold = 0.95
	}
	if o.RecallLimit == 0 {
		o.RecallLimit = 5
	}
	if o.ContextTokenGrowth == 0 {
		o.ContextTokenGrowth = 30_000
	}
	if o.ContextMemories == 0 {
		o.ContextMemories = 10
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stderr, "hypnos: ", log.LstdFlags)
	}
	return o
}

// Engine exposes the memory operations to the host runtime.
type Engine struct {
	store     store.MemoryStore
	embedder  embed.Embedder
	extractor extract.Extractor
	searcher  *search.Engine
	sessions  *session.Tracker
	opts      Options
	metrics   Metrics
}

// New validates the wiring and builds an engine.
func New(opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if opts.Store == nil {
		return nil, configErr("memory store is required")
	}
	if opts.Embedder == nil {
		opts.Embedder = embed.AutoEmbedder()
	}
	tracker, err := session.NewTracker(opts.SessionTTL, opts.Clock)
	if err != nil {
		return nil, configErr("session tracker: %v", err)
	}
	return &Engine{
		store:     opts.Store,
		embedder:  opts.Embedder,
		extractor: opts.Extractor,
		searcher:  search.New(opts.Store, opts.Embedder, opts.Search),
		sessions:  tracker,
		opts:      opts,
	}, nil
}

// Metrics returns the engine's counter snapshot.
func (e *Engine) Metrics() MetricsSnapshot { return e.metrics.Snapshot() }

// Close releases the session tracker and, when the store supports it, the
// store connection.
func (e *Engine) Close() error {
	e.sessions.Close()
	if closer, ok := e.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (e *Engine) scope(sessionKey string) model.Scope {
	return model.Scope{AgentID: e.opts.AgentID, SessionKey: sessionKey}
}

// agentScope ignores the session so long-term operations see the whole agent.
func (e *Engine) agentScope() model.Scope {
	return model.Scope{AgentID: e.opts.AgentID}
}

// Recall returns up to limit memories ranked by hybrid relevance.
func (e *Engine) Recall(ctx context.Context, query string, limit int, useGraph bool) ([]model.Memory, error) {
	if strings.TrimSpace(query) == "" {
		return nil, validationErr("recall query is empty")
	}
	if limit <= 0 {
		limit = e.opts.RecallLimit
	}
	results, err := e.searcher.Search(ctx, query, limit, e.agentScope(), useGraph)
	if err != nil {
		return nil, storeErr("recall", err)
	}
	e.metrics.IncRecalled(len(results))
	return results, nil
}

// StoreStatus is the outcome kind of a Store call.
type StoreStatus string

const (
	StatusCreated   StoreStatus = "created"
	StatusDuplicate StoreStatus = "duplicate"
)

// StoreResult reports what Store did. On duplicate, Memory is the existing
// record the new text collapsed into.
type StoreResult struct {
	Status StoreStatus  `json:"status"`
	Memory model.Memory `json:"memory"`
}

// Store persists a new memory unless a near-identical one already exists.
// importance < 0 means "rate it for me".
func (e *Engine) Store(ctx context.Context, text string, importance float64, category model.Category, source, sessionKey string) (*StoreResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, validationErr("memory text is empty")
	}
	if importance > 1 {
		return nil, validationErr("importance %f out of range", importance)
	}
	if importance < 0 {
		importance = e.rate(ctx, text)
	}
	if category == "" {
		category = model.CategoryOther
	}
	if source == "" {
		source = model.SourceUser
	}

	vector, err := e.embedder.Embed(ctx, embed.Truncate(text, 8000))
	if err != nil {
		// Store without a vector rather than losing the fact; Reindex
		// backfills embeddings later.
		e.opts.Logger.Printf("store: embedding failed, storing unindexed: %v", err)
		vector = nil
	}

	if len(vector) > 0 {
		dupes, err := e.store.SearchSimilar(ctx, vector, e.opts.DuplicateThreshold, 1, e.agentScope())
		if err != nil {
			return nil, storeErr("duplicate check", err)
		}
		if len(dupes) > 0 {
			e.metrics.IncDuplicates()
			return &StoreResult{Status: StatusDuplicate, Memory: dupes[0]}, nil
		}
	}

	mem := &model.Memory{
		Content:    text,
		Embedding:  vector,
		Importance: model.Clamp01(importance),
		Category:   category,
		Source:     source,
		Status:     model.ExtractionPending,
		CreatedAt:  e.opts.Clock().UTC(),
		AgentID:    e.opts.AgentID,
		SessionKey: sessionKey,
	}
	if e.extractor == nil {
		mem.Status = model.ExtractionSkipped
	}
	if err := e.store.Create(ctx, mem); err != nil {
		return nil, storeErr("create memory", err)
	}
	e.metrics.IncStored()
	return &StoreResult{Status: StatusCreated, Memory: *mem}, nil
}

// rate estimates importance, preferring the extractor when configured.
func (e *Engine) rate(ctx context.Context, text string) float64 {
	if e.extractor != nil {
		if res, err := e.extractor.Extract(ctx, text); err == nil {
			return model.Clamp01(res.Importance)
		}
		// Fall through to the heuristic on provider failure.
	}
	return extract.HeuristicImportance(text)
}

// ForgetStatus is the outcome kind of a Forget call.
type ForgetStatus string

const (
	ForgetDeleted    ForgetStatus = "deleted"
	ForgetCandidates ForgetStatus = "candidates"
	ForgetNotFound   ForgetStatus = "not-found"
)

// ForgetResult reports what Forget did. On "candidates" the caller is
// expected to confirm with an exact id.
type ForgetResult struct {
	Status     ForgetStatus   `json:"status"`
	Deleted    string         `json:"deleted,omitempty"`
	Candidates []model.Memory `json:"candidates,omitempty"`
}

// Forget deletes by exact id, or searches by text and returns candidates
// instead of guessing which match to destroy.
func (e *Engine) Forget(ctx context.Context, idOrQuery string) (*ForgetResult, error) {
	idOrQuery = strings.TrimSpace(idOrQuery)
	if idOrQuery == "" {
		return nil, validationErr("forget target is empty")
	}

	if mem, err := e.store.Get(ctx, idOrQuery); err == nil {
		if err := e.store.Delete(ctx, []string{mem.ID}); err != nil {
			return nil, storeErr("delete memory", err)
		}
		e.metrics.IncForgotten(1)
		return &ForgetResult{Status: ForgetDeleted, Deleted: mem.ID}, nil
	}

	candidates, err := e.searcher.Search(ctx, idOrQuery, e.opts.RecallLimit, e.agentScope(), false)
	if err != nil {
		return nil, storeErr("forget search", err)
	}
	if len(candidates) == 0 {
		return &ForgetResult{Status: ForgetNotFound}, nil
	}
	return &ForgetResult{Status: ForgetCandidates, Candidates: candidates}, nil
}

// RunSleepCycle executes consolidation over this engine's agent scope.
// Callers must not run two cycles over the same scope concurrently.
func (e *Engine) RunSleepCycle(ctx context.Context, params sleep.Params) (*sleep.Stats, error) {
	if params.Scope.All() {
		params.Scope = e.agentScope()
	}
	if params.Clock == nil {
		params.Clock = e.opts.Clock
	}
	if params.Logger == nil {
		params.Logger = e.opts.Logger
	}
	if err := validateSleepParams(params); err != nil {
		return nil, err
	}
	orch := sleep.New(e.store, e.extractor, params)
	stats, err := orch.Run(ctx)
	if err != nil {
		return stats, storeErr("sleep cycle", err)
	}
	e.metrics.IncSleepCycles()
	return stats, nil
}

func validateSleepParams(p sleep.Params) error {
	check := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return validationErr("%s %f out of range", name, v)
		}
		return nil
	}
	if err := check("dedup threshold", p.DedupThreshold); err != nil {
		return err
	}
	if err := check("conflict threshold", p.ConflictThreshold); err != nil {
		return err
	}
	if err := check("pareto percentile", p.ParetoPercentile); err != nil {
		return err
	}
	if err := check("decay retention", p.DecayRetention); err != nil {
		return err
	}
	if p.ConflictThreshold > 0 && p.DedupThreshold > 0 && p.ConflictThreshold >= p.DedupThreshold {
		return validationErr("conflict threshold %f must sit below dedup threshold %f", p.ConflictThreshold, p.DedupThreshold)
	}
	return nil
}

// Reindex backfills missing embeddings in batches.
func (e *Engine) Reindex(ctx context.Context, batchSize int) (int, error) {
	updated, err := e.store.Reindex(ctx, batchSize, func(ctx context.Context, texts []string) ([][]float32, error) {
		vecs, failed := embed.Batch(ctx, e.embedder, texts)
		if failed == len(texts) && len(texts) > 0 {
			// A whole batch failing means the provider is down, not bad input.
			return nil, providerErr("batch embedding", fmt.Errorf("all %d items failed", len(texts)))
		}
		if failed > 0 {
			e.opts.Logger.Printf("reindex: %d of %d embeddings failed", failed, len(texts))
		}
		return vecs, nil
	})
	if err != nil {
		return updated, storeErr("reindex", err)
	}
	return updated, nil
}

// Capture runs text through the attention gate and, when it passes, stores
// it as an auto-captured memory. Background path: store failures are logged,
// never returned.
func (e *Engine) Capture(ctx context.Context, text string, role gate.Role, sessionKey string) bool {
	e.metrics.IncCaptured()
	if rejected, reason := gate.Reject(text, role); rejected {
		e.metrics.IncGateRejected()
		if reason != "too-short" && reason != "too-few-words" {
			e.opts.Logger.Printf("gate rejected %s turn: %s", role, reason)
		}
		return false
	}
	source := model.SourceAutoCapture
	if role == gate.RoleAssistant {
		source = model.SourceAutoAssistant
	}
	if _, err := e.Store(ctx, text, -1, "", source, sessionKey); err != nil {
		e.opts.Logger.Printf("auto-capture dropped: %v", err)
		return false
	}
	return true
}
