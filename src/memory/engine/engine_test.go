package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hadron-labs/hypnos/src/memory/embed"
	"github.com/hadron-labs/hypnos/src/memory/gate"
	"github.com/hadron-labs/hypnos/src/memory/model"
	"github.com/hadron-labs/hypnos/src/memory/sleep"
	"github.com/hadron-labs/hypnos/src/memory/store"
)

func testEngine(t *testing.T, mutate func(*Options)) (*Engine, *store.InMemoryStore) {
	t.Helper()
	s := store.NewInMemoryStore(768)
	opts := Options{
		Store:    s,
		Embedder: embed.DummyEmbedder{},
		AgentID:  "agent-1",
	}
	if mutate != nil {
		mutate(&opts)
	}
	eng, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng, s
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Options{})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestStoreThenDuplicate(t *testing.T) {
	eng, _ := testEngine(t, nil)
	ctx := context.Background()

	first, err := eng.Store(ctx, "the deploy window is friday at noon", 0.8, model.CategoryFact, "", "")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if first.Status != StatusCreated {
		t.Fatalf("first store status = %q, want created", first.Status)
	}
	if first.Memory.ID == "" {
		t.Fatal("created memory has no id")
	}

	second, err := eng.Store(ctx, "the deploy window is friday at noon", 0.8, model.CategoryFact, "", "")
	if err != nil {
		t.Fatalf("Store again: %v", err)
	}
	if second.Status != StatusDuplicate {
		t.Fatalf("second store status = %q, want duplicate", second.Status)
	}
	if second.Memory.ID != first.Memory.ID {
		t.Fatalf("duplicate references %s, want %s", second.Memory.ID, first.Memory.ID)
	}

	m := eng.Metrics()
	if m.Stored != 1 || m.Duplicates != 1 {
		t.Fatalf("metrics stored=%d duplicates=%d, want 1/1", m.Stored, m.Duplicates)
	}
}

func TestStoreValidation(t *testing.T) {
	eng, _ := testEngine(t, nil)
	ctx := context.Background()

	if _, err := eng.Store(ctx, "   ", 0.5, "", "", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty text: expected ErrValidation, got %v", err)
	}
	if _, err := eng.Store(ctx, "some perfectly fine text", 1.5, "", "", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("importance 1.5: expected ErrValidation, got %v", err)
	}
	if _, err := eng.Recall(ctx, "", 5, false); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty query: expected ErrValidation, got %v", err)
	}
	if _, err := eng.Forget(ctx, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty forget target: expected ErrValidation, got %v", err)
	}
}

func TestStoreAutoImportance(t *testing.T) {
	eng, _ := testEngine(t, nil)

	res, err := eng.Store(context.Background(), "urgent: the production database backup job failed overnight", -1, "", "", "")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if res.Memory.Importance <= 0 || res.Memory.Importance > 1 {
		t.Fatalf("auto importance %f outside (0,1]", res.Memory.Importance)
	}
}

func TestRecallBumpsReferenceCount(t *testing.T) {
	eng, s := testEngine(t, nil)
	ctx := context.Background()

	created, err := eng.Store(ctx, "the user prefers postgres over mongodb for new services", 0.9, model.CategoryPreference, "", "")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	results, err := eng.Recall(ctx, "which database does the user prefer", 3, false)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}

	got, err := s.Get(ctx, created.Memory.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ReferenceCount != 1 {
		t.Fatalf("reference count = %d, want 1", got.ReferenceCount)
	}
	if m := eng.Metrics(); m.Recalled != int64(len(results)) {
		t.Fatalf("recalled metric = %d, want %d", m.Recalled, len(results))
	}
}

func TestForgetOutcomes(t *testing.T) {
	eng, _ := testEngine(t, nil)
	ctx := context.Background()

	created, err := eng.Store(ctx, "the staging cluster lives in eu-west-1", 0.6, model.CategoryFact, "", "")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	byQuery, err := eng.Forget(ctx, "where does the staging cluster live")
	if err != nil {
		t.Fatalf("Forget by query: %v", err)
	}
	if byQuery.Status != ForgetCandidates || len(byQuery.Candidates) == 0 {
		t.Fatalf("expected candidates, got %q with %d", byQuery.Status, len(byQuery.Candidates))
	}

	byID, err := eng.Forget(ctx, created.Memory.ID)
	if err != nil {
		t.Fatalf("Forget by id: %v", err)
	}
	if byID.Status != ForgetDeleted || byID.Deleted != created.Memory.ID {
		t.Fatalf("expected deletion of %s, got %+v", created.Memory.ID, byID)
	}

	gone, err := eng.Forget(ctx, "anything at all now that the store is empty")
	if err != nil {
		t.Fatalf("Forget on empty store: %v", err)
	}
	if gone.Status != ForgetNotFound {
		t.Fatalf("expected not-found, got %q", gone.Status)
	}
}

func TestCaptureGate(t *testing.T) {
	eng, s := testEngine(t, nil)
	ctx := context.Background()

	if eng.Capture(ctx, "ok", gate.RoleUser, "sess-1") {
		t.Fatal("gate should reject a bare acknowledgment")
	}
	if !eng.Capture(ctx, "I always deploy from the release branch, never from main", gate.RoleUser, "sess-1") {
		t.Fatal("gate should accept a substantive statement")
	}

	m := eng.Metrics()
	if m.Captured != 2 || m.GateRejected != 1 {
		t.Fatalf("metrics captured=%d rejected=%d, want 2/1", m.Captured, m.GateRejected)
	}

	var stored []model.Memory
	if err := s.Iterate(ctx, model.Scope{}, func(mm model.Memory) bool {
		stored = append(stored, mm)
		return true
	}); err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored %d memories, want 1", len(stored))
	}
	if stored[0].Source != model.SourceAutoCapture {
		t.Fatalf("source = %q, want %q", stored[0].Source, model.SourceAutoCapture)
	}
	if stored[0].SessionKey != "sess-1" {
		t.Fatalf("session key = %q, want sess-1", stored[0].SessionKey)
	}
}

func TestOnTurnCompleteCapturesBothSides(t *testing.T) {
	eng, s := testEngine(t, nil)
	ctx := context.Background()

	eng.OnTurnComplete(ctx, TurnEvent{
		SessionKey:    "sess-2",
		UserText:      "please remember that invoices are always numbered by fiscal year",
		AssistantText: "Noted, invoice numbering follows the fiscal year across all eight regional subsidiaries going forward.",
	})

	count, err := s.Count(ctx, model.Scope{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Fatalf("captured %d memories, want 2", count)
	}
}

func TestSessionBootstrapInjectsCoreMemories(t *testing.T) {
	eng, s := testEngine(t, nil)
	ctx := context.Background()

	core := &model.Memory{
		Content:    "the user is the on-call lead for the payments team",
		Embedding:  embed.DummyEmbedding("the user is the on-call lead for the payments team"),
		Importance: 0.95,
		Category:   model.CategoryFact,
		Source:     model.SourceUser,
		Status:     model.ExtractionCompleted,
		IsCore:     true,
		AgentID:    "agent-1",
	}
	if err := s.Create(ctx, core); err != nil {
		t.Fatalf("Create: %v", err)
	}

	block := eng.OnSessionReset(ctx, "sess-3")
	if block == "" {
		t.Fatal("expected a bootstrap context block")
	}
	if !strings.HasPrefix(block, gate.ContextMarker) {
		t.Fatalf("block does not start with the context marker: %q", block)
	}
	if !strings.Contains(block, core.Content) {
		t.Fatalf("block missing core memory content: %q", block)
	}

	// The injected block itself must never survive the gate.
	if eng.Capture(ctx, block, gate.RoleAssistant, "sess-3") {
		t.Fatal("gate accepted the engine's own injected context")
	}
}

func TestContextThresholdRefreshesOnGrowth(t *testing.T) {
	eng, _ := testEngine(t, func(o *Options) { o.ContextTokenGrowth = 1000 })
	ctx := context.Background()

	if _, err := eng.Store(ctx, "weekly report goes out monday morning to the leadership list", 0.7, model.CategoryFact, "", ""); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if block := eng.OnContextThreshold(ctx, TurnEvent{SessionKey: "sess-4", UserText: "when is the weekly report due", WindowTokens: 500}); block != "" {
		t.Fatalf("refresh below the growth threshold, got %q", block)
	}

	block := eng.OnContextThreshold(ctx, TurnEvent{SessionKey: "sess-4", UserText: "when is the weekly report due", WindowTokens: 1500})
	if block == "" {
		t.Fatal("expected a refresh block once the window grew enough")
	}
	if !strings.Contains(block, gate.ContextMarker) {
		t.Fatalf("block missing context marker: %q", block)
	}

	// Token watermark moved; the same window size must not refresh again.
	if again := eng.OnContextThreshold(ctx, TurnEvent{SessionKey: "sess-4", UserText: "when is the weekly report due", WindowTokens: 1500}); again != "" {
		t.Fatalf("unexpected second refresh: %q", again)
	}
}

func TestRunSleepCycleValidatesParams(t *testing.T) {
	eng, _ := testEngine(t, nil)
	ctx := context.Background()

	bad := sleep.DefaultParams()
	bad.ConflictThreshold = 0.99
	if _, err := eng.RunSleepCycle(ctx, bad); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for inverted thresholds, got %v", err)
	}

	params := sleep.DefaultParams()
	params.Clock = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }
	stats, err := eng.RunSleepCycle(ctx, params)
	if err != nil {
		t.Fatalf("RunSleepCycle: %v", err)
	}
	if stats == nil || stats.Aborted {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if m := eng.Metrics(); m.SleepCycles != 1 {
		t.Fatalf("sleep cycle metric = %d, want 1", m.SleepCycles)
	}
}

func TestReindexBackfillsEmbeddings(t *testing.T) {
	eng, s := testEngine(t, nil)
	ctx := context.Background()

	for _, content := range []string{"first unindexed note", "second unindexed note"} {
		mem := &model.Memory{
			Content:    content,
			Importance: 0.5,
			Category:   model.CategoryOther,
			Source:     model.SourceUser,
			Status:     model.ExtractionCompleted,
			AgentID:    "agent-1",
		}
		if err := s.Create(ctx, mem); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	updated, err := eng.Reindex(ctx, 10)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if updated != 2 {
		t.Fatalf("reindexed %d, want 2", updated)
	}
}
