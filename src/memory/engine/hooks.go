package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hadron-labs/hypnos/src/memory/gate"
	"github.com/hadron-labs/hypnos/src/memory/model"
)

// TurnEvent describes one completed conversation turn as seen by the host.
type TurnEvent struct {
	SessionKey    string
	UserText      string
	AssistantText string
	// WindowTokens is the host's estimate of the current context window
	// size, used to decide when a refresh is due.
	WindowTokens int
}

// OnTurnComplete feeds both sides of the turn through the attention gate.
// It never fails; capture problems are logged and the turn moves on.
func (e *Engine) OnTurnComplete(ctx context.Context, ev TurnEvent) {
	e.sessions.Touch(ev.SessionKey)
	e.Capture(ctx, ev.UserText, gate.RoleUser, ev.SessionKey)
	e.Capture(ctx, ev.AssistantText, gate.RoleAssistant, ev.SessionKey)
}

// OnSessionReset runs when a conversation starts or is cleared. The first
// call per session returns a bootstrap context block of core memories;
// later resets clear the tracked state and bootstrap again.
func (e *Engine) OnSessionReset(ctx context.Context, sessionKey string) string {
	if e.sessions.Bootstrapped(sessionKey) {
		e.sessions.Reset(sessionKey)
	}
	block := e.coreContext(ctx)
	e.sessions.MarkBootstrapped(sessionKey)
	if block != "" {
		e.metrics.IncInjections()
	}
	return block
}

// OnContextThreshold checks whether the window has grown enough since the
// last refresh to warrant re-injecting relevant memories. It returns the
// context block to inject, or "" when no refresh is due.
func (e *Engine) OnContextThreshold(ctx context.Context, ev TurnEvent) string {
	e.sessions.Touch(ev.SessionKey)
	last := e.sessions.Tokens(ev.SessionKey)
	if ev.WindowTokens-last < e.opts.ContextTokenGrowth {
		return ""
	}
	block := e.relevantContext(ctx, ev.UserText)
	if block == "" {
		return ""
	}
	e.sessions.SetTokens(ev.SessionKey, ev.WindowTokens)
	e.metrics.IncInjections()
	return block
}

// OnPostCompaction re-injects after the host compacts its window, since
// compaction usually discards earlier injected blocks.
func (e *Engine) OnPostCompaction(ctx context.Context, ev TurnEvent) string {
	block := e.relevantContext(ctx, ev.UserText)
	if block == "" {
		block = e.coreContext(ctx)
	}
	if block != "" {
		e.sessions.SetTokens(ev.SessionKey, ev.WindowTokens)
		e.metrics.IncInjections()
	}
	return block
}

// coreContext renders the agent's most important core memories.
func (e *Engine) coreContext(ctx context.Context) string {
	var core []model.Memory
	err := e.store.Iterate(ctx, e.agentScope(), func(m model.Memory) bool {
		if m.IsCore && !m.Invalidated {
			core = append(core, m)
		}
		return true
	})
	if err != nil {
		e.opts.Logger.Printf("core context skipped: %v", err)
		return ""
	}
	sortByImportance(core)
	return renderContext("Core memories about this user and agent:", trimTo(core, e.opts.ContextMemories))
}

// relevantContext renders memories relevant to the given text.
func (e *Engine) relevantContext(ctx context.Context, query string) string {
	if strings.TrimSpace(query) == "" {
		return ""
	}
	results, err := e.searcher.Search(ctx, query, e.opts.ContextMemories, e.agentScope(), true)
	if err != nil {
		e.opts.Logger.Printf("context refresh skipped: %v", err)
		return ""
	}
	return renderContext("Relevant memories for the current conversation:", results)
}

func renderContext(heading string, memories []model.Memory) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(gate.ContextMarker)
	b.WriteString(" ")
	b.WriteString(heading)
	b.WriteString("\n")
	for _, m := range memories {
		fmt.Fprintf(&b, "- [%s] %s\n", m.Category, m.Content)
	}
	return b.String()
}

func sortByImportance(memories []model.Memory) {
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].Importance > memories[j].Importance
	})
}

func trimTo(memories []model.Memory, limit int) []model.Memory {
	if limit > 0 && len(memories) > limit {
		return memories[:limit]
	}
	return memories
}
