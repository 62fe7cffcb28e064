package session

import (
	"testing"
	"time"
)

func newTestTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tracker, err := NewTracker(time.Hour, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	t.Cleanup(tracker.Close)
	return tracker, &now
}

func TestTrackerBootstrapFlag(t *testing.T) {
	tracker, _ := newTestTracker(t)

	if tracker.Bootstrapped("sess-1") {
		t.Fatal("fresh session reported bootstrapped")
	}
	tracker.MarkBootstrapped("sess-1")
	if !tracker.Bootstrapped("sess-1") {
		t.Fatal("bootstrap flag not persisted")
	}
	if tracker.Bootstrapped("sess-2") {
		t.Fatal("flag leaked across sessions")
	}
}

func TestTrackerTokens(t *testing.T) {
	tracker, _ := newTestTracker(t)

	if tracker.Tokens("sess-1") != 0 {
		t.Fatal("fresh session has tokens")
	}
	tracker.SetTokens("sess-1", 42_000)
	if got := tracker.Tokens("sess-1"); got != 42_000 {
		t.Fatalf("tokens = %d", got)
	}
}

func TestTrackerReset(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.MarkBootstrapped("sess-1")
	tracker.SetTokens("sess-1", 100)
	tracker.Reset("sess-1")
	if tracker.Bootstrapped("sess-1") || tracker.Tokens("sess-1") != 0 {
		t.Fatal("reset did not clear state")
	}
}

func TestTrackerSweepEvictsIdleSessions(t *testing.T) {
	tracker, now := newTestTracker(t)

	tracker.MarkBootstrapped("idle")
	*now = now.Add(2 * time.Hour)
	tracker.Touch("active")

	if tracker.Len() != 1 {
		t.Fatalf("tracked sessions = %d, want 1 after sweep", tracker.Len())
	}
	if tracker.Bootstrapped("idle") {
		t.Fatal("idle session survived sweep")
	}
}

func TestTrackerSweepIsThrottled(t *testing.T) {
	tracker, now := newTestTracker(t)

	tracker.Touch("a")
	// First touch set lastSweep. Advance past the ttl but stay within the
	// sweep interval: the idle session must linger in the index.
	*now = now.Add(61 * time.Minute)
	tracker.mu.Lock()
	tracker.lastSweep = now.Add(-30 * time.Second)
	tracker.mu.Unlock()
	tracker.Touch("b")
	if tracker.Len() != 2 {
		t.Fatalf("throttled sweep ran early, len = %d", tracker.Len())
	}

	tracker.mu.Lock()
	tracker.lastSweep = now.Add(-2 * time.Minute)
	tracker.mu.Unlock()
	tracker.Touch("b")
	if tracker.Len() != 1 {
		t.Fatalf("sweep did not run, len = %d", tracker.Len())
	}
}
