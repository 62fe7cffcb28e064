// Package session tracks per-session engine state: whether a session was
// bootstrapped with recalled context and how many tokens were in the window
// at the last refresh. State is advisory; losing it only costs one redundant
// context injection.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// State is what the engine remembers about one live session.
type State struct {
	Bootstrapped      bool
	LastRefreshTokens int
	LastSeen          time.Time
}

const (
	defaultTTL        = 12 * time.Hour
	defaultSweepEvery = time.Minute
	maxSessions       = 10_000
)

// Tracker is a bounded session-state cache. Ristretto bounds the hot path;
// an explicit index swept on a throttled cadence gives deterministic
// time-based eviction under an injectable clock.
type Tracker struct {
	cache *ristretto.Cache

	mu        sync.Mutex
	lastSeen  map[string]time.Time
	ttl       time.Duration
	sweepGap  time.Duration
	lastSweep time.Time
	nowFn     func() time.Time
}

// NewTracker builds a tracker. ttl <= 0 takes the default; nowFn nil uses
// the wall clock.
func NewTracker(ttl time.Duration, nowFn func() time.Time) (*Tracker, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxSessions * 10,
		MaxCost:     maxSessions,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	return &Tracker{
		cache:    cache,
		lastSeen: make(map[string]time.Time),
		ttl:      ttl,
		sweepGap: defaultSweepEvery,
		nowFn:    nowFn,
	}, nil
}

// Touch records activity for the session and returns its current state,
// creating a fresh one if needed.
func (t *Tracker) Touch(sessionKey string) State {
	now := t.nowFn()
	state := t.get(sessionKey)
	state.LastSeen = now
	t.put(sessionKey, state, now)
	t.maybeSweep(now)
	return state
}

// Bootstrapped reports whether the session already received its recall
// context.
func (t *Tracker) Bootstrapped(sessionKey string) bool {
	return t.get(sessionKey).Bootstrapped
}

// MarkBootstrapped flags the session so context is not injected twice.
func (t *Tracker) MarkBootstrapped(sessionKey string) {
	now := t.nowFn()
	state := t.get(sessionKey)
	state.Bootstrapped = true
	state.LastSeen = now
	t.put(sessionKey, state, now)
}

// Tokens returns the token count recorded at the last context refresh.
func (t *Tracker) Tokens(sessionKey string) int {
	return t.get(sessionKey).LastRefreshTokens
}

// SetTokens records the window size at the time of a context refresh.
func (t *Tracker) SetTokens(sessionKey string, tokens int) {
	now := t.nowFn()
	state := t.get(sessionKey)
	state.LastRefreshTokens = tokens
	state.LastSeen = now
	t.put(sessionKey, state, now)
}

// Reset drops the session's state entirely.
func (t *Tracker) Reset(sessionKey string) {
	t.cache.Del(sessionKey)
	t.mu.Lock()
	delete(t.lastSeen, sessionKey)
	t.mu.Unlock()
}

// Len reports how many sessions are currently tracked.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastSeen)
}

// Close releases the underlying cache.
func (t *Tracker) Close() {
	t.cache.Close()
}

func (t *Tracker) get(sessionKey string) State {
	if value, ok := t.cache.Get(sessionKey); ok {
		if state, ok := value.(State); ok {
			return state
		}
	}
	return State{}
}

func (t *Tracker) put(sessionKey string, state State, now time.Time) {
	t.cache.SetWithTTL(sessionKey, state, 1, t.ttl)
	// Set is buffered; Wait makes the state visible to the next Get.
	t.cache.Wait()
	t.mu.Lock()
	t.lastSeen[sessionKey] = now
	t.mu.Unlock()
}

// maybeSweep evicts idle sessions, at most once per sweep interval.
func (t *Tracker) maybeSweep(now time.Time) {
	t.mu.Lock()
	if now.Sub(t.lastSweep) < t.sweepGap {
		t.mu.Unlock()
		return
	}
	t.lastSweep = now
	var expired []string
	for key, seen := range t.lastSeen {
		if now.Sub(seen) > t.ttl {
			expired = append(expired, key)
			delete(t.lastSeen, key)
		}
	}
	t.mu.Unlock()
	for _, key := range expired {
		t.cache.Del(key)
	}
}
