package concurrent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestForEachRunsEveryIndex(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int]bool)

	err := ForEach(context.Background(), 50, 4, func(i int) {
		mu.Lock()
		seen[i] = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(seen) != 50 {
		t.Fatalf("ran %d indexes, want 50", len(seen))
	}
}

func TestForEachBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int64

	err := ForEach(context.Background(), 100, 3, func(int) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		inFlight.Add(-1)
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if p := peak.Load(); p > 3 {
		t.Fatalf("peak concurrency %d exceeds the bound", p)
	}
}

func TestForEachStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int64
	err := ForEach(ctx, 10, 1, func(int) { ran.Add(1) })
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if ran.Load() != 0 {
		t.Fatalf("%d items ran after cancellation", ran.Load())
	}
}

func TestForEachEmpty(t *testing.T) {
	if err := ForEach(context.Background(), 0, 4, func(int) { t.Fatal("should not run") }); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
}
