// Package concurrent provides the bounded fan-out primitive shared by the
// embedding and bulk-update paths.
package concurrent

import (
	"context"
	"sync"
)

const defaultMaxWorkers = 10

// ForEach runs fn(i) for every index in [0, n) with at most maxConcurrency
// goroutines in flight. fn is responsible for recording its own per-item
// failures. ForEach returns an error only when ctx is cancelled; indexes not
// yet started are skipped, in-flight ones finish.
func ForEach(ctx context.Context, n, maxConcurrency int, fn func(i int)) error {
	if n <= 0 {
		return nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxWorkers
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrency)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return err
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
	return nil
}
