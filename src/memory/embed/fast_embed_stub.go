//go:build !fastembed

package embed

import (
	"context"
	"fmt"
)

// Options configures the local fastembed model (no-op without the tag).
type Options struct {
	Model     string
	CacheDir  string
	MaxLength int
	BatchSize int
}

func defaultFastEmbedOptions() *Options { return nil }

func NewFastEmbedder(ctx context.Context, opt *Options) (Embedder, error) {
	return nil, fmt.Errorf("fastembed support not included; rebuild with -tags fastembed")
}
