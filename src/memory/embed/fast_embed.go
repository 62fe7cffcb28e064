//go:build fastembed

package embed

import (
	"context"
	"fmt"
	"runtime"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedder runs a local ONNX embedding model. Guarded behind the
// fastembed build tag so default builds skip the onnxruntime dependency.
type FastEmbedder struct {
	m   *fastembed.FlagEmbedding
	dim int
	bs  int
}

// Options configures the local fastembed model.
type Options struct {
	Model     string // e.g. string(fastembed.BGESmallENV15), the default
	CacheDir  string // e.g. ".fastembed"
	MaxLength int    // token limit, 0 = library default
	BatchSize int    // capped by CPU count below
}

func defaultFastEmbedOptions() *Options {
	return &Options{
		Model:     string(fastembed.BGESmallENV15),
		CacheDir:  ".fastembed",
		BatchSize: 64,
	}
}

func NewFastEmbedder(ctx context.Context, opt *Options) (Embedder, error) {
	var init *fastembed.InitOptions
	if opt != nil {
		init = &fastembed.InitOptions{
			Model:     fastembed.EmbeddingModel(opt.Model),
			CacheDir:  opt.CacheDir,
			MaxLength: opt.MaxLength,
		}
	}
	m, err := fastembed.NewFlagEmbedding(init)
	if err != nil {
		return nil, err
	}
	bs := 64
	if opt != nil && opt.BatchSize > 0 {
		bs = opt.BatchSize
	}
	if bs > 4*runtime.GOMAXPROCS(0) {
		bs = 4 * runtime.GOMAXPROCS(0)
	}
	return &FastEmbedder{m: m, dim: 768, bs: bs}, nil // bge-small-en-v1.5 = 768 dims
}

func (e *FastEmbedder) Close() error {
	if e.m != nil {
		e.m.Destroy()
	}
	return nil
}

func (e *FastEmbedder) Dimension() int { return e.dim }

func (e *FastEmbedder) Embed(ctx context.Context, q string) ([]float32, error) {
	return e.m.QueryEmbed(q)
}

// EmbedBatch embeds a batch of passages (adds the model's prefix if missing).
func (e *FastEmbedder) EmbedBatch(ctx context.Context, docs []string) ([][]float32, error) {
	inputs := make([]string, len(docs))
	for i, d := range docs {
		if len(d) >= 8 && d[:8] == "passage:" {
			inputs[i] = d
		} else {
			inputs[i] = "passage: " + d
		}
	}
	out, err := e.m.PassageEmbed(inputs, e.bs)
	if err != nil {
		return nil, fmt.Errorf("passage embed: %w", err)
	}
	return out, nil
}
