package embed

import (
	"context"
	"net/http"
	"net/url"
	"os"

	ollama "github.com/ollama/ollama/api"
)

const ollamaMaxInput = 16000

// OllamaEmbedder talks to a local Ollama daemon. The embed endpoint accepts
// batched input, so it is batch-capable.
type OllamaEmbedder struct {
	client *ollama.Client
	model  string
}

func NewOllamaEmbedder(model string) (*OllamaEmbedder, error) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: embedTimeout}
	cli := ollama.NewClient(u, httpClient)

	if model == "" {
		// Commonly available local embedding model; override as needed.
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{client: cli, model: model}, nil
}

// Dimension is unknown until the first call; nomic-embed-text yields 768.
func (e *OllamaEmbedder) Dimension() int { return 0 }

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.client.Embed(ctx, &ollama.EmbedRequest{
		Model: e.model,
		Input: Truncate(text, ollamaMaxInput),
	})
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0]) == 0 {
		return nil, ErrNotSupported
	}
	return res.Embeddings[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = Truncate(t, ollamaMaxInput)
	}
	res, err := e.client.Embed(ctx, &ollama.EmbedRequest{
		Model: e.model,
		Input: input,
	})
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		if res != nil && i < len(res.Embeddings) {
			out[i] = res.Embeddings[i]
		}
	}
	return out, nil
}
