package embed

import (
	"context"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

const openAIMaxInput = 32000 // bytes, well under the 8191-token model limit

// OpenAIEmbedder is batch-capable: the provider accepts many inputs per call.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

func NewOpenAIEmbedder(model string) (*OpenAIEmbedder, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		key = os.Getenv("OPENAI_KEY")
	}
	cfg := openai.DefaultConfig(key)
	cli := openai.NewClientWithConfig(cfg)
	if model == "" {
		model = "text-embedding-3-small"
	}
	dim := 1536
	if model == "text-embedding-3-large" {
		dim = 3072
	}
	return &OpenAIEmbedder{client: cli, model: model, dim: dim}, nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dim }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, ErrNotSupported
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = Truncate(t, openAIMaxInput)
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: input,
	})
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}
