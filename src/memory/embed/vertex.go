package embed

import (
	"context"
	"errors"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const vertexMaxInput = 8000

// VertexAIEmbedder wraps the Gemini embedding API. The API embeds one text
// per call, so batching goes through the concurrent fan-out in Batch.
type VertexAIEmbedder struct {
	client *genai.Client
	model  *genai.EmbeddingModel
}

func NewVertexAIEmbedder(model string) (*VertexAIEmbedder, error) {
	key := os.Getenv("GOOGLE_API_KEY")
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key == "" {
		return nil, errors.New("GOOGLE_API_KEY not set")
	}
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(key))
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "text-embedding-004"
	}
	return &VertexAIEmbedder{client: client, model: client.EmbeddingModel(model)}, nil
}

func (e *VertexAIEmbedder) Dimension() int { return 768 }

func (e *VertexAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.model.EmbedContent(ctx, genai.Text(Truncate(text, vertexMaxInput)))
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, ErrNotSupported
	}
	return resp.Embedding.Values, nil
}

// Close releases the underlying API client.
func (e *VertexAIEmbedder) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
