package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
)

const voyageMaxInput = 24000

// VoyageEmbedder proxies to Anthropic-recommended Voyage AI embeddings.
// Requires VOYAGE_API_KEY. The API takes a list of inputs, so it is
// batch-capable.
// Defaults:
//   - model: "voyage-3.5" (override via HYPNOS_EMBED_MODEL)
//   - input_type: "document" (override via HYPNOS_EMBED_INPUT_TYPE)
//   - endpoint: "https://api.voyageai.com/v1/embeddings" (override via VOYAGE_API_BASE)
type VoyageEmbedder struct {
	client    *http.Client
	apiKey    string
	model     string
	inputType string
	endpoint  string
}

func NewVoyageEmbedder(model string) (*VoyageEmbedder, error) {
	apiKey := os.Getenv("VOYAGE_API_KEY")
	if model == "" {
		model = "voyage-3.5"
	}
	inputType := os.Getenv("HYPNOS_EMBED_INPUT_TYPE")
	if inputType == "" {
		inputType = "document"
	}
	endpoint := os.Getenv("VOYAGE_API_BASE")
	if endpoint == "" {
		endpoint = "https://api.voyageai.com/v1/embeddings"
	}
	return &VoyageEmbedder{
		client:    &http.Client{Timeout: embedTimeout},
		apiKey:    apiKey,
		model:     model,
		inputType: inputType,
		endpoint:  endpoint,
	}, nil
}

func (e *VoyageEmbedder) Dimension() int { return 1024 }

func (e *VoyageEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, ErrNotSupported
	}
	return vecs[0], nil
}

func (e *VoyageEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.apiKey == "" {
		// Keep this explicit so callers see *why* this provider isn't working.
		return nil, errors.New("VoyageEmbedder: VOYAGE_API_KEY not set")
	}
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = Truncate(t, voyageMaxInput)
	}
	payload := map[string]any{
		"input":      input,
		"model":      e.model,
		"input_type": e.inputType,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("voyage embeddings HTTP %d: %s", resp.StatusCode, string(slurp))
	}

	var out struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index >= 0 && d.Index < len(vecs) {
			vecs[d.Index] = f64toF32(d.Embedding)
		}
	}
	return vecs, nil
}

func f64toF32(v []float64) []float32 {
	r := make([]float32, len(v))
	for i, x := range v {
		r[i] = float32(x)
	}
	return r
}
