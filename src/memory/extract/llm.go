package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hadron-labs/hypnos/src/memory/model"
)

// Generator performs a single-turn text completion. The Anthropic-backed
// implementation lives in anthropic.go; tests supply fakes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLMExtractor asks a language model to classify content and name the
// entities and tags it mentions. Responses that fail to parse fall back to
// the heuristic extractor so one malformed completion never stalls a batch.
type LLMExtractor struct {
	gen      Generator
	fallback HeuristicExtractor
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor wraps a generator in the extraction prompt.
func NewLLMExtractor(gen Generator) *LLMExtractor {
	return &LLMExtractor{gen: gen}
}

const extractionPrompt = `Analyze the statement below and respond with a single JSON object, no prose, no code fences:
{
  "category": one of "preference", "fact", "decision", "task", "relationship", "skill", "event", "other",
  "importance": a number from 0.0 to 1.0 for how valuable this is to remember long term,
  "entities": [{"name": "...", "kind": "person|place|organization|system|other"}],
  "tags": ["lowercase-topic", ...]
}
Entities are concrete named things the statement mentions. Tags are at most three broad topics.

Statement:
%s`

func (x *LLMExtractor) Extract(ctx context.Context, content string) (*Result, error) {
	if x == nil || x.gen == nil {
		return x.fallback.Extract(ctx, content)
	}
	raw, err := x.gen.Generate(ctx, fmt.Sprintf(extractionPrompt, content))
	if err != nil {
		return nil, fmt.Errorf("extraction completion: %w", err)
	}
	result, err := parseExtraction(raw)
	if err != nil {
		return x.fallback.Extract(ctx, content)
	}
	return result, nil
}

// parseExtraction decodes the model's JSON reply, tolerating code fences and
// surrounding chatter.
func parseExtraction(raw string) (*Result, error) {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	var payload struct {
		Category   string  `json:"category"`
		Importance float64 `json:"importance"`
		Entities   []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"entities"`
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode extraction reply: %w", err)
	}
	result := &Result{
		Category:   model.NormalizeCategory(payload.Category),
		Importance: model.Clamp01(payload.Importance),
	}
	for _, ent := range payload.Entities {
		name := model.NormalizeEntityName(ent.Name)
		if name == "" {
			continue
		}
		result.Entities = append(result.Entities, model.Entity{Name: name, Kind: strings.ToLower(strings.TrimSpace(ent.Kind))})
	}
	for _, tag := range payload.Tags {
		if name := model.NormalizeEntityName(tag); name != "" {
			result.Tags = append(result.Tags, name)
		}
	}
	return result, nil
}
