// Package extract classifies memory content and pulls out entities and tags.
//
// Extraction runs asynchronously during the consolidation phase, never on the
// hot capture path. A heuristic fallback keeps the pipeline functional when no
// LLM is configured.
package extract

import (
	"context"
	"math"
	"strings"

	"github.com/hadron-labs/hypnos/src/memory/model"
)

// Result is what extraction produces for a single memory.
type Result struct {
	Category   model.Category `json:"category"`
	Importance float64        `json:"importance"`
	Entities   []model.Entity `json:"entities"`
	Tags       []string       `json:"tags"`
}

// Extractor analyzes one memory's content.
type Extractor interface {
	Extract(ctx context.Context, content string) (*Result, error)
}

// HeuristicImportance estimates importance from content alone. Token count
// saturates at 60 words; urgency keywords add a capped boost.
func HeuristicImportance(content string) float64 {
	tokens := strings.Fields(strings.ToLower(content))
	lengthScore := math.Min(float64(len(tokens))/60.0, 1.0)

	keywordBoost := 0.0
	urgentKeywords := []string{"urgent", "critical", "deadline", "important", "alert", "error", "outage", "failure"}
	lower := strings.ToLower(content)
	for _, kw := range urgentKeywords {
		if strings.Contains(lower, kw) {
			keywordBoost += 0.25
		}
	}
	if keywordBoost > 0.6 {
		keywordBoost = 0.6
	}
	return model.Clamp01(lengthScore + keywordBoost)
}

// HeuristicExtractor categorizes by keyword cues and rates importance without
// calling any model. It never returns entities; those need an LLM.
type HeuristicExtractor struct{}

var _ Extractor = HeuristicExtractor{}

var categoryCues = []struct {
	category model.Category
	cues     []string
}{
	{model.CategoryPreference, []string{"prefer", "favorite", "like to", "always use", "never use", "rather"}},
	{model.CategoryDecision, []string{"decided", "decision", "agreed to", "we will", "going with", "chose"}},
	{model.CategoryTask, []string{"todo", "need to", "must ", "deadline", "by friday", "by monday", "remind me"}},
	{model.CategoryRelationship, []string{"my wife", "my husband", "my boss", "coworker", "my friend", "my team", "my manager"}},
	{model.CategorySkill, []string{"knows how", "can write", "experienced in", "learned", "proficient"}},
	{model.CategoryEvent, []string{"yesterday", "last week", "happened", "met with", "attended", "shipped"}},
}

func (HeuristicExtractor) Extract(_ context.Context, content string) (*Result, error) {
	lower := strings.ToLower(content)
	category := model.CategoryOther
	for _, entry := range categoryCues {
		for _, cue := range entry.cues {
			if strings.Contains(lower, cue) {
				category = entry.category
				break
			}
		}
		if category != model.CategoryOther {
			break
		}
	}
	if category == model.CategoryOther && strings.Contains(lower, " is ") {
		category = model.CategoryFact
	}
	return &Result{
		Category:   category,
		Importance: HeuristicImportance(content),
	}, nil
}
