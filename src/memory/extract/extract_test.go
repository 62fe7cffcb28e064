package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hadron-labs/hypnos/src/memory/model"
)

func TestHeuristicImportance(t *testing.T) {
	short := HeuristicImportance("ok")
	long := HeuristicImportance(strings.Repeat("word ", 80))
	if short >= long {
		t.Fatalf("short %v should rate below long %v", short, long)
	}
	if long != 1.0 {
		t.Fatalf("saturated length score = %v, want 1.0", long)
	}
	urgent := HeuristicImportance("urgent outage in production")
	plain := HeuristicImportance("sunny weather in production")
	if urgent <= plain {
		t.Fatalf("urgency boost missing: %v <= %v", urgent, plain)
	}
}

func TestHeuristicExtractorCategories(t *testing.T) {
	cases := []struct {
		content string
		want    model.Category
	}{
		{"I prefer dark roast coffee in the morning", model.CategoryPreference},
		{"we decided to migrate to postgres next quarter", model.CategoryDecision},
		{"need to renew the certificate, deadline is tomorrow", model.CategoryTask},
		{"my boss approved the proposal", model.CategoryRelationship},
		{"the office is in amsterdam", model.CategoryFact},
		{"asdf qwerty", model.CategoryOther},
	}
	for _, tc := range cases {
		res, err := HeuristicExtractor{}.Extract(context.Background(), tc.content)
		if err != nil {
			t.Fatalf("extract %q: %v", tc.content, err)
		}
		if res.Category != tc.want {
			t.Errorf("category(%q) = %s, want %s", tc.content, res.Category, tc.want)
		}
	}
}

type fakeGenerator struct {
	reply string
	err   error
}

func (f fakeGenerator) Generate(context.Context, string) (string, error) {
	return f.reply, f.err
}

func TestLLMExtractorParsesReply(t *testing.T) {
	reply := "```json\n{\"category\": \"Preference\", \"importance\": 0.8, \"entities\": [{\"name\": \"  Dark  Roast \", \"kind\": \"Other\"}], \"tags\": [\"Coffee\"]}\n```"
	x := NewLLMExtractor(fakeGenerator{reply: reply})
	res, err := x.Extract(context.Background(), "I prefer dark roast")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Category != model.CategoryPreference {
		t.Fatalf("category = %s", res.Category)
	}
	if res.Importance != 0.8 {
		t.Fatalf("importance = %v", res.Importance)
	}
	if len(res.Entities) != 1 || res.Entities[0].Name != "dark roast" {
		t.Fatalf("entities = %v", res.Entities)
	}
	if len(res.Tags) != 1 || res.Tags[0] != "coffee" {
		t.Fatalf("tags = %v", res.Tags)
	}
}

func TestLLMExtractorFallsBackOnGarbage(t *testing.T) {
	x := NewLLMExtractor(fakeGenerator{reply: "sorry, I cannot help with that"})
	res, err := x.Extract(context.Background(), "we decided to use mongo")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Category != model.CategoryDecision {
		t.Fatalf("fallback category = %s", res.Category)
	}
}

func TestLLMExtractorPropagatesTransportError(t *testing.T) {
	x := NewLLMExtractor(fakeGenerator{err: errors.New("rate limited")})
	if _, err := x.Extract(context.Background(), "anything"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseExtractionClampsAndNormalizes(t *testing.T) {
	res, err := parseExtraction(`{"category": "nonsense", "importance": 7.5}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Category != model.CategoryOther {
		t.Fatalf("category = %s, want other", res.Category)
	}
	if res.Importance != 1.0 {
		t.Fatalf("importance = %v, want clamp to 1.0", res.Importance)
	}
}
