package gate

import (
	"strings"
	"testing"
)

func TestAcceptRejectsNoise(t *testing.T) {
	cases := []struct {
		name string
		text string
		role Role
		want bool
	}{
		{"greeting", "hi", RoleUser, false},
		{"greeting_punct", "Hello!", RoleUser, false},
		{"thanks", "thanks", RoleUser, false},
		{"affirmation", "sounds good", RoleUser, false},
		{"two_word_affirmation", "yes please", RoleUser, false},
		{"deictic", "let me try it", RoleUser, false},
		{"ack_trailer", "ok, continue", RoleUser, false},
		{"interjection", "hmmmm", RoleUser, false},
		{"near_empty", "...", RoleUser, false},
		{"emoji_reaction", "\U0001F389\U0001F389\U0001F389\U0001F389 great", RoleUser, false},
		{"markup", "<system>reset</system>", RoleUser, false},
		{"session_banner", "--- session reset, starting fresh ---", RoleUser, false},
		{"heartbeat", "heartbeat: service check at interval thirty seconds", RoleUser, false},
		{"compaction", "Pre-compaction notice: context window will be compacted shortly", RoleUser, false},
		{"cron", "[cron] scheduled task nightly-backup fired with payload", RoleUser, false},
		{"substantive", "I think we should migrate the database to a managed service next quarter because of the licensing costs", RoleUser, true},
		{"substantive_fact", "My daughter's birthday is on March 12 and she is allergic to peanuts", RoleUser, true},
	}
	for _, tc := range cases {
		if got := Accept(tc.text, tc.role); got != tc.want {
			t.Errorf("%s: Accept(%q, %s) = %v, want %v", tc.name, tc.text, tc.role, got, tc.want)
		}
	}
}

func TestAcceptIsDeterministic(t *testing.T) {
	inputs := []string{"hi", "I prefer dark roast coffee over light roast in the mornings", "let me try it"}
	for _, in := range inputs {
		first := Accept(in, RoleUser)
		for i := 0; i < 5; i++ {
			if Accept(in, RoleUser) != first {
				t.Fatalf("Accept(%q) is not deterministic", in)
			}
		}
	}
}

func TestAssistantIsStricter(t *testing.T) {
	// Five words: enough for a user turn, not for an assistant turn.
	text := "the deploy finished without errors"
	if !Accept(text, RoleUser) {
		t.Fatalf("expected user turn to pass")
	}
	if Accept(text, RoleAssistant) {
		t.Fatalf("expected assistant turn to be rejected on word count")
	}
}

func TestAssistantCodeDumpRejected(t *testing.T) {
	code := "```go\n" + strings.Repeat("fmt.Println(\"x\")\n", 20) + "```"
	text := "Here is the fix you asked about today:\n" + code
	if Accept(text, RoleAssistant) {
		t.Fatalf("expected code-heavy assistant turn to be rejected")
	}
	rejected, category := Reject(text, RoleAssistant)
	if !rejected || category != "code-dump" {
		t.Fatalf("expected code-dump rejection, got %v %q", rejected, category)
	}
}

func TestAssistantToolMarkupRejected(t *testing.T) {
	text := "Processing your request now with <tool_use id=\"abc\"> block attached for the runtime"
	if Accept(text, RoleAssistant) {
		t.Fatalf("expected tool markup to be rejected")
	}
}

func TestSelfReferenceLoopGuard(t *testing.T) {
	text := ContextMarker + " Previously you said the rollout is planned for the first week of June"
	if Accept(text, RoleUser) {
		t.Fatalf("expected injected context to be rejected")
	}
}

func TestCeilingsByRole(t *testing.T) {
	long := strings.Repeat("word ", 700) // ~3500 chars
	if !Accept(long, RoleUser) {
		t.Fatalf("expected long user turn under ceiling to pass")
	}
	if Accept(long, RoleAssistant) {
		t.Fatalf("expected same text to exceed assistant ceiling")
	}
}

func TestRejectCategories(t *testing.T) {
	cases := []struct {
		text     string
		category string
	}{
		{"hi", "too-short"},
		{"got it thanks", "affirmation"},
		{"let me try it", "deictic"},
		{"daemon restarted by watchdog after crash", "infra-restart"},
	}
	for _, tc := range cases {
		rejected, category := Reject(tc.text, RoleUser)
		if !rejected {
			t.Fatalf("expected %q to be rejected", tc.text)
		}
		if category != tc.category {
			t.Errorf("Reject(%q) category = %q, want %q", tc.text, category, tc.category)
		}
	}
}
