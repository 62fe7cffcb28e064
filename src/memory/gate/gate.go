// Package gate implements the attention gate: a pure, deterministic filter
// that decides whether a raw conversational turn is worth capturing as a
// long-term memory. It makes no network calls; false positives are tolerable
// (lost chatter), false negatives are not retried.
package gate

import "strings"

// Role identifies which side of the conversation produced the text.
// Assistant output is filtered more aggressively than user input.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContextMarker is prepended to every context payload the engine injects
// back into the conversation. The gate rejects any text containing it so the
// engine never memorizes its own output.
const ContextMarker = "[hypnos:recall]"

const (
	minChars          = 10
	maxCharsUser      = 4000
	maxCharsAssistant = 2500
	minWordsUser      = 3
	minWordsAssistant = 8
	maxEmoji          = 3
)

// Accept reports whether text should be captured. Same input always yields
// the same answer.
func Accept(text string, role Role) bool {
	trimmed := strings.TrimSpace(text)

	maxChars := maxCharsUser
	minWords := minWordsUser
	if role == RoleAssistant {
		maxChars = maxCharsAssistant
		minWords = minWordsAssistant
	}
	if len(trimmed) < minChars || len(trimmed) > maxChars {
		return false
	}
	if len(strings.Fields(trimmed)) < minWords {
		return false
	}
	for _, p := range noisePatterns {
		if p.re.MatchString(trimmed) {
			return false
		}
	}
	if strings.Contains(trimmed, ContextMarker) {
		return false
	}
	if len(emojiRe.FindAllString(trimmed, maxEmoji+1)) > maxEmoji {
		return false
	}
	if role == RoleAssistant {
		if fenced := fencedChars(trimmed); fenced*2 > len(trimmed) {
			return false
		}
		if toolMarkRe.MatchString(trimmed) {
			return false
		}
	}
	return true
}

// Reject is the inverse of Accept with the rejection category for logging.
// An empty category means the text passed.
func Reject(text string, role Role) (bool, string) {
	trimmed := strings.TrimSpace(text)

	maxChars := maxCharsUser
	minWords := minWordsUser
	if role == RoleAssistant {
		maxChars = maxCharsAssistant
		minWords = minWordsAssistant
	}
	switch {
	case len(trimmed) < minChars:
		return true, "too-short"
	case len(trimmed) > maxChars:
		return true, "too-long"
	case len(strings.Fields(trimmed)) < minWords:
		return true, "too-few-words"
	}
	for _, p := range noisePatterns {
		if p.re.MatchString(trimmed) {
			return true, p.category
		}
	}
	if strings.Contains(trimmed, ContextMarker) {
		return true, "self-reference"
	}
	if len(emojiRe.FindAllString(trimmed, maxEmoji+1)) > maxEmoji {
		return true, "emoji"
	}
	if role == RoleAssistant {
		if fenced := fencedChars(trimmed); fenced*2 > len(trimmed) {
			return true, "code-dump"
		}
		if toolMarkRe.MatchString(trimmed) {
			return true, "tool-markup"
		}
	}
	return false, ""
}

func fencedChars(text string) int {
	total := 0
	for _, block := range codeFenceRe.FindAllString(text, -1) {
		total += len(block)
	}
	return total
}
