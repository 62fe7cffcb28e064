package gate

import "regexp"

// noisePattern pairs a compiled pattern with the category of chatter it
// rejects. The table is ordered: cheap exact-shape patterns first, template
// matches last. Keeping it as data keeps the rules independently testable.
type noisePattern struct {
	re       *regexp.Regexp
	category string
}

var noisePatterns = []noisePattern{
	// Exact greetings and acknowledgments.
	{regexp.MustCompile(`(?i)^(hi|hello|hey|yo|sup|howdy|good (morning|afternoon|evening|night)|bye|goodbye|see ya|later|thanks|thank you|thx|ty|cheers|np|no problem|you're welcome|welcome)[.!?]*$`), "greeting"},
	// Two-word affirmations.
	{regexp.MustCompile(`(?i)^(ok(ay)?|yes|yeah|yep|yup|no|nope|nah|sure|right|correct|exactly|agreed|got it|sounds good|makes sense|will do|on it|looks good|perfect|great|nice|cool|awesome|indeed|understood|done|fixed)( (ok(ay)?|yes|yeah|then|now|thanks|please|sir|again))?[.!?]*$`), "affirmation"},
	// Deictic filler: refers to something outside the text itself.
	{regexp.MustCompile(`(?i)^(let me (try|check|see|test|look at) (it|that|this|again)|try (it|that|this) (again|now)|do (it|that|this)( again| now)?|run (it|that|this)( again)?|check (it|that|this)( out)?)[.!?]*$`), "deictic"},
	// Short ack with a trailer ("ok, moving on", "yes - do that").
	{regexp.MustCompile(`(?i)^(ok(ay)?|yes|yeah|sure|right|got it|thanks)[,;:\-–—]\s*\S{1,40}$`), "ack-trailer"},
	// Conversational interjections.
	{regexp.MustCompile(`(?i)^(hmm+|huh|uh+|um+|ah+|oh+|oops|whoops|wow|haha(ha)*|lol|lmao|wtf|meh|ugh|phew|yay|woo+|hooray)[.!?]*$`), "interjection"},
	// Near-empty: punctuation and whitespace only.
	{regexp.MustCompile(`^[\s\p{P}\p{S}]*$`), "empty"},
	// Inline system or markup tags as the whole message.
	{regexp.MustCompile(`^<[^>]+>[\s\S]*</[^>]+>$`), "markup"},
	{regexp.MustCompile(`(?i)^\[(system|assistant|user|tool)[^\]]*\]`), "markup"},
	// Session-reset banners.
	{regexp.MustCompile(`(?i)(session (reset|started|resumed|restored)|new session begins|conversation (restarted|cleared))`), "session-banner"},
	// Known infrastructure message templates.
	{regexp.MustCompile(`(?i)^(heartbeat|ping|keep-?alive)\b`), "infra-heartbeat"},
	{regexp.MustCompile(`(?i)(pre-?compact(ion)?\s+(notice|warning)|context window will be compacted)`), "infra-compaction"},
	{regexp.MustCompile(`(?i)^(\[?cron\]?|scheduled task|cron job)\b.*\b(fired|triggered|completed|payload)`), "infra-cron"},
	{regexp.MustCompile(`(?i)(gateway|daemon|service)\s+(restart(ed|ing)?|reload(ed|ing)?)`), "infra-restart"},
	{regexp.MustCompile(`(?i)^background task\b.*\b(finished|completed|failed|report)`), "infra-background"},
}

var (
	emojiRe     = regexp.MustCompile(`[\x{1F300}-\x{1FAFF}\x{2600}-\x{27BF}\x{FE0F}\x{2190}-\x{21FF}\x{2B00}-\x{2BFF}]`)
	codeFenceRe = regexp.MustCompile("(?s)```.*?```")
	toolMarkRe  = regexp.MustCompile(`(?i)(<tool_(use|result|call)\b|</?function_calls?>|<invoke\b|"tool_calls"\s*:|\btool_use_id\b)`)
)
