package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicGenerator implements Generator using Anthropic's Messages API.
type AnthropicGenerator struct {
	Client    *anthropic.Client
	Model     string
	MaxTokens int
}

var _ Generator = (*AnthropicGenerator)(nil)

// NewAnthropicGenerator constructs a client. It reads ANTHROPIC_API_KEY from the env.
func NewAnthropicGenerator(model string) *AnthropicGenerator {
	if model == "" {
		model = defaultAnthropicModel
	}
	key := os.Getenv("ANTHROPIC_API_KEY")
	cl := anthropic.NewClient(
		anthropicopt.WithAPIKey(key),
	)
	return &AnthropicGenerator{
		Client:    &cl,
		Model:     model,
		MaxTokens: 1024,
	}
}

// Generate performs a single-turn completion and returns concatenated text.
func (a *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := a.Client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.Model),
		MaxTokens: int64(a.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}

// NewAnthropicExtractor is the common wiring: the extraction prompt over an
// Anthropic-backed generator.
func NewAnthropicExtractor(model string) *LLMExtractor {
	return NewLLMExtractor(NewAnthropicGenerator(model))
}
