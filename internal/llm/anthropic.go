package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic completes prompts with the Messages API. The API key comes from
// ANTHROPIC_API_KEY.
type Anthropic struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropic returns a completer for model, or the default model when empty.
func NewAnthropic(model string) *Anthropic {
	var opts []option.RequestOption
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	client := anthropic.NewClient(opts...)
	return NewAnthropicFromClient(&client, model)
}

// NewAnthropicFromClient uses an existing client.
func NewAnthropicFromClient(client *anthropic.Client, model string) *Anthropic {
	m := anthropic.ModelClaude3_5Sonnet20241022
	if model != "" {
		m = anthropic.Model(model)
	}
	return &Anthropic{client: client, model: m, maxTokens: 1024}
}

func (a *Anthropic) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(0.2),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	return b.String(), nil
}
