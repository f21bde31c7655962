package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
)

// OpenAI completes prompts with the Chat Completions API. The client reads
// OPENAI_API_KEY from the environment.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI returns a completer for model, or the default model when empty.
func NewOpenAI(model string) *OpenAI {
	client := openai.NewClient()
	return NewOpenAIFromClient(&client, model)
}

// NewOpenAIFromClient uses an existing client.
func NewOpenAIFromClient(client *openai.Client, model string) *OpenAI {
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &OpenAI{client: client, model: model}
}

func (o *OpenAI) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               o.model,
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature:         openai.Float(0.2),
		MaxCompletionTokens: openai.Int(1024),
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai api error: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
