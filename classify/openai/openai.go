// Package openai provides a classifier backed by the OpenAI Chat Completions API.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/goliatone/go-eventflow"
	"github.com/goliatone/go-eventflow/classify"
)

// Options configure the OpenAI classifier adapter.
type Options struct {
	Model               string
	MaxCompletionTokens int64
	// Candidates lists the handler ids the model may answer with.
	Candidates []string
}

// Classifier wraps the OpenAI Chat Completions API behind the
// classify.Classifier interface.
type Classifier struct {
	client *openai.Client
	opts   Options
}

// New creates a classifier using the official client.
func New(optFns ...func(o *Options)) *Classifier {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a classifier from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Classifier {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		MaxCompletionTokens: 64,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Classifier{client: client, opts: opts}
}

// Classify asks the model to pick one candidate handler id for the event.
func (c *Classifier) Classify(ctx context.Context, evt eventflow.Event) (string, error) {
	prompt := classify.Prompt(evt, c.opts.Candidates)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return classify.ExtractID(resp.Choices[0].Message.Content, c.opts.Candidates), nil
}
