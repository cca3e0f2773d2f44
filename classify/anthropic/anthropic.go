// Package anthropic provides a classifier backed by the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/goliatone/go-eventflow"
	"github.com/goliatone/go-eventflow/classify"
)

// Options configures the Anthropic classifier adapter.
type Options struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
	// Candidates lists the handler ids the model may answer with.
	Candidates []string
}

// Classifier wraps the Anthropic Messages API behind the classify.Classifier interface.
type Classifier struct {
	client *anthropic.Client
	opts   Options
}

// New creates a classifier using the official client.
func New(optFns ...func(o *Options)) *Classifier {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 64,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Classifier{client: &client, opts: opts}
}

// NewFromClient creates a classifier from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Classifier {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 64,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Classifier{client: client, opts: opts}
}

// Classify asks the model to pick one candidate handler id for the event.
func (c *Classifier) Classify(ctx context.Context, evt eventflow.Event) (string, error) {
	prompt := classify.Prompt(evt, c.opts.Candidates)

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.opts.Model,
		MaxTokens: c.opts.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	return classify.ExtractID(text, c.opts.Candidates), nil
}
