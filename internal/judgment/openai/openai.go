// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openai

import (
	"context"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/sigil-dev/strata/internal/judgment"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

const (
	defaultModel          = "gpt-4.1-mini"
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultDimensions     = 1536

	// OpenRouterBaseURL points the client at OpenRouter's OpenAI-compatible API.
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// Config holds OpenAI provider configuration. The same adapter serves any
// OpenAI-compatible endpoint (OpenRouter, local gateways) through BaseURL.
type Config struct {
	APIKey         string
	BaseURL        string // optional, useful for testing against a mock server
	Name           string // reported provider name; defaults to "openai"
	Model          string
	EmbeddingModel string
	Dimensions     int
}

// Compile-time interface checks.
var (
	_ judgment.Completer = (*Client)(nil)
	_ judgment.Embedder  = (*Client)(nil)
)

// Client implements judgment.Completer with Chat Completions and
// judgment.Embedder with the Embeddings API.
type Client struct {
	client openaisdk.Client
	config Config
}

// New creates a new OpenAI client. Returns an error if the API key is missing.
func New(cfg Config) (*Client, error) {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIKey == "" {
		return nil, strataerr.Errorf(strataerr.CodeJudgmentRequestInvalid, "%s: missing api_key in config", cfg.Name)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultDimensions
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{client: openaisdk.NewClient(opts...), config: cfg}, nil
}

func (c *Client) Name() string { return c.config.Name }

func (c *Client) Dimensions() int { return c.config.Dimensions }

func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	var msgs []openaisdk.ChatCompletionMessageParamUnion
	if system != "" {
		msgs = append(msgs, openaisdk.SystemMessage(system))
	}
	msgs = append(msgs, openaisdk.UserMessage(prompt))

	resp, err := c.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.config.Model),
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("%s: chat completion: %w", c.config.Name, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%s: response contained no text", c.config.Name)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input:      openaisdk.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
		Model:      openaisdk.EmbeddingModel(c.config.EmbeddingModel),
		Dimensions: param.NewOpt(int64(c.config.Dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: creating embedding: %w", c.config.Name, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%s: embedding response was empty", c.config.Name)
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}
