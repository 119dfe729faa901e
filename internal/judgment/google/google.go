// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/sigil-dev/strata/internal/judgment"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

const (
	defaultModel          = "gemini-2.5-flash"
	defaultEmbeddingModel = "gemini-embedding-001"
	defaultDimensions     = 768
)

// Config holds Google provider configuration.
type Config struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Dimensions     int
}

// Compile-time interface checks.
var (
	_ judgment.Completer = (*Client)(nil)
	_ judgment.Embedder  = (*Client)(nil)
)

// Client implements judgment.Completer and judgment.Embedder using the
// Google Gemini API.
type Client struct {
	client *genai.Client
	config Config
}

// New creates a new Google client. Returns an error if the API key is missing.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, strataerr.New(strataerr.CodeJudgmentRequestInvalid, "google: missing api_key in config", strataerr.FieldProvider("google"))
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

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, strataerr.Wrapf(err, strataerr.CodeJudgmentUpstreamFailure, "google: creating client")
	}

	return &Client{client: client, config: cfg}, nil
}

func (c *Client) Name() string { return "google" }

func (c *Client) Dimensions() int { return c.config.Dimensions }

func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("google: generating content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("google: response contained no text")
	}
	return text, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	dims := int32(c.config.Dimensions)
	resp, err := c.client.Models.EmbedContent(ctx, c.config.EmbeddingModel, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, fmt.Errorf("google: embedding content: %w", err)
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("google: embedding response was empty")
	}
	return resp.Embeddings[0].Values, nil
}
