// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package anthropic

import (
	"context"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sigil-dev/strata/internal/judgment"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

const (
	defaultModel     = "claude-haiku-4-5"
	defaultMaxTokens = 1024
)

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey    string
	BaseURL   string // optional, useful for testing against a mock server
	Model     string
	MaxTokens int
}

// Compile-time interface check.
var _ judgment.Completer = (*Completer)(nil)

// Completer implements judgment.Completer using the Anthropic Messages API.
type Completer struct {
	client anthropicsdk.Client
	config Config
}

// New creates a new Anthropic completer. Returns an error if the API key is missing.
func New(cfg Config) (*Completer, error) {
	if cfg.APIKey == "" {
		return nil, strataerr.New(strataerr.CodeJudgmentRequestInvalid, "anthropic: missing api_key in config", strataerr.FieldProvider("anthropic"))
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Completer{client: anthropicsdk.NewClient(opts...), config: cfg}, nil
}

func (c *Completer) Name() string { return "anthropic" }

func (c *Completer) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.config.Model),
		MaxTokens: int64(c.config.MaxTokens),
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: creating message: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("anthropic: response contained no text")
	}
	return b.String(), nil
}
