// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package events

import (
	"context"
	"log/slog"
)

// Compile-time interface check.
var _ Publisher = (*LogPublisher)(nil)

// LogPublisher writes events to a structured logger. It is the default
// when no external bus is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher uses slog.Default when logger is nil.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "memory event",
		"event_id", e.ID,
		"type", string(e.Type),
		"entity_id", e.EntityID,
		"payload", e.Payload,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
