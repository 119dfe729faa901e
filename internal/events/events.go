// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package events publishes memory lifecycle notifications to an external bus.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// Type names a memory lifecycle event.
type Type string

const (
	MigrationCompleted Type = "memory.migration.completed"
	CoherenceChecked   Type = "memory.coherence.checked"
	RefreshCompleted   Type = "memory.refresh.completed"
)

// Event is one notification. Payload must be JSON-serializable.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	EntityID  string    `json:"entity_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// New builds an event with a fresh id and the current time.
func New(t Type, entityID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Validate performs cheap sanity checks before publishing.
func (e Event) Validate() error {
	if e.Type == "" {
		return strataerr.New(strataerr.CodeEventsPublishFailure, "events: missing type")
	}
	if e.EntityID == "" {
		return strataerr.New(strataerr.CodeEventsPublishFailure, "events: missing entity id", strataerr.Field("type", string(e.Type)))
	}
	return nil
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}
