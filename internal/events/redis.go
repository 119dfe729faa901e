// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// RedisConfig configures the Redis pub/sub publisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Channel prefix; events go to "<prefix><type>".
	ChannelPrefix string
}

// Compile-time interface check.
var _ Publisher = (*RedisPublisher)(nil)

// RedisPublisher publishes events as JSON on Redis pub/sub channels.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisPublisher connects lazily; the first Publish dials the server.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, strataerr.New(strataerr.CodeConfigValidateInvalidValue, "events.redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisPublisherWithClient(client, cfg.ChannelPrefix), nil
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client redis.UniversalClient, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel for an event type.
func (p *RedisPublisher) Channel(t Type) string {
	return p.prefix + string(t)
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return strataerr.Wrapf(err, strataerr.CodeEventsPublishFailure, "encoding event %s", e.Type)
	}
	if err := p.client.Publish(ctx, p.Channel(e.Type), body).Err(); err != nil {
		return strataerr.Wrapf(err, strataerr.CodeEventsPublishFailure, "publishing event %s", e.Type)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
