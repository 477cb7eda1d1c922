// Copyright 2026 The CollectOps Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the event channel connection settings
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// Connect opens a Redis client and verifies it with PING.
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	slog.InfoContext(ctx, "connected to redis", slog.String("addr", cfg.Addr), slog.Int("db", cfg.DB))
	return client, nil
}

// RedisPublisher publishes JSON events on one channel per event type,
// named "<prefix>.<type>", e.g. "collectops.promise.expired".
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "collectops"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the channel an event type is published on.
func (p *RedisPublisher) Channel(eventType string) string {
	return p.prefix + "." + eventType
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", evt.Type, err)
	}
	if err := p.client.Publish(ctx, p.Channel(evt.Type), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", evt.Type, err)
	}
	return nil
}
