// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the cross-instance Store implementation, for deployments
// running more than one engine process. Counters live in Redis under
// atomic INCR with a window-length TTL, so every instance observes the
// same count and the Check contract (allowed/remaining/resetAt) is
// unchanged from MemoryStore.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a RedisStore using the given client. keyPrefix
// namespaces the counters (e.g. "arena:rl:") so multiple limiters and
// multiple products can share one Redis.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "arena:rl:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// Incr implements Store.
//
// The increment and the TTL set run in one pipeline; ExpireNX only arms
// the TTL when the key has none, which is exactly the first observation
// of a window. The reset time is derived from the remaining TTL so all
// instances report the same horizon.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	rkey := s.keyPrefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, rkey)
	pipe.ExpireNX(ctx, rkey, window)
	ttl := pipe.PTTL(ctx, rkey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("redis rate limit incr: %w", err)
	}

	count := int(incr.Val())
	remaining := ttl.Val()
	if remaining < 0 {
		// PTTL returns a negative sentinel when the key has no TTL,
		// which can only happen if it was created outside this store.
		remaining = window
	}

	return count, time.Now().Add(remaining), nil
}

var _ Store = (*RedisStore)(nil)
