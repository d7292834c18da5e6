// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package persistence

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// redisLuaScript idempotently folds one scope's delta into its durable
// Redis hash, guarded by a SETNX marker keyed on CommitID (adapted from
// internal/ratelimiter/persistence/redis.go's redisLuaScript, widened from
// one scalar field to five named metric fields).
const redisLuaScript = `
local counterKey = KEYS[1]
local markerKey = KEYS[2]
local ttlSeconds = tonumber(ARGV[6])
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  redis.call('HINCRBY', counterKey, 'requests', ARGV[1])
  redis.call('HINCRBY', counterKey, 'input_tokens', ARGV[2])
  redis.call('HINCRBY', counterKey, 'output_tokens', ARGV[3])
  redis.call('HINCRBY', counterKey, 'errors', ARGV[4])
  redis.call('HINCRBY', counterKey, 'cost_micros', ARGV[5])
  if ttlSeconds and ttlSeconds > 0 then
    redis.call('EXPIRE', markerKey, ttlSeconds)
  end
  return 1
else
  return 0
end
`

func redisCounterKey(scope string) string { return fmt.Sprintf("llmrouter:usage:%s", scope) }
func redisMarkerKey(scope, commitID string) string {
	return fmt.Sprintf("llmrouter:commit:%s:%s", scope, commitID)
}

// RedisPersister mirrors Counter Store deltas into Redis hashes, one per
// scope, using the go-redis v9 client directly (teacher dependency,
// preserved without a logging stand-in since this router has no demo mode
// to serve).
type RedisPersister struct {
	client    *redis.Client
	markerTTL time.Duration
}

// NewRedisPersister constructs a RedisPersister against addr. markerTTL
// bounds how long idempotency markers survive; it should comfortably exceed
// the worker's flush interval.
func NewRedisPersister(addr string, markerTTL time.Duration) *RedisPersister {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisPersister{client: redis.NewClient(&redis.Options{Addr: addr}), markerTTL: markerTTL}
}

// CommitBatch implements IdempotentPersister.
func (r *RedisPersister) CommitBatch(ctx context.Context, entries []CommitEntry) error {
	for _, e := range entries {
		if e.CommitID == "" {
			return fmt.Errorf("CommitEntry.CommitID must be set for scope %q", e.Scope)
		}
		keys := []string{redisCounterKey(e.Scope), redisMarkerKey(e.Scope, e.CommitID)}
		args := []interface{}{e.Requests, e.InputTokens, e.OutputTokens, e.Errors, e.CostMicros, int64(r.markerTTL.Seconds())}
		if _, err := r.client.Eval(ctx, redisLuaScript, keys, args...).Result(); err != nil {
			return fmt.Errorf("redis commit for scope %q: %w", e.Scope, err)
		}
	}
	return nil
}
