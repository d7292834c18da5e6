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

// Package persistence provides optional durable backends for the Counter
// Store's periodic delta flush (SPEC_FULL.md §4.1): the local JSON snapshot
// file is mandatory, these adapters additionally mirror deltas to Redis,
// Kafka, or Postgres for cross-instance durability.
//
// Adapted from internal/ratelimiter/persistence's idempotent-commit shape:
// CommitEntry.Vector (a single packed int64) is widened here into the five
// named metrics a routing request's usage actually carries (requests,
// input/output tokens, errors, cost), since a routing scope's usage is
// multi-dimensional in a way the original rate limiter's single counter
// never was.
package persistence

import "context"

// CommitEntry is one scope's usage delta, carrying an idempotency key so a
// retried flush (crash, timeout, duplicate delivery) is a no-op.
type CommitEntry struct {
	Scope        string
	Requests     int64
	InputTokens  int64
	OutputTokens int64
	Errors       int64
	CostMicros   int64
	CommitID     string
}

// IdempotentPersister is the minimal API every durable backend implements.
// A duplicate CommitID for the same Scope must be a no-op.
type IdempotentPersister interface {
	CommitBatch(ctx context.Context, entries []CommitEntry) error
}
