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

	"github.com/etalazz/llmrouter/internal/counters"
)

// IdempotentSink adapts any IdempotentPersister into the counters.DeltaSink
// interface the Worker flushes deltas through (SPEC_FULL.md §4.1). Each of a
// scope's three window buckets becomes its own CommitEntry, keyed so a
// retried flush of the same window is a no-op: the window's own start
// timestamp is part of the idempotency key, so a bucket that has rolled
// forward since the last flush naturally produces a fresh CommitID.
type IdempotentSink struct {
	backend IdempotentPersister
	timeout time.Duration
}

// NewIdempotentSink wraps backend for use as a counters.DeltaSink.
func NewIdempotentSink(backend IdempotentPersister) *IdempotentSink {
	return &IdempotentSink{backend: backend, timeout: 10 * time.Second}
}

// FlushDeltas implements counters.DeltaSink.
func (s *IdempotentSink) FlushDeltas(scope string, snap counters.WindowSnapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	entries := []CommitEntry{
		bucketEntry(scope, "minute", snap.Minute),
		bucketEntry(scope, "day", snap.Day),
		bucketEntry(scope, "month", snap.Month),
	}
	return s.backend.CommitBatch(ctx, entries)
}

func bucketEntry(scope, window string, b counters.Bucket) CommitEntry {
	return CommitEntry{
		Scope:        scope,
		Requests:     b.Requests,
		InputTokens:  b.InputTokens,
		OutputTokens: b.OutputTokens,
		Errors:       b.Errors,
		CostMicros:   b.CostMicros,
		CommitID:     fmt.Sprintf("%s:%s:%d", scope, window, b.WindowStart.Unix()),
	}
}

var _ counters.DeltaSink = (*IdempotentSink)(nil)
