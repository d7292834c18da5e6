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
	"database/sql"
	"fmt"
	"time"

	"github.com/etalazz/llmrouter/internal/counters"
)

// Options configures the optional durable delta backend selected by
// Build. Only the fields relevant to the chosen Kind need to be set.
type Options struct {
	Kind string // "", "none", "redis", "postgres", or "kafka"

	RedisAddr      string
	RedisMarkerTTL time.Duration

	PostgresDB *sql.DB

	KafkaProducer KafkaProducer
	KafkaTopic    string
}

// Build constructs the optional durable usage-delta backend named by
// opts.Kind, selected by a string the same way the teacher's
// BuildPersister chooses a demo adapter (internal/ratelimiter/persistence/factory.go).
// A nil, nil return means "no durable backend configured" — the mandatory
// local JSON snapshot (internal/counters.SnapshotFile) remains the only
// persistence for usage data, per spec.md §4.1/§6.
func Build(opts Options) (counters.DeltaSink, error) {
	switch opts.Kind {
	case "", "none":
		return nil, nil
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("persistence: redis backend requires RedisAddr")
		}
		ttl := opts.RedisMarkerTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		return NewIdempotentSink(NewRedisPersister(opts.RedisAddr, ttl)), nil
	case "postgres":
		if opts.PostgresDB == nil {
			return nil, fmt.Errorf("persistence: postgres backend requires a non-nil PostgresDB")
		}
		return NewIdempotentSink(NewPostgresPersister(opts.PostgresDB)), nil
	case "kafka":
		if opts.KafkaProducer == nil {
			return nil, fmt.Errorf("persistence: kafka backend requires a KafkaProducer")
		}
		topic := opts.KafkaTopic
		if topic == "" {
			topic = "llmrouter-usage-commits"
		}
		return NewIdempotentSink(NewKafkaPersister(opts.KafkaProducer, topic)), nil
	default:
		return nil, fmt.Errorf("persistence: unknown backend kind %q", opts.Kind)
	}
}
