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
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// KafkaProducer is a minimal abstraction over a Kafka client, adapted from
// internal/ratelimiter/persistence/kafka.go's KafkaProducer verbatim (the
// no-specific-library stance applies here too: we never import a Kafka
// client, only this interface).
//
// Requirements for a real implementation:
//   - Idempotent producer ON (enable.idempotence=true)
//   - Use CommitID as the Kafka message key so broker dedup + per-key
//     ordering are preserved
//   - Acks=all is recommended
type KafkaProducer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// KafkaPersister publishes usage deltas as Kafka messages (WAL-style); it
// does not apply state locally, delegating materialization to downstream
// consumers, same as the teacher's KafkaPersister.
type KafkaPersister struct {
	producer       KafkaProducer
	topic          string
	defaultTimeout time.Duration
}

// NewKafkaPersister constructs a KafkaPersister publishing to topic.
func NewKafkaPersister(p KafkaProducer, topic string) *KafkaPersister {
	return &KafkaPersister{producer: p, topic: topic, defaultTimeout: 10 * time.Second}
}

// CommitMessage is the serialized payload sent to Kafka. Message key:
// CommitID; widened from the teacher's single packed Vector field to the
// five named metrics a routing scope's usage delta actually carries.
type CommitMessage struct {
	Scope        string `json:"scope"`
	Requests     int64  `json:"requests"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Errors       int64  `json:"errors"`
	CostMicros   int64  `json:"cost_micros"`
	CommitID     string `json:"commit_id"`
	TsUnixMs     int64  `json:"ts_unix_ms"`
}

// CommitBatch implements IdempotentPersister.
func (k *KafkaPersister) CommitBatch(ctx context.Context, entries []CommitEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && k.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.defaultTimeout)
		defer cancel()
	}
	nowMs := time.Now().UnixMilli()
	for _, e := range entries {
		if e.CommitID == "" {
			return errors.New("CommitEntry.CommitID must be set")
		}
		msg := CommitMessage{
			Scope: e.Scope, Requests: e.Requests, InputTokens: e.InputTokens,
			OutputTokens: e.OutputTokens, Errors: e.Errors, CostMicros: e.CostMicros,
			CommitID: e.CommitID, TsUnixMs: nowMs,
		}
		b, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal kafka message: %w", err)
		}
		headers := map[string]string{"content-type": "application/json"}
		if err := k.producer.Produce(ctx, k.topic, []byte(e.CommitID), b, headers); err != nil {
			return fmt.Errorf("kafka produce scope=%s commit=%s: %w", e.Scope, e.CommitID, err)
		}
	}
	return nil
}
