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
	"testing"
)

type fakeKafkaProducer struct {
	calls []struct {
		topic   string
		key     []byte
		value   []byte
		headers map[string]string
	}
	returnErr error
}

func (f *fakeKafkaProducer) Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if f.returnErr != nil {
		return f.returnErr
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	f.calls = append(f.calls, struct {
		topic   string
		key     []byte
		value   []byte
		headers map[string]string
	}{topic: topic, key: append([]byte(nil), key...), value: append([]byte(nil), value...), headers: headers})
	return nil
}

func TestKafkaPersister_Success(t *testing.T) {
	fk := &fakeKafkaProducer{}
	k := NewKafkaPersister(fk, "topic-1")
	entries := []CommitEntry{{Scope: "provider:openai", Requests: 1, InputTokens: 10, CommitID: "cid-1"}}
	if err := k.CommitBatch(context.Background(), entries); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(fk.calls) != 1 {
		t.Fatalf("expected 1 produce, got %d", len(fk.calls))
	}
	c := fk.calls[0]
	if c.topic != "topic-1" || string(c.key) != "cid-1" {
		t.Fatalf("unexpected call: %+v", c)
	}
	var msg CommitMessage
	if err := json.Unmarshal(c.value, &msg); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if msg.Scope != "provider:openai" || msg.Requests != 1 || msg.InputTokens != 10 || msg.CommitID != "cid-1" {
		t.Fatalf("msg mismatch: %+v", msg)
	}
	if c.headers["content-type"] != "application/json" {
		t.Fatalf("missing content-type header: %v", c.headers)
	}
}

func TestKafkaPersister_Empty(t *testing.T) {
	fk := &fakeKafkaProducer{}
	k := NewKafkaPersister(fk, "t")
	if err := k.CommitBatch(context.Background(), nil); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestKafkaPersister_MissingCommitID(t *testing.T) {
	fk := &fakeKafkaProducer{}
	k := NewKafkaPersister(fk, "t")
	err := k.CommitBatch(context.Background(), []CommitEntry{{Scope: "a"}})
	if err == nil || err.Error() != "CommitEntry.CommitID must be set" {
		t.Fatalf("expected commit id error, got %v", err)
	}
}

func TestKafkaPersister_ContextCancel(t *testing.T) {
	fk := &fakeKafkaProducer{}
	k := NewKafkaPersister(fk, "t")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := k.CommitBatch(ctx, []CommitEntry{{Scope: "a", Requests: 1, CommitID: "c"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestKafkaPersister_ProducerError(t *testing.T) {
	fk := &fakeKafkaProducer{returnErr: errors.New("nope")}
	k := NewKafkaPersister(fk, "t")
	err := k.CommitBatch(context.Background(), []CommitEntry{{Scope: "a", Requests: 1, CommitID: "c"}})
	if err == nil {
		t.Fatalf("expected an error")
	}
}
