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

package provideradapter

import (
	"context"
	"testing"
	"time"

	"github.com/etalazz/llmrouter/internal/registry"
	"github.com/etalazz/llmrouter/internal/routererr"
)

// TestLocalProcessAdapter_SendUnary_ParsesStdoutResponse verifies the
// spawn-with-stdin/read-stdout contract (spec.md §4.4).
func TestLocalProcessAdapter_SendUnary_ParsesStdoutResponse(t *testing.T) {
	cfg := registry.LocalConfig{
		ExecutablePath:        "/bin/sh",
		Args:                  []string{"-c", `cat >/dev/null; printf '{"model":"local","content":"ack","usage":{"input_tokens":4,"output_tokens":1}}'`},
		ProcessTimeoutSeconds: 5,
		MaxConcurrentProcesses: 2,
	}
	a := NewLocalProcessAdapter("local-model", cfg)

	resp, usage, err := a.SendUnary(context.Background(), ChatRequest{Model: "local", Messages: []ChatMessage{{Role: "user", Content: "ping"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ack" {
		t.Fatalf("expected stdout response content to round-trip, got %q", resp.Content)
	}
	if usage.InputTokens != 4 || usage.OutputTokens != 1 {
		t.Fatalf("expected exact usage from process output, got %+v", usage)
	}
}

// TestLocalProcessAdapter_SendUnary_TimesOutOnSlowProcess verifies the
// process timeout is enforced by terminating the process (spec.md §4.4).
func TestLocalProcessAdapter_SendUnary_TimesOutOnSlowProcess(t *testing.T) {
	cfg := registry.LocalConfig{
		ExecutablePath:        "/bin/sh",
		Args:                  []string{"-c", "sleep 5"},
		ProcessTimeoutSeconds: 0.1,
		MaxConcurrentProcesses: 1,
	}
	a := NewLocalProcessAdapter("slow-model", cfg)

	_, _, err := a.SendUnary(context.Background(), ChatRequest{Model: "local"})
	if !routererr.IsKind(err, routererr.UpstreamTransient) {
		t.Fatalf("expected UpstreamTransient on process timeout, got %v", err)
	}
}

// TestLocalProcessAdapter_SendUnary_RespectsConcurrencyCap verifies the
// burstgate.Gate rejects a spawn once the provider's configured concurrent
// process budget is exhausted.
func TestLocalProcessAdapter_SendUnary_RespectsConcurrencyCap(t *testing.T) {
	cfg := registry.LocalConfig{
		ExecutablePath:        "/bin/sh",
		Args:                  []string{"-c", "sleep 0.3; printf '{}'"},
		ProcessTimeoutSeconds: 5,
		MaxConcurrentProcesses: 1,
	}
	a := NewLocalProcessAdapter("capped-model", cfg)

	done := make(chan struct{})
	go func() {
		a.SendUnary(context.Background(), ChatRequest{Model: "local"})
		close(done)
	}()
	time.Sleep(50 * time.Millisecond) // let the first spawn acquire the gate

	_, _, err := a.SendUnary(context.Background(), ChatRequest{Model: "local"})
	if !routererr.IsKind(err, routererr.UpstreamTransient) {
		t.Fatalf("expected concurrency cap rejection while the first process is still running, got %v", err)
	}
	<-done
}
