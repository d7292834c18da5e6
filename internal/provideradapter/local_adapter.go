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
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/etalazz/llmrouter/internal/registry"
	"github.com/etalazz/llmrouter/internal/routererr"
	"github.com/etalazz/llmrouter/pkg/burstgate"
)

// LocalProcessAdapter implements the process-backed provider variant
// (spec.md §4.4): spawn the configured executable with the serialized
// request on stdin, read a single JSON response from stdout, enforce a
// process timeout, cap concurrent spawns per provider via a burstgate.Gate.
//
// Only the unary exchange is implemented; SendStream always returns an
// error, since there is no streaming process protocol.
type LocalProcessAdapter struct {
	providerID string
	cfg        registry.LocalConfig
	gate       *burstgate.Gate
}

// NewLocalProcessAdapter constructs a LocalProcessAdapter whose concurrent
// spawns are capped at cfg.MaxConcurrentProcesses.
func NewLocalProcessAdapter(providerID string, cfg registry.LocalConfig) *LocalProcessAdapter {
	max := cfg.MaxConcurrentProcesses
	if max <= 0 {
		max = 1
	}
	return &LocalProcessAdapter{
		providerID: providerID,
		cfg:        cfg,
		gate:       burstgate.New(max),
	}
}

// SendUnary spawns the configured executable, writes the request as JSON to
// its stdin, and reads a single JSON ChatResponse/Usage pair from stdout.
func (a *LocalProcessAdapter) SendUnary(ctx context.Context, req ChatRequest) (ChatResponse, Usage, error) {
	if !a.gate.TryAcquire() {
		return ChatResponse{}, Usage{}, routererr.New(routererr.UpstreamTransient, "process concurrency limit reached").WithProvider(a.providerID)
	}
	defer a.gate.Release()

	timeout := time.Duration(a.cfg.ProcessTimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, Usage{}, routererr.Wrap(routererr.ClientRequestInvalid, "encoding request", err)
	}

	cmd := exec.CommandContext(runCtx, a.cfg.ExecutablePath, a.cfg.Args...)
	if a.cfg.WorkingDirectory != "" {
		cmd.Dir = a.cfg.WorkingDirectory
	}
	cmd.Stdin = bytes.NewReader(payload)

	out, err := cmd.Output()
	if runCtx.Err() != nil {
		return ChatResponse{}, Usage{}, routererr.Wrap(routererr.UpstreamTransient, "process timed out", runCtx.Err()).WithProvider(a.providerID)
	}
	if err != nil {
		return ChatResponse{}, Usage{}, routererr.Wrap(routererr.UpstreamTransient, "process exited with error", err).WithProvider(a.providerID)
	}

	var parsed struct {
		ChatResponse
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return ChatResponse{}, Usage{}, routererr.Wrap(routererr.UpstreamTransient, "parsing process output", err).WithProvider(a.providerID)
	}
	usage := parsed.Usage
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		usage.InputTokens = EstimateTokens(string(payload))
		usage.OutputTokens = EstimateTokens(parsed.ChatResponse.Content)
		usage.Estimated = true
	}
	return parsed.ChatResponse, usage, nil
}

// SendStream is not yet implemented: spec.md §4.4 defines no streaming
// process protocol at this stage.
func (a *LocalProcessAdapter) SendStream(ctx context.Context, req ChatRequest) (StreamResult, error) {
	return StreamResult{}, routererr.New(routererr.UpstreamTransient, "local process adapter does not support streaming").WithProvider(a.providerID)
}
