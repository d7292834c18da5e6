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

// Package api implements the minimal HTTP surface spec.md §6 names:
// the inbound chat-completion endpoint, direct-provider selection, and a
// deliberately thin slice of the out-of-scope management API (GET/POST
// /api/usage[/reset]) sufficient to exercise the Counter Store and Registry
// from outside. The full REST/JSON management surface and the browser UI
// remain out of scope.
//
// Route registration follows the teacher's api/server.go shape
// (RegisterRoutes(mux) taking an injected *http.ServeMux so main owns the
// http.Server and its graceful shutdown); method-and-path patterns use the
// standard library's routing ServeMux (Go 1.22+) instead of hand-rolled
// prefix stripping.
package api

// chatMessage is one vendor-neutral chat message (spec.md §6).
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionRequest is the inbound wire shape spec.md §6 names
// verbatim: "model, messages, temperature, max_tokens, stream, top_p,
// frequency_penalty, presence_penalty, stop". Only Model, Messages, and
// Stream are used: the Router and the Provider Adapters receive the model
// and messages alone, so the remaining sampling parameters are parsed but
// are not forwarded to the upstream provider.
type chatCompletionRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        *int64        `json:"max_tokens,omitempty"`
	Stream           bool          `json:"stream,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
}

// chatCompletionChoice is one entry of a unary response's choices array.
type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatCompletionUsage is the unary response's usage object.
type chatCompletionUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// chatCompletionResponse is the unary response body (spec.md §6: "id,
// object, created, model, choices, usage").
type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   chatCompletionUsage    `json:"usage"`
}

// streamChunkResponse is one server-sent-event payload of a streaming
// response, shaped like the unary response's choices entries but carrying
// a "delta" instead of a full "message" (spec.md §6: "a sequence of
// server-sent events of the same shape").
type streamChunkResponse struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []streamChunkChoice `json:"choices"`
}

type streamChunkChoice struct {
	Index        int         `json:"index"`
	Delta        chatMessage `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// errorResponse is the vendor-neutral error JSON shape spec.md §7 requires
// every client-surfaced error kind to use.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Provider string `json:"provider,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Window   string `json:"window,omitempty"`
}
