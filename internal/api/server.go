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

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/etalazz/llmrouter/internal/dispatch"
	"github.com/etalazz/llmrouter/internal/provideradapter"
	"github.com/etalazz/llmrouter/internal/router"
	"github.com/etalazz/llmrouter/internal/routererr"
)

// Server handles the inbound chat-completion HTTP surface. It is
// configured with a Dispatcher and delegates all routing/retry/usage
// decisions to it — the handler's only job is wire translation, the same
// division of labor as the teacher's handleCheckRateLimit (identify scope,
// delegate to the store, translate the verdict to HTTP).
type Server struct {
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger
	nextID     uint64
}

// NewServer constructs a Server bound to the given Dispatcher.
func NewServer(d *dispatch.Dispatcher, log zerolog.Logger) *Server {
	return &Server{dispatcher: d, log: log}
}

// RegisterRoutes registers the chat-completion endpoint under both its
// virtual-routed form and its direct-provider path-prefix form (spec.md §6:
// "POST /{providername}/v1/chat/completions... bypasses virtual-provider
// logic; both work identically").
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /{provider}/v1/chat/completions", s.handleChatCompletions)
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var body chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, routererr.New(routererr.ClientRequestInvalid, "malformed JSON request body"))
		return
	}
	if body.Model == "" {
		s.writeError(w, routererr.New(routererr.ClientRequestInvalid, "\"model\" is required"))
		return
	}

	req := router.Request{
		Model:            body.Model,
		Messages:         toAdapterMessages(body.Messages),
		ExplicitProvider: explicitProvider(r),
	}
	bearer := bearerToken(r)

	if body.Stream {
		s.handleStream(w, r, req, bearer, body.Model)
		return
	}
	s.handleUnary(w, r, req, bearer, body.Model)
}

func (s *Server) handleUnary(w http.ResponseWriter, r *http.Request, req router.Request, bearer, model string) {
	result, err := s.dispatcher.DispatchUnary(r.Context(), req, bearer)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := chatCompletionResponse{
		ID:      s.newID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatCompletionChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: result.Response.Content},
			FinishReason: "stop",
		}},
		Usage: chatCompletionUsage{
			PromptTokens:     result.Usage.InputTokens,
			CompletionTokens: result.Usage.OutputTokens,
			TotalTokens:      result.Usage.InputTokens + result.Usage.OutputTokens,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Provider-Used", result.Provider)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("write unary chat-completion response")
	}
}

// handleStream forwards chunks as server-sent events, terminated by the
// sentinel payload "[DONE]" (spec.md §6). Per invariant 5 ("no mid-stream
// failover"), once the Dispatcher has locked in a candidate here, any
// later failure simply closes the stream early — it never resets the
// response or retries.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, req router.Request, bearer, model string) {
	result, err := s.dispatcher.DispatchStream(r.Context(), req, bearer)
	if err != nil {
		s.writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, routererr.New(routererr.ClientRequestInvalid, "streaming unsupported by this connection"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	id := s.newID()
	created := time.Now().Unix()
	for chunk := range result.Chunks {
		finish := (*string)(nil)
		if chunk.Done {
			stop := "stop"
			finish = &stop
		}
		payload := streamChunkResponse{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
			Choices: []streamChunkChoice{{Index: 0, Delta: chatMessage{Content: chunk.Content}, FinishReason: finish}},
		}
		if err := writeSSE(w, payload); err != nil {
			s.log.Warn().Err(err).Msg("streaming response: client disconnected")
			return
		}
		flusher.Flush()
	}
	if err := <-result.Err; err != nil {
		s.log.Warn().Err(err).Str("provider", result.Provider).Msg("stream ended with error")
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, payload streamChunkResponse) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s *Server) newID() string {
	n := atomic.AddUint64(&s.nextID, 1)
	return "chatcmpl-" + strconv.FormatUint(n, 36)
}

// toAdapterMessages converts the wire message shape to the Provider
// Adapter's, so the Dispatcher can hand the request body to an upstream
// without the Router ever needing to know its shape.
func toAdapterMessages(msgs []chatMessage) []provideradapter.ChatMessage {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]provideradapter.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = provideradapter.ChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// explicitProvider resolves the direct-provider selector from either the
// path-prefix form or the X-Provider-ID header (spec.md §6); the path form
// takes precedence since it is unambiguous about intent.
func explicitProvider(r *http.Request) string {
	if id := r.PathValue("provider"); id != "" {
		return id
	}
	return r.Header.Get("X-Provider-ID")
}

// bearerToken extracts the raw bearer token from the Authorization header,
// captured for audit only — never validated (spec.md §1 Non-goals:
// "authentication of incoming clients").
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	return auth
}

// writeError translates an internal error to the vendor-neutral error JSON
// shape spec.md §7 requires, using routererr.Kind.HTTPStatus for the code.
// A non-*routererr.Error is treated as an unexpected internal failure.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var re *routererr.Error
	status := http.StatusInternalServerError
	body := errorResponse{Error: errorBody{Kind: "internal", Message: err.Error()}}
	if errors.As(err, &re) {
		status = re.Kind.HTTPStatus()
		body.Error = errorBody{Kind: re.Kind.String(), Message: re.Detail, Provider: re.Provider, Scope: re.Scope, Window: re.Window}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if werr := json.NewEncoder(w).Encode(body); werr != nil {
		s.log.Error().Err(werr).Msg("write error response")
	}
}
