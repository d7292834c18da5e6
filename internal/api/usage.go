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
	"net/http"

	"github.com/rs/zerolog"

	"github.com/etalazz/llmrouter/internal/clock"
	"github.com/etalazz/llmrouter/internal/counters"
	"github.com/etalazz/llmrouter/internal/routererr"
)

// UsageServer exposes the deliberately minimal slice of the out-of-scope
// management API spec.md §6 names: GET /api/usage (a full Counter Store
// dump) and POST /api/usage/reset (body {scope, windows}), enough to
// exercise the Counter Store from outside without building the full
// REST/JSON management surface.
type UsageServer struct {
	store *counters.Store
	log   zerolog.Logger
}

// NewUsageServer constructs a UsageServer bound to the shared Counter Store.
func NewUsageServer(store *counters.Store, log zerolog.Logger) *UsageServer {
	return &UsageServer{store: store, log: log}
}

// RegisterRoutes registers the usage endpoints on mux.
func (u *UsageServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/usage", u.handleGetUsage)
	mux.HandleFunc("POST /api/usage/reset", u.handleResetUsage)
}

type bucketView struct {
	Requests     int64 `json:"requests"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Errors       int64 `json:"errors"`
	CostMicros   int64 `json:"cost_micros"`
}

type scopeUsageView struct {
	Minute bucketView `json:"minute"`
	Day    bucketView `json:"day"`
	Month  bucketView `json:"month"`
}

func toBucketView(b counters.Bucket) bucketView {
	return bucketView{Requests: b.Requests, InputTokens: b.InputTokens, OutputTokens: b.OutputTokens, Errors: b.Errors, CostMicros: b.CostMicros}
}

// handleGetUsage dumps every tracked scope's current window tuple. Usage
// data retention is at most a rolling one-day window (spec.md §6); this
// reflects exactly what the Counter Store currently holds, no more.
func (u *UsageServer) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	out := map[string]scopeUsageView{}
	u.store.ForEach(func(scope string, snap counters.WindowSnapshot) {
		out[scope] = scopeUsageView{
			Minute: toBucketView(snap.Minute),
			Day:    toBucketView(snap.Day),
			Month:  toBucketView(snap.Month),
		}
	})
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		u.log.Error().Err(err).Msg("write usage response")
	}
}

type resetUsageRequest struct {
	Scope   string   `json:"scope"`
	Windows []string `json:"windows"`
}

// handleResetUsage implements POST /api/usage/reset (spec.md §6: "body
// {scope, windows}"). An empty Windows list resets all three windows.
func (u *UsageServer) handleResetUsage(w http.ResponseWriter, r *http.Request) {
	var body resetUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeUsageError(w, routererr.New(routererr.ClientRequestInvalid, "malformed JSON request body"))
		return
	}
	if body.Scope == "" {
		writeUsageError(w, routererr.New(routererr.ClientRequestInvalid, "\"scope\" is required"))
		return
	}

	windows := body.Windows
	if len(windows) == 0 {
		windows = []string{"minute", "day", "month"}
	}
	parsed := make([]clock.Window, 0, len(windows))
	for _, name := range windows {
		win, ok := parseWindow(name)
		if !ok {
			writeUsageError(w, routererr.New(routererr.ClientRequestInvalid, "unknown window \""+name+"\""))
			return
		}
		parsed = append(parsed, win)
	}

	u.store.Reset(body.Scope, parsed)
	w.WriteHeader(http.StatusNoContent)
}

func parseWindow(name string) (clock.Window, bool) {
	switch name {
	case "minute":
		return clock.Minute, true
	case "day":
		return clock.Day, true
	case "month":
		return clock.Month, true
	default:
		return 0, false
	}
}

func writeUsageError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	var re *routererr.Error
	if e, ok := err.(*routererr.Error); ok {
		re = e
		status = re.Kind.HTTPStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := errorResponse{Error: errorBody{Kind: "client_request_invalid", Message: err.Error()}}
	if re != nil {
		body.Error.Kind = re.Kind.String()
		body.Error.Message = re.Detail
	}
	_ = json.NewEncoder(w).Encode(body)
}
