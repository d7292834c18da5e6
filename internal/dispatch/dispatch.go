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

// Package dispatch drives one chat-completion request to completion
// (spec.md §4.6): acquire a Registry snapshot, resolve a RoutingPlan, and
// walk its candidates, handling unary and streaming attempts, recording
// usage, and reporting outcomes to the Health Controller.
//
// The check-consume-record flow generalizes the teacher's single-endpoint
// handler (internal/ratelimiter/api/server.go's handleCheckRateLimit:
// identify scope, check/consume, observe telemetry) into a multi-candidate,
// multi-scope attempt loop.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/etalazz/llmrouter/internal/audit"
	"github.com/etalazz/llmrouter/internal/counters"
	"github.com/etalazz/llmrouter/internal/health"
	"github.com/etalazz/llmrouter/internal/limitengine"
	"github.com/etalazz/llmrouter/internal/provideradapter"
	"github.com/etalazz/llmrouter/internal/registry"
	"github.com/etalazz/llmrouter/internal/router"
	"github.com/etalazz/llmrouter/internal/routererr"
	"github.com/etalazz/llmrouter/internal/telemetry/metrics"
)

// AdapterResolver returns the Adapter bound to a provider, constructing or
// caching it as needed.
type AdapterResolver func(p registry.Provider) provideradapter.Adapter

// Dispatcher drives chat-completion requests end to end.
type Dispatcher struct {
	registry  *registry.Registry
	router    *router.Router
	store     *counters.Store
	healthC   *health.Controller
	resolve   AdapterResolver
	auditSink *audit.Sink
	log       zerolog.Logger
}

// New constructs a Dispatcher wired to the shared Registry, Router, Counter
// Store, Health Controller, an adapter resolver, and an optional audit sink.
func New(reg *registry.Registry, r *router.Router, store *counters.Store, healthC *health.Controller, resolve AdapterResolver, auditSink *audit.Sink, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: reg, router: r, store: store, healthC: healthC, resolve: resolve, auditSink: auditSink, log: log}
}

// Outcome reports how a completed dispatch ended, for audit and metrics.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeDenied   Outcome = "denied"
	OutcomeNoRoute  Outcome = "no_route"
	OutcomeExhausted Outcome = "exhausted"
)

// UnaryResult is the outcome of Dispatcher.DispatchUnary.
type UnaryResult struct {
	Response provideradapter.ChatResponse
	Usage    provideradapter.Usage
	Provider string
}

// DispatchUnary drives an end-to-end unary request (spec.md §4.6 steps 1-4,
// unary path 3b).
func (d *Dispatcher) DispatchUnary(ctx context.Context, req router.Request, bearerToken string) (UnaryResult, error) {
	snap := d.registry.Current()
	plan, err := d.router.Route(snap, req)
	if err != nil {
		d.recordAudit(req, bearerToken, "", OutcomeNoRoute, err)
		return UnaryResult{}, err
	}

	var lastErr error
	for _, cand := range plan.Candidates {
		if !d.router.Eligible(snap, cand.Provider, virtualIDFor(snap, cand)) {
			continue
		}

		adapter := d.resolve(cand.Provider)
		resp, usage, err := adapter.SendUnary(ctx, provideradapter.ChatRequest{Model: req.Model, Messages: req.Messages})
		now := time.Now()
		if err != nil {
			d.recordFailure(cand, now, err)
			lastErr = err
			continue
		}

		d.recordSuccess(snap, cand, now, usage)
		d.recordAudit(req, bearerToken, cand.Provider.ID, OutcomeSuccess, nil)
		return UnaryResult{Response: resp, Usage: usage, Provider: cand.Provider.ID}, nil
	}

	final := routererr.Wrap(routererr.UpstreamExhausted, "all routing candidates failed", lastErr)
	d.recordAudit(req, bearerToken, "", OutcomeExhausted, final)
	return UnaryResult{}, final
}

// StreamResult is the outcome of Dispatcher.DispatchStream: chunks forwarded
// verbatim to the client, with a terminal error reported once the candidate
// is locked in (spec.md invariant 5).
type StreamResult struct {
	Chunks   <-chan provideradapter.StreamChunk
	Err      <-chan error
	Provider string
}

// DispatchStream drives an end-to-end streaming request (spec.md §4.6 step
// 3c): the first candidate whose adapter commits a first chunk is locked
// in — no further failover for this request.
func (d *Dispatcher) DispatchStream(ctx context.Context, req router.Request, bearerToken string) (StreamResult, error) {
	snap := d.registry.Current()
	plan, err := d.router.Route(snap, req)
	if err != nil {
		d.recordAudit(req, bearerToken, "", OutcomeNoRoute, err)
		return StreamResult{}, err
	}

	var lastErr error
	for _, cand := range plan.Candidates {
		if !d.router.Eligible(snap, cand.Provider, virtualIDFor(snap, cand)) {
			continue
		}

		adapter := d.resolve(cand.Provider)
		upstream, err := adapter.SendStream(ctx, provideradapter.ChatRequest{Model: req.Model, Messages: req.Messages, Stream: true})
		if err != nil {
			d.recordFailure(cand, time.Now(), err)
			lastErr = err
			continue
		}

		first, ok := <-upstream.Chunks
		if !ok {
			// Stream closed with no chunks: treat as pre-first-chunk
			// failure and continue to the next candidate.
			select {
			case lastErr = <-upstream.Err:
			default:
				lastErr = routererr.New(routererr.UpstreamTransient, "stream closed before first chunk")
			}
			d.recordFailure(cand, time.Now(), lastErr)
			continue
		}

		// Locked in: forward the already-received first chunk, then
		// mirror the rest of the upstream stream to the caller.
		out := make(chan provideradapter.StreamChunk, 1)
		outErr := make(chan error, 1)
		out <- first
		go d.forwardStream(snap, cand, upstream, out, outErr)

		d.recordAudit(req, bearerToken, cand.Provider.ID, OutcomeSuccess, nil)
		return StreamResult{Chunks: out, Err: outErr, Provider: cand.Provider.ID}, nil
	}

	final := routererr.Wrap(routererr.UpstreamExhausted, "all routing candidates failed before streaming began", lastErr)
	d.recordAudit(req, bearerToken, "", OutcomeExhausted, final)
	return StreamResult{}, final
}

func (d *Dispatcher) forwardStream(snap *registry.Snapshot, cand router.Candidate, upstream provideradapter.StreamResult, out chan<- provideradapter.StreamChunk, outErr chan<- error) {
	defer close(outErr)
	defer close(out)
	for chunk := range upstream.Chunks {
		out <- chunk
		if chunk.Done {
			d.recordSuccess(snap, cand, time.Now(), upstream.Usage())
			return
		}
	}
	select {
	case err := <-upstream.Err:
		d.recordFailure(cand, time.Now(), err)
		outErr <- routererr.Wrap(routererr.StreamingInterrupted, "mid-stream upstream failure", err).WithProvider(cand.Provider.ID)
	default:
		d.recordSuccess(snap, cand, time.Now(), upstream.Usage())
	}
}

// recordSuccess records usage against every owning scope, reports the
// success to the Health Controller, then re-evaluates those same scopes'
// limits against the now-updated counters: token and cost limits are
// unknown pre-flight (spec.md §4.2), so a hard breach they cause is only
// detectable after this request's usage has posted, and is enforced by
// cooling the provider rather than rejecting the request already served.
func (d *Dispatcher) recordSuccess(snap *registry.Snapshot, cand router.Candidate, now time.Time, usage provideradapter.Usage) {
	costMicros := cand.Provider.Cost.CostMicros(usage.InputTokens, usage.OutputTokens)
	delta := counters.Delta{Requests: 1, InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens, CostMicros: costMicros}
	for _, scope := range cand.ChargeScopes {
		d.store.Record(scope, delta)
	}
	var tracker *health.Tracker
	if d.healthC != nil {
		tracker = d.healthC.Register(cand.Provider)
		tracker.RecordSuccess(now)
	}
	if tracker != nil && d.postFlightHardBreach(snap, cand) {
		tracker.RecordLimitBreach(now)
	}
	metrics.ObserveDispatchOutcome(cand.Provider.ID, string(OutcomeSuccess))
}

// postFlightHardBreach reports whether any scope cand just charged now
// breaches one of its own hard token or cost limits, per the post-update
// counters. Request-count limits are left to the pre-flight check.
func (d *Dispatcher) postFlightHardBreach(snap *registry.Snapshot, cand router.Candidate) bool {
	for _, scope := range cand.ChargeScopes {
		var limits []registry.Limit
		for _, l := range snap.ScopeLimits(scope) {
			if l.Metric != registry.MetricRequests {
				limits = append(limits, l)
			}
		}
		if len(limits) == 0 {
			continue
		}
		decision := limitengine.Evaluate(d.store.Snapshot(scope), limits)
		if decision.Verdict == limitengine.Deny {
			return true
		}
	}
	return false
}

// recordFailure charges an error against every owning scope and reports the
// outcome to the Health Controller, distinguishing the two error kinds that
// bypass the ordinary consecutive-failure threshold (spec.md §7):
// UpstreamAuth forces an immediate cooling transition ("authentication is
// unlikely to self-repair"), and RateLimited forces cooling with the
// deadline bumped to at least any Retry-After hint.
func (d *Dispatcher) recordFailure(cand router.Candidate, now time.Time, cause error) {
	delta := counters.Delta{Requests: 1, Errors: 1}
	for _, scope := range cand.ChargeScopes {
		d.store.Record(scope, delta)
	}
	metrics.ObserveDispatchOutcome(cand.Provider.ID, "attempt_failed")
	if d.healthC == nil {
		return
	}
	tracker := d.healthC.Register(cand.Provider)
	var re *routererr.Error
	if errors.As(cause, &re) {
		switch re.Kind {
		case routererr.UpstreamAuth:
			tracker.RecordFailure(now, true)
			return
		case routererr.RateLimited:
			tracker.RecordRateLimited(now, re.RetryAfter)
			return
		}
	}
	tracker.RecordFailure(now, false)
}

func (d *Dispatcher) recordAudit(req router.Request, bearerToken, providerID string, outcome Outcome, err error) {
	if outcome != OutcomeSuccess {
		// Success is already counted per-candidate by recordSuccess;
		// everything else (no_route, exhausted, denied) only ever happens
		// once, at the request's terminal outcome.
		metrics.ObserveDispatchOutcome(providerID, string(outcome))
	}
	if d.auditSink == nil {
		return
	}
	entry := audit.Entry{
		Model:       req.Model,
		Provider:    providerID,
		Outcome:     string(outcome),
		BearerToken: bearerToken,
	}
	if err != nil {
		entry.Detail = err.Error()
	}
	if werr := d.auditSink.Append(entry); werr != nil {
		d.log.Error().Err(werr).Msg("audit append failed")
	}
}

// virtualIDFor recovers the virtual provider ID a candidate was routed
// through, if any, by inspecting its charge scopes — used only to re-run
// the same eligibility check the Router applied when building the plan.
func virtualIDFor(snap *registry.Snapshot, cand router.Candidate) string {
	for id, vp := range snap.VirtualProviders {
		for _, m := range vp.Members {
			if m.ProviderID == cand.Provider.ID {
				for _, scope := range cand.ChargeScopes {
					if scope == registry.VirtualScopeID(id) {
						return id
					}
				}
			}
		}
	}
	return ""
}
