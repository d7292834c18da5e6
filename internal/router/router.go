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

// Package router implements route(request) -> RoutingPlan (spec.md §4.5):
// resolution of an explicit selector, a direct model-to-provider mapping, or
// a virtual provider's priority-ordered, health-and-limit-filtered member
// list.
package router

import (
	"github.com/etalazz/llmrouter/internal/counters"
	"github.com/etalazz/llmrouter/internal/health"
	"github.com/etalazz/llmrouter/internal/limitengine"
	"github.com/etalazz/llmrouter/internal/provideradapter"
	"github.com/etalazz/llmrouter/internal/registry"
	"github.com/etalazz/llmrouter/internal/routererr"
	"github.com/etalazz/llmrouter/internal/telemetry/metrics"
)

// Candidate is one base provider in a RoutingPlan, annotated with the
// scopes a successful dispatch to it must charge (spec.md §4.6: "member
// scope + virtual scope if applicable").
type Candidate struct {
	Provider     registry.Provider
	ChargeScopes []string
}

// RoutingPlan is an ordered, non-empty sequence of candidates to try in
// turn (spec.md §4.5).
type RoutingPlan struct {
	Candidates []Candidate
}

// Request is the routing-relevant projection of an inbound chat-completion
// request (spec.md §6). Messages rides along unexamined by the Router
// itself (routing decisions only ever consult Model/ExplicitProvider) but
// is threaded through so the Dispatcher can hand it to the Provider
// Adapter unchanged (spec.md §1 Non-goals: "request-body rewriting beyond
// provider selection").
type Request struct {
	Model            string
	Messages         []provideradapter.ChatMessage
	ExplicitProvider string // from a selector header or path segment; empty if absent
}

// Router resolves requests against a Registry snapshot, consulting the
// Counter Store, Limit Evaluator, and Health Controller for eligibility.
type Router struct {
	store   *counters.Store
	healthC *health.Controller
}

// New constructs a Router bound to the shared Counter Store and Health
// Controller.
func New(store *counters.Store, healthC *health.Controller) *Router {
	return &Router{store: store, healthC: healthC}
}

// Route resolves req against snap per spec.md §4.5's four-step procedure.
func (r *Router) Route(snap *registry.Snapshot, req Request) (RoutingPlan, error) {
	if req.ExplicitProvider != "" {
		return r.explicitPlan(snap, req.ExplicitProvider)
	}
	if providerID, ok := snap.ModelToProvider[req.Model]; ok {
		return r.directPlan(snap, providerID)
	}
	if virtualID, ok := snap.ModelToVirtual[req.Model]; ok {
		return r.virtualPlan(snap, virtualID)
	}
	return RoutingPlan{}, routererr.New(routererr.NoProviderAvailable, "model resolves to no provider or virtual provider")
}

// explicitPlan implements step 1: virtual-provider logic bypassed, scope
// accounting and limits still apply.
func (r *Router) explicitPlan(snap *registry.Snapshot, providerID string) (RoutingPlan, error) {
	p, ok := snap.Providers[providerID]
	if !ok || !p.Enabled {
		return RoutingPlan{}, routererr.New(routererr.NoProviderAvailable, "explicit provider selector names an unknown or disabled provider").WithProvider(providerID)
	}
	scope := registry.BaseScopeID(providerID)
	return RoutingPlan{Candidates: []Candidate{{Provider: p, ChargeScopes: []string{scope}}}}, nil
}

// directPlan implements step 2.
func (r *Router) directPlan(snap *registry.Snapshot, providerID string) (RoutingPlan, error) {
	p, ok := snap.Providers[providerID]
	if !ok || !p.Enabled {
		return RoutingPlan{}, routererr.New(routererr.NoProviderAvailable, "model's direct provider is unknown or disabled").WithProvider(providerID)
	}
	scope := registry.BaseScopeID(providerID)
	return RoutingPlan{Candidates: []Candidate{{Provider: p, ChargeScopes: []string{scope}}}}, nil
}

// virtualPlan implements steps 3-4.
func (r *Router) virtualPlan(snap *registry.Snapshot, virtualID string) (RoutingPlan, error) {
	vp, ok := snap.VirtualProviders[virtualID]
	if !ok {
		return RoutingPlan{}, routererr.New(routererr.NoProviderAvailable, "unknown virtual provider").WithProvider(virtualID)
	}

	var candidates []Candidate
	for _, member := range vp.SortedMembers() {
		p, ok := snap.Providers[member.ProviderID]
		if !ok || !p.Enabled {
			continue
		}
		if !r.eligible(snap, p, virtualID) {
			continue
		}
		candidates = append(candidates, Candidate{
			Provider: p,
			ChargeScopes: []string{
				registry.BaseScopeID(p.ID),
				registry.VirtualScopeID(virtualID),
				registry.PairScopeID(virtualID, p.ID),
			},
		})
	}

	if len(candidates) == 0 {
		return RoutingPlan{}, routererr.New(routererr.NoProviderAvailable, "no eligible member in virtual provider").WithProvider(virtualID)
	}
	return RoutingPlan{Candidates: candidates}, nil
}

// Eligible re-checks health and pre-flight limits for one candidate; used
// both during initial plan construction and by the Dispatcher's per-attempt
// re-check (spec.md §4.6 step 3a: "state may have changed").
func (r *Router) Eligible(snap *registry.Snapshot, p registry.Provider, virtualID string) bool {
	return r.eligible(snap, p, virtualID)
}

func (r *Router) eligible(snap *registry.Snapshot, p registry.Provider, virtualID string) bool {
	if !p.Enabled {
		return false
	}
	if r.healthC != nil && !r.healthC.State(p.ID).Eligible() {
		metrics.ObserveRoutingDenial(p.ID, "health")
		return false
	}

	scopes := []string{registry.BaseScopeID(p.ID)}
	if virtualID != "" {
		scopes = append(scopes, registry.VirtualScopeID(virtualID), registry.PairScopeID(virtualID, p.ID))
	}
	for _, scope := range scopes {
		limits := snap.ScopeLimits(scope)
		if len(limits) == 0 {
			continue
		}
		snapshot := r.store.Snapshot(scope)
		decision := limitengine.Evaluate(snapshot, limits)
		for _, reason := range decision.Reasons {
			metrics.ObserveLimitBreach(reason.Window, string(reason.Metric), string(reason.Severity))
		}
		if decision.Verdict == limitengine.Deny {
			metrics.ObserveRoutingDenial(p.ID, "limit")
			return false
		}
	}
	return true
}
