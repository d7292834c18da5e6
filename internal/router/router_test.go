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

package router

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/etalazz/llmrouter/internal/clock"
	"github.com/etalazz/llmrouter/internal/counters"
	"github.com/etalazz/llmrouter/internal/health"
	"github.com/etalazz/llmrouter/internal/registry"
	"github.com/etalazz/llmrouter/internal/routererr"
)

func testSnapshot() *registry.Snapshot {
	providers := []registry.Provider{
		{ID: "primary", Enabled: true, FailureThreshold: 3},
		{ID: "secondary", Enabled: true, FailureThreshold: 3},
	}
	virtuals := []registry.VirtualProvider{
		{
			ID: "chat",
			Members: []registry.VirtualMember{
				{ProviderID: "primary", Priority: 1},
				{ProviderID: "secondary", Priority: 2},
			},
		},
	}
	return registry.Build(providers, virtuals, nil, map[string]string{"direct-model": "primary"}, map[string]string{"gpt-chat": "chat"})
}

// TestRouter_VirtualProvider_PriorityOrder verifies scenario S1 (spec.md
// §8): the plan lists members in priority order.
func TestRouter_VirtualProvider_PriorityOrder(t *testing.T) {
	snap := testSnapshot()
	r := New(counters.NewStore(clock.SystemClock{}), health.NewController(nil, time.Hour, zerolog.Nop()))

	plan, err := r.Route(snap, Request{Model: "gpt-chat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Candidates) != 2 {
		t.Fatalf("expected both members as candidates, got %d", len(plan.Candidates))
	}
	if plan.Candidates[0].Provider.ID != "primary" || plan.Candidates[1].Provider.ID != "secondary" {
		t.Fatalf("expected priority order primary,secondary, got %s,%s", plan.Candidates[0].Provider.ID, plan.Candidates[1].Provider.ID)
	}
}

// TestRouter_DirectModel_Bypass verifies scenario S4: a model mapped
// directly to a base provider bypasses virtual-provider logic.
func TestRouter_DirectModel_Bypass(t *testing.T) {
	snap := testSnapshot()
	r := New(counters.NewStore(clock.SystemClock{}), health.NewController(nil, time.Hour, zerolog.Nop()))

	plan, err := r.Route(snap, Request{Model: "direct-model"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Candidates) != 1 || plan.Candidates[0].Provider.ID != "primary" {
		t.Fatalf("expected single direct candidate primary, got %+v", plan.Candidates)
	}
}

// TestRouter_ExplicitSelector_BypassesVirtualLogic verifies step 1: an
// explicit selector always wins even if the model would otherwise resolve
// to a virtual provider.
func TestRouter_ExplicitSelector_BypassesVirtualLogic(t *testing.T) {
	snap := testSnapshot()
	r := New(counters.NewStore(clock.SystemClock{}), health.NewController(nil, time.Hour, zerolog.Nop()))

	plan, err := r.Route(snap, Request{Model: "gpt-chat", ExplicitProvider: "secondary"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Candidates) != 1 || plan.Candidates[0].Provider.ID != "secondary" {
		t.Fatalf("expected explicit selector to pin secondary, got %+v", plan.Candidates)
	}
}

// TestRouter_HardLimitedMember_IsExcludedFromPlan verifies scenario S2: a
// hard-limited member is filtered out of the virtual provider's plan,
// leaving only still-eligible candidates for failover.
func TestRouter_HardLimitedMember_IsExcludedFromPlan(t *testing.T) {
	providers := []registry.Provider{
		{ID: "primary", Enabled: true, FailureThreshold: 3},
		{ID: "secondary", Enabled: true, FailureThreshold: 3},
	}
	virtuals := []registry.VirtualProvider{
		{ID: "chat", Members: []registry.VirtualMember{
			{ProviderID: "primary", Priority: 1},
			{ProviderID: "secondary", Priority: 2},
		}},
	}
	limits := []registry.Limit{
		{Scope: registry.BaseScopeID("primary"), Window: "minute", Metric: registry.MetricRequests, Threshold: 1, Severity: registry.SeverityHard},
	}
	snap := registry.Build(providers, virtuals, limits, nil, map[string]string{"gpt-chat": "chat"})

	store := counters.NewStore(clock.SystemClock{})
	store.Record(registry.BaseScopeID("primary"), counters.Delta{Requests: 1})

	r := New(store, health.NewController(nil, time.Hour, zerolog.Nop()))
	plan, err := r.Route(snap, Request{Model: "gpt-chat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Candidates) != 1 || plan.Candidates[0].Provider.ID != "secondary" {
		t.Fatalf("expected only secondary after primary's hard limit excludes it, got %+v", plan.Candidates)
	}
}

// TestRouter_NoEligibleCandidate_ReportsNoProviderAvailable verifies step 4.
func TestRouter_NoEligibleCandidate_ReportsNoProviderAvailable(t *testing.T) {
	providers := []registry.Provider{
		{ID: "primary", Enabled: false},
	}
	virtuals := []registry.VirtualProvider{
		{ID: "chat", Members: []registry.VirtualMember{{ProviderID: "primary", Priority: 1}}},
	}
	snap := registry.Build(providers, virtuals, nil, nil, map[string]string{"gpt-chat": "chat"})

	r := New(counters.NewStore(clock.SystemClock{}), health.NewController(nil, time.Hour, zerolog.Nop()))
	_, err := r.Route(snap, Request{Model: "gpt-chat"})
	if !routererr.IsKind(err, routererr.NoProviderAvailable) {
		t.Fatalf("expected NoProviderAvailable, got %v", err)
	}
}

// TestRouter_UnknownModel_ReportsNoProviderAvailable covers a model with no
// mapping at all.
func TestRouter_UnknownModel_ReportsNoProviderAvailable(t *testing.T) {
	snap := testSnapshot()
	r := New(counters.NewStore(clock.SystemClock{}), health.NewController(nil, time.Hour, zerolog.Nop()))
	_, err := r.Route(snap, Request{Model: "nonexistent"})
	if !routererr.IsKind(err, routererr.NoProviderAvailable) {
		t.Fatalf("expected NoProviderAvailable for an unmapped model, got %v", err)
	}
}
