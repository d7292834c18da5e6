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

package registry

import (
	"math"
	"sort"
	"strings"
	"sync/atomic"
)

// Snapshot is the immutable, point-in-time catalog a single request resolves
// against. Per spec.md §3 invariant ("Config swap is atomic") and §9 design
// note ("Registry swap... readers copy the handle once per request"), a
// Dispatcher acquires exactly one Snapshot at the start of a request and
// uses it throughout, even if a reconfiguration happens mid-request.
type Snapshot struct {
	Providers        map[string]Provider
	VirtualProviders map[string]VirtualProvider
	// ModelToProvider resolves a model name directly to a base provider id
	// (spec.md §4.5 resolution step 2).
	ModelToProvider map[string]string
	// ModelToVirtual resolves a model name to a virtual provider id
	// (spec.md §4.5 resolution step 3).
	ModelToVirtual map[string]string
	// Limits maps a scope id to its configured limit set.
	Limits map[string][]Limit
}

// newEmptySnapshot returns a Snapshot with all maps initialized, used both
// as the Registry's zero state and as a base for building replacements.
func newEmptySnapshot() *Snapshot {
	return &Snapshot{
		Providers:        map[string]Provider{},
		VirtualProviders: map[string]VirtualProvider{},
		ModelToProvider:  map[string]string{},
		ModelToVirtual:   map[string]string{},
		Limits:           map[string][]Limit{},
	}
}

// SortedMembers returns a virtual provider's members ordered by (priority
// ascending, stable tiebreak on id), per spec.md §4.5 resolution step 3.
func (vp VirtualProvider) SortedMembers() []VirtualMember {
	out := make([]VirtualMember, len(vp.Members))
	copy(out, vp.Members)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ProviderID < out[j].ProviderID
	})
	return out
}

// Registry holds an atomically-replaceable Snapshot. Readers call Current()
// once per request and operate on the returned pointer for that request's
// entire lifetime.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry constructs a Registry seeded with an empty snapshot.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(newEmptySnapshot())
	return r
}

// Current returns the presently-published Snapshot. Safe to call
// concurrently with Replace.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Replace atomically publishes a new Snapshot, built from a Document by
// Build. Any request already holding a reference to the previous Snapshot
// via Current() continues to observe it (invariant: config swap is atomic).
func (r *Registry) Replace(snap *Snapshot) {
	r.current.Store(snap)
}

// Build constructs a Snapshot from a raw configuration document: it indexes
// providers/virtual providers by id, derives the model-resolution maps, and
// groups limits by scope. Cost-denominated limits are converted to
// equivalent token limits here ("at config-apply time", per SPEC_FULL.md §3)
// using ceiling arithmetic.
func Build(providers []Provider, virtuals []VirtualProvider, limits []Limit, modelToProvider, modelToVirtual map[string]string) *Snapshot {
	snap := newEmptySnapshot()
	for _, p := range providers {
		snap.Providers[p.ID] = p
	}
	for _, vp := range virtuals {
		snap.VirtualProviders[vp.ID] = vp
	}
	for k, v := range modelToProvider {
		snap.ModelToProvider[k] = v
	}
	for k, v := range modelToVirtual {
		snap.ModelToVirtual[k] = v
	}
	for _, l := range limits {
		if l.Metric != MetricCostMicros {
			snap.Limits[l.Scope] = append(snap.Limits[l.Scope], l)
			continue
		}
		providerID, ok := costProviderID(l.Scope)
		if !ok {
			continue
		}
		p, ok := snap.Providers[providerID]
		if !ok {
			continue
		}
		if in := p.Cost.TokenLimitFromCostMicros(l.Threshold, false); in < math.MaxInt64 {
			snap.Limits[l.Scope] = append(snap.Limits[l.Scope], Limit{
				Scope: l.Scope, Window: l.Window, Metric: MetricInputTokens,
				Threshold: in, Severity: l.Severity,
			})
		}
		if out := p.Cost.TokenLimitFromCostMicros(l.Threshold, true); out < math.MaxInt64 {
			snap.Limits[l.Scope] = append(snap.Limits[l.Scope], Limit{
				Scope: l.Scope, Window: l.Window, Metric: MetricOutputTokens,
				Threshold: out, Severity: l.Severity,
			})
		}
	}
	return snap
}

// costProviderID extracts the single base provider id a cost-denominated
// limit's scope resolves to. Base scopes ("provider:x") and pair scopes
// ("virtual:v/member:x") each name exactly one provider's cost catalog; a
// pure virtual scope ("virtual:v") can span members priced differently and
// is left unconverted (see DESIGN.md).
func costProviderID(scope string) (string, bool) {
	if id, ok := strings.CutPrefix(scope, "provider:"); ok {
		return id, true
	}
	if _, member, ok := strings.Cut(scope, "/member:"); ok {
		return member, true
	}
	return "", false
}

// ScopeLimits returns the limit set attached to a scope; nil/empty means
// "unbounded" per spec.md §3.
func (s *Snapshot) ScopeLimits(scope string) []Limit {
	return s.Limits[scope]
}

// VirtualScopeID returns the scope id used for virtual-provider-wide
// counters, distinct from any (virtual, member) pair scope.
func VirtualScopeID(virtualID string) string {
	return "virtual:" + virtualID
}

// BaseScopeID returns the scope id used for a base provider's own counters.
func BaseScopeID(providerID string) string {
	return "provider:" + providerID
}

// PairScopeID returns the scope id for the (virtual-provider, member)
// pair scope described in spec.md §3.
func PairScopeID(virtualID, providerID string) string {
	return "virtual:" + virtualID + "/member:" + providerID
}
