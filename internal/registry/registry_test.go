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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// TestRegistry_ReplaceIsAtomicToReaders verifies that a reader holding a
// Snapshot obtained before a Replace never observes a partially-updated
// view, matching invariant "Config swap is atomic" (spec.md §3, §8
// property 6).
func TestRegistry_ReplaceIsAtomicToReaders(t *testing.T) {
	r := NewRegistry()
	first := Build([]Provider{{ID: "a"}}, nil, nil, nil, nil)
	r.Replace(first)

	held := r.Current()
	if _, ok := held.Providers["a"]; !ok {
		t.Fatalf("expected held snapshot to contain provider a")
	}

	second := Build([]Provider{{ID: "b"}}, nil, nil, nil, nil)
	r.Replace(second)

	if _, ok := held.Providers["a"]; !ok {
		t.Fatalf("previously-held snapshot must remain unchanged after Replace")
	}
	if _, ok := held.Providers["b"]; ok {
		t.Fatalf("previously-held snapshot must not gain the new provider")
	}
	if _, ok := r.Current().Providers["b"]; !ok {
		t.Fatalf("new reads must observe the replaced snapshot")
	}
}

// TestVirtualProvider_SortedMembers_PriorityThenID verifies the resolution
// order spec.md §4.5 step 3 requires: priority ascending, stable tiebreak
// on id.
func TestVirtualProvider_SortedMembers_PriorityThenID(t *testing.T) {
	vp := VirtualProvider{
		Members: []VirtualMember{
			{ProviderID: "c", Priority: 2},
			{ProviderID: "b", Priority: 1},
			{ProviderID: "a", Priority: 1},
		},
	}
	got := vp.SortedMembers()
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if got[i].ProviderID != id {
			t.Fatalf("position %d: got %s, want %s", i, got[i].ProviderID, id)
		}
	}
}

// TestBuild_CostLimit_ConvertedToTokenLimitsAtBaseScope verifies the Open
// Question decision (spec.md §9, SPEC_FULL.md §3): a cost-denominated limit
// on a base provider scope is expanded into input-tokens and output-tokens
// limits using ceiling arithmetic, and never itself reaches the Snapshot.
func TestBuild_CostLimit_ConvertedToTokenLimitsAtBaseScope(t *testing.T) {
	providers := []Provider{{
		ID: "openai",
		Cost: CostCatalog{
			PricePerMillionInput:  2,  // 2 micros/token, per CostCatalog.CostMicros
			PricePerMillionOutput: 10, // 10 micros/token
		},
	}}
	limits := []Limit{{
		Scope: "provider:openai", Window: "day",
		Metric: MetricCostMicros, Threshold: 1_000, Severity: SeverityHard,
	}}
	snap := Build(providers, nil, limits, nil, nil)

	got := snap.ScopeLimits("provider:openai")
	if len(got) != 2 {
		t.Fatalf("expected 2 derived limits, got %+v", got)
	}
	for _, l := range got {
		if l.Metric == MetricCostMicros {
			t.Fatalf("cost metric must not reach the snapshot: %+v", l)
		}
		switch l.Metric {
		case MetricInputTokens:
			if l.Threshold != 500 { // ceil(1000/2)
				t.Fatalf("input-tokens threshold: got %d, want 500", l.Threshold)
			}
		case MetricOutputTokens:
			if l.Threshold != 100 { // ceil(1000/10)
				t.Fatalf("output-tokens threshold: got %d, want 100", l.Threshold)
			}
		default:
			t.Fatalf("unexpected metric %v", l.Metric)
		}
	}
}

// TestBuild_CostLimit_PureVirtualScopeLeftUnconverted verifies a cost limit
// on a virtual-provider-wide scope (spanning members with potentially
// different prices) is dropped rather than guessed at.
func TestBuild_CostLimit_PureVirtualScopeLeftUnconverted(t *testing.T) {
	limits := []Limit{{Scope: "virtual:fast", Window: "day", Metric: MetricCostMicros, Threshold: 1_000}}
	snap := Build(nil, []VirtualProvider{{ID: "fast"}}, limits, nil, nil)
	if got := snap.ScopeLimits("virtual:fast"); len(got) != 0 {
		t.Fatalf("expected no derived limits for a pure virtual scope, got %+v", got)
	}
}

// TestConfigBridge_SaveWritesBackupBeforeOverwrite verifies the ".bak"
// sibling requirement from spec.md §6.
func TestConfigBridge_SaveWritesBackupBeforeOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	bridge := NewConfigBridge(path)

	if err := bridge.Save(Document{Providers: []Provider{{ID: "a"}}}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if _, err := os.Stat(path + ".bak"); !os.IsNotExist(err) {
		t.Fatalf("expected no .bak file before any prior config existed")
	}

	if err := bridge.Save(Document{Providers: []Provider{{ID: "b"}}}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	bakData, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("expected .bak file after overwrite: %v", err)
	}

	loaded, err := bridge.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Providers) != 1 || loaded.Providers[0].ID != "b" {
		t.Fatalf("expected current config to hold provider b, got %+v", loaded)
	}
	var bak Document
	if err := json.Unmarshal(bakData, &bak); err != nil {
		t.Fatalf("parse backup: %v", err)
	}
	if len(bak.Providers) != 1 || bak.Providers[0].ID != "a" {
		t.Fatalf("expected backup to hold the pre-overwrite provider a, got %+v", bak)
	}
}

// TestConfigBridge_Load_MissingFileReturnsEmpty verifies a fresh deployment
// with no config file yet starts from an empty Document rather than erroring.
func TestConfigBridge_Load_MissingFileReturnsEmpty(t *testing.T) {
	bridge := NewConfigBridge(filepath.Join(t.TempDir(), "does-not-exist.json"))
	doc, err := bridge.Load()
	if err != nil {
		t.Fatalf("expected no error for missing config, got %v", err)
	}
	if len(doc.Providers) != 0 {
		t.Fatalf("expected empty document, got %+v", doc)
	}
}
