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

package limitengine

import (
	"testing"

	"github.com/etalazz/llmrouter/internal/counters"
	"github.com/etalazz/llmrouter/internal/registry"
)

// TestEvaluate_HardLimitBreach_Denies verifies invariant 3 (spec.md §8): a
// hard limit breach always yields Deny, regardless of any soft limits also
// configured on the same scope.
func TestEvaluate_HardLimitBreach_Denies(t *testing.T) {
	snap := counters.WindowSnapshot{
		Minute: counters.Bucket{Requests: 59},
	}
	limits := []registry.Limit{
		{Window: "minute", Metric: registry.MetricRequests, Threshold: 60, Severity: registry.SeverityHard},
	}

	d := Evaluate(snap, limits)
	if d.Verdict != Deny {
		t.Fatalf("expected Deny at request 60 of a 60/min hard cap, got %v", d.Verdict)
	}
	if len(d.Reasons) != 1 || d.Reasons[0].Severity != registry.SeverityHard {
		t.Fatalf("expected one hard reason, got %+v", d.Reasons)
	}
}

// TestEvaluate_SoftLimitBreach_AdmitsWithWarning verifies a soft breach with
// no accompanying hard breach admits the request but reports the reason.
func TestEvaluate_SoftLimitBreach_AdmitsWithWarning(t *testing.T) {
	snap := counters.WindowSnapshot{
		Day: counters.Bucket{InputTokens: 100_000},
	}
	limits := []registry.Limit{
		{Window: "day", Metric: registry.MetricInputTokens, Threshold: 100_000, Severity: registry.SeveritySoft},
	}

	d := Evaluate(snap, limits)
	if d.Verdict != AdmitWithWarning {
		t.Fatalf("expected AdmitWithWarning, got %v", d.Verdict)
	}
	if len(d.Reasons) != 1 {
		t.Fatalf("expected one warning reason, got %+v", d.Reasons)
	}
}

// TestEvaluate_NoBreach_Admits verifies the all-clear path produces no
// reasons.
func TestEvaluate_NoBreach_Admits(t *testing.T) {
	snap := counters.WindowSnapshot{Minute: counters.Bucket{Requests: 1}}
	limits := []registry.Limit{
		{Window: "minute", Metric: registry.MetricRequests, Threshold: 60, Severity: registry.SeverityHard},
	}
	d := Evaluate(snap, limits)
	if d.Verdict != Admit || len(d.Reasons) != 0 {
		t.Fatalf("expected clean Admit, got %+v", d)
	}
}

// TestEvaluate_MultipleBreaches_AccumulateReasons verifies that several
// breached limits on the same scope all contribute reasons rather than
// short-circuiting on the first one found (spec.md §4.2: "multiple breaches
// accumulate reasons for logs").
func TestEvaluate_MultipleBreaches_AccumulateReasons(t *testing.T) {
	snap := counters.WindowSnapshot{
		Minute: counters.Bucket{Requests: 59},
		Day:    counters.Bucket{OutputTokens: 50_000},
	}
	limits := []registry.Limit{
		{Window: "minute", Metric: registry.MetricRequests, Threshold: 60, Severity: registry.SeverityHard},
		{Window: "day", Metric: registry.MetricOutputTokens, Threshold: 50_000, Severity: registry.SeveritySoft},
	}

	d := Evaluate(snap, limits)
	if d.Verdict != Deny {
		t.Fatalf("expected Deny since one of the breaches is hard, got %v", d.Verdict)
	}
	if len(d.Reasons) != 2 {
		t.Fatalf("expected both breaches recorded as reasons, got %+v", d.Reasons)
	}
}

// TestEvaluate_MissingLimit_IsUnbounded verifies a scope with no configured
// limit on a metric never breaches it (spec.md §3: absence means unbounded).
func TestEvaluate_MissingLimit_IsUnbounded(t *testing.T) {
	snap := counters.WindowSnapshot{Month: counters.Bucket{InputTokens: 10_000_000}}
	d := Evaluate(snap, nil)
	if d.Verdict != Admit {
		t.Fatalf("expected Admit with no limits configured, got %v", d.Verdict)
	}
}

// TestDecision_Summary_FormatsReasons verifies the log/error-detail
// rendering is non-empty and stable in shape for a breach.
func TestDecision_Summary_FormatsReasons(t *testing.T) {
	d := Decision{Verdict: Deny, Reasons: []Reason{
		{Window: "minute", Metric: registry.MetricRequests, Threshold: 60, Observed: 60, Severity: registry.SeverityHard},
	}}
	if s := d.Summary(); s == "" {
		t.Fatalf("expected non-empty summary for a denied decision")
	}
}
