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

package health

import (
	"testing"
	"time"

	"github.com/etalazz/llmrouter/internal/registry"
)

func fixedPolicy(seconds float64) registry.CooldownPolicy {
	return registry.CooldownPolicy{Strategy: registry.CooldownFixed, FixedSeconds: seconds}
}

func expPolicy(base, cap float64) registry.CooldownPolicy {
	return registry.CooldownPolicy{Strategy: registry.CooldownExponential, BaseSeconds: base, CapSeconds: cap}
}

// TestTracker_FailuresBelowThreshold_Degrades verifies the table's
// "failure (< threshold)" column from healthy.
func TestTracker_FailuresBelowThreshold_Degrades(t *testing.T) {
	tr := NewTracker(fixedPolicy(30), 3)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.RecordFailure(now, false)
	if got := tr.State(now); got != Degraded {
		t.Fatalf("expected Degraded after one failure below threshold 3, got %v", got)
	}
}

// TestTracker_FailuresAtThreshold_EntersCooling verifies invariant 4
// (spec.md §8): reaching the threshold transitions to cooling with a
// deadline.
func TestTracker_FailuresAtThreshold_EntersCooling(t *testing.T) {
	tr := NewTracker(fixedPolicy(30), 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.RecordFailure(now, false)
	tr.RecordFailure(now, false)
	if got := tr.State(now); got != Cooling {
		t.Fatalf("expected Cooling at threshold, got %v", got)
	}
	if tr.CooldownDeadline().Before(now) {
		t.Fatalf("expected a cooldown deadline in the future")
	}
}

// TestTracker_UpstreamAuthImmediate verifies UpstreamAuth-style failures
// enter cooling regardless of threshold (spec.md §7).
func TestTracker_UpstreamAuthImmediate(t *testing.T) {
	tr := NewTracker(fixedPolicy(30), 10)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.RecordFailure(now, true)
	if got := tr.State(now); got != Cooling {
		t.Fatalf("expected immediate Cooling on auth-style failure, got %v", got)
	}
}

// TestTracker_ExponentialBackoff_GrowsWithConsecutiveFailures verifies
// scenario S3 (spec.md §8): repeated failures while cooling grow the
// deadline per base*2^(failures-threshold), capped.
func TestTracker_ExponentialBackoff_GrowsWithConsecutiveFailures(t *testing.T) {
	tr := NewTracker(expPolicy(1, 100), 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.RecordFailure(now, false) // consecutive=1, reaches threshold -> cooling, deadline = now+1*2^0=1s
	first := tr.CooldownDeadline()
	if got := first.Sub(now); got != time.Second {
		t.Fatalf("expected first deadline at +1s, got +%v", got)
	}

	tr.RecordFailure(now, false) // still cooling: extend, consecutive=2, deadline = now+1*2^1=2s
	second := tr.CooldownDeadline()
	if got := second.Sub(now); got != 2*time.Second {
		t.Fatalf("expected extended deadline at +2s, got +%v", got)
	}
	if !second.After(first) {
		t.Fatalf("expected backoff to grow across consecutive cooling failures")
	}
}

// TestTracker_ExponentialBackoff_RespectsCap verifies the cap clamps
// unbounded growth.
func TestTracker_ExponentialBackoff_RespectsCap(t *testing.T) {
	tr := NewTracker(expPolicy(1, 5), 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		tr.RecordFailure(now, false)
	}
	if got := tr.CooldownDeadline().Sub(now); got != 5*time.Second {
		t.Fatalf("expected deadline clamped to cap 5s, got +%v", got)
	}
}

// TestTracker_CooldownExpiry_EntersProbationThenReCoolsOnFailure verifies
// spec.md §4.3: "On cooldown expiry, state becomes healthy (probation):
// the next failure immediately re-enters cooling with the accumulated
// consecutive-failure count retained."
func TestTracker_CooldownExpiry_EntersProbationThenReCoolsOnFailure(t *testing.T) {
	tr := NewTracker(fixedPolicy(10), 1)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.RecordFailure(start, false) // -> cooling, deadline start+10s, consecutive=1
	afterExpiry := start.Add(11 * time.Second)

	if got := tr.State(afterExpiry); got != Healthy {
		t.Fatalf("expected probation (reported healthy) after cooldown expiry, got %v", got)
	}
	if got := tr.ConsecutiveFailures(); got != 1 {
		t.Fatalf("expected consecutive-failure count retained through probation, got %d", got)
	}

	// The next failure on probation must immediately re-enter cooling,
	// bypassing the threshold check (threshold is 1 here, already met, but
	// this also verifies the probation bypass path specifically).
	tr.RecordFailure(afterExpiry, false)
	if got := tr.State(afterExpiry); got != Cooling {
		t.Fatalf("expected immediate re-entry to Cooling from probation, got %v", got)
	}
	if got := tr.ConsecutiveFailures(); got != 2 {
		t.Fatalf("expected failure count to have grown from the retained 1, got %d", got)
	}
}

// TestTracker_ProbationSuccess_Clears verifies "a single success clears it"
// (spec.md §4.3).
func TestTracker_ProbationSuccess_Clears(t *testing.T) {
	tr := NewTracker(fixedPolicy(10), 1)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.RecordFailure(start, false)
	afterExpiry := start.Add(11 * time.Second)

	tr.RecordSuccess(afterExpiry)
	if got := tr.ConsecutiveFailures(); got != 0 {
		t.Fatalf("expected a probation success to clear the retained failure count, got %d", got)
	}
	if got := tr.State(afterExpiry); got != Healthy {
		t.Fatalf("expected Healthy after probation success, got %v", got)
	}
}

// TestTracker_ManualDisable_IgnoresEventsUntilEnabled verifies the
// "disabled" row: disabled stays disabled regardless of events, until
// explicitly re-enabled.
func TestTracker_ManualDisable_IgnoresEventsUntilEnabled(t *testing.T) {
	tr := NewTracker(fixedPolicy(10), 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.Disable()
	tr.RecordSuccess(now)
	if got := tr.State(now); got != Disabled {
		t.Fatalf("expected Disabled to persist through a success event, got %v", got)
	}
	tr.RecordFailure(now, false)
	if got := tr.State(now); got != Disabled {
		t.Fatalf("expected Disabled to persist through a failure event, got %v", got)
	}

	tr.Enable()
	if got := tr.State(now); got != Healthy {
		t.Fatalf("expected Healthy after re-enabling, got %v", got)
	}
}

// TestState_Eligible verifies spec.md §4.5 step 3's eligibility predicate.
func TestState_Eligible(t *testing.T) {
	cases := map[State]bool{Healthy: true, Degraded: true, Cooling: false, Disabled: false}
	for s, want := range cases {
		if got := s.Eligible(); got != want {
			t.Fatalf("State(%v).Eligible() = %v, want %v", s, got, want)
		}
	}
}
