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

// Package counters implements the Counter Store (spec.md §4.1): a
// thread-safe accumulation of five usage metrics across three time windows
// per scope, with lazy roll-forward and periodic snapshot persistence.
//
// Concurrency follows the teacher's sync.Map + fast-path-Load-before-
// LoadOrStore shape (vsa/internal/ratelimiter/core/store.go GetOrCreate):
// per-scope fine-grained locking, never a single global mutex, matching
// spec.md §4.1's explicit "global mutual exclusion is not [acceptable]".
package counters

import (
	"sync"
	"time"

	"github.com/etalazz/llmrouter/internal/clock"
)

// Delta carries the five metrics a single dispatch outcome contributes to a
// scope's counters (spec.md §4.1 "record(scope, delta)").
type Delta struct {
	Requests     int64
	InputTokens  int64
	OutputTokens int64
	Errors       int64
	CostMicros   int64
}

// Bucket is one (scope, window) counter record (spec.md §3 "Counter
// bucket"). WindowStart is always the latest legal boundary ≤ the instant
// it was last touched.
type Bucket struct {
	Requests     int64
	InputTokens  int64
	OutputTokens int64
	Errors       int64
	CostMicros   int64
	WindowStart  time.Time
}

// scopeCounters holds the three window buckets for one scope behind a
// single mutex — fine-grained per-scope locking, not a store-wide lock.
type scopeCounters struct {
	mu      sync.Mutex
	minute  Bucket
	day     Bucket
	month   Bucket
}

func (s *scopeCounters) bucket(w clock.Window) *Bucket {
	switch w {
	case clock.Minute:
		return &s.minute
	case clock.Day:
		return &s.day
	default:
		return &s.month
	}
}

// rollForward zeroes a bucket and advances its window-start when the
// bucket's current window-start predates the latest legal boundary for now
// (spec.md §4.1 "Roll-forward rule"). Idempotent: repeated calls at the same
// instant are no-ops (§8 property 2).
func rollForward(b *Bucket, w clock.Window, now time.Time) {
	boundary := clock.Boundary(now, w)
	if b.WindowStart.Before(boundary) {
		*b = Bucket{WindowStart: boundary}
	}
}

// Store is the Counter Store. It is safe for concurrent use from many
// request-handling goroutines and from the background snapshot worker.
type Store struct {
	clk     clock.Clock
	scopes  sync.Map // scope id -> *scopeCounters
}

// NewStore constructs an empty Counter Store using the given Clock.
func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Store{clk: clk}
}

func (s *Store) getOrCreate(scope string) *scopeCounters {
	if v, ok := s.scopes.Load(scope); ok {
		return v.(*scopeCounters)
	}
	fresh := &scopeCounters{}
	actual, _ := s.scopes.LoadOrStore(scope, fresh)
	return actual.(*scopeCounters)
}

// WindowSnapshot is the three-window tuple returned by Snapshot.
type WindowSnapshot struct {
	Minute Bucket
	Day    Bucket
	Month  Bucket
}

// Snapshot returns a coherent per-window tuple for scope after lazy
// roll-forward — a pure read from the caller's perspective (spec.md §4.1).
func (s *Store) Snapshot(scope string) WindowSnapshot {
	sc := s.getOrCreate(scope)
	now := s.clk.Now()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	rollForward(&sc.minute, clock.Minute, now)
	rollForward(&sc.day, clock.Day, now)
	rollForward(&sc.month, clock.Month, now)
	return WindowSnapshot{Minute: sc.minute, Day: sc.day, Month: sc.month}
}

// Record atomically advances all five metrics across all three windows for
// scope by delta (spec.md §4.1 "record(scope, delta)... all five metrics
// for all three windows advance together").
func (s *Store) Record(scope string, delta Delta) {
	sc := s.getOrCreate(scope)
	now := s.clk.Now()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, w := range [...]clock.Window{clock.Minute, clock.Day, clock.Month} {
		b := sc.bucket(w)
		rollForward(b, w, now)
		b.Requests += delta.Requests
		b.InputTokens += delta.InputTokens
		b.OutputTokens += delta.OutputTokens
		b.Errors += delta.Errors
		b.CostMicros += delta.CostMicros
	}
}

// Reset zeroes the selected windows for scope and sets their window-start
// to now's boundary (spec.md §4.1 "reset(scope, windows)").
func (s *Store) Reset(scope string, windows []clock.Window) {
	sc := s.getOrCreate(scope)
	now := s.clk.Now()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, w := range windows {
		*sc.bucket(w) = Bucket{WindowStart: clock.Boundary(now, w)}
	}
}

// ForEach iterates all tracked scopes, invoking f with a coherent snapshot
// of each. Used by the snapshot persistence worker and by Export.
func (s *Store) ForEach(f func(scope string, snap WindowSnapshot)) {
	s.scopes.Range(func(key, value any) bool {
		sc := value.(*scopeCounters)
		sc.mu.Lock()
		snap := WindowSnapshot{Minute: sc.minute, Day: sc.day, Month: sc.month}
		sc.mu.Unlock()
		f(key.(string), snap)
		return true
	})
}
