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

//go:build !race
// +build !race

// Benchmarks avoid the race detector for performance consistency.
package burstgate

import (
	"runtime"
	"testing"
)

// Benchmark_Gate_TryAcquire_Uncontended measures the reservation fast path
// against a budget large enough that TryAcquire never has to deny.
func Benchmark_Gate_TryAcquire_Uncontended(b *testing.B) {
	b.ReportAllocs()
	runtime.GOMAXPROCS(1)
	g := New(1_000_000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.TryAcquire()
		g.Release()
	}
}

// Benchmark_Gate_TryAcquire_Saturated measures the denial path once the
// budget is exhausted — the path a local-process provider's steady-state
// overflow traffic takes.
func Benchmark_Gate_TryAcquire_Saturated(b *testing.B) {
	b.ReportAllocs()
	runtime.GOMAXPROCS(1)
	g := New(1)
	g.TryAcquire()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.TryAcquire()
	}
}

// Benchmark_Gate_TryAcquire_Parallel measures contention across concurrent
// spawns competing for the same provider's concurrency budget.
func Benchmark_Gate_TryAcquire_Parallel(b *testing.B) {
	b.ReportAllocs()
	g := New(int64(runtime.GOMAXPROCS(0)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if g.TryAcquire() {
				g.Release()
			}
		}
	})
}
