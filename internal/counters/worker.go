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

package counters

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DeltaSink is the optional durable-delta-stream interface a Worker can
// flush scope deltas to in addition to the mandatory local JSON snapshot
// (SPEC_FULL.md §4.1). It is satisfied by internal/persistence adapters.
type DeltaSink interface {
	FlushDeltas(scope string, snap WindowSnapshot) error
}

// Worker periodically persists the Counter Store to its local JSON
// snapshot file and, if configured, mirrors deltas to a durable backend.
// Background-loop shape (ticker + stopChan + sync.WaitGroup, final flush on
// Stop) is grounded on vsa/internal/ratelimiter/core/worker.go's commitLoop.
type Worker struct {
	store    *Store
	file     *SnapshotFile
	sink     DeltaSink // optional; nil disables durable delta mirroring
	interval time.Duration
	log      zerolog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// NewWorker constructs a Worker that flushes the store to file every
// interval (spec.md §4.1 "every 5 minutes"). sink may be nil.
func NewWorker(store *Store, file *SnapshotFile, sink DeltaSink, interval time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		store:    store,
		file:     file,
		sink:     sink,
		interval: interval,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background snapshot loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop()
	}()
}

// Stop signals the loop to exit, performs a final flush, and waits for it
// to finish. Safe to call multiple times.
func (w *Worker) Stop() {
	if !atomic.CompareAndSwapUint32(&w.stopped, 0, 1) {
		return
	}
	close(w.stopChan)
	w.wg.Wait()
}

func (w *Worker) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-w.stopChan:
			w.flush()
			return
		}
	}
}

func (w *Worker) flush() {
	state := w.store.Export()
	if err := w.file.Save(state); err != nil {
		w.log.Error().Err(err).Msg("usage snapshot flush failed")
	}
	if w.sink == nil {
		return
	}
	for _, es := range state.Scopes {
		snap := WindowSnapshot{Minute: fromExported(es.Minute), Day: fromExported(es.Day), Month: fromExported(es.Month)}
		if err := w.sink.FlushDeltas(es.Scope, snap); err != nil {
			w.log.Error().Err(err).Str("scope", es.Scope).Msg("durable delta flush failed")
		}
	}
}
