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
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/etalazz/llmrouter/internal/registry"
)

// Prober performs one out-of-band liveness check for a provider (HTTP
// health endpoint or process liveness, spec.md §4.3). Returns true if
// healthy.
type Prober func(providerID string) bool

// Controller owns one Tracker per provider ID and, optionally, a background
// probe loop. Background-loop shape (ticker + stopChan + sync.WaitGroup,
// CAS-guarded Stop) is grounded on internal/ratelimiter/core/worker.go.
type Controller struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker

	prober       Prober
	interval     time.Duration
	clockNow     func() time.Time
	log          zerolog.Logger
	onTransition func(providerID string, from, to State)

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// NewController constructs a Controller with no providers registered yet.
// prober may be nil to disable background probing.
func NewController(prober Prober, interval time.Duration, log zerolog.Logger) *Controller {
	return &Controller{
		trackers: make(map[string]*Tracker),
		prober:   prober,
		interval: interval,
		clockNow: time.Now,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// OnTransition registers a callback invoked whenever any provider's Tracker
// changes state, for logging/metrics. Must be set before providers are
// registered to apply to every tracker this Controller creates.
func (c *Controller) OnTransition(f func(providerID string, from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTransition = f
}

// Register ensures a Tracker exists for the given provider, creating one
// from its cooldown policy if absent. Safe to call repeatedly as the
// Registry snapshot changes; an existing tracker's in-flight state is
// preserved across config reloads that don't change the provider's ID.
func (c *Controller) Register(p registry.Provider) *Tracker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.trackers[p.ID]; ok {
		return t
	}
	t := NewTracker(p.Cooldown, p.FailureThreshold)
	if c.onTransition != nil {
		providerID := p.ID
		t.OnStateChange(func(from, to State) {
			c.onTransition(providerID, from, to)
		})
	}
	c.trackers[p.ID] = t
	return t
}

// Tracker returns the Tracker for a provider ID, or nil if never
// registered.
func (c *Controller) Tracker(providerID string) *Tracker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trackers[providerID]
}

// State is a convenience wrapper returning Healthy for an unregistered
// provider (treated as not-yet-observed rather than unavailable).
func (c *Controller) State(providerID string) State {
	t := c.Tracker(providerID)
	if t == nil {
		return Healthy
	}
	return t.State(c.clockNow())
}

// Start launches the background probe loop. A no-op if no prober was
// configured.
func (c *Controller) Start() {
	if c.prober == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop()
	}()
}

// Stop signals the probe loop to exit and waits for it. Safe to call
// multiple times, including when Start was never called.
func (c *Controller) Stop() {
	if !atomic.CompareAndSwapUint32(&c.stopped, 0, 1) {
		return
	}
	close(c.stopChan)
	c.wg.Wait()
}

func (c *Controller) loop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.probeAll()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Controller) probeAll() {
	c.mu.RLock()
	ids := make([]string, 0, len(c.trackers))
	for id := range c.trackers {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	now := c.clockNow()
	for _, id := range ids {
		t := c.Tracker(id)
		if t == nil {
			continue
		}
		healthy := c.prober(id)
		t.Probe(now, healthy)
		if !healthy {
			c.log.Warn().Str("provider", id).Msg("health probe failed")
		}
	}
}
