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

// Package metrics exposes the routing core's observability surface as
// Prometheus instrumentation: dispatch outcomes, routing denials, cooldown
// transitions, and Limit Evaluator breaches.
//
// Registration is eager at package init, the same as the teacher's churn
// package (internal/ratelimiter/telemetry/churn/prom_counters.go): calling
// code Observes unconditionally, with no "enabled" flag to check first,
// since incrementing a counter nobody scrapes costs nothing worth guarding.
// Labels are kept to bounded enums (provider id, state name, window,
// metric, severity) rather than free-form request data, matching the
// teacher's own "no unbounded label cardinality" rule.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	dispatchOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llmrouter_dispatch_outcomes_total",
		Help: "Completed dispatch attempts, by provider and outcome.",
	}, []string{"provider", "outcome"})

	routingDenialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llmrouter_routing_denials_total",
		Help: "Candidates filtered out of a routing plan, by provider and reason.",
	}, []string{"provider", "reason"})

	cooldownTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llmrouter_cooldown_transitions_total",
		Help: "Health & Cooldown Controller state transitions, by provider.",
	}, []string{"provider", "from", "to"})

	limitBreachesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llmrouter_limit_breaches_total",
		Help: "Limit Evaluator breaches, by window, metric, and severity.",
	}, []string{"window", "metric", "severity"})
)

func init() {
	prometheus.MustRegister(dispatchOutcomesTotal, routingDenialsTotal, cooldownTransitionsTotal, limitBreachesTotal)
}

// ObserveDispatchOutcome records one completed dispatch attempt
// (spec.md §4.6): outcome is a dispatch.Outcome value, or "attempt_failed"
// for a candidate that failed before the dispatch moved on.
func ObserveDispatchOutcome(provider, outcome string) {
	dispatchOutcomesTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveRoutingDenial records a candidate excluded from a routing plan.
// reason is "health" or "limit" (spec.md §4.5 step 3).
func ObserveRoutingDenial(provider, reason string) {
	routingDenialsTotal.WithLabelValues(provider, reason).Inc()
}

// ObserveCooldownTransition records a Health & Cooldown Controller state
// change (spec.md §4.3).
func ObserveCooldownTransition(provider, from, to string) {
	cooldownTransitionsTotal.WithLabelValues(provider, from, to).Inc()
}

// ObserveLimitBreach records one Reason from a limitengine.Decision
// (spec.md §4.2).
func ObserveLimitBreach(window, metric, severity string) {
	limitBreachesTotal.WithLabelValues(window, metric, severity).Inc()
}

// StartEndpoint launches a dedicated /metrics HTTP server, mirroring the
// teacher's optional standalone MetricsAddr server
// (internal/ratelimiter/telemetry/churn/prom_counters.go's
// startMetricsEndpoint). Unlike the teacher's fire-and-forget version, the
// *http.Server is returned so the caller can fold it into its own
// signal-driven graceful shutdown instead of leaking the listener goroutine.
func StartEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go srv.ListenAndServe()
	return srv
}

// Shutdown stops a server started by StartEndpoint. A nil srv is a no-op, so
// callers can invoke it unconditionally even when no metrics addr was
// configured.
func Shutdown(ctx context.Context, srv *http.Server) error {
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
