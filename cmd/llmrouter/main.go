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

// Package main provides the entry point for the LLM routing proxy.
//
// It wires together the Registry, Counter Store, Health & Cooldown
// Controller, Router, and Dispatcher, starts the background snapshot worker
// and (optional) health-probe loop, and serves the chat-completion and usage
// HTTP surfaces until a termination signal triggers a graceful shutdown with
// a final usage-snapshot flush.
//
// Wiring order (flags -> components -> background workers -> HTTP server ->
// signal-driven shutdown) follows the teacher's cmd/ratelimiter-api/main.go.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/etalazz/llmrouter/internal/api"
	"github.com/etalazz/llmrouter/internal/audit"
	"github.com/etalazz/llmrouter/internal/clock"
	"github.com/etalazz/llmrouter/internal/counters"
	"github.com/etalazz/llmrouter/internal/dispatch"
	"github.com/etalazz/llmrouter/internal/health"
	"github.com/etalazz/llmrouter/internal/persistence"
	"github.com/etalazz/llmrouter/internal/provideradapter"
	"github.com/etalazz/llmrouter/internal/registry"
	"github.com/etalazz/llmrouter/internal/router"
	"github.com/etalazz/llmrouter/internal/telemetry/metrics"
)

func main() {
	httpAddr := flag.String("http_addr", ":8080", "HTTP listen address for the chat-completion and usage surfaces")
	configPath := flag.String("config", "llmrouter.json", "Path to the providers/virtual-providers/limits configuration document")
	snapshotPath := flag.String("usage_snapshot", "usage-snapshot.json", "Path to the usage-counter snapshot file")
	snapshotInterval := flag.Duration("snapshot_interval", 5*time.Minute, "How often the Counter Store is flushed to its snapshot file")
	auditPath := flag.String("audit_log", "", "If non-empty, append one JSONL dispatch record per request to this file")
	probeInterval := flag.Duration("probe_interval", 30*time.Second, "How often out-of-band health probes run (0 disables probing)")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g., :9090)")

	persistKind := flag.String("persist_kind", "", "Optional durable usage-delta backend: \"\" or \"redis\" (postgres and kafka need a database handle or producer that this command does not construct)")
	redisAddr := flag.String("redis_addr", "", "Redis address, required when -persist_kind=redis")

	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	doc, err := registry.NewConfigBridge(*configPath).Load()
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("load configuration")
	}
	reg := registry.NewRegistry()
	reg.Replace(doc.ToSnapshot(nil, nil))

	store := counters.NewStore(clock.SystemClock{})
	snapshotFile := counters.NewSnapshotFile(*snapshotPath)
	store.Import(snapshotFile.Load())

	deltaSink, err := persistence.Build(persistence.Options{Kind: *persistKind, RedisAddr: *redisAddr})
	if err != nil {
		log.Fatal().Err(err).Msg("configure durable usage-delta backend")
	}

	healthC := health.NewController(newProber(reg), *probeInterval, log)
	healthC.OnTransition(func(providerID string, from, to health.State) {
		metrics.ObserveCooldownTransition(providerID, from.String(), to.String())
		log.Info().Str("provider", providerID).Str("from", from.String()).Str("to", to.String()).Msg("health state transition")
	})
	for _, p := range reg.Current().Providers {
		healthC.Register(p)
	}

	var auditSink *audit.Sink
	if *auditPath != "" {
		auditSink, err = audit.NewSink(*auditPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *auditPath).Msg("open audit log")
		}
	}

	r := router.New(store, healthC)
	d := dispatch.New(reg, r, store, healthC, resolveAdapter, auditSink, log)

	snapshotWorker := counters.NewWorker(store, snapshotFile, deltaSink, *snapshotInterval, log)
	snapshotWorker.Start()
	healthC.Start()

	var metricsServer *http.Server
	if *metricsAddr != "" {
		metricsServer = metrics.StartEndpoint(*metricsAddr)
	}

	mux := http.NewServeMux()
	api.NewServer(d, log).RegisterRoutes(mux)
	api.NewUsageServer(store, log).RegisterRoutes(mux)
	httpServer := &http.Server{Addr: *httpAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info().Str("addr", *httpAddr).Msg("llmrouter listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Str("addr", *httpAddr).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	healthC.Stop()
	snapshotWorker.Stop() // triggers a final flush before returning

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	if err := metrics.Shutdown(ctx, metricsServer); err != nil {
		log.Error().Err(err).Msg("metrics server shutdown")
	}
	if auditSink != nil {
		if err := auditSink.Close(); err != nil {
			log.Error().Err(err).Msg("audit log close")
		}
	}
	log.Info().Msg("shutdown complete")
}

// resolveAdapter builds the Provider Adapter matching a provider's
// configured kind (spec.md §4.4): one contract, two implementations.
func resolveAdapter(p registry.Provider) provideradapter.Adapter {
	if p.Kind == registry.KindLocal && p.Local != nil {
		return provideradapter.NewLocalProcessAdapter(p.ID, *p.Local)
	}
	cfg := registry.HTTPConfig{}
	if p.HTTP != nil {
		cfg = *p.HTTP
	}
	return provideradapter.NewHTTPAdapter(p.ID, cfg)
}

// newProber builds a Health Controller Prober that issues a GET against a
// provider's configured health-check path, reading the current Registry
// snapshot on every call so reconfiguration takes effect without restarting
// the probe loop. A provider with no HealthCheckPath configured is always
// reported healthy, since there is nothing to probe.
func newProber(reg *registry.Registry) health.Prober {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(providerID string) bool {
		p, ok := reg.Current().Providers[providerID]
		if !ok || p.HTTP == nil || p.HTTP.HealthCheckPath == "" {
			return true
		}
		resp, err := client.Get(p.HTTP.BaseURL + p.HTTP.HealthCheckPath)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode >= 200 && resp.StatusCode < 300
	}
}
