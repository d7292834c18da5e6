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

// Package registry holds the read-mostly catalog of providers, virtual
// providers, and limits (spec.md §3), published atomically so a single
// in-flight request always observes one coherent snapshot (invariant:
// "Config swap is atomic").
package registry

import "math"

// ProviderKind distinguishes the two Provider Adapter variants (spec.md §4.4).
type ProviderKind string

const (
	KindHTTP  ProviderKind = "http"
	KindLocal ProviderKind = "local"
)

// CooldownStrategy selects fixed or exponential backoff for a provider's
// Health & Cooldown Controller policy (spec.md §4.3).
type CooldownStrategy string

const (
	CooldownFixed       CooldownStrategy = "fixed"
	CooldownExponential CooldownStrategy = "exponential"
)

// CooldownPolicy configures the Health & Cooldown Controller for one
// provider.
type CooldownPolicy struct {
	Strategy CooldownStrategy `json:"strategy"`
	// Fixed is the cooldown duration in seconds when Strategy == fixed.
	FixedSeconds float64 `json:"fixed_seconds,omitempty"`
	// Exponential: deadline = now + min(cap, base * 2^(failures-threshold)).
	BaseSeconds float64 `json:"base_seconds,omitempty"`
	CapSeconds  float64 `json:"cap_seconds,omitempty"`
}

// CostCatalog prices a provider's token usage, per spec.md §3 "cost catalog
// (currency, price-per-million input tokens, price-per-million output
// tokens)".
type CostCatalog struct {
	Currency               string  `json:"currency"`
	PricePerMillionInput   float64 `json:"price_per_million_input"`
	PricePerMillionOutput  float64 `json:"price_per_million_output"`
}

// CostMicros converts a token usage pair to a cost, expressed in integer
// micros of the catalog's currency to avoid floating point drift in the
// Counter Store.
func (c CostCatalog) CostMicros(inputTokens, outputTokens int64) int64 {
	inCost := float64(inputTokens) / 1_000_000 * c.PricePerMillionInput
	outCost := float64(outputTokens) / 1_000_000 * c.PricePerMillionOutput
	return int64(math.Round((inCost + outCost) * 1_000_000))
}

// TokenLimitFromCostMicros converts a cost-denominated limit threshold into
// an equivalent token-count threshold at config-apply time, using ceiling
// arithmetic per the Open Question decision (SPEC_FULL.md §3): under-
// counting a hard cap risks overspend, so round up.
func (c CostCatalog) TokenLimitFromCostMicros(costLimitMicros int64, output bool) int64 {
	pricePerTokenMicros := c.PricePerMillionInput * 1_000_000 / 1_000_000
	if output {
		pricePerTokenMicros = c.PricePerMillionOutput * 1_000_000 / 1_000_000
	}
	if pricePerTokenMicros <= 0 {
		return math.MaxInt64
	}
	return int64(math.Ceil(float64(costLimitMicros) / pricePerTokenMicros))
}

// HTTPConfig holds the HTTP-variant fields of a Provider (spec.md §3).
type HTTPConfig struct {
	BaseURL         string            `json:"base_url"`
	AuthHeaderValue string            `json:"auth_header_value,omitempty"`
	ExtraHeaders    map[string]string `json:"extra_headers,omitempty"`
	RequestTimeoutSeconds float64     `json:"request_timeout_seconds"`
	RetryCount      int               `json:"retry_count"`
	HealthCheckPath string            `json:"health_check_path,omitempty"`
}

// LocalConfig holds the local-process-variant fields of a Provider
// (spec.md §3, §4.4).
type LocalConfig struct {
	ExecutablePath       string   `json:"executable_path"`
	Args                 []string `json:"args,omitempty"`
	WorkingDirectory     string   `json:"working_directory,omitempty"`
	ProcessTimeoutSeconds float64 `json:"process_timeout_seconds"`
	MaxConcurrentProcesses int64  `json:"max_concurrent_processes"`
}

// Provider is a base provider (spec.md §3 "Provider (base)").
type Provider struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"display_name"`
	Kind        ProviderKind `json:"kind"`
	Enabled     bool         `json:"enabled"`

	HTTP  *HTTPConfig  `json:"http,omitempty"`
	Local *LocalConfig `json:"local,omitempty"`

	Cost             CostCatalog     `json:"cost"`
	Cooldown         CooldownPolicy  `json:"cooldown"`
	FailureThreshold int             `json:"failure_threshold"`
}

// VirtualMember is one entry of a Virtual Provider's ordered member list.
type VirtualMember struct {
	ProviderID string `json:"provider_id"`
	Priority   int    `json:"priority"` // lower = preferred
}

// VirtualProvider groups base providers under one client-facing name
// (spec.md §3 "Virtual Provider").
type VirtualProvider struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Members     []VirtualMember `json:"members"`
}

// Metric is one of the four metrics a Limit can bound (spec.md §3).
type Metric string

const (
	MetricRequests     Metric = "requests"
	MetricInputTokens  Metric = "input-tokens"
	MetricOutputTokens Metric = "output-tokens"
	MetricTotalTokens  Metric = "total-tokens"
	// MetricCostMicros is a raw-config-only metric (spec.md §9 Open
	// Question): a Limit using it never reaches a Snapshot. Build expands it
	// into equivalent input-tokens/output-tokens limits via
	// CostCatalog.TokenLimitFromCostMicros at config-apply time, since the
	// Limit Evaluator has no notion of cost.
	MetricCostMicros Metric = "cost"
)

// Severity distinguishes hard (deny) and soft (warn) limits.
type Severity string

const (
	SeverityHard Severity = "hard"
	SeveritySoft Severity = "soft"
)

// Limit is a single (scope, window, metric, threshold, severity) tuple
// (spec.md §3). Multiple limits on the same (scope, window) combine with OR
// for rejection.
type Limit struct {
	Scope     string      `json:"scope"`
	Window    string      `json:"window"` // "minute" | "day" | "month"
	Metric    Metric      `json:"metric"`
	Threshold int64       `json:"threshold"`
	Severity  Severity    `json:"severity"`
}
