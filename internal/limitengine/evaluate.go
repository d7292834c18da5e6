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

// Package limitengine implements the Limit Evaluator (spec.md §4.2): a
// pure function over a scope's counters and its configured limit set,
// reporting admit / admit-with-warning / deny. No hidden state, in the
// style of the example pack's pure classification functions
// (plugin/tfd/classifier.go's Classify: struct in, verdict out).
package limitengine

import (
	"fmt"

	"github.com/etalazz/llmrouter/internal/counters"
	"github.com/etalazz/llmrouter/internal/registry"
)

// Verdict is the evaluator's decision.
type Verdict int

const (
	Admit Verdict = iota
	AdmitWithWarning
	Deny
)

func (v Verdict) String() string {
	switch v {
	case Admit:
		return "admit"
	case AdmitWithWarning:
		return "admit-with-warning"
	default:
		return "deny"
	}
}

// Reason names one limit breach contributing to a Decision.
type Reason struct {
	Window    string
	Metric    registry.Metric
	Threshold int64
	Observed  int64
	Severity  registry.Severity
}

// Decision is the Limit Evaluator's return value (spec.md §4.2).
type Decision struct {
	Verdict Verdict
	Reasons []Reason
}

func windowBucket(snap counters.WindowSnapshot, w string) counters.Bucket {
	switch w {
	case "minute":
		return snap.Minute
	case "day":
		return snap.Day
	default:
		return snap.Month
	}
}

func metricValue(b counters.Bucket, m registry.Metric) int64 {
	switch m {
	case registry.MetricRequests:
		return b.Requests
	case registry.MetricInputTokens:
		return b.InputTokens
	case registry.MetricOutputTokens:
		return b.OutputTokens
	case registry.MetricTotalTokens:
		return b.InputTokens + b.OutputTokens
	default:
		return 0
	}
}

// Evaluate computes a Decision for one scope: for each configured Limit,
// the projected post-request metric value is compared to the threshold.
//
// Per spec.md §4.2's pre-flight/post-flight split: requests-per-window
// limits are evaluated against count+1 (the request about to be made);
// token and cost limits are evaluated against the already-accumulated
// value only, since per-request tokens are unknown until the upstream
// responds — those are enforced post-flight by the Dispatcher transitioning
// the provider into cooling, not by denying this request.
//
// Hard breach anywhere -> Deny. Otherwise any soft breach -> AdmitWithWarning.
// No breach -> Admit. Absence of a limit means unbounded (spec.md §3).
func Evaluate(snap counters.WindowSnapshot, limits []registry.Limit) Decision {
	var reasons []Reason
	hardBreach := false

	for _, l := range limits {
		b := windowBucket(snap, l.Window)
		observed := metricValue(b, l.Metric)
		projected := observed
		if l.Metric == registry.MetricRequests {
			projected = observed + 1
		}
		if projected < l.Threshold {
			continue
		}
		reasons = append(reasons, Reason{
			Window: l.Window, Metric: l.Metric, Threshold: l.Threshold,
			Observed: projected, Severity: l.Severity,
		})
		if l.Severity == registry.SeverityHard {
			hardBreach = true
		}
	}

	if hardBreach {
		return Decision{Verdict: Deny, Reasons: reasons}
	}
	if len(reasons) > 0 {
		return Decision{Verdict: AdmitWithWarning, Reasons: reasons}
	}
	return Decision{Verdict: Admit}
}

// Summary renders a Decision's reasons as a single human-readable string,
// used for log lines and for the LimitExceeded error detail (spec.md §7).
func (d Decision) Summary() string {
	if len(d.Reasons) == 0 {
		return ""
	}
	out := ""
	for i, r := range d.Reasons {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s %s/%s: %d>=%d", r.Severity, r.Metric, r.Window, r.Observed, r.Threshold)
	}
	return out
}
