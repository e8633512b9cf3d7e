// SPDX-License-Identifier: MIT

// Package metrics collects the business-level Prometheus series: matcher
// decisions, TTS synthesis latency, quota rejections, and generation cost.
// Ambient HTTP and rate-limit metrics live next to the components that
// own them (internal/api/middleware, internal/ratelimit); internal/cache
// exports no metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var matcherDecisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sessioncore_matcher_decision_total",
	Help: "Total matcher decisions by goal and match type",
}, []string{"goal", "match_type"})

// RecordMatcherDecision records one Matcher outcome (§4.4).
func RecordMatcherDecision(goal, matchType string) {
	matcherDecisionTotal.WithLabelValues(normalizeLabel(goal), normalizeLabel(matchType)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
