// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationCostTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessioncore_generation_cost_total",
		Help: "Cumulative estimated cost recorded in the generation log, by cost kind",
	}, []string{"kind"}) // kind: "api" | "tts"

	generationLogWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessioncore_generation_log_writes_total",
		Help: "Total GenerationLog rows written, by match type",
	}, []string{"match_type"})
)

// RecordGenerationCost accumulates cost onto the named cost kind ("api" or
// "tts").
func RecordGenerationCost(kind string, cost float64) {
	if cost <= 0 {
		return
	}
	generationCostTotal.WithLabelValues(normalizeLabel(kind)).Add(cost)
}

// RecordGenerationLogWrite records one append to the generation log.
func RecordGenerationLogWrite(matchType string) {
	generationLogWrites.WithLabelValues(normalizeLabel(matchType)).Inc()
}
