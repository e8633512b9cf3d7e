// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ttsSynthesisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sessioncore_tts_synthesis_duration_seconds",
		Help:    "TTS provider call latency by outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	ttsSingleFlightCollapsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessioncore_tts_singleflight_collapsed_total",
		Help: "Total materialize calls that joined an in-flight synthesis instead of starting one",
	})
)

// RecordTTSSynthesis records one external-provider synthesis call's latency
// in seconds, labeled by its outcome ("ok", "error", "timeout").
func RecordTTSSynthesis(outcome string, seconds float64) {
	ttsSynthesisDuration.WithLabelValues(normalizeLabel(outcome)).Observe(seconds)
}

// RecordTTSSingleFlightCollapsed increments when materialize joins an
// already-running synthesis for the same fingerprint.
func RecordTTSSingleFlightCollapsed() {
	ttsSingleFlightCollapsed.Inc()
}
