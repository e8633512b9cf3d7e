// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var quotaRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sessioncore_quota_rejected_total",
	Help: "Total custom-session creations rejected by the subscription gate",
}, []string{"tier"})

var quotaConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sessioncore_quota_consumed_total",
	Help: "Total custom-session creations granted against the monthly quota",
}, []string{"tier"})

var tierTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sessioncore_tier_transitions_total",
	Help: "Total subscription tier upgrades recorded via verifyPurchase",
}, []string{"platform", "billing_period"})

// RecordQuotaRejected records one §4.8 QuotaExceeded rejection.
func RecordQuotaRejected(tier string) {
	quotaRejectedTotal.WithLabelValues(normalizeLabel(tier)).Inc()
}

// RecordQuotaConsumed records one granted custom-session creation against
// the monthly quota (free tier) or an unconditional pass-through (pro).
func RecordQuotaConsumed(tier string) {
	quotaConsumedTotal.WithLabelValues(normalizeLabel(tier)).Inc()
}

// RecordTierTransition records one verifyPurchase upgrade.
func RecordTierTransition(platform, billingPeriod string) {
	tierTransitionsTotal.WithLabelValues(normalizeLabel(platform), normalizeLabel(billingPeriod)).Inc()
}
