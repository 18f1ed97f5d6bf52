// Package metrics holds the process-wide prometheus counters
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricIncidents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acctguard_incidents_total",
			Help: "Number of password change incidents detected.",
		},
		[]string{"trigger"},
	)
	metricRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acctguard_recoveries_total",
			Help: "Number of recovery attempts by outcome.",
		},
		[]string{"outcome"}, // "recovered", "failed", "exhausted"
	)
	metricMailPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acctguard_mail_polls_total",
			Help: "Number of mailbox polls by result.",
		},
		[]string{"result"}, // "message", "empty", "error"
	)
	metricGuardFixes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acctguard_guard_fixes_total",
			Help: "Number of profile repairs made by the account guard.",
		},
		[]string{"kind"}, // "rename", "unlock"
	)
)

func Incident(trigger string) {
	metricIncidents.WithLabelValues(trigger).Inc()
}

func Recovery(outcome string) {
	metricRecoveries.WithLabelValues(outcome).Inc()
}

func MailPoll(result string) {
	metricMailPolls.WithLabelValues(result).Inc()
}

func GuardFix(kind string, n int) {
	if n > 0 {
		metricGuardFixes.WithLabelValues(kind).Add(float64(n))
	}
}
