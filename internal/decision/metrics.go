package decision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	assessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Subsystem: "decision",
			Name:      "assessments_total",
			Help:      "Assessments by decision and authoritative source.",
		},
		[]string{"decision", "source"},
	)
	assessmentErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Subsystem: "decision",
			Name:      "errors_total",
			Help:      "Assessments that could not be completed, by stage.",
		},
		[]string{"stage"},
	)
	assessmentLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "harrier",
			Subsystem: "decision",
			Name:      "assessment_seconds",
			Help:      "Latency of a full assessment.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	riskScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "harrier",
			Subsystem: "decision",
			Name:      "risk_score",
			Help:      "Distribution of fraud risk scores.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		},
	)
	ruleErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Subsystem: "rules",
			Name:      "evaluation_errors_total",
			Help:      "Custom rules skipped because they could not be evaluated.",
		},
	)
)
