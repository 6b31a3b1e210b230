package gatekit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the gatekeeping filters.
var (
	admissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekit_admission_decisions_total",
			Help: "Total number of admission decisions by endpoint category and outcome",
		},
		[]string{"category", "decision"},
	)

	authFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekit_auth_failures_total",
			Help: "Total number of authentication rejections by reason",
		},
		[]string{"reason"},
	)
)
