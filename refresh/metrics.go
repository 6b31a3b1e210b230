package refresh

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekit_refresh_rotations_total",
		Help: "Refresh token rotation attempts by outcome.",
	}, []string{"status"})

	reuseRevocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekit_refresh_reuse_revocations_total",
		Help: "Times all sessions of a user were revoked after a rotated token was presented again.",
	})
)
