package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_attempts_resolved_total",
		Help: "Attempts resolved by the dispatch loop, by outcome kind and error class.",
	}, []string{"outcome", "error_class"})

	reroutes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_reroutes_total",
		Help: "Retry attempts dispatched to a different resource than the previous attempt.",
	})

	sweptAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_swept_attempts_total",
		Help: "Stale running attempts requeued by the orphan sweep.",
	})
)
