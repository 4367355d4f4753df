package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctf_submissions_total",
		Help: "Arbitrated submissions by outcome.",
	}, []string{"outcome"})

	firstBloodsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctf_first_bloods_total",
		Help: "First bloods awarded.",
	})

	achievementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctf_achievements_total",
		Help: "Achievements credited by code.",
	}, []string{"code"})

	broadcastDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctf_broadcast_dropped_events_total",
		Help: "Events dropped for lagging broadcast subscribers.",
	})
)

func ObserveSubmission(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveFirstBlood() {
	firstBloodsTotal.Inc()
}

func ObserveAchievement(code string) {
	achievementsTotal.WithLabelValues(code).Inc()
}

func ObserveBroadcastDrop() {
	broadcastDroppedTotal.Inc()
}
