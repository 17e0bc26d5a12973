package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_clients",
		Help: "Number of connected clients.",
	})
	metricGames = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_games",
		Help: "Number of active games.",
	})
	metricWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_waiting",
		Help: "Depth of the waiting pool.",
	})
	metricRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Messages relayed between game members, by type.",
	}, []string{"type"})
)
