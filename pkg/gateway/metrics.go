package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meet_commands_total",
		Help: "Handled participant requests.",
	}, []string{"kind", "result"})
	relayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meet_relayed_total",
		Help: "Forwarded negotiation messages.",
	}, []string{"kind"})
	roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meet_rooms_active",
		Help: "Open rooms. Closed or emptied rooms are not counted.",
	})
	connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meet_connections",
		Help: "Open participant sockets.",
	})
)
