package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GamesFinished counts finished games by loss type ("points" or "foul").
	GamesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pintintin_games_finished_total",
		Help: "Number of finished games, labeled by how the loser lost.",
	}, []string{"loss_type"})

	// ChatClients tracks currently connected chat participants.
	ChatClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pintintin_chat_clients",
		Help: "Currently connected chat websocket clients.",
	})
)
