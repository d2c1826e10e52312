package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the duel engine's operational counters and gauges. A nil
// *Metrics is valid and records nothing, so tests can leave it out.
type Metrics struct {
	playersConnected prometheus.Gauge
	poolDepth        prometheus.Gauge
	matchesStarted   prometheus.Counter
	matchesEnded     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		playersConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "duel_players_connected",
			Help: "Number of players with a live connection.",
		}),
		poolDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "duel_matchmaking_pool_depth",
			Help: "Number of players waiting in the matchmaking pool.",
		}),
		matchesStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "duel_matches_started_total",
			Help: "Total matches created.",
		}),
		matchesEnded: f.NewCounter(prometheus.CounterOpts{
			Name: "duel_matches_ended_total",
			Help: "Total matches ended, naturally or by forfeit.",
		}),
	}
}

func (m *Metrics) SetPlayersConnected(n int) {
	if m == nil {
		return
	}
	m.playersConnected.Set(float64(n))
}

func (m *Metrics) SetPoolDepth(n int) {
	if m == nil {
		return
	}
	m.poolDepth.Set(float64(n))
}

func (m *Metrics) MatchStarted() {
	if m == nil {
		return
	}
	m.matchesStarted.Inc()
}

func (m *Metrics) MatchEnded() {
	if m == nil {
		return
	}
	m.matchesEnded.Inc()
}
