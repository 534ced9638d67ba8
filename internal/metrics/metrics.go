// Package metrics exposes the node's Prometheus instrumentation. It is
// a from-scratch re-domaining of the teacher's pool-shaped gauge/counter
// set (sharechain height, stratum shares, pool hashrate) onto the core's
// own subsystems: chain height, FractalPoW difficulty actuators, mempool
// occupancy, peer count, and mining/apply outcomes. Monitoring dashboards
// and alerting sit above the core (§1, out of scope); this package only
// registers and updates the gauges/counters the core's own components
// touch as they run.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fractalpow",
		Name:      "chain_height",
		Help:      "Current height of the local chain tip.",
	})

	HeaderDifficultyBits = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fractalpow",
		Name:      "header_difficulty_bits",
		Help:      "Required leading zero bits for the header-hash PoW stage.",
	})

	FractalEpsilon = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fractalpow",
		Name:      "fractal_epsilon",
		Help:      "Current acceptance window around the target box-counting dimension.",
	})

	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fractalpow",
		Name:      "mempool_size",
		Help:      "Number of transactions currently held in the mempool.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fractalpow",
		Name:      "peers_connected",
		Help:      "Number of connected P2P peers.",
	})

	BlocksMinedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fractalpow",
		Name:      "blocks_mined_total",
		Help:      "Total blocks mined locally and accepted by this node.",
	})

	BlockApplicationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fractalpow",
		Name:      "block_applications_total",
		Help:      "Block apply attempts by result (accepted, rejected).",
	}, []string{"result"})

	TransactionsSubmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fractalpow",
		Name:      "transactions_submitted_total",
		Help:      "Mempool submission attempts by result (accepted, rejected).",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		ChainHeight,
		HeaderDifficultyBits,
		FractalEpsilon,
		MempoolSize,
		PeersConnected,
		BlocksMinedTotal,
		BlockApplicationsTotal,
		TransactionsSubmittedTotal,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint. Serving it
// on an actual listener is the process wrapper's job (§6: RPC/monitoring
// sit above the core); the core only populates the registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
