// Package api exposes Prometheus metrics for a ledgerberry node.
package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a node.
type Metrics struct {
	// Consensus metrics
	Height                 prometheus.Gauge
	Round                  prometheus.Gauge
	ActiveValidators       prometheus.Gauge
	ProposalsTotal         prometheus.Counter
	FinalizedTotal         prometheus.Counter
	RoundTimeouts          prometheus.Counter
	ConservationViolations prometheus.Counter
	FinalizeLatency        prometheus.Histogram

	// Vote metrics
	VotesTotal *prometheus.CounterVec

	// Ledger metrics
	TotalSupply prometheus.Gauge
	Accounts    prometheus.Gauge
	PoolSize    prometheus.Gauge
}

// NewMetrics creates a Metrics instance with the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Height: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consensus_height",
			Help:      "Last finalized sequence number",
		}),
		Round: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consensus_round",
			Help:      "Current consensus round",
		}),
		ActiveValidators: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_validators",
			Help:      "Number of active validators",
		}),
		ProposalsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_total",
			Help:      "Total number of proposals opened",
		}),
		FinalizedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalized_total",
			Help:      "Total number of finalized proposals",
		}),
		RoundTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_timeouts_total",
			Help:      "Total number of rounds abandoned on timeout",
		}),
		ConservationViolations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conservation_violations_total",
			Help:      "Total number of proposals rejected for conservation violations",
		}),
		FinalizeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalize_latency_seconds",
			Help:      "Time from proposal to finalization in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		VotesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Total votes counted by decision",
		}, []string{"decision"}),

		TotalSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_total_supply",
			Help:      "Current total supply of the shard",
		}),
		Accounts: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_accounts",
			Help:      "Number of accounts with an entry",
		}),
		PoolSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ordering_pool_size",
			Help:      "Current number of pending transactions",
		}),
	}
}

// RecordVote counts a vote by decision name.
func (m *Metrics) RecordVote(decision string) {
	m.VotesTotal.WithLabelValues(decision).Inc()
}

// RecordFinalize records a successful finalization.
func (m *Metrics) RecordFinalize(height uint64, latency time.Duration) {
	m.FinalizedTotal.Inc()
	m.Height.Set(float64(height))
	m.FinalizeLatency.Observe(latency.Seconds())
}

// UpdateLedger refreshes the ledger gauges.
func (m *Metrics) UpdateLedger(supply float64, accounts, poolSize int) {
	m.TotalSupply.Set(supply)
	m.Accounts.Set(float64(accounts))
	m.PoolSize.Set(float64(poolSize))
}

// MetricsServer runs an HTTP server exposing the /metrics endpoint.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a metrics server on the given address.
func NewMetricsServer(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start starts the metrics server (blocking).
func (s *MetricsServer) Start() error {
	return s.server.ListenAndServe()
}

// StartAsync starts the metrics server in a goroutine.
func (s *MetricsServer) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop stops the metrics server.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}
