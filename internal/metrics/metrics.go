// ABOUTME: Prometheus metrics exposition for fleet compliance data.
// ABOUTME: Gauges are rebuilt from the latest-score read model on every scrape.

package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/complyd/complyd/internal/scoring"
	"github.com/complyd/complyd/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type MetricsHandler struct {
	store  store.Store
	logger *logrus.Logger

	hostsTotal       prometheus.Gauge
	fleetScore       prometheus.Gauge
	criticalFindings prometheus.Gauge

	hostScore    *prometheus.GaugeVec
	hostChecks   *prometheus.GaugeVec
	hostLastScan *prometheus.GaugeVec
}

func NewMetricsHandler(st store.Store, logger *logrus.Logger) *MetricsHandler {
	return &MetricsHandler{
		store:  st,
		logger: logger,

		hostsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "complyd_hosts_total",
			Help: "Number of hosts known to the central server",
		}),

		fleetScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "complyd_fleet_compliance_score",
			Help: "Mean of the latest compliance score per host (0-100)",
		}),

		criticalFindings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "complyd_critical_findings",
			Help: "Current failed high-severity findings summed across hosts",
		}),

		hostScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "complyd_host_compliance_score",
				Help: "Latest compliance score per host (0-100)",
			},
			[]string{"hostname"},
		),

		hostChecks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "complyd_host_check_count",
				Help: "Check counts from the latest scan per host by outcome",
			},
			[]string{"hostname", "status"},
		),

		hostLastScan: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "complyd_host_last_scan_timestamp",
				Help: "Unix timestamp of the latest ingested scan per host",
			},
			[]string{"hostname"},
		),
	}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Per-request registry to avoid conflicts and stale series.
	registry := prometheus.NewRegistry()
	registry.MustRegister(m.hostsTotal)
	registry.MustRegister(m.fleetScore)
	registry.MustRegister(m.criticalFindings)
	registry.MustRegister(m.hostScore)
	registry.MustRegister(m.hostChecks)
	registry.MustRegister(m.hostLastScan)

	m.hostScore.Reset()
	m.hostChecks.Reset()
	m.hostLastScan.Reset()

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	totalHosts, err := m.store.TotalHosts(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to count hosts for metrics")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	latest, err := m.store.LatestScores(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to load latest scores for metrics")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	critical := 0
	for _, score := range latest {
		critical += score.Critical

		m.hostScore.WithLabelValues(score.Hostname).Set(score.Score)
		m.hostChecks.WithLabelValues(score.Hostname, "passed").Set(float64(score.Passed))
		m.hostChecks.WithLabelValues(score.Hostname, "failed").Set(float64(score.Failed))
		m.hostChecks.WithLabelValues(score.Hostname, "errors").Set(float64(score.Errors))
		m.hostLastScan.WithLabelValues(score.Hostname).Set(float64(score.Timestamp.Unix()))
	}

	m.hostsTotal.Set(float64(totalHosts))
	m.fleetScore.Set(scoring.FleetMean(latest))
	m.criticalFindings.Set(float64(critical))

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	handler.ServeHTTP(w, r)
}

// CreateMetricsHandler creates a standard HTTP handler for /metrics.
func CreateMetricsHandler(st store.Store, logger *logrus.Logger) http.HandlerFunc {
	handler := NewMetricsHandler(st, logger)
	return handler.ServeHTTP
}
