// ABOUTME: HTTP handler for the fleet-wide summary endpoint.
// ABOUTME: Serves the stable dashboard payload from the indexed read model.

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/complyd/complyd/internal/apikeys"
	"github.com/complyd/complyd/internal/scoring"
	"github.com/complyd/complyd/internal/store"
	"github.com/complyd/complyd/internal/types"

	"github.com/sirupsen/logrus"
)

const (
	defaultRecentScans = 10
	defaultTrendDays   = 30
	maxTrendDays       = 365
)

// SummaryHandler answers fleet-wide dashboard queries. All reads go through
// the per-host latest-score cache and the daily trend table, so the summary
// stays O(hosts) rather than O(total historical findings).
type SummaryHandler struct {
	store  store.Store
	keys   *apikeys.Set
	logger *logrus.Logger
}

func NewSummaryHandler(st store.Store, keys *apikeys.Set, logger *logrus.Logger) *SummaryHandler {
	return &SummaryHandler{store: st, keys: keys, logger: logger}
}

func (h *SummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithField("endpoint", "/api/v1/summary")

	if _, status, msg := authorize(r, h.keys, apikeys.PermViewResults); status != 0 {
		http.Error(w, msg, status)
		return
	}

	days := defaultTrendDays
	if param := strings.TrimSpace(r.URL.Query().Get("days")); param != "" {
		parsed, err := strconv.Atoi(param)
		if err != nil || parsed <= 0 || parsed > maxTrendDays {
			http.Error(w, "Invalid days parameter. Must be between 1 and 365", http.StatusBadRequest)
			return
		}
		days = parsed
	}
	hostFilter := strings.TrimSpace(r.URL.Query().Get("host"))

	totalHosts, err := h.store.TotalHosts(r.Context())
	if err != nil {
		h.fail(w, logger, err, "count hosts")
		return
	}
	latest, err := h.store.LatestScores(r.Context())
	if err != nil {
		h.fail(w, logger, err, "load latest scores")
		return
	}
	recent, err := h.store.RecentScans(r.Context(), defaultRecentScans)
	if err != nil {
		h.fail(w, logger, err, "load recent scans")
		return
	}

	var trend []types.TrendPoint
	if hostFilter != "" {
		trend, err = h.store.HostTrend(r.Context(), hostFilter, days)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "unknown host", http.StatusNotFound)
			return
		}
	} else {
		var perHost map[string][]types.TrendPoint
		perHost, err = h.store.FleetTrends(r.Context(), days)
		if err == nil {
			trend = scoring.FleetTrend(perHost)
		}
	}
	if err != nil {
		h.fail(w, logger, err, "load trend")
		return
	}

	critical := 0
	for _, score := range latest {
		critical += score.Critical
	}

	summary := types.Summary{
		TotalHosts:       totalHosts,
		ComplianceScore:  scoring.FleetMean(latest),
		CriticalFindings: critical,
		RecentScans:      recent,
		ComplianceTrend:  trend,
	}
	if summary.RecentScans == nil {
		summary.RecentScans = []types.RecentScan{}
	}
	if summary.ComplianceTrend == nil {
		summary.ComplianceTrend = []types.TrendPoint{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		logger.WithError(err).Error("Failed to encode summary response")
		return
	}

	logger.WithFields(logrus.Fields{
		"total_hosts":       summary.TotalHosts,
		"compliance_score":  summary.ComplianceScore,
		"critical_findings": summary.CriticalFindings,
	}).Debug("Served summary")
}

func (h *SummaryHandler) fail(w http.ResponseWriter, logger *logrus.Entry, err error, what string) {
	logger.WithError(err).Error("Failed to " + what)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// CreateSummaryHandler creates a standard HTTP handler.
func CreateSummaryHandler(st store.Store, keys *apikeys.Set, logger *logrus.Logger) http.HandlerFunc {
	handler := NewSummaryHandler(st, keys, logger)
	return handler.ServeHTTP
}
