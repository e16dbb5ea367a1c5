// ABOUTME: HTTP handler for per-host scan history queries.
// ABOUTME: Returns a host's stored scan results, newest first.

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/complyd/complyd/internal/apikeys"
	"github.com/complyd/complyd/internal/store"

	"github.com/sirupsen/logrus"
)

// HostResultsHandler serves GET /api/v1/results/{host}.
type HostResultsHandler struct {
	store  store.Store
	keys   *apikeys.Set
	logger *logrus.Logger
}

func NewHostResultsHandler(st store.Store, keys *apikeys.Set, logger *logrus.Logger) *HostResultsHandler {
	return &HostResultsHandler{store: st, keys: keys, logger: logger}
}

func (h *HostResultsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithField("endpoint", "/api/v1/results/{host}")

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, status, msg := authorize(r, h.keys, apikeys.PermViewResults); status != 0 {
		http.Error(w, msg, status)
		return
	}

	hostname := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/results/"), "/")
	if hostname == "" || strings.Contains(hostname, "/") {
		http.Error(w, "invalid hostname", http.StatusBadRequest)
		return
	}

	results, err := h.store.HostResults(r.Context(), hostname)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "unknown host", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.WithError(err).WithField("hostname", hostname).Error("Failed to load host results")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(results); err != nil {
		logger.WithError(err).Error("Failed to encode host results")
		return
	}

	logger.WithFields(logrus.Fields{
		"hostname": hostname,
		"scans":    len(results),
	}).Debug("Served host results")
}

// CreateHostResultsHandler creates a standard HTTP handler.
func CreateHostResultsHandler(st store.Store, keys *apikeys.Set, logger *logrus.Logger) http.HandlerFunc {
	handler := NewHostResultsHandler(st, keys, logger)
	return handler.ServeHTTP
}
