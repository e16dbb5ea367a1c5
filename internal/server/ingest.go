// ABOUTME: HTTP handler for authenticated scan result ingestion.
// ABOUTME: Hard gates in order: auth, permission, shape validation, dedup, transactional persist.

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/complyd/complyd/internal/apikeys"
	"github.com/complyd/complyd/internal/scoring"
	"github.com/complyd/complyd/internal/store"
	"github.com/complyd/complyd/internal/types"

	"github.com/sirupsen/logrus"
)

const maxSubmissionBytes = 10 << 20 // 10 MB

// IngestHandler accepts scan result submissions from agents. An Ack from
// this handler guarantees the derived score is already queryable: scoring
// and persistence happen synchronously inside one transaction before the
// response is written.
type IngestHandler struct {
	store  store.Store
	keys   *apikeys.Set
	logger *logrus.Logger
}

func NewIngestHandler(st store.Store, keys *apikeys.Set, logger *logrus.Logger) *IngestHandler {
	return &IngestHandler{store: st, keys: keys, logger: logger}
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithField("endpoint", "/api/v1/results")

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, status, msg := authorize(r, h.keys, apikeys.PermSubmitResults)
	if status != 0 {
		logger.WithFields(logrus.Fields{
			"status":    status,
			"remote_ip": r.RemoteAddr,
		}).Warn("Rejected submission: " + msg)
		http.Error(w, msg, status)
		return
	}

	var result types.ScanResult
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmissionBytes))
	if err := decoder.Decode(&result); err != nil {
		http.Error(w, "invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	// Malformed payloads are rejected outright, never partially stored.
	if err := result.Validate(); err != nil {
		logger.WithError(err).WithField("agent", key.Name).Warn("Rejected malformed submission")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	score := scoring.Score(&result)

	err := h.store.IngestScan(r.Context(), &result, score)
	if errors.Is(err, store.ErrDuplicateScan) {
		// Idempotent dedup: replay the stored ack without re-processing.
		stored, err := h.store.ScanScore(r.Context(), result.ScanID)
		if err != nil {
			logger.WithError(err).WithField("scan_id", result.ScanID).Error("Failed to load duplicate scan score")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		logger.WithField("scan_id", result.ScanID).Info("Duplicate submission acknowledged")
		writeAck(w, types.Ack{Status: "success", ScanID: stored.ScanID, Score: stored.Score, Duplicate: true})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("scan_id", result.ScanID).Error("Failed to persist scan result")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	logger.WithFields(logrus.Fields{
		"scan_id":  result.ScanID,
		"hostname": result.Hostname,
		"agent":    key.Name,
		"score":    score.Score,
		"critical": score.Critical,
	}).Info("Ingested scan result")

	writeAck(w, types.Ack{Status: "success", ScanID: result.ScanID, Score: score.Score})
}

func writeAck(w http.ResponseWriter, ack types.Ack) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ack)
}

// CreateIngestHandler creates a standard HTTP handler.
func CreateIngestHandler(st store.Store, keys *apikeys.Set, logger *logrus.Logger) http.HandlerFunc {
	handler := NewIngestHandler(st, keys, logger)
	return handler.ServeHTTP
}
