// ABOUTME: Unit tests for the scan result ingestion endpoint.
// ABOUTME: Validates authentication, payload validation, dedup acks, and persistence.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/complyd/complyd/internal/apikeys"
	"github.com/complyd/complyd/internal/store"
	"github.com/complyd/complyd/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func testKeys() *apikeys.Set {
	return apikeys.NewStatic(map[string]apikeys.Key{
		"agent-key": {Name: "web-01-agent", Permissions: []string{apikeys.PermSubmitResults}},
		"view-key":  {Name: "dashboard", Permissions: []string{apikeys.PermViewResults}},
	}, testLogger())
}

func validResult() *types.ScanResult {
	result := &types.ScanResult{
		ScanID:    "scan_20260825_120000_web-01",
		Hostname:  "web-01",
		Timestamp: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		Findings: []types.Finding{
			{RuleID: "FILE-001", Category: types.CategoryFilePermission,
				Severity: types.SeverityHigh, Status: types.StatusPassed},
			{RuleID: "FILE-002", Category: types.CategoryFilePermission,
				Severity: types.SeverityHigh, Status: types.StatusFailed},
			{RuleID: "SVC-001", Category: types.CategoryService,
				Severity: types.SeverityMedium, Status: types.StatusPassed},
			{RuleID: "NET-001", Category: types.CategoryNetwork,
				Severity: types.SeverityLow, Status: types.StatusPassed},
		},
	}
	result.Recount()
	return result
}

func postResult(t *testing.T, handler http.HandlerFunc, apiKey string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/results", bytes.NewReader(body))
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func TestIngestHandler_Success(t *testing.T) {
	st := store.NewMemory()
	handler := CreateIngestHandler(st, testKeys(), testLogger())

	body, err := json.Marshal(validResult())
	require.NoError(t, err)

	rr := postResult(t, handler, "agent-key", body)
	require.Equal(t, http.StatusOK, rr.Code)

	var ack types.Ack
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))
	assert.Equal(t, "success", ack.Status)
	assert.Equal(t, "scan_20260825_120000_web-01", ack.ScanID)
	assert.Equal(t, 75.0, ack.Score)
	assert.False(t, ack.Duplicate)

	// The ack guarantees the derived score is already queryable.
	stored, err := st.ScanScore(context.Background(), ack.ScanID)
	require.NoError(t, err)
	assert.Equal(t, 75.0, stored.Score)
	assert.Equal(t, 1, stored.Critical)
}

func TestIngestHandler_DuplicateReplaysAck(t *testing.T) {
	st := store.NewMemory()
	handler := CreateIngestHandler(st, testKeys(), testLogger())

	body, err := json.Marshal(validResult())
	require.NoError(t, err)

	first := postResult(t, handler, "agent-key", body)
	require.Equal(t, http.StatusOK, first.Code)

	second := postResult(t, handler, "agent-key", body)
	require.Equal(t, http.StatusOK, second.Code)

	var ack types.Ack
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &ack))
	assert.True(t, ack.Duplicate)
	assert.Equal(t, 75.0, ack.Score)

	// Still exactly one stored scan for the host.
	results, err := st.HostResults(context.Background(), "web-01")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestIngestHandler_AuthFailures(t *testing.T) {
	handler := CreateIngestHandler(store.NewMemory(), testKeys(), testLogger())
	body, err := json.Marshal(validResult())
	require.NoError(t, err)

	tests := []struct {
		name     string
		apiKey   string
		wantCode int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"unknown key", "bogus", http.StatusUnauthorized},
		{"key without submit permission", "view-key", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postResult(t, handler, tt.apiKey, body)
			assert.Equal(t, tt.wantCode, rr.Code)
		})
	}
}

func TestIngestHandler_MalformedPayloadStoresNothing(t *testing.T) {
	st := store.NewMemory()
	handler := CreateIngestHandler(st, testKeys(), testLogger())

	inconsistent := validResult()
	inconsistent.TotalChecks = 99 // counts no longer match findings
	body, err := json.Marshal(inconsistent)
	require.NoError(t, err)

	tests := []struct {
		name string
		body []byte
	}{
		{"not JSON", []byte("{nope")},
		{"missing scan_id", []byte(`{"hostname":"h","timestamp":"2026-08-25T12:00:00Z"}`)},
		{"invalid severity", []byte(`{"scan_id":"s","hostname":"h","timestamp":"2026-08-25T12:00:00Z","findings":[{"rule_id":"R","severity":"critical","status":"passed"}],"total_checks":1,"passed":1}`)},
		{"count mismatch", body},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postResult(t, handler, "agent-key", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}

	// Nothing was partially stored.
	total, err := st.TotalHosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestIngestHandler_MethodNotAllowed(t *testing.T) {
	handler := CreateIngestHandler(store.NewMemory(), testKeys(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/results", nil)
	req.Header.Set("X-API-Key", "agent-key")
	rr := httptest.NewRecorder()
	handler(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
