// ABOUTME: Unit tests for the fleet summary and per-host results endpoints.
// ABOUTME: Validates dashboard payload shape, query parameters, and auth gating.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/complyd/complyd/internal/scoring"
	"github.com/complyd/complyd/internal/store"
	"github.com/complyd/complyd/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)

	seed := func(scanID, hostname string, ts time.Time, findings []types.Finding) {
		result := &types.ScanResult{ScanID: scanID, Hostname: hostname, Timestamp: ts, Findings: findings}
		result.Recount()
		require.NoError(t, st.IngestScan(context.Background(), result, scoring.Score(result)))
	}

	seed("s1", "web-01", day.Add(8*time.Hour), []types.Finding{
		{RuleID: "A", Severity: types.SeverityHigh, Status: types.StatusPassed},
		{RuleID: "B", Severity: types.SeverityHigh, Status: types.StatusFailed},
	})
	seed("s2", "db-01", day.Add(9*time.Hour), []types.Finding{
		{RuleID: "A", Severity: types.SeverityLow, Status: types.StatusPassed},
		{RuleID: "B", Severity: types.SeverityLow, Status: types.StatusPassed},
	})
	return st
}

func getPath(t *testing.T, handler http.HandlerFunc, path, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func TestSummaryHandler(t *testing.T) {
	handler := CreateSummaryHandler(seedStore(t), testKeys(), testLogger())

	rr := getPath(t, handler, "/api/v1/summary", "view-key")
	require.Equal(t, http.StatusOK, rr.Code)

	var summary types.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))

	assert.Equal(t, 2, summary.TotalHosts)
	assert.Equal(t, 75.0, summary.ComplianceScore) // mean of 50 and 100
	assert.Equal(t, 1, summary.CriticalFindings)
	require.Len(t, summary.RecentScans, 2)
	assert.Equal(t, "db-01", summary.RecentScans[0].Hostname)
	assert.Equal(t, "pass", summary.RecentScans[0].Status)
	assert.Equal(t, "fail", summary.RecentScans[1].Status)
	require.Len(t, summary.ComplianceTrend, 1)
	assert.Equal(t, "2026-08-25", summary.ComplianceTrend[0].Date)
	assert.Equal(t, 75.0, summary.ComplianceTrend[0].Score)
}

func TestSummaryHandler_EmptyFleet(t *testing.T) {
	handler := CreateSummaryHandler(store.NewMemory(), testKeys(), testLogger())

	rr := getPath(t, handler, "/api/v1/summary", "view-key")
	require.Equal(t, http.StatusOK, rr.Code)

	// Stable shape even with no data: empty arrays, never null.
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	assert.JSONEq(t, "[]", string(raw["recent_scans"]))
	assert.JSONEq(t, "[]", string(raw["compliance_trend"]))
	assert.JSONEq(t, "0", string(raw["total_hosts"]))
}

func TestSummaryHandler_HostFilter(t *testing.T) {
	handler := CreateSummaryHandler(seedStore(t), testKeys(), testLogger())

	rr := getPath(t, handler, "/api/v1/summary?host=web-01", "view-key")
	require.Equal(t, http.StatusOK, rr.Code)

	var summary types.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	require.Len(t, summary.ComplianceTrend, 1)
	assert.Equal(t, 50.0, summary.ComplianceTrend[0].Score)
}

func TestSummaryHandler_UnknownHost(t *testing.T) {
	handler := CreateSummaryHandler(seedStore(t), testKeys(), testLogger())

	rr := getPath(t, handler, "/api/v1/summary?host=ghost", "view-key")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSummaryHandler_InvalidDays(t *testing.T) {
	handler := CreateSummaryHandler(seedStore(t), testKeys(), testLogger())

	for _, days := range []string{"0", "-1", "366", "abc"} {
		rr := getPath(t, handler, "/api/v1/summary?days="+days, "view-key")
		assert.Equal(t, http.StatusBadRequest, rr.Code, "days=%s", days)
	}
}

func TestSummaryHandler_AuthFailures(t *testing.T) {
	handler := CreateSummaryHandler(seedStore(t), testKeys(), testLogger())

	assert.Equal(t, http.StatusUnauthorized, getPath(t, handler, "/api/v1/summary", "").Code)
	assert.Equal(t, http.StatusUnauthorized, getPath(t, handler, "/api/v1/summary", "bogus").Code)
	// A submit-only agent key cannot read the dashboard.
	assert.Equal(t, http.StatusForbidden, getPath(t, handler, "/api/v1/summary", "agent-key").Code)
}

func TestHostResultsHandler(t *testing.T) {
	handler := CreateHostResultsHandler(seedStore(t), testKeys(), testLogger())

	rr := getPath(t, handler, "/api/v1/results/web-01", "view-key")
	require.Equal(t, http.StatusOK, rr.Code)

	var results []types.ScanResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "s1", results[0].ScanID)
	assert.Len(t, results[0].Findings, 2)
}

func TestHostResultsHandler_Errors(t *testing.T) {
	handler := CreateHostResultsHandler(seedStore(t), testKeys(), testLogger())

	assert.Equal(t, http.StatusNotFound, getPath(t, handler, "/api/v1/results/ghost", "view-key").Code)
	assert.Equal(t, http.StatusBadRequest, getPath(t, handler, "/api/v1/results/", "view-key").Code)
	assert.Equal(t, http.StatusForbidden, getPath(t, handler, "/api/v1/results/web-01", "agent-key").Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/results/web-01", nil)
	req.Header.Set("X-API-Key", "view-key")
	rr := httptest.NewRecorder()
	handler(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
