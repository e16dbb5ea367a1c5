// ABOUTME: Unit tests for Prometheus metrics exposition.
// ABOUTME: Validates gauge values and label series against a seeded store.

package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/complyd/complyd/internal/scoring"
	"github.com/complyd/complyd/internal/store"
	"github.com/complyd/complyd/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func seedStore(t *testing.T) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	ts := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	result := &types.ScanResult{
		ScanID: "s1", Hostname: "web-01", Timestamp: ts,
		Findings: []types.Finding{
			{RuleID: "A", Severity: types.SeverityHigh, Status: types.StatusPassed},
			{RuleID: "B", Severity: types.SeverityHigh, Status: types.StatusFailed},
			{RuleID: "C", Severity: types.SeverityLow, Status: types.StatusError},
			{RuleID: "D", Severity: types.SeverityLow, Status: types.StatusPassed},
		},
	}
	result.Recount()
	require.NoError(t, st.IngestScan(context.Background(), result, scoring.Score(result)))
	return st
}

func scrape(t *testing.T, st store.Store) string {
	t.Helper()
	handler := CreateMetricsHandler(st, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandler(t *testing.T) {
	body := scrape(t, seedStore(t))

	assert.Contains(t, body, "complyd_hosts_total 1")
	assert.Contains(t, body, "complyd_fleet_compliance_score 50")
	assert.Contains(t, body, "complyd_critical_findings 1")
	assert.Contains(t, body, `complyd_host_compliance_score{hostname="web-01"} 50`)
	assert.Contains(t, body, `complyd_host_check_count{hostname="web-01",status="passed"} 2`)
	assert.Contains(t, body, `complyd_host_check_count{hostname="web-01",status="failed"} 1`)
	assert.Contains(t, body, `complyd_host_check_count{hostname="web-01",status="errors"} 1`)
	assert.Contains(t, body, `complyd_host_last_scan_timestamp{hostname="web-01"}`)
}

func TestMetricsHandler_EmptyFleet(t *testing.T) {
	body := scrape(t, store.NewMemory())

	assert.Contains(t, body, "complyd_hosts_total 0")
	assert.Contains(t, body, "complyd_fleet_compliance_score 0")
	// No per-host series without hosts.
	assert.False(t, strings.Contains(body, `hostname="`))
}

func TestMetricsHandler_StaleSeriesDropped(t *testing.T) {
	st := seedStore(t)
	handler := CreateMetricsHandler(st, testLogger())

	first := httptest.NewRecorder()
	handler(first, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, first.Body.String(), `hostname="web-01"`)

	// Second scrape rebuilds from current state; the series persists only
	// because the host is still present, not because of gauge residue.
	second := httptest.NewRecorder()
	handler(second, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, 1, strings.Count(second.Body.String(), `complyd_host_compliance_score{hostname="web-01"}`))
}
