// ABOUTME: Compliance scoring and trend math.
// ABOUTME: Per-scan scores, critical finding counts, daily collapse, and fleet aggregates.

package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/complyd/complyd/internal/types"
)

// Score computes the compliance score record for one scan result.
// score = 100 * passed / total_checks; an all-excluded scan (total 0) is
// vacuously compliant and scores 100.
func Score(result *types.ScanResult) types.ComplianceScore {
	score := 100.0
	if result.TotalChecks > 0 {
		score = round2(100 * float64(result.Passed) / float64(result.TotalChecks))
	}

	return types.ComplianceScore{
		Hostname:    result.Hostname,
		ScanID:      result.ScanID,
		Timestamp:   result.Timestamp,
		Score:       score,
		TotalChecks: result.TotalChecks,
		Passed:      result.Passed,
		Failed:      result.Failed,
		Errors:      result.Errors,
		Critical:    CriticalFindings(result),
	}
}

// CriticalFindings counts findings with severity=high and status=failed.
func CriticalFindings(result *types.ScanResult) int {
	critical := 0
	for _, f := range result.Findings {
		if f.Severity == types.SeverityHigh && f.Status == types.StatusFailed {
			critical++
		}
	}
	return critical
}

// TrendDate buckets a scan timestamp into its UTC calendar date, the
// granularity of the trend series regardless of scan interval.
func TrendDate(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

// FleetMean is the mean of the latest score per host; 0 for an empty fleet.
func FleetMean(latest []types.ComplianceScore) float64 {
	if len(latest) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range latest {
		sum += s.Score
	}
	return round2(sum / float64(len(latest)))
}

// FleetTrend collapses per-host daily trends into a fleet series: for each
// date, the mean over hosts that have a score that day. Sorted by date.
func FleetTrend(perHost map[string][]types.TrendPoint) []types.TrendPoint {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, points := range perHost {
		for _, p := range points {
			sums[p.Date] += p.Score
			counts[p.Date]++
		}
	}

	out := make([]types.TrendPoint, 0, len(sums))
	for date, sum := range sums {
		out = append(out, types.TrendPoint{Date: date, Score: round2(sum / float64(counts[date]))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
