// ABOUTME: In-memory store implementation for local mode and tests.
// ABOUTME: Per-host mutexes serialize same-host writes; cross-host ingestion stays parallel.

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/complyd/complyd/internal/scoring"
	"github.com/complyd/complyd/internal/types"
)

type hostRecord struct {
	mu      sync.Mutex // serializes writes for this host only
	host    types.Host
	results []*types.ScanResult
	scores  map[string]types.ComplianceScore // by scan_id
	latest  types.ComplianceScore
	trend   map[string]float64 // date -> score, last write wins
}

// Memory implements Store with maps. The outer lock only guards the host
// index and the global scan_id dedup set; all per-host mutation happens
// under that host's own mutex.
type Memory struct {
	mu    sync.RWMutex
	hosts map[string]*hostRecord
	scans map[string]string // scan_id -> hostname
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		hosts: make(map[string]*hostRecord),
		scans: make(map[string]string),
	}
}

func (m *Memory) IngestScan(ctx context.Context, result *types.ScanResult, score types.ComplianceScore) error {
	now := time.Now().UTC()

	m.mu.Lock()
	if _, exists := m.scans[result.ScanID]; exists {
		m.mu.Unlock()
		return ErrDuplicateScan
	}
	m.scans[result.ScanID] = result.Hostname

	record, exists := m.hosts[result.Hostname]
	if !exists {
		record = &hostRecord{
			host:   types.Host{Hostname: result.Hostname, FirstSeen: now},
			scores: make(map[string]types.ComplianceScore),
			trend:  make(map[string]float64),
		}
		m.hosts[result.Hostname] = record
	}
	m.mu.Unlock()

	record.mu.Lock()
	defer record.mu.Unlock()

	record.host.LastSeen = now
	record.results = append(record.results, result)
	record.scores[result.ScanID] = score
	record.latest = score
	record.trend[scoring.TrendDate(result.Timestamp)] = score.Score
	return nil
}

func (m *Memory) ScanScore(ctx context.Context, scanID string) (types.ComplianceScore, error) {
	m.mu.RLock()
	hostname, exists := m.scans[scanID]
	record := m.hosts[hostname]
	m.mu.RUnlock()

	if !exists || record == nil {
		return types.ComplianceScore{}, ErrNotFound
	}

	record.mu.Lock()
	defer record.mu.Unlock()
	score, ok := record.scores[scanID]
	if !ok {
		return types.ComplianceScore{}, ErrNotFound
	}
	return score, nil
}

func (m *Memory) TotalHosts(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hosts), nil
}

func (m *Memory) Hosts(ctx context.Context) ([]types.Host, error) {
	records := m.snapshot()
	out := make([]types.Host, 0, len(records))
	for _, record := range records {
		record.mu.Lock()
		out = append(out, record.host)
		record.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

func (m *Memory) LatestScores(ctx context.Context) ([]types.ComplianceScore, error) {
	records := m.snapshot()
	out := make([]types.ComplianceScore, 0, len(records))
	for _, record := range records {
		record.mu.Lock()
		if record.latest.ScanID != "" {
			out = append(out, record.latest)
		}
		record.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

func (m *Memory) RecentScans(ctx context.Context, n int) ([]types.RecentScan, error) {
	records := m.snapshot()
	var all []types.RecentScan
	for _, record := range records {
		record.mu.Lock()
		for _, result := range record.results {
			status := "pass"
			if result.Failed > 0 || result.Errors > 0 {
				status = "fail"
			}
			all = append(all, types.RecentScan{
				Hostname:  result.Hostname,
				Timestamp: result.Timestamp,
				Status:    status,
			})
		}
		record.mu.Unlock()
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (m *Memory) HostTrend(ctx context.Context, hostname string, days int) ([]types.TrendPoint, error) {
	m.mu.RLock()
	record := m.hosts[hostname]
	m.mu.RUnlock()
	if record == nil {
		return nil, ErrNotFound
	}

	record.mu.Lock()
	defer record.mu.Unlock()
	return trendPoints(record.trend, days), nil
}

func (m *Memory) FleetTrends(ctx context.Context, days int) (map[string][]types.TrendPoint, error) {
	records := m.snapshot()
	out := make(map[string][]types.TrendPoint, len(records))
	for hostname, record := range records {
		record.mu.Lock()
		out[hostname] = trendPoints(record.trend, days)
		record.mu.Unlock()
	}
	return out, nil
}

func (m *Memory) HostResults(ctx context.Context, hostname string) ([]types.ScanResult, error) {
	m.mu.RLock()
	record := m.hosts[hostname]
	m.mu.RUnlock()
	if record == nil {
		return nil, ErrNotFound
	}

	record.mu.Lock()
	defer record.mu.Unlock()
	out := make([]types.ScanResult, 0, len(record.results))
	for _, result := range record.results {
		out = append(out, *result)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) Close() {}

func (m *Memory) snapshot() map[string]*hostRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*hostRecord, len(m.hosts))
	for hostname, record := range m.hosts {
		out[hostname] = record
	}
	return out
}

func trendPoints(trend map[string]float64, days int) []types.TrendPoint {
	var cutoff string
	if days > 0 {
		cutoff = scoring.TrendDate(time.Now().UTC().AddDate(0, 0, -days))
	}

	out := make([]types.TrendPoint, 0, len(trend))
	for date, score := range trend {
		if cutoff != "" && date < cutoff {
			continue
		}
		out = append(out, types.TrendPoint{Date: date, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
