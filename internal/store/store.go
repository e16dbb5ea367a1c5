// ABOUTME: Durable store contract for hosts, scan results, scores, and trends.
// ABOUTME: Backed by Postgres in production and an in-memory map for local mode and tests.

package store

import (
	"context"
	"errors"

	"github.com/complyd/complyd/internal/types"
)

// ErrDuplicateScan marks a scan_id that was already ingested. The ingestion
// service answers it with an Ack replay, not an error.
var ErrDuplicateScan = errors.New("scan_id already ingested")

// ErrNotFound marks a missing host or scan record.
var ErrNotFound = errors.New("record not found")

// Store persists the central server's state. Implementations must serialize
// writes within one host's record set while allowing different hosts to
// ingest fully concurrently, and must keep the per-host latest score
// indexed so summary queries stay O(hosts).
type Store interface {
	// IngestScan atomically persists a scan result with its derived score:
	// host upsert (first_seen/last_seen), scan + findings, latest-score
	// cache, and the daily trend point (last write wins per calendar date).
	// Returns ErrDuplicateScan without modifying anything when the scan_id
	// is already present.
	IngestScan(ctx context.Context, result *types.ScanResult, score types.ComplianceScore) error

	// ScanScore returns the stored score for a scan_id, for duplicate-ack replay.
	ScanScore(ctx context.Context, scanID string) (types.ComplianceScore, error)

	TotalHosts(ctx context.Context) (int, error)
	Hosts(ctx context.Context) ([]types.Host, error)

	// LatestScores returns the cached latest score per host.
	LatestScores(ctx context.Context) ([]types.ComplianceScore, error)

	// RecentScans returns the most recent n scans fleet-wide, newest first.
	RecentScans(ctx context.Context, n int) ([]types.RecentScan, error)

	// HostTrend returns one host's daily trend, oldest first, within the
	// trailing number of days (0 means unbounded).
	HostTrend(ctx context.Context, hostname string, days int) ([]types.TrendPoint, error)

	// FleetTrends returns every host's daily trend within the trailing days.
	FleetTrends(ctx context.Context, days int) (map[string][]types.TrendPoint, error)

	// HostResults returns a host's full scan history, newest first.
	HostResults(ctx context.Context, hostname string) ([]types.ScanResult, error)

	Close()
}
