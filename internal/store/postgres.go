// ABOUTME: Postgres store implementation on pgx.
// ABOUTME: Transactional ingest with a per-host row lock; schema bootstrap at startup.

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/complyd/complyd/internal/scoring"
	"github.com/complyd/complyd/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const findingBatchSize = 100

// Postgres implements Store on a pgx connection pool. Per-host write
// serialization comes from the hosts row lock taken by the upsert at the
// start of every ingest transaction; different hosts lock different rows
// and proceed in parallel.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database and bootstraps the schema.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := &Postgres{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// Ping verifies connectivity with a short timeout.
func (s *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hosts (
  hostname TEXT PRIMARY KEY,
  first_seen TIMESTAMPTZ NOT NULL,
  last_seen TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS scans (
  scan_id TEXT PRIMARY KEY,
  hostname TEXT NOT NULL REFERENCES hosts(hostname),
  ts TIMESTAMPTZ NOT NULL,
  total_checks INTEGER NOT NULL,
  passed INTEGER NOT NULL,
  failed INTEGER NOT NULL,
  errors INTEGER NOT NULL,
  score DOUBLE PRECISION NOT NULL,
  critical INTEGER NOT NULL,
  CHECK (passed + failed + errors = total_checks),
  CHECK (score >= 0 AND score <= 100)
);

CREATE INDEX IF NOT EXISTS idx_scans_host_ts ON scans (hostname, ts DESC);
CREATE INDEX IF NOT EXISTS idx_scans_ts ON scans (ts DESC);

CREATE TABLE IF NOT EXISTS findings (
  id BIGSERIAL PRIMARY KEY,
  scan_id TEXT NOT NULL REFERENCES scans(scan_id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  rule_id TEXT NOT NULL,
  category TEXT NOT NULL,
  title TEXT NOT NULL,
  severity TEXT NOT NULL,
  status TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  fix TEXT NOT NULL DEFAULT '',
  detail TEXT NOT NULL DEFAULT '',
  UNIQUE (scan_id, position)
);

CREATE TABLE IF NOT EXISTS latest_scores (
  hostname TEXT PRIMARY KEY REFERENCES hosts(hostname),
  scan_id TEXT NOT NULL,
  ts TIMESTAMPTZ NOT NULL,
  score DOUBLE PRECISION NOT NULL,
  total_checks INTEGER NOT NULL,
  passed INTEGER NOT NULL,
  failed INTEGER NOT NULL,
  errors INTEGER NOT NULL,
  critical INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trend (
  hostname TEXT NOT NULL REFERENCES hosts(hostname),
  day DATE NOT NULL,
  score DOUBLE PRECISION NOT NULL,
  PRIMARY KEY (hostname, day)
);
`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func (s *Postgres) IngestScan(ctx context.Context, result *types.ScanResult, score types.ComplianceScore) error {
	now := time.Now().UTC()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The host upsert takes the row lock that serializes all writes for
	// this hostname until commit.
	_, err = tx.Exec(ctx, `
INSERT INTO hosts (hostname, first_seen, last_seen)
VALUES ($1, $2, $2)
ON CONFLICT (hostname) DO UPDATE SET last_seen = EXCLUDED.last_seen
`, result.Hostname, now)
	if err != nil {
		return fmt.Errorf("failed to upsert host: %w", err)
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO scans (scan_id, hostname, ts, total_checks, passed, failed, errors, score, critical)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (scan_id) DO NOTHING
`, result.ScanID, result.Hostname, result.Timestamp,
		result.TotalChecks, result.Passed, result.Failed, result.Errors,
		score.Score, score.Critical)
	if err != nil {
		return fmt.Errorf("failed to insert scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateScan
	}

	if err := insertFindings(ctx, tx, result); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO latest_scores (hostname, scan_id, ts, score, total_checks, passed, failed, errors, critical)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (hostname) DO UPDATE SET
  scan_id = EXCLUDED.scan_id,
  ts = EXCLUDED.ts,
  score = EXCLUDED.score,
  total_checks = EXCLUDED.total_checks,
  passed = EXCLUDED.passed,
  failed = EXCLUDED.failed,
  errors = EXCLUDED.errors,
  critical = EXCLUDED.critical
`, result.Hostname, result.ScanID, result.Timestamp, score.Score,
		result.TotalChecks, result.Passed, result.Failed, result.Errors, score.Critical)
	if err != nil {
		return fmt.Errorf("failed to upsert latest score: %w", err)
	}

	// Daily trend collapse: last write for a calendar date wins.
	_, err = tx.Exec(ctx, `
INSERT INTO trend (hostname, day, score)
VALUES ($1, $2::date, $3)
ON CONFLICT (hostname, day) DO UPDATE SET score = EXCLUDED.score
`, result.Hostname, scoring.TrendDate(result.Timestamp), score.Score)
	if err != nil {
		return fmt.Errorf("failed to upsert trend: %w", err)
	}

	return tx.Commit(ctx)
}

// insertFindings writes findings in multi-value batches for throughput on
// large catalogs.
func insertFindings(ctx context.Context, tx pgx.Tx, result *types.ScanResult) error {
	findings := result.Findings
	for start := 0; start < len(findings); start += findingBatchSize {
		end := start + findingBatchSize
		if end > len(findings) {
			end = len(findings)
		}
		chunk := findings[start:end]

		const colCount = 10
		var sb strings.Builder
		sb.WriteString(`
INSERT INTO findings (
  scan_id, position, rule_id, category, title, severity, status, description, fix, detail
) VALUES `)
		args := make([]interface{}, 0, len(chunk)*colCount)
		for i, f := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i*colCount + 1
			sb.WriteString(fmt.Sprintf(
				"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				base, base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
			))
			args = append(args,
				result.ScanID, start+i, f.RuleID, string(f.Category), f.Title,
				string(f.Severity), string(f.Status), f.Description, f.Fix, f.Detail,
			)
		}

		if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("failed to insert findings: %w", err)
		}
	}
	return nil
}

func (s *Postgres) ScanScore(ctx context.Context, scanID string) (types.ComplianceScore, error) {
	var score types.ComplianceScore
	err := s.pool.QueryRow(ctx, `
SELECT hostname, scan_id, ts, score, total_checks, passed, failed, errors, critical
FROM scans WHERE scan_id = $1
`, scanID).Scan(&score.Hostname, &score.ScanID, &score.Timestamp, &score.Score,
		&score.TotalChecks, &score.Passed, &score.Failed, &score.Errors, &score.Critical)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ComplianceScore{}, ErrNotFound
	}
	if err != nil {
		return types.ComplianceScore{}, fmt.Errorf("failed to load scan score: %w", err)
	}
	return score, nil
}

func (s *Postgres) TotalHosts(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM hosts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count hosts: %w", err)
	}
	return n, nil
}

func (s *Postgres) Hosts(ctx context.Context) ([]types.Host, error) {
	rows, err := s.pool.Query(ctx, `SELECT hostname, first_seen, last_seen FROM hosts ORDER BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var out []types.Host
	for rows.Next() {
		var h types.Host
		if err := rows.Scan(&h.Hostname, &h.FirstSeen, &h.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Postgres) LatestScores(ctx context.Context) ([]types.ComplianceScore, error) {
	rows, err := s.pool.Query(ctx, `
SELECT hostname, scan_id, ts, score, total_checks, passed, failed, errors, critical
FROM latest_scores ORDER BY hostname
`)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest scores: %w", err)
	}
	defer rows.Close()

	var out []types.ComplianceScore
	for rows.Next() {
		var score types.ComplianceScore
		if err := rows.Scan(&score.Hostname, &score.ScanID, &score.Timestamp, &score.Score,
			&score.TotalChecks, &score.Passed, &score.Failed, &score.Errors, &score.Critical); err != nil {
			return nil, err
		}
		out = append(out, score)
	}
	return out, rows.Err()
}

func (s *Postgres) RecentScans(ctx context.Context, n int) ([]types.RecentScan, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.pool.Query(ctx, `
SELECT hostname, ts, failed, errors FROM scans ORDER BY ts DESC LIMIT $1
`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent scans: %w", err)
	}
	defer rows.Close()

	var out []types.RecentScan
	for rows.Next() {
		var scan types.RecentScan
		var failed, errCount int
		if err := rows.Scan(&scan.Hostname, &scan.Timestamp, &failed, &errCount); err != nil {
			return nil, err
		}
		scan.Status = "pass"
		if failed > 0 || errCount > 0 {
			scan.Status = "fail"
		}
		out = append(out, scan)
	}
	return out, rows.Err()
}

func (s *Postgres) HostTrend(ctx context.Context, hostname string, days int) ([]types.TrendPoint, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM hosts WHERE hostname = $1)`, hostname).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check host: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.pool.Query(ctx, `
SELECT day::text, score FROM trend
WHERE hostname = $1 AND ($2 <= 0 OR day >= CURRENT_DATE - $2)
ORDER BY day
`, hostname, days)
	if err != nil {
		return nil, fmt.Errorf("failed to load host trend: %w", err)
	}
	defer rows.Close()

	var out []types.TrendPoint
	for rows.Next() {
		var p types.TrendPoint
		if err := rows.Scan(&p.Date, &p.Score); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) FleetTrends(ctx context.Context, days int) (map[string][]types.TrendPoint, error) {
	rows, err := s.pool.Query(ctx, `
SELECT hostname, day::text, score FROM trend
WHERE $1 <= 0 OR day >= CURRENT_DATE - $1
ORDER BY hostname, day
`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to load fleet trends: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]types.TrendPoint)
	for rows.Next() {
		var hostname string
		var p types.TrendPoint
		if err := rows.Scan(&hostname, &p.Date, &p.Score); err != nil {
			return nil, err
		}
		out[hostname] = append(out[hostname], p)
	}
	return out, rows.Err()
}

func (s *Postgres) HostResults(ctx context.Context, hostname string) ([]types.ScanResult, error) {
	rows, err := s.pool.Query(ctx, `
SELECT scan_id, hostname, ts, total_checks, passed, failed, errors
FROM scans WHERE hostname = $1 ORDER BY ts DESC
`, hostname)
	if err != nil {
		return nil, fmt.Errorf("failed to load host scans: %w", err)
	}
	defer rows.Close()

	var results []types.ScanResult
	index := make(map[string]int)
	for rows.Next() {
		var r types.ScanResult
		if err := rows.Scan(&r.ScanID, &r.Hostname, &r.Timestamp,
			&r.TotalChecks, &r.Passed, &r.Failed, &r.Errors); err != nil {
			return nil, err
		}
		index[r.ScanID] = len(results)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	frows, err := s.pool.Query(ctx, `
SELECT f.scan_id, f.rule_id, f.category, f.title, f.severity, f.status, f.description, f.fix, f.detail
FROM findings f
JOIN scans sc ON sc.scan_id = f.scan_id
WHERE sc.hostname = $1
ORDER BY f.scan_id, f.position
`, hostname)
	if err != nil {
		return nil, fmt.Errorf("failed to load findings: %w", err)
	}
	defer frows.Close()

	for frows.Next() {
		var scanID string
		var f types.Finding
		if err := frows.Scan(&scanID, &f.RuleID, &f.Category, &f.Title,
			&f.Severity, &f.Status, &f.Description, &f.Fix, &f.Detail); err != nil {
			return nil, err
		}
		if i, ok := index[scanID]; ok {
			results[i].Findings = append(results[i].Findings, f)
		}
	}
	return results, frows.Err()
}
