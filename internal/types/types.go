// ABOUTME: Common types shared between the complyd agent and central server.
// ABOUTME: Defines the wire model for findings, scan results, scores, and summaries.

package types

import (
	"fmt"
	"time"
)

// Severity of a rule, ordered low < medium < high.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Status is the outcome of evaluating one rule in one scan.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
	StatusError  Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusError:
		return true
	}
	return false
}

// Category identifies which evaluator a rule belongs to.
type Category string

const (
	CategoryFilePermission Category = "file_permission"
	CategoryUserGroup      Category = "user_group"
	CategoryService        Category = "service"
	CategoryNetwork        Category = "network"
)

// Categories lists all known categories in a stable order.
func Categories() []Category {
	return []Category{CategoryFilePermission, CategoryUserGroup, CategoryService, CategoryNetwork}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryFilePermission, CategoryUserGroup, CategoryService, CategoryNetwork:
		return true
	}
	return false
}

// Finding is the outcome of evaluating one rule. Immutable once created.
type Finding struct {
	RuleID      string   `json:"rule_id"`
	Category    Category `json:"category"`
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	Status      Status   `json:"status"`
	Description string   `json:"description"`
	Fix         string   `json:"fix"`
	Detail      string   `json:"detail,omitempty"` // free-form evidence
}

// ScanResult is the complete output of one scan pass on one host.
// Findings preserve catalog rule order; counts are derived at assembly time.
type ScanResult struct {
	ScanID      string    `json:"scan_id"`
	Hostname    string    `json:"hostname"`
	Timestamp   time.Time `json:"timestamp"`
	Findings    []Finding `json:"findings"`
	TotalChecks int       `json:"total_checks"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Errors      int       `json:"errors"`
}

// Recount recomputes the derived counts from the findings.
func (r *ScanResult) Recount() {
	r.TotalChecks = len(r.Findings)
	r.Passed, r.Failed, r.Errors = 0, 0, 0
	for _, f := range r.Findings {
		switch f.Status {
		case StatusPassed:
			r.Passed++
		case StatusFailed:
			r.Failed++
		case StatusError:
			r.Errors++
		}
	}
}

// Validate checks the payload shape the ingestion service requires: required
// fields present, known enum values, and counts consistent with the findings.
func (r *ScanResult) Validate() error {
	if r.ScanID == "" {
		return fmt.Errorf("scan_id is required")
	}
	if r.Hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	var passed, failed, errs int
	for i, f := range r.Findings {
		if f.RuleID == "" {
			return fmt.Errorf("finding %d: rule_id is required", i)
		}
		if !f.Severity.Valid() {
			return fmt.Errorf("finding %d: invalid severity %q", i, f.Severity)
		}
		if !f.Status.Valid() {
			return fmt.Errorf("finding %d: invalid status %q", i, f.Status)
		}
		switch f.Status {
		case StatusPassed:
			passed++
		case StatusFailed:
			failed++
		case StatusError:
			errs++
		}
	}
	if r.TotalChecks != len(r.Findings) {
		return fmt.Errorf("total_checks %d does not match %d findings", r.TotalChecks, len(r.Findings))
	}
	if passed != r.Passed || failed != r.Failed || errs != r.Errors {
		return fmt.Errorf("counts passed=%d failed=%d errors=%d do not match findings", r.Passed, r.Failed, r.Errors)
	}
	return nil
}

// Ack acknowledges an accepted (or duplicate) submission.
type Ack struct {
	Status    string  `json:"status"`
	ScanID    string  `json:"scan_id"`
	Score     float64 `json:"score"`
	Duplicate bool    `json:"duplicate,omitempty"`
}

// ComplianceScore is the derived score record for one scan. Never mutated;
// new scans append new records.
type ComplianceScore struct {
	Hostname    string    `json:"hostname"`
	ScanID      string    `json:"scan_id"`
	Timestamp   time.Time `json:"timestamp"`
	Score       float64   `json:"score"`
	TotalChecks int       `json:"total_checks"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Errors      int       `json:"errors"`
	Critical    int       `json:"critical_findings"`
}

// Host is a monitored machine known to the central server.
type Host struct {
	Hostname  string    `json:"hostname"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// TrendPoint is one day of a host or fleet compliance trend.
type TrendPoint struct {
	Date  string  `json:"date"` // yyyy-mm-dd
	Score float64 `json:"score"`
}

// RecentScan is the summary view of one scan, consumed by the dashboard.
type RecentScan struct {
	Hostname  string    `json:"hostname"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"` // "pass" or "fail"
}

// Summary is the fleet-wide dashboard payload. The field set and JSON names
// are depended on by external consumers and must remain stable.
type Summary struct {
	TotalHosts       int          `json:"total_hosts"`
	ComplianceScore  float64      `json:"compliance_score"`
	CriticalFindings int          `json:"critical_findings"`
	RecentScans      []RecentScan `json:"recent_scans"`
	ComplianceTrend  []TrendPoint `json:"compliance_trend"`
}
