// ABOUTME: Unit tests for shared wire model validation.
// ABOUTME: Validates count derivation and submission shape checks.

package types

import (
	"testing"
	"time"
)

func TestScanResult_Recount(t *testing.T) {
	result := &ScanResult{
		Findings: []Finding{
			{RuleID: "A", Status: StatusPassed},
			{RuleID: "B", Status: StatusPassed},
			{RuleID: "C", Status: StatusFailed},
			{RuleID: "D", Status: StatusError},
		},
	}
	result.Recount()

	if result.TotalChecks != 4 || result.Passed != 2 || result.Failed != 1 || result.Errors != 1 {
		t.Errorf("Recount() = total %d passed %d failed %d errors %d",
			result.TotalChecks, result.Passed, result.Failed, result.Errors)
	}
}

func TestScanResult_Validate(t *testing.T) {
	valid := func() *ScanResult {
		r := &ScanResult{
			ScanID:    "scan_20260825_120000_web-01",
			Hostname:  "web-01",
			Timestamp: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
			Findings: []Finding{
				{RuleID: "A", Severity: SeverityHigh, Status: StatusPassed},
			},
		}
		r.Recount()
		return r
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid result rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ScanResult)
	}{
		{"missing scan_id", func(r *ScanResult) { r.ScanID = "" }},
		{"missing hostname", func(r *ScanResult) { r.Hostname = "" }},
		{"zero timestamp", func(r *ScanResult) { r.Timestamp = time.Time{} }},
		{"missing rule_id", func(r *ScanResult) { r.Findings[0].RuleID = "" }},
		{"invalid severity", func(r *ScanResult) { r.Findings[0].Severity = "critical" }},
		{"invalid status", func(r *ScanResult) { r.Findings[0].Status = "skipped" }},
		{"total mismatch", func(r *ScanResult) { r.TotalChecks = 7 }},
		{"count mismatch", func(r *ScanResult) { r.Passed = 0; r.Failed = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := valid()
			tt.mutate(result)
			if err := result.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestEnums_Valid(t *testing.T) {
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh} {
		if !s.Valid() {
			t.Errorf("severity %q should be valid", s)
		}
	}
	if Severity("critical").Valid() {
		t.Error("severity critical should be invalid")
	}

	for _, s := range []Status{StatusPassed, StatusFailed, StatusError} {
		if !s.Valid() {
			t.Errorf("status %q should be valid", s)
		}
	}
	if Status("skipped").Valid() {
		t.Error("status skipped should be invalid")
	}

	for _, c := range Categories() {
		if !c.Valid() {
			t.Errorf("category %q should be valid", c)
		}
	}
	if Category("kernel_param").Valid() {
		t.Error("category kernel_param should be invalid")
	}
}
