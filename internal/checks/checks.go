// ABOUTME: Check executor that evaluates a single rule against host state.
// ABOUTME: Isolates per-rule failures; errors and panics become error findings.

package checks

import (
	"context"
	"fmt"

	"github.com/complyd/complyd/internal/catalog"
	"github.com/complyd/complyd/internal/checks/hostinfo"
	"github.com/complyd/complyd/internal/types"

	"github.com/sirupsen/logrus"
)

// Executor evaluates rules against a host state provider. Evaluation is
// read-only and side-effect free beyond producing the finding.
type Executor struct {
	host   hostinfo.Provider
	logger *logrus.Logger
}

// NewExecutor creates a check executor backed by the given provider.
func NewExecutor(host hostinfo.Provider, logger *logrus.Logger) *Executor {
	return &Executor{host: host, logger: logger}
}

// Evaluate runs one rule and always returns a finding. Any error or panic
// while evaluating is caught and converted to a status=error finding so one
// failing check can never abort a scan.
func (e *Executor) Evaluate(ctx context.Context, rule catalog.Rule) (finding types.Finding) {
	finding = types.Finding{
		RuleID:      rule.ID,
		Category:    rule.Category,
		Title:       rule.Title,
		Severity:    rule.Severity,
		Description: rule.Description,
		Fix:         rule.Fix,
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"rule_id": rule.ID,
				"panic":   r,
			}).Error("Check panicked")
			finding.Status = types.StatusError
			finding.Detail = fmt.Sprintf("check panicked: %v", r)
		}
	}()

	var (
		status types.Status
		detail string
		err    error
	)

	// Closed set of category evaluators, selected by the rule's tag.
	switch rule.Category {
	case types.CategoryFilePermission:
		status, detail, err = e.evalFilePermission(ctx, rule)
	case types.CategoryUserGroup:
		status, detail, err = e.evalUserGroup(ctx, rule)
	case types.CategoryService:
		status, detail, err = e.evalService(ctx, rule)
	case types.CategoryNetwork:
		status, detail, err = e.evalNetwork(ctx, rule)
	default:
		err = fmt.Errorf("no evaluator for category %q", rule.Category)
	}

	if err != nil {
		e.logger.WithError(err).WithField("rule_id", rule.ID).Warn("Check failed to evaluate")
		finding.Status = types.StatusError
		finding.Detail = err.Error()
		return finding
	}

	finding.Status = status
	finding.Detail = detail
	return finding
}
