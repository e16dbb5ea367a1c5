// ABOUTME: Service configuration check evaluator.
// ABOUTME: Verifies that services are running/stopped and enabled/disabled as required.

package checks

import (
	"context"
	"fmt"

	"github.com/complyd/complyd/internal/catalog"
	"github.com/complyd/complyd/internal/types"
)

func (e *Executor) evalService(ctx context.Context, rule catalog.Rule) (types.Status, string, error) {
	if rule.Service == "" {
		return "", "", fmt.Errorf("rule %s has no service target", rule.ID)
	}

	state, err := e.host.ServiceState(ctx, rule.Service)
	if err != nil {
		return "", "", err
	}

	switch rule.State {
	case "active":
		if !state.Present {
			return types.StatusFailed, fmt.Sprintf("required service %s is not installed", rule.Service), nil
		}
		if !state.Active {
			return types.StatusFailed, fmt.Sprintf("required service %s is not running", rule.Service), nil
		}
	case "inactive":
		// A service that is not installed cannot be running.
		if state.Present && state.Active {
			return types.StatusFailed, fmt.Sprintf("prohibited service %s is running", rule.Service), nil
		}
	case "":
		// No state assertion; only enablement below.
	default:
		return "", "", fmt.Errorf("rule %s has unknown service state %q", rule.ID, rule.State)
	}

	if rule.WantEnabled != nil && state.Present && state.Enabled != *rule.WantEnabled {
		if *rule.WantEnabled {
			return types.StatusFailed, fmt.Sprintf("service %s is not enabled at boot", rule.Service), nil
		}
		return types.StatusFailed, fmt.Sprintf("service %s is enabled at boot", rule.Service), nil
	}

	return types.StatusPassed,
		fmt.Sprintf("service %s present=%t active=%t enabled=%t",
			rule.Service, state.Present, state.Active, state.Enabled), nil
}
