// ABOUTME: Network security check evaluator.
// ABOUTME: Verifies that prohibited ports are closed and required ports are listening.

package checks

import (
	"context"
	"fmt"

	"github.com/complyd/complyd/internal/catalog"
	"github.com/complyd/complyd/internal/types"
)

func (e *Executor) evalNetwork(ctx context.Context, rule catalog.Rule) (types.Status, string, error) {
	if rule.Port <= 0 {
		return "", "", fmt.Errorf("rule %s has no port target", rule.ID)
	}

	ports, err := e.host.ListeningPorts(ctx)
	if err != nil {
		return "", "", err
	}

	listening := false
	for _, p := range ports {
		if p == rule.Port {
			listening = true
			break
		}
	}

	switch rule.PortState {
	case "closed", "":
		if listening {
			return types.StatusFailed, fmt.Sprintf("port %d is listening", rule.Port), nil
		}
		return types.StatusPassed, fmt.Sprintf("port %d is closed", rule.Port), nil
	case "open":
		if !listening {
			return types.StatusFailed, fmt.Sprintf("port %d is not listening", rule.Port), nil
		}
		return types.StatusPassed, fmt.Sprintf("port %d is listening", rule.Port), nil
	default:
		return "", "", fmt.Errorf("rule %s has unknown port state %q", rule.ID, rule.PortState)
	}
}
