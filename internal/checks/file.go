// ABOUTME: File permission check evaluator.
// ABOUTME: Verifies mode and ownership of critical files against the rule's target.

package checks

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/complyd/complyd/internal/catalog"
	"github.com/complyd/complyd/internal/types"
)

func (e *Executor) evalFilePermission(ctx context.Context, rule catalog.Rule) (types.Status, string, error) {
	if rule.Path == "" {
		return "", "", fmt.Errorf("rule %s has no path target", rule.ID)
	}

	state, err := e.host.FileState(ctx, rule.Path)
	if err != nil {
		return "", "", err
	}
	if !state.Exists {
		return types.StatusFailed, fmt.Sprintf("%s does not exist", rule.Path), nil
	}

	if rule.Mode != "" {
		want, err := parseOctalMode(rule.Mode)
		if err != nil {
			return "", "", fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		if state.Mode != want {
			return types.StatusFailed,
				fmt.Sprintf("%s has mode %04o, expected %04o", rule.Path, state.Mode, want), nil
		}
	}

	if rule.Owner != "" && state.Owner != rule.Owner {
		return types.StatusFailed,
			fmt.Sprintf("%s is owned by %s, expected %s", rule.Path, state.Owner, rule.Owner), nil
	}
	if rule.Group != "" && state.Group != rule.Group {
		return types.StatusFailed,
			fmt.Sprintf("%s has group %s, expected %s", rule.Path, state.Group, rule.Group), nil
	}

	return types.StatusPassed, fmt.Sprintf("%s mode %04o owner %s:%s", rule.Path, state.Mode, state.Owner, state.Group), nil
}

func parseOctalMode(mode string) (os.FileMode, error) {
	parsed, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", mode, err)
	}
	return os.FileMode(parsed).Perm(), nil
}
