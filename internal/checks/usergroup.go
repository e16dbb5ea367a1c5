// ABOUTME: User and group policy check evaluator.
// ABOUTME: Asserts account existence, absence, and password aging limits.

package checks

import (
	"context"
	"fmt"

	"github.com/complyd/complyd/internal/catalog"
	"github.com/complyd/complyd/internal/types"
)

const (
	assertExists         = "exists"
	assertAbsent         = "absent"
	assertPasswordMaxAge = "password_max_age"
)

func (e *Executor) evalUserGroup(ctx context.Context, rule catalog.Rule) (types.Status, string, error) {
	if rule.User == "" {
		return "", "", fmt.Errorf("rule %s has no user target", rule.ID)
	}

	state, err := e.host.UserState(ctx, rule.User)
	if err != nil {
		return "", "", err
	}

	switch rule.Assert {
	case assertExists, "":
		if !state.Exists {
			return types.StatusFailed, fmt.Sprintf("required user %s does not exist", rule.User), nil
		}
		return types.StatusPassed, fmt.Sprintf("user %s exists (uid %d)", rule.User, state.UID), nil

	case assertAbsent:
		if state.Exists {
			return types.StatusFailed, fmt.Sprintf("prohibited user %s exists (uid %d)", rule.User, state.UID), nil
		}
		return types.StatusPassed, fmt.Sprintf("user %s is absent", rule.User), nil

	case assertPasswordMaxAge:
		if !state.Exists {
			return types.StatusFailed, fmt.Sprintf("user %s does not exist", rule.User), nil
		}
		if state.MaxPasswordAge < 0 || state.MaxPasswordAge > rule.MaxPasswordAge {
			return types.StatusFailed,
				fmt.Sprintf("user %s has max password age %d, limit is %d days",
					rule.User, state.MaxPasswordAge, rule.MaxPasswordAge), nil
		}
		return types.StatusPassed,
			fmt.Sprintf("user %s max password age %d within %d days",
				rule.User, state.MaxPasswordAge, rule.MaxPasswordAge), nil

	default:
		return "", "", fmt.Errorf("rule %s has unknown assertion %q", rule.ID, rule.Assert)
	}
}
