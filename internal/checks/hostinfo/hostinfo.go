// ABOUTME: Host state provider interface consumed by the check evaluators.
// ABOUTME: Abstracts file, user, service, and network state behind one read-only surface.

package hostinfo

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

// FileState describes one file's permission-relevant attributes.
type FileState struct {
	Exists bool
	Mode   os.FileMode // permission bits only
	Owner  string
	Group  string
}

// UserState describes one local account.
type UserState struct {
	Exists         bool
	UID            int
	GID            int
	Shell          string
	MaxPasswordAge int // days; -1 when aging is disabled or unknown
}

// ServiceState describes one system service.
type ServiceState struct {
	Present bool
	Active  bool
	Enabled bool
}

// Provider reads host state for rule evaluation. All reads are side-effect
// free; implementations must never modify the host.
type Provider interface {
	Name() string
	Hostname() string
	FileState(ctx context.Context, path string) (FileState, error)
	UserState(ctx context.Context, name string) (UserState, error)
	ServiceState(ctx context.Context, service string) (ServiceState, error)
	ListeningPorts(ctx context.Context) ([]int, error)
}

// NewProvider selects the host state provider. Mock mode avoids touching
// real host state and is meant for local development and tests.
func NewProvider(mockMode bool, logger *logrus.Logger) Provider {
	if mockMode {
		logger.Info("Using mock host state provider")
		return NewMockProvider()
	}
	return NewLocalProvider(logger)
}
