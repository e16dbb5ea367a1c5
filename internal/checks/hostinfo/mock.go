// ABOUTME: Mock host state provider for local development and tests.
// ABOUTME: Serves canned file, user, service, and port state without touching the host.

package hostinfo

import (
	"context"
	"errors"
	"os"
)

// MockProvider implements Provider from in-memory maps. Zero-value maps mean
// "nothing exists"; Fail* fields inject errors for isolation tests.
type MockProvider struct {
	HostnameValue string
	Files         map[string]FileState
	Users         map[string]UserState
	Services      map[string]ServiceState
	Ports         []int

	FailFiles    bool
	FailUsers    bool
	FailServices bool
	FailPorts    bool
}

// NewMockProvider returns a mock with a small, self-consistent host fixture.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		HostnameValue: "mock-host",
		Files: map[string]FileState{
			"/etc/passwd":          {Exists: true, Mode: os.FileMode(0o644), Owner: "root", Group: "root"},
			"/etc/shadow":          {Exists: true, Mode: os.FileMode(0o640), Owner: "root", Group: "shadow"},
			"/etc/ssh/sshd_config": {Exists: true, Mode: os.FileMode(0o644), Owner: "root", Group: "root"},
			"/etc/sudoers":         {Exists: true, Mode: os.FileMode(0o440), Owner: "root", Group: "root"},
		},
		Users: map[string]UserState{
			"root":  {Exists: true, UID: 0, GID: 0, Shell: "/bin/bash", MaxPasswordAge: -1},
			"games": {Exists: true, UID: 5, GID: 60, Shell: "/usr/sbin/nologin", MaxPasswordAge: -1},
		},
		Services: map[string]ServiceState{
			"sshd":   {Present: true, Active: true, Enabled: true},
			"auditd": {Present: true, Active: false, Enabled: false},
			"telnet": {Present: false},
		},
		Ports: []int{22, 9190},
	}
}

func (m *MockProvider) Name() string {
	return "mock"
}

func (m *MockProvider) Hostname() string {
	if m.HostnameValue == "" {
		return "mock-host"
	}
	return m.HostnameValue
}

func (m *MockProvider) FileState(ctx context.Context, path string) (FileState, error) {
	if m.FailFiles {
		return FileState{}, errors.New("mock file state failure")
	}
	return m.Files[path], nil
}

func (m *MockProvider) UserState(ctx context.Context, name string) (UserState, error) {
	if m.FailUsers {
		return UserState{}, errors.New("mock user state failure")
	}
	return m.Users[name], nil
}

func (m *MockProvider) ServiceState(ctx context.Context, service string) (ServiceState, error) {
	if m.FailServices {
		return ServiceState{}, errors.New("mock service state failure")
	}
	return m.Services[service], nil
}

func (m *MockProvider) ListeningPorts(ctx context.Context) ([]int, error) {
	if m.FailPorts {
		return nil, errors.New("mock port listing failure")
	}
	return m.Ports, nil
}
