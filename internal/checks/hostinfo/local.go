// ABOUTME: Real host state provider for Linux hosts.
// ABOUTME: Reads passwd/group/shadow, /proc net tables, and queries systemd read-only.

package hostinfo

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

// LocalProvider implements Provider against the live host. All queries are
// read-only: stat, file parsing, and `systemctl show`.
type LocalProvider struct {
	logger *logrus.Logger

	// Overridable for tests.
	passwdPath string
	shadowPath string
	tcpPaths   []string
}

// NewLocalProvider creates a provider that inspects the local host.
func NewLocalProvider(logger *logrus.Logger) *LocalProvider {
	return &LocalProvider{
		logger:     logger,
		passwdPath: "/etc/passwd",
		shadowPath: "/etc/shadow",
		tcpPaths:   []string{"/proc/net/tcp", "/proc/net/tcp6"},
	}
}

func (l *LocalProvider) Name() string {
	return "local"
}

func (l *LocalProvider) Hostname() string {
	name, err := os.Hostname()
	if err != nil {
		l.logger.WithError(err).Warn("Failed to resolve hostname")
		return "unknown"
	}
	return name
}

func (l *LocalProvider) FileState(ctx context.Context, path string) (FileState, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return FileState{Exists: false}, nil
	}
	if err != nil {
		return FileState{}, fmt.Errorf("stat %s: %w", path, err)
	}

	state := FileState{
		Exists: true,
		Mode:   info.Mode().Perm(),
	}

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return state, fmt.Errorf("stat %s: no unix metadata", path)
	}

	if u, err := user.LookupId(strconv.FormatUint(uint64(stat.Uid), 10)); err == nil {
		state.Owner = u.Username
	} else {
		state.Owner = strconv.FormatUint(uint64(stat.Uid), 10)
	}
	if g, err := user.LookupGroupId(strconv.FormatUint(uint64(stat.Gid), 10)); err == nil {
		state.Group = g.Name
	} else {
		state.Group = strconv.FormatUint(uint64(stat.Gid), 10)
	}

	return state, nil
}

func (l *LocalProvider) UserState(ctx context.Context, name string) (UserState, error) {
	entry, found, err := l.passwdEntry(name)
	if err != nil {
		return UserState{}, err
	}
	if !found {
		return UserState{Exists: false}, nil
	}

	state := UserState{
		Exists:         true,
		UID:            entry.uid,
		GID:            entry.gid,
		Shell:          entry.shell,
		MaxPasswordAge: -1,
	}

	// Shadow is root-readable only; aging stays unknown when we cannot read it.
	if maxAge, err := l.shadowMaxAge(name); err == nil {
		state.MaxPasswordAge = maxAge
	} else {
		l.logger.WithError(err).WithField("user", name).Debug("Password aging unavailable")
	}

	return state, nil
}

type passwdEntry struct {
	uid   int
	gid   int
	shell string
}

func (l *LocalProvider) passwdEntry(name string) (passwdEntry, bool, error) {
	f, err := os.Open(l.passwdPath)
	if err != nil {
		return passwdEntry{}, false, fmt.Errorf("open %s: %w", l.passwdPath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 || fields[0] != name {
			continue
		}
		uid, _ := strconv.Atoi(fields[2])
		gid, _ := strconv.Atoi(fields[3])
		return passwdEntry{uid: uid, gid: gid, shell: fields[6]}, true, nil
	}
	return passwdEntry{}, false, scanner.Err()
}

func (l *LocalProvider) shadowMaxAge(name string) (int, error) {
	f, err := os.Open(l.shadowPath)
	if err != nil {
		return -1, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ":")
		if len(fields) < 5 || fields[0] != name {
			continue
		}
		if fields[4] == "" {
			return -1, nil
		}
		maxAge, err := strconv.Atoi(fields[4])
		if err != nil {
			return -1, nil
		}
		return maxAge, nil
	}
	if err := scanner.Err(); err != nil {
		return -1, err
	}
	return -1, nil
}

func (l *LocalProvider) ServiceState(ctx context.Context, service string) (ServiceState, error) {
	cmd := exec.CommandContext(ctx, "systemctl", "show", "--property=LoadState,ActiveState,UnitFileState", service)
	out, err := cmd.Output()
	if err != nil {
		return ServiceState{}, fmt.Errorf("systemctl show %s: %w", service, err)
	}

	props := make(map[string]string, 3)
	for _, line := range strings.Split(string(out), "\n") {
		if key, value, ok := strings.Cut(strings.TrimSpace(line), "="); ok {
			props[key] = value
		}
	}

	state := ServiceState{
		Present: props["LoadState"] != "not-found" && props["LoadState"] != "",
		Active:  props["ActiveState"] == "active",
		Enabled: props["UnitFileState"] == "enabled" || props["UnitFileState"] == "enabled-runtime",
	}
	return state, nil
}

func (l *LocalProvider) ListeningPorts(ctx context.Context) ([]int, error) {
	seen := make(map[int]bool)
	var ports []int

	for _, path := range l.tcpPaths {
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}

		scanner := bufio.NewScanner(f)
		scanner.Scan() // header
		for scanner.Scan() {
			port, ok := parseListeningPort(scanner.Text())
			if ok && !seen[port] {
				seen[port] = true
				ports = append(ports, port)
			}
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	return ports, nil
}

// parseListeningPort extracts the local port from a /proc/net/tcp row when
// the socket is in LISTEN state (st == 0A).
func parseListeningPort(line string) (int, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[3] != "0A" {
		return 0, false
	}
	_, portHex, ok := strings.Cut(fields[1], ":")
	if !ok {
		return 0, false
	}
	port, err := strconv.ParseInt(portHex, 16, 32)
	if err != nil {
		return 0, false
	}
	return int(port), true
}
