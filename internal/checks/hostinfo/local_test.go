// ABOUTME: Unit tests for the local host state provider.
// ABOUTME: Validates passwd/shadow parsing and /proc net table port extraction.

package hostinfo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPasswd = `root:x:0:0:root:/root:/bin/bash
daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin
games:x:5:60:games:/usr/games:/usr/sbin/nologin
`

const testShadow = `root:*:19000:0:99999:7:::
daemon:*:19000:0::7:::
games:*:19000:0:90:7:::
`

// /proc/net/tcp format: sl local_address rem_address st ...
const testProcTCP = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 00000000:0016 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 100 1 0000000000000000 100 0 0 10 0
   1: 0100007F:0CEA 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 101 1 0000000000000000 100 0 0 10 0
   2: 0100007F:9C40 0100007F:0016 01 00000000:00000000 00:00000000 00000000     0        0 102 1 0000000000000000 100 0 0 10 0
`

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func fixtureProvider(t *testing.T) *LocalProvider {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	provider := NewLocalProvider(logger)
	provider.passwdPath = writeFixture(t, "passwd", testPasswd)
	provider.shadowPath = writeFixture(t, "shadow", testShadow)
	provider.tcpPaths = []string{writeFixture(t, "tcp", testProcTCP)}
	return provider
}

func TestLocalProvider_UserState(t *testing.T) {
	provider := fixtureProvider(t)

	state, err := provider.UserState(context.Background(), "games")
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.Equal(t, 5, state.UID)
	assert.Equal(t, 60, state.GID)
	assert.Equal(t, "/usr/sbin/nologin", state.Shell)
	assert.Equal(t, 90, state.MaxPasswordAge)
}

func TestLocalProvider_UserState_NoAgingLimit(t *testing.T) {
	provider := fixtureProvider(t)

	state, err := provider.UserState(context.Background(), "daemon")
	require.NoError(t, err)
	assert.True(t, state.Exists)
	// Empty max-age field in shadow means no limit configured.
	assert.Equal(t, -1, state.MaxPasswordAge)
}

func TestLocalProvider_UserState_Absent(t *testing.T) {
	provider := fixtureProvider(t)

	state, err := provider.UserState(context.Background(), "toor")
	require.NoError(t, err)
	assert.False(t, state.Exists)
}

func TestLocalProvider_UserState_UnreadableShadow(t *testing.T) {
	provider := fixtureProvider(t)
	provider.shadowPath = filepath.Join(t.TempDir(), "missing")

	// Shadow unavailable (non-root): the user still resolves, aging unknown.
	state, err := provider.UserState(context.Background(), "root")
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.Equal(t, -1, state.MaxPasswordAge)
}

func TestLocalProvider_ListeningPorts(t *testing.T) {
	provider := fixtureProvider(t)

	ports, err := provider.ListeningPorts(context.Background())
	require.NoError(t, err)
	// 0x16 = 22, 0xCEA = 3306; the established row (st 01) is ignored.
	assert.Equal(t, []int{22, 3306}, ports)
}

func TestLocalProvider_ListeningPorts_MissingTable(t *testing.T) {
	provider := fixtureProvider(t)
	provider.tcpPaths = append(provider.tcpPaths, filepath.Join(t.TempDir(), "tcp6"))

	// A missing table (no IPv6) is not an error.
	ports, err := provider.ListeningPorts(context.Background())
	require.NoError(t, err)
	assert.Len(t, ports, 2)
}

func TestLocalProvider_FileState(t *testing.T) {
	provider := fixtureProvider(t)
	path := writeFixture(t, "target", "x")
	require.NoError(t, os.Chmod(path, 0o640))

	state, err := provider.FileState(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.Equal(t, os.FileMode(0o640), state.Mode)
	assert.NotEmpty(t, state.Owner)

	missing, err := provider.FileState(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.False(t, missing.Exists)
}

func TestParseListeningPort(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantPort int
		wantOK   bool
	}{
		{
			name:     "listening socket",
			line:     "0: 00000000:0016 00000000:0000 0A 00000000:00000000 00:00000000 00000000 0 0 100",
			wantPort: 22,
			wantOK:   true,
		},
		{
			name:   "established socket",
			line:   "2: 0100007F:9C40 0100007F:0016 01 00000000:00000000 00:00000000 00000000 0 0 102",
			wantOK: false,
		},
		{
			name:   "short line",
			line:   "garbage",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, ok := parseListeningPort(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantPort, port)
			}
		})
	}
}

func TestNewProvider_Factory(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	assert.Equal(t, "mock", NewProvider(true, logger).Name())
	assert.Equal(t, "local", NewProvider(false, logger).Name())
}
