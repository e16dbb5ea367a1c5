// ABOUTME: API key set for authenticating agent submissions and dashboard reads.
// ABOUTME: Loaded from YAML, cached in memory, refreshed off the ingest hot path.

package apikeys

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Permissions recognized by the central server.
const (
	PermSubmitResults = "submit_results"
	PermViewResults   = "view_results"
)

// Key is one configured API key. Read-only to the server.
type Key struct {
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// Has reports whether the key carries the given permission.
func (k Key) Has(permission string) bool {
	for _, p := range k.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

type keysFile struct {
	APIKeys map[string]Key `yaml:"api_keys"`
}

// Set is the in-memory key cache. Lookups take a read lock only; the
// periodic refresh swaps the map without blocking ingestion.
type Set struct {
	path     string
	interval time.Duration
	logger   *logrus.Logger

	mu   sync.RWMutex
	keys map[string]Key
}

// Load reads the key file. The initial load must succeed; an unreadable key
// set at boot is fatal to the caller.
func Load(path string, refreshInterval time.Duration, logger *logrus.Logger) (*Set, error) {
	s := &Set{path: path, interval: refreshInterval, logger: logger}
	keys, err := s.read()
	if err != nil {
		return nil, err
	}
	s.keys = keys
	logger.WithField("key_count", len(keys)).Info("Loaded API key set")
	return s, nil
}

// NewStatic builds a set from a fixed map, for tests and embedded use.
func NewStatic(keys map[string]Key, logger *logrus.Logger) *Set {
	return &Set{keys: keys, logger: logger}
}

// Lookup resolves a presented key value.
func (s *Set) Lookup(value string) (Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[value]
	return key, ok
}

// Start refreshes the set periodically until ctx is cancelled. A failed
// refresh keeps the previous set and logs; it never evicts working keys.
func (s *Set) Start(ctx context.Context) {
	if s.interval <= 0 || s.path == "" {
		return
	}
	logger := s.logger.WithField("component", "apikey_refresh")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			keys, err := s.read()
			if err != nil {
				logger.WithError(err).Error("API key refresh failed, keeping previous set")
				continue
			}
			s.mu.Lock()
			s.keys = keys
			s.mu.Unlock()
			logger.WithField("key_count", len(keys)).Debug("Refreshed API key set")
		}
	}
}

func (s *Set) read() (map[string]Key, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read API key file %q: %w", s.path, err)
	}
	var file keysFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse API key file: %w", err)
	}
	if file.APIKeys == nil {
		file.APIKeys = make(map[string]Key)
	}
	return file.APIKeys, nil
}
