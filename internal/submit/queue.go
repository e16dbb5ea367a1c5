// ABOUTME: Durable on-disk queue of pending scan result submissions.
// ABOUTME: One JSON file per result; survives restarts and offline periods.

package submit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/complyd/complyd/internal/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const rejectedDir = "rejected"

// Queue spools scan results to a directory until they are acknowledged.
type Queue struct {
	dir    string
	logger *logrus.Logger
}

// Item is one spooled submission.
type Item struct {
	Path   string
	Result *types.ScanResult
}

// NewQueue opens (and creates if needed) the spool directory.
func NewQueue(dir string, logger *logrus.Logger) (*Queue, error) {
	if err := os.MkdirAll(filepath.Join(dir, rejectedDir), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create spool dir %q: %w", dir, err)
	}
	return &Queue{dir: dir, logger: logger}, nil
}

// Put persists a result to the spool. The write is atomic (temp file +
// rename) so a crash never leaves a half-written submission behind.
func (q *Queue) Put(result *types.ScanResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode scan result: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", result.ScanID, uuid.NewString())
	tmp := filepath.Join(q.dir, "."+name+".tmp")
	final := filepath.Join(q.dir, name)

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write spool file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("failed to commit spool file: %w", err)
	}

	q.logger.WithFields(logrus.Fields{
		"scan_id": result.ScanID,
		"file":    name,
	}).Debug("Spooled scan result")
	return nil
}

// List returns all spooled items, oldest file name first. Unreadable files
// are skipped with a warning rather than blocking the queue.
func (q *Queue) List() ([]Item, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool dir: %w", err)
	}

	var items []Item
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(q.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			q.logger.WithError(err).WithField("file", entry.Name()).Warn("Skipping unreadable spool file")
			continue
		}
		var result types.ScanResult
		if err := json.Unmarshal(data, &result); err != nil {
			q.logger.WithError(err).WithField("file", entry.Name()).Warn("Skipping corrupt spool file")
			continue
		}
		items = append(items, Item{Path: path, Result: &result})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}

// Remove deletes an acknowledged item.
func (q *Queue) Remove(item Item) error {
	return os.Remove(item.Path)
}

// Reject moves a terminally refused item aside so it is never retried but
// stays available for inspection.
func (q *Queue) Reject(item Item) error {
	dest := filepath.Join(q.dir, rejectedDir, filepath.Base(item.Path))
	return os.Rename(item.Path, dest)
}

// Len returns the number of pending items.
func (q *Queue) Len() (int, error) {
	items, err := q.List()
	if err != nil {
		return 0, err
	}
	return len(items), nil
}
