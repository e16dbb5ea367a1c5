// ABOUTME: Submission client delivering scan results to the central server.
// ABOUTME: At-least-once delivery via the spool, jittered exponential backoff, idempotent acks.

package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/complyd/complyd/internal/types"

	"github.com/sirupsen/logrus"
)

// TerminalError is a per-request refusal (Unauthorized, Forbidden,
// BadRequest). Retrying an invalid request wastes effort; the item is
// rejected from the queue and surfaced as a local bug instead.
type TerminalError struct {
	StatusCode int
	Message    string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("submission refused: %d %s", e.StatusCode, e.Message)
}

// Config holds submission client settings.
type Config struct {
	ServerURL     string
	APIKey        string
	SpoolDir      string
	Timeout       time.Duration // per HTTP attempt
	RetryBase     time.Duration // backoff base, doubles per attempt
	RetryCap      time.Duration // backoff ceiling
	MaxAttempts   int           // per item per drain pass; exhaustion keeps it spooled
	DrainInterval time.Duration
}

// Client delivers spooled scan results to the central server. Delivery is
// at-least-once: results stay on disk until the server acknowledges them,
// and duplicate acks count as success.
type Client struct {
	config Config
	queue  *Queue
	http   *http.Client
	logger *logrus.Logger
	nudge  chan struct{}
}

// NewClient creates a submission client with a durable spool at SpoolDir.
func NewClient(config Config, logger *logrus.Logger) (*Client, error) {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RetryBase <= 0 {
		config.RetryBase = 10 * time.Second
	}
	if config.RetryCap <= 0 {
		config.RetryCap = 5 * time.Minute
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = time.Minute
	}

	queue, err := NewQueue(config.SpoolDir, logger)
	if err != nil {
		return nil, err
	}

	return &Client{
		config: config,
		queue:  queue,
		http:   &http.Client{Timeout: config.Timeout},
		logger: logger,
		nudge:  make(chan struct{}, 1),
	}, nil
}

// Queue exposes the underlying spool, mainly for tests and status reporting.
func (c *Client) Queue() *Queue {
	return c.queue
}

// Enqueue spools a result and nudges the drain loop. Durable before fast:
// the scan loop is decoupled from delivery entirely.
func (c *Client) Enqueue(result *types.ScanResult) error {
	if err := c.queue.Put(result); err != nil {
		return err
	}
	select {
	case c.nudge <- struct{}{}:
	default:
	}
	return nil
}

// Start runs the drain loop until ctx is cancelled. Anything left spooled
// when the budget runs out is picked up on the next pass or process start.
func (c *Client) Start(ctx context.Context) {
	logger := c.logger.WithField("component", "submission_client")

	c.Drain(ctx)

	ticker := time.NewTicker(c.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Submission client stopping")
			return
		case <-ticker.C:
			c.Drain(ctx)
		case <-c.nudge:
			c.Drain(ctx)
		}
	}
}

// Drain attempts delivery of every spooled item once through the backoff
// budget. Acknowledged items are removed, terminal refusals are rejected,
// everything else stays queued.
func (c *Client) Drain(ctx context.Context) {
	logger := c.logger.WithField("operation", "drain_spool")

	items, err := c.queue.List()
	if err != nil {
		logger.WithError(err).Error("Failed to list spool")
		return
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return
		}

		ack, err := c.submitWithRetry(ctx, item.Result)
		if err == nil {
			if err := c.queue.Remove(item); err != nil {
				logger.WithError(err).WithField("scan_id", item.Result.ScanID).Error("Failed to remove acknowledged item")
			}
			logger.WithFields(logrus.Fields{
				"scan_id":   ack.ScanID,
				"score":     ack.Score,
				"duplicate": ack.Duplicate,
			}).Info("Scan result acknowledged")
			continue
		}

		var terminal *TerminalError
		if errors.As(err, &terminal) {
			// Unauthorized/Forbidden/BadRequest: a local bug or misconfiguration,
			// not a transient condition. Do not retry.
			logger.WithError(err).WithField("scan_id", item.Result.ScanID).Error("Submission terminally refused")
			if err := c.queue.Reject(item); err != nil {
				logger.WithError(err).Error("Failed to move rejected item aside")
			}
			continue
		}

		logger.WithError(err).WithField("scan_id", item.Result.ScanID).Warn("Submission failed, item stays spooled")
	}
}

// submitWithRetry runs the bounded jittered-backoff loop for one item.
func (c *Client) submitWithRetry(ctx context.Context, result *types.ScanResult) (*types.Ack, error) {
	var lastErr error
	delay := c.config.RetryBase

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		ack, err := c.submitOnce(ctx, result)
		if err == nil {
			return ack, nil
		}
		lastErr = err

		var terminal *TerminalError
		if errors.As(err, &terminal) {
			return nil, err
		}
		if attempt == c.config.MaxAttempts || ctx.Err() != nil {
			break
		}

		// Jittered exponential backoff: delay + random(0, delay/2), capped.
		jitter := time.Duration(rand.Int63n(int64(delay/2) + 1))
		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(delay + jitter):
		}
		delay *= 2
		if delay > c.config.RetryCap {
			delay = c.config.RetryCap
		}
	}
	return nil, lastErr
}

// submitOnce performs a single authenticated POST of the full payload.
// The payload is all-or-nothing; no partial result is ever sent.
func (c *Client) submitOnce(ctx context.Context, result *types.ScanResult) (*types.Ack, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return nil, &TerminalError{StatusCode: 0, Message: "failed to encode payload: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.ServerURL+"/api/v1/results", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submission request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var ack types.Ack
		if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
			return nil, fmt.Errorf("failed to decode ack: %w", err)
		}
		return &ack, nil
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &TerminalError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	default:
		// Timeouts, 5xx, and anything unexpected are retryable.
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
}
