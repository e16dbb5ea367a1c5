// ABOUTME: Scan orchestrator that runs full rule sweeps on a schedule.
// ABOUTME: Bounded-parallel check dispatch with ordered findings and an overlap guard.

package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/complyd/complyd/internal/catalog"
	"github.com/complyd/complyd/internal/checks"
	"github.com/complyd/complyd/internal/checks/hostinfo"
	"github.com/complyd/complyd/internal/types"

	"github.com/sirupsen/logrus"
)

// State of the orchestrator, for logging and introspection.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateAssembling State = "assembling"
	StateSubmitting State = "submitting"
)

// Submitter receives assembled scan results. Enqueue must be fast and
// durable; delivery happens on the submitter's own schedule so a slow
// network never stalls the next scan.
type Submitter interface {
	Enqueue(result *types.ScanResult) error
}

// Config holds orchestrator settings.
type Config struct {
	Interval    time.Duration
	Parallelism int // max concurrent checks; checks are read-only and independent
}

// Orchestrator runs periodic scans: pulls enabled rules from the catalog,
// dispatches each to the executor, and hands one immutable ScanResult to
// the submitter.
type Orchestrator struct {
	catalog  *catalog.Catalog
	executor *checks.Executor
	host     hostinfo.Provider
	submit   Submitter
	config   Config
	logger   *logrus.Logger

	trigger chan struct{}

	mu        sync.Mutex
	state     State
	last      *types.ScanResult
	lastStamp string // scan id collision guard
	lastSeq   int
}

// NewOrchestrator creates a scan orchestrator.
func NewOrchestrator(cat *catalog.Catalog, executor *checks.Executor, host hostinfo.Provider, submit Submitter, config Config, logger *logrus.Logger) *Orchestrator {
	if config.Parallelism <= 0 {
		config.Parallelism = 4
	}
	return &Orchestrator{
		catalog:  cat,
		executor: executor,
		host:     host,
		submit:   submit,
		config:   config,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		state:    StateIdle,
	}
}

// State returns the current orchestrator state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastResult returns the most recently completed scan result, or nil before
// the first scan finishes. The result is shared and must not be mutated.
func (o *Orchestrator) LastResult() *types.ScanResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Trigger requests an immediate scan. Non-blocking; a trigger while a scan
// is running or already pending is dropped.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Start runs the scan loop until ctx is cancelled. An initial scan runs
// immediately, then on every interval tick or manual trigger.
func (o *Orchestrator) Start(ctx context.Context) {
	logger := o.logger.WithField("component", "scan_orchestrator")

	o.runScan(ctx)

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	logger.WithField("interval", o.config.Interval).Info("Starting periodic scanning")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scan orchestrator stopping")
			return
		case <-ticker.C:
			o.runScan(ctx)
		case <-o.trigger:
			o.runScan(ctx)
		}
	}
}

// runScan executes one scan pass with the overlap guard: if a scan is
// already running the tick is dropped, since a second concurrent scan of
// the same host state yields nothing new.
func (o *Orchestrator) runScan(ctx context.Context) {
	if !o.begin() {
		o.logger.Warn("Scan already in progress, dropping tick")
		return
	}
	defer o.setState(StateIdle)

	logger := o.logger.WithField("operation", "scan")
	startTime := time.Now()

	result, err := o.Scan(ctx)
	if err != nil {
		// Cancelled mid-scan: the partial result is discarded, never submitted.
		logger.WithError(err).Warn("Scan abandoned")
		return
	}

	o.setState(StateSubmitting)
	if err := o.submit.Enqueue(result); err != nil {
		logger.WithError(err).WithField("scan_id", result.ScanID).Error("Failed to enqueue scan result")
		return
	}

	logger.WithFields(logrus.Fields{
		"scan_id":      result.ScanID,
		"duration":     time.Since(startTime),
		"total_checks": result.TotalChecks,
		"passed":       result.Passed,
		"failed":       result.Failed,
		"errors":       result.Errors,
	}).Info("Scan completed")
}

// Scan evaluates all enabled rules and assembles one ScanResult. Checks run
// with bounded parallelism; findings land in a slice indexed by rule position
// so the output order matches catalog order regardless of completion order.
func (o *Orchestrator) Scan(ctx context.Context) (*types.ScanResult, error) {
	rules := o.catalog.EnabledRules()
	timestamp := time.Now().UTC()

	o.logger.WithField("rule_count", len(rules)).Debug("Dispatching checks")

	findings := make([]types.Finding, len(rules))
	semaphore := make(chan struct{}, o.config.Parallelism)
	var wg sync.WaitGroup

	for i, rule := range rules {
		wg.Add(1)
		go func(i int, rule catalog.Rule) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if ctx.Err() != nil {
				return
			}
			findings[i] = o.executor.Evaluate(ctx, rule)
		}(i, rule)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan cancelled: %w", err)
	}

	o.setState(StateAssembling)
	result := &types.ScanResult{
		ScanID:    o.newScanID(o.host.Hostname(), timestamp),
		Hostname:  o.host.Hostname(),
		Timestamp: timestamp,
		Findings:  findings,
	}
	result.Recount()

	o.mu.Lock()
	o.last = result
	o.mu.Unlock()
	return result, nil
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return false
	}
	o.state = StateScanning
	return true
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// newScanID derives a unique, monotonic scan id from hostname and timestamp.
// Two scans landing in the same clock second get a sequence suffix.
func (o *Orchestrator) newScanID(hostname string, ts time.Time) string {
	stamp := ts.Format("20060102_150405")

	o.mu.Lock()
	defer o.mu.Unlock()
	if stamp == o.lastStamp {
		o.lastSeq++
		return fmt.Sprintf("scan_%s_%s_%d", stamp, hostname, o.lastSeq)
	}
	o.lastStamp = stamp
	o.lastSeq = 0
	return fmt.Sprintf("scan_%s_%s", stamp, hostname)
}
