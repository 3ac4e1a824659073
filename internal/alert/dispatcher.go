// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leadflow/auditlog/internal/logging"
	"github.com/leadflow/auditlog/internal/metrics"
)

const (
	// DefaultErrorThreshold is the number of error events within the
	// cooldown window that triggers an alert for a workflow.
	DefaultErrorThreshold = 10

	// DefaultCooldown is the minimum interval between alerts for the
	// same workflow.
	DefaultCooldown = 5 * time.Minute
)

// Config holds dispatcher tuning parameters.
type Config struct {
	ErrorThreshold int           `koanf:"error_threshold"`
	Cooldown       time.Duration `koanf:"cooldown"`
	SendTimeout    time.Duration `koanf:"send_timeout"`
}

// DefaultConfig returns dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: DefaultErrorThreshold,
		Cooldown:       DefaultCooldown,
		SendTimeout:    10 * time.Second,
	}
}

// workflowState tracks error accumulation for one workflow.
type workflowState struct {
	errorCount int
	lastAlert  time.Time
}

// Dispatcher counts error events per workflow and fans alerts out to the
// registered notifiers once the threshold is crossed. Sends run in
// goroutines so a slow sink never blocks the audit write path.
type Dispatcher struct {
	mu        sync.Mutex
	config    Config
	notifiers []Notifier
	workflows map[string]*workflowState
	wg        sync.WaitGroup
	closed    bool
}

// NewDispatcher creates a dispatcher. Zero or negative config values fall
// back to defaults.
func NewDispatcher(config Config) *Dispatcher {
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = DefaultErrorThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCooldown
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		config:    config,
		workflows: make(map[string]*workflowState),
	}
}

// Register adds a notifier. Disabled notifiers may be registered; they
// are skipped at dispatch time.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers = append(d.notifiers, n)
}

// Notifiers returns the registered notifiers.
func (d *Dispatcher) Notifiers() []Notifier {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Notifier, len(d.notifiers))
	copy(out, d.notifiers)
	return out
}

// ObserveError records one error event for a workflow. When the count
// reaches the threshold and the workflow is outside its cooldown window,
// an alert is dispatched and the count resets. Returns true when an
// alert was triggered.
func (d *Dispatcher) ObserveError(workflow, message string) bool {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		return false
	}

	state, ok := d.workflows[workflow]
	if !ok {
		state = &workflowState{}
		d.workflows[workflow] = state
	}
	state.errorCount++

	if state.errorCount < d.config.ErrorThreshold {
		d.mu.Unlock()
		return false
	}
	if time.Since(state.lastAlert) < d.config.Cooldown {
		d.mu.Unlock()
		return false
	}

	count := state.errorCount
	state.errorCount = 0
	state.lastAlert = time.Now()
	d.mu.Unlock()

	a := NewAlert(
		fmt.Sprintf("Error threshold exceeded: %s", workflow),
		fmt.Sprintf("%d errors observed for workflow %q; last: %s", count, workflow, message),
		workflow,
		count,
	)
	d.Dispatch(a)
	return true
}

// Dispatch fans an alert out to all enabled notifiers asynchronously.
func (d *Dispatcher) Dispatch(alert *Alert) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	notifiers := make([]Notifier, len(d.notifiers))
	copy(notifiers, d.notifiers)
	timeout := d.config.SendTimeout
	d.mu.Unlock()

	for _, n := range notifiers {
		if !n.Enabled() {
			continue
		}
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := n.Send(ctx, alert); err != nil {
				metrics.AlertsFailed.WithLabelValues(n.Name()).Inc()
				logging.Warn().
					Err(err).
					Str("notifier", n.Name()).
					Str("alert_id", alert.ID).
					Msg("Alert delivery failed")
				return
			}
			metrics.AlertsSent.WithLabelValues(n.Name()).Inc()
			logging.Debug().
				Str("notifier", n.Name()).
				Str("alert_id", alert.ID).
				Msg("Alert delivered")
		}(n)
	}
}

// ErrorCount returns the current accumulated error count for a workflow.
func (d *Dispatcher) ErrorCount(workflow string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if state, ok := d.workflows[workflow]; ok {
		return state.errorCount
	}
	return 0
}

// Close waits for in-flight sends to finish. Further observations and
// dispatches become no-ops.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
}
