// Package monitor tracks the health of background jobs and storage usage
// for the health endpoint.
package monitor

import (
	"sync"
	"time"
)

// RollupMonitor tracks the health of the scheduled retention job (the
// coarsen-and-delete pass across resolution tiers).
type RollupMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// RecordSuccess records a completed retention pass.
func (rm *RollupMonitor) RecordSuccess() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.lastSuccess = time.Now()
	rm.lastAttempt = time.Now()
	rm.consecutiveErrors = 0
	rm.lastError = ""
}

// RecordFailure records a failed retention pass.
func (rm *RollupMonitor) RecordFailure(err error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.lastAttempt = time.Now()
	rm.consecutiveErrors++
	if err != nil {
		rm.lastError = err.Error()
	}
}

// IsHealthy reports whether retention is keeping up. Unhealthy when it
// never succeeded, hasn't succeeded in over two scheduling intervals, or
// has failed more than 3 times in a row.
func (rm *RollupMonitor) IsHealthy() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.healthyLocked()
}

func (rm *RollupMonitor) healthyLocked() bool {
	if rm.lastSuccess.IsZero() {
		return false
	}
	if time.Since(rm.lastSuccess) > 2*time.Hour {
		return false
	}
	if rm.consecutiveErrors > 3 {
		return false
	}
	return true
}

// RollupStatus is the retention-job section of the health response.
type RollupStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns the retention job's current status for health checks.
func (rm *RollupMonitor) Status() RollupStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	status := RollupStatus{
		Healthy: rm.healthyLocked(),
	}
	if !rm.lastSuccess.IsZero() {
		status.LastSuccess = rm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(rm.lastSuccess).String()
	}
	if !rm.lastAttempt.IsZero() {
		status.LastAttempt = rm.lastAttempt.Format(time.RFC3339)
	}
	if rm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = rm.consecutiveErrors
		status.LastError = rm.lastError
	}
	return status
}
