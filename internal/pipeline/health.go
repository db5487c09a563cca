package pipeline

import (
	"context"
	"strconv"
	"strings"

	"github.com/jittakal/dumpshard/internal/server"
)

// Ensure implementation satisfies interface at compile time.
var _ server.HealthChecker = (*Coordinator)(nil)

// Liveness always reports true; a stuck run is detected through readiness.
func (c *Coordinator) Liveness() bool {
	return true
}

// Readiness reports whether a run is in progress and has not been aborted.
func (c *Coordinator) Readiness(ctx context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running && c.fatal == nil
}

// IsHealthy reports whether the current or last run is free of fatal errors.
func (c *Coordinator) IsHealthy() bool {
	return c.fatalErr() == nil
}

// GetStatus returns the run id and the number of files per state.
func (c *Coordinator) GetStatus() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[State]int)
	for _, r := range c.files {
		counts[r.State]++
	}

	status := map[string]string{
		"run_id":  c.runID,
		"running": strconv.FormatBool(c.running),
	}
	for _, s := range []State{StatePending, StateStreaming, StateDraining, StateDone, StateFailed, StateInterrupted} {
		status["files_"+strings.ToLower(string(s))] = strconv.Itoa(counts[s])
	}
	if c.fatal != nil {
		status["error"] = c.fatal.Error()
	}
	return status
}
