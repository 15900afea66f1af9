// Package syncutil holds small cooperative-cancellation helpers shared
// across the worker packages (radar, correlator, persister), each of
// which runs its own consume/retry loop under internal/supervisor.
package syncutil

import (
	"context"
	"time"
)

// SleepOrDone waits d or returns false early if ctx is cancelled, so a
// backoff or reconnect pause never outlives shutdown.
func SleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
