package health

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"txlog/pkg/dberrors"
)

// Monitor is the process-wide health flag for one storage instance. A panic
// is sticky: once an append has failed the log is of unknown integrity and
// every later commit attempt must fail fast until recovery clears the flag.
type Monitor struct {
	cause atomic.Pointer[error]
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// Panic marks the instance unhealthy with the given cause. Only the first
// cause is kept.
func (m *Monitor) Panic(err error) {
	if err == nil {
		return
	}
	if m.cause.CompareAndSwap(nil, &err) {
		slog.Error("storage instance panicked, commits are blocked", "error", err)
	}
}

// Healthy reports whether the instance can accept writes.
func (m *Monitor) Healthy() bool {
	return m.cause.Load() == nil
}

// AssertHealthy returns an error wrapping the original panic cause if the
// instance is unhealthy.
func (m *Monitor) AssertHealthy() error {
	if cause := m.cause.Load(); cause != nil {
		return fmt.Errorf("%w: %w", dberrors.ErrStoreUnhealthy, *cause)
	}
	return nil
}

// Cause returns the first panic cause, or nil when healthy.
func (m *Monitor) Cause() error {
	if cause := m.cause.Load(); cause != nil {
		return *cause
	}
	return nil
}

// Clear resets the flag. Recovery only.
func (m *Monitor) Clear() {
	m.cause.Store(nil)
}
