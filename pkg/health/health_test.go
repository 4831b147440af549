package health

import (
	"errors"
	"testing"

	"txlog/pkg/dberrors"
)

func TestMonitor(t *testing.T) {
	t.Run("HealthyByDefault", func(t *testing.T) {
		m := NewMonitor()
		if !m.Healthy() {
			t.Fatalf("new monitor not healthy")
		}
		if err := m.AssertHealthy(); err != nil {
			t.Fatalf("AssertHealthy = %v", err)
		}
	})

	t.Run("PanicIsSticky", func(t *testing.T) {
		m := NewMonitor()
		first := errors.New("first failure")
		m.Panic(first)
		m.Panic(errors.New("second failure"))

		if m.Healthy() {
			t.Fatalf("monitor healthy after panic")
		}
		if got := m.Cause(); got != first {
			t.Fatalf("cause = %v, want the first failure", got)
		}

		err := m.AssertHealthy()
		if !errors.Is(err, dberrors.ErrStoreUnhealthy) {
			t.Fatalf("AssertHealthy = %v", err)
		}
		if !errors.Is(err, first) {
			t.Fatalf("AssertHealthy does not wrap the cause: %v", err)
		}
	})

	t.Run("NilPanicIgnored", func(t *testing.T) {
		m := NewMonitor()
		m.Panic(nil)
		if !m.Healthy() {
			t.Fatalf("nil panic flipped the flag")
		}
	})

	t.Run("ClearRestoresHealth", func(t *testing.T) {
		m := NewMonitor()
		m.Panic(errors.New("failure"))
		m.Clear()
		if !m.Healthy() {
			t.Fatalf("monitor unhealthy after clear")
		}
	})
}
