package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTriggerFiresOncePerBurst(t *testing.T) {
	d := New[string](30 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int32
	for i := 0; i < 10; i++ {
		d.Trigger("cell", func() { fired.Add(1) })
		time.Sleep(2 * time.Millisecond)
	}
	d.Wait()

	if got := fired.Load(); got != 1 {
		t.Fatalf("expected exactly 1 fire for the burst, got %d", got)
	}
}

func TestTriggerIndependentKeys(t *testing.T) {
	d := New[string](10 * time.Millisecond)
	defer d.Stop()

	var a, b atomic.Int32
	d.Trigger("a", func() { a.Add(1) })
	d.Trigger("b", func() { b.Add(1) })
	d.Wait()

	if a.Load() != 1 || b.Load() != 1 {
		t.Fatalf("expected both keys to fire once, got a=%d b=%d", a.Load(), b.Load())
	}
}

func TestCancelPreventsFire(t *testing.T) {
	d := New[string](20 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int32
	d.Trigger("cell", func() { fired.Add(1) })
	d.Cancel("cell")
	// Idempotent: cancelling an absent key is a no-op.
	d.Cancel("cell")
	d.Wait()

	if fired.Load() != 0 {
		t.Fatalf("cancelled task fired %d times", fired.Load())
	}
	if d.Pending("cell") {
		t.Fatal("cell still pending after cancel")
	}
}

func TestPendingLifecycle(t *testing.T) {
	d := New[string](15 * time.Millisecond)
	defer d.Stop()

	d.Trigger("cell", func() {})
	if !d.Pending("cell") {
		t.Fatal("expected pending right after trigger")
	}
	d.Wait()
	if d.Pending("cell") {
		t.Fatal("expected not pending after fire")
	}
}

func TestStopCancelsAll(t *testing.T) {
	d := New[int](25 * time.Millisecond)

	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		d.Trigger(i, func() { fired.Add(1) })
	}
	d.Stop()
	d.Wait()

	if fired.Load() != 0 {
		t.Fatalf("expected no fires after Stop, got %d", fired.Load())
	}
}

func TestRetriggerRunsLatestTask(t *testing.T) {
	d := New[string](15 * time.Millisecond)
	defer d.Stop()

	var value atomic.Int32
	d.Trigger("cell", func() { value.Store(1) })
	d.Trigger("cell", func() { value.Store(2) })
	d.Wait()

	if value.Load() != 2 {
		t.Fatalf("expected the rescheduled task to run, got value=%d", value.Load())
	}
}
