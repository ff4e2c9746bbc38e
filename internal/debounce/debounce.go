// Package debounce provides a per-key trailing-edge debouncer: each new
// trigger for a key cancels the key's scheduled task and starts the quiet
// period over, so the task runs once per burst, after the last trigger.
package debounce

import (
	"sync"
	"time"
)

type Debouncer[K comparable] struct {
	window time.Duration

	mu     sync.Mutex
	timers map[K]*time.Timer
	wg     sync.WaitGroup
}

func New[K comparable](window time.Duration) *Debouncer[K] {
	return &Debouncer[K]{
		window: window,
		timers: make(map[K]*time.Timer),
	}
}

// Trigger schedules fn to run after the quiet period. A pending task for
// the same key is cancelled first; at most one scheduled task per key is
// ever live. A task that has already started firing cannot be cancelled
// and will run to completion.
func (d *Debouncer[K]) Trigger(key K, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.timers[key]; ok && timer.Stop() {
		d.wg.Done()
	}
	d.wg.Add(1)
	var self *time.Timer
	self = time.AfterFunc(d.window, func() {
		defer d.wg.Done()
		d.mu.Lock()
		// Only clear the registry slot if it is still ours; a concurrent
		// Trigger may have installed a replacement before we got the lock.
		if d.timers[key] == self {
			delete(d.timers, key)
		}
		d.mu.Unlock()
		fn()
	})
	d.timers[key] = self
}

// Cancel drops the scheduled task for key, if any. Idempotent.
func (d *Debouncer[K]) Cancel(key K) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timer, ok := d.timers[key]; ok {
		if timer.Stop() {
			d.wg.Done()
		}
		delete(d.timers, key)
	}
}

// Pending reports whether a task is scheduled for key.
func (d *Debouncer[K]) Pending(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[key]
	return ok
}

// Stop cancels every scheduled task. Tasks already firing run to
// completion; Stop does not wait for them.
func (d *Debouncer[K]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, timer := range d.timers {
		if timer.Stop() {
			d.wg.Done()
		}
		delete(d.timers, key)
	}
}

// Wait blocks until every scheduled or in-flight task has finished. Only
// meaningful once no new triggers are arriving; used for teardown.
func (d *Debouncer[K]) Wait() {
	d.wg.Wait()
}
