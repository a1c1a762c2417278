// Package timerwheel provides the named, cancellable one-shot/periodic
// timer API of spec §2 (C3): schedule(name, delay, periodic?, callback) and
// cancel(handle). Adapted from timer/timer.go's time.AfterFunc wrapper,
// generalized from a single anonymous timer to a named registry so
// components can look up, reset or cancel a neighbor's inactivity timer
// (etc.) by name instead of holding the *Timer itself everywhere.
package timerwheel

import (
	"math/rand"
	"sync"
	"time"
)

// Handle identifies a scheduled timer for cancellation.
type Handle uint64

// Wheel is a per-component registry of named timers. Every engine
// (OSPF neighbor, IS-IS adjacency, BGP FSM) owns one Wheel.
type Wheel struct {
	mu      sync.Mutex
	timers  map[Handle]*entry
	byName  map[string]Handle
	nextID  Handle
	jitter  bool
	closing bool
}

type entry struct {
	name     string
	periodic bool
	delay    time.Duration
	timer    *time.Timer
	cb       func()
	stopped  bool
}

// New creates an empty wheel. When jitter is true, periodic timers apply
// uniform jitter in [-0.25*delay, +0.25*delay] per spec §4.3.
func New(jitter bool) *Wheel {
	return &Wheel{
		timers: make(map[Handle]*entry),
		byName: make(map[string]Handle),
		jitter: jitter,
	}
}

func (w *Wheel) jittered(d time.Duration) time.Duration {
	if !w.jitter || d <= 0 {
		return d
	}
	q := float64(d) * 0.25
	offset := (rand.Float64()*2 - 1) * q
	return d + time.Duration(offset)
}

// Schedule starts a new timer under name, replacing any prior timer with
// the same name. Resolution is bounded only by the Go runtime timer,
// well under the 100ms timer-granularity requirement every engine in
// this tree relies on.
func (w *Wheel) Schedule(name string, delay time.Duration, periodic bool, cb func()) Handle {
	w.mu.Lock()
	defer w.mu.Unlock()

	if h, ok := w.byName[name]; ok {
		w.cancelLocked(h)
	}

	w.nextID++
	h := w.nextID
	e := &entry{name: name, periodic: periodic, delay: delay, cb: cb}
	e.timer = time.AfterFunc(w.jittered(delay), func() { w.fire(h) })
	w.timers[h] = e
	w.byName[name] = h
	return h
}

func (w *Wheel) fire(h Handle) {
	w.mu.Lock()
	e, ok := w.timers[h]
	if !ok || e.stopped {
		w.mu.Unlock()
		return
	}
	if e.periodic && !w.closing {
		e.timer.Reset(w.jittered(e.delay))
	} else {
		e.stopped = true
		delete(w.timers, h)
		if w.byName[e.name] == h {
			delete(w.byName, e.name)
		}
	}
	cb := e.cb
	w.mu.Unlock()
	// Callbacks only enqueue-an-event work (spec §5); run outside the lock
	// so a slow callback can't stall other timers sharing this wheel.
	cb()
}

// Cancel stops a timer by handle. Safe to call on an already-fired
// one-shot handle.
func (w *Wheel) Cancel(h Handle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelLocked(h)
}

func (w *Wheel) cancelLocked(h Handle) {
	e, ok := w.timers[h]
	if !ok {
		return
	}
	e.timer.Stop()
	e.stopped = true
	delete(w.timers, h)
	if w.byName[e.name] == h {
		delete(w.byName, e.name)
	}
}

// CancelName stops the timer currently registered under name, if any.
func (w *Wheel) CancelName(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if h, ok := w.byName[name]; ok {
		w.cancelLocked(h)
	}
}

// Reset restarts the named timer at its configured delay, equivalent to
// re-Schedule with the same callback. No-op if the name isn't registered.
func (w *Wheel) Reset(name string) {
	w.mu.Lock()
	h, ok := w.byName[name]
	if !ok {
		w.mu.Unlock()
		return
	}
	e := w.timers[h]
	e.timer.Reset(w.jittered(e.delay))
	w.mu.Unlock()
}

// Active reports whether name currently has a live timer.
func (w *Wheel) Active(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.byName[name]
	if !ok {
		return false
	}
	return !w.timers[h].stopped
}

// Close cancels every outstanding timer in the wheel; honours the <=1s
// cancellation bound of spec §5 by stopping timers synchronously.
func (w *Wheel) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closing = true
	for h, e := range w.timers {
		e.timer.Stop()
		e.stopped = true
		delete(w.timers, h)
	}
	w.byName = make(map[string]Handle)
}
