package session

import (
	"sync"
	"time"
)

const (
	DefaultIdleWarning = 30 * time.Second
	DefaultIdleTimeout = 60 * time.Second
)

// Watchdog is a two-stage idle timer. Both windows are measured from the
// last Reset: the warning fires after warnAfter, the timeout after
// timeoutAfter.
type Watchdog struct {
	warnAfter    time.Duration
	timeoutAfter time.Duration
	now          func() time.Time

	mu        sync.Mutex
	running   bool
	warned    bool
	timedOut  bool
	lastReset time.Time
	timer     *time.Timer

	onWarning        func()
	onWarningCleared func()
	onTimeout        func()
}

func NewWatchdog(warnAfter, timeoutAfter time.Duration) *Watchdog {
	if warnAfter <= 0 {
		warnAfter = DefaultIdleWarning
	}
	if timeoutAfter <= warnAfter {
		timeoutAfter = 2 * warnAfter
	}
	return &Watchdog{warnAfter: warnAfter, timeoutAfter: timeoutAfter, now: time.Now}
}

func (w *Watchdog) OnWarning(callback func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onWarning = callback
}

func (w *Watchdog) OnWarningCleared(callback func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onWarningCleared = callback
}

func (w *Watchdog) OnTimeout(callback func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onTimeout = callback
}

// Start arms the first window. It also resumes a stopped watchdog.
func (w *Watchdog) Start() {
	w.mu.Lock()
	if w.timedOut {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.lastReset = w.now()
	cleared := w.clearWarningLocked()
	w.armLocked(w.warnAfter)
	w.mu.Unlock()

	if cleared != nil {
		cleared()
	}
}

// Reset records activity. A showing warning is dismissed and the first
// window starts over.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.lastReset = w.now()
	cleared := w.clearWarningLocked()
	if cleared != nil {
		w.armLocked(w.warnAfter)
	}
	w.mu.Unlock()

	if cleared != nil {
		cleared()
	}
}

// Stop pauses the watchdog until the next Start.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) WarningShown() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.warned
}

func (w *Watchdog) clearWarningLocked() func() {
	if !w.warned {
		return nil
	}
	w.warned = false
	if w.onWarningCleared == nil {
		return func() {}
	}
	return w.onWarningCleared
}

func (w *Watchdog) armLocked(d time.Duration) {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(d, w.fire)
}

// fire re-arms for the time left when Reset was called since arming.
func (w *Watchdog) fire() {
	w.mu.Lock()
	if !w.running || w.timedOut {
		w.mu.Unlock()
		return
	}

	idle := w.now().Sub(w.lastReset)
	var callback func()
	switch {
	case !w.warned && idle < w.warnAfter:
		w.armLocked(w.warnAfter - idle)
	case !w.warned:
		w.warned = true
		w.armLocked(w.timeoutAfter - idle)
		callback = w.onWarning
	case idle < w.timeoutAfter:
		w.armLocked(w.timeoutAfter - idle)
	default:
		w.timedOut = true
		w.running = false
		w.timer = nil
		callback = w.onTimeout
	}
	w.mu.Unlock()

	if callback != nil {
		callback()
	}
}
