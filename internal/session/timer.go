package session

import "sync"

const DefaultWrapUpSeconds = 120

// Timer counts an interview down one second per Tick. It never reads the
// wall clock, so a stalled caller cannot make it skip or repeat values.
type Timer struct {
	wrapUpAt int

	mu        sync.Mutex
	total     int
	remaining int
	running   bool
	wrapped   bool
	fired     bool

	onTick   func(remaining int)
	onWrapUp func(remaining int)
	onTimeUp func()
}

func NewTimer(wrapUpAt int) *Timer {
	if wrapUpAt < 0 {
		wrapUpAt = 0
	}
	return &Timer{wrapUpAt: wrapUpAt}
}

func (t *Timer) OnTick(callback func(remaining int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = callback
}

// OnWrapUp fires once, on the first tick at or below the wrap-up threshold
// that still has time left.
func (t *Timer) OnWrapUp(callback func(remaining int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onWrapUp = callback
}

func (t *Timer) OnTimeUp(callback func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTimeUp = callback
}

// Start begins the countdown. A timer runs at most once.
func (t *Timer) Start(totalSeconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || t.fired || totalSeconds <= 0 {
		return
	}
	t.total = totalSeconds
	t.remaining = totalSeconds
	t.running = true
}

func (t *Timer) Tick() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}

	t.remaining--
	remaining := t.remaining
	tick := t.onTick
	var wrapUp func(int)
	var timeUp func()
	if remaining > 0 && remaining <= t.wrapUpAt && !t.wrapped {
		t.wrapped = true
		wrapUp = t.onWrapUp
	}
	if remaining == 0 {
		t.running = false
		t.fired = true
		timeUp = t.onTimeUp
	}
	t.mu.Unlock()

	if tick != nil {
		tick(remaining)
	}
	if wrapUp != nil {
		wrapUp(remaining)
	}
	if timeUp != nil {
		timeUp()
	}
}

func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
}

func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Timer) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total - t.remaining
}
