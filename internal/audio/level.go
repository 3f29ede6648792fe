package audio

import "sync"

// levelReporter hands volume levels to a callback on its own goroutine so a
// slow UI consumer never stalls delivery. Only the newest level is kept.
type levelReporter struct {
	ch     chan int
	done   chan struct{}
	once   sync.Once
	report func(int)
}

func newLevelReporter(report func(int)) *levelReporter {
	r := &levelReporter{
		ch:     make(chan int, 1),
		done:   make(chan struct{}),
		report: report,
	}
	go r.run()
	return r
}

func (r *levelReporter) run() {
	for {
		select {
		case <-r.done:
			return
		case level := <-r.ch:
			if r.report != nil {
				r.report(level)
			}
		}
	}
}

func (r *levelReporter) post(level int) {
	select {
	case r.ch <- level:
		return
	default:
	}
	// Replace the stale pending value.
	select {
	case <-r.ch:
	default:
	}
	select {
	case r.ch <- level:
	default:
	}
}

func (r *levelReporter) close() {
	r.once.Do(func() { close(r.done) })
}
