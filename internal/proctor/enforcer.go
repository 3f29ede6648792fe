package proctor

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	DefaultHoldKey      = "q"
	DefaultHoldDuration = 3 * time.Second

	// DefaultConfirmTimeout bounds how long the exit dialog may stay open.
	DefaultConfirmTimeout = 15 * time.Second

	// visibilityGrace folds a visibility change into a violation recorded
	// just before it; switching tabs also drops full-screen.
	visibilityGrace = 2 * time.Second
)

type State int

const (
	NotEntered State = iota
	FullscreenActive
	ExitPending
	Terminated
)

func (s State) String() string {
	switch s {
	case NotEntered:
		return "not_entered"
	case FullscreenActive:
		return "fullscreen_active"
	case ExitPending:
		return "exit_pending"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// EventKind names a kiosk runtime report.
type EventKind string

const (
	FullscreenEntered  EventKind = "fullscreen_entered"
	FullscreenRejected EventKind = "fullscreen_rejected"
	FullscreenExited   EventKind = "fullscreen_exited"
	KeyDown            EventKind = "key_down"
	KeyUp              EventKind = "key_up"
	ExitStay           EventKind = "exit_stay"
	ExitLeave          EventKind = "exit_leave"
	VisibilityHidden   EventKind = "visibility_hidden"
)

type Event struct {
	Kind   EventKind `json:"kind"`
	Key    string    `json:"key,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Full-screen commands sent to the kiosk page.
const (
	CommandEnter  = "enter"
	CommandExit   = "exit"
	CommandPrompt = "prompt"
)

type Config struct {
	HoldKey      string
	HoldDuration time.Duration
	MaxWarnings  int

	// ConfirmTimeout is how long the exit dialog waits for an answer
	// before the unanswered dialog is recorded as a violation.
	ConfirmTimeout time.Duration
	Logger         *slog.Logger
}

// Callbacks run synchronously from Handle, or from the hold timer for
// OnExitConfirm. Any may be nil.
type Callbacks struct {
	OnViolation   func(v Violation, message string)
	OnExitConfirm func()
	OnFullscreen  func(command string)
	OnTerminate   func()
	OnLeave       func()
}

type Enforcer struct {
	cfg       Config
	cb        Callbacks
	logger    *slog.Logger
	now       func() time.Time
	afterFunc func(time.Duration, func()) func() bool

	mu            sync.Mutex
	state         State
	entered       bool
	closed        bool
	ordinal       int
	ledger        []Violation
	lastViolation time.Time
	holding       bool
	holdGen       uint64
	stopHold      func() bool
	confirmGen    uint64
	stopConfirm   func() bool
}

func New(cfg Config, cb Callbacks) *Enforcer {
	if cfg.HoldKey == "" {
		cfg.HoldKey = DefaultHoldKey
	}
	if cfg.HoldDuration <= 0 {
		cfg.HoldDuration = DefaultHoldDuration
	}
	if cfg.MaxWarnings <= 0 {
		cfg.MaxWarnings = DefaultMaxWarnings
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{
		cfg:    cfg,
		cb:     cb,
		logger: logger,
		now:    time.Now,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
}

// SetAfterFunc replaces the hold and confirm timer scheduler, e.g. to run the callback
// on the session loop.
func (e *Enforcer) SetAfterFunc(fn func(time.Duration, func()) func() bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.afterFunc = fn
}

func (e *Enforcer) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Enforcer) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ordinal
}

func (e *Enforcer) Violations() []Violation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Violation(nil), e.ledger...)
}

// Close stops the enforcer; later events are ignored and nothing more is
// recorded.
func (e *Enforcer) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.cancelHoldLocked()
	e.cancelConfirmLocked()
}

type effect func(Callbacks)

func (e *Enforcer) Handle(ev Event) {
	e.mu.Lock()
	if e.closed || e.state == Terminated {
		e.mu.Unlock()
		return
	}
	effects := e.apply(ev)
	e.mu.Unlock()

	for _, fx := range effects {
		fx(e.cb)
	}
}

func (e *Enforcer) apply(ev Event) []effect {
	switch ev.Kind {
	case FullscreenEntered:
		if e.state == NotEntered || e.state == ExitPending {
			e.cancelConfirmLocked()
			e.state = FullscreenActive
			e.entered = true
		}
		return nil

	case FullscreenRejected:
		e.logger.Warn("full-screen request rejected", "detail", ev.Detail)
		e.cancelHoldLocked()
		e.state = NotEntered
		return []effect{fullscreen(CommandPrompt)}

	case FullscreenExited:
		if e.state != FullscreenActive {
			// ExitPending exits are the enforcer's own.
			return nil
		}
		e.cancelHoldLocked()
		e.state = NotEntered
		effects := e.recordLocked(FullscreenExit, "left full-screen mode")
		if e.state != Terminated {
			effects = append(effects, fullscreen(CommandPrompt))
		}
		return effects

	case VisibilityHidden:
		// Hiding the page counts even while the exit dialog is open.
		if !e.entered {
			return nil
		}
		if !e.lastViolation.IsZero() && e.now().Sub(e.lastViolation) < visibilityGrace {
			return nil
		}
		e.cancelHoldLocked()
		e.cancelConfirmLocked()
		e.state = NotEntered
		effects := e.recordLocked(VisibilityLost, "interview window hidden")
		if e.state != Terminated {
			effects = append(effects, fullscreen(CommandPrompt))
		}
		return effects

	case KeyDown:
		if !e.isHoldKey(ev.Key) || e.state != FullscreenActive || e.holding {
			return nil
		}
		e.holding = true
		e.holdGen++
		gen := e.holdGen
		e.stopHold = e.afterFunc(e.cfg.HoldDuration, func() { e.completeHold(gen) })
		return nil

	case KeyUp:
		if e.isHoldKey(ev.Key) && e.holding {
			e.cancelHoldLocked()
		}
		return nil

	case ExitStay:
		if e.state != ExitPending {
			return nil
		}
		e.cancelConfirmLocked()
		e.state = FullscreenActive
		return []effect{fullscreen(CommandEnter)}

	case ExitLeave:
		if e.state != ExitPending {
			return nil
		}
		e.cancelConfirmLocked()
		effects := e.recordLocked(IntentionalExit, "candidate chose to leave the interview")
		if e.state != Terminated {
			e.closed = true
			effects = append(effects, func(cb Callbacks) {
				if cb.OnLeave != nil {
					cb.OnLeave()
				}
			})
		}
		return effects
	}

	e.logger.Debug("ignoring unknown kiosk event", "kind", string(ev.Kind))
	return nil
}

func (e *Enforcer) completeHold(gen uint64) {
	e.mu.Lock()
	if e.closed || !e.holding || gen != e.holdGen || e.state != FullscreenActive {
		e.mu.Unlock()
		return
	}
	e.holding = false
	e.stopHold = nil
	e.state = ExitPending
	e.confirmGen++
	confirmGen := e.confirmGen
	e.stopConfirm = e.afterFunc(e.cfg.ConfirmTimeout, func() { e.expireConfirm(confirmGen) })
	e.mu.Unlock()

	if e.cb.OnFullscreen != nil {
		e.cb.OnFullscreen(CommandExit)
	}
	if e.cb.OnExitConfirm != nil {
		e.cb.OnExitConfirm()
	}
}

// expireConfirm records an exit dialog left unanswered and asks the page
// to return to full-screen.
func (e *Enforcer) expireConfirm(gen uint64) {
	e.mu.Lock()
	if e.closed || gen != e.confirmGen || e.state != ExitPending {
		e.mu.Unlock()
		return
	}
	e.stopConfirm = nil
	e.state = NotEntered
	effects := e.recordLocked(ExitUnanswered, "exit dialog left unanswered")
	if e.state != Terminated {
		effects = append(effects, fullscreen(CommandPrompt))
	}
	e.mu.Unlock()

	for _, fx := range effects {
		fx(e.cb)
	}
}

// recordLocked appends a violation, then applies the escalation table.
func (e *Enforcer) recordLocked(typ ViolationType, details string) []effect {
	e.ordinal++
	action, message := Escalate(e.cfg.MaxWarnings, e.ordinal)
	v := Violation{
		Type:    typ,
		At:      e.now().UTC(),
		Ordinal: e.ordinal,
		Action:  action,
		Details: details,
	}
	e.ledger = append(e.ledger, v)
	e.lastViolation = e.now()

	effects := []effect{func(cb Callbacks) {
		if cb.OnViolation != nil {
			cb.OnViolation(v, message)
		}
	}}

	if action == ActionTerminated {
		e.state = Terminated
		e.cancelHoldLocked()
		e.cancelConfirmLocked()
		effects = append(effects, func(cb Callbacks) {
			if cb.OnTerminate != nil {
				cb.OnTerminate()
			}
		})
	}
	return effects
}

func (e *Enforcer) cancelHoldLocked() {
	if e.stopHold != nil {
		e.stopHold()
		e.stopHold = nil
	}
	e.holding = false
}

func (e *Enforcer) cancelConfirmLocked() {
	if e.stopConfirm != nil {
		e.stopConfirm()
		e.stopConfirm = nil
	}
	e.confirmGen++
}

func (e *Enforcer) isHoldKey(key string) bool {
	return strings.EqualFold(strings.TrimSpace(key), e.cfg.HoldKey)
}

func fullscreen(command string) effect {
	return func(cb Callbacks) {
		if cb.OnFullscreen != nil {
			cb.OnFullscreen(command)
		}
	}
}
