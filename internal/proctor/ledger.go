package proctor

import (
	"fmt"
	"time"
)

// DefaultMaxWarnings is the number of violations answered with a warning.
// The next one terminates the session.
const DefaultMaxWarnings = 3

type ViolationType string

const (
	FullscreenExit  ViolationType = "fullscreen_exit"
	IntentionalExit ViolationType = "intentional_exit"
	VisibilityLost  ViolationType = "visibility_lost"
	ExitUnanswered  ViolationType = "exit_unanswered"
)

type Action string

const (
	ActionWarning    Action = "warning"
	ActionTerminated Action = "terminated"
)

// Violation is one entry of the per-session ledger. Ordinals start at 1 and
// increase by one per violation.
type Violation struct {
	Type    ViolationType `json:"type"`
	At      time.Time     `json:"timestamp"`
	Ordinal int           `json:"ordinal"`
	Action  Action        `json:"action"`
	Details string        `json:"details,omitempty"`
}

// warningText is indexed by ordinal-1. The last entry is reserved for the
// final warning before termination.
var warningText = []string{
	"First warning: stay in full-screen mode for the rest of the interview.",
	"Second warning: leaving full-screen mode is recorded as a proctoring violation.",
	"Final warning: one more violation will end the interview.",
}

const terminationText = "The interview was terminated after repeated proctoring violations."

// Escalate maps an ordinal to its action and user-facing message.
func Escalate(maxWarnings, ordinal int) (Action, string) {
	if maxWarnings <= 0 {
		maxWarnings = DefaultMaxWarnings
	}
	if ordinal > maxWarnings {
		return ActionTerminated, terminationText
	}

	last := len(warningText) - 1
	if ordinal == maxWarnings {
		return ActionWarning, warningText[last]
	}
	idx := ordinal - 1
	if idx >= last {
		idx = last - 1
	}
	if idx < 0 {
		idx = 0
	}
	return ActionWarning, warningText[idx]
}

func (v Violation) String() string {
	return fmt.Sprintf("#%d %s (%s)", v.Ordinal, v.Type, v.Action)
}
