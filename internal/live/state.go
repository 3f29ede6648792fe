package live

// State is the connection lifecycle position. Transitions only move
// forward, except Error -> Idle on retry and Ready/Streaming ->
// AcquiringCredential while rolling to a fresh stream.
type State int

const (
	Idle State = iota
	AcquiringCredential
	Handshaking
	Ready
	Streaming
	Ended
	Error
)

var stateNames = map[State]string{
	Idle:                "idle",
	AcquiringCredential: "acquiring_credential",
	Handshaking:         "handshaking",
	Ready:               "ready",
	Streaming:           "streaming",
	Ended:               "ended",
	Error:               "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Connected reports whether the stream accepts audio and text.
func (s State) Connected() bool {
	return s == Ready || s == Streaming
}

func (s State) Terminal() bool {
	return s == Ended || s == Error
}

var transitions = map[State][]State{
	Idle:                {AcquiringCredential, Ended},
	AcquiringCredential: {Handshaking, Error, Ended},
	Handshaking:         {Ready, Error, Ended},
	Ready:               {Streaming, AcquiringCredential, Error, Ended},
	Streaming:           {AcquiringCredential, Error, Ended},
	Error:               {Idle, Ended},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
