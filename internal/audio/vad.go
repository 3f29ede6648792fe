package audio

import "time"

// Transition is the result of feeding one frame level to an ActivityDetector.
type Transition int

const (
	NoTransition Transition = iota
	ActivityStarted
	ActivityEnded
)

const (
	DefaultVADThreshold = 8
	DefaultVADHangover  = 800 * time.Millisecond

	onsetFrames = 2
)

// ActivityDetector is an energy gate over frame levels. Activity opens after
// two consecutive frames at or above the threshold and closes once the
// hangover has passed with every frame below it.
type ActivityDetector struct {
	threshold      int
	hangoverFrames int

	active bool
	loud   int
	quiet  int
}

func NewActivityDetector(threshold int, hangover, frame time.Duration) *ActivityDetector {
	if threshold <= 0 {
		threshold = DefaultVADThreshold
	}
	if hangover <= 0 {
		hangover = DefaultVADHangover
	}
	if frame <= 0 {
		frame = DefaultFrameDuration
	}
	frames := int(hangover / frame)
	if frames < 1 {
		frames = 1
	}
	return &ActivityDetector{threshold: threshold, hangoverFrames: frames}
}

func (d *ActivityDetector) Process(level int) Transition {
	if level >= d.threshold {
		d.quiet = 0
		if d.active {
			return NoTransition
		}
		d.loud++
		if d.loud >= onsetFrames {
			d.active = true
			d.loud = 0
			return ActivityStarted
		}
		return NoTransition
	}

	d.loud = 0
	if !d.active {
		return NoTransition
	}
	d.quiet++
	if d.quiet >= d.hangoverFrames {
		d.active = false
		d.quiet = 0
		return ActivityEnded
	}
	return NoTransition
}

func (d *ActivityDetector) Active() bool { return d.active }

func (d *ActivityDetector) Reset() {
	d.active = false
	d.loud = 0
	d.quiet = 0
}

// PreRoll keeps the most recent frames seen while activity was closed so
// speech onset can be replayed after activityStart.
type PreRoll struct {
	frames []Frame
	max    int
}

func NewPreRoll(window, frame time.Duration) *PreRoll {
	if frame <= 0 {
		frame = DefaultFrameDuration
	}
	max := int(window / frame)
	if max < 1 {
		max = 1
	}
	return &PreRoll{max: max}
}

func (r *PreRoll) Push(f Frame) {
	if len(r.frames) == r.max {
		copy(r.frames, r.frames[1:])
		r.frames = r.frames[:r.max-1]
	}
	r.frames = append(r.frames, f)
}

// Drain returns the buffered frames oldest first and empties the ring.
func (r *PreRoll) Drain() []Frame {
	out := r.frames
	r.frames = nil
	return out
}

func (r *PreRoll) Len() int { return len(r.frames) }
