package audio

import (
	"testing"
	"time"
)

func TestActivityDetectorNeedsTwoLoudFrames(t *testing.T) {
	d := NewActivityDetector(10, 60*time.Millisecond, 20*time.Millisecond)

	if got := d.Process(20); got != NoTransition {
		t.Fatalf("expected no transition on first loud frame, got %v", got)
	}
	if got := d.Process(5); got != NoTransition {
		t.Fatalf("expected no transition, got %v", got)
	}
	if got := d.Process(20); got != NoTransition {
		t.Fatalf("expected onset count to restart, got %v", got)
	}
	if got := d.Process(10); got != ActivityStarted {
		t.Fatalf("expected ActivityStarted, got %v", got)
	}
	if !d.Active() {
		t.Fatal("expected detector to be active")
	}
	if got := d.Process(50); got != NoTransition {
		t.Fatalf("expected no duplicate start, got %v", got)
	}
}

func TestActivityDetectorHangover(t *testing.T) {
	d := NewActivityDetector(10, 60*time.Millisecond, 20*time.Millisecond)
	d.Process(30)
	d.Process(30)

	d.Process(0)
	d.Process(0)
	if got := d.Process(40); got != NoTransition {
		t.Fatalf("expected loud frame to extend activity, got %v", got)
	}
	d.Process(0)
	d.Process(0)
	if got := d.Process(0); got != ActivityEnded {
		t.Fatalf("expected ActivityEnded after 3 quiet frames, got %v", got)
	}
	if got := d.Process(0); got != NoTransition {
		t.Fatalf("expected no duplicate end, got %v", got)
	}
}

func TestPreRollKeepsNewest(t *testing.T) {
	r := NewPreRoll(60*time.Millisecond, 20*time.Millisecond)
	for i := 1; i <= 5; i++ {
		r.Push(Frame{Seq: uint64(i)})
	}
	if r.Len() != 3 {
		t.Fatalf("expected 3 frames, got %d", r.Len())
	}
	frames := r.Drain()
	if frames[0].Seq != 3 || frames[2].Seq != 5 {
		t.Fatalf("expected seqs 3..5, got %d..%d", frames[0].Seq, frames[2].Seq)
	}
	if r.Len() != 0 {
		t.Fatal("expected empty ring after Drain")
	}
}
