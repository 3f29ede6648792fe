package session

import (
	"testing"

	"github.com/sjawhar/ghost-interviewer/internal/transcribe"
)

func TestAccumulatorPartialsReplace(t *testing.T) {
	acc := NewAccumulator(1, nil, nil)

	acc.OnPartial(transcribe.Candidate, "I")
	acc.OnPartial(transcribe.Candidate, "I worked")
	acc.OnPartial(transcribe.Candidate, "I worked on payments.")

	chunks := acc.OnTurnComplete()
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "I worked on payments." {
		t.Fatalf("expected latest partial, got %q", chunks[0].Text)
	}
	if !acc.Empty() {
		t.Fatal("expected buffers empty after flush")
	}
}

func TestAccumulatorFlushesBothSpeakersInOrder(t *testing.T) {
	var order []string
	acc := NewAccumulator(5,
		func(c transcribe.Chunk) { order = append(order, "publish:"+string(c.Speaker)) },
		func(c transcribe.Chunk) { order = append(order, "commit:"+string(c.Speaker)) },
	)

	acc.OnPartial(transcribe.Interviewer, "Why Go?")
	acc.OnPartial(transcribe.Candidate, "Because of goroutines.")
	chunks := acc.OnTurnComplete()

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Speaker != transcribe.Candidate || chunks[0].Sequence != 5 {
		t.Fatalf("expected candidate chunk #5 first, got %+v", chunks[0])
	}
	if chunks[1].Speaker != transcribe.Interviewer || chunks[1].Sequence != 6 {
		t.Fatalf("expected interviewer chunk #6 second, got %+v", chunks[1])
	}
	want := []string{"publish:candidate", "commit:candidate", "publish:interviewer", "commit:interviewer"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
	if acc.Pending(transcribe.Candidate) != "" || acc.Pending(transcribe.Interviewer) != "" {
		t.Fatal("expected both buffers cleared")
	}
	if acc.NextSequence() != 7 {
		t.Fatalf("expected next sequence 7, got %d", acc.NextSequence())
	}
}

func TestAccumulatorEmptyTurnIsNoop(t *testing.T) {
	calls := 0
	acc := NewAccumulator(1, func(transcribe.Chunk) { calls++ }, func(transcribe.Chunk) { calls++ })

	if chunks := acc.OnTurnComplete(); len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
	acc.OnPartial(transcribe.Candidate, "   ")
	if chunks := acc.OnTurnComplete(); len(chunks) != 0 {
		t.Fatalf("expected whitespace-only buffer to be skipped, got %d", len(chunks))
	}
	if calls != 0 {
		t.Fatalf("expected no callbacks, got %d", calls)
	}
	if acc.NextSequence() != 1 {
		t.Fatalf("expected sequence unchanged, got %d", acc.NextSequence())
	}
}

func TestAccumulatorIgnoresUnknownSpeaker(t *testing.T) {
	acc := NewAccumulator(1, nil, nil)
	acc.OnPartial(transcribe.Speaker("narrator"), "hello")
	if !acc.Empty() {
		t.Fatal("expected unknown speaker ignored")
	}
}

func TestAccumulatorOneChunkPerSpeakerPerTurn(t *testing.T) {
	acc := NewAccumulator(1, nil, nil)
	for turn := 0; turn < 10; turn++ {
		for i := 0; i <= turn; i++ {
			acc.OnPartial(transcribe.Candidate, "partial")
		}
		if turn%2 == 0 {
			acc.OnPartial(transcribe.Interviewer, "reply")
		}
		chunks := acc.OnTurnComplete()
		want := 1
		if turn%2 == 0 {
			want = 2
		}
		if len(chunks) != want {
			t.Fatalf("turn %d: expected %d chunks, got %d", turn, want, len(chunks))
		}
		if !acc.Empty() {
			t.Fatalf("turn %d: expected buffers empty", turn)
		}
	}
}
