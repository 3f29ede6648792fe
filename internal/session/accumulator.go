package session

import (
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/transcribe"
)

// Accumulator holds each speaker's uncommitted utterance until the turn
// boundary. Partials carry the full utterance so far and replace the buffer.
type Accumulator struct {
	mu      sync.Mutex
	next    int
	buffers map[transcribe.Speaker]string
	now     func() time.Time

	publish func(transcribe.Chunk)
	commit  func(transcribe.Chunk)
}

// NewAccumulator numbers chunks from startSeq. publish runs before commit
// for every chunk; either may be nil.
func NewAccumulator(startSeq int, publish, commit func(transcribe.Chunk)) *Accumulator {
	if startSeq < 1 {
		startSeq = 1
	}
	return &Accumulator{
		next:    startSeq,
		buffers: make(map[transcribe.Speaker]string, len(transcribe.Speakers)),
		now:     time.Now,
		publish: publish,
		commit:  commit,
	}
}

func (a *Accumulator) OnPartial(speaker transcribe.Speaker, text string) {
	if !speaker.Valid() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffers[speaker] = text
}

// OnTurnComplete flushes every non-empty buffer into a chunk and clears
// both.
func (a *Accumulator) OnTurnComplete() []transcribe.Chunk {
	a.mu.Lock()
	var chunks []transcribe.Chunk
	ts := a.now().UTC()
	for _, speaker := range transcribe.Speakers {
		text := strings.TrimSpace(a.buffers[speaker])
		if text == "" {
			continue
		}
		chunks = append(chunks, transcribe.Chunk{
			Speaker:     speaker,
			Text:        text,
			Sequence:    a.next,
			CommittedAt: ts,
		})
		a.next++
	}
	clear(a.buffers)
	a.mu.Unlock()

	for _, c := range chunks {
		if a.publish != nil {
			a.publish(c)
		}
		if a.commit != nil {
			a.commit(c)
		}
	}
	return chunks
}

func (a *Accumulator) Pending(speaker transcribe.Speaker) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffers[speaker]
}

func (a *Accumulator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, text := range a.buffers {
		if strings.TrimSpace(text) != "" {
			return false
		}
	}
	return true
}

// NextSequence is the number the next chunk will get.
func (a *Accumulator) NextSequence() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}
