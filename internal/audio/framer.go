package audio

import "sync"

// framer slices an arbitrary PCM byte stream into fixed-size frames.
// Bytes that do not complete a frame are carried into the next Write.
type framer struct {
	mu         sync.Mutex
	size       int
	sampleRate int
	direction  Direction
	carry      []byte
	seq        uint64
	emit       func(Frame)
}

func newFramer(direction Direction, sampleRate, size int, emit func(Frame)) *framer {
	return &framer{
		size:       size,
		sampleRate: sampleRate,
		direction:  direction,
		carry:      make([]byte, 0, size),
		emit:       emit,
	}
}

func (f *framer) Write(p []byte) (int, error) {
	f.mu.Lock()
	var ready []Frame
	data := p
	for len(data) > 0 {
		need := f.size - len(f.carry)
		if need > len(data) {
			need = len(data)
		}
		f.carry = append(f.carry, data[:need]...)
		data = data[need:]

		if len(f.carry) == f.size {
			pcm := make([]byte, f.size)
			copy(pcm, f.carry)
			f.carry = f.carry[:0]
			f.seq++
			ready = append(ready, Frame{
				Direction:  f.direction,
				Seq:        f.seq,
				PCM:        pcm,
				SampleRate: f.sampleRate,
				Level:      Level(pcm),
			})
		}
	}
	f.mu.Unlock()

	for _, frame := range ready {
		f.emit(frame)
	}
	return len(p), nil
}

// reset drops any partial frame. Sequence numbers keep increasing.
func (f *framer) reset() {
	f.mu.Lock()
	f.carry = f.carry[:0]
	f.mu.Unlock()
}
