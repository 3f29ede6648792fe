package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// InitDevices initialises PortAudio for Mic and Speaker. Pair every call
// with TerminateDevices.
func InitDevices() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	return nil
}

func TerminateDevices() {
	_ = portaudio.Terminate()
}

// Mic is a PortAudio capture stream, used when the deepgram microphone
// cannot be opened at any candidate rate.
type Mic struct {
	stream *portaudio.Stream
	buf    []int16

	mu      sync.Mutex
	stopped bool
}

// NewMic opens the default input at sampleRate with one frame per buffer.
func NewMic(sampleRate int, frame time.Duration) (*Mic, error) {
	frames := FrameBytes(sampleRate, frame) / bytesPerSample
	buf := make([]int16, frames)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frames, buf)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	return &Mic{stream: stream, buf: buf}, nil
}

func (m *Mic) Start() error {
	m.mu.Lock()
	m.stopped = false
	m.mu.Unlock()
	return m.stream.Start()
}

func (m *Mic) Stop() error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return m.stream.Stop()
}

func (m *Mic) Close() error { return m.stream.Close() }

// Stream reads from the input and writes PCM16-LE to w until stopped.
func (m *Mic) Stream(w io.Writer) error {
	var out bytes.Buffer
	out.Grow(len(m.buf) * bytesPerSample)
	for {
		if err := m.stream.Read(); err != nil {
			if m.isStopped() {
				return nil
			}
			return err
		}
		out.Reset()
		if err := binary.Write(&out, binary.LittleEndian, m.buf); err != nil {
			return err
		}
		if _, err := w.Write(out.Bytes()); err != nil {
			return err
		}
	}
}

func (m *Mic) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Speaker is a PortAudio output stream with a fixed buffer size. Writes
// shorter than the buffer are padded with silence.
type Speaker struct {
	stream *portaudio.Stream
	buf    []int16
}

func NewSpeaker(sampleRate int, frame time.Duration) (*Speaker, error) {
	frames := FrameBytes(sampleRate, frame) / bytesPerSample
	buf := make([]int16, frames)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), frames, buf)
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	return &Speaker{stream: stream, buf: buf}, nil
}

func (s *Speaker) Start() error { return s.stream.Start() }
func (s *Speaker) Stop() error  { return s.stream.Stop() }
func (s *Speaker) Close() error { return s.stream.Close() }

func (s *Speaker) Write(pcm []byte) error {
	for len(pcm) > 0 {
		n := fillSamples(s.buf, pcm)
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("write output stream: %w", err)
		}
		pcm = pcm[n:]
	}
	return nil
}

// fillSamples decodes PCM16-LE into dst, zero padding the tail, and returns
// the number of bytes consumed.
func fillSamples(dst []int16, pcm []byte) int {
	n := 0
	for i := range dst {
		if n+1 < len(pcm) {
			dst[i] = int16(binary.LittleEndian.Uint16(pcm[n:]))
			n += bytesPerSample
		} else {
			dst[i] = 0
		}
	}
	if n == 0 && len(pcm) > 0 {
		// A trailing odd byte cannot form a sample.
		return len(pcm)
	}
	return n
}
