package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	CaptureSampleRate    = 16000
	PlaybackSampleRate   = 24000
	DefaultFrameDuration = 20 * time.Millisecond

	bytesPerSample = 2

	// RMS at which the level scale saturates (about -12 dBFS).
	levelCeiling = 8192.0
)

// Direction tags whether a frame was captured or is being played back.
type Direction int

const (
	Capture Direction = iota
	Playback
)

func (d Direction) String() string {
	if d == Playback {
		return "playback"
	}
	return "capture"
}

// Frame is a fixed-duration block of mono 16-bit little-endian PCM.
// Seq increases monotonically within one direction.
type Frame struct {
	Direction  Direction
	Seq        uint64
	PCM        []byte
	SampleRate int
	Level      int
}

func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.PCM) / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// FrameBytes returns the PCM16 byte length of one frame of duration d.
func FrameBytes(sampleRate int, d time.Duration) int {
	if sampleRate <= 0 || d <= 0 {
		return 0
	}
	samples := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return samples * bytesPerSample
}

// Level computes the RMS of PCM16 samples mapped onto 0..100.
func Level(pcm []byte) int {
	n := len(pcm) / bytesPerSample
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))

	level := int(math.Round(rms / levelCeiling * 100))
	if level > 100 {
		return 100
	}
	return level
}
