package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrNoCaptureDevice  = errors.New("no capture device")
	ErrNoPlaybackDevice = errors.New("no playback device")
	ErrPipelineStopped  = errors.New("audio pipeline stopped")
)

const (
	defaultFadeDuration = 5 * time.Millisecond
	captureStopTimeout  = 500 * time.Millisecond
)

// CaptureDevice is a started/stopped PCM16 source. The deepgram microphone
// and Mic both satisfy it.
type CaptureDevice interface {
	Start() error
	Stream(w io.Writer) error
	Stop() error
}

// PlaybackDevice writes PCM16 to an output. Write blocks for roughly the
// duration of the audio it is given.
type PlaybackDevice interface {
	Start() error
	Write(pcm []byte) error
	Stop() error
}

type PipelineConfig struct {
	CaptureSampleRate  int
	PlaybackSampleRate int
	FrameDuration      time.Duration
	FadeDuration       time.Duration

	// Taps receive raw captured PCM (recorder, caption stream). A tap that
	// fails once is dropped for the rest of the capture.
	Taps            []io.Writer
	OnPlaybackLevel func(int)
	Logger          *slog.Logger
}

// Pipeline is the single owner of the capture and playback devices.
type Pipeline struct {
	capture  CaptureDevice
	playback PlaybackDevice
	cfg      PipelineConfig
	logger   *slog.Logger
	sleep    func(time.Duration)

	mu            sync.Mutex
	stopped       bool
	capturing     bool
	captureGen    atomic.Uint64
	nextGen       uint64
	cancelCapture context.CancelFunc
	captureDone   chan struct{}
	volume        *levelReporter

	playStarted bool
	playStop    chan struct{}
	playDone    chan struct{}
	playLevel   *levelReporter
	stopOnce    sync.Once

	playMu  sync.Mutex
	queue   [][]byte
	playGen uint64
	wake    chan struct{}
}

func NewPipeline(capture CaptureDevice, playback PlaybackDevice, cfg PipelineConfig) *Pipeline {
	if cfg.CaptureSampleRate <= 0 {
		cfg.CaptureSampleRate = CaptureSampleRate
	}
	if cfg.PlaybackSampleRate <= 0 {
		cfg.PlaybackSampleRate = PlaybackSampleRate
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	if cfg.FadeDuration <= 0 {
		cfg.FadeDuration = defaultFadeDuration
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		capture:   capture,
		playback:  playback,
		cfg:       cfg,
		logger:    logger,
		sleep:     time.Sleep,
		playStop:  make(chan struct{}),
		playDone:  make(chan struct{}),
		playLevel: newLevelReporter(cfg.OnPlaybackLevel),
		wake:      make(chan struct{}, 1),
	}
}

func (p *Pipeline) CaptureSampleRate() int { return p.cfg.CaptureSampleRate }

// StartCapture begins delivering capture frames to onFrame and their levels
// to onVolume. Calling it while already capturing is a no-op.
func (p *Pipeline) StartCapture(onFrame func(Frame), onVolume func(int)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPipelineStopped
	}
	if p.capturing {
		return nil
	}
	if p.capture == nil {
		return ErrNoCaptureDevice
	}
	if err := p.capture.Start(); err != nil {
		return fmt.Errorf("start capture device: %w", err)
	}

	p.nextGen++
	gen := p.nextGen
	p.captureGen.Store(gen)

	volume := newLevelReporter(onVolume)
	size := FrameBytes(p.cfg.CaptureSampleRate, p.cfg.FrameDuration)
	fr := newFramer(Capture, p.cfg.CaptureSampleRate, size, func(f Frame) {
		if p.captureGen.Load() != gen {
			return
		}
		volume.post(f.Level)
		if onFrame != nil {
			onFrame(f)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	writer := newCaptureWriter(fr, p.cfg.Taps, p.logger)
	go func() {
		defer close(done)
		streamWithRetry(ctx, p.capture, writer, p.sleep, p.logger)
	}()

	p.capturing = true
	p.cancelCapture = cancel
	p.captureDone = done
	p.volume = volume
	return nil
}

// StopCapture releases the capture device. Safe to call when not capturing.
func (p *Pipeline) StopCapture() {
	p.mu.Lock()
	if !p.capturing {
		p.mu.Unlock()
		return
	}
	p.capturing = false
	p.captureGen.Store(0)
	cancel, done, volume := p.cancelCapture, p.captureDone, p.volume
	p.cancelCapture, p.captureDone, p.volume = nil, nil, nil
	p.mu.Unlock()

	cancel()
	if err := p.capture.Stop(); err != nil {
		p.logger.Warn("stop capture device failed", "error", err)
	}
	volume.close()

	select {
	case <-done:
	case <-time.After(captureStopTimeout):
		p.logger.Warn("capture stream did not exit after stop")
	}
}

func (p *Pipeline) Capturing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capturing
}

// PlayChunk enqueues PCM16 at the playback sample rate for gapless output.
func (p *Pipeline) PlayChunk(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	if err := p.ensurePlayback(); err != nil {
		return err
	}

	chunk := append([]byte(nil), pcm...)
	p.playMu.Lock()
	p.queue = append(p.queue, chunk)
	p.playMu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// ClearPlaybackQueue drops every queued chunk and cuts the chunk currently
// playing short with a fade to silence.
func (p *Pipeline) ClearPlaybackQueue() {
	p.playMu.Lock()
	for i := range p.queue {
		p.queue[i] = nil
	}
	p.queue = nil
	p.playGen++
	p.playMu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// QueueLen reports chunks waiting to be played.
func (p *Pipeline) QueueLen() int {
	p.playMu.Lock()
	defer p.playMu.Unlock()
	return len(p.queue)
}

// Stop releases both devices. Later calls are no-ops.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.StopCapture()

		p.mu.Lock()
		p.stopped = true
		started := p.playStarted
		p.mu.Unlock()

		p.ClearPlaybackQueue()
		close(p.playStop)
		if started {
			select {
			case <-p.playDone:
			case <-time.After(captureStopTimeout):
				p.logger.Warn("playback loop did not exit after stop")
			}
			if err := p.playback.Stop(); err != nil {
				p.logger.Warn("stop playback device failed", "error", err)
			}
		}
		p.playLevel.close()
	})
}

func (p *Pipeline) ensurePlayback() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPipelineStopped
	}
	if p.playStarted {
		return nil
	}
	if p.playback == nil {
		return ErrNoPlaybackDevice
	}
	if err := p.playback.Start(); err != nil {
		return fmt.Errorf("start playback device: %w", err)
	}
	p.playStarted = true
	go p.playLoop()
	return nil
}

func (p *Pipeline) playLoop() {
	defer close(p.playDone)

	frameSize := FrameBytes(p.cfg.PlaybackSampleRate, p.cfg.FrameDuration)
	var (
		pending []byte
		gen     uint64
		last    int16
	)

	for {
		p.playMu.Lock()
		if p.playGen != gen {
			gen = p.playGen
			cut := len(pending) > 0 || last != 0
			pending = nil
			p.playMu.Unlock()
			if cut {
				p.writeFade(last)
				last = 0
			}
			continue
		}
		for len(pending) < frameSize && len(p.queue) > 0 {
			pending = append(pending, p.queue[0]...)
			p.queue[0] = nil
			p.queue = p.queue[1:]
		}
		p.playMu.Unlock()

		if len(pending) == 0 {
			select {
			case <-p.playStop:
				return
			case <-p.wake:
			}
			continue
		}

		select {
		case <-p.playStop:
			return
		default:
		}

		n := frameSize
		if len(pending) < n {
			n = len(pending)
		}
		frame := pending[:n]
		if err := p.playback.Write(frame); err != nil {
			p.logger.Warn("playback write failed", "error", err)
		}
		p.playLevel.post(Level(frame))
		last = lastSample(frame)

		pending = pending[n:]
		if len(pending) == 0 {
			pending = nil
		}
	}
}

// writeFade ramps linearly from the last written sample to zero so a cut
// does not click.
func (p *Pipeline) writeFade(from int16) {
	samples := int(int64(p.cfg.PlaybackSampleRate) * int64(p.cfg.FadeDuration) / int64(time.Second))
	if samples <= 0 || from == 0 {
		return
	}
	buf := make([]byte, samples*bytesPerSample)
	for i := 0; i < samples; i++ {
		v := int32(from) * int32(samples-i-1) / int32(samples)
		putSample(buf[i*2:], int16(v))
	}
	if err := p.playback.Write(buf); err != nil {
		p.logger.Warn("playback fade write failed", "error", err)
	}
}

func lastSample(pcm []byte) int16 {
	if len(pcm) < bytesPerSample {
		return 0
	}
	i := len(pcm) - len(pcm)%bytesPerSample - bytesPerSample
	return int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
}

func putSample(b []byte, v int16) {
	b[0] = byte(uint16(v))
	b[1] = byte(uint16(v) >> 8)
}

type captureWriter struct {
	framer *framer
	taps   []io.Writer
	failed []bool
	logger *slog.Logger
}

func newCaptureWriter(fr *framer, taps []io.Writer, logger *slog.Logger) *captureWriter {
	return &captureWriter{framer: fr, taps: taps, failed: make([]bool, len(taps)), logger: logger}
}

func (w *captureWriter) Write(p []byte) (int, error) {
	for i, tap := range w.taps {
		if w.failed[i] {
			continue
		}
		if _, err := tap.Write(p); err != nil {
			w.failed[i] = true
			w.logger.Warn("capture tap failed, detaching", "error", err)
		}
	}
	return w.framer.Write(p)
}
