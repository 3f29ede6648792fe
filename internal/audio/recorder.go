package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
)

const (
	pcmChannels = 1
	pcmBitDepth = 16
)

// Recorder tees captured candidate audio to disk for the duration of one
// interview. It is an io.Writer so the pipeline can use it as a capture tap.
type Recorder struct {
	audioDir string

	mu          sync.Mutex
	interviewID string
	rawPath     string
	rawFile     *os.File
	sampleRate  int

	encode func(rawPath, interviewID string, sampleRate int) (string, error)
}

func NewRecorder(audioDir string) *Recorder {
	if audioDir == "" {
		audioDir = filepath.Join("data", "audio")
	}

	r := &Recorder{audioDir: audioDir, sampleRate: CaptureSampleRate}
	r.encode = r.defaultEncode
	return r
}

func (r *Recorder) SetSampleRate(sampleRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sampleRate > 0 {
		r.sampleRate = sampleRate
	}
}

// Start opens the raw PCM file for interviewID, closing any previous one.
func (r *Recorder) Start(interviewID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.audioDir, 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}

	if r.rawFile != nil {
		_ = r.rawFile.Close()
	}

	rawPath := filepath.Join(r.audioDir, interviewID+".pcm")
	rawFile, err := os.OpenFile(rawPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open raw pcm file: %w", err)
	}

	r.interviewID = interviewID
	r.rawPath = rawPath
	r.rawFile = rawFile
	return nil
}

func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rawFile != nil
}

// Finish closes the raw file and encodes it. It returns "" when nothing was
// being recorded, so repeated calls are harmless.
func (r *Recorder) Finish() (string, error) {
	r.mu.Lock()
	if r.interviewID == "" || r.rawFile == nil {
		r.mu.Unlock()
		return "", nil
	}

	interviewID := r.interviewID
	rawPath := r.rawPath
	rawFile := r.rawFile
	sampleRate := r.sampleRate

	r.interviewID = ""
	r.rawPath = ""
	r.rawFile = nil
	r.mu.Unlock()

	if err := rawFile.Close(); err != nil {
		return "", fmt.Errorf("close raw pcm file: %w", err)
	}

	audioPath, err := r.encode(rawPath, interviewID, sampleRate)
	if err != nil {
		return "", err
	}

	_ = os.Remove(rawPath)
	return audioPath, nil
}

// Write appends PCM to the open recording. Without one it discards.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rawFile == nil {
		return len(p), nil
	}
	n, err := r.rawFile.Write(p)
	if err != nil {
		return n, fmt.Errorf("write raw pcm bytes: %w", err)
	}
	return n, nil
}

func (r *Recorder) defaultEncode(rawPath, interviewID string, sampleRate int) (string, error) {
	if sampleRate <= 0 {
		sampleRate = CaptureSampleRate
	}

	mp3Path := filepath.Join(r.audioDir, interviewID+".mp3")
	if err := encodeWithFFmpeg(rawPath, mp3Path, sampleRate); err == nil {
		return mp3Path, nil
	}

	wavPath := filepath.Join(r.audioDir, interviewID+".wav")
	if err := pcmToWav(rawPath, wavPath, sampleRate); err != nil {
		return "", fmt.Errorf("encode wav fallback: %w", err)
	}
	return wavPath, nil
}

func encodeWithFFmpeg(rawPath, outputPath string, sampleRate int) error {
	cmd := exec.Command(
		"ffmpeg",
		"-y",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(pcmChannels),
		"-i", rawPath,
		outputPath,
	)
	return cmd.Run()
}

func pcmToWav(rawPath, wavPath string, sampleRate int) error {
	pcmData, err := os.ReadFile(rawPath)
	if err != nil {
		return fmt.Errorf("read raw pcm data: %w", err)
	}

	var out bytes.Buffer
	out.Grow(44 + len(pcmData))
	writeWavHeader(&out, len(pcmData), sampleRate)
	out.Write(pcmData)

	if err := os.WriteFile(wavPath, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write wav output: %w", err)
	}
	return nil
}

// writeWavHeader writes a canonical 44 byte PCM RIFF header.
func writeWavHeader(buf *bytes.Buffer, dataSize, sampleRate int) {
	blockAlign := pcmChannels * pcmBitDepth / 8
	le := binary.LittleEndian

	buf.WriteString("RIFF")
	_ = binary.Write(buf, le, uint32(36+dataSize))
	buf.WriteString("WAVEfmt ")
	for _, v := range []any{
		uint32(16),
		uint16(1),
		uint16(pcmChannels),
		uint32(sampleRate),
		uint32(sampleRate * blockAlign),
		uint16(blockAlign),
		uint16(pcmBitDepth),
	} {
		_ = binary.Write(buf, le, v)
	}
	buf.WriteString("data")
	_ = binary.Write(buf, le, uint32(dataSize))
}
