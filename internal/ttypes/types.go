// Package ttypes contains shared value types for the streaming TTS system.
// This package is used to break import cycles between the queue, audio,
// ingest and playback packages.
package ttypes

import (
	"fmt"
	"time"
)

// Supported PCM parameters.
const (
	// DefaultSampleRate is the sample rate requested from the synthesis API.
	DefaultSampleRate = 44100

	// DefaultChannels is mono, which every supported voice produces.
	DefaultChannels = 1

	// DefaultBitsPerSample is signed 16-bit little endian PCM.
	DefaultBitsPerSample = 16

	// DefaultChunkFrames is the number of frames per AudioChunk.
	DefaultChunkFrames = 2048

	// MaxChunkFrames bounds a single chunk.
	MaxChunkFrames = 8192
)

// SupportedSampleRates lists the sample rates accepted by the pipeline.
var SupportedSampleRates = []int{8000, 16000, 22050, 24000, 44100, 48000, 96000}

// AudioFormat describes raw interleaved PCM. It is fixed for the lifetime of
// a session.
type AudioFormat struct {
	SampleRate    int // Frames per second
	Channels      int // 1 = mono, 2 = stereo
	BitsPerSample int // Only 16 is supported
}

// DefaultAudioFormat returns 44.1kHz mono 16-bit PCM.
func DefaultAudioFormat() AudioFormat {
	return AudioFormat{
		SampleRate:    DefaultSampleRate,
		Channels:      DefaultChannels,
		BitsPerSample: DefaultBitsPerSample,
	}
}

// Validate checks the format against what the pipeline can play.
func (f AudioFormat) Validate() error {
	supported := false
	for _, r := range SupportedSampleRates {
		if f.SampleRate == r {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("unsupported sample rate %d, must be one of %v", f.SampleRate, SupportedSampleRates)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", f.Channels)
	}
	if f.BitsPerSample != 16 {
		return fmt.Errorf("bits per sample must be 16, got %d", f.BitsPerSample)
	}
	return nil
}

// BytesPerSample returns the size of one sample of one channel.
func (f AudioFormat) BytesPerSample() int {
	return f.BitsPerSample / 8
}

// BytesPerFrame returns the size of one interleaved frame.
func (f AudioFormat) BytesPerFrame() int {
	return f.Channels * f.BytesPerSample()
}

// BytesPerSecond returns the byte rate of the stream.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.BytesPerFrame()
}

// Duration returns how long n bytes of PCM in this format play for.
func (f AudioFormat) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// String implements fmt.Stringer.
func (f AudioFormat) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitsPerSample)
}

// AudioChunk is one unit of streamed PCM with its position in the session.
type AudioChunk struct {
	// Seq increases by one per chunk, starting at 0 for every session.
	Seq int64

	// Payload is raw interleaved PCM, always a whole number of frames.
	Payload []byte

	// Final marks the last chunk of a stream.
	Final bool
}

// Len returns the payload size in bytes.
func (c AudioChunk) Len() int {
	return len(c.Payload)
}
