package tts

import (
	"fmt"
	"time"

	"github.com/dgnsrekt/streamtts/internal/ttypes"
)

// Engine defaults.
const (
	DefaultQueueDepth    = 32
	DefaultMaxTextLength = 4000
	DefaultReadTimeout   = 15 * time.Second

	MinSpeed = 0.25
	MaxSpeed = 4.0
	MinGain  = -10.0
	MaxGain  = 10.0

	// recentResults is how many finished sessions Result can look up.
	recentResults = 64
)

// Config holds the engine settings that stay fixed between sessions.
type Config struct {
	Format      ttypes.AudioFormat
	ChunkFrames int
	QueueDepth  int

	// ReadTimeout fails a session whose stream stalls this long.
	ReadTimeout time.Duration

	// DrainTimeout bounds the wait for the device after the last chunk.
	// Zero waits as long as it takes.
	DrainTimeout time.Duration

	// MaxTextLength is counted in runes after normalization.
	MaxTextLength int

	// Request defaults, overridable per request
	Model string
	Voice string
	Speed float64
	Gain  float64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Format:        ttypes.DefaultAudioFormat(),
		ChunkFrames:   ttypes.DefaultChunkFrames,
		QueueDepth:    DefaultQueueDepth,
		ReadTimeout:   DefaultReadTimeout,
		MaxTextLength: DefaultMaxTextLength,
		Speed:         1.0,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Format.Validate(); err != nil {
		return err
	}
	if c.ChunkFrames < 1 || c.ChunkFrames > ttypes.MaxChunkFrames {
		return fmt.Errorf("chunk size must be between 1 and %d frames, got %d", ttypes.MaxChunkFrames, c.ChunkFrames)
	}
	if c.QueueDepth < 1 || c.QueueDepth > 1024 {
		return fmt.Errorf("queue depth must be between 1 and 1024, got %d", c.QueueDepth)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive, got %s", c.ReadTimeout)
	}
	if c.MaxTextLength < 1 {
		return fmt.Errorf("max text length must be positive, got %d", c.MaxTextLength)
	}
	if c.Speed < MinSpeed || c.Speed > MaxSpeed {
		return ErrInvalidSpeed
	}
	if c.Gain < MinGain || c.Gain > MaxGain {
		return ErrInvalidGain
	}
	return nil
}
