// Package config holds the streamtts configuration model, its defaults and
// validation, and maps it onto the engine, synthesis source, cache and
// audio device settings.
package config

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/streamtts/internal/audio"
	"github.com/dgnsrekt/streamtts/internal/cache"
	"github.com/dgnsrekt/streamtts/internal/ingest"
	"github.com/dgnsrekt/streamtts/internal/tts"
	"github.com/dgnsrekt/streamtts/internal/ttypes"
)

// Synthesis transports.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
	TransportCommand   = "command"
)

// Defaults for the synthesis API.
const (
	DefaultURL   = "https://api.siliconflow.cn/v1/audio/speech"
	DefaultModel = "FunAudioLLM/CosyVoice2-0.5B"
	DefaultVoice = "FunAudioLLM/CosyVoice2-0.5B:anna"
)

const mib = 1024 * 1024

// Config contains all streamtts configuration options.
type Config struct {
	// Transport selects the synthesis source: http, websocket or command
	Transport string `yaml:"transport" mapstructure:"transport"`

	API      APIConfig      `yaml:"api" mapstructure:"api"`
	Command  CommandConfig  `yaml:"command" mapstructure:"command"`
	Audio    AudioConfig    `yaml:"audio" mapstructure:"audio"`
	Playback PlaybackConfig `yaml:"playback" mapstructure:"playback"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
}

// APIConfig contains the remote synthesis settings.
type APIConfig struct {
	URL   string `yaml:"url" mapstructure:"url"`
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
	Voice string `yaml:"voice" mapstructure:"voice"`

	Speed float64 `yaml:"speed" mapstructure:"speed"`
	Gain  float64 `yaml:"gain" mapstructure:"gain"`

	RequestTimeout    time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
}

// CommandConfig contains the local synthesizer settings.
type CommandConfig struct {
	Path        string        `yaml:"path" mapstructure:"path"`
	Args        []string      `yaml:"args" mapstructure:"args"`
	Env         []string      `yaml:"env" mapstructure:"env"`
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
}

// AudioConfig contains the PCM format and output device settings.
type AudioConfig struct {
	SampleRate    int `yaml:"sample_rate" mapstructure:"sample_rate"`
	Channels      int `yaml:"channels" mapstructure:"channels"`
	BitsPerSample int `yaml:"bits_per_sample" mapstructure:"bits_per_sample"`

	// ChunkSize is the number of frames per chunk
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`

	Volume       float64       `yaml:"volume" mapstructure:"volume"`
	DeviceBuffer time.Duration `yaml:"device_buffer" mapstructure:"device_buffer"`
}

// PlaybackConfig contains session settings.
type PlaybackConfig struct {
	QueueDepth    int           `yaml:"queue_depth" mapstructure:"queue_depth"`
	DrainTimeout  time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout"`
	MaxTextLength int           `yaml:"max_text_length" mapstructure:"max_text_length"`
}

// CacheConfig contains the synthesized audio cache settings.
type CacheConfig struct {
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir              string        `yaml:"dir" mapstructure:"dir"`
	MemoryMB         int64         `yaml:"memory_mb" mapstructure:"memory_mb"`
	DiskMB           int64         `yaml:"disk_mb" mapstructure:"disk_mb"`
	CompressionLevel int           `yaml:"compression_level" mapstructure:"compression_level"`
	TTL              time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Transport: TransportHTTP,
		API: APIConfig{
			URL:               DefaultURL,
			Model:             DefaultModel,
			Voice:             DefaultVoice,
			Speed:             1.0,
			Gain:              0.0,
			RequestTimeout:    ingest.DefaultRequestTimeout,
			ReadTimeout:       ingest.DefaultReadTimeout,
			RequestsPerMinute: 60,
		},
		Command: CommandConfig{
			Path:        "piper",
			Args:        []string{"--model", "{model}", "--output-raw", "--length-scale", "{length_scale}"},
			GracePeriod: ingest.DefaultGracePeriod,
		},
		Audio: AudioConfig{
			SampleRate:    ttypes.DefaultSampleRate,
			Channels:      ttypes.DefaultChannels,
			BitsPerSample: ttypes.DefaultBitsPerSample,
			ChunkSize:     ttypes.DefaultChunkFrames,
			Volume:        1.0,
			DeviceBuffer:  audio.DefaultDeviceOptions().BufferSize,
		},
		Playback: PlaybackConfig{
			QueueDepth:    tts.DefaultQueueDepth,
			MaxTextLength: tts.DefaultMaxTextLength,
		},
		Cache: CacheConfig{
			Enabled:          true,
			MemoryMB:         64,
			DiskMB:           512,
			CompressionLevel: 3,
			TTL:              7 * 24 * time.Hour,
		},
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportHTTP:
		if err := validateURL(c.API.URL, "http", "https"); err != nil {
			return fmt.Errorf("api url: %w", err)
		}
	case TransportWebSocket:
		if err := validateURL(c.API.URL, "ws", "wss"); err != nil {
			return fmt.Errorf("api url: %w", err)
		}
	case TransportCommand:
		if c.Command.Path == "" {
			return fmt.Errorf("command path cannot be empty")
		}
		if c.Command.GracePeriod < 0 {
			return fmt.Errorf("command grace_period cannot be negative, got %v", c.Command.GracePeriod)
		}
	default:
		return fmt.Errorf("invalid transport '%s': must be one of %v",
			c.Transport, []string{TransportHTTP, TransportWebSocket, TransportCommand})
	}

	if c.API.Speed < tts.MinSpeed || c.API.Speed > tts.MaxSpeed {
		return fmt.Errorf("speed must be between %.2f and %.1f, got %v", tts.MinSpeed, tts.MaxSpeed, c.API.Speed)
	}
	if c.API.Gain < tts.MinGain || c.API.Gain > tts.MaxGain {
		return fmt.Errorf("gain must be between %.0f and %.0f, got %v", tts.MinGain, tts.MaxGain, c.API.Gain)
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", c.API.RequestTimeout)
	}
	if c.API.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive, got %v", c.API.ReadTimeout)
	}
	if c.API.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute cannot be negative, got %d", c.API.RequestsPerMinute)
	}

	if err := c.Format().Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if c.Audio.ChunkSize < 1 || c.Audio.ChunkSize > ttypes.MaxChunkFrames {
		return fmt.Errorf("chunk_size must be between 1 and %d frames, got %d", ttypes.MaxChunkFrames, c.Audio.ChunkSize)
	}
	if c.Audio.Volume < 0.0 || c.Audio.Volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %v", c.Audio.Volume)
	}

	if c.Playback.QueueDepth < 1 || c.Playback.QueueDepth > 1024 {
		return fmt.Errorf("queue_depth must be between 1 and 1024, got %d", c.Playback.QueueDepth)
	}
	if c.Playback.DrainTimeout < 0 {
		return fmt.Errorf("drain_timeout cannot be negative, got %v", c.Playback.DrainTimeout)
	}
	if c.Playback.MaxTextLength < 1 {
		return fmt.Errorf("max_text_length must be positive, got %d", c.Playback.MaxTextLength)
	}

	if c.Cache.Enabled {
		if c.Cache.MemoryMB < 0 || c.Cache.DiskMB < 0 {
			return fmt.Errorf("cache sizes cannot be negative")
		}
		if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 22 {
			return fmt.Errorf("cache compression_level must be between 0 and 22, got %d", c.Cache.CompressionLevel)
		}
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !slices.Contains(schemes, u.Scheme) || u.Host == "" {
		return fmt.Errorf("'%s' must be an absolute %v url", raw, schemes)
	}
	return nil
}

// Format returns the session audio format.
func (c Config) Format() ttypes.AudioFormat {
	return ttypes.AudioFormat{
		SampleRate:    c.Audio.SampleRate,
		Channels:      c.Audio.Channels,
		BitsPerSample: c.Audio.BitsPerSample,
	}
}

// EngineConfig converts the configuration to engine settings.
func (c Config) EngineConfig() tts.Config {
	return tts.Config{
		Format:        c.Format(),
		ChunkFrames:   c.Audio.ChunkSize,
		QueueDepth:    c.Playback.QueueDepth,
		ReadTimeout:   c.API.ReadTimeout,
		DrainTimeout:  c.Playback.DrainTimeout,
		MaxTextLength: c.Playback.MaxTextLength,
		Model:         c.API.Model,
		Voice:         c.API.Voice,
		Speed:         c.API.Speed,
		Gain:          c.API.Gain,
	}
}

// DeviceOptions converts the configuration to audio device settings.
func (c Config) DeviceOptions(logger *log.Logger) audio.DeviceOptions {
	opts := audio.DefaultDeviceOptions()
	if c.Audio.DeviceBuffer > 0 {
		opts.BufferSize = c.Audio.DeviceBuffer
	}
	opts.Volume = c.Audio.Volume
	opts.Logger = logger
	return opts
}

// CacheManagerConfig converts the configuration to cache settings. It
// returns nil when caching is disabled. Without a directory the cache is
// memory-only.
func (c Config) CacheManagerConfig() *cache.CacheConfig {
	if !c.Cache.Enabled {
		return nil
	}

	cfg := cache.DefaultCacheConfig()
	cfg.MemoryCapacity = c.Cache.MemoryMB * mib
	cfg.DiskCapacity = c.Cache.DiskMB * mib
	cfg.DiskPath = c.Cache.Dir
	cfg.CompressionLevel = c.Cache.CompressionLevel
	cfg.TTL = c.Cache.TTL
	if c.Cache.Dir == "" {
		cfg.DiskCapacity = 0
	}
	return cfg
}

// NewSource builds the synthesis source selected by Transport.
func (c Config) NewSource(logger *log.Logger) (ingest.Source, error) {
	switch c.Transport {
	case TransportHTTP:
		return ingest.NewHTTPSource(ingest.HTTPConfig{
			URL:               c.API.URL,
			APIKey:            c.API.Key,
			RequestTimeout:    c.API.RequestTimeout,
			RequestsPerMinute: c.API.RequestsPerMinute,
			UserAgent:         c.API.UserAgent,
			Logger:            logger,
		}), nil
	case TransportWebSocket:
		return ingest.NewWebSocketSource(ingest.WebSocketConfig{
			URL:               c.API.URL,
			APIKey:            c.API.Key,
			RequestTimeout:    c.API.RequestTimeout,
			RequestsPerMinute: c.API.RequestsPerMinute,
			Logger:            logger,
		}), nil
	case TransportCommand:
		return ingest.NewCommandSource(ingest.CommandConfig{
			Path:        c.Command.Path,
			Args:        c.Command.Args,
			Env:         c.Command.Env,
			GracePeriod: c.Command.GracePeriod,
			Logger:      logger,
		}), nil
	default:
		return nil, fmt.Errorf("invalid transport '%s'", c.Transport)
	}
}

// Redacted returns a copy safe to print, with the API key masked.
func (c Config) Redacted() Config {
	if n := len(c.API.Key); n > 0 {
		if n > 8 {
			c.API.Key = c.API.Key[:4] + "..." + c.API.Key[n-4:]
		} else {
			c.API.Key = "***"
		}
	}
	return c
}
