package config

import (
	"fmt"
	"path/filepath"
	"strings"

	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/streamtts/utils"
)

// EnvPrefix is prepended to every environment override, e.g.
// STREAMTTS_API_KEY for api.key.
const EnvPrefix = "STREAMTTS"

// legacyEnv maps the environment names older deployments use onto keys.
var legacyEnv = map[string]string{
	"api.url":           "TTS_API_URL",
	"api.key":           "TTS_API_KEY",
	"api.model":         "TTS_DEFAULT_MODEL",
	"api.voice":         "TTS_DEFAULT_VOICE",
	"audio.sample_rate": "AUDIO_SAMPLE_RATE",
	"audio.channels":    "AUDIO_CHANNELS",
	"audio.chunk_size":  "AUDIO_CHUNK_SIZE",
}

// SetDefaults sets default values in Viper for every configuration key.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("transport", defaults.Transport)

	// API settings
	v.SetDefault("api.url", defaults.API.URL)
	v.SetDefault("api.key", defaults.API.Key)
	v.SetDefault("api.model", defaults.API.Model)
	v.SetDefault("api.voice", defaults.API.Voice)
	v.SetDefault("api.speed", defaults.API.Speed)
	v.SetDefault("api.gain", defaults.API.Gain)
	v.SetDefault("api.request_timeout", defaults.API.RequestTimeout)
	v.SetDefault("api.read_timeout", defaults.API.ReadTimeout)
	v.SetDefault("api.requests_per_minute", defaults.API.RequestsPerMinute)
	v.SetDefault("api.user_agent", defaults.API.UserAgent)

	// Command settings
	v.SetDefault("command.path", defaults.Command.Path)
	v.SetDefault("command.args", defaults.Command.Args)
	v.SetDefault("command.env", defaults.Command.Env)
	v.SetDefault("command.grace_period", defaults.Command.GracePeriod)

	// Audio settings
	v.SetDefault("audio.sample_rate", defaults.Audio.SampleRate)
	v.SetDefault("audio.channels", defaults.Audio.Channels)
	v.SetDefault("audio.bits_per_sample", defaults.Audio.BitsPerSample)
	v.SetDefault("audio.chunk_size", defaults.Audio.ChunkSize)
	v.SetDefault("audio.volume", defaults.Audio.Volume)
	v.SetDefault("audio.device_buffer", defaults.Audio.DeviceBuffer)

	// Playback settings
	v.SetDefault("playback.queue_depth", defaults.Playback.QueueDepth)
	v.SetDefault("playback.drain_timeout", defaults.Playback.DrainTimeout)
	v.SetDefault("playback.max_text_length", defaults.Playback.MaxTextLength)

	// Cache settings
	v.SetDefault("cache.enabled", defaults.Cache.Enabled)
	v.SetDefault("cache.dir", DefaultCacheDir())
	v.SetDefault("cache.memory_mb", defaults.Cache.MemoryMB)
	v.SetDefault("cache.disk_mb", defaults.Cache.DiskMB)
	v.SetDefault("cache.compression_level", defaults.Cache.CompressionLevel)
	v.SetDefault("cache.ttl", defaults.Cache.TTL)
}

// BindEnv enables STREAMTTS_* overrides and the legacy variable names.
// The prefixed names win when both are set.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Load reads the configuration out of v and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unable to decode configuration: %w", err)
	}

	cfg.Cache.Dir = utils.ExpandPath(cfg.Cache.Dir)
	cfg.Command.Path = utils.ExpandPath(cfg.Command.Path)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultCacheDir returns the per-user cache directory for synthesized audio.
func DefaultCacheDir() string {
	dir, err := gap.NewScope(gap.User, "streamtts").CacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "audio")
}
