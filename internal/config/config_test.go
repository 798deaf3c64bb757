package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/streamtts/internal/ingest"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown transport", func(c *Config) { c.Transport = "grpc" }, "invalid transport"},
		{"empty url", func(c *Config) { c.API.URL = "" }, "url cannot be empty"},
		{"websocket url on http", func(c *Config) { c.API.URL = "wss://example.com/tts" }, "must be an absolute"},
		{"http url on websocket", func(c *Config) { c.Transport = TransportWebSocket }, "must be an absolute"},
		{"relative url", func(c *Config) { c.API.URL = "/v1/audio/speech" }, "must be an absolute"},
		{"command without path", func(c *Config) {
			c.Transport = TransportCommand
			c.Command.Path = ""
		}, "command path"},
		{"speed too low", func(c *Config) { c.API.Speed = 0.1 }, "speed must be between"},
		{"gain too high", func(c *Config) { c.API.Gain = 11 }, "gain must be between"},
		{"zero request timeout", func(c *Config) { c.API.RequestTimeout = 0 }, "request_timeout"},
		{"zero read timeout", func(c *Config) { c.API.ReadTimeout = 0 }, "read_timeout"},
		{"negative rate", func(c *Config) { c.API.RequestsPerMinute = -1 }, "requests_per_minute"},
		{"odd sample rate", func(c *Config) { c.Audio.SampleRate = 11025 }, "unsupported sample rate"},
		{"surround", func(c *Config) { c.Audio.Channels = 6 }, "channels"},
		{"8 bit", func(c *Config) { c.Audio.BitsPerSample = 8 }, "bits per sample"},
		{"zero chunk", func(c *Config) { c.Audio.ChunkSize = 0 }, "chunk_size"},
		{"loud", func(c *Config) { c.Audio.Volume = 1.5 }, "volume"},
		{"deep queue", func(c *Config) { c.Playback.QueueDepth = 4096 }, "queue_depth"},
		{"negative drain", func(c *Config) { c.Playback.DrainTimeout = -time.Second }, "drain_timeout"},
		{"zero text length", func(c *Config) { c.Playback.MaxTextLength = 0 }, "max_text_length"},
		{"bad compression", func(c *Config) { c.Cache.CompressionLevel = 30 }, "compression_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_ValidateAlternateTransports(t *testing.T) {
	ws := Default()
	ws.Transport = TransportWebSocket
	ws.API.URL = "wss://example.com/v1/tts"
	if err := ws.Validate(); err != nil {
		t.Errorf("websocket config should be valid: %v", err)
	}

	cmd := Default()
	cmd.Transport = TransportCommand
	cmd.API.URL = ""
	if err := cmd.Validate(); err != nil {
		t.Errorf("command config should not need a url: %v", err)
	}

	// Cache settings are ignored while disabled
	off := Default()
	off.Cache.Enabled = false
	off.Cache.CompressionLevel = 99
	if err := off.Validate(); err != nil {
		t.Errorf("disabled cache should not be validated: %v", err)
	}
}

func TestConfig_EngineConfig(t *testing.T) {
	cfg := Default()
	cfg.API.Speed = 1.5
	cfg.API.Gain = -2
	cfg.Audio.ChunkSize = 1024
	cfg.Playback.QueueDepth = 8

	ec := cfg.EngineConfig()
	if err := ec.Validate(); err != nil {
		t.Fatalf("Engine config should be valid: %v", err)
	}
	if ec.Speed != 1.5 || ec.Gain != -2 {
		t.Errorf("Expected speed 1.5 gain -2, got %v %v", ec.Speed, ec.Gain)
	}
	if ec.ChunkFrames != 1024 || ec.QueueDepth != 8 {
		t.Errorf("Expected 1024 frames and depth 8, got %d %d", ec.ChunkFrames, ec.QueueDepth)
	}
	if ec.Model != DefaultModel || ec.Voice != DefaultVoice {
		t.Errorf("Expected default model and voice, got %q %q", ec.Model, ec.Voice)
	}
	if ec.Format != cfg.Format() {
		t.Errorf("Expected format %v, got %v", cfg.Format(), ec.Format)
	}
}

func TestConfig_CacheManagerConfig(t *testing.T) {
	cfg := Default()
	cfg.Cache.Enabled = false
	if cfg.CacheManagerConfig() != nil {
		t.Error("Disabled cache should produce no cache config")
	}

	cfg.Cache.Enabled = true
	cfg.Cache.Dir = ""
	cc := cfg.CacheManagerConfig()
	if cc.MemoryCapacity != 64*mib {
		t.Errorf("Expected 64MiB memory, got %d", cc.MemoryCapacity)
	}
	if cc.DiskCapacity != 0 {
		t.Errorf("Expected memory-only cache without a dir, got disk capacity %d", cc.DiskCapacity)
	}

	cfg.Cache.Dir = t.TempDir()
	cc = cfg.CacheManagerConfig()
	if cc.DiskPath != cfg.Cache.Dir || cc.DiskCapacity != 512*mib {
		t.Errorf("Expected disk tier at %s, got %s (%d)", cfg.Cache.Dir, cc.DiskPath, cc.DiskCapacity)
	}
}

func TestConfig_NewSource(t *testing.T) {
	tests := []struct {
		transport string
		url       string
		want      string
	}{
		{TransportHTTP, "https://example.com/v1/audio/speech", "http"},
		{TransportWebSocket, "wss://example.com/v1/tts", "websocket"},
		{TransportCommand, "", "command"},
	}

	for _, tt := range tests {
		t.Run(tt.transport, func(t *testing.T) {
			cfg := Default()
			cfg.Transport = tt.transport
			cfg.API.URL = tt.url

			src, err := cfg.NewSource(nil)
			if err != nil {
				t.Fatalf("NewSource failed: %v", err)
			}
			if src.Name() != tt.want {
				t.Errorf("Expected source %q, got %q", tt.want, src.Name())
			}
		})
	}

	cfg := Default()
	cfg.Transport = "carrier-pigeon"
	if _, err := cfg.NewSource(nil); err == nil {
		t.Error("Expected error for unknown transport")
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := Default()
	cfg.API.Key = "sk-1234567890abcdef"

	r := cfg.Redacted()
	if strings.Contains(r.API.Key, "567890") {
		t.Errorf("Key not redacted: %s", r.API.Key)
	}
	if r.API.Key != "sk-1...cdef" {
		t.Errorf("Expected sk-1...cdef, got %s", r.API.Key)
	}
	if cfg.API.Key != "sk-1234567890abcdef" {
		t.Error("Redacted modified the original")
	}

	cfg.API.Key = "short"
	if got := cfg.Redacted().API.Key; got != "***" {
		t.Errorf("Expected short key fully masked, got %s", got)
	}
}

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		t.Fatalf("BindEnv failed: %v", err)
	}
	return v
}

func TestLoad_Defaults(t *testing.T) {
	v := newViper(t)
	v.Set("cache.dir", "")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Transport != TransportHTTP || cfg.API.URL != DefaultURL {
		t.Errorf("Expected defaults, got %s %s", cfg.Transport, cfg.API.URL)
	}
	if cfg.API.RequestTimeout != ingest.DefaultRequestTimeout {
		t.Errorf("Expected request timeout %v, got %v", ingest.DefaultRequestTimeout, cfg.API.RequestTimeout)
	}
	if len(cfg.Command.Args) == 0 {
		t.Error("Expected default command args")
	}
}

func TestLoad_YAML(t *testing.T) {
	v := newViper(t)
	v.SetConfigType("yaml")

	yml := `
transport: websocket
api:
  url: wss://example.com/v1/tts
  voice: alloy
  speed: 1.25
  request_timeout: 5s
audio:
  sample_rate: 24000
  chunk_size: 512
playback:
  drain_timeout: 2s
cache:
  enabled: false
`
	if err := v.ReadConfig(strings.NewReader(yml)); err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Transport != TransportWebSocket {
		t.Errorf("Expected websocket, got %s", cfg.Transport)
	}
	if cfg.API.Voice != "alloy" || cfg.API.Speed != 1.25 {
		t.Errorf("Expected voice alloy at 1.25, got %s at %v", cfg.API.Voice, cfg.API.Speed)
	}
	if cfg.API.Model != DefaultModel {
		t.Errorf("Unset keys should keep defaults, got model %s", cfg.API.Model)
	}
	if cfg.API.RequestTimeout != 5*time.Second {
		t.Errorf("Expected 5s request timeout, got %v", cfg.API.RequestTimeout)
	}
	if cfg.Audio.SampleRate != 24000 || cfg.Audio.ChunkSize != 512 {
		t.Errorf("Expected 24000Hz/512, got %d/%d", cfg.Audio.SampleRate, cfg.Audio.ChunkSize)
	}
	if cfg.Playback.DrainTimeout != 2*time.Second {
		t.Errorf("Expected 2s drain timeout, got %v", cfg.Playback.DrainTimeout)
	}
	if cfg.Cache.Enabled {
		t.Error("Expected cache disabled")
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("STREAMTTS_API_VOICE", "nova")
	t.Setenv("STREAMTTS_PLAYBACK_QUEUE_DEPTH", "16")
	t.Setenv("TTS_API_KEY", "legacy-key")
	t.Setenv("AUDIO_SAMPLE_RATE", "22050")

	v := newViper(t)
	v.Set("cache.dir", "")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Voice != "nova" {
		t.Errorf("Expected voice from STREAMTTS_API_VOICE, got %s", cfg.API.Voice)
	}
	if cfg.Playback.QueueDepth != 16 {
		t.Errorf("Expected queue depth 16, got %d", cfg.Playback.QueueDepth)
	}
	if cfg.API.Key != "legacy-key" {
		t.Errorf("Expected key from TTS_API_KEY, got %s", cfg.API.Key)
	}
	if cfg.Audio.SampleRate != 22050 {
		t.Errorf("Expected sample rate from AUDIO_SAMPLE_RATE, got %d", cfg.Audio.SampleRate)
	}
}

func TestLoad_PrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("STREAMTTS_API_KEY", "new-key")
	t.Setenv("TTS_API_KEY", "legacy-key")

	v := newViper(t)
	v.Set("cache.dir", "")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Key != "new-key" {
		t.Errorf("Expected STREAMTTS_API_KEY to win, got %s", cfg.API.Key)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("STREAMTTS_TRANSPORT", "smoke-signals")

	_, err := Load(newViper(t))
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Expected invalid configuration error, got %v", err)
	}
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.Reset()
	t.Cleanup(homedir.Reset)

	v := newViper(t)
	v.Set("cache.dir", "~/audio-cache")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if want := filepath.Join(home, "audio-cache"); cfg.Cache.Dir != want {
		t.Errorf("Expected %s, got %s", want, cfg.Cache.Dir)
	}
}

func TestCheck(t *testing.T) {
	cfg := Default()
	cfg.Cache.Dir = t.TempDir()

	results := Check(cfg)
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if !results[0].OK {
		t.Errorf("configuration check failed: %v", results[0].Err)
	}
	if results[1].Name != "endpoint" || results[1].OK || !errors.Is(results[1].Err, errNoAPIKey) {
		t.Errorf("Expected endpoint check to fail for missing key, got %+v", results[1])
	}
	if results[1].Guidance == "" {
		t.Error("Expected guidance for missing key")
	}
	if !results[2].OK {
		t.Errorf("cache check failed: %v", results[2].Err)
	}
	if !Failed(results) {
		t.Error("Expected Failed to report the endpoint failure")
	}

	cfg.API.Key = "sk-test"
	if Failed(Check(cfg)) {
		t.Errorf("Expected all checks to pass, got %+v", Check(cfg))
	}
}

func TestCheck_Command(t *testing.T) {
	cfg := Default()
	cfg.Transport = TransportCommand
	cfg.Cache.Enabled = false
	cfg.Command.Path = "streamtts-definitely-missing-binary"

	results := Check(cfg)
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[1].OK || results[1].Guidance == "" {
		t.Errorf("Expected missing synthesizer to fail with guidance, got %+v", results[1])
	}

	exe, err := os.Executable()
	if err != nil {
		t.Skip("no executable path")
	}
	cfg.Command.Path = exe
	if r := Check(cfg)[1]; !r.OK || r.Details["binary_path"] == "" {
		t.Errorf("Expected test binary to resolve, got %+v", r)
	}
}

func TestCheck_CacheDirNotWritable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.API.Key = "sk-test"
	cfg.Cache.Dir = filepath.Join(file, "cache")

	results := Check(cfg)
	last := results[len(results)-1]
	if last.Name != "cache" || last.OK {
		t.Errorf("Expected cache check to fail, got %+v", last)
	}
}
