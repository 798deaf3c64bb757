package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/dgnsrekt/streamtts/internal/ingest"
)

// CheckResult is the outcome of one diagnostic.
type CheckResult struct {
	// Name of the check, e.g. "endpoint"
	Name string

	// OK is true when the check passed
	OK bool

	// Err contains the failure, if any
	Err error

	// Guidance provides setup instructions if the check failed
	Guidance string

	// Details contains additional information for display
	Details map[string]string
}

var errNoAPIKey = errors.New("no API key configured")

// Check runs the offline diagnostics for cfg. It never contacts the
// synthesis service.
func Check(cfg Config) []CheckResult {
	results := []CheckResult{checkConfig(cfg)}

	switch cfg.Transport {
	case TransportCommand:
		results = append(results, checkCommand(cfg.Command))
	default:
		results = append(results, checkEndpoint(cfg))
	}

	if cfg.Cache.Enabled {
		results = append(results, checkCacheDir(cfg.Cache.Dir))
	}

	return results
}

// Failed reports whether any result failed.
func Failed(results []CheckResult) bool {
	for _, r := range results {
		if !r.OK {
			return true
		}
	}
	return false
}

func checkConfig(cfg Config) CheckResult {
	result := CheckResult{
		Name:    "configuration",
		Details: map[string]string{"transport": cfg.Transport, "format": cfg.Format().String()},
	}
	if err := cfg.Validate(); err != nil {
		result.Err = err
		result.Guidance = "Run `streamtts config` to edit the configuration file."
		return result
	}
	result.OK = true
	return result
}

func checkEndpoint(cfg Config) CheckResult {
	result := CheckResult{Name: "endpoint", Details: make(map[string]string)}

	u, err := url.Parse(cfg.API.URL)
	if err != nil {
		result.Err = fmt.Errorf("invalid endpoint: %w", err)
		result.Guidance = "Set api.url to the speech endpoint of your provider."
		return result
	}
	result.Details["host"] = u.Host
	result.Details["model"] = cfg.API.Model
	result.Details["voice"] = cfg.API.Voice

	if cfg.API.Key == "" {
		result.Err = errNoAPIKey
		result.Guidance = buildAPIKeyGuidance()
		return result
	}

	result.OK = true
	result.Details["status"] = "Ready (full validation requires network test)"
	return result
}

func checkCommand(cmd CommandConfig) CheckResult {
	result := CheckResult{Name: "synthesizer", Details: make(map[string]string)}

	src := ingest.NewCommandSource(ingest.CommandConfig{Path: cmd.Path, Args: cmd.Args})
	path, err := src.LookPath()
	if err != nil {
		result.Err = err
		result.Guidance = buildPiperInstallGuidance()
		return result
	}
	result.Details["binary_path"] = path

	result.OK = true
	result.Details["status"] = "Ready (full validation requires test synthesis)"
	return result
}

func checkCacheDir(dir string) CheckResult {
	result := CheckResult{Name: "cache", Details: map[string]string{"dir": dir}}

	if dir == "" {
		result.OK = true
		result.Details["status"] = "memory only"
		return result
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Err = fmt.Errorf("cache directory not accessible: %w", err)
		result.Guidance = "Check the cache.dir path and permissions, or set cache.enabled to false."
		return result
	}

	tmp, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		result.Err = fmt.Errorf("cache directory not writable: %w", err)
		result.Guidance = "Check the cache.dir path and permissions, or set cache.enabled to false."
		return result
	}
	name := tmp.Name()
	_ = tmp.Close()
	_ = os.Remove(filepath.Clean(name))

	result.OK = true
	return result
}

func buildAPIKeyGuidance() string {
	return `No API key configured. To configure:

1. Create a key with your speech provider.
2. Export it before running streamtts:

   export STREAMTTS_API_KEY=sk-...

   # TTS_API_KEY is accepted too

3. Or store it in ~/.config/streamtts/streamtts.yml:
   api:
     key: sk-...`
}

// buildPiperInstallGuidance provides instructions for installing Piper
func buildPiperInstallGuidance() string {
	return `The synthesizer command was not found. To use Piper:

1. Download Piper binary from: https://github.com/rhasspy/piper/releases
2. Extract and add to PATH, or install via package manager:

   # Arch Linux
   yay -S piper-tts

   # Or download release manually:
   wget https://github.com/rhasspy/piper/releases/latest/download/piper_linux_x86_64.tar.gz
   tar -xzf piper_linux_x86_64.tar.gz
   sudo cp piper/piper /usr/local/bin/

3. Download a voice model from: https://github.com/rhasspy/piper/blob/master/VOICES.md
4. Point command.path and command.args at it in ~/.config/streamtts/streamtts.yml`
}
