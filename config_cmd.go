package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/streamtts/internal/config"
)

const defaultConfig = `# synthesis transport: http, websocket or command
transport: "http"

api:
  # speech endpoint (http(s) for http, ws(s) for websocket)
  url: "https://api.siliconflow.cn/v1/audio/speech"
  # prefer STREAMTTS_API_KEY (or TTS_API_KEY) over storing the key here
  # key: ""
  model: "FunAudioLLM/CosyVoice2-0.5B"
  voice: "FunAudioLLM/CosyVoice2-0.5B:anna"
  # speaking speed (0.25 to 4.0)
  speed: 1.0
  # gain in dB (-10 to 10)
  gain: 0.0
  request_timeout: "30s"
  # fail a session whose stream stalls this long
  read_timeout: "15s"
  # 0 disables rate limiting
  requests_per_minute: 60

# local synthesizer, used with transport "command". The text is written to
# stdin; raw PCM or WAV is read from stdout. Placeholders: {voice} {model}
# {speed} {length_scale} {sample_rate}
command:
  path: "piper"
  args: ["--model", "{model}", "--output-raw", "--length-scale", "{length_scale}"]
  grace_period: "100ms"

audio:
  # 8000, 16000, 22050, 24000, 44100, 48000 or 96000
  sample_rate: 44100
  channels: 1
  bits_per_sample: 16
  # frames per chunk (1 to 8192)
  chunk_size: 2048
  # output volume (0.0 to 1.0)
  volume: 1.0
  device_buffer: "100ms"

playback:
  # chunks buffered between network and device
  queue_depth: 32
  # 0 waits for the device as long as it takes
  drain_timeout: "0s"
  # characters per request; longer input is split into sentences
  max_text_length: 4000

cache:
  enabled: true
  # defaults to the user cache directory
  # dir: "~/.cache/streamtts/audio"
  memory_mb: 64
  disk_mb: 512
  # zstd level for the disk tier, 0 disables compression
  compression_level: 3
  ttl: "168h"
`

var configCmd = &cobra.Command{
	Use:         "config",
	Hidden:      false,
	Short:       "Edit the streamtts config file",
	Long:        paragraph(fmt.Sprintf("\n%s the streamtts config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example:     paragraph("streamtts config\nstreamtts config --config path/to/config.yml"),
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipValidation: "true"},
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("streamtts", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  paragraph(fmt.Sprintf("\n%s the configuration after defaults, the config file, environment and flags are applied. The API key is masked.", keyword("Print"))),
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Diagnose the configuration",
	Long:  paragraph(fmt.Sprintf("\n%s the endpoint, API key, audio format, cache directory and synthesizer command, and print setup guidance for every failed check.", keyword("Check"))),
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		results := config.Check(cfg)
		printCheckResults(cmd.OutOrStdout(), results)
		if config.Failed(results) {
			return errors.New("configuration check failed")
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configCheckCmd)
}

func writeConfig(w io.Writer, c config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return fmt.Errorf("unable to encode config: %w", err)
	}
	return enc.Close()
}

func printCheckResults(w io.Writer, results []config.CheckResult) {
	for _, r := range results {
		mark := styled(okStyle.Render, "✓")
		if !r.OK {
			mark = styled(failStyle.Render, "✗")
		}
		fmt.Fprintf(w, "%s %s\n", mark, r.Name)

		keys := make([]string, 0, len(r.Details))
		for k := range r.Details {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "    %s\n", styled(faint, k+": "+r.Details[k]))
		}

		if r.Err != nil {
			fmt.Fprintf(w, "    %v\n", r.Err)
		}
		if r.Guidance != "" {
			fmt.Fprintf(w, "\n%s\n\n", indent(r.Guidance, "    "))
		}
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
