// Package main provides the entry point for the streamtts CLI application.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/streamtts/internal/config"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string

	// cfg is the effective configuration, loaded before any command runs.
	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "streamtts",
		Short: "Stream text-to-speech audio as it is synthesized",
		Long: paragraph(
			fmt.Sprintf("\nStream text-to-speech audio %s, with pause, resume and interruption.", keyword("as it arrives")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// loadConfig reads an explicit --config file, if given, and decodes the
// effective configuration. Commands that only touch the config file skip
// validation so a broken file can still be edited.
func loadConfig(cmd *cobra.Command) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	loaded, err := config.Load(viper.GetViper())
	if err != nil && !skipsValidation(cmd) {
		return err
	}
	cfg = loaded

	log.Debug("Configuration loaded", "transport", cfg.Transport, "format", cfg.Format(), "file", viper.ConfigFileUsed())
	return nil
}

// skipValidation marks commands that run with an invalid configuration.
const skipValidation = "streamtts/skip-validation"

func skipsValidation(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipValidation] == "true" {
			return true
		}
	}
	return false
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	loadDotEnv()
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	flags.String("transport", "", "synthesis transport (http, websocket or command)")
	flags.String("url", "", "synthesis endpoint")
	flags.String("voice", "", "voice to speak with")
	flags.StringP("model", "m", "", "synthesis model")
	flags.Float64P("speed", "s", 0, "speaking speed (0.25 to 4.0)")
	flags.Float64("volume", 0, "output volume (0.0 to 1.0)")

	_ = viper.BindPFlag("transport", flags.Lookup("transport"))
	_ = viper.BindPFlag("api.url", flags.Lookup("url"))
	_ = viper.BindPFlag("api.voice", flags.Lookup("voice"))
	_ = viper.BindPFlag("api.model", flags.Lookup("model"))
	_ = viper.BindPFlag("api.speed", flags.Lookup("speed"))
	_ = viper.BindPFlag("audio.volume", flags.Lookup("volume"))

	config.SetDefaults(viper.GetViper())
	if err := config.BindEnv(viper.GetViper()); err != nil {
		log.Error("Could not bind environment", "err", err)
	}

	rootCmd.AddCommand(speakCmd, chatCmd, watchCmd, serveCmd, configCmd, manCmd)
}

// loadDotEnv loads a .env file from the working directory. Variables that
// are already set keep their value.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Could not parse .env file", "err", err)
	}
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "streamtts")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "streamtts")}, dirs...)
	}

	if c := os.Getenv("STREAMTTS_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("streamtts")
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "streamtts.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
