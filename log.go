package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"

	"github.com/dgnsrekt/streamtts/utils"
)

// logConfig is read from the environment so logging works before flags and
// the config file are parsed.
type logConfig struct {
	Level  string `env:"STREAMTTS_LOG_LEVEL" envDefault:"warn"`
	File   string `env:"STREAMTTS_LOG_FILE"`
	Format string `env:"STREAMTTS_LOG_FORMAT" envDefault:"text"`
}

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, "streamtts").CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "streamtts.log"), nil
}

// setupLog configures the default logger. STREAMTTS_LOG_FILE=auto logs to
// the user cache directory; any other value is used as a path.
func setupLog() (func() error, error) {
	lc, err := env.ParseAs[logConfig]()
	if err != nil {
		return nil, fmt.Errorf("error parsing log config: %w", err)
	}

	level, err := log.ParseLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid STREAMTTS_LOG_LEVEL: %w", err)
	}
	log.SetLevel(level)

	switch strings.ToLower(lc.Format) {
	case "json":
		log.SetFormatter(log.JSONFormatter)
	case "logfmt":
		log.SetFormatter(log.LogfmtFormatter)
	case "", "text":
		log.SetFormatter(log.TextFormatter)
	default:
		return nil, fmt.Errorf("invalid STREAMTTS_LOG_FORMAT %q: use text, json or logfmt", lc.Format)
	}

	noop := func() error { return nil }
	if lc.File == "" {
		return noop, nil
	}

	logFile := utils.ExpandPath(lc.File)
	if lc.File == "auto" {
		if logFile, err = getLogFilePath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		// log disabled
		return noop, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return noop, nil
	}
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	return f.Close, nil
}
