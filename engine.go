package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/streamtts/internal/audio"
	"github.com/dgnsrekt/streamtts/internal/cache"
	"github.com/dgnsrekt/streamtts/internal/config"
	"github.com/dgnsrekt/streamtts/internal/tts"
)

// output selects where a command's audio goes.
type output struct {
	save string // WAV recording path
	mute bool   // no device
}

// newEngine wires the configured source, the output sinks and the cache
// into an engine. The returned recorder is nil unless output.save is set.
func newEngine(c config.Config, out output) (*tts.Engine, *audio.WAVSink, error) {
	if out.mute && out.save == "" {
		return nil, nil, errors.New("--mute needs --save")
	}

	source, err := c.NewSource(log.Default().WithPrefix("ingest"))
	if err != nil {
		return nil, nil, err
	}

	var (
		sinks    []audio.Sink
		recorder *audio.WAVSink
	)
	if !out.mute {
		sinks = append(sinks, audio.NewDeviceSink(c.DeviceOptions(log.Default().WithPrefix("audio"))))
	}
	if out.save != "" {
		recorder = audio.NewWAVSink(out.save)
		sinks = append(sinks, recorder)
	}

	var sink audio.Sink = sinks[0]
	if len(sinks) > 1 {
		sink = audio.NewTee(sinks...)
	}

	opts := []tts.Option{tts.WithLogger(log.Default().WithPrefix("engine"))}

	var manager *cache.Manager
	if cc := c.CacheManagerConfig(); cc != nil {
		manager, err = cache.NewManager(cc, log.Default().WithPrefix("cache"))
		if err != nil {
			log.Warn("Cache disabled", "err", err)
		} else {
			opts = append(opts, tts.WithCache(manager))
		}
	}

	engine, err := tts.New(c.EngineConfig(), sink, source, opts...)
	if err != nil {
		if manager != nil {
			_ = manager.Close()
		}
		return nil, nil, fmt.Errorf("unable to create engine: %w", err)
	}
	return engine, recorder, nil
}

// segmentPath numbers recordings when a text is spoken in several
// sessions: out.wav becomes out-002.wav for the second one.
func segmentPath(path string, n, total int) string {
	if total <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%03d%s", strings.TrimSuffix(path, ext), n, ext)
}
