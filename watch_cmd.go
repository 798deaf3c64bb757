package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/streamtts/internal/textprep"
	"github.com/dgnsrekt/streamtts/internal/tts"
	"github.com/dgnsrekt/streamtts/utils"
)

// Editors often write a file in several steps.
const watchDebounce = 200 * time.Millisecond

var watchCode bool

var watchCmd = &cobra.Command{
	Use:     "watch FILE",
	Short:   "Speak a file every time it changes",
	Long:    paragraph(fmt.Sprintf("\n%s FILE and speak it again on every write, interrupting the previous reading.", keyword("Watch"))),
	Example: paragraph("streamtts watch notes.md"),
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(utils.ExpandPath(args[0]))
		if err != nil {
			return err
		}

		engine, _, err := newEngine(cfg, output{})
		if err != nil {
			return err
		}
		defer func() { _ = engine.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return watchFile(ctx, engine, path)
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchCode, "code", false, "read code blocks in Markdown")
}

func watchFile(ctx context.Context, engine *tts.Engine, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("unable to watch %s: %w", dir, err)
	}
	log.Info("fsnotify watching dir", "dir", dir)

	r := &reader{engine: engine}
	defer r.stop()

	r.start(ctx, path)

	debounce := time.NewTimer(watchDebounce)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			log.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			debounce.Reset(watchDebounce)

		case <-debounce.C:
			r.start(ctx, path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Debug("fsnotify error", "dir", dir, "error", err)
		}
	}
}

// reader speaks one version of the file at a time. Starting a new reading
// cancels the previous one and waits for it.
type reader struct {
	engine *tts.Engine
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *reader) start(ctx context.Context, path string) {
	r.stop()

	segments, err := fileSegments(path)
	if err != nil {
		log.Error("Could not read file", "path", path, "err", err)
		return
	}
	if len(segments) == 0 {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		sum, err := speakSegments(runCtx, r.engine, segments, 0, nil)
		if err != nil && runCtx.Err() == nil {
			log.Error("Reading failed", "path", path, "err", err)
		}
		log.Info("Reading finished", "path", path, "state", sum.State, "played", formatDuration(sum.Played))
	}(r.done)
}

func (r *reader) stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
}

func fileSegments(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	text := string(b)
	if utils.IsMarkdownFile(path) {
		p := textprep.NewParser(textprep.WithCodeBlocks(watchCode))
		text = p.Markdown(string(utils.RemoveFrontmatter(b)))
	}
	return textprep.Segment(text, cfg.Playback.MaxTextLength), nil
}
