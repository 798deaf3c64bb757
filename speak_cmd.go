package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/streamtts/internal/playback"
	"github.com/dgnsrekt/streamtts/internal/textprep"
	"github.com/dgnsrekt/streamtts/internal/tts"
	"github.com/dgnsrekt/streamtts/utils"
)

var (
	speakFile     string
	speakMarkdown bool
	speakCode     bool
	speakSave     string
	speakMute     bool
	speakTimeout  time.Duration
	speakQuiet    bool

	speakCmd = &cobra.Command{
		Use:   "speak [TEXT|-]",
		Short: "Speak text from arguments, a file or stdin",
		Long: paragraph(fmt.Sprintf("\n%s text as it is synthesized. Long input is split into sentences and spoken in order; Ctrl-C interrupts.", keyword("Speak"))),
		Example: paragraph("streamtts speak \"Hello there\"\n" +
			"echo hello | streamtts speak -\n" +
			"streamtts speak --file README.md\n" +
			"streamtts speak --save out.wav --mute \"Recorded, not played\""),
		Args: cobra.ArbitraryArgs,
		RunE: runSpeak,
	}
)

func init() {
	speakCmd.Flags().StringVarP(&speakFile, "file", "f", "", "read text from a file")
	speakCmd.Flags().BoolVar(&speakMarkdown, "markdown", false, "treat input as Markdown (implied for .md files)")
	speakCmd.Flags().BoolVar(&speakCode, "code", false, "read code blocks in Markdown")
	speakCmd.Flags().StringVarP(&speakSave, "save", "o", "", "record to a WAV file")
	speakCmd.Flags().BoolVar(&speakMute, "mute", false, "do not play, only record (needs --save)")
	speakCmd.Flags().DurationVarP(&speakTimeout, "timeout", "t", 0, "give up after this long (0 waits)")
	speakCmd.Flags().BoolVarP(&speakQuiet, "quiet", "q", false, "do not print a summary")
}

func runSpeak(cmd *cobra.Command, args []string) error {
	text, err := speakInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	segments := textprep.Segment(text, cfg.Playback.MaxTextLength)
	if len(segments) == 0 {
		return errors.New("nothing to speak")
	}

	engine, recorder, err := newEngine(cfg, output{save: speakSave, mute: speakMute})
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var onSegment func(int) error
	if recorder != nil {
		onSegment = func(i int) error {
			return recorder.SetPath(segmentPath(speakSave, i+1, len(segments)))
		}
	}

	sum, err := speakSegments(ctx, engine, segments, speakTimeout, onSegment)
	if !speakQuiet {
		printSummary(cmd.OutOrStdout(), sum)
	}
	return err
}

// speakInput resolves the text from --file, "-" for stdin or the
// arguments. Markdown is converted to speech text.
func speakInput(stdin io.Reader, args []string) (string, error) {
	var (
		b        []byte
		err      error
		markdown = speakMarkdown
	)

	switch {
	case speakFile != "":
		b, err = os.ReadFile(utils.ExpandPath(speakFile))
		if err != nil {
			return "", fmt.Errorf("unable to read file: %w", err)
		}
		markdown = markdown || utils.IsMarkdownFile(speakFile)
	case len(args) == 0 || (len(args) == 1 && args[0] == "-"):
		b, err = io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("unable to read from stdin: %w", err)
		}
	default:
		b = []byte(strings.Join(args, " "))
	}

	if markdown {
		p := textprep.NewParser(textprep.WithCodeBlocks(speakCode))
		return p.Markdown(string(utils.RemoveFrontmatter(b))), nil
	}
	return string(b), nil
}

// summary aggregates the sessions of one command.
type summary struct {
	Segments int
	Spoken   int
	State    playback.State
	Chunks   int64
	Bytes    int64
	Played   time.Duration
	Elapsed  time.Duration
}

func (s *summary) add(res tts.Result) {
	s.Spoken++
	s.State = res.State
	s.Chunks += res.ChunksWritten
	s.Bytes += res.BytesWritten
	s.Played += res.Played
}

// speakSegments speaks each segment in its own session and waits for it.
// It stops at the first session that does not complete. timeout bounds
// the whole run. When ctx ends the current session is interrupted and the
// run ends as cancelled without an error. onSegment runs before each
// segment is submitted; an error from it stops the run.
func speakSegments(ctx context.Context, engine *tts.Engine, segments []string, timeout time.Duration, onSegment func(int) error) (summary, error) {
	sum := summary{Segments: len(segments), State: playback.StateIdle}
	start := time.Now()

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	finish := func(err error) (summary, error) {
		sum.Elapsed = time.Since(start)
		if ctx.Err() != nil {
			sum.State = playback.StateCancelled
			return sum, nil
		}
		return sum, err
	}

	for i, seg := range segments {
		if waitCtx.Err() != nil {
			return finish(waitCtx.Err())
		}
		if onSegment != nil {
			if err := onSegment(i); err != nil {
				return finish(fmt.Errorf("segment %d: %w", i+1, err))
			}
		}

		id, err := engine.SubmitRequest(waitCtx, tts.Request{Text: seg})
		if err != nil {
			return finish(err)
		}
		log.Debug("Segment submitted", "session", id, "segment", i+1, "of", len(segments))

		res, err := engine.WaitForCompletionContext(waitCtx)
		if err != nil {
			_ = engine.Interrupt()
			if final, ok := engine.Result(id); ok {
				res = final
			}
			sum.add(res)
			return finish(err)
		}
		sum.add(res)

		if res.State != playback.StateCompleted {
			return finish(res.Err)
		}
	}

	return finish(nil)
}

func printSummary(w io.Writer, s summary) {
	if s.Spoken == 0 {
		return
	}

	segments := ""
	if s.Segments > 1 {
		segments = fmt.Sprintf(" %d/%d segments,", s.Spoken, s.Segments)
	}
	fmt.Fprintf(w, "%s%s %s of audio (%s, %s chunks) in %s\n",
		stateLabel(s.State),
		segments,
		styled(keyword, formatDuration(s.Played)),
		humanize.Bytes(uint64(s.Bytes)), //nolint:gosec
		humanize.Comma(s.Chunks),
		formatDuration(s.Elapsed),
	)
}
