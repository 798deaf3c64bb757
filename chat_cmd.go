package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/streamtts/internal/playback"
	"github.com/dgnsrekt/streamtts/internal/tts"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Speak each line typed, interrupting the previous one",
	Long: paragraph(fmt.Sprintf("\n%s line by line. Every line supersedes whatever is still playing. Commands: %s.",
		keyword("Talk"), strings.Join(chatCommands, ", "))),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		engine, _, err := newEngine(cfg, output{})
		if err != nil {
			return err
		}
		defer func() { _ = engine.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		speed, err := tts.NewSpeedControl(cfg.API.Speed)
		if err != nil {
			return err
		}

		return newChat(engine, speed, cmd.OutOrStdout()).run(ctx, cmd.InOrStdin())
	},
}

var chatCommands = []string{"/pause", "/resume", "/stop", "/status", "/wait", "/faster", "/slower", "/quit"}

var errQuit = errors.New("quit")

// player is the part of the engine chat drives.
type player interface {
	SubmitRequest(ctx context.Context, req tts.Request) (string, error)
	Pause() error
	Resume() error
	StopCurrent() error
	Current() (tts.Result, bool)
	WaitForCompletionContext(ctx context.Context) (tts.Result, error)
}

type chat struct {
	engine player
	speed  *tts.SpeedControl
	out    io.Writer
}

func newChat(engine player, speed *tts.SpeedControl, out io.Writer) *chat {
	return &chat{engine: engine, speed: speed, out: out}
}

func (c *chat) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := c.handle(ctx, strings.TrimSpace(line)); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintln(c.out, styled(failStyle.Render, err.Error()))
			}
		}
	}
}

func (c *chat) handle(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		speed := c.speed.Speed()
		_, err := c.engine.SubmitRequest(ctx, tts.Request{Text: line, Speed: &speed})
		return err
	}

	switch line {
	case "/pause":
		return c.engine.Pause()
	case "/resume":
		return c.engine.Resume()
	case "/stop":
		return c.engine.StopCurrent()
	case "/status":
		c.printStatus()
	case "/wait":
		res, err := c.engine.WaitForCompletionContext(ctx)
		if err != nil {
			return err
		}
		c.printResult(res)
	case "/faster":
		c.speed.Faster()
		fmt.Fprintln(c.out, "speed", styled(keyword, c.speed.String()))
	case "/slower":
		c.speed.Slower()
		fmt.Fprintln(c.out, "speed", styled(keyword, c.speed.String()))
	case "/quit", "/exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %s, try one of %s", line, strings.Join(chatCommands, " "))
	}
	return nil
}

func (c *chat) printStatus() {
	res, ok := c.engine.Current()
	if !ok {
		fmt.Fprintln(c.out, stateLabel(playback.StateIdle), styled(faint, "speed "+c.speed.String()))
		return
	}
	c.printResult(res)
}

func (c *chat) printResult(res tts.Result) {
	line := fmt.Sprintf("%s %s %s", stateLabel(res.State), res.SessionID, formatDuration(res.Played))
	if res.Err != nil {
		line += " " + res.Err.Error()
	}
	if !res.FinishedAt.IsZero() {
		line += styled(faint, fmt.Sprintf(" (%s)", formatDuration(res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))))
	}
	fmt.Fprintln(c.out, line)
}
