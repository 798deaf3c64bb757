package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DefaultGracePeriod is how long a canceled synthesizer may take to
	// exit after the interrupt before it is killed.
	DefaultGracePeriod = 100 * time.Millisecond

	// stderrLimit caps how much synthesizer output is kept for errors.
	stderrLimit = 2048
)

// CommandConfig holds configuration for the command source.
type CommandConfig struct {
	// Path of the synthesizer executable, looked up in PATH unless it
	// contains a separator.
	Path string

	// Args are passed to the process after placeholder expansion:
	// {voice}, {model}, {speed}, {length_scale} and {sample_rate}.
	Args []string

	// Env entries are added to the inherited environment.
	Env []string

	GracePeriod time.Duration
	Logger      *log.Logger
}

// CommandSource runs a local synthesizer per request, such as
// "piper --output-raw", writing the text to its stdin and streaming raw PCM
// from its stdout.
type CommandSource struct {
	path   string
	args   []string
	env    []string
	grace  time.Duration
	logger *log.Logger
}

// NewCommandSource creates a new command source.
func NewCommandSource(config CommandConfig) *CommandSource {
	if config.GracePeriod <= 0 {
		config.GracePeriod = DefaultGracePeriod
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &CommandSource{
		path:   config.Path,
		args:   config.Args,
		env:    config.Env,
		grace:  config.GracePeriod,
		logger: logger,
	}
}

// Name implements Source.
func (s *CommandSource) Name() string {
	return "command"
}

// Origin implements Origin.
func (s *CommandSource) Origin() string {
	return s.path
}

// Stream implements Source. The process starts before Stream returns; a
// failure to start is a connect error and a non-zero exit surfaces as a
// stream error from Read once stdout is exhausted.
func (s *CommandSource) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, s.path, s.expand(req)...)
	cmd.Stdin = strings.NewReader(req.Text)
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}

	// Interrupt first so the synthesizer can clean up, kill after the grace period
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = s.grace

	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &TransportError{Kind: KindConnect, Message: "synthesizer stdout", Err: err}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &TransportError{Kind: KindConnect, Message: "start " + s.path, Err: err}
	}

	s.logger.Debug("Synthesizer started", "request", req.ID, "path", s.path, "pid", cmd.Process.Pid)

	return &commandStream{
		stdout: stdout,
		cmd:    cmd,
		cancel: cancel,
		stderr: stderr,
	}, nil
}

// expand substitutes request values into the configured arguments.
func (s *CommandSource) expand(req Request) []string {
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}

	r := strings.NewReplacer(
		"{voice}", req.Voice,
		"{model}", req.Model,
		"{speed}", strconv.FormatFloat(speed, 'f', 2, 64),
		"{length_scale}", strconv.FormatFloat(1/speed, 'f', 2, 64),
		"{sample_rate}", strconv.Itoa(req.Format.SampleRate),
	)

	args := make([]string, len(s.args))
	for i, a := range s.args {
		args[i] = r.Replace(a)
	}
	return args
}

// commandStream is the stdout of a running synthesizer.
type commandStream struct {
	stdout io.ReadCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *tailBuffer

	once    sync.Once
	waitErr error
}

func (c *commandStream) Read(p []byte) (int, error) {
	n, err := c.stdout.Read(p)
	if err == io.EOF {
		if werr := c.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// wait reaps the process once and records how it exited.
func (c *commandStream) wait() error {
	c.once.Do(func() {
		if err := c.cmd.Wait(); err != nil {
			msg := strings.TrimSpace(c.stderr.String())
			if msg == "" {
				msg = "synthesizer failed"
			}
			c.waitErr = &TransportError{Kind: KindStream, Message: msg, Err: err}
		}
	})
	return c.waitErr
}

// Close stops the process if it is still running and reaps it.
func (c *commandStream) Close() error {
	c.cancel()
	_ = c.wait()
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// LookPath reports where the synthesizer executable resolves to.
func (s *CommandSource) LookPath() (string, error) {
	path, err := exec.LookPath(s.path)
	if err != nil {
		return "", fmt.Errorf("synthesizer %q not found: %w", s.path, err)
	}
	return path, nil
}
