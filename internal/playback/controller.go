package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/streamtts/internal/audio"
	"github.com/dgnsrekt/streamtts/internal/observe"
	"github.com/dgnsrekt/streamtts/internal/queue"
	"github.com/dgnsrekt/streamtts/internal/ttypes"
)

var (
	// ErrAlreadyStarted is returned when Start is called more than once.
	ErrAlreadyStarted = errors.New("controller already started")

	// ErrStopped is returned by Start after the session was stopped.
	ErrStopped = errors.New("controller stopped before start")
)

// SequenceError reports a chunk that arrived out of order. It is never
// written to the sink.
type SequenceError struct {
	Want int64
	Got  int64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("chunk sequence %d, expected %d", e.Got, e.Want)
}

// Result describes a session. Once the controller is done it is final.
type Result struct {
	SessionID     string
	State         State
	Err           error
	ChunksWritten int64
	BytesWritten  int64
	Played        time.Duration // audio duration written to the sink
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Options configures a Controller.
type Options struct {
	SessionID string
	Format    ttypes.AudioFormat

	// DrainTimeout bounds the wait for buffered audio after the last
	// chunk. Zero waits as long as it takes.
	DrainTimeout time.Duration

	// OnFinish is called once with the final Result, before Done closes.
	OnFinish func(Result)

	Logger *log.Logger
}

// Controller owns one session's ChunkQueue and Sink pairing. It is the only
// consumer of the queue and the only writer to the sink while it runs.
type Controller struct {
	id           string
	format       ttypes.AudioFormat
	q            *queue.ChunkQueue
	sink         audio.Sink
	drainTimeout time.Duration
	onFinish     func(Result)
	logger       *log.Logger

	// State management
	mu            sync.Mutex
	resumed       *sync.Cond
	sm            *StateMachine
	started       bool
	stopRequested bool
	finished      bool
	counted       bool
	result        Result

	// Consumption loop control
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a controller for one session. Nothing is opened until Start.
func New(q *queue.ChunkQueue, sink audio.Sink, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:           opts.SessionID,
		format:       opts.Format,
		q:            q,
		sink:         sink,
		drainTimeout: opts.DrainTimeout,
		onFinish:     opts.OnFinish,
		logger:       logger.WithPrefix("playback").With("session", opts.SessionID),
		sm:           NewStateMachine(),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	c.resumed = sync.NewCond(&c.mu)
	c.sm.OnEnter(StatePaused, observe.RecordPauseStarted)
	c.sm.OnExit(StatePaused, observe.RecordPauseEnded)
	c.result = Result{SessionID: opts.SessionID, State: StateIdle, StartedAt: time.Now()}

	return c
}

// ID returns the session id.
func (c *Controller) ID() string {
	return c.id
}

// Start opens the sink and launches the consumption loop. When the device
// cannot be opened the session goes straight to Failed, Done closes and the
// DeviceError is returned.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if c.finished || c.stopRequested {
		c.mu.Unlock()
		return ErrStopped
	}
	c.started = true
	c.counted = true
	c.mu.Unlock()

	observe.RecordSessionStarted()

	if err := c.sink.Open(c.format); err != nil {
		var de *audio.DeviceError
		if !errors.As(err, &de) {
			err = &audio.DeviceError{Op: "open", Err: err}
		}
		c.logger.Error("Failed to open audio sink", "err", err)
		c.finish(StateFailed, err, false)
		return err
	}

	c.mu.Lock()
	if c.stopRequested {
		// Stopped while the device was opening
		c.mu.Unlock()
		c.finish(StateCancelled, nil, true)
		return nil
	}
	c.transition(StateBuffering)
	c.mu.Unlock()

	c.logger.Debug("Playback started", "format", c.format)
	go c.run()
	return nil
}

// run is the consumption loop. It pops chunks in order and writes them to
// the sink until a sentinel, an error or a stop.
func (c *Controller) run() {
	var expected int64

	for {
		if !c.awaitPlayable() {
			c.finish(StateCancelled, nil, true)
			return
		}

		chunk, err := c.q.Pop(c.ctx)
		if err != nil {
			var se *queue.StreamError
			switch {
			case errors.Is(err, queue.ErrEndOfStream):
				c.complete()
			case errors.As(err, &se):
				c.logger.Debug("Stream failed", "err", se.Err)
				c.finish(StateFailed, se.Err, true)
			default:
				c.finish(StateCancelled, nil, true)
			}
			return
		}

		if chunk.Seq != expected {
			c.finish(StateFailed, &SequenceError{Want: expected, Got: chunk.Seq}, true)
			return
		}

		if chunk.Len() == 0 {
			// End-of-stream marker without audio
			expected++
			continue
		}

		// A pause may have arrived while Pop was waiting
		if !c.awaitPlayable() {
			c.finish(StateCancelled, nil, true)
			return
		}

		if err := c.sink.Write(chunk.Payload); err != nil {
			if c.stopping() || errors.Is(err, audio.ErrInterrupted) {
				c.finish(StateCancelled, nil, true)
				return
			}
			var de *audio.DeviceError
			if !errors.As(err, &de) {
				err = &audio.DeviceError{Op: "write", Err: err}
			}
			c.logger.Error("Audio write failed", "seq", chunk.Seq, "err", err)
			c.finish(StateFailed, err, true)
			return
		}

		c.recordWrite(chunk)
		expected++
	}
}

// awaitPlayable blocks while paused. It returns false once a stop was
// requested.
func (c *Controller) awaitPlayable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.sm.Current() == StatePaused && !c.stopRequested {
		c.resumed.Wait()
	}
	return !c.stopRequested
}

func (c *Controller) stopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequested
}

func (c *Controller) recordWrite(chunk ttypes.AudioChunk) {
	c.mu.Lock()
	c.result.ChunksWritten++
	c.result.BytesWritten += int64(chunk.Len())
	first := c.sm.Current() == StateBuffering
	if first {
		c.transition(StatePlaying)
	}
	startedAt := c.result.StartedAt
	c.mu.Unlock()

	if first {
		observe.RecordFirstAudio(time.Since(startedAt))
	}
	observe.RecordChunkWritten()
}

// complete waits for the sink to play out what was written, then finishes.
func (c *Controller) complete() {
	if d, ok := c.sink.(audio.Drainer); ok {
		ctx := c.ctx
		if c.drainTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.drainTimeout)
			defer cancel()
		}

		if err := d.Drain(ctx); err != nil {
			if c.stopping() {
				c.finish(StateCancelled, nil, true)
				return
			}
			var de *audio.DeviceError
			if !errors.As(err, &de) {
				err = &audio.DeviceError{Op: "drain", Err: err}
			}
			c.finish(StateFailed, err, true)
			return
		}
	}
	c.finish(StateCompleted, nil, true)
}

// finish tears the session down and publishes the Result. Only the first
// call has any effect.
func (c *Controller) finish(target State, err error, sinkOpen bool) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	if c.stopRequested {
		target, err = StateCancelled, nil
	}
	if c.sm.Current() != StateStopping {
		c.transition(StateStopping)
	}
	c.resumed.Broadcast()
	c.mu.Unlock()

	c.cancel()
	c.q.CloseAndDiscard()

	if sinkOpen {
		if cerr := c.sink.Close(); cerr != nil {
			c.logger.Warn("Failed to close audio sink", "err", cerr)
			if target == StateCompleted {
				target, err = StateFailed, &audio.DeviceError{Op: "close", Err: cerr}
			}
		}
	}

	c.mu.Lock()
	c.transition(target)
	c.result.State = target
	c.result.Err = err
	c.result.Played = c.format.Duration(int(c.result.BytesWritten))
	c.result.FinishedAt = time.Now()
	res := c.result
	counted := c.counted
	c.mu.Unlock()

	if counted {
		observe.RecordSessionFinished(target.String())
	}

	if err != nil {
		c.logger.Debug("Playback finished", "state", target, "chunks", res.ChunksWritten, "err", err)
	} else {
		c.logger.Debug("Playback finished", "state", target, "chunks", res.ChunksWritten)
	}

	if c.onFinish != nil {
		c.onFinish(res)
	}
	close(c.done)
}

// transition must be called with c.mu held.
func (c *Controller) transition(to State) bool {
	from := c.sm.Current()
	if !c.sm.Transition(to) {
		c.logger.Warn("Refused state transition", "from", from, "to", to)
		return false
	}
	c.result.State = to
	return true
}

// Pause halts output. It is honoured only while Playing and reports whether
// the session is now paused.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopRequested || c.sm.Current() != StatePlaying {
		return false
	}
	if p, ok := c.sink.(audio.Pauser); ok {
		if err := p.Pause(); err != nil {
			c.logger.Warn("Sink refused pause", "err", err)
			return false
		}
	}
	return c.transition(StatePaused)
}

// Resume continues a paused session from where it stopped.
func (c *Controller) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopRequested || c.sm.Current() != StatePaused {
		return false
	}
	if p, ok := c.sink.(audio.Pauser); ok {
		if err := p.Resume(); err != nil {
			c.logger.Warn("Sink refused resume", "err", err)
			return false
		}
	}
	ok := c.transition(StatePlaying)
	c.resumed.Broadcast()
	return ok
}

// Stop cancels the session. Buffered chunks are discarded and a blocked
// write is interrupted. Stop does not wait; use Done or Wait. It is
// idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.finished || c.stopRequested {
		c.mu.Unlock()
		return
	}
	c.stopRequested = true
	started := c.started
	c.transition(StateStopping)
	c.resumed.Broadcast()
	c.mu.Unlock()

	c.cancel()
	c.q.CloseAndDiscard()

	if !started {
		c.finish(StateCancelled, nil, false)
		return
	}
	if in, ok := c.sink.(audio.Interrupter); ok {
		in.Interrupt()
	}
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sm.Current()
}

// Snapshot returns the Result so far.
func (c *Controller) Snapshot() Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := c.result
	res.State = c.sm.Current()
	res.Played = c.format.Duration(int(res.BytesWritten))
	return res
}

// Done is closed once the session reached a terminal state and the sink
// was released.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the session is done or ctx ends. On ctx expiry it
// returns the current snapshot and the context error; the session keeps
// running.
func (c *Controller) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}
