package tts

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dgnsrekt/streamtts/internal/audio"
	"github.com/dgnsrekt/streamtts/internal/ingest"
	"github.com/dgnsrekt/streamtts/internal/playback"
	"github.com/dgnsrekt/streamtts/internal/queue"
	"github.com/dgnsrekt/streamtts/internal/textprep"
)

// Result describes a session; see playback.Result. Err is always nil or a
// *TTSError.
type Result = playback.Result

// State is a session's playback state.
type State = playback.State

// Request is a synthesis request with optional per-request overrides. Nil
// and empty fields fall back to the engine configuration.
type Request struct {
	Text  string
	Voice string
	Model string
	Speed *float64
	Gain  *float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and its sessions.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithCache enables replay of previously synthesized audio. If the cache
// implements io.Closer it is closed by Engine.Close.
func WithCache(c ingest.AudioCache) Option {
	return func(e *Engine) { e.cache = c }
}

// session is one submitted request and its pipeline.
type session struct {
	id      string
	text    string
	created time.Time
	ctrl    *playback.Controller
	cancel  context.CancelFunc // stops the ingestor
}

// Engine is the public streaming TTS engine. At most one session holds the
// sink at any time; submitting a new request stops the previous one and
// waits until it released the sink.
type Engine struct {
	sink     audio.Sink
	source   ingest.Source
	ingestor *ingest.Ingestor
	cache    ingest.AudioCache
	logger   *log.Logger

	// submitMu serializes Submit, Interrupt and Close, which are the only
	// operations that hand the sink from one session to the next.
	submitMu sync.Mutex

	// mu guards the fields below
	mu      sync.Mutex
	cfg     Config
	current *session
	results []Result
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine playing to sink with audio from source.
func New(cfg Config, sink audio.Sink, source ingest.Source, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, NewTTSError(ErrorCodeValidation, "invalid engine configuration", err)
	}
	if sink == nil {
		return nil, NewTTSError(ErrorCodeValidation, "sink cannot be nil", nil)
	}
	if source == nil {
		return nil, NewTTSError(ErrorCodeValidation, "source cannot be nil", nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		sink:   sink,
		source: source,
		cfg:    cfg,
		logger: log.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	e.logger = e.logger.WithPrefix("tts")

	e.ingestor = ingest.New(source, ingest.Options{
		ChunkFrames: cfg.ChunkFrames,
		ReadTimeout: cfg.ReadTimeout,
		Cache:       e.cache,
		Logger:      e.logger,
	})

	return e, nil
}

// Submit starts speaking text and returns the new session id. It does not
// wait for playback.
func (e *Engine) Submit(text string) (string, error) {
	return e.SubmitRequest(context.Background(), Request{Text: text})
}

// SubmitRequest starts a session for req, superseding the active one. ctx
// only bounds the wait for the previous session to release the sink; the
// new session outlives it.
//
// A device that cannot be opened does not fail SubmitRequest: the session
// is created, reaches Failed at once and WaitForCompletion reports why.
func (e *Engine) SubmitRequest(ctx context.Context, req Request) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", NewTTSError(ErrorCodeClosed, "submit", ErrClosed)
	}
	ireq, err := e.prepare(req)
	e.mu.Unlock()
	if err != nil {
		return "", err
	}

	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	// Close may have won the race for submitMu
	if e.isClosed() {
		return "", NewTTSError(ErrorCodeClosed, "submit", ErrClosed)
	}

	if err := e.stopCurrent(ctx); err != nil {
		return "", err
	}

	s := e.startSession(ireq)
	e.logger.Info("Session started", "session", s.id, "chars", utf8.RuneCountInString(s.text), "voice", ireq.Voice)
	return s.id, nil
}

// prepare validates req and resolves defaults. Called with e.mu held.
func (e *Engine) prepare(req Request) (ingest.Request, error) {
	text := textprep.Normalize(req.Text)
	if text == "" {
		return ingest.Request{}, NewTTSError(ErrorCodeValidation, "invalid text", ErrEmptyText)
	}
	if n := utf8.RuneCountInString(text); n > e.cfg.MaxTextLength {
		return ingest.Request{}, NewTTSError(ErrorCodeValidation, "invalid text", ErrTextTooLong).
			WithContext("length", n).
			WithContext("max", e.cfg.MaxTextLength)
	}

	ireq := ingest.Request{
		Text:   text,
		Model:  e.cfg.Model,
		Voice:  e.cfg.Voice,
		Speed:  e.cfg.Speed,
		Gain:   e.cfg.Gain,
		Format: e.cfg.Format,
	}
	if req.Model != "" {
		ireq.Model = req.Model
	}
	if req.Voice != "" {
		ireq.Voice = req.Voice
	}
	if req.Speed != nil {
		if *req.Speed < MinSpeed || *req.Speed > MaxSpeed {
			return ingest.Request{}, NewTTSError(ErrorCodeValidation, "invalid speed", ErrInvalidSpeed).WithContext("speed", *req.Speed)
		}
		ireq.Speed = *req.Speed
	}
	if req.Gain != nil {
		if *req.Gain < MinGain || *req.Gain > MaxGain {
			return ingest.Request{}, NewTTSError(ErrorCodeValidation, "invalid gain", ErrInvalidGain).WithContext("gain", *req.Gain)
		}
		ireq.Gain = *req.Gain
	}
	return ireq, nil
}

// stopCurrent stops the active session and waits until its sink is
// released. Must be called with submitMu held.
func (e *Engine) stopCurrent(ctx context.Context) error {
	e.mu.Lock()
	prev := e.current
	e.mu.Unlock()

	if prev == nil {
		return nil
	}

	prev.ctrl.Stop()
	prev.cancel()

	select {
	case <-prev.ctrl.Done():
		return nil
	case <-ctx.Done():
		return NewTTSError(ErrorCodeCanceled, "waiting for previous session", ctx.Err())
	}
}

// startSession wires a queue, ingestor run and controller for ireq. Must
// be called with submitMu held and no session holding the sink.
func (e *Engine) startSession(ireq ingest.Request) *session {
	id := uuid.NewString()
	ireq.ID = id

	ingestCtx, cancel := context.WithCancel(e.ctx)
	q := queue.New(e.cfg.QueueDepth)

	s := &session{
		id:      id,
		text:    ireq.Text,
		created: time.Now(),
		cancel:  cancel,
	}
	s.ctrl = playback.New(q, e.sink, playback.Options{
		SessionID:    id,
		Format:       ireq.Format,
		DrainTimeout: e.cfg.DrainTimeout,
		Logger:       e.logger,
		OnFinish: func(res Result) {
			// Nothing left to play, stop reading
			cancel()
			e.record(res)
		},
	})

	e.mu.Lock()
	e.current = s
	e.mu.Unlock()

	// Network and device start in parallel; the queue buffers meanwhile
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		stats, err := e.ingestor.Run(ingestCtx, ireq, q)
		if err != nil && ingestCtx.Err() == nil {
			e.logger.Warn("Synthesis failed", "session", id, "err", err)
			return
		}
		e.logger.Debug("Synthesis finished", "session", id, "chunks", stats.Chunks, "cache_hit", stats.CacheHit)
	}()

	if err := s.ctrl.Start(); err != nil {
		e.logger.Error("Session failed to start", "session", id, "err", err)
	}
	return s
}

// record stores a finished session's Result.
func (e *Engine) record(res Result) {
	res.Err = classify(res.Err)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.results = append(e.results, res)
	if len(e.results) > recentResults {
		e.results = append(e.results[:0:0], e.results[len(e.results)-recentResults:]...)
	}

	if res.Err != nil {
		e.logger.Warn("Session finished", "session", res.SessionID, "state", res.State, "err", res.Err)
	} else {
		e.logger.Info("Session finished", "session", res.SessionID, "state", res.State, "played", res.Played)
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// active returns the current session or an ErrClosed error.
func (e *Engine) active() (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, NewTTSError(ErrorCodeClosed, "engine is closed", ErrClosed)
	}
	return e.current, nil
}

// Pause halts output of the active session. It is a no-op unless a
// session is playing.
func (e *Engine) Pause() error {
	s, err := e.active()
	if err != nil || s == nil {
		return err
	}
	s.ctrl.Pause()
	return nil
}

// Resume continues a paused session. It is a no-op unless a session is
// paused.
func (e *Engine) Resume() error {
	s, err := e.active()
	if err != nil || s == nil {
		return err
	}
	s.ctrl.Resume()
	return nil
}

// Interrupt cancels the active session and waits until it released the
// sink. It is idempotent.
func (e *Engine) Interrupt() error {
	if _, err := e.active(); err != nil {
		return err
	}

	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	return e.stopCurrent(context.Background())
}

// StopCurrent is an alias for Interrupt.
func (e *Engine) StopCurrent() error {
	return e.Interrupt()
}

// IsPlaying reports whether a session is buffering or playing. A paused
// session is not playing.
func (e *Engine) IsPlaying() bool {
	s, _ := e.active()
	if s == nil {
		return false
	}
	state := s.ctrl.State()
	return state == playback.StateBuffering || state == playback.StatePlaying
}

// IsPaused reports whether the active session is paused.
func (e *Engine) IsPaused() bool {
	s, _ := e.active()
	return s != nil && s.ctrl.State() == playback.StatePaused
}

// Current returns a snapshot of the most recent session, which may have
// finished already. ok is false if nothing was submitted yet.
func (e *Engine) Current() (res Result, ok bool) {
	s, _ := e.active()
	if s == nil {
		return Result{State: playback.StateIdle}, false
	}
	return e.snapshot(s), true
}

func (e *Engine) snapshot(s *session) Result {
	res := s.ctrl.Snapshot()
	res.Err = classify(res.Err)
	return res
}

// Result looks a session up by id among the active one and the most
// recently finished ones.
func (e *Engine) Result(id string) (Result, bool) {
	e.mu.Lock()
	s := e.current
	for i := len(e.results) - 1; i >= 0; i-- {
		if e.results[i].SessionID == id {
			res := e.results[i]
			e.mu.Unlock()
			return res, true
		}
	}
	e.mu.Unlock()

	if s != nil && s.id == id {
		return e.snapshot(s), true
	}
	return Result{}, false
}

// WaitForCompletion blocks until the active session reaches a terminal
// state and returns its Result. A timeout of zero waits indefinitely. On
// timeout the current snapshot is returned with an ErrWaitTimeout error
// and the session keeps playing.
func (e *Engine) WaitForCompletion(timeout time.Duration) (Result, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return e.WaitForCompletionContext(ctx)
}

// WaitForCompletionContext is WaitForCompletion bounded by ctx.
func (e *Engine) WaitForCompletionContext(ctx context.Context) (Result, error) {
	s, err := e.active()
	if err != nil {
		return Result{}, err
	}
	if s == nil {
		return Result{State: playback.StateIdle}, nil
	}

	select {
	case <-s.ctrl.Done():
		return e.snapshot(s), nil
	case <-ctx.Done():
		res := e.snapshot(s)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, NewTTSError(ErrorCodeTimeout, "wait for completion", ErrWaitTimeout).WithContext("session", s.id)
		}
		return res, NewTTSError(ErrorCodeCanceled, "wait for completion", ErrCanceled).WithContext("session", s.id)
	}
}

// SetAPIConfig replaces the synthesis endpoint and request defaults for
// sessions submitted afterwards. Empty values keep the current setting.
func (e *Engine) SetAPIConfig(url, apiKey, model, voice string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return NewTTSError(ErrorCodeClosed, "set api config", ErrClosed)
	}

	if url != "" || apiKey != "" {
		ep, ok := e.source.(ingest.Endpoint)
		if !ok {
			return NewTTSError(ErrorCodeValidation, "source "+e.source.Name()+" has no configurable endpoint", nil)
		}
		ep.SetEndpoint(url, apiKey)
	}
	if model != "" {
		e.cfg.Model = model
	}
	if voice != "" {
		e.cfg.Voice = voice
	}

	e.logger.Debug("API config updated", "model", e.cfg.Model, "voice", e.cfg.Voice)
	return nil
}

// Config returns the current engine configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Close interrupts the active session, waits for every goroutine and
// closes the cache. Later calls return ErrClosed.
func (e *Engine) Close() error {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return NewTTSError(ErrorCodeClosed, "close", ErrClosed)
	}
	e.closed = true
	e.mu.Unlock()

	_ = e.stopCurrent(context.Background())
	e.cancel()
	e.wg.Wait()

	if c, ok := e.cache.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}

	e.logger.Debug("Engine closed")
	return nil
}
