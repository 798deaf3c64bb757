package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/streamtts/internal/audio"
	"github.com/dgnsrekt/streamtts/internal/ingest"
	"github.com/dgnsrekt/streamtts/internal/playback"
)

// scriptSource serves a body per request text.
type scriptSource struct {
	mu       sync.Mutex
	bodies   map[string]func() (io.ReadCloser, error)
	requests []ingest.Request
	url, key string
	calls    atomic.Int32
}

func newScriptSource() *scriptSource {
	return &scriptSource{bodies: make(map[string]func() (io.ReadCloser, error))}
}

func (s *scriptSource) on(text string, body func() (io.ReadCloser, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[text] = body
}

func (s *scriptSource) Stream(ctx context.Context, req ingest.Request) (io.ReadCloser, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.requests = append(s.requests, req)
	body, ok := s.bodies[req.Text]
	s.mu.Unlock()

	if !ok {
		// Default: a short utterance of three chunks
		return io.NopCloser(bytes.NewReader(payload(0x11, 3))), nil
	}
	return body()
}

func (s *scriptSource) Name() string { return "script" }

func (s *scriptSource) SetEndpoint(url, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url, s.key = url, key
}

func (s *scriptSource) Origin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *scriptSource) lastRequest() ingest.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

// payload returns n chunks of 4 bytes filled with marker.
func payload(marker byte, n int) []byte {
	return bytes.Repeat([]byte{marker}, 4*n)
}

// gatedBody yields first and then blocks until closed.
type gatedBody struct {
	first  []byte
	closed chan struct{}
	once   sync.Once
}

func newGatedBody(first []byte) *gatedBody {
	return &gatedBody{first: first, closed: make(chan struct{})}
}

func (g *gatedBody) Read(p []byte) (int, error) {
	if len(g.first) > 0 {
		n := copy(p, g.first)
		g.first = g.first[n:]
		return n, nil
	}
	<-g.closed
	return 0, io.ErrClosedPipe
}

func (g *gatedBody) Close() error {
	g.once.Do(func() { close(g.closed) })
	return nil
}

// brokenBody yields data then fails.
type brokenBody struct {
	data []byte
	err  error
}

func (b *brokenBody) Read(p []byte) (int, error) {
	if len(b.data) == 0 {
		return 0, b.err
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func (b *brokenBody) Close() error { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChunkFrames = 2 // 4 bytes per chunk
	cfg.QueueDepth = 4
	cfg.MaxTextLength = 20
	cfg.Model = "model"
	cfg.Voice = "voice"
	return cfg
}

func newTestEngine(t *testing.T, sink audio.Sink, src ingest.Source, opts ...Option) *Engine {
	t.Helper()
	e, err := New(testConfig(), sink, src, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func waitDone(t *testing.T, e *Engine) Result {
	t.Helper()
	res, err := e.WaitForCompletion(5 * time.Second)
	if err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	return res
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_Validation(t *testing.T) {
	bad := testConfig()
	bad.QueueDepth = 0

	if _, err := New(bad, audio.NewMockSink(), newScriptSource()); !IsValidation(err) {
		t.Errorf("Expected validation error for bad config, got %v", err)
	}
	if _, err := New(testConfig(), nil, newScriptSource()); !IsValidation(err) {
		t.Errorf("Expected validation error for nil sink, got %v", err)
	}
	if _, err := New(testConfig(), audio.NewMockSink(), nil); !IsValidation(err) {
		t.Errorf("Expected validation error for nil source, got %v", err)
	}
}

func TestEngine_SubmitPlaysToCompletion(t *testing.T) {
	sink := audio.NewMockSink()
	src := newScriptSource()
	e := newTestEngine(t, sink, src)

	id, err := e.Submit("hello")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a session id")
	}

	res := waitDone(t, e)
	if res.State != playback.StateCompleted {
		t.Fatalf("Expected completed, got %s (%v)", res.State, res.Err)
	}
	if res.SessionID != id {
		t.Errorf("Expected result for %s, got %s", id, res.SessionID)
	}
	if n := len(sink.Writes()); n != 3 {
		t.Errorf("Expected 3 writes, got %d", n)
	}
	if e.IsPlaying() {
		t.Error("IsPlaying should be false after completion")
	}

	got, ok := e.Result(id)
	if !ok || got.State != playback.StateCompleted {
		t.Errorf("Expected stored completed result, got %v %s", ok, got.State)
	}

	req := src.lastRequest()
	if req.ID != id || req.Text != "hello" || req.Model != "model" || req.Voice != "voice" {
		t.Errorf("Unexpected synthesis request %+v", req)
	}
}

func TestEngine_SubmitValidation(t *testing.T) {
	e := newTestEngine(t, audio.NewMockSink(), newScriptSource())

	speed := 9.0
	gain := -20.0
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"empty", Request{Text: ""}, ErrEmptyText},
		{"whitespace", Request{Text: " \n\t "}, ErrEmptyText},
		{"too long", Request{Text: "this sentence is longer than twenty runes"}, ErrTextTooLong},
		{"speed", Request{Text: "hi", Speed: &speed}, ErrInvalidSpeed},
		{"gain", Request{Text: "hi", Gain: &gain}, ErrInvalidGain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := e.SubmitRequest(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if !IsValidation(err) {
				t.Errorf("Expected validation error, got %v", err)
			}
			if id != "" {
				t.Errorf("Expected no session id, got %q", id)
			}
		})
	}

	if _, ok := e.Current(); ok {
		t.Error("Rejected requests must not create sessions")
	}
}

func TestEngine_TextLimitCountsRunes(t *testing.T) {
	src := newScriptSource()
	e := newTestEngine(t, audio.NewMockSink(), src)

	// 20 runes, 40 bytes
	if _, err := e.Submit(strings.Repeat("\u00e9", 20)); err != nil {
		t.Fatalf("Expected 20 runes to be accepted, got %v", err)
	}
	waitDone(t, e)

	// Decomposed input is normalized before counting
	if _, err := e.Submit(strings.Repeat("e\u0301", 20)); err != nil {
		t.Fatalf("Expected decomposed text to fit after NFC, got %v", err)
	}
	waitDone(t, e)
	if got := src.lastRequest().Text; got != strings.Repeat("\u00e9", 20) {
		t.Errorf("Expected NFC text, got %q", got)
	}
}

func TestEngine_SupersedeCancelsPrevious(t *testing.T) {
	sink := audio.NewMockSink()
	src := newScriptSource()
	gate := newGatedBody(payload(0xAA, 3))
	src.on("A", func() (io.ReadCloser, error) { return gate, nil })
	src.on("B", func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload(0xBB, 3))), nil
	})
	e := newTestEngine(t, sink, src)

	idA, err := e.Submit("A")
	if err != nil {
		t.Fatalf("Submit A failed: %v", err)
	}
	eventually(t, "first chunk of A", func() bool { return len(sink.Writes()) >= 1 })

	idB, err := e.Submit("B")
	if err != nil {
		t.Fatalf("Submit B failed: %v", err)
	}

	resA, ok := e.Result(idA)
	if !ok || resA.State != playback.StateCancelled {
		t.Fatalf("Expected A cancelled once Submit returned, got %s", resA.State)
	}

	resB := waitDone(t, e)
	if resB.SessionID != idB || resB.State != playback.StateCompleted {
		t.Fatalf("Expected B completed, got %s %s (%v)", resB.SessionID, resB.State, resB.Err)
	}

	seenB := false
	for i, w := range sink.Writes() {
		switch w[0] {
		case 0xBB:
			seenB = true
		case 0xAA:
			if seenB {
				t.Errorf("Write %d from A after B began", i)
			}
		}
	}
	if !seenB {
		t.Error("Expected B to be written")
	}
	if sink.OverlapOpens() != 0 {
		t.Errorf("Sink opened while still held: %d", sink.OverlapOpens())
	}
	if sink.OpenCount() != 2 || sink.CloseCount() != 2 {
		t.Errorf("Expected 2 opens and closes, got %d/%d", sink.OpenCount(), sink.CloseCount())
	}
}

func TestEngine_ConcurrentSubmitsKeepOneActive(t *testing.T) {
	sink := audio.NewMockSink()
	sink.WriteDelay = time.Millisecond
	src := newScriptSource()
	e := newTestEngine(t, sink, src)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := e.Submit(fmt.Sprintf("text %d", i)); err != nil {
				t.Errorf("Submit %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	res := waitDone(t, e)
	if res.State != playback.StateCompleted {
		t.Errorf("Expected last session to complete, got %s (%v)", res.State, res.Err)
	}
	if n := sink.OverlapOpens(); n != 0 {
		t.Errorf("Single active session violated %d times", n)
	}
	if sink.IsOpen() {
		t.Error("Sink should be released")
	}
}

func TestEngine_TransportErrorMidStream(t *testing.T) {
	sink := audio.NewMockSink()
	src := newScriptSource()
	src.on("broken", func() (io.ReadCloser, error) {
		return &brokenBody{data: payload(0x01, 2), err: errors.New("connection reset")}, nil
	})
	e := newTestEngine(t, sink, src)

	if _, err := e.Submit("broken"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	res := waitDone(t, e)
	if res.State != playback.StateFailed {
		t.Fatalf("Expected failed, got %s", res.State)
	}
	if !IsTransport(res.Err) {
		t.Errorf("Expected transport error, got %v", res.Err)
	}
	// Both chunks arrived before the reset and are played in order
	if n := len(sink.Writes()); n != 2 {
		t.Errorf("Expected chunks 0 and 1 written, got %d writes", n)
	}
	if sink.IsOpen() {
		t.Error("Sink must be released after failure")
	}

	// Ready for the next request
	if _, err := e.Submit("again"); err != nil {
		t.Fatalf("Submit after failure failed: %v", err)
	}
	if res := waitDone(t, e); res.State != playback.StateCompleted {
		t.Errorf("Expected next session to complete, got %s", res.State)
	}
}

func TestEngine_SourceErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"auth", &ingest.TransportError{Kind: ingest.KindAuth, StatusCode: 401}, IsTransport},
		{"timeout", &ingest.TransportError{Kind: ingest.KindTimeout}, IsTransport},
		{"protocol", &ingest.ProtocolError{Reason: "no audio"}, IsProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newScriptSource()
			src.on("x", func() (io.ReadCloser, error) { return nil, tt.err })
			e := newTestEngine(t, audio.NewMockSink(), src)

			if _, err := e.Submit("x"); err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			res := waitDone(t, e)
			if res.State != playback.StateFailed {
				t.Fatalf("Expected failed, got %s", res.State)
			}
			if !tt.check(res.Err) {
				t.Errorf("Unexpected classification for %v", res.Err)
			}
			if !errors.Is(res.Err, tt.err) {
				t.Errorf("Expected cause to be preserved, got %v", res.Err)
			}
		})
	}
}

func TestEngine_DeviceOpenFailure(t *testing.T) {
	sink := audio.NewMockSink()
	sink.OpenErr = errors.New("no output device")
	e := newTestEngine(t, sink, newScriptSource())

	id, err := e.Submit("hello")
	if err != nil {
		t.Fatalf("Submit should not fail on device errors, got %v", err)
	}

	res := waitDone(t, e)
	if res.SessionID != id || res.State != playback.StateFailed {
		t.Fatalf("Expected failed session %s, got %s %s", id, res.SessionID, res.State)
	}
	if !IsDevice(res.Err) {
		t.Errorf("Expected device error, got %v", res.Err)
	}
	var tErr *TTSError
	if errors.As(res.Err, &tErr) && !tErr.IsFatal() {
		t.Error("Device errors should be fatal")
	}
}

func TestEngine_PauseResume(t *testing.T) {
	sink := audio.NewMockSink()
	src := newScriptSource()
	gate := newGatedBody(payload(0x01, 3))
	src.on("long", func() (io.ReadCloser, error) { return gate, nil })
	e := newTestEngine(t, sink, src)

	// No session: no-ops
	if err := e.Pause(); err != nil {
		t.Errorf("Pause without session should be a no-op, got %v", err)
	}
	if err := e.Resume(); err != nil {
		t.Errorf("Resume without session should be a no-op, got %v", err)
	}

	if _, err := e.Submit("long"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	eventually(t, "playing", func() bool {
		res, _ := e.Current()
		return res.State == playback.StatePlaying
	})
	if !e.IsPlaying() {
		t.Error("Expected IsPlaying while playing")
	}

	_ = e.Pause()
	if !e.IsPaused() || e.IsPlaying() {
		t.Error("Expected paused and not playing")
	}

	_ = e.Resume()
	if e.IsPaused() {
		t.Error("Expected resumed")
	}

	if err := e.Interrupt(); err != nil {
		t.Fatalf("Interrupt failed: %v", err)
	}
	if err := e.StopCurrent(); err != nil {
		t.Errorf("Second interrupt should be a no-op, got %v", err)
	}

	res, _ := e.Current()
	if res.State != playback.StateCancelled {
		t.Errorf("Expected cancelled after interrupt, got %s", res.State)
	}
	if e.IsPlaying() {
		t.Error("IsPlaying should be false after interrupt")
	}
}

func TestEngine_PauseLongerThanReadTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ReadTimeout = 100 * time.Millisecond
	cfg.QueueDepth = 1

	sink := audio.NewMockSink()
	sink.WriteDelay = 10 * time.Millisecond
	src := newScriptSource()
	src.on("long", func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload(0x02, 20))), nil
	})

	e, err := New(cfg, sink, src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })

	if _, err := e.Submit("long"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	eventually(t, "playing", func() bool {
		res, _ := e.Current()
		return res.State == playback.StatePlaying
	})

	if err := e.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	time.Sleep(4 * cfg.ReadTimeout)
	if res, _ := e.Current(); res.State != playback.StatePaused {
		t.Fatalf("Expected session to stay paused, got %s (%v)", res.State, res.Err)
	}
	if err := e.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	res := waitDone(t, e)
	if res.State != playback.StateCompleted {
		t.Fatalf("Expected completed, got %s (%v)", res.State, res.Err)
	}
	writes := sink.Writes()
	if len(writes) != 20 {
		t.Errorf("Expected all 20 chunks written, got %d", len(writes))
	}
	var total int
	for _, w := range writes {
		total += len(w)
	}
	if total != 80 {
		t.Errorf("Expected 80 bytes written, got %d", total)
	}
}

func TestEngine_PlaysChunkBeforeStreamEnds(t *testing.T) {
	sink := audio.NewMockSink()
	src := newScriptSource()
	gate := newGatedBody(payload(0x03, 1))
	src.on("stall", func() (io.ReadCloser, error) { return gate, nil })
	e := newTestEngine(t, sink, src)

	if _, err := e.Submit("stall"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// The stream is still open, so the only chunk must not wait for its end
	eventually(t, "first chunk written", func() bool { return len(sink.Writes()) == 1 })
	if res, _ := e.Current(); res.State != playback.StatePlaying {
		t.Errorf("Expected playing, got %s", res.State)
	}

	if err := e.Interrupt(); err != nil {
		t.Fatalf("Interrupt failed: %v", err)
	}
}

func TestEngine_WaitTimeoutDoesNotCancel(t *testing.T) {
	src := newScriptSource()
	gate := newGatedBody(payload(0x01, 3))
	src.on("slow", func() (io.ReadCloser, error) { return gate, nil })
	e := newTestEngine(t, audio.NewMockSink(), src)

	// Nothing submitted: returns at once
	if res, err := e.WaitForCompletion(time.Second); err != nil || res.State != playback.StateIdle {
		t.Errorf("Expected idle result, got %s (%v)", res.State, err)
	}

	if _, err := e.Submit("slow"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	res, err := e.WaitForCompletion(30 * time.Millisecond)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("Expected ErrWaitTimeout, got %v", err)
	}
	if res.State.IsTerminal() {
		t.Errorf("Session should still run after wait timeout, got %s", res.State)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.WaitForCompletionContext(ctx); !errors.Is(err, ErrCanceled) {
		t.Errorf("Expected ErrCanceled, got %v", err)
	}

	// Finish the stream; the session completes normally
	gate.Close()
	res = waitDone(t, e)
	if res.State != playback.StateFailed && res.State != playback.StateCompleted {
		t.Errorf("Expected session to finish, got %s", res.State)
	}
}

func TestEngine_CloseIsFinal(t *testing.T) {
	sink := audio.NewMockSink()
	src := newScriptSource()
	gate := newGatedBody(payload(0x01, 3))
	src.on("long", func() (io.ReadCloser, error) { return gate, nil })

	e, err := New(testConfig(), sink, src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := e.Submit("long"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	eventually(t, "first write", func() bool { return len(sink.Writes()) > 0 })

	done := make(chan error, 1)
	go func() { done <- e.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked")
	}

	if sink.IsOpen() {
		t.Error("Close must release the sink")
	}

	checks := map[string]error{
		"close":  e.Close(),
		"pause":  e.Pause(),
		"resume": e.Resume(),
		"stop":   e.Interrupt(),
		"config": e.SetAPIConfig("http://x", "", "", ""),
	}
	_, checks["submit"] = e.Submit("hello")
	_, checks["wait"] = e.WaitForCompletion(time.Second)

	for name, err := range checks {
		if !errors.Is(err, ErrClosed) {
			t.Errorf("%s after Close: expected ErrClosed, got %v", name, err)
		}
	}
	if e.IsPlaying() {
		t.Error("IsPlaying after Close should be false")
	}
}

func TestEngine_SetAPIConfig(t *testing.T) {
	src := newScriptSource()
	e := newTestEngine(t, audio.NewMockSink(), src)

	if err := e.SetAPIConfig("https://example.com/v1/audio/speech", "sk-new", "other-model", "other-voice"); err != nil {
		t.Fatalf("SetAPIConfig failed: %v", err)
	}
	if src.url != "https://example.com/v1/audio/speech" || src.key != "sk-new" {
		t.Errorf("Endpoint not forwarded: %q %q", src.url, src.key)
	}

	speed := 1.5
	if _, err := e.SubmitRequest(context.Background(), Request{Text: "hi", Speed: &speed}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitDone(t, e)

	req := src.lastRequest()
	if req.Model != "other-model" || req.Voice != "other-voice" || req.Speed != 1.5 {
		t.Errorf("Unexpected request after config change: %+v", req)
	}

	// Per-request overrides win
	if _, err := e.SubmitRequest(context.Background(), Request{Text: "hi", Voice: "x"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitDone(t, e)
	if req := src.lastRequest(); req.Voice != "x" || req.Speed != 1.0 {
		t.Errorf("Unexpected overridden request: %+v", req)
	}
}

type mapCache struct {
	mu     sync.Mutex
	items  map[string][]byte
	closed bool
}

func (m *mapCache) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *mapCache) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string][]byte)
	}
	m.items[key] = value
	return nil
}

func (m *mapCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestEngine_CacheReplay(t *testing.T) {
	sink := audio.NewMockSink()
	src := newScriptSource()
	cache := &mapCache{}

	e, err := New(testConfig(), sink, src, WithCache(cache))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := e.Submit("hello"); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
		if res := waitDone(t, e); res.State != playback.StateCompleted {
			t.Fatalf("Run %d: expected completed, got %s", i, res.State)
		}
	}

	if n := src.calls.Load(); n != 1 {
		t.Errorf("Expected one network request, got %d", n)
	}
	if n := len(sink.Writes()); n != 6 {
		t.Errorf("Expected 6 writes over two runs, got %d", n)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !cache.closed {
		t.Error("Expected cache to be closed with the engine")
	}
}

func TestEngine_EndpointChangeMissesCache(t *testing.T) {
	sink := audio.NewMockSink()
	src := newScriptSource()
	src.SetEndpoint("https://a.example/v1/audio/speech", "")
	cache := &mapCache{}

	e := newTestEngine(t, sink, src, WithCache(cache))

	run := func() {
		t.Helper()
		if _, err := e.Submit("hello"); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if res := waitDone(t, e); res.State != playback.StateCompleted {
			t.Fatalf("Expected completed, got %s", res.State)
		}
	}

	run()
	run()
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("Expected replay from cache, got %d requests", n)
	}

	if err := e.SetAPIConfig("https://b.example/v1/audio/speech", "", "", ""); err != nil {
		t.Fatalf("SetAPIConfig failed: %v", err)
	}
	run()
	if n := src.calls.Load(); n != 2 {
		t.Errorf("Expected a new endpoint to bypass the cached clip, got %d requests", n)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"transport", &ingest.TransportError{Kind: ingest.KindAPI, StatusCode: 500}, ErrorCodeTransport},
		{"stalled", &ingest.TransportError{Kind: ingest.KindTimeout}, ErrorCodeTimeout},
		{"protocol", &ingest.ProtocolError{Reason: "bad"}, ErrorCodeProtocol},
		{"sequence", &playback.SequenceError{Want: 1, Got: 3}, ErrorCodeProtocol},
		{"device", &audio.DeviceError{Op: "write", Err: io.ErrClosedPipe}, ErrorCodeDevice},
		{"canceled", context.Canceled, ErrorCodeCanceled},
		{"other", errors.New("boom"), ErrorCodeTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tErr *TTSError
			if !errors.As(classify(tt.err), &tErr) {
				t.Fatal("Expected a TTSError")
			}
			if tErr.Code != tt.code {
				t.Errorf("Expected %s, got %s", tt.code, tErr.Code)
			}
			if !errors.Is(tErr, tt.err) {
				t.Error("Expected the cause to be wrapped")
			}
		})
	}

	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}

func TestTTSError_Retryable(t *testing.T) {
	tests := []struct {
		err  *TTSError
		want bool
	}{
		{NewTTSError(ErrorCodeTimeout, "t", nil), true},
		{NewTTSError(ErrorCodeTransport, "t", &ingest.TransportError{Kind: ingest.KindAuth}), false},
		{NewTTSError(ErrorCodeTransport, "t", &ingest.TransportError{Kind: ingest.KindRateLimited}), true},
		{NewTTSError(ErrorCodeValidation, "t", ErrEmptyText), false},
		{NewTTSError(ErrorCodeDevice, "t", nil), false},
	}

	for _, tt := range tests {
		if got := tt.err.IsRetryable(); got != tt.want {
			t.Errorf("%v: expected retryable=%v, got %v", tt.err, tt.want, got)
		}
	}
}
