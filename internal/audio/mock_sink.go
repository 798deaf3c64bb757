package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/streamtts/internal/ttypes"
)

// MockCallbacks provides hooks for testing.
type MockCallbacks struct {
	OnOpen  func(format ttypes.AudioFormat)
	OnWrite func(frames []byte)
	OnClose func()
}

// MockSink implements Sink and every optional capability for tests. It keeps
// a copy of each write and can simulate device failures and slow devices.
type MockSink struct {
	// Test configuration
	OpenErr    error         // returned by Open
	WriteErr   error         // returned by writes once FailAfter writes succeeded
	FailAfter  int           // number of successful writes before WriteErr
	WriteDelay time.Duration // simulated device time per write
	BlockWrite bool          // writes block until Interrupt or Close

	callbacks MockCallbacks

	mu        sync.Mutex
	cond      *sync.Cond
	open      bool
	paused    bool
	interrupt bool
	format    ttypes.AudioFormat
	writes    [][]byte

	// Metrics for testing
	openCount     atomic.Int64
	closeCount    atomic.Int64
	pauseCount    atomic.Int64
	resumeCount   atomic.Int64
	overlapOpens  atomic.Int64
	drainCount    atomic.Int64
	interruptions atomic.Int64
}

// NewMockSink creates a mock sink.
func NewMockSink() *MockSink {
	return NewMockSinkWithCallbacks(MockCallbacks{})
}

// NewMockSinkWithCallbacks creates a mock sink with test hooks.
func NewMockSinkWithCallbacks(callbacks MockCallbacks) *MockSink {
	m := &MockSink{callbacks: callbacks}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Open implements Sink.
func (m *MockSink) Open(format ttypes.AudioFormat) error {
	m.mu.Lock()
	if m.OpenErr != nil {
		m.mu.Unlock()
		return &DeviceError{Op: "open", Err: m.OpenErr}
	}
	if m.open {
		m.overlapOpens.Add(1)
		m.mu.Unlock()
		return &DeviceError{Op: "open", Err: ErrSinkBusy}
	}
	m.open = true
	m.paused = false
	m.interrupt = false
	m.format = format
	m.mu.Unlock()

	m.openCount.Add(1)
	if m.callbacks.OnOpen != nil {
		m.callbacks.OnOpen(format)
	}
	return nil
}

// Write implements Sink.
func (m *MockSink) Write(frames []byte) error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return ErrSinkClosed
	}
	if err := checkAligned(m.format, frames); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.WriteErr != nil && len(m.writes) >= m.FailAfter {
		m.mu.Unlock()
		return &DeviceError{Op: "write", Err: m.WriteErr}
	}

	for (m.BlockWrite || m.paused) && m.open && !m.interrupt {
		m.cond.Wait()
	}
	if m.interrupt {
		m.mu.Unlock()
		return ErrInterrupted
	}
	if !m.open {
		m.mu.Unlock()
		return ErrSinkClosed
	}

	data := make([]byte, len(frames))
	copy(data, frames)
	m.writes = append(m.writes, data)
	delay := m.WriteDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if m.callbacks.OnWrite != nil {
		m.callbacks.OnWrite(data)
	}
	return nil
}

// Close implements Sink.
func (m *MockSink) Close() error {
	m.mu.Lock()
	wasOpen := m.open
	m.open = false
	m.cond.Broadcast()
	m.mu.Unlock()

	if !wasOpen {
		return nil
	}
	m.closeCount.Add(1)
	if m.callbacks.OnClose != nil {
		m.callbacks.OnClose()
	}
	return nil
}

// Pause implements Pauser.
func (m *MockSink) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.paused = true
	m.pauseCount.Add(1)
	return nil
}

// Resume implements Pauser.
func (m *MockSink) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.paused = false
	m.cond.Broadcast()
	m.resumeCount.Add(1)
	return nil
}

// Interrupt implements Interrupter.
func (m *MockSink) Interrupt() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.interrupt = true
	m.cond.Broadcast()
	m.interruptions.Add(1)
}

// Drain implements Drainer.
func (m *MockSink) Drain(ctx context.Context) error {
	m.drainCount.Add(1)
	return ctx.Err()
}

// Unblock releases writes held by BlockWrite.
func (m *MockSink) Unblock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BlockWrite = false
	m.cond.Broadcast()
}

// SetBlockWrite toggles BlockWrite while the sink is in use.
func (m *MockSink) SetBlockWrite(block bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BlockWrite = block
	m.cond.Broadcast()
}

// Writes returns a copy of every recorded write, in order.
func (m *MockSink) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// Reset forgets recorded writes.
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes = nil
}

// IsOpen reports whether the sink is currently open.
func (m *MockSink) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.open
}

// Format returns the format of the last Open.
func (m *MockSink) Format() ttypes.AudioFormat {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.format
}

// Counts used by tests.
func (m *MockSink) OpenCount() int64     { return m.openCount.Load() }
func (m *MockSink) CloseCount() int64    { return m.closeCount.Load() }
func (m *MockSink) PauseCount() int64    { return m.pauseCount.Load() }
func (m *MockSink) ResumeCount() int64   { return m.resumeCount.Load() }
func (m *MockSink) OverlapOpens() int64  { return m.overlapOpens.Load() }
func (m *MockSink) DrainCount() int64    { return m.drainCount.Load() }
func (m *MockSink) Interruptions() int64 { return m.interruptions.Load() }
