package audio

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// pcmStream is the bridge between Write calls and the device player, which
// pulls audio through io.Reader. Writes block while more than highWater bytes
// are pending so the device paces the producer.
type pcmStream struct {
	mu       sync.Mutex
	readable *sync.Cond
	writable *sync.Cond

	buf       bytes.Buffer
	highWater int
	consumed  int64

	finished    bool // no more writes, Read drains then reports EOF
	closed      bool // Read reports EOF immediately
	interrupted bool
}

func newPCMStream(highWater int) *pcmStream {
	if highWater <= 0 {
		highWater = 1
	}
	s := &pcmStream{highWater: highWater}
	s.readable = sync.NewCond(&s.mu)
	s.writable = sync.NewCond(&s.mu)
	return s
}

// write appends p once the pending audio dropped below the high-water mark.
func (s *pcmStream) write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.buf.Len() >= s.highWater && !s.closed && !s.interrupted {
		s.writable.Wait()
	}

	switch {
	case s.interrupted:
		return ErrInterrupted
	case s.closed || s.finished:
		return ErrSinkClosed
	}

	s.buf.Write(p)
	s.readable.Signal()
	return nil
}

// Read implements io.Reader for the device player.
func (s *pcmStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.buf.Len() == 0 && !s.finished && !s.closed {
		s.readable.Wait()
	}

	if s.closed || s.buf.Len() == 0 {
		return 0, io.EOF
	}

	n, _ := s.buf.Read(p)
	s.consumed += int64(n)
	s.writable.Broadcast()
	return n, nil
}

// interrupt drops pending audio and fails blocked and future writes.
func (s *pcmStream) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.interrupted = true
	s.buf.Reset()
	s.readable.Broadcast()
	s.writable.Broadcast()
}

// finish marks the end of input; the reader drains what is left.
func (s *pcmStream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finished = true
	s.readable.Broadcast()
}

func (s *pcmStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.buf.Reset()
	s.readable.Broadcast()
	s.writable.Broadcast()
}

// pending returns the number of bytes written but not yet read.
func (s *pcmStream) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.Len()
}

// waitEmpty blocks until the reader consumed everything or ctx ends.
func (s *pcmStream) waitEmpty(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.writable.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.buf.Len() > 0 && !s.closed && !s.interrupted && ctx.Err() == nil {
		s.writable.Wait()
	}
	return ctx.Err()
}
