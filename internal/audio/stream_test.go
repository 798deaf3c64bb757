package audio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestPCMStream_WriteBlocksAtHighWater(t *testing.T) {
	s := newPCMStream(4)

	if err := s.write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.write([]byte{5, 6})
	}()

	select {
	case err := <-done:
		t.Fatalf("write should block at high water, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	buf := make([]byte, 4)
	if n, err := s.Read(buf); err != nil || n != 4 {
		t.Fatalf("Read returned %d, %v", n, err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("write failed after read: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("write did not unblock after Read")
	}
}

func TestPCMStream_FinishDrainsThenEOF(t *testing.T) {
	s := newPCMStream(16)
	_ = s.write([]byte{1, 2})
	s.finish()

	buf := make([]byte, 8)
	n, err := s.Read(buf)
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 bytes, got %d, %v", n, err)
	}
	if _, err := s.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("Expected EOF after drain, got %v", err)
	}
	if err := s.write([]byte{3, 4}); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Expected ErrSinkClosed after finish, got %v", err)
	}
}

func TestPCMStream_InterruptReleasesWriter(t *testing.T) {
	s := newPCMStream(2)
	_ = s.write([]byte{1, 2})

	done := make(chan error, 1)
	go func() {
		done <- s.write([]byte{3, 4})
	}()

	time.Sleep(20 * time.Millisecond)
	s.interrupt()

	select {
	case err := <-done:
		if !errors.Is(err, ErrInterrupted) {
			t.Errorf("Expected ErrInterrupted, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("writer still blocked after interrupt")
	}

	if p := s.pending(); p != 0 {
		t.Errorf("Expected pending audio dropped, got %d bytes", p)
	}
}

func TestPCMStream_CloseUnblocksReader(t *testing.T) {
	s := newPCMStream(2)

	done := make(chan error, 1)
	go func() {
		_, err := s.Read(make([]byte, 2))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.close()

	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Errorf("Expected EOF, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reader still blocked after close")
	}
}

func TestPCMStream_WaitEmpty(t *testing.T) {
	s := newPCMStream(8)
	_ = s.write([]byte{1, 2, 3, 4})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.waitEmpty(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded with pending audio, got %v", err)
	}

	go func() {
		_, _ = s.Read(make([]byte, 4))
	}()

	if err := s.waitEmpty(context.Background()); err != nil {
		t.Errorf("waitEmpty failed: %v", err)
	}
}
