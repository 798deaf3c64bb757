package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/streamtts/internal/ttypes"
)

func chunk(seq int64) ttypes.AudioChunk {
	return ttypes.AudioChunk{Seq: seq, Payload: []byte{byte(seq), byte(seq)}}
}

func TestChunkQueue_BasicOperations(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	if size := q.Len(); size != 0 {
		t.Errorf("Expected empty queue, got size %d", size)
	}

	for i := int64(0); i < 3; i++ {
		if err := q.Push(ctx, chunk(i)); err != nil {
			t.Fatalf("Push %d failed: %v", i, err)
		}
	}

	if size := q.Len(); size != 3 {
		t.Errorf("Expected size 3, got %d", size)
	}

	if err := q.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	// Sentinel is not counted as a chunk
	if size := q.Len(); size != 3 {
		t.Errorf("Expected size 3 after Finish, got %d", size)
	}

	for i := int64(0); i < 3; i++ {
		c, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop %d failed: %v", i, err)
		}
		if c.Seq != i {
			t.Errorf("Expected seq %d, got %d", i, c.Seq)
		}
	}

	if _, err := q.Pop(ctx); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Expected ErrEndOfStream, got %v", err)
	}

	// End of stream is sticky
	if _, err := q.Pop(ctx); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Expected ErrEndOfStream on second Pop, got %v", err)
	}
}

func TestChunkQueue_SealRejectsPush(t *testing.T) {
	tests := []struct {
		name string
		seal func(q *ChunkQueue) error
	}{
		{"finish", func(q *ChunkQueue) error { return q.Finish() }},
		{"fail", func(q *ChunkQueue) error { return q.Fail(errors.New("boom")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New(2)
			if err := tt.seal(q); err != nil {
				t.Fatalf("seal failed: %v", err)
			}

			if err := q.Push(context.Background(), chunk(0)); !errors.Is(err, ErrQueueClosed) {
				t.Errorf("Expected ErrQueueClosed, got %v", err)
			}

			// Only one sentinel per stream
			if err := q.Finish(); !errors.Is(err, ErrQueueClosed) {
				t.Errorf("Expected second sentinel to be rejected, got %v", err)
			}
			if err := q.Fail(errors.New("again")); !errors.Is(err, ErrQueueClosed) {
				t.Errorf("Expected second sentinel to be rejected, got %v", err)
			}
		})
	}
}

func TestChunkQueue_ErrorSentinelAfterChunks(t *testing.T) {
	q := New(4)
	ctx := context.Background()
	cause := errors.New("connection reset")

	_ = q.Push(ctx, chunk(0))
	_ = q.Push(ctx, chunk(1))
	_ = q.Fail(cause)

	for i := int64(0); i < 2; i++ {
		c, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop %d failed: %v", i, err)
		}
		if c.Seq != i {
			t.Errorf("Expected seq %d, got %d", i, c.Seq)
		}
	}

	_, err := q.Pop(ctx)
	var se *StreamError
	if !errors.As(err, &se) {
		t.Fatalf("Expected *StreamError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected stream error to wrap cause, got %v", err)
	}
}

func TestChunkQueue_Backpressure(t *testing.T) {
	q := New(2)
	ctx := context.Background()

	_ = q.Push(ctx, chunk(0))
	_ = q.Push(ctx, chunk(1))

	done := make(chan error, 1)
	go func() {
		done <- q.Push(ctx, chunk(2))
	}()

	// Should block while full
	select {
	case err := <-done:
		t.Fatalf("Push should block on a full queue, returned %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := q.Pop(ctx); err != nil {
		t.Fatalf("Pop failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Push failed after space freed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Push did not unblock after Pop")
	}

	if stats := q.GetStats(); stats.ProducerWaits != 1 {
		t.Errorf("Expected 1 producer wait, got %d", stats.ProducerWaits)
	}
}

func TestChunkQueue_PopBlocksUntilPush(t *testing.T) {
	q := New(2)
	ctx := context.Background()

	got := make(chan ttypes.AudioChunk, 1)
	go func() {
		c, err := q.Pop(ctx)
		if err == nil {
			got <- c
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop should block on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	_ = q.Push(ctx, chunk(7))

	select {
	case c := <-got:
		if c.Seq != 7 {
			t.Errorf("Expected seq 7, got %d", c.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestChunkQueue_CloseAndDiscardReleasesWaiters(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	_ = q.Push(ctx, chunk(0))

	producer := make(chan error, 1)
	go func() {
		producer <- q.Push(ctx, chunk(1))
	}()

	empty := New(1)
	consumer := make(chan error, 1)
	go func() {
		_, err := empty.Pop(ctx)
		consumer <- err
	}()

	time.Sleep(50 * time.Millisecond)
	q.CloseAndDiscard()
	empty.CloseAndDiscard()

	select {
	case err := <-producer:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("Expected ErrQueueClosed for producer, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Producer still blocked after CloseAndDiscard")
	}

	select {
	case err := <-consumer:
		if !errors.Is(err, ErrDiscarded) {
			t.Errorf("Expected ErrDiscarded for consumer, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Consumer still blocked after CloseAndDiscard")
	}

	if q.Len() != 0 {
		t.Errorf("Expected discarded queue to be empty, got %d", q.Len())
	}
	if stats := q.GetStats(); stats.TotalDiscarded != 1 {
		t.Errorf("Expected 1 discarded chunk, got %d", stats.TotalDiscarded)
	}

	// Idempotent
	q.CloseAndDiscard()
	if _, err := q.Pop(ctx); !errors.Is(err, ErrDiscarded) {
		t.Errorf("Expected ErrDiscarded after discard, got %v", err)
	}
}

func TestChunkQueue_ContextCancellation(t *testing.T) {
	q := New(1)
	_ = q.Push(context.Background(), chunk(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- q.Push(ctx, chunk(1))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Push ignored context cancellation")
	}

	popCtx, popCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer popCancel()
	empty := New(1)
	if _, err := empty.Pop(popCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded from Pop, got %v", err)
	}
}

func TestChunkQueue_ConcurrentOrdering(t *testing.T) {
	q := New(3)
	ctx := context.Background()
	const total = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(0); i < total; i++ {
			if err := q.Push(ctx, chunk(i)); err != nil {
				t.Errorf("Push %d failed: %v", i, err)
				return
			}
		}
		_ = q.Finish()
	}()

	next := int64(0)
	for {
		c, err := q.Pop(ctx)
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			t.Fatalf("Pop failed: %v", err)
		}
		if c.Seq != next {
			t.Fatalf("Out of order: expected %d, got %d", next, c.Seq)
		}
		next++
	}
	wg.Wait()

	if next != total {
		t.Errorf("Expected %d chunks, got %d", total, next)
	}

	stats := q.GetStats()
	if stats.PeakSize > q.Cap() {
		t.Errorf("Peak size %d exceeded capacity %d", stats.PeakSize, q.Cap())
	}
}
