package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgnsrekt/streamtts/internal/ttypes"
)

var (
	// ErrQueueClosed is returned to producers once the stream was finished,
	// failed or discarded.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrEndOfStream is returned by Pop after the last chunk when the producer
	// finished cleanly.
	ErrEndOfStream = errors.New("end of stream")

	// ErrDiscarded is returned by Pop once CloseAndDiscard was called.
	ErrDiscarded = errors.New("queue discarded")
)

// StreamError wraps the error a producer reported through Fail. Pop returns
// it after every chunk queued before the failure has been consumed.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return "stream failed: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// entryKind distinguishes audio from the two sentinels.
type entryKind int

const (
	kindChunk entryKind = iota
	kindEnd
	kindError
)

type entry struct {
	kind  entryKind
	chunk ttypes.AudioChunk
	err   error
}

// Stats tracks queue performance metrics.
type Stats struct {
	TotalPushed    int64
	TotalPopped    int64
	TotalDiscarded int64
	BytesPushed    int64
	CurrentSize    int
	PeakSize       int
	ProducerWaits  int64 // Number of pushes that had to wait for space
	LastPush       time.Time
	LastPop        time.Time
}

// ChunkQueue is a bounded FIFO of audio chunks for one session. The ingestor
// is the only producer and the playback controller the only consumer.
//
// A stream ends with exactly one sentinel: Finish (end of stream) or Fail
// (error). Sentinels do not count against the capacity, so the producer never
// blocks on them. CloseAndDiscard drops whatever is buffered and releases
// every waiter immediately.
type ChunkQueue struct {
	items    []entry
	capacity int

	// Synchronization
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	// State
	sealed    bool // a sentinel was queued; no more pushes
	discarded bool
	stats     Stats
}

// New creates a queue holding at most capacity chunks.
func New(capacity int) *ChunkQueue {
	if capacity < 1 {
		capacity = 1
	}

	q := &ChunkQueue{
		items:    make([]entry, 0, capacity+1),
		capacity: capacity,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)

	return q
}

// Push appends a chunk, waiting while the queue is full. It returns
// ErrQueueClosed if the stream was already sealed or discarded, and the
// context error if ctx ends first.
func (q *ChunkQueue) Push(ctx context.Context, chunk ttypes.AudioChunk) error {
	stop := context.AfterFunc(ctx, q.wakeAll)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed || q.discarded {
		return ErrQueueClosed
	}

	// Apply backpressure - wait for space
	if len(q.items) >= q.capacity {
		q.stats.ProducerWaits++
		for len(q.items) >= q.capacity && !q.discarded && ctx.Err() == nil {
			q.notFull.Wait()
		}
	}

	if q.discarded {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q.items = append(q.items, entry{kind: kindChunk, chunk: chunk})

	q.stats.TotalPushed++
	q.stats.BytesPushed += int64(len(chunk.Payload))
	q.stats.LastPush = time.Now()
	if len(q.items) > q.stats.PeakSize {
		q.stats.PeakSize = len(q.items)
	}

	q.notEmpty.Signal()
	return nil
}

// Finish queues the end-of-stream sentinel. Only the first sentinel counts;
// later calls return ErrQueueClosed.
func (q *ChunkQueue) Finish() error {
	return q.seal(entry{kind: kindEnd})
}

// Fail queues the error sentinel carrying err.
func (q *ChunkQueue) Fail(err error) error {
	if err == nil {
		err = errors.New("unknown stream error")
	}
	return q.seal(entry{kind: kindError, err: err})
}

func (q *ChunkQueue) seal(e entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed || q.discarded {
		return ErrQueueClosed
	}

	q.sealed = true
	q.items = append(q.items, e)
	q.notEmpty.Broadcast()

	return nil
}

// Pop removes and returns the next chunk in FIFO order, waiting while the
// queue is empty. After the last chunk it returns ErrEndOfStream or a
// *StreamError, and it keeps returning that sentinel on later calls. Once
// discarded it returns ErrDiscarded.
func (q *ChunkQueue) Pop(ctx context.Context) (ttypes.AudioChunk, error) {
	stop := context.AfterFunc(ctx, q.wakeAll)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.discarded && ctx.Err() == nil {
		q.notEmpty.Wait()
	}

	if q.discarded {
		return ttypes.AudioChunk{}, ErrDiscarded
	}
	if len(q.items) == 0 {
		return ttypes.AudioChunk{}, ctx.Err()
	}

	head := q.items[0]
	switch head.kind {
	case kindEnd:
		// Sentinels stay in place so every later Pop sees them too
		return ttypes.AudioChunk{}, ErrEndOfStream
	case kindError:
		return ttypes.AudioChunk{}, &StreamError{Err: head.err}
	}

	q.items[0] = entry{}
	q.items = q.items[1:]

	q.stats.TotalPopped++
	q.stats.LastPop = time.Now()

	// Signal that queue has space
	q.notFull.Signal()

	return head.chunk, nil
}

// CloseAndDiscard drops every buffered chunk and wakes all waiting producers
// and consumers. It is safe to call more than once.
func (q *ChunkQueue) CloseAndDiscard() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.discarded {
		return
	}

	for _, e := range q.items {
		if e.kind == kindChunk {
			q.stats.TotalDiscarded++
		}
	}

	q.discarded = true
	q.items = nil

	// Wake up any waiting goroutines
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// wakeAll is used when a context ends so blocked callers re-check it.
func (q *ChunkQueue) wakeAll() {
	q.mu.Lock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of buffered chunks, sentinels excluded.
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.chunkCount()
}

func (q *ChunkQueue) chunkCount() int {
	n := len(q.items)
	if q.sealed && n > 0 && q.items[n-1].kind != kindChunk {
		n--
	}
	return n
}

// Cap returns the configured capacity.
func (q *ChunkQueue) Cap() int {
	return q.capacity
}

// Discarded reports whether CloseAndDiscard was called.
func (q *ChunkQueue) Discarded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.discarded
}

// GetStats returns current queue statistics.
func (q *ChunkQueue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := q.stats
	stats.CurrentSize = q.chunkCount()
	return stats
}
