package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/streamtts/internal/audio"
	"github.com/dgnsrekt/streamtts/internal/observe"
	"github.com/dgnsrekt/streamtts/internal/queue"
	"github.com/dgnsrekt/streamtts/internal/ttypes"
)

const (
	// DefaultReadTimeout is how long the stream may stall before failing.
	DefaultReadTimeout = 15 * time.Second

	// DefaultMaxCacheEntry bounds what a single response may store.
	DefaultMaxCacheEntry = 16 << 20

	readBufferSize = 32 * 1024
)

// AudioCache stores complete PCM responses by request key.
type AudioCache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
}

// Options configures an Ingestor.
type Options struct {
	// ChunkFrames is the number of frames per AudioChunk.
	ChunkFrames int

	// ReadTimeout fails the stream when no bytes arrive for this long.
	ReadTimeout time.Duration

	// Cache is optional
	Cache AudioCache

	// MaxCacheEntry skips caching for larger responses.
	MaxCacheEntry int

	Logger *log.Logger
}

// Stats summarises one Run.
type Stats struct {
	Chunks       int64
	Bytes        int64
	Dropped      int // trailing bytes that did not form a whole frame
	CacheHit     bool
	FirstAudio   time.Duration
	WAV          bool
	SourceFormat ttypes.AudioFormat
}

// Ingestor reads synthesis responses into chunk queues. One Ingestor can
// serve any number of sequential or concurrent Runs.
type Ingestor struct {
	source Source
	opts   Options
	logger *log.Logger
}

// New creates an Ingestor reading from source.
func New(source Source, opts Options) *Ingestor {
	if opts.ChunkFrames <= 0 {
		opts.ChunkFrames = ttypes.DefaultChunkFrames
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.MaxCacheEntry <= 0 {
		opts.MaxCacheEntry = DefaultMaxCacheEntry
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Ingestor{
		source: source,
		opts:   opts,
		logger: logger.WithPrefix("ingest"),
	}
}

// Run streams req into q. Chunks are numbered from 0 in arrival order. Run
// always seals q exactly once: Finish after the last chunk on success, Fail
// with the returned error otherwise. When ctx is canceled Run stops reading,
// releases the connection and returns the context error.
func (in *Ingestor) Run(ctx context.Context, req Request, q *queue.ChunkQueue) (stats Stats, err error) {
	defer func() {
		if err == nil {
			_ = q.Finish()
			return
		}
		// A discarded queue rejects this, which is fine
		_ = q.Fail(err)
		if ctx.Err() == nil && !q.Discarded() {
			observe.RecordIngestError(ErrorKindOf(err))
		}
	}()

	if err := req.Format.Validate(); err != nil {
		return stats, &ProtocolError{Reason: "invalid session format", Err: err}
	}

	start := time.Now()
	if in.source == nil {
		return stats, &TransportError{Kind: KindConnect, Message: "no synthesis source configured"}
	}

	var key string
	if in.opts.Cache != nil {
		key = req.CacheKey(originOf(in.source)).String()
		data, ok := in.opts.Cache.Get(key)
		observe.RecordCacheLookup(ok)
		if ok {
			in.logger.Debug("Replaying cached audio", "session", req.ID, "bytes", len(data))
			stats.CacheHit = true
			stats.SourceFormat = req.Format
			err = in.replay(ctx, req, data, q, &stats)
			return stats, err
		}
	}

	err = in.stream(ctx, req, q, key, start, &stats)
	return stats, err
}

// replay pushes cached PCM through the same chunking as a live stream.
func (in *Ingestor) replay(ctx context.Context, req Request, data []byte, q *queue.ChunkQueue, stats *Stats) error {
	c := newChunker(req.Format, in.opts.ChunkFrames)
	if err := in.push(ctx, q, c.add(data)); err != nil {
		return err
	}
	last, dropped := c.finish()
	stats.Chunks = c.emitted()
	stats.Bytes = c.bytes
	stats.Dropped = dropped
	if c.bytes == 0 {
		return &ProtocolError{Reason: "cached entry is empty", Err: ErrEmptyAudio}
	}
	return in.push(ctx, q, []ttypes.AudioChunk{last})
}

func (in *Ingestor) stream(parent context.Context, req Request, q *queue.ChunkQueue, key string, start time.Time, stats *Stats) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	body, err := in.source.Stream(ctx, req)
	if err != nil {
		if parent.Err() != nil {
			return parent.Err()
		}
		return err
	}
	defer body.Close()

	// Unblock a pending Read as soon as the run is canceled
	stopClose := context.AfterFunc(ctx, func() { body.Close() })
	defer stopClose()

	watchdog := time.AfterFunc(in.opts.ReadTimeout, func() { cancel(ErrReadTimeout) })
	defer watchdog.Stop()

	var (
		strip    audio.HeaderStripper
		c        = newChunker(req.Format, in.opts.ChunkFrames)
		checked  bool
		recorded []byte
		record   = in.opts.Cache != nil
		buf      = make([]byte, readBufferSize)
	)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			watchdog.Reset(in.opts.ReadTimeout)

			pcm, err := strip.Feed(buf[:n])
			if err != nil {
				return &ProtocolError{Reason: "invalid WAV header", Err: err}
			}
			if !checked && (strip.IsWAV() || len(pcm) > 0) {
				checked = true
				if err := checkFormat(&strip, req.Format); err != nil {
					return err
				}
			}

			if len(pcm) > 0 {
				if stats.FirstAudio == 0 {
					stats.FirstAudio = time.Since(start)
				}
				if record {
					if len(recorded)+len(pcm) > in.opts.MaxCacheEntry {
						record, recorded = false, nil
					} else {
						recorded = append(recorded, pcm...)
					}
				}
				// Backpressure from a paused consumer is not a stalled stream
				watchdog.Stop()
				if err := in.push(ctx, q, c.add(pcm)); err != nil {
					return in.cause(parent, ctx, err)
				}
				watchdog.Reset(in.opts.ReadTimeout)
			}
		}

		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return in.cause(parent, ctx, rerr)
		}
	}
	watchdog.Stop()

	if tail := strip.Flush(); len(tail) > 0 {
		if record {
			recorded = append(recorded, tail...)
		}
		if err := in.push(ctx, q, c.add(tail)); err != nil {
			return in.cause(parent, ctx, err)
		}
	}

	last, dropped := c.finish()
	stats.Chunks = c.emitted()
	stats.Bytes = c.bytes
	stats.Dropped = dropped
	stats.WAV = strip.IsWAV()
	stats.SourceFormat = req.Format
	if strip.Info().HasFormat {
		stats.SourceFormat = strip.Info().Format
	}

	if c.bytes == 0 {
		return &ProtocolError{Reason: "response carried no PCM", Err: ErrEmptyAudio}
	}
	if err := in.push(ctx, q, []ttypes.AudioChunk{last}); err != nil {
		return in.cause(parent, ctx, err)
	}
	if dropped > 0 {
		in.logger.Warn("Dropped trailing partial frame", "session", req.ID, "bytes", dropped)
	}

	if record && key != "" {
		if err := in.opts.Cache.Put(key, recorded); err != nil {
			in.logger.Debug("Failed to cache audio", "session", req.ID, "err", err)
		}
	}

	in.logger.Debug("Synthesis stream complete",
		"session", req.ID,
		"chunks", stats.Chunks,
		"bytes", stats.Bytes,
		"first_audio", stats.FirstAudio,
	)
	return nil
}

// push queues chunks in order.
func (in *Ingestor) push(ctx context.Context, q *queue.ChunkQueue, chunks []ttypes.AudioChunk) error {
	for _, chunk := range chunks {
		if err := q.Push(ctx, chunk); err != nil {
			return err
		}
		observe.RecordChunkIngested(chunk.Len())
	}
	return nil
}

// cause turns a read or push failure into the error reported for the run.
func (in *Ingestor) cause(parent, ctx context.Context, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	if errors.Is(context.Cause(ctx), ErrReadTimeout) {
		return &TransportError{Kind: KindTimeout, Err: ErrReadTimeout}
	}
	if errors.Is(err, queue.ErrQueueClosed) {
		return err
	}

	var te *TransportError
	var pe *ProtocolError
	if errors.As(err, &te) || errors.As(err, &pe) {
		return err
	}
	return &TransportError{Kind: KindStream, Err: err}
}

// checkFormat rejects a WAV header that disagrees with the session format.
func checkFormat(strip *audio.HeaderStripper, want ttypes.AudioFormat) error {
	if !strip.IsWAV() || !strip.Info().HasFormat {
		return nil
	}
	got := strip.Info().Format
	if got != want {
		return &ProtocolError{Reason: fmt.Sprintf("stream format %s does not match session format %s", got, want)}
	}
	return nil
}
