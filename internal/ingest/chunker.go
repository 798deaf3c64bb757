package ingest

import "github.com/dgnsrekt/streamtts/internal/ttypes"

// chunker cuts a PCM byte stream into fixed size chunks. Complete chunks are
// released as soon as they are cut; finish releases the remainder marked
// Final, or an empty Final chunk when the stream ended on a chunk boundary.
type chunker struct {
	size  int
	frame int
	buf   []byte
	seq   int64
	bytes int64
}

func newChunker(format ttypes.AudioFormat, frames int) *chunker {
	frame := format.BytesPerFrame()
	return &chunker{size: frames * frame, frame: frame}
}

// add appends PCM and returns every chunk that is ready to be queued.
func (c *chunker) add(p []byte) []ttypes.AudioChunk {
	c.buf = append(c.buf, p...)

	var out []ttypes.AudioChunk
	for len(c.buf) >= c.size {
		out = append(out, c.cut(c.size, false))
	}

	// Reclaim the consumed prefix
	if len(c.buf) == 0 {
		c.buf = nil
	}
	return out
}

// finish flushes the remainder as the Final chunk. It returns the number of
// trailing bytes that did not form a whole frame.
func (c *chunker) finish() (ttypes.AudioChunk, int) {
	whole := len(c.buf) - len(c.buf)%c.frame
	dropped := len(c.buf) - whole
	last := c.cut(whole, true)
	c.buf = nil
	return last, dropped
}

func (c *chunker) cut(n int, final bool) ttypes.AudioChunk {
	var payload []byte
	if n > 0 {
		payload = make([]byte, n)
		copy(payload, c.buf[:n])
		c.buf = c.buf[n:]
	}
	chunk := ttypes.AudioChunk{Seq: c.seq, Payload: payload, Final: final}
	c.seq++
	c.bytes += int64(n)
	return chunk
}

// emitted reports the number of chunks produced so far.
func (c *chunker) emitted() int64 {
	return c.seq
}
