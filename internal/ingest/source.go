package ingest

import (
	"context"
	"io"
)

// Source opens the audio stream for a request. The returned body yields a
// WAV stream or raw PCM in the request format. Closing it releases the
// connection. Errors should be *TransportError or *ProtocolError.
type Source interface {
	Stream(ctx context.Context, req Request) (io.ReadCloser, error)
	Name() string
}

// Endpoint is implemented by sources whose endpoint can be replaced at
// runtime. The change applies to requests started afterwards.
type Endpoint interface {
	SetEndpoint(url, apiKey string)
}

// Origin is implemented by sources that can name where their audio comes
// from, such as an endpoint URL or a synthesizer binary. It becomes part of
// the cache key, so audio from one origin never replays for another.
type Origin interface {
	Origin() string
}

// originOf returns the source name qualified by its Origin, if any.
func originOf(s Source) string {
	if o, ok := s.(Origin); ok {
		return s.Name() + " " + o.Origin()
	}
	return s.Name()
}
