package ingest

import (
	"github.com/dgnsrekt/streamtts/internal/cache"
	"github.com/dgnsrekt/streamtts/internal/ttypes"
)

// Request is one synthesis request as seen by a Source.
type Request struct {
	ID     string // session id, sent as X-Request-Id
	Text   string
	Model  string
	Voice  string
	Speed  float64
	Gain   float64
	Format ttypes.AudioFormat
}

// CacheKey identifies the audio this request produces when synthesized by
// origin.
func (r Request) CacheKey(origin string) cache.Key {
	return cache.Key{
		Source:     origin,
		Text:       r.Text,
		Model:      r.Model,
		Voice:      r.Voice,
		Speed:      r.Speed,
		Gain:       r.Gain,
		SampleRate: r.Format.SampleRate,
		Channels:   r.Format.Channels,
	}
}
