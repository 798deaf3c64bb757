// Package playback drives one session's audio from its ChunkQueue into an
// audio.Sink. A Controller runs a single consumption loop, honours pause,
// resume and stop, and reports exactly one terminal Result.
package playback
