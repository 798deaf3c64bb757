// Package ingest turns a streamed synthesis response into ordered audio
// chunks. Sources open the network stream (HTTP or WebSocket); the Ingestor
// strips framing, cuts PCM into chunks and pushes them into a session's
// ChunkQueue, ending the stream with exactly one end or error sentinel.
package ingest
