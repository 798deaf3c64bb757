// Package queue provides the bounded chunk queue that couples the ingestor
// to the playback controller. It applies backpressure to the producer,
// preserves FIFO order and supports discarding everything on interruption.
package queue
