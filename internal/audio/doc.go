// Package audio provides the output side of the pipeline: the Sink
// abstraction, a device sink backed by oto/v3, a WAV recorder, a fan-out tee
// and a mock sink for tests.
package audio
