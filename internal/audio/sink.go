package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgnsrekt/streamtts/internal/ttypes"
)

var (
	// ErrSinkClosed is returned when writing to a sink that is not open.
	ErrSinkClosed = errors.New("sink is not open")

	// ErrSinkBusy is returned when Open is called on a sink that is already open.
	ErrSinkBusy = errors.New("sink is already open")

	// ErrInterrupted is returned by a Write that was aborted by Interrupt.
	ErrInterrupted = errors.New("write interrupted")

	// ErrUnalignedFrames is returned when a write is not a whole number of frames.
	ErrUnalignedFrames = errors.New("payload is not frame aligned")
)

// Sink is the audio output device abstraction. A sink is opened once per
// session, receives interleaved PCM frames and is closed when the session
// ends. Implementations may be reopened after Close.
type Sink interface {
	// Open prepares the device for the given format.
	Open(format ttypes.AudioFormat) error

	// Write plays frames. It may block while the device is saturated.
	Write(frames []byte) error

	// Close releases the device. Buffered audio is dropped.
	Close() error
}

// Pauser is implemented by sinks that can halt output in place.
type Pauser interface {
	Pause() error
	Resume() error
}

// Drainer is implemented by sinks that buffer internally. Drain blocks until
// everything written so far has been played or ctx ends.
type Drainer interface {
	Drain(ctx context.Context) error
}

// Interrupter is implemented by sinks whose Write can block. Interrupt makes
// a blocked Write return ErrInterrupted and may be called from any goroutine.
type Interrupter interface {
	Interrupt()
}

// DeviceError reports an output device failure.
type DeviceError struct {
	Op  string // open, write, close, drain
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// checkAligned verifies frames holds whole frames for format.
func checkAligned(format ttypes.AudioFormat, frames []byte) error {
	if fb := format.BytesPerFrame(); fb > 0 && len(frames)%fb != 0 {
		return fmt.Errorf("%w: %d bytes, frame size %d", ErrUnalignedFrames, len(frames), fb)
	}
	return nil
}
