package audio

import (
	"time"

	"github.com/charmbracelet/log"
)

// DeviceOptions configures the device sink.
type DeviceOptions struct {
	// BufferSize is the latency of the device buffer itself.
	BufferSize time.Duration

	// Pending bounds how much audio may wait between Write and the device.
	// Write blocks beyond it, which is what paces the consumption loop.
	Pending time.Duration

	// ReadyTimeout bounds the wait for the device context.
	ReadyTimeout time.Duration

	// Volume in the range 0.0 to 1.0.
	Volume float64

	Logger *log.Logger
}

// DefaultDeviceOptions returns defaults suitable for speech.
func DefaultDeviceOptions() DeviceOptions {
	return DeviceOptions{
		BufferSize:   100 * time.Millisecond,
		Pending:      250 * time.Millisecond,
		ReadyTimeout: 5 * time.Second,
		Volume:       1.0,
	}
}

func (o DeviceOptions) withDefaults() DeviceOptions {
	d := DefaultDeviceOptions()
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.Pending <= 0 {
		o.Pending = d.Pending
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = d.ReadyTimeout
	}
	if o.Volume <= 0 || o.Volume > 1 {
		o.Volume = d.Volume
	}
	if o.Logger == nil {
		o.Logger = log.Default().WithPrefix("audio")
	}
	return o
}
