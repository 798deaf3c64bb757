//go:build nocgo
// +build nocgo

package audio

import (
	"context"
	"errors"

	"github.com/dgnsrekt/streamtts/internal/ttypes"
)

// ErrNoDevice is returned by Open in builds without audio support.
var ErrNoDevice = errors.New("audio not available in nocgo build")

// DeviceSink stub for nocgo builds. Every Open fails with a DeviceError.
type DeviceSink struct{}

// NewDeviceSink creates a stub device sink.
func NewDeviceSink(DeviceOptions) *DeviceSink {
	return &DeviceSink{}
}

func (d *DeviceSink) Open(ttypes.AudioFormat) error {
	return &DeviceError{Op: "open", Err: ErrNoDevice}
}

func (d *DeviceSink) Write([]byte) error {
	return ErrSinkClosed
}

func (d *DeviceSink) Pause() error  { return ErrSinkClosed }
func (d *DeviceSink) Resume() error { return ErrSinkClosed }
func (d *DeviceSink) Interrupt()    {}

func (d *DeviceSink) Drain(context.Context) error {
	return ErrSinkClosed
}

func (d *DeviceSink) Close() error {
	return nil
}
