//go:build !nocgo
// +build !nocgo

package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/streamtts/internal/ttypes"
	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process, so it is created on first use and
// shared by every DeviceSink.
var (
	deviceMu     sync.Mutex
	deviceCtx    *oto.Context
	deviceFormat ttypes.AudioFormat
)

func deviceContext(format ttypes.AudioFormat, opts DeviceOptions) (*oto.Context, error) {
	deviceMu.Lock()
	defer deviceMu.Unlock()

	if deviceCtx != nil {
		if format != deviceFormat {
			return nil, fmt.Errorf("device already running at %s, cannot switch to %s", deviceFormat, format)
		}
		return deviceCtx, nil
	}

	options := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   opts.BufferSize,
	}

	opts.Logger.Debug("Initializing audio context",
		"sample_rate", options.SampleRate,
		"channels", options.ChannelCount,
		"buffer_size", options.BufferSize)

	ctx, readyChan, err := oto.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}

	select {
	case <-readyChan:
	case <-time.After(opts.ReadyTimeout):
		return nil, fmt.Errorf("audio context initialization timeout after %v", opts.ReadyTimeout)
	}

	deviceCtx = ctx
	deviceFormat = format
	return ctx, nil
}

// DeviceSink plays PCM on the default output device through oto/v3.
type DeviceSink struct {
	opts   DeviceOptions
	logger *log.Logger

	mu     sync.Mutex
	format ttypes.AudioFormat
	stream *pcmStream
	player *oto.Player
	paused bool
}

// NewDeviceSink creates a device sink. The device is only touched on Open.
func NewDeviceSink(opts DeviceOptions) *DeviceSink {
	opts = opts.withDefaults()
	return &DeviceSink{
		opts:   opts,
		logger: opts.Logger,
	}
}

// Open implements Sink.
func (d *DeviceSink) Open(format ttypes.AudioFormat) error {
	if err := format.Validate(); err != nil {
		return &DeviceError{Op: "open", Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.player != nil {
		return &DeviceError{Op: "open", Err: ErrSinkBusy}
	}

	ctx, err := deviceContext(format, d.opts)
	if err != nil {
		return &DeviceError{Op: "open", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &DeviceError{Op: "open", Err: err}
	}

	highWater := int(int64(format.BytesPerSecond()) * int64(d.opts.Pending) / int64(time.Second))
	stream := newPCMStream(highWater)

	player := ctx.NewPlayer(stream)
	player.SetVolume(d.opts.Volume)
	player.Play()

	d.format = format
	d.stream = stream
	d.player = player

	d.logger.Debug("Device opened", "format", format, "pending_bytes", highWater)
	return nil
}

// Write implements Sink.
func (d *DeviceSink) Write(frames []byte) error {
	d.mu.Lock()
	stream, player, format := d.stream, d.player, d.format
	d.mu.Unlock()

	if player == nil {
		return ErrSinkClosed
	}
	if err := checkAligned(format, frames); err != nil {
		return err
	}
	if err := player.Err(); err != nil {
		return &DeviceError{Op: "write", Err: err}
	}

	if err := stream.write(frames); err != nil {
		if errors.Is(err, ErrInterrupted) || errors.Is(err, ErrSinkClosed) {
			return err
		}
		return &DeviceError{Op: "write", Err: err}
	}
	return nil
}

// Pause implements Pauser.
func (d *DeviceSink) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.player == nil {
		return ErrSinkClosed
	}
	d.player.Pause()
	d.paused = true
	return nil
}

// Resume implements Pauser.
func (d *DeviceSink) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.player == nil {
		return ErrSinkClosed
	}
	d.player.Play()
	d.paused = false
	return nil
}

// Interrupt implements Interrupter.
func (d *DeviceSink) Interrupt() {
	d.mu.Lock()
	stream, player := d.stream, d.player
	d.mu.Unlock()

	if stream == nil {
		return
	}
	stream.interrupt()
	player.Pause()
}

// Drain implements Drainer. oto has no completion callback, so once the
// stream is consumed the player buffer is polled until it empties.
func (d *DeviceSink) Drain(ctx context.Context) error {
	d.mu.Lock()
	stream, player := d.stream, d.player
	d.mu.Unlock()

	if player == nil {
		return ErrSinkClosed
	}

	stream.finish()
	if err := stream.waitEmpty(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	// A paused player keeps its buffer; wait for it to resume
	for (player.IsPlaying() || d.isPaused()) && player.BufferedSize() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if err := player.Err(); err != nil {
		return &DeviceError{Op: "drain", Err: err}
	}
	return nil
}

func (d *DeviceSink) isPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Close implements Sink.
func (d *DeviceSink) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.player == nil {
		return nil
	}

	d.stream.close()
	err := d.player.Close()

	d.player = nil
	d.stream = nil
	d.paused = false

	if err != nil {
		return &DeviceError{Op: "close", Err: err}
	}
	d.logger.Debug("Device closed")
	return nil
}
