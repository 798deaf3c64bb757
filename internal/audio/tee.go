package audio

import (
	"context"
	"errors"

	"github.com/dgnsrekt/streamtts/internal/ttypes"
)

// Tee fans every write out to several sinks, for example the device and a
// WAV recording. Optional capabilities are forwarded to members that have them.
type Tee struct {
	sinks []Sink
}

// NewTee combines sinks. Writes go to them in order.
func NewTee(sinks ...Sink) *Tee {
	return &Tee{sinks: sinks}
}

// Open implements Sink. If one member fails, the ones already opened are
// closed again.
func (t *Tee) Open(format ttypes.AudioFormat) error {
	for i, s := range t.sinks {
		if err := s.Open(format); err != nil {
			for _, opened := range t.sinks[:i] {
				_ = opened.Close()
			}
			return err
		}
	}
	return nil
}

// Write implements Sink.
func (t *Tee) Write(frames []byte) error {
	for _, s := range t.sinks {
		if err := s.Write(frames); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Sink. Every member is closed; errors are joined.
func (t *Tee) Close() error {
	var errs []error
	for _, s := range t.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pause implements Pauser.
func (t *Tee) Pause() error {
	var errs []error
	for _, s := range t.sinks {
		if p, ok := s.(Pauser); ok {
			errs = append(errs, p.Pause())
		}
	}
	return errors.Join(errs...)
}

// Resume implements Pauser.
func (t *Tee) Resume() error {
	var errs []error
	for _, s := range t.sinks {
		if p, ok := s.(Pauser); ok {
			errs = append(errs, p.Resume())
		}
	}
	return errors.Join(errs...)
}

// Interrupt implements Interrupter.
func (t *Tee) Interrupt() {
	for _, s := range t.sinks {
		if i, ok := s.(Interrupter); ok {
			i.Interrupt()
		}
	}
}

// Drain implements Drainer.
func (t *Tee) Drain(ctx context.Context) error {
	for _, s := range t.sinks {
		if d, ok := s.(Drainer); ok {
			if err := d.Drain(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
