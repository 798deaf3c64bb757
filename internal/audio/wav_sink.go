package audio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgnsrekt/streamtts/internal/ttypes"
)

// WAVSink records a session to a WAV file. Sizes in the header are patched
// when the sink is closed.
type WAVSink struct {
	path string

	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	format  ttypes.AudioFormat
	written uint32
}

// NewWAVSink records to path. The file is created on Open.
func NewWAVSink(path string) *WAVSink {
	return &WAVSink{path: path}
}

// Path returns the output file.
func (s *WAVSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.path
}

// SetPath changes the file the next Open records to.
func (s *WAVSink) SetPath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return ErrSinkBusy
	}
	s.path = path
	return nil
}

// Open implements Sink.
func (s *WAVSink) Open(format ttypes.AudioFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return ErrSinkBusy
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("unable to create output directory: %w", err)
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("unable to create wav file: %w", err)
	}

	s.file = f
	s.w = bufio.NewWriter(f)
	s.format = format
	s.written = 0

	// Placeholder sizes, fixed in Close
	if err := WriteWAVHeader(s.w, format, 0); err != nil {
		_ = f.Close()
		s.file = nil
		return fmt.Errorf("unable to write wav header: %w", err)
	}
	return nil
}

// Write implements Sink.
func (s *WAVSink) Write(frames []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrSinkClosed
	}
	if err := checkAligned(s.format, frames); err != nil {
		return err
	}

	n, err := s.w.Write(frames)
	s.written += uint32(n)
	if err != nil {
		return fmt.Errorf("unable to write wav data: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *WAVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	defer func() {
		s.file = nil
		s.w = nil
	}()

	if err := s.w.Flush(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("unable to flush wav data: %w", err)
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("unable to rewind wav file: %w", err)
	}
	if err := WriteWAVHeader(s.file, s.format, s.written); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("unable to finalize wav header: %w", err)
	}
	return s.file.Close()
}

// Written returns the PCM bytes recorded in the current or last session.
func (s *WAVSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int(s.written)
}
