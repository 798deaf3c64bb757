package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dgnsrekt/streamtts/internal/ttypes"
)

const (
	wavHeaderSize = 44

	// MaxWAVHeader bounds how far the parser looks for the data chunk.
	MaxWAVHeader = 64 * 1024

	// streamingDataSize is what servers put in size fields they cannot know.
	streamingDataSize = 0xFFFFFFFF
)

var (
	// ErrHeaderTooLarge is returned when no data chunk shows up within MaxWAVHeader.
	ErrHeaderTooLarge = errors.New("wav header exceeds limit without data chunk")

	// ErrNotPCM is returned for WAV files with a non-PCM encoding.
	ErrNotPCM = errors.New("wav stream is not 16-bit PCM")
)

// WAVInfo is what the header says about the stream.
type WAVInfo struct {
	Format     ttypes.AudioFormat
	HasFormat  bool   // a fmt chunk was seen
	DataSize   uint32 // streamingDataSize when unknown
	HeaderSize int
}

// HeaderStripper removes a leading RIFF/WAVE header from a byte stream that
// arrives in arbitrary pieces. Streams that do not start with RIFF are passed
// through untouched as raw PCM.
type HeaderStripper struct {
	pending []byte
	done    bool
	isWAV   bool
	info    WAVInfo
}

// Feed consumes the next piece of the stream and returns the PCM it contains.
// It returns nil until the header is complete.
func (h *HeaderStripper) Feed(p []byte) ([]byte, error) {
	if h.done {
		return p, nil
	}

	h.pending = append(h.pending, p...)

	if len(h.pending) < 12 {
		if !bytes.HasPrefix([]byte("RIFF"), h.pending[:min(len(h.pending), 4)]) {
			return h.passThrough(), nil
		}
		return nil, nil
	}

	if !bytes.Equal(h.pending[0:4], []byte("RIFF")) || !bytes.Equal(h.pending[8:12], []byte("WAVE")) {
		return h.passThrough(), nil
	}

	offset := 12
	for {
		if offset+8 > len(h.pending) {
			break
		}
		id := string(h.pending[offset : offset+4])
		size := binary.LittleEndian.Uint32(h.pending[offset+4 : offset+8])
		body := offset + 8

		if id == "data" {
			h.info.DataSize = size
			h.info.HeaderSize = body
			h.isWAV = true
			h.done = true
			pcm := h.pending[body:]
			h.pending = nil
			return pcm, nil
		}

		if id == "fmt " {
			if body+16 > len(h.pending) {
				break
			}
			if err := h.parseFormat(h.pending[body : body+16]); err != nil {
				return nil, err
			}
		}

		next := body + int(size) + int(size&1)
		if size == streamingDataSize || next > MaxWAVHeader {
			return nil, ErrHeaderTooLarge
		}
		if next > len(h.pending) {
			break
		}
		offset = next
	}

	if len(h.pending) > MaxWAVHeader {
		return nil, ErrHeaderTooLarge
	}
	return nil, nil
}

func (h *HeaderStripper) parseFormat(b []byte) error {
	audioFormat := binary.LittleEndian.Uint16(b[0:2])
	bits := int(binary.LittleEndian.Uint16(b[14:16]))
	// 1 = PCM, 0xFFFE = WAVE_FORMAT_EXTENSIBLE
	if (audioFormat != 1 && audioFormat != 0xFFFE) || bits != 16 {
		return fmt.Errorf("%w: format tag %d, %d bits", ErrNotPCM, audioFormat, bits)
	}
	h.info.Format = ttypes.AudioFormat{
		Channels:      int(binary.LittleEndian.Uint16(b[2:4])),
		SampleRate:    int(binary.LittleEndian.Uint32(b[4:8])),
		BitsPerSample: bits,
	}
	h.info.HasFormat = true
	return nil
}

func (h *HeaderStripper) passThrough() []byte {
	h.done = true
	pcm := h.pending
	h.pending = nil
	return pcm
}

// Flush returns bytes still held when the stream ends. A stream shorter than
// a RIFF preamble is raw PCM; an unfinished WAV header yields nothing.
func (h *HeaderStripper) Flush() []byte {
	if h.done || len(h.pending) == 0 {
		return nil
	}
	if len(h.pending) >= 4 && bytes.Equal(h.pending[0:4], []byte("RIFF")) {
		h.pending = nil
		return nil
	}
	return h.passThrough()
}

// IsWAV reports whether a WAV header was found and stripped.
func (h *HeaderStripper) IsWAV() bool {
	return h.isWAV
}

// Info returns the parsed header. Only meaningful when IsWAV is true.
func (h *HeaderStripper) Info() WAVInfo {
	return h.info
}

// StripWAVHeader is the one-shot form of HeaderStripper for complete buffers.
func StripWAVHeader(data []byte) ([]byte, WAVInfo, error) {
	var h HeaderStripper
	pcm, err := h.Feed(data)
	if err != nil {
		return nil, WAVInfo{}, err
	}
	if !h.done {
		pcm = h.Flush()
	}
	return pcm, h.info, nil
}

// WriteWAVHeader writes a canonical 44 byte PCM header for dataSize bytes.
func WriteWAVHeader(w io.Writer, format ttypes.AudioFormat, dataSize uint32) error {
	var hdr [wavHeaderSize]byte

	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 36+dataSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(format.BytesPerSecond()))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(format.BytesPerFrame()))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(format.BitsPerSample))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)

	_, err := w.Write(hdr[:])
	return err
}
