package record

import (
	"encoding/binary"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hraban/opus"
)

const (
	wavSampleRate = 48000
	wavBitDepth   = 16
	wavChannels   = 1
	// decodeBufSamples fits the largest opus frame (120ms at 48kHz).
	decodeBufSamples = 5760
)

// decodeFunc decodes one encoded packet into pcm, returning sample count.
type decodeFunc func(packet []byte, pcm []int16) (int, error)

// Converter turns the recorder's chunk container (length-prefixed opus
// packets) into an uncompressed WAV interchange file.
type Converter struct {
	// newDecoder is swappable so tests can run without a codec backend.
	newDecoder func() (decodeFunc, error)
}

// NewConverter builds a converter backed by an opus decoder.
func NewConverter() *Converter {
	return &Converter{newDecoder: newOpusDecodeFunc}
}

func newOpusDecodeFunc() (decodeFunc, error) {
	dec, err := opus.NewDecoder(wavSampleRate, wavChannels)
	if err != nil {
		return nil, err
	}
	return dec.Decode, nil
}

// ToWAV decodes the container and re-encodes the sample frames as 48kHz
// 16-bit mono WAV.
func (c *Converter) ToWAV(container []byte) ([]byte, error) {
	decode, err := c.newDecoder()
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	var samples []int
	pcm := make([]int16, decodeBufSamples)
	for off := 0; off < len(container); {
		if off+2 > len(container) {
			return nil, fmt.Errorf("truncated packet header at offset %d", off)
		}
		n := int(binary.BigEndian.Uint16(container[off : off+2]))
		off += 2
		if n == 0 || off+n > len(container) {
			return nil, fmt.Errorf("invalid packet length %d at offset %d", n, off)
		}
		decoded, err := decode(container[off:off+n], pcm)
		if err != nil {
			return nil, fmt.Errorf("decode packet: %w", err)
		}
		for i := 0; i < decoded; i++ {
			samples = append(samples, int(pcm[i]))
		}
		off += n
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("container held no audio frames")
	}

	var out memWriteSeeker
	enc := wav.NewEncoder(&out, wavSampleRate, wavBitDepth, wavChannels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: wavChannels, SampleRate: wavSampleRate},
		Data:           samples,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return out.buf, nil
}

// memWriteSeeker adapts an in-memory buffer to the encoder's io.WriteSeeker,
// which it needs to back-patch RIFF sizes on close.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if need := m.pos + len(p); need > len(m.buf) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:], p)
	m.pos += len(p)
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("unsupported whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position %d", next)
	}
	m.pos = int(next)
	return next, nil
}
