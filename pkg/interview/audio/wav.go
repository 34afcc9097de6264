// Package audio wraps raw PCM turn buffers in a WAV container so they can be
// submitted to transcription services that expect a well-formed file.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Format describes the fixed PCM shape negotiated with the client.
type Format struct {
	SampleRateHz  int
	BitsPerSample int
	Channels      int
}

// DefaultInputFormat matches the client encoding contract: pcm_s16le mono 16 kHz.
func DefaultInputFormat() Format {
	return Format{SampleRateHz: 16000, BitsPerSample: 16, Channels: 1}
}

// WrapWAV prepends a canonical RIFF/WAVE header to raw PCM data.
func WrapWAV(pcm []byte, f Format) ([]byte, error) {
	if f.SampleRateHz <= 0 {
		return nil, fmt.Errorf("sample rate must be > 0")
	}
	if f.Channels <= 0 {
		return nil, fmt.Errorf("channels must be > 0")
	}
	if f.BitsPerSample != 8 && f.BitsPerSample != 16 && f.BitsPerSample != 24 && f.BitsPerSample != 32 {
		return nil, fmt.Errorf("unsupported bits per sample %d", f.BitsPerSample)
	}

	blockAlign := f.Channels * f.BitsPerSample / 8
	byteRate := f.SampleRateHz * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(f.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRateHz))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(f.BitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// DurationMS returns the playback duration of raw PCM at the given format.
func DurationMS(n int, f Format) int64 {
	blockAlign := f.Channels * f.BitsPerSample / 8
	if blockAlign <= 0 || f.SampleRateHz <= 0 {
		return 0
	}
	samples := n / blockAlign
	return int64(samples) * 1000 / int64(f.SampleRateHz)
}
