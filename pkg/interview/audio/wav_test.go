package audio

import (
	"encoding/binary"
	"testing"
)

func TestWrapWAV_Header(t *testing.T) {
	pcm := make([]byte, 3200) // 100ms of 16kHz mono s16le
	out, err := WrapWAV(pcm, DefaultInputFormat())
	if err != nil {
		t.Fatalf("WrapWAV: %v", err)
	}
	if len(out) != 44+len(pcm) {
		t.Fatalf("len=%d, want %d", len(out), 44+len(pcm))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); got != uint32(36+len(pcm)) {
		t.Fatalf("riff size=%d, want %d", got, 36+len(pcm))
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 16000 {
		t.Fatalf("sample rate=%d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(out[22:24]); got != 1 {
		t.Fatalf("channels=%d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size=%d, want %d", got, len(pcm))
	}
}

func TestWrapWAV_RejectsBadFormat(t *testing.T) {
	if _, err := WrapWAV(nil, Format{SampleRateHz: 0, BitsPerSample: 16, Channels: 1}); err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
	if _, err := WrapWAV(nil, Format{SampleRateHz: 16000, BitsPerSample: 12, Channels: 1}); err == nil {
		t.Fatalf("expected error for odd bit depth")
	}
}

func TestDurationMS(t *testing.T) {
	f := DefaultInputFormat()
	if got := DurationMS(32000, f); got != 1000 {
		t.Fatalf("duration=%d, want 1000", got)
	}
	if got := DurationMS(0, f); got != 0 {
		t.Fatalf("duration=%d, want 0", got)
	}
}
