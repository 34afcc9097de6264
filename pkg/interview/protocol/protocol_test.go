package protocol

import (
	"strings"
	"testing"
)

func TestDecodeClientMessage_Init(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"init","session_id":"  abc  "}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	init, ok := msg.(ClientInit)
	if !ok {
		t.Fatalf("got %T, want ClientInit", msg)
	}
	if init.SessionID != "abc" {
		t.Fatalf("session_id=%q, want abc", init.SessionID)
	}
}

func TestDecodeClientMessage_InitRequiresSessionID(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"init"}`))
	if err == nil {
		t.Fatalf("expected error")
	}
	de, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("got %T, want *DecodeError", err)
	}
	if de.Code != "bad_request" || de.Param != "session_id" {
		t.Fatalf("code=%q param=%q", de.Code, de.Param)
	}
}

func TestDecodeClientMessage_AudioChunk(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"audio_chunk","data_b64":"AAAA"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := msg.(ClientAudioChunk); !ok {
		t.Fatalf("got %T, want ClientAudioChunk", msg)
	}

	if _, err := DecodeClientMessage([]byte(`{"type":"audio_chunk"}`)); err == nil {
		t.Fatalf("expected error for missing data_b64")
	}
}

func TestDecodeClientMessage_ControlFrames(t *testing.T) {
	for _, typ := range []string{"end_of_turn", "playback_complete"} {
		msg, err := DecodeClientMessage([]byte(`{"type":"` + typ + `"}`))
		if err != nil {
			t.Fatalf("decode %s: %v", typ, err)
		}
		switch msg.(type) {
		case ClientEndOfTurn, ClientPlaybackComplete:
		default:
			t.Fatalf("decode %s: got %T", typ, msg)
		}
	}
}

func TestDecodeClientMessage_Rejects(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"not json", `{`, "invalid json frame"},
		{"missing type", `{"x":1}`, "missing type"},
		{"unknown type", `{"type":"nope"}`, "unsupported message type"},
	}
	for _, tc := range cases {
		_, err := DecodeClientMessage([]byte(tc.data))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err=%q, want contains %q", tc.name, err, tc.want)
		}
	}
}
