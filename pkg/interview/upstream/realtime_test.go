package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeRealtimeServer collects every client event and lets tests push server
// events back down the wire.
type fakeRealtimeServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received []map[string]any
	connected chan struct{}
}

func newFakeRealtimeServer(t *testing.T) *fakeRealtimeServer {
	t.Helper()
	f := &fakeRealtimeServer{connected: make(chan struct{})}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		close(f.connected)
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.mu.Lock()
			f.received = append(f.received, msg)
			f.mu.Unlock()
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRealtimeServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeRealtimeServer) send(t *testing.T, ev map[string]any) {
	t.Helper()
	select {
	case <-f.connected:
	case <-time.After(2 * time.Second):
		t.Fatalf("client never connected")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.conn.WriteJSON(ev); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

// waitFor polls for a received client event of the given type.
func (f *fakeRealtimeServer) waitFor(t *testing.T, eventType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, msg := range f.received {
			if msg["type"] == eventType {
				f.mu.Unlock()
				return msg
			}
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client never sent %q", eventType)
	return nil
}

func dialTestRealtime(t *testing.T, f *fakeRealtimeServer) *Realtime {
	t.Helper()
	r, err := DialRealtime(context.Background(), RealtimeConfig{
		BaseURL:      f.url(),
		APIKey:       "test-key",
		Instructions: "You are the interviewer.",
	})
	if err != nil {
		t.Fatalf("DialRealtime: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRealtimeConfiguresSessionWithoutTurnDetection(t *testing.T) {
	f := newFakeRealtimeServer(t)
	_ = dialTestRealtime(t, f)

	msg := f.waitFor(t, "session.update")
	session, ok := msg["session"].(map[string]any)
	if !ok {
		t.Fatalf("session.update without session payload: %#v", msg)
	}
	if td, present := session["turn_detection"]; !present || td != nil {
		t.Fatalf("turn_detection = %#v, want explicit null", td)
	}
	if session["instructions"] != "You are the interviewer." {
		t.Fatalf("instructions = %#v", session["instructions"])
	}
}

func TestRealtimeEnablesTurnDetectionAfterFirstResponse(t *testing.T) {
	f := newFakeRealtimeServer(t)
	r := dialTestRealtime(t, f)

	f.send(t, map[string]any{"type": "response.created"})
	f.send(t, map[string]any{"type": "response.done"})

	if _, ok := nextEvent(t, r.Events()).(ResponseStart); !ok {
		t.Fatalf("want ResponseStart")
	}
	if _, ok := nextEvent(t, r.Events()).(ResponseDone); !ok {
		t.Fatalf("want ResponseDone")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		var enabled bool
		for _, msg := range f.received {
			if msg["type"] != "session.update" {
				continue
			}
			if session, ok := msg["session"].(map[string]any); ok {
				if td, ok := session["turn_detection"].(map[string]any); ok && td["type"] == "server_vad" {
					enabled = true
				}
			}
		}
		f.mu.Unlock()
		if enabled {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server_vad was never enabled")
}

func TestRealtimeForwardsAudioAndCommit(t *testing.T) {
	f := newFakeRealtimeServer(t)
	r := dialTestRealtime(t, f)

	if err := r.HandleAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("HandleAudio: %v", err)
	}
	msg := f.waitFor(t, "input_audio_buffer.append")
	raw, _ := msg["audio"].(string)
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || string(decoded) != "\x01\x02\x03" {
		t.Fatalf("append audio = %q (err %v)", raw, err)
	}

	if err := r.CommitTurn(context.Background()); err != nil {
		t.Fatalf("CommitTurn: %v", err)
	}
	f.waitFor(t, "input_audio_buffer.commit")
	f.waitFor(t, "response.create")
}

func TestRealtimeEmitsCommittedTurn(t *testing.T) {
	f := newFakeRealtimeServer(t)
	r := dialTestRealtime(t, f)

	f.send(t, map[string]any{
		"type":       "conversation.item.input_audio_transcription.completed",
		"item_id":    "item_1",
		"transcript": " I shipped the payments service. ",
	})
	ev := nextEvent(t, r.Events())
	committed, ok := ev.(TurnCommitted)
	if !ok {
		t.Fatalf("got %T, want TurnCommitted", ev)
	}
	if committed.Text != "I shipped the payments service." {
		t.Fatalf("text = %q", committed.Text)
	}
}

func TestRealtimeFiltersBackchannelDuringBargeIn(t *testing.T) {
	f := newFakeRealtimeServer(t)
	r := dialTestRealtime(t, f)

	// Interviewer is mid-reply when the candidate murmurs.
	f.send(t, map[string]any{"type": "response.created"})
	if _, ok := nextEvent(t, r.Events()).(ResponseStart); !ok {
		t.Fatalf("want ResponseStart")
	}
	f.send(t, map[string]any{"type": "input_audio_buffer.speech_started", "item_id": "item_bc"})
	if _, ok := nextEvent(t, r.Events()).(Interrupted); !ok {
		t.Fatalf("want Interrupted on barge-in")
	}
	f.send(t, map[string]any{
		"type":       "conversation.item.input_audio_transcription.completed",
		"item_id":    "item_bc",
		"transcript": "mm-hm",
	})

	ev := nextEvent(t, r.Events())
	if d, ok := ev.(TurnDiscarded); !ok || d.Reason != "backchannel" {
		t.Fatalf("got %#v, want backchannel TurnDiscarded", ev)
	}
	del := f.waitFor(t, "conversation.item.delete")
	if del["item_id"] != "item_bc" {
		t.Fatalf("deleted item = %#v", del["item_id"])
	}
	f.waitFor(t, "response.cancel")
}

func TestRealtimeKeepsLongBargeInAsRealTurn(t *testing.T) {
	f := newFakeRealtimeServer(t)
	r := dialTestRealtime(t, f)

	f.send(t, map[string]any{"type": "response.created"})
	if _, ok := nextEvent(t, r.Events()).(ResponseStart); !ok {
		t.Fatalf("want ResponseStart")
	}
	f.send(t, map[string]any{"type": "input_audio_buffer.speech_started", "item_id": "item_real"})
	if _, ok := nextEvent(t, r.Events()).(Interrupted); !ok {
		t.Fatalf("want Interrupted")
	}
	f.send(t, map[string]any{
		"type":       "conversation.item.input_audio_transcription.completed",
		"item_id":    "item_real",
		"transcript": "wait, can I clarify the question first",
	})
	if _, ok := nextEvent(t, r.Events()).(TurnCommitted); !ok {
		t.Fatalf("a full sentence during barge-in must commit")
	}
}

func TestRealtimeStreamsResponseAudioAndText(t *testing.T) {
	f := newFakeRealtimeServer(t)
	r := dialTestRealtime(t, f)

	f.send(t, map[string]any{"type": "response.created"})
	f.send(t, map[string]any{
		"type":  "response.audio.delta",
		"delta": base64.StdEncoding.EncodeToString([]byte("pcmpcm")),
	})
	f.send(t, map[string]any{"type": "response.audio_transcript.delta", "delta": "Tell me "})
	f.send(t, map[string]any{"type": "response.audio_transcript.delta", "delta": "more."})
	f.send(t, map[string]any{"type": "response.done"})

	if _, ok := nextEvent(t, r.Events()).(ResponseStart); !ok {
		t.Fatalf("want ResponseStart")
	}
	chunk, ok := nextEvent(t, r.Events()).(AudioChunk)
	if !ok || string(chunk.Data) != "pcmpcm" {
		t.Fatalf("audio chunk = %#v", chunk)
	}
	if d, ok := nextEvent(t, r.Events()).(TextDelta); !ok || d.Text != "Tell me " {
		t.Fatalf("first delta = %#v", d)
	}
	if d, ok := nextEvent(t, r.Events()).(TextDelta); !ok || d.Text != "more." {
		t.Fatalf("second delta = %#v", d)
	}
	done, ok := nextEvent(t, r.Events()).(ResponseDone)
	if !ok || done.Text != "Tell me more." {
		t.Fatalf("done = %#v", done)
	}
}

func TestRealtimeSpeakSendsVerbatimInstruction(t *testing.T) {
	f := newFakeRealtimeServer(t)
	r := dialTestRealtime(t, f)

	if err := r.Speak(context.Background(), "Thanks for your time today."); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	msg := f.waitFor(t, "response.create")
	raw, _ := json.Marshal(msg)
	if !strings.Contains(string(raw), "Thanks for your time today.") {
		t.Fatalf("response.create missing verbatim text: %s", raw)
	}
}

func TestRealtimeCloseEmitsTerminalEvent(t *testing.T) {
	f := newFakeRealtimeServer(t)
	r := dialTestRealtime(t, f)

	_ = r.Close()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.Events():
			if closed, ok := ev.(Closed); ok {
				if closed.Err != nil {
					t.Fatalf("local close should be clean, got %v", closed.Err)
				}
				return
			}
		case <-deadline:
			t.Fatalf("no Closed event after Close")
		}
	}
}
