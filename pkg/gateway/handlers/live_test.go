package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hireloop/interviewd/pkg/gateway/config"
	"github.com/hireloop/interviewd/pkg/interview/brain"
	"github.com/hireloop/interviewd/pkg/interview/session"
	"github.com/hireloop/interviewd/pkg/interview/sessions"
	"github.com/hireloop/interviewd/pkg/interview/upstream"
	"github.com/hireloop/interviewd/pkg/store"
)

// fakeLiveUpstream answers every Speak with a start/delta/done event burst so
// the relay has frames to forward.
type fakeLiveUpstream struct {
	mu     sync.Mutex
	events chan upstream.Event
	closed bool
	spoken []string
	audio  [][]byte
}

func newFakeLiveUpstream() *fakeLiveUpstream {
	return &fakeLiveUpstream{events: make(chan upstream.Event, 64)}
}

func (u *fakeLiveUpstream) emit(e upstream.Event) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}
	u.events <- e
}

func (u *fakeLiveUpstream) HandleAudio(chunk []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.audio = append(u.audio, chunk)
	return nil
}

func (u *fakeLiveUpstream) CommitTurn(context.Context) error { return nil }

func (u *fakeLiveUpstream) Speak(_ context.Context, text string) error {
	u.mu.Lock()
	u.spoken = append(u.spoken, text)
	u.mu.Unlock()
	u.emit(upstream.ResponseStart{})
	u.emit(upstream.TextDelta{Text: text, IsFinal: true})
	u.emit(upstream.ResponseDone{Text: text})
	return nil
}

func (u *fakeLiveUpstream) NotifyPlaybackComplete() {}

func (u *fakeLiveUpstream) Events() <-chan upstream.Event { return u.events }

func (u *fakeLiveUpstream) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.closed {
		select {
		case u.events <- upstream.Closed{}:
		default:
		}
		u.closed = true
	}
	return nil
}

type stubDecider struct{}

func (stubDecider) ClassifySmallTalk(context.Context, string) (brain.SmallTalkAction, error) {
	return brain.SmallTalkContinue, nil
}

func (stubDecider) ClassifyAnswer(context.Context, string, string) (brain.AnswerDecision, error) {
	return brain.AnswerDecision{Action: brain.AnswerMoveOn}, nil
}

func (stubDecider) ClassifyQADone(context.Context, string) (bool, error) { return true, nil }

func (stubDecider) Banter(context.Context, string) (string, error) { return "Glad to hear it.", nil }

func (stubDecider) Bridge(context.Context, string) (string, error) { return "Thanks.", nil }

func (stubDecider) AnswerQuestion(context.Context, *store.Session, string) (string, error) {
	return "Good question.", nil
}

type liveHarness struct {
	srv      *httptest.Server
	mem      *store.Memory
	registry *sessions.Registry
	upstream *fakeLiveUpstream
}

func newLiveHarness(t *testing.T, capacity int, policy session.Policy) *liveHarness {
	t.Helper()
	h := &liveHarness{
		mem:      store.NewMemory(),
		registry: sessions.NewRegistry(capacity),
		upstream: newFakeLiveUpstream(),
	}
	cfg := config.Config{
		WSPingInterval:  time.Minute,
		WSWriteTimeout:  2 * time.Second,
		WSMaxFrameBytes: 1 << 20,
		Policy:          policy,
	}
	handler := LiveHandler{
		Config:   cfg,
		Store:    h.mem,
		Registry: h.registry,
		Decider:  stubDecider{},
		NewUpstream: func(context.Context, *store.Session) (upstream.Upstream, session.Mode, error) {
			return h.upstream, session.ModePipeline, nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.srv = httptest.NewServer(handler)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *liveHarness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *liveHarness) createSession(t *testing.T) *store.Session {
	t.Helper()
	sess := &store.Session{
		Role:            "Backend Engineer",
		Company:         "Acme",
		DurationMinutes: 30,
		Type:            store.TypePractice,
		Questions:       []string{"Tell me about a hard bug you fixed."},
	}
	if err := h.mem.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func dialLive(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame returns the next JSON frame as a generic map. When the peer
// closes instead, it returns nil and the close code.
func readFrame(t *testing.T, conn *websocket.Conn) (map[string]any, int) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		if closeErr, ok := err.(*websocket.CloseError); ok {
			return nil, closeErr.Code
		}
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame %q: %v", data, err)
	}
	return frame, 0
}

// waitForFrame reads until a frame of the wanted type arrives, returning any
// close code seen instead.
func waitForFrame(t *testing.T, conn *websocket.Conn, wantType string) (map[string]any, int) {
	t.Helper()
	for i := 0; i < 50; i++ {
		frame, code := readFrame(t, conn)
		if frame == nil {
			return nil, code
		}
		if frame["type"] == wantType {
			return frame, 0
		}
	}
	t.Fatalf("no %s frame within 50 reads", wantType)
	return nil, 0
}

func TestLiveUnknownSessionCloses4404(t *testing.T) {
	h := newLiveHarness(t, 4, session.Policy{})
	conn := dialLive(t, h.wsURL()+"/?session_id=missing")

	frame, _ := readFrame(t, conn)
	if frame == nil || frame["type"] != "error" {
		t.Fatalf("frame=%v, want error frame", frame)
	}
	if frame["code"] != "session_not_found" {
		t.Fatalf("code=%v, want session_not_found", frame["code"])
	}
	if frame, code := readFrame(t, conn); frame != nil || code != 4404 {
		t.Fatalf("close code=%d frame=%v, want close 4404", code, frame)
	}
}

func TestLiveInitFrameHandshake(t *testing.T) {
	h := newLiveHarness(t, 4, session.Policy{})
	sess := h.createSession(t)
	conn := dialLive(t, h.wsURL())

	err := conn.WriteJSON(map[string]any{"type": "init", "session_id": sess.ID})
	if err != nil {
		t.Fatalf("write init: %v", err)
	}
	frame, code := waitForFrame(t, conn, "response_start")
	if frame == nil {
		t.Fatalf("closed with code %d before response_start", code)
	}
}

func TestLiveCapacityCloses4429(t *testing.T) {
	h := newLiveHarness(t, 0, session.Policy{})
	sess := h.createSession(t)
	conn := dialLive(t, h.wsURL()+"/?session_id="+sess.ID)

	frame, _ := readFrame(t, conn)
	if frame == nil || frame["code"] != "capacity" {
		t.Fatalf("frame=%v, want capacity error", frame)
	}
	if frame, code := readFrame(t, conn); frame != nil || code != 4429 {
		t.Fatalf("close code=%d frame=%v, want close 4429", code, frame)
	}
}

func TestLiveRelaysGreetingFrames(t *testing.T) {
	h := newLiveHarness(t, 4, session.Policy{SmallTalkPause: time.Millisecond, BridgePause: time.Millisecond})
	sess := h.createSession(t)
	conn := dialLive(t, h.wsURL()+"/?session_id="+sess.ID)

	if frame, code := waitForFrame(t, conn, "response_start"); frame == nil {
		t.Fatalf("closed with code %d before response_start", code)
	}
	delta, code := waitForFrame(t, conn, "text_delta")
	if delta == nil {
		t.Fatalf("closed with code %d before text_delta", code)
	}
	text, _ := delta["text"].(string)
	if !strings.Contains(text, "Backend Engineer") {
		t.Fatalf("greeting %q does not mention the role", text)
	}
	if frame, code := waitForFrame(t, conn, "response_done"); frame == nil {
		t.Fatalf("closed with code %d before response_done", code)
	}
}

func TestLiveMalformedFrameGetsErrorAndConnectionSurvives(t *testing.T) {
	h := newLiveHarness(t, 4, session.Policy{SmallTalkPause: time.Millisecond})
	sess := h.createSession(t)
	conn := dialLive(t, h.wsURL()+"/?session_id="+sess.ID)

	if frame, code := waitForFrame(t, conn, "response_done"); frame == nil {
		t.Fatalf("closed with code %d before greeting finished", code)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	frame, code := waitForFrame(t, conn, "error")
	if frame == nil {
		t.Fatalf("closed with code %d instead of error frame", code)
	}
	if frame["code"] != "bad_request" {
		t.Fatalf("code=%v, want bad_request", frame["code"])
	}
	if closeFlag, _ := frame["close"].(bool); closeFlag {
		t.Fatal("malformed frame must not close the connection")
	}
}

func TestLiveHardLimitEndsCallWithCode4000(t *testing.T) {
	policy := session.Policy{
		SmallTalkPause:    time.Millisecond,
		BridgePause:       time.Millisecond,
		QuestionTimeFloor: time.Millisecond,
		SilenceNudge:      time.Hour,
		SilenceWarn:       time.Hour,
		HoldGrace:         time.Hour,
		HardOverrunGrace:  50 * time.Millisecond,
		PostClosingGrace:  5 * time.Millisecond,
	}
	h := newLiveHarness(t, 4, policy)
	sess := &store.Session{
		Role:            "Backend Engineer",
		Company:         "Acme",
		DurationMinutes: 0,
		Type:            store.TypePractice,
		Questions:       []string{"Q1"},
	}
	if err := h.mem.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	conn := dialLive(t, h.wsURL()+"/?session_id="+sess.ID)

	ended, code := waitForFrame(t, conn, "call_ended")
	if ended == nil {
		t.Fatalf("closed with code %d before call_ended", code)
	}
	if ended["reason"] != "Time Limit Reached" {
		t.Fatalf("reason=%v, want Time Limit Reached", ended["reason"])
	}
	if frame, code := readFrame(t, conn); frame != nil || code != 4000 {
		t.Fatalf("close code=%d frame=%v, want close 4000", code, frame)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.registry.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("registry still tracks the session after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
