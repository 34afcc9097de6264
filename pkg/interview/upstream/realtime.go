package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultRealtimeWSBase      = "wss://api.openai.com/v1/realtime"
	defaultRealtimeModel       = "gpt-4o-realtime-preview"
	defaultBackchannelMaxWords = 2

	realtimeWriteTimeout     = 5 * time.Second
	realtimeKeepAlivePeriod  = 15 * time.Second
	realtimeHandshakeTimeout = 10 * time.Second
)

// RealtimeConfig wires the speech-to-speech upstream connection.
type RealtimeConfig struct {
	// BaseURL of the realtime websocket endpoint. Empty means the hosted
	// default.
	BaseURL string
	APIKey  string
	Model   string
	Voice   string
	// Instructions is the full system prompt for the interview persona.
	Instructions string
	// BackchannelMaxWords is the longest interjection still treated as a
	// listening cue rather than a real turn. Zero means the default.
	BackchannelMaxWords int
	Logger              *slog.Logger
}

// Realtime is the bidirectional upstream strategy: raw candidate audio goes
// up, synthesized interviewer speech and transcripts come back, and the
// remote model owns turn-taking. Voice activity detection stays off until the
// first interviewer utterance finishes so the greeting cannot be talked over.
type Realtime struct {
	cfg  RealtimeConfig
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	metaMu            sync.Mutex
	assistantSpeaking bool
	bargeInItems      map[string]bool
	vadEnabled        bool
	responseText      strings.Builder

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
}

// DialRealtime connects and configures the remote session. The returned
// upstream is live; its read loop is already delivering events.
func DialRealtime(ctx context.Context, cfg RealtimeConfig) (*Realtime, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("upstream: realtime requires an API key")
	}
	if cfg.Model == "" {
		cfg.Model = defaultRealtimeModel
	}
	if cfg.BackchannelMaxWords <= 0 {
		cfg.BackchannelMaxWords = defaultBackchannelMaxWords
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	wsURL, err := buildRealtimeWSURL(cfg.BaseURL, cfg.Model)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = realtimeHandshakeTimeout
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial realtime upstream: %w", err)
	}

	r := &Realtime{
		cfg:          cfg,
		conn:         conn,
		log:          cfg.Logger,
		bargeInItems: make(map[string]bool),
		events:       make(chan Event, 256),
		closed:       make(chan struct{}),
	}
	if err := r.configureSession(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go r.readLoop()
	go r.keepAliveLoop()
	return r, nil
}

// configureSession pushes the persona and transcription settings. Turn
// detection starts disabled; enableTurnDetection flips it on after the
// greeting.
func (r *Realtime) configureSession(ctx context.Context) error {
	session := map[string]any{
		"modalities":   []string{"audio", "text"},
		"instructions": r.cfg.Instructions,
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
		"turn_detection": nil,
	}
	if r.cfg.Voice != "" {
		session["voice"] = r.cfg.Voice
	}
	return r.writeJSON(ctx, map[string]any{
		"type":    "session.update",
		"session": session,
	})
}

func (r *Realtime) enableTurnDetection() {
	r.metaMu.Lock()
	already := r.vadEnabled
	r.vadEnabled = true
	r.metaMu.Unlock()
	if already {
		return
	}
	err := r.writeJSON(context.Background(), map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"turn_detection": map[string]any{"type": "server_vad"},
		},
	})
	if err != nil {
		r.log.Warn("enable turn detection", "error", err)
	}
}

func (r *Realtime) HandleAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	return r.writeJSON(context.Background(), map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(chunk),
	})
}

// CommitTurn forces the buffered audio into a turn. With server VAD active
// the remote side usually commits first, in which case this is a harmless
// duplicate.
func (r *Realtime) CommitTurn(ctx context.Context) error {
	if err := r.writeJSON(ctx, map[string]any{"type": "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return r.writeJSON(ctx, map[string]any{"type": "response.create"})
}

// Speak has the remote voice read text verbatim, cancelling any reply it was
// already composing.
func (r *Realtime) Speak(ctx context.Context, text string) error {
	r.metaMu.Lock()
	speaking := r.assistantSpeaking
	r.metaMu.Unlock()
	if speaking {
		if err := r.writeJSON(ctx, map[string]any{"type": "response.cancel"}); err != nil {
			return err
		}
	}
	return r.writeJSON(ctx, map[string]any{
		"type": "response.create",
		"response": map[string]any{
			"instructions": "Say exactly the following, and nothing else: " + text,
		},
	})
}

// InjectNote adds an out-of-band system message to the conversation, for
// example a time-remaining reminder. The model folds it into its next turn.
func (r *Realtime) InjectNote(ctx context.Context, text string) error {
	return r.writeJSON(ctx, map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "system",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
}

func (r *Realtime) NotifyPlaybackComplete() {
	r.metaMu.Lock()
	r.assistantSpeaking = false
	r.metaMu.Unlock()
}

func (r *Realtime) Events() <-chan Event { return r.events }

func (r *Realtime) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
		_ = r.conn.Close()
	})
	return nil
}

func (r *Realtime) readLoop() {
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			select {
			case <-r.closed:
				err = nil
			default:
			}
			r.emit(Closed{Err: err})
			return
		}
		var msg realtimeServerEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			r.log.Warn("undecodable upstream event", "error", err)
			continue
		}
		r.handleServerEvent(msg)
	}
}

// realtimeServerEvent is the superset of fields across the server event types
// the loop cares about.
type realtimeServerEvent struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (r *Realtime) handleServerEvent(msg realtimeServerEvent) {
	switch msg.Type {
	case "error":
		reason := "unknown"
		if msg.Error != nil {
			reason = msg.Error.Message
		}
		r.log.Warn("upstream error event", "message", reason)

	case "input_audio_buffer.speech_started":
		r.metaMu.Lock()
		speaking := r.assistantSpeaking
		if speaking && msg.ItemID != "" {
			r.bargeInItems[msg.ItemID] = true
		}
		r.metaMu.Unlock()
		if speaking {
			r.emit(Interrupted{})
		}

	case "conversation.item.input_audio_transcription.completed":
		r.finishCandidateTurn(msg.ItemID, msg.Transcript)

	case "response.created":
		r.metaMu.Lock()
		r.assistantSpeaking = true
		r.responseText.Reset()
		r.metaMu.Unlock()
		r.emit(ResponseStart{})

	case "response.audio.delta":
		audio, err := base64.StdEncoding.DecodeString(msg.Delta)
		if err != nil {
			r.log.Warn("invalid audio delta", "error", err)
			return
		}
		r.emit(AudioChunk{Data: audio})

	case "response.audio_transcript.delta":
		r.metaMu.Lock()
		r.responseText.WriteString(msg.Delta)
		r.metaMu.Unlock()
		r.emit(TextDelta{Text: msg.Delta})

	case "response.audio_transcript.done":
		r.emit(TextDelta{Text: msg.Transcript, IsFinal: true})

	case "response.done":
		r.metaMu.Lock()
		text := r.responseText.String()
		r.metaMu.Unlock()
		r.emit(ResponseDone{Text: text})
		r.enableTurnDetection()
	}
}

// finishCandidateTurn applies the backchannel filter. A short interjection
// made while the interviewer was talking is scrubbed from the remote
// conversation so it cannot derail the reply in progress.
func (r *Realtime) finishCandidateTurn(itemID, transcript string) {
	text := strings.TrimSpace(transcript)
	r.metaMu.Lock()
	bargeIn := r.bargeInItems[itemID]
	delete(r.bargeInItems, itemID)
	r.metaMu.Unlock()

	if bargeIn && len(strings.Fields(text)) <= r.cfg.BackchannelMaxWords {
		ctx := context.Background()
		if err := r.writeJSON(ctx, map[string]any{
			"type":    "conversation.item.delete",
			"item_id": itemID,
		}); err != nil {
			r.log.Warn("delete backchannel item", "error", err)
		}
		if err := r.writeJSON(ctx, map[string]any{"type": "response.cancel"}); err != nil {
			r.log.Warn("cancel backchannel response", "error", err)
		}
		r.emit(TurnDiscarded{Reason: "backchannel"})
		return
	}
	if text == "" {
		r.emit(TurnDiscarded{Reason: "no speech"})
		return
	}
	r.emit(TurnCommitted{Text: text})
}

func (r *Realtime) keepAliveLoop() {
	ticker := time.NewTicker(realtimeKeepAlivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.closed:
			return
		case <-ticker.C:
			r.writeMu.Lock()
			_ = r.conn.SetWriteDeadline(time.Now().Add(realtimeWriteTimeout))
			err := r.conn.WriteMessage(websocket.PingMessage, nil)
			r.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (r *Realtime) writeJSON(ctx context.Context, payload any) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = r.conn.SetWriteDeadline(deadline)
	} else {
		_ = r.conn.SetWriteDeadline(time.Now().Add(realtimeWriteTimeout))
	}
	return r.conn.WriteJSON(payload)
}

// emit mirrors the pipeline's drop-after-close behavior, except the terminal
// Closed event is always delivered.
func (r *Realtime) emit(ev Event) {
	if _, terminal := ev.(Closed); terminal {
		select {
		case r.events <- ev:
		default:
		}
		return
	}
	select {
	case <-r.closed:
		return
	default:
	}
	select {
	case r.events <- ev:
	case <-r.closed:
	}
}

func buildRealtimeWSURL(base, model string) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = defaultRealtimeWSBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse realtime base URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported realtime URL scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var _ Upstream = (*Realtime)(nil)
var _ Upstream = (*Pipeline)(nil)
