// Package protocol defines the websocket event vocabulary spoken between the
// interview client and the gateway. Inbound frames are decoded through a
// single envelope switch so malformed frames surface one typed error.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ProtocolVersion1 = "1"

// Close codes used when the gateway rejects or tears down a connection.
const (
	CloseSessionNotFound = 4404
	CloseCapacity        = 4429
	CloseCallEnded       = 4000
)

// Machine-readable reasons carried on call_ended.
const (
	ReasonComplete           = "Interview Complete"
	ReasonSilenceTimeout     = "Silence Timeout"
	ReasonTimeLimit          = "Time Limit Reached"
	ReasonClientDisconnected = "Client Disconnected"
	ReasonUpstreamClosed     = "Upstream Disconnected"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// Client → server frames.

type ClientInit struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type ClientAudioChunk struct {
	Type    string `json:"type"`
	DataB64 string `json:"data_b64"`
}

type ClientEndOfTurn struct {
	Type string `json:"type"`
}

type ClientPlaybackComplete struct {
	Type string `json:"type"`
}

// Server → client frames.

type ServerTextDelta struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final,omitempty"`
}

type ServerAudioChunk struct {
	Type     string `json:"type"`
	AudioB64 string `json:"audio_b64"`
	Seq      int64  `json:"seq,omitempty"`
}

type ServerResponseStart struct {
	Type string `json:"type"`
}

type ServerResponseDone struct {
	Type string `json:"type"`
}

type ServerSilenceReset struct {
	Type string `json:"type"`
}

type ServerInterruption struct {
	Type string `json:"type"`
}

type ServerCallEnded struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

// Constructors keep the type tags in one place.

func NewTextDelta(text string, isFinal bool) ServerTextDelta {
	return ServerTextDelta{Type: "text_delta", Text: text, IsFinal: isFinal}
}

func NewAudioChunk(audioB64 string, seq int64) ServerAudioChunk {
	return ServerAudioChunk{Type: "audio_chunk", AudioB64: audioB64, Seq: seq}
}

func NewResponseStart() ServerResponseStart { return ServerResponseStart{Type: "response_start"} }
func NewResponseDone() ServerResponseDone   { return ServerResponseDone{Type: "response_done"} }
func NewSilenceReset() ServerSilenceReset   { return ServerSilenceReset{Type: "silence_reset"} }
func NewInterruption() ServerInterruption   { return ServerInterruption{Type: "interruption"} }

func NewCallEnded(reason string) ServerCallEnded {
	return ServerCallEnded{Type: "call_ended", Reason: reason}
}

func NewServerError(code, message string, closeConn bool) ServerError {
	return ServerError{Type: "error", Code: code, Message: message, Close: closeConn}
}

// DecodeClientMessage decodes one inbound JSON frame into its typed form.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "init":
		var msg ClientInit
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid init frame", "")
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, badRequest("init.session_id is required", "session_id")
		}
		msg.SessionID = strings.TrimSpace(msg.SessionID)
		return msg, nil
	case "audio_chunk":
		var msg ClientAudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_chunk", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio_chunk.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "end_of_turn":
		var msg ClientEndOfTurn
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid end_of_turn", "")
		}
		return msg, nil
	case "playback_complete":
		var msg ClientPlaybackComplete
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid playback_complete", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}
