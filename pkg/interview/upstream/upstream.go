// Package upstream holds the two integration strategies for conversational
// speech: the discrete transcribe→decide→synthesize pipeline, and the
// bidirectional speech-to-speech realtime connection. The orchestrator is
// agnostic to which is in use; both speak the Event vocabulary below.
package upstream

import "context"

// Event is one upstream occurrence delivered to the orchestrator. Events for
// a single session are delivered in order on a single channel.
type Event interface{ upstreamEvent() }

// TurnCommitted carries a completed, validated candidate turn.
type TurnCommitted struct {
	Text string
}

// TurnDiscarded signals that the pending turn produced no usable speech; the
// client should drop back to a listening state without a spoken reply.
type TurnDiscarded struct {
	Reason string
}

// ResponseStart brackets the beginning of one interviewer utterance.
type ResponseStart struct{}

// TextDelta carries caption text for the in-flight utterance.
type TextDelta struct {
	Text    string
	IsFinal bool
}

// AudioChunk carries synthesized speech for the in-flight utterance.
type AudioChunk struct {
	Data []byte
}

// ResponseDone closes one interviewer utterance. Text is the full utterance
// when the upstream produced it incrementally, empty otherwise.
type ResponseDone struct {
	Text string
}

// Interrupted signals that the candidate began speaking while the upstream
// was still talking.
type Interrupted struct{}

// Closed signals that the upstream connection ended. Err is nil on a clean
// local close.
type Closed struct {
	Err error
}

func (TurnCommitted) upstreamEvent() {}
func (TurnDiscarded) upstreamEvent() {}
func (ResponseStart) upstreamEvent() {}
func (TextDelta) upstreamEvent()     {}
func (AudioChunk) upstreamEvent()    {}
func (ResponseDone) upstreamEvent()  {}
func (Interrupted) upstreamEvent()   {}
func (Closed) upstreamEvent()        {}

// Upstream is the per-session conversational backend.
type Upstream interface {
	// HandleAudio accepts one raw audio fragment from the client. It must be
	// cheap; heavy work happens on commit.
	HandleAudio(chunk []byte) error
	// CommitTurn reacts to the client's end-of-turn signal. Results arrive as
	// Events.
	CommitTurn(ctx context.Context) error
	// Speak asks the upstream to voice exactly the given text.
	Speak(ctx context.Context, text string) error
	// NotifyPlaybackComplete relays the client's playback-finished signal.
	NotifyPlaybackComplete()
	// Events delivers upstream occurrences in order. A Closed event is the
	// terminal element; nothing follows it.
	Events() <-chan Event
	Close() error
}
