// Package speech holds the transcription and synthesis clients the interview
// pipeline calls between candidate turns.
package speech

import "context"

// Transcript is one transcribed candidate turn. NoSpeechProb is the provider's
// confidence that the buffer contained no speech at all; the orchestrator
// discards turns above its threshold.
type Transcript struct {
	Text         string
	NoSpeechProb float64
}

// Transcriber converts one bounded audio buffer into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, language string) (*Transcript, error)
}

// Synthesizer converts interviewer text into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, language string) ([]byte, error)
}
