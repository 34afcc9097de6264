package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hireloop/interviewd/pkg/interview/audio"
	"github.com/hireloop/interviewd/pkg/interview/speech"
)

// Pipeline tuning. Chunk size keeps individual websocket frames small enough
// to interleave with captions.
const (
	defaultNoSpeechThreshold = 0.6
	speakChunkBytes          = 32 * 1024
)

// PipelineConfig wires the discrete STT/TTS pipeline.
type PipelineConfig struct {
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	Language    string
	Format      audio.Format
	// NoSpeechThreshold above which a committed turn is discarded. Zero means
	// the default.
	NoSpeechThreshold float64
	Logger            *slog.Logger
}

// Pipeline is the discrete upstream strategy: buffer candidate audio until
// end-of-turn, transcribe the whole turn, and synthesize interviewer replies
// as complete utterances. Turn-taking decisions live with the caller; the
// pipeline never speaks on its own.
type Pipeline struct {
	cfg PipelineConfig

	mu      sync.Mutex
	pending []byte

	events    chan Event
	closeOnce sync.Once
	closed    chan struct{}
}

// NewPipeline validates cfg and returns a ready pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Transcriber == nil {
		return nil, errors.New("upstream: pipeline requires a transcriber")
	}
	if cfg.Synthesizer == nil {
		return nil, errors.New("upstream: pipeline requires a synthesizer")
	}
	if cfg.NoSpeechThreshold <= 0 {
		cfg.NoSpeechThreshold = defaultNoSpeechThreshold
	}
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.DefaultInputFormat()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		events: make(chan Event, 64),
		closed: make(chan struct{}),
	}, nil
}

func (p *Pipeline) HandleAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	p.mu.Lock()
	p.pending = append(p.pending, chunk...)
	p.mu.Unlock()
	return nil
}

// CommitTurn transcribes everything buffered since the previous commit. The
// buffer is drained even when transcription fails so one bad turn does not
// poison the next.
func (p *Pipeline) CommitTurn(ctx context.Context) error {
	p.mu.Lock()
	pcm := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(pcm) == 0 {
		p.emit(TurnDiscarded{Reason: "empty"})
		return nil
	}
	wav, err := audio.WrapWAV(pcm, p.cfg.Format)
	if err != nil {
		return fmt.Errorf("wrap turn audio: %w", err)
	}
	tr, err := p.cfg.Transcriber.Transcribe(ctx, wav, p.cfg.Language)
	if err != nil {
		return fmt.Errorf("transcribe turn: %w", err)
	}
	p.cfg.Logger.Debug("turn transcribed",
		"audio_ms", audio.DurationMS(len(pcm), p.cfg.Format),
		"chars", len(tr.Text), "no_speech_prob", tr.NoSpeechProb)
	if tr.NoSpeechProb >= p.cfg.NoSpeechThreshold || strings.TrimSpace(tr.Text) == "" {
		p.emit(TurnDiscarded{Reason: "no speech"})
		return nil
	}
	p.emit(TurnCommitted{Text: strings.TrimSpace(tr.Text)})
	return nil
}

// Speak synthesizes text and streams it as caption plus audio chunks.
func (p *Pipeline) Speak(ctx context.Context, text string) error {
	pcm, err := p.cfg.Synthesizer.Synthesize(ctx, text, p.cfg.Language)
	if err != nil {
		return fmt.Errorf("synthesize reply: %w", err)
	}
	p.emit(ResponseStart{})
	p.emit(TextDelta{Text: text, IsFinal: true})
	for off := 0; off < len(pcm); off += speakChunkBytes {
		end := min(off+speakChunkBytes, len(pcm))
		p.emit(AudioChunk{Data: pcm[off:end]})
	}
	p.emit(ResponseDone{Text: text})
	return nil
}

// NotifyPlaybackComplete is a no-op for the pipeline; pacing decisions happen
// in the orchestrator.
func (p *Pipeline) NotifyPlaybackComplete() {}

func (p *Pipeline) Events() <-chan Event { return p.events }

func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		select {
		case p.events <- Closed{}:
		default:
		}
		close(p.closed)
	})
	return nil
}

// emit drops events once closed rather than blocking a late producer. The
// events channel is never closed; Closed is the terminal element.
func (p *Pipeline) emit(ev Event) {
	select {
	case <-p.closed:
		return
	default:
	}
	select {
	case p.events <- ev:
	case <-p.closed:
	}
}
