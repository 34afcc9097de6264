package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hireloop/interviewd/pkg/interview/session"
)

// UpstreamMode selects the conversational backend for live sessions.
type UpstreamMode string

const (
	// UpstreamPipeline runs discrete transcribe/decide/synthesize turns.
	UpstreamPipeline UpstreamMode = "pipeline"
	// UpstreamRealtime bridges a bidirectional speech-to-speech endpoint.
	UpstreamRealtime UpstreamMode = "realtime"
)

type Config struct {
	Addr string

	// DatabaseURL selects Postgres persistence; empty keeps everything in
	// memory (useful for local runs and tests).
	DatabaseURL string

	UpstreamMode UpstreamMode

	// Gemini text generation (question lists, turn decisions, reports).
	GeminiAPIKey string
	GeminiModel  string
	LLMTimeout   time.Duration

	// Discrete pipeline services.
	STTBaseURL string
	STTAPIKey  string
	TTSBaseURL string
	TTSAPIKey  string
	TTSVoice   string

	// Realtime speech-to-speech endpoint.
	RealtimeBaseURL string
	RealtimeAPIKey  string
	RealtimeModel   string
	RealtimeVoice   string

	// Admission control: concurrent live session ceiling.
	MaxSessions int

	// NoSpeechThreshold above which a transcribed turn is treated as silence.
	NoSpeechThreshold float64

	// Conversational pacing.
	Policy session.Policy

	// Live WebSocket plumbing.
	WSPingInterval  time.Duration
	WSWriteTimeout  time.Duration
	WSMaxFrameBytes int64

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:              envOr("INTERVIEWD_ADDR", ":8080"),
		DatabaseURL:       strings.TrimSpace(os.Getenv("INTERVIEWD_DATABASE_URL")),
		UpstreamMode:      UpstreamMode(envOr("INTERVIEWD_UPSTREAM_MODE", string(UpstreamPipeline))),
		GeminiAPIKey:      strings.TrimSpace(os.Getenv("INTERVIEWD_GEMINI_API_KEY")),
		GeminiModel:       envOr("INTERVIEWD_GEMINI_MODEL", ""),
		LLMTimeout:        envDurationOr("INTERVIEWD_LLM_TIMEOUT", 20*time.Second),
		STTBaseURL:        envOr("INTERVIEWD_STT_BASE_URL", "https://api.openai.com/v1"),
		STTAPIKey:         strings.TrimSpace(os.Getenv("INTERVIEWD_STT_API_KEY")),
		TTSBaseURL:        envOr("INTERVIEWD_TTS_BASE_URL", "https://api.openai.com/v1"),
		TTSAPIKey:         strings.TrimSpace(os.Getenv("INTERVIEWD_TTS_API_KEY")),
		TTSVoice:          envOr("INTERVIEWD_TTS_VOICE", "alloy"),
		RealtimeBaseURL:   envOr("INTERVIEWD_REALTIME_BASE_URL", ""),
		RealtimeAPIKey:    strings.TrimSpace(os.Getenv("INTERVIEWD_REALTIME_API_KEY")),
		RealtimeModel:     envOr("INTERVIEWD_REALTIME_MODEL", ""),
		RealtimeVoice:     envOr("INTERVIEWD_REALTIME_VOICE", ""),
		MaxSessions:       envIntOr("INTERVIEWD_MAX_SESSIONS", 50),
		NoSpeechThreshold: envFloat64Or("INTERVIEWD_NO_SPEECH_THRESHOLD", 0.6),
		Policy: session.Policy{
			SmallTalkPause:    envDurationOr("INTERVIEWD_SMALL_TALK_PAUSE", 0),
			BridgePause:       envDurationOr("INTERVIEWD_BRIDGE_PAUSE", 0),
			QuestionTimeFloor: envDurationOr("INTERVIEWD_QUESTION_TIME_FLOOR", 0),
			SilenceNudge:      envDurationOr("INTERVIEWD_SILENCE_NUDGE", 0),
			SilenceWarn:       envDurationOr("INTERVIEWD_SILENCE_WARN", 0),
			HoldGrace:         envDurationOr("INTERVIEWD_HOLD_GRACE", 0),
			HardOverrunGrace:  envDurationOr("INTERVIEWD_HARD_OVERRUN_GRACE", 0),
			PostClosingGrace:  envDurationOr("INTERVIEWD_POST_CLOSING_GRACE", 0),
		},
		WSPingInterval:      envDurationOr("INTERVIEWD_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("INTERVIEWD_WS_WRITE_TIMEOUT", 5*time.Second),
		WSMaxFrameBytes:     envInt64Or("INTERVIEWD_WS_MAX_FRAME_BYTES", 256*1024),
		ReadHeaderTimeout:   envDurationOr("INTERVIEWD_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("INTERVIEWD_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("INTERVIEWD_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.UpstreamMode {
	case UpstreamPipeline, UpstreamRealtime:
	default:
		return Config{}, fmt.Errorf("INTERVIEWD_UPSTREAM_MODE must be one of pipeline|realtime")
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("INTERVIEWD_GEMINI_API_KEY must be set")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_LLM_TIMEOUT must be > 0")
	}
	if cfg.UpstreamMode == UpstreamPipeline {
		if cfg.STTAPIKey == "" {
			return Config{}, fmt.Errorf("INTERVIEWD_STT_API_KEY must be set in pipeline mode")
		}
		if cfg.TTSAPIKey == "" {
			return Config{}, fmt.Errorf("INTERVIEWD_TTS_API_KEY must be set in pipeline mode")
		}
	}
	if cfg.UpstreamMode == UpstreamRealtime && cfg.RealtimeAPIKey == "" {
		return Config{}, fmt.Errorf("INTERVIEWD_REALTIME_API_KEY must be set in realtime mode")
	}
	if cfg.MaxSessions < 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_MAX_SESSIONS must be >= 0")
	}
	if cfg.NoSpeechThreshold <= 0 || cfg.NoSpeechThreshold > 1 {
		return Config{}, fmt.Errorf("INTERVIEWD_NO_SPEECH_THRESHOLD must be in (0, 1]")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxFrameBytes <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_WS_MAX_FRAME_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
