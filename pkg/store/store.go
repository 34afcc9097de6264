// Package store holds the durable interview data model: sessions, their
// generated question lists, append-only transcripts, and post-hoc reports.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session or report does not exist.
var ErrNotFound = errors.New("not found")

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerCandidate   Speaker = "candidate"
	SpeakerInterviewer Speaker = "interviewer"
)

// InterviewType distinguishes practice runs from employer screenings.
type InterviewType string

const (
	TypePractice  InterviewType = "practice"
	TypeScreening InterviewType = "screening"
)

// Session is one interview instance. Immutable from the orchestrator's
// perspective except for the started/ended timestamps.
type Session struct {
	ID              string
	Role            string
	ExperienceLevel string
	Company         string
	Industry        string
	Region          string
	JobDescription  string
	ResumeText      string
	DurationMinutes int
	Language        string
	Type            InterviewType
	Rubric          string
	Questions       []string
	CreatedAt       time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
}

// TranscriptEntry is one utterance. Append-only, ordered by CreatedAt.
type TranscriptEntry struct {
	ID        string
	SessionID string
	Speaker   Speaker
	Text      string
	CreatedAt time.Time
}

// Report is the scored outcome of a finished interview.
type Report struct {
	SessionID string
	Summary   string
	Scorecard string
	CreatedAt time.Time
}

type Sessions interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	MarkStarted(ctx context.Context, id string, at time.Time) error
	MarkEnded(ctx context.Context, id string, at time.Time) error
}

type Transcripts interface {
	AppendTranscript(ctx context.Context, e *TranscriptEntry) error
	ListTranscript(ctx context.Context, sessionID string) ([]TranscriptEntry, error)
}

type Reports interface {
	SaveReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, sessionID string) (*Report, error)
}

// Store is the full persistence surface consumed by the gateway.
type Store interface {
	Sessions
	Transcripts
	Reports
}
