package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. It backs tests and single-node deployments
// that run without a DATABASE_URL.
type Memory struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	transcripts map[string][]TranscriptEntry
	reports     map[string]*Report
}

func NewMemory() *Memory {
	return &Memory{
		sessions:    make(map[string]*Session),
		transcripts: make(map[string][]TranscriptEntry),
		reports:     make(map[string]*Report),
	}
}

func (m *Memory) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	cp.Questions = append([]string(nil), s.Questions...)
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.Questions = append([]string(nil), s.Questions...)
	return &cp, nil
}

func (m *Memory) MarkStarted(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.StartedAt = &at
	return nil
}

func (m *Memory) MarkEnded(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.EndedAt = &at
	return nil
}

func (m *Memory) AppendTranscript(_ context.Context, e *TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.transcripts[e.SessionID] = append(m.transcripts[e.SessionID], *e)
	return nil
}

func (m *Memory) ListTranscript(_ context.Context, sessionID string) ([]TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := append([]TranscriptEntry(nil), m.transcripts[sessionID]...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (m *Memory) SaveReport(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cp := *r
	m.reports[r.SessionID] = &cp
	return nil
}

func (m *Memory) GetReport(_ context.Context, sessionID string) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}
