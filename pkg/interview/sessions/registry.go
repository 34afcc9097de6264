// Package sessions tracks live interview orchestrators across the process.
// The registry is the only cross-connection shared state and doubles as the
// admission-control point: connections beyond the ceiling are refused before
// an orchestrator exists.
package sessions

import (
	"context"
	"errors"
	"sync"
)

// ErrCapacity is returned when the concurrent-session ceiling is reached.
var ErrCapacity = errors.New("session capacity reached")

// ErrDuplicate is returned when the session id already has a live connection.
var ErrDuplicate = errors.New("session already connected")

// Handle exposes the operations the registry may invoke on a live session.
type Handle struct {
	Cancel func()
	Warn   func(code, message string) error
}

type Registry struct {
	mu       sync.Mutex
	capacity int
	sessions map[string]*tracked
	wg       sync.WaitGroup
}

type tracked struct {
	handle Handle
	once   sync.Once
}

// NewRegistry builds a registry holding at most capacity concurrent sessions.
// capacity <= 0 means unbounded.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		capacity: capacity,
		sessions: make(map[string]*tracked),
	}
}

// Register reserves a slot for sessionID and returns an idempotent unregister
// func. Registration fails when the ceiling is reached or the id is already
// live; the caller must not build an orchestrator in either case.
func (r *Registry) Register(sessionID string, h Handle) (unregister func(), err error) {
	entry := &tracked{handle: h}

	r.mu.Lock()
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		return nil, ErrDuplicate
	}
	if r.capacity > 0 && len(r.sessions) >= r.capacity {
		r.mu.Unlock()
		return nil, ErrCapacity
	}
	r.sessions[sessionID] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	return func() { r.unregister(sessionID, entry) }, nil
}

func (r *Registry) unregister(sessionID string, entry *tracked) {
	entry.once.Do(func() {
		r.mu.Lock()
		if r.sessions[sessionID] == entry {
			delete(r.sessions, sessionID)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// WarnAll sends a warning to every live session, e.g. during drain.
func (r *Registry) WarnAll(code, message string) (sent int) {
	var warns []func(code, message string) error
	r.mu.Lock()
	for _, entry := range r.sessions {
		if entry.handle.Warn != nil {
			warns = append(warns, entry.handle.Warn)
		}
	}
	r.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

// CancelAll asks every live session to terminate.
func (r *Registry) CancelAll() (canceled int) {
	var cancels []func()
	r.mu.Lock()
	for _, entry := range r.sessions {
		if entry.handle.Cancel != nil {
			cancels = append(cancels, entry.handle.Cancel)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered, or ctx ends.
func (r *Registry) Wait(ctx context.Context) bool {
	if ctx == nil {
		r.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
