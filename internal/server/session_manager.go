package server

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/michaelbrown/algoprep/internal/engine"
	"github.com/michaelbrown/algoprep/internal/practice"
	"github.com/michaelbrown/algoprep/internal/storage"
	"github.com/michaelbrown/algoprep/internal/task"
	"github.com/michaelbrown/algoprep/internal/verdict"
)

// SessionManager keeps one practice session per task slug in memory.
// Sessions share the executor, which runs one request at a time.
type SessionManager struct {
	store  *storage.Manager
	exec   engine.Executor
	warmer practice.Warmer
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*practice.Session
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(store *storage.Manager, exec engine.Executor, warmer practice.Warmer, logger zerolog.Logger) *SessionManager {
	return &SessionManager{
		store:    store,
		exec:     exec,
		warmer:   warmer,
		logger:   logger,
		sessions: make(map[string]*practice.Session),
	}
}

// Get returns an open session if it exists.
func (sm *SessionManager) Get(slug string) (*practice.Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[slug]
	return s, ok
}

// GetOrCreate returns the open session of desc or opens one.
func (sm *SessionManager) GetOrCreate(ctx context.Context, desc *task.Descriptor) (*practice.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if s, ok := sm.sessions[desc.Slug]; ok {
		return s, nil
	}

	s, err := practice.Open(ctx, practice.Config{
		Task:      desc,
		Store:     sm.store,
		Evaluator: verdict.New(sm.exec, sm.logger),
		Warmer:    sm.warmer,
		Logger:    sm.logger,
	})
	if err != nil {
		return nil, err
	}
	sm.sessions[desc.Slug] = s
	return s, nil
}

// Len returns the number of open sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Remove forgets a session and cancels its running batch.
func (sm *SessionManager) Remove(slug string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[slug]; ok {
		s.Cancel()
		delete(sm.sessions, slug)
	}
}

// CloseAll cancels every running batch and forgets all sessions.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for slug, s := range sm.sessions {
		s.Cancel()
		delete(sm.sessions, slug)
	}
}
