// ABOUTME: Per-connection session state holding at most one agent thread id
// ABOUTME: Owned by the frontend connection and passed into both hooks

package orchestrator

import "sync"

// Session is one user's chat connection.
type Session struct {
	ID       string
	Frontend string

	// boot serializes thread bootstrap so one session creates one thread.
	boot sync.Mutex

	mu       sync.RWMutex
	threadID string
}

// NewSession creates a session without a thread.
func NewSession(id, frontend string) *Session {
	return &Session{ID: id, Frontend: frontend}
}

// ThreadID returns the session's thread id, "" before bootstrap.
func (s *Session) ThreadID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threadID
}

func (s *Session) setThreadID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadID = id
}
