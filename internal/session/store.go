package session

import (
	"context"
	"log"
	"sync"
	"time"
)

// Store holds one Session per user.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	maxSize  int64
	now      func() time.Time
}

func NewStore(maxSize int64) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		maxSize:  maxSize,
		now:      time.Now,
	}
}

// Update applies fn to the user's session, creating it on first use. Edits
// are refused while a merge owns the session.
func (s *Store) Update(userID string, fn func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		sess = New(userID, s.maxSize)
		sess.CreatedAt = s.now()
	}
	if sess.Running {
		return ErrBusy
	}
	if err := fn(sess); err != nil {
		return err
	}
	sess.UpdatedAt = s.now()
	s.sessions[userID] = sess
	return nil
}

// Snapshot returns a copy of the user's session.
func (s *Store) Snapshot(userID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// Begin marks the session as owned by a running merge and returns a copy of
// what was queued.
func (s *Store) Begin(userID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok || sess.Empty() {
		return nil, ErrEmptyQueue
	}
	if sess.Running {
		return nil, ErrBusy
	}
	sess.Running = true
	sess.UpdatedAt = s.now()
	return sess.Clone(), nil
}

// Release hands a session back to the user without touching its queue.
func (s *Store) Release(userID string) {
	s.mu.Lock()
	if sess, ok := s.sessions[userID]; ok {
		sess.Running = false
	}
	s.mu.Unlock()
}

// Reset destroys the user's session.
func (s *Store) Reset(userID string) {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
}

// Sweep drops sessions idle for longer than maxIdle. Running sessions are
// kept.
func (s *Store) Sweep(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for userID, sess := range s.sessions {
		if sess.Running || now.Sub(sess.UpdatedAt) <= maxIdle {
			continue
		}
		log.Printf("[Session] %s idle since %s, dropping", userID, sess.UpdatedAt.Format(time.RFC3339))
		delete(s.sessions, userID)
		removed++
	}
	return removed
}

func (s *Store) StartSweeper(ctx context.Context, every, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(maxIdle); n > 0 {
					log.Printf("[Session] Swept %d idle sessions", n)
				}
			}
		}
	}()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
