package sessionstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/dialogd/pkg/dialog"
)

// Session owns one dialog plus the lock that serializes its exchanges.
type Session struct {
	dialog *dialog.Dialog

	// lock is a one-slot semaphore so waiters can give up on ctx cancellation.
	lock chan struct{}
	held atomic.Bool

	now          func() time.Time
	mu           sync.Mutex
	lastActivity time.Time
}

func newSession(d *dialog.Dialog, now func() time.Time) *Session {
	return &Session{
		dialog:       d,
		lock:         make(chan struct{}, 1),
		now:          now,
		lastActivity: now(),
	}
}

func (s *Session) ID() string             { return s.dialog.ID() }
func (s *Session) Dialog() *dialog.Dialog { return s.dialog }

// Lock waits for exclusive use of the session.
func (s *Session) Lock(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		s.held.Store(true)
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for session lock")
	}
}

func (s *Session) Unlock() {
	s.touch(s.now())
	s.held.Store(false)
	<-s.lock
}

// Busy reports whether an exchange currently holds the session.
func (s *Session) Busy() bool { return s.held.Load() }

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

// Summary is a point-in-time description of a session.
type Summary struct {
	ID            string    `json:"session_id"`
	RetainHistory bool      `json:"retain_history"`
	Turns         int       `json:"turns"`
	TotalLength   int       `json:"total_length"`
	Busy          bool      `json:"busy"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
}

func (s *Session) Summary() Summary {
	return Summary{
		ID:            s.ID(),
		RetainHistory: s.dialog.RetainHistory(),
		Turns:         s.dialog.Len(),
		TotalLength:   s.dialog.TotalLength(),
		Busy:          s.Busy(),
		CreatedAt:     s.dialog.CreatedAt(),
		LastActivity:  s.LastActivity(),
	}
}
