package sessionstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/dialogd/pkg/dialog"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrBusy             = errors.New("sessions are busy")
	ErrMissingParameter = errors.New("missing session id")
)

type Options struct {
	// DialogOptions are applied to every dialog the store creates.
	DialogOptions []dialog.Option
	Now           func() time.Time
}

// Store holds every live session. Its mutex guards only the index; exchanges
// on a session serialize on the session's own lock.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    []*Session

	dialogOpts []dialog.Option
	now        func() time.Time

	eviction   EvictionPolicy
	evictHooks []EvictFunc
	sweeping   bool
}

func New(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		sessions:   map[string]*Session{},
		dialogOpts: append([]dialog.Option(nil), opts.DialogOptions...),
		now:        now,
	}
}

// ResolveOrCreate returns the session for id, creating a fresh one (with a
// new id) when id is empty or unknown.
func (s *Store) ResolveOrCreate(id string, retainHistory bool) (*Session, bool) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			return sess, false
		}
	}
	opts := append(append([]dialog.Option(nil), s.dialogOpts...), dialog.WithRetainHistory(retainHistory), dialog.WithClock(s.now))
	sess := newSession(dialog.New(opts...), s.now)
	s.sessions[sess.ID()] = sess
	s.order = append(s.order, sess)
	log.Debug().Str("component", "sessionstore").Str("session_id", sess.ID()).Str("requested_id", id).Msg("created session")
	return sess, true
}

// Acquire resolves or creates the session and locks it. A session removed
// while the caller waited is not handed out; the lookup starts over.
func (s *Store) Acquire(ctx context.Context, id string, retainHistory bool) (*Session, bool, error) {
	for {
		sess, created := s.ResolveOrCreate(id, retainHistory)
		if err := sess.Lock(ctx); err != nil {
			return nil, false, err
		}
		if s.registered(sess) {
			sess.touch(s.now())
			return sess, created, nil
		}
		sess.Unlock()
	}
}

func (s *Store) registered(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sess.ID()] == sess
}

// Get is a strict lookup.
func (s *Store) Get(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrMissingParameter
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "session %s", id)
	}
	return sess, nil
}

// Delete removes the session and reports whether it existed. An exchange
// already running on it finishes against the detached dialog.
func (s *Store) Delete(id string) bool {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	s.removeLocked(sess)
	log.Debug().Str("component", "sessionstore").Str("session_id", id).Msg("deleted session")
	return true
}

func (s *Store) removeLocked(sess *Session) {
	delete(s.sessions, sess.ID())
	for i, cur := range s.order {
		if cur == sess {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// List returns the live sessions in creation order.
func (s *Store) List() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Session(nil), s.order...)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Clear removes every session. It fails with ErrBusy, removing nothing, while
// any session is in the middle of an exchange.
func (s *Store) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	busy := 0
	for _, sess := range s.order {
		if sess.Busy() {
			busy++
		}
	}
	if busy > 0 {
		return 0, errors.Wrapf(ErrBusy, "%d session(s) in flight", busy)
	}
	n := len(s.order)
	s.sessions = map[string]*Session{}
	s.order = nil
	log.Info().Str("component", "sessionstore").Int("removed", n).Msg("cleared sessions")
	return n, nil
}
