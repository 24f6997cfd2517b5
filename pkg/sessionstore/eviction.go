package sessionstore

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// EvictionPolicy removes sessions nobody has touched for Idle, checked every
// Interval. Eviction is off while either value is zero.
type EvictionPolicy struct {
	Idle     time.Duration
	Interval time.Duration
}

func (p EvictionPolicy) Enabled() bool { return p.Idle > 0 && p.Interval > 0 }

// EvictFunc observes the sessions removed by one sweep. It runs outside the
// store lock.
type EvictFunc func(evicted []Summary)

func (s *Store) SetEviction(p EvictionPolicy) {
	s.mu.Lock()
	s.eviction = p
	s.mu.Unlock()
}

// OnEvict registers fn to be told about every evicted session.
func (s *Store) OnEvict(fn EvictFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.evictHooks = append(s.evictHooks, fn)
	s.mu.Unlock()
}

// RunEviction sweeps idle sessions until ctx is done. It returns at once when
// eviction is disabled or another sweeper is already running.
func (s *Store) RunEviction(ctx context.Context) error {
	s.mu.Lock()
	p := s.eviction
	if !p.Enabled() || s.sweeping {
		s.mu.Unlock()
		return nil
	}
	s.sweeping = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	logger := log.With().Str("component", "sessionstore").Logger()
	logger.Info().Dur("idle", p.Idle).Dur("interval", p.Interval).Msg("idle eviction running")
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if evicted := s.EvictIdle(now); len(evicted) > 0 {
				logger.Info().Int("evicted", len(evicted)).Int("remaining", s.Len()).Msg("evicted idle sessions")
			}
		}
	}
}

// EvictIdle removes every session idle for at least the policy's Idle as of
// now, skipping sessions in the middle of an exchange.
func (s *Store) EvictIdle(now time.Time) []Summary {
	s.mu.Lock()
	idle := s.eviction.Idle
	if idle <= 0 {
		s.mu.Unlock()
		return nil
	}
	var evicted []Summary
	for _, sess := range append([]*Session(nil), s.order...) {
		if sess.Busy() || now.Sub(sess.LastActivity()) < idle {
			continue
		}
		s.removeLocked(sess)
		evicted = append(evicted, sess.Summary())
	}
	hooks := append([]EvictFunc(nil), s.evictHooks...)
	s.mu.Unlock()

	if len(evicted) > 0 {
		for _, h := range hooks {
			h(evicted)
		}
	}
	return evicted
}
