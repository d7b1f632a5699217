// Package session keeps per-conversation model state between turns: the
// masked turn log and the usage accumulator. Sessions live in memory only
// and are evicted after a configurable idle window.
package session

import (
	"context"
	"log"
	"sync"
	"time"
)

// Default eviction parameters, overridable via Store options.
const (
	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Store maps conversation ids to their live Session. A conversation id
// resolves to at most one session at a time; distinct ids are fully
// independent.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	sweep    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the idle window after which a session is evicted.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSweepInterval sets how often the eviction pass runs.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Store) {
		if interval > 0 {
			s.sweep = interval
		}
	}
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      DefaultTTL,
		sweep:    DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the session for the conversation id, creating a fresh
// one (empty turn log, zeroed accumulator) on first access. The activity
// timestamp is refreshed on every access, so a returned session cannot fall
// into the eviction window before the caller takes its turn lock.
func (s *Store) GetOrCreate(conversationID string) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[conversationID]
	s.mu.RUnlock()
	if ok {
		sess.touch()
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[conversationID]; ok {
		sess.touch()
		return sess
	}
	sess = newSession(conversationID)
	s.sessions[conversationID] = sess
	return sess
}

// Acquire returns the conversation's session with its turn lock held and
// its map membership verified under the lock, so the returned session is
// the one live entry for the id: a session evicted between lookup and lock
// is discarded and the lookup retried.
func (s *Store) Acquire(conversationID string) *Session {
	for {
		sess := s.GetOrCreate(conversationID)
		sess.Lock()

		s.mu.RLock()
		current := s.sessions[conversationID]
		s.mu.RUnlock()

		if current == sess {
			return sess
		}
		sess.Unlock()
	}
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StartSweeper runs the eviction loop until the context is canceled.
func (s *Store) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.evictExpired(time.Now().UTC()); n > 0 {
					log.Printf("[session] evicted %d idle session(s)", n)
				}
			}
		}
	}()
}

// SweepNow runs a single eviction pass immediately.
func (s *Store) SweepNow() int {
	return s.evictExpired(time.Now().UTC())
}

// evictExpired drops sessions idle longer than the TTL. Sessions with a
// turn in flight hold their turn lock and are skipped.
func (s *Store) evictExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity()) < s.ttl {
			continue
		}
		if !sess.mu.TryLock() {
			continue
		}
		// Re-check under the turn lock: a caller may have touched the
		// session between the idle check and the lock.
		idle := now.Sub(sess.LastActivity()) >= s.ttl
		sess.mu.Unlock()
		if !idle {
			continue
		}
		delete(s.sessions, id)
		evicted++
	}
	return evicted
}
