package api

import (
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dgallion1/bookcore/internal/document"
)

const maxSessions = 256

// Session is an open document held for a client.
type Session struct {
	ID       string
	Handle   *document.Handle
	OpenedAt time.Time
}

// SessionStore keeps open documents until they go unused for the TTL. Evicted
// documents are closed.
type SessionStore struct {
	lru *expirable.LRU[string, *Session]
}

func NewSessionStore(ttl time.Duration, log *slog.Logger) *SessionStore {
	onEvict := func(id string, s *Session) {
		if err := s.Handle.Close(); err != nil {
			log.Warn("closing document", "session", id, "error", err)
		}
		log.Debug("session closed", "session", id, "uri", s.Handle.Requested)
	}
	return &SessionStore{lru: expirable.NewLRU[string, *Session](maxSessions, onEvict, ttl)}
}

// Add stores h under a new time-ordered id.
func (s *SessionStore) Add(h *document.Handle) *Session {
	sess := &Session{ID: uuid.Must(uuid.NewV7()).String(), Handle: h, OpenedAt: time.Now()}
	s.lru.Add(sess.ID, sess)
	return sess
}

// Get returns a session and restarts its TTL.
func (s *SessionStore) Get(id string) (*Session, bool) {
	sess, ok := s.lru.Get(id)
	if ok {
		s.lru.Add(id, sess)
	}
	return sess, ok
}

// Close removes a session and closes its document.
func (s *SessionStore) Close(id string) bool {
	return s.lru.Remove(id)
}

// List returns the open sessions, oldest first.
func (s *SessionStore) List() []*Session {
	out := s.lru.Values()
	slices.SortFunc(out, func(a, b *Session) int { return a.OpenedAt.Compare(b.OpenedAt) })
	return out
}

func (s *SessionStore) Len() int { return s.lru.Len() }

// CloseAll closes every open document.
func (s *SessionStore) CloseAll() { s.lru.Purge() }
