package duel

import (
	"sync"

	"github.com/quizduel/backend/internal/domain"
	"github.com/quizduel/backend/internal/errors"
)

// liveSession couples a session's data with the lock that serializes every
// mutation of it. Both participants' answer submissions race on this lock,
// so the advance check always sees a consistent answer set.
type liveSession struct {
	mu sync.Mutex
	s  domain.Session
}

// Store holds every in-progress session, indexed by session ID and by
// participant. A player belongs to at most one ACTIVE session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession
	byPlayer map[string]string
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*liveSession),
		byPlayer: make(map[string]string),
	}
}

// Create registers a new session and indexes both participants. It fails if
// either participant is already in an active session, leaving the store
// untouched.
func (st *Store) Create(s domain.Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, p := range []string{s.PlayerA, s.PlayerB} {
		if id, ok := st.byPlayer[p]; ok {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("duel: player %s already in session %s", p, id))
		}
	}

	st.sessions[s.SessionID] = &liveSession{s: s}
	st.byPlayer[s.PlayerA] = s.SessionID
	st.byPlayer[s.PlayerB] = s.SessionID
	return nil
}

func (st *Store) Get(sessionID string) (*liveSession, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ls, ok := st.sessions[sessionID]
	return ls, ok
}

// ByPlayer returns the session the player participates in, if any.
func (st *Store) ByPlayer(playerID string) (*liveSession, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	id, ok := st.byPlayer[playerID]
	if !ok {
		return nil, false
	}

	ls, ok := st.sessions[id]
	return ls, ok
}

// IsActive reports whether the player is in an active session.
func (st *Store) IsActive(playerID string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()

	_, ok := st.byPlayer[playerID]
	return ok
}

// Remove evicts a session and both participant index entries.
func (st *Store) Remove(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	ls, ok := st.sessions[sessionID]
	if !ok {
		return
	}

	delete(st.byPlayer, ls.s.PlayerA)
	delete(st.byPlayer, ls.s.PlayerB)
	delete(st.sessions, sessionID)
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return len(st.sessions)
}
