// Package registry maps a player identity to its single live transport
// handle. It is the authoritative answer to "is this player reachable".
package registry

import "sync"

// Conn is a live transport handle for one player. The api package supplies
// the websocket-backed implementation; tests use fakes.
type Conn interface {
	// Send writes a message to the peer. Implementations must be safe for
	// concurrent use.
	Send(v any) error
	Close() error
}

// Registry holds at most one live binding per player. Single-player
// operations are linearizable; there is no ordering across players.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func New() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Bind stores conn as the player's live handle, replacing any prior binding.
// The previous handle is returned so the caller can mark it stale.
func (r *Registry) Bind(playerID string, conn Conn) (prev Conn, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, replaced = r.conns[playerID]
	r.conns[playerID] = conn
	return prev, replaced
}

// Unbind removes the player's binding only if the stored handle is still
// conn. This keeps a stale unbind from a dying connection from evicting a
// fresh reconnect's binding.
func (r *Registry) Unbind(playerID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.conns[playerID]
	if !ok || cur != conn {
		return false
	}

	delete(r.conns, playerID)
	return true
}

// Lookup returns the player's live handle, if any.
func (r *Registry) Lookup(playerID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[playerID]
	return c, ok
}

// Len returns the number of live bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
