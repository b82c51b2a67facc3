// Package chat implements the real-time core: the connection registry,
// presence tracking, room resolution, the message lifecycle, and the
// per-connection dispatch loop.
package chat

import (
	"fmt"
	"sync"
)

// Conn is a live socket handle registered for a (room, identity) pair.
// Send must not block; a non-nil error marks the handle dead and the
// registry prunes it. Close is never called by the registry itself.
type Conn interface {
	Send(payload []byte) error
	Close(reason string)
}

// roomConns holds the live handles of one room behind its own lock, so
// a slow broadcast in one room never stalls another.
type roomConns struct {
	mu    sync.RWMutex
	conns map[uint]Conn
}

// Registry maps room id to the identities connected in it. The outer
// lock only guards the room map; all per-connection work happens under
// the room's lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[uint]*roomConns
}

// NewRegistry initializes an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[uint]*roomConns)}
}

// Connect registers conn as the live handle for (roomID, userID). If a
// prior handle exists it is replaced and returned so the caller can
// close it (last-connect-wins).
func (r *Registry) Connect(roomID, userID uint, conn Conn) Conn {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	if ok {
		room.mu.Lock()
		prev := room.conns[userID]
		room.conns[userID] = conn
		room.mu.Unlock()
		r.mu.RUnlock()
		return prev
	}
	r.mu.RUnlock()

	r.mu.Lock()
	room, ok = r.rooms[roomID]
	if !ok {
		room = &roomConns{conns: make(map[uint]Conn)}
		r.rooms[roomID] = room
	}
	room.mu.Lock()
	prev := room.conns[userID]
	room.conns[userID] = conn
	room.mu.Unlock()
	r.mu.Unlock()
	return prev
}

// Disconnect removes the mapping for (roomID, userID); a no-op if
// absent. An empty room is pruned from the registry.
func (r *Registry) Disconnect(roomID, userID uint) {
	r.dropIf(roomID, userID, nil)
}

// DisconnectConn removes the mapping only if conn is still the current
// handle, so a session torn down after being superseded does not evict
// its replacement.
func (r *Registry) DisconnectConn(roomID, userID uint, conn Conn) {
	r.dropIf(roomID, userID, conn)
}

func (r *Registry) dropIf(roomID, userID uint, only Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	room.mu.Lock()
	current, ok := room.conns[userID]
	if ok && (only == nil || current == only) {
		delete(room.conns, userID)
	}
	empty := len(room.conns) == 0
	room.mu.Unlock()
	if empty {
		delete(r.rooms, roomID)
	}
}

// Send delivers payload to a single identity in the room. It returns
// ErrNotConnected when no live handle exists; a failed handle is pruned.
func (r *Registry) Send(roomID, userID uint, payload []byte) error {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}

	room.mu.RLock()
	conn, ok := room.conns[userID]
	room.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}

	if err := conn.Send(payload); err != nil {
		r.dropIf(roomID, userID, conn)
		return fmt.Errorf("send to user %d in room %d: %w", userID, roomID, ErrNotConnected)
	}
	return nil
}

// Broadcast fans payload out to every identity connected in the room
// except excludeUserID (zero excludes nobody). A failed peer is pruned
// and never blocks delivery to the others.
func (r *Registry) Broadcast(roomID uint, payload []byte, excludeUserID uint) {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	type target struct {
		userID uint
		conn   Conn
	}
	room.mu.RLock()
	targets := make([]target, 0, len(room.conns))
	for userID, conn := range room.conns {
		if userID == excludeUserID {
			continue
		}
		targets = append(targets, target{userID: userID, conn: conn})
	}
	room.mu.RUnlock()

	for _, t := range targets {
		if err := t.conn.Send(payload); err != nil {
			r.dropIf(roomID, t.userID, t.conn)
		}
	}
}

// Connected reports whether the identity holds a live handle in the room.
func (r *Registry) Connected(roomID, userID uint) bool {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	room.mu.RLock()
	_, ok = room.conns[userID]
	room.mu.RUnlock()
	return ok
}
