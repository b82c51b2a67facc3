package chat

import "sync"

// PresenceTracker keeps the ephemeral online flag per identity. State
// lives only in memory and is rebuilt from scratch on restart.
//
// An identity may hold sockets in several rooms at once, so the flag is
// reference counted internally: SetOnline/SetOffline are called per
// connection and the identity stays online until its last socket drops.
type PresenceTracker struct {
	mu     sync.Mutex
	online map[uint]int
}

// NewPresenceTracker initializes an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[uint]int)}
}

// SetOnline records one more live connection for the identity.
func (t *PresenceTracker) SetOnline(userID uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[userID]++
}

// SetOffline records one dropped connection for the identity. The flag
// clears when the last connection is gone.
func (t *PresenceTracker) SetOffline(userID uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	count, ok := t.online[userID]
	if !ok {
		return
	}
	if count <= 1 {
		delete(t.online, userID)
		return
	}
	t.online[userID] = count - 1
}

// Online reports whether the identity currently holds any connection.
func (t *PresenceTracker) Online(userID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID] > 0
}
