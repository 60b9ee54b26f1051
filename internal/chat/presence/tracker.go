package presence

import (
	"github.com/amoylab/roomhub/internal/chat/session"
)

// Change is a single online/offline flip of a user
type Change struct {
	UserID string
	Online bool
}

// Tracker exposes the registry's online set. It keeps no state of its own.
type Tracker struct {
	registry *session.Registry
}

// NewTracker creates a tracker over registry
func NewTracker(registry *session.Registry) *Tracker {
	return &Tracker{registry: registry}
}

// Snapshot returns the sorted set of online users
func (t *Tracker) Snapshot() []string {
	return t.registry.OnlineUsers()
}

// IsOnline reports whether userID has a live connection
func (t *Tracker) IsOnline(userID string) bool {
	return t.registry.IsOnline(userID)
}

// OnPresenceChanged registers fn for every true flip. A user opening or
// closing extra connections while already online produces no call.
func (t *Tracker) OnPresenceChanged(fn func(Change)) {
	t.registry.Observe(func(userID string, online bool) {
		fn(Change{UserID: userID, Online: online})
	})
}
