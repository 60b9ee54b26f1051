package room

import (
	"sort"
	"sync"

	"github.com/amoylab/roomhub/internal/chat/session"

	"go.uber.org/zap"
)

// Index maps a room to the connections subscribed to it. Empty rooms are
// dropped so the map only holds live rooms.
type Index struct {
	logger *zap.Logger
	mu     sync.RWMutex
	rooms  map[string]map[string]session.Connection
}

// NewIndex creates an empty membership index
func NewIndex(logger *zap.Logger) *Index {
	return &Index{
		logger: logger.Named("chat.rooms"),
		rooms:  make(map[string]map[string]session.Connection),
	}
}

// Subscribe adds conn to roomID. Subscribing twice has no effect.
func (x *Index) Subscribe(roomID string, conn session.Connection) {
	x.mu.Lock()
	defer x.mu.Unlock()

	subs, ok := x.rooms[roomID]
	if !ok {
		subs = make(map[string]session.Connection)
		x.rooms[roomID] = subs
	}
	subs[conn.ID()] = conn
}

// Unsubscribe removes connID from roomID if present
func (x *Index) Unsubscribe(roomID, connID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.remove(roomID, connID)
}

// UnsubscribeAll removes connID from every room in fromRooms in one step
func (x *Index) UnsubscribeAll(connID string, fromRooms []string) {
	if len(fromRooms) == 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, roomID := range fromRooms {
		x.remove(roomID, connID)
	}
}

func (x *Index) remove(roomID, connID string) {
	subs, ok := x.rooms[roomID]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(x.rooms, roomID)
	}
}

// Subscribers returns a point-in-time copy of the room's subscribers
func (x *Index) Subscribers(roomID string) []session.Connection {
	x.mu.RLock()
	defer x.mu.RUnlock()

	subs := x.rooms[roomID]
	conns := make([]session.Connection, 0, len(subs))
	for _, c := range subs {
		conns = append(conns, c)
	}
	return conns
}

// IsSubscribed reports whether connID is subscribed to roomID
func (x *Index) IsSubscribed(roomID, connID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.rooms[roomID][connID]
	return ok
}

// Evict drops the whole room and returns its former subscribers
func (x *Index) Evict(roomID string) []session.Connection {
	x.mu.Lock()
	subs := x.rooms[roomID]
	delete(x.rooms, roomID)
	x.mu.Unlock()

	conns := make([]session.Connection, 0, len(subs))
	for _, c := range subs {
		conns = append(conns, c)
	}
	if len(conns) > 0 {
		x.logger.Debug("room evicted", zap.String("room_id", roomID), zap.Int("subscribers", len(conns)))
	}
	return conns
}

// Rooms returns the sorted IDs of rooms with at least one subscriber
func (x *Index) Rooms() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := make([]string, 0, len(x.rooms))
	for id := range x.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of subscribers of roomID
func (x *Index) Count(roomID string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.rooms[roomID])
}
