package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/amoylab/roomhub/internal/common/cnst"

	"go.uber.org/zap"
)

// FlipFunc is called when a user goes online (true) or offline (false)
type FlipFunc func(userID string, online bool)

type entry struct {
	conn   Connection
	userID string
	rooms  map[string]struct{}
}

// Removal describes what a deregistered connection left behind
type Removal struct {
	Conn    Connection
	UserID  string
	Rooms   []string
	Flipped bool
}

// Registry owns the live connections, their identities and room sets, and
// the reverse index from user to connections that defines the online set.
type Registry struct {
	logger *zap.Logger

	mu    sync.RWMutex
	conns map[string]*entry
	users map[string]map[string]Connection

	obsMu     sync.RWMutex
	observers []FlipFunc
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("chat.registry"),
		conns:  make(map[string]*entry),
		users:  make(map[string]map[string]Connection),
	}
}

// Observe adds fn to the flip observers. Observers run synchronously on the
// mutating goroutine after the registry lock is released.
func (r *Registry) Observe(fn FlipFunc) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Registry) notify(userID string, online bool) {
	r.obsMu.RLock()
	observers := make([]FlipFunc, len(r.observers))
	copy(observers, r.observers)
	r.obsMu.RUnlock()

	for _, fn := range observers {
		fn(userID, online)
	}
}

// Attach records a connection that has not identified yet
func (r *Registry) Attach(conn Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID()]; exists {
		return fmt.Errorf("%w: %s", cnst.ErrConnectionExists, conn.ID())
	}
	r.conns[conn.ID()] = &entry{
		conn:  conn,
		rooms: make(map[string]struct{}),
	}
	return nil
}

// Register binds the connection to userID exactly once. It reports whether
// the user flipped online.
func (r *Registry) Register(connID, userID string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("%w: empty user id", cnst.ErrInvalidArgument)
	}

	r.mu.Lock()
	e, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s", cnst.ErrConnectionClosed, connID)
	}
	if e.userID != "" {
		bound := e.userID
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s is %s", cnst.ErrAlreadyBound, connID, bound)
	}

	e.userID = userID
	set, online := r.users[userID]
	if !online {
		set = make(map[string]Connection)
		r.users[userID] = set
	}
	set[connID] = e.conn
	r.mu.Unlock()

	flipped := !online
	if flipped {
		r.logger.Debug("user online", zap.String("user_id", userID))
		r.notify(userID, true)
	}
	return flipped, nil
}

// Deregister removes the connection. Unknown connections report false.
func (r *Registry) Deregister(connID string) (Removal, bool) {
	r.mu.Lock()
	e, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return Removal{}, false
	}
	delete(r.conns, connID)

	rm := Removal{
		Conn:   e.conn,
		UserID: e.userID,
		Rooms:  sortedKeys(e.rooms),
	}
	if e.userID != "" {
		set := r.users[e.userID]
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, e.userID)
			rm.Flipped = true
		}
	}
	r.mu.Unlock()

	if rm.Flipped {
		r.logger.Debug("user offline", zap.String("user_id", rm.UserID))
		r.notify(rm.UserID, false)
	}
	return rm, true
}

// ConnectionsFor returns the live connections of userID
func (r *Registry) ConnectionsFor(userID string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	conns := make([]Connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// IsOnline reports whether userID has at least one live connection
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// OnlineUsers returns the sorted online set
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.users))
	for u := range r.users {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// AddRoom records roomID in the connection's subscription set
func (r *Registry) AddRoom(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return fmt.Errorf("%w: %s", cnst.ErrConnectionClosed, connID)
	}
	if e.userID == "" {
		return fmt.Errorf("%w: %s", cnst.ErrNotIdentified, connID)
	}
	e.rooms[roomID] = struct{}{}
	return nil
}

// RemoveRoom drops roomID from the subscription set and reports whether it was present
func (r *Registry) RemoveRoom(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	if _, ok := e.rooms[roomID]; !ok {
		return false
	}
	delete(e.rooms, roomID)
	return true
}

// Rooms returns the sorted subscription set of the connection
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return nil
	}
	return sortedKeys(e.rooms)
}

// HasRoom reports whether the connection is subscribed to roomID
func (r *Registry) HasRoom(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, ok = e.rooms[roomID]
	return ok
}

// User returns the bound identity. The bool is false for unknown connections.
func (r *Registry) User(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return e.userID, true
}

// Get returns the connection handle
func (r *Registry) Get(connID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// List returns every live connection, identified or not
func (r *Registry) List() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connection, 0, len(r.conns))
	for _, e := range r.conns {
		conns = append(conns, e.conn)
	}
	return conns
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
