package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/amoylab/roomhub/internal/common/cnst"

	"go.uber.org/zap"
)

// MemoryStore implements Store using in-memory maps
type MemoryStore struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	rooms    map[string]*Room
	messages map[string][]*Message
	members  map[string]map[string]struct{} // room -> users
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger:   logger.Named("chat.store.memory"),
		rooms:    make(map[string]*Room),
		messages: make(map[string][]*Message),
		members:  make(map[string]map[string]struct{}),
	}
}

// CreateMessage implements Store.CreateMessage
func (s *MemoryStore) CreateMessage(_ context.Context, msg *Message) (*Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[msg.RoomID]; !ok {
		return nil, fmt.Errorf("%w: %s", cnst.ErrRoomNotFound, msg.RoomID)
	}
	stored := *msg
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], &stored)
	out := stored
	return &out, nil
}

// ListMessages implements Store.ListMessages
func (s *MemoryStore) ListMessages(_ context.Context, roomID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[roomID]
	msgs := make([]*Message, len(stored))
	for i, m := range stored {
		cp := *m
		msgs[i] = &cp
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// RoomExists implements Store.RoomExists
func (s *MemoryStore) RoomExists(_ context.Context, roomID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.rooms[roomID]
	return ok, nil
}

// CreateRoom implements Store.CreateRoom
func (s *MemoryStore) CreateRoom(_ context.Context, room *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[room.ID]; exists {
		return fmt.Errorf("room already exists: %s", room.ID)
	}
	room.Members = initialMembers(room)
	cp := *room
	cp.Members = nil
	s.rooms[room.ID] = &cp

	set := make(map[string]struct{}, len(room.Members))
	for _, id := range room.Members {
		set[id] = struct{}{}
	}
	s.members[room.ID] = set
	return nil
}

// GetRoom implements Store.GetRoom
func (s *MemoryStore) GetRoom(_ context.Context, roomID string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, cnst.ErrRoomNotFound
	}
	return s.roomCopy(room), nil
}

// DeleteRoom implements Store.DeleteRoom
func (s *MemoryStore) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return cnst.ErrRoomNotFound
	}
	delete(s.rooms, roomID)
	delete(s.messages, roomID)
	delete(s.members, roomID)
	return nil
}

// ListPublicRooms implements Store.ListPublicRooms
func (s *MemoryStore) ListPublicRooms(_ context.Context) ([]*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if r.IsPrivate {
			continue
		}
		rooms = append(rooms, s.roomCopy(r))
	}
	sortRoomsNewestFirst(rooms)
	return rooms, nil
}

// AddMember implements Store.AddMember
func (s *MemoryStore) AddMember(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return fmt.Errorf("%w: %s", cnst.ErrRoomNotFound, roomID)
	}
	s.members[roomID][userID] = struct{}{}
	return nil
}

// RemoveMember implements Store.RemoveMember
func (s *MemoryStore) RemoveMember(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return fmt.Errorf("%w: %s", cnst.ErrRoomNotFound, roomID)
	}
	delete(s.members[roomID], userID)
	return nil
}

// ListUserRooms implements Store.ListUserRooms
func (s *MemoryStore) ListUserRooms(_ context.Context, userID string) ([]*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]*Room, 0)
	for id, set := range s.members {
		if _, ok := set[userID]; ok {
			rooms = append(rooms, s.roomCopy(s.rooms[id]))
		}
	}
	sortRoomsNewestFirst(rooms)
	return rooms, nil
}

// roomCopy returns a detached copy of r with its members; callers hold s.mu
func (s *MemoryStore) roomCopy(r *Room) *Room {
	cp := *r
	cp.Members = make([]string, 0, len(s.members[r.ID]))
	for id := range s.members[r.ID] {
		cp.Members = append(cp.Members, id)
	}
	sort.Strings(cp.Members)
	return &cp
}

// Close implements Store.Close
func (s *MemoryStore) Close() error {
	return nil
}

func sortRoomsNewestFirst(rooms []*Room) {
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID > rooms[j].ID
		}
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
}
