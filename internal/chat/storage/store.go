package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/amoylab/roomhub/internal/common/cnst"

	"github.com/oklog/ulid/v2"
)

// Kind is the content type of a chat message
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

// Valid reports whether k is one of the supported kinds
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile:
		return true
	}
	return false
}

// Room is the durable record of a chat room
type Room struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name      string    `json:"name" gorm:"type:varchar(100);not null"`
	IsPrivate bool      `json:"isPrivate" gorm:"index"`
	OwnerID   string    `json:"ownerId" gorm:"type:varchar(64);index"`
	Members   []string  `json:"members" gorm:"-"` // sorted, owner included
	CreatedAt time.Time `json:"createdAt"`
}

// RoomMember records that a user belongs to a room. Membership outlives
// live subscriptions and is what lists a private room for its users.
type RoomMember struct {
	RoomID    string    `gorm:"primaryKey;type:varchar(64)"`
	UserID    string    `gorm:"primaryKey;type:varchar(64);index"`
	CreatedAt time.Time
}

// Message is a chat message. Live and durable copies share the same ID.
type Message struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	RoomID    string    `json:"roomId" gorm:"type:varchar(64);index:idx_room_created,priority:1;not null"`
	SenderID  string    `json:"senderId" gorm:"type:varchar(64);not null"`
	Kind      Kind      `json:"kind" gorm:"type:varchar(16);not null"`
	Content   string    `json:"content,omitempty" gorm:"type:text"`
	FileURL   string    `json:"fileUrl,omitempty" gorm:"type:varchar(1024)"`
	CreatedAt time.Time `json:"createdAt" gorm:"index:idx_room_created,priority:2"`
}

// NewMessage builds a message with a fresh time-sortable ID
func NewMessage(roomID, senderID string, kind Kind, content, fileURL string) *Message {
	return &Message{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		SenderID:  senderID,
		Kind:      kind,
		Content:   content,
		FileURL:   fileURL,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks the kind and that the payload matching the kind is present
func (m *Message) Validate() error {
	if m.RoomID == "" || m.SenderID == "" {
		return fmt.Errorf("%w: room and sender are required", cnst.ErrInvalidMessage)
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", cnst.ErrInvalidMessage, m.Kind)
	}
	if m.Kind == KindText && strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: empty text content", cnst.ErrInvalidMessage)
	}
	if m.Kind != KindText && m.FileURL == "" {
		return fmt.Errorf("%w: %s message without file url", cnst.ErrInvalidMessage, m.Kind)
	}
	return nil
}

// NewRoom builds a room record with a fresh ID
func NewRoom(name, ownerID string, private bool) *Room {
	return &Room{
		ID:        ulid.Make().String(),
		Name:      name,
		IsPrivate: private,
		OwnerID:   ownerID,
		Members:   []string{ownerID},
		CreatedAt: time.Now().UTC(),
	}
}

// initialMembers is the owner plus any preset members, sorted without blanks
// or repeats
func initialMembers(room *Room) []string {
	seen := make(map[string]struct{}, len(room.Members)+1)
	members := make([]string, 0, len(room.Members)+1)
	for _, id := range append([]string{room.OwnerID}, room.Members...) {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// Store is the durable gateway for rooms and messages
type Store interface {
	// CreateMessage persists a message and returns the stored copy
	CreateMessage(ctx context.Context, msg *Message) (*Message, error)

	// ListMessages returns a room's messages oldest first
	ListMessages(ctx context.Context, roomID string) ([]*Message, error)

	// RoomExists reports whether the room record exists
	RoomExists(ctx context.Context, roomID string) (bool, error)

	// CreateRoom stores the room with its owner as the first member
	CreateRoom(ctx context.Context, room *Room) error

	// GetRoom returns cnst.ErrRoomNotFound when the room is missing
	GetRoom(ctx context.Context, roomID string) (*Room, error)

	// DeleteRoom removes the room and its messages
	DeleteRoom(ctx context.Context, roomID string) error

	// ListPublicRooms returns non-private rooms, newest first
	ListPublicRooms(ctx context.Context) ([]*Room, error)

	// AddMember records userID as a member of roomID. Adding a member twice
	// is a no-op. Returns cnst.ErrRoomNotFound when the room is missing.
	AddMember(ctx context.Context, roomID, userID string) error

	// RemoveMember drops userID from roomID. Removing a non-member is a no-op.
	RemoveMember(ctx context.Context, roomID, userID string) error

	// ListUserRooms returns the rooms userID belongs to, private ones
	// included, newest first
	ListUserRooms(ctx context.Context, userID string) ([]*Room, error)

	Close() error
}
