package session

import (
	"encoding/json"
	"time"

	"github.com/amoylab/roomhub/internal/chat/storage"
	"github.com/amoylab/roomhub/internal/common/cnst"
)

// EventType is the type of an outbound event
type EventType string

const (
	EventMessage           EventType = "message"
	EventPresence          EventType = "presence"
	EventHistory           EventType = "history"
	EventUserJoined        EventType = "user_joined"
	EventUserLeft          EventType = "user_left"
	EventRoomClosed        EventType = "room_closed"
	EventPersistenceFailed EventType = "persistence_failed"
	EventError             EventType = "error"
	EventIdentified        EventType = "identified"
	EventJoined            EventType = "joined"
	EventLeft              EventType = "left"
)

// Event is the envelope pushed to a client. Presence events always carry
// users and history events always carry messages, as [] when empty.
type Event struct {
	Type      EventType          `json:"type"`
	RoomID    string             `json:"roomId,omitempty"`
	UserID    string             `json:"userId,omitempty"`
	Message   *storage.Message   `json:"message,omitempty"`
	Messages  []*storage.Message `json:"messages,omitempty"`
	Users     []string           `json:"users,omitempty"`
	Error     *ErrorBody         `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// MarshalJSON writes the list field a presence or history event is about even
// when it is empty
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	switch e.Type {
	case EventPresence:
		users := e.Users
		if users == nil {
			users = []string{}
		}
		return json.Marshal(struct {
			*plain
			Users []string `json:"users"`
		}{(*plain)(&e), users})
	case EventHistory:
		msgs := e.Messages
		if msgs == nil {
			msgs = []*storage.Message{}
		}
		return json.Marshal(struct {
			*plain
			Messages []*storage.Message `json:"messages"`
		}{(*plain)(&e), msgs})
	default:
		return json.Marshal((*plain)(&e))
	}
}

// ErrorBody carries a stable code and a human readable message
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newEvent(t EventType) *Event {
	return &Event{Type: t, Timestamp: time.Now().UTC()}
}

func NewMessageEvent(msg *storage.Message) *Event {
	ev := newEvent(EventMessage)
	ev.RoomID = msg.RoomID
	ev.Message = msg
	return ev
}

func NewPresenceEvent(users []string) *Event {
	ev := newEvent(EventPresence)
	ev.Users = users
	if ev.Users == nil {
		ev.Users = []string{}
	}
	return ev
}

func NewHistoryEvent(roomID string, msgs []*storage.Message) *Event {
	ev := newEvent(EventHistory)
	ev.RoomID = roomID
	ev.Messages = msgs
	return ev
}

// NewRoomEvent builds joined, left, user_joined, user_left and room_closed events
func NewRoomEvent(t EventType, roomID, userID string) *Event {
	ev := newEvent(t)
	ev.RoomID = roomID
	ev.UserID = userID
	return ev
}

func NewIdentifiedEvent(userID string) *Event {
	ev := newEvent(EventIdentified)
	ev.UserID = userID
	return ev
}

// NewPersistenceFailedEvent tells the sender its message was not stored
func NewPersistenceFailedEvent(msg *storage.Message, err error) *Event {
	ev := newEvent(EventPersistenceFailed)
	ev.RoomID = msg.RoomID
	ev.Message = msg
	ev.Error = &ErrorBody{Code: cnst.CodePersistenceFailed, Message: errorMessage(err)}
	return ev
}

// NewErrorEvent maps err to its wire code
func NewErrorEvent(err error) *Event {
	ev := newEvent(EventError)
	ev.Error = &ErrorBody{Code: cnst.ErrorCode(err), Message: errorMessage(err)}
	return ev
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	// internal details stay in the logs
	if cnst.ErrorCode(err) == cnst.CodeInternal {
		return "internal error"
	}
	return err.Error()
}
