package cnst

import "errors"

var (
	// ErrAlreadyBound is returned when identify is called on a connection that already has a user
	ErrAlreadyBound = errors.New("connection already bound to a user")
	// ErrNotSubscribed is returned when sending to a room the connection has not joined
	ErrNotSubscribed = errors.New("connection is not subscribed to room")
	// ErrConnectionClosed is returned for any operation on a closed or unknown connection
	ErrConnectionClosed = errors.New("connection closed")
	// ErrConnectionExists is returned when the same connection ID is attached twice
	ErrConnectionExists = errors.New("connection already exists")
	// ErrNotIdentified is returned when a room operation precedes identify
	ErrNotIdentified = errors.New("connection has not identified")
	// ErrPersistenceFailed is reported to the sender when the durable write fails after live fan-out
	ErrPersistenceFailed = errors.New("message persistence failed")
	// ErrHistoryUnavailable is returned when the room history could not be reloaded on join
	ErrHistoryUnavailable = errors.New("room history unavailable")
	// ErrRoomNotFound is returned when the room does not exist in the store
	ErrRoomNotFound = errors.New("room not found")
	// ErrInvalidMessage is returned for an unknown message kind or an empty payload
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidArgument is returned for empty identifiers and malformed frames
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrQueueFull is returned when a connection's outbound queue cannot take more events
	ErrQueueFull = errors.New("outbound queue is full")
	// ErrPermissionDenied is returned when a non-owner tries to delete a room
	ErrPermissionDenied = errors.New("permission denied")
)

// Wire codes sent to clients in error events.
const (
	CodeAlreadyBound       = "already_bound"
	CodeNotSubscribed      = "not_subscribed"
	CodeConnectionClosed   = "connection_closed"
	CodeNotIdentified      = "not_identified"
	CodePersistenceFailed  = "persistence_failed"
	CodeHistoryUnavailable = "history_unavailable"
	CodeRoomNotFound       = "room_not_found"
	CodeInvalidMessage     = "invalid_message"
	CodeInvalidArgument    = "invalid_argument"
	CodePermissionDenied   = "permission_denied"
	CodeInternal           = "internal"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAlreadyBound, CodeAlreadyBound},
	{ErrNotSubscribed, CodeNotSubscribed},
	{ErrConnectionClosed, CodeConnectionClosed},
	{ErrNotIdentified, CodeNotIdentified},
	{ErrPersistenceFailed, CodePersistenceFailed},
	{ErrHistoryUnavailable, CodeHistoryUnavailable},
	{ErrRoomNotFound, CodeRoomNotFound},
	{ErrInvalidMessage, CodeInvalidMessage},
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrPermissionDenied, CodePermissionDenied},
}

// ErrorCode maps an error chain to the wire code clients see
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
