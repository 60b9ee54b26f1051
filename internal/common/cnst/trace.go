package cnst

// Tracer names used across the service
const (
	// TraceCoordinator is the tracer name for the room and presence coordinator
	TraceCoordinator = "roomhub/coordinator"
	// TraceStorage is the tracer name for the persistence gateway
	TraceStorage = "roomhub/storage"
)

// Span names
const (
	SpanSendMessage   = "chat.message.send"
	SpanDurableWrite  = "chat.message.persist"
	SpanJoinRoom      = "chat.room.join"
	SpanHistoryReload = "chat.room.history"
)

// Attribute keys
const (
	AttrConnectionID = "chat.connection_id"
	AttrUserID       = "chat.user_id"
	AttrRoomID       = "chat.room_id"
	AttrMessageKind  = "chat.message.kind"
	AttrDelivered    = "chat.fanout.delivered"
	AttrFailed       = "chat.fanout.failed"
	AttrErrorReason  = "error.reason"
)
