package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amoylab/roomhub/internal/chat/fanout"
	"github.com/amoylab/roomhub/internal/chat/presence"
	"github.com/amoylab/roomhub/internal/chat/room"
	"github.com/amoylab/roomhub/internal/chat/session"
	"github.com/amoylab/roomhub/internal/chat/storage"
	"github.com/amoylab/roomhub/internal/common/cnst"
	"github.com/amoylab/roomhub/pkg/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// State is the lifecycle state of a connection
type State int

const (
	StateConnected State = iota
	StateIdentified
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateSubscribed:
		return "subscribed"
	default:
		return "closed"
	}
}

// Stats is a point-in-time view of the live state
type Stats struct {
	Connections int            `json:"connections"`
	OnlineUsers int            `json:"onlineUsers"`
	Rooms       map[string]int `json:"rooms"` // subscribers per live room
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithRecorder reports chat metrics to r
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.recorder = r
		}
	}
}

// Coordinator sequences connection lifecycle, room membership, presence and
// message delivery. It is the only owner of the registry and the room index.
type Coordinator struct {
	logger   *zap.Logger
	store    storage.Store
	registry *session.Registry
	rooms    *room.Index
	presence *presence.Tracker
	fanout   *fanout.Engine
	recorder Recorder
	tracer   *trace.Builder

	// serializes presence broadcasts so the last one carries the latest set
	presenceMu sync.Mutex

	lifeMu  sync.RWMutex
	closing bool
	writes  sync.WaitGroup
}

// New creates a coordinator persisting through store
func New(logger *zap.Logger, store storage.Store, opts ...Option) *Coordinator {
	registry := session.NewRegistry(logger)
	rooms := room.NewIndex(logger)
	c := &Coordinator{
		logger:   logger.Named("chat.coordinator"),
		store:    store,
		registry: registry,
		rooms:    rooms,
		presence: presence.NewTracker(registry),
		fanout:   fanout.NewEngine(logger, rooms),
		recorder: nopRecorder{},
		tracer:   trace.Tracer(cnst.TraceCoordinator),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.presence.OnPresenceChanged(c.onPresenceChanged)
	return c
}

// Connect attaches a fresh connection in the connected state
func (c *Coordinator) Connect(_ context.Context, conn session.Connection) error {
	c.lifeMu.RLock()
	defer c.lifeMu.RUnlock()
	if c.closing {
		return fmt.Errorf("%w: shutting down", cnst.ErrConnectionClosed)
	}

	if err := c.registry.Attach(conn); err != nil {
		return err
	}
	c.recorder.ConnectionOpened()
	c.logger.Debug("connection attached", zap.String("connection_id", conn.ID()))
	return nil
}

// Identify binds userID to the connection. A user going online triggers a
// presence broadcast to every connection; otherwise only this connection
// gets the current snapshot.
func (c *Coordinator) Identify(ctx context.Context, connID, userID string) error {
	conn, ok := c.registry.Get(connID)
	if !ok {
		return fmt.Errorf("%w: %s", cnst.ErrConnectionClosed, connID)
	}
	flipped, err := c.registry.Register(connID, userID)
	if err != nil {
		return err
	}

	c.logger.Info("connection identified",
		zap.String("connection_id", connID),
		zap.String("user_id", userID),
		zap.Bool("went_online", flipped))

	c.send(ctx, conn, session.NewIdentifiedEvent(userID))
	if !flipped {
		c.send(ctx, conn, session.NewPresenceEvent(c.presence.Snapshot()))
	}
	return nil
}

// JoinRoom subscribes the connection to roomID and returns the room history.
// The subscription stays in place when the history reload fails.
func (c *Coordinator) JoinRoom(ctx context.Context, connID, roomID string) ([]*storage.Message, error) {
	scope := c.tracer.Start(ctx, cnst.SpanJoinRoom).WithAttrs(
		attribute.String(cnst.AttrConnectionID, connID),
		attribute.String(cnst.AttrRoomID, roomID),
	)
	defer scope.End()
	ctx = scope.Ctx

	msgs, err := c.joinRoom(ctx, connID, roomID)
	scope.Fail(err)
	return msgs, err
}

func (c *Coordinator) joinRoom(ctx context.Context, connID, roomID string) ([]*storage.Message, error) {
	if roomID == "" {
		return nil, fmt.Errorf("%w: empty room id", cnst.ErrInvalidArgument)
	}
	conn, ok := c.registry.Get(connID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", cnst.ErrConnectionClosed, connID)
	}
	userID, _ := c.registry.User(connID)
	if userID == "" {
		return nil, fmt.Errorf("%w: %s", cnst.ErrNotIdentified, connID)
	}

	exists, err := c.store.RoomExists(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to check room %s: %w", roomID, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", cnst.ErrRoomNotFound, roomID)
	}

	rejoin := c.registry.HasRoom(connID, roomID)
	if !rejoin {
		if err := c.store.AddMember(ctx, roomID, userID); err != nil {
			return nil, fmt.Errorf("failed to record membership of %s: %w", roomID, err)
		}
	}
	if err := c.registry.AddRoom(connID, roomID); err != nil {
		return nil, err
	}
	c.rooms.Subscribe(roomID, conn)
	// a concurrent Disconnect may have already swept the index
	if !c.registry.HasRoom(connID, roomID) {
		c.rooms.Unsubscribe(roomID, connID)
		return nil, fmt.Errorf("%w: %s", cnst.ErrConnectionClosed, connID)
	}

	if !rejoin {
		rep := c.fanout.DeliverExcept(ctx, roomID, session.NewRoomEvent(session.EventUserJoined, roomID, userID), connID)
		c.dropFailed(ctx, rep.Failed)
	}
	c.send(ctx, conn, session.NewRoomEvent(session.EventJoined, roomID, userID))

	msgs, err := c.loadHistory(ctx, roomID)
	if err != nil {
		c.logger.Warn("history reload failed",
			zap.String("room_id", roomID),
			zap.String("connection_id", connID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", cnst.ErrHistoryUnavailable, err)
	}
	c.send(ctx, conn, session.NewHistoryEvent(roomID, msgs))
	return msgs, nil
}

func (c *Coordinator) loadHistory(ctx context.Context, roomID string) ([]*storage.Message, error) {
	scope := c.tracer.Start(ctx, cnst.SpanHistoryReload).WithAttrs(attribute.String(cnst.AttrRoomID, roomID))
	defer scope.End()

	msgs, err := c.store.ListMessages(scope.Ctx, roomID)
	scope.Fail(err)
	return msgs, err
}

// LeaveRoom unsubscribes the connection from roomID. Leaving a room that was
// never joined only acknowledges.
func (c *Coordinator) LeaveRoom(ctx context.Context, connID, roomID string) error {
	conn, ok := c.registry.Get(connID)
	if !ok {
		return fmt.Errorf("%w: %s", cnst.ErrConnectionClosed, connID)
	}
	userID, _ := c.registry.User(connID)

	if c.registry.RemoveRoom(connID, roomID) {
		c.rooms.Unsubscribe(roomID, connID)
		rep := c.fanout.Deliver(ctx, roomID, session.NewRoomEvent(session.EventUserLeft, roomID, userID))
		c.dropFailed(ctx, rep.Failed)
	}
	c.send(ctx, conn, session.NewRoomEvent(session.EventLeft, roomID, userID))
	return nil
}

// SendMessage dispatches the durable write and the live fan-out in parallel
// and returns once the fan-out is done. A failed durable write is reported to
// the sender alone after the fan-out completed.
func (c *Coordinator) SendMessage(ctx context.Context, connID, roomID string, kind storage.Kind, content, fileURL string) (*storage.Message, error) {
	scope := c.tracer.Start(ctx, cnst.SpanSendMessage).WithAttrs(
		attribute.String(cnst.AttrConnectionID, connID),
		attribute.String(cnst.AttrRoomID, roomID),
		attribute.String(cnst.AttrMessageKind, string(kind)),
	)
	defer scope.End()

	msg, err := c.sendMessage(scope, connID, roomID, kind, content, fileURL)
	scope.Fail(err)
	return msg, err
}

func (c *Coordinator) sendMessage(scope *trace.SpanScope, connID, roomID string, kind storage.Kind, content, fileURL string) (*storage.Message, error) {
	ctx := scope.Ctx
	conn, ok := c.registry.Get(connID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", cnst.ErrConnectionClosed, connID)
	}
	if !c.registry.HasRoom(connID, roomID) {
		return nil, fmt.Errorf("%w: %s", cnst.ErrNotSubscribed, roomID)
	}
	userID, _ := c.registry.User(connID)

	msg := storage.NewMessage(roomID, userID, kind, content, fileURL)
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	c.lifeMu.RLock()
	if c.closing {
		c.lifeMu.RUnlock()
		return nil, fmt.Errorf("%w: shutting down", cnst.ErrConnectionClosed)
	}
	c.writes.Add(1)
	c.lifeMu.RUnlock()

	fanoutDone := make(chan struct{})
	go c.persist(context.WithoutCancel(ctx), conn, msg, fanoutDone)

	start := time.Now()
	rep := c.fanout.Deliver(ctx, roomID, session.NewMessageEvent(msg))
	close(fanoutDone)

	scope.WithAttrs(
		attribute.Int(cnst.AttrDelivered, rep.Delivered),
		attribute.Int(cnst.AttrFailed, len(rep.Failed)),
	)
	c.recorder.MessageSent(string(kind))
	c.recorder.FanoutDone(rep.Delivered, len(rep.Failed), start)
	c.dropFailed(ctx, rep.Failed)
	return msg, nil
}

// persist runs the durable write. The sender hears about a failure only
// after fanoutDone is closed.
func (c *Coordinator) persist(ctx context.Context, sender session.Connection, msg *storage.Message, fanoutDone <-chan struct{}) {
	defer c.writes.Done()

	scope := c.tracer.Start(ctx, cnst.SpanDurableWrite).WithAttrs(attribute.String(cnst.AttrRoomID, msg.RoomID))
	defer scope.End()

	_, err := c.store.CreateMessage(scope.Ctx, msg)
	if err == nil {
		return
	}
	scope.Fail(err)

	<-fanoutDone
	c.recorder.PersistenceFailed()
	c.logger.Error("failed to persist message",
		zap.String("message_id", msg.ID),
		zap.String("room_id", msg.RoomID),
		zap.String("sender_id", msg.SenderID),
		zap.Error(err))

	ev := session.NewPersistenceFailedEvent(msg, fmt.Errorf("%w: %v", cnst.ErrPersistenceFailed, err))
	if err := sender.Send(ctx, ev); err != nil {
		c.logger.Debug("sender gone before persistence failure notice",
			zap.String("connection_id", sender.ID()),
			zap.Error(err))
	}
}

// Disconnect removes the connection from every structure and closes it.
// Calling it again is a no-op. In-flight durable writes are not cancelled.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	rm, ok := c.registry.Deregister(connID)
	if !ok {
		return
	}
	c.rooms.UnsubscribeAll(connID, rm.Rooms)

	if rm.UserID != "" {
		for _, roomID := range rm.Rooms {
			rep := c.fanout.Deliver(ctx, roomID, session.NewRoomEvent(session.EventUserLeft, roomID, rm.UserID))
			c.dropFailed(ctx, rep.Failed)
		}
	}

	if err := rm.Conn.Close(ctx); err != nil {
		c.logger.Warn("failed to close connection", zap.String("connection_id", connID), zap.Error(err))
	}
	c.recorder.ConnectionClosed()
	c.logger.Debug("connection closed",
		zap.String("connection_id", connID),
		zap.String("user_id", rm.UserID),
		zap.Strings("rooms", rm.Rooms))
}

// CloseRoom evicts every subscriber of a room deleted from the store and
// notifies them. It returns the number of evicted connections.
func (c *Coordinator) CloseRoom(ctx context.Context, roomID string) int {
	conns := c.rooms.Evict(roomID)
	for _, conn := range conns {
		c.registry.RemoveRoom(conn.ID(), roomID)
	}
	rep := c.fanout.Broadcast(ctx, conns, session.NewRoomEvent(session.EventRoomClosed, roomID, ""))
	c.dropFailed(ctx, rep.Failed)
	c.logger.Info("room closed", zap.String("room_id", roomID), zap.Int("evicted", len(conns)))
	return len(conns)
}

func (c *Coordinator) onPresenceChanged(change presence.Change) {
	ctx := context.Background()

	c.presenceMu.Lock()
	users := c.presence.Snapshot()
	c.recorder.OnlineUsers(len(users))
	rep := c.fanout.Broadcast(ctx, c.registry.List(), session.NewPresenceEvent(users))
	c.presenceMu.Unlock()

	c.logger.Debug("presence changed",
		zap.String("user_id", change.UserID),
		zap.Bool("online", change.Online),
		zap.Int("online_users", len(users)),
		zap.Int("delivered", rep.Delivered))
	c.dropFailed(ctx, rep.Failed)
}

// send pushes ev to one connection and tears it down when it cannot take it
func (c *Coordinator) send(ctx context.Context, conn session.Connection, ev *session.Event) {
	if err := conn.Send(ctx, ev); err != nil {
		c.logger.Debug("send failed, disconnecting",
			zap.String("connection_id", conn.ID()),
			zap.String("event", string(ev.Type)),
			zap.Error(err))
		c.Disconnect(ctx, conn.ID())
	}
}

func (c *Coordinator) dropFailed(ctx context.Context, connIDs []string) {
	for _, id := range connIDs {
		c.Disconnect(ctx, id)
	}
}

// State returns the lifecycle state of connID. Unknown connections are closed.
func (c *Coordinator) State(connID string) State {
	userID, ok := c.registry.User(connID)
	switch {
	case !ok:
		return StateClosed
	case userID == "":
		return StateConnected
	case len(c.registry.Rooms(connID)) == 0:
		return StateIdentified
	default:
		return StateSubscribed
	}
}

// Presence returns the sorted online user set
func (c *Coordinator) Presence() []string {
	return c.presence.Snapshot()
}

// Stats returns connection, presence and room counts
func (c *Coordinator) Stats() Stats {
	rooms := c.rooms.Rooms()
	st := Stats{
		Connections: c.registry.Count(),
		OnlineUsers: len(c.presence.Snapshot()),
		Rooms:       make(map[string]int, len(rooms)),
	}
	for _, id := range rooms {
		st.Rooms[id] = c.rooms.Count(id)
	}
	return st
}

// WaitWrites blocks until in-flight durable writes finish or ctx is done
func (c *Coordinator) WaitWrites(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses new connections and messages, waits for in-flight durable
// writes and closes every connection.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.lifeMu.Lock()
	c.closing = true
	c.lifeMu.Unlock()

	err := c.WaitWrites(ctx)
	if err != nil {
		c.logger.Warn("shutdown before all messages were persisted", zap.Error(err))
	}
	for _, conn := range c.registry.List() {
		c.Disconnect(context.WithoutCancel(ctx), conn.ID())
	}
	return err
}
