package session

import (
	"context"
	"sync"

	"github.com/amoylab/roomhub/internal/common/cnst"
)

// Connection is the handle of one live client session
type Connection interface {
	// ID returns the unique connection identifier
	ID() string

	// Send enqueues an event without blocking. It fails with
	// cnst.ErrConnectionClosed after Close and cnst.ErrQueueFull when the
	// outbound queue is saturated.
	Send(ctx context.Context, ev *Event) error

	// Close terminates the connection. Calling it more than once is a no-op.
	Close(ctx context.Context) error

	// Closed is closed once the connection has been closed
	Closed() <-chan struct{}
}

// QueueConnection implements Connection with a bounded channel. Transports
// drain Events and tests read from it directly.
type QueueConnection struct {
	id     string
	mu     sync.RWMutex
	queue  chan *Event
	closed chan struct{}
	once   sync.Once
}

var _ Connection = (*QueueConnection)(nil)

// NewQueueConnection creates a connection buffering up to size events
func NewQueueConnection(id string, size int) *QueueConnection {
	if size <= 0 {
		size = 1
	}
	return &QueueConnection{
		id:     id,
		queue:  make(chan *Event, size),
		closed: make(chan struct{}),
	}
}

// ID implements Connection.ID
func (c *QueueConnection) ID() string {
	return c.id
}

// Events returns the outbound queue. It is closed together with the connection.
func (c *QueueConnection) Events() <-chan *Event {
	return c.queue
}

// Send implements Connection.Send
func (c *QueueConnection) Send(_ context.Context, ev *Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	select {
	case <-c.closed:
		return cnst.ErrConnectionClosed
	default:
	}

	select {
	case c.queue <- ev:
		return nil
	default:
		return cnst.ErrQueueFull
	}
}

// Close implements Connection.Close
func (c *QueueConnection) Close(_ context.Context) error {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		close(c.closed)
		close(c.queue)
	})
	return nil
}

// Closed implements Connection.Closed
func (c *QueueConnection) Closed() <-chan struct{} {
	return c.closed
}
