package fanout

import (
	"context"

	"github.com/amoylab/roomhub/internal/chat/session"

	"go.uber.org/zap"
)

// Subscribers resolves the current subscriber snapshot of a room
type Subscribers interface {
	Subscribers(roomID string) []session.Connection
}

// Report is the outcome of one fan-out attempt
type Report struct {
	Delivered int
	Failed    []string // connection IDs whose Send failed
}

// Engine pushes events to room subscribers. It never persists and never retries.
type Engine struct {
	logger *zap.Logger
	subs   Subscribers
}

// NewEngine creates a fan-out engine reading membership from subs
func NewEngine(logger *zap.Logger, subs Subscribers) *Engine {
	return &Engine{
		logger: logger.Named("chat.fanout"),
		subs:   subs,
	}
}

// Deliver sends ev to every subscriber of roomID at call time
func (e *Engine) Deliver(ctx context.Context, roomID string, ev *session.Event) Report {
	return e.Broadcast(ctx, e.subs.Subscribers(roomID), ev)
}

// DeliverExcept is Deliver without the connection skipConnID
func (e *Engine) DeliverExcept(ctx context.Context, roomID string, ev *session.Event, skipConnID string) Report {
	conns := e.subs.Subscribers(roomID)
	targets := conns[:0]
	for _, c := range conns {
		if c.ID() != skipConnID {
			targets = append(targets, c)
		}
	}
	return e.Broadcast(ctx, targets, ev)
}

// Broadcast sends ev to each of conns. A failing connection does not stop
// delivery to the rest.
func (e *Engine) Broadcast(ctx context.Context, conns []session.Connection, ev *session.Event) Report {
	var report Report
	for _, c := range conns {
		if err := c.Send(ctx, ev); err != nil {
			e.logger.Debug("delivery failed",
				zap.String("connection_id", c.ID()),
				zap.String("event", string(ev.Type)),
				zap.Error(err))
			report.Failed = append(report.Failed, c.ID())
			continue
		}
		report.Delivered++
	}
	return report
}
