package coordinator

import "time"

// Recorder receives chat metrics. pkg/metrics.Metrics implements it.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	OnlineUsers(n int)
	MessageSent(kind string)
	FanoutDone(delivered, failed int, since time.Time)
	PersistenceFailed()
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened() {}
func (nopRecorder) ConnectionClosed() {}
func (nopRecorder) OnlineUsers(int) {}
func (nopRecorder) MessageSent(string) {}
func (nopRecorder) FanoutDone(int, int, time.Time) {}
func (nopRecorder) PersistenceFailed() {}
