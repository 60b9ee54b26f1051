package room

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/amoylab/roomhub/internal/chat/session"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func ids(conns []session.Connection) []string {
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	sort.Strings(out)
	return out
}

func TestSubscribeIdempotent(t *testing.T) {
	x := NewIndex(zap.NewNop())
	a := session.NewQueueConnection("a", 1)

	x.Subscribe("r1", a)
	x.Subscribe("r1", a)

	assert.Equal(t, []string{"a"}, ids(x.Subscribers("r1")))
	assert.Equal(t, 1, x.Count("r1"))
	assert.True(t, x.IsSubscribed("r1", "a"))
}

func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	x := NewIndex(zap.NewNop())
	a := session.NewQueueConnection("a", 1)
	b := session.NewQueueConnection("b", 1)
	x.Subscribe("r1", a)
	before := ids(x.Subscribers("r1"))

	x.Subscribe("r1", b)
	x.Unsubscribe("r1", "b")
	assert.Equal(t, before, ids(x.Subscribers("r1")))

	x.Unsubscribe("r1", "b")
	assert.Equal(t, before, ids(x.Subscribers("r1")))

	x.Unsubscribe("r1", "a")
	assert.Empty(t, x.Subscribers("r1"))
	assert.Empty(t, x.Rooms(), "empty rooms are dropped")
}

func TestUnknownRoomIsEmpty(t *testing.T) {
	x := NewIndex(zap.NewNop())
	subs := x.Subscribers("nope")
	assert.NotNil(t, subs)
	assert.Empty(t, subs)
	assert.Zero(t, x.Count("nope"))
	x.Unsubscribe("nope", "a")
}

func TestUnsubscribeAll(t *testing.T) {
	x := NewIndex(zap.NewNop())
	a := session.NewQueueConnection("a", 1)
	b := session.NewQueueConnection("b", 1)
	x.Subscribe("r1", a)
	x.Subscribe("r2", a)
	x.Subscribe("r2", b)
	x.Subscribe("r3", a)

	x.UnsubscribeAll("a", []string{"r1", "r2", "r9"})

	assert.Empty(t, x.Subscribers("r1"))
	assert.Equal(t, []string{"b"}, ids(x.Subscribers("r2")))
	assert.Equal(t, []string{"a"}, ids(x.Subscribers("r3")), "rooms not listed are kept")
	assert.Equal(t, []string{"r2", "r3"}, x.Rooms())
}

func TestSubscribersIsSnapshot(t *testing.T) {
	x := NewIndex(zap.NewNop())
	a := session.NewQueueConnection("a", 1)
	x.Subscribe("r1", a)

	snap := x.Subscribers("r1")
	x.Subscribe("r1", session.NewQueueConnection("b", 1))
	x.Unsubscribe("r1", "a")

	assert.Equal(t, []string{"a"}, ids(snap))
	assert.Equal(t, []string{"b"}, ids(x.Subscribers("r1")))
}

func TestEvict(t *testing.T) {
	x := NewIndex(zap.NewNop())
	x.Subscribe("r1", session.NewQueueConnection("a", 1))
	x.Subscribe("r1", session.NewQueueConnection("b", 1))

	assert.Equal(t, []string{"a", "b"}, ids(x.Evict("r1")))
	assert.Empty(t, x.Subscribers("r1"))
	assert.Empty(t, x.Evict("r1"))
}

func TestConcurrentMembership(t *testing.T) {
	x := NewIndex(zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		c := session.NewQueueConnection(fmt.Sprintf("c%d", i), 1)
		go func() {
			defer wg.Done()
			x.Subscribe("r1", c)
			x.Subscribe("r2", c)
		}()
		go func() {
			defer wg.Done()
			_ = x.Subscribers("r1")
			_ = x.Rooms()
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, x.Count("r1"))
	assert.Equal(t, 100, x.Count("r2"))
}
