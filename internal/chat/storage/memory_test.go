package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore(zap.NewNop()))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(zap.NewNop())
	room := NewRoom("general", "owner", false)
	require.NoError(t, s.CreateRoom(ctx, room))

	msg := NewMessage(room.ID, "u1", KindText, "original", "")
	_, err := s.CreateMessage(ctx, msg)
	require.NoError(t, err)
	msg.Content = "mutated"

	msgs, err := s.ListMessages(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "original", msgs[0].Content)

	msgs[0].Content = "mutated again"
	again, err := s.ListMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Content)
}

func TestMemoryStoreDuplicateRoom(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	room := NewRoom("general", "owner", false)
	require.NoError(t, s.CreateRoom(context.Background(), room))
	assert.Error(t, s.CreateRoom(context.Background(), room))
}
