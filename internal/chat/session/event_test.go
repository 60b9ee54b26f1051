package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/amoylab/roomhub/internal/chat/storage"
	"github.com/amoylab/roomhub/internal/common/cnst"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEventJSON(t *testing.T) {
	msg := storage.NewMessage("r1", "u1", storage.KindText, "hi", "")
	data, err := json.Marshal(NewMessageEvent(msg))
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "message", out["type"])
	assert.Equal(t, "r1", out["roomId"])
	body := out["message"].(map[string]any)
	assert.Equal(t, msg.ID, body["id"])
	assert.Equal(t, "u1", body["senderId"])
	assert.Equal(t, "text", body["kind"])
	assert.Equal(t, "hi", body["content"])
	assert.NotContains(t, body, "fileUrl")
	assert.NotContains(t, out, "error")
}

func TestErrorEvent(t *testing.T) {
	ev := NewErrorEvent(fmt.Errorf("%w: r9", cnst.ErrNotSubscribed))
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, cnst.CodeNotSubscribed, ev.Error.Code)
	assert.Contains(t, ev.Error.Message, "r9")

	ev = NewErrorEvent(errors.New("dial tcp 10.0.0.1:5432: refused"))
	assert.Equal(t, cnst.CodeInternal, ev.Error.Code)
	assert.Equal(t, "internal error", ev.Error.Message)
}

func TestPersistenceFailedEvent(t *testing.T) {
	msg := storage.NewMessage("r1", "u1", storage.KindText, "hi", "")
	ev := NewPersistenceFailedEvent(msg, fmt.Errorf("%w: disk full", cnst.ErrPersistenceFailed))

	assert.Equal(t, EventPersistenceFailed, ev.Type)
	assert.Equal(t, "r1", ev.RoomID)
	assert.Same(t, msg, ev.Message)
	assert.Equal(t, cnst.CodePersistenceFailed, ev.Error.Code)
}

func TestListEventsAlwaysCarryTheirList(t *testing.T) {
	data, err := json.Marshal(NewPresenceEvent(nil))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"users":[]`)

	data, err = json.Marshal(NewHistoryEvent("r1", nil))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"messages":[]`)
	assert.NotContains(t, string(data), `"users"`)

	data, err = json.Marshal(NewPresenceEvent([]string{"a", "b"}))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, []any{"a", "b"}, out["users"])
	assert.Equal(t, "presence", out["type"])
	assert.NotContains(t, out, "messages")
}
