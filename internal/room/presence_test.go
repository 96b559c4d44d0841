package room

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

func TestCursor(t *testing.T) {
	r := newTestRegistry(Options{})
	a, b := &fakeConn{}, &fakeConn{}
	r.Join("ROOM", "a", "alice", a)
	r.Join("ROOM", "b", "bob", b)
	a.reset()
	b.reset()

	r.Cursor("ROOM", "a", 12.5, 40)

	assert.Empty(t, a.types())
	msg, ok := b.last(models.TypeCursorMove)
	require.True(t, ok)
	var cm models.CursorMove
	require.NoError(t, json.Unmarshal(msg.Data, &cm))
	assert.Equal(t, models.CursorMove{ID: "a", Username: "alice", X: 12.5, Y: 40}, cm)
}

func TestChat(t *testing.T) {
	r := newTestRegistry(Options{})
	a, b := &fakeConn{}, &fakeConn{}
	r.Join("ROOM", "a", "alice", a)
	r.Join("ROOM", "b", "bob", b)

	before := time.Now().UnixMilli()
	r.Chat("ROOM", "a", "hello")
	r.Chat("ROOM", "ghost", "nope")

	for _, c := range []*fakeConn{a, b} {
		assert.Equal(t, 1, c.count(models.TypeChatMessage))
		msg, _ := c.last(models.TypeChatMessage)
		var cm models.ChatMessage
		require.NoError(t, json.Unmarshal(msg.Data, &cm))
		assert.Equal(t, "alice", cm.Username)
		assert.Equal(t, "hello", cm.Message)
		assert.GreaterOrEqual(t, cm.Timestamp, before)
	}
}
