package room

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

func strokeIDs(events []models.DrawEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.StrokeID
	}
	return out
}

func TestUndo(t *testing.T) {
	t.Run("removes the caller's latest gesture", func(t *testing.T) {
		r := newTestRegistry(Options{})
		a, b := &fakeConn{}, &fakeConn{}
		r.Join("ROOM", "A", "alice", a)
		r.Join("ROOM", "B", "bob", b)

		// [A:g1, B:g2, A:g1]
		r.Draw("ROOM", "A", stroke("g1"))
		r.Draw("ROOM", "B", stroke("g2"))
		r.Draw("ROOM", "A", stroke("g1"))
		a.reset()
		b.reset()

		assert.True(t, r.Undo("ROOM", "A"))
		assert.Equal(t, []string{"g2"}, strokeIDs(r.History("ROOM")))

		for _, c := range []*fakeConn{a, b} {
			msg, ok := c.last(models.TypeFullRedraw)
			require.True(t, ok)
			var events []models.DrawEvent
			require.NoError(t, json.Unmarshal(msg.Data, &events))
			assert.Equal(t, []string{"g2"}, strokeIDs(events))
		}
	})

	t.Run("shared stroke id keeps other drawers' events", func(t *testing.T) {
		r := newTestRegistry(Options{})
		r.Join("ROOM", "A", "alice", &fakeConn{})
		r.Join("ROOM", "B", "bob", &fakeConn{})

		r.AppendAndBroadcast("ROOM", "A", []models.DrawEvent{stroke("g1"), stroke("g1"), stroke("g1")})
		r.Draw("ROOM", "B", stroke("g1"))

		assert.True(t, r.Undo("ROOM", "B"))

		history := r.History("ROOM")
		require.Len(t, history, 3)
		for _, ev := range history {
			assert.Equal(t, "A", ev.DrawerID)
		}

		assert.True(t, r.Undo("ROOM", "A"))
		assert.Empty(t, r.History("ROOM"))
	})

	t.Run("only the newest group goes", func(t *testing.T) {
		r := newTestRegistry(Options{})
		r.Join("ROOM", "A", "alice", &fakeConn{})
		r.Join("ROOM", "B", "bob", &fakeConn{})

		r.Draw("ROOM", "A", stroke("g1"))
		r.AppendAndBroadcast("ROOM", "A", []models.DrawEvent{stroke("g3"), stroke("g3")})
		r.Draw("ROOM", "B", stroke("g2"))

		assert.True(t, r.Undo("ROOM", "A"))
		assert.Equal(t, []string{"g1", "g2"}, strokeIDs(r.History("ROOM")))

		assert.True(t, r.Undo("ROOM", "A"))
		assert.Equal(t, []string{"g2"}, strokeIDs(r.History("ROOM")))
	})

	t.Run("no events is a no-op", func(t *testing.T) {
		r := newTestRegistry(Options{})
		a, b := &fakeConn{}, &fakeConn{}
		r.Join("ROOM", "A", "alice", a)
		r.Join("ROOM", "B", "bob", b)
		r.Draw("ROOM", "B", stroke("g2"))
		a.reset()
		b.reset()

		assert.False(t, r.Undo("ROOM", "A"))
		assert.Equal(t, []string{"g2"}, strokeIDs(r.History("ROOM")))
		assert.Zero(t, a.count(models.TypeFullRedraw))
		assert.Zero(t, b.count(models.TypeFullRedraw))
	})

	t.Run("unknown room or member", func(t *testing.T) {
		r := newTestRegistry(Options{})
		r.Join("ROOM", "A", "alice", &fakeConn{})
		r.Draw("ROOM", "A", stroke("g1"))

		assert.False(t, r.Undo("NOPE", "A"))
		assert.False(t, r.Undo("ROOM", "ghost"))
		assert.Len(t, r.History("ROOM"), 1)
	})
}
