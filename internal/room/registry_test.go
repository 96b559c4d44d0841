package room

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []models.WSMessage
	full   bool
}

func (c *fakeConn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	var msg models.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		panic(err)
	}
	c.frames = append(c.frames, msg)
	return true
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.Type
	}
	return out
}

func (c *fakeConn) last(msgType string) (models.WSMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Type == msgType {
			return c.frames[i], true
		}
	}
	return models.WSMessage{}, false
}

func (c *fakeConn) count(msgType string) int {
	n := 0
	for _, t := range c.types() {
		if t == msgType {
			n++
		}
	}
	return n
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

func newTestRegistry(opts Options) *Registry {
	opts.Logger = log.New(io.Discard)
	return NewRegistry(opts)
}

func stroke(strokeID string) models.DrawEvent {
	return models.NewStroke(strokeID, models.Stroke{
		From:    models.Point{X: 1, Y: 1},
		To:      models.Point{X: 2, Y: 2},
		Tool:    models.ToolBrush,
		Size:    4,
		Color:   "#000000",
		Opacity: 1,
	})
}

func TestJoin(t *testing.T) {
	r := newTestRegistry(Options{})
	a, b := &fakeConn{}, &fakeConn{}

	res := r.Join("ROOM1", "a", "alice", a)
	assert.Contains(t, Palette, res.Color)
	assert.Empty(t, res.History)
	require.Len(t, res.Users, 1)
	assert.Equal(t, "alice", res.Users[0].Username)
	assert.Equal(t, []string{models.TypeCanvasHistory, models.TypeUsersUpdated}, a.types())

	r.Draw("ROOM1", "a", stroke("s1"))

	res = r.Join("ROOM1", "b", "bob", b)
	require.Len(t, res.History, 1)
	assert.Equal(t, "a", res.History[0].DrawerID)
	assert.Len(t, res.Users, 2)

	assert.Equal(t, []string{models.TypeCanvasHistory, models.TypeUsersUpdated}, b.types())
	assert.Equal(t, 1, a.count(models.TypeUserJoined))

	joined, ok := a.last(models.TypeUserJoined)
	require.True(t, ok)
	var m models.Membership
	require.NoError(t, json.Unmarshal(joined.Data, &m))
	assert.Equal(t, models.Membership{ID: "b", Username: "bob"}, m)

	assert.Equal(t, "ROOM1", r.RoomOf("b"))
	assert.True(t, r.Exists("ROOM1"))
	assert.False(t, r.Exists("ROOM2"))
}

func TestJoinLeavesPreviousRoom(t *testing.T) {
	r := newTestRegistry(Options{})
	a, b := &fakeConn{}, &fakeConn{}

	r.Join("ONE", "a", "alice", a)
	r.Join("ONE", "b", "bob", b)
	r.Join("TWO", "a", "alice", a)

	assert.Equal(t, "TWO", r.RoomOf("a"))
	require.Len(t, r.Users("ONE"), 1)
	assert.Equal(t, "b", r.Users("ONE")[0].ID)
	assert.Equal(t, 1, b.count(models.TypeUserLeft))
}

func TestLeave(t *testing.T) {
	r := newTestRegistry(Options{})
	a, b := &fakeConn{}, &fakeConn{}
	r.Join("ROOM", "a", "alice", a)
	r.Join("ROOM", "b", "bob", b)
	a.reset()

	r.Leave("b")
	r.Leave("b")
	r.Leave("nobody")

	assert.Equal(t, []string{models.TypeUsersUpdated, models.TypeUserLeft}, a.types())
	assert.Equal(t, "", r.RoomOf("b"))
	assert.Len(t, r.Users("ROOM"), 1)
}

func TestGracePeriod(t *testing.T) {
	grace := 50 * time.Millisecond
	r := newTestRegistry(Options{GracePeriod: grace})

	r.Join("ROOM", "a", "alice", &fakeConn{})
	r.Leave("a")

	assert.True(t, r.Exists("ROOM"), "room must stay queryable during the grace window")
	assert.Eventually(t, func() bool { return !r.Exists("ROOM") }, time.Second, 10*time.Millisecond)
}

func TestRejoinCancelsDeletion(t *testing.T) {
	grace := 50 * time.Millisecond
	r := newTestRegistry(Options{GracePeriod: grace})

	r.Join("ROOM", "a", "alice", &fakeConn{})
	r.Draw("ROOM", "a", stroke("s1"))
	r.Leave("a")
	r.Join("ROOM", "b", "bob", &fakeConn{})

	time.Sleep(3 * grace)
	assert.True(t, r.Exists("ROOM"))
	assert.Len(t, r.History("ROOM"), 1)
}

func TestNoEcho(t *testing.T) {
	r := newTestRegistry(Options{})
	a, b := &fakeConn{}, &fakeConn{}
	r.Join("ROOM", "a", "alice", a)
	r.Join("ROOM", "b", "bob", b)
	a.reset()
	b.reset()

	r.Draw("ROOM", "a", stroke("s1"))
	fill := models.NewFill("s2", models.Fill{At: models.Point{X: 3, Y: 3}, Color: "#ff0000"})
	r.Draw("ROOM", "a", fill)
	r.AppendAndBroadcast("ROOM", "a", []models.DrawEvent{stroke("s3"), stroke("s3")})

	assert.Empty(t, a.types())
	assert.Equal(t, []string{models.TypeDraw, models.TypeDraw, models.TypeDrawBatch}, b.types())

	msg, _ := b.last(models.TypeDrawBatch)
	events, skipped, err := models.DecodeBatch(msg.Data)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].DrawerID)
}

func TestDrawerIDIsStamped(t *testing.T) {
	r := newTestRegistry(Options{})
	r.Join("ROOM", "a", "alice", &fakeConn{})

	ev := stroke("s1")
	ev.DrawerID = "someone-else"
	r.Draw("ROOM", "a", ev)

	h := r.History("ROOM")
	require.Len(t, h, 1)
	assert.Equal(t, "a", h[0].DrawerID)
}

func TestAppendIgnoresStaleReferences(t *testing.T) {
	r := newTestRegistry(Options{})
	a := &fakeConn{}
	r.Join("ROOM", "a", "alice", a)
	a.reset()

	r.AppendAndBroadcast("NOPE", "a", []models.DrawEvent{stroke("s1")})
	r.AppendAndBroadcast("ROOM", "ghost", []models.DrawEvent{stroke("s1")})
	r.AppendAndBroadcast("ROOM", "a", nil)
	r.Draw("ROOM", "ghost", stroke("s1"))

	assert.Empty(t, r.History("ROOM"))
	assert.Empty(t, a.types())
}

func TestCompaction(t *testing.T) {
	r := newTestRegistry(Options{HighWater: 10, Keep: 6})
	r.Join("ROOM", "a", "alice", &fakeConn{})

	for i := 0; i < 10; i++ {
		r.Draw("ROOM", "a", stroke(fmt.Sprintf("s%d", i)))
	}
	assert.Len(t, r.History("ROOM"), 10)

	r.Draw("ROOM", "a", stroke("s10"))
	h := r.History("ROOM")
	require.Len(t, h, 6)
	for i, ev := range h {
		assert.Equal(t, fmt.Sprintf("s%d", i+5), ev.StrokeID)
	}

	batch := make([]models.DrawEvent, 8)
	for i := range batch {
		batch[i] = stroke(fmt.Sprintf("b%d", i))
	}
	r.AppendAndBroadcast("ROOM", "a", batch)
	h = r.History("ROOM")
	require.Len(t, h, 6)
	assert.Equal(t, "b2", h[0].StrokeID)
	assert.Equal(t, "b7", h[5].StrokeID)
}

func TestCompactionDefaults(t *testing.T) {
	r := newTestRegistry(Options{})
	r.Join("ROOM", "a", "alice", &fakeConn{})

	batch := make([]models.DrawEvent, DefaultHighWater+1)
	for i := range batch {
		batch[i] = stroke(fmt.Sprintf("s%d", i))
	}
	r.AppendAndBroadcast("ROOM", "a", batch)

	h := r.History("ROOM")
	require.Len(t, h, DefaultKeep)
	assert.Equal(t, fmt.Sprintf("s%d", DefaultHighWater), h[len(h)-1].StrokeID)
}

func TestClear(t *testing.T) {
	r := newTestRegistry(Options{})
	a, b := &fakeConn{}, &fakeConn{}
	r.Join("ROOM", "a", "alice", a)
	r.Join("ROOM", "b", "bob", b)
	r.Draw("ROOM", "a", stroke("s1"))

	r.Clear("ROOM")
	r.Clear("NOPE")

	assert.Empty(t, r.History("ROOM"))
	assert.Equal(t, 1, a.count(models.TypeClearCanvas))
	assert.Equal(t, 1, b.count(models.TypeClearCanvas))
}

func TestFullQueueDoesNotBlock(t *testing.T) {
	r := newTestRegistry(Options{})
	slow := &fakeConn{full: true}
	b := &fakeConn{}
	r.Join("ROOM", "slow", "slow", slow)
	r.Join("ROOM", "b", "bob", b)

	done := make(chan struct{})
	go func() {
		r.Draw("ROOM", "b", stroke("s1"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("draw blocked on a full send queue")
	}
	assert.Len(t, r.History("ROOM"), 1)
}
